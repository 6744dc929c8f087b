package firestore

import (
	"context"
	"errors"

	domain "github.com/lumenmart/api/internal/domain"
	pfirestore "github.com/lumenmart/api/internal/platform/firestore"
	"github.com/lumenmart/api/internal/repositories"
)

const (
	settingsCollection  = "settings"
	shippingSettingsDoc = "shipping"
)

type SettingsRepository struct {
	settings *pfirestore.BaseRepository[shippingSettingsDocument]
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{settings: pfirestore.NewBaseRepository[shippingSettingsDocument](provider, settingsCollection)}, nil
}

// ShippingSettings returns the sender profile. A missing document yields empty settings so
// carrier validation can report the individual missing fields.
func (r *SettingsRepository) ShippingSettings(ctx context.Context) (domain.ShippingSettings, error) {
	doc, err := r.settings.Get(ctx, shippingSettingsDoc)
	if err != nil {
		if repositories.IsNotFound(err) {
			return domain.ShippingSettings{}, nil
		}
		return domain.ShippingSettings{}, err
	}
	return domain.ShippingSettings(doc), nil
}

func (r *SettingsRepository) SaveShippingSettings(ctx context.Context, settings domain.ShippingSettings) error {
	return r.settings.Set(ctx, shippingSettingsDoc, shippingSettingsDocument(settings))
}
