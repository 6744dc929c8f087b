package channels

import (
	"net/http"
	"strings"
	"time"

	domain "github.com/lumenmart/api/internal/domain"
	"github.com/lumenmart/api/internal/platform/config"
)

// Adapters indexes the configured marketplace adapters by channel.
type Adapters map[domain.SourceChannel]Adapter

// NewAdapters builds an adapter for every marketplace with credentials configured.
// Marketplaces without credentials are left out and can still push orders.
func NewAdapters(cfg config.ChannelsConfig, client *http.Client, clock func() time.Time) (Adapters, error) {
	adapters := Adapters{}
	if cfg.Shopee.PartnerID != 0 || strings.TrimSpace(cfg.Shopee.PartnerKey) != "" {
		shopee, err := NewShopeeAdapter(cfg.Shopee, client, clock)
		if err != nil {
			return nil, err
		}
		adapters[domain.SourceShopee] = shopee
	}
	if strings.TrimSpace(cfg.Lazada.AppKey) != "" {
		lazada, err := NewLazadaAdapter(cfg.Lazada, client, clock)
		if err != nil {
			return nil, err
		}
		adapters[domain.SourceLazada] = lazada
	}
	return adapters, nil
}

// Lookup returns the adapter for channel.
func (a Adapters) Lookup(channel domain.SourceChannel) (Adapter, bool) {
	adapter, ok := a[channel]
	return adapter, ok && adapter != nil
}
