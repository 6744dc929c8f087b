package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lumenmart/api/internal/repositories"
)

const (
	TierMember  = "member"
	TierSilver  = "silver"
	TierGold    = "gold"
	TierDiamond = "diamond"
)

// ErrLoyaltyInvalidInput signals a credit without a customer or with negative points.
var ErrLoyaltyInvalidInput = errors.New("loyalty: invalid input")

// LoyaltyTiers lists minimum cumulative points per tier.
type LoyaltyTiers struct {
	Silver  int64
	Gold    int64
	Diamond int64
}

// DefaultLoyaltyTiers mirrors the storefront's published thresholds.
var DefaultLoyaltyTiers = LoyaltyTiers{Silver: 2_000_000, Gold: 10_000_000, Diamond: 50_000_000}

// LoyaltyServiceDeps bundles collaborators required to construct the loyalty service.
type LoyaltyServiceDeps struct {
	Customers repositories.CustomerRepository
	Tiers     LoyaltyTiers
	Clock     func() time.Time
}

type loyaltyService struct {
	customers repositories.CustomerRepository
	tiers     LoyaltyTiers
	clock     func() time.Time
}

// NewLoyaltyService wires dependencies into a concrete LoyaltyService implementation.
func NewLoyaltyService(deps LoyaltyServiceDeps) (LoyaltyService, error) {
	if deps.Customers == nil {
		return nil, errors.New("loyalty service: customer repository is required")
	}
	tiers := deps.Tiers
	if tiers == (LoyaltyTiers{}) {
		tiers = DefaultLoyaltyTiers
	}
	if tiers.Silver > tiers.Gold || tiers.Gold > tiers.Diamond {
		return nil, errors.New("loyalty service: tier thresholds must be ascending")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &loyaltyService{customers: deps.Customers, tiers: tiers, clock: clock}, nil
}

// Credit adds points to the customer, creating the loyalty record on first credit.
func (s *loyaltyService) Credit(ctx context.Context, customerID string, points int64) (Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" || points < 0 {
		return Customer{}, fmt.Errorf("%w: customer %q points %d", ErrLoyaltyInvalidInput, customerID, points)
	}
	now := s.clock().UTC()
	return s.customers.Mutate(ctx, customerID, func(customer *Customer) error {
		if customer.CreatedAt.IsZero() {
			customer.CreatedAt = now
		}
		customer.Points += points
		customer.Tier = s.TierFor(customer.Points)
		customer.UpdatedAt = now
		return nil
	})
}

// TierFor maps cumulative points to a tier name.
func (s *loyaltyService) TierFor(points int64) string {
	switch {
	case points >= s.tiers.Diamond:
		return TierDiamond
	case points >= s.tiers.Gold:
		return TierGold
	case points >= s.tiers.Silver:
		return TierSilver
	default:
		return TierMember
	}
}
