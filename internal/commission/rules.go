package commission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pasar/internal/money"
)

// Rate sources, highest priority first.
const (
	SourceSellerOverride = "SELLER_OVERRIDE"
	SourceStoreRate      = "STORE_RATE"
	SourceDefault        = "DEFAULT"
)

// ErrInvalidRate rejects rates outside [0, 10000] bps.
var ErrInvalidRate = errors.New("commission: rate must be between 0 and 10000 bps")

// Rate is a commission rule in basis points with optional validity window and
// order-value bounds.
type Rate struct {
	Bps           int64            `json:"rateBps"`
	ValidFrom     *time.Time       `json:"validFrom,omitempty"`
	ValidUntil    *time.Time       `json:"validUntil,omitempty"`
	MinOrderValue *decimal.Decimal `json:"minOrderValue,omitempty"`
	MaxOrderValue *decimal.Decimal `json:"maxOrderValue,omitempty"`
	Priority      int              `json:"priority"`
}

// applies reports whether the rule is in effect for the given instant and
// gross order value.
func (r Rate) applies(now time.Time, gross money.Money) bool {
	if r.ValidFrom != nil && now.Before(*r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && now.After(*r.ValidUntil) {
		return false
	}
	amount := gross.Amount()
	if r.MinOrderValue != nil && amount.LessThan(*r.MinOrderValue) {
		return false
	}
	if r.MaxOrderValue != nil && amount.GreaterThan(*r.MaxOrderValue) {
		return false
	}
	return true
}

// RuleSource supplies persisted commission configuration.
type RuleSource interface {
	// SellerOverrides returns active per-seller overrides, any order.
	SellerOverrides(ctx context.Context, sellerID uuid.UUID) ([]Rate, error)
	// StoreRate returns the store's configured rate, or false when none is set.
	StoreRate(ctx context.Context, storeID uuid.UUID) (Rate, bool, error)
}

// Resolution is the chosen rate plus where it came from.
type Resolution struct {
	Bps    int64
	Source string
}

// Resolver picks the effective commission rate for a seller's payout.
// Priority: seller override > store rate > platform default.
type Resolver struct {
	Rules      RuleSource
	DefaultBps int64
}

// Resolve returns the applicable rate for the seller at the given instant.
func (r *Resolver) Resolve(ctx context.Context, sellerID, storeID uuid.UUID, gross money.Money, now time.Time) (Resolution, error) {
	if r.DefaultBps < 0 || r.DefaultBps > 10000 {
		return Resolution{}, ErrInvalidRate
	}
	if r.Rules != nil {
		overrides, err := r.Rules.SellerOverrides(ctx, sellerID)
		if err != nil {
			return Resolution{}, err
		}
		if best, ok := pick(overrides, now, gross); ok {
			return Resolution{Bps: best.Bps, Source: SourceSellerOverride}, nil
		}
		store, ok, err := r.Rules.StoreRate(ctx, storeID)
		if err != nil {
			return Resolution{}, err
		}
		if ok && store.applies(now, gross) {
			return Resolution{Bps: store.Bps, Source: SourceStoreRate}, nil
		}
	}
	return Resolution{Bps: r.DefaultBps, Source: SourceDefault}, nil
}

func pick(rates []Rate, now time.Time, gross money.Money) (Rate, bool) {
	var best Rate
	found := false
	for _, rate := range rates {
		if !rate.applies(now, gross) {
			continue
		}
		if !found || rate.Priority > best.Priority {
			best = rate
			found = true
		}
	}
	return best, found
}
