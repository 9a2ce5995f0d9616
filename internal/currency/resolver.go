package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pasar/internal/money"
)

var (
	// ErrUnknownCurrency is returned when no rate exists for the requested code.
	ErrUnknownCurrency = errors.New("currency: no rate for code")
	// ErrStaleSnapshot is returned when a caller tries to convert with a snapshot
	// older than the resolver's tolerance.
	ErrStaleSnapshot = errors.New("currency: rate snapshot is stale")
)

// RateSource supplies conversion rates against the platform base currency.
type RateSource interface {
	Rate(ctx context.Context, code string) (decimal.Decimal, error)
}

// Snapshot is a fixed conversion rate captured when checkout begins. All
// later recalculation for the same cart reuses the snapshot so a cart is
// never converted twice at different rates.
type Snapshot struct {
	Base     string          `json:"base"`
	Code     string          `json:"code"`
	Rate     decimal.Decimal `json:"rate"`
	LockedAt time.Time       `json:"lockedAt"`
}

// Resolver locks cart currencies. Base is the currency prices are stored in.
type Resolver struct {
	Source RateSource
	Base   string
	MaxAge time.Duration
	Now    func() time.Time
}

// Lock captures the current rate for code. Locking the base currency yields
// the identity rate and never consults the source.
func (r *Resolver) Lock(ctx context.Context, code string) (Snapshot, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if len(normalized) != 3 {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	now := r.now()
	if normalized == r.Base {
		return Snapshot{Base: r.Base, Code: normalized, Rate: decimal.NewFromInt(1), LockedAt: now}, nil
	}
	if r.Source == nil {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	rate, err := r.Source.Rate(ctx, normalized)
	if err != nil {
		return Snapshot{}, err
	}
	if rate.Sign() <= 0 {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return Snapshot{Base: r.Base, Code: normalized, Rate: rate, LockedAt: now}, nil
}

// Convert applies the locked rate to a base-currency amount. This is the only
// place in the engine where conversion happens; downstream components work in
// the locked currency exclusively.
func (r *Resolver) Convert(snap Snapshot, base money.Money) (money.Money, error) {
	if base.Currency() != snap.Base {
		return money.Money{}, fmt.Errorf("currency: convert expects %s amount, got %s", snap.Base, base.Currency())
	}
	if r.MaxAge > 0 && r.now().Sub(snap.LockedAt) > r.MaxAge {
		return money.Money{}, ErrStaleSnapshot
	}
	converted, err := money.New(base.Amount().Mul(snap.Rate), snap.Code)
	if err != nil {
		return money.Money{}, err
	}
	return converted.Round(), nil
}

func (r *Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// StaticRates is a RateSource backed by a fixed table, used in tests and as a
// fallback when no upstream feed is configured.
type StaticRates map[string]decimal.Decimal

// Rate implements RateSource.
func (s StaticRates) Rate(ctx context.Context, code string) (decimal.Decimal, error) {
	_ = ctx
	rate, ok := s[strings.ToUpper(code)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownCurrency, code)
	}
	return rate, nil
}
