package commission

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pasar/internal/money"
)

type stubRules struct {
	overrides []Rate
	store     *Rate
}

func (s stubRules) SellerOverrides(ctx context.Context, sellerID uuid.UUID) ([]Rate, error) {
	return s.overrides, nil
}

func (s stubRules) StoreRate(ctx context.Context, storeID uuid.UUID) (Rate, bool, error) {
	if s.store == nil {
		return Rate{}, false, nil
	}
	return *s.store, true, nil
}

func TestResolveOverrideBeatsStoreRate(t *testing.T) {
	r := &Resolver{
		Rules:      stubRules{overrides: []Rate{{Bps: 500, Priority: 100}}, store: &Rate{Bps: 1200}},
		DefaultBps: 1000,
	}
	res, err := r.Resolve(context.Background(), uuid.New(), uuid.New(), money.MustParse("100.00", "USD"), time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Bps != 500 || res.Source != SourceSellerOverride {
		t.Fatalf("expected 500 bps from override, got %+v", res)
	}
}

func TestResolveExpiredOverrideFallsThrough(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	r := &Resolver{
		Rules:      stubRules{overrides: []Rate{{Bps: 500, ValidUntil: &past}}, store: &Rate{Bps: 1200}},
		DefaultBps: 1000,
	}
	res, err := r.Resolve(context.Background(), uuid.New(), uuid.New(), money.MustParse("100.00", "USD"), time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Bps != 1200 || res.Source != SourceStoreRate {
		t.Fatalf("expected store rate 1200 bps, got %+v", res)
	}
}

func TestResolveOrderValueBounds(t *testing.T) {
	minVal := decimal.RequireFromString("500")
	r := &Resolver{
		Rules:      stubRules{overrides: []Rate{{Bps: 500, MinOrderValue: &minVal}}},
		DefaultBps: 1000,
	}
	res, err := r.Resolve(context.Background(), uuid.New(), uuid.New(), money.MustParse("100.00", "USD"), time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Source != SourceDefault {
		t.Fatalf("override below min order value must not apply, got %+v", res)
	}
}

func TestResolveHighestPriorityOverrideWins(t *testing.T) {
	r := &Resolver{
		Rules:      stubRules{overrides: []Rate{{Bps: 800, Priority: 10}, {Bps: 300, Priority: 100}}},
		DefaultBps: 1000,
	}
	res, err := r.Resolve(context.Background(), uuid.New(), uuid.New(), money.MustParse("100.00", "USD"), time.Now())
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Bps != 300 {
		t.Fatalf("expected priority 100 override (300 bps), got %+v", res)
	}
}
