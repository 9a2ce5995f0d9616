package currency

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pasar/internal/money"
)

func TestLockBaseCurrencyIsIdentity(t *testing.T) {
	r := &Resolver{Base: "USD"}
	snap, err := r.Lock(context.Background(), "usd")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if !snap.Rate.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("base rate: got %s want 1", snap.Rate)
	}
}

func TestConvertUsesLockedRateOnce(t *testing.T) {
	rates := StaticRates{"EUR": decimal.RequireFromString("0.9")}
	r := &Resolver{Source: rates, Base: "USD"}
	snap, err := r.Lock(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// Mutating the source after locking must not change the conversion.
	rates["EUR"] = decimal.RequireFromString("1.5")

	got, err := r.Convert(snap, money.MustParse("100.00", "USD"))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !got.Equal(money.MustParse("90.00", "EUR")) {
		t.Fatalf("convert: got %s want 90.00 EUR", got)
	}
}

func TestConvertRejectsStaleSnapshot(t *testing.T) {
	now := time.Now()
	r := &Resolver{
		Source: StaticRates{"EUR": decimal.RequireFromString("0.9")},
		Base:   "USD",
		MaxAge: time.Hour,
		Now:    func() time.Time { return now },
	}
	snap, err := r.Lock(context.Background(), "EUR")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	r.Now = func() time.Time { return now.Add(2 * time.Hour) }
	if _, err := r.Convert(snap, money.MustParse("10.00", "USD")); err != ErrStaleSnapshot {
		t.Fatalf("expected ErrStaleSnapshot, got %v", err)
	}
}

func TestLockUnknownCurrency(t *testing.T) {
	r := &Resolver{Source: StaticRates{}, Base: "USD"}
	if _, err := r.Lock(context.Background(), "XXX"); err == nil {
		t.Fatal("expected error for unknown currency")
	}
}
