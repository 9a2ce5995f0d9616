package shippingtax_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pasar/internal/cart"
	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/shippingtax"
)

type stubGeo struct {
	dest shippingtax.Destination
	err  error
}

func (g stubGeo) Resolve(ctx context.Context, addressID uuid.UUID) (shippingtax.Destination, error) {
	return g.dest, g.err
}

type stubRates struct {
	options []shippingtax.Option
	err     error
	block   bool
}

func (r stubRates) Rates(ctx context.Context, req shippingtax.RateReq) ([]shippingtax.Option, error) {
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.options, r.err
}

func usCart(t *testing.T) cart.Snapshot {
	t.Helper()
	return cart.Snapshot{
		ID:                   uuid.New(),
		Currency:             "USD",
		DestinationAddressID: uuid.New(),
		Lines: []cart.Line{
			{ProductID: uuid.New(), SellerID: uuid.New(), StoreID: uuid.New(), UnitPrice: money.MustParse("199.99", "USD"), Quantity: 3},
		},
	}
}

func TestQuoteEmptyZoneIsHardFailure(t *testing.T) {
	calc := &shippingtax.Calculator{
		Geo:   stubGeo{dest: shippingtax.Destination{Zone: "remote-islands"}},
		Rates: stubRates{options: nil},
	}
	_, err := calc.Quote(context.Background(), usCart(t), "")
	if !errors.Is(err, shippingtax.ErrZoneUnavailable) {
		t.Fatalf("expected ErrZoneUnavailable, got %v", err)
	}
}

func TestQuoteTimeoutIsRetryableNotEmpty(t *testing.T) {
	calc := &shippingtax.Calculator{
		Geo:     stubGeo{dest: shippingtax.Destination{Zone: "us-west"}},
		Rates:   stubRates{block: true},
		Timeout: 20 * time.Millisecond,
	}
	_, err := calc.Quote(context.Background(), usCart(t), "")
	if !errors.Is(err, shippingtax.ErrRateLookupTimeout) {
		t.Fatalf("expected ErrRateLookupTimeout, got %v", err)
	}
}

func TestQuoteTaxJurisdictionWithLocalComponent(t *testing.T) {
	calc := &shippingtax.Calculator{
		Geo:      stubGeo{dest: shippingtax.Destination{Zone: "us-west", Jurisdiction: "CA"}},
		Rates:    shippingtax.TierClient{},
		Taxes:    shippingtax.TaxTable{"CA": 600},
		LocalBps: 200,
	}
	quote, err := calc.Quote(context.Background(), usCart(t), "")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 599.97 * 8% = 47.9976 -> 48.00 after round-half-up.
	if !quote.Tax.Equal(money.MustParse("48.00", "USD")) {
		t.Fatalf("tax: got %s want 48.00 USD", quote.Tax)
	}
}

func TestQuoteUnknownJurisdictionUntaxed(t *testing.T) {
	calc := &shippingtax.Calculator{
		Geo:   stubGeo{dest: shippingtax.Destination{Zone: "eu-central", Jurisdiction: "DE", International: true}},
		Rates: shippingtax.TierClient{},
		Taxes: shippingtax.TaxTable{"CA": 600},
	}
	quote, err := calc.Quote(context.Background(), usCart(t), "")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !quote.Tax.IsZero() {
		t.Fatalf("tax: got %s want 0", quote.Tax)
	}
}

func TestQuoteSelectsRequestedMethod(t *testing.T) {
	calc := &shippingtax.Calculator{
		Geo:   stubGeo{dest: shippingtax.Destination{Zone: "us-west", Jurisdiction: "OR"}},
		Rates: shippingtax.TierClient{},
		Taxes: shippingtax.TaxTable{},
	}
	quote, err := calc.Quote(context.Background(), usCart(t), "express")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if len(quote.Options) != 1 || quote.Options[0].ID != "express" {
		t.Fatalf("expected single express option, got %+v", quote.Options)
	}
	if _, err := calc.Quote(context.Background(), usCart(t), "teleport"); !errors.Is(err, shippingtax.ErrUnknownMethod) {
		t.Fatalf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestTierClientDomesticVsInternational(t *testing.T) {
	client := shippingtax.TierClient{}
	domestic, err := client.Rates(context.Background(), shippingtax.RateReq{WeightGrams: 1500, Subtotal: money.MustParse("100.00", "USD")})
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if len(domestic) != 3 {
		t.Fatalf("domestic options: got %d want 3", len(domestic))
	}
	intl, err := client.Rates(context.Background(), shippingtax.RateReq{International: true, WeightGrams: 1500, Subtotal: money.MustParse("100.00", "USD")})
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if len(intl) != 2 {
		t.Fatalf("international options: got %d want 2 (no overnight)", len(intl))
	}
	if !intl[0].Price.Equal(money.MustParse("24.99", "USD")) {
		t.Fatalf("international standard: got %s want 24.99 USD", intl[0].Price)
	}
}

func TestTierClientFreeShippingThreshold(t *testing.T) {
	client := shippingtax.TierClient{FreeShippingOver: money.MustParse("200.00", "USD")}
	opts, err := client.Rates(context.Background(), shippingtax.RateReq{WeightGrams: 800, Subtotal: money.MustParse("250.00", "USD")})
	if err != nil {
		t.Fatalf("rates: %v", err)
	}
	if !opts[0].Price.IsZero() {
		t.Fatalf("standard should be free over threshold, got %s", opts[0].Price)
	}
}
