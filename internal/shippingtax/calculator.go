package shippingtax

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/noah-isme/backend-pasar/internal/cart"
	"github.com/noah-isme/backend-pasar/internal/money"
)

var (
	// ErrZoneUnavailable means the destination zone has no shipping options.
	// Checkout cannot proceed; callers must not substitute a default price.
	ErrZoneUnavailable = errors.New("shippingtax: no shipping options for destination zone")
	// ErrRateLookupTimeout marks a carrier lookup that exceeded its deadline.
	// The caller may retry; it is never equivalent to an empty option list.
	ErrRateLookupTimeout = errors.New("shippingtax: carrier rate lookup timed out")
	// ErrUnknownMethod is returned when the requested method id was not quoted.
	ErrUnknownMethod = errors.New("shippingtax: unknown shipping method")
)

// TaxTable maps jurisdiction codes to basis-point tax rates.
type TaxTable map[string]int64

// Quote is the calculator output: eligible options plus the tax amount, both
// denominated in the cart's locked currency.
type Quote struct {
	Options []Option    `json:"shippingOptions"`
	Tax     money.Money `json:"tax"`
}

// Calculator computes authoritative shipping options and tax server side.
// Client-supplied prices are never trusted.
type Calculator struct {
	Geo           GeoResolver
	Rates         RateClient
	Taxes         TaxTable
	LocalBps      int64
	Timeout       time.Duration
	DefaultWeight int
	Weights       map[string]int
}

// Quote resolves the destination, fetches eligible options, and computes tax.
// When methodID is non-empty the option list is narrowed to that method.
func (c *Calculator) Quote(ctx context.Context, snap cart.Snapshot, methodID string) (Quote, error) {
	if err := snap.Validate(); err != nil {
		return Quote{}, err
	}
	if c.Geo == nil || c.Rates == nil {
		return Quote{}, errors.New("shippingtax: calculator not configured")
	}
	subtotal, err := snap.Subtotal()
	if err != nil {
		return Quote{}, err
	}

	dest, err := c.Geo.Resolve(ctx, snap.DestinationAddressID)
	if err != nil {
		return Quote{}, fmt.Errorf("shippingtax: resolve destination: %w", err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	rateCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	weight := c.weight(snap)
	options, err := c.Rates.Rates(rateCtx, RateReq{
		Zone:          dest.Zone,
		International: dest.International,
		WeightGrams:   weight,
		Subtotal:      subtotal,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Quote{}, ErrRateLookupTimeout
		}
		return Quote{}, fmt.Errorf("shippingtax: carrier rates: %w", err)
	}
	if len(options) == 0 {
		return Quote{}, fmt.Errorf("%w (%s)", ErrZoneUnavailable, dest.Zone)
	}

	if methodID != "" {
		chosen, ok := findOption(options, methodID)
		if !ok {
			return Quote{}, fmt.Errorf("%w: %q", ErrUnknownMethod, methodID)
		}
		options = []Option{chosen}
	}

	tax, err := c.tax(dest, subtotal)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Options: options, Tax: tax}, nil
}

// tax applies the jurisdiction rate plus the flat local component. Unknown
// jurisdictions are untaxed rather than failing checkout.
func (c *Calculator) tax(dest Destination, subtotal money.Money) (money.Money, error) {
	bps, ok := c.Taxes[strings.ToUpper(dest.Jurisdiction)]
	if !ok || bps <= 0 {
		return money.Zero(subtotal.Currency()), nil
	}
	total := bps + c.LocalBps
	amount := subtotal.MulBps(total).Round()
	if amount.IsNegative() {
		return money.Zero(subtotal.Currency()), nil
	}
	return amount, nil
}

func (c *Calculator) weight(snap cart.Snapshot) int {
	defaultGrams := c.DefaultWeight
	if defaultGrams <= 0 {
		defaultGrams = 500
	}
	total := 0
	for _, line := range snap.Lines {
		w := c.Weights[line.ProductID.String()]
		if w <= 0 {
			w = defaultGrams
		}
		total += w * line.Quantity
	}
	return total
}

func findOption(options []Option, id string) (Option, bool) {
	for _, opt := range options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}
