package totals

import (
	"errors"
	"fmt"

	"github.com/noah-isme/backend-pasar/internal/cart"
	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/shippingtax"
)

// ErrInvalidDiscount is returned when a discount exceeds what the order can
// absorb. The aggregator fails instead of producing a negative total.
var ErrInvalidDiscount = errors.New("totals: discount exceeds subtotal plus shipping plus tax")

// OrderTotals is the authoritative breakdown for one order. Invariant:
// Total == Subtotal + Shipping + Tax - Discount in the locked currency.
type OrderTotals struct {
	Subtotal money.Money `json:"subtotal"`
	Shipping money.Money `json:"shipping"`
	Tax      money.Money `json:"tax"`
	Discount money.Money `json:"discount"`
	Total    money.Money `json:"total"`
}

// Aggregate combines the exact item subtotal with the chosen shipping option,
// computed tax and optional discount. The subtotal is never rounded here; the
// final total is rounded once, half-up, at the currency's minor-unit
// precision, so per-line rounding drift cannot accumulate.
func Aggregate(snap cart.Snapshot, shipping shippingtax.Option, tax, discount money.Money) (OrderTotals, error) {
	if err := snap.Validate(); err != nil {
		return OrderTotals{}, err
	}
	subtotal, err := snap.Subtotal()
	if err != nil {
		return OrderTotals{}, err
	}
	if tax.IsNegative() {
		return OrderTotals{}, fmt.Errorf("totals: negative tax %s", tax)
	}
	if discount.IsNegative() {
		return OrderTotals{}, fmt.Errorf("totals: negative discount %s", discount)
	}

	gross, err := subtotal.Add(shipping.Price)
	if err != nil {
		return OrderTotals{}, err
	}
	gross, err = gross.Add(tax)
	if err != nil {
		return OrderTotals{}, err
	}
	if cmp, cerr := discount.Cmp(gross); cerr != nil {
		return OrderTotals{}, cerr
	} else if cmp > 0 {
		return OrderTotals{}, fmt.Errorf("%w: discount %s, order gross %s", ErrInvalidDiscount, discount, gross)
	}
	total, err := gross.Sub(discount)
	if err != nil {
		return OrderTotals{}, err
	}

	return OrderTotals{
		Subtotal: subtotal,
		Shipping: shipping.Price,
		Tax:      tax,
		Discount: discount,
		Total:    total.Round(),
	}, nil
}

// Verify re-checks the arithmetic invariant against stored components. Used
// before capture so money never moves against an unreconciled record.
func (t OrderTotals) Verify() error {
	sum, err := t.Subtotal.Add(t.Shipping)
	if err != nil {
		return err
	}
	sum, err = sum.Add(t.Tax)
	if err != nil {
		return err
	}
	sum, err = sum.Sub(t.Discount)
	if err != nil {
		return err
	}
	if !sum.Round().Equal(t.Total) {
		return fmt.Errorf("totals: stored total %s does not reconcile with components (%s)", t.Total, sum.Round())
	}
	return nil
}
