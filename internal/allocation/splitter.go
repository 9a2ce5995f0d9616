package allocation

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pasar/internal/cart"
	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/totals"
)

// ErrReconciliation is a consistency failure: allocated shares did not sum
// back to the order components. Fatal for the order; never proceed with
// unreconciled money.
var ErrReconciliation = errors.New("allocation: seller shares do not reconcile with order totals")

// SellerAllocation is one seller's slice of a multi-seller order.
type SellerAllocation struct {
	SellerID      uuid.UUID   `json:"sellerId"`
	StoreID       uuid.UUID   `json:"storeId"`
	Subtotal      money.Money `json:"subtotal"`
	ShippingShare money.Money `json:"shippingShare"`
	TaxShare      money.Money `json:"taxShare"`
	DiscountShare money.Money `json:"discountShare"`
	Total         money.Money `json:"total"`
}

// Split distributes order-level shipping, tax and discount across sellers in
// proportion to each seller's exact share of the item subtotal. Per-seller
// shares are rounded half-up; the last seller receives the remainder of each
// component instead of an independently rounded amount, so the per-order sums
// always reconcile to the minor unit. Sellers with a zero subtotal are
// excluded entirely rather than given a zero row.
func Split(snap cart.Snapshot, t totals.OrderTotals) ([]SellerAllocation, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	subtotals, err := snap.SellerSubtotals()
	if err != nil {
		return nil, err
	}

	order := make([]uuid.UUID, 0, len(subtotals))
	for _, sellerID := range snap.SellerOrder() {
		if sub, ok := subtotals[sellerID]; ok && !sub.IsZero() {
			order = append(order, sellerID)
		}
	}
	if len(order) == 0 {
		return nil, cart.ErrEmptyCart
	}

	// Single-seller carts take the identity allocation; no rounding needed.
	if len(order) == 1 {
		sellerID := order[0]
		return []SellerAllocation{{
			SellerID:      sellerID,
			StoreID:       snap.StoreFor(sellerID),
			Subtotal:      t.Subtotal,
			ShippingShare: t.Shipping,
			TaxShare:      t.Tax,
			DiscountShare: t.Discount,
			Total:         t.Total,
		}}, nil
	}

	allocations := make([]SellerAllocation, 0, len(order))
	shippingLeft, taxLeft, discountLeft := t.Shipping, t.Tax, t.Discount

	for i, sellerID := range order {
		sub := subtotals[sellerID]
		var shipping, tax, discount money.Money
		if i == len(order)-1 {
			shipping, tax, discount = shippingLeft, taxLeft, discountLeft
		} else {
			share, rerr := sub.Ratio(t.Subtotal)
			if rerr != nil {
				return nil, rerr
			}
			shipping = t.Shipping.Mul(share).Round()
			tax = t.Tax.Mul(share).Round()
			discount = t.Discount.Mul(share).Round()
			if shippingLeft, err = shippingLeft.Sub(shipping); err != nil {
				return nil, err
			}
			if taxLeft, err = taxLeft.Sub(tax); err != nil {
				return nil, err
			}
			if discountLeft, err = discountLeft.Sub(discount); err != nil {
				return nil, err
			}
		}

		total, terr := sub.Add(shipping)
		if terr != nil {
			return nil, terr
		}
		if total, terr = total.Add(tax); terr != nil {
			return nil, terr
		}
		if total, terr = total.Sub(discount); terr != nil {
			return nil, terr
		}

		allocations = append(allocations, SellerAllocation{
			SellerID:      sellerID,
			StoreID:       snap.StoreFor(sellerID),
			Subtotal:      sub,
			ShippingShare: shipping,
			TaxShare:      tax,
			DiscountShare: discount,
			Total:         total.Round(),
		})
	}

	if err := reconcile(allocations, t); err != nil {
		return nil, err
	}
	return allocations, nil
}

// reconcile asserts the sum invariants before the allocations are persisted.
func reconcile(allocations []SellerAllocation, t totals.OrderTotals) error {
	currency := t.Subtotal.Currency()
	sumSub, sumShip, sumTax, sumDisc := money.Zero(currency), money.Zero(currency), money.Zero(currency), money.Zero(currency)
	var err error
	for _, a := range allocations {
		if sumSub, err = sumSub.Add(a.Subtotal); err != nil {
			return err
		}
		if sumShip, err = sumShip.Add(a.ShippingShare); err != nil {
			return err
		}
		if sumTax, err = sumTax.Add(a.TaxShare); err != nil {
			return err
		}
		if sumDisc, err = sumDisc.Add(a.DiscountShare); err != nil {
			return err
		}
	}
	if !sumSub.Equal(t.Subtotal) {
		return fmt.Errorf("%w: subtotal %s vs %s", ErrReconciliation, sumSub, t.Subtotal)
	}
	if !sumShip.Equal(t.Shipping) {
		return fmt.Errorf("%w: shipping %s vs %s", ErrReconciliation, sumShip, t.Shipping)
	}
	if !sumTax.Equal(t.Tax) {
		return fmt.Errorf("%w: tax %s vs %s", ErrReconciliation, sumTax, t.Tax)
	}
	if !sumDisc.Equal(t.Discount) {
		return fmt.Errorf("%w: discount %s vs %s", ErrReconciliation, sumDisc, t.Discount)
	}
	return nil
}
