package cart

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-pasar/internal/money"
)

var (
	// ErrEmptyCart is returned when a snapshot carries no lines.
	ErrEmptyCart = errors.New("cart: snapshot has no lines")
	// ErrZeroQuantityLine is returned for a line with quantity below one.
	ErrZeroQuantityLine = errors.New("cart: line quantity must be at least 1")
	// ErrCurrencyMismatch is returned when a line price deviates from the locked currency.
	ErrCurrencyMismatch = errors.New("cart: line currency differs from locked cart currency")
)

// Line is one priced cart entry attributed to a seller.
type Line struct {
	ProductID uuid.UUID   `json:"productId"`
	SellerID  uuid.UUID   `json:"sellerId"`
	StoreID   uuid.UUID   `json:"storeId"`
	UnitPrice money.Money `json:"unitPrice"`
	Quantity  int         `json:"quantity"`
}

// Subtotal is quantity x unit price, exact.
func (l Line) Subtotal() money.Money {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Snapshot is the immutable cart state taken when checkout begins. The
// currency is locked at creation; re-entering the address step produces a
// fresh snapshot rather than mutating this one.
type Snapshot struct {
	ID                   uuid.UUID `json:"id"`
	Currency             string    `json:"currency"`
	DestinationAddressID uuid.UUID `json:"destinationAddressId"`
	Lines                []Line    `json:"lines"`
}

// Validate rejects malformed snapshots before any external call is made.
func (s Snapshot) Validate() error {
	if len(s.Lines) == 0 {
		return ErrEmptyCart
	}
	for i, line := range s.Lines {
		if line.Quantity < 1 {
			return fmt.Errorf("%w (line %d)", ErrZeroQuantityLine, i)
		}
		if line.UnitPrice.Currency() != s.Currency {
			return fmt.Errorf("%w (line %d: %s)", ErrCurrencyMismatch, i, line.UnitPrice.Currency())
		}
	}
	return nil
}

// Subtotal is the exact sum of line subtotals, never rounded here.
func (s Snapshot) Subtotal() (money.Money, error) {
	total := money.Zero(s.Currency)
	for _, line := range s.Lines {
		var err error
		total, err = total.Add(line.Subtotal())
		if err != nil {
			return money.Money{}, err
		}
	}
	return total, nil
}

// SellerOrder lists distinct sellers in order of first appearance.
func (s Snapshot) SellerOrder() []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(s.Lines))
	order := make([]uuid.UUID, 0, len(s.Lines))
	for _, line := range s.Lines {
		if _, ok := seen[line.SellerID]; ok {
			continue
		}
		seen[line.SellerID] = struct{}{}
		order = append(order, line.SellerID)
	}
	return order
}

// SellerSubtotals returns the exact per-seller item subtotal.
func (s Snapshot) SellerSubtotals() (map[uuid.UUID]money.Money, error) {
	out := make(map[uuid.UUID]money.Money)
	for _, line := range s.Lines {
		current, ok := out[line.SellerID]
		if !ok {
			current = money.Zero(s.Currency)
		}
		next, err := current.Add(line.Subtotal())
		if err != nil {
			return nil, err
		}
		out[line.SellerID] = next
	}
	return out, nil
}

// StoreFor maps a seller to the store observed on their first line.
func (s Snapshot) StoreFor(sellerID uuid.UUID) uuid.UUID {
	for _, line := range s.Lines {
		if line.SellerID == sellerID {
			return line.StoreID
		}
	}
	return uuid.Nil
}

// TotalWeightGrams sums per-line weights when the caller tracks them; a zero
// weight line counts with the provided default.
func TotalWeightGrams(weights map[uuid.UUID]int, s Snapshot, defaultGrams int) int {
	total := 0
	for _, line := range s.Lines {
		w := weights[line.ProductID]
		if w <= 0 {
			w = defaultGrams
		}
		total += w * line.Quantity
	}
	return total
}
