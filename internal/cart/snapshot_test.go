package cart_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-pasar/internal/cart"
	"github.com/noah-isme/backend-pasar/internal/money"
)

func line(seller, store uuid.UUID, price string, qty int) cart.Line {
	return cart.Line{
		ProductID: uuid.New(),
		SellerID:  seller,
		StoreID:   store,
		UnitPrice: money.MustParse(price, "USD"),
		Quantity:  qty,
	}
}

func TestValidateRejectsEmptyCart(t *testing.T) {
	snap := cart.Snapshot{ID: uuid.New(), Currency: "USD"}
	require.ErrorIs(t, snap.Validate(), cart.ErrEmptyCart)
}

func TestValidateRejectsZeroQuantity(t *testing.T) {
	snap := cart.Snapshot{
		ID:       uuid.New(),
		Currency: "USD",
		Lines:    []cart.Line{line(uuid.New(), uuid.New(), "10.00", 0)},
	}
	require.ErrorIs(t, snap.Validate(), cart.ErrZeroQuantityLine)
}

func TestValidateRejectsCurrencyMismatch(t *testing.T) {
	mixed := cart.Line{
		ProductID: uuid.New(),
		SellerID:  uuid.New(),
		StoreID:   uuid.New(),
		UnitPrice: money.MustParse("10.00", "EUR"),
		Quantity:  1,
	}
	snap := cart.Snapshot{
		ID:       uuid.New(),
		Currency: "USD",
		Lines:    []cart.Line{line(uuid.New(), uuid.New(), "10.00", 1), mixed},
	}
	require.ErrorIs(t, snap.Validate(), cart.ErrCurrencyMismatch)
}

func TestSubtotalIsExactSum(t *testing.T) {
	seller := uuid.New()
	store := uuid.New()
	snap := cart.Snapshot{
		ID:       uuid.New(),
		Currency: "USD",
		Lines: []cart.Line{
			line(seller, store, "199.99", 2),
			line(seller, store, "0.01", 3),
		},
	}
	require.NoError(t, snap.Validate())

	subtotal, err := snap.Subtotal()
	require.NoError(t, err)
	require.Equal(t, "400.01 USD", subtotal.String())
}

func TestSellerOrderIsFirstAppearance(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	store := uuid.New()
	snap := cart.Snapshot{
		ID:       uuid.New(),
		Currency: "USD",
		Lines: []cart.Line{
			line(b, store, "5.00", 1),
			line(a, store, "5.00", 1),
			line(b, store, "5.00", 1),
		},
	}
	require.Equal(t, []uuid.UUID{b, a}, snap.SellerOrder())

	subtotals, err := snap.SellerSubtotals()
	require.NoError(t, err)
	require.Equal(t, "10.00 USD", subtotals[b].String())
	require.Equal(t, "5.00 USD", subtotals[a].String())
}

func TestTotalWeightUsesDefaultForUntrackedProducts(t *testing.T) {
	seller := uuid.New()
	store := uuid.New()
	tracked := line(seller, store, "1.00", 2)
	untracked := line(seller, store, "1.00", 1)
	snap := cart.Snapshot{
		ID:       uuid.New(),
		Currency: "USD",
		Lines:    []cart.Line{tracked, untracked},
	}
	weights := map[uuid.UUID]int{tracked.ProductID: 300}
	require.Equal(t, 300*2+500, cart.TotalWeightGrams(weights, snap, 500))
}
