package allocation_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pasar/internal/allocation"
	"github.com/noah-isme/backend-pasar/internal/cart"
	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/shippingtax"
	"github.com/noah-isme/backend-pasar/internal/totals"
)

func sellerLine(sellerID uuid.UUID, price string, qty int) cart.Line {
	return cart.Line{
		ProductID: uuid.New(),
		SellerID:  sellerID,
		StoreID:   uuid.New(),
		UnitPrice: money.MustParse(price, "USD"),
		Quantity:  qty,
	}
}

func aggregate(t *testing.T, snap cart.Snapshot, shipping, tax string) totals.OrderTotals {
	t.Helper()
	out, err := totals.Aggregate(snap, shippingtax.Option{ID: "standard", Price: money.MustParse(shipping, "USD")},
		money.MustParse(tax, "USD"), money.Zero("USD"))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	return out
}

func TestSplitSingleSellerIdentity(t *testing.T) {
	seller := uuid.New()
	snap := cart.Snapshot{ID: uuid.New(), Currency: "USD", DestinationAddressID: uuid.New(),
		Lines: []cart.Line{sellerLine(seller, "199.99", 3)}}
	ot := aggregate(t, snap, "15.00", "48.00")

	allocs, err := allocation.Split(snap, ot)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(allocs) != 1 {
		t.Fatalf("allocations: got %d want 1", len(allocs))
	}
	a := allocs[0]
	if !a.Subtotal.Equal(ot.Subtotal) || !a.ShippingShare.Equal(ot.Shipping) || !a.TaxShare.Equal(ot.Tax) || !a.Total.Equal(ot.Total) {
		t.Fatalf("single-seller allocation is not the identity: %+v vs %+v", a, ot)
	}
}

func TestSplitTwoSellersRemainderToLast(t *testing.T) {
	sellerA, sellerB := uuid.New(), uuid.New()
	snap := cart.Snapshot{ID: uuid.New(), Currency: "USD", DestinationAddressID: uuid.New(),
		Lines: []cart.Line{
			sellerLine(sellerA, "299.99", 1),
			sellerLine(sellerB, "89.99", 1),
		}}
	ot := aggregate(t, snap, "15.00", "31.20")

	allocs, err := allocation.Split(snap, ot)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(allocs) != 2 {
		t.Fatalf("allocations: got %d want 2", len(allocs))
	}
	if allocs[0].SellerID != sellerA {
		t.Fatal("allocation order must follow first appearance in cart")
	}
	// 299.99/389.98 of 15.00 rounds to 11.54; seller B absorbs 3.46.
	if !allocs[0].ShippingShare.Equal(money.MustParse("11.54", "USD")) {
		t.Fatalf("seller A shipping: got %s want 11.54 USD", allocs[0].ShippingShare)
	}
	if !allocs[1].ShippingShare.Equal(money.MustParse("3.46", "USD")) {
		t.Fatalf("seller B shipping: got %s want 3.46 USD", allocs[1].ShippingShare)
	}
	sum, err := allocs[0].ShippingShare.Add(allocs[1].ShippingShare)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if !sum.Equal(ot.Shipping) {
		t.Fatalf("shipping shares sum %s, want %s", sum, ot.Shipping)
	}
}

func TestSplitZeroSubtotalSellerExcluded(t *testing.T) {
	sellerA, sellerB := uuid.New(), uuid.New()
	snap := cart.Snapshot{ID: uuid.New(), Currency: "USD", DestinationAddressID: uuid.New(),
		Lines: []cart.Line{
			sellerLine(sellerA, "50.00", 2),
			sellerLine(sellerB, "0.00", 1),
		}}
	ot := aggregate(t, snap, "10.00", "5.00")
	allocs, err := allocation.Split(snap, ot)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(allocs) != 1 || allocs[0].SellerID != sellerA {
		t.Fatalf("zero-subtotal seller must be excluded, got %+v", allocs)
	}
}

func TestSplitReconciliationInvariantRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.Intn(7)
		lines := make([]cart.Line, 0, n*2)
		for i := 0; i < n; i++ {
			seller := uuid.New()
			for j := 0; j <= rng.Intn(2); j++ {
				cents := 1 + rng.Intn(99999)
				price := fmt.Sprintf("%d.%02d", cents/100, cents%100)
				lines = append(lines, sellerLine(seller, price, 1+rng.Intn(4)))
			}
		}
		snap := cart.Snapshot{ID: uuid.New(), Currency: "USD", DestinationAddressID: uuid.New(), Lines: lines}
		shipping := fmt.Sprintf("%d.%02d", rng.Intn(50), rng.Intn(100))
		tax := fmt.Sprintf("%d.%02d", rng.Intn(100), rng.Intn(100))
		ot := aggregate(t, snap, shipping, tax)

		allocs, err := allocation.Split(snap, ot)
		if err != nil {
			t.Fatalf("trial %d: split: %v", trial, err)
		}

		sumSub, sumShip, sumTax := money.Zero("USD"), money.Zero("USD"), money.Zero("USD")
		for _, a := range allocs {
			sumSub, _ = sumSub.Add(a.Subtotal)
			sumShip, _ = sumShip.Add(a.ShippingShare)
			sumTax, _ = sumTax.Add(a.TaxShare)
		}
		if !sumSub.Equal(ot.Subtotal) {
			t.Fatalf("trial %d: subtotal drift %s vs %s", trial, sumSub, ot.Subtotal)
		}
		if !sumShip.Equal(ot.Shipping) {
			t.Fatalf("trial %d: shipping drift %s vs %s", trial, sumShip, ot.Shipping)
		}
		if !sumTax.Equal(ot.Tax) {
			t.Fatalf("trial %d: tax drift %s vs %s", trial, sumTax, ot.Tax)
		}
	}
}
