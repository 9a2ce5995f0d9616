package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-pasar/internal/allocation"
	"github.com/noah-isme/backend-pasar/internal/cart"
	"github.com/noah-isme/backend-pasar/internal/currency"
	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/payment"
	"github.com/noah-isme/backend-pasar/internal/shippingtax"
	"github.com/noah-isme/backend-pasar/internal/totals"
)

var (
	// ErrShippingMethodRequired is returned when an order is created without
	// a selected shipping method.
	ErrShippingMethodRequired = errors.New("checkout: shipping method is required")
	// ErrOrderNotFound is returned for an unknown order id.
	ErrOrderNotFound = errors.New("checkout: order not found")
	// ErrAlreadyDelivered rejects duplicate delivery confirmations.
	ErrAlreadyDelivered = errors.New("checkout: delivery already confirmed")
)

// Order is the persisted settlement view of a completed checkout.
type Order struct {
	ID             uuid.UUID
	BuyerID        uuid.UUID
	CartID         uuid.UUID
	Currency       string
	Totals         totals.OrderTotals
	ShippingOption shippingtax.Option
	Status         string
	DeliveredAt    *time.Time
	CreatedAt      time.Time
}

// OrderStore persists orders together with their seller allocations in one
// transaction, so an order can never exist without reconciled allocations.
type OrderStore interface {
	SaveOrder(ctx context.Context, order Order, allocations []allocation.SellerAllocation) (Order, error)
	Get(ctx context.Context, id uuid.UUID) (Order, error)
	// TotalForOrder reads back the persisted total; capture is checked
	// against this value, never against in-memory state.
	TotalForOrder(ctx context.Context, id uuid.UUID) (money.Money, error)
	// MarkDelivered stamps the delivery confirmation once; a repeat call
	// reports false.
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// Quote is the totals-calculation response: the eligible options, the tax,
// and the aggregated totals when a shipping method was selected.
type Quote struct {
	Options  []shippingtax.Option
	Tax      money.Money
	Subtotal money.Money
	Totals   *totals.OrderTotals
	Selected *shippingtax.Option
	LockedAt time.Time
}

// Service orchestrates quote, totals, allocation, payment and persistence.
// All of it runs synchronously within the request: nothing that touches
// money is fired and forgotten.
type Service struct {
	Calculator *shippingtax.Calculator
	Currencies *currency.Resolver
	Payments   *payment.Service
	Orders     OrderStore
	Now        func() time.Time
	Logger     *zerolog.Logger
}

// QuoteTotals validates the snapshot, locks the currency, and computes
// shipping options, tax, and the order totals when a method is chosen.
func (s *Service) QuoteTotals(ctx context.Context, snap cart.Snapshot, methodID string, discount money.Money) (Quote, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "CheckoutService.QuoteTotals")
	defer span.End()

	if err := snap.Validate(); err != nil {
		return Quote{}, err
	}
	locked, err := s.Currencies.Lock(ctx, snap.Currency)
	if err != nil {
		return Quote{}, err
	}

	result, err := s.Calculator.Quote(ctx, snap, methodID)
	if err != nil {
		return Quote{}, err
	}
	subtotal, err := snap.Subtotal()
	if err != nil {
		return Quote{}, err
	}

	quote := Quote{
		Options:  result.Options,
		Tax:      result.Tax,
		Subtotal: subtotal,
		LockedAt: locked.LockedAt,
	}
	if methodID != "" {
		chosen := result.Options[0]
		agg, err := totals.Aggregate(snap, chosen, result.Tax, discount)
		if err != nil {
			return Quote{}, err
		}
		quote.Totals = &agg
		quote.Selected = &chosen
	}
	return quote, nil
}

// PlaceOrderResult is returned by PlaceOrder.
type PlaceOrderResult struct {
	Order         Order
	Allocations   []allocation.SellerAllocation
	Authorization payment.Authorization
}

// PlaceOrder runs the full settlement pipeline: totals, allocation, payment
// hold, durable persistence, then capture. The hold is placed before
// persistence; if persistence fails the hold stays Authorized and the
// reconciliation sweep cancels it later. Capture runs only after commit and
// only against the persisted total.
func (s *Service) PlaceOrder(ctx context.Context, buyerID uuid.UUID, snap cart.Snapshot, methodID string, discount money.Money, instrument payment.Instrument) (PlaceOrderResult, error) {
	ctx, span := otel.Tracer("checkout.Service").Start(ctx, "CheckoutService.PlaceOrder")
	defer span.End()
	span.SetAttributes(attribute.String("cart.id", snap.ID.String()))

	if methodID == "" {
		return PlaceOrderResult{}, ErrShippingMethodRequired
	}
	quote, err := s.QuoteTotals(ctx, snap, methodID, discount)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	allocs, err := allocation.Split(snap, *quote.Totals)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	orderID := uuid.New()
	auth, err := s.Payments.Authorize(ctx, orderID, quote.Totals.Total, instrument)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	order := Order{
		ID:             orderID,
		BuyerID:        buyerID,
		CartID:         snap.ID,
		Currency:       snap.Currency,
		Totals:         *quote.Totals,
		ShippingOption: *quote.Selected,
		Status:         "PENDING_CAPTURE",
		CreatedAt:      s.now(),
	}
	persisted, err := s.Orders.SaveOrder(ctx, order, allocs)
	if err != nil {
		s.log().Error().Err(err).
			Str("order_id", orderID.String()).
			Str("auth_id", auth.ID.String()).
			Msg("order persistence failed after authorize, hold left for reconciliation")
		return PlaceOrderResult{}, fmt.Errorf("checkout: persist order: %w", err)
	}

	persistedTotal, err := s.Orders.TotalForOrder(ctx, persisted.ID)
	if err != nil {
		return PlaceOrderResult{}, err
	}
	captured, err := s.Payments.Capture(ctx, persisted.ID, persistedTotal)
	if err != nil {
		return PlaceOrderResult{}, err
	}

	return PlaceOrderResult{Order: persisted, Allocations: allocs, Authorization: captured}, nil
}

// Abandon cancels the payment hold for a checkout the buyer walked away
// from, instead of leaving the gateway to expire it days later.
func (s *Service) Abandon(ctx context.Context, orderID uuid.UUID) error {
	return s.Payments.CancelHold(ctx, orderID)
}

// ConfirmDelivery records the delivery confirmation that starts the payout
// hold-period countdown.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID uuid.UUID) error {
	ok, err := s.Orders.MarkDelivered(ctx, orderID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyDelivered
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
