package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pasar/internal/commission"
	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/obs"
)

// EligibleAllocation is a released seller allocation the engine may fold
// into a payout: the order's hold period has elapsed.
type EligibleAllocation struct {
	OrderID    uuid.UUID
	SellerID   uuid.UUID
	StoreID    uuid.UUID
	Total      money.Money
	ReleasedAt time.Time
}

// Ledger reads released allocations and records the payouts cut from them.
type Ledger interface {
	// EligibleAllocations lists the seller's released allocations not yet
	// attached to a payout, as of the given instant.
	EligibleAllocations(ctx context.Context, sellerID uuid.UUID, asOf time.Time) ([]EligibleAllocation, error)
	// EligibleSellers lists sellers holding at least one released,
	// unattached allocation.
	EligibleSellers(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
	// CreatePayout persists the payout and links the consumed allocations
	// to it in one transaction, so they cannot be paid twice.
	CreatePayout(ctx context.Context, p Payout, orderIDs []uuid.UUID) (Payout, error)
	// PendingBalance sums the seller's released, unattached allocations.
	PendingBalance(ctx context.Context, sellerID uuid.UUID, currency string) (money.Money, error)
}

// FeeSchedule holds the processor's fixed fee per currency. The percentage
// part is uniform; the flat part differs by currency.
type FeeSchedule map[string]money.Money

// DefaultFeeSchedule mirrors common card-processor flat fees.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		"USD": money.MustParse("0.30", "USD"),
		"EUR": money.MustParse("0.25", "EUR"),
		"GBP": money.MustParse("0.20", "GBP"),
		"IDR": money.MustParse("2500", "IDR"),
	}
}

// FixedFee returns the flat fee for the currency, zero when unlisted.
func (f FeeSchedule) FixedFee(currency string) money.Money {
	if fee, ok := f[currency]; ok {
		return fee
	}
	return money.Zero(currency)
}

// Statement itemises one payout computation.
type Statement struct {
	Gross         money.Money
	CommissionBps int64
	Commission    money.Money
	ProcessingFee money.Money
	Net           money.Money
	OrderIDs      []uuid.UUID
}

// Engine turns released seller allocations into PENDING payouts.
type Engine struct {
	Ledger       Ledger
	Commission   *commission.Resolver
	Fees         FeeSchedule
	ProcessorBps int64
	Now          func() time.Time
	Logger       *zerolog.Logger
}

// Compute itemises the seller's earnings without persisting anything. Gross
// is the exact sum of released allocation totals; commission and the
// percentage fee are each rounded once to the currency's minor units.
func (e *Engine) Compute(ctx context.Context, sellerID uuid.UUID) (Statement, uuid.UUID, error) {
	now := e.now()
	allocs, err := e.Ledger.EligibleAllocations(ctx, sellerID, now)
	if err != nil {
		return Statement{}, uuid.Nil, err
	}
	if len(allocs) == 0 {
		return Statement{}, uuid.Nil, ErrNoEligibleEarnings
	}

	storeID := allocs[0].StoreID
	totals := make([]money.Money, 0, len(allocs))
	orderIDs := make([]uuid.UUID, 0, len(allocs))
	for _, a := range allocs {
		totals = append(totals, a.Total)
		orderIDs = append(orderIDs, a.OrderID)
	}
	gross, err := money.Sum(totals...)
	if err != nil {
		return Statement{}, uuid.Nil, err
	}

	res, err := e.Commission.Resolve(ctx, sellerID, storeID, gross, now)
	if err != nil {
		return Statement{}, uuid.Nil, err
	}
	comm := gross.MulBps(res.Bps).Round()
	pctFee := gross.MulBps(e.ProcessorBps).Round()
	fee, err := pctFee.Add(e.Fees.FixedFee(gross.Currency()))
	if err != nil {
		return Statement{}, uuid.Nil, err
	}
	net, err := gross.Sub(comm)
	if err != nil {
		return Statement{}, uuid.Nil, err
	}
	net, err = net.Sub(fee)
	if err != nil {
		return Statement{}, uuid.Nil, err
	}

	return Statement{
		Gross:         gross,
		CommissionBps: res.Bps,
		Commission:    comm,
		ProcessingFee: fee,
		Net:           net,
		OrderIDs:      orderIDs,
	}, storeID, nil
}

// ComputeForSeller creates a PENDING payout for the seller's released
// earnings. When net earnings fall below the configured minimum it returns
// ErrBelowMinimumPayout and persists nothing: the allocations stay
// unattached and roll into the next period.
func (e *Engine) ComputeForSeller(ctx context.Context, sellerID uuid.UUID, cfg ScheduleConfig) (Payout, error) {
	stmt, storeID, err := e.Compute(ctx, sellerID)
	if err != nil {
		return Payout{}, err
	}
	if !cfg.MinPayoutAmount.IsZero() {
		cmp, cerr := stmt.Net.Cmp(cfg.MinPayoutAmount)
		if cerr != nil {
			return Payout{}, cerr
		}
		if cmp < 0 {
			if obs.PayoutBelowMinimumTotal != nil {
				obs.PayoutBelowMinimumTotal.Inc()
			}
			return Payout{}, fmt.Errorf("%w: net %s, minimum %s",
				ErrBelowMinimumPayout, stmt.Net, cfg.MinPayoutAmount)
		}
	}
	if stmt.Net.IsNegative() {
		return Payout{}, fmt.Errorf("%w: net %s", ErrBelowMinimumPayout, stmt.Net)
	}

	now := e.now()
	p := Payout{
		ID:              uuid.New(),
		SellerID:        sellerID,
		StoreID:         storeID,
		Amount:          stmt.Net,
		Currency:        stmt.Net.Currency(),
		CommissionCount: len(stmt.OrderIDs),
		Status:          StatusPending,
		PaymentMethod:   "bank_transfer",
		PeriodStart:     cfg.PeriodStart(now),
		PeriodEnd:       now,
		ScheduledAt:     now,
		Notes:           fmt.Sprintf("Automated payout - %s", cfg.Frequency),
	}
	created, err := e.Ledger.CreatePayout(ctx, p, stmt.OrderIDs)
	if err != nil {
		return Payout{}, err
	}
	e.log().Info().
		Str("seller_id", sellerID.String()).
		Str("payout_id", created.ID.String()).
		Str("gross", stmt.Gross.String()).
		Str("commission", stmt.Commission.String()).
		Str("processing_fee", stmt.ProcessingFee.String()).
		Str("net", stmt.Net.String()).
		Msg("payout computed")
	return created, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) log() *zerolog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
