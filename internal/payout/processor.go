package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/obs"
)

// TransferReceipt is the provider's confirmation of a funds movement.
type TransferReceipt struct {
	Reference string
}

// TransferProvider moves payout funds to a seller's destination. Bank
// transfer, gateway-connect and wallet providers all satisfy this.
type TransferProvider interface {
	Transfer(ctx context.Context, amount money.Money, destination string) (TransferReceipt, error)
}

// StatusStamp carries the fields written alongside a status transition.
type StatusStamp struct {
	PaymentReference string
	ProcessedAt      *time.Time
	FailureReason    string
	Notes            string
}

// Store persists payout rows. Transitions are conditional on the current
// status so two processing attempts on the same payout cannot both win.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (Payout, error)
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to Status, stamp StatusStamp) (bool, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Payout, error)
	// AdjustAmount rewrites the payout amount and appends the note, only
	// while the payout is still PENDING.
	AdjustAmount(ctx context.Context, id uuid.UUID, amount money.Money, note string) (bool, error)
}

// Processor drives a PENDING payout to a terminal state.
type Processor struct {
	Store     Store
	Transfers map[string]TransferProvider
	Timeout   time.Duration
	Now       func() time.Time
	Logger    *zerolog.Logger
}

// Process moves one payout PENDING -> PROCESSING -> COMPLETED/FAILED. The
// PROCESSING mark is written before the provider is called, so a crash
// mid-transfer is observably in flight rather than silently lost. A provider
// failure stamps FAILED with the reason; failed payouts are only retried by
// an explicit admin re-trigger, never automatically.
func (p *Processor) Process(ctx context.Context, id uuid.UUID) (Payout, error) {
	row, err := p.Store.Get(ctx, id)
	if err != nil {
		return Payout{}, err
	}
	ok, err := p.Store.UpdateStatusIf(ctx, id, StatusPending, StatusProcessing, StatusStamp{})
	if err != nil {
		return Payout{}, err
	}
	if !ok {
		return Payout{}, fmt.Errorf("%w: process from %s", ErrInvalidTransition, row.Status)
	}

	provider, ok := p.Transfers[row.PaymentMethod]
	if !ok {
		reason := fmt.Sprintf("no transfer provider for method %q", row.PaymentMethod)
		return p.fail(ctx, id, reason)
	}

	tctx, cancel := p.bound(ctx)
	receipt, terr := provider.Transfer(tctx, row.Amount, row.SellerID.String())
	cancel()
	if terr != nil {
		p.log().Error().Err(terr).
			Str("payout_id", id.String()).
			Str("amount", row.Amount.String()).
			Msg("payout transfer failed")
		p.countTransfer("failed")
		return p.fail(ctx, id, terr.Error())
	}

	now := p.now()
	ok, err = p.Store.UpdateStatusIf(ctx, id, StatusProcessing, StatusCompleted, StatusStamp{
		PaymentReference: receipt.Reference,
		ProcessedAt:      &now,
	})
	if err != nil {
		return Payout{}, err
	}
	if !ok {
		return Payout{}, fmt.Errorf("%w: complete after transfer", ErrInvalidTransition)
	}
	p.countTransfer("completed")
	row.Status = StatusCompleted
	row.PaymentReference = receipt.Reference
	row.ProcessedAt = &now
	return row, nil
}

// ProcessBatch processes each payout independently. One failure never blocks
// or rolls back the others; the result lists both sides.
func (p *Processor) ProcessBatch(ctx context.Context, ids []uuid.UUID) BatchResult {
	var result BatchResult
	for _, id := range ids {
		if _, err := p.Process(ctx, id); err != nil {
			result.Failed = append(result.Failed, BatchFailure{ID: id, Reason: err.Error()})
			continue
		}
		result.Succeeded = append(result.Succeeded, id)
	}
	return result
}

// Complete is the admin manual-reconciliation path. It enforces the same
// edge as the automatic path: only a PROCESSING payout can complete, so
// every completed payout has a recorded processing start.
func (p *Processor) Complete(ctx context.Context, id uuid.UUID, paymentReference string) (Payout, error) {
	row, err := p.Store.Get(ctx, id)
	if err != nil {
		return Payout{}, err
	}
	now := p.now()
	ok, err := p.Store.UpdateStatusIf(ctx, id, StatusProcessing, StatusCompleted, StatusStamp{
		PaymentReference: paymentReference,
		ProcessedAt:      &now,
	})
	if err != nil {
		return Payout{}, err
	}
	if !ok {
		return Payout{}, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, row.Status)
	}
	row.Status = StatusCompleted
	row.PaymentReference = paymentReference
	row.ProcessedAt = &now
	return row, nil
}

// Fail marks a payout FAILED with a reason, from PENDING or PROCESSING.
func (p *Processor) Fail(ctx context.Context, id uuid.UUID, reason string) (Payout, error) {
	row, err := p.Store.Get(ctx, id)
	if err != nil {
		return Payout{}, err
	}
	from := row.Status
	if from != StatusPending && from != StatusProcessing {
		return Payout{}, fmt.Errorf("%w: fail from %s", ErrInvalidTransition, from)
	}
	ok, err := p.Store.UpdateStatusIf(ctx, id, from, StatusFailed, StatusStamp{FailureReason: reason})
	if err != nil {
		return Payout{}, err
	}
	if !ok {
		return Payout{}, fmt.Errorf("%w: fail from %s", ErrInvalidTransition, from)
	}
	row.Status = StatusFailed
	row.FailureReason = reason
	return row, nil
}

// Adjust applies a validated manual credit or debit to a payout that has not
// started processing. The adjusted amount must stay positive; an adjustment
// that would zero or invert the payout is rejected, cancel it instead.
func (p *Processor) Adjust(ctx context.Context, id uuid.UUID, req AdjustmentRequest) (Payout, error) {
	row, err := p.Store.Get(ctx, id)
	if err != nil {
		return Payout{}, err
	}
	if row.Status != StatusPending {
		return Payout{}, fmt.Errorf("%w: adjust from %s", ErrInvalidTransition, row.Status)
	}

	var adjusted money.Money
	switch req.Type {
	case "CREDIT":
		adjusted, err = row.Amount.Add(req.Amount)
	case "DEBIT":
		adjusted, err = row.Amount.Sub(req.Amount)
	default:
		return Payout{}, fmt.Errorf("%w: unknown type %q", ErrInvalidAdjustment, req.Type)
	}
	if err != nil {
		return Payout{}, fmt.Errorf("%w: %v", ErrInvalidAdjustment, err)
	}
	if adjusted.IsNegative() || adjusted.IsZero() {
		return Payout{}, fmt.Errorf("%w: adjusted amount %s is not positive", ErrInvalidAdjustment, adjusted)
	}

	note := fmt.Sprintf("%s %s: %s", req.Type, req.Amount, req.Reason)
	ok, err := p.Store.AdjustAmount(ctx, id, adjusted, note)
	if err != nil {
		return Payout{}, err
	}
	if !ok {
		return Payout{}, fmt.Errorf("%w: adjust raced a status change", ErrInvalidTransition)
	}
	p.log().Info().
		Str("payout_id", id.String()).
		Str("type", req.Type).
		Str("delta", req.Amount.String()).
		Str("amount", adjusted.String()).
		Msg("payout adjusted")
	row.Amount = adjusted
	return row, nil
}

// Cancel voids a payout that has not started processing.
func (p *Processor) Cancel(ctx context.Context, id uuid.UUID) (Payout, error) {
	row, err := p.Store.Get(ctx, id)
	if err != nil {
		return Payout{}, err
	}
	ok, err := p.Store.UpdateStatusIf(ctx, id, StatusPending, StatusCancelled, StatusStamp{})
	if err != nil {
		return Payout{}, err
	}
	if !ok {
		return Payout{}, fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, row.Status)
	}
	row.Status = StatusCancelled
	return row, nil
}

func (p *Processor) fail(ctx context.Context, id uuid.UUID, reason string) (Payout, error) {
	if _, err := p.Store.UpdateStatusIf(ctx, id, StatusProcessing, StatusFailed, StatusStamp{FailureReason: reason}); err != nil {
		return Payout{}, err
	}
	row, err := p.Store.Get(ctx, id)
	if err != nil {
		return Payout{}, err
	}
	return row, fmt.Errorf("payout: transfer failed: %s", reason)
}

func (p *Processor) countTransfer(result string) {
	if obs.PayoutTransferTotal != nil {
		obs.PayoutTransferTotal.WithLabelValues(result).Inc()
	}
}

func (p *Processor) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (p *Processor) log() *zerolog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	nop := zerolog.Nop()
	return &nop
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
