package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/obs"
)

var (
	// ErrNotFound is returned when no authorization exists for an order.
	ErrNotFound = errors.New("payment: authorization not found")
	// ErrDeclined is returned when the gateway declines an authorization.
	ErrDeclined = errors.New("payment: authorization declined")
	// ErrAmountMismatch is a consistency failure: the authorized amount does
	// not equal the persisted order total. Capture must abort.
	ErrAmountMismatch = errors.New("payment: capture amount does not match persisted order total")
	// ErrInvalidTransition is returned for a state-machine violation.
	ErrInvalidTransition = errors.New("payment: invalid authorization status transition")
	// ErrGatewayUnavailable marks a retryable gateway failure. The
	// authorization keeps its current status.
	ErrGatewayUnavailable = errors.New("payment: gateway unavailable")
)

// Store persists authorizations. Status transitions are conditional on the
// current status so duplicate attempts cannot double-transition a record.
type Store interface {
	LatestByOrder(ctx context.Context, orderID uuid.UUID) (Authorization, error)
	Create(ctx context.Context, auth Authorization) (Authorization, error)
	TransitionIf(ctx context.Context, id uuid.UUID, from, to Status, gatewayRef string) (bool, error)
	// ListStranded returns non-terminal Authorized records older than the
	// cutoff, for the reconciliation sweep.
	ListStranded(ctx context.Context, olderThan time.Time) ([]Authorization, error)
}

// InstrumentVault persists reusable instrument tokens. Tokens are stored only
// after a successful capture, never for declined or canceled attempts.
type InstrumentVault interface {
	SaveToken(ctx context.Context, orderID uuid.UUID, token string) error
}

// OrderChecker answers whether an order record was durably created and what
// total it was persisted with; the reconciliation sweep uses it to decide
// between capture and cancel, and captures only against the persisted total.
type OrderChecker interface {
	OrderExists(ctx context.Context, orderID uuid.UUID) (bool, error)
	TotalForOrder(ctx context.Context, orderID uuid.UUID) (money.Money, error)
}

// Service drives the authorize-then-capture protocol.
type Service struct {
	Store   Store
	Gateway Gateway
	Vault   InstrumentVault
	Orders  OrderChecker
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// Authorize places a hold for the order amount. It is idempotent under
// double submit: if an authorization already exists for the order, the
// gateway is queried for its current state first, and an existing hold or
// capture is returned as-is rather than charged again.
func (s *Service) Authorize(ctx context.Context, orderID uuid.UUID, amount money.Money, instrument Instrument) (Authorization, error) {
	if s.Store == nil || s.Gateway == nil {
		return Authorization{}, errors.New("payment: service not configured")
	}
	ctx, span := otel.Tracer("payment.Service").Start(ctx, "PaymentService.Authorize")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID.String()))

	result := "error"
	defer func() {
		if obs.PaymentAuthTotal != nil {
			obs.PaymentAuthTotal.WithLabelValues(result).Inc()
		}
	}()

	existing, err := s.Store.LatestByOrder(ctx, orderID)
	switch {
	case err == nil && !statusAllowsNewAttempt(existing.Status):
		gctx, cancel := s.bound(ctx)
		state, gerr := s.Gateway.Status(gctx, existing.GatewayReference)
		cancel()
		if gerr != nil {
			return Authorization{}, fmt.Errorf("%w: status check: %v", ErrGatewayUnavailable, gerr)
		}
		if state.State == GatewayCaptured || state.State == GatewayRequiresCapture {
			result = "reused"
			return existing, nil
		}
		// The gateway no longer holds the funds; retire the stale row so
		// the reconciliation sweep stops re-reporting it.
		if existing.Status == StatusAuthorized {
			if _, terr := s.Store.TransitionIf(ctx, existing.ID, StatusAuthorized, StatusCanceled, existing.GatewayReference); terr != nil {
				return Authorization{}, terr
			}
		}
	case err != nil && !errors.Is(err, ErrNotFound):
		return Authorization{}, err
	}

	created, err := s.Store.Create(ctx, Authorization{
		ID:      uuid.New(),
		OrderID: orderID,
		Amount:  amount,
		Status:  StatusCreated,
	})
	if err != nil {
		return Authorization{}, err
	}

	gctx, cancel := s.bound(ctx)
	gres, gerr := s.Gateway.Authorize(gctx, amount, instrument)
	cancel()
	if gerr != nil {
		span.RecordError(gerr)
		return Authorization{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, gerr)
	}
	if gres.State == GatewayDeclined {
		if _, terr := s.Store.TransitionIf(ctx, created.ID, StatusCreated, StatusFailed, gres.Reference); terr != nil {
			return Authorization{}, terr
		}
		result = "declined"
		created.Status = StatusFailed
		created.GatewayReference = gres.Reference
		return created, ErrDeclined
	}

	ok, err := s.Store.TransitionIf(ctx, created.ID, StatusCreated, StatusAuthorized, gres.Reference)
	if err != nil {
		return Authorization{}, err
	}
	if !ok {
		return Authorization{}, ErrInvalidTransition
	}
	result = "authorized"
	created.Status = StatusAuthorized
	created.GatewayReference = gres.Reference
	return created, nil
}

// Capture takes the held funds. It is only called after the order record has
// been durably persisted. Before touching the gateway it verifies the
// authorized amount equals the persisted order total; a mismatch aborts with
// a consistency error and nothing moves. A gateway error leaves the
// authorization Authorized so capture can be retried.
func (s *Service) Capture(ctx context.Context, orderID uuid.UUID, persistedTotal money.Money) (Authorization, error) {
	result := "error"
	defer func() {
		if obs.PaymentCaptureTotal != nil {
			obs.PaymentCaptureTotal.WithLabelValues(result).Inc()
		}
	}()

	auth, err := s.Store.LatestByOrder(ctx, orderID)
	if err != nil {
		return Authorization{}, err
	}
	if auth.Status == StatusCaptured {
		result = "reused"
		return auth, nil
	}
	if auth.Status != StatusAuthorized {
		return Authorization{}, fmt.Errorf("%w: capture from %s", ErrInvalidTransition, auth.Status)
	}
	if !auth.Amount.Equal(persistedTotal) {
		result = "mismatch"
		s.log().Error().
			Str("order_id", orderID.String()).
			Str("authorized", auth.Amount.String()).
			Str("persisted", persistedTotal.String()).
			Msg("capture amount mismatch")
		return Authorization{}, fmt.Errorf("%w: authorized %s, persisted %s", ErrAmountMismatch, auth.Amount, persistedTotal)
	}

	gctx, cancel := s.bound(ctx)
	gres, gerr := s.Gateway.Capture(gctx, auth.GatewayReference)
	cancel()
	if gerr != nil {
		// Funds stay held; the caller or the reconciliation sweep retries.
		return auth, fmt.Errorf("%w: capture: %v", ErrGatewayUnavailable, gerr)
	}

	ok, err := s.Store.TransitionIf(ctx, auth.ID, StatusAuthorized, StatusCaptured, auth.GatewayReference)
	if err != nil {
		return Authorization{}, err
	}
	if !ok {
		// A concurrent attempt won the transition; report the stored state.
		result = "reused"
		return s.Store.LatestByOrder(ctx, orderID)
	}
	result = "captured"
	auth.Status = StatusCaptured

	if s.Vault != nil && gres.InstrumentToken != "" {
		if verr := s.Vault.SaveToken(ctx, orderID, gres.InstrumentToken); verr != nil {
			s.log().Warn().Err(verr).Str("order_id", orderID.String()).Msg("persist instrument token")
		}
	}
	return auth, nil
}

// CancelHold releases an Authorized hold when checkout is abandoned. The
// gateway would otherwise keep the funds reserved for days.
func (s *Service) CancelHold(ctx context.Context, orderID uuid.UUID) error {
	result := "error"
	defer func() {
		if obs.PaymentCaptureTotal != nil {
			obs.PaymentCaptureTotal.WithLabelValues(result).Inc()
		}
	}()

	auth, err := s.Store.LatestByOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if auth.Status != StatusAuthorized {
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, auth.Status)
	}
	gctx, cancel := s.bound(ctx)
	gerr := s.Gateway.Cancel(gctx, auth.GatewayReference)
	cancel()
	if gerr != nil {
		return fmt.Errorf("%w: cancel: %v", ErrGatewayUnavailable, gerr)
	}
	if _, err := s.Store.TransitionIf(ctx, auth.ID, StatusAuthorized, StatusCanceled, auth.GatewayReference); err != nil {
		return err
	}
	result = "canceled"
	return nil
}

// ReconcileSummary reports the outcome of a reconciliation sweep.
type ReconcileSummary struct {
	Captured []uuid.UUID
	Canceled []uuid.UUID
	Failed   []uuid.UUID
}

// Reconcile sweeps authorizations stranded Authorized (persistence failed
// after authorize but before capture, or a crash between the two). Holds
// whose order exists are captured; orphaned holds are canceled. Failures are
// isolated per authorization and the sweep continues.
func (s *Service) Reconcile(ctx context.Context, olderThan time.Time) (ReconcileSummary, error) {
	if s.Orders == nil {
		return ReconcileSummary{}, errors.New("payment: order checker not configured")
	}
	stranded, err := s.Store.ListStranded(ctx, olderThan)
	if err != nil {
		return ReconcileSummary{}, err
	}
	var summary ReconcileSummary
	for _, auth := range stranded {
		exists, cerr := s.Orders.OrderExists(ctx, auth.OrderID)
		if cerr != nil {
			summary.Failed = append(summary.Failed, auth.ID)
			continue
		}
		if exists {
			// Capture against the persisted total, never the hold's own
			// amount; a drifted record must abort, not move money.
			total, terr := s.Orders.TotalForOrder(ctx, auth.OrderID)
			if terr != nil {
				summary.Failed = append(summary.Failed, auth.ID)
				continue
			}
			if _, cerr = s.Capture(ctx, auth.OrderID, total); cerr != nil {
				summary.Failed = append(summary.Failed, auth.ID)
				continue
			}
			summary.Captured = append(summary.Captured, auth.ID)
		} else {
			if cerr = s.CancelHold(ctx, auth.OrderID); cerr != nil {
				summary.Failed = append(summary.Failed, auth.ID)
				continue
			}
			summary.Canceled = append(summary.Canceled, auth.ID)
		}
	}
	return summary, nil
}

func statusAllowsNewAttempt(s Status) bool {
	return s == StatusFailed || s == StatusCanceled
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

func (s *Service) log() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
