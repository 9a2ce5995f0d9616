package payment_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pasar/internal/money"
	"github.com/noah-isme/backend-pasar/internal/payment"
)

type memStore struct {
	mu    sync.Mutex
	auths map[uuid.UUID]payment.Authorization
}

func newMemStore() *memStore {
	return &memStore{auths: make(map[uuid.UUID]payment.Authorization)}
}

func (m *memStore) LatestByOrder(ctx context.Context, orderID uuid.UUID) (payment.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest payment.Authorization
	found := false
	for _, a := range m.auths {
		if a.OrderID != orderID {
			continue
		}
		if !found || a.CreatedAt.After(latest.CreatedAt) {
			latest = a
			found = true
		}
	}
	if !found {
		return payment.Authorization{}, payment.ErrNotFound
	}
	return latest, nil
}

func (m *memStore) Create(ctx context.Context, auth payment.Authorization) (payment.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	auth.CreatedAt = time.Now()
	m.auths[auth.ID] = auth
	return auth, nil
}

func (m *memStore) TransitionIf(ctx context.Context, id uuid.UUID, from, to payment.Status, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auths[id]
	if !ok || a.Status != from {
		return false, nil
	}
	if !payment.AllowedTransition(from, to) {
		return false, nil
	}
	a.Status = to
	a.GatewayReference = ref
	a.UpdatedAt = time.Now()
	m.auths[id] = a
	return true, nil
}

func (m *memStore) ListStranded(ctx context.Context, olderThan time.Time) ([]payment.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payment.Authorization
	for _, a := range m.auths {
		if a.Status == payment.StatusAuthorized && a.CreatedAt.Before(olderThan) {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeGateway struct {
	mu          sync.Mutex
	authorized  map[string]payment.GatewayState
	authorizeN  int
	captureN    int
	captureErr  error
	decline     bool
	vaultToken  string
	lastCapture string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{authorized: make(map[string]payment.GatewayState)}
}

func (g *fakeGateway) Authorize(ctx context.Context, amount money.Money, instrument payment.Instrument) (payment.GatewayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorizeN++
	ref := uuid.NewString()
	if g.decline {
		return payment.GatewayResult{Reference: ref, State: payment.GatewayDeclined}, nil
	}
	g.authorized[ref] = payment.GatewayRequiresCapture
	return payment.GatewayResult{Reference: ref, State: payment.GatewayRequiresCapture}, nil
}

func (g *fakeGateway) Capture(ctx context.Context, reference string) (payment.GatewayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captureN++
	if g.captureErr != nil {
		return payment.GatewayResult{}, g.captureErr
	}
	g.authorized[reference] = payment.GatewayCaptured
	g.lastCapture = reference
	return payment.GatewayResult{Reference: reference, State: payment.GatewayCaptured, InstrumentToken: g.vaultToken}, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, reference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorized[reference] = payment.GatewayCanceled
	return nil
}

func (g *fakeGateway) Status(ctx context.Context, reference string) (payment.GatewayResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.authorized[reference]
	if !ok {
		state = payment.GatewayDeclined
	}
	return payment.GatewayResult{Reference: reference, State: state}, nil
}

type memVault struct {
	mu     sync.Mutex
	tokens map[uuid.UUID]string
}

func (v *memVault) SaveToken(ctx context.Context, orderID uuid.UUID, token string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.tokens == nil {
		v.tokens = make(map[uuid.UUID]string)
	}
	v.tokens[orderID] = token
	return nil
}

type orderChecker map[uuid.UUID]money.Money

func (o orderChecker) OrderExists(ctx context.Context, orderID uuid.UUID) (bool, error) {
	_, ok := o[orderID]
	return ok, nil
}

func (o orderChecker) TotalForOrder(ctx context.Context, orderID uuid.UUID) (money.Money, error) {
	total, ok := o[orderID]
	if !ok {
		return money.Money{}, errors.New("order not found")
	}
	return total, nil
}

func usd(v string) money.Money { return money.MustParse(v, "USD") }

func TestAuthorizeIdempotentUnderDoubleSubmit(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	svc := &payment.Service{Store: store, Gateway: gw}
	orderID := uuid.New()
	instrument := payment.Instrument{Token: "tok_visa"}

	first, err := svc.Authorize(context.Background(), orderID, usd("662.97"), instrument)
	if err != nil {
		t.Fatalf("first authorize: %v", err)
	}
	second, err := svc.Authorize(context.Background(), orderID, usd("662.97"), instrument)
	if err != nil {
		t.Fatalf("second authorize: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("double submit created a second authorization")
	}
	if gw.authorizeN != 1 {
		t.Fatalf("gateway charged %d times, want 1", gw.authorizeN)
	}
}

func TestAuthorizeDeclinedIsTerminal(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	gw.decline = true
	svc := &payment.Service{Store: store, Gateway: gw}
	orderID := uuid.New()

	auth, err := svc.Authorize(context.Background(), orderID, usd("10.00"), payment.Instrument{})
	if !errors.Is(err, payment.ErrDeclined) {
		t.Fatalf("expected ErrDeclined, got %v", err)
	}
	if auth.Status != payment.StatusFailed {
		t.Fatalf("status: got %s want FAILED", auth.Status)
	}

	// A fresh attempt after a decline is allowed and hits the gateway again.
	gw.decline = false
	if _, err := svc.Authorize(context.Background(), orderID, usd("10.00"), payment.Instrument{}); err != nil {
		t.Fatalf("retry after decline: %v", err)
	}
	if gw.authorizeN != 2 {
		t.Fatalf("gateway calls: got %d want 2", gw.authorizeN)
	}
}

func TestCaptureAmountMismatchAborts(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	svc := &payment.Service{Store: store, Gateway: gw}
	orderID := uuid.New()

	if _, err := svc.Authorize(context.Background(), orderID, usd("100.00"), payment.Instrument{}); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	_, err := svc.Capture(context.Background(), orderID, usd("99.99"))
	if !errors.Is(err, payment.ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if gw.captureN != 0 {
		t.Fatal("gateway capture must not be attempted on mismatch")
	}
}

func TestCaptureGatewayErrorLeavesAuthorized(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	svc := &payment.Service{Store: store, Gateway: gw}
	orderID := uuid.New()

	if _, err := svc.Authorize(context.Background(), orderID, usd("100.00"), payment.Instrument{}); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	gw.captureErr = errors.New("gateway 502")
	if _, err := svc.Capture(context.Background(), orderID, usd("100.00")); !errors.Is(err, payment.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	auth, err := store.LatestByOrder(context.Background(), orderID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if auth.Status != payment.StatusAuthorized {
		t.Fatalf("status after gateway error: got %s want AUTHORIZED", auth.Status)
	}

	// Retry succeeds and captures exactly once.
	gw.captureErr = nil
	captured, err := svc.Capture(context.Background(), orderID, usd("100.00"))
	if err != nil {
		t.Fatalf("retry capture: %v", err)
	}
	if captured.Status != payment.StatusCaptured {
		t.Fatalf("status: got %s want CAPTURED", captured.Status)
	}
}

func TestCaptureIsIdempotent(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	svc := &payment.Service{Store: store, Gateway: gw}
	orderID := uuid.New()

	if _, err := svc.Authorize(context.Background(), orderID, usd("50.00"), payment.Instrument{}); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := svc.Capture(context.Background(), orderID, usd("50.00")); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, err := svc.Capture(context.Background(), orderID, usd("50.00")); err != nil {
		t.Fatalf("second capture: %v", err)
	}
	if gw.captureN != 1 {
		t.Fatalf("gateway captured %d times, want 1", gw.captureN)
	}
}

func TestInstrumentTokenPersistedOnlyAfterCapture(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	gw.vaultToken = "vault_token_1"
	vault := &memVault{}
	svc := &payment.Service{Store: store, Gateway: gw, Vault: vault}
	orderID := uuid.New()

	if _, err := svc.Authorize(context.Background(), orderID, usd("50.00"), payment.Instrument{Reusable: true}); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if len(vault.tokens) != 0 {
		t.Fatal("token persisted before capture")
	}
	if _, err := svc.Capture(context.Background(), orderID, usd("50.00")); err != nil {
		t.Fatalf("capture: %v", err)
	}
	if vault.tokens[orderID] != "vault_token_1" {
		t.Fatalf("token not persisted after capture: %+v", vault.tokens)
	}
}

func TestCancelHoldOnAbandonedCheckout(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	svc := &payment.Service{Store: store, Gateway: gw}
	orderID := uuid.New()

	auth, err := svc.Authorize(context.Background(), orderID, usd("75.00"), payment.Instrument{})
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := svc.CancelHold(context.Background(), orderID); err != nil {
		t.Fatalf("cancel hold: %v", err)
	}
	updated, _ := store.LatestByOrder(context.Background(), orderID)
	if updated.Status != payment.StatusCanceled {
		t.Fatalf("status: got %s want CANCELED", updated.Status)
	}
	if gw.authorized[auth.GatewayReference] != payment.GatewayCanceled {
		t.Fatal("gateway hold not released")
	}
}

func TestReconcileCapturesOrCancelsStrandedHolds(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	withOrder := uuid.New()
	orphaned := uuid.New()
	checker := orderChecker{withOrder: usd("20.00")}
	svc := &payment.Service{Store: store, Gateway: gw, Orders: checker}

	if _, err := svc.Authorize(context.Background(), withOrder, usd("20.00"), payment.Instrument{}); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if _, err := svc.Authorize(context.Background(), orphaned, usd("30.00"), payment.Instrument{}); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	summary, err := svc.Reconcile(context.Background(), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(summary.Captured) != 1 || len(summary.Canceled) != 1 || len(summary.Failed) != 0 {
		t.Fatalf("summary: %+v", summary)
	}
	a, _ := store.LatestByOrder(context.Background(), withOrder)
	if a.Status != payment.StatusCaptured {
		t.Fatalf("order-backed hold: got %s want CAPTURED", a.Status)
	}
	b, _ := store.LatestByOrder(context.Background(), orphaned)
	if b.Status != payment.StatusCanceled {
		t.Fatalf("orphaned hold: got %s want CANCELED", b.Status)
	}
}

func TestReconcileCapturesAgainstPersistedTotal(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	orderID := uuid.New()
	// The order row exists but its persisted total drifted from the hold.
	checker := orderChecker{orderID: usd("90.00")}
	svc := &payment.Service{Store: store, Gateway: gw, Orders: checker}

	if _, err := svc.Authorize(context.Background(), orderID, usd("100.00"), payment.Instrument{}); err != nil {
		t.Fatalf("authorize: %v", err)
	}

	summary, err := svc.Reconcile(context.Background(), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(summary.Captured) != 0 || len(summary.Failed) != 1 {
		t.Fatalf("summary: %+v", summary)
	}
	if gw.captureN != 0 {
		t.Fatal("gateway capture must not be attempted on a drifted record")
	}
	a, _ := store.LatestByOrder(context.Background(), orderID)
	if a.Status != payment.StatusAuthorized {
		t.Fatalf("drifted hold: got %s want AUTHORIZED", a.Status)
	}
}

func TestAuthorizeRetiresHoldDeadAtGateway(t *testing.T) {
	store := newMemStore()
	gw := newFakeGateway()
	svc := &payment.Service{Store: store, Gateway: gw}
	orderID := uuid.New()

	first, err := svc.Authorize(context.Background(), orderID, usd("45.00"), payment.Instrument{})
	if err != nil {
		t.Fatalf("first authorize: %v", err)
	}
	// The gateway expired the hold out of band.
	gw.mu.Lock()
	gw.authorized[first.GatewayReference] = payment.GatewayCanceled
	gw.mu.Unlock()

	second, err := svc.Authorize(context.Background(), orderID, usd("45.00"), payment.Instrument{})
	if err != nil {
		t.Fatalf("second authorize: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("dead hold must not be reused")
	}
	store.mu.Lock()
	retired := store.auths[first.ID]
	store.mu.Unlock()
	if retired.Status != payment.StatusCanceled {
		t.Fatalf("superseded row: got %s want CANCELED", retired.Status)
	}

	stranded, _ := store.ListStranded(context.Background(), time.Now().Add(time.Minute))
	for _, a := range stranded {
		if a.ID == first.ID {
			t.Fatal("retired hold still reported as stranded")
		}
	}
}
