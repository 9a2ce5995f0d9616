package payment

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pasar/internal/money"
)

// SandboxGateway simulates the upstream processor in memory. It is the
// default Gateway in development: holds are tracked per reference and the
// instrument token steers the outcome, so declines and captures can be
// exercised end to end without a provider account.
//
// Tokens prefixed "tok_declined" are declined at authorization.
type SandboxGateway struct {
	mu      sync.Mutex
	charges map[string]GatewayState
}

// NewSandboxGateway returns an empty sandbox.
func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{charges: make(map[string]GatewayState)}
}

// Authorize places a simulated hold.
func (g *SandboxGateway) Authorize(ctx context.Context, amount money.Money, instrument Instrument) (GatewayResult, error) {
	if err := ctx.Err(); err != nil {
		return GatewayResult{}, err
	}
	ref := "sbx_" + uuid.NewString()
	if strings.HasPrefix(instrument.Token, "tok_declined") {
		return GatewayResult{Reference: ref, State: GatewayDeclined}, nil
	}
	g.mu.Lock()
	g.charges[ref] = GatewayRequiresCapture
	g.mu.Unlock()

	res := GatewayResult{Reference: ref, State: GatewayRequiresCapture}
	if instrument.Reusable {
		res.InstrumentToken = "vault_" + uuid.NewString()
	}
	return res, nil
}

// Capture settles a held charge.
func (g *SandboxGateway) Capture(ctx context.Context, reference string) (GatewayResult, error) {
	if err := ctx.Err(); err != nil {
		return GatewayResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.charges[reference]
	if !ok {
		return GatewayResult{}, errors.New("sandbox: unknown reference")
	}
	if state == GatewayCaptured {
		return GatewayResult{Reference: reference, State: GatewayCaptured}, nil
	}
	if state != GatewayRequiresCapture {
		return GatewayResult{}, errors.New("sandbox: charge not capturable")
	}
	g.charges[reference] = GatewayCaptured
	return GatewayResult{Reference: reference, State: GatewayCaptured}, nil
}

// Cancel releases a held charge.
func (g *SandboxGateway) Cancel(ctx context.Context, reference string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.charges[reference]
	if !ok {
		return errors.New("sandbox: unknown reference")
	}
	if state == GatewayCaptured {
		return errors.New("sandbox: charge already captured")
	}
	g.charges[reference] = GatewayCanceled
	return nil
}

// Status reports the provider-side state of a charge.
func (g *SandboxGateway) Status(ctx context.Context, reference string) (GatewayResult, error) {
	if err := ctx.Err(); err != nil {
		return GatewayResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	state, ok := g.charges[reference]
	if !ok {
		return GatewayResult{Reference: reference, State: GatewayDeclined}, nil
	}
	return GatewayResult{Reference: reference, State: state}, nil
}
