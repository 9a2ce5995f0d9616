package payment

import (
	"context"

	"github.com/noah-isme/backend-pasar/internal/money"
)

// GatewayState is the provider-side view of a charge.
type GatewayState string

const (
	// GatewayRequiresCapture means funds are held and awaiting capture.
	GatewayRequiresCapture GatewayState = "requires_capture"
	GatewayCaptured        GatewayState = "captured"
	GatewayCanceled        GatewayState = "canceled"
	GatewayDeclined        GatewayState = "declined"
)

// Instrument is an opaque payment method handle supplied by the buyer.
type Instrument struct {
	Token    string
	Reusable bool
}

// GatewayResult is the normalized outcome of a gateway call.
type GatewayResult struct {
	Reference string
	State     GatewayState
	// InstrumentToken is a vault token issued by the gateway, present only
	// when the instrument was marked reusable.
	InstrumentToken string
}

// Gateway abstracts the upstream payment processor. All calls are outbound
// network operations and must be invoked with a bounded context.
type Gateway interface {
	Authorize(ctx context.Context, amount money.Money, instrument Instrument) (GatewayResult, error)
	Capture(ctx context.Context, reference string) (GatewayResult, error)
	Cancel(ctx context.Context, reference string) error
	// Status retrieves the current provider-side state by reference; used for
	// the idempotency check before re-authorizing.
	Status(ctx context.Context, reference string) (GatewayResult, error)
}
