package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pasar/internal/money"
)

// Status is the lifecycle state of a payment authorization.
type Status string

const (
	StatusCreated    Status = "CREATED"
	StatusAuthorized Status = "AUTHORIZED"
	StatusCaptured   Status = "CAPTURED"
	StatusCanceled   Status = "CANCELED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCaptured, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// AllowedTransition encodes the authorize-then-capture state machine:
//
//	Created --authorize--> Authorized --capture--> Captured
//	Created --authorize(declined)--> Failed
//	Authorized --cancel--> Canceled
//
// A gateway error during capture is not a transition; the authorization
// stays Authorized and the capture may be retried.
func AllowedTransition(current, next Status) bool {
	switch current {
	case StatusCreated:
		return next == StatusAuthorized || next == StatusFailed
	case StatusAuthorized:
		return next == StatusCaptured || next == StatusCanceled
	default:
		return false
	}
}

// Authorization wraps a gateway hold on the buyer's funds for one order.
type Authorization struct {
	ID               uuid.UUID   `json:"id"`
	OrderID          uuid.UUID   `json:"orderId"`
	Amount           money.Money `json:"amount"`
	Status           Status      `json:"status"`
	GatewayReference string      `json:"gatewayReference"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}
