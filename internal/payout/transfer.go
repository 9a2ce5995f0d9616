package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-pasar/internal/money"
)

// SandboxTransfer simulates a bank transfer provider. Destinations prefixed
// "fail_" are rejected, so failure stamping can be exercised without a
// provider account. It is the default TransferProvider in development.
type SandboxTransfer struct{}

// Transfer returns a synthetic receipt.
func (SandboxTransfer) Transfer(ctx context.Context, amount money.Money, destination string) (TransferReceipt, error) {
	if err := ctx.Err(); err != nil {
		return TransferReceipt{}, err
	}
	if amount.IsZero() || amount.IsNegative() {
		return TransferReceipt{}, errors.New("transfer: amount must be positive")
	}
	if strings.HasPrefix(destination, "fail_") {
		return TransferReceipt{}, fmt.Errorf("transfer: destination %s rejected", destination)
	}
	return TransferReceipt{Reference: "trf_" + uuid.NewString()}, nil
}
