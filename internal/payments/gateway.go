// Package payments is the escrow engine's view of the payment provider: a
// capture and a refund call, each carrying an idempotency key derived from the
// purchase or return it belongs to.
package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type CaptureRequest struct {
	PaymentRef     string
	AmountCents    int64
	Currency       string
	IdempotencyKey string
}

type RefundRequest struct {
	PaymentRef     string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// Result carries the opaque provider reference of a successful call.
type Result struct {
	Reference string
}

// Gateway is implemented by provider adapters and by RetryingGateway.
type Gateway interface {
	Capture(ctx context.Context, req CaptureRequest) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
}

func CaptureKey(purchaseID uuid.UUID) string {
	return fmt.Sprintf("purchase:%s:capture", purchaseID)
}

func CancelRefundKey(purchaseID uuid.UUID) string {
	return fmt.Sprintf("purchase:%s:cancel-refund", purchaseID)
}

func AdminRefundKey(purchaseID uuid.UUID) string {
	return fmt.Sprintf("purchase:%s:admin-refund", purchaseID)
}

func ReturnRefundKey(returnID uuid.UUID) string {
	return fmt.Sprintf("return:%s:refund", returnID)
}
