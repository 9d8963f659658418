package payments

import (
	"context"

	sq "github.com/square/square-go-sdk"

	"github.com/angelmondragon/escrow-backend/pkg/square"
)

type squareAPI interface {
	CompletePayment(ctx context.Context, paymentID, logicalKey string) (*sq.Payment, error)
	RefundPayment(ctx context.Context, params square.RefundParams) (*sq.PaymentRefund, error)
}

// SquareGateway captures authorized Square payments and refunds them.
type SquareGateway struct {
	api squareAPI
}

func NewSquareGateway(api squareAPI) *SquareGateway {
	return &SquareGateway{api: api}
}

func (g *SquareGateway) Capture(ctx context.Context, req CaptureRequest) (Result, error) {
	payment, err := g.api.CompletePayment(ctx, req.PaymentRef, req.IdempotencyKey)
	if err != nil {
		return Result{}, err
	}
	ref := req.PaymentRef
	if id := payment.GetID(); id != nil && *id != "" {
		ref = *id
	}
	return Result{Reference: ref}, nil
}

func (g *SquareGateway) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	refund, err := g.api.RefundPayment(ctx, square.RefundParams{
		PaymentID:      req.PaymentRef,
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Reference: refund.GetID()}, nil
}
