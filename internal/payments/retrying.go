package payments

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/escrow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/escrow-backend/pkg/errors"
	"github.com/angelmondragon/escrow-backend/pkg/logger"
	"github.com/angelmondragon/escrow-backend/pkg/metrics"
	"github.com/angelmondragon/escrow-backend/pkg/square"
)

const (
	opCapture = "capture"
	opRefund  = "refund"

	outcomeSuccess   = "success"
	outcomeTransient = "transient_failure"
	outcomePermanent = "permanent_failure"
)

// RetryingGateway retries transient failures of the wrapped gateway with
// jittered exponential backoff. The idempotency key is reused on every attempt
// so a retry never causes a second capture or refund.
type RetryingGateway struct {
	next        Gateway
	maxRetries  uint64
	base        time.Duration
	maxBackoff  time.Duration
	isTransient func(error) bool
	metrics     *metrics.GatewayMetrics
	logg        *logger.Logger
}

type RetryingGatewayParams struct {
	Next    Gateway
	Config  config.GatewayConfig
	Metrics *metrics.GatewayMetrics
	Logger  *logger.Logger
	// IsTransient defaults to square.IsTransient.
	IsTransient func(error) bool
}

func NewRetryingGateway(params RetryingGatewayParams) (*RetryingGateway, error) {
	if params.Next == nil {
		return nil, errors.New("gateway is required")
	}
	base := params.Config.InitialBackoff()
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	maxBackoff := params.Config.MaxBackoff()
	if maxBackoff < base {
		maxBackoff = base
	}
	isTransient := params.IsTransient
	if isTransient == nil {
		isTransient = square.IsTransient
	}
	return &RetryingGateway{
		next:        params.Next,
		maxRetries:  params.Config.MaxRetries,
		base:        base,
		maxBackoff:  maxBackoff,
		isTransient: isTransient,
		metrics:     params.Metrics,
		logg:        params.Logger,
	}, nil
}

func (g *RetryingGateway) Capture(ctx context.Context, req CaptureRequest) (Result, error) {
	return g.do(ctx, opCapture, req.IdempotencyKey, func(ctx context.Context) (Result, error) {
		return g.next.Capture(ctx, req)
	})
}

func (g *RetryingGateway) Refund(ctx context.Context, req RefundRequest) (Result, error) {
	return g.do(ctx, opRefund, req.IdempotencyKey, func(ctx context.Context) (Result, error) {
		return g.next.Refund(ctx, req)
	})
}

func (g *RetryingGateway) do(ctx context.Context, op, key string, call func(context.Context) (Result, error)) (Result, error) {
	if key == "" {
		return Result{}, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	started := time.Now()

	backoff := retry.NewExponential(g.base)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithCappedDuration(g.maxBackoff, backoff)
	backoff = retry.WithMaxRetries(g.maxRetries, backoff)

	var (
		result  Result
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		g.metrics.IncAttempt(op)
		res, err := call(ctx)
		if err == nil {
			result = res
			return nil
		}
		if g.isTransient(err) {
			g.warn(ctx, op, key, attempt, err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		g.metrics.ObserveCall(op, outcomeSuccess, time.Since(started))
		return result, nil
	}

	transient := g.isTransient(err) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if transient {
		g.metrics.ObserveCall(op, outcomeTransient, time.Since(started))
	} else {
		g.metrics.ObserveCall(op, outcomePermanent, time.Since(started))
	}
	return Result{}, asGatewayError(err, op, transient, attempt)
}

func (g *RetryingGateway) warn(ctx context.Context, op, key string, attempt int, err error) {
	if g.logg == nil {
		return
	}
	ctx = g.logg.WithFields(ctx, map[string]any{
		"operation":       op,
		"idempotency_key": key,
		"attempt":         attempt,
		"error":           err.Error(),
	})
	g.logg.Warn(ctx, "gateway call failed, retrying")
}

// asGatewayError keeps provider details when err already is a gateway error
// and passes through typed errors that describe the request rather than the
// provider, such as validation failures. Everything else becomes GATEWAY_ERROR.
func asGatewayError(err error, op string, transient bool, attempts int) error {
	if typed := pkgerrors.As(err); typed != nil {
		if code := typed.Code(); code != pkgerrors.CodeDependency && code != pkgerrors.CodeInternal {
			return typed
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "payment gateway "+op+" failed").
		WithDetails(map[string]any{"transient": transient, "attempts": attempts})
}
