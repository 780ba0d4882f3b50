package quote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"swap-relay/internal/domain"
	"swap-relay/internal/observability"
)

// Defaults of the retry policy.
const (
	DefaultRetryAttempts = 10
	DefaultRetryDelay    = time.Second
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	Provider      Provider
	RetryAttempts int           // total provider calls per computation
	RetryDelay    time.Duration // fixed wait between calls

	// Issued, when set, remembers every produced message.
	Issued *IssuedRegistry
	// Recorder, when set, receives one event per computation.
	Recorder *EventRecorder

	Logger *zap.Logger
	Now    func() time.Time
}

// Engine turns an ActiveSwapRequest into a SwapArtifact, retrying transient
// provider failures. It holds no per-request state.
type Engine struct {
	provider Provider
	attempts int
	delay    time.Duration
	issued   *IssuedRegistry
	recorder *EventRecorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		provider: opts.Provider,
		attempts: opts.RetryAttempts,
		delay:    opts.RetryDelay,
		issued:   opts.Issued,
		recorder: opts.Recorder,
		logger:   opts.Logger.Named("engine"),
		now:      opts.Now,
	}
}

// Compute produces a fresh artifact for req.
//
// Validation errors surface immediately. Other provider errors are retried
// up to RetryAttempts calls with RetryDelay between them, after which
// domain.ErrQuoteUnavailable is returned. Context cancellation aborts the
// retry wait and returns the context error.
func (e *Engine) Compute(ctx context.Context, req domain.ActiveSwapRequest) (*domain.SwapArtifact, error) {
	start := e.now()

	route, attempts, err := e.routeWithRetry(ctx, req)
	latency := e.now().Sub(start)

	var artifact *domain.SwapArtifact
	if err == nil {
		artifact = &domain.SwapArtifact{
			Request:           req,
			TransactionBase64: route.TransactionBase64,
			HasFee:            route.FeeEmbedded,
			FeeAmount:         route.FeeAmount,
			AmountOut:         route.AmountOut,
			MinAmountOut:      route.MinAmountOut,
			ComputedAt:        e.now().UnixMilli(),
		}
		if artifact.MinAmountOut == 0 {
			artifact.MinAmountOut = MinAmountOut(route.AmountOut, req.Intent.EffectiveSlippageBps())
		}
		if e.issued != nil {
			if rerr := e.issued.Register(artifact); rerr != nil {
				err = fmt.Errorf("register issued message: %w", rerr)
				artifact = nil
			}
		}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	observability.RecordCompute(domain.ErrorCode(err), latency.Seconds())
	e.record(req, artifact, attempts, latency, err)

	if err != nil {
		return nil, err
	}
	return artifact, nil
}

func (e *Engine) routeWithRetry(ctx context.Context, req domain.ActiveSwapRequest) (*Route, int, error) {
	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, err
		}

		observability.RecordQuoteAttempt()
		route, err := e.provider.GetRoute(ctx, req)
		if err == nil {
			if route == nil || route.TransactionBase64 == "" {
				err = fmt.Errorf("provider returned empty route")
			} else {
				return route, attempt, nil
			}
		}

		if domain.IsValidation(err) {
			return nil, attempt, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, attempt, ctxErr
		}

		lastErr = err
		e.logger.Debug("route attempt failed",
			zap.String("owner", req.Owner),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.attempts),
			zap.Error(err),
		)

		if attempt == e.attempts {
			break
		}
		if err := sleep(ctx, e.delay); err != nil {
			return nil, attempt, err
		}
	}

	e.logger.Warn("quote unavailable",
		zap.String("owner", req.Owner),
		zap.String("sell_mint", req.Intent.SellMint),
		zap.String("buy_mint", req.Intent.BuyMint),
		zap.Int("attempts", e.attempts),
		zap.Error(lastErr),
	)
	return nil, e.attempts, fmt.Errorf("%w after %d attempts: %v", domain.ErrQuoteUnavailable, e.attempts, lastErr)
}

func (e *Engine) record(req domain.ActiveSwapRequest, artifact *domain.SwapArtifact, attempts int, latency time.Duration, err error) {
	if e.recorder == nil {
		return
	}
	ev := &domain.QuoteEvent{
		Owner:        req.Owner,
		BuyMint:      req.Intent.BuyMint,
		SellMint:     req.Intent.SellMint,
		SellQuantity: req.Intent.SellQuantity,
		Attempts:     attempts,
		LatencyMs:    latency.Milliseconds(),
		ErrorCode:    domain.ErrorCode(err),
		Timestamp:    e.now().UnixMilli(),
	}
	if artifact != nil {
		ev.AmountOut = artifact.AmountOut
		ev.HasFee = artifact.HasFee
	}
	e.recorder.Record(ev)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
