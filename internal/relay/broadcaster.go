package relay

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"swap-relay/internal/observability"
	"swap-relay/internal/quote"
	"swap-relay/internal/solana"
)

// Submit outcomes.
const (
	SubmitConfirmed = "confirmed"
	SubmitFailed    = "failed"
	SubmitRejected  = "rejected"
	SubmitTimeout   = "timeout"
)

// BroadcasterOptions configures a Broadcaster.
type BroadcasterOptions struct {
	RPC solana.RPCClient
	// WS, when set, is used to await confirmation before falling back to
	// status polling.
	WS solana.WSClient
	// Issued, when set, forgets a message once its transaction has landed
	// so it cannot be sponsored again.
	Issued *quote.IssuedRegistry

	ConfirmTimeout time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration

	Logger *zap.Logger
}

// SubmitResult is a confirmed broadcast.
type SubmitResult struct {
	Signature string
	Slot      int64
}

// Broadcaster sends fully signed transactions and waits for confirmation.
type Broadcaster struct {
	rpc      solana.RPCClient
	ws       solana.WSClient
	issued   *quote.IssuedRegistry
	timeout  time.Duration
	attempts int
	delay    time.Duration
	logger   *zap.Logger
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(opts BroadcasterOptions) *Broadcaster {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 30 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Broadcaster{
		rpc:      opts.RPC,
		ws:       opts.WS,
		issued:   opts.Issued,
		timeout:  opts.ConfirmTimeout,
		attempts: opts.RetryAttempts,
		delay:    opts.RetryDelay,
		logger:   opts.Logger,
	}
}

// Submit simulates, sends and confirms owner's txBase64.
func (b *Broadcaster) Submit(ctx context.Context, owner, txBase64 string) (*SubmitResult, error) {
	tx, err := solana.DecodeTransactionBase64(txBase64)
	if err != nil {
		return nil, err
	}
	for i, sig := range tx.Signatures {
		if sig.IsZero() {
			return nil, fmt.Errorf("%w: slot %d is empty", ErrIncompleteSignatures, i)
		}
	}
	signature := tx.Signatures[0].String()

	sim, err := b.rpc.SimulateTransaction(ctx, txBase64)
	if err != nil {
		return nil, fmt.Errorf("simulate transaction: %w", err)
	}
	if sim.Err != nil {
		observability.RecordSubmit(SubmitRejected)
		b.logger.Info("transaction rejected by simulation",
			zap.String("signature", signature),
			zap.Any("err", sim.Err),
			zap.Strings("logs", sim.Logs),
		)
		return nil, fmt.Errorf("%w: %v", ErrSimulationFailed, sim.Err)
	}

	sent, err := b.rpc.SendTransaction(ctx, txBase64)
	if err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	if sent != "" {
		signature = sent
	}

	result, err := b.confirm(ctx, signature)
	if result != nil {
		b.forget(owner, tx)
	}
	switch {
	case err == nil:
		observability.RecordSubmit(SubmitConfirmed)
	case ctx.Err() != nil:
	default:
		if result == nil {
			observability.RecordSubmit(SubmitTimeout)
		} else {
			observability.RecordSubmit(SubmitFailed)
		}
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// forget drops the landed message from the issued registry.
func (b *Broadcaster) forget(owner string, tx *solana.Transaction) {
	if b.issued == nil {
		return
	}
	message, err := tx.MessageBytes()
	if err != nil {
		b.logger.Warn("serialize landed message", zap.Error(err))
		return
	}
	b.issued.Forget(owner, message)
}

// confirm waits on the websocket subscription, then polls signature
// statuses. A non-nil result with an error means the transaction landed
// and failed.
func (b *Broadcaster) confirm(ctx context.Context, signature string) (*SubmitResult, error) {
	if b.ws != nil {
		result, done, err := b.confirmWS(ctx, signature)
		if done {
			return result, err
		}
	}

	for attempt := 1; attempt <= b.attempts; attempt++ {
		statuses, err := b.rpc.GetSignatureStatuses(ctx, []string{signature})
		if err != nil {
			b.logger.Debug("signature status poll failed", zap.Int("attempt", attempt), zap.Error(err))
		} else if len(statuses) == 1 && statuses[0] != nil {
			st := statuses[0]
			if st.Err != nil {
				return &SubmitResult{Signature: signature, Slot: st.Slot},
					fmt.Errorf("%w: %v", ErrTransactionFailed, st.Err)
			}
			if st.IsConfirmed() {
				return &SubmitResult{Signature: signature, Slot: st.Slot}, nil
			}
		}

		if attempt < b.attempts {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.delay):
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotConfirmed, signature)
}

// confirmWS reports done=false when the subscription could not decide the
// outcome in time.
func (b *Broadcaster) confirmWS(ctx context.Context, signature string) (*SubmitResult, bool, error) {
	wctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	ch, err := b.ws.SignatureSubscribe(wctx, signature)
	if err != nil {
		b.logger.Debug("signature subscribe failed, polling", zap.Error(err))
		return nil, false, nil
	}

	select {
	case n, ok := <-ch:
		if !ok {
			return nil, false, nil
		}
		result := &SubmitResult{Signature: signature, Slot: n.Slot}
		if n.Err != nil {
			return result, true, fmt.Errorf("%w: %v", ErrTransactionFailed, n.Err)
		}
		return result, true, nil
	case <-wctx.Done():
		if ctx.Err() != nil {
			return nil, true, ctx.Err()
		}
		return nil, false, nil
	}
}
