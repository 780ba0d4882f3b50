package quote

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"swap-relay/internal/domain"
	"swap-relay/internal/observability"
	"swap-relay/internal/storage"
)

// RecorderOptions configures an EventRecorder.
type RecorderOptions struct {
	FlushInterval time.Duration // default 5s
	MaxBuffer     int           // default 10000; oldest events are dropped beyond it
	Logger        *zap.Logger
}

// EventRecorder buffers quote events and writes them to a store in batches.
// Recording never blocks a computation.
type EventRecorder struct {
	store    storage.QuoteEventStore
	interval time.Duration
	max      int
	logger   *zap.Logger

	mu      sync.Mutex
	buf     []*domain.QuoteEvent
	dropped int
}

// NewEventRecorder creates a recorder writing to store.
func NewEventRecorder(store storage.QuoteEventStore, opts RecorderOptions) *EventRecorder {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.MaxBuffer <= 0 {
		opts.MaxBuffer = 10000
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &EventRecorder{
		store:    store,
		interval: opts.FlushInterval,
		max:      opts.MaxBuffer,
		logger:   opts.Logger.Named("quote_events"),
	}
}

// Record buffers e.
func (r *EventRecorder) Record(e *domain.QuoteEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.buf) >= r.max {
		r.buf = r.buf[1:]
		r.dropped++
	}
	r.buf = append(r.buf, e)
}

// Pending returns the number of buffered events.
func (r *EventRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Flush writes buffered events. On failure the events are put back.
func (r *EventRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	dropped := r.dropped
	r.dropped = 0
	r.mu.Unlock()

	if dropped > 0 {
		r.logger.Warn("quote events dropped", zap.Int("count", dropped))
	}
	if len(batch) == 0 {
		return nil
	}

	if err := r.store.InsertBulk(ctx, batch); err != nil {
		r.mu.Lock()
		r.buf = append(batch, r.buf...)
		if over := len(r.buf) - r.max; over > 0 {
			r.buf = r.buf[over:]
			r.dropped += over
		}
		r.mu.Unlock()
		return err
	}

	observability.RecordQuoteEventsStored(len(batch))
	return nil
}

// Run flushes every FlushInterval until ctx is done, then flushes once more.
func (r *EventRecorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := r.Flush(flushCtx); err != nil {
				r.logger.Error("final flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := r.Flush(ctx); err != nil {
				r.logger.Warn("flush failed", zap.Error(err), zap.Int("pending", r.Pending()))
			}
		}
	}
}
