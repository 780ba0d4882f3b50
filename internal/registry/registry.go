// Package registry keeps one live swap subscription per owner and pushes a
// freshly computed artifact to it on a fixed cadence.
package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"swap-relay/internal/domain"
	"swap-relay/internal/observability"
	"swap-relay/internal/solana"
)

// Defaults of the registry timing policy.
const (
	DefaultRefreshInterval = 5 * time.Second
	DefaultSweepInterval   = time.Minute
	DefaultIdleTimeout     = 5 * time.Minute
	DefaultStreamBuffer    = 16
	DefaultShards          = 32
)

// Computer produces an artifact for a request.
type Computer interface {
	Compute(ctx context.Context, req domain.ActiveSwapRequest) (*domain.SwapArtifact, error)
}

// Options configures a Registry.
type Options struct {
	Engine          Computer
	RefreshInterval time.Duration
	SweepInterval   time.Duration
	IdleTimeout     time.Duration
	StreamBuffer    int
	// MaxConcurrent bounds computations across all subscriptions.
	// Zero means unbounded.
	MaxConcurrent int64
	Shards        int

	Logger *zap.Logger
	Now    func() time.Time
}

type shard struct {
	mu   sync.Mutex
	subs map[string]*subscription
}

// Registry owns the subscriptions. It is safe for concurrent use.
type Registry struct {
	engine  Computer
	refresh time.Duration
	sweep   time.Duration
	idle    time.Duration
	buffer  int
	sem     *semaphore.Weighted
	logger  *zap.Logger
	now     func() time.Time

	shards     []*shard
	active     atomic.Int64
	generation atomic.Uint64

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New creates a Registry.
func New(opts Options) *Registry {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.StreamBuffer <= 0 {
		opts.StreamBuffer = DefaultStreamBuffer
	}
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := &Registry{
		engine:  opts.Engine,
		refresh: opts.RefreshInterval,
		sweep:   opts.SweepInterval,
		idle:    opts.IdleTimeout,
		buffer:  opts.StreamBuffer,
		logger:  opts.Logger,
		now:     opts.Now,
		shards:  make([]*shard, opts.Shards),
	}
	if opts.MaxConcurrent > 0 {
		r.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	for i := range r.shards {
		r.shards[i] = &shard{subs: make(map[string]*subscription)}
	}
	r.baseCtx, r.baseCancel = context.WithCancel(context.Background())
	return r
}

func (r *Registry) shardFor(owner string) *shard {
	h := fnv.New32a()
	h.Write([]byte(owner))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

// Subscribe starts streaming artifacts for intent to owner, replacing any
// existing subscription of owner. The first event is computed before
// Subscribe returns. Validation failures of owner or intent are returned
// directly and leave no subscription behind.
func (r *Registry) Subscribe(ctx context.Context, owner string, intent domain.SwapIntent) (*Stream, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	buyAccount, sellAccount, err := solana.ResolveTokenAccounts(owner, intent.BuyMint, intent.SellMint)
	if err != nil {
		return nil, err
	}
	req := domain.ActiveSwapRequest{
		Intent:           intent,
		Owner:            owner,
		BuyTokenAccount:  buyAccount,
		SellTokenAccount: sellAccount,
	}

	sub := r.newSubscription(req)

	s := r.shardFor(owner)
	s.mu.Lock()
	old := s.subs[owner]
	if old != nil {
		old.cancel()
	} else {
		r.active.Add(1)
	}
	s.subs[owner] = sub
	s.mu.Unlock()

	if old != nil {
		<-old.done
	}
	observability.RecordSubscriptionCreated(old != nil)
	observability.SetActiveSubscriptions(int(r.active.Load()))
	r.logger.Info("swap subscription started",
		zap.String("owner", owner),
		zap.Uint64("generation", sub.generation),
		zap.Bool("replaced", old != nil),
	)

	// The caller's context bounds the first computation only.
	computeCtx, cancel := context.WithCancel(sub.ctx)
	stop := context.AfterFunc(ctx, cancel)
	err = r.computeAndPublish(computeCtx, sub)
	stop()
	cancel()

	if err != nil && domain.IsValidation(err) {
		r.remove(sub)
		return nil, err
	}
	// An unseeded stream is never handed out.
	if ctxErr := ctx.Err(); ctxErr != nil {
		r.remove(sub)
		return nil, ctxErr
	}

	go r.loop(sub)
	return sub.stream, nil
}

// RefreshNow triggers an immediate recomputation for owner's subscription.
// The result arrives on the stream.
func (r *Registry) RefreshNow(ctx context.Context, owner string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sub := r.get(owner)
	if sub == nil {
		return fmt.Errorf("%w: %s", domain.ErrNoSubscription, owner)
	}
	sub.touch(r.now())
	select {
	case sub.kick <- struct{}{}:
	default:
	}
	return nil
}

// Unsubscribe cancels owner's subscription. It is a no-op when none exists.
// Once it returns no further event is delivered for the cancelled
// subscription.
func (r *Registry) Unsubscribe(owner string) {
	s := r.shardFor(owner)
	s.mu.Lock()
	sub := s.subs[owner]
	if sub != nil {
		delete(s.subs, owner)
		sub.cancel()
		r.active.Add(-1)
	}
	s.mu.Unlock()

	if sub == nil {
		return
	}
	<-sub.done
	observability.SetActiveSubscriptions(int(r.active.Load()))
	r.logger.Info("swap subscription cancelled",
		zap.String("owner", owner),
		zap.Uint64("generation", sub.generation),
	)
}

// Release cancels owner's subscription only if it is still generation.
// Connections use it on disconnect so they never cancel a subscription that
// replaced theirs.
func (r *Registry) Release(owner string, generation uint64) bool {
	s := r.shardFor(owner)
	s.mu.Lock()
	sub := s.subs[owner]
	if sub == nil || sub.generation != generation {
		s.mu.Unlock()
		return false
	}
	delete(s.subs, owner)
	sub.cancel()
	r.active.Add(-1)
	s.mu.Unlock()

	<-sub.done
	observability.SetActiveSubscriptions(int(r.active.Load()))
	return true
}

// Active returns the current request of owner's subscription.
func (r *Registry) Active(owner string) (domain.ActiveSwapRequest, bool) {
	sub := r.get(owner)
	if sub == nil {
		return domain.ActiveSwapRequest{}, false
	}
	return sub.req, true
}

// Len returns the number of live subscriptions.
func (r *Registry) Len() int {
	return int(r.active.Load())
}

// Sweep evicts subscriptions idle for longer than the idle timeout and
// returns how many were evicted.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idle).UnixNano()

	var evicted []*subscription
	for _, s := range r.shards {
		s.mu.Lock()
		for owner, sub := range s.subs {
			if sub.lastActivity.Load() < cutoff {
				delete(s.subs, owner)
				sub.cancel()
				r.active.Add(-1)
				evicted = append(evicted, sub)
			}
		}
		s.mu.Unlock()
	}

	for _, sub := range evicted {
		<-sub.done
		r.logger.Info("swap subscription evicted",
			zap.String("owner", sub.req.Owner),
			zap.Uint64("generation", sub.generation),
		)
	}
	if len(evicted) > 0 {
		observability.RecordEvictions(len(evicted))
		observability.SetActiveSubscriptions(int(r.active.Load()))
	}
	return len(evicted)
}

// Run sweeps idle subscriptions until ctx is done, then closes the registry.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Close()
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Close cancels every subscription.
func (r *Registry) Close() {
	r.baseCancel()

	var closed []*subscription
	for _, s := range r.shards {
		s.mu.Lock()
		for owner, sub := range s.subs {
			delete(s.subs, owner)
			sub.cancel()
			closed = append(closed, sub)
		}
		s.mu.Unlock()
	}
	for _, sub := range closed {
		<-sub.done
	}
	r.active.Store(0)
	observability.SetActiveSubscriptions(0)
}

func (r *Registry) get(owner string) *subscription {
	s := r.shardFor(owner)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[owner]
}

// remove drops sub if it is still the owner's current subscription.
func (r *Registry) remove(sub *subscription) {
	s := r.shardFor(sub.req.Owner)
	s.mu.Lock()
	current := s.subs[sub.req.Owner] == sub
	if current {
		delete(s.subs, sub.req.Owner)
		r.active.Add(-1)
	}
	sub.cancel()
	s.mu.Unlock()

	if current {
		observability.SetActiveSubscriptions(int(r.active.Load()))
	}
	// The loop was never started.
	sub.markDone()
}

func (r *Registry) loop(sub *subscription) {
	defer sub.markDone()

	ticker := time.NewTicker(r.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-sub.ctx.Done():
			return
		case <-ticker.C:
		case <-sub.kick:
		}
		if err := r.computeAndPublish(sub.ctx, sub); err != nil && sub.ctx.Err() == nil {
			r.logger.Debug("swap refresh failed",
				zap.String("owner", sub.req.Owner),
				zap.Error(err),
			)
		}
	}
}

// computeAndPublish runs one computation for sub and pushes its outcome to
// the stream. Outcomes of a cancelled subscription are discarded.
func (r *Registry) computeAndPublish(ctx context.Context, sub *subscription) error {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer r.sem.Release(1)
	}

	artifact, err := r.engine.Compute(ctx, sub.req)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	ev := domain.SwapEvent{Generation: sub.generation, Artifact: artifact, Err: err}
	if err != nil {
		ev.Artifact = nil
	}
	if sub.publish(ev) && err == nil {
		observability.RecordArtifactDelivered()
	}
	return err
}

type subscription struct {
	req        domain.ActiveSwapRequest
	generation uint64
	stream     *Stream

	ctx      context.Context
	cancelFn context.CancelFunc
	kick     chan struct{}
	done     chan struct{}
	doneOnce sync.Once

	lastActivity atomic.Int64
}

func (r *Registry) newSubscription(req domain.ActiveSwapRequest) *subscription {
	ctx, cancel := context.WithCancel(r.baseCtx)
	sub := &subscription{
		req:        req,
		generation: r.generation.Add(1),
		ctx:        ctx,
		cancelFn:   cancel,
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	sub.touch(r.now())
	sub.stream = newStream(req.Owner, sub.generation, r.buffer, func() { sub.touch(r.now()) })
	return sub
}

func (s *subscription) touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

// cancel stops the refresh loop and closes the stream. It does not wait for
// the loop to exit.
func (s *subscription) cancel() {
	s.cancelFn()
	s.stream.close()
}

func (s *subscription) publish(ev domain.SwapEvent) bool {
	if s.ctx.Err() != nil {
		return false
	}
	return s.stream.publish(ev)
}

func (s *subscription) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}
