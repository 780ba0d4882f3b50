package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swap-relay/internal/domain"
)

const (
	testOwner = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	usdcMint  = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	wsolMint  = "So11111111111111111111111111111111111111112"
)

type fakeComputer struct {
	mu    sync.Mutex
	calls int
	fail  func(call int) error
}

func (f *fakeComputer) Compute(ctx context.Context, req domain.ActiveSwapRequest) (*domain.SwapArtifact, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	fail := f.fail
	f.mu.Unlock()

	if fail != nil {
		if err := fail(n); err != nil {
			return nil, err
		}
	}
	return &domain.SwapArtifact{
		Request:           req,
		TransactionBase64: fmt.Sprintf("tx-%d", n),
		ComputedAt:        int64(n),
	}, nil
}

func (f *fakeComputer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sellUSDC(qty uint64) domain.SwapIntent {
	return domain.SwapIntent{BuyMint: wsolMint, SellMint: usdcMint, SellQuantity: qty}
}

func newTestRegistry(t *testing.T, computer Computer, opts Options) *Registry {
	t.Helper()
	opts.Engine = computer
	if opts.RefreshInterval == 0 {
		opts.RefreshInterval = time.Hour
	}
	r := New(opts)
	t.Cleanup(r.Close)
	return r
}

func next(t *testing.T, s *Stream) domain.SwapEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := s.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestSubscribe_FirstArtifactMatchesIntent(t *testing.T) {
	r := newTestRegistry(t, &fakeComputer{}, Options{})

	intent := sellUSDC(10_000_000)
	stream, err := r.Subscribe(context.Background(), testOwner, intent)
	require.NoError(t, err)

	ev := next(t, stream)
	require.NoError(t, ev.Err)
	require.NotNil(t, ev.Artifact)
	assert.Equal(t, intent, ev.Artifact.Request.Intent)
	assert.Equal(t, testOwner, ev.Artifact.Request.Owner)
	assert.NotEmpty(t, ev.Artifact.Request.SellTokenAccount)
	assert.NotEqual(t, ev.Artifact.Request.SellTokenAccount, ev.Artifact.Request.BuyTokenAccount)
	assert.Equal(t, stream.Generation(), ev.Generation)
	assert.Equal(t, 1, r.Len())
}

func TestSubscribe_InvalidOwner(t *testing.T) {
	computer := &fakeComputer{}
	r := newTestRegistry(t, computer, Options{})

	_, err := r.Subscribe(context.Background(), "not-a-key", sellUSDC(1))
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, computer.Calls())
}

func TestSubscribe_InvalidIntent(t *testing.T) {
	r := newTestRegistry(t, &fakeComputer{}, Options{})

	_, err := r.Subscribe(context.Background(), testOwner, domain.SwapIntent{BuyMint: usdcMint, SellMint: usdcMint, SellQuantity: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)
	assert.Equal(t, 0, r.Len())
}

func TestSubscribe_ValidationFromEngineLeavesNoSubscription(t *testing.T) {
	computer := &fakeComputer{fail: func(int) error {
		return fmt.Errorf("%w: below minimum trade size", domain.ErrInvalidIntent)
	}}
	r := newTestRegistry(t, computer, Options{})

	_, err := r.Subscribe(context.Background(), testOwner, sellUSDC(1))
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)
	assert.Equal(t, 0, r.Len())

	_, ok := r.Active(testOwner)
	assert.False(t, ok)
}

// stalledComputer never finishes before ctx does.
type stalledComputer struct{}

func (stalledComputer) Compute(ctx context.Context, _ domain.ActiveSwapRequest) (*domain.SwapArtifact, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSubscribe_CallerGoneBeforeSeedLeavesNoSubscription(t *testing.T) {
	r := newTestRegistry(t, stalledComputer{}, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	stream, err := r.Subscribe(ctx, testOwner, sellUSDC(10_000_000))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, stream)
	assert.Equal(t, 0, r.Len())

	_, ok := r.Active(testOwner)
	assert.False(t, ok)
}

func TestSubscribe_ReplacesPreviousIntent(t *testing.T) {
	r := newTestRegistry(t, &fakeComputer{}, Options{RefreshInterval: 10 * time.Millisecond})

	first, err := r.Subscribe(context.Background(), testOwner, sellUSDC(10_000_000))
	require.NoError(t, err)

	second := sellUSDC(20_000_000)
	stream, err := r.Subscribe(context.Background(), testOwner, second)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Len())
	assert.Greater(t, stream.Generation(), first.Generation())

	_, err = first.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)

	for i := 0; i < 3; i++ {
		ev := next(t, stream)
		require.NoError(t, ev.Err)
		assert.Equal(t, second, ev.Artifact.Request.Intent)
		assert.Equal(t, stream.Generation(), ev.Generation)
	}

	active, ok := r.Active(testOwner)
	require.True(t, ok)
	assert.Equal(t, second, active.Intent)
}

func TestSubscribe_ConcurrentSubscribersKeepOne(t *testing.T) {
	r := newTestRegistry(t, &fakeComputer{}, Options{})

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(qty uint64) {
			defer wg.Done()
			_, err := r.Subscribe(context.Background(), testOwner, sellUSDC(qty))
			assert.NoError(t, err)
		}(uint64(i))
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
}

func TestRefresh_SecondArtifactAfterTick(t *testing.T) {
	r := newTestRegistry(t, &fakeComputer{}, Options{RefreshInterval: 20 * time.Millisecond})

	stream, err := r.Subscribe(context.Background(), testOwner, sellUSDC(10_000_000))
	require.NoError(t, err)

	first := next(t, stream)
	second := next(t, stream)
	require.NotNil(t, first.Artifact)
	require.NotNil(t, second.Artifact)
	assert.Greater(t, second.Artifact.ComputedAt, first.Artifact.ComputedAt)
	assert.NotEqual(t, first.Artifact.TransactionBase64, second.Artifact.TransactionBase64)
}

func TestRefresh_ErrorThenRecovery(t *testing.T) {
	computer := &fakeComputer{fail: func(call int) error {
		if call == 1 {
			return fmt.Errorf("%w after 10 attempts: timeout", domain.ErrQuoteUnavailable)
		}
		return nil
	}}
	r := newTestRegistry(t, computer, Options{RefreshInterval: 20 * time.Millisecond})

	stream, err := r.Subscribe(context.Background(), testOwner, sellUSDC(10_000_000))
	require.NoError(t, err)

	ev := next(t, stream)
	assert.ErrorIs(t, ev.Err, domain.ErrQuoteUnavailable)
	assert.Nil(t, ev.Artifact)

	ev = next(t, stream)
	require.NoError(t, ev.Err)
	assert.NotNil(t, ev.Artifact)
}

func TestRefreshNow(t *testing.T) {
	computer := &fakeComputer{}
	r := newTestRegistry(t, computer, Options{})

	stream, err := r.Subscribe(context.Background(), testOwner, sellUSDC(10_000_000))
	require.NoError(t, err)
	next(t, stream)

	require.NoError(t, r.RefreshNow(context.Background(), testOwner))
	ev := next(t, stream)
	require.NotNil(t, ev.Artifact)
	assert.Equal(t, "tx-2", ev.Artifact.TransactionBase64)
}

func TestRefreshNow_NoSubscription(t *testing.T) {
	r := newTestRegistry(t, &fakeComputer{}, Options{})

	err := r.RefreshNow(context.Background(), testOwner)
	assert.ErrorIs(t, err, domain.ErrNoSubscription)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	computer := &fakeComputer{}
	r := newTestRegistry(t, computer, Options{RefreshInterval: 10 * time.Millisecond})

	stream, err := r.Subscribe(context.Background(), testOwner, sellUSDC(10_000_000))
	require.NoError(t, err)

	r.Unsubscribe(testOwner)
	r.Unsubscribe(testOwner)
	r.Unsubscribe("never-subscribed")

	assert.Equal(t, 0, r.Len())
	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)

	select {
	case <-stream.Done():
	default:
		t.Fatal("stream should be done after unsubscribe")
	}

	calls := computer.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, computer.Calls(), "no computation after unsubscribe")
}

func TestSweep_EvictsIdleSubscription(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	computer := &fakeComputer{}
	r := newTestRegistry(t, computer, Options{
		RefreshInterval: 10 * time.Millisecond,
		IdleTimeout:     5 * time.Minute,
		Now:             clock.Now,
	})

	stream, err := r.Subscribe(context.Background(), testOwner, sellUSDC(10_000_000))
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	assert.Equal(t, 0, r.Sweep())
	assert.Equal(t, 1, r.Len())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
	assert.Equal(t, 0, r.Len())

	_, err = stream.Next(context.Background())
	assert.ErrorIs(t, err, ErrStreamClosed)

	calls := computer.Calls()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, calls, computer.Calls(), "no computation after eviction")
}

func TestSweep_ConsumptionCountsAsActivity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := newTestRegistry(t, &fakeComputer{}, Options{IdleTimeout: 5 * time.Minute, Now: clock.Now})

	stream, err := r.Subscribe(context.Background(), testOwner, sellUSDC(10_000_000))
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	next(t, stream)

	clock.Advance(4 * time.Minute)
	assert.Equal(t, 0, r.Sweep())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.Sweep())
}

func TestRun_ClosesOnCancel(t *testing.T) {
	r := newTestRegistry(t, &fakeComputer{}, Options{SweepInterval: 10 * time.Millisecond})

	stream, err := r.Subscribe(context.Background(), testOwner, sellUSDC(10_000_000))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, 0, r.Len())

	select {
	case <-stream.Done():
	default:
		t.Fatal("stream should be closed")
	}
}

func TestStream_DropsOldestWhenFull(t *testing.T) {
	s := newStream(testOwner, 1, 2, nil)
	for i := 1; i <= 3; i++ {
		assert.True(t, s.publish(domain.SwapEvent{Generation: 1, Err: fmt.Errorf("e%d", i)}))
	}

	ev, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.EqualError(t, ev.Err, "e2")
	ev, err = s.Next(context.Background())
	require.NoError(t, err)
	assert.EqualError(t, ev.Err, "e3")
}

func TestStream_CloseDiscardsPending(t *testing.T) {
	s := newStream(testOwner, 1, 4, nil)
	s.publish(domain.SwapEvent{Generation: 1})
	s.close()
	s.close()

	assert.False(t, s.publish(domain.SwapEvent{Generation: 1}))
	_, err := s.Next(context.Background())
	assert.True(t, errors.Is(err, ErrStreamClosed))
}

func TestRelease_OnlyMatchingGeneration(t *testing.T) {
	r := newTestRegistry(t, &fakeComputer{}, Options{})

	first, err := r.Subscribe(context.Background(), testOwner, sellUSDC(10_000_000))
	require.NoError(t, err)
	second, err := r.Subscribe(context.Background(), testOwner, sellUSDC(20_000_000))
	require.NoError(t, err)

	assert.False(t, r.Release(testOwner, first.Generation()))
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Release(testOwner, second.Generation()))
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Release(testOwner, second.Generation()))
}
