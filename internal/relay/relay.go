// Package relay co-signs user signed swap transactions with the shared fee
// payer after checking they are exactly what the quote engine issued.
package relay

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"swap-relay/internal/domain"
	"swap-relay/internal/idhash"
	"swap-relay/internal/observability"
	"swap-relay/internal/quote"
	"swap-relay/internal/solana"
	"swap-relay/internal/storage"
)

// Defaults of the relay retry policy.
const (
	DefaultRetryAttempts = 10
	DefaultRetryDelay    = time.Second
	DefaultSignTimeout   = 30 * time.Second
	defaultFlightShards  = 64
)

// SponsorRequest is a user signed transaction submitted for co-signing.
type SponsorRequest struct {
	Owner             string // authenticated owner, base58
	TransactionBase64 string
}

// Options configures a Relay.
type Options struct {
	Signer Signer
	// RPC resolves address lookup tables of v0 messages.
	RPC solana.RPCClient
	// Issued holds the messages the quote engine handed out. Required.
	Issued *quote.IssuedRegistry
	Fees   *quote.FeePolicy
	Cache  IdempotencyCache
	// Ledger, when set, persists every fresh signature.
	Ledger storage.SponsorshipStore

	IdempotencyTTL time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	// SignTimeout bounds a signing run shared by concurrent requests for
	// one fingerprint. The run outlives any single caller.
	SignTimeout time.Duration

	Logger *zap.Logger
	Now    func() time.Time
}

// Relay validates and co-signs sponsored swaps. It is safe for concurrent use.
type Relay struct {
	signer      Signer
	feePayer    solana.PublicKey
	lookups     *lookupResolver
	issued      *quote.IssuedRegistry
	fees        *quote.FeePolicy
	cache       IdempotencyCache
	ledger      storage.SponsorshipStore
	ttl         time.Duration
	attempts    int
	delay       time.Duration
	signTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time

	flights []singleflight.Group
}

// New creates a Relay.
func New(opts Options) (*Relay, error) {
	if opts.Signer == nil {
		return nil, errors.New("relay: signer is required")
	}
	if opts.Issued == nil {
		return nil, errors.New("relay: issued message registry is required")
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache()
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.SignTimeout <= 0 {
		opts.SignTimeout = DefaultSignTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Relay{
		signer:      opts.Signer,
		feePayer:    opts.Signer.PublicKey(),
		lookups:     newLookupResolver(opts.RPC),
		issued:      opts.Issued,
		fees:        opts.Fees,
		cache:       opts.Cache,
		ledger:      opts.Ledger,
		ttl:         opts.IdempotencyTTL,
		attempts:    opts.RetryAttempts,
		delay:       opts.RetryDelay,
		signTimeout: opts.SignTimeout,
		logger:      opts.Logger,
		now:         opts.Now,
		flights:     make([]singleflight.Group, defaultFlightShards),
	}, nil
}

// FeePayer returns the sponsoring account.
func (r *Relay) FeePayer() solana.PublicKey {
	return r.feePayer
}

// Sponsor validates req and returns the transaction co-signed by the fee
// payer. Repeated requests for the same owner and message within the
// idempotency window return the recorded signature without signing again.
func (r *Relay) Sponsor(ctx context.Context, req SponsorRequest) (*domain.SignedSwapArtifact, error) {
	signed, err := r.sponsor(ctx, req)
	switch {
	case err == nil && signed.Cached:
		observability.RecordSponsor(observability.OutcomeCached)
	case err == nil:
		observability.RecordSponsor(observability.OutcomeSigned)
	case errors.Is(err, domain.ErrInstructionMismatch):
		observability.RecordSponsor(observability.OutcomeMismatch)
	case errors.Is(err, domain.ErrSponsorshipUnavailable):
		observability.RecordSponsor(observability.OutcomeUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		observability.RecordSponsor(observability.OutcomeError)
	}
	return signed, err
}

func (r *Relay) sponsor(ctx context.Context, req SponsorRequest) (*domain.SignedSwapArtifact, error) {
	owner, err := solana.ParsePublicKey(req.Owner)
	if err != nil {
		return nil, fmt.Errorf("%w: owner: %v", domain.ErrInvalidIdentity, err)
	}
	if owner == r.feePayer {
		return nil, fmt.Errorf("%w: owner is the fee payer", domain.ErrInvalidIdentity)
	}

	tx, err := solana.DecodeTransactionBase64(req.TransactionBase64)
	if err != nil {
		return nil, r.suspect(req.Owner, fmt.Errorf("%w: %v", domain.ErrInstructionMismatch, err))
	}
	message, err := tx.MessageBytes()
	if err != nil {
		return nil, r.suspect(req.Owner, fmt.Errorf("%w: %v", domain.ErrInstructionMismatch, err))
	}

	issued, ok := r.issued.Lookup(req.Owner, message)
	if !ok {
		return nil, r.suspect(req.Owner, fmt.Errorf("%w: message was not issued to this owner", domain.ErrInstructionMismatch))
	}

	var keys []solana.PublicKey
	err = r.retry(ctx, "resolve lookup tables", func() error {
		var err error
		keys, err = r.lookups.accountKeys(ctx, &tx.Message)
		return err
	})
	if err != nil {
		return nil, err
	}

	exp, err := newExpectation(r.feePayer, owner, issued, r.fees)
	if err != nil {
		return nil, err
	}
	if err := validateTransaction(tx, keys, exp); err != nil {
		return nil, r.suspect(req.Owner, err)
	}

	fingerprint := idhash.ComputeSponsorFingerprint(req.Owner, idhash.ComputeMessageHash(message))
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The shared run is detached from the caller that starts it; each
	// caller waits on its own ctx.
	flight := r.flightFor(fingerprint).DoChan(fingerprint, func() (interface{}, error) {
		signCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.signTimeout)
		defer cancel()
		return r.signOnce(signCtx, fingerprint, req.Owner, message, tx, issued)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-flight:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	result := res.Val.(signResult)

	sig, err := solana.ParseSignature(result.entry.Signature)
	if err != nil {
		return nil, fmt.Errorf("cached signature: %w", err)
	}
	if err := tx.SetSignature(r.feePayer, sig); err != nil {
		return nil, err
	}
	encoded, err := tx.Base64()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}

	return &domain.SignedSwapArtifact{
		Artifact:          issued.Artifact,
		Owner:             req.Owner,
		TransactionBase64: encoded,
		FeePayerSignature: result.entry.Signature,
		Fingerprint:       fingerprint,
		Cached:            result.cached,
		SignedAt:          result.entry.SignedAt,
	}, nil
}

type signResult struct {
	entry  Entry
	cached bool
}

// signOnce returns the recorded signature for fingerprint or signs message
// and records it. Concurrent calls for one fingerprint share a single run.
func (r *Relay) signOnce(ctx context.Context, fingerprint, owner string, message []byte, tx *solana.Transaction, issued quote.IssuedMessage) (signResult, error) {
	entry, ok, err := r.cache.Get(ctx, fingerprint)
	if err != nil {
		return signResult{}, fmt.Errorf("idempotency lookup: %w", err)
	}
	if ok {
		return signResult{entry: entry, cached: true}, nil
	}

	var sig solana.Signature
	err = r.retry(ctx, "sign", func() error {
		start := time.Now()
		var err error
		sig, err = r.signer.SignAsFeePayer(ctx, message)
		observability.RecordSignerLatency(time.Since(start).Seconds())
		return err
	})
	if err != nil {
		return signResult{}, err
	}

	entry = Entry{Signature: sig.String(), SignedAt: r.now().UnixMilli()}
	stored, inserted, err := r.cache.PutIfAbsent(ctx, fingerprint, entry, r.ttl)
	if err != nil {
		return signResult{}, fmt.Errorf("idempotency store: %w", err)
	}
	if !inserted {
		return signResult{entry: stored, cached: true}, nil
	}

	r.logger.Info("swap sponsored",
		zap.String("owner", owner),
		zap.String("fingerprint", fingerprint),
		zap.Bool("has_fee", issued.HasFee),
		zap.Uint64("fee_amount", issued.FeeAmount),
	)
	r.recordLedger(ctx, fingerprint, owner, tx, issued, entry)
	return signResult{entry: entry}, nil
}

// recordLedger persists a fresh signature. Ledger failures never fail the
// sponsorship; the signature is already authoritative.
func (r *Relay) recordLedger(ctx context.Context, fingerprint, owner string, tx *solana.Transaction, issued quote.IssuedMessage, entry Entry) {
	if r.ledger == nil {
		return
	}
	rec := &domain.SponsorshipRecord{
		ID:                uuid.NewString(),
		Fingerprint:       fingerprint,
		Owner:             owner,
		FeePayer:          r.feePayer.String(),
		FeePayerSignature: entry.Signature,
		HasFee:            issued.HasFee,
		FeeAmount:         issued.FeeAmount,
		RecentBlockhash:   tx.Message.RecentBlockhash.String(),
		CreatedAt:         entry.SignedAt,
	}
	if issued.HasFee {
		rec.FeeMint = issued.Intent.SellMint
	}

	err := r.ledger.Insert(ctx, rec)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrDuplicateKey):
		// Re-signed after the idempotency window; the first record stands.
		r.logger.Debug("sponsorship already in ledger", zap.String("fingerprint", fingerprint))
	default:
		r.logger.Error("failed to record sponsorship",
			zap.String("fingerprint", fingerprint),
			zap.Error(err),
		)
	}
}

// retry runs fn until it succeeds, a validation error occurs, or the
// attempts are exhausted, which yields domain.ErrSponsorshipUnavailable.
func (r *Relay) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if domain.IsValidation(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err

		r.logger.Debug("sponsorship step failed",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < r.attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.delay):
			}
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrSponsorshipUnavailable, op, r.attempts, lastErr)
}

// suspect logs a rejected transaction as a potential abuse attempt.
func (r *Relay) suspect(owner string, err error) error {
	r.logger.Warn("sponsorship rejected",
		zap.String("event", "sponsor_abuse_suspected"),
		zap.String("owner", owner),
		zap.Error(err),
	)
	return err
}

func (r *Relay) flightFor(fingerprint string) *singleflight.Group {
	h := fnv.New32a()
	h.Write([]byte(fingerprint))
	return &r.flights[h.Sum32()%uint32(len(r.flights))]
}
