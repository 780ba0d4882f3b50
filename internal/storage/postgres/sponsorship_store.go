package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"swap-relay/internal/domain"
	"swap-relay/internal/observability"
	"swap-relay/internal/storage"
)

// SponsorshipStore implements storage.SponsorshipStore using PostgreSQL.
type SponsorshipStore struct {
	pool *Pool
}

// NewSponsorshipStore creates a new SponsorshipStore.
func NewSponsorshipStore(pool *Pool) *SponsorshipStore {
	return &SponsorshipStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SponsorshipStore = (*SponsorshipStore)(nil)

// Insert adds a new record. Returns ErrDuplicateKey if the fingerprint exists.
func (s *SponsorshipStore) Insert(ctx context.Context, r *domain.SponsorshipRecord) (err error) {
	if r == nil || r.Fingerprint == "" || r.ID == "" {
		return storage.ErrInvalidInput
	}
	if r.FeeAmount > math.MaxInt64 {
		return fmt.Errorf("%w: fee amount %d overflows bigint", storage.ErrInvalidInput, r.FeeAmount)
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "insert_sponsorship", time.Since(start).Seconds(), err)
	}()

	query := `
		INSERT INTO sponsorships (
			id, fingerprint, owner, fee_payer, fee_payer_signature,
			has_fee, fee_amount, fee_mint, recent_blockhash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = s.pool.Exec(ctx, query,
		r.ID,
		r.Fingerprint,
		r.Owner,
		r.FeePayer,
		r.FeePayerSignature,
		r.HasFee,
		int64(r.FeeAmount),
		r.FeeMint,
		r.RecentBlockhash,
		r.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert sponsorship: %w", err)
	}
	return nil
}

// GetByFingerprint retrieves a record by fingerprint. Returns ErrNotFound if not exists.
func (s *SponsorshipStore) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.SponsorshipRecord, error) {
	query := `
		SELECT id, fingerprint, owner, fee_payer, fee_payer_signature,
		       has_fee, fee_amount, fee_mint, recent_blockhash, created_at
		FROM sponsorships
		WHERE fingerprint = $1
	`

	start := time.Now()
	r, err := scanSponsorship(s.pool.QueryRow(ctx, query, fingerprint))
	if isNotFoundError(err) {
		observability.RecordDBQuery("postgres", "get_sponsorship", time.Since(start).Seconds(), nil)
		return nil, storage.ErrNotFound
	}
	observability.RecordDBQuery("postgres", "get_sponsorship", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("get sponsorship by fingerprint: %w", err)
	}
	return r, nil
}

// GetByOwner retrieves the most recent records of an owner, newest first.
func (s *SponsorshipStore) GetByOwner(ctx context.Context, owner string, limit int) ([]*domain.SponsorshipRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, fingerprint, owner, fee_payer, fee_payer_signature,
		       has_fee, fee_amount, fee_mint, recent_blockhash, created_at
		FROM sponsorships
		WHERE owner = $1
		ORDER BY created_at DESC, fingerprint ASC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, owner, limit)
	if err != nil {
		return nil, fmt.Errorf("get sponsorships by owner: %w", err)
	}
	defer rows.Close()

	var records []*domain.SponsorshipRecord
	for rows.Next() {
		r, err := scanSponsorship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sponsorship: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sponsorships: %w", err)
	}
	return records, nil
}

// CountByTimeRange counts records created within [start, end).
func (s *SponsorshipStore) CountByTimeRange(ctx context.Context, start, end int64) (int, error) {
	query := `SELECT count(*) FROM sponsorships WHERE created_at >= $1 AND created_at < $2`

	var n int64
	if err := s.pool.QueryRow(ctx, query, start, end).Scan(&n); err != nil {
		return 0, fmt.Errorf("count sponsorships: %w", err)
	}
	return int(n), nil
}

func scanSponsorship(row pgx.Row) (*domain.SponsorshipRecord, error) {
	var r domain.SponsorshipRecord
	var feeAmount int64
	err := row.Scan(
		&r.ID,
		&r.Fingerprint,
		&r.Owner,
		&r.FeePayer,
		&r.FeePayerSignature,
		&r.HasFee,
		&feeAmount,
		&r.FeeMint,
		&r.RecentBlockhash,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.FeeAmount = uint64(feeAmount)
	return &r, nil
}
