package clickhouse

import (
	"context"
	"fmt"
	"time"

	"swap-relay/internal/domain"
	"swap-relay/internal/observability"
	"swap-relay/internal/storage"
)

// QuoteEventStore implements storage.QuoteEventStore using ClickHouse.
type QuoteEventStore struct {
	conn *Conn
}

// NewQuoteEventStore creates a new QuoteEventStore.
func NewQuoteEventStore(conn *Conn) *QuoteEventStore {
	return &QuoteEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.QuoteEventStore = (*QuoteEventStore)(nil)

// InsertBulk appends events in a single batch.
func (s *QuoteEventStore) InsertBulk(ctx context.Context, events []*domain.QuoteEvent) (err error) {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil || e.Owner == "" {
			return storage.ErrInvalidInput
		}
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert_quote_events", time.Since(start).Seconds(), err)
	}()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO quote_events (
			owner, buy_mint, sell_mint, sell_quantity, amount_out,
			has_fee, attempts, latency_ms, error_code, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.Owner, e.BuyMint, e.SellMint, e.SellQuantity, e.AmountOut,
			e.HasFee, uint32(e.Attempts), uint64(e.LatencyMs), e.ErrorCode, uint64(e.Timestamp),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByOwner retrieves events of an owner within [start, end), ordered by timestamp ASC.
func (s *QuoteEventStore) GetByOwner(ctx context.Context, owner string, start, end int64) ([]*domain.QuoteEvent, error) {
	query := `
		SELECT owner, buy_mint, sell_mint, sell_quantity, amount_out,
		       has_fee, attempts, latency_ms, error_code, timestamp_ms
		FROM quote_events
		WHERE owner = ? AND timestamp_ms >= ? AND timestamp_ms < ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, owner, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by owner: %w", err)
	}
	defer rows.Close()

	return scanQuoteEvents(rows)
}

// GetByTimeRange retrieves all events within [start, end), ordered by timestamp ASC.
func (s *QuoteEventStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.QuoteEvent, error) {
	query := `
		SELECT owner, buy_mint, sell_mint, sell_quantity, amount_out,
		       has_fee, attempts, latency_ms, error_code, timestamp_ms
		FROM quote_events
		WHERE timestamp_ms >= ? AND timestamp_ms < ?
		ORDER BY timestamp_ms ASC, owner ASC
	`

	rows, err := s.conn.Query(ctx, query, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanQuoteEvents(rows)
}

// chRows is the subset of driver.Rows used by scanners.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// scanQuoteEvents scans multiple rows.
func scanQuoteEvents(rows chRows) ([]*domain.QuoteEvent, error) {
	var events []*domain.QuoteEvent

	for rows.Next() {
		var e domain.QuoteEvent
		var attempts uint32
		var latencyMs, timestampMs uint64

		if err := rows.Scan(
			&e.Owner, &e.BuyMint, &e.SellMint, &e.SellQuantity, &e.AmountOut,
			&e.HasFee, &attempts, &latencyMs, &e.ErrorCode, &timestampMs,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		e.Attempts = int(attempts)
		e.LatencyMs = int64(latencyMs)
		e.Timestamp = int64(timestampMs)
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}
