package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsync/oddsync/internal/domain"
)

// RawStore implements domain.RawStore using PostgreSQL.
type RawStore struct {
	pool *pgxpool.Pool
}

// NewRawStore creates a RawStore backed by the given connection pool.
func NewRawStore(pool *pgxpool.Pool) *RawStore {
	return &RawStore{pool: pool}
}

// Write appends one raw record. The unique key on
// (source, logical_id, fingerprint) turns a duplicate insert into a clean
// no-op: ON CONFLICT DO NOTHING, outcome derived from the affected-row
// count. Existing rows are never touched.
func (s *RawStore) Write(ctx context.Context, rec domain.RawRecord) (domain.WriteOutcome, error) {
	const query = `
		INSERT INTO raw_records (
			source, logical_id, fingerprint, payload, fetched_at, load_type
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT ON CONSTRAINT raw_records_identity DO NOTHING`

	var tag int64
	err := withRetry(ctx, fmt.Sprintf("write raw %s/%s", rec.Source, rec.LogicalID), func(ctx context.Context) error {
		ct, err := s.pool.Exec(ctx, query,
			string(rec.Source), rec.LogicalID, string(rec.Fingerprint),
			rec.Payload, rec.FetchedAt, string(rec.LoadType),
		)
		if err != nil {
			return err
		}
		tag = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return domain.WriteAlreadyPresent, err
	}

	if tag == 0 {
		return domain.WriteAlreadyPresent, nil
	}
	return domain.WriteInserted, nil
}

// ReadLatest returns the most recently fetched raw row for the identity.
func (s *RawStore) ReadLatest(ctx context.Context, source domain.Source, logicalID string) (domain.RawRecord, error) {
	const query = `
		SELECT source, logical_id, fingerprint, payload, fetched_at, load_type
		FROM raw_records
		WHERE source = $1 AND logical_id = $2
		ORDER BY fetched_at DESC
		LIMIT 1`

	var (
		rec      domain.RawRecord
		src      string
		loadType string
	)
	err := s.pool.QueryRow(ctx, query, string(source), logicalID).Scan(
		&src, &rec.LogicalID, &rec.Fingerprint,
		&rec.Payload, &rec.FetchedAt, &loadType,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RawRecord{}, domain.ErrNotFound
		}
		return domain.RawRecord{}, fmt.Errorf("postgres: read latest raw %s/%s: %w", source, logicalID, err)
	}
	rec.Source = domain.Source(src)
	rec.LoadType = domain.LoadType(loadType)
	return rec, nil
}

// CountBySource returns the number of raw rows stored for a source.
func (s *RawStore) CountBySource(ctx context.Context, source domain.Source) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM raw_records WHERE source = $1", string(source),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count raw %s: %w", source, err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.RawStore = (*RawStore)(nil)
