package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsync/oddsync/internal/domain"
)

// CanonicalStore implements domain.CanonicalStore using PostgreSQL.
type CanonicalStore struct {
	pool *pgxpool.Pool
}

// NewCanonicalStore creates a CanonicalStore backed by the given pool.
func NewCanonicalStore(pool *pgxpool.Pool) *CanonicalStore {
	return &CanonicalStore{pool: pool}
}

// Upsert writes the market only when the row is absent or its stored
// fingerprint differs. The guard lives in the DO UPDATE WHERE clause, so
// the check and the write are a single-row transaction; the affected-row
// count distinguishes a write from the no-op case.
func (s *CanonicalStore) Upsert(ctx context.Context, m domain.CanonicalMarket) (bool, error) {
	extra, err := json.Marshal(m.ExtraData)
	if err != nil {
		return false, fmt.Errorf("postgres: marshal extra_data %s/%s: %w", m.Source, m.LogicalID, err)
	}

	const query = `
		INSERT INTO canonical_markets (
			source, logical_id, title, status, yes_price, no_price,
			extra_data, last_updated_at, last_fingerprint
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (source, logical_id) DO UPDATE SET
			title            = EXCLUDED.title,
			status           = EXCLUDED.status,
			yes_price        = EXCLUDED.yes_price,
			no_price         = EXCLUDED.no_price,
			extra_data       = EXCLUDED.extra_data,
			last_updated_at  = EXCLUDED.last_updated_at,
			last_fingerprint = EXCLUDED.last_fingerprint
		WHERE canonical_markets.last_fingerprint IS DISTINCT FROM EXCLUDED.last_fingerprint`

	var affected int64
	err = withRetry(ctx, fmt.Sprintf("upsert canonical %s/%s", m.Source, m.LogicalID), func(ctx context.Context) error {
		ct, err := s.pool.Exec(ctx, query,
			string(m.Source), m.LogicalID, m.Title, string(m.Status),
			m.YesPrice, m.NoPrice, extra, m.LastUpdatedAt, string(m.LastFingerprint),
		)
		if err != nil {
			return err
		}
		affected = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

const marketCols = `source, logical_id, title, status, yes_price, no_price,
	extra_data, last_updated_at, last_fingerprint`

// scanMarket scans a single canonical row.
func scanMarket(row pgx.Row) (domain.CanonicalMarket, error) {
	var (
		m      domain.CanonicalMarket
		src    string
		status string
		extra  []byte
	)
	err := row.Scan(
		&src, &m.LogicalID, &m.Title, &status,
		&m.YesPrice, &m.NoPrice, &extra,
		&m.LastUpdatedAt, &m.LastFingerprint,
	)
	if err != nil {
		return domain.CanonicalMarket{}, err
	}
	m.Source = domain.Source(src)
	m.Status = domain.MarketStatus(status)
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &m.ExtraData); err != nil {
			return domain.CanonicalMarket{}, fmt.Errorf("decode extra_data: %w", err)
		}
	}
	return m, nil
}

// Get retrieves a canonical market by identity.
func (s *CanonicalStore) Get(ctx context.Context, source domain.Source, logicalID string) (domain.CanonicalMarket, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM canonical_markets WHERE source = $1 AND logical_id = $2`,
		string(source), logicalID)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CanonicalMarket{}, domain.ErrNotFound
		}
		return domain.CanonicalMarket{}, fmt.Errorf("postgres: get canonical %s/%s: %w", source, logicalID, err)
	}
	return m, nil
}

// List returns canonical markets filtered by source, status, and update
// time range, newest first.
func (s *CanonicalStore) List(ctx context.Context, f domain.MarketFilter) ([]domain.CanonicalMarket, error) {
	query := `SELECT ` + marketCols + ` FROM canonical_markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if f.Source != "" {
		query += fmt.Sprintf(" AND source = $%d", argIdx)
		args = append(args, string(f.Source))
		argIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	if f.Since != nil {
		query += fmt.Sprintf(" AND last_updated_at >= $%d", argIdx)
		args = append(args, *f.Since)
		argIdx++
	}
	if f.Until != nil {
		query += fmt.Sprintf(" AND last_updated_at <= $%d", argIdx)
		args = append(args, *f.Until)
		argIdx++
	}

	query += " ORDER BY last_updated_at DESC"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, f.Limit)
		argIdx++
	}
	if f.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list canonical markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.CanonicalMarket
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan canonical market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list canonical markets rows: %w", err)
	}
	return markets, nil
}

// Count returns the total number of canonical rows.
func (s *CanonicalStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM canonical_markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count canonical markets: %w", err)
	}
	return count, nil
}

// Compile-time interface check.
var _ domain.CanonicalStore = (*CanonicalStore)(nil)
