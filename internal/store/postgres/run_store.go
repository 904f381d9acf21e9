package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddsync/oddsync/internal/domain"
)

// uniqueViolation is the PostgreSQL error code for unique-constraint hits.
const uniqueViolation = "23505"

// RunStore implements domain.RunStore using PostgreSQL. The partial unique
// index ingestion_runs_one_running makes Begin the run lock: the insert
// either claims the (source, load_type) slot or fails with a unique
// violation, which is surfaced as ErrAlreadyRunning.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// Begin inserts the run in running status, acquiring the pair's run slot.
func (s *RunStore) Begin(ctx context.Context, run domain.IngestionRun) error {
	const query = `
		INSERT INTO ingestion_runs (
			id, source, load_type, status, started_at
		) VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, query,
		run.ID, string(run.Source), string(run.LoadType),
		string(domain.RunStatusRunning), run.StartedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("postgres: begin run %s/%s: %w", run.Source, run.LoadType, domain.ErrAlreadyRunning)
		}
		return fmt.Errorf("postgres: begin run %s/%s: %w", run.Source, run.LoadType, err)
	}
	return nil
}

// Finish records the terminal status and counters, releasing the run slot.
func (s *RunStore) Finish(ctx context.Context, run domain.IngestionRun) error {
	const query = `
		UPDATE ingestion_runs SET
			status          = $2,
			finished_at     = $3,
			pages_fetched   = $4,
			records_written = $5,
			error_summary   = $6
		WHERE id = $1 AND status = 'running'`

	return withRetry(ctx, fmt.Sprintf("finish run %s", run.ID), func(ctx context.Context) error {
		ct, err := s.pool.Exec(ctx, query,
			run.ID, string(run.Status), run.FinishedAt,
			run.PagesFetched, run.RecordsWritten, run.ErrorSummary,
		)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return fmt.Errorf("run %s not found or already terminal", run.ID)
		}
		return nil
	})
}

const runCols = `id, source, load_type, status, started_at, finished_at,
	pages_fetched, records_written, error_summary`

// scanRun scans a single run row.
func scanRun(row pgx.Row) (domain.IngestionRun, error) {
	var (
		run      domain.IngestionRun
		src      string
		loadType string
		status   string
	)
	err := row.Scan(
		&run.ID, &src, &loadType, &status,
		&run.StartedAt, &run.FinishedAt,
		&run.PagesFetched, &run.RecordsWritten, &run.ErrorSummary,
	)
	if err != nil {
		return domain.IngestionRun{}, err
	}
	run.Source = domain.Source(src)
	run.LoadType = domain.LoadType(loadType)
	run.Status = domain.RunStatus(status)
	return run, nil
}

// Running returns the in-progress run for the pair, if any.
func (s *RunStore) Running(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.IngestionRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runCols+` FROM ingestion_runs
		WHERE source = $1 AND load_type = $2 AND status = 'running'`,
		string(source), string(loadType))
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IngestionRun{}, domain.ErrNotFound
		}
		return domain.IngestionRun{}, fmt.Errorf("postgres: running run %s/%s: %w", source, loadType, err)
	}
	return run, nil
}

// Latest returns the most recent run for the pair regardless of status.
func (s *RunStore) Latest(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.IngestionRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runCols+` FROM ingestion_runs
		WHERE source = $1 AND load_type = $2
		ORDER BY started_at DESC LIMIT 1`,
		string(source), string(loadType))
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IngestionRun{}, domain.ErrNotFound
		}
		return domain.IngestionRun{}, fmt.Errorf("postgres: latest run %s/%s: %w", source, loadType, err)
	}
	return run, nil
}

// LastSucceeded returns the most recent run that ended succeeded or
// partial, used as the delta watermark.
func (s *RunStore) LastSucceeded(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.IngestionRun, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+runCols+` FROM ingestion_runs
		WHERE source = $1 AND load_type = $2 AND status IN ('succeeded', 'partial')
		ORDER BY started_at DESC LIMIT 1`,
		string(source), string(loadType))
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.IngestionRun{}, domain.ErrNotFound
		}
		return domain.IngestionRun{}, fmt.Errorf("postgres: last succeeded run %s/%s: %w", source, loadType, err)
	}
	return run, nil
}

// ListRecent returns recent runs across all pairs, newest first.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]domain.IngestionRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+runCols+` FROM ingestion_runs ORDER BY started_at DESC LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.IngestionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list recent runs rows: %w", err)
	}
	return runs, nil
}

// ReleaseStale marks running rows older than the threshold as failed so
// the slot can be re-acquired after a crash.
func (s *RunStore) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	const query = `
		UPDATE ingestion_runs SET
			status        = 'failed',
			finished_at   = NOW(),
			error_summary = 'released stale run'
		WHERE status = 'running' AND started_at < $1`

	ct, err := s.pool.Exec(ctx, query, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("postgres: release stale runs: %w", err)
	}
	return ct.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.RunStore = (*RunStore)(nil)
