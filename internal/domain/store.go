package domain

import (
	"context"
	"time"
)

// RawStore persists the bronze layer. Rows are append-only and never
// mutated or deleted.
type RawStore interface {
	// Write stores a raw record. A duplicate (source, logical_id,
	// fingerprint) is a no-op success reported as WriteAlreadyPresent.
	Write(ctx context.Context, rec RawRecord) (WriteOutcome, error)

	// ReadLatest returns the most recently fetched raw record for the
	// given identity, for reconciliation and debugging.
	ReadLatest(ctx context.Context, source Source, logicalID string) (RawRecord, error)

	// CountBySource returns the number of raw rows stored for a source.
	CountBySource(ctx context.Context, source Source) (int64, error)
}

// CanonicalStore persists the silver layer.
type CanonicalStore interface {
	// Upsert writes the market only if the row is absent or its stored
	// fingerprint differs from m.LastFingerprint. It returns true when a
	// write happened, false for the no-op case. Replaying the same raw
	// history any number of times converges to the same canonical state.
	Upsert(ctx context.Context, m CanonicalMarket) (bool, error)

	Get(ctx context.Context, source Source, logicalID string) (CanonicalMarket, error)
	List(ctx context.Context, f MarketFilter) ([]CanonicalMarket, error)
	Count(ctx context.Context) (int64, error)
}

// RunStore persists ingestion run metadata and enforces the
// one-running-run-per-(source,load_type) invariant.
type RunStore interface {
	// Begin inserts the run in running status. It returns
	// ErrAlreadyRunning if a running row already exists for the pair.
	Begin(ctx context.Context, run IngestionRun) error

	// Finish sets the terminal status, counts, error summary, and
	// finished_at on the run.
	Finish(ctx context.Context, run IngestionRun) error

	// Running returns the in-progress run for the pair, if any.
	Running(ctx context.Context, source Source, loadType LoadType) (IngestionRun, error)

	// Latest returns the most recent run for the pair regardless of status.
	Latest(ctx context.Context, source Source, loadType LoadType) (IngestionRun, error)

	// LastSucceeded returns the most recent run for the pair that ended
	// succeeded or partial, used as the delta watermark.
	LastSucceeded(ctx context.Context, source Source, loadType LoadType) (IngestionRun, error)

	// ListRecent returns recent runs across all pairs, newest first.
	ListRecent(ctx context.Context, limit int) ([]IngestionRun, error)

	// ReleaseStale marks running rows older than the threshold as failed so
	// the lock can be re-acquired after a crash. It returns the number of
	// rows released.
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RateLimiter bounds outbound request rates per platform.
type RateLimiter interface {
	// Allow reports whether one more request under key is permitted within
	// the sliding window, counting it if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// Wait blocks until a request under key is allowed or ctx is done.
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// LockManager provides coarse cross-process leases (scheduler leadership).
// Run-level mutual exclusion lives in RunStore, not here.
type LockManager interface {
	// Acquire obtains the named lock for ttl, returning an unlock func.
	// It returns ErrLockHeld when another holder owns the lock.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// MarketCache is a read-through cache over the canonical table for the
// serving handlers.
type MarketCache interface {
	Get(ctx context.Context, source Source, logicalID string) (CanonicalMarket, bool, error)
	Set(ctx context.Context, m CanonicalMarket) error
	Invalidate(ctx context.Context, source Source, logicalID string) error
}

// PageArchiver writes fetched pages verbatim to cold storage. The database
// stays authoritative; archival failures must not fail the run.
type PageArchiver interface {
	ArchivePage(ctx context.Context, source Source, loadType LoadType, runID string, pageNum int, records []RawPayload) error
}
