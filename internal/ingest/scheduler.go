package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/oddsync/oddsync/internal/domain"
)

// leaderLockKey names the cross-process lease a scheduler replica must hold
// for one tick pass. The run lock in the run store is the real mutual
// exclusion; this only keeps replicas from racing every tick.
const leaderLockKey = "scheduler:leader"

// Runner is the slice of the orchestrator the scheduler needs.
type Runner interface {
	Run(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.RunResult, error)
}

// Notifier receives scheduler and run lifecycle events. Implementations
// must not block for long; delivery failures are their problem to log.
type Notifier interface {
	RunFinished(ctx context.Context, run domain.IngestionRun)
	TickSkipped(ctx context.Context, source domain.Source, loadType domain.LoadType)
}

// Entry is one scheduled (source, load type) pair and its cadence.
type Entry struct {
	Source   domain.Source
	LoadType domain.LoadType
	Cadence  time.Duration
}

// SchedulerConfig carries the scheduler tunables.
type SchedulerConfig struct {
	// TickInterval is how often due entries are evaluated.
	TickInterval time.Duration

	// RunSlots bounds how many runs may execute concurrently.
	RunSlots int64

	// KickCooldown is the minimum spacing between honored activity kicks
	// for the same source.
	KickCooldown time.Duration
}

type pairKey struct {
	source   domain.Source
	loadType domain.LoadType
}

// Scheduler triggers orchestrator runs on per-pair cadences. Each tick it
// starts every entry whose due time has passed, unless that pair is still
// in flight, in which case the tick is skipped and the due time left alone
// so the next tick retries. On trigger the next due time is set to
// now + cadence, measured from trigger time rather than completion, which
// keeps the slots wall-clock aligned no matter how long runs take.
type Scheduler struct {
	orch     Runner
	locks    domain.LockManager
	notifier Notifier
	clock    Clock
	cfg      SchedulerConfig
	logger   *slog.Logger

	slots *semaphore.Weighted

	mu       sync.Mutex
	base     context.Context
	entries  map[pairKey]Entry
	nextDue  map[pairKey]time.Time
	inflight map[pairKey]bool
	lastKick map[domain.Source]time.Time

	wg sync.WaitGroup
}

// NewScheduler creates a Scheduler over the given entries. locks and
// notifier are optional; pass nil to run without a leader lease or without
// event delivery.
func NewScheduler(
	orch Runner,
	entries []Entry,
	locks domain.LockManager,
	notifier Notifier,
	clock Clock,
	cfg SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Minute
	}
	if cfg.RunSlots <= 0 {
		cfg.RunSlots = 4
	}
	if cfg.KickCooldown <= 0 {
		cfg.KickCooldown = 30 * time.Second
	}

	s := &Scheduler{
		orch:     orch,
		locks:    locks,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "scheduler")),
		slots:    semaphore.NewWeighted(cfg.RunSlots),
		entries:  make(map[pairKey]Entry, len(entries)),
		nextDue:  make(map[pairKey]time.Time, len(entries)),
		inflight: make(map[pairKey]bool, len(entries)),
		lastKick: make(map[domain.Source]time.Time),
	}
	now := clock.Now()
	for _, e := range entries {
		k := pairKey{source: e.Source, loadType: e.LoadType}
		s.entries[k] = e
		s.nextDue[k] = now // everything is due on the first pass
	}
	return s
}

// Run ticks until ctx is cancelled, then waits for in-flight runs to
// finish. The runs themselves observe ctx and end with a terminal failed
// status when cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx // triggered runs execute on the loop's context, not the caller's
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		slog.Duration("tick_interval", s.cfg.TickInterval),
		slog.Int64("run_slots", s.cfg.RunSlots),
		slog.Int("entries", len(s.entries)),
	)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	s.Tick(ctx, s.clock.Now())
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx, s.clock.Now())
		}
	}
}

// Tick runs one scheduling pass at the given instant. Exported so the tick
// loop and tests share the same path.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	due := s.dueEntries(now)
	if len(due) == 0 {
		return
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, leaderLockKey, s.cfg.TickInterval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				s.logger.Debug("tick pass ceded to lease holder")
				return
			}
			s.logger.Warn("leader lease unavailable, ticking anyway", slog.String("error", err.Error()))
		} else {
			defer unlock()
		}
	}

	for k, e := range due {
		s.trigger(ctx, k, e, now)
	}
}

// dueEntries snapshots the entries whose due time has passed.
func (s *Scheduler) dueEntries(now time.Time) map[pairKey]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make(map[pairKey]Entry)
	for k, e := range s.entries {
		if !s.nextDue[k].After(now) {
			due[k] = e
		}
	}
	return due
}

// trigger starts one run if the pair is idle. A still-running pair logs a
// skipped tick and leaves the due time untouched.
func (s *Scheduler) trigger(ctx context.Context, k pairKey, e Entry, now time.Time) {
	s.mu.Lock()
	if s.inflight[k] {
		s.mu.Unlock()
		s.logger.Info("tick skipped, run still in progress",
			slog.String("source", string(k.source)),
			slog.String("load_type", string(k.loadType)),
		)
		if s.notifier != nil {
			s.notifier.TickSkipped(ctx, k.source, k.loadType)
		}
		return
	}
	s.inflight[k] = true
	s.nextDue[k] = now.Add(e.Cadence)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.execute(ctx, k)
}

// execute waits for a run slot and runs the pair, then reports the result.
func (s *Scheduler) execute(ctx context.Context, k pairKey) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.inflight[k] = false
		s.mu.Unlock()
	}()

	if err := s.slots.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.slots.Release(1)

	result, err := s.orch.Run(ctx, k.source, k.loadType)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			// Another process owns the pair. Normal in a multi-replica
			// deployment.
			s.logger.Info("run held elsewhere",
				slog.String("source", string(k.source)),
				slog.String("load_type", string(k.loadType)),
			)
			return
		}
		s.logger.Error("run failed to execute",
			slog.String("source", string(k.source)),
			slog.String("load_type", string(k.loadType)),
			slog.String("error", err.Error()),
		)
		return
	}

	if s.notifier != nil && result.Run.Status != domain.RunStatusSucceeded {
		s.notifier.RunFinished(ctx, result.Run)
	}
}

// Kick pulls the source's delta run forward to the next tick. The live
// price feed calls this when it sees activity, so a busy market is not
// stuck waiting out a full cadence. Kicks inside the cooldown window are
// dropped.
func (s *Scheduler) Kick(source domain.Source) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastKick[source]; ok && now.Sub(last) < s.cfg.KickCooldown {
		return
	}

	k := pairKey{source: source, loadType: domain.LoadDelta}
	if _, ok := s.entries[k]; !ok {
		return
	}
	s.lastKick[source] = now
	if s.nextDue[k].After(now) {
		s.nextDue[k] = now
		s.logger.Debug("delta run kicked forward", slog.String("source", string(source)))
	}
}

// NextDue reports the pair's next due time, for the status API.
func (s *Scheduler) NextDue(source domain.Source, loadType domain.LoadType) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due, ok := s.nextDue[pairKey{source: source, loadType: loadType}]
	return due, ok
}

// Trigger runs the pair immediately, outside any cadence. It backs the
// manual trigger endpoint, so the run must outlive the caller: the work
// executes on the scheduler's own context, and ctx only scopes the trigger
// admission itself.
func (s *Scheduler) Trigger(ctx context.Context, source domain.Source, loadType domain.LoadType) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	k := pairKey{source: source, loadType: loadType}

	s.mu.Lock()
	if s.inflight[k] {
		s.mu.Unlock()
		return fmt.Errorf("ingest: trigger %s/%s: %w", source, loadType, domain.ErrAlreadyRunning)
	}
	s.inflight[k] = true
	if e, ok := s.entries[k]; ok {
		s.nextDue[k] = s.clock.Now().Add(e.Cadence)
	}
	runCtx := s.base
	s.mu.Unlock()

	if runCtx == nil {
		runCtx = context.Background()
	}
	s.wg.Add(1)
	go s.execute(runCtx, k)
	return nil
}
