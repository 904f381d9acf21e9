package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oddsync/oddsync/internal/domain"
	"github.com/oddsync/oddsync/internal/ingest"
	"github.com/oddsync/oddsync/internal/normalize"
	"github.com/oddsync/oddsync/internal/platform/polymarket"
	"github.com/oddsync/oddsync/internal/server"
	"github.com/oddsync/oddsync/internal/server/handler"
)

// shutdownGrace bounds how long the HTTP server drains in-flight requests.
const shutdownGrace = 10 * time.Second

// IngestMode runs the scheduler and, when configured, the live price feed.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	a.releaseStaleRuns(ctx, deps)

	sched := a.buildScheduler(deps, a.buildEntries())

	g, ctx := errgroup.WithContext(ctx)
	a.startIngestLoops(ctx, g, sched)
	return g.Wait()
}

// ServeMode runs the HTTP API plus a scheduler with no cadence entries.
// The scheduler loop stays up so manually triggered runs execute on its
// context and drain on shutdown.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	a.releaseStaleRuns(ctx, deps)

	sched := a.buildScheduler(deps, nil)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := sched.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})
	a.startServer(ctx, g, deps, sched)
	return g.Wait()
}

// FullMode runs the scheduler, the live price feed, and the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	a.releaseStaleRuns(ctx, deps)

	sched := a.buildScheduler(deps, a.buildEntries())

	g, ctx := errgroup.WithContext(ctx)
	a.startIngestLoops(ctx, g, sched)
	a.startServer(ctx, g, deps, sched)
	return g.Wait()
}

// RunOnce wires dependencies and executes a single run for the pair, then
// exits. It returns an error when the run ends failed so the process exit
// code reflects the outcome.
func (a *App) RunOnce(ctx context.Context, source domain.Source, loadType domain.LoadType) error {
	a.logger.InfoContext(ctx, "starting one-shot run",
		slog.String("source", string(source)),
		slog.String("load_type", string(loadType)),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	a.releaseStaleRuns(ctx, deps)

	orch := a.buildOrchestrator(deps)
	result, err := orch.Run(ctx, source, loadType)
	if err != nil {
		return fmt.Errorf("app: run once: %w", err)
	}

	a.logger.InfoContext(ctx, "one-shot run complete",
		slog.String("status", string(result.Run.Status)),
		slog.Int("pages_fetched", result.Run.PagesFetched),
		slog.Int("records_written", result.Run.RecordsWritten),
		slog.Int("record_errors", len(result.RecordErrors)),
	)

	if result.Run.Status == domain.RunStatusFailed {
		return fmt.Errorf("app: run ended failed: %s", result.Run.ErrorSummary)
	}
	return nil
}

// startIngestLoops launches the scheduler and the optional polymarket price
// feed on the group.
func (a *App) startIngestLoops(ctx context.Context, g *errgroup.Group, sched *ingest.Scheduler) {
	g.Go(func() error {
		err := sched.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	if a.cfg.Sources.Polymarket.Enabled && a.cfg.Sources.Polymarket.WSEnabled {
		stream := polymarket.NewPriceStream(
			a.cfg.Sources.Polymarket.WSHost,
			func(marketID string) { sched.Kick(domain.SourcePolymarket) },
			a.logger,
		)
		g.Go(func() error {
			err := stream.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("price stream: %w", err)
		})
	}
}

// startServer launches the HTTP API on the group with graceful shutdown.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, sched *ingest.Scheduler) {
	if !a.cfg.Server.Enabled {
		return
	}

	srv := server.NewServer(
		server.Config{
			Port:        a.cfg.Server.Port,
			CORSOrigins: a.cfg.Server.CORSOrigins,
			APIKey:      a.cfg.Server.APIKey,
		},
		server.Handlers{
			Health:    handler.NewHealthHandler(a.logger),
			Markets:   handler.NewMarketHandler(deps.CanonicalStore, deps.MarketCache, a.logger),
			Ingestion: handler.NewIngestionHandler(sched, deps.RunStore, a.logger),
		},
		a.logger,
	)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// buildOrchestrator assembles the run executor from wired dependencies.
func (a *App) buildOrchestrator(deps *Dependencies) *ingest.Orchestrator {
	return ingest.NewOrchestrator(
		deps.Clients,
		deps.RawStore,
		deps.CanonicalStore,
		deps.RunStore,
		normalize.New(),
		deps.Archiver,
		deps.MarketCache,
		ingest.SystemClock(),
		ingest.OrchestratorConfig{
			PageBuffer:        a.cfg.Ingest.PageBuffer,
			DeltaFallback:     a.cfg.Ingest.DeltaFallback.Duration,
			ErrorSummaryLimit: a.cfg.Ingest.ErrorSummaryLimit,
		},
		a.logger,
	)
}

// buildScheduler assembles a scheduler over the given cadence entries.
func (a *App) buildScheduler(deps *Dependencies, entries []ingest.Entry) *ingest.Scheduler {
	var locks domain.LockManager
	if a.cfg.Scheduler.LeaderLock {
		locks = deps.LockManager
	}

	return ingest.NewScheduler(
		a.buildOrchestrator(deps),
		entries,
		locks,
		deps.Notifier,
		ingest.SystemClock(),
		ingest.SchedulerConfig{
			TickInterval: a.cfg.Scheduler.TickInterval.Duration,
			RunSlots:     a.cfg.Scheduler.RunSlots,
			KickCooldown: a.cfg.Scheduler.KickCooldown.Duration,
		},
		a.logger,
	)
}

// buildEntries expands the per-source cadence configuration into scheduler
// entries, one full and one delta per enabled source.
func (a *App) buildEntries() []ingest.Entry {
	type sourceCadence struct {
		source domain.Source
		full   time.Duration
		delta  time.Duration
		on     bool
	}

	cadences := []sourceCadence{
		{domain.SourcePolymarket, a.cfg.Sources.Polymarket.FullCadence.Duration, a.cfg.Sources.Polymarket.DeltaCadence.Duration, a.cfg.Sources.Polymarket.Enabled},
		{domain.SourceKalshi, a.cfg.Sources.Kalshi.FullCadence.Duration, a.cfg.Sources.Kalshi.DeltaCadence.Duration, a.cfg.Sources.Kalshi.Enabled},
		{domain.SourceManifold, a.cfg.Sources.Manifold.FullCadence.Duration, a.cfg.Sources.Manifold.DeltaCadence.Duration, a.cfg.Sources.Manifold.Enabled},
		{domain.SourcePredictIt, a.cfg.Sources.PredictIt.FullCadence.Duration, a.cfg.Sources.PredictIt.DeltaCadence.Duration, a.cfg.Sources.PredictIt.Enabled},
	}

	var entries []ingest.Entry
	for _, c := range cadences {
		if !c.on {
			continue
		}
		entries = append(entries,
			ingest.Entry{Source: c.source, LoadType: domain.LoadFull, Cadence: c.full},
			ingest.Entry{Source: c.source, LoadType: domain.LoadDelta, Cadence: c.delta},
		)
	}
	return entries
}

// releaseStaleRuns marks running rows abandoned by a crashed process as
// failed so their pairs can be scheduled again.
func (a *App) releaseStaleRuns(ctx context.Context, deps *Dependencies) {
	released, err := deps.RunStore.ReleaseStale(ctx, a.cfg.Ingest.StaleRunAfter.Duration)
	if err != nil {
		a.logger.WarnContext(ctx, "stale run release failed", slog.String("error", err.Error()))
		return
	}
	if released > 0 {
		a.logger.InfoContext(ctx, "released stale runs", slog.Int64("count", released))
	}
}
