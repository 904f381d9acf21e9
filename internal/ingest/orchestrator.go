// Package ingest coordinates ingestion runs: the orchestrator executes a
// single (source, load type) run end to end, and the scheduler decides when
// runs happen.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/oddsync/oddsync/internal/domain"
	"github.com/oddsync/oddsync/internal/fingerprint"
	"github.com/oddsync/oddsync/internal/normalize"
)

// finishTimeout bounds the terminal status write after the run context is
// cancelled. Without it a shutdown could strand a run in running status.
const finishTimeout = 10 * time.Second

// OrchestratorConfig carries the tunables for run execution.
type OrchestratorConfig struct {
	// PageBuffer is how many fetched pages may sit between the fetch
	// goroutine and record processing. 1 gives classic pipelining: page N+1
	// is fetched while page N is processed.
	PageBuffer int

	// DeltaFallback is how far back a delta run reaches when no prior
	// succeeded run exists to provide a watermark.
	DeltaFallback time.Duration

	// ErrorSummaryLimit caps how many record errors are written into the
	// run's error summary. The full list still goes to the caller.
	ErrorSummaryLimit int
}

// Orchestrator executes ingestion runs. For each record it computes the
// content fingerprint, appends to the raw layer, normalizes, and upserts the
// canonical row. Record-level failures are collected, not fatal; a source or
// storage failure mid-run ends the run with partial or failed status. Every
// exit path, cancellation included, writes a terminal status.
type Orchestrator struct {
	clients    map[domain.Source]domain.SourceClient
	raw        domain.RawStore
	canonical  domain.CanonicalStore
	runs       domain.RunStore
	normalizer *normalize.Normalizer
	archiver   domain.PageArchiver
	cache      domain.MarketCache
	clock      Clock
	cfg        OrchestratorConfig
	logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator over the given source clients and
// stores. archiver and cache are optional; pass nil to disable page archival
// and cache invalidation.
func NewOrchestrator(
	clients []domain.SourceClient,
	raw domain.RawStore,
	canonical domain.CanonicalStore,
	runs domain.RunStore,
	normalizer *normalize.Normalizer,
	archiver domain.PageArchiver,
	cache domain.MarketCache,
	clock Clock,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	bySource := make(map[domain.Source]domain.SourceClient, len(clients))
	for _, c := range clients {
		bySource[c.Source()] = c
	}
	if cfg.PageBuffer <= 0 {
		cfg.PageBuffer = 1
	}
	if cfg.DeltaFallback <= 0 {
		cfg.DeltaFallback = 24 * time.Hour
	}
	if cfg.ErrorSummaryLimit <= 0 {
		cfg.ErrorSummaryLimit = 10
	}
	return &Orchestrator{
		clients:    bySource,
		raw:        raw,
		canonical:  canonical,
		runs:       runs,
		normalizer: normalizer,
		archiver:   archiver,
		cache:      cache,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "orchestrator")),
	}
}

// runState accumulates progress for one run. It is mutated only by the
// record-processing loop, never by the fetch goroutine.
type runState struct {
	pagesFetched   int
	recordsWritten int
	recordErrors   []domain.RecordError
}

// Run executes one ingestion run for the pair and returns its result. It
// fails fast with ErrAlreadyRunning when a run for the same pair is still
// in progress anywhere, including other processes.
func (o *Orchestrator) Run(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.RunResult, error) {
	client, ok := o.clients[source]
	if !ok {
		return domain.RunResult{}, fmt.Errorf("ingest: no client configured for source %q", source)
	}
	if !loadType.Valid() {
		return domain.RunResult{}, fmt.Errorf("ingest: unknown load type %q", loadType)
	}

	run := domain.IngestionRun{
		ID:        uuid.NewString(),
		Source:    source,
		LoadType:  loadType,
		Status:    domain.RunStatusRunning,
		StartedAt: o.clock.Now(),
	}
	if err := o.runs.Begin(ctx, run); err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			o.logger.Info("run rejected, pair already running",
				slog.String("source", string(source)),
				slog.String("load_type", string(loadType)),
			)
		}
		return domain.RunResult{}, fmt.Errorf("ingest: begin run: %w", err)
	}

	o.logger.Info("run started",
		slog.String("run_id", run.ID),
		slog.String("source", string(source)),
		slog.String("load_type", string(loadType)),
	)

	state := &runState{}
	var execErr error
	switch loadType {
	case domain.LoadFull:
		execErr = o.runFull(ctx, client, run, state)
	case domain.LoadDelta:
		execErr = o.runDelta(ctx, client, run, state)
	}

	run.Status = terminalStatus(ctx, execErr, state)
	run.PagesFetched = state.pagesFetched
	run.RecordsWritten = state.recordsWritten
	run.ErrorSummary = buildErrorSummary(ctx, execErr, state.recordErrors, o.cfg.ErrorSummaryLimit)

	// The finish write must land even when ctx was cancelled, otherwise the
	// run stays running and the pair is locked until stale release.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	now := o.clock.Now()
	run.FinishedAt = &now
	if err := o.runs.Finish(finishCtx, run); err != nil {
		o.logger.Error("run finish write failed",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
		return domain.RunResult{Run: run, RecordErrors: state.recordErrors}, fmt.Errorf("ingest: finish run: %w", err)
	}

	o.logger.Info("run finished",
		slog.String("run_id", run.ID),
		slog.String("source", string(source)),
		slog.String("load_type", string(loadType)),
		slog.String("status", string(run.Status)),
		slog.Int("pages_fetched", run.PagesFetched),
		slog.Int("records_written", run.RecordsWritten),
		slog.Int("record_errors", len(state.recordErrors)),
		slog.Duration("elapsed", now.Sub(run.StartedAt)),
	)

	return domain.RunResult{Run: run, RecordErrors: state.recordErrors}, nil
}

// fetchedPage pairs a page's records with its 1-based position in the run.
type fetchedPage struct {
	num     int
	records []domain.RawPayload
}

// runFull pulls pages until the client reports exhaustion. Fetching runs one
// page ahead of processing; records within the stream are processed strictly
// in fetch order so fingerprint supersession stays monotonic.
func (o *Orchestrator) runFull(ctx context.Context, client domain.SourceClient, run domain.IngestionRun, state *runState) error {
	pages := make(chan fetchedPage, o.cfg.PageBuffer)

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	var g errgroup.Group
	g.Go(func() error {
		defer close(pages)
		cursor := ""
		for num := 1; ; num++ {
			page, err := client.FetchFull(fetchCtx, cursor)
			if err != nil {
				return fmt.Errorf("fetch page %d: %w", num, err)
			}
			select {
			case pages <- fetchedPage{num: num, records: page.Records}:
			case <-fetchCtx.Done():
				return fetchCtx.Err()
			}
			if page.Done {
				return nil
			}
			cursor = page.NextCursor
		}
	})

	var procErr error
	for page := range pages {
		if procErr != nil {
			continue // drain so the fetch goroutine can exit
		}
		if procErr = o.processPage(ctx, run, page, state); procErr != nil {
			cancelFetch()
		}
	}

	fetchErr := g.Wait()
	if procErr != nil {
		return procErr
	}
	if fetchErr != nil && !errors.Is(fetchErr, context.Canceled) {
		return fetchErr
	}
	return ctx.Err()
}

// runDelta fetches everything changed since the watermark and processes it
// as a single page. The watermark is the start time of the last succeeded
// run for the pair, so records arriving during that run are re-fetched
// rather than skipped; the fingerprint makes the overlap a no-op.
func (o *Orchestrator) runDelta(ctx context.Context, client domain.SourceClient, run domain.IngestionRun, state *runState) error {
	since, err := o.deltaWatermark(ctx, run.Source, run.LoadType)
	if err != nil {
		return err
	}

	records, err := client.FetchDelta(ctx, since)
	if err != nil {
		return fmt.Errorf("fetch delta since %s: %w", since.Format(time.RFC3339), err)
	}
	return o.processPage(ctx, run, fetchedPage{num: 1, records: records}, state)
}

// deltaWatermark picks the since time for a delta run.
func (o *Orchestrator) deltaWatermark(ctx context.Context, source domain.Source, loadType domain.LoadType) (time.Time, error) {
	last, err := o.runs.LastSucceeded(ctx, source, loadType)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return o.clock.Now().Add(-o.cfg.DeltaFallback), nil
		}
		return time.Time{}, fmt.Errorf("ingest: delta watermark: %w", err)
	}
	return last.StartedAt, nil
}

// processPage runs one page's records through hash, raw write, normalize,
// and canonical upsert. Record-level failures are accumulated on the state;
// storage failures and cancellation abort the page.
func (o *Orchestrator) processPage(ctx context.Context, run domain.IngestionRun, page fetchedPage, state *runState) error {
	fetchedAt := o.clock.Now()

	for _, rec := range page.records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.processRecord(ctx, run, rec, fetchedAt, state); err != nil {
			return err
		}
	}
	state.pagesFetched++

	if o.archiver != nil && len(page.records) > 0 {
		if err := o.archiver.ArchivePage(ctx, run.Source, run.LoadType, run.ID, page.num, page.records); err != nil {
			// The database copy is authoritative; a cold-storage miss is
			// not worth failing the run.
			o.logger.Warn("page archive failed",
				slog.String("run_id", run.ID),
				slog.Int("page", page.num),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// processRecord moves a single record through the layers. A returned error
// aborts the run; contained failures are recorded on the state instead.
func (o *Orchestrator) processRecord(ctx context.Context, run domain.IngestionRun, payload domain.RawPayload, fetchedAt time.Time, state *runState) error {
	fp, err := fingerprint.Compute(run.Source, payload.LogicalID, payload.Document)
	if err != nil {
		state.recordErrors = append(state.recordErrors, domain.RecordError{LogicalID: payload.LogicalID, Err: err})
		return nil
	}

	rec := domain.RawRecord{
		Source:      run.Source,
		LogicalID:   payload.LogicalID,
		Fingerprint: fp,
		Payload:     payload.Document,
		FetchedAt:   fetchedAt,
		LoadType:    run.LoadType,
	}
	outcome, err := o.raw.Write(ctx, rec)
	if err != nil {
		return fmt.Errorf("raw write %s: %w", payload.LogicalID, err)
	}
	if outcome == domain.WriteInserted {
		state.recordsWritten++
	}

	market, err := o.normalizer.Normalize(rec)
	if err != nil {
		if domain.IsNormalizationError(err) {
			o.logger.Warn("record skipped",
				slog.String("run_id", run.ID),
				slog.String("logical_id", payload.LogicalID),
				slog.String("error", err.Error()),
			)
			state.recordErrors = append(state.recordErrors, domain.RecordError{LogicalID: payload.LogicalID, Err: err})
			return nil
		}
		return fmt.Errorf("normalize %s: %w", payload.LogicalID, err)
	}

	updated, err := o.canonical.Upsert(ctx, market)
	if err != nil {
		return fmt.Errorf("canonical upsert %s: %w", payload.LogicalID, err)
	}
	if updated && o.cache != nil {
		if err := o.cache.Invalidate(ctx, market.Source, market.LogicalID); err != nil {
			o.logger.Warn("cache invalidate failed",
				slog.String("logical_id", market.LogicalID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// terminalStatus maps the run outcome onto a terminal status. A mid-run
// failure downgrades to partial when at least one page completed, and a
// cancelled run always ends failed.
func terminalStatus(ctx context.Context, execErr error, state *runState) domain.RunStatus {
	if ctx.Err() != nil {
		return domain.RunStatusFailed
	}
	if execErr != nil {
		if state.pagesFetched >= 1 {
			return domain.RunStatusPartial
		}
		return domain.RunStatusFailed
	}
	return domain.RunStatusSucceeded
}

// buildErrorSummary renders the run's failures as capped flat text, one
// line per failure, for the error_summary column.
func buildErrorSummary(ctx context.Context, execErr error, recordErrors []domain.RecordError, limit int) string {
	var lines []string
	if ctx.Err() != nil {
		lines = append(lines, "run cancelled: "+context.Cause(ctx).Error())
	}
	if execErr != nil && !errors.Is(execErr, context.Canceled) {
		lines = append(lines, execErr.Error())
	}
	for i, re := range recordErrors {
		if i >= limit {
			lines = append(lines, fmt.Sprintf("... and %d more record errors", len(recordErrors)-limit))
			break
		}
		lines = append(lines, fmt.Sprintf("%s: %s", re.LogicalID, re.Err.Error()))
	}
	return strings.Join(lines, "\n")
}
