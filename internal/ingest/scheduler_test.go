package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsync/oddsync/internal/domain"
)

func newTestScheduler(runner Runner, clock Clock, notifier Notifier, entries []Entry) *Scheduler {
	return NewScheduler(runner, entries, nil, notifier, clock, SchedulerConfig{
		TickInterval: time.Minute,
		RunSlots:     4,
		KickCooldown: 30 * time.Second,
	}, testLogger())
}

func waitInflightDone(t *testing.T, s *Scheduler, k pairKey) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.inflight[k]
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerDriftCorrection(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(t0)
	gate := make(chan struct{})
	runner := &fakeRunner{gate: gate}
	notifier := &fakeNotifier{}
	entry := Entry{Source: domain.SourceKalshi, LoadType: domain.LoadDelta, Cadence: time.Hour}
	s := newTestScheduler(runner, clock, notifier, []Entry{entry})
	k := pairKey{source: domain.SourceKalshi, loadType: domain.LoadDelta}
	ctx := context.Background()

	// First pass triggers immediately and schedules the next slot from
	// trigger time.
	s.Tick(ctx, t0)
	require.Eventually(t, func() bool {
		return runner.startCount() == 1
	}, time.Second, 5*time.Millisecond)

	due, ok := s.NextDue(domain.SourceKalshi, domain.LoadDelta)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), due)

	// Not due yet at t0+59m.
	s.Tick(ctx, clock.Advance(59*time.Minute))
	assert.Equal(t, 1, runner.startCount())

	// Due at t0+60m but the first run is still in flight: the tick is
	// skipped and the due time is left alone so the next tick retries.
	s.Tick(ctx, clock.Advance(time.Minute))
	assert.Equal(t, 1, runner.startCount())
	assert.Equal(t, 1, notifier.skippedCount())

	due, _ = s.NextDue(domain.SourceKalshi, domain.LoadDelta)
	assert.Equal(t, t0.Add(time.Hour), due, "skipped tick must not move the due time")

	close(gate)
	waitInflightDone(t, s, k)

	// The retried trigger lands at t0+65m and the next slot is measured
	// from that trigger, not from run completion.
	now := clock.Advance(5 * time.Minute)
	s.Tick(ctx, now)
	require.Eventually(t, func() bool {
		return runner.startCount() == 2
	}, time.Second, 5*time.Millisecond)

	due, _ = s.NextDue(domain.SourceKalshi, domain.LoadDelta)
	assert.Equal(t, now.Add(time.Hour), due)
}

func TestSchedulerIndependentPairs(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(t0)
	runner := &fakeRunner{}
	entries := []Entry{
		{Source: domain.SourceKalshi, LoadType: domain.LoadDelta, Cadence: time.Hour},
		{Source: domain.SourceManifold, LoadType: domain.LoadDelta, Cadence: time.Hour},
		{Source: domain.SourceManifold, LoadType: domain.LoadFull, Cadence: 7 * 24 * time.Hour},
	}
	s := newTestScheduler(runner, clock, nil, entries)
	ctx := context.Background()

	s.Tick(ctx, t0)
	require.Eventually(t, func() bool {
		return runner.startCount() == 3
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulerKickPullsDeltaForward(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newFakeClock(t0)
	runner := &fakeRunner{}
	entry := Entry{Source: domain.SourcePolymarket, LoadType: domain.LoadDelta, Cadence: time.Hour}
	s := newTestScheduler(runner, clock, nil, []Entry{entry})
	k := pairKey{source: domain.SourcePolymarket, loadType: domain.LoadDelta}
	ctx := context.Background()

	s.Tick(ctx, t0)
	require.Eventually(t, func() bool {
		return runner.startCount() == 1
	}, time.Second, 5*time.Millisecond)
	waitInflightDone(t, s, k)

	// Activity arrives five minutes in. The kick makes the pair due now
	// instead of waiting out the hour.
	now := clock.Advance(5 * time.Minute)
	s.Kick(domain.SourcePolymarket)

	due, _ := s.NextDue(domain.SourcePolymarket, domain.LoadDelta)
	assert.Equal(t, now, due)

	s.Tick(ctx, now)
	require.Eventually(t, func() bool {
		return runner.startCount() == 2
	}, time.Second, 5*time.Millisecond)
	waitInflightDone(t, s, k)

	// A second kick inside the cooldown window is dropped.
	clock.Advance(10 * time.Second)
	s.Kick(domain.SourcePolymarket)

	due, _ = s.NextDue(domain.SourcePolymarket, domain.LoadDelta)
	assert.Equal(t, now.Add(time.Hour), due)
}

func TestSchedulerKickUnknownSourceIgnored(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := newTestScheduler(&fakeRunner{}, clock, nil, []Entry{
		{Source: domain.SourceKalshi, LoadType: domain.LoadFull, Cadence: time.Hour},
	})

	s.Kick(domain.SourcePredictIt)

	_, ok := s.NextDue(domain.SourcePredictIt, domain.LoadDelta)
	assert.False(t, ok)
}

func TestSchedulerManualTrigger(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	gate := make(chan struct{})
	runner := &fakeRunner{gate: gate}
	s := newTestScheduler(runner, clock, nil, []Entry{
		{Source: domain.SourceKalshi, LoadType: domain.LoadFull, Cadence: time.Hour},
	})
	k := pairKey{source: domain.SourceKalshi, loadType: domain.LoadFull}
	ctx := context.Background()

	require.NoError(t, s.Trigger(ctx, domain.SourceKalshi, domain.LoadFull))
	require.Eventually(t, func() bool {
		return runner.startCount() == 1
	}, time.Second, 5*time.Millisecond)

	err := s.Trigger(ctx, domain.SourceKalshi, domain.LoadFull)
	require.ErrorIs(t, err, domain.ErrAlreadyRunning)

	close(gate)
	waitInflightDone(t, s, k)

	require.NoError(t, s.Trigger(ctx, domain.SourceKalshi, domain.LoadFull))
}

// runnerFunc adapts a closure to the Runner interface.
type runnerFunc func(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.RunResult, error)

func (f runnerFunc) Run(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.RunResult, error) {
	return f(ctx, source, loadType)
}

func TestSchedulerTriggerOutlivesCaller(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	k := pairKey{source: domain.SourceKalshi, loadType: domain.LoadFull}

	// The trigger endpoint's request context dies the moment the 202 is
	// written. The run must not die with it.
	reqCtx, cancelReq := context.WithCancel(context.Background())

	started := make(chan struct{})
	ctxErr := make(chan error, 1)
	runner := runnerFunc(func(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.RunResult, error) {
		close(started)
		<-reqCtx.Done()
		ctxErr <- ctx.Err()
		return domain.RunResult{Run: domain.IngestionRun{Status: domain.RunStatusSucceeded}}, nil
	})
	s := newTestScheduler(runner, clock, nil, nil)

	require.NoError(t, s.Trigger(reqCtx, domain.SourceKalshi, domain.LoadFull))
	cancelReq()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("triggered run never started")
	}
	require.NoError(t, <-ctxErr, "run context must not inherit the caller's cancellation")
	waitInflightDone(t, s, k)
}

func TestSchedulerTriggerRejectsDeadContext(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	runner := &fakeRunner{}
	s := newTestScheduler(runner, clock, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, s.Trigger(ctx, domain.SourceKalshi, domain.LoadFull))
	assert.Equal(t, 0, runner.startCount())
}

func TestSchedulerNotifiesNonSucceededRuns(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	runner := &fakeRunner{
		result: domain.RunResult{Run: domain.IngestionRun{Status: domain.RunStatusPartial}},
	}
	notifier := &fakeNotifier{}
	s := newTestScheduler(runner, clock, notifier, []Entry{
		{Source: domain.SourceKalshi, LoadType: domain.LoadFull, Cadence: time.Hour},
	})
	k := pairKey{source: domain.SourceKalshi, loadType: domain.LoadFull}

	s.Tick(context.Background(), clock.Now())
	waitInflightDone(t, s, k)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.finished, 1)
	assert.Equal(t, domain.RunStatusPartial, notifier.finished[0].Status)
}
