package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oddsync/oddsync/internal/domain"
)

// ---------------------------------------------------------------------------
// fake clock
// ---------------------------------------------------------------------------

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(at time.Time) *fakeClock {
	return &fakeClock{now: at}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// ---------------------------------------------------------------------------
// fake source client
// ---------------------------------------------------------------------------

// fakeClient serves a fixed page list. failAtPage fails the fetch of that
// page; gate, when set, blocks every fetch until the channel is closed.
type fakeClient struct {
	source     domain.Source
	pages      [][]domain.RawPayload
	failAtPage int
	failErr    error
	gate       chan struct{}

	mu         sync.Mutex
	maxPage    int
	deltaSince time.Time
}

func (c *fakeClient) Source() domain.Source { return c.source }

func (c *fakeClient) FetchFull(ctx context.Context, cursor string) (domain.Page, error) {
	num := 1
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &num)
	}

	c.mu.Lock()
	if num > c.maxPage {
		c.maxPage = num
	}
	c.mu.Unlock()

	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return domain.Page{}, ctx.Err()
		}
	}

	if c.failAtPage > 0 && num == c.failAtPage {
		return domain.Page{}, c.failErr
	}
	if num > len(c.pages) {
		return domain.Page{Done: true}, nil
	}
	return domain.Page{
		Records:    c.pages[num-1],
		NextCursor: fmt.Sprintf("%d", num+1),
		Done:       num == len(c.pages),
	}, nil
}

func (c *fakeClient) FetchDelta(ctx context.Context, since time.Time) ([]domain.RawPayload, error) {
	c.mu.Lock()
	c.deltaSince = since
	c.mu.Unlock()

	var out []domain.RawPayload
	for _, page := range c.pages {
		out = append(out, page...)
	}
	return out, nil
}

func (c *fakeClient) maxPageRequested() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxPage
}

// polymarketPayload builds a minimal valid polymarket document.
func polymarketPayload(id, question string, yes, no float64) domain.RawPayload {
	prices, _ := json.Marshal([]string{
		fmt.Sprintf("%g", yes),
		fmt.Sprintf("%g", no),
	})
	doc, _ := json.Marshal(map[string]any{
		"id":            id,
		"question":      question,
		"outcomePrices": string(prices),
		"active":        true,
		"closed":        false,
		"slug":          id,
		"volume":        "1000",
	})
	return domain.RawPayload{LogicalID: id, Document: doc}
}

// ---------------------------------------------------------------------------
// fake stores
// ---------------------------------------------------------------------------

type fakeRawStore struct {
	mu   sync.Mutex
	rows map[string]domain.RawRecord
}

func newFakeRawStore() *fakeRawStore {
	return &fakeRawStore{rows: make(map[string]domain.RawRecord)}
}

func rawKey(source domain.Source, logicalID string, fp domain.Fingerprint) string {
	return string(source) + "|" + logicalID + "|" + string(fp)
}

func (s *fakeRawStore) Write(ctx context.Context, rec domain.RawRecord) (domain.WriteOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := rawKey(rec.Source, rec.LogicalID, rec.Fingerprint)
	if _, ok := s.rows[k]; ok {
		return domain.WriteAlreadyPresent, nil
	}
	s.rows[k] = rec
	return domain.WriteInserted, nil
}

func (s *fakeRawStore) ReadLatest(ctx context.Context, source domain.Source, logicalID string) (domain.RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest domain.RawRecord
	found := false
	for _, rec := range s.rows {
		if rec.Source == source && rec.LogicalID == logicalID {
			if !found || rec.FetchedAt.After(latest.FetchedAt) {
				latest = rec
				found = true
			}
		}
	}
	if !found {
		return domain.RawRecord{}, domain.ErrNotFound
	}
	return latest, nil
}

func (s *fakeRawStore) CountBySource(ctx context.Context, source domain.Source) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rec := range s.rows {
		if rec.Source == source {
			n++
		}
	}
	return n, nil
}

type fakeCanonicalStore struct {
	mu      sync.Mutex
	rows    map[string]domain.CanonicalMarket
	writes  int
	failErr error
}

func newFakeCanonicalStore() *fakeCanonicalStore {
	return &fakeCanonicalStore{rows: make(map[string]domain.CanonicalMarket)}
}

func canonicalKey(source domain.Source, logicalID string) string {
	return string(source) + "|" + logicalID
}

func (s *fakeCanonicalStore) Upsert(ctx context.Context, m domain.CanonicalMarket) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failErr != nil {
		return false, s.failErr
	}
	k := canonicalKey(m.Source, m.LogicalID)
	if existing, ok := s.rows[k]; ok && existing.LastFingerprint == m.LastFingerprint {
		return false, nil
	}
	s.rows[k] = m
	s.writes++
	return true, nil
}

func (s *fakeCanonicalStore) Get(ctx context.Context, source domain.Source, logicalID string) (domain.CanonicalMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.rows[canonicalKey(source, logicalID)]
	if !ok {
		return domain.CanonicalMarket{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *fakeCanonicalStore) List(ctx context.Context, f domain.MarketFilter) ([]domain.CanonicalMarket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.CanonicalMarket
	for _, m := range s.rows {
		out = append(out, m)
	}
	return out, nil
}

func (s *fakeCanonicalStore) Count(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

func (s *fakeCanonicalStore) snapshot() map[string]domain.CanonicalMarket {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.CanonicalMarket, len(s.rows))
	for k, v := range s.rows {
		out[k] = v
	}
	return out
}

func (s *fakeCanonicalStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

type fakeRunStore struct {
	mu   sync.Mutex
	runs []domain.IngestionRun
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{}
}

func (s *fakeRunStore) Begin(ctx context.Context, run domain.IngestionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.runs {
		if r.Source == run.Source && r.LoadType == run.LoadType && r.Status == domain.RunStatusRunning {
			return domain.ErrAlreadyRunning
		}
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *fakeRunStore) Finish(ctx context.Context, run domain.IngestionRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = run
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *fakeRunStore) Running(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.IngestionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.runs {
		if r.Source == source && r.LoadType == loadType && r.Status == domain.RunStatusRunning {
			return r, nil
		}
	}
	return domain.IngestionRun{}, domain.ErrNotFound
}

func (s *fakeRunStore) Latest(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.IngestionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if r.Source == source && r.LoadType == loadType {
			return r, nil
		}
	}
	return domain.IngestionRun{}, domain.ErrNotFound
}

func (s *fakeRunStore) LastSucceeded(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.IngestionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if r.Source == source && r.LoadType == loadType &&
			(r.Status == domain.RunStatusSucceeded || r.Status == domain.RunStatusPartial) {
			return r, nil
		}
	}
	return domain.IngestionRun{}, domain.ErrNotFound
}

func (s *fakeRunStore) ListRecent(ctx context.Context, limit int) ([]domain.IngestionRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.IngestionRun, len(s.runs))
	copy(out, s.runs)
	return out, nil
}

func (s *fakeRunStore) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func (s *fakeRunStore) byID(id string) (domain.IngestionRun, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.runs {
		if r.ID == id {
			return r, true
		}
	}
	return domain.IngestionRun{}, false
}

func (s *fakeRunStore) runningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.runs {
		if r.Status == domain.RunStatusRunning {
			n++
		}
	}
	return n
}

// ---------------------------------------------------------------------------
// scheduler fakes
// ---------------------------------------------------------------------------

// fakeRunner counts orchestrator invocations. gate, when set, blocks each
// run until the channel is closed.
type fakeRunner struct {
	mu     sync.Mutex
	starts int
	gate   chan struct{}
	result domain.RunResult
	err    error
}

func (r *fakeRunner) Run(ctx context.Context, source domain.Source, loadType domain.LoadType) (domain.RunResult, error) {
	r.mu.Lock()
	r.starts++
	gate := r.gate
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return domain.RunResult{}, ctx.Err()
		}
	}
	return r.result, r.err
}

func (r *fakeRunner) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

type fakeNotifier struct {
	mu       sync.Mutex
	finished []domain.IngestionRun
	skipped  int
}

func (n *fakeNotifier) RunFinished(ctx context.Context, run domain.IngestionRun) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, run)
}

func (n *fakeNotifier) TickSkipped(ctx context.Context, source domain.Source, loadType domain.LoadType) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.skipped++
}

func (n *fakeNotifier) skippedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.skipped
}
