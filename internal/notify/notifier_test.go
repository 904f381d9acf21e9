package notify

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddsync/oddsync/internal/domain"
)

type recordingSender struct {
	name   string
	titles []string
	err    error
}

func (s *recordingSender) Send(ctx context.Context, title, message string) error {
	if s.err != nil {
		return s.err
	}
	s.titles = append(s.titles, title)
	return nil
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifierEventFilter(t *testing.T) {
	sender := &recordingSender{name: "test"}
	n := New([]Sender{sender}, []string{EventRunFailed}, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	n.RunFinished(ctx, domain.IngestionRun{
		ID:       "r1",
		Source:   domain.SourceKalshi,
		LoadType: domain.LoadFull,
		Status:   domain.RunStatusFailed,
	})
	n.RunFinished(ctx, domain.IngestionRun{
		ID:       "r2",
		Source:   domain.SourceKalshi,
		LoadType: domain.LoadFull,
		Status:   domain.RunStatusPartial,
	})
	n.TickSkipped(ctx, domain.SourceKalshi, domain.LoadFull)

	require.Len(t, sender.titles, 1, "only run_failed is in the allowed set")
	assert.Contains(t, sender.titles[0], "failed")
}

func TestNotifierFailingSenderDoesNotBlockOthers(t *testing.T) {
	broken := &recordingSender{name: "broken", err: errors.New("webhook down")}
	healthy := &recordingSender{name: "healthy"}
	n := New([]Sender{broken, healthy}, nil, slog.New(slog.DiscardHandler))

	n.TickSkipped(context.Background(), domain.SourcePolymarket, domain.LoadDelta)

	assert.Len(t, healthy.titles, 1)
}
