// Package notify delivers operator alerts about ingestion health. Events
// are fanned out to every configured channel (Telegram, Discord) and can be
// filtered by event type so operators only receive the alerts they care
// about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/oddsync/oddsync/internal/domain"
)

// Event types emitted by the scheduler and orchestrator.
const (
	EventRunFailed        = "run_failed"
	EventRunPartial       = "run_partial"
	EventSchedulerSkipped = "scheduler_skipped"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns the channel identifier, e.g. "telegram".
	Name() string
}

// Notifier formats ingestion events and dispatches them to all configured
// senders. Delivery is best effort: a failing channel is logged and skipped,
// never surfaced to the ingestion path.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types; empty means all
	logger  *slog.Logger
}

// New creates a Notifier delivering to the given senders. Only events whose
// type appears in events are forwarded; an empty list allows everything.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// RunFinished reports a run that ended in a non-succeeded status.
func (n *Notifier) RunFinished(ctx context.Context, run domain.IngestionRun) {
	event := EventRunFailed
	if run.Status == domain.RunStatusPartial {
		event = EventRunPartial
	}

	title := fmt.Sprintf("Ingestion run %s: %s/%s", run.Status, run.Source, run.LoadType)
	var b strings.Builder
	fmt.Fprintf(&b, "run %s\npages fetched: %d\nrecords written: %d", run.ID, run.PagesFetched, run.RecordsWritten)
	if run.ErrorSummary != "" {
		fmt.Fprintf(&b, "\n\n%s", run.ErrorSummary)
	}

	n.notify(ctx, event, title, b.String())
}

// TickSkipped reports a scheduled trigger that was skipped because the
// prior run for the pair had not completed.
func (n *Notifier) TickSkipped(ctx context.Context, source domain.Source, loadType domain.LoadType) {
	title := fmt.Sprintf("Scheduler skipped %s/%s", source, loadType)
	message := "prior run still in progress, trigger deferred to the next tick"
	n.notify(ctx, EventSchedulerSkipped, title, message)
}

// notify applies the event filter and dispatches to every sender. Errors
// from individual senders never prevent delivery to the rest.
func (n *Notifier) notify(ctx context.Context, event, title, message string) {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return
	}

	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", event),
		)
	}
}
