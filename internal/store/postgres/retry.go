package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/oddsync/oddsync/internal/domain"
)

const (
	writeRetries      = 3
	writeRetryBackoff = 200 * time.Millisecond
)

// withRetry runs op up to writeRetries times with linear backoff. When
// retries exhaust the error is classified as domain.ErrStorage so the
// orchestrator can mark the run failed.
func withRetry(ctx context.Context, what string, op func(context.Context) error) error {
	var err error
	for attempt := 0; attempt < writeRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(time.Duration(attempt) * writeRetryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = op(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("postgres: %s: %w: %v", what, domain.ErrStorage, err)
}
