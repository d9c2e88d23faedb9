// Package queue implements the status-transition contract of the Pending
// Sync Queue: enqueue, claim, complete and fail with backoff.
package queue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kimhsiao/ledgerlink/internal/db"
	apperrors "github.com/kimhsiao/ledgerlink/internal/errors"
	"github.com/kimhsiao/ledgerlink/internal/logging"
	"github.com/kimhsiao/ledgerlink/internal/metrics"
	"github.com/kimhsiao/ledgerlink/internal/models"
)

// Default retry schedule: 1m, 2m, 4m ... capped at 1h.
const (
	DefaultInitialBackoff = time.Minute
	DefaultMaxBackoff     = time.Hour
	DefaultMaxAttempts    = 5
)

// Queue manages pending sync entries in the durable store.
type Queue struct {
	store          db.QueueStore
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	now            func() time.Time
	log            *logging.Logger
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// WithBackoff sets the retry schedule bounds.
func WithBackoff(initial, max time.Duration) Option {
	return func(q *Queue) {
		q.initialBackoff = initial
		q.maxBackoff = max
	}
}

// NewQueue creates a Queue. maxAttempts <= 0 uses DefaultMaxAttempts.
func NewQueue(store db.QueueStore, maxAttempts int, opts ...Option) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	q := &Queue{
		store:          store,
		maxAttempts:    maxAttempts,
		initialBackoff: DefaultInitialBackoff,
		maxBackoff:     DefaultMaxBackoff,
		now:            time.Now,
		log:            logging.For("queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue upserts the entry for (connection, type, id). An existing active
// entry is reset instead of duplicated. created reports a new row.
func (q *Queue) Enqueue(ctx context.Context, connectionID models.UUID, localType, localID string, priority int) (*models.PendingSyncEntry, bool, error) {
	e := &models.PendingSyncEntry{
		ConnectionID: connectionID,
		LocalType:    localType,
		LocalID:      localID,
		Priority:     priority,
		ScheduledAt:  q.now().Unix(),
		MaxAttempts:  q.maxAttempts,
	}
	created, err := q.store.UpsertQueueEntry(ctx, e)
	if err != nil {
		metrics.QueueEnqueued.WithLabelValues("error").Inc()
		return nil, false, err
	}
	if created {
		metrics.QueueEnqueued.WithLabelValues("created").Inc()
	} else {
		metrics.QueueEnqueued.WithLabelValues("reset").Inc()
	}
	return e, created, nil
}

// Claim moves up to limit due entries from pending to processing and
// counts the attempt. Entries claimed concurrently by another worker are
// skipped.
func (q *Queue) Claim(ctx context.Context, limit int) ([]*models.PendingSyncEntry, error) {
	due, err := q.store.ListDueQueueEntries(ctx, q.now().Unix(), limit)
	if err != nil {
		return nil, err
	}

	claimed := make([]*models.PendingSyncEntry, 0, len(due))
	for _, e := range due {
		from, err := advance(ctx, e, EventClaim)
		if err != nil {
			return claimed, err
		}
		e.AttemptCount++
		if err := q.store.TransitionQueueEntry(ctx, e, from); err != nil {
			if apperrors.Is(err, apperrors.ErrQueueTransition) {
				q.log.Debug("queue entry claimed elsewhere", map[string]interface{}{"entry_id": e.ID})
				continue
			}
			return claimed, err
		}
		claimed = append(claimed, e)
	}
	return claimed, nil
}

// Complete marks a processing entry completed.
func (q *Queue) Complete(ctx context.Context, id models.UUID) error {
	e, err := q.store.GetQueueEntry(ctx, id)
	if err != nil {
		return err
	}
	from, err := advance(ctx, e, EventComplete)
	if err != nil {
		return err
	}
	e.LastError = ""
	return q.store.TransitionQueueEntry(ctx, e, from)
}

// Fail records a failed attempt. A retryable failure with attempts left
// goes back to pending, scheduled after the larger of retryAfter and the
// exponential backoff for the attempt; anything else ends in failed.
func (q *Queue) Fail(ctx context.Context, id models.UUID, retryable bool, retryAfter time.Duration, cause error) (*models.PendingSyncEntry, error) {
	e, err := q.store.GetQueueEntry(ctx, id)
	if err != nil {
		return nil, err
	}

	event := EventFail
	if retryable && !e.AttemptsExhausted() {
		event = EventRetry
	}
	from, err := advance(ctx, e, event)
	if err != nil {
		return nil, err
	}

	if cause != nil {
		e.LastError = cause.Error()
	}
	if event == EventRetry {
		delay := q.Backoff(e.AttemptCount)
		if retryAfter > delay {
			delay = retryAfter
		}
		e.ScheduledAt = q.now().Add(delay).Unix()
	}

	if err := q.store.TransitionQueueEntry(ctx, e, from); err != nil {
		return nil, err
	}
	q.log.Info("queue entry attempt failed", map[string]interface{}{
		"entry_id":     e.ID,
		"status":       e.Status,
		"attempt":      e.AttemptCount,
		"max_attempts": e.MaxAttempts,
		"scheduled_at": e.ScheduledAt,
	})
	return e, nil
}

// Backoff returns the delay before the attempt after attempt number n (1-based).
func (q *Queue) Backoff(n int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.initialBackoff
	b.MaxInterval = q.maxBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.NextBackOff()
	for i := 1; i < n; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
