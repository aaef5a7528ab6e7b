package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/driphub/driphub/internal/models"
)

// Store is the persistence the queue needs for job rows.
type Store interface {
	EnqueueJob(ctx context.Context, job *models.Job) error
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error)
	ReclaimStaleJobs(ctx context.Context, olderThan time.Time) (int64, error)
	CompleteJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id string, runAt time.Time, attempts int, lastError string) error
	FailJob(ctx context.Context, id string, attempts int, lastError string) error
	PurgeJobs(ctx context.Context, olderThan time.Time) (int64, error)
}

// Queue is a durable, time-delayed work queue holding one job per email.
// Jobs live in the store so scheduled sends survive a process restart.
// The queue owns the job lifecycle (pending -> active -> completed/failed/
// rescheduled); the email row stays the source of truth for delivery state.
type Queue struct {
	store       Store
	maxAttempts int
	backoffBase time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

func New(store Store, maxAttempts int, backoffBase time.Duration, log zerolog.Logger) *Queue {
	return &Queue{
		store:       store,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		log:         log,
		now:         time.Now,
	}
}

// RetryKey builds a job key for a reschedule. The timestamp suffix makes the
// reschedule a genuinely new entry instead of colliding with the email's
// first-insertion key, which is reserved for idempotent re-submission.
func RetryKey(emailID string, at time.Time) string {
	return fmt.Sprintf("%s-retry-%d", emailID, at.UnixMilli())
}

// Enqueue inserts a job that becomes eligible no earlier than now+delay.
// An empty key defaults to the email id; enqueueing the same key twice is a
// no-op, so a duplicate submission cannot produce a second delivery attempt.
func (q *Queue) Enqueue(ctx context.Context, emailID string, delay time.Duration, key string) error {
	if key == "" {
		key = emailID
	}
	now := q.now().UTC()
	job := &models.Job{
		ID:        models.NewID("job"),
		Key:       key,
		EmailID:   emailID,
		Status:    models.JobPending,
		RunAt:     now.Add(delay),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return q.store.EnqueueJob(ctx, job)
}

// ClaimDue atomically claims up to limit due jobs for processing.
func (q *Queue) ClaimDue(ctx context.Context, limit int) ([]models.Job, error) {
	return q.store.ClaimDueJobs(ctx, q.now().UTC(), limit)
}

// ReclaimStale returns claimed jobs whose lease expired to the pending pool.
// A job stuck in the claimed state means a process died between claim and
// resolve; re-running the attempt is safe because delivery is at-least-once
// and the worker never resends a sent email.
func (q *Queue) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	return q.store.ReclaimStaleJobs(ctx, olderThan)
}

// Outcome is the worker's verdict on one claimed job.
type Outcome struct {
	kind  outcomeKind
	delay time.Duration
	err   error
}

type outcomeKind int

const (
	outcomeCompleted outcomeKind = iota
	outcomeDeferred
	outcomeFailed
)

// Completed acknowledges the job; it will not run again.
func Completed() Outcome {
	return Outcome{kind: outcomeCompleted}
}

// Deferred ends the attempt without counting it and schedules a fresh job
// after delay. Used for rate-limit deferral, which is not a failure.
func Deferred(delay time.Duration) Outcome {
	return Outcome{kind: outcomeDeferred, delay: delay}
}

// Failed reports a transient failure; the queue retries with exponential
// backoff until attempts are exhausted.
func Failed(err error) Outcome {
	return Outcome{kind: outcomeFailed, err: err}
}

// Resolve applies the worker's outcome to a claimed job.
func (q *Queue) Resolve(ctx context.Context, job models.Job, outcome Outcome) error {
	switch outcome.kind {
	case outcomeCompleted:
		return q.store.CompleteJob(ctx, job.ID)

	case outcomeDeferred:
		// The replacement must exist before the old job is acked: a crash
		// between the two writes then leaves a duplicate job, not an email
		// with no job at all.
		if err := q.Enqueue(ctx, job.EmailID, outcome.delay, RetryKey(job.EmailID, q.now())); err != nil {
			return err
		}
		return q.store.CompleteJob(ctx, job.ID)

	case outcomeFailed:
		attempts := job.Attempts + 1
		if attempts >= q.maxAttempts {
			q.log.Warn().
				Str("job_id", job.ID).
				Str("email_id", job.EmailID).
				Int("attempts", attempts).
				Err(outcome.err).
				Msg("job abandoned after max attempts")
			return q.store.FailJob(ctx, job.ID, attempts, outcome.err.Error())
		}

		runAt := q.now().UTC().Add(q.Backoff(attempts))
		q.log.Info().
			Str("job_id", job.ID).
			Str("email_id", job.EmailID).
			Int("attempt", attempts).
			Time("next_attempt", runAt).
			Msg("job scheduled for retry")
		return q.store.RetryJob(ctx, job.ID, runAt, attempts, outcome.err.Error())
	}

	return fmt.Errorf("unknown outcome for job %s", job.ID)
}

// Backoff returns the delay before the next attempt: base doubled per
// completed attempt.
func (q *Queue) Backoff(attempts int) time.Duration {
	d := q.backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// Purge removes completed and abandoned jobs older than the retention TTL.
func (q *Queue) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	return q.store.PurgeJobs(ctx, olderThan)
}
