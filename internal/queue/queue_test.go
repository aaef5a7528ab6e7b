package queue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driphub/driphub/internal/models"
)

type fakeStore struct {
	enqueued  []models.Job
	completed []string
	retried   []retryCall
	failed    []failCall
	reclaimed []time.Time
	ops       []string
}

type retryCall struct {
	id       string
	runAt    time.Time
	attempts int
	lastErr  string
}

type failCall struct {
	id       string
	attempts int
	lastErr  string
}

func (f *fakeStore) EnqueueJob(ctx context.Context, job *models.Job) error {
	f.enqueued = append(f.enqueued, *job)
	f.ops = append(f.ops, "enqueue")
	return nil
}

func (f *fakeStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error) {
	return nil, nil
}

func (f *fakeStore) ReclaimStaleJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	f.reclaimed = append(f.reclaimed, olderThan)
	return int64(len(f.reclaimed)), nil
}

func (f *fakeStore) CompleteJob(ctx context.Context, id string) error {
	f.completed = append(f.completed, id)
	f.ops = append(f.ops, "complete")
	return nil
}

func (f *fakeStore) RetryJob(ctx context.Context, id string, runAt time.Time, attempts int, lastError string) error {
	f.retried = append(f.retried, retryCall{id, runAt, attempts, lastError})
	return nil
}

func (f *fakeStore) FailJob(ctx context.Context, id string, attempts int, lastError string) error {
	f.failed = append(f.failed, failCall{id, attempts, lastError})
	return nil
}

func (f *fakeStore) PurgeJobs(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, nil
}

func newTestQueue(store Store) *Queue {
	return New(store, 3, time.Second, zerolog.Nop())
}

func TestEnqueueDefaultsKeyToEmailID(t *testing.T) {
	store := &fakeStore{}
	q := newTestQueue(store)

	require.NoError(t, q.Enqueue(context.Background(), "eml_1", time.Minute, ""))

	require.Len(t, store.enqueued, 1)
	job := store.enqueued[0]
	assert.Equal(t, "eml_1", job.Key)
	assert.Equal(t, "eml_1", job.EmailID)
	assert.Equal(t, models.JobPending, job.Status)
}

func TestEnqueueDelayBecomesRunAt(t *testing.T) {
	store := &fakeStore{}
	q := newTestQueue(store)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	require.NoError(t, q.Enqueue(context.Background(), "eml_1", 90*time.Second, ""))

	assert.Equal(t, now.Add(90*time.Second), store.enqueued[0].RunAt)
}

func TestRetryKeyIsDistinctPerTimestamp(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	key := RetryKey("eml_1", at)

	assert.True(t, strings.HasPrefix(key, "eml_1-retry-"))
	assert.NotEqual(t, key, RetryKey("eml_1", at.Add(time.Millisecond)))
}

func TestResolveCompleted(t *testing.T) {
	store := &fakeStore{}
	q := newTestQueue(store)

	job := models.Job{ID: "job_1", EmailID: "eml_1"}
	require.NoError(t, q.Resolve(context.Background(), job, Completed()))

	assert.Equal(t, []string{"job_1"}, store.completed)
	assert.Empty(t, store.enqueued)
	assert.Empty(t, store.retried)
}

func TestResolveDeferredEnqueuesFreshJob(t *testing.T) {
	store := &fakeStore{}
	q := newTestQueue(store)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	job := models.Job{ID: "job_1", EmailID: "eml_1", Attempts: 0}
	require.NoError(t, q.Resolve(context.Background(), job, Deferred(40*time.Minute)))

	assert.Equal(t, []string{"job_1"}, store.completed, "the deferring attempt ends")

	require.Len(t, store.enqueued, 1)
	next := store.enqueued[0]
	assert.Equal(t, "eml_1", next.EmailID)
	assert.Equal(t, RetryKey("eml_1", now), next.Key, "a reschedule must not collide with the dedup key")
	assert.Equal(t, now.UTC().Add(40*time.Minute), next.RunAt)
	assert.Zero(t, next.Attempts, "a deferral does not count as an attempt")
}

func TestResolveDeferredEnqueuesBeforeAcking(t *testing.T) {
	store := &fakeStore{}
	q := newTestQueue(store)

	job := models.Job{ID: "job_1", EmailID: "eml_1"}
	require.NoError(t, q.Resolve(context.Background(), job, Deferred(time.Minute)))

	// A crash between the two writes must leave a duplicate job, never an
	// email with no job at all.
	assert.Equal(t, []string{"enqueue", "complete"}, store.ops)
}

func TestReclaimStaleDelegatesCutoff(t *testing.T) {
	store := &fakeStore{}
	q := newTestQueue(store)

	cutoff := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	n, err := q.ReclaimStale(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, []time.Time{cutoff}, store.reclaimed)
}

func TestResolveFailedRetriesWithBackoff(t *testing.T) {
	store := &fakeStore{}
	q := newTestQueue(store)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	job := models.Job{ID: "job_1", EmailID: "eml_1", Attempts: 1}
	require.NoError(t, q.Resolve(context.Background(), job, Failed(errors.New("smtp timeout"))))

	require.Len(t, store.retried, 1)
	r := store.retried[0]
	assert.Equal(t, "job_1", r.id)
	assert.Equal(t, 2, r.attempts)
	assert.Equal(t, now.Add(2*time.Second), r.runAt, "second attempt backs off base*2")
	assert.Equal(t, "smtp timeout", r.lastErr)
	assert.Empty(t, store.failed)
}

func TestResolveFailedAbandonsAtMaxAttempts(t *testing.T) {
	store := &fakeStore{}
	q := newTestQueue(store)

	job := models.Job{ID: "job_1", EmailID: "eml_1", Attempts: 2}
	require.NoError(t, q.Resolve(context.Background(), job, Failed(errors.New("smtp timeout"))))

	require.Len(t, store.failed, 1)
	assert.Equal(t, failCall{id: "job_1", attempts: 3, lastErr: "smtp timeout"}, store.failed[0])
	assert.Empty(t, store.retried)
}

func TestBackoffDoubles(t *testing.T) {
	q := newTestQueue(&fakeStore{})

	assert.Equal(t, time.Second, q.Backoff(1))
	assert.Equal(t, 2*time.Second, q.Backoff(2))
	assert.Equal(t, 4*time.Second, q.Backoff(3))
	assert.Equal(t, 8*time.Second, q.Backoff(4))
}
