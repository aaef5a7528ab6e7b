package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driphub/driphub/internal/models"
)

type fakeStore struct {
	campaign *models.Campaign
	emails   []models.Email
	jobs     []models.Job
	err      error
}

func (f *fakeStore) ScheduleCampaign(ctx context.Context, c *models.Campaign, emails []models.Email, jobs []models.Job) error {
	if f.err != nil {
		return f.err
	}
	f.campaign = c
	f.emails = emails
	f.jobs = jobs
	return nil
}

func newTestScheduler(store Store) *Scheduler {
	return New(store, zerolog.Nop())
}

func validRequest() ScheduleRequest {
	return ScheduleRequest{
		AccountID:    "acc_1",
		SenderID:     "snd_1",
		CampaignName: "March launch",
		Subject:      "Hello",
		Body:         "<p>Hi</p>",
		Recipients:   []string{"a@example.com", "b@example.com", "c@example.com"},
		StartTime:    time.Now(),
		DelayBetween: time.Second,
		HourlyLimit:  0,
	}
}

func TestScheduleStaggersRecipients(t *testing.T) {
	store := &fakeStore{}
	s := newTestScheduler(store)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	req := validRequest()
	req.StartTime = now // start immediately
	req.DelayBetween = time.Second

	result, err := s.Schedule(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Count)
	assert.Equal(t, store.campaign.ID, result.CampaignID)

	require.Len(t, store.emails, 3)
	for i, email := range store.emails {
		expected := now.Add(time.Duration(i) * time.Second)
		require.NotNil(t, email.ScheduledAt)
		assert.Equal(t, expected, *email.ScheduledAt, "recipient %d", i)
		assert.Equal(t, models.EmailScheduled, email.Status)
		assert.Equal(t, req.Recipients[i], email.Recipient)
	}

	require.Len(t, store.jobs, 3)
	for i, job := range store.jobs {
		assert.Equal(t, store.emails[i].ID, job.EmailID)
		assert.Equal(t, store.emails[i].ID, job.Key, "first insertion keys on the email id")
		assert.Equal(t, *store.emails[i].ScheduledAt, job.RunAt)
		assert.Equal(t, models.JobPending, job.Status)
	}
}

func TestScheduleFutureStartTime(t *testing.T) {
	store := &fakeStore{}
	s := newTestScheduler(store)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	req := validRequest()
	req.StartTime = now.Add(2 * time.Hour)
	req.DelayBetween = 500 * time.Millisecond

	_, err := s.Schedule(context.Background(), req)
	require.NoError(t, err)

	for i, email := range store.emails {
		expected := now.Add(2*time.Hour + time.Duration(i)*500*time.Millisecond)
		assert.Equal(t, expected, *email.ScheduledAt)
	}
}

func TestSchedulePastStartTimeClampsToNow(t *testing.T) {
	store := &fakeStore{}
	s := newTestScheduler(store)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	req := validRequest()
	req.StartTime = now.Add(-time.Hour)
	req.DelayBetween = 0

	_, err := s.Schedule(context.Background(), req)
	require.NoError(t, err)

	for _, email := range store.emails {
		assert.Equal(t, now, *email.ScheduledAt)
	}
}

func TestScheduleCampaignRow(t *testing.T) {
	store := &fakeStore{}
	s := newTestScheduler(store)

	req := validRequest()
	req.HourlyLimit = 25

	_, err := s.Schedule(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.CampaignProcessing, store.campaign.Status)
	assert.Equal(t, 25, store.campaign.HourlyLimit)
	assert.Equal(t, "March launch", store.campaign.Name)
	assert.Equal(t, "acc_1", store.campaign.AccountID)
}

func TestScheduleValidation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*ScheduleRequest)
		wantErr error
	}{
		{"empty recipients", func(r *ScheduleRequest) { r.Recipients = nil }, ErrNoRecipients},
		{"missing account", func(r *ScheduleRequest) { r.AccountID = "" }, ErrMissingAccount},
		{"missing sender", func(r *ScheduleRequest) { r.SenderID = "" }, ErrMissingSender},
		{"missing name", func(r *ScheduleRequest) { r.CampaignName = "" }, ErrMissingName},
		{"missing subject", func(r *ScheduleRequest) { r.Subject = "" }, ErrMissingSubject},
		{"negative delay", func(r *ScheduleRequest) { r.DelayBetween = -time.Second }, ErrNegativeDelay},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{}
			s := newTestScheduler(store)

			req := validRequest()
			tc.mutate(&req)

			result, err := s.Schedule(context.Background(), req)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Nil(t, store.campaign, "a rejected submission must have no side effects")
		})
	}
}

func TestScheduleStoreFailureLeavesNothing(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	s := newTestScheduler(store)

	result, err := s.Schedule(context.Background(), validRequest())
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Nil(t, store.campaign)
	assert.Empty(t, store.emails)
	assert.Empty(t, store.jobs)
}
