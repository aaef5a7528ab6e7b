package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/driphub/driphub/internal/models"
)

// Store is the slice of persistence the scheduler needs: one atomic write
// covering the campaign row, its email rows and their queue jobs.
type Store interface {
	ScheduleCampaign(ctx context.Context, c *models.Campaign, emails []models.Email, jobs []models.Job) error
}

// Validation errors surfaced to the caller verbatim. A rejected submission
// has no side effects.
var (
	ErrNoRecipients   = errors.New("no recipients provided")
	ErrMissingAccount = errors.New("account id is required")
	ErrMissingSender  = errors.New("sender id is required")
	ErrMissingName    = errors.New("campaign name is required")
	ErrMissingSubject = errors.New("subject is required")
	ErrNegativeDelay  = errors.New("delay between recipients must not be negative")
)

type ScheduleRequest struct {
	AccountID    string
	SenderID     string
	CampaignName string
	Subject      string
	Body         string
	Recipients   []string
	StartTime    time.Time
	DelayBetween time.Duration
	HourlyLimit  int
}

type ScheduleResult struct {
	CampaignID string `json:"campaign_id"`
	Count      int    `json:"count"`
}

// Scheduler turns a campaign submission into persisted email rows and
// time-staggered delivery jobs.
type Scheduler struct {
	store Store
	log   zerolog.Logger
	now   func() time.Time
}

func New(store Store, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		store: store,
		log:   log,
		now:   time.Now,
	}
}

// Schedule creates the campaign, one email row per recipient and one queue
// job per email as a single atomic unit. The i-th recipient is delayed by
// max(0, startTime-now) + i*DelayBetween, so relative send order follows
// input order. If anything fails, nothing is persisted and no jobs exist.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (*ScheduleResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	initialDelay := req.StartTime.Sub(now)
	if initialDelay < 0 {
		initialDelay = 0
	}

	campaign := &models.Campaign{
		ID:          models.NewID("cmp"),
		AccountID:   req.AccountID,
		Name:        req.CampaignName,
		Status:      models.CampaignProcessing,
		HourlyLimit: req.HourlyLimit,
		CreatedAt:   now,
	}

	emails := make([]models.Email, 0, len(req.Recipients))
	jobs := make([]models.Job, 0, len(req.Recipients))

	for i, recipient := range req.Recipients {
		delay := initialDelay + time.Duration(i)*req.DelayBetween
		scheduledAt := now.Add(delay)

		email := models.Email{
			ID:          models.NewID("eml"),
			AccountID:   req.AccountID,
			CampaignID:  campaign.ID,
			SenderID:    req.SenderID,
			Recipient:   recipient,
			Subject:     req.Subject,
			Body:        req.Body,
			Status:      models.EmailScheduled,
			ScheduledAt: &scheduledAt,
			CreatedAt:   now,
		}
		emails = append(emails, email)

		jobs = append(jobs, models.Job{
			ID:        models.NewID("job"),
			Key:       email.ID,
			EmailID:   email.ID,
			Status:    models.JobPending,
			RunAt:     scheduledAt,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := s.store.ScheduleCampaign(ctx, campaign, emails, jobs); err != nil {
		s.log.Error().Err(err).Str("account_id", req.AccountID).Msg("failed to schedule campaign")
		return nil, err
	}

	s.log.Info().
		Str("campaign_id", campaign.ID).
		Str("sender_id", req.SenderID).
		Int("recipients", len(req.Recipients)).
		Dur("initial_delay", initialDelay).
		Msg("campaign scheduled")

	return &ScheduleResult{CampaignID: campaign.ID, Count: len(req.Recipients)}, nil
}

func validate(req ScheduleRequest) error {
	switch {
	case len(req.Recipients) == 0:
		return ErrNoRecipients
	case req.AccountID == "":
		return ErrMissingAccount
	case req.SenderID == "":
		return ErrMissingSender
	case req.CampaignName == "":
		return ErrMissingName
	case req.Subject == "":
		return ErrMissingSubject
	case req.DelayBetween < 0:
		return ErrNegativeDelay
	}
	return nil
}
