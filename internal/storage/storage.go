package storage

import (
	"context"
	"time"

	"github.com/driphub/driphub/internal/models"
)

// DeliveryContext is everything a worker needs to attempt one email.
type DeliveryContext struct {
	Email               models.Email
	SenderName          string
	SenderEmail         string
	CampaignHourlyLimit int
}

type Storage interface {
	// Accounts
	CreateAccount(ctx context.Context, acc *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	GetAccountByAPIKey(ctx context.Context, apiKey string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]models.Account, error)

	// Senders
	CreateSender(ctx context.Context, s *models.Sender) error
	GetSender(ctx context.Context, id string) (*models.Sender, error)
	ListSenders(ctx context.Context, accountID string) ([]models.Sender, error)
	DeleteSender(ctx context.Context, id string) error

	// Campaigns
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, accountID string) ([]models.Campaign, error)
	// CompleteCampaign marks a campaign COMPLETED. It is an idempotent
	// single-row update; concurrent callers race harmlessly.
	CompleteCampaign(ctx context.Context, id string) error
	// CountOutstandingEmails counts emails still PENDING or SCHEDULED.
	CountOutstandingEmails(ctx context.Context, campaignID string) (int64, error)

	// Emails
	GetEmail(ctx context.Context, id string) (*models.Email, error)
	ListCampaignEmails(ctx context.Context, campaignID string) ([]models.Email, error)
	CampaignEmailStats(ctx context.Context, campaignID string) (map[models.EmailStatus]int64, error)
	AccountSummary(ctx context.Context, accountID string) (*Summary, error)
	GetEmailForDelivery(ctx context.Context, emailID string) (*DeliveryContext, error)
	MarkEmailSent(ctx context.Context, id string, sentAt time.Time, transportMessageID string) error
	// MarkEmailFailed records a terminal failure. countRetry increments
	// retry_count and is set only for failed transport attempts.
	MarkEmailFailed(ctx context.Context, id string, errorMessage string, countRetry bool) error

	// Scheduling. Campaign, email rows and queue jobs are written as a
	// single transaction: either the whole campaign exists or none of it.
	ScheduleCampaign(ctx context.Context, c *models.Campaign, emails []models.Email, jobs []models.Job) error

	// Jobs (durable delayed queue)
	EnqueueJob(ctx context.Context, job *models.Job) error
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]models.Job, error)
	// ReclaimStaleJobs returns active jobs last touched before olderThan to
	// pending, recovering work orphaned by a crash between claim and resolve.
	ReclaimStaleJobs(ctx context.Context, olderThan time.Time) (int64, error)
	CompleteJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id string, runAt time.Time, attempts int, lastError string) error
	FailJob(ctx context.Context, id string, attempts int, lastError string) error
	PurgeJobs(ctx context.Context, olderThan time.Time) (int64, error)

	// Stats
	GetStats(ctx context.Context, accountID string) (*Stats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

type Summary struct {
	Sent      int64 `json:"sent"`
	Scheduled int64 `json:"scheduled"`
	Failed    int64 `json:"failed"`
}

type Stats struct {
	TotalCampaigns     int64   `json:"total_campaigns"`
	CompletedCampaigns int64   `json:"completed_campaigns"`
	TotalEmails        int64   `json:"total_emails"`
	SentCount          int64   `json:"sent_count"`
	FailedCount        int64   `json:"failed_count"`
	ScheduledCount     int64   `json:"scheduled_count"`
	SuccessRate        float64 `json:"success_rate"`
	TotalSenders       int64   `json:"total_senders"`
}
