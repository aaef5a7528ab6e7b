package delivery

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/driphub/driphub/internal/models"
	"github.com/driphub/driphub/internal/queue"
	"github.com/driphub/driphub/internal/ratelimit"
	"github.com/driphub/driphub/internal/storage"
)

// Store is the persistence the worker needs to run one delivery attempt.
type Store interface {
	GetEmailForDelivery(ctx context.Context, emailID string) (*storage.DeliveryContext, error)
	MarkEmailSent(ctx context.Context, id string, sentAt time.Time, transportMessageID string) error
	MarkEmailFailed(ctx context.Context, id string, errorMessage string, countRetry bool) error
	CountOutstandingEmails(ctx context.Context, campaignID string) (int64, error)
	CompleteCampaign(ctx context.Context, id string) error
}

// Worker processes one claimed delivery job at a time: it resolves the rate
// limit, invokes the transport and persists the email's state transition.
type Worker struct {
	store       Store
	limiter     *ratelimit.Limiter
	transport   Transport
	deferMargin time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

func NewWorker(store Store, limiter *ratelimit.Limiter, transport Transport, deferMargin time.Duration, log zerolog.Logger) *Worker {
	return &Worker{
		store:       store,
		limiter:     limiter,
		transport:   transport,
		deferMargin: deferMargin,
		log:         log,
		now:         time.Now,
	}
}

// Process runs the delivery state machine for one job. Terminal email states
// are SENT and FAILED; a rate-limit deferral ends the attempt without any
// state change and without counting as a send attempt.
func (w *Worker) Process(ctx context.Context, job models.Job) queue.Outcome {
	dc, err := w.store.GetEmailForDelivery(ctx, job.EmailID)
	if err != nil {
		w.log.Error().Err(err).Str("email_id", job.EmailID).Msg("failed to load email for delivery")
		return queue.Failed(err)
	}
	if dc == nil {
		w.log.Warn().Str("email_id", job.EmailID).Str("job_id", job.ID).Msg("email not found, dropping job")
		return queue.Completed()
	}
	email := dc.Email

	// A stale or duplicate job must never reach the transport once the
	// email has been recorded as sent.
	if email.Status == models.EmailSent {
		w.log.Debug().Str("email_id", email.ID).Msg("email already sent, dropping job")
		return queue.Completed()
	}

	if !strings.Contains(email.Recipient, "@") {
		w.log.Warn().
			Str("email_id", email.ID).
			Str("recipient", email.Recipient).
			Msg("invalid recipient")
		if err := w.store.MarkEmailFailed(ctx, email.ID, "Invalid recipient", false); err != nil {
			return queue.Failed(err)
		}
		w.checkCampaignCompletion(ctx, email.CampaignID)
		return queue.Completed()
	}

	decision, err := w.limiter.Admit(ctx, email.SenderID, dc.CampaignHourlyLimit)
	if err != nil {
		// Never admit without a working limiter; treat as transient.
		w.log.Error().Err(err).Str("sender_id", email.SenderID).Msg("rate limiter unavailable")
		return queue.Failed(err)
	}

	if !decision.Admitted {
		delay := decision.RetryAt.Sub(w.now()) + w.deferMargin
		w.log.Info().
			Str("email_id", email.ID).
			Str("sender_id", email.SenderID).
			Time("retry_at", decision.RetryAt).
			Msg("rate limited, deferring to next hour window")
		return queue.Deferred(delay)
	}

	messageID, err := w.transport.Send(ctx, Message{
		FromName:  dc.SenderName,
		FromEmail: dc.SenderEmail,
		To:        email.Recipient,
		Subject:   email.Subject,
		HTMLBody:  email.Body,
		TextBody:  StripHTML(email.Body),
	})
	if err != nil {
		w.log.Error().
			Err(err).
			Str("email_id", email.ID).
			Str("recipient", email.Recipient).
			Msg("send failed")
		if markErr := w.store.MarkEmailFailed(ctx, email.ID, err.Error(), true); markErr != nil {
			w.log.Error().Err(markErr).Str("email_id", email.ID).Msg("failed to record send failure")
		}
		w.checkCampaignCompletion(ctx, email.CampaignID)
		return queue.Failed(err)
	}

	if err := w.store.MarkEmailSent(ctx, email.ID, w.now().UTC(), messageID); err != nil {
		w.log.Error().Err(err).Str("email_id", email.ID).Msg("failed to record sent email")
		return queue.Failed(err)
	}

	w.log.Info().
		Str("email_id", email.ID).
		Str("recipient", email.Recipient).
		Str("transport_message_id", messageID).
		Msg("email sent")

	w.checkCampaignCompletion(ctx, email.CampaignID)
	return queue.Completed()
}

// checkCampaignCompletion marks the campaign COMPLETED once no emails remain
// PENDING or SCHEDULED. Best-effort reconciliation: a race between workers
// is harmless because the completion write is idempotent.
func (w *Worker) checkCampaignCompletion(ctx context.Context, campaignID string) {
	remaining, err := w.store.CountOutstandingEmails(ctx, campaignID)
	if err != nil {
		w.log.Error().Err(err).Str("campaign_id", campaignID).Msg("failed to count outstanding emails")
		return
	}
	if remaining > 0 {
		return
	}

	if err := w.store.CompleteCampaign(ctx, campaignID); err != nil {
		w.log.Error().Err(err).Str("campaign_id", campaignID).Msg("failed to complete campaign")
		return
	}
	w.log.Info().Str("campaign_id", campaignID).Msg("campaign completed")
}
