package models

import "time"

type EmailStatus string

const (
	EmailPending   EmailStatus = "PENDING"
	EmailScheduled EmailStatus = "SCHEDULED"
	EmailSent      EmailStatus = "SENT"
	EmailFailed    EmailStatus = "FAILED"
	EmailCancelled EmailStatus = "CANCELLED"
)

// IsTerminal reports whether no further status transitions occur.
func (s EmailStatus) IsTerminal() bool {
	return s == EmailSent || s == EmailFailed
}

type Email struct {
	ID                 string      `json:"id"`
	AccountID          string      `json:"account_id"`
	CampaignID         string      `json:"campaign_id"`
	SenderID           string      `json:"sender_id"`
	Recipient          string      `json:"recipient"`
	Subject            string      `json:"subject"`
	Body               string      `json:"body"`
	Status             EmailStatus `json:"status"`
	ScheduledAt        *time.Time  `json:"scheduled_at,omitempty"`
	SentAt             *time.Time  `json:"sent_at,omitempty"`
	TransportMessageID string      `json:"transport_message_id,omitempty"`
	ErrorMessage       string      `json:"error_message,omitempty"`
	RetryCount         int         `json:"retry_count"`
	CreatedAt          time.Time   `json:"created_at"`
}
