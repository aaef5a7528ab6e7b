package models

import "time"

type CampaignStatus string

const (
	CampaignDraft      CampaignStatus = "DRAFT"
	CampaignProcessing CampaignStatus = "PROCESSING"
	CampaignCompleted  CampaignStatus = "COMPLETED"
	CampaignPaused     CampaignStatus = "PAUSED"
)

type Campaign struct {
	ID        string         `json:"id"`
	AccountID string         `json:"account_id"`
	Name      string         `json:"name"`
	Status    CampaignStatus `json:"status"`
	// HourlyLimit overrides the process-wide sender throughput cap.
	// Zero means no override.
	HourlyLimit int       `json:"hourly_limit,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
