package models

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobActive    JobStatus = "active"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is a durable, time-delayed trigger causing one email to be attempted.
// The email row is the source of truth; the job only drives the attempt.
type Job struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	EmailID   string    `json:"email_id"`
	Status    JobStatus `json:"status"`
	RunAt     time.Time `json:"run_at"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
