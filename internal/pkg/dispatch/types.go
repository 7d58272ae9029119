package dispatch

import (
	"encoding/json"
	"time"
)

// Outbound event types carried in the X-Event-Type header.
const (
	EventSessionCompleted = "session.completed"
	EventSessionExpired   = "session.expired"
	EventInvoicePaid      = "invoice.paid"
)

// JobStatus defines the status of a delivery job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job is one outbound webhook delivery. SessionID links attempt bookkeeping
// back to the session row and may be empty for billing events.
type Job struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id,omitempty"`
	URL         string          `json:"url"`
	Secret      string          `json:"secret"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      JobStatus       `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	ErrorMsg    string          `json:"error_msg,omitempty"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
}

// IsRetryable reports whether the job may be attempted again.
func (j *Job) IsRetryable() bool {
	return j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates status metadata before an attempt.
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.ProcessedAt = &now
	j.UpdatedAt = now
}

// MarkAsFailed records the failure reason and bumps the retry counter.
func (j *Job) MarkAsFailed(errMsg string) {
	j.Status = JobStatusFailed
	j.ErrorMsg = errMsg
	j.RetryCount++
	j.UpdatedAt = time.Now()
}

// MarkAsRetrying flags the job for re-enqueue.
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}

// MarkAsCompleted finalizes a delivered job.
func (j *Job) MarkAsCompleted() {
	j.Status = JobStatusCompleted
	j.UpdatedAt = time.Now()
}

// backoffDelay returns the wait before the given attempt number (1-based):
// 30s, 1m, 2m, 4m... capped at 15 minutes.
func backoffDelay(attempt int) time.Duration {
	delay := 30 * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= 15*time.Minute {
			return 15 * time.Minute
		}
	}
	return delay
}
