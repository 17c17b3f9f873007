package jobstore

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus job status
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job job record
type Job struct {
	ID          string     `json:"id"`
	Status      JobStatus  `json:"status"`
	PromptID    string     `json:"prompt_id,omitempty"`
	ClientID    string     `json:"client_id,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJob creates new job record
func NewJob() *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.New().String(),
		Status:    JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkStarted marks job as running against a submitted prompt
func (j *Job) MarkStarted(promptID, clientID string) {
	j.Status = JobStatusRunning
	j.PromptID = promptID
	j.ClientID = clientID
	now := time.Now()
	j.StartedAt = &now
	j.UpdatedAt = now
}

// MarkCompleted marks job as completed
func (j *Job) MarkCompleted(imageURL string) {
	j.Status = JobStatusCompleted
	j.ImageURL = imageURL
	now := time.Now()
	j.CompletedAt = &now
	j.UpdatedAt = now
}

// MarkFailed marks job as failed
func (j *Job) MarkFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.Error = errorMsg
	j.UpdatedAt = time.Now()
}

// StoreMetrics store metrics
type StoreMetrics struct {
	TotalJobs     int `json:"total_jobs"`
	PendingJobs   int `json:"pending_jobs"`
	RunningJobs   int `json:"running_jobs"`
	CompletedJobs int `json:"completed_jobs"`
	FailedJobs    int `json:"failed_jobs"`
}
