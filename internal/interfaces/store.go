package interfaces

import (
	"context"

	"comfyrun/internal/jobstore"
)

// JobStore persists job records for later inspection
type JobStore interface {
	// SaveJob writes or overwrites a job record
	SaveJob(ctx context.Context, job *jobstore.Job) error

	// GetJob gets a job record by ID
	GetJob(ctx context.Context, jobID string) (*jobstore.Job, error)

	// GetJobsByStatus gets job records by status
	GetJobsByStatus(ctx context.Context, status jobstore.JobStatus) ([]*jobstore.Job, error)

	// GetMetrics gets aggregate job counts by status
	GetMetrics(ctx context.Context) (*jobstore.StoreMetrics, error)

	// Ping verifies the backing store is reachable
	Ping(ctx context.Context) error
}

// Uploader pushes a result image to external object storage
type Uploader interface {
	// Upload stores the bytes under key and returns a public URL
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
