package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"comfyrun/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const jobsKey = "jobs"

// Manager redis-backed job record store with an in-memory cache
type Manager struct {
	redis  *redis.Client
	jobs   sync.Map
	logger *logrus.Logger
}

// NewManager creates a job store
func NewManager(cfg config.RedisConfig) *Manager {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &Manager{
		redis:  rdb,
		logger: config.NewLogger(),
	}
}

// Ping verifies the backing store is reachable
func (m *Manager) Ping(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}

// SaveJob writes or overwrites a job record
func (m *Manager) SaveJob(ctx context.Context, job *Job) error {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := m.redis.HSet(ctx, jobsKey, job.ID, jobJSON).Err(); err != nil {
		return fmt.Errorf("failed to save job to Redis: %w", err)
	}

	// cache a private snapshot: the caller keeps mutating its record
	// after each save, and cached entries are read concurrently
	m.jobs.Store(job.ID, snapshot(job))

	m.logger.WithFields(logrus.Fields{
		"job_id": job.ID,
		"status": job.Status,
	}).Debug("Job record saved")

	return nil
}

// snapshot returns a detached copy of a job record. MarkStarted and
// friends replace the timestamp pointers rather than mutating their
// targets, so a shallow copy is enough.
func snapshot(job *Job) *Job {
	cp := *job
	return &cp
}

// GetJob gets a job record by ID, preferring the in-memory cache
func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	if cached, ok := m.jobs.Load(jobID); ok {
		return snapshot(cached.(*Job)), nil
	}

	jobJSON, err := m.redis.HGet(ctx, jobsKey, jobID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, fmt.Errorf("failed to get job from Redis: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(jobJSON), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	m.jobs.Store(job.ID, &job)
	return snapshot(&job), nil
}

// GetJobsByStatus gets job records by status
func (m *Manager) GetJobsByStatus(ctx context.Context, status JobStatus) ([]*Job, error) {
	all, err := m.redis.HGetAll(ctx, jobsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs from Redis: %w", err)
	}

	jobs := make([]*Job, 0)
	for _, jobJSON := range all {
		var job Job
		if err := json.Unmarshal([]byte(jobJSON), &job); err != nil {
			m.logger.WithError(err).Warn("Skipping corrupt job record")
			continue
		}
		if job.Status == status {
			jobs = append(jobs, &job)
		}
	}

	return jobs, nil
}

// GetMetrics gets store metrics
func (m *Manager) GetMetrics(ctx context.Context) (*StoreMetrics, error) {
	all, err := m.redis.HGetAll(ctx, jobsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs from Redis: %w", err)
	}

	metrics := &StoreMetrics{}
	for _, jobJSON := range all {
		var job Job
		if err := json.Unmarshal([]byte(jobJSON), &job); err != nil {
			continue
		}
		metrics.TotalJobs++
		switch job.Status {
		case JobStatusPending:
			metrics.PendingJobs++
		case JobStatusRunning:
			metrics.RunningJobs++
		case JobStatusCompleted:
			metrics.CompletedJobs++
		case JobStatusFailed:
			metrics.FailedJobs++
		}
	}

	return metrics, nil
}
