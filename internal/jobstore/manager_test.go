package jobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotDetachesFromLiveRecord(t *testing.T) {
	job := NewJob()
	cached := snapshot(job)

	job.MarkStarted("p-1", "c-1")
	job.MarkCompleted("https://cdn.example.com/x.png")

	assert.Equal(t, JobStatusPending, cached.Status)
	assert.Empty(t, cached.PromptID)
	assert.Empty(t, cached.ImageURL)
	assert.Nil(t, cached.StartedAt)
	assert.Nil(t, cached.CompletedAt)
}

func TestSnapshotKeepsTimestamps(t *testing.T) {
	job := NewJob()
	job.MarkStarted("p-1", "c-1")

	cached := snapshot(job)
	require.NotNil(t, cached.StartedAt)
	assert.Equal(t, job.StartedAt, cached.StartedAt)
	assert.Equal(t, job.CreatedAt, cached.CreatedAt)
}
