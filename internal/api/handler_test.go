package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfyrun/internal/jobstore"
	"comfyrun/internal/runner"
)

type fakeRunner struct {
	gotInput runner.Input
	result   *runner.Result
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, input runner.Input) (*runner.Result, error) {
	f.gotInput = input
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeStore struct {
	jobs     []*jobstore.Job
	byID     map[string]*jobstore.Job
	metrics  *jobstore.StoreMetrics
	pingErr  error
	storeErr error
}

func (f *fakeStore) SaveJob(ctx context.Context, job *jobstore.Job) error {
	f.jobs = append(f.jobs, job)
	return f.storeErr
}

func (f *fakeStore) GetJob(ctx context.Context, jobID string) (*jobstore.Job, error) {
	if job, ok := f.byID[jobID]; ok {
		return job, nil
	}
	return nil, fmt.Errorf("job not found: %s", jobID)
}

func (f *fakeStore) GetJobsByStatus(ctx context.Context, status jobstore.JobStatus) ([]*jobstore.Job, error) {
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	matched := make([]*jobstore.Job, 0)
	for _, job := range f.jobs {
		if job.Status == status {
			matched = append(matched, job)
		}
	}
	return matched, nil
}

func (f *fakeStore) GetMetrics(ctx context.Context) (*jobstore.StoreMetrics, error) {
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	return f.metrics, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}

type fakeProber struct {
	err   error
	calls int
}

func (f *fakeProber) Probe(ctx context.Context) error {
	f.calls++
	return f.err
}

func newTestRouter(f *fakeRunner) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(f, nil, nil).RegisterRoutes(router)
	return router
}

func newStoreRouter(f *fakeRunner, store *fakeStore, render RenderProber) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(f, store, render).RegisterRoutes(router)
	return router
}

func postJob(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitJobReturnsInlineImage(t *testing.T) {
	job := jobstore.NewJob()
	job.MarkStarted("p-1", "c-1")
	job.MarkCompleted("")

	f := &fakeRunner{result: &runner.Result{Job: job, ImageBase64: "aW1hZ2U="}}
	router := newTestRouter(f)

	w := postJob(t, router, `{"image_base64": "AAA=", "preserve_size": true, "quality": 90}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "aW1hZ2U=", resp.Image)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "p-1", resp.PromptID)

	// request flags reached the runner
	assert.True(t, f.gotInput.PreserveSize)
	require.NotNil(t, f.gotInput.Quality)
	assert.Equal(t, 90, *f.gotInput.Quality)
	assert.True(t, f.gotInput.InjectImage)
	assert.Equal(t, "AAA=", f.gotInput.Source.Base64)
}

func TestSubmitJobReturnsUploadedURL(t *testing.T) {
	job := jobstore.NewJob()
	job.MarkCompleted("https://cdn.example.com/results/x.png")

	f := &fakeRunner{result: &runner.Result{Job: job, ImageURL: "https://cdn.example.com/results/x.png"}}
	router := newTestRouter(f)

	w := postJob(t, router, `{"image_base64": "AAA=", "upload": true}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Image)
	assert.Equal(t, "https://cdn.example.com/results/x.png", resp.ImageURL)
}

func TestSubmitJobInjectImageOptOut(t *testing.T) {
	job := jobstore.NewJob()
	job.MarkCompleted("")

	f := &fakeRunner{result: &runner.Result{Job: job, ImageBase64: "aW1hZ2U="}}
	router := newTestRouter(f)

	w := postJob(t, router, `{"image_base64": "AAA=", "inject_image": false}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.False(t, f.gotInput.InjectImage)
}

func TestSubmitJobErrorMapping(t *testing.T) {
	cases := []struct {
		kind   runner.Kind
		status int
	}{
		{runner.KindInput, http.StatusBadRequest},
		{runner.KindUnavailable, http.StatusBadGateway},
		{runner.KindRejected, http.StatusBadGateway},
		{runner.KindEmpty, http.StatusUnprocessableEntity},
		{runner.KindTimeout, http.StatusGatewayTimeout},
		{runner.KindInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		f := &fakeRunner{err: &runner.Error{Kind: tc.kind, Err: fmt.Errorf("boom")}}
		router := newTestRouter(f)

		w := postJob(t, router, `{"image_base64": "AAA="}`)
		assert.Equal(t, tc.status, w.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "boom", resp.Error)
	}
}

func TestSubmitJobMalformedBody(t *testing.T) {
	router := newTestRouter(&fakeRunner{})

	w := postJob(t, router, `{"image_base64": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJobWithoutStore(t *testing.T) {
	router := newTestRouter(&fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/some-id", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobsFiltersByStatus(t *testing.T) {
	done := jobstore.NewJob()
	done.MarkCompleted("https://cdn.example.com/x.png")
	failed := jobstore.NewJob()
	failed.MarkFailed("no image produced")

	store := &fakeStore{jobs: []*jobstore.Job{done, failed}}
	router := newStoreRouter(&fakeRunner{}, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs?status=failed", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs  []JobResponse `json:"jobs"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, failed.ID, resp.Jobs[0].ID)
	assert.Equal(t, "failed", resp.Jobs[0].Status)
}

func TestListJobsReturnsAllStatuses(t *testing.T) {
	pending := jobstore.NewJob()
	running := jobstore.NewJob()
	running.MarkStarted("p-1", "c-1")

	store := &fakeStore{jobs: []*jobstore.Job{pending, running}}
	router := newStoreRouter(&fakeRunner{}, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Jobs  []JobResponse `json:"jobs"`
		Count int           `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestGetJobMetrics(t *testing.T) {
	store := &fakeStore{metrics: &jobstore.StoreMetrics{
		TotalJobs:     3,
		CompletedJobs: 2,
		FailedJobs:    1,
	}}
	router := newStoreRouter(&fakeRunner{}, store, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var metrics jobstore.StoreMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &metrics))
	assert.Equal(t, 3, metrics.TotalJobs)
	assert.Equal(t, 2, metrics.CompletedJobs)
}

func TestReadinessChecksRenderServer(t *testing.T) {
	prober := &fakeProber{err: fmt.Errorf("connection refused")}
	router := newStoreRouter(&fakeRunner{}, &fakeStore{}, prober)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 1, prober.calls)
}

func TestReadinessReadyWhenProbeSucceeds(t *testing.T) {
	prober := &fakeProber{}
	router := newStoreRouter(&fakeRunner{}, &fakeStore{}, prober)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, prober.calls)
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(&fakeRunner{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
