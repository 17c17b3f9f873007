package comfyui

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comfyrun/internal/config"
	"comfyrun/internal/interfaces"
)

func newTestClient(t *testing.T, attempts int, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.ComfyUIConfig{
		ServerAddress:  strings.TrimPrefix(srv.URL, "http://"),
		ReadyAttempts:  attempts,
		ProbeTimeout:   time.Second,
		RequestTimeout: time.Second,
	})
}

func TestBuildURLPreservesExplicitTLS(t *testing.T) {
	client := NewClient(config.ComfyUIConfig{ServerAddress: "https://gpu.example.com/"})

	assert.Equal(t, "https://gpu.example.com/prompt", client.buildURL("http", "/prompt"))
	assert.Equal(t, "wss://gpu.example.com/ws", client.buildURL("ws", "/ws"))
}

func TestBuildURLPlainEndpoint(t *testing.T) {
	client := NewClient(config.ComfyUIConfig{ServerAddress: "127.0.0.1:8188"})

	assert.Equal(t, "http://127.0.0.1:8188/prompt", client.buildURL("http", "/prompt"))
	assert.Equal(t, "ws://127.0.0.1:8188/ws", client.buildURL("ws", "/ws"))
}

func TestProbeSingleRequest(t *testing.T) {
	var calls int32
	client := newTestClient(t, 5, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.Probe(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestProbeReportsNotReady(t *testing.T) {
	client := newTestClient(t, 5, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	err := client.Probe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestWaitForReadyRetriesUntilSuccess(t *testing.T) {
	var calls int32
	client := newTestClient(t, 5, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, client.WaitForReady(context.Background()))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestWaitForReadyExhaustsBudget(t *testing.T) {
	client := newTestClient(t, 1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	err := client.WaitForReady(context.Background())
	assert.ErrorIs(t, err, ErrServerUnreachable)
}

func TestWaitForReadyHonorsContext(t *testing.T) {
	client := newTestClient(t, 100, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.WaitForReady(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubmitWorkflow(t *testing.T) {
	var gotBody map[string]interface{}
	client := newTestClient(t, 1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/prompt", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{"prompt_id": "p-123", "number": 1})
	}))

	workflow := map[string]interface{}{
		"1": map[string]interface{}{"inputs": map[string]interface{}{"image": "in.png"}},
	}

	resp, err := client.SubmitWorkflow(context.Background(), workflow, "client-9")
	require.NoError(t, err)
	assert.Equal(t, "p-123", resp.PromptID)

	// the submission body carries both the workflow and the client id
	assert.Equal(t, "client-9", gotBody["client_id"])
	assert.Contains(t, gotBody["prompt"], "1")
}

func TestSubmitWorkflowRejectionKeepsServerBody(t *testing.T) {
	client := newTestClient(t, 1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid prompt","node_errors":{"4":{}}}`))
	}))

	_, err := client.SubmitWorkflow(context.Background(), map[string]interface{}{}, "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid prompt")
	assert.Contains(t, err.Error(), "status 400")
}

func TestSubmitWorkflowMissingPromptID(t *testing.T) {
	client := newTestClient(t, 1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	_, err := client.SubmitWorkflow(context.Background(), map[string]interface{}{}, "c")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no prompt_id")
}

func TestGetHistory(t *testing.T) {
	client := newTestClient(t, 1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/history/p-1", r.URL.Path)
		w.Write([]byte(`{
			"p-1": {
				"outputs": {
					"9": {"images": [{"filename": "out.png", "subfolder": "", "type": "output"}]}
				}
			}
		}`))
	}))

	entry, err := client.GetHistory(context.Background(), "p-1")
	require.NoError(t, err)
	require.Contains(t, entry.Outputs, "9")
	require.Len(t, entry.Outputs["9"].Images, 1)
	assert.Equal(t, "out.png", entry.Outputs["9"].Images[0].Filename)
}

func TestGetHistoryMissingEntry(t *testing.T) {
	client := newTestClient(t, 1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))

	_, err := client.GetHistory(context.Background(), "p-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entry")
}

func TestGetImage(t *testing.T) {
	client := newTestClient(t, 1, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/view", r.URL.Path)
		assert.Equal(t, "out.png", r.URL.Query().Get("filename"))
		assert.Equal(t, "sub", r.URL.Query().Get("subfolder"))
		assert.Equal(t, "output", r.URL.Query().Get("type"))
		w.Write([]byte("image bytes"))
	}))

	data, err := client.GetImage(context.Background(), interfaces.ImageRef{
		Filename:  "out.png",
		Subfolder: "sub",
		Type:      "output",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("image bytes"), data)
}
