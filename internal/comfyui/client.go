package comfyui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"comfyrun/internal/config"
	"comfyrun/internal/interfaces"
)

// ErrServerUnreachable is returned when the readiness budget is exhausted.
var ErrServerUnreachable = fmt.Errorf("ComfyUI server is not reachable")

// readyPollInterval sleep between readiness probes
const readyPollInterval = time.Second

// Client ComfyUI API client
type Client struct {
	endpoint      string
	httpClient    *http.Client
	probeClient   *http.Client
	readyAttempts int
	logger        *logrus.Logger
}

// NewClient creates ComfyUI client
func NewClient(cfg config.ComfyUIConfig) *Client {
	return &Client{
		endpoint: cfg.ServerAddress,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		probeClient: &http.Client{
			Timeout: cfg.ProbeTimeout,
		},
		readyAttempts: cfg.ReadyAttempts,
		logger:        config.NewLogger(),
	}
}

// buildURL builds complete URL, properly handling the configured
// endpoint. An explicit https:// endpoint upgrades the scheme to its
// secure variant (https or wss).
func (c *Client) buildURL(scheme, path string) string {
	endpoint := c.endpoint
	secure := strings.HasPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimSuffix(endpoint, "/")
	if secure {
		switch scheme {
		case "ws":
			scheme = "wss"
		case "http":
			scheme = "https"
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return scheme + "://" + endpoint + path
}

// Probe issues a single cheap readiness request against the base
// endpoint. Transport errors and non-2xx responses both count as not
// ready.
func (c *Client) Probe(ctx context.Context) error {
	probeURL := c.buildURL("http", "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	return nil
}

// WaitForReady polls the base endpoint until the server answers or the
// attempt budget runs out.
func (c *Client) WaitForReady(ctx context.Context) error {
	for attempt := 0; attempt < c.readyAttempts; attempt++ {
		if err := c.Probe(ctx); err == nil {
			c.logger.WithField("attempts", attempt+1).Debug("ComfyUI server is ready")
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}

	return ErrServerUnreachable
}

// SubmitWorkflow submits workflow to ComfyUI
func (c *Client) SubmitWorkflow(ctx context.Context, workflow map[string]interface{}, clientID string) (*interfaces.PromptResponse, error) {
	requestBody := map[string]interface{}{
		"prompt":    workflow,
		"client_id": clientID,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow: %w", err)
	}

	submitURL := c.buildURL("http", "/prompt")
	c.logger.WithField("url", submitURL).Debug("Submitting workflow")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// the server's error body usually names the offending node,
		// keep it for diagnostics
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ComfyUI rejected workflow with status %d: %s", resp.StatusCode, string(body))
	}

	var result interfaces.PromptResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if result.PromptID == "" {
		return nil, fmt.Errorf("submission response carried no prompt_id")
	}

	c.logger.WithField("prompt_id", result.PromptID).Debug("Workflow submitted")
	return &result, nil
}

// GetHistory fetches the result history for a prompt
func (c *Client) GetHistory(ctx context.Context, promptID string) (*interfaces.HistoryEntry, error) {
	historyURL := c.buildURL("http", "/history/"+promptID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, historyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create history request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected history status code: %d", resp.StatusCode)
	}

	// the document is keyed by prompt id
	var history map[string]interfaces.HistoryEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}

	entry, ok := history[promptID]
	if !ok {
		return nil, fmt.Errorf("history has no entry for prompt %s", promptID)
	}

	return &entry, nil
}

// GetImage fetches one produced image by its descriptor
func (c *Client) GetImage(ctx context.Context, ref interfaces.ImageRef) ([]byte, error) {
	params := url.Values{}
	params.Set("filename", ref.Filename)
	params.Set("subfolder", ref.Subfolder)
	params.Set("type", ref.Type)

	viewURL := c.buildURL("http", "/view") + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, viewURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create view request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image %s: %w", ref.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected view status code %d for %s", resp.StatusCode, ref.Filename)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image %s: %w", ref.Filename, err)
	}

	return data, nil
}
