package interfaces

import (
	"context"
	"encoding/json"
)

// RenderClient ComfyUI client interface
type RenderClient interface {
	// WaitForReady blocks until the server answers its base endpoint
	// or the readiness budget is exhausted
	WaitForReady(ctx context.Context) error

	// SubmitWorkflow queues a workflow and returns the issued prompt id
	SubmitWorkflow(ctx context.Context, workflow map[string]interface{}, clientID string) (*PromptResponse, error)

	// GetHistory fetches the result history for a prompt
	GetHistory(ctx context.Context, promptID string) (*HistoryEntry, error)

	// GetImage fetches one produced image by its descriptor
	GetImage(ctx context.Context, ref ImageRef) ([]byte, error)

	// OpenEvents opens the push-event channel scoped to clientID
	OpenEvents(ctx context.Context, clientID string) (EventStream, error)
}

// EventStream is the duplex event connection for one client id.
// It must be closed on every exit path.
type EventStream interface {
	// WaitForCompletion consumes events until the completion signal
	// for promptID arrives or ctx expires
	WaitForCompletion(ctx context.Context, promptID string) error

	// Close closes the underlying connection
	Close() error
}

// PromptResponse ComfyUI response to a workflow submission
type PromptResponse struct {
	PromptID   string                     `json:"prompt_id"`
	Number     int                        `json:"number"`
	NodeErrors map[string]json.RawMessage `json:"node_errors,omitempty"`
}

// HistoryEntry per-prompt result history
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
}

// NodeOutput output section of a single node
type NodeOutput struct {
	Images []ImageRef `json:"images,omitempty"`
}

// ImageRef descriptor of a produced image, as used by GET /view
type ImageRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// EventMessage a textual frame from the event channel
type EventMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ExecutingData payload of an "executing" event. Node is nil when no
// node is currently executing for the prompt, which is the completion
// signal.
type ExecutingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}
