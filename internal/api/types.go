package api

import (
	"time"
)

// SubmitJobRequest submit job request. Exactly one of the image
// sources must be set; workflow may be a JSON object or a JSON-encoded
// string and falls back to the bundled default when omitted.
type SubmitJobRequest struct {
	ImageBase64  string      `json:"image_base64,omitempty"`
	ImageURL     string      `json:"image_url,omitempty"`
	ImagePath    string      `json:"image_path,omitempty"`
	Workflow     interface{} `json:"workflow,omitempty"`
	InjectImage  *bool       `json:"inject_image,omitempty"` // default true
	PreserveSize bool        `json:"preserve_size,omitempty"`
	Quality      *int        `json:"quality,omitempty"`
	Upload       bool        `json:"upload,omitempty"`
}

// JobResponse job response
type JobResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	Image       string     `json:"image,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	Error       string     `json:"error,omitempty"`
	PromptID    string     `json:"prompt_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ErrorResponse error response
type ErrorResponse struct {
	Error string `json:"error"`
}
