package imaging

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Input acquisition errors, reported to the caller before the remote
// server is ever contacted.
var (
	ErrNoSource        = fmt.Errorf("an image source is required (image_base64, image_url or image_path)")
	ErrMultipleSources = fmt.Errorf("Provide only one image source: image_base64, image_url or image_path")
	ErrInvalidBase64   = fmt.Errorf("invalid base64 image input")
	ErrFetchFailed     = fmt.Errorf("failed to fetch image from URL")
)

// Source is the caller-supplied image reference. Exactly one field may
// be set.
type Source struct {
	Base64 string
	URL    string
	Path   string
}

// Validate enforces mutual exclusivity of the source fields.
func (s Source) Validate() error {
	set := 0
	if s.Base64 != "" {
		set++
	}
	if s.URL != "" {
		set++
	}
	if s.Path != "" {
		set++
	}
	if set == 0 {
		return ErrNoSource
	}
	if set > 1 {
		return ErrMultipleSources
	}
	return nil
}

// Acquirer obtains raw image bytes from a caller-supplied source
type Acquirer struct {
	httpClient *http.Client
}

// NewAcquirer creates an acquirer with a bounded download timeout
func NewAcquirer(downloadTimeout time.Duration) *Acquirer {
	return &Acquirer{
		httpClient: &http.Client{
			Timeout: downloadTimeout,
		},
	}
}

// Acquire resolves a source into raw image bytes. A local path that
// exists wins, then inline base64 (optionally carrying a data-URI
// prefix), then a remote URL. Malformed base64 and failed fetches are
// distinct, caller-facing errors.
func (a *Acquirer) Acquire(ctx context.Context, src Source) ([]byte, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	switch {
	case src.Path != "":
		data, err := os.ReadFile(src.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read image at %s: %w", src.Path, err)
		}
		return data, nil

	case src.Base64 != "":
		return decodeBase64(src.Base64)

	default:
		return a.fetch(ctx, src.URL)
	}
}

// decodeBase64 strictly decodes inline image data, stripping an
// optional "data:...;base64," prefix at the first comma.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			s = s[idx+1:]
		}
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBase64, err)
	}
	return data, nil
}

// fetch downloads the image from a remote URL with a bounded timeout.
func (a *Acquirer) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return data, nil
}
