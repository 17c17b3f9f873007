package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"

	// codecs registered for image.Decode
	_ "image/gif"
	_ "image/jpeg"
)

// ErrDecodeFailed wraps codec failures on caller-supplied bytes.
var ErrDecodeFailed = fmt.Errorf("failed to decode image")

// Asset is a normalized input image ready for the render server.
type Asset struct {
	Data   []byte
	Width  int
	Height int
}

// Normalize decodes raw bytes and forces the canonical three-channel
// representation the server's LoadImage node expects: alpha composited
// over white, palette and grayscale expanded. The result is PNG-encoded
// and carries the source dimensions.
func Normalize(data []byte) (*Asset, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	rgb := flattenToRGB(src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgb); err != nil {
		return nil, fmt.Errorf("failed to encode normalized image: %w", err)
	}

	bounds := rgb.Bounds()
	return &Asset{
		Data:   buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// flattenToRGB composites any decoded image onto an opaque white
// canvas. The PNG encoder emits plain truecolor for opaque images, so
// no alpha channel survives.
func flattenToRGB(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Over)
	return dst
}

// SaveInput writes a normalized asset into the server's input
// directory under the given per-job filename.
func SaveInput(dir, filename string, asset *Asset) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create input directory: %w", err)
	}

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, asset.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write input image: %w", err)
	}

	return path, nil
}
