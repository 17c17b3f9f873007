package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// PostProcessOptions output shaping flags
type PostProcessOptions struct {
	PreserveSize bool // resize back to the recorded input dimensions
	Width        int  // original input width
	Height       int  // original input height
	Quality      *int // JPEG quality when set, clamped to 0-100; nil keeps PNG
}

// PostProcess decodes a fetched result image, forces the canonical
// color representation, optionally resizes back to the original input
// dimensions, and re-encodes. JPEG is used when a quality was requested
// (the stdlib encoder never subsamples chroma, preserving edges); PNG
// otherwise.
func PostProcess(data []byte, opts PostProcessOptions) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}

	rgb := flattenToRGB(src)

	if opts.PreserveSize && opts.Width > 0 && opts.Height > 0 {
		bounds := rgb.Bounds()
		if bounds.Dx() != opts.Width || bounds.Dy() != opts.Height {
			rgb = resize(rgb, opts.Width, opts.Height)
		}
	}

	var buf bytes.Buffer
	if opts.Quality != nil {
		err = jpeg.Encode(&buf, rgb, &jpeg.Options{Quality: ClampQuality(*opts.Quality)})
	} else {
		err = png.Encode(&buf, rgb)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode result image: %w", err)
	}

	return buf.Bytes(), nil
}

// resize scales with Catmull-Rom resampling, trading speed for quality
// since results may carry text or fine edges.
func resize(src *image.RGBA, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// ClampQuality clamps an encoder quality to [0, 100].
func ClampQuality(q int) int {
	if q < 0 {
		return 0
	}
	if q > 100 {
		return 100
	}
	return q
}
