package preview

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	xdraw "golang.org/x/image/draw"

	"github.com/zsiec/lumakey/compositor"
)

// PNGSink writes composited frames to numbered PNG files, for offline
// inspection of individual composites. Frames are optionally downscaled
// before writing.
type PNGSink struct {
	dir     string
	maxDim  int
	written int
}

// NewPNGSink creates a sink writing into dir, creating it if needed.
// When maxDim is positive, frames larger than maxDim on either axis are
// scaled down to fit, preserving aspect ratio.
func NewPNGSink(dir string, maxDim int) (*PNGSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sink directory: %w", err)
	}
	return &PNGSink{dir: dir, maxDim: maxDim}, nil
}

// Write encodes the texture as the next numbered frame file.
func (p *PNGSink) Write(tex *compositor.Texture) error {
	if tex == nil {
		return fmt.Errorf("nil texture")
	}

	img := &image.RGBA{
		Pix:    tex.Pix,
		Stride: tex.Width * 4,
		Rect:   image.Rect(0, 0, tex.Width, tex.Height),
	}

	var out image.Image = img
	if w, h, ok := p.fitDims(tex.Width, tex.Height); ok {
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.BiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), xdraw.Src, nil)
		out = scaled
	}

	path := filepath.Join(p.dir, fmt.Sprintf("frame-%05d.png", p.written))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create frame file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, out); err != nil {
		return fmt.Errorf("encode frame %d: %w", p.written, err)
	}
	p.written++
	return nil
}

// Written reports the number of frames written so far.
func (p *PNGSink) Written() int { return p.written }

func (p *PNGSink) fitDims(w, h int) (int, int, bool) {
	if p.maxDim <= 0 || (w <= p.maxDim && h <= p.maxDim) {
		return 0, 0, false
	}
	if w >= h {
		return p.maxDim, max(1, h*p.maxDim/w), true
	}
	return max(1, w*p.maxDim/h), p.maxDim, true
}
