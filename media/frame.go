// Package media defines the pixel-buffer frame type that flows through the
// lumakey pipeline, from source decoding through compositing.
package media

import "time"

// BytesPerPixel is the size of one RGBA pixel in a PixelBuffer.
const BytesPerPixel = 4

// PixelBuffer is a single decoded video frame in display-encoded RGBA order.
// PTS is the frame's presentation time in the stream's own media timeline.
// Sampled buffers are transient: a buffer handed to the compositor is valid
// for the duration of one composite call and must not be retained across
// ticks.
type PixelBuffer struct {
	PTS    time.Duration
	Width  int
	Height int
	Stride int
	Pix    []byte
}

// NewPixelBuffer allocates a zeroed buffer with a tightly packed stride.
func NewPixelBuffer(width, height int) *PixelBuffer {
	return &PixelBuffer{
		Width:  width,
		Height: height,
		Stride: width * BytesPerPixel,
		Pix:    make([]byte, width*height*BytesPerPixel),
	}
}

// RGBAAt returns the pixel at (x, y). Out-of-bounds coordinates return
// transparent black.
func (b *PixelBuffer) RGBAAt(x, y int) (r, g, bl, a byte) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return 0, 0, 0, 0
	}
	i := y*b.Stride + x*BytesPerPixel
	return b.Pix[i], b.Pix[i+1], b.Pix[i+2], b.Pix[i+3]
}

// SetRGBA writes the pixel at (x, y). Out-of-bounds coordinates are ignored.
func (b *PixelBuffer) SetRGBA(x, y int, r, g, bl, a byte) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return
	}
	i := y*b.Stride + x*BytesPerPixel
	b.Pix[i] = r
	b.Pix[i+1] = g
	b.Pix[i+2] = bl
	b.Pix[i+3] = a
}

// Clone returns a deep copy of the buffer.
func (b *PixelBuffer) Clone() *PixelBuffer {
	pix := make([]byte, len(b.Pix))
	copy(pix, b.Pix)
	return &PixelBuffer{
		PTS:    b.PTS,
		Width:  b.Width,
		Height: b.Height,
		Stride: b.Stride,
		Pix:    pix,
	}
}
