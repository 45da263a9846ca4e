// Package compositor renders the two sampled video planes into a single
// premultiplied-alpha RGBA output texture once per tick. The draw is a
// software rasterization of a static full-screen quad with a bilinear
// clamp-to-edge sampler, so the whole pass runs and tests headlessly.
package compositor

import (
	"fmt"
	"math"

	"github.com/zsiec/lumakey/media"
)

// Texture is a CPU-resident 2D RGBA color target or source. The session's
// output texture is shared by reference with the downstream material: the
// compositor is the sole writer, readers get no double buffering and may
// observe a partially updated frame mid-write. Acceptable for continuously
// refreshed video; documented as a single-writer/single-buffer model.
type Texture struct {
	Width  int
	Height int
	Pix    []byte // packed RGBA, stride Width*4
}

// NewTexture allocates a transparent-black texture.
func NewTexture(width, height int) *Texture {
	return &Texture{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*media.BytesPerPixel),
	}
}

// Clear fills the texture with fully transparent black.
func (t *Texture) Clear() {
	for i := range t.Pix {
		t.Pix[i] = 0
	}
}

// importTexture wraps a sampled pixel buffer as a read-only texture,
// validating that the buffer's geometry is coherent. A failed import is a
// transient per-tick condition, not a stream failure.
func importTexture(buf *media.PixelBuffer) (*Texture, error) {
	if buf.Width <= 0 || buf.Height <= 0 {
		return nil, fmt.Errorf("import texture: bad dimensions %dx%d", buf.Width, buf.Height)
	}
	if buf.Stride != buf.Width*media.BytesPerPixel {
		return nil, fmt.Errorf("import texture: stride %d does not match width %d", buf.Stride, buf.Width)
	}
	if len(buf.Pix) < buf.Height*buf.Stride {
		return nil, fmt.Errorf("import texture: %d pixel bytes, need %d", len(buf.Pix), buf.Height*buf.Stride)
	}
	return &Texture{Width: buf.Width, Height: buf.Height, Pix: buf.Pix}, nil
}

// sample returns the bilinear clamp-to-edge sample at normalized (u, v),
// each channel in [0, 255].
func (t *Texture) sample(u, v float64) (r, g, b, a float64) {
	// Map texel centers (u=0 samples the center of column 0) and clamp the
	// continuous coordinate so off-edge samples repeat the edge texel.
	fx := clampF(u*float64(t.Width)-0.5, 0, float64(t.Width-1))
	fy := clampF(v*float64(t.Height)-0.5, 0, float64(t.Height-1))

	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	x1 := clampInt(x0+1, 0, t.Width-1)
	y1 := clampInt(y0+1, 0, t.Height-1)

	tx := fx - float64(x0)
	ty := fy - float64(y0)

	r00, g00, b00, a00 := t.texel(x0, y0)
	r10, g10, b10, a10 := t.texel(x1, y0)
	r01, g01, b01, a01 := t.texel(x0, y1)
	r11, g11, b11, a11 := t.texel(x1, y1)

	lerp2 := func(c00, c10, c01, c11 float64) float64 {
		top := c00 + (c10-c00)*tx
		bot := c01 + (c11-c01)*tx
		return top + (bot-top)*ty
	}
	return lerp2(r00, r10, r01, r11),
		lerp2(g00, g10, g01, g11),
		lerp2(b00, b10, b01, b11),
		lerp2(a00, a10, a01, a11)
}

func (t *Texture) texel(x, y int) (r, g, b, a float64) {
	i := (y*t.Width + x) * media.BytesPerPixel
	return float64(t.Pix[i]), float64(t.Pix[i+1]), float64(t.Pix[i+2]), float64(t.Pix[i+3])
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
