package compositor

import (
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/lumakey/media"
)

// Compositor owns the output texture and executes the composite pass. The
// output is sized to the RGB stream's natural dimensions on first use; a
// later dimension change triggers a one-time reallocation rather than a
// continuous resize check. All methods must be called from the session's
// owning goroutine; readers of Output get a stable pointer whose pixels
// are rewritten in place each tick.
type Compositor struct {
	log   *slog.Logger
	state *PipelineState
	out   atomic.Pointer[Texture]

	composited atomic.Int64
	reallocs   atomic.Int64
}

// New creates a Compositor. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Compositor {
	if log == nil {
		log = slog.Default()
	}
	return &Compositor{
		log:   log.With("component", "compositor"),
		state: NewPipelineState(),
	}
}

// Output returns the current output texture, or nil before the first
// composite. The caller must treat it as read-only.
func (c *Compositor) Output() *Texture {
	return c.out.Load()
}

// Composited returns the number of completed composite passes.
func (c *Compositor) Composited() int64 { return c.composited.Load() }

// ensureOutput allocates the render target on first use and reallocates it
// if the source's natural size changed.
func (c *Compositor) ensureOutput(width, height int) *Texture {
	out := c.out.Load()
	if out != nil && out.Width == width && out.Height == height {
		return out
	}
	if out != nil {
		c.reallocs.Add(1)
		c.log.Warn("output texture reallocated",
			"old_width", out.Width, "old_height", out.Height,
			"width", width, "height", height,
		)
	}
	out = NewTexture(width, height)
	c.out.Store(out)
	return out
}

// Composite imports both sampled buffers as textures and draws the
// full-screen quad with the compositing shader into the output texture.
// An import error means this tick is skipped; the output keeps whatever
// the previous pass wrote.
func (c *Compositor) Composite(rgb, alpha *media.PixelBuffer) error {
	rgbTex, err := importTexture(rgb)
	if err != nil {
		return err
	}
	alphaTex, err := importTexture(alpha)
	if err != nil {
		return err
	}

	out := c.ensureOutput(rgbTex.Width, rgbTex.Height)
	out.Clear()

	// Rasterize the quad. The geometry covers the full target, so the
	// interpolated texcoord at pixel (x, y) is its normalized center.
	w, h := out.Width, out.Height
	for y := 0; y < h; y++ {
		v := (float64(y) + 0.5) / float64(h)
		row := y * w * media.BytesPerPixel
		for x := 0; x < w; x++ {
			u := (float64(x) + 0.5) / float64(w)

			sr, sg, sb, _ := rgbTex.sample(u, v)
			ar, _, _, _ := alphaTex.sample(u, v)

			r, g, b, a := c.state.Shade(byte(sr+0.5), byte(sg+0.5), byte(sb+0.5), ar/255)

			i := row + x*media.BytesPerPixel
			out.Pix[i] = r
			out.Pix[i+1] = g
			out.Pix[i+2] = b
			out.Pix[i+3] = a
		}
	}

	c.composited.Add(1)
	return nil
}
