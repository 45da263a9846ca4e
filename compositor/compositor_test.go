package compositor

import (
	"bytes"
	"math"
	"testing"

	"github.com/zsiec/lumakey/media"
)

// uniformBuffer builds a solid-color frame.
func uniformBuffer(w, h int, r, g, b, a byte) *media.PixelBuffer {
	buf := media.NewPixelBuffer(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			buf.SetRGBA(x, y, r, g, b, a)
		}
	}
	return buf
}

func TestCompositeUniformFrames(t *testing.T) {
	t.Parallel()

	c := New(nil)
	rgb := uniformBuffer(4, 4, 255, 0, 0, 255)
	mask := uniformBuffer(4, 4, 128, 7, 9, 255) // only red matters

	if err := c.Composite(rgb, mask); err != nil {
		t.Fatalf("Composite: %v", err)
	}

	out := c.Output()
	if out == nil {
		t.Fatal("Output: got nil after composite")
	}
	if out.Width != 4 || out.Height != 4 {
		t.Fatalf("output size: got %dx%d, want 4x4", out.Width, out.Height)
	}

	alpha := 128.0 / 255
	wantR := byte(math.Round(math.Pow(alpha, 1/gamma) * 255))
	wantA := byte(math.Round(alpha * 255))
	for i := 0; i < len(out.Pix); i += media.BytesPerPixel {
		if out.Pix[i] != wantR || out.Pix[i+1] != 0 || out.Pix[i+2] != 0 || out.Pix[i+3] != wantA {
			t.Fatalf("pixel %d: got (%d,%d,%d,%d), want (%d,0,0,%d)",
				i/4, out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3], wantR, wantA)
		}
	}
}

func TestCompositeUsesOnlyMaskRedChannel(t *testing.T) {
	t.Parallel()

	c := New(nil)
	rgb := uniformBuffer(2, 2, 200, 200, 200, 255)

	zeroRed := uniformBuffer(2, 2, 0, 255, 255, 255)
	if err := c.Composite(rgb, zeroRed); err != nil {
		t.Fatalf("Composite: %v", err)
	}
	out := c.Output()
	if out.Pix[3] != 0 {
		t.Errorf("alpha with zero mask red: got %d, want 0", out.Pix[3])
	}
}

func TestCompositeScalesMismatchedMask(t *testing.T) {
	t.Parallel()

	c := New(nil)
	rgb := uniformBuffer(8, 8, 100, 100, 100, 255)
	mask := uniformBuffer(2, 2, 255, 0, 0, 255) // quarter-size mask, uniform

	if err := c.Composite(rgb, mask); err != nil {
		t.Fatalf("Composite with mismatched mask: %v", err)
	}

	out := c.Output()
	if out.Width != 8 || out.Height != 8 {
		t.Fatalf("output follows RGB size: got %dx%d, want 8x8", out.Width, out.Height)
	}
	// A uniform mask must stay uniform regardless of scale.
	for i := 3; i < len(out.Pix); i += media.BytesPerPixel {
		if out.Pix[i] != 255 {
			t.Fatalf("alpha at byte %d: got %d, want 255", i, out.Pix[i])
		}
	}
}

func TestImportFailureLeavesOutputUntouched(t *testing.T) {
	t.Parallel()

	c := New(nil)
	rgb := uniformBuffer(4, 4, 10, 20, 30, 255)
	mask := uniformBuffer(4, 4, 255, 0, 0, 255)
	if err := c.Composite(rgb, mask); err != nil {
		t.Fatalf("Composite: %v", err)
	}

	before := append([]byte(nil), c.Output().Pix...)

	bad := &media.PixelBuffer{Width: 4, Height: 4, Stride: 16, Pix: []byte{1, 2, 3}}
	if err := c.Composite(rgb, bad); err == nil {
		t.Fatal("Composite with truncated buffer: got nil error")
	}

	if !bytes.Equal(before, c.Output().Pix) {
		t.Error("output texture changed after failed import")
	}
}

func TestOutputReallocatedOnDimensionChange(t *testing.T) {
	t.Parallel()

	c := New(nil)
	if err := c.Composite(uniformBuffer(4, 4, 1, 2, 3, 255), uniformBuffer(4, 4, 255, 0, 0, 255)); err != nil {
		t.Fatalf("Composite: %v", err)
	}
	first := c.Output()

	if err := c.Composite(uniformBuffer(6, 2, 1, 2, 3, 255), uniformBuffer(6, 2, 255, 0, 0, 255)); err != nil {
		t.Fatalf("Composite after resize: %v", err)
	}
	second := c.Output()

	if first == second {
		t.Error("expected a reallocated output texture after dimension change")
	}
	if second.Width != 6 || second.Height != 2 {
		t.Errorf("new output size: got %dx%d, want 6x2", second.Width, second.Height)
	}
	if got := c.reallocs.Load(); got != 1 {
		t.Errorf("realloc count: got %d, want 1", got)
	}
}

func TestBilinearSamplerClampsToEdge(t *testing.T) {
	t.Parallel()

	tex := &Texture{Width: 2, Height: 1, Pix: []byte{
		0, 0, 0, 255,
		255, 255, 255, 255,
	}}

	r, _, _, _ := tex.sample(-1, 0.5)
	if r != 0 {
		t.Errorf("sample left of edge: got r=%v, want 0", r)
	}
	r, _, _, _ = tex.sample(2, 0.5)
	if r != 255 {
		t.Errorf("sample right of edge: got r=%v, want 255", r)
	}
	r, _, _, _ = tex.sample(0.5, 0.5)
	if r != 127.5 {
		t.Errorf("midpoint sample: got r=%v, want 127.5", r)
	}
}
