package compositor

import (
	"math"
	"testing"
)

func TestShadeGoldenValues(t *testing.T) {
	t.Parallel()

	ps := NewPipelineState()

	cases := []struct {
		name    string
		r, g, b byte
		alpha   float64
	}{
		{"opaque red", 255, 0, 0, 1.0},
		{"half red", 255, 0, 0, 0.5},
		{"half gray", 128, 128, 128, 0.5},
		{"transparent white", 255, 255, 255, 0.0},
		{"quarter blue", 0, 0, 200, 0.25},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			or, og, ob, oa := ps.Shade(tc.r, tc.g, tc.b, tc.alpha)

			want := func(c byte) byte {
				linear := math.Pow(float64(c)/255, gamma)
				return byte(math.Round(math.Pow(linear*tc.alpha, 1/gamma) * 255))
			}
			if or != want(tc.r) || og != want(tc.g) || ob != want(tc.b) {
				t.Errorf("Shade rgb: got (%d,%d,%d), want (%d,%d,%d)",
					or, og, ob, want(tc.r), want(tc.g), want(tc.b))
			}
			if wa := byte(math.Round(tc.alpha * 255)); oa != wa {
				t.Errorf("Shade alpha: got %d, want %d", oa, wa)
			}
		})
	}
}

// Premultiplying in linear then re-encoding means a display value scales by
// alpha^(1/gamma), not alpha. Pin the documented reference case:
// rgb=(1,0,0), alpha=0.5 -> r_out = 0.5^(1/2.2).
func TestShadeHalfAlphaReferenceCase(t *testing.T) {
	t.Parallel()

	ps := NewPipelineState()
	or, og, ob, oa := ps.Shade(255, 0, 0, 0.5)

	wantR := byte(math.Round(math.Pow(0.5, 1/gamma) * 255)) // 186
	if or != wantR {
		t.Errorf("r: got %d, want %d", or, wantR)
	}
	if og != 0 || ob != 0 {
		t.Errorf("g,b: got %d,%d, want 0,0", og, ob)
	}
	if oa != 128 {
		t.Errorf("a: got %d, want 128", oa)
	}
}

func TestShadeClampsAlpha(t *testing.T) {
	t.Parallel()

	ps := NewPipelineState()
	_, _, _, oa := ps.Shade(10, 10, 10, 1.5)
	if oa != 255 {
		t.Errorf("alpha over 1 not clamped: got %d, want 255", oa)
	}
	_, _, _, oa = ps.Shade(10, 10, 10, -0.5)
	if oa != 0 {
		t.Errorf("negative alpha not clamped: got %d, want 0", oa)
	}
}

func TestDecodeTableEndpoints(t *testing.T) {
	t.Parallel()

	ps := NewPipelineState()
	if ps.decode[0] != 0 {
		t.Errorf("decode[0]: got %v, want 0", ps.decode[0])
	}
	if ps.decode[255] != 1 {
		t.Errorf("decode[255]: got %v, want 1", ps.decode[255])
	}
}
