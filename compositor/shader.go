package compositor

import "math"

// gamma approximates the sRGB transfer function with a pure power curve.
// Not a colorimetrically exact sRGB decode; the approximation matches the
// reference material's look and keeps the shader a single pow per channel.
const gamma = 2.2

// vertex is one corner of the full-screen quad: clip-space position plus
// texture coordinate.
type vertex struct {
	x, y float32
	u, v float32
}

// quadVertices is the static full-screen quad (triangle strip order),
// created once and immutable.
var quadVertices = [4]vertex{
	{-1, -1, 0, 1},
	{1, -1, 1, 1},
	{-1, 1, 0, 0},
	{1, 1, 1, 0},
}

// PipelineState is the compiled state of the composite pass: the
// display-to-linear decode table and the quad geometry. Built once at
// session construction and immutable afterwards; it owns no per-frame
// data.
type PipelineState struct {
	decode [256]float64 // display byte -> linear [0,1]
	quad   [4]vertex
}

// NewPipelineState builds the pass state.
func NewPipelineState() *PipelineState {
	ps := &PipelineState{quad: quadVertices}
	for i := range ps.decode {
		ps.decode[i] = math.Pow(float64(i)/255, gamma)
	}
	return ps
}

// Shade computes one output pixel from a display-encoded RGB sample and
// the alpha stream's red-channel value (alpha in [0,1]):
//
//  1. decode RGB to linear via pow(c, 2.2)
//  2. take alpha from the mask sample's red channel
//  3. premultiply in linear space
//  4. re-encode via pow(c, 1/2.2)
//  5. emit RGBA with the straight alpha in A
//
// The result is premultiplied-alpha, ready for standard blending without
// an un-premultiply step.
func (ps *PipelineState) Shade(r, g, b byte, alpha float64) (or, og, ob, oa byte) {
	alpha = clampF(alpha, 0, 1)
	return encode(ps.decode[r] * alpha),
		encode(ps.decode[g] * alpha),
		encode(ps.decode[b] * alpha),
		byte(math.Round(alpha * 255))
}

// encode converts a linear channel back to a display-encoded byte.
func encode(linear float64) byte {
	return byte(math.Round(math.Pow(linear, 1/gamma) * 255))
}
