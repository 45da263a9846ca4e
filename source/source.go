// Package source provides decodable, seekable, frame-samplable video
// sources for the compositing pipeline. A Source decodes ahead in the
// background and answers "the frame valid at media time T" without
// blocking; a frame that is not decoded yet is simply not available this
// tick.
package source

import (
	"context"
	"errors"
	"time"

	"github.com/zsiec/lumakey/media"
)

// ErrNoVideoStream indicates the probed input carried no video stream.
var ErrNoVideoStream = errors.New("source: no video stream")

// Info describes a source's natural properties, known once Open returns.
type Info struct {
	Width     int
	Height    int
	FrameRate float64
	// Duration is the stream's total length. It may be refined downward
	// once decoding reaches end of stream.
	Duration time.Duration
}

// Source is an independently decodable video stream. Open blocks until the
// stream header is read and background decoding has started, or fails.
// All other methods are safe to call concurrently with the decode loop.
type Source interface {
	Open(ctx context.Context) (Info, error)

	// FrameAt returns the most recent decoded frame at or before mediaTime
	// (nearest available, not interpolated), or nil if no frame is decoded
	// at that time yet. A nil return is "not ready this tick", not an error.
	FrameAt(mediaTime time.Duration) *media.PixelBuffer

	// BufferedTo reports the media time up to which frames have been
	// decoded, used by preroll to wait for buffer-ahead.
	BufferedTo() time.Duration

	// Complete reports whether decoding has reached end of stream.
	Complete() bool

	// Duration returns the stream duration as currently known.
	Duration() time.Duration

	Close() error
}

// frameStore holds decoded frames ordered by PTS. Loop playback re-reads
// the same frames, so the store retains the full stream; the target
// content is short looping overlay clips.
type frameStore struct {
	frames []*media.PixelBuffer
}

func (fs *frameStore) append(f *media.PixelBuffer) {
	fs.frames = append(fs.frames, f)
}

// at returns the last frame with PTS <= t, or nil when t precedes the
// first buffered frame.
func (fs *frameStore) at(t time.Duration) *media.PixelBuffer {
	if len(fs.frames) == 0 || t < fs.frames[0].PTS {
		return nil
	}
	// Binary search for the first frame past t.
	lo, hi := 0, len(fs.frames)
	for lo < hi {
		mid := (lo + hi) / 2
		if fs.frames[mid].PTS <= t {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return fs.frames[lo-1]
}

func (fs *frameStore) last() *media.PixelBuffer {
	if len(fs.frames) == 0 {
		return nil
	}
	return fs.frames[len(fs.frames)-1]
}
