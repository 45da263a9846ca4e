package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zsiec/lumakey/media"
)

// MemorySource serves pre-built frames from memory. It backs tests and the
// synthetic test-pattern input of the CLI, and can simulate slow buffering
// (SetBuffered) and open failures (FailOpen) deterministically.
type MemorySource struct {
	info   Info
	failed error

	mu         sync.Mutex
	store      frameStore
	bufferedTo time.Duration
	complete   bool
	closed     bool
}

// NewMemorySource creates a source over the given frames, which must be
// ordered by PTS. The whole stream starts out buffered.
func NewMemorySource(info Info, frames []*media.PixelBuffer) *MemorySource {
	s := &MemorySource{info: info, complete: true}
	for _, f := range frames {
		s.store.append(f)
	}
	if last := s.store.last(); last != nil {
		s.bufferedTo = last.PTS
	}
	return s
}

// Synthetic builds a MemorySource of count frames at fps, each filled with
// a per-frame gradient so individual frames are distinguishable.
func Synthetic(width, height, count int, fps float64) *MemorySource {
	interval := time.Duration(float64(time.Second) / fps)
	frames := make([]*media.PixelBuffer, count)
	for i := range frames {
		f := media.NewPixelBuffer(width, height)
		f.PTS = time.Duration(i) * interval
		shade := byte(i * 255 / max(count-1, 1))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				f.SetRGBA(x, y, shade, byte(x), byte(y), 255)
			}
		}
		frames[i] = f
	}
	return NewMemorySource(Info{
		Width:     width,
		Height:    height,
		FrameRate: fps,
		Duration:  time.Duration(count) * interval,
	}, frames)
}

// FailOpen makes the next Open return err.
func (s *MemorySource) FailOpen(err error) { s.failed = err }

// SetBuffered overrides the buffered-to watermark, simulating a decoder
// that has not caught up yet.
func (s *MemorySource) SetBuffered(t time.Duration, complete bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bufferedTo = t
	s.complete = complete
}

// Open implements Source.
func (s *MemorySource) Open(ctx context.Context) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	if s.failed != nil {
		return Info{}, fmt.Errorf("open memory source: %w", s.failed)
	}
	return s.info, nil
}

// FrameAt implements Source.
func (s *MemorySource) FrameAt(mediaTime time.Duration) *media.PixelBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.store.at(min(mediaTime, s.bufferedTo))
}

// BufferedTo implements Source.
func (s *MemorySource) BufferedTo() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bufferedTo
}

// Complete implements Source.
func (s *MemorySource) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// Duration implements Source.
func (s *MemorySource) Duration() time.Duration { return s.info.Duration }

// Close implements Source.
func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
