package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/lumakey/source"
)

func newReady(t *testing.T, frames int, fps float64) *MediaPipeline {
	t.Helper()
	p := New(StreamRGB, source.Synthetic(4, 4, frames, fps), nil)
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return p
}

func TestOpenTransitionsToReady(t *testing.T) {
	t.Parallel()

	p := newReady(t, 10, 10)
	if p.State() != StateReady {
		t.Errorf("state: got %v, want ready", p.State())
	}
	if p.Info().Width != 4 {
		t.Errorf("info width: got %d, want 4", p.Info().Width)
	}
}

func TestOpenFailureIsAbsorbing(t *testing.T) {
	t.Parallel()

	cause := errors.New("no route to host")
	src := source.Synthetic(2, 2, 1, 10)
	src.FailOpen(cause)

	p := New(StreamAlpha, src, nil)
	if err := p.Open(context.Background()); !errors.Is(err, cause) {
		t.Fatalf("Open: got %v, want wrapped %v", err, cause)
	}
	if p.State() != StateFailed {
		t.Errorf("state: got %v, want failed", p.State())
	}
	if !errors.Is(p.Err(), cause) {
		t.Errorf("Err: got %v, want %v", p.Err(), cause)
	}

	// A second Open must not restart a failed pipeline.
	if err := p.Open(context.Background()); err == nil {
		t.Error("reopen of failed pipeline: got nil error")
	}
}

func TestClockMapsHostToMediaTime(t *testing.T) {
	t.Parallel()

	p := newReady(t, 10, 10)
	t0 := time.Unix(1000, 0)

	if got := p.MediaTime(t0); got != 0 {
		t.Errorf("media time before play: got %v, want 0", got)
	}

	p.Play(t0)
	if got := p.MediaTime(t0.Add(250 * time.Millisecond)); got != 250*time.Millisecond {
		t.Errorf("media time while playing: got %v, want 250ms", got)
	}
}

func TestPauseFreezesAndPlayResumes(t *testing.T) {
	t.Parallel()

	p := newReady(t, 10, 10)
	t0 := time.Unix(1000, 0)

	p.Play(t0)
	p.Pause(t0.Add(300 * time.Millisecond))

	// Position holds while paused.
	if got := p.MediaTime(t0.Add(5 * time.Second)); got != 300*time.Millisecond {
		t.Errorf("media time while paused: got %v, want 300ms", got)
	}

	// Resuming continues from the paused position, not wall time.
	p.Play(t0.Add(10 * time.Second))
	if got := p.MediaTime(t0.Add(10*time.Second + 100*time.Millisecond)); got != 400*time.Millisecond {
		t.Errorf("media time after resume: got %v, want 400ms", got)
	}
}

func TestSeekStartRewindsToZero(t *testing.T) {
	t.Parallel()

	p := newReady(t, 10, 10)
	t0 := time.Unix(1000, 0)

	p.Play(t0)
	p.SeekStart(t0.Add(time.Second))
	if got := p.MediaTime(t0.Add(1500 * time.Millisecond)); got != 500*time.Millisecond {
		t.Errorf("media time after seek: got %v, want 500ms", got)
	}
}

func TestSampleAtReturnsFrameForPosition(t *testing.T) {
	t.Parallel()

	p := newReady(t, 5, 10) // frames every 100ms
	t0 := time.Unix(1000, 0)
	p.Play(t0)

	f := p.SampleAt(t0.Add(250 * time.Millisecond))
	if f == nil {
		t.Fatal("SampleAt: got nil")
	}
	if f.PTS != 200*time.Millisecond {
		t.Errorf("sampled PTS: got %v, want 200ms", f.PTS)
	}
}

func TestSampleAtNilBeforeOpen(t *testing.T) {
	t.Parallel()

	p := New(StreamRGB, source.Synthetic(2, 2, 1, 10), nil)
	if f := p.SampleAt(time.Now()); f != nil {
		t.Error("SampleAt before open: got frame, want nil")
	}
}

func TestAtEnd(t *testing.T) {
	t.Parallel()

	p := newReady(t, 5, 10) // 500ms duration
	t0 := time.Unix(1000, 0)
	p.Play(t0)

	if p.AtEnd(t0.Add(499 * time.Millisecond)) {
		t.Error("AtEnd before duration: got true")
	}
	if !p.AtEnd(t0.Add(500 * time.Millisecond)) {
		t.Error("AtEnd at duration: got false")
	}
}

func TestPrerollWaitsForBuffer(t *testing.T) {
	t.Parallel()

	src := source.Synthetic(2, 2, 10, 10)
	src.SetBuffered(0, false) // nothing usefully buffered yet

	p := New(StreamRGB, src, nil)
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Preroll(context.Background(), 300*time.Millisecond) }()

	select {
	case err := <-done:
		t.Fatalf("preroll returned before buffer filled: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	src.SetBuffered(300*time.Millisecond, false)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Preroll: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("preroll did not complete after buffer filled")
	}
}

func TestPrerollCancellation(t *testing.T) {
	t.Parallel()

	src := source.Synthetic(2, 2, 10, 10)
	src.SetBuffered(0, false)

	p := New(StreamRGB, src, nil)
	if err := p.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Preroll(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Preroll: got %v, want context.Canceled", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	p := newReady(t, 3, 10)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
