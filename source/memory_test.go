package source

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSyntheticInfo(t *testing.T) {
	t.Parallel()

	s := Synthetic(8, 4, 10, 20)
	info, err := s.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if info.Width != 8 || info.Height != 4 {
		t.Errorf("size: got %dx%d, want 8x4", info.Width, info.Height)
	}
	if info.Duration != 500*time.Millisecond {
		t.Errorf("duration: got %v, want 500ms", info.Duration)
	}
}

func TestFrameAtNearestAtOrBefore(t *testing.T) {
	t.Parallel()

	s := Synthetic(2, 2, 5, 10) // frames at 0,100,200,300,400ms
	cases := []struct {
		at   time.Duration
		want time.Duration
	}{
		{0, 0},
		{50 * time.Millisecond, 0},
		{100 * time.Millisecond, 100 * time.Millisecond},
		{199 * time.Millisecond, 100 * time.Millisecond},
		{2 * time.Second, 400 * time.Millisecond}, // past end clamps to last
	}
	for _, tc := range cases {
		f := s.FrameAt(tc.at)
		if f == nil {
			t.Fatalf("FrameAt(%v): got nil", tc.at)
		}
		if f.PTS != tc.want {
			t.Errorf("FrameAt(%v): got PTS %v, want %v", tc.at, f.PTS, tc.want)
		}
	}
}

func TestFrameAtRespectsBufferedWatermark(t *testing.T) {
	t.Parallel()

	s := Synthetic(2, 2, 5, 10)
	s.SetBuffered(150*time.Millisecond, false)

	f := s.FrameAt(400 * time.Millisecond)
	if f == nil {
		t.Fatal("FrameAt: got nil, want the last buffered frame")
	}
	if f.PTS != 100*time.Millisecond {
		t.Errorf("FrameAt past watermark: got PTS %v, want 100ms", f.PTS)
	}

	s.SetBuffered(-1, false) // nothing buffered
	if f := s.FrameAt(0); f != nil {
		t.Errorf("FrameAt with empty buffer: got PTS %v, want nil", f.PTS)
	}
}

func TestOpenFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	s := Synthetic(2, 2, 1, 10)
	s.FailOpen(cause)

	if _, err := s.Open(context.Background()); !errors.Is(err, cause) {
		t.Errorf("Open: got %v, want wrapped %v", err, cause)
	}
}

func TestClosedSourceReturnsNoFrames(t *testing.T) {
	t.Parallel()

	s := Synthetic(2, 2, 3, 10)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if f := s.FrameAt(0); f != nil {
		t.Error("FrameAt after Close: got frame, want nil")
	}
}
