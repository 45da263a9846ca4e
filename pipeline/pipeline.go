// Package pipeline wraps a decodable source with a readiness lifecycle and
// a playback clock, yielding the pixel buffer valid at an arbitrary host
// time. The RGB and alpha streams of a composite session each own one
// MediaPipeline; the two clocks are started together but map host time to
// media time independently, so differing durations or start offsets never
// leak between streams.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/lumakey/media"
	"github.com/zsiec/lumakey/source"
)

// StreamID identifies which of the session's two streams a pipeline
// decodes.
type StreamID string

// The two streams of a composite session.
const (
	StreamRGB   StreamID = "rgb"
	StreamAlpha StreamID = "alpha"
)

// State is a pipeline's readiness state.
type State int32

// Pipeline readiness states. Failed is absorbing.
const (
	StateUnopened State = iota
	StateOpening
	StateReady
	StateFailed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpening:
		return "opening"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MediaPipeline couples one source with a playback clock. The clock runs
// only between Play and Pause; while paused the media position is frozen,
// so Play resumes from where Pause left off.
type MediaPipeline struct {
	id    StreamID
	log   *slog.Logger
	src   source.Source
	state atomic.Int32

	mu        sync.Mutex
	lastErr   error
	info      source.Info
	playing   bool
	baseHost  time.Time     // host time the clock last started
	baseMedia time.Duration // media position at baseHost

	sampled atomic.Int64
	misses  atomic.Int64
}

// New creates a pipeline for the given stream over src. If log is nil,
// slog.Default() is used.
func New(id StreamID, src source.Source, log *slog.Logger) *MediaPipeline {
	if log == nil {
		log = slog.Default()
	}
	return &MediaPipeline{
		id:  id,
		src: src,
		log: log.With("component", "pipeline", "stream", string(id)),
	}
}

// ID returns the pipeline's stream identity.
func (p *MediaPipeline) ID() StreamID { return p.id }

// State returns the current readiness state.
func (p *MediaPipeline) State() State { return State(p.state.Load()) }

// Err returns the error that moved the pipeline to StateFailed, if any.
func (p *MediaPipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Info returns the source properties captured at open.
func (p *MediaPipeline) Info() source.Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// Open transitions Unopened → Opening → {Ready | Failed}. It blocks on the
// source's header read and is intended to run on a goroutine owned by the
// session; the session redispatches the result onto its own context.
func (p *MediaPipeline) Open(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateUnopened), int32(StateOpening)) {
		return fmt.Errorf("open %s: pipeline already %s", p.id, p.State())
	}

	info, err := p.src.Open(ctx)
	if err != nil {
		p.fail(err)
		return err
	}

	p.mu.Lock()
	p.info = info
	p.mu.Unlock()
	p.state.Store(int32(StateReady))
	p.log.Info("pipeline ready",
		"width", info.Width, "height", info.Height,
		"fps", info.FrameRate, "duration", info.Duration,
	)
	return nil
}

func (p *MediaPipeline) fail(err error) {
	p.mu.Lock()
	p.lastErr = err
	p.playing = false
	p.mu.Unlock()
	p.state.Store(int32(StateFailed))
	p.log.Error("pipeline failed", "error", err)
}

// Preroll waits until the source has buffered at least ahead of media time
// (or finished decoding entirely), polling the buffered watermark. It
// returns early if ctx is cancelled.
func (p *MediaPipeline) Preroll(ctx context.Context, ahead time.Duration) error {
	if p.State() != StateReady {
		return fmt.Errorf("preroll %s: pipeline not ready", p.id)
	}
	for {
		if p.src.Complete() || p.src.BufferedTo() >= ahead {
			p.log.Debug("preroll complete", "buffered", p.src.BufferedTo())
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("preroll %s: %w", p.id, ctx.Err())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Play starts the playback clock at host time now. Starting an already
// playing clock is a no-op.
func (p *MediaPipeline) Play(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return
	}
	p.playing = true
	p.baseHost = now
}

// Pause freezes the playback clock at host time now.
func (p *MediaPipeline) Pause(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.baseMedia += now.Sub(p.baseHost)
	p.playing = false
}

// SeekStart rewinds the media position to zero. If the clock is running it
// keeps running from zero at host time now.
func (p *MediaPipeline) SeekStart(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseMedia = 0
	p.baseHost = now
}

// MediaTime maps host time now into this pipeline's media timeline.
func (p *MediaPipeline) MediaTime(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mediaTimeLocked(now)
}

func (p *MediaPipeline) mediaTimeLocked(now time.Time) time.Duration {
	t := p.baseMedia
	if p.playing {
		t += now.Sub(p.baseHost)
	}
	if t < 0 {
		t = 0
	}
	return t
}

// SampleAt returns the most recent decoded frame at or before host time
// now, or nil when no frame is available yet. A nil return is "not ready
// this tick", never an error.
func (p *MediaPipeline) SampleAt(now time.Time) *media.PixelBuffer {
	if p.State() != StateReady {
		return nil
	}
	f := p.src.FrameAt(p.MediaTime(now))
	if f == nil {
		p.misses.Add(1)
		return nil
	}
	p.sampled.Add(1)
	return f
}

// AtEnd reports whether the playback position has reached the stream's
// end. It is false until the source duration is known.
func (p *MediaPipeline) AtEnd(now time.Time) bool {
	d := p.src.Duration()
	if d <= 0 {
		return false
	}
	return p.MediaTime(now) >= d
}

// Duration returns the stream duration as currently known by the source.
func (p *MediaPipeline) Duration() time.Duration { return p.src.Duration() }

// Stats returns sample hit/miss counters for diagnostics.
func (p *MediaPipeline) Stats() (sampled, misses int64) {
	return p.sampled.Load(), p.misses.Load()
}

// Close pauses the clock and releases the source. Safe to call multiple
// times and from any state.
func (p *MediaPipeline) Close() error {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
	return p.src.Close()
}
