// Package session implements the composite session: the aggregate of the
// RGB and alpha media pipelines, the order-independent readiness
// rendezvous that gates playback, the play/pause/loop controller, and the
// periodic compositing tick.
//
// All shared state is owned by a single event-loop goroutine. Readiness
// results, preroll completions, commands, and ticks are all redispatched
// onto that loop, so the output texture and the readiness flags are never
// touched from two goroutines at once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lumakey/compositor"
	"github.com/zsiec/lumakey/pipeline"
	"github.com/zsiec/lumakey/source"
	"github.com/zsiec/lumakey/timing"
)

// ErrMissingStream indicates a session was constructed without both
// required sources. A session with only one stream is invalid.
var ErrMissingStream = errors.New("session: both rgb and alpha sources are required")

// StreamError reports which stream failed and why. It is delivered at
// most once per session.
type StreamError struct {
	Stream pipeline.StreamID
	Err    error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream %s: %v", e.Stream, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// State is the session's lifecycle state.
type State int32

// Session states. StateFailed is absorbing: a failed session cannot be
// replayed, the caller must construct a new one.
const (
	StateIdle State = iota
	StateOpening
	StateBothReady
	StateFailed
	StateClosed
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpening:
		return "opening"
	case StateBothReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config configures a Session. RGB and Alpha are required; everything else
// has defaults.
type Config struct {
	RGB   source.Source
	Alpha source.Source

	// TickHz is the compositing cadence. Defaults to timing.DefaultTickHz.
	TickHz float64

	// Preroll is how far ahead each pipeline buffers before the session
	// reports ready. Defaults to 500ms.
	Preroll time.Duration

	// ParallelPreroll prerolls both pipelines concurrently. The default
	// sequential order (RGB, then alpha) sidesteps bandwidth contention on
	// constrained devices.
	ParallelPreroll bool

	// PlayOnce disables the default seamless loop: playback pauses at the
	// RGB stream's end instead of reseeking both pipelines to zero.
	PlayOnce bool

	// Logger receives session diagnostics. Nil means slog.Default().
	Logger *slog.Logger

	// Clock and NewTicker exist so tests can drive the session under a
	// virtual clock. Nil means wall time.
	Clock     timing.Clock
	NewTicker func(hz float64) timing.Ticker
}

type eventKind int

const (
	evOpened eventKind = iota
	evPrerolled
)

type event struct {
	kind   eventKind
	stream pipeline.StreamID
	err    error
}

type command int

const (
	cmdPlay command = iota
	cmdPause
)

// Stats is a point-in-time snapshot of session health.
type Stats struct {
	ID              string `json:"id"`
	State           string `json:"state"`
	Playing         bool   `json:"playing"`
	UptimeMs        int64  `json:"uptimeMs"`
	TicksComposited int64  `json:"ticksComposited"`
	TicksSkipped    int64  `json:"ticksSkipped"`
	Loops           int64  `json:"loops"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
}

// Session aggregates exactly two media pipelines plus shared playback
// state. Invariant: playing implies both pipelines ready and the session
// not failed.
type Session struct {
	id    string
	cfg   Config
	log   *slog.Logger
	rgb   *pipeline.MediaPipeline
	alpha *pipeline.MediaPipeline
	comp  *compositor.Compositor

	readyCh chan struct{}
	errCh   chan *StreamError

	cmds      chan command
	events    chan event
	closing   chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	started   atomic.Bool
	playing   atomic.Bool
	stateAtom atomic.Int32
	createdAt time.Time

	ticksSkipped atomic.Int64
	loopCount    atomic.Int64

	// Loop-owned state, touched only from run().
	state      State
	rgbReady   bool
	alphaReady bool
	prerolling bool
	ticker     timing.Ticker
	tickCh     <-chan time.Time
}

// New validates the configuration and builds a session in StateIdle.
// Construction failures (missing streams, bad cadence) surface here
// synchronously, never through the async error channel.
func New(cfg Config) (*Session, error) {
	if cfg.RGB == nil || cfg.Alpha == nil {
		return nil, ErrMissingStream
	}
	if cfg.TickHz < 0 {
		return nil, fmt.Errorf("session: negative tick rate %v", cfg.TickHz)
	}
	if cfg.TickHz == 0 {
		cfg.TickHz = timing.DefaultTickHz
	}
	if cfg.Preroll == 0 {
		cfg.Preroll = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = timing.WallClock{}
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = func(hz float64) timing.Ticker { return timing.NewIntervalTicker(hz) }
	}

	id := uuid.NewString()
	log := cfg.Logger.With("component", "session", "session", id)

	s := &Session{
		id:        id,
		cfg:       cfg,
		log:       log,
		comp:      compositor.New(log),
		readyCh:   make(chan struct{}),
		errCh:     make(chan *StreamError, 1),
		cmds:      make(chan command),
		events:    make(chan event),
		closing:   make(chan struct{}),
		loopDone:  make(chan struct{}),
		createdAt: time.Now(),
	}
	s.rgb = pipeline.New(pipeline.StreamRGB, cfg.RGB, log)
	s.alpha = pipeline.New(pipeline.StreamAlpha, cfg.Alpha, log)
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Load begins asynchronous opening of both streams and starts the event
// loop. It does not block; readiness is reported on Ready and failures on
// Errors. Calling Load twice is a warned no-op.
func (s *Session) Load(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		s.log.Warn("load ignored, session already loading")
		return
	}
	s.setState(StateOpening)
	go s.run(ctx)
}

// Ready is closed once both streams are ready and prerolled. It fires at
// most once per session.
func (s *Session) Ready() <-chan struct{} { return s.readyCh }

// Errors delivers the session's single terminal stream error, if any.
func (s *Session) Errors() <-chan *StreamError { return s.errCh }

// IsPlaying reports whether playback is running.
func (s *Session) IsPlaying() bool { return s.playing.Load() }

// State returns the session's lifecycle state.
func (s *Session) State() State { return State(s.stateAtom.Load()) }

// Output returns the composited output texture, or nil before the first
// composite. The texture is updated in place each tick; callers must treat
// it as read-only.
func (s *Session) Output() *compositor.Texture { return s.comp.Output() }

// Play starts playback. A warned no-op unless both streams are ready.
func (s *Session) Play() { s.send(cmdPlay) }

// Pause halts the tick loop and freezes both pipeline clocks; Play
// resumes from the paused position.
func (s *Session) Pause() { s.send(cmdPause) }

func (s *Session) send(c command) {
	if !s.started.Load() {
		s.log.Warn("command ignored, session not loaded")
		return
	}
	select {
	case s.cmds <- c:
	case <-s.loopDone:
		s.log.Warn("command ignored, session closed")
	}
}

// Close tears the session down from any state: stops ticking, pauses and
// releases both pipelines, and drops any in-flight readiness callbacks.
// Idempotent; Play and Pause after Close are safe no-ops.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
		if s.started.Load() {
			<-s.loopDone
		} else {
			s.teardown()
			close(s.loopDone)
		}
	})
	return nil
}

// Snapshot returns current session statistics.
func (s *Session) Snapshot() Stats {
	st := Stats{
		ID:              s.id,
		State:           s.State().String(),
		Playing:         s.playing.Load(),
		UptimeMs:        time.Since(s.createdAt).Milliseconds(),
		TicksComposited: s.comp.Composited(),
		TicksSkipped:    s.ticksSkipped.Load(),
		Loops:           s.loopCount.Load(),
	}
	if out := s.comp.Output(); out != nil {
		st.Width = out.Width
		st.Height = out.Height
	}
	return st
}

// run is the session's owning event loop. Every mutation of readiness
// flags, playback state, and the output texture happens here.
func (s *Session) run(ctx context.Context) {
	defer close(s.loopDone)
	defer s.teardown()

	openCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.openStream(openCtx, s.rgb)
	go s.openStream(openCtx, s.alpha)

	for {
		select {
		case ev := <-s.events:
			s.handleEvent(openCtx, ev)
		case cmd := <-s.cmds:
			s.handleCommand(cmd)
		case now := <-s.tickCh:
			s.handleTick(now)
		case <-s.closing:
			return
		case <-ctx.Done():
			return
		}
	}
}

// openStream opens one pipeline and redispatches the result onto the
// event loop. Results arriving after teardown are dropped.
func (s *Session) openStream(ctx context.Context, p *pipeline.MediaPipeline) {
	err := p.Open(ctx)
	select {
	case s.events <- event{kind: evOpened, stream: p.ID(), err: err}:
	case <-s.closing:
	}
}

func (s *Session) handleEvent(ctx context.Context, ev event) {
	// Failed is absorbing: no further transitions are accepted.
	if s.state != StateOpening {
		s.log.Debug("event ignored", "state", s.state.String(), "stream", ev.stream)
		return
	}

	switch ev.kind {
	case evOpened:
		if ev.err != nil {
			s.fail(ev.stream, ev.err)
			return
		}
		// Setting an already-true flag again is a safe no-op; the join is
		// re-checked after each individual arrival, in either order.
		switch ev.stream {
		case pipeline.StreamRGB:
			s.rgbReady = true
		case pipeline.StreamAlpha:
			s.alphaReady = true
		}
		if s.rgbReady && s.alphaReady && !s.prerolling {
			s.prerolling = true
			go s.preroll(ctx)
		}

	case evPrerolled:
		if ev.err != nil {
			s.fail(ev.stream, ev.err)
			return
		}
		s.becomeReady()
	}
}

// preroll buffers both pipelines ahead before the session reports ready.
// Sequential by default (RGB, then alpha); parallel when configured.
func (s *Session) preroll(ctx context.Context) {
	var failed pipeline.StreamID
	var err error

	if s.cfg.ParallelPreroll {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return s.rgb.Preroll(gctx, s.cfg.Preroll) })
		g.Go(func() error { return s.alpha.Preroll(gctx, s.cfg.Preroll) })
		if err = g.Wait(); err != nil {
			failed = pipeline.StreamRGB // identity carried in the wrapped message
		}
	} else {
		if err = s.rgb.Preroll(ctx, s.cfg.Preroll); err != nil {
			failed = pipeline.StreamRGB
		} else if err = s.alpha.Preroll(ctx, s.cfg.Preroll); err != nil {
			failed = pipeline.StreamAlpha
		}
	}

	select {
	case s.events <- event{kind: evPrerolled, stream: failed, err: err}:
	case <-s.closing:
	}
}

func (s *Session) becomeReady() {
	s.setState(StateBothReady)
	close(s.readyCh)

	rgbDur, alphaDur := s.rgb.Duration(), s.alpha.Duration()
	if diff := (rgbDur - alphaDur).Abs(); diff > 50*time.Millisecond {
		// No corrective logic: looping follows the RGB stream, so a
		// mismatched alpha stream drifts at each loop boundary.
		s.log.Warn("stream durations differ, loop accuracy degrades",
			"rgb", rgbDur, "alpha", alphaDur)
	}
	s.log.Info("session ready", "rgb_duration", rgbDur, "alpha_duration", alphaDur)
}

// fail moves the session to the absorbing Failed state, halts playback
// atomically with the error delivery, and tears down the surviving
// pipeline. Fires the error channel exactly once.
func (s *Session) fail(stream pipeline.StreamID, cause error) {
	if s.state == StateFailed {
		return
	}
	s.playing.Store(false)
	s.stopTicker()
	s.setState(StateFailed)

	s.rgb.Close()
	s.alpha.Close()

	serr := &StreamError{Stream: stream, Err: cause}
	s.errCh <- serr // buffered; single fire guaranteed by the state guard
	s.log.Error("session failed", "stream", stream, "error", cause)
}

func (s *Session) handleCommand(cmd command) {
	switch cmd {
	case cmdPlay:
		if s.state != StateBothReady {
			s.log.Warn("play ignored, session not ready", "state", s.state.String())
			return
		}
		if s.playing.Load() {
			return
		}
		now := s.cfg.Clock.Now()
		// Best-effort simultaneity; no frame-accurate genlock.
		s.rgb.Play(now)
		s.alpha.Play(now)
		s.ticker = s.cfg.NewTicker(s.cfg.TickHz)
		s.tickCh = s.ticker.C()
		s.playing.Store(true)
		s.log.Info("playback started", "tick_hz", s.cfg.TickHz)

	case cmdPause:
		if !s.playing.Load() {
			return
		}
		now := s.cfg.Clock.Now()
		s.rgb.Pause(now)
		s.alpha.Pause(now)
		s.playing.Store(false)
		s.stopTicker()
		s.log.Info("playback paused", "position", s.rgb.MediaTime(now))
	}
}

// handleTick runs one sample-import-draw sequence. Ticks are strictly
// sequential; a tick either completes a composite or skips, never blocks.
func (s *Session) handleTick(now time.Time) {
	if !s.playing.Load() || s.state != StateBothReady {
		return
	}

	// End-of-stream follows the RGB pipeline, the designated primary clock.
	if s.rgb.AtEnd(now) {
		if s.cfg.PlayOnce {
			s.rgb.Pause(now)
			s.alpha.Pause(now)
			s.playing.Store(false)
			s.stopTicker()
			s.log.Info("playback finished")
			return
		}
		s.rgb.SeekStart(now)
		s.alpha.SeekStart(now)
		s.loopCount.Add(1)
		s.log.Debug("looped", "count", s.loopCount.Load())
	}

	rgbBuf := s.rgb.SampleAt(now)
	alphaBuf := s.alpha.SampleAt(now)
	if rgbBuf == nil || alphaBuf == nil {
		// Not an error: the decoder has not caught up this tick. The
		// output texture keeps the previous composite untouched.
		s.ticksSkipped.Add(1)
		s.log.Debug("tick skipped, frame not available",
			"rgb", rgbBuf != nil, "alpha", alphaBuf != nil)
		return
	}

	if err := s.comp.Composite(rgbBuf, alphaBuf); err != nil {
		// Transient import failure; skipped, never escalated.
		s.ticksSkipped.Add(1)
		s.log.Warn("tick skipped, composite failed", "error", err)
	}
}

func (s *Session) stopTicker() {
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
		s.tickCh = nil
	}
}

func (s *Session) setState(st State) {
	s.state = st
	s.stateAtom.Store(int32(st))
}

// teardown releases everything. Runs on the event loop's way out (or
// directly from Close when the session was never loaded), so no further
// state mutation can race it; late open or preroll results are dropped by
// their closing-channel guards.
func (s *Session) teardown() {
	s.stopTicker()
	s.playing.Store(false)
	s.rgb.Close()
	s.alpha.Close()
	if s.state != StateFailed {
		s.setState(StateClosed)
	}
	s.log.Info("session closed",
		"composited", s.comp.Composited(),
		"skipped", s.ticksSkipped.Load(),
		"loops", s.loopCount.Load(),
	)
}
