// Package timing provides the clock and periodic-tick abstractions that
// drive the compositor. The tick cadence is an explicit throttle (default
// 30 Hz) decoupled from any display refresh mechanism, so the engine runs
// headlessly under a manual clock in tests.
package timing

import (
	"sync"
	"time"
)

// DefaultTickHz is the default compositing cadence.
const DefaultTickHz = 30

// Clock supplies the host time used to sample both media pipelines.
type Clock interface {
	Now() time.Time
}

// Ticker delivers periodic tick times on C until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// WallClock is the real host clock.
type WallClock struct{}

// Now returns the current wall time.
func (WallClock) Now() time.Time { return time.Now() }

// IntervalTicker wraps time.Ticker at a fixed frequency.
type IntervalTicker struct {
	t *time.Ticker
}

// NewIntervalTicker creates a wall-clock ticker firing hz times per second.
// Non-positive hz falls back to DefaultTickHz.
func NewIntervalTicker(hz float64) *IntervalTicker {
	if hz <= 0 {
		hz = DefaultTickHz
	}
	return &IntervalTicker{t: time.NewTicker(time.Duration(float64(time.Second) / hz))}
}

// C returns the tick channel.
func (it *IntervalTicker) C() <-chan time.Time { return it.t.C }

// Stop stops the underlying ticker.
func (it *IntervalTicker) Stop() { it.t.Stop() }

// ManualTicker delivers ticks only when Tick is called, for deterministic
// tests. Tick blocks until the consumer receives, so a test observes each
// tick being processed before issuing the next one.
type ManualTicker struct {
	mu      sync.Mutex
	ch      chan time.Time
	stopped bool
}

// NewManualTicker creates a ManualTicker.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time)}
}

// C returns the tick channel.
func (mt *ManualTicker) C() <-chan time.Time { return mt.ch }

// Tick delivers one tick at the given time. Delivery after Stop is a no-op.
func (mt *ManualTicker) Tick(t time.Time) {
	mt.mu.Lock()
	stopped := mt.stopped
	mt.mu.Unlock()
	if stopped {
		return
	}
	mt.ch <- t
}

// Stop marks the ticker stopped. Pending Tick calls are not interrupted.
func (mt *ManualTicker) Stop() {
	mt.mu.Lock()
	mt.stopped = true
	mt.mu.Unlock()
}

// ManualClock is a settable clock for tests.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a ManualClock starting at the given time.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the clock's current time.
func (mc *ManualClock) Now() time.Time {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.now
}

// Advance moves the clock forward by d and returns the new time.
func (mc *ManualClock) Advance(d time.Duration) time.Time {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.now = mc.now.Add(d)
	return mc.now
}
