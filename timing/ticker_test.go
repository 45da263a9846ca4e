package timing

import (
	"testing"
	"time"
)

func TestIntervalTickerDelivers(t *testing.T) {
	t.Parallel()

	it := NewIntervalTicker(200)
	defer it.Stop()

	select {
	case <-it.C():
	case <-time.After(time.Second):
		t.Fatal("no tick within 1s at 200 Hz")
	}
}

func TestIntervalTickerDefaultRate(t *testing.T) {
	t.Parallel()

	it := NewIntervalTicker(0)
	it.Stop()
	if it.t == nil {
		t.Fatal("expected underlying ticker for non-positive hz")
	}
}

func TestManualTickerDelivery(t *testing.T) {
	t.Parallel()

	mt := NewManualTicker()
	want := time.Unix(100, 0)

	go mt.Tick(want)

	got := <-mt.C()
	if !got.Equal(want) {
		t.Errorf("tick time: got %v, want %v", got, want)
	}
}

func TestManualTickerStopDropsTicks(t *testing.T) {
	t.Parallel()

	mt := NewManualTicker()
	mt.Stop()
	mt.Tick(time.Now()) // must not block with no consumer
}

func TestManualClockAdvance(t *testing.T) {
	t.Parallel()

	start := time.Unix(0, 0)
	mc := NewManualClock(start)

	mc.Advance(time.Second)
	if got := mc.Now(); !got.Equal(start.Add(time.Second)) {
		t.Errorf("Now after Advance: got %v, want %v", got, start.Add(time.Second))
	}
}
