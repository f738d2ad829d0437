package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lyricsync/internal/lyrics"
)

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type harness struct {
	now     time.Time
	timers  []*fakeTimer
	changes []int
	s       *Scheduler
}

func newHarness() *harness {
	h := &harness{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	h.s = New(Options{
		Now: func() time.Time { return h.now },
		AfterFunc: func(d time.Duration, f func()) Timer {
			t := &fakeTimer{d: d, f: f}
			h.timers = append(h.timers, t)
			return t
		},
		OnLineChange: func(i int) { h.changes = append(h.changes, i) },
	})
	return h
}

func (h *harness) pending() []*fakeTimer {
	var out []*fakeTimer
	for _, t := range h.timers {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fire advances the clock by the timer's delay and runs it.
func (h *harness) fire(t *fakeTimer) {
	t.stopped = true
	h.now = h.now.Add(t.d)
	t.f()
}

func doc(positions ...float64) *lyrics.Document {
	d := &lyrics.Document{}
	for _, p := range positions {
		d.Lines = append(d.Lines, lyrics.Line{Position: p, Text: "line"})
	}
	return d
}

func TestActiveLineMapping(t *testing.T) {
	cases := []struct {
		pos  float64
		want int
	}{
		{-1, -1}, {0, 0}, {3.9, 0}, {4, 1}, {7.99, 1}, {8, 2}, {11, 2}, {12, 3}, {99, 3},
	}
	for _, c := range cases {
		h := newHarness()
		h.s.SetDocument(doc(0, 4, 8, 12))
		h.s.Seek(c.pos, h.now)
		assert.Equal(t, c.want, h.s.Index(), "position %v", c.pos)
	}
}

func TestPausedArmsNoTimer(t *testing.T) {
	h := newHarness()
	h.s.SetDocument(doc(0, 4, 8))
	h.s.Seek(1, h.now)

	assert.Equal(t, 0, h.s.Index())
	assert.Empty(t, h.pending())
}

func TestSingleTimerAdvancesLines(t *testing.T) {
	h := newHarness()
	h.s.SetDocument(doc(0, 4, 8, 12))
	h.s.SetPlaying(true, 1, h.now)

	require.Len(t, h.pending(), 1)
	assert.Equal(t, 3*time.Second, h.pending()[0].d)

	h.fire(h.pending()[0])
	assert.Equal(t, 1, h.s.Index())
	require.Len(t, h.pending(), 1)
	assert.Equal(t, 4*time.Second, h.pending()[0].d)

	h.fire(h.pending()[0])
	h.fire(h.pending()[0])
	assert.Equal(t, 3, h.s.Index())
	assert.Empty(t, h.pending(), "no timer after the last line")
	assert.Equal(t, []int{0, 1, 2, 3}, h.changes)
}

func TestStaleTimerIsNoop(t *testing.T) {
	h := newHarness()
	h.s.SetDocument(doc(0, 4, 8))
	h.s.SetPlaying(true, 0, h.now)
	stale := h.pending()[0]

	// a seek re-arms; the old callback may still run if it raced the stop
	h.s.Seek(5, h.now)
	require.True(t, stale.stopped)
	assert.Equal(t, 1, h.s.Index())

	h.changes = nil
	h.now = h.now.Add(10 * time.Second)
	stale.f()
	assert.Empty(t, h.changes)
	assert.Equal(t, 1, h.s.Index())
}

func TestOffsetShiftsLookup(t *testing.T) {
	h := newHarness()
	d := doc(0, 4, 8)
	h.s.SetDocument(d)
	h.s.Seek(3.5, h.now)
	assert.Equal(t, 0, h.s.Index())

	d.Meta.Offset = 0.5
	h.s.Rearm()
	assert.Equal(t, 1, h.s.Index())

	d.Meta.Offset = -4
	h.s.Rearm()
	assert.Equal(t, -1, h.s.Index())
}

func TestPauseCancelsTimer(t *testing.T) {
	h := newHarness()
	h.s.SetDocument(doc(0, 4))
	h.s.SetPlaying(true, 0, h.now)
	require.Len(t, h.pending(), 1)

	h.now = h.now.Add(2 * time.Second)
	h.s.SetPlaying(false, 2, h.now)
	assert.Empty(t, h.pending())

	h.now = h.now.Add(time.Minute)
	assert.InDelta(t, 2, h.s.Position(h.now), 1e-9)

	h.s.SetPlaying(true, 2, h.now)
	require.Len(t, h.pending(), 1)
	assert.Equal(t, 2*time.Second, h.pending()[0].d)
}

func TestClearDocument(t *testing.T) {
	h := newHarness()
	h.s.SetDocument(doc(0, 4))
	h.s.SetPlaying(true, 1, h.now)
	require.Equal(t, 0, h.s.Index())

	h.s.SetDocument(nil)
	assert.Equal(t, -1, h.s.Index())
	assert.Empty(t, h.pending())
	assert.Zero(t, h.s.Progress(h.now, false))
}

func TestDuplicatePositionsNextBoundary(t *testing.T) {
	h := newHarness()
	h.s.SetDocument(doc(0, 4, 4, 8))
	h.s.SetPlaying(true, 3, h.now)

	h.fire(h.pending()[0])
	assert.Equal(t, 2, h.s.Index())
	assert.Equal(t, 4*time.Second, h.pending()[0].d)
}

func TestProgress(t *testing.T) {
	h := newHarness()
	d := doc(0, 2)
	h.s.SetDocument(d)
	h.s.Seek(1, h.now)

	assert.InDelta(t, 0.25, h.s.Progress(h.now, false), 1e-9)
	assert.InDelta(t, 0.5, h.s.Progress(h.now, true), 1e-9)
}
