package timeline

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lyricsync/internal/lyrics"
	"lyricsync/internal/metrics"
)

// Timer is the part of *time.Timer the scheduler needs.
type Timer interface {
	Stop() bool
}

// AfterFunc arms a one-shot timer.
type AfterFunc func(d time.Duration, f func()) Timer

type Options struct {
	// Post runs f on the caller's serialized context. Timer callbacks go
	// through it, so every state change happens on one goroutine. Nil runs f
	// inline, which is only correct for single-goroutine use.
	Post         func(f func())
	AfterFunc    AfterFunc
	Now          func() time.Time
	OnLineChange func(index int)
	Metrics      *metrics.Metrics
}

// Scheduler maps the extrapolated playback position onto the active line and
// keeps exactly one timer armed for the next line boundary. It is not safe
// for concurrent use: all methods run on the context behind Options.Post.
type Scheduler struct {
	doc     *lyrics.Document
	index   int
	playing bool

	// last position report and the wall time it was taken at
	anchorPos float64
	anchorAt  time.Time

	timer   Timer
	version uint64

	post      func(func())
	afterFunc AfterFunc
	now       func() time.Time
	onChange  func(int)
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

func New(opts Options) *Scheduler {
	if opts.Post == nil {
		opts.Post = func(f func()) { f() }
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnLineChange == nil {
		opts.OnLineChange = func(int) {}
	}
	return &Scheduler{
		index:     -1,
		post:      opts.Post,
		afterFunc: opts.AfterFunc,
		now:       opts.Now,
		onChange:  opts.OnLineChange,
		metrics:   opts.Metrics,
		logger:    log.With().Str("component", "timeline").Logger(),
	}
}

// SetDocument swaps the document (nil clears it) and re-arms.
func (s *Scheduler) SetDocument(doc *lyrics.Document) {
	s.doc = doc
	s.rearm()
}

// SetPlaying records a play/pause transition together with the position at
// which it happened.
func (s *Scheduler) SetPlaying(playing bool, pos float64, at time.Time) {
	s.playing = playing
	s.anchor(pos, at)
	s.rearm()
}

// Seek records an explicit position report from the player.
func (s *Scheduler) Seek(pos float64, at time.Time) {
	s.anchor(pos, at)
	s.rearm()
}

// Rearm recomputes after a change the scheduler cannot see, such as the
// document offset.
func (s *Scheduler) Rearm() {
	s.rearm()
}

// Stop cancels the pending timer without touching state.
func (s *Scheduler) Stop() {
	s.version++
	s.stopTimer()
}

func (s *Scheduler) Index() int {
	return s.index
}

func (s *Scheduler) Playing() bool {
	return s.playing
}

// Anchor returns the last position report and the wall time it was taken at.
func (s *Scheduler) Anchor() (float64, time.Time) {
	return s.anchorPos, s.anchorAt
}

// Position extrapolates the raw player position at now.
func (s *Scheduler) Position(now time.Time) float64 {
	if !s.playing || s.anchorAt.IsZero() {
		return s.anchorPos
	}
	return s.anchorPos + now.Sub(s.anchorAt).Seconds()
}

// AdjustedPosition is Position plus the document offset.
func (s *Scheduler) AdjustedPosition(now time.Time) float64 {
	pos := s.Position(now)
	if s.doc != nil {
		pos += s.doc.Meta.Offset
	}
	return pos
}

// Progress returns the intra-line progress of the active line at now. With
// adaptive set, lines without timetags use the gap to the next line instead
// of the nominal duration.
func (s *Scheduler) Progress(now time.Time, adaptive bool) float64 {
	line, ok := s.doc.LineAt(s.index)
	if !ok {
		return 0
	}
	elapsed := s.AdjustedPosition(now) - line.Position
	if adaptive {
		return lyrics.ProgressWithin(line, elapsed, lyrics.LineSpan(s.doc.Lines, s.index))
	}
	return lyrics.Progress(line, elapsed)
}

func (s *Scheduler) anchor(pos float64, at time.Time) {
	if at.IsZero() {
		at = s.now()
	}
	s.anchorPos = pos
	s.anchorAt = at
}

func (s *Scheduler) rearm() {
	s.version++
	s.stopTimer()
	s.compute()
}

func (s *Scheduler) compute() {
	// a boundary that is already due is handled in place rather than through
	// a zero-length timer; two passes always suffice since IndexAt moves past it
	for range 2 {
		idx := -1
		adjusted := s.AdjustedPosition(s.now())
		if s.doc.Len() > 0 {
			idx = s.doc.IndexAt(adjusted)
		}
		if idx != s.index {
			s.index = idx
			s.metrics.LineChanged()
			s.onChange(idx)
		}

		if !s.playing || idx+1 >= s.doc.Len() {
			return
		}

		delta := s.doc.Lines[idx+1].Position - adjusted
		if delta <= 0 {
			continue
		}

		v := s.version
		d := time.Duration(delta * float64(time.Second))
		s.logger.Debug().Int("index", idx).Dur("wait", d).Msg("Armed line timer")
		s.timer = s.afterFunc(d, func() {
			s.post(func() {
				if v != s.version {
					return
				}
				s.timer = nil
				s.version++
				s.metrics.TimerWakeup()
				s.compute()
			})
		})
		return
	}
}

func (s *Scheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
