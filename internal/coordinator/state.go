package coordinator

import (
	"time"

	"lyricsync/internal/lyrics"
)

// State is the acquisition state of the current generation.
type State int

const (
	Idle State = iota
	LocalLookup
	CacheLookup
	RemoteSearch
	Resolved
	Unresolved
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LocalLookup:
		return "local-lookup"
	case CacheLookup:
		return "cache-lookup"
	case RemoteSearch:
		return "remote-search"
	case Resolved:
		return "resolved"
	case Unresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

type EventKind int

const (
	LineChanged EventKind = iota
	DocumentChanged
	StateChanged
	PlaybackChanged
)

// Event is delivered to subscribers. Document is shared and must not be
// modified.
type Event struct {
	Kind       EventKind
	Generation uint64
	Index      int
	State      State
	Playing    bool
	Document   *lyrics.Document
}

// Snapshot is a consistent read of what the UI shows at a point in time.
type Snapshot struct {
	Generation  uint64
	State       State
	Track       *lyrics.Track
	Document    *lyrics.Document
	Index       int
	Line        string
	Translation string
	NextLine    string
	Progress    float64
	Playing     bool
	Position    float64
}

// view is the immutable state published after every loop step.
type view struct {
	gen       uint64
	state     State
	track     *lyrics.Track
	doc       *lyrics.Document
	index     int
	playing   bool
	anchorPos float64
	anchorAt  time.Time
}

const subscriberBuffer = 64

// Subscribe returns a stream of events and a function that ends the
// subscription. Slow subscribers lose events rather than block the loop.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	id := c.nextID
	c.nextID++
	ch := make(chan Event, subscriberBuffer)
	c.subs[id] = ch

	var once bool
	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if once {
			return
		}
		once = true
		delete(c.subs, id)
		close(ch)
	}
}

func (c *Coordinator) emit(e Event) {
	e.Generation = c.gen
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for id, ch := range c.subs {
		select {
		case ch <- e:
		default:
			c.logger.Debug().Int("subscriber", id).Msg("Subscriber lagging, event dropped")
		}
	}
}

func (c *Coordinator) publish() {
	pos, at := c.sched.Anchor()
	c.view.Store(&view{
		gen:       c.gen,
		state:     c.state,
		track:     c.track,
		doc:       c.pubDoc,
		index:     c.sched.Index(),
		playing:   c.sched.Playing(),
		anchorPos: pos,
		anchorAt:  at,
	})
}

// Snapshot extrapolates the published state to now. It is safe to call from
// any goroutine.
func (c *Coordinator) Snapshot(now time.Time) Snapshot {
	v := c.view.Load()
	s := Snapshot{
		Generation: v.gen,
		State:      v.state,
		Track:      v.track,
		Document:   v.doc,
		Index:      v.index,
		Playing:    v.playing,
		Position:   v.anchorPos,
	}
	if v.playing && !v.anchorAt.IsZero() {
		s.Position += now.Sub(v.anchorAt).Seconds()
	}

	if line, ok := v.doc.LineAt(v.index); ok {
		s.Line = line.Text
		s.Translation = line.Translation
		elapsed := s.Position + v.doc.Meta.Offset - line.Position
		span := c.opts.LineDuration
		if c.opts.AdaptiveProgress {
			span = lyrics.LineSpan(v.doc.Lines, v.index)
		}
		s.Progress = lyrics.ProgressWithin(line, elapsed, span)
	}
	if next, ok := v.doc.LineAt(v.index + 1); ok {
		s.NextLine = next.Text
	}
	return s
}
