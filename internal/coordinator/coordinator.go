package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lyricsync/internal/cache"
	"lyricsync/internal/lyrics"
	"lyricsync/internal/metrics"
	"lyricsync/internal/resolver"
	"lyricsync/internal/timeline"
)

// ErrStopped is returned by calls made after Run has returned.
var ErrStopped = errors.New("coordinator stopped")

const (
	DefaultTimeout     = 12 * time.Second
	DefaultLimit       = 5
	DefaultNegativeTTL = 10 * time.Minute

	// position reports closer than this to the extrapolated position are
	// treated as confirmation, not as a seek
	driftTolerance = 0.5
)

// Searcher is the multi-source search collaborator. The channel is closed
// once every source has answered or ctx is done.
type Searcher interface {
	Search(ctx context.Context, req lyrics.SearchRequest) <-chan *lyrics.Document
}

// LocalStore reads local lyrics files and persists documents.
type LocalStore interface {
	Lookup(t *lyrics.Track) (doc *lyrics.Document, provisional bool, ok bool)
	Flush(t *lyrics.Track, doc *lyrics.Document) error
}

type Exclusions interface {
	Excluded(t *lyrics.Track) bool
	AddTrack(t *lyrics.Track) error
	AddAlbum(t *lyrics.Track) error
	Remove(t *lyrics.Track) error
}

type TitleResolver interface {
	Resolve(ctx context.Context, t *lyrics.Track) (resolver.SongInfo, bool)
}

type Translator interface {
	Translate(ctx context.Context, doc *lyrics.Document) ([]string, string, error)
}

// Cached is what the lyrics cache holds per track. Missing marks a search
// that found nothing.
type Cached struct {
	Doc     *lyrics.Document `json:"doc,omitempty"`
	Missing bool             `json:"missing,omitempty"`
}

type Options struct {
	Searcher   Searcher
	Parser     lyrics.Parser
	Local      LocalStore
	Exclusions Exclusions
	Resolver   TitleResolver
	Translator Translator
	Cache      *cache.Tiered[Cached]
	Metrics    *metrics.Metrics

	Timeout          time.Duration
	Limit            int
	Strict           bool
	AdaptiveProgress bool
	// LineDuration is the nominal length of a line without timetags, in
	// seconds. Ignored when AdaptiveProgress is set.
	LineDuration float64
	NegativeTTL  time.Duration

	Now       func() time.Time
	AfterFunc timeline.AfterFunc
}

// Coordinator owns the per-track acquisition state machine and the active
// line. Every mutation runs on the goroutine executing Run; other goroutines
// talk to it by posting closures.
type Coordinator struct {
	opts   Options
	parser lyrics.Parser
	cache  *cache.Tiered[Cached]
	sched  *timeline.Scheduler
	logger zerolog.Logger

	events chan func()
	done   chan struct{}
	ctx    context.Context // set by Run

	// loop-owned state
	gen         uint64
	state       State
	track       *lyrics.Track
	doc         *lyrics.Document
	pubDoc      *lyrics.Document // read-only copy handed out to readers
	provisional bool
	searching   bool
	cancel      context.CancelFunc

	view atomic.Pointer[view]

	subMu  sync.Mutex
	subs   map[int]chan Event
	nextID int
}

func New(opts Options) *Coordinator {
	if opts.Parser == nil {
		opts.Parser = lyrics.LRCParser{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.LineDuration <= 0 {
		opts.LineDuration = lyrics.NominalLineDuration
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = DefaultNegativeTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Cache == nil {
		opts.Cache = &cache.Tiered[Cached]{Mem: cache.New[Cached](cache.Options{Now: opts.Now, Metrics: opts.Metrics})}
	}

	c := &Coordinator{
		opts:   opts,
		parser: opts.Parser,
		cache:  opts.Cache,
		logger: log.With().Str("component", "coordinator").Logger(),
		events: make(chan func(), 256),
		done:   make(chan struct{}),
		ctx:    context.Background(),
		subs:   make(map[int]chan Event),
	}
	c.sched = timeline.New(timeline.Options{
		Post:         func(f func()) { c.post(f) },
		AfterFunc:    opts.AfterFunc,
		Now:          opts.Now,
		OnLineChange: c.onLineChange,
		Metrics:      opts.Metrics,
	})
	c.publish()
	return c
}

// Run executes posted work until ctx is done, then cancels any search and
// flushes the current document.
func (c *Coordinator) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)
	for {
		select {
		case fn := <-c.events:
			fn()
		case <-ctx.Done():
			c.cancelSearch()
			c.sched.Stop()
			c.flushCurrent()
			c.logger.Info().Msg("Coordinator stopped")
			return nil
		}
	}
}

func (c *Coordinator) post(fn func()) bool {
	select {
	case c.events <- fn:
		return true
	case <-c.done:
		return false
	}
}

// call runs fn on the loop and waits for it.
func (c *Coordinator) call(fn func()) error {
	finished := make(chan struct{})
	if !c.post(func() { fn(); close(finished) }) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-c.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// TrackChanged starts a new generation for t. A nil track clears everything.
func (c *Coordinator) TrackChanged(t *lyrics.Track) {
	c.post(func() { c.onTrackChanged(t) })
}

// PlaybackChanged records a play/pause transition. Reports for a track other
// than the current one are dropped.
func (c *Coordinator) PlaybackChanged(trackID string, playing bool, pos float64, at time.Time) {
	c.post(func() {
		if c.stale(trackID) {
			return
		}
		c.sched.SetPlaying(playing, pos, at)
		c.publish()
		c.emit(Event{Kind: PlaybackChanged, Playing: playing})
	})
}

// Seeked records an explicit seek.
func (c *Coordinator) Seeked(trackID string, pos float64, at time.Time) {
	c.post(func() {
		if c.stale(trackID) {
			return
		}
		c.sched.Seek(pos, at)
		c.publish()
	})
}

// Position records a periodic position report. Small drift is ignored so
// that reports do not churn the line timer.
func (c *Coordinator) Position(trackID string, pos float64, at time.Time) {
	c.post(func() {
		if c.stale(trackID) {
			return
		}
		if at.IsZero() {
			at = c.opts.Now()
		}
		if math.Abs(c.sched.Position(at)-pos) < driftTolerance {
			return
		}
		c.sched.Seek(pos, at)
		c.publish()
	})
}

// SetOffset replaces the document offset, marks the document for
// persistence and re-arms the line timer.
func (c *Coordinator) SetOffset(offset float64) error {
	var err error
	if cerr := c.call(func() { err = c.setOffset(offset) }); cerr != nil {
		return cerr
	}
	return err
}

// AdjustOffset shifts the offset by delta and returns the new value.
func (c *Coordinator) AdjustOffset(delta float64) (float64, error) {
	var err error
	var offset float64
	cerr := c.call(func() {
		if c.doc == nil {
			err = fmt.Errorf("no lyrics loaded: %w", lyrics.ErrInvalidInput)
			return
		}
		offset = c.doc.Meta.Offset + delta
		err = c.setOffset(offset)
	})
	if cerr != nil {
		return 0, cerr
	}
	return offset, err
}

// Import parses text and publishes it for the current track. A parse error
// leaves the published document untouched.
func (c *Coordinator) Import(text string) error {
	doc, err := c.parser.Parse(text)
	if err != nil {
		if !errors.Is(err, lyrics.ErrParsing) {
			err = fmt.Errorf("%w: %v", lyrics.ErrParsing, err)
		}
		return err
	}
	if cerr := c.call(func() { err = c.onImport(doc) }); cerr != nil {
		return cerr
	}
	return err
}

// Refresh re-runs acquisition for the current track, skipping local
// provisional files and the cache.
func (c *Coordinator) Refresh() error {
	var err error
	if cerr := c.call(func() {
		if c.track == nil {
			err = lyrics.ErrPlayerUnavailable
			return
		}
		c.cache.Forget(c.ctx, cacheKey(c.track))
		c.startAcquisition(true)
	}); cerr != nil {
		return cerr
	}
	return err
}

// ExcludeCurrent puts the current track, or its album, on the exclusion list
// and stops the running acquisition.
func (c *Coordinator) ExcludeCurrent(album bool) error {
	var err error
	if cerr := c.call(func() { err = c.onExclude(album) }); cerr != nil {
		return cerr
	}
	return err
}

// Flush persists the current document if it has unsaved changes.
func (c *Coordinator) Flush() error {
	return c.call(c.flushCurrent)
}

func (c *Coordinator) stale(trackID string) bool {
	return trackID != "" && (c.track == nil || c.track.ID != trackID)
}

func sameTrack(a, b *lyrics.Track) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.ID != "" || b.ID != "" {
		if a.ID != b.ID {
			return false
		}
	}
	return a.Title == b.Title && a.Artist == b.Artist && a.Album == b.Album
}

func cacheKey(t *lyrics.Track) string {
	return cache.TrackKey(t.Artist, t.Title)
}

func (c *Coordinator) onTrackChanged(t *lyrics.Track) {
	if sameTrack(t, c.track) {
		return
	}
	c.flushCurrent()
	c.cancelSearch()
	c.gen++
	c.track = t
	c.provisional = false
	c.setDocument(nil)
	c.sched.Seek(0, time.Time{})

	if t == nil {
		c.setState(Idle)
		c.logger.Info().Uint64("generation", c.gen).Msg("Player has no track")
		return
	}
	c.logger.Info().
		Uint64("generation", c.gen).
		Str("track_id", t.ID).
		Str("title", t.Title).
		Str("artist", t.Artist).
		Msg("Track changed")
	c.startAcquisition(false)
}

func (c *Coordinator) setOffset(offset float64) error {
	if c.doc == nil {
		return fmt.Errorf("no lyrics loaded: %w", lyrics.ErrInvalidInput)
	}
	c.doc.Meta.Offset = offset
	c.doc.Meta.NeedsPersist = true
	c.pubDoc = c.doc.Clone()
	c.sched.Rearm()
	c.announceDocument()
	c.logger.Info().Float64("offset", offset).Msg("Offset changed")
	return nil
}

func (c *Coordinator) onImport(doc *lyrics.Document) error {
	if c.track == nil {
		return lyrics.ErrPlayerUnavailable
	}
	c.cancelSearch()
	c.gen++

	doc.AttachTrack(c.track)
	doc.Meta.Source = "import"
	doc.Meta.NeedsPersist = true
	c.provisional = false
	c.setDocument(doc)
	c.setState(Resolved)
	c.opts.Metrics.Resolved("import")
	c.cache.Store(c.ctx, cacheKey(c.track), Cached{Doc: doc})

	if c.opts.Exclusions != nil {
		if err := c.opts.Exclusions.Remove(c.track); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update exclusion list")
		}
	}
	c.logger.Info().Int("lines", doc.Len()).Str("track_id", c.track.ID).Msg("Lyrics imported")
	c.translate(c.gen, doc)
	return nil
}

func (c *Coordinator) onExclude(album bool) error {
	if c.track == nil {
		return lyrics.ErrPlayerUnavailable
	}
	if c.opts.Exclusions == nil {
		return fmt.Errorf("exclusion list disabled: %w", lyrics.ErrInvalidInput)
	}
	var err error
	if album {
		err = c.opts.Exclusions.AddAlbum(c.track)
	} else {
		err = c.opts.Exclusions.AddTrack(c.track)
	}
	if err != nil {
		return err
	}
	if c.searching {
		c.cancelSearch()
		c.gen++
		if c.doc == nil {
			c.setState(Unresolved)
		} else {
			c.setState(Resolved)
		}
	}
	return nil
}

func (c *Coordinator) cancelSearch() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.searching = false
}

func (c *Coordinator) flushCurrent() {
	if c.doc == nil || c.track == nil || !c.doc.Meta.NeedsPersist || c.opts.Local == nil {
		return
	}
	// failures are logged by the store and not retried
	_ = c.opts.Local.Flush(c.track, c.doc.Clone())
	c.doc.Meta.NeedsPersist = false
}

// setDocument swaps the active document and re-arms the timeline.
func (c *Coordinator) setDocument(doc *lyrics.Document) {
	c.doc = doc
	c.pubDoc = doc.Clone()
	c.sched.SetDocument(doc)
	c.announceDocument()
}

func (c *Coordinator) announceDocument() {
	c.publish()
	c.emit(Event{Kind: DocumentChanged, Document: c.pubDoc})
}

func (c *Coordinator) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.publish()
	c.emit(Event{Kind: StateChanged, State: s})
}

func (c *Coordinator) onLineChange(index int) {
	c.publish()
	c.emit(Event{Kind: LineChanged, Index: index})
}
