package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lyricsync/internal/cache"
	"lyricsync/internal/lyrics"
	"lyricsync/internal/translate"
)

const translateTimeout = 30 * time.Second

// startAcquisition launches the lookup pipeline for the current track. A
// refresh starts a new generation and goes straight to the remote sources.
func (c *Coordinator) startAcquisition(refresh bool) {
	c.cancelSearch()
	if refresh {
		c.gen++
	}
	gen, t := c.gen, c.track

	ctx, cancel := context.WithCancel(c.ctx)
	c.cancel = cancel
	c.searching = true
	if refresh {
		c.setState(RemoteSearch)
	} else {
		c.setState(LocalLookup)
	}
	go c.acquire(ctx, gen, t, refresh)
}

// acquire runs off the loop. Everything it learns is posted back tagged with
// gen; the loop drops it if the generation has moved on.
func (c *Coordinator) acquire(ctx context.Context, gen uint64, t *lyrics.Track, refresh bool) {
	l := c.logger.With().Uint64("generation", gen).Str("track_id", t.ID).Logger()

	if !refresh && c.opts.Local != nil {
		if doc, provisional, ok := c.opts.Local.Lookup(t); ok {
			if !provisional {
				c.post(func() { c.finish(gen, doc, "local") })
				return
			}
			c.post(func() { c.adoptProvisional(gen, doc) })
		}
	}
	if ctx.Err() != nil {
		return
	}

	if c.opts.Exclusions != nil && c.opts.Exclusions.Excluded(t) {
		l.Info().Msg("Track is excluded, not searching")
		c.post(func() { c.finish(gen, nil, "excluded") })
		return
	}

	key := cacheKey(t)
	if !refresh {
		c.post(func() { c.advance(gen, CacheLookup) })
		if v, ok := c.cache.Lookup(ctx, key); ok {
			if v.Missing {
				l.Debug().Msg("Recently not found, not searching")
				c.post(func() { c.finish(gen, nil, "negative-cache") })
				return
			}
			if v.Doc != nil {
				c.post(func() { c.finish(gen, v.Doc, "cache") })
				return
			}
		}
	}

	if c.opts.Searcher == nil {
		c.post(func() { c.finish(gen, nil, "unresolved") })
		return
	}
	c.post(func() { c.advance(gen, RemoteSearch) })

	best, err := c.search(ctx, gen, t, l)
	if ctx.Err() != nil {
		// superseded; nothing may be published for this generation
		return
	}

	switch {
	case best != nil:
		c.cache.Store(ctx, key, Cached{Doc: best})
		best.Meta.NeedsPersist = true
		c.post(func() { c.finish(gen, best, "remote") })
	case errors.Is(err, lyrics.ErrTimeout):
		c.post(func() { c.finish(gen, nil, "timeout") })
	case errors.Is(err, lyrics.ErrNotFound):
		c.cache.StoreWithTTL(ctx, key, Cached{Missing: true}, c.opts.NegativeTTL)
		c.post(func() { c.finish(gen, nil, "unresolved") })
	default:
		c.post(func() { c.finish(gen, nil, "unresolved") })
	}
}

// search fans out to the remote sources and keeps the best acceptable
// candidate. It returns ErrTimeout or ErrNotFound when nothing was kept.
func (c *Coordinator) search(ctx context.Context, gen uint64, t *lyrics.Track, l zerolog.Logger) (*lyrics.Document, error) {
	title, artist := t.Title, t.Artist
	if c.opts.Resolver != nil {
		info, ok := c.opts.Resolver.Resolve(ctx, t)
		if !ok {
			l.Info().Str("title", t.Title).Msg("Media is not a song")
			return nil, fmt.Errorf("not a song: %w", lyrics.ErrInvalidInput)
		}
		title, artist = info.Title, info.Artist
	}

	req := lyrics.SearchRequest{
		ID:       gen,
		TraceID:  uuid.NewString(),
		Title:    title,
		Artist:   artist,
		Album:    t.Album,
		Duration: t.Duration,
		Limit:    c.opts.Limit,
		IssuedAt: c.opts.Now(),
	}
	l = l.With().Str("trace_id", req.TraceID).Logger()
	l.Info().Str("title", title).Str("artist", artist).Msg("Searching lyrics")

	best, candidates, err := c.collect(ctx, req, func(doc *lyrics.Document, best *lyrics.Document) *lyrics.Document {
		if !lyrics.Acceptable(doc, c.opts.Strict) {
			l.Debug().Str("provider", doc.Meta.Source).Float64("quality", doc.Meta.Quality).Msg("Candidate rejected")
			return best
		}
		if lyrics.Better(doc, best) {
			l.Debug().Str("provider", doc.Meta.Source).Float64("quality", doc.Meta.Quality).Msg("Candidate adopted")
			return doc
		}
		return best
	})

	ev := l.Info().Int("candidates", candidates)
	if best != nil {
		ev = ev.Str("provider", best.Meta.Source).Float64("quality", best.Meta.Quality)
	}
	ev.Bool("timed_out", errors.Is(err, lyrics.ErrTimeout)).Msg("Search finished")

	if best != nil {
		return best, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, lyrics.ErrNotFound
}

// collect consumes one fan-out under the search timeout, folding every
// candidate through keep. The returned error is ErrTimeout if the deadline
// ended the fan-out.
func (c *Coordinator) collect(ctx context.Context, req lyrics.SearchRequest, keep func(doc, best *lyrics.Document) *lyrics.Document) (*lyrics.Document, int, error) {
	sctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	start := time.Now()
	c.opts.Metrics.SearchStarted()
	defer func() { c.opts.Metrics.SearchFinished(time.Since(start)) }()

	var best *lyrics.Document
	candidates := 0
	results := c.opts.Searcher.Search(sctx, req)
	for {
		select {
		case doc, ok := <-results:
			if !ok {
				return best, candidates, nil
			}
			if doc == nil {
				continue
			}
			candidates++
			c.opts.Metrics.Candidate(doc.Meta.Source)
			best = keep(doc, best)
		case <-sctx.Done():
			if ctx.Err() == nil {
				return best, candidates, lyrics.ErrTimeout
			}
			return best, candidates, ctx.Err()
		}
	}
}

func (c *Coordinator) advance(gen uint64, s State) {
	if gen != c.gen || !c.searching {
		return
	}
	c.setState(s)
}

func (c *Coordinator) adoptProvisional(gen uint64, doc *lyrics.Document) {
	if gen != c.gen || !c.searching {
		return
	}
	if doc.Meta.Title == "" {
		doc.AttachTrack(c.track)
	}
	c.provisional = true
	c.setDocument(doc)
	c.logger.Info().Uint64("generation", gen).Msg("Showing provisional local lyrics while searching")
}

// finish ends the generation's acquisition. A nil doc keeps whatever is
// already shown, such as a provisional local file.
func (c *Coordinator) finish(gen uint64, doc *lyrics.Document, outcome string) {
	if gen != c.gen || !c.searching {
		return
	}
	c.cancelSearch()
	c.opts.Metrics.Resolved(outcome)

	l := c.logger.Info().Uint64("generation", gen).Str("outcome", outcome)
	if doc != nil {
		if doc.Meta.Title == "" {
			doc.AttachTrack(c.track)
		}
		c.provisional = false
		c.setDocument(doc)
		c.setState(Resolved)
		l.Str("source", doc.Meta.Source).Int("lines", doc.Len()).Msg("Lyrics resolved")
		c.translate(gen, doc)
		return
	}
	if c.doc != nil {
		c.setState(Resolved)
		l.Msg("Keeping current lyrics")
		return
	}
	c.setState(Unresolved)
	l.Msg("No lyrics")
}

// translate fills in missing translations in the background.
func (c *Coordinator) translate(gen uint64, doc *lyrics.Document) {
	if c.opts.Translator == nil || doc.Len() == 0 || doc.HasTranslation() {
		return
	}
	work := doc.Clone()
	ctx, cancel := context.WithTimeout(c.ctx, translateTimeout)
	go func() {
		defer cancel()
		lines, lang, err := c.opts.Translator.Translate(ctx, work)
		if err != nil {
			c.logger.Warn().Err(err).Uint64("generation", gen).Msg("Translation failed")
			return
		}
		c.post(func() {
			if gen != c.gen || c.doc != doc {
				return
			}
			translate.Apply(doc, lines, lang)
			doc.Meta.NeedsPersist = true
			c.pubDoc = doc.Clone()
			c.announceDocument()
		})
	}()
}

// Fetch resolves lyrics for an explicit title and artist without touching
// the current track. It consults the cache first and reports ErrNotFound if
// no source produced an acceptable candidate.
func (c *Coordinator) Fetch(ctx context.Context, title, artist string, duration time.Duration) (*lyrics.Document, error) {
	title, artist = strings.TrimSpace(title), strings.TrimSpace(artist)
	if title == "" || artist == "" {
		return nil, fmt.Errorf("title and artist are required: %w", lyrics.ErrInvalidInput)
	}

	key := cache.TrackKey(artist, title)
	if v, ok := c.cache.Lookup(ctx, key); ok && v.Doc != nil {
		return v.Doc, nil
	}
	if c.opts.Searcher == nil {
		return nil, fmt.Errorf("%s - %s: %w", artist, title, lyrics.ErrNotFound)
	}

	req := lyrics.SearchRequest{
		TraceID:  uuid.NewString(),
		Title:    title,
		Artist:   artist,
		Duration: duration,
		Limit:    c.opts.Limit,
		IssuedAt: c.opts.Now(),
	}
	var all []*lyrics.Document
	_, _, err := c.collect(ctx, req, func(doc, _ *lyrics.Document) *lyrics.Document {
		all = append(all, doc)
		return nil
	})

	ranked := lyrics.Rank(all, c.opts.Strict)
	if len(ranked) == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%s - %s: %w", artist, title, lyrics.ErrNotFound)
	}
	if err != nil {
		c.logger.Debug().Err(err).Int("candidates", len(all)).Msg("Fetch ended early")
	}
	best := ranked[0]
	c.cache.Store(ctx, key, Cached{Doc: best})
	return best, nil
}
