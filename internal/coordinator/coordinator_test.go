package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lyricsync/internal/lyrics"
)

type fakeSearcher struct {
	mu    sync.Mutex
	calls []lyrics.SearchRequest
	fn    func(ctx context.Context, req lyrics.SearchRequest, out chan<- *lyrics.Document)
}

func (f *fakeSearcher) Search(ctx context.Context, req lyrics.SearchRequest) <-chan *lyrics.Document {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()

	out := make(chan *lyrics.Document)
	go func() {
		defer close(out)
		if f.fn != nil {
			f.fn(ctx, req, out)
		}
	}()
	return out
}

func (f *fakeSearcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func send(ctx context.Context, out chan<- *lyrics.Document, docs ...*lyrics.Document) {
	for _, d := range docs {
		select {
		case out <- d:
		case <-ctx.Done():
			return
		}
	}
}

func candidate(quality float64, matched bool, text string) *lyrics.Document {
	return &lyrics.Document{
		Lines: []lyrics.Line{{Position: 1, Text: text}},
		Meta:  lyrics.Metadata{Quality: quality, Matched: matched, Source: "fake"},
	}
}

type localHit struct {
	text        string
	provisional bool
}

type fakeLocal struct {
	mu      sync.Mutex
	hits    map[string]localHit
	flushed []*lyrics.Document
}

func (f *fakeLocal) Lookup(t *lyrics.Track) (*lyrics.Document, bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hit, ok := f.hits[t.ID]
	if !ok {
		return nil, false, false
	}
	doc, err := lyrics.ParseLRC(hit.text)
	if err != nil {
		return nil, false, false
	}
	return doc, hit.provisional, true
}

func (f *fakeLocal) Flush(_ *lyrics.Track, doc *lyrics.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed = append(f.flushed, doc)
	return nil
}

func (f *fakeLocal) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.flushed)
}

type fakeExclusions struct {
	mu     sync.Mutex
	tracks map[string]bool
	albums map[string]bool
}

func newExclusions() *fakeExclusions {
	return &fakeExclusions{tracks: map[string]bool{}, albums: map[string]bool{}}
}

func (f *fakeExclusions) Excluded(t *lyrics.Track) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tracks[t.ID] || f.albums[t.Album]
}

func (f *fakeExclusions) AddTrack(t *lyrics.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks[t.ID] = true
	return nil
}

func (f *fakeExclusions) AddAlbum(t *lyrics.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.albums[t.Album] = true
	return nil
}

func (f *fakeExclusions) Remove(t *lyrics.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tracks, t.ID)
	delete(f.albums, t.Album)
	return nil
}

func start(t *testing.T, opts Options) (*Coordinator, <-chan Event) {
	t.Helper()
	c := New(opts)
	events, unsubscribe := c.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		unsubscribe()
	})
	return c, events
}

func waitState(t *testing.T, events <-chan Event, want State) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Kind == StateChanged && e.State == want {
				return e
			}
		case <-timeout:
			t.Fatalf("state %s not reached", want)
			return Event{}
		}
	}
}

// barrier waits until everything posted so far has run.
func barrier(t *testing.T, c *Coordinator) {
	t.Helper()
	require.NoError(t, c.call(func() {}))
}

func track(id string) *lyrics.Track {
	return &lyrics.Track{ID: id, Title: "Title " + id, Artist: "Artist", Album: "Album"}
}

func TestLocalRichFileSkipsNetwork(t *testing.T) {
	searcher := &fakeSearcher{}
	local := &fakeLocal{hits: map[string]localHit{"1": {text: "[00:01.00]one\n[00:02.00]two\n"}}}
	c, events := start(t, Options{Searcher: searcher, Local: local})

	c.TrackChanged(track("1"))
	waitState(t, events, Resolved)

	want, err := lyrics.ParseLRC("[00:01.00]one\n[00:02.00]two\n")
	require.NoError(t, err)

	snap := c.Snapshot(time.Now())
	require.NotNil(t, snap.Document)
	assert.Equal(t, want.Lines, snap.Document.Lines)
	assert.Zero(t, searcher.count())
}

func TestHighestQualityCandidateWins(t *testing.T) {
	searcher := &fakeSearcher{fn: func(ctx context.Context, _ lyrics.SearchRequest, out chan<- *lyrics.Document) {
		send(ctx, out, candidate(3, true, "low"), candidate(7, true, "high"), candidate(7, true, "late tie"))
	}}
	local := &fakeLocal{}
	c, events := start(t, Options{Searcher: searcher, Local: local})

	c.TrackChanged(track("1"))
	waitState(t, events, Resolved)

	snap := c.Snapshot(time.Now())
	require.NotNil(t, snap.Document)
	assert.Equal(t, "high", snap.Document.Lines[0].Text)
	assert.Equal(t, 1, searcher.count())

	// remote results are persisted when the track changes
	c.TrackChanged(track("2"))
	barrier(t, c)
	require.Equal(t, 1, local.flushCount())
	assert.Equal(t, "high", local.flushed[0].Lines[0].Text)
}

func TestStaleGenerationNeverPublishes(t *testing.T) {
	release := make(chan struct{})
	searcher := &fakeSearcher{fn: func(ctx context.Context, req lyrics.SearchRequest, out chan<- *lyrics.Document) {
		if req.Title != "Title a" {
			return
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		send(ctx, out, candidate(9, true, "late"))
	}}
	c, events := start(t, Options{Searcher: searcher})

	c.TrackChanged(track("a"))
	searching := waitState(t, events, RemoteSearch)

	c.TrackChanged(track("b"))
	waitState(t, events, Unresolved)
	close(release)

	// a result for the old generation reaching the loop is dropped
	require.NoError(t, c.call(func() { c.finish(searching.Generation, candidate(9, true, "late"), "remote") }))

	snap := c.Snapshot(time.Now())
	assert.Nil(t, snap.Document)
	assert.Equal(t, Unresolved, snap.State)
	assert.Equal(t, "Title b", snap.Track.Title)
	assert.Equal(t, -1, snap.Index)
}

func TestStrictModeRejectsUnmatched(t *testing.T) {
	searcher := &fakeSearcher{fn: func(ctx context.Context, _ lyrics.SearchRequest, out chan<- *lyrics.Document) {
		send(ctx, out, candidate(10, false, "unmatched"))
	}}
	c, events := start(t, Options{Searcher: searcher, Strict: true})

	c.TrackChanged(track("1"))
	waitState(t, events, Unresolved)
	assert.Nil(t, c.Snapshot(time.Now()).Document)
}

func TestExcludedTrackSkipsSearch(t *testing.T) {
	searcher := &fakeSearcher{}
	excl := newExclusions()
	excl.tracks["1"] = true
	c, events := start(t, Options{Searcher: searcher, Exclusions: excl})

	c.TrackChanged(track("1"))
	waitState(t, events, Unresolved)
	assert.Zero(t, searcher.count())

	c.TrackChanged(track("2"))
	waitState(t, events, Unresolved)
	require.NoError(t, c.ExcludeCurrent(true))
	assert.True(t, excl.albums["Album"])
}

func TestImport(t *testing.T) {
	excl := newExclusions()
	excl.tracks["1"] = true
	c, events := start(t, Options{Exclusions: excl})

	c.TrackChanged(track("1"))
	waitState(t, events, Unresolved)

	err := c.Import("no timing here")
	assert.ErrorIs(t, err, lyrics.ErrParsing)
	assert.Nil(t, c.Snapshot(time.Now()).Document)

	require.NoError(t, c.Import("[00:01.00]imported"))
	snap := c.Snapshot(time.Now())
	assert.Equal(t, Resolved, snap.State)
	require.NotNil(t, snap.Document)
	assert.Equal(t, "imported", snap.Document.Lines[0].Text)
	assert.Equal(t, "Title 1", snap.Document.Meta.Title)
	assert.False(t, excl.Excluded(track("1")))

	var persist bool
	require.NoError(t, c.call(func() { persist = c.doc.Meta.NeedsPersist }))
	assert.True(t, persist)
}

func TestImportWithoutTrack(t *testing.T) {
	c, _ := start(t, Options{})
	assert.ErrorIs(t, c.Import("[00:01.00]x"), lyrics.ErrPlayerUnavailable)
}

func TestOffset(t *testing.T) {
	local := &fakeLocal{hits: map[string]localHit{"1": {text: "[00:00.00]a\n[00:04.00]b\n"}}}
	c, events := start(t, Options{Local: local})

	assert.ErrorIs(t, c.SetOffset(1), lyrics.ErrInvalidInput)

	c.TrackChanged(track("1"))
	waitState(t, events, Resolved)

	require.NoError(t, c.SetOffset(1.5))
	assert.InDelta(t, 1.5, c.Snapshot(time.Now()).Document.Meta.Offset, 1e-9)

	got, err := c.AdjustOffset(-0.5)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-9)

	// position 3.5 + offset 1.0 crosses into the second line
	c.PlaybackChanged("1", false, 3.5, time.Now())
	barrier(t, c)
	assert.Equal(t, 1, c.Snapshot(time.Now()).Index)

	require.NoError(t, c.Flush())
	assert.Equal(t, 1, local.flushCount())
}

func TestProvisionalLocalIsUpgraded(t *testing.T) {
	searcher := &fakeSearcher{fn: func(ctx context.Context, _ lyrics.SearchRequest, out chan<- *lyrics.Document) {
		send(ctx, out, candidate(1, true, "remote"))
	}}
	local := &fakeLocal{hits: map[string]localHit{"1": {text: "[00:01.00]local", provisional: true}}}
	c, events := start(t, Options{Searcher: searcher, Local: local})

	c.TrackChanged(track("1"))
	waitState(t, events, Resolved)
	assert.Equal(t, "remote", c.Snapshot(time.Now()).Document.Lines[0].Text)
	assert.Equal(t, 1, searcher.count())
}

func TestProvisionalLocalKeptWithoutRemote(t *testing.T) {
	searcher := &fakeSearcher{}
	local := &fakeLocal{hits: map[string]localHit{"1": {text: "[00:01.00]local", provisional: true}}}
	c, events := start(t, Options{Searcher: searcher, Local: local})

	c.TrackChanged(track("1"))
	waitState(t, events, Resolved)
	assert.Equal(t, "local", c.Snapshot(time.Now()).Document.Lines[0].Text)
}

func TestNegativeCache(t *testing.T) {
	searcher := &fakeSearcher{}
	c, events := start(t, Options{Searcher: searcher})

	c.TrackChanged(track("1"))
	waitState(t, events, Unresolved)
	c.TrackChanged(track("2"))
	waitState(t, events, Unresolved)
	c.TrackChanged(track("1"))
	waitState(t, events, Unresolved)

	assert.Equal(t, 2, searcher.count())
}

func TestTimeoutPublishesHeldCandidate(t *testing.T) {
	searcher := &fakeSearcher{fn: func(ctx context.Context, _ lyrics.SearchRequest, out chan<- *lyrics.Document) {
		send(ctx, out, candidate(2, true, "early"))
		<-ctx.Done()
	}}
	c, events := start(t, Options{Searcher: searcher, Timeout: 100 * time.Millisecond})

	c.TrackChanged(track("1"))
	waitState(t, events, Resolved)
	assert.Equal(t, "early", c.Snapshot(time.Now()).Document.Lines[0].Text)
}

func TestRefreshBypassesLocal(t *testing.T) {
	searcher := &fakeSearcher{fn: func(ctx context.Context, _ lyrics.SearchRequest, out chan<- *lyrics.Document) {
		send(ctx, out, candidate(4, true, "fresh"))
	}}
	local := &fakeLocal{hits: map[string]localHit{"1": {text: "[00:01.00]stored"}}}
	c, events := start(t, Options{Searcher: searcher, Local: local})

	c.TrackChanged(track("1"))
	waitState(t, events, Resolved)
	require.Zero(t, searcher.count())

	require.NoError(t, c.Refresh())
	waitState(t, events, Resolved)
	assert.Equal(t, "fresh", c.Snapshot(time.Now()).Document.Lines[0].Text)
	assert.Equal(t, 1, searcher.count())
}

func TestSnapshotLines(t *testing.T) {
	local := &fakeLocal{hits: map[string]localHit{"1": {text: "[00:00.00]one\n[00:04.00]two\n[00:08.00]three\n"}}}
	c, events := start(t, Options{Local: local})

	c.TrackChanged(track("1"))
	waitState(t, events, Resolved)

	now := time.Now()
	c.PlaybackChanged("1", false, 5, now)
	barrier(t, c)

	snap := c.Snapshot(now.Add(time.Hour))
	assert.Equal(t, 1, snap.Index)
	assert.Equal(t, "two", snap.Line)
	assert.Equal(t, "three", snap.NextLine)
	assert.InDelta(t, 0.25, snap.Progress, 1e-9)
	assert.False(t, snap.Playing)

	// reports for another track are ignored
	c.PlaybackChanged("2", false, 9, now)
	c.Seeked("2", 9, now)
	barrier(t, c)
	assert.Equal(t, 1, c.Snapshot(now).Index)
}

func TestFetch(t *testing.T) {
	searcher := &fakeSearcher{fn: func(ctx context.Context, _ lyrics.SearchRequest, out chan<- *lyrics.Document) {
		send(ctx, out, candidate(2, true, "ok"), candidate(5, false, "unmatched"))
	}}
	c, _ := start(t, Options{Searcher: searcher})
	ctx := context.Background()

	_, err := c.Fetch(ctx, "Halo", " ", 0)
	assert.ErrorIs(t, err, lyrics.ErrInvalidInput)

	doc, err := c.Fetch(ctx, "Halo", "Beyonce", 0)
	require.NoError(t, err)
	assert.Equal(t, "unmatched", doc.Lines[0].Text)

	_, err = c.Fetch(ctx, " halo ", "BEYONCE", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, searcher.count(), "second fetch is served from cache")
}

func TestFetchNotFound(t *testing.T) {
	c, _ := start(t, Options{Searcher: &fakeSearcher{}})
	_, err := c.Fetch(context.Background(), "Halo", "Beyonce", 0)
	assert.ErrorIs(t, err, lyrics.ErrNotFound)
}

func TestFetchStrict(t *testing.T) {
	searcher := &fakeSearcher{fn: func(ctx context.Context, _ lyrics.SearchRequest, out chan<- *lyrics.Document) {
		send(ctx, out, candidate(5, false, "unmatched"))
	}}
	c, _ := start(t, Options{Searcher: searcher, Strict: true})
	_, err := c.Fetch(context.Background(), "Halo", "Beyonce", 0)
	assert.ErrorIs(t, err, lyrics.ErrNotFound)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	c, _ := start(t, Options{})
	ch, unsubscribe := c.Subscribe()
	unsubscribe()
	unsubscribe()

	c.TrackChanged(track("1"))
	barrier(t, c)
	_, open := <-ch
	assert.False(t, open)
}
