package music

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lyricsync/internal/lyrics"
)

// mockProvider 模拟歌词提供商
type mockProvider struct {
	name    string
	results []Result
	err     error
	delay   time.Duration
	calls   atomic.Int32
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Search(ctx context.Context, q Query) ([]Result, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return m.results, m.err
}

func collect(ch <-chan *lyrics.Document) []*lyrics.Document {
	var out []*lyrics.Document
	for d := range ch {
		out = append(out, d)
	}
	return out
}

func request() lyrics.SearchRequest {
	return lyrics.SearchRequest{ID: 9, TraceID: "t", Title: "Halo", Artist: "Beyonce", Duration: 261 * time.Second, Limit: 3}
}

func TestSearchFansOutAndScores(t *testing.T) {
	good := &mockProvider{name: "good", results: []Result{
		{Title: "Halo", Artist: "Beyonce", Duration: 262, Lyrics: "[00:01.00]Remember"},
	}}
	wrong := &mockProvider{name: "wrong", results: []Result{
		{Title: "Halo", Artist: "Someone Else", Duration: 100, Lyrics: "[00:01.00]Other"},
	}}

	docs := collect(NewManager([]Provider{wrong, good}, nil).Search(context.Background(), request()))
	require.Len(t, docs, 2)

	bySource := map[string]*lyrics.Document{}
	for _, d := range docs {
		bySource[d.Meta.Source] = d
		assert.Equal(t, uint64(9), d.Meta.SearchID)
	}
	assert.False(t, bySource["wrong"].Meta.Matched)
	assert.Greater(t, bySource["good"].Meta.Quality, bySource["wrong"].Meta.Quality)
}

func TestFuzzyMatch(t *testing.T) {
	assert.True(t, fuzzyMatch("Beyonce Knowles", "beyonce"))
	assert.True(t, fuzzyMatch("Let It Be", "let it be (remastered)"))
	assert.False(t, fuzzyMatch("Yesterday", "Help"))
}

func TestProviderErrorsAreSwallowed(t *testing.T) {
	broken := &mockProvider{name: "broken", err: errors.New("boom")}
	ok := &mockProvider{name: "ok", results: []Result{
		{Title: "Halo", Artist: "Beyonce", Lyrics: "[00:01.00]Remember"},
		{Title: "Halo", Artist: "Beyonce", Lyrics: "plain text without timing"},
	}}

	docs := collect(NewManager([]Provider{broken, ok}, nil).Search(context.Background(), request()))
	require.Len(t, docs, 1, "unparsable results are dropped")
	assert.True(t, docs[0].Meta.Matched)
	assert.Equal(t, int32(1), broken.calls.Load())
}

func TestSearchStopsOnCancel(t *testing.T) {
	slow := &mockProvider{name: "slow", delay: time.Minute, results: []Result{{Title: "Halo", Lyrics: "[00:01.00]x"}}}
	ctx, cancel := context.WithCancel(context.Background())

	ch := NewManager([]Provider{slow}, nil).Search(ctx, request())
	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestTranslationMerged(t *testing.T) {
	p := &mockProvider{name: "netease", results: []Result{{
		Title:               "Halo",
		Artist:              "Beyonce",
		Lyrics:              "[00:01.00]Remember\n[00:03.00]those walls",
		Translation:         "[00:01.00]记得\n[00:05.00]orphan",
		TranslationLanguage: "zh-Hans",
	}}}

	docs := collect(NewManager([]Provider{p}, nil).Search(context.Background(), request()))
	require.Len(t, docs, 1)
	assert.Equal(t, "记得", docs[0].Lines[0].Translation)
	assert.Empty(t, docs[0].Lines[1].Translation)
	assert.Equal(t, "zh-Hans", docs[0].Meta.TranslationLanguage)
}

func TestScoreDurationMismatch(t *testing.T) {
	doc := &lyrics.Document{Lines: []lyrics.Line{{Position: 1, Text: "x"}}}
	q := Query{Title: "Halo", Artist: "Beyonce", Duration: 261}

	score(doc, Result{Title: "Halo", Artist: "Beyonce", Duration: 263}, q, 0, 1)
	assert.True(t, doc.Meta.Matched)
	within := doc.Meta.Quality

	score(doc, Result{Title: "Halo", Artist: "Beyonce", Duration: 300}, q, 0, 1)
	assert.False(t, doc.Meta.Matched)
	assert.Less(t, doc.Meta.Quality, within)
}

func TestGetProviderByName(t *testing.T) {
	p, err := GetProviderByName(" NetEase ")
	require.NoError(t, err)
	assert.Equal(t, ProviderNetEase, p)

	_, err = GetProviderByName("kugou")
	assert.Error(t, err)
}
