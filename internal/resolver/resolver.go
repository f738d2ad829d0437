package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lyricsync/internal/cache"
	"lyricsync/internal/lyrics"
	"lyricsync/pkg/ai"
)

// SongInfo is what the title cleanup settles on.
type SongInfo struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	IsSong bool   `json:"is_song"`
}

const maxRetries = 3

var (
	decorationRe = regexp.MustCompile(`(?i)\s*[(\[【]\s*(official\s*(music\s*)?video|official\s*audio|official\s*mv|lyrics?(\s*video)?|mv|hd|hq|4k|audio|visualizer|动态歌词|歌词版?)\s*[)\]】]`)
	separators   = []string{" - ", " – ", " — ", " | "}
	fenceRe      = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
)

func formatQuerySong(title string) string {
	return fmt.Sprintf(`请精确地按照以下JSON格式提取歌曲信息: {"is_song": true, "title": "歌曲标题", "artist": "演唱者"}。  输入是一个媒体标题，如果标题中包含歌曲信息，请返回符合格式的JSON；否则，返回{"is_song": false}。 请注意，"title" 和 "artist" 必须准确，否则将被视为错误，切记不要任何markdown格式，并将繁体中文转换为简体。 媒体标题是：%s`, title)
}

// Resolver turns player-reported media titles into a title/artist pair
// suitable for a lyrics search.
type Resolver struct {
	ai      ai.AiInterface
	answers *cache.Tiered[SongInfo]
	backoff time.Duration
	logger  zerolog.Logger
}

// New builds a resolver. client may be nil, in which case only the
// heuristics run.
func New(client ai.AiInterface, answers *cache.Tiered[SongInfo]) *Resolver {
	if answers == nil {
		answers = &cache.Tiered[SongInfo]{Mem: cache.New[SongInfo](cache.Options{})}
	}
	return &Resolver{
		ai:      client,
		answers: answers,
		backoff: time.Second,
		logger:  log.With().Str("component", "resolver").Logger(),
	}
}

// StripDecorations removes video-site noise like "(Official Video)".
func StripDecorations(title string) string {
	return strings.TrimSpace(decorationRe.ReplaceAllString(title, ""))
}

// SplitArtistTitle splits "Artist - Title" media names.
func SplitArtistTitle(media string) (SongInfo, bool) {
	for _, sep := range separators {
		artist, title, ok := strings.Cut(media, sep)
		artist, title = strings.TrimSpace(artist), StripDecorations(title)
		if ok && artist != "" && title != "" {
			return SongInfo{Title: title, Artist: artist, IsSong: true}, true
		}
	}
	return SongInfo{}, false
}

// Resolve returns the search terms for t. A false result means the media is
// known not to be a song and should not be searched.
func (r *Resolver) Resolve(ctx context.Context, t *lyrics.Track) (SongInfo, bool) {
	title := StripDecorations(t.Title)
	if t.Artist != "" {
		return SongInfo{Title: title, Artist: strings.TrimSpace(t.Artist), IsSong: true}, true
	}
	if info, ok := SplitArtistTitle(t.Title); ok {
		return info, true
	}
	if r.ai == nil || title == "" {
		return SongInfo{Title: title, IsSong: true}, true
	}

	key := cache.QueryKey("ai", t.Title)
	if info, ok := r.answers.Lookup(ctx, key); ok {
		return info, info.IsSong
	}

	info, err := r.ask(ctx, t.Title)
	if err != nil {
		r.logger.Warn().Err(err).Str("media", t.Title).Msg("Title cleanup failed, searching raw title")
		return SongInfo{Title: title, IsSong: true}, true
	}
	r.answers.Store(ctx, key, info)
	r.logger.Info().Str("media", t.Title).Str("title", info.Title).Str("artist", info.Artist).Bool("is_song", info.IsSong).Msg("Resolved media title")
	return info, info.IsSong
}

func (r *Resolver) ask(ctx context.Context, media string) (SongInfo, error) {
	var raw string
	var err error
	for i := range maxRetries {
		if i > 0 {
			select {
			case <-time.After(r.backoff):
			case <-ctx.Done():
				return SongInfo{}, ctx.Err()
			}
		}
		raw, err = r.ai.HandleText(ctx, formatQuerySong(media))
		if err == nil {
			break
		}
		r.logger.Warn().Err(err).Int("attempt", i+1).Str("model", r.ai.Name()).Msg("Failed to query model")
	}
	if err != nil {
		return SongInfo{}, fmt.Errorf("failed to query %s after %d attempts: %w", r.ai.Name(), maxRetries, err)
	}

	raw = strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		raw = m[1]
	}
	var info SongInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return SongInfo{}, fmt.Errorf("failed to parse %s response: %w", r.ai.Name(), err)
	}
	if info.IsSong && info.Title == "" {
		return SongInfo{}, fmt.Errorf("%s returned a song without title", r.ai.Name())
	}
	return info, nil
}
