package music

import (
	"context"
	"fmt"
	"math"
	"strings"

	"lyricsync/pkg/lrclib"
	"lyricsync/pkg/netease"
)

// ProviderType 歌词提供商类型
type ProviderType string

const (
	// ProviderLRCLib LRCLib歌词库
	ProviderLRCLib ProviderType = "lrclib"
	// ProviderNetEase 网易云音乐
	ProviderNetEase ProviderType = "netease"
)

// Options 创建提供商所需的凭据
type Options struct {
	NeteaseCookie string
}

// CreateProvider 创建歌词提供商客户端
func CreateProvider(t ProviderType, opts Options) (Provider, error) {
	switch t {
	case ProviderLRCLib:
		return &lrclibProvider{client: lrclib.NewClient()}, nil
	case ProviderNetEase:
		return &neteaseProvider{client: netease.NewClient(opts.NeteaseCookie)}, nil
	default:
		return nil, fmt.Errorf("unknown music provider: %s", t)
	}
}

// CreateProviders 按名称顺序创建提供商，顺序即优先级
func CreateProviders(names []string, opts Options) ([]Provider, error) {
	var providers []Provider
	for _, name := range names {
		t, err := GetProviderByName(name)
		if err != nil {
			return nil, err
		}
		p, err := CreateProvider(t, opts)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no music providers available")
	}
	return providers, nil
}

// GetProviderByName 根据名称获取提供商
func GetProviderByName(name string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "lrclib":
		return ProviderLRCLib, nil
	case "netease", "网易云", "163":
		return ProviderNetEase, nil
	default:
		return "", fmt.Errorf("unknown provider name: %s", name)
	}
}

type lrclibProvider struct {
	client *lrclib.Client
}

func (p *lrclibProvider) Name() string { return p.client.Name() }

func (p *lrclibProvider) Search(ctx context.Context, q Query) ([]Result, error) {
	responses, err := p.client.Search(ctx, q.Title, q.Artist)
	if err != nil {
		return nil, err
	}
	var out []Result
	for _, r := range responses {
		// 纯文本歌词没有时间轴，无法同步
		if r.Instrumental || r.SyncedLyrics == "" {
			continue
		}
		out = append(out, Result{
			Title:    r.TrackName,
			Artist:   r.ArtistName,
			Album:    r.AlbumName,
			Duration: r.Duration,
			Lyrics:   r.SyncedLyrics,
		})
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

type neteaseProvider struct {
	client *netease.Client
}

func (p *neteaseProvider) Name() string { return p.client.Name() }

func (p *neteaseProvider) Search(ctx context.Context, q Query) ([]Result, error) {
	keyword := strings.TrimSpace(q.Title + " " + q.Artist)
	songs, err := p.client.SearchSongs(ctx, keyword, q.Limit)
	if err != nil {
		return nil, err
	}

	var out []Result
	for _, song := range songs {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		if !fuzzyMatch(song.Name, q.Title) {
			continue
		}
		lyr, err := p.client.GetLyrics(ctx, song.ID)
		if err != nil {
			if ctx.Err() != nil {
				return out, nil
			}
			logger.Warn().Err(err).Int("song_id", song.ID).Msg("NetEase lyrics fetch failed")
			continue
		}
		if lyr.Lrc.Lyric == "" {
			continue
		}
		r := Result{
			Title:    song.Name,
			Artist:   song.ArtistName(),
			Album:    song.Album.Name,
			Duration: math.Round(float64(song.Duration) / 1000),
			Lyrics:   lyr.Lrc.Lyric,
		}
		if lyr.Tlyric.Lyric != "" {
			r.Translation = lyr.Tlyric.Lyric
			r.TranslationLanguage = "zh-Hans"
		}
		out = append(out, r)
	}
	return out, nil
}
