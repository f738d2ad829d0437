package music

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"lyricsync/internal/lyrics"
)

var logger = log.With().Str("component", "music-manager").Logger()

// Manager 多提供商并发搜索
type Manager struct {
	providers []Provider
	parser    lyrics.Parser
}

// NewManager 创建新的管理器，providers 的顺序即优先级
func NewManager(providers []Provider, parser lyrics.Parser) *Manager {
	if parser == nil {
		parser = lyrics.LRCParser{}
	}
	if len(providers) == 0 {
		logger.Warn().Msg("No music providers configured")
	} else {
		logger.Info().
			Int("provider_count", len(providers)).
			Strs("providers", providerNames(providers)).
			Msg("Music manager initialized")
	}
	return &Manager{providers: providers, parser: parser}
}

// Search 同时查询所有提供商，每个可解析的结果打分后立即发送到返回的通道。
// 所有提供商结束或 ctx 取消后通道关闭。单个提供商的错误只记录，不影响其他提供商。
func (m *Manager) Search(ctx context.Context, req lyrics.SearchRequest) <-chan *lyrics.Document {
	out := make(chan *lyrics.Document, len(m.providers)*2)
	q := Query{
		Title:    req.Title,
		Artist:   req.Artist,
		Duration: req.Duration.Seconds(),
		Limit:    req.Limit,
	}

	var g errgroup.Group
	for rank, p := range m.providers {
		g.Go(func() error {
			m.searchProvider(ctx, p, rank, q, req, out)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(out)
	}()
	return out
}

func (m *Manager) searchProvider(ctx context.Context, p Provider, rank int, q Query, req lyrics.SearchRequest, out chan<- *lyrics.Document) {
	l := logger.With().Str("provider", p.Name()).Str("trace_id", req.TraceID).Logger()
	start := time.Now()

	results, err := p.Search(ctx, q)
	if err != nil {
		if ctx.Err() == nil {
			l.Warn().Err(err).Msg("Provider failed")
		}
		return
	}
	l.Debug().Int("results", len(results)).Dur("elapsed", time.Since(start)).Msg("Provider answered")

	for _, r := range results {
		doc, err := m.parser.Parse(r.Lyrics)
		if err != nil {
			l.Debug().Err(err).Str("title", r.Title).Msg("Skipping unparsable result")
			continue
		}
		if r.Translation != "" {
			if tr, err := m.parser.Parse(r.Translation); err == nil {
				mergeTranslation(doc, tr)
				doc.Meta.TranslationLanguage = r.TranslationLanguage
			}
		}
		doc.Meta.Title = r.Title
		doc.Meta.Artist = r.Artist
		doc.Meta.Album = r.Album
		doc.Meta.Duration = r.Duration
		doc.Meta.Source = p.Name()
		doc.Meta.SearchID = req.ID
		score(doc, r, q, rank, len(m.providers))

		select {
		case out <- doc:
		case <-ctx.Done():
			return
		}
	}
}

// ProviderNames 获取所有提供商名称
func (m *Manager) ProviderNames() []string {
	return providerNames(m.providers)
}

func providerNames(providers []Provider) []string {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name()
	}
	return names
}
