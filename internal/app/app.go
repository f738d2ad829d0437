package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"lyricsync/internal/cache"
	"lyricsync/internal/config"
	"lyricsync/internal/coordinator"
	"lyricsync/internal/exclusion"
	"lyricsync/internal/i3block"
	"lyricsync/internal/ipc"
	"lyricsync/internal/lyrics"
	"lyricsync/internal/metrics"
	"lyricsync/internal/player"
	"lyricsync/internal/resolver"
	"lyricsync/internal/storage"
	"lyricsync/internal/translate"
	"lyricsync/pkg/ai"
	"lyricsync/pkg/ai/gemini"
	"lyricsync/pkg/ai/openai"
	"lyricsync/pkg/music"
	"lyricsync/pkg/redis"
	"lyricsync/pkg/tencent"
)

const (
	heartbeatInterval  = 10 * time.Second
	playerBuffer       = 64
	defaultOpenAIModel = "gpt-4o-mini"
)

// SetupLogging configures the global zerolog logger.
func SetupLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// App wires the engine together. New builds everything that acquisition
// needs; Run adds the player, the socket and the optional side outputs.
type App struct {
	cfg     *config.Config
	metrics *metrics.Metrics
	docs    *cache.Cache[coordinator.Cached]
	answers *cache.Cache[resolver.SongInfo]
	store   *storage.Store
	coord   *coordinator.Coordinator
	closers []func() error
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg, metrics: metrics.New()}
	parser := lyrics.LRCParser{}

	providers, err := music.CreateProviders(cfg.Search.Providers, music.Options{NeteaseCookie: cfg.Search.NeteaseCookie})
	if err != nil {
		return nil, err
	}
	searcher := music.NewManager(providers, parser)

	excluded, err := exclusion.Open(cfg.App.ExclusionFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open exclusion list: %w", err)
	}

	a.docs = cache.New[coordinator.Cached](cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.Cache.MaxBytes,
		DefaultTTL: cfg.Cache.TTL,
		Metrics:    a.metrics,
	})
	a.answers = cache.New[resolver.SongInfo](cache.Options{DefaultTTL: cfg.Cache.TTL})
	docTier := &cache.Tiered[coordinator.Cached]{Mem: a.docs, TTL: cfg.Cache.TTL, RemoteTTL: cfg.Redis.TTL}
	answerTier := &cache.Tiered[resolver.SongInfo]{Mem: a.answers, TTL: cfg.Cache.TTL, RemoteTTL: cfg.Redis.TTL}
	if remote := a.newRemote(); remote != nil {
		docTier.Remote = remote
		answerTier.Remote = remote
	}

	a.store = storage.New(cfg.App.StorageDir, parser)

	opts := coordinator.Options{
		Searcher:         searcher,
		Parser:           parser,
		Local:            a.store,
		Exclusions:       excluded,
		Cache:            docTier,
		Metrics:          a.metrics,
		Timeout:          cfg.Search.Timeout,
		Limit:            cfg.Search.Limit,
		Strict:           cfg.Search.Strict,
		AdaptiveProgress: cfg.Search.AdaptiveProgress,
		LineDuration:     cfg.Search.LineDuration,
	}

	client, err := a.newAI(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("AI title cleanup disabled")
	}
	opts.Resolver = resolver.New(client, answerTier)

	if t := a.newTranslator(); t != nil {
		opts.Translator = t
	}

	a.coord = coordinator.New(opts)
	log.Info().Strs("providers", searcher.ProviderNames()).Str("storage_dir", cfg.App.StorageDir).Msg("Engine ready")
	return a, nil
}

func (a *App) newRemote() cache.Remote {
	rc := a.cfg.Redis
	if rc.Addr == "" {
		return nil
	}
	client, err := redis.NewClient(rc.Addr, rc.Password, rc.DB, rc.Prefix)
	if err != nil {
		log.Warn().Err(err).Str("addr", rc.Addr).Msg("Redis unavailable, using memory cache only")
		return nil
	}
	a.closers = append(a.closers, client.Close)
	log.Info().Str("addr", rc.Addr).Msg("Redis cache tier enabled")
	return cache.NewRedisStore(client)
}

// newAI returns nil without error when no key is configured.
func (a *App) newAI(ctx context.Context) (ai.AiInterface, error) {
	ac := a.cfg.AI
	if ac.APIKey == "" {
		return nil, nil
	}
	switch ac.ModuleName {
	case "gemini":
		g, err := gemini.NewGemini(ctx, ac.APIKey, ac.Model)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, g.Close)
		return g, nil
	case "openai":
		model := ac.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return openai.NewOpenAi(ac.APIKey, model, ac.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown AI module %q", ac.ModuleName)
	}
}

func (a *App) newTranslator() *translate.Translator {
	tc := a.cfg.Translate
	if !tc.Enabled {
		return nil
	}
	if tc.SecretID == "" || tc.SecretKey == "" {
		log.Warn().Msg("Translation enabled but Tencent credentials are missing")
		return nil
	}
	client, err := tencent.NewClient(tc.SecretID, tc.SecretKey, tc.Region)
	if err != nil {
		log.Warn().Err(err).Msg("Translation disabled")
		return nil
	}
	return translate.New(client, tc.Target)
}

func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coord
}

// Save writes doc to the lyrics directory for t.
func (a *App) Save(t *lyrics.Track, doc *lyrics.Document) error {
	return a.store.Flush(t, doc)
}

func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Debug().Err(err).Msg("Close failed")
		}
	}
}

// Run follows the player until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.App.StorageDir, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	backend, err := player.New(a.cfg.Player.Backend, a.cfg.Player.BusName)
	if err != nil {
		return err
	}

	server := ipc.NewServer(a.cfg.App.SocketPath, a.cfg.App.WidgetFile, a.coord)
	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start IPC server: %w", err)
	}
	defer server.Close()

	var bar *i3block.Controller
	if a.cfg.I3Blocks.Enabled {
		bar = i3block.NewController(a.cfg.I3Blocks.Signal, a.cfg.I3Blocks.RefreshInterval)
	}

	events, unsubscribe := a.coord.Subscribe()
	defer unsubscribe()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.coord.Run(ctx) })

	playerEvents := make(chan player.Event, playerBuffer)
	g.Go(func() error {
		log.Info().Str("backend", backend.Name()).Msg("Following player")
		return backend.Run(ctx, playerEvents)
	})
	g.Go(func() error {
		player.Forward(ctx, playerEvents, a.coord)
		return nil
	})
	g.Go(func() error {
		a.broadcast(ctx, events, server, bar)
		return nil
	})
	g.Go(func() error { return a.docs.RunJanitor(ctx, a.cfg.Cache.SweepInterval) })
	g.Go(func() error { return a.answers.RunJanitor(ctx, a.cfg.Cache.SweepInterval) })
	if bar != nil {
		g.Go(func() error { return bar.Run(ctx) })
	}
	if a.cfg.Metrics.Addr != "" {
		g.Go(func() error { return a.metrics.Serve(ctx, a.cfg.Metrics.Addr) })
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// broadcast pushes the widget state on every coordinator event and on a
// heartbeat, so consumers can tell a live idle engine from a dead one.
func (a *App) broadcast(ctx context.Context, events <-chan coordinator.Event, server *ipc.Server, bar *i3block.Controller) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	push := func(notify bool) {
		now := time.Now()
		server.Broadcast(ipc.StateFromSnapshot(a.coord.Snapshot(now), now))
		if notify && bar != nil {
			if err := bar.Notify(); err != nil {
				log.Debug().Err(err).Msg("i3blocks not signalled")
			}
		}
	}

	push(true)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			push(false)
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Kind == coordinator.DocumentChanged {
				log.Info().Uint64("generation", e.Generation).Msg("Lyrics document changed")
			}
			push(true)
		}
	}
}
