package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds the Prometheus collectors of the engine. A nil *Metrics is
// valid and records nothing, which keeps tests and the CLI free of setup.
type Metrics struct {
	registry *prometheus.Registry

	// Cache metrics
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal prometheus.Counter
	CacheSizeBytes      prometheus.Gauge
	CacheEntries        prometheus.Gauge

	// Acquisition metrics
	SearchesTotal    prometheus.Counter
	CandidatesTotal  *prometheus.CounterVec
	ResolutionsTotal *prometheus.CounterVec
	SearchDuration   prometheus.Histogram

	// Timeline metrics
	TimerWakeupsTotal prometheus.Counter
	LineChangesTotal  prometheus.Counter
}

// New creates the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lyricsync", Subsystem: "cache", Name: "hits_total",
			Help: "Total number of lyrics cache hits",
		}),
		CacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lyricsync", Subsystem: "cache", Name: "misses_total",
			Help: "Total number of lyrics cache misses",
		}),
		CacheEvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lyricsync", Subsystem: "cache", Name: "evictions_total",
			Help: "Entries evicted for capacity or expiry",
		}),
		CacheSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lyricsync", Subsystem: "cache", Name: "size_bytes",
			Help: "Bytes currently held by the cache",
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lyricsync", Subsystem: "cache", Name: "entries",
			Help: "Entries currently held by the cache",
		}),
		SearchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lyricsync", Subsystem: "search", Name: "requests_total",
			Help: "Remote searches issued",
		}),
		CandidatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lyricsync", Subsystem: "search", Name: "candidates_total",
			Help: "Candidates received per source",
		}, []string{"source"}),
		ResolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lyricsync", Subsystem: "acquisition", Name: "resolutions_total",
			Help: "Acquisition outcomes by origin",
		}, []string{"outcome"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lyricsync", Subsystem: "search", Name: "duration_seconds",
			Help:    "Wall time of a remote search fan-out",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		}),
		TimerWakeupsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lyricsync", Subsystem: "timeline", Name: "wakeups_total",
			Help: "Line boundary timer wakeups",
		}),
		LineChangesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lyricsync", Subsystem: "timeline", Name: "line_changes_total",
			Help: "Active line changes reported",
		}),
	}

	reg.MustRegister(
		m.CacheHitsTotal, m.CacheMissesTotal, m.CacheEvictionsTotal, m.CacheSizeBytes, m.CacheEntries,
		m.SearchesTotal, m.CandidatesTotal, m.ResolutionsTotal, m.SearchDuration,
		m.TimerWakeupsTotal, m.LineChangesTotal,
	)
	return m
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHitsTotal.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMissesTotal.Inc()
	}
}

func (m *Metrics) CacheEvicted(n int) {
	if m != nil && n > 0 {
		m.CacheEvictionsTotal.Add(float64(n))
	}
}

func (m *Metrics) CacheUsage(entries int, bytes int64) {
	if m != nil {
		m.CacheEntries.Set(float64(entries))
		m.CacheSizeBytes.Set(float64(bytes))
	}
}

func (m *Metrics) SearchStarted() {
	if m != nil {
		m.SearchesTotal.Inc()
	}
}

func (m *Metrics) SearchFinished(d time.Duration) {
	if m != nil {
		m.SearchDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) Candidate(source string) {
	if m != nil {
		m.CandidatesTotal.WithLabelValues(source).Inc()
	}
}

func (m *Metrics) Resolved(outcome string) {
	if m != nil {
		m.ResolutionsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) TimerWakeup() {
	if m != nil {
		m.TimerWakeupsTotal.Inc()
	}
}

func (m *Metrics) LineChanged() {
	if m != nil {
		m.LineChangesTotal.Inc()
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
