// Package app wires the interviewlens subsystems into a running HTTP service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the API until its context is done, and Shutdown
// drains in-flight requests and tears everything down in order.
//
// For testing, inject fakes via functional options (WithStore, WithMedia,
// WithListener, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/interviewlens/internal/analysis"
	"github.com/MrWong99/interviewlens/internal/coach"
	"github.com/MrWong99/interviewlens/internal/config"
	"github.com/MrWong99/interviewlens/internal/health"
	"github.com/MrWong99/interviewlens/internal/interview"
	"github.com/MrWong99/interviewlens/internal/media"
	"github.com/MrWong99/interviewlens/internal/observe"
	"github.com/MrWong99/interviewlens/internal/resilience"
	"github.com/MrWong99/interviewlens/internal/server"
	"github.com/MrWong99/interviewlens/internal/store"
	"github.com/MrWong99/interviewlens/pkg/provider/embeddings"
	"github.com/MrWong99/interviewlens/pkg/provider/llm"
	"github.com/MrWong99/interviewlens/pkg/provider/stt"
	"github.com/MrWong99/interviewlens/pkg/vision"
)

// ErrNoVision is reported as the video analysis error when no vision
// provider is configured.
var ErrNoVision = errors.New("no vision provider configured")

// Named pairs a provider with the name it was registered under.
type Named[T any] struct {
	Name     string
	Provider T
}

// Providers holds the instantiated providers. Populated by main.go via the
// config registry. Empty slices and nil values mean "not configured".
type Providers struct {
	// STT lists speech recognisers in the order they are tried.
	STT []Named[stt.Provider]

	// LLM lists coaching models in the order they are tried.
	LLM []Named[llm.Provider]

	Embeddings embeddings.Provider
	Vision     vision.Provider
}

// MediaTool extracts audio, probes videos and reports whether the tools are
// installed. Satisfied by [media.Extractor].
type MediaTool interface {
	interview.AudioExtractor
	analysis.Prober
	Check(ctx context.Context) error
}

// pinger is implemented by vision providers that can report reachability.
type pinger interface {
	Ping(ctx context.Context) error
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	store    store.Store
	media    MediaTool
	analyzer *analysis.Analyzer
	pipeline *interview.Pipeline
	sttChain *resilience.STTFallback
	health   *health.Handler
	server   *server.Server
	httpSrv  *http.Server
	listener net.Listener

	metrics  *observe.Metrics
	metricsH http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects an analysis store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMedia injects the ffmpeg tooling instead of creating a [media.Extractor].
func WithMedia(m MediaTool) Option {
	return func(a *App) { a.media = m }
}

// WithListener makes Run serve on l instead of listening on
// server.listen_addr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// WithMetrics sets the metrics sink shared by all subsystems. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler mounts h at /metrics when telemetry.metrics is enabled.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsH = h }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New connects to the database (when configured) and builds the pipeline
// synchronously; it does not start listening.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Media tooling ─────────────────────────────────────────────────
	if a.media == nil {
		a.media = media.New(
			media.WithFFmpegPath(cfg.Media.FFmpegPath),
			media.WithFFprobePath(cfg.Media.FFprobePath),
			media.WithTimeout(cfg.Media.Timeout),
		)
	}

	// ── 3. Pipeline ──────────────────────────────────────────────────────
	a.initPipeline()

	// ── 4. Health + HTTP ─────────────────────────────────────────────────
	a.health = health.New(a.checkers()...)
	a.health.CacheTTL = 2 * time.Second
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens PostgreSQL when a DSN is configured and falls back to an
// in-memory store otherwise.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		dsn := a.cfg.Storage.PostgresDSN
		if dsn == "" {
			slog.Warn("storage.postgres_dsn is empty; analyses are kept in memory and lost on restart")
			a.store = store.NewMemStore()
		} else {
			st, err := store.Open(ctx, dsn, a.cfg.Storage.EmbeddingDimensions)
			if err != nil {
				return err
			}
			a.store = st
			slog.Info("connected to postgres", "embedding_dimensions", a.cfg.Storage.EmbeddingDimensions)
		}
	}

	st := a.store
	a.closers = append(a.closers, func() error {
		st.Close()
		return nil
	})
	return nil
}

// initPipeline builds the STT chain, the analyzer, the coach and the pipeline.
func (a *App) initPipeline() {
	var analyzer interview.VideoAnalyzer = unavailableAnalyzer{}
	if a.providers.Vision != nil {
		th := a.cfg.Analysis.Thresholds()
		a.analyzer = analysis.New(a.providers.Vision,
			analysis.WithProber(a.media),
			analysis.WithFPS(a.cfg.Analysis.FPS),
			analysis.WithConfidenceScore(a.cfg.Analysis.ConfidenceScore),
			analysis.WithThresholds(analysis.Thresholds{
				BlinkEAR:    th.BlinkEAR,
				SpeakingLip: th.SpeakingLip,
				GazeAngle:   th.GazeAngle,
			}),
			analysis.WithMetrics(a.metrics),
		)
		analyzer = a.analyzer
	}

	opts := []interview.Option{
		interview.WithLanguage(a.cfg.Providers.STT.Language),
		interview.WithWorkDir(a.cfg.Media.WorkDir),
		interview.WithMaxConcurrent(a.cfg.Analysis.MaxConcurrent),
		interview.WithMetrics(a.metrics),
	}
	if emb := a.providers.Embeddings; emb != nil {
		if want := a.cfg.Storage.EmbeddingDimensions; a.cfg.Storage.PostgresDSN != "" && emb.Dimensions() != want {
			slog.Warn("embedding width does not match storage.embedding_dimensions; answers are stored without vectors",
				"model", emb.ModelID(), "dimensions", emb.Dimensions(), "storage_dimensions", want)
		} else {
			opts = append(opts, interview.WithEmbedder(emb))
		}
	}
	if a.cfg.Feedback.Enabled {
		if p := a.llm(); p != nil {
			copts := []coach.Option{
				coach.WithTemperature(a.cfg.Feedback.Temperature),
				coach.WithMetrics(a.metrics),
			}
			if a.cfg.Feedback.MaxTokens > 0 {
				copts = append(copts, coach.WithMaxTokens(a.cfg.Feedback.MaxTokens))
			}
			opts = append(opts, interview.WithEvaluator(coach.New(p, copts...)))
		}
	}

	a.pipeline = interview.New(a.store, a.media, a.stt(), analyzer, opts...)
}

// stt chains the configured recognisers behind per-engine circuit breakers.
// Returns nil when none is configured.
func (a *App) stt() stt.Provider {
	engines := a.providers.STT
	if len(engines) == 0 {
		return nil
	}
	fb := resilience.NewSTTFallback(engines[0].Provider, engines[0].Name, a.fallbackConfig("stt"))
	for _, e := range engines[1:] {
		fb.AddFallback(e.Name, e.Provider)
	}
	slog.Info("speech recognition chain", "engines", fb.Names())
	a.sttChain = fb
	return fb
}

// llm chains the configured models. Returns nil when none is configured.
func (a *App) llm() llm.Provider {
	models := a.providers.LLM
	if len(models) == 0 {
		return nil
	}
	if len(models) == 1 {
		return models[0].Provider
	}
	fb := resilience.NewLLMFallback(models[0].Provider, models[0].Name, a.fallbackConfig("llm"))
	for _, m := range models[1:] {
		fb.AddFallback(m.Name, m.Provider)
	}
	return fb
}

func (a *App) fallbackConfig(kind string) resilience.FallbackConfig {
	m := a.metrics
	return resilience.FallbackConfig{
		Kind:    kind,
		Metrics: m,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, kind, to.String())
			},
		},
	}
}

// checkers builds the dependency checks reported by /health and /readyz.
func (a *App) checkers() []health.Checker {
	chain := a.sttChain
	vp := a.providers.Vision
	return []health.Checker{
		{Name: "ffmpeg", Check: a.media.Check},
		{Name: "speech_recognition", Optional: true, Check: func(context.Context) error {
			if chain == nil {
				return errors.New("no speech recognition engine configured")
			}
			if !chain.Available() {
				return fmt.Errorf("all engines are cooling down: %v", chain.States())
			}
			return nil
		}},
		{Name: "analysis_module", Optional: true, Check: func(ctx context.Context) error {
			if vp == nil {
				return ErrNoVision
			}
			if p, ok := vp.(pinger); ok {
				return p.Ping(ctx)
			}
			return nil
		}},
		{Name: "store", Check: a.store.Ping},
	}
}

func (a *App) initServer() {
	opts := []server.Option{
		server.WithCORSOrigins(a.cfg.Server.CORSOrigins...),
		server.WithMaxUploadMB(a.cfg.Server.MaxUploadMB),
		server.WithMetrics(a.metrics),
	}
	if a.cfg.Telemetry.Metrics && a.metricsH != nil {
		opts = append(opts, server.WithMetricsHandler(a.metricsH))
	}
	a.server = server.New(a.pipeline, a.store, a.health, opts...)

	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails. When ctx is done, Run returns ctx.Err(); callers then invoke
// [App.Shutdown] to drain in-flight requests.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.httpSrv.Addr)
		if err != nil {
			return fmt.Errorf("app: listen on %s: %w", a.httpSrv.Addr, err)
		}
	}

	tlsCfg := a.cfg.Server.TLS
	if tlsCfg != nil {
		cert, err := tls.LoadX509KeyPair(tlsCfg.CertFile, tlsCfg.KeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("app: load tls key pair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.httpSrv.Serve(ln)
	}()

	slog.Info("app running", "addr", ln.Addr().String(), "tls", tlsCfg != nil)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Handler returns the HTTP handler served by Run.
func (a *App) Handler() http.Handler {
	return a.httpSrv.Handler
}

// ApplyThresholds swaps the per-frame classifier thresholds for subsequent
// analyses. It is a no-op when no vision provider is configured.
func (a *App) ApplyThresholds(t config.ThresholdValues) {
	if a.analyzer == nil {
		return
	}
	a.analyzer.SetThresholds(analysis.Thresholds{
		BlinkEAR:    t.BlinkEAR,
		SpeakingLip: t.SpeakingLip,
		GazeAngle:   t.GazeAngle,
	})
	slog.Info("analysis thresholds updated",
		"blink_ear", t.BlinkEAR,
		"speaking_lip", t.SpeakingLip,
		"gaze_angle", t.GazeAngle,
	)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting requests, waits for in-flight ones until ctx is
// done, and then runs the closers in order. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// AddCloser registers fn to run during Shutdown after the built-in closers.
func (a *App) AddCloser(fn func() error) {
	a.closers = append(a.closers, fn)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// unavailableAnalyzer stands in for the video analyzer when no vision
// provider is configured.
type unavailableAnalyzer struct{}

func (unavailableAnalyzer) Analyze(context.Context, string) (*analysis.Report, error) {
	return nil, fmt.Errorf("analysis: %w", ErrNoVision)
}
