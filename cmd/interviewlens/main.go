// Command interviewlens is the main entry point for the interview analysis API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/interviewlens/internal/app"
	"github.com/MrWong99/interviewlens/internal/config"
	"github.com/MrWong99/interviewlens/internal/observe"
	"github.com/MrWong99/interviewlens/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/interviewlens/pkg/provider/embeddings/openai"
	"github.com/MrWong99/interviewlens/pkg/provider/llm"
	"github.com/MrWong99/interviewlens/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/interviewlens/pkg/provider/llm/openai"
	"github.com/MrWong99/interviewlens/pkg/provider/stt"
	"github.com/MrWong99/interviewlens/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/interviewlens/pkg/provider/stt/openai"
	"github.com/MrWong99/interviewlens/pkg/provider/stt/whisper"
	"github.com/MrWong99/interviewlens/pkg/vision"
	"github.com/MrWong99/interviewlens/pkg/vision/sidecar"
)

// ollamaOpenAIPath is the OpenAI-compatible API root of an Ollama server.
const ollamaOpenAIPath = "/v1"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "interviewlens: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "interviewlens: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("interviewlens starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Prometheus:  cfg.Telemetry.Metrics,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, closers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(os.Stdout, cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(observe.DefaultMetrics()),
		app.WithMetricsHandler(telemetry.MetricsHandler),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	for _, c := range closers {
		application.AddCloser(c)
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.ThresholdsChanged {
			application.ApplyThresholds(d.NewThresholds)
		}
		if len(d.Restart) > 0 {
			slog.Warn("config changes require a restart to take effect", "sections", d.Restart)
		}
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		go watcher.Run(ctx)
		go reloadOnHangup(ctx, watcher)
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	code := 0
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return code
}

// reloadOnHangup re-reads the config file on every SIGHUP until ctx is done.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			changed, err := w.Reload(true)
			if err != nil {
				slog.Warn("SIGHUP reload failed, keeping previous config", "err", err)
				continue
			}
			slog.Info("SIGHUP reload", "changed", changed)
		}
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oallm.WithTimeout(entry.Timeout))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// openai itself keeps the native SDK above for its JSON response format.
	for _, vendor := range anyllm.Vendors() {
		if vendor == "openai" {
			continue
		}
		reg.RegisterLLM(vendor, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(vendor, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if entry.Language != "" {
			opts = append(opts, oastt.WithLanguage(entry.Language))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oastt.WithTimeout(entry.Timeout))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, deepgram.WithLanguage(entry.Language))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, deepgram.WithTimeout(entry.Timeout))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if entry.Timeout > 0 {
			opts = append(opts, whisper.WithTimeout(entry.Timeout))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if entry.Language != "" {
			opts = append(opts, whisper.WithNativeLanguage(entry.Language))
		}
		if n := optInt(entry.Options, "concurrency"); n > 0 {
			opts = append(opts, whisper.WithNativeConcurrency(n))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if entry.Timeout > 0 {
			opts = append(opts, oaembed.WithTimeout(entry.Timeout))
		}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	// Ollama serves an OpenAI-compatible embeddings route and ignores the key.
	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		base := entry.BaseURL
		if base == "" {
			base = "http://localhost:11434"
		}
		opts := []oaembed.Option{oaembed.WithBaseURL(base + ollamaOpenAIPath)}
		if n := optInt(entry.Options, "dimensions"); n > 0 {
			opts = append(opts, oaembed.WithDimensions(n))
		}
		return oaembed.New("ollama", entry.Model, opts...)
	})

	// ── Vision ────────────────────────────────────────────────────────────────

	reg.RegisterVision("sidecar", func(entry config.ProviderEntry) (vision.Provider, error) {
		var opts []sidecar.Option
		if entry.Timeout > 0 {
			opts = append(opts, sidecar.WithTimeout(entry.Timeout))
		}
		return sidecar.New(entry.BaseURL, opts...)
	})

	slog.Debug("registered providers",
		"stt", reg.Names(config.KindSTT),
		"llm", reg.Names(config.KindLLM),
		"embeddings", reg.Names(config.KindEmbeddings),
		"vision", reg.Names(config.KindVision),
	)
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to consume,
// together with closers for providers that hold resources.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, []func() error, error) {
	if err := reg.Check(&cfg.Providers); err != nil {
		return nil, nil, err
	}
	ps := &app.Providers{}
	var closers []func() error
	track := func(p any) {
		if c, ok := p.(io.Closer); ok {
			closers = append(closers, c.Close)
		}
	}

	sttEntries := cfg.Providers.STTFallbacks
	if cfg.Providers.STT.Name != "" {
		sttEntries = append([]config.ProviderEntry{cfg.Providers.STT}, sttEntries...)
	}
	for _, entry := range sttEntries {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		track(p)
		ps.STT = append(ps.STT, app.Named[stt.Provider]{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "stt", "name", entry.Name)
	}

	llmEntries := cfg.Providers.LLMFallbacks
	if cfg.Providers.LLM.Name != "" {
		llmEntries = append([]config.ProviderEntry{cfg.Providers.LLM}, llmEntries...)
	}
	for _, entry := range llmEntries {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		ps.LLM = append(ps.LLM, app.Named[llm.Provider]{Name: entry.Name, Provider: p})
		slog.Info("provider created", "kind", "llm", "name", entry.Name)
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", entry.Name)
	}

	if entry := cfg.Providers.Vision; entry.Name != "" {
		p, err := reg.CreateVision(entry)
		if err != nil {
			return nil, closers, fmt.Errorf("create vision provider %q: %w", entry.Name, err)
		}
		track(p)
		ps.Vision = p
		slog.Info("provider created", "kind", "vision", "name", entry.Name)
	}

	return ps, closers, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║     interviewlens — startup summary   ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	for _, fb := range cfg.Providers.STTFallbacks {
		printProvider(w, "STT fallback", fb.Name, "")
	}
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider(w, "Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider(w, "Vision", cfg.Providers.Vision.Name, "")
	feedback := "(disabled)"
	if cfg.Feedback.Enabled {
		feedback = "enabled"
	}
	fmt.Fprintf(w, "║  Feedback        : %-19s ║\n", feedback)
	storage := "memory"
	if cfg.Storage.PostgresDSN != "" {
		storage = "postgres"
	}
	fmt.Fprintf(w, "║  Storage         : %-19s ║\n", storage)
	fmt.Fprintf(w, "║  Max concurrent  : %-19d ║\n", cfg.Analysis.MaxConcurrent)
	fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// whole numbers as int; floats are truncated.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
