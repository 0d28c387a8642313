package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"openai", "deepgram", "whisper", "whisper-native"},
	"embeddings": {"openai", "ollama"},
	"vision":     {"sidecar"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and the
// HOST/PORT environment overrides, and validates the result. An empty
// document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := applyEnv(cfg, os.Getenv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config with every default applied, as if loaded from an
// empty file.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-valued fields of cfg with their defaults.
// analysis.fps is left alone: zero means "use the probed frame rate".
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{DefaultCORSOrigin}
	}
	if s.MaxUploadMB == 0 {
		s.MaxUploadMB = DefaultMaxUploadMB
	}

	m := &cfg.Media
	if m.FFmpegPath == "" {
		m.FFmpegPath = "ffmpeg"
	}
	if m.FFprobePath == "" {
		m.FFprobePath = "ffprobe"
	}
	if m.Timeout == 0 {
		m.Timeout = DefaultMediaTimeout
	}

	a := &cfg.Analysis
	if a.BlinkEAR == 0 {
		a.BlinkEAR = DefaultBlinkEAR
	}
	if a.SpeakingLip == 0 {
		a.SpeakingLip = DefaultSpeakingLip
	}
	if a.GazeAngle == 0 {
		a.GazeAngle = DefaultGazeAngle
	}
	if a.ConfidenceScore == 0 {
		a.ConfidenceScore = DefaultConfidenceScore
	}
	if a.MaxConcurrent == 0 {
		a.MaxConcurrent = DefaultMaxConcurrent
	}

	if cfg.Providers.STT.Language == "" {
		cfg.Providers.STT.Language = DefaultLanguage
	}
	for i := range cfg.Providers.STTFallbacks {
		if cfg.Providers.STTFallbacks[i].Language == "" {
			cfg.Providers.STTFallbacks[i].Language = cfg.Providers.STT.Language
		}
	}

	if cfg.Storage.EmbeddingDimensions == 0 {
		cfg.Storage.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// applyEnv overrides the host and port of server.listen_addr with HOST and
// PORT when set.
func applyEnv(cfg *Config, getenv func(string) string) error {
	host, port := getenv("HOST"), getenv("PORT")
	if host == "" && port == "" {
		return nil
	}
	curHost, curPort, err := net.SplitHostPort(cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("config: server.listen_addr %q: %w", cfg.Server.ListenAddr, err)
	}
	if host != "" {
		curHost = host
	}
	if port != "" {
		curPort = port
	}
	cfg.Server.ListenAddr = net.JoinHostPort(curHost, curPort)
	return nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.ListenAddr); err != nil {
			errs = append(errs, fmt.Errorf("server.listen_addr %q is invalid: %w", cfg.Server.ListenAddr, err))
		}
	}
	if cfg.Server.MaxUploadMB < 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb %d must not be negative", cfg.Server.MaxUploadMB))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Unknown provider names only warn.
	validateProviderName("stt", cfg.Providers.STT.Name)
	for _, fb := range cfg.Providers.STTFallbacks {
		validateProviderName("stt", fb.Name)
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for _, fb := range cfg.Providers.LLMFallbacks {
		validateProviderName("llm", fb.Name)
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("vision", cfg.Providers.Vision.Name)

	for i, fb := range cfg.Providers.STTFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
	}
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
	}
	if cfg.Providers.STT.Name == "" && len(cfg.Providers.STTFallbacks) == 0 {
		slog.Warn("no STT provider configured; every transcription will report that the audio could not be understood")
	}
	if cfg.Providers.Vision.Name == "" {
		slog.Warn("no vision provider configured; video analysis will report an error for every upload")
	}

	// Analysis
	a := cfg.Analysis
	if a.FPS < 0 {
		errs = append(errs, fmt.Errorf("analysis.fps %.2f must not be negative", a.FPS))
	}
	if a.BlinkEAR < 0 || a.BlinkEAR > 1 {
		errs = append(errs, fmt.Errorf("analysis.blink_ear_threshold %.3f is out of range [0, 1]", a.BlinkEAR))
	}
	if a.SpeakingLip < 0 || a.SpeakingLip > 1 {
		errs = append(errs, fmt.Errorf("analysis.speaking_lip_threshold %.3f is out of range [0, 1]", a.SpeakingLip))
	}
	if a.GazeAngle < 0 || a.GazeAngle > 90 {
		errs = append(errs, fmt.Errorf("analysis.gaze_angle_threshold %.2f is out of range [0, 90]", a.GazeAngle))
	}
	if a.ConfidenceScore < 0 || a.ConfidenceScore > 100 {
		errs = append(errs, fmt.Errorf("analysis.confidence_score %.2f is out of range [0, 100]", a.ConfidenceScore))
	}
	if a.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("analysis.max_concurrent %d must not be negative", a.MaxConcurrent))
	}

	// Media
	if cfg.Media.Timeout < 0 {
		errs = append(errs, fmt.Errorf("media.timeout %s must not be negative", cfg.Media.Timeout))
	}

	// Feedback
	if cfg.Feedback.Temperature < 0 || cfg.Feedback.Temperature > 2 {
		errs = append(errs, fmt.Errorf("feedback.temperature %.2f is out of range [0, 2]", cfg.Feedback.Temperature))
	}
	if cfg.Feedback.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("feedback.max_tokens %d must not be negative", cfg.Feedback.MaxTokens))
	}
	if cfg.Feedback.Enabled && cfg.Providers.LLM.Name == "" && len(cfg.Providers.LLMFallbacks) == 0 {
		slog.Warn("feedback.enabled is set but providers.llm is not configured; coaching feedback is disabled")
	}

	// Storage
	if d := cfg.Storage.EmbeddingDimensions; d < 0 || d > MaxEmbeddingDimensions {
		errs = append(errs, fmt.Errorf("storage.embedding_dimensions %d must be between 1 and %d", d, MaxEmbeddingDimensions))
	}
	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.PostgresDSN == "" {
		slog.Warn("providers.embeddings is configured but storage.postgres_dsn is empty; similarity search uses the in-memory store")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
