// Package config defines the interviewlens configuration schema and loads it
// from YAML.
//
// A config file only needs the sections it wants to change; [ApplyDefaults]
// fills everything else. HOST and PORT from the environment override
// server.listen_addr.
package config

import "time"

// LogLevel controls log verbosity for the interviewlens server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Default values used by [ApplyDefaults].
const (
	DefaultListenAddr          = "0.0.0.0:7860"
	DefaultCORSOrigin          = "http://localhost:3000"
	DefaultMaxUploadMB         = 50
	DefaultMediaTimeout        = 60 * time.Second
	DefaultConfidenceScore     = 85
	DefaultMaxConcurrent       = 2
	DefaultBlinkEAR            = 0.2
	DefaultSpeakingLip         = 0.04
	DefaultGazeAngle           = 15
	DefaultLanguage            = "en-US"
	DefaultEmbeddingDimensions = 1536
	DefaultServiceName         = "interviewlens"
)

// MaxEmbeddingDimensions is the widest pgvector column.
const MaxEmbeddingDimensions = 16000

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Media     MediaConfig     `yaml:"media"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Feedback  FeedbackConfig  `yaml:"feedback"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the API listens on (e.g., "0.0.0.0:7860").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// CORSOrigins lists browser origins allowed to call the API with
	// credentials. "*" allows any origin.
	CORSOrigins []string `yaml:"cors_origins"`

	// MaxUploadMB caps the size of an uploaded video.
	MaxUploadMB int `yaml:"max_upload_mb"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// stage. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// STT is the primary speech recogniser.
	STT ProviderEntry `yaml:"stt"`

	// STTFallbacks are tried in order when the primary fails or hears nothing.
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`

	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary LLM fails.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	Embeddings ProviderEntry `yaml:"embeddings"`

	// Vision is the face landmark detector. Only "sidecar" is built in;
	// BaseURL points at the detector service.
	Vision ProviderEntry `yaml:"vision"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	// For "whisper-native" it is the path to the GGML model file.
	Model string `yaml:"model"`

	// Language is the recognition language for STT providers (e.g., "en-US").
	Language string `yaml:"language"`

	// Timeout bounds a single provider call. Zero uses the provider default.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// MediaConfig locates the ffmpeg tools.
type MediaConfig struct {
	// FFmpegPath defaults to "ffmpeg" on $PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`

	// FFprobePath defaults to "ffprobe" on $PATH.
	FFprobePath string `yaml:"ffprobe_path"`

	// Timeout bounds one ffmpeg or ffprobe invocation.
	Timeout time.Duration `yaml:"timeout"`

	// WorkDir holds the per-request temp directories. Empty uses os.TempDir.
	WorkDir string `yaml:"work_dir"`
}

// AnalysisConfig tunes the video analysis.
type AnalysisConfig struct {
	// FPS is the frame rate for time-based figures. Zero uses the probed rate.
	FPS float64 `yaml:"fps"`

	BlinkEAR    float64 `yaml:"blink_ear_threshold"`
	SpeakingLip float64 `yaml:"speaking_lip_threshold"`
	GazeAngle   float64 `yaml:"gaze_angle_threshold"`

	// ConfidenceScore is the placeholder confidence reported in every summary.
	ConfidenceScore float64 `yaml:"confidence_score"`

	// MaxConcurrent limits how many videos are analysed at once.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// FeedbackConfig controls LLM coaching.
type FeedbackConfig struct {
	// Enabled turns coaching on when an LLM provider is configured.
	Enabled     bool    `yaml:"enabled"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// StorageConfig selects the analysis store.
type StorageConfig struct {
	// PostgresDSN enables the PostgreSQL store. Empty keeps analyses in memory.
	PostgresDSN string `yaml:"postgres_dsn"`

	// EmbeddingDimensions sizes the pgvector column.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// TelemetryConfig controls OpenTelemetry.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// Metrics mounts the Prometheus scrape endpoint at /metrics.
	Metrics bool `yaml:"metrics"`
}
