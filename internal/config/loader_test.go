package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/interviewlens/internal/config"
)

func TestValidate_Ranges(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "negative fps",
			yaml:    "analysis:\n  fps: -1\n",
			wantErr: "analysis.fps",
		},
		{
			name:    "blink threshold above one",
			yaml:    "analysis:\n  blink_ear_threshold: 1.5\n",
			wantErr: "blink_ear_threshold",
		},
		{
			name:    "speaking threshold negative",
			yaml:    "analysis:\n  speaking_lip_threshold: -0.1\n",
			wantErr: "speaking_lip_threshold",
		},
		{
			name:    "gaze angle too wide",
			yaml:    "analysis:\n  gaze_angle_threshold: 120\n",
			wantErr: "gaze_angle_threshold",
		},
		{
			name:    "confidence above 100",
			yaml:    "analysis:\n  confidence_score: 150\n",
			wantErr: "confidence_score",
		},
		{
			name:    "negative concurrency",
			yaml:    "analysis:\n  max_concurrent: -2\n",
			wantErr: "max_concurrent",
		},
		{
			name:    "temperature too high",
			yaml:    "feedback:\n  temperature: 3\n",
			wantErr: "feedback.temperature",
		},
		{
			name:    "negative upload limit",
			yaml:    "server:\n  max_upload_mb: -5\n",
			wantErr: "max_upload_mb",
		},
		{
			name:    "listen address without port",
			yaml:    "server:\n  listen_addr: localhost\n",
			wantErr: "listen_addr",
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: /etc/cert.pem\n",
			wantErr: "server.tls",
		},
		{
			name:    "embedding column too wide",
			yaml:    "storage:\n  embedding_dimensions: 20000\n",
			wantErr: "storage.embedding_dimensions",
		},
		{
			name:    "fallback without name",
			yaml:    "providers:\n  stt_fallbacks:\n    - model: base\n",
			wantErr: "stt_fallbacks[0].name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error mentioning %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
analysis:
  gaze_angle_threshold: 100
feedback:
  max_tokens: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"log_level", "gaze_angle_threshold", "max_tokens"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestLoadFromReader_HostPortEnv(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9000")

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, "127.0.0.1:9000")
	}
}

func TestLoadFromReader_PortEnvKeepsHost(t *testing.T) {
	t.Setenv("HOST", "")
	t.Setenv("PORT", "8123")

	cfg, err := config.LoadFromReader(strings.NewReader("server:\n  listen_addr: \"10.0.0.5:7000\"\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != "10.0.0.5:8123" {
		t.Errorf("listen_addr: got %q, want %q", cfg.Server.ListenAddr, "10.0.0.5:8123")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "interviewlens.yaml")
	if err := os.WriteFile(path, []byte("server:\n  log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level: got %q, want debug", cfg.Server.LogLevel)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "config: open") {
		t.Errorf("unexpected error: %v", err)
	}
}
