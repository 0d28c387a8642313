// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (Whisper and the gpt-4o transcribe models).
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/interviewlens/pkg/audio/wavfile"
	"github.com/MrWong99/interviewlens/pkg/provider/stt"
)

const defaultModel = oai.AudioModelWhisper1

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client   oai.Client
	model    oai.AudioModel
	language string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	model        string
	language     string
	timeout      time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Any server exposing
// the /audio/transcriptions route works (e.g., a local faster-whisper proxy).
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithModel selects the transcription model. Defaults to "whisper-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithLanguage sets the ISO-639-1 language hint. Empty lets the API detect it.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New constructs a new OpenAI STT Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	model := defaultModel
	if cfg.model != "" {
		model = oai.AudioModel(cfg.model)
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Transcribe uploads the clip and returns the recognised text. Keywords are
// passed to the model as a prompt to bias spelling of domain terms.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	pcm, err := wavfile.Load(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	f, err := os.Open(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("openai: open audio: %w", err)
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{
		File:  f,
		Model: p.model,
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		// The API takes ISO-639-1 only; drop any region suffix.
		lang, _, _ = strings.Cut(lang, "-")
		params.Language = oai.String(lang)
	}
	if prompt := keywordPrompt(req.Keywords); prompt != "" {
		params.Prompt = oai.String(prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, fmt.Errorf("openai: empty result: %w", stt.ErrNoSpeech)
	}
	return &stt.Transcript{
		Text:     text,
		Duration: pcm.Duration(),
		Engine:   "openai",
	}, nil
}

// keywordPrompt renders keyword hints as a comma-separated vocabulary list.
func keywordPrompt(keywords []stt.KeywordBoost) string {
	if len(keywords) == 0 {
		return ""
	}
	words := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw.Keyword != "" {
			words = append(words, kw.Keyword)
		}
	}
	return strings.Join(words, ", ")
}
