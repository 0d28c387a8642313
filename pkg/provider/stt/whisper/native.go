// This file contains the NativeProvider implementation backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a)
// and headers (whisper.h) must be available at link time via LIBRARY_PATH
// and C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/interviewlens/pkg/audio/wavfile"
	"github.com/MrWong99/interviewlens/pkg/provider/stt"
)

// Compile-time assertion that NativeProvider satisfies stt.Provider.
var _ stt.Provider = (*NativeProvider)(nil)

// NativeProvider implements stt.Provider using whisper.cpp Go bindings
// (CGO). The model is loaded once at startup and shared across calls; every
// call gets its own whisper context.
type NativeProvider struct {
	model      whisperlib.Model
	language   string
	silenceRMS float64

	// slots bounds the number of concurrent inferences. whisper.cpp already
	// uses all cores for a single clip.
	slots chan struct{}
}

// NativeOption is a functional option for configuring a NativeProvider.
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativeSilenceThreshold sets the RMS energy below which a clip is
// rejected as silent. Defaults to 300.
func WithNativeSilenceThreshold(rms float64) NativeOption {
	return func(p *NativeProvider) { p.silenceRMS = rms }
}

// WithNativeConcurrency sets how many clips may be transcribed at once.
// Defaults to 1.
func WithNativeConcurrency(n int) NativeOption {
	return func(p *NativeProvider) {
		if n > 0 {
			p.slots = make(chan struct{}, n)
		}
	}
}

// NewNative creates a NativeProvider that loads the whisper.cpp model from
// the given file path. The caller must call Close when the provider is no
// longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	p := &NativeProvider{
		model:      model,
		language:   defaultLanguage,
		silenceRMS: defaultRMSThreshold,
		slots:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the whisper model.
func (p *NativeProvider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe loads the clip, resamples it to the rate whisper.cpp expects,
// and runs in-process inference. Inference cannot be interrupted; when ctx
// ends first the call returns ctx.Err() and the result is discarded.
func (p *NativeProvider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	pcm, err := wavfile.Load(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: %w", err)
	}
	if pcm.RMS() < p.silenceRMS {
		return nil, fmt.Errorf("whisper: clip is silent: %w", stt.ErrNoSpeech)
	}
	samples := pcm.Resample(defaultSampleRate).Float32()

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	// whisper.cpp takes the bare language code.
	lang, _, _ = strings.Cut(lang, "-")

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		defer func() { <-p.slots }()
		text, err := p.infer(samples, lang)
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if r.text == "" {
			return nil, fmt.Errorf("whisper: empty result: %w", stt.ErrNoSpeech)
		}
		return &stt.Transcript{
			Text:     r.text,
			Duration: pcm.Duration(),
			Engine:   "whisper-native",
		}, nil
	}
}

// infer runs whisper.cpp inference using a fresh context and returns the
// concatenated segment text.
func (p *NativeProvider) infer(samples []float32, language string) (string, error) {
	start := time.Now()

	// Contexts are not thread-safe; the model can be shared.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", language, "err", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	slog.Debug("whisper native inference done",
		"segments", len(parts),
		"elapsed", time.Since(start),
	)
	return strings.Join(parts, " "), nil
}
