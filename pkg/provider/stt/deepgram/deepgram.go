// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// A recorded clip is streamed to Deepgram in fixed-size chunks, followed by a
// CloseStream message. Deepgram flushes its final results and closes the
// socket; the final segments are joined into one Transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/interviewlens/pkg/audio/wavfile"
	"github.com/MrWong99/interviewlens/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
	defaultTimeout    = 120 * time.Second

	// chunkBytes is 250 ms of 16 kHz 16-bit mono audio per binary frame.
	chunkBytes = 8000
)

// Compile-time assertion that Provider implements stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the sample rate assumed when a request does not carry one.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the WebSocket endpoint. Used by tests and
// self-hosted Deepgram deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithTimeout bounds a whole transcription round trip. Defaults to 120 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
	timeout    time.Duration
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
		timeout:    defaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams the clip at req.AudioPath to Deepgram and returns the
// concatenated final transcript.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Transcript, error) {
	pcm, err := wavfile.Load(req.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	if req.SampleRate == 0 {
		req.SampleRate = pcm.SampleRate
	}

	wsURL, err := p.buildURL(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	var finals []result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for _, chunk := range pcm.Chunks(chunkBytes) {
			if err := conn.Write(gctx, websocket.MessageBinary, chunk); err != nil {
				return fmt.Errorf("deepgram: send audio: %w", err)
			}
		}
		if err := conn.Write(gctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
			return fmt.Errorf("deepgram: close stream: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		finals, err = readFinals(gctx, conn)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	t := merge(finals)
	if t.Text == "" {
		return nil, fmt.Errorf("deepgram: empty result: %w", stt.ErrNoSpeech)
	}
	t.Duration = pcm.Duration()
	return t, nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given request.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	sr := req.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")

	keyterms := usesKeyterms(p.model)
	for _, kw := range req.Keywords {
		if keyterms {
			q.Add("keyterm", kw.Keyword)
			continue
		}
		// Deepgram keyword format: word:boost (e.g., "Kubernetes:5")
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// usesKeyterms reports whether model takes vocabulary as "keyterm" prompts.
// Nova-3 and Flux reject the older "keywords" boosts.
func usesKeyterms(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "nova-3") || strings.HasPrefix(m, "flux")
}

// ---- responses ----

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// result is one parsed Results message.
type result struct {
	Text       string
	IsFinal    bool
	Confidence float64
	Words      []stt.WordDetail
}

// readFinals reads until Deepgram closes the socket and returns every final
// result in arrival order.
func readFinals(ctx context.Context, conn *websocket.Conn) ([]result, error) {
	var finals []result
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return finals, nil
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}
		r, ok := parseDeepgramResponse(msg)
		if !ok || !r.IsFinal {
			continue
		}
		finals = append(finals, r)
	}
}

// merge joins final segments into one Transcript. Confidence is the mean over
// non-empty segments.
func merge(finals []result) *stt.Transcript {
	t := &stt.Transcript{Engine: "deepgram"}
	var (
		parts []string
		conf  float64
	)
	for _, r := range finals {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		conf += r.Confidence
		t.Words = append(t.Words, r.Words...)
	}
	if len(parts) > 0 {
		t.Text = strings.Join(parts, " ")
		t.Confidence = conf / float64(len(parts))
	}
	return t
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message.
// Returns (result, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" {
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.WordDetail{
			Word:       w.Word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}

	return result{
		Text:       alt.Transcript,
		IsFinal:    resp.IsFinal,
		Confidence: alt.Confidence,
		Words:      words,
	}, true
}
