package deepgram

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/interviewlens/pkg/provider/stt"
)

// ---- URL / query-param tests ----

func TestBuildURL_Defaults(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.Request{SampleRate: 16000, Language: "en"})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse URL: %v", err)
	}
	q := u.Query()

	assertEqual(t, "model", "nova-3", q.Get("model"))
	assertEqual(t, "language", "en", q.Get("language"))
	assertEqual(t, "punctuate", "true", q.Get("punctuate"))
	assertEqual(t, "encoding", "linear16", q.Get("encoding"))
	assertEqual(t, "sample_rate", "16000", q.Get("sample_rate"))
	assertEqual(t, "channels", "1", q.Get("channels"))
}

func TestBuildURL_CustomModel(t *testing.T) {
	p, err := New("key", WithModel("base"), WithLanguage("de-DE"), WithSampleRate(48000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.Request{})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	q := u.Query()

	assertEqual(t, "model", "base", q.Get("model"))
	assertEqual(t, "language", "de-DE", q.Get("language"))
	assertEqual(t, "sample_rate", "48000", q.Get("sample_rate"))
}

func TestBuildURL_LanguageOverriddenByRequest(t *testing.T) {
	p, err := New("key", WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rawURL, err := p.buildURL(stt.Request{Language: "fr-FR", SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}

	u, _ := url.Parse(rawURL)
	assertEqual(t, "language", "fr-FR", u.Query().Get("language"))
}

func TestBuildURL_Keywords(t *testing.T) {
	boosts := []stt.KeywordBoost{
		{Keyword: "Kubernetes", Boost: 5},
		{Keyword: "Terraform", Boost: 3.5},
	}
	tests := []struct {
		model     string
		param     string
		want      []string
		forbidden string
	}{
		{model: "nova-3", param: "keyterm", want: []string{"Kubernetes", "Terraform"}, forbidden: "keywords"},
		{model: "nova-3-medical", param: "keyterm", want: []string{"Kubernetes", "Terraform"}, forbidden: "keywords"},
		{model: "nova-2", param: "keywords", want: []string{"Kubernetes:5", "Terraform:3.5"}, forbidden: "keyterm"},
		{model: "base", param: "keywords", want: []string{"Kubernetes:5", "Terraform:3.5"}, forbidden: "keyterm"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p, err := New("key", WithModel(tt.model))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			rawURL, err := p.buildURL(stt.Request{SampleRate: 16000, Keywords: boosts})
			if err != nil {
				t.Fatalf("buildURL: %v", err)
			}

			u, _ := url.Parse(rawURL)
			q := u.Query()
			got := q[tt.param]
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("%s = %v, want %v", tt.param, got, tt.want)
			}
			if v, ok := q[tt.forbidden]; ok {
				t.Errorf("unexpected %s param: %v", tt.forbidden, v)
			}
		})
	}
}

func TestBuildURL_NoKeywords(t *testing.T) {
	p, _ := New("key")
	rawURL, err := p.buildURL(stt.Request{SampleRate: 16000})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(rawURL)
	for _, param := range []string{"keywords", "keyterm"} {
		if _, ok := u.Query()[param]; ok {
			t.Errorf("expected no %q param when none provided", param)
		}
	}
}

// ---- JSON parsing tests ----

func TestParseDeepgramResponse_Final(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"channel": {
			"alternatives": [{
				"transcript": "Hello world",
				"confidence": 0.95,
				"words": [
					{"word": "Hello", "start": 0.1, "end": 0.5, "confidence": 0.97},
					{"word": "world", "start": 0.6, "end": 1.0, "confidence": 0.93}
				]
			}]
		}
	}`)

	r, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true for valid Results message")
	}
	if !r.IsFinal {
		t.Error("expected IsFinal=true")
	}
	assertEqual(t, "text", "Hello world", r.Text)
	if r.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", r.Confidence)
	}
	if len(r.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(r.Words))
	}
	assertEqual(t, "word[0]", "Hello", r.Words[0].Word)
	if r.Words[0].Start != time.Duration(0.1*float64(time.Second)) {
		t.Errorf("unexpected start: %v", r.Words[0].Start)
	}
}

func TestParseDeepgramResponse_Interim(t *testing.T) {
	raw := []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"Hello","confidence":0.7,"words":[]}]}}`)
	r, ok := parseDeepgramResponse(raw)
	if !ok {
		t.Fatal("expected ok=true")
	}
	if r.IsFinal {
		t.Error("expected IsFinal=false for interim result")
	}
}

func TestParseDeepgramResponse_Ignored(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"metadata", `{"type":"Metadata","request_id":"abc"}`},
		{"empty alternatives", `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`},
		{"invalid json", `{invalid`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := parseDeepgramResponse([]byte(tc.raw)); ok {
				t.Error("expected ok=false")
			}
		})
	}
}

func TestMerge(t *testing.T) {
	got := merge([]result{
		{Text: "I built", Confidence: 0.8, IsFinal: true},
		{Text: "  ", Confidence: 0.1, IsFinal: true},
		{Text: "the pipeline.", Confidence: 0.6, IsFinal: true},
	})
	assertEqual(t, "text", "I built the pipeline.", got.Text)
	if got.Confidence < 0.69 || got.Confidence > 0.71 {
		t.Errorf("confidence = %v, want 0.7", got.Confidence)
	}
	assertEqual(t, "engine", "deepgram", got.Engine)

	if empty := merge(nil); empty.Text != "" || empty.Confidence != 0 {
		t.Errorf("merge(nil) = %+v", empty)
	}
}

// ---- Transcribe against a fake Deepgram ----

// fakeDeepgram accepts a websocket, counts audio bytes until CloseStream,
// replies with the given messages and closes normally.
func fakeDeepgram(t *testing.T, replies []string, audioBytes *atomic.Int64, authHeader *atomic.Value) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authHeader != nil {
			authHeader.Store(r.Header.Get("Authorization"))
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			typ, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				audioBytes.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}
		for _, reply := range replies {
			if err := conn.Write(ctx, websocket.MessageText, []byte(reply)); err != nil {
				return
			}
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeClip(t *testing.T, samples int) string {
	t.Helper()
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(i%2000-1000)))
	}
	hdr := make([]byte, 44)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+len(pcm)))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1)
	binary.LittleEndian.PutUint16(hdr[22:24], 1)
	binary.LittleEndian.PutUint32(hdr[24:28], 16000)
	binary.LittleEndian.PutUint32(hdr[28:32], 32000)
	binary.LittleEndian.PutUint16(hdr[32:34], 2)
	binary.LittleEndian.PutUint16(hdr[34:36], 16)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(pcm)))

	path := filepath.Join(t.TempDir(), "answer.wav")
	if err := os.WriteFile(path, append(hdr, pcm...), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestTranscribe_CollectsFinals(t *testing.T) {
	var audio atomic.Int64
	var auth atomic.Value
	srv := fakeDeepgram(t, []string{
		`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"I le","confidence":0.4}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"I led the team","confidence":0.9}]}}`,
		`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"through the outage.","confidence":0.7}]}}`,
		`{"type":"Metadata","request_id":"r1"}`,
	}, &audio, &auth)

	p, _ := New("secret", WithEndpoint(wsURL(srv)))
	got, err := p.Transcribe(context.Background(), stt.Request{AudioPath: writeClip(t, 16000)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	assertEqual(t, "text", "I led the team through the outage.", got.Text)
	if got.Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", got.Duration)
	}
	if audio.Load() != 32000 {
		t.Errorf("audio bytes = %d, want 32000", audio.Load())
	}
	if h, _ := auth.Load().(string); h != "Token secret" {
		t.Errorf("Authorization = %q", h)
	}
}

func TestTranscribe_NoFinalsIsNoSpeech(t *testing.T) {
	var audio atomic.Int64
	srv := fakeDeepgram(t, []string{`{"type":"Metadata"}`}, &audio, nil)

	p, _ := New("k", WithEndpoint(wsURL(srv)))
	_, err := p.Transcribe(context.Background(), stt.Request{AudioPath: writeClip(t, 1600)})
	if !errors.Is(err, stt.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

func TestTranscribe_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("bad", WithEndpoint(wsURL(srv)))
	_, err := p.Transcribe(context.Background(), stt.Request{AudioPath: writeClip(t, 1600)})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if errors.Is(err, stt.ErrNoSpeech) {
		t.Error("dial failure must not be ErrNoSpeech")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	assertEqual(t, "model", defaultModel, p.model)
	assertEqual(t, "language", defaultLanguage, p.language)
	assertEqual(t, "endpoint", deepgramEndpoint, p.endpoint)
	if p.sampleRate != defaultSampleRate {
		t.Errorf("expected sampleRate %d, got %d", defaultSampleRate, p.sampleRate)
	}
	if p.timeout != defaultTimeout {
		t.Errorf("expected timeout %v, got %v", defaultTimeout, p.timeout)
	}
}

// ---- helpers ----

func assertEqual(t *testing.T, label, want, got string) {
	t.Helper()
	if want != got {
		t.Errorf("%s: want %q, got %q", label, want, got)
	}
}
