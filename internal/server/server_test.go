package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/interviewlens/internal/analysis"
	"github.com/MrWong99/interviewlens/internal/health"
	"github.com/MrWong99/interviewlens/internal/interview"
	"github.com/MrWong99/interviewlens/internal/observe"
	"github.com/MrWong99/interviewlens/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

type fakePipeline struct {
	mu    sync.Mutex
	subs  []interview.Submission
	video []byte
	res   *interview.Result
	err   error
}

func (f *fakePipeline) Analyze(_ context.Context, sub interview.Submission) (*interview.Result, error) {
	data, _ := io.ReadAll(sub.Video)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	f.video = data
	if f.err != nil {
		return nil, f.err
	}
	if f.res != nil {
		return f.res, nil
	}
	idx, _ := strconv.Atoi(sub.QuestionIndex)
	return &interview.Result{
		Message:       interview.ResultMessage,
		AnalysisID:    "analysis-1",
		Transcription: "hello",
		VideoAnalysis: analysis.Summary{TotalFrames: 30, DominantGaze: "Forward"},
		RawResults:    struct{}{},
		Metadata: interview.Metadata{
			UserID:        sub.UserID,
			SessionID:     sub.SessionID,
			QuestionIndex: idx,
			QuestionText:  sub.QuestionText,
		},
	}, nil
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestServer(t *testing.T, p Analyzer, st store.Store, opts ...Option) http.Handler {
	t.Helper()
	hc := health.New(
		health.Checker{Name: "ffmpeg", Check: func(context.Context) error { return nil }},
		health.Checker{Name: "speech_recognition", Check: func(context.Context) error { return errors.New("no engines") }, Optional: true},
		health.Checker{Name: "analysis_module", Check: func(context.Context) error { return nil }, Optional: true},
	)
	opts = append([]Option{WithMetrics(testMetrics(t)), WithCORSOrigins("http://localhost:3000")}, opts...)
	return New(p, st, hc, opts...).Handler()
}

type upload struct {
	fields      map[string]string
	filename    string
	contentType string
	data        []byte
	omitFile    bool
}

func defaultUpload() upload {
	return upload{
		fields: map[string]string{
			"userId":        "u1",
			"sessionId":     "s1",
			"questionIndex": "0",
			"questionText":  "Tell me about yourself.",
		},
		filename:    "answer.webm",
		contentType: "video/webm",
		data:        []byte("webm-bytes"),
	}
}

func (u upload) request(t *testing.T) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range u.fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if !u.omitFile {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video_file"; filename=%q`, u.filename))
		h.Set("Content-Type", u.contentType)
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := part.Write(u.data); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest("POST", "/analyze-video", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return v
}

func assertDetail(t *testing.T, rec *httptest.ResponseRecorder, status int, substr string) {
	t.Helper()
	if rec.Code != status {
		t.Errorf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	body := decode[errorBody](t, rec)
	if !strings.Contains(body.Detail, substr) {
		t.Errorf("detail = %q, want it to contain %q", body.Detail, substr)
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRoot(t *testing.T) {
	h := newTestServer(t, &fakePipeline{}, store.NewMemStore())
	rec := serve(h, httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[map[string]string](t, rec)
	if body["message"] != "Welcome to the Interview Analysis API" || body["status"] != "healthy" {
		t.Errorf("body = %v", body)
	}
}

func TestUnknownPath(t *testing.T) {
	h := newTestServer(t, &fakePipeline{}, store.NewMemStore())
	if rec := serve(h, httptest.NewRequest("GET", "/nope", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakePipeline{}, store.NewMemStore())
	rec := serve(h, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[healthResponse](t, rec)
	if body.Status != "healthy" || body.Message != "Interview Analysis API is running" {
		t.Errorf("body = %+v", body)
	}
	want := map[string]bool{"ffmpeg": true, "speech_recognition": false, "analysis_module": true}
	for k, v := range want {
		if body.Dependencies[k] != v {
			t.Errorf("dependency %s = %v, want %v", k, body.Dependencies[k], v)
		}
	}
}

func TestProbes(t *testing.T) {
	h := newTestServer(t, &fakePipeline{}, store.NewMemStore())
	for _, path := range []string{"/healthz", "/readyz"} {
		if rec := serve(h, httptest.NewRequest("GET", path, nil)); rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "# metrics\n")
	})

	without := newTestServer(t, &fakePipeline{}, store.NewMemStore())
	if rec := serve(without, httptest.NewRequest("GET", "/metrics", nil)); rec.Code != http.StatusNotFound {
		t.Errorf("without handler: status = %d, want 404", rec.Code)
	}

	with := newTestServer(t, &fakePipeline{}, store.NewMemStore(), WithMetricsHandler(metrics))
	rec := serve(with, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "# metrics") {
		t.Errorf("with handler: %d %q", rec.Code, rec.Body.String())
	}
}

func TestAnalyzeVideo_Success(t *testing.T) {
	p := &fakePipeline{}
	h := newTestServer(t, p, store.NewMemStore())

	rec := serve(h, defaultUpload().request(t))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != "Analysis complete" || body["analysisId"] != "analysis-1" {
		t.Errorf("body = %v", body)
	}
	for _, key := range []string{"transcription", "videoAnalysis", "rawResults", "metadata"} {
		if _, ok := body[key]; !ok {
			t.Errorf("response missing %q", key)
		}
	}
	if _, ok := body["feedback"]; ok {
		t.Error("feedback should be omitted when not produced")
	}
	meta := body["metadata"].(map[string]any)
	if meta["questionIndex"] != float64(0) || meta["userId"] != "u1" {
		t.Errorf("metadata = %v", meta)
	}

	if len(p.subs) != 1 {
		t.Fatalf("pipeline calls = %d, want 1", len(p.subs))
	}
	sub := p.subs[0]
	if sub.SessionID != "s1" || sub.QuestionText != "Tell me about yourself." || sub.Filename != "answer.webm" {
		t.Errorf("submission = %+v", sub)
	}
	if string(p.video) != "webm-bytes" {
		t.Errorf("video = %q", p.video)
	}
}

func TestAnalyzeVideo_GenericBinaryAccepted(t *testing.T) {
	for _, ct := range []string{"application/octet-stream", "", "video/mp4; codecs=avc1"} {
		t.Run(ct, func(t *testing.T) {
			u := defaultUpload()
			u.contentType = ct
			h := newTestServer(t, &fakePipeline{}, store.NewMemStore())
			if rec := serve(h, u.request(t)); rec.Code != http.StatusOK {
				t.Errorf("status = %d, body %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestAnalyzeVideo_BadRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*upload)
		detail string
	}{
		{"missing file", func(u *upload) { u.omitFile = true }, "No video file provided"},
		{"empty file", func(u *upload) { u.data = nil }, "empty"},
		{"not a video", func(u *upload) { u.contentType = "image/png" }, "File must be a video"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipeline{}
			h := newTestServer(t, p, store.NewMemStore())
			u := defaultUpload()
			tt.mutate(&u)

			rec := serve(h, u.request(t))
			assertDetail(t, rec, http.StatusBadRequest, tt.detail)
			if len(p.subs) != 0 {
				t.Error("pipeline should not run for a rejected upload")
			}
		})
	}
}

func TestAnalyzeVideo_NotMultipart(t *testing.T) {
	h := newTestServer(t, &fakePipeline{}, store.NewMemStore())
	req := httptest.NewRequest("POST", "/analyze-video", strings.NewReader(`{"userId":"u"}`))
	req.Header.Set("Content-Type", "application/json")
	assertDetail(t, serve(h, req), http.StatusBadRequest, "Invalid multipart form")
}

func TestAnalyzeVideo_TooLarge(t *testing.T) {
	p := &fakePipeline{}
	h := newTestServer(t, p, store.NewMemStore(), WithMaxUploadMB(1))
	u := defaultUpload()
	u.data = bytes.Repeat([]byte{0x1a}, 2<<20)

	assertDetail(t, serve(h, u.request(t)), http.StatusRequestEntityTooLarge, "Maximum size is 1 MB")
	if len(p.subs) != 0 {
		t.Error("pipeline should not run for an oversized upload")
	}
}

func TestAnalyzeVideo_ValidationError(t *testing.T) {
	err := fmt.Errorf("%w: %w", interview.ErrInvalidSubmission,
		errors.Join(errors.New("userId is required"), errors.New("questionIndex must be a non-negative integer, got \"x\"")))
	h := newTestServer(t, &fakePipeline{err: err}, store.NewMemStore())

	rec := serve(h, defaultUpload().request(t))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[errorBody](t, rec)
	want := `userId is required; questionIndex must be a non-negative integer, got "x"`
	if body.Detail != want {
		t.Errorf("detail = %q, want %q", body.Detail, want)
	}
}

func TestAnalyzeVideo_InternalError(t *testing.T) {
	h := newTestServer(t, &fakePipeline{err: errors.New("interview: store outcome: connection reset")}, store.NewMemStore())
	assertDetail(t, serve(h, defaultUpload().request(t)), http.StatusInternalServerError, "Internal server error: interview: store outcome")
}

func TestGetAnalysis(t *testing.T) {
	st := store.NewMemStore()
	rec := &store.Record{UserID: "u", SessionID: "s", QuestionIndex: 1, QuestionText: "q"}
	if err := st.Create(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	h := newTestServer(t, &fakePipeline{}, st)

	resp := serve(h, httptest.NewRequest("GET", "/analyses/"+rec.ID, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	got := decode[map[string]any](t, resp)
	if got["id"] != rec.ID || got["status"] != "uploaded" || got["questionIndex"] != float64(1) {
		t.Errorf("body = %v", got)
	}

	assertDetail(t, serve(h, httptest.NewRequest("GET", "/analyses/missing", nil)), http.StatusNotFound, "Analysis not found")
}

func TestSessionAnalyses(t *testing.T) {
	st := store.NewMemStore()
	for i := range 3 {
		if err := st.Create(context.Background(), &store.Record{SessionID: "s9", QuestionIndex: 2 - i}); err != nil {
			t.Fatal(err)
		}
	}
	h := newTestServer(t, &fakePipeline{}, st)

	resp := serve(h, httptest.NewRequest("GET", "/sessions/s9/analyses", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var body struct {
		SessionID string         `json:"sessionId"`
		Analyses  []store.Record `json:"analyses"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SessionID != "s9" || len(body.Analyses) != 3 {
		t.Fatalf("body = %+v", body)
	}
	for i, a := range body.Analyses {
		if a.QuestionIndex != i {
			t.Errorf("analyses[%d].QuestionIndex = %d", i, a.QuestionIndex)
		}
	}

	empty := serve(h, httptest.NewRequest("GET", "/sessions/none/analyses", nil))
	if !strings.Contains(empty.Body.String(), `"analyses":[]`) {
		t.Errorf("empty session body = %s", empty.Body.String())
	}
}

func TestSimilar(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	a := &store.Record{SessionID: "s"}
	b := &store.Record{SessionID: "s"}
	for _, r := range []*store.Record{a, b} {
		if err := st.Create(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	_ = st.Complete(ctx, a.ID, store.Outcome{Embedding: []float32{1, 0}})
	_ = st.Complete(ctx, b.ID, store.Outcome{Embedding: []float32{1, 1}})
	h := newTestServer(t, &fakePipeline{}, st)

	resp := serve(h, httptest.NewRequest("GET", "/analyses/"+a.ID+"/similar?limit=3", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.Code, resp.Body.String())
	}
	var body struct {
		AnalysisID string        `json:"analysisId"`
		Matches    []store.Match `json:"matches"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.AnalysisID != a.ID || len(body.Matches) != 1 || body.Matches[0].ID != b.ID {
		t.Errorf("body = %+v", body)
	}

	for _, limit := range []string{"0", "abc", "51"} {
		assertDetail(t, serve(h, httptest.NewRequest("GET", "/analyses/"+a.ID+"/similar?limit="+limit, nil)),
			http.StatusBadRequest, "limit must be")
	}
	assertDetail(t, serve(h, httptest.NewRequest("GET", "/analyses/unknown/similar", nil)), http.StatusNotFound, "Analysis not found")
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, &fakePipeline{}, store.NewMemStore())

	t.Run("preflight allowed origin", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/analyze-video", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rec := serve(h, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		hdr := rec.Header()
		if hdr.Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Errorf("Allow-Origin = %q", hdr.Get("Access-Control-Allow-Origin"))
		}
		if hdr.Get("Access-Control-Allow-Credentials") != "true" {
			t.Error("credentials not allowed")
		}
		if hdr.Get("Access-Control-Allow-Methods") != "POST" || hdr.Get("Access-Control-Allow-Headers") != "content-type" {
			t.Errorf("methods/headers = %q / %q", hdr.Get("Access-Control-Allow-Methods"), hdr.Get("Access-Control-Allow-Headers"))
		}
	})

	t.Run("preflight disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/analyze-video", nil)
		req.Header.Set("Origin", "https://evil.example")
		req.Header.Set("Access-Control-Request-Method", "POST")
		rec := serve(h, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("status = %d, want 204", rec.Code)
		}
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin = %q, want none", got)
		}
	})

	t.Run("simple request", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rec := serve(h, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
			t.Error("missing Allow-Origin on simple request")
		}
	})

	t.Run("wildcard", func(t *testing.T) {
		wild := newTestServer(t, &fakePipeline{}, store.NewMemStore(), WithCORSOrigins("*"))
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("Origin", "https://any.example")
		rec := serve(wild, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://any.example" {
			t.Errorf("Allow-Origin = %q, want echoed origin", got)
		}
	})
}
