// Package server exposes the interview analysis HTTP API.
//
// Routes:
//
//	GET  /                                welcome message
//	GET  /health                          dependency report
//	POST /analyze-video                   multipart upload, runs the pipeline
//	GET  /analyses/{id}                   stored analysis
//	GET  /analyses/{id}/similar?limit=N   analyses with similar transcripts
//	GET  /sessions/{sessionId}/analyses   all analyses of a session
//	GET  /healthz, /readyz                probes
//	GET  /metrics                         Prometheus scrape endpoint
//
// Errors are reported as {"detail": "..."}.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/interviewlens/internal/health"
	"github.com/MrWong99/interviewlens/internal/interview"
	"github.com/MrWong99/interviewlens/internal/observe"
	"github.com/MrWong99/interviewlens/internal/store"
)

const (
	defaultMaxUploadMB = 50

	// multipartMemory is how much of an upload is buffered in memory before
	// spilling to a temp file.
	multipartMemory = 8 << 20

	defaultSimilarLimit = 5
	maxSimilarLimit     = 50
)

// Analyzer runs a submission through the analysis pipeline. Satisfied by
// [interview.Pipeline].
type Analyzer interface {
	Analyze(ctx context.Context, sub interview.Submission) (*interview.Result, error)
}

// Server holds the HTTP handlers. Create with [New].
type Server struct {
	pipeline    Analyzer
	store       store.Store
	health      *health.Handler
	metrics     *observe.Metrics
	metricsH    http.Handler
	origins     []string
	maxUpload   int64
	maxUploadMB int
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins sets the allowed browser origins. "*" allows any origin.
func WithCORSOrigins(origins ...string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithMaxUploadMB caps the request body of /analyze-video. Default 50.
func WithMaxUploadMB(mb int) Option {
	return func(s *Server) {
		if mb > 0 {
			s.maxUploadMB = mb
		}
	}
}

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsH = h }
}

// WithMetrics sets the metrics used by the request middleware. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New creates a Server. hc provides /healthz, /readyz and the /health
// dependency report.
func New(p Analyzer, st store.Store, hc *health.Handler, opts ...Option) *Server {
	s := &Server{
		pipeline:    p,
		store:       st,
		health:      hc,
		maxUploadMB: defaultMaxUploadMB,
	}
	for _, o := range opts {
		o(s)
	}
	s.maxUpload = int64(s.maxUploadMB) << 20
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Handler returns the complete HTTP handler with CORS and telemetry
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /analyze-video", s.handleAnalyze)
	mux.HandleFunc("GET /analyses/{id}", s.handleGetAnalysis)
	mux.HandleFunc("GET /analyses/{id}/similar", s.handleSimilar)
	mux.HandleFunc("GET /sessions/{sessionId}/analyses", s.handleSessionAnalyses)
	s.health.Register(mux)
	if s.metricsH != nil {
		mux.Handle("GET /metrics", s.metricsH)
	}
	return cors(s.origins, observe.Middleware(s.metrics)(mux))
}

// ---- handlers ----

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the Interview Analysis API",
		"status":  "healthy",
	})
}

type healthResponse struct {
	Status       string          `json:"status"`
	Message      string          `json:"message"`
	Dependencies map[string]bool `json:"dependencies"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:       "healthy",
		Message:      "Interview Analysis API is running",
		Dependencies: s.health.Dependencies(r.Context()),
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	log := observe.Logger(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File too large. Maximum size is %d MB", s.maxUploadMB))
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("video_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No video file provided")
		return
	}
	defer file.Close()

	if header.Size == 0 {
		writeError(w, http.StatusBadRequest, "Uploaded video file is empty")
		return
	}
	if !videoUpload(header.Header.Get("Content-Type")) {
		writeError(w, http.StatusBadRequest, "File must be a video")
		return
	}

	log.Info("video analysis request",
		"session_id", r.FormValue("sessionId"),
		"question_index", r.FormValue("questionIndex"),
		"user_id", r.FormValue("userId"),
		"filename", header.Filename,
		"bytes", header.Size,
	)

	res, err := s.pipeline.Analyze(r.Context(), interview.Submission{
		UserID:        r.FormValue("userId"),
		SessionID:     r.FormValue("sessionId"),
		QuestionIndex: r.FormValue("questionIndex"),
		QuestionText:  r.FormValue("questionText"),
		Filename:      header.Filename,
		Video:         file,
	})
	if errors.Is(err, interview.ErrInvalidSubmission) {
		writeError(w, http.StatusBadRequest, validationDetail(err))
		return
	}
	if err != nil {
		log.Error("video analysis failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.internalError(w, r, "get analysis", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Analysis not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSessionAnalyses(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	recs, err := s.store.ListBySession(r.Context(), sessionID)
	if err != nil {
		s.internalError(w, r, "list analyses", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": sessionID,
		"analyses":  recs,
	})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	limit := defaultSimilarLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxSimilarLimit {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("limit must be an integer between 1 and %d", maxSimilarLimit))
			return
		}
		limit = n
	}

	id := r.PathValue("id")
	matches, err := s.store.Similar(r.Context(), id, limit)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Analysis not found")
		return
	}
	if err != nil {
		s.internalError(w, r, "similar analyses", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analysisId": id,
		"matches":    matches,
	})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, action string, err error) {
	observe.Logger(r.Context()).Error("request failed", "action", action, "err", err)
	writeError(w, http.StatusInternalServerError, "Internal server error: "+err.Error())
}

// ---- helpers ----

type errorBody struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// validationDetail drops the sentinel prefix and joins the individual
// problems on one line.
func validationDetail(err error) string {
	msg := strings.TrimPrefix(err.Error(), interview.ErrInvalidSubmission.Error()+": ")
	return strings.ReplaceAll(msg, "\n", "; ")
}

// videoUpload reports whether a file part's content type may hold a video.
// Generic binary parts (clients that stream a file without an extension)
// are left to ffmpeg to judge.
func videoUpload(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "video/") || mt == "application/octet-stream"
}
