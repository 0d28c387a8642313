// Package health serves the dependency probes.
//
// /healthz is a liveness probe and always answers 200. /readyz runs every
// [Checker] and answers 503 when a required one fails; failing optional
// checkers are reported as degraded. [Handler.Dependencies] feeds the
// name-to-healthy map of the public /health endpoint.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Check statuses reported by /readyz.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusFail     = "fail"
)

// Checker probes one dependency.
type Checker struct {
	// Name keys the check in responses, e.g. "ffmpeg".
	Name string

	// Check returns nil when the dependency is usable. It must honour ctx.
	Check func(ctx context.Context) error

	// Optional checks never fail readiness: the service still answers
	// without them, only with less detail.
	Optional bool
}

// CheckResult is one checker's outcome.
type CheckResult struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type result struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Handler runs the checkers. Set Timeout and CacheTTL before serving.
type Handler struct {
	checkers []Checker

	// Timeout bounds each check. Default: 5s.
	Timeout time.Duration

	// CacheTTL reuses the last results for this long, so frequent probes do
	// not spawn ffmpeg or hit the vision sidecar each time. Zero disables
	// caching.
	CacheTTL time.Duration

	mu       sync.Mutex
	cached   []outcome
	cachedAt time.Time
	now      func() time.Time
}

// New returns a Handler for checkers, which run concurrently.
func New(checkers ...Checker) *Handler {
	return &Handler{
		checkers: append([]Checker(nil), checkers...),
		Timeout:  5 * time.Second,
		now:      time.Now,
	}
}

type outcome struct {
	err      error
	duration time.Duration
}

// run evaluates the checkers, or returns cached outcomes still within
// CacheTTL. Results are indexed like h.checkers.
func (h *Handler) run(ctx context.Context) []outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.CacheTTL > 0 && h.cached != nil && h.now().Sub(h.cachedAt) < h.CacheTTL {
		return slices.Clone(h.cached)
	}

	out := make([]outcome, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.Timeout)
			defer cancel()
			start := time.Now()
			out[i] = outcome{err: c.Check(cctx), duration: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() == nil {
		h.cached, h.cachedAt = slices.Clone(out), h.now()
	}
	return out
}

// Dependencies reports whether each checker currently passes.
func (h *Handler) Dependencies(ctx context.Context) map[string]bool {
	res := h.run(ctx)
	deps := make(map[string]bool, len(res))
	for i, c := range h.checkers {
		deps[c.Name] = res[i].err == nil
	}
	return deps
}

// Healthz answers 200 while the process can serve HTTP.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: StatusOK})
}

// Readyz answers 200 when every required checker passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := h.run(r.Context())
	body := result{Status: StatusOK, Checks: make(map[string]CheckResult, len(res))}
	code := http.StatusOK

	for i, c := range h.checkers {
		cr := CheckResult{Status: StatusOK, DurationMS: res[i].duration.Milliseconds()}
		if err := res[i].err; err != nil {
			cr.Error = err.Error()
			cr.Status = StatusDegraded
			if !c.Optional {
				cr.Status = StatusFail
				body.Status = StatusFail
				code = http.StatusServiceUnavailable
			}
		}
		body.Checks[c.Name] = cr
	}
	writeJSON(w, code, body)
}

// Register mounts /healthz and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
