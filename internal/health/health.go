// Package health provides HTTP health and readiness check handlers.
//
// The package exposes three endpoints:
//
//   - /health  — operational status: active session count, GPU memory
//     accounting, and the result of each registered [Checker].
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//
// Responses are JSON objects with a top-level "status" field ("healthy" or
// "unhealthy") and a "checks" map containing the result of each named
// checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MrWong99/wernicke/internal/gpu"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g.
	// "recognizer", "sidecar"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Details is the live state reported on /health, gathered at request time.
type Details struct {
	// ActiveSessions is the number of open streaming sessions.
	ActiveSessions int

	// GPU is the inference supervisor's memory accounting.
	GPU gpu.Stats
}

// result is the JSON response body for health endpoints.
type result struct {
	Status         string            `json:"status"`
	ActiveSessions *int              `json:"active_sessions,omitempty"`
	GPU            *gpu.Stats        `json:"gpu,omitempty"`
	Checks         map[string]string `json:"checks,omitempty"`
}

// Handler serves the health endpoints. It is safe for concurrent use; the
// checker list is fixed at construction time.
type Handler struct {
	details  func() Details
	checkers []Checker
}

// New creates a [Handler]. details is called on each /health request to
// gather live state; it may be nil. The checkers are evaluated sequentially
// in the order provided.
func New(details func() Details, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{details: details, checkers: c}
}

// Health reports operational status: session count, GPU accounting, and
// every registered check. It returns 503 when any check fails.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	checks, allOK := h.runChecks(r.Context())

	res := result{
		Status: "healthy",
		Checks: checks,
	}
	if h.details != nil {
		d := h.details()
		res.ActiveSessions = &d.ActiveSessions
		res.GPU = &d.GPU
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "healthy"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, allOK := h.runChecks(r.Context())

	res := result{
		Status: "healthy",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// runChecks evaluates every checker with a [checkTimeout] deadline derived
// from ctx.
func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}
	return checks, allOK
}

// Register adds the /health, /healthz, and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
