// Package health serves the liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz runs
// every registered [Checker] concurrently and answers 503 if any of them
// fails. Both respond with {"status": "ok"|"fail", "checks": {...}}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single readiness check.
const DefaultTimeout = 5 * time.Second

// Checker probes one dependency, for example Redis or Postgres.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Report is the JSON body of both probes.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == "ok" }

// Handler serves /healthz and /readyz.
type Handler struct {
	checkers []Checker
	timeout  time.Duration
}

// New creates a Handler for the given checkers. Checkers with a nil Check
// are ignored.
func New(checkers ...Checker) *Handler {
	h := &Handler{timeout: DefaultTimeout}
	for _, c := range checkers {
		if c.Check != nil {
			h.checkers = append(h.checkers, c)
		}
	}
	return h
}

// WithTimeout replaces the per-check timeout.
func (h *Handler) WithTimeout(d time.Duration) *Handler {
	if d > 0 {
		h.timeout = d
	}
	return h
}

// Run evaluates all checkers concurrently. A failing checker does not cancel
// the others.
func (h *Handler) Run(ctx context.Context) Report {
	var (
		mu     sync.Mutex
		checks = make(map[string]string, len(h.checkers))
		failed bool
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, h.timeout)
			defer cancel()
			res := "ok"
			err := c.Check(cctx)
			if err != nil {
				res = "fail: " + err.Error()
			}
			mu.Lock()
			checks[c.Name] = res
			failed = failed || err != nil
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: "ok", Checks: checks}
	if failed {
		rep.Status = "fail"
	}
	return rep
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, Report{Status: "ok"})
}

// Readyz answers 200 when every checker passes and 503 otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Run(r.Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusServiceUnavailable
	}
	WriteJSON(w, status, rep)
}

// Register adds GET /healthz and GET /readyz to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
