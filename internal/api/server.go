// Package api serves the HTTP surface used by external clients such as the
// avatar renderer: query submission, reply polling, avatar state, health
// probes and the Prometheus scrape endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/derfbot/internal/health"
	"github.com/MrWong99/derfbot/internal/observe"
	"github.com/MrWong99/derfbot/internal/pipeline"
	"github.com/MrWong99/derfbot/internal/queue"
	"github.com/MrWong99/derfbot/pkg/memory"
)

// ContextKey is the context key and author of every API query.
const ContextKey = "godot_dwarf"

// Defaults for [Config].
const (
	DefaultPendingTTL = 10 * time.Minute
	DefaultMaxPending = 1024
)

const (
	maxBodyBytes      = 64 << 10
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Dispatcher is the part of [pipeline.Dispatcher] the API needs.
type Dispatcher interface {
	Enqueue(ctx context.Context, id, author, message string) error
	Await(ctx context.Context, id string) (string, error)
}

var _ Dispatcher = (*pipeline.Dispatcher)(nil)

// Config configures a [Server].
type Config struct {
	// Identity is the bot whose queues and avatar the API serves.
	Identity   string
	Dispatcher Dispatcher
	Avatars    memory.AvatarStore

	// Journal archives answered queries. Optional.
	Journal memory.Journal

	// Health serves /healthz and /readyz. Optional.
	Health *health.Handler

	// Metrics is served on /metrics when set.
	Metrics http.Handler

	// Observe instruments every request. Nil uses observe.DefaultMetrics.
	Observe *observe.Metrics

	// PendingTTL is how long a submitted query is remembered for the
	// journal when nobody fetches its reply. Defaults to DefaultPendingTTL.
	PendingTTL time.Duration

	// MaxPending caps the remembered queries; the oldest is forgotten
	// first. Defaults to DefaultMaxPending.
	MaxPending int
}

// pendingQuery is a submitted query waiting for its fetch.
type pendingQuery struct {
	prompt  string
	expires time.Time
}

// Server is the HTTP API.
type Server struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	pending map[string]pendingQuery // unique id -> query
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Observe == nil {
		cfg.Observe = observe.DefaultMetrics()
	}
	if cfg.PendingTTL <= 0 {
		cfg.PendingTTL = DefaultPendingTTL
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = DefaultMaxPending
	}
	return &Server{cfg: cfg, now: time.Now, pending: make(map[string]pendingQuery)}
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/process_query", s.processQuery)
	mux.HandleFunc("POST /api/fetch_response", s.fetchResponse)
	mux.HandleFunc("GET /api/avatar_state", s.avatarState)
	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics)
	}
	return observe.Middleware(s.cfg.Observe)(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errCh := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()
	slog.Info("api: listening", "addr", addr)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api: serve %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return <-errCh
}

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse struct {
	UniqueID string `json:"unique_id"`
}

type fetchRequest struct {
	UniqueID string `json:"unique_id"`
}

type fetchResponse struct {
	Response string `json:"response"`
}

type stateResponse struct {
	State memory.AvatarState `json:"state"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) processQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	id := pipeline.TextTaskID(ContextKey, query)
	if err := s.cfg.Dispatcher.Enqueue(r.Context(), id, ContextKey, query); err != nil {
		observe.Logger(r.Context()).Error("api: enqueue query", "id", id, "err", err)
		writeError(w, http.StatusServiceUnavailable, "could not queue query")
		return
	}
	s.remember(id, query)

	health.WriteJSON(w, http.StatusOK, queryResponse{UniqueID: id})
}

func (s *Server) fetchResponse(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UniqueID == "" {
		writeError(w, http.StatusBadRequest, "unique_id is required")
		return
	}

	response, err := s.cfg.Dispatcher.Await(r.Context(), req.UniqueID)
	prompt := s.forget(req.UniqueID)
	switch {
	case errors.Is(err, queue.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, pipeline.TimeoutReply)
		return
	case err != nil:
		if r.Context().Err() == nil {
			observe.Logger(r.Context()).Error("api: await response", "id", req.UniqueID, "err", err)
		}
		writeError(w, http.StatusServiceUnavailable, "could not fetch response")
		return
	}

	s.archive(r.Context(), req.UniqueID, prompt, response)

	health.WriteJSON(w, http.StatusOK, fetchResponse{Response: response})
}

func (s *Server) avatarState(w http.ResponseWriter, r *http.Request) {
	state, err := s.cfg.Avatars.AvatarState(r.Context(), s.cfg.Identity)
	if err != nil {
		observe.Logger(r.Context()).Error("api: avatar state", "identity", s.cfg.Identity, "err", err)
		writeError(w, http.StatusServiceUnavailable, "avatar state unavailable")
		return
	}
	health.WriteJSON(w, http.StatusOK, stateResponse{State: state})
}

// remember records the prompt of id, dropping expired entries and, when
// the map is full, the entry closest to expiry.
func (s *Server) remember(id, prompt string) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, p := range s.pending {
		if !now.Before(p.expires) {
			delete(s.pending, k)
		}
	}
	if _, ok := s.pending[id]; !ok && len(s.pending) >= s.cfg.MaxPending {
		oldest, first := "", time.Time{}
		for k, p := range s.pending {
			if oldest == "" || p.expires.Before(first) {
				oldest, first = k, p.expires
			}
		}
		delete(s.pending, oldest)
	}
	s.pending[id] = pendingQuery{prompt: prompt, expires: now.Add(s.cfg.PendingTTL)}
}

// forget removes id and returns its prompt, empty when unknown or expired.
func (s *Server) forget(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	delete(s.pending, id)
	if !ok || !s.now().Before(p.expires) {
		return ""
	}
	return p.prompt
}

func (s *Server) archive(ctx context.Context, id, prompt, response string) {
	if s.cfg.Journal == nil {
		return
	}
	err := s.cfg.Journal.Archive(context.WithoutCancel(ctx), memory.Exchange{
		UniqueID:  id,
		Identity:  s.cfg.Identity,
		Source:    memory.SourceAPI,
		AuthorID:  ContextKey,
		Prompt:    prompt,
		Response:  response,
		CreatedAt: time.Now(),
	})
	if err != nil {
		slog.Warn("api: archive exchange", "id", id, "err", err)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	health.WriteJSON(w, status, errorResponse{Error: msg})
}
