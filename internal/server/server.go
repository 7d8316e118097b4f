// Package server exposes the agent over HTTP: a JSON ask endpoint, a
// websocket chat, digest management, Prometheus metrics and a health check.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doorap/dori/internal/agent"
	"github.com/doorap/dori/internal/caller"
	"github.com/doorap/dori/internal/tools"
	"github.com/doorap/dori/internal/version"
)

const (
	maxRequestBytes = 64 * 1024
	shutdownTimeout = 10 * time.Second
	userHeader      = "X-Dori-User"
)

// Asker answers one question. *agent.Agent satisfies it.
type Asker interface {
	Invoke(ctx context.Context, question string, cc agent.CallerContext) string
}

// AskRequest is the body of POST /api/dori/ask and each inbound websocket
// frame.
type AskRequest struct {
	Message string              `json:"message"`
	Context agent.CallerContext `json:"context,omitempty"`
}

type AskResponse struct {
	Answer string `json:"answer"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Server struct {
	asker    Asker
	registry *tools.Registry
	hub      *Hub
	gatherer prometheus.Gatherer
	health   func(context.Context) error
	origins  []string
	logger   *slog.Logger
	mux      *http.ServeMux
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithHealthCheck sets the probe behind /healthz, typically a store ping.
func WithHealthCheck(fn func(context.Context) error) Option {
	return func(s *Server) { s.health = fn }
}

// WithAllowedOrigins sets the websocket origin patterns accepted besides the
// request's own host.
func WithAllowedOrigins(patterns []string) Option {
	return func(s *Server) { s.origins = patterns }
}

func WithRegistry(reg *tools.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

func New(asker Asker, opts ...Option) *Server {
	s := &Server{
		asker:    asker,
		registry: tools.Default(),
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.hub = newHub(s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/dori/ask", s.handleAsk)
	mux.HandleFunc("GET /api/dori/ws", s.handleWebsocket)
	mux.HandleFunc("GET /api/dori/tools", s.handleTools)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux = mux
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Hub returns the websocket broadcaster, which doubles as a digest notifier.
func (s *Server) Hub() *Hub { return s.hub }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}
	ctx := s.withCaller(r, "http", req.Context)
	writeJSON(w, http.StatusOK, AskResponse{Answer: s.asker.Invoke(ctx, req.Message, req.Context)})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	type toolInfo struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}
	defs := s.registry.List()
	out := make([]toolInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, toolInfo{Name: d.Name, Description: d.Description, Parameters: d.Parameters.JSONSchema()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.logger.Warn("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

// withCaller tags the request context with the asking user, taken from the
// header or the caller context's currentUser.
func (s *Server) withCaller(r *http.Request, channel string, cc agent.CallerContext) context.Context {
	id := r.Header.Get(userHeader)
	if id == "" {
		id, _ = cc["currentUser"].(string)
	}
	return caller.WithCaller(r.Context(), caller.Qualify(channel, id))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
