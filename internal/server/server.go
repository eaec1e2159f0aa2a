// Package server implements the HTTP server that exposes the tutor via a
// JSON API. The server is started by the `tutor serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/tutor-go/internal/audit"
	"github.com/54b3r/tutor-go/internal/logging"
	"github.com/54b3r/tutor-go/internal/memory"
	"github.com/54b3r/tutor-go/internal/tutor"
)

// New constructs a Server for svc.
func New(svc tutorService, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("server: tutor must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 3 * time.Minute
	}
	if cfg.IngestTimeout == 0 {
		cfg.IngestTimeout = 30 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		// Ingestion answers only after the whole batch is embedded.
		cfg.WriteTimeout = cfg.IngestTimeout + time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	s := &Server{
		tutor:   svc,
		cfg:     cfg,
		log:     log,
		pingers: cfg.Pingers,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	rl.onReject = s.metrics.rateLimitedTotal.Inc
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.APIKey == "" {
		log.Warn("server: API key not set, authentication disabled", slog.String("env", "TUTOR_API_KEY"))
	}
	return s, nil
}

// routes builds the handler tree. Health, readiness and metrics are never
// authenticated; the model-backed endpoints are also rate limited.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(s.cfg.APIKey, h)
	}
	limited := func(h http.HandlerFunc) http.Handler {
		return rl.middleware(protect(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", limited(s.handleAsk))
	mux.Handle("POST /api/ingest", limited(s.handleIngest))
	mux.Handle("DELETE /api/index", protect(s.handleClearIndex))
	mux.Handle("GET /api/conversation", protect(s.handleConversation))
	mux.Handle("DELETE /api/conversation", protect(s.handleClearConversation))
	mux.Handle("GET /api/status", protect(s.handleStatus))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, s.metrics.instrument(mux))
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}

// handleAsk handles POST /api/ask. Every well-formed request gets a 200 with
// an answer; failures are described inside it.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	mode, err := tutor.ParseMode(req.Mode)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()

	s.metrics.askInFlight.Inc()
	start := time.Now()
	ans := s.tutor.Ask(ctx, req.Question, mode)
	s.metrics.askInFlight.Dec()
	s.metrics.observeAsk(ans, time.Since(start))

	resp := askResponse{Answer: ans}
	if ans.Err != nil {
		resp.Error = ans.Err.Error()
	}
	if resp.Sources == nil {
		resp.Sources = []string{}
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

// handleIngest handles POST /api/ingest by rebuilding the index from the
// documents directory.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.IngestTimeout)
	defer cancel()

	report, err := s.tutor.IngestAll(ctx, func(msg string) {
		log.Debug("ingest: progress", slog.String("msg", msg))
	})
	if err != nil {
		s.metrics.ingestRunsTotal.WithLabelValues("error").Inc()
		log.Error("ingest failed", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	outcome := "ok"
	if !report.OK() {
		outcome = "empty"
	}
	s.metrics.ingestRunsTotal.WithLabelValues(outcome).Inc()
	s.metrics.indexChunks.Set(float64(report.Chunks))
	if report.KeptPrevious {
		s.metrics.indexChunks.Set(float64(s.tutor.Status(r.Context()).Chunks))
	}
	audit.LogAction(r.Context(), log, "index.rebuild", "http",
		slog.Int("documents", report.Total),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("chunks", report.Chunks),
	)

	writeJSON(r.Context(), w, http.StatusOK, ingestResponse{
		OK:     report.OK(),
		Report: report,
		State:  s.tutor.Status(r.Context()).State,
	})
}

// handleClearIndex handles DELETE /api/index.
func (s *Server) handleClearIndex(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if err := s.tutor.ClearIndex(r.Context()); err != nil {
		log.Error("clear index failed", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.metrics.indexChunks.Set(0)
	audit.LogAction(r.Context(), log, "index.clear", "http")
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{"cleared": true})
}

// handleConversation handles GET /api/conversation.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	turns := s.tutor.Conversation()
	if turns == nil {
		turns = []memory.Turn{}
	}
	writeJSON(r.Context(), w, http.StatusOK, conversationResponse{
		Pairs: s.tutor.ConversationTurnCount(),
		Turns: turns,
	})
}

// handleClearConversation handles DELETE /api/conversation.
func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	if err := s.tutor.ClearConversation(r.Context()); err != nil {
		log.Error("clear conversation failed", slog.Any("error", err))
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	audit.LogAction(r.Context(), log, "conversation.clear", "http")
	writeJSON(r.Context(), w, http.StatusOK, map[string]any{"cleared": true})
}

// handleStatus handles GET /api/status.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.tutor.Status(r.Context())
	s.metrics.indexChunks.Set(float64(st.Chunks))
	writeJSON(r.Context(), w, http.StatusOK, st)
}

// writeJSON encodes v with the given status code.
func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("response encode error", slog.Any("error", err))
	}
}

// writeJSONError writes a JSON-formatted error response with the given status code.
func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}
