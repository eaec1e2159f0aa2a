package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/tutor-go/internal/ingestion"
	"github.com/54b3r/tutor-go/internal/memory"
	"github.com/54b3r/tutor-go/internal/tutor"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds a single /api/ask request including retries.
	// Defaults to 3 minutes.
	AskTimeout time.Duration
	// IngestTimeout bounds a single /api/ingest request. Defaults to 30 minutes.
	IngestTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// tutorService is the part of *tutor.Service the handlers call.
// Tests inject a fake.
type tutorService interface {
	Ask(ctx context.Context, question string, mode tutor.Mode) tutor.Answer
	IngestAll(ctx context.Context, progress func(msg string)) (*ingestion.Report, error)
	ClearIndex(ctx context.Context) error
	ClearConversation(ctx context.Context) error
	Conversation() []memory.Turn
	ConversationTurnCount() int
	Status(ctx context.Context) tutor.Status
}

// Server is the HTTP server that exposes the tutor.
type Server struct {
	// tutor answers questions and manages the index and conversation.
	tutor tutorService
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	// Question is the learner's question.
	Question string `json:"question"`
	// Mode is "rag", "memory" or "basic". Empty selects rag.
	Mode string `json:"mode"`
}

// askResponse is the JSON response for POST /api/ask. It is returned with
// 200 for failures too; Error is set when the answer describes one.
type askResponse struct {
	tutor.Answer
	// Error is the failure cause, empty on success.
	Error string `json:"error,omitempty"`
}

// ingestResponse is the JSON response for POST /api/ingest.
type ingestResponse struct {
	// OK is true when at least one document contributed a chunk.
	OK bool `json:"ok"`
	// Report is the per-run ingestion summary.
	Report *ingestion.Report `json:"report"`
	// State is the router state after the run.
	State tutor.State `json:"state"`
}

// conversationResponse is the JSON response for GET /api/conversation.
type conversationResponse struct {
	// Pairs is the number of completed user turns.
	Pairs int `json:"pairs"`
	// Turns is the full log, oldest first.
	Turns []memory.Turn `json:"turns"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}
