package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/manualqa-go/internal/assistant"
	"github.com/54b3r/manualqa-go/internal/ingestion"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8000).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It must
	// exceed AskTimeout so timeouts can still be reported.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// AskTimeout bounds a whole /api/ask request (default: 3m).
	AskTimeout time.Duration
	// MaxUploadBytes caps the multipart body of /api/manual (default: 20 MiB).
	MaxUploadBytes int64
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// AdminToken is the Bearer token required on the manual upload routes.
	// If empty, uploads are unauthenticated (development mode).
	AdminToken string
	// MetricsRegistry receives the server's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Asker answers one question. *assistant.Assistant satisfies it; tests
// inject a fake.
type Asker interface {
	Ask(ctx context.Context, question string) (*assistant.State, error)
}

// Ingester replaces the manual. *ingestion.Pipeline satisfies it.
type Ingester interface {
	Ingest(ctx context.Context, filename string, data []byte, progress ingestion.Progress) (*ingestion.Report, error)
}

// Server is the HTTP surface over the assistant and the ingestion pipeline.
type Server struct {
	// asker handles /api/ask.
	asker Asker
	// ingester handles /api/manual.
	ingester Ingester
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors for this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// askRequest is the JSON body for POST /api/ask.
type askRequest struct {
	Question string `json:"question"`
}

// askResponse is the JSON response for POST /api/ask.
type askResponse struct {
	Question           string `json:"question"`
	Answer             string `json:"answer"`
	Language           string `json:"language"`
	NeedsClarification bool   `json:"needs_clarification"`
}

// manualResponse is the JSON response for a successful POST /api/manual.
type manualResponse struct {
	Message  string `json:"message"`
	Passages int    `json:"passages"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
}
