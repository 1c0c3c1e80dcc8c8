// Package server exposes the manual assistant over HTTP: question answering,
// manual upload, health, readiness and Prometheus metrics.
// The server is started by the `manualqa serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/manualqa-go/internal/assistant"
	"github.com/54b3r/manualqa-go/internal/ingestion"
	"github.com/54b3r/manualqa-go/internal/logging"
)

// manualStored is the success message for POST /api/manual.
const manualStored = "Manual processed and embeddings stored."

// New constructs a Server from the provided assistant, ingestion pipeline and config.
func New(asker Asker, ingester Ingester, cfg *Config) (*Server, error) {
	if asker == nil {
		return nil, fmt.Errorf("server: asker must not be nil")
	}
	if ingester == nil {
		return nil, fmt.Errorf("server: ingester must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.AskTimeout == 0 {
		cfg.AskTimeout = 3 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = cfg.AskTimeout + 30*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 20 << 20
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
		asker:    asker,
		ingester: ingester,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	if cfg.AdminToken == "" {
		log.Warn("server: MANUALQA_ADMIN_TOKEN not set, manual upload is unauthenticated")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	rl.rejected = s.metrics.rateLimitedTotal
	s.stopRL = stop

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// routes builds the middleware-wrapped mux.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	ask := rl.middleware(http.HandlerFunc(s.handleAsk))
	manual := rl.middleware(authMiddleware(s.cfg.AdminToken, http.HandlerFunc(s.handleManual)))

	mux := http.NewServeMux()
	mux.Handle("POST /api/ask", ask)
	mux.Handle("POST /ask", ask)
	mux.Handle("POST /api/manual", manual)
	mux.Handle("POST /upload_manual", manual)
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
		s.log.Info("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleAsk handles POST /api/ask.
func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()

	var req askRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.AskTimeout)
	defer cancel()

	st, err := s.asker.Ask(ctx, req.Question)
	switch {
	case errors.Is(err, assistant.ErrEmptyQuestion):
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "Question cannot be empty"})
		return
	case errors.Is(err, context.DeadlineExceeded):
		s.metrics.observeAsk(outcomeTimeout, time.Since(start))
		log.Error("ask: timed out", slog.Duration("timeout", s.cfg.AskTimeout), slog.Any("error", err))
		writeJSON(w, log, http.StatusGatewayTimeout, errorResponse{Error: "Error processing question: " + err.Error()})
		return
	case err != nil:
		s.metrics.observeAsk(outcomeError, time.Since(start))
		log.Error("ask: failed", slog.Any("error", err))
		writeJSON(w, log, http.StatusInternalServerError, errorResponse{Error: "Error processing question: " + err.Error()})
		return
	}

	s.metrics.observeAsk(askOutcome(st.Outcome), time.Since(start))
	writeJSON(w, log, http.StatusOK, askResponse{
		Question:           st.Question,
		Answer:             st.Answer,
		Language:           st.Language.String(),
		NeedsClarification: st.NeedsClarification,
	})
}

// handleManual handles POST /api/manual: a multipart upload in field "file".
func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, log, http.StatusRequestEntityTooLarge,
				errorResponse{Error: fmt.Sprintf("manual exceeds %d bytes", s.cfg.MaxUploadBytes)})
			return
		}
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "expected multipart/form-data with a file field"})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "missing file field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "could not read upload"})
		return
	}

	report, err := s.ingester.Ingest(r.Context(), header.Filename, data, nil)
	switch {
	case errors.Is(err, ingestion.ErrUnsupportedFormat):
		s.metrics.ingestTotal.WithLabelValues("unsupported").Inc()
		writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case err != nil:
		s.metrics.ingestTotal.WithLabelValues("error").Inc()
		log.Error("manual: ingestion failed", slog.String("file", header.Filename), slog.Any("error", err))
		writeJSON(w, log, http.StatusInternalServerError, errorResponse{Error: "Error processing manual: " + err.Error()})
		return
	}

	s.metrics.ingestTotal.WithLabelValues("ok").Inc()
	s.metrics.passagesIngested.Add(float64(report.Passages))
	writeJSON(w, log, http.StatusOK, manualResponse{Message: manualStored, Passages: report.Passages})
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, logging.FromContext(r.Context()), http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes body with status. Encode failures are logged.
func writeJSON(w http.ResponseWriter, log *slog.Logger, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("response encode error", slog.Any("error", err))
	}
}
