// Package server implements the ingestion boundary: an HTTP endpoint that
// accepts raw Telegram webhook payloads, classifies them, and hands typed
// events to the task queue. No business logic lives here.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quicklingo/quicklingo/internal/config"
	"github.com/quicklingo/quicklingo/internal/metrics"
	"github.com/quicklingo/quicklingo/internal/update"
)

const maxPayloadBytes = 1 << 20

// Broker enqueues classified updates for asynchronous processing.
type Broker interface {
	Enqueue(ctx context.Context, upd *update.Update) (string, error)
	Ping(ctx context.Context) error
}

// Pinger checks a dependency's health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the ingestion HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	broker     Broker
	store      Pinger
	limiter    *senderLimiter
}

// New creates the ingestion server with its routes registered.
func New(cfg config.ServerConfig, broker Broker, store Pinger, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		logger:  logger.With("component", "server"),
		broker:  broker,
		store:   store,
		limiter: newSenderLimiter(cfg.RatePerMinute, cfg.RateBurst),
	}

	r := mux.NewRouter()
	r.HandleFunc("/updates", s.handleUpdate).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Ingestion server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.logger.Info("Ingestion server stopped")
		return nil
	}
}

// handleUpdate classifies the raw payload and enqueues the typed event.
// Telegram retries non-2xx responses, so unusable payloads are logged,
// dropped, and still acknowledged with 200.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		s.logger.Error("Failed to read update payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	upd, err := update.Classify(body)
	if err != nil {
		// Enough context to diagnose upstream format drift.
		s.logger.Warn("Dropping unclassified update payload",
			"error", err, "payload_preview", preview(body, 200))
		metrics.UpdatesDropped.WithLabelValues("unclassified").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	if sender := senderOf(upd); sender != 0 && !s.limiter.Allow(sender) {
		s.logger.Warn("Dropping update over sender rate limit", "user_id", sender)
		metrics.UpdatesDropped.WithLabelValues("rate_limited").Inc()
		w.WriteHeader(http.StatusOK)
		return
	}

	taskID, err := s.broker.Enqueue(r.Context(), upd)
	if err != nil {
		s.logger.Error("Failed to enqueue update", "error", err, "kind", upd.Kind)
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	metrics.UpdatesReceived.WithLabelValues(string(upd.Kind)).Inc()
	s.logger.Debug("Update enqueued", "kind", upd.Kind, "task_id", taskID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Error("Health check failed on store", "error", err)
		http.Error(w, "store unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := s.broker.Ping(ctx); err != nil {
		s.logger.Error("Health check failed on broker", "error", err)
		http.Error(w, "broker unavailable", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func senderOf(upd *update.Update) int64 {
	switch upd.Kind {
	case update.KindMessage:
		if upd.Message != nil {
			return upd.Message.From.ID
		}
	case update.KindNewMember:
		if upd.NewMember != nil {
			return upd.NewMember.From.ID
		}
	}
	return 0
}

func preview(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
