// Package api exposes intake sessions over HTTP.
//
// Every response uses the models.APIResponse envelope ({status, message, result}).
// The server also hosts the Prometheus endpoint and, when Twilio is enabled, the
// inbound Twilio webhook.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/DengueCast/internal/catalog"
	"github.com/BTreeMap/DengueCast/internal/messaging"
	"github.com/BTreeMap/DengueCast/internal/metrics"
	"github.com/BTreeMap/DengueCast/internal/session"
	"github.com/BTreeMap/DengueCast/internal/store"
	"github.com/go-playground/validator/v10"
)

const (
	// DefaultAddr is the default listen address
	DefaultAddr = ":8080"
	// MaxRequestBodyBytes caps JSON request bodies
	MaxRequestBodyBytes = 1 << 20
	// ShutdownTimeout bounds graceful shutdown of in-flight requests
	ShutdownTimeout = 10 * time.Second
	// ReadHeaderTimeout guards against slow clients
	ReadHeaderTimeout = 10 * time.Second
)

// Server serves the session API.
type Server struct {
	sessions *session.Manager
	catalogs *catalog.Catalogs
	st       store.Store
	metrics  *metrics.Metrics
	twilio   *messaging.TwilioService
	validate *validator.Validate
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts GET /metrics for mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = mt }
}

// WithTwilioWebhook mounts POST /twilio/webhook for svc.
func WithTwilioWebhook(svc *messaging.TwilioService) Option {
	return func(s *Server) { s.twilio = svc }
}

// NewServer creates a Server. st backs GET /predictions.
func NewServer(sessions *session.Manager, catalogs *catalog.Catalogs, st store.Store, opts ...Option) *Server {
	s := &Server{
		sessions: sessions,
		catalogs: catalogs,
		st:       st,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", s.createSessionHandler)
	mux.HandleFunc("GET /sessions/{id}", s.getSessionHandler)
	mux.HandleFunc("DELETE /sessions/{id}", s.endSessionHandler)
	mux.HandleFunc("POST /sessions/{id}/messages", s.postMessageHandler)
	mux.HandleFunc("GET /catalog", s.catalogHandler)
	mux.HandleFunc("GET /predictions", s.predictionsHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.twilio != nil {
		mux.HandleFunc("POST /twilio/webhook", s.twilio.TwilioWebhookHandler)
	}
	return logRequests(mux)
}

// Run listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: graceful shutdown failed", "error", err)
		return err
	}
	return nil
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Server: request served", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
