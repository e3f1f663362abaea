package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/luckyPipewrench/headerlock/internal/engine"
	"github.com/luckyPipewrench/headerlock/internal/metrics"
)

// Server hosts the control API plus the health, stats, and metrics
// endpoints.
type Server struct {
	listen  string
	handler *Handler
	mx      *metrics.Metrics
}

// NewServer builds the daemon HTTP server.
func NewServer(listen string, eng *engine.Engine, mx *metrics.Metrics, token string) *Server {
	return &Server{
		listen:  listen,
		handler: NewHandler(eng, token),
		mx:      mx,
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	s.handler.Register(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
	})
	mux.Handle("/metrics", s.mx.PrometheusHandler())
	mux.HandleFunc("/stats", s.mx.StatsHandler())

	srv := &http.Server{
		Addr:              s.listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
