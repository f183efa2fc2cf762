// Package api exposes the reader profile service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pbaille/reads/internal/config"
	"github.com/pbaille/reads/internal/logging"
	"github.com/pbaille/reads/internal/service"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP front of a service.Service
type Server struct {
	svc    *service.Service
	cfg    config.ServerConfig
	logger zerolog.Logger
}

// NewServer creates a Server
func NewServer(svc *service.Service, cfg config.ServerConfig) *Server {
	return &Server{
		svc:    svc,
		cfg:    cfg,
		logger: logging.With().Str("component", "api").Logger(),
	}
}

// Handler returns the routed handler with the full middleware stack
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDWithLogging)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.cors())
	r.Use(observe)

	r.Get("/", s.health)
	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.rateLimit())
		r.Use(s.timeout())

		r.Post("/profile", s.putProfile)
		r.Get("/profile/{id}", s.getProfile)
		r.Get("/profile_meta/{id}", s.profileMeta)
		r.Get("/profile_history/{id}", s.profileHistory)

		r.Post("/apply_test", s.applyTest)
		r.Post("/analyze_text", s.analyzeText)

		r.Get("/gaps/{id}", s.gaps)
		r.Get("/recommendations_explain/{id}", s.recommendations)
		r.Get("/recommendations_saved/{id}", s.savedRecommendations)
		r.Get("/works", s.works)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
