package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/analytics-datacube/internal/api"
	"github.com/mohammed-shakir/analytics-datacube/internal/auth"
	"github.com/mohammed-shakir/analytics-datacube/internal/core/health"
	middleware "github.com/mohammed-shakir/analytics-datacube/internal/core/middleware"
)

type Deps struct {
	API      *api.Handler
	Verifier *auth.Verifier
	Metrics  http.Handler
	Ready    map[string]health.Check
}

// NewRouter mounts the public probes and the authenticated datacube routes.
func NewRouter(logger *slog.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(deps.Ready))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(deps.Verifier))
		deps.API.Mount(r)
	})
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, addr string, logger *slog.Logger, deps Deps) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(logger, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// datacube generation is synchronous and can take minutes
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
