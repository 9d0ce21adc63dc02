package routes

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trialhub/trialhub-backend/api/controllers"
	"github.com/trialhub/trialhub-backend/api/middleware"
	"github.com/trialhub/trialhub-backend/pkg/config"
	"github.com/trialhub/trialhub-backend/pkg/logger"
)

const opsShutdownTimeout = 5 * time.Second

// NewOpsRouter is the listener background workers expose for health checks and scraping.
func NewOpsRouter(cfg *config.Config, logg *logger.Logger, readiness map[string]controllers.Pinger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer(logg))
	r.Get("/health/live", controllers.HealthLive(cfg))
	r.Get("/health/ready", controllers.HealthReady(cfg, logg, readiness))
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// ServeOps runs handler on addr until ctx is cancelled. An empty addr disables the listener.
func ServeOps(ctx context.Context, addr string, handler http.Handler, logg *logger.Logger) error {
	if addr == "" {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	if logg != nil {
		logg.Info(logg.WithField(ctx, "ops_addr", addr), "ops listener started")
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
