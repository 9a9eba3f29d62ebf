package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// serveCmd runs the engine until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background refreshers and the daily audit",
	Long: `Start the mirror engine and keep it running until interrupted.

Runs:
- One background refresher per configured collection
- The daily corruption audit at --audit-at (UTC)
- The persistent write retry worker
- A Prometheus /metrics endpoint on --metrics-addr

Examples:
  # Mirror runs and rides into the default SQLite store
  FEEDMIRROR_TOKEN=... feedmirror serve --collections runs,rides

  # Use Redis for snapshots and expose metrics on :9100
  feedmirror serve --store-backend redis --store-db-connect redis://localhost:6379/0 --metrics-addr :9100`,
	PreRunE: sharedSetupWrapper,
	RunE: func(_ *cobra.Command, _ []string) error {
		engine, err := buildEngine(true)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := engine.Start(ctx); err != nil {
			return fmt.Errorf("failed to start engine: %w", err)
		}

		// Warm every collection so an empty or stale store triggers a run
		for _, ct := range engine.Collections() {
			res := engine.Cache().Get(ctx, ct, engine.Project())
			logger.WithFields(logFields()).WithField("collection", ct).
				WithField("source", res.Source).Info("Initial read")
		}

		var srv *http.Server
		if addr := viper.GetString("metrics-addr"); addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.WithError(err).Error("Metrics server failed")
				}
			}()
			logger.WithField("addr", addr).Info("Serving metrics")
		}

		<-ctx.Done()
		logger.Info("Shutting down")

		if srv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}
		return engine.Stop()
	},
}
