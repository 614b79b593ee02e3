package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance API server",
	Long: `Start the Face Attendance HTTP API.

The server loads the stored gallery, accepts camera frames for open
attendance sessions and writes attendance records when sessions close.
Open sessions are closed (and recorded) on shutdown.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8085, "Port to listen on; overrides WEB_PORT")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to; overrides WEB_HOST")
	serveCmd.Flags().Int("workers", 0, "Concurrent embedding requests; overrides WORKER_POOL_SIZE")
	addMatchingFlags(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	overrideInt(cmd, "port", &cfg.Web.Port)
	overrideString(cmd, "host", &cfg.Web.Host)

	matcher, metric, err := newMatcher(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBackend(backend)

	rosters, closeRosters, err := rosterSource(ctx, cfg, backend)
	if err != nil {
		return err
	}
	defer closeRosters()

	holder := newHolder(cfg, backend)
	if err := loadGallery(ctx, holder); err != nil {
		return err
	}

	manager := attendance.NewManager(rosters, backend, attendance.WithMaxDuration(cfg.Session.MaxDuration))
	if cfg.Session.SweepInterval > 0 {
		stopScheduler, err := manager.StartScheduler(cfg.Session.SweepInterval)
		if err != nil {
			return fmt.Errorf("starting session scheduler: %w", err)
		}
		defer stopScheduler()
	}

	provider := newProvider(cfg)
	service := attendance.NewService(provider, holder, matcher, manager,
		attendance.NewWorkerPool(cfg.Embedding.Workers), cfg.Matching.Threshold)

	server := web.NewServer(cfg, web.Dependencies{
		Lessons:  backend,
		Records:  backend,
		Holder:   holder,
		Provider: provider,
		Service:  service,
		Metric:   metric,
	})

	flushed := make(chan struct{})
	go func() {
		defer close(flushed)
		<-ctx.Done()
		logging.Info().Msg("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("error during shutdown")
		}
		if err := manager.CloseAll(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("failed to record open sessions")
		}
	}()

	logging.Info().
		Str("metric", string(metric)).
		Str("index", cfg.Matching.Index).
		Float64("threshold", cfg.Matching.Threshold).
		Msg("matcher configured")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}

	// Start returns as soon as the listener closes; wait for the session flush.
	<-flushed
	return nil
}
