package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"sampark/internal/app"
	"sampark/internal/config"
	"sampark/internal/observability"

	"github.com/spf13/cobra"
)

var (
	migrateOnly bool
	listenPort  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the automation service",
	RunE:  run,
}

func init() {
	runCmd.Flags().BoolVar(&migrateOnly, "migrate-only", false, "apply database migrations and exit")
	runCmd.Flags().IntVarP(&listenPort, "port", "p", 0, "override server.port")
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if listenPort > 0 {
		cfg.Server.Port = listenPort
	}
	logger, err := config.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if migrateOnly {
		db, err := app.OpenDatabase(cfg)
		if err != nil {
			return err
		}
		if err := app.Migrate(db); err != nil {
			return err
		}
		logger.Info("database migrated")
		return nil
	}

	shutdownOTel, err := observability.SetupTracing(cmd.Context(), cfg.Monitoring.Tracing)
	if err != nil {
		logger.Warnf("init tracing: %v", err)
		shutdownOTel = func(context.Context) error { return nil }
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	service, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	service.Start(ctx)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           service.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Errorf("server error: %v", err)
		}
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("automation shutdown: %v", err)
	}
	_ = shutdownOTel(shutdownCtx)
	logger.Info("Server exited")
	return nil
}
