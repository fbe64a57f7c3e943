package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/azentyk/voice-appointments/cmd/mainconfig"
	"github.com/azentyk/voice-appointments/internal/app/bootstrap"
	appconfig "github.com/azentyk/voice-appointments/internal/config"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := mainconfig.LoadEnv()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting voice appointments API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"inline_workers", cfg.UseMemoryQueue,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	app, err := bootstrap.Build(ctx, cfg, awsCfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	// With the memory queue the trailing jobs only exist in this process.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	if cfg.UseMemoryQueue {
		app.Worker.Start(workerCtx)
	}

	srv := newServer(cfg, app.Handler)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	stopWorkers()
	if cfg.UseMemoryQueue {
		waitWorkers(shutdownCtx, app, logger)
	}
	return nil
}

func newServer(cfg *appconfig.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// A turn can wait on the model and the verification lookup.
		WriteTimeout: cfg.ModelTimeout + cfg.VerifyTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func waitWorkers(ctx context.Context, app *bootstrap.App, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		app.Worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("inline workers stopped")
	case <-ctx.Done():
		logger.Error("inline worker shutdown timed out", "error", ctx.Err())
	}
}
