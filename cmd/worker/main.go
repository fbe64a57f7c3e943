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
	"github.com/azentyk/voice-appointments/pkg/logging"
)

func main() {
	cfg := mainconfig.LoadEnv()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue {
		logger.Error("the standalone worker needs SQS; set USE_MEMORY_QUEUE=false and JOB_QUEUE_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	app, err := bootstrap.Build(ctx, cfg, awsConfig, logger)
	if err != nil {
		logger.Error("failed to build worker", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	ops := &http.Server{Addr: ":" + cfg.Port, Handler: app.Ops, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", "error", err)
		}
	}()

	app.Worker.Start(ctx)
	logger.Info("trailing job worker started", "workers", cfg.WorkerCount, "queue", cfg.JobQueueURL)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down trailing job worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()
	_ = ops.Shutdown(doneCtx)

	waitCh := make(chan struct{})
	go func() {
		app.Worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("trailing job worker stopped")
	case <-doneCtx.Done():
		logger.Error("trailing job worker shutdown timed out", "error", doneCtx.Err())
	}
}
