package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/azentyk/voice-appointments/internal/observability/metrics"
	"github.com/azentyk/voice-appointments/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	processTimeout       = 2 * time.Minute
)

// JobProcessor runs one decoded payload.
type JobProcessor interface {
	Process(ctx context.Context, payload Payload) (Outcome, error)
}

// Worker consumes trailing jobs from the queue and invokes the processor.
type Worker struct {
	processor JobProcessor
	queue     Queue
	jobs      JobStore
	metrics   *metrics.VoiceMetrics
	logger    *logging.Logger

	cfg workerConfig
	wg  sync.WaitGroup
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	metrics          *metrics.VoiceMetrics
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

func WithWorkerMetrics(m *metrics.VoiceMetrics) WorkerOption {
	return func(cfg *workerConfig) {
		cfg.metrics = m
	}
}

// NewWorker builds a worker. jobs may be nil when status tracking is off.
func NewWorker(processor JobProcessor, queue Queue, jobs JobStore, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("jobs: processor cannot be nil")
	}
	if queue == nil {
		panic("jobs: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Worker{
		processor: processor,
		queue:     queue,
		jobs:      jobs,
		metrics:   cfg.metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Start launches the consumer goroutines. They exit when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until every consumer has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("trailing job worker started", "worker_id", workerID)

	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("trailing job worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive trailing jobs", "error", err, "worker_id", workerID)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	defer w.deleteMessage(context.Background(), msg.ReceiptHandle)

	payload, err := decodePayload(msg.Body)
	if err != nil {
		w.logger.Error("failed to decode trailing job", "error", err, "msg_id", msg.ID)
		return
	}
	w.logger.Info("worker processing job", "job_id", payload.ID, "kind", payload.Kind, "msg_id", msg.ID)

	// The call is already over; the job must not inherit a cancelled request.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processTimeout)
	defer cancel()

	start := time.Now()
	outcome, err := w.processor.Process(jobCtx, payload)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		w.logger.Error("trailing job failed", "error", err, "job_id", payload.ID, "kind", payload.Kind)
		w.metrics.ObserveJob(string(payload.Kind), string(StatusFailed), elapsed)
		if w.jobs != nil {
			if storeErr := w.jobs.MarkFailed(jobCtx, payload.ID, err.Error()); storeErr != nil {
				w.logger.Error("failed to update job status", "error", storeErr, "job_id", payload.ID)
			}
		}
		return
	}

	w.metrics.ObserveJob(string(payload.Kind), string(StatusCompleted), elapsed)
	if w.jobs != nil {
		if storeErr := w.jobs.MarkCompleted(jobCtx, payload.ID, outcome); storeErr != nil {
			w.logger.Error("failed to update job status", "error", storeErr, "job_id", payload.ID)
		}
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}

	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()

	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete trailing job", "error", err)
	}
}
