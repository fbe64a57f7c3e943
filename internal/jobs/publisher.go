package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/azentyk/voice-appointments/pkg/logging"
)

// Publisher records a pending job and hands it to the queue.
type Publisher struct {
	queue  Queue
	jobs   JobStore
	logger *logging.Logger
	now    func() time.Time
}

// NewPublisher creates a queue-backed publisher. jobs may be nil to skip
// status tracking.
func NewPublisher(queue Queue, jobs JobStore, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("jobs: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, jobs: jobs, logger: logger, now: time.Now}
}

// Enqueue publishes payload and returns its job id. A failure to record the
// pending status is logged; only a failed send is returned.
func (p *Publisher) Enqueue(ctx context.Context, payload Payload) (string, error) {
	if !payload.Kind.Valid() {
		return "", fmt.Errorf("jobs: unknown job kind %q", payload.Kind)
	}
	if payload.EnqueuedAt.IsZero() {
		payload.EnqueuedAt = p.now().UTC()
	}
	payload, body, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	if p.jobs != nil {
		record := &JobRecord{JobID: payload.ID, Kind: payload.Kind, SessionID: payload.SessionID}
		if err := p.jobs.PutPending(ctx, record); err != nil {
			p.logger.Warn("failed to record pending job", "error", err, "job_id", payload.ID)
		}
	}

	if err := p.queue.Send(ctx, body); err != nil {
		return "", fmt.Errorf("jobs: failed to enqueue job: %w", err)
	}
	p.logger.Info("trailing job enqueued", "job_id", payload.ID, "kind", payload.Kind, "session_id", payload.SessionID)
	return payload.ID, nil
}
