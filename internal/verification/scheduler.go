package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ridelink/driver-portal/driver-portal-backend/pkg/clock"
)

// JobTypeFinalize is the delayed-job type that fires Finalize once a
// request's buffer window expires.
const JobTypeFinalize = "verification.finalize"

// DelayedQueue is the durable queue behind the buffer scheduler. Keys
// have unique-replacement semantics: enqueueing an existing key replaces
// the pending job.
type DelayedQueue interface {
	Enqueue(ctx context.Context, key, jobType string, payload map[string]interface{}, delay time.Duration) error
	Cancel(ctx context.Context, key string) (bool, error)
}

type bufferScheduler struct {
	queue  DelayedQueue
	clock  clock.Clock
	logger *zap.Logger
}

// NewScheduler wraps the delayed-job queue with the one-job-per-request
// keying scheme. The scheduler holds no business logic; the job handler
// calls Finalize.
func NewScheduler(queue DelayedQueue, clk clock.Clock, logger *zap.Logger) Scheduler {
	return &bufferScheduler{queue: queue, clock: clk, logger: logger}
}

func jobKey(requestID uuid.UUID) string {
	return "verify:" + requestID.String()
}

func (s *bufferScheduler) Schedule(ctx context.Context, requestID uuid.UUID, expiresAt time.Time) error {
	delay := expiresAt.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	err := s.queue.Enqueue(ctx, jobKey(requestID), JobTypeFinalize, map[string]interface{}{
		"request_id": requestID.String(),
	}, delay)
	if err != nil {
		return err
	}

	s.logger.Info("finalization job scheduled",
		zap.String("request_id", requestID.String()),
		zap.Duration("delay", delay))
	return nil
}

func (s *bufferScheduler) Cancel(ctx context.Context, requestID uuid.UUID) (bool, error) {
	return s.queue.Cancel(ctx, jobKey(requestID))
}

// NewFinalizeHandler returns the job-worker handler for finalization
// jobs. Errors propagate so the queue's retry policy re-runs the job;
// Finalize itself is idempotent, so retries after partial failures are
// safe.
func NewFinalizeHandler(service Service) func(ctx context.Context, payload map[string]interface{}) error {
	return func(ctx context.Context, payload map[string]interface{}) error {
		raw, ok := payload["request_id"].(string)
		if !ok {
			return fmt.Errorf("finalize job payload missing request_id")
		}
		requestID, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("finalize job has invalid request_id %q: %w", raw, err)
		}
		return service.Finalize(ctx, requestID)
	}
}
