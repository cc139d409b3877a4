package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"ridelink/driver-portal/driver-portal-backend/pkg/clock"
)

// HandlerFunc processes one job payload. Returning an error leaves the
// job queued for retry until the attempt budget runs out.
type HandlerFunc func(ctx context.Context, payload map[string]interface{}) error

// WorkerConfig configuration for the job worker
type WorkerConfig struct {
	PollInterval time.Duration `json:"poll_interval"`
	BatchSize    int           `json:"batch_size"`
	MaxAttempts  int           `json:"max_attempts"`
	RetryDelay   time.Duration `json:"retry_delay"`
}

// DefaultWorkerConfig returns default configuration
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    20,
		MaxAttempts:  5,
		RetryDelay:   time.Minute,
	}
}

// Worker polls the delayed-job table and dispatches due jobs to the
// registered handlers.
type Worker struct {
	db       *gorm.DB
	clock    clock.Clock
	logger   *zap.Logger
	config   WorkerConfig
	handlers map[string]HandlerFunc
	mu       sync.RWMutex
	running  bool
}

func NewWorker(db *gorm.DB, clk clock.Clock, logger *zap.Logger, config WorkerConfig) *Worker {
	return &Worker{
		db:       db,
		clock:    clk,
		logger:   logger,
		config:   config,
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a job type. Must be called before Start.
func (w *Worker) Register(jobType string, handler HandlerFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

// Start starts the poll loop
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("job worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("Starting job worker", zap.Duration("poll_interval", w.config.PollInterval))

	go w.pollLoop(ctx)
	return nil
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.pollAndExecute(ctx)

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			return
		case <-ticker.C:
			w.pollAndExecute(ctx)
		}
	}
}

func (w *Worker) pollAndExecute(ctx context.Context) {
	var due []DelayedJob
	err := w.db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", StatusQueued, w.clock.Now()).
		Order("run_at ASC").
		Limit(w.config.BatchSize).
		Find(&due).Error
	if err != nil {
		w.logger.Error("Failed to poll due jobs", zap.Error(err))
		return
	}

	for _, job := range due {
		w.executeJob(ctx, job)
	}
}

func (w *Worker) executeJob(ctx context.Context, job DelayedJob) {
	// Claim the job; another worker instance may have taken it.
	claim := w.db.WithContext(ctx).
		Model(&DelayedJob{}).
		Where("id = ? AND status = ?", job.ID, StatusQueued).
		Update("status", StatusRunning)
	if claim.Error != nil {
		w.logger.Error("Failed to claim job", zap.String("job_id", job.ID.String()), zap.Error(claim.Error))
		return
	}
	if claim.RowsAffected == 0 {
		return
	}

	w.mu.RLock()
	handler, ok := w.handlers[job.JobType]
	w.mu.RUnlock()
	if !ok {
		w.logger.Error("No handler registered for job type",
			zap.String("job_id", job.ID.String()), zap.String("job_type", job.JobType))
		w.markFailed(ctx, job, fmt.Errorf("no handler for job type %s", job.JobType))
		return
	}

	payload, err := decodePayload(job.Payload)
	if err != nil {
		w.markFailed(ctx, job, err)
		return
	}

	if err := handler(ctx, payload); err != nil {
		w.logger.Warn("Job handler failed",
			zap.String("job_id", job.ID.String()),
			zap.String("job_type", job.JobType),
			zap.Int("attempts", job.Attempts+1),
			zap.Error(err))
		w.retryOrFail(ctx, job, err)
		return
	}

	if err := w.db.WithContext(ctx).
		Model(&DelayedJob{}).
		Where("id = ?", job.ID).
		Update("status", StatusCompleted).Error; err != nil {
		w.logger.Error("Failed to mark job completed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

func (w *Worker) retryOrFail(ctx context.Context, job DelayedJob, cause error) {
	attempts := job.Attempts + 1
	if attempts >= w.config.MaxAttempts {
		w.markFailed(ctx, job, cause)
		return
	}

	msg := cause.Error()
	err := w.db.WithContext(ctx).
		Model(&DelayedJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":     StatusQueued,
			"attempts":   attempts,
			"run_at":     w.clock.Now().Add(w.config.RetryDelay),
			"last_error": msg,
		}).Error
	if err != nil {
		w.logger.Error("Failed to requeue job", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
}

func (w *Worker) markFailed(ctx context.Context, job DelayedJob, cause error) {
	msg := cause.Error()
	err := w.db.WithContext(ctx).
		Model(&DelayedJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":     StatusFailed,
			"attempts":   job.Attempts + 1,
			"last_error": msg,
		}).Error
	if err != nil {
		w.logger.Error("Failed to mark job failed", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	w.logger.Error("Job permanently failed",
		zap.String("job_id", job.ID.String()),
		zap.String("job_type", job.JobType),
		zap.Error(cause))
}

func decodePayload(raw []byte) (map[string]interface{}, error) {
	payload := make(map[string]interface{})
	if len(raw) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode job payload: %w", err)
	}
	return payload, nil
}
