package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"ridelink/driver-portal/driver-portal-backend/pkg/clock"
)

// SweeperConfig controls the fallback sweep cadences
type SweeperConfig struct {
	ExpiredInterval time.Duration `json:"expired_interval"`
	// ExpiredFastInterval optionally runs the expired-buffer sweep on a
	// second, tighter cadence. Zero disables it.
	ExpiredFastInterval time.Duration `json:"expired_fast_interval"`
	UnassignedInterval  time.Duration `json:"unassigned_interval"`
	BatchSize           int           `json:"batch_size"`
}

// DefaultSweeperConfig returns default configuration
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		ExpiredInterval:    2 * time.Hour,
		UnassignedInterval: time.Hour,
		BatchSize:          50,
	}
}

// Sweeper is the coarse safety net behind the delayed-job queue: it
// finalizes requests whose buffer expired without the job firing, and
// retries assignment for requests the fire-and-forget dispatch missed.
type Sweeper struct {
	repo     Repository
	service  Service
	assigner Assigner
	clock    clock.Clock
	logger   *zap.Logger
	config   SweeperConfig
	cron     *cron.Cron
}

func NewSweeper(repo Repository, service Service, assigner Assigner, clk clock.Clock, logger *zap.Logger, config SweeperConfig) *Sweeper {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &Sweeper{
		repo:     repo,
		service:  service,
		assigner: assigner,
		clock:    clk,
		logger:   logger,
		config:   config,
		cron:     cron.New(),
	}
}

// Start registers both sweeps on their cadences and starts the cron
// runner.
func (s *Sweeper) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(everySpec(s.config.ExpiredInterval), func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		s.SweepExpiredBuffers(sweepCtx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule expired-buffer sweep: %w", err)
	}

	if s.config.ExpiredFastInterval > 0 {
		_, err = s.cron.AddFunc(everySpec(s.config.ExpiredFastInterval), func() {
			sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
			defer cancel()
			s.SweepExpiredBuffers(sweepCtx)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule fast expired-buffer sweep: %w", err)
		}
	}

	_, err = s.cron.AddFunc(everySpec(s.config.UnassignedInterval), func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		defer cancel()
		s.SweepUnassigned(sweepCtx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule unassigned sweep: %w", err)
	}

	s.cron.Start()
	s.logger.Info("Fallback sweeper started",
		zap.Duration("expired_interval", s.config.ExpiredInterval),
		zap.Duration("unassigned_interval", s.config.UnassignedInterval))
	return nil
}

// Stop stops the cron runner and waits for running sweeps
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// SweepExpiredBuffers finalizes approved requests whose buffer expired.
// Finalize is idempotent, so racing the queue job or a concurrent sweep
// is harmless. One request's failure never aborts the batch.
func (s *Sweeper) SweepExpiredBuffers(ctx context.Context) {
	expired, err := s.repo.FindExpiredApproved(ctx, s.clock.Now(), s.config.BatchSize)
	if err != nil {
		s.logger.Error("Expired-buffer sweep query failed", zap.Error(err))
		return
	}
	if len(expired) == 0 {
		return
	}

	succeeded, failed := 0, 0
	for _, request := range expired {
		if err := s.service.Finalize(ctx, request.ID); err != nil {
			failed++
			s.logger.Error("Sweep finalize failed",
				zap.String("request_id", request.ID.String()), zap.Error(err))
			continue
		}
		succeeded++
	}

	s.logger.Info("Expired-buffer sweep completed",
		zap.Int("attempted", len(expired)),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed))
}

// SweepUnassigned retries assignment for pending requests with no
// reviewer.
func (s *Sweeper) SweepUnassigned(ctx context.Context) {
	pending, err := s.repo.FindUnassignedPending(ctx, s.config.BatchSize)
	if err != nil {
		s.logger.Error("Unassigned sweep query failed", zap.Error(err))
		return
	}
	if len(pending) == 0 {
		return
	}

	if s.assigner == nil {
		s.logger.Warn("Unassigned sweep skipped, no assigner wired")
		return
	}

	assigned, failed := 0, 0
	for _, request := range pending {
		ok, err := s.assigner.TryAssign(ctx, request.ID, request.Category)
		if err != nil {
			failed++
			s.logger.Error("Sweep assignment failed",
				zap.String("request_id", request.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			assigned++
		}
	}

	s.logger.Info("Unassigned sweep completed",
		zap.Int("attempted", len(pending)),
		zap.Int("assigned", assigned),
		zap.Int("failed", failed))
}

// everySpec renders a duration as a cron @every spec
func everySpec(d time.Duration) string {
	return "@every " + d.String()
}
