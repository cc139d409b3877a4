package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ridelink/driver-portal/driver-portal-backend/pkg/clock"
)

// Queue is the Postgres-backed delayed-job queue. Jobs share the
// application's database so enqueueing can ride the same connection as
// the business writes that trigger it.
type Queue struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewQueue(db *gorm.DB, clk clock.Clock) *Queue {
	return &Queue{db: db, clock: clk}
}

// Enqueue schedules a job to run after delay. A queued or running job
// with the same key is replaced, so at most one outstanding job exists
// per key.
func (q *Queue) Enqueue(ctx context.Context, key, jobType string, payload map[string]interface{}, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal job payload: %w", err)
	}

	job := &DelayedJob{
		Key:     key,
		JobType: jobType,
		Payload: data,
		Status:  StatusQueued,
		RunAt:   q.clock.Now().Add(delay),
	}

	return q.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "key"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"job_type":   jobType,
				"payload":    job.Payload,
				"status":     StatusQueued,
				"run_at":     job.RunAt,
				"attempts":   0,
				"last_error": nil,
			}),
		}).
		Create(job).Error
}

// Cancel removes a pending job by key. Returns whether one was found.
// Best-effort: a job that already started running is not interrupted.
func (q *Queue) Cancel(ctx context.Context, key string) (bool, error) {
	result := q.db.WithContext(ctx).
		Where("key = ? AND status = ?", key, StatusQueued).
		Delete(&DelayedJob{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
