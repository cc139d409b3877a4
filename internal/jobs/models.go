package jobs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// DelayedJob is a durably stored job executed once its run_at passes.
// The Key column is unique: re-enqueueing the same key replaces the
// pending job instead of duplicating it.
type DelayedJob struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Key       string         `gorm:"uniqueIndex;not null" json:"key"`
	JobType   string         `gorm:"not null;index" json:"job_type"`
	Payload   datatypes.JSON `json:"payload"`
	Status    JobStatus      `gorm:"not null;default:'queued';index" json:"status"`
	RunAt     time.Time      `gorm:"not null;index" json:"run_at"`
	Attempts  int            `gorm:"not null;default:0" json:"attempts"`
	LastError *string        `json:"last_error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
