package verification

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ridelink/driver-portal/driver-portal-backend/internal/drivers"
)

// RequestStatus is the lifecycle state of a verification request
type RequestStatus string

const (
	StatusPending         RequestStatus = "PENDING"
	StatusInReview        RequestStatus = "IN_REVIEW"
	StatusApproved        RequestStatus = "APPROVED"
	StatusFinalApproved   RequestStatus = "FINAL_APPROVED"
	StatusRejected        RequestStatus = "REJECTED"
	StatusRevertRequested RequestStatus = "REVERT_REQUESTED"
	StatusReverted        RequestStatus = "REVERTED"
)

// LiveStatuses are the non-terminal states; a driver may hold at most one
// request in any of them.
var LiveStatuses = []RequestStatus{StatusPending, StatusInReview, StatusApproved, StatusRevertRequested}

// IsTerminal reports whether the request can no longer transition
func (s RequestStatus) IsTerminal() bool {
	return s == StatusFinalApproved || s == StatusRejected || s == StatusReverted
}

// RequestCategory determines which reviewer role handles the request
type RequestCategory string

const (
	CategoryNewDriver      RequestCategory = "NEW_DRIVER"
	CategoryReverification RequestCategory = "REVERIFICATION"
)

// DocumentActionType is a reviewer's decision on a single document field
type DocumentActionType string

const (
	ActionApproved DocumentActionType = "APPROVED"
	ActionRejected DocumentActionType = "REJECTED"
)

// MinReasonLength applies to rejection and revert reasons
const MinReasonLength = 10

// VerificationRequest is one verification attempt for a driver. Requests
// are never hard-deleted; terminal rows remain as the audit trail.
type VerificationRequest struct {
	ID                 uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	DriverID           uuid.UUID       `gorm:"type:uuid;not null;index" json:"driver_id"`
	Category           RequestCategory `gorm:"not null" json:"category"`
	Status             RequestStatus   `gorm:"not null;default:'PENDING';index" json:"status"`
	AssignedReviewerID *uuid.UUID      `gorm:"type:uuid;index" json:"assigned_reviewer_id,omitempty"`

	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	ApprovedByID    *uuid.UUID `gorm:"type:uuid" json:"approved_by_id,omitempty"`
	BufferExpiresAt *time.Time `gorm:"index" json:"buffer_expires_at,omitempty"`

	RevertReason        *string    `json:"revert_reason,omitempty"`
	RevertRequestedByID *uuid.UUID `gorm:"type:uuid" json:"revert_requested_by_id,omitempty"`
	RevertRequestedAt   *time.Time `json:"revert_requested_at,omitempty"`

	RejectionReason *string `json:"rejection_reason,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Driver  *drivers.Driver  `gorm:"foreignKey:DriverID" json:"driver,omitempty"`
	Actions []DocumentAction `gorm:"foreignKey:RequestID" json:"actions,omitempty"`
}

// DocumentAction is an append-only log entry of a reviewer decision on a
// single document field. Immutable once written.
type DocumentAction struct {
	ID              uuid.UUID             `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	RequestID       uuid.UUID             `gorm:"type:uuid;not null;index" json:"request_id"`
	Field           drivers.DocumentField `gorm:"not null" json:"field"`
	Action          DocumentActionType    `gorm:"not null" json:"action"`
	RejectionReason *string               `json:"rejection_reason,omitempty"`
	ActorID         uuid.UUID             `gorm:"type:uuid;not null" json:"actor_id"`
	ActionAt        time.Time             `json:"action_at"`
}

// ListFilter narrows List queries; zero values mean "no filter"
type ListFilter struct {
	Status     RequestStatus
	Category   RequestCategory
	ReviewerID *uuid.UUID
	From       *time.Time
	To         *time.Time
	Search     string // matched against driver name / phone
	Page       int
	Limit      int
}

// ReviewerLoad pairs a reviewer with their live workload count
type ReviewerLoad struct {
	ReviewerID uuid.UUID
	Count      int
}
