package reviewers

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role determines which request categories a reviewer can take and which
// restricted transitions they may perform.
type Role string

const (
	RoleOnboardingAgent Role = "ONBOARDING_AGENT"
	RoleComplianceAgent Role = "COMPLIANCE_AGENT"
	RoleAdmin           Role = "ADMIN"
	RoleSuperAdmin      Role = "SUPER_ADMIN"
)

// IsElevated reports whether the role may decide revert requests
func (r Role) IsElevated() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// Reviewer is a staff member who reviews verification requests
type Reviewer struct {
	ID           uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name         string         `gorm:"not null" json:"name"`
	Email        string         `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string         `gorm:"not null" json:"-"`
	Role         Role           `gorm:"not null;index" json:"role"`
	Active       bool           `gorm:"not null;default:true" json:"active"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}
