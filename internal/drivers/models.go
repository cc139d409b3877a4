package drivers

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// VerificationStatus mirrors the last finalized outcome of a driver's
// verification. It is deliberately stale during the approval buffer
// window: only Finalize and Reject write it.
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "PENDING"
	StatusVerified VerificationStatus = "VERIFIED"
	StatusRejected VerificationStatus = "REJECTED"
)

// DocumentField enumerates the document slots a driver submits.
type DocumentField string

const (
	FieldLicense             DocumentField = "license"
	FieldInsurance           DocumentField = "insurance"
	FieldVehicleRegistration DocumentField = "vehicle_registration"
	FieldNationalID          DocumentField = "national_id"
	FieldProfilePhoto        DocumentField = "profile_photo"
)

// AllDocumentFields in stable order.
var AllDocumentFields = []DocumentField{
	FieldLicense,
	FieldInsurance,
	FieldVehicleRegistration,
	FieldNationalID,
	FieldProfilePhoto,
}

// Driver is the subject under verification
type Driver struct {
	ID                 uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name               string             `gorm:"not null" json:"name"`
	Phone              string             `gorm:"index" json:"phone"`
	Email              string             `json:"email"`
	VerificationStatus VerificationStatus `gorm:"not null;default:'PENDING'" json:"verification_status"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	DeletedAt          gorm.DeletedAt     `gorm:"index" json:"-"`

	Documents []DriverDocument `gorm:"foreignKey:DriverID" json:"documents,omitempty"`
}

// DriverDocument is the per-field status mirror plus the uploaded file location
type DriverDocument struct {
	ID        uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	DriverID  uuid.UUID          `gorm:"type:uuid;not null;index:idx_driver_field,unique" json:"driver_id"`
	Field     DocumentField      `gorm:"not null;index:idx_driver_field,unique" json:"field"`
	Status    VerificationStatus `gorm:"not null;default:'PENDING'" json:"status"`
	S3Key     string             `json:"s3_key,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// IsKnownField reports whether a field name is one of the document slots
func IsKnownField(field DocumentField) bool {
	for _, f := range AllDocumentFields {
		if f == field {
			return true
		}
	}
	return false
}
