package verification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ridelink/driver-portal/driver-portal-backend/internal/drivers"
)

// Repository is the transactional store behind the lifecycle manager.
// Every lifecycle transition runs its request, driver-mirror and
// document-mirror writes through a single Transaction call.
type Repository interface {
	Transaction(ctx context.Context, fn func(Repository) error) error

	CreateRequest(ctx context.Context, req *VerificationRequest) error
	GetRequestByID(ctx context.Context, id uuid.UUID) (*VerificationRequest, error)
	FindLiveByDriver(ctx context.Context, driverID uuid.UUID) (*VerificationRequest, error)
	UpdateRequest(ctx context.Context, req *VerificationRequest) error
	// UpdateRequestWhereStatus applies updates only if the request is still
	// in the expected status. Returns false when the precondition failed.
	UpdateRequestWhereStatus(ctx context.Context, id uuid.UUID, expected RequestStatus, updates map[string]interface{}) (bool, error)
	ListRequests(ctx context.Context, filter ListFilter) ([]VerificationRequest, int64, error)
	FindExpiredApproved(ctx context.Context, asOf time.Time, limit int) ([]VerificationRequest, error)
	FindUnassignedPending(ctx context.Context, limit int) ([]VerificationRequest, error)

	CreateAction(ctx context.Context, action *DocumentAction) error
	ListActions(ctx context.Context, requestID uuid.UUID) ([]DocumentAction, error)

	ReviewerWorkloads(ctx context.Context, reviewerIDs []uuid.UUID) (map[uuid.UUID]int, error)

	GetDriver(ctx context.Context, id uuid.UUID) (*drivers.Driver, error)
	GetDriverDocuments(ctx context.Context, driverID uuid.UUID) ([]drivers.DriverDocument, error)
	UpdateDriverStatus(ctx context.Context, driverID uuid.UUID, status drivers.VerificationStatus) error
	UpdateDriverDocumentStatus(ctx context.Context, driverID uuid.UUID, field drivers.DocumentField, status drivers.VerificationStatus) error
	SetAllDriverDocumentStatuses(ctx context.Context, driverID uuid.UUID, status drivers.VerificationStatus) error
}

type postgresRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&postgresRepository{db: tx})
	})
}

func (r *postgresRepository) CreateRequest(ctx context.Context, req *VerificationRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *postgresRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*VerificationRequest, error) {
	var req VerificationRequest
	err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *postgresRepository) FindLiveByDriver(ctx context.Context, driverID uuid.UUID) (*VerificationRequest, error) {
	var req VerificationRequest
	err := r.db.WithContext(ctx).
		Where("driver_id = ? AND status IN ?", driverID, LiveStatuses).
		Order("created_at DESC").
		First(&req).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *postgresRepository) UpdateRequest(ctx context.Context, req *VerificationRequest) error {
	return r.db.WithContext(ctx).Save(req).Error
}

func (r *postgresRepository) UpdateRequestWhereStatus(ctx context.Context, id uuid.UUID, expected RequestStatus, updates map[string]interface{}) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&VerificationRequest{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *postgresRepository) ListRequests(ctx context.Context, filter ListFilter) ([]VerificationRequest, int64, error) {
	query := r.db.WithContext(ctx).Model(&VerificationRequest{})

	if filter.Status != "" {
		query = query.Where("verification_requests.status = ?", filter.Status)
	}
	if filter.Category != "" {
		query = query.Where("verification_requests.category = ?", filter.Category)
	}
	if filter.ReviewerID != nil {
		query = query.Where("verification_requests.assigned_reviewer_id = ?", *filter.ReviewerID)
	}
	if filter.From != nil {
		query = query.Where("verification_requests.created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("verification_requests.created_at <= ?", *filter.To)
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		query = query.
			Joins("JOIN drivers ON drivers.id = verification_requests.driver_id").
			Where("drivers.name ILIKE ? OR drivers.phone ILIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var requests []VerificationRequest
	err := query.
		Preload("Driver").
		Order("verification_requests.created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&requests).Error
	return requests, total, err
}

func (r *postgresRepository) FindExpiredApproved(ctx context.Context, asOf time.Time, limit int) ([]VerificationRequest, error) {
	var requests []VerificationRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND buffer_expires_at <= ?", StatusApproved, asOf).
		Order("buffer_expires_at ASC").
		Limit(limit).
		Find(&requests).Error
	return requests, err
}

func (r *postgresRepository) FindUnassignedPending(ctx context.Context, limit int) ([]VerificationRequest, error) {
	var requests []VerificationRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND assigned_reviewer_id IS NULL", StatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&requests).Error
	return requests, err
}

func (r *postgresRepository) CreateAction(ctx context.Context, action *DocumentAction) error {
	return r.db.WithContext(ctx).Create(action).Error
}

func (r *postgresRepository) ListActions(ctx context.Context, requestID uuid.UUID) ([]DocumentAction, error) {
	var actions []DocumentAction
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("action_at ASC").
		Find(&actions).Error
	return actions, err
}

// ReviewerWorkloads counts live requests per reviewer. Always recomputed,
// never cached; staleness here would defeat the balancer.
func (r *postgresRepository) ReviewerWorkloads(ctx context.Context, reviewerIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	workloads := make(map[uuid.UUID]int, len(reviewerIDs))
	if len(reviewerIDs) == 0 {
		return workloads, nil
	}

	type row struct {
		AssignedReviewerID uuid.UUID
		Count              int
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&VerificationRequest{}).
		Select("assigned_reviewer_id, COUNT(*) as count").
		Where("assigned_reviewer_id IN ? AND status IN ?", reviewerIDs, []RequestStatus{StatusPending, StatusInReview}).
		Group("assigned_reviewer_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	for _, row := range rows {
		workloads[row.AssignedReviewerID] = row.Count
	}
	return workloads, nil
}

func (r *postgresRepository) GetDriver(ctx context.Context, id uuid.UUID) (*drivers.Driver, error) {
	var driver drivers.Driver
	err := r.db.WithContext(ctx).First(&driver, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &driver, nil
}

func (r *postgresRepository) GetDriverDocuments(ctx context.Context, driverID uuid.UUID) ([]drivers.DriverDocument, error) {
	var docs []drivers.DriverDocument
	err := r.db.WithContext(ctx).
		Where("driver_id = ?", driverID).
		Find(&docs).Error
	return docs, err
}

func (r *postgresRepository) UpdateDriverStatus(ctx context.Context, driverID uuid.UUID, status drivers.VerificationStatus) error {
	return r.db.WithContext(ctx).
		Model(&drivers.Driver{}).
		Where("id = ?", driverID).
		Update("verification_status", status).Error
}

func (r *postgresRepository) UpdateDriverDocumentStatus(ctx context.Context, driverID uuid.UUID, field drivers.DocumentField, status drivers.VerificationStatus) error {
	return r.db.WithContext(ctx).
		Model(&drivers.DriverDocument{}).
		Where("driver_id = ? AND field = ?", driverID, field).
		Update("status", status).Error
}

func (r *postgresRepository) SetAllDriverDocumentStatuses(ctx context.Context, driverID uuid.UUID, status drivers.VerificationStatus) error {
	return r.db.WithContext(ctx).
		Model(&drivers.DriverDocument{}).
		Where("driver_id = ?", driverID).
		Update("status", status).Error
}
