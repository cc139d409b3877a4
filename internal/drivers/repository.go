package drivers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, driver *Driver) error
	GetByID(ctx context.Context, id uuid.UUID) (*Driver, error)
	List(ctx context.Context, search string, page, limit int) ([]Driver, int64, error)
	GetDocument(ctx context.Context, driverID uuid.UUID, field DocumentField) (*DriverDocument, error)
	SetDocumentKey(ctx context.Context, driverID uuid.UUID, field DocumentField, s3Key string) error
}

type postgresRepository struct {
	db *gorm.DB
}

func NewPostgresRepository(db *gorm.DB) Repository {
	return &postgresRepository{db: db}
}

// Create inserts the driver and seeds one document row per field so the
// per-field mirrors exist before anything is uploaded.
func (r *postgresRepository) Create(ctx context.Context, driver *Driver) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(driver).Error; err != nil {
			return fmt.Errorf("failed to create driver: %w", err)
		}
		for _, field := range AllDocumentFields {
			doc := DriverDocument{
				DriverID: driver.ID,
				Field:    field,
				Status:   StatusPending,
			}
			if err := tx.Create(&doc).Error; err != nil {
				return fmt.Errorf("failed to seed document row %s: %w", field, err)
			}
		}
		return nil
	})
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Driver, error) {
	var driver Driver
	err := r.db.WithContext(ctx).Preload("Documents").First(&driver, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get driver: %w", err)
	}
	return &driver, nil
}

func (r *postgresRepository) List(ctx context.Context, search string, page, limit int) ([]Driver, int64, error) {
	query := r.db.WithContext(ctx).Model(&Driver{})
	if search != "" {
		pattern := "%" + search + "%"
		query = query.Where("name ILIKE ? OR phone ILIKE ? OR email ILIKE ?", pattern, pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count drivers: %w", err)
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var result []Driver
	err := query.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&result).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list drivers: %w", err)
	}
	return result, total, nil
}

func (r *postgresRepository) GetDocument(ctx context.Context, driverID uuid.UUID, field DocumentField) (*DriverDocument, error) {
	var doc DriverDocument
	err := r.db.WithContext(ctx).
		First(&doc, "driver_id = ? AND field = ?", driverID, field).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (r *postgresRepository) SetDocumentKey(ctx context.Context, driverID uuid.UUID, field DocumentField, s3Key string) error {
	err := r.db.WithContext(ctx).
		Model(&DriverDocument{}).
		Where("driver_id = ? AND field = ?", driverID, field).
		Updates(map[string]interface{}{
			"s3_key": s3Key,
			"status": StatusPending,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to set document key: %w", err)
	}
	return nil
}
