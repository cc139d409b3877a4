package reviewers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Reviewer, error)
	GetByEmail(ctx context.Context, email string) (*Reviewer, error)
	ListActiveByRole(ctx context.Context, role Role) ([]Reviewer, error)
	Create(ctx context.Context, reviewer *Reviewer) error
}

type postgresRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Reviewer, error) {
	var reviewer Reviewer
	err := r.db.WithContext(ctx).First(&reviewer, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reviewer, nil
}

func (r *postgresRepository) GetByEmail(ctx context.Context, email string) (*Reviewer, error) {
	var reviewer Reviewer
	err := r.db.WithContext(ctx).First(&reviewer, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reviewer, nil
}

// ListActiveByRole returns reviewers in a stable order so workload ties
// break deterministically at assignment time.
func (r *postgresRepository) ListActiveByRole(ctx context.Context, role Role) ([]Reviewer, error) {
	var list []Reviewer
	err := r.db.WithContext(ctx).
		Where("role = ? AND active = ?", role, true).
		Order("created_at ASC").
		Find(&list).Error
	return list, err
}

func (r *postgresRepository) Create(ctx context.Context, reviewer *Reviewer) error {
	return r.db.WithContext(ctx).Create(reviewer).Error
}
