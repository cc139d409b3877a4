package drivers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ridelink/driver-portal/driver-portal-backend/pkg/storage"
)

var (
	ErrNotFound        = errors.New("driver not found")
	ErrUnknownField    = errors.New("unknown document field")
	ErrDocumentMissing = errors.New("document not uploaded")
)

const presignedURLTTL = 15 * time.Minute

// VerificationStarter opens a verification request for the driver if none
// is live. Best-effort; implementations never fail the caller.
type VerificationStarter func(ctx context.Context, driverID uuid.UUID)

type RegisterRequest struct {
	Name  string
	Phone string
	Email string
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*Driver, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Driver, error)
	List(ctx context.Context, search string, page, limit int) ([]Driver, int64, error)
	UploadDocument(ctx context.Context, driverID uuid.UUID, field DocumentField, body io.Reader, filename, contentType string) (*DriverDocument, error)
	DocumentURL(ctx context.Context, driverID uuid.UUID, field DocumentField) (string, error)
}

type driverService struct {
	repo              Repository
	storage           storage.S3Client
	bucket            string
	startVerification VerificationStarter
	logger            *zap.Logger
}

func NewService(repo Repository, s3 storage.S3Client, bucket string, starter VerificationStarter, logger *zap.Logger) Service {
	return &driverService{
		repo:              repo,
		storage:           s3,
		bucket:            bucket,
		startVerification: starter,
		logger:            logger,
	}
}

// Register creates the driver profile and opens their first verification
// request. The request creation is fire-and-forget: a failure there never
// blocks profile creation.
func (s *driverService) Register(ctx context.Context, req RegisterRequest) (*Driver, error) {
	driver := &Driver{
		Name:               req.Name,
		Phone:              req.Phone,
		Email:              req.Email,
		VerificationStatus: StatusPending,
	}
	if err := s.repo.Create(ctx, driver); err != nil {
		return nil, err
	}

	s.logger.Info("driver registered",
		zap.String("driver_id", driver.ID.String()),
		zap.String("name", driver.Name))

	if s.startVerification != nil {
		s.startVerification(ctx, driver.ID)
	}
	return driver, nil
}

// GetByID loads the driver for the review screen. Viewing a profile also
// opens a verification request if none is live, so drivers created before
// the verification flow existed still enter the queue.
func (s *driverService) GetByID(ctx context.Context, id uuid.UUID) (*Driver, error) {
	driver, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, ErrNotFound
	}

	if s.startVerification != nil {
		s.startVerification(ctx, driver.ID)
	}
	return driver, nil
}

func (s *driverService) List(ctx context.Context, search string, page, limit int) ([]Driver, int64, error) {
	return s.repo.List(ctx, search, page, limit)
}

func (s *driverService) UploadDocument(ctx context.Context, driverID uuid.UUID, field DocumentField, body io.Reader, filename, contentType string) (*DriverDocument, error) {
	if !IsKnownField(field) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	driver, err := s.repo.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, ErrNotFound
	}

	previous, err := s.repo.GetDocument(ctx, driverID, field)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("drivers/%s/%s/%s%s", driverID, field, uuid.NewString(), path.Ext(filename))
	if err := s.storage.Upload(ctx, s.bucket, key, body, contentType); err != nil {
		return nil, err
	}

	if err := s.repo.SetDocumentKey(ctx, driverID, field, key); err != nil {
		return nil, err
	}

	// The replaced upload is garbage once the row points elsewhere.
	if previous != nil && previous.S3Key != "" && previous.S3Key != key {
		if err := s.storage.Delete(ctx, s.bucket, previous.S3Key); err != nil {
			s.logger.Warn("failed to delete superseded document object",
				zap.String("s3_key", previous.S3Key), zap.Error(err))
		}
	}

	s.logger.Info("document uploaded",
		zap.String("driver_id", driverID.String()),
		zap.String("field", string(field)),
		zap.String("s3_key", key))

	return s.repo.GetDocument(ctx, driverID, field)
}

func (s *driverService) DocumentURL(ctx context.Context, driverID uuid.UUID, field DocumentField) (string, error) {
	if !IsKnownField(field) {
		return "", fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	doc, err := s.repo.GetDocument(ctx, driverID, field)
	if err != nil {
		return "", err
	}
	if doc == nil || doc.S3Key == "" {
		return "", ErrDocumentMissing
	}
	return s.storage.GetPresignedURL(ctx, s.bucket, doc.S3Key, presignedURLTTL)
}
