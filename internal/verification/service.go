package verification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ridelink/driver-portal/driver-portal-backend/internal/drivers"
	"ridelink/driver-portal/driver-portal-backend/internal/reviewers"
	"ridelink/driver-portal/driver-portal-backend/pkg/clock"
	"ridelink/driver-portal/driver-portal-backend/pkg/workflows"
)

// Notifier pushes events to drivers and reviewers. Delivery is
// best-effort and fire-and-forget: implementations log failures and
// never return them.
type Notifier interface {
	NotifyDriver(ctx context.Context, driverID uuid.UUID, event string, data map[string]interface{})
	NotifyReviewer(ctx context.Context, reviewerID uuid.UUID, event string, data map[string]interface{})
}

// Scheduler manages the single delayed finalization job per request.
type Scheduler interface {
	Schedule(ctx context.Context, requestID uuid.UUID, expiresAt time.Time) error
	Cancel(ctx context.Context, requestID uuid.UUID) (bool, error)
}

// Assigner picks a reviewer for a request. Implemented by the assignment
// balancer; wired after construction to break the dependency loop.
type Assigner interface {
	TryAssign(ctx context.Context, requestID uuid.UUID, category RequestCategory) (bool, error)
}

// Notification events pushed to drivers
const (
	EventApproved  = "verification_approved"
	EventRejected  = "verification_rejected"
	EventFinalized = "verification_completed"
	EventAssigned  = "request_assigned"
)

type RecordActionRequest struct {
	RequestID uuid.UUID
	Field     drivers.DocumentField
	Action    DocumentActionType
	Reason    *string
	ActorID   uuid.UUID
}

type Service interface {
	EnsureExists(ctx context.Context, driverID uuid.UUID) *VerificationRequest
	Assign(ctx context.Context, requestID, reviewerID uuid.UUID) error
	RecordDocumentAction(ctx context.Context, req RecordActionRequest) error
	Approve(ctx context.Context, requestID, approverID uuid.UUID) error
	RequestRevert(ctx context.Context, requestID uuid.UUID, reason string, requesterID uuid.UUID) error
	HandleRevertDecision(ctx context.Context, requestID uuid.UUID, approve bool, handlerID uuid.UUID, handlerRole reviewers.Role) error
	Finalize(ctx context.Context, requestID uuid.UUID) error
	Reject(ctx context.Context, requestID uuid.UUID, reason string, rejectorID uuid.UUID) error

	GetByID(ctx context.Context, id uuid.UUID) (*VerificationRequest, error)
	List(ctx context.Context, filter ListFilter) ([]VerificationRequest, int64, error)
	GetActions(ctx context.Context, requestID uuid.UUID) ([]DocumentAction, error)

	SetAssigner(a Assigner)
}

type lifecycleService struct {
	repo      Repository
	scheduler Scheduler
	notifier  Notifier
	assigner  Assigner
	machine   *workflows.StateMachine
	clock     clock.Clock
	buffer    time.Duration
	logger    *zap.Logger
}

func NewService(repo Repository, scheduler Scheduler, notifier Notifier, clk clock.Clock, buffer time.Duration, logger *zap.Logger) Service {
	return &lifecycleService{
		repo:      repo,
		scheduler: scheduler,
		notifier:  notifier,
		machine:   workflows.NewStateMachine(),
		clock:     clk,
		buffer:    buffer,
		logger:    logger,
	}
}

func (s *lifecycleService) SetAssigner(a Assigner) {
	s.assigner = a
}

// EnsureExists creates a PENDING request for the driver if no live one
// exists. Best-effort: every failure is logged and swallowed so callers
// on the profile-creation and admin-view paths are never blocked.
func (s *lifecycleService) EnsureExists(ctx context.Context, driverID uuid.UUID) *VerificationRequest {
	existing, err := s.repo.FindLiveByDriver(ctx, driverID)
	if err != nil {
		s.logger.Error("ensure request: live lookup failed", zap.String("driver_id", driverID.String()), zap.Error(err))
		return nil
	}
	if existing != nil {
		return existing
	}

	driver, err := s.repo.GetDriver(ctx, driverID)
	if err != nil || driver == nil {
		s.logger.Error("ensure request: driver lookup failed", zap.String("driver_id", driverID.String()), zap.Error(err))
		return nil
	}

	category := CategoryNewDriver
	if driver.VerificationStatus == drivers.StatusVerified {
		category = CategoryReverification
	}

	request := &VerificationRequest{
		DriverID: driverID,
		Category: category,
		Status:   StatusPending,
	}
	if err := s.repo.CreateRequest(ctx, request); err != nil {
		s.logger.Error("ensure request: create failed", zap.String("driver_id", driverID.String()), zap.Error(err))
		return nil
	}

	s.logger.Info("verification request created",
		zap.String("request_id", request.ID.String()),
		zap.String("driver_id", driverID.String()),
		zap.String("category", string(category)))

	s.dispatchAssignment(request.ID, category)

	return request
}

// dispatchAssignment fires TryAssign in the background. Failures are only
// ever observed by the unassigned-request sweep, never by the caller.
func (s *lifecycleService) dispatchAssignment(requestID uuid.UUID, category RequestCategory) {
	if s.assigner == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		assigned, err := s.assigner.TryAssign(ctx, requestID, category)
		if err != nil {
			s.logger.Warn("background assignment failed, sweep will retry",
				zap.String("request_id", requestID.String()), zap.Error(err))
			return
		}
		if !assigned {
			s.logger.Info("no eligible reviewer yet, sweep will retry",
				zap.String("request_id", requestID.String()))
		}
	}()
}

func (s *lifecycleService) Assign(ctx context.Context, requestID, reviewerID uuid.UUID) error {
	request, err := s.mustGet(ctx, requestID)
	if err != nil {
		return err
	}
	if !s.machine.CanTransition(string(request.Status), string(StatusInReview)) {
		return fmt.Errorf("%w: cannot assign from %s", ErrInvalidState, request.Status)
	}

	err = s.repo.Transaction(ctx, func(tx Repository) error {
		request.Status = StatusInReview
		request.AssignedReviewerID = &reviewerID
		return tx.UpdateRequest(ctx, request)
	})
	if err != nil {
		return err
	}

	s.notifier.NotifyReviewer(ctx, reviewerID, EventAssigned, map[string]interface{}{
		"request_id": request.ID.String(),
		"driver_id":  request.DriverID.String(),
		"category":   string(request.Category),
	})
	return nil
}

func (s *lifecycleService) RecordDocumentAction(ctx context.Context, req RecordActionRequest) error {
	if req.Action == ActionRejected {
		if req.Reason == nil || len(*req.Reason) < MinReasonLength {
			return fmt.Errorf("%w: rejection reason must be at least %d characters", ErrInvalidArgument, MinReasonLength)
		}
	}

	request, err := s.mustGet(ctx, req.RequestID)
	if err != nil {
		return err
	}
	if request.Status.IsTerminal() {
		return fmt.Errorf("%w: request already %s", ErrInvalidState, request.Status)
	}

	docs, err := s.repo.GetDriverDocuments(ctx, request.DriverID)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("%w: driver has no documents to review", ErrInvalidArgument)
	}
	hasField := false
	for _, doc := range docs {
		if doc.Field == req.Field {
			hasField = true
			break
		}
	}
	if !hasField {
		return fmt.Errorf("%w: unknown document field %q", ErrInvalidArgument, req.Field)
	}

	fieldStatus := drivers.StatusVerified
	if req.Action == ActionRejected {
		fieldStatus = drivers.StatusRejected
	}
	wasApproved := request.Status == StatusApproved

	err = s.repo.Transaction(ctx, func(tx Repository) error {
		action := &DocumentAction{
			RequestID:       req.RequestID,
			Field:           req.Field,
			Action:          req.Action,
			RejectionReason: req.Reason,
			ActorID:         req.ActorID,
			ActionAt:        s.clock.Now(),
		}
		if err := tx.CreateAction(ctx, action); err != nil {
			return err
		}

		// Field mirrors reflect individual outcomes immediately; they are
		// informational, not activation.
		if err := tx.UpdateDriverDocumentStatus(ctx, request.DriverID, req.Field, fieldStatus); err != nil {
			return err
		}

		// One rejected field fails the whole request.
		if req.Action == ActionRejected {
			request.Status = StatusRejected
			request.RejectionReason = req.Reason
			request.BufferExpiresAt = nil
			if err := tx.UpdateRequest(ctx, request); err != nil {
				return err
			}
			return tx.UpdateDriverStatus(ctx, request.DriverID, drivers.StatusRejected)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if req.Action == ActionRejected {
		if wasApproved {
			if _, err := s.scheduler.Cancel(ctx, req.RequestID); err != nil {
				s.logger.Warn("failed to cancel finalization job after field rejection",
					zap.String("request_id", req.RequestID.String()), zap.Error(err))
			}
		}
		s.notifier.NotifyDriver(ctx, request.DriverID, EventRejected, map[string]interface{}{
			"request_id": request.ID.String(),
			"field":      string(req.Field),
			"reason":     *req.Reason,
		})
	}
	return nil
}

// Approve starts the buffer window. It never touches driver or document
// mirrors: activation waits for Finalize. The finalization job is
// enqueued before returning so no concurrent sweep can observe a stale
// window; if the enqueue fails the transition stands and the
// expired-buffer sweep is the safety net.
func (s *lifecycleService) Approve(ctx context.Context, requestID, approverID uuid.UUID) error {
	request, err := s.mustGet(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status == StatusFinalApproved {
		return fmt.Errorf("%w: request already finalized", ErrInvalidState)
	}

	now := s.clock.Now()
	expiresAt := now.Add(s.buffer)

	err = s.repo.Transaction(ctx, func(tx Repository) error {
		request.Status = StatusApproved
		request.ApprovedAt = &now
		request.ApprovedByID = &approverID
		request.BufferExpiresAt = &expiresAt
		return tx.UpdateRequest(ctx, request)
	})
	if err != nil {
		return err
	}

	if err := s.scheduler.Schedule(ctx, requestID, expiresAt); err != nil {
		// The buffer window on the row is authoritative; the sweep will
		// still finalize this request.
		s.logger.Error("failed to enqueue finalization job, relying on sweep",
			zap.String("request_id", requestID.String()),
			zap.Time("buffer_expires_at", expiresAt),
			zap.Error(err))
	}

	s.notifier.NotifyDriver(ctx, request.DriverID, EventApproved, map[string]interface{}{
		"request_id":        request.ID.String(),
		"buffer_expires_at": expiresAt.Format(time.RFC3339),
	})
	return nil
}

func (s *lifecycleService) RequestRevert(ctx context.Context, requestID uuid.UUID, reason string, requesterID uuid.UUID) error {
	if len(reason) < MinReasonLength {
		return fmt.Errorf("%w: revert reason must be at least %d characters", ErrInvalidArgument, MinReasonLength)
	}

	request, err := s.mustGet(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != StatusApproved {
		return fmt.Errorf("%w: revert only possible while approved, current status %s", ErrInvalidState, request.Status)
	}
	if request.BufferExpiresAt == nil || !s.clock.Now().Before(*request.BufferExpiresAt) {
		return fmt.Errorf("%w: buffer expired", ErrInvalidState)
	}

	now := s.clock.Now()
	updated, err := s.repo.UpdateRequestWhereStatus(ctx, requestID, StatusApproved, map[string]interface{}{
		"status":                 StatusRevertRequested,
		"revert_reason":          reason,
		"revert_requested_by_id": requesterID,
		"revert_requested_at":    now,
	})
	if err != nil {
		return err
	}
	if !updated {
		// Lost the race against Finalize or another revert.
		return fmt.Errorf("%w: request no longer approved", ErrInvalidState)
	}

	// Cancellation is advisory: Finalize re-checks status anyway.
	if found, err := s.scheduler.Cancel(ctx, requestID); err != nil {
		s.logger.Warn("failed to cancel finalization job",
			zap.String("request_id", requestID.String()), zap.Error(err))
	} else if !found {
		s.logger.Info("no finalization job to cancel, job may have fired",
			zap.String("request_id", requestID.String()))
	}
	return nil
}

func (s *lifecycleService) HandleRevertDecision(ctx context.Context, requestID uuid.UUID, approve bool, handlerID uuid.UUID, handlerRole reviewers.Role) error {
	if !handlerRole.IsElevated() {
		return fmt.Errorf("%w: revert decisions require an elevated role", ErrForbidden)
	}

	request, err := s.mustGet(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != StatusRevertRequested {
		return fmt.Errorf("%w: no pending revert request, current status %s", ErrInvalidState, request.Status)
	}

	if !approve {
		// Denied: the request resumes its original buffer window. If the
		// window already passed during deliberation, the expired-buffer
		// sweep finalizes it on the next pass; the scheduled job may have
		// fired and no-opped while the status was REVERT_REQUESTED.
		updated, err := s.repo.UpdateRequestWhereStatus(ctx, requestID, StatusRevertRequested, map[string]interface{}{
			"status":                 StatusApproved,
			"revert_reason":          nil,
			"revert_requested_by_id": nil,
			"revert_requested_at":    nil,
		})
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("%w: request no longer awaiting revert decision", ErrInvalidState)
		}
		return nil
	}

	err = s.repo.Transaction(ctx, func(tx Repository) error {
		updated, err := tx.UpdateRequestWhereStatus(ctx, requestID, StatusRevertRequested, map[string]interface{}{
			"status":            StatusReverted,
			"approved_at":       nil,
			"approved_by_id":    nil,
			"buffer_expires_at": nil,
		})
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("%w: request no longer awaiting revert decision", ErrInvalidState)
		}

		// Full rollback: the driver re-enters review from scratch.
		if err := tx.UpdateDriverStatus(ctx, request.DriverID, drivers.StatusPending); err != nil {
			return err
		}
		return tx.SetAllDriverDocumentStatuses(ctx, request.DriverID, drivers.StatusPending)
	})
	if err != nil {
		return err
	}

	s.logger.Info("revert approved, driver re-enters review",
		zap.String("request_id", requestID.String()),
		zap.String("handled_by", handlerID.String()))

	// Open a fresh request so the driver is picked up by assignment again.
	s.EnsureExists(ctx, request.DriverID)
	return nil
}

// Finalize activates the driver once the buffer has expired. Idempotent
// and safe to call concurrently from the delayed job and the sweep: the
// conditional status update guarantees at most one caller applies the
// transition and sends the activation notification.
func (s *lifecycleService) Finalize(ctx context.Context, requestID uuid.UUID) error {
	request, err := s.mustGet(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status != StatusApproved {
		// Covers revert races and duplicate deliveries.
		s.logger.Info("finalize no-op, request not approved",
			zap.String("request_id", requestID.String()),
			zap.String("status", string(request.Status)))
		return nil
	}
	if request.BufferExpiresAt != nil && s.clock.Now().Before(*request.BufferExpiresAt) {
		// The scheduler must never fire early; a misfired job is ignored.
		s.logger.Warn("finalize called before buffer expiry, ignoring",
			zap.String("request_id", requestID.String()),
			zap.Time("buffer_expires_at", *request.BufferExpiresAt))
		return nil
	}

	applied := false
	err = s.repo.Transaction(ctx, func(tx Repository) error {
		updated, err := tx.UpdateRequestWhereStatus(ctx, requestID, StatusApproved, map[string]interface{}{
			"status":            StatusFinalApproved,
			"buffer_expires_at": nil,
		})
		if err != nil {
			return err
		}
		if !updated {
			return nil
		}
		applied = true

		if err := tx.UpdateDriverStatus(ctx, request.DriverID, drivers.StatusVerified); err != nil {
			return err
		}
		return tx.SetAllDriverDocumentStatuses(ctx, request.DriverID, drivers.StatusVerified)
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	s.logger.Info("verification finalized",
		zap.String("request_id", requestID.String()),
		zap.String("driver_id", request.DriverID.String()))

	s.notifier.NotifyDriver(ctx, request.DriverID, EventFinalized, map[string]interface{}{
		"request_id": request.ID.String(),
	})
	return nil
}

func (s *lifecycleService) Reject(ctx context.Context, requestID uuid.UUID, reason string, rejectorID uuid.UUID) error {
	if len(reason) < MinReasonLength {
		return fmt.Errorf("%w: rejection reason must be at least %d characters", ErrInvalidArgument, MinReasonLength)
	}

	request, err := s.mustGet(ctx, requestID)
	if err != nil {
		return err
	}
	if request.Status.IsTerminal() {
		return fmt.Errorf("%w: request already %s", ErrInvalidState, request.Status)
	}

	wasApproved := request.Status == StatusApproved

	err = s.repo.Transaction(ctx, func(tx Repository) error {
		request.Status = StatusRejected
		request.RejectionReason = &reason
		request.BufferExpiresAt = nil
		if err := tx.UpdateRequest(ctx, request); err != nil {
			return err
		}
		return tx.UpdateDriverStatus(ctx, request.DriverID, drivers.StatusRejected)
	})
	if err != nil {
		return err
	}

	if wasApproved {
		if _, err := s.scheduler.Cancel(ctx, requestID); err != nil {
			s.logger.Warn("failed to cancel finalization job after reject",
				zap.String("request_id", requestID.String()), zap.Error(err))
		}
	}

	s.notifier.NotifyDriver(ctx, request.DriverID, EventRejected, map[string]interface{}{
		"request_id": request.ID.String(),
		"reason":     reason,
	})
	return nil
}

func (s *lifecycleService) GetByID(ctx context.Context, id uuid.UUID) (*VerificationRequest, error) {
	return s.mustGet(ctx, id)
}

func (s *lifecycleService) List(ctx context.Context, filter ListFilter) ([]VerificationRequest, int64, error) {
	return s.repo.ListRequests(ctx, filter)
}

func (s *lifecycleService) GetActions(ctx context.Context, requestID uuid.UUID) ([]DocumentAction, error) {
	if _, err := s.mustGet(ctx, requestID); err != nil {
		return nil, err
	}
	return s.repo.ListActions(ctx, requestID)
}

func (s *lifecycleService) mustGet(ctx context.Context, id uuid.UUID) (*VerificationRequest, error) {
	request, err := s.repo.GetRequestByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, ErrNotFound
	}
	return request, nil
}
