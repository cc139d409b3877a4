package verification

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ridelink/driver-portal/driver-portal-backend/internal/drivers"
	"ridelink/driver-portal/driver-portal-backend/internal/reviewers"
	"ridelink/driver-portal/driver-portal-backend/pkg/clock"
)

// MockRepository is a mock implementation of the Repository interface
type MockRepository struct {
	mock.Mock
}

// Transaction runs the callback against the same mock so expectations set
// on the repository cover writes made inside transactions.
func (m *MockRepository) Transaction(ctx context.Context, fn func(Repository) error) error {
	return fn(m)
}

func (m *MockRepository) CreateRequest(ctx context.Context, req *VerificationRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockRepository) GetRequestByID(ctx context.Context, id uuid.UUID) (*VerificationRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*VerificationRequest), args.Error(1)
}

func (m *MockRepository) FindLiveByDriver(ctx context.Context, driverID uuid.UUID) (*VerificationRequest, error) {
	args := m.Called(ctx, driverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*VerificationRequest), args.Error(1)
}

func (m *MockRepository) UpdateRequest(ctx context.Context, req *VerificationRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockRepository) UpdateRequestWhereStatus(ctx context.Context, id uuid.UUID, expected RequestStatus, updates map[string]interface{}) (bool, error) {
	args := m.Called(ctx, id, expected, updates)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ListRequests(ctx context.Context, filter ListFilter) ([]VerificationRequest, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]VerificationRequest), args.Get(1).(int64), args.Error(2)
}

func (m *MockRepository) FindExpiredApproved(ctx context.Context, asOf time.Time, limit int) ([]VerificationRequest, error) {
	args := m.Called(ctx, asOf, limit)
	return args.Get(0).([]VerificationRequest), args.Error(1)
}

func (m *MockRepository) FindUnassignedPending(ctx context.Context, limit int) ([]VerificationRequest, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]VerificationRequest), args.Error(1)
}

func (m *MockRepository) CreateAction(ctx context.Context, action *DocumentAction) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

func (m *MockRepository) ListActions(ctx context.Context, requestID uuid.UUID) ([]DocumentAction, error) {
	args := m.Called(ctx, requestID)
	return args.Get(0).([]DocumentAction), args.Error(1)
}

func (m *MockRepository) ReviewerWorkloads(ctx context.Context, reviewerIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	args := m.Called(ctx, reviewerIDs)
	return args.Get(0).(map[uuid.UUID]int), args.Error(1)
}

func (m *MockRepository) GetDriver(ctx context.Context, id uuid.UUID) (*drivers.Driver, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*drivers.Driver), args.Error(1)
}

func (m *MockRepository) GetDriverDocuments(ctx context.Context, driverID uuid.UUID) ([]drivers.DriverDocument, error) {
	args := m.Called(ctx, driverID)
	return args.Get(0).([]drivers.DriverDocument), args.Error(1)
}

func (m *MockRepository) UpdateDriverStatus(ctx context.Context, driverID uuid.UUID, status drivers.VerificationStatus) error {
	args := m.Called(ctx, driverID, status)
	return args.Error(0)
}

func (m *MockRepository) UpdateDriverDocumentStatus(ctx context.Context, driverID uuid.UUID, field drivers.DocumentField, status drivers.VerificationStatus) error {
	args := m.Called(ctx, driverID, field, status)
	return args.Error(0)
}

func (m *MockRepository) SetAllDriverDocumentStatuses(ctx context.Context, driverID uuid.UUID, status drivers.VerificationStatus) error {
	args := m.Called(ctx, driverID, status)
	return args.Error(0)
}

// fakeScheduler records schedule and cancel calls
type fakeScheduler struct {
	mu        sync.Mutex
	scheduled map[uuid.UUID]time.Time
	cancelled []uuid.UUID
	failNext  error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{scheduled: make(map[uuid.UUID]time.Time)}
}

func (f *fakeScheduler) Schedule(ctx context.Context, requestID uuid.UUID, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.scheduled[requestID] = expiresAt
	return nil
}

func (f *fakeScheduler) Cancel(ctx context.Context, requestID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, requestID)
	_, had := f.scheduled[requestID]
	delete(f.scheduled, requestID)
	return had, nil
}

// fakeNotifier records every notification
type fakeNotifier struct {
	mu             sync.Mutex
	driverEvents   []string
	reviewerEvents []string
}

func (f *fakeNotifier) NotifyDriver(ctx context.Context, driverID uuid.UUID, event string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.driverEvents = append(f.driverEvents, event)
}

func (f *fakeNotifier) NotifyReviewer(ctx context.Context, reviewerID uuid.UUID, event string, data map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewerEvents = append(f.reviewerEvents, event)
}

func (f *fakeNotifier) driverEventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.driverEvents...)
}

const testBuffer = time.Hour

type serviceFixture struct {
	repo      *MockRepository
	scheduler *fakeScheduler
	notifier  *fakeNotifier
	clock     *clock.Fake
	service   Service
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()
	repo := new(MockRepository)
	scheduler := newFakeScheduler()
	notifier := &fakeNotifier{}
	clk := clock.NewFake(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(repo, scheduler, notifier, clk, testBuffer, zap.NewNop())
	return &serviceFixture{
		repo:      repo,
		scheduler: scheduler,
		notifier:  notifier,
		clock:     clk,
		service:   svc,
	}
}

func TestApproveStartsBufferWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{
		ID:       uuid.New(),
		DriverID: uuid.New(),
		Category: CategoryNewDriver,
		Status:   StatusInReview,
	}
	approver := uuid.New()

	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("UpdateRequest", ctx, request).Return(nil)

	err := f.service.Approve(ctx, request.ID, approver)
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, request.Status)
	require.NotNil(t, request.BufferExpiresAt)
	assert.Equal(t, f.clock.Now().Add(testBuffer), *request.BufferExpiresAt)
	assert.Equal(t, &approver, request.ApprovedByID)

	// Scheduled for exactly the buffer expiry.
	assert.Equal(t, *request.BufferExpiresAt, f.scheduler.scheduled[request.ID])
	assert.Equal(t, []string{EventApproved}, f.notifier.driverEventNames())

	// Driver mirrors untouched: activation waits for Finalize.
	f.repo.AssertNotCalled(t, "UpdateDriverStatus", mock.Anything, mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "SetAllDriverDocumentStatuses", mock.Anything, mock.Anything, mock.Anything)
}

func TestApproveSurvivesScheduleFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{ID: uuid.New(), DriverID: uuid.New(), Status: StatusInReview}
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("UpdateRequest", ctx, request).Return(nil)
	f.scheduler.failNext = assert.AnError

	// The transition stands even when the job enqueue fails; the sweep
	// finalizes eventually.
	err := f.service.Approve(ctx, request.ID, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, request.Status)
}

func TestApproveAlreadyFinalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{ID: uuid.New(), Status: StatusFinalApproved}
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)

	err := f.service.Approve(ctx, request.ID, uuid.New())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFinalizeBeforeBufferExpiryIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(30 * time.Minute)
	request := &VerificationRequest{
		ID:              uuid.New(),
		DriverID:        uuid.New(),
		Status:          StatusApproved,
		BufferExpiresAt: &expires,
	}
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)

	err := f.service.Finalize(ctx, request.ID)
	require.NoError(t, err)

	f.repo.AssertNotCalled(t, "UpdateRequestWhereStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.driverEventNames())
}

func TestFinalizeActivatesDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(testBuffer)
	request := &VerificationRequest{
		ID:              uuid.New(),
		DriverID:        uuid.New(),
		Status:          StatusApproved,
		BufferExpiresAt: &expires,
	}
	f.clock.Advance(testBuffer + time.Minute)

	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("UpdateRequestWhereStatus", ctx, request.ID, StatusApproved, mock.MatchedBy(func(updates map[string]interface{}) bool {
		return updates["status"] == StatusFinalApproved && updates["buffer_expires_at"] == nil
	})).Return(true, nil)
	f.repo.On("UpdateDriverStatus", ctx, request.DriverID, drivers.StatusVerified).Return(nil)
	f.repo.On("SetAllDriverDocumentStatuses", ctx, request.DriverID, drivers.StatusVerified).Return(nil)

	err := f.service.Finalize(ctx, request.ID)
	require.NoError(t, err)

	f.repo.AssertExpectations(t)
	assert.Equal(t, []string{EventFinalized}, f.notifier.driverEventNames())
}

func TestFinalizeAfterRevertRequestIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{ID: uuid.New(), DriverID: uuid.New(), Status: StatusRevertRequested}
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)

	err := f.service.Finalize(ctx, request.ID)
	require.NoError(t, err)

	f.repo.AssertNotCalled(t, "UpdateRequestWhereStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.driverEventNames())
}

func TestFinalizeLosingTheRaceSendsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(-time.Minute)
	request := &VerificationRequest{
		ID:              uuid.New(),
		DriverID:        uuid.New(),
		Status:          StatusApproved,
		BufferExpiresAt: &expires,
	}
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	// Another caller finalized between the read and the conditional write.
	f.repo.On("UpdateRequestWhereStatus", ctx, request.ID, StatusApproved, mock.Anything).Return(false, nil)

	err := f.service.Finalize(ctx, request.ID)
	require.NoError(t, err)

	f.repo.AssertNotCalled(t, "UpdateDriverStatus", mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.notifier.driverEventNames())
}

func TestFinalizeUnknownRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := uuid.New()
	f.repo.On("GetRequestByID", ctx, id).Return(nil, nil)

	err := f.service.Finalize(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRejectRequiresReason(t *testing.T) {
	f := newFixture(t)

	err := f.service.Reject(context.Background(), uuid.New(), "too short", uuid.New())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRejectApprovedClearsBufferAndCancelsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(testBuffer)
	request := &VerificationRequest{
		ID:              uuid.New(),
		DriverID:        uuid.New(),
		Status:          StatusApproved,
		BufferExpiresAt: &expires,
	}
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("UpdateRequest", ctx, request).Return(nil)
	f.repo.On("UpdateDriverStatus", ctx, request.DriverID, drivers.StatusRejected).Return(nil)

	err := f.service.Reject(ctx, request.ID, "insurance document expired", uuid.New())
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, request.Status)
	assert.Nil(t, request.BufferExpiresAt)
	assert.Equal(t, []uuid.UUID{request.ID}, f.scheduler.cancelled)
	assert.Equal(t, []string{EventRejected}, f.notifier.driverEventNames())
}

func TestRejectTerminalRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{ID: uuid.New(), Status: StatusRejected}
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)

	err := f.service.Reject(ctx, request.ID, "duplicate rejection attempt", uuid.New())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDocumentRejectionFailsWholeRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{ID: uuid.New(), DriverID: uuid.New(), Status: StatusInReview}
	reason := "license photo is unreadable"

	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("GetDriverDocuments", ctx, request.DriverID).Return([]drivers.DriverDocument{
		{DriverID: request.DriverID, Field: drivers.FieldLicense},
		{DriverID: request.DriverID, Field: drivers.FieldInsurance},
	}, nil)
	f.repo.On("CreateAction", ctx, mock.AnythingOfType("*verification.DocumentAction")).Return(nil)
	f.repo.On("UpdateDriverDocumentStatus", ctx, request.DriverID, drivers.FieldLicense, drivers.StatusRejected).Return(nil)
	f.repo.On("UpdateRequest", ctx, request).Return(nil)
	f.repo.On("UpdateDriverStatus", ctx, request.DriverID, drivers.StatusRejected).Return(nil)

	err := f.service.RecordDocumentAction(ctx, RecordActionRequest{
		RequestID: request.ID,
		Field:     drivers.FieldLicense,
		Action:    ActionRejected,
		Reason:    &reason,
		ActorID:   uuid.New(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusRejected, request.Status)
	assert.Equal(t, &reason, request.RejectionReason)
	assert.Equal(t, []string{EventRejected}, f.notifier.driverEventNames())
	f.repo.AssertExpectations(t)
}

func TestFieldRejectionOnApprovedClearsBuffer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(30 * time.Minute)
	request := &VerificationRequest{
		ID:              uuid.New(),
		DriverID:        uuid.New(),
		Status:          StatusApproved,
		BufferExpiresAt: &expires,
	}
	f.scheduler.scheduled[request.ID] = expires
	reason := "insurance certificate is forged"

	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("GetDriverDocuments", ctx, request.DriverID).Return([]drivers.DriverDocument{
		{DriverID: request.DriverID, Field: drivers.FieldInsurance},
	}, nil)
	f.repo.On("CreateAction", ctx, mock.AnythingOfType("*verification.DocumentAction")).Return(nil)
	f.repo.On("UpdateDriverDocumentStatus", ctx, request.DriverID, drivers.FieldInsurance, drivers.StatusRejected).Return(nil)
	f.repo.On("UpdateRequest", ctx, request).Return(nil)
	f.repo.On("UpdateDriverStatus", ctx, request.DriverID, drivers.StatusRejected).Return(nil)

	err := f.service.RecordDocumentAction(ctx, RecordActionRequest{
		RequestID: request.ID,
		Field:     drivers.FieldInsurance,
		Action:    ActionRejected,
		Reason:    &reason,
		ActorID:   uuid.New(),
	})
	require.NoError(t, err)

	// A rejected request may never carry a buffer window.
	assert.Equal(t, StatusRejected, request.Status)
	assert.Nil(t, request.BufferExpiresAt)
	assert.Equal(t, []uuid.UUID{request.ID}, f.scheduler.cancelled)
}

func TestDocumentApprovalDoesNotCompleteRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{ID: uuid.New(), DriverID: uuid.New(), Status: StatusInReview}

	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("GetDriverDocuments", ctx, request.DriverID).Return([]drivers.DriverDocument{
		{DriverID: request.DriverID, Field: drivers.FieldLicense},
	}, nil)
	f.repo.On("CreateAction", ctx, mock.AnythingOfType("*verification.DocumentAction")).Return(nil)
	f.repo.On("UpdateDriverDocumentStatus", ctx, request.DriverID, drivers.FieldLicense, drivers.StatusVerified).Return(nil)

	err := f.service.RecordDocumentAction(ctx, RecordActionRequest{
		RequestID: request.ID,
		Field:     drivers.FieldLicense,
		Action:    ActionApproved,
		ActorID:   uuid.New(),
	})
	require.NoError(t, err)

	// Approving every document is necessary but never sufficient; the
	// request transitions only through an explicit Approve call.
	assert.Equal(t, StatusInReview, request.Status)
	f.repo.AssertNotCalled(t, "UpdateRequest", mock.Anything, mock.Anything)
}

func TestDocumentRejectionRequiresReason(t *testing.T) {
	f := newFixture(t)

	err := f.service.RecordDocumentAction(context.Background(), RecordActionRequest{
		RequestID: uuid.New(),
		Field:     drivers.FieldLicense,
		Action:    ActionRejected,
		ActorID:   uuid.New(),
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDocumentActionUnknownField(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{ID: uuid.New(), DriverID: uuid.New(), Status: StatusInReview}
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("GetDriverDocuments", ctx, request.DriverID).Return([]drivers.DriverDocument{
		{DriverID: request.DriverID, Field: drivers.FieldLicense},
	}, nil)

	err := f.service.RecordDocumentAction(ctx, RecordActionRequest{
		RequestID: request.ID,
		Field:     "passport",
		Action:    ActionApproved,
		ActorID:   uuid.New(),
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRequestRevertWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(testBuffer)
	request := &VerificationRequest{
		ID:              uuid.New(),
		DriverID:        uuid.New(),
		Status:          StatusApproved,
		BufferExpiresAt: &expires,
	}
	f.scheduler.scheduled[request.ID] = expires

	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("UpdateRequestWhereStatus", ctx, request.ID, StatusApproved, mock.MatchedBy(func(updates map[string]interface{}) bool {
		return updates["status"] == StatusRevertRequested
	})).Return(true, nil)

	err := f.service.RequestRevert(ctx, request.ID, "approved the wrong driver", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{request.ID}, f.scheduler.cancelled)
}

func TestRequestRevertAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(testBuffer)
	request := &VerificationRequest{
		ID:              uuid.New(),
		DriverID:        uuid.New(),
		Status:          StatusApproved,
		BufferExpiresAt: &expires,
	}
	f.clock.Advance(testBuffer + time.Second)
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)

	err := f.service.RequestRevert(ctx, request.ID, "too late to change course", uuid.New())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRequestRevertLosesRaceAgainstFinalize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(testBuffer)
	request := &VerificationRequest{
		ID:              uuid.New(),
		DriverID:        uuid.New(),
		Status:          StatusApproved,
		BufferExpiresAt: &expires,
	}
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("UpdateRequestWhereStatus", ctx, request.ID, StatusApproved, mock.Anything).Return(false, nil)

	err := f.service.RequestRevert(ctx, request.ID, "approved the wrong driver", uuid.New())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRevertDecisionRequiresElevatedRole(t *testing.T) {
	f := newFixture(t)

	err := f.service.HandleRevertDecision(context.Background(), uuid.New(), true, uuid.New(), reviewers.RoleOnboardingAgent)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestRevertApprovedRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{
		ID:       uuid.New(),
		DriverID: uuid.New(),
		Status:   StatusRevertRequested,
	}

	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("UpdateRequestWhereStatus", ctx, request.ID, StatusRevertRequested, mock.MatchedBy(func(updates map[string]interface{}) bool {
		return updates["status"] == StatusReverted &&
			updates["approved_at"] == nil &&
			updates["approved_by_id"] == nil &&
			updates["buffer_expires_at"] == nil
	})).Return(true, nil)
	f.repo.On("UpdateDriverStatus", ctx, request.DriverID, drivers.StatusPending).Return(nil)
	f.repo.On("SetAllDriverDocumentStatuses", ctx, request.DriverID, drivers.StatusPending).Return(nil)

	// A fresh request opens immediately so the driver re-enters the queue.
	f.repo.On("FindLiveByDriver", ctx, request.DriverID).Return(nil, nil)
	f.repo.On("GetDriver", ctx, request.DriverID).Return(&drivers.Driver{
		ID:                 request.DriverID,
		VerificationStatus: drivers.StatusPending,
	}, nil)
	f.repo.On("CreateRequest", ctx, mock.MatchedBy(func(req *VerificationRequest) bool {
		return req.Status == StatusPending && req.DriverID == request.DriverID
	})).Return(nil)

	err := f.service.HandleRevertDecision(ctx, request.ID, true, uuid.New(), reviewers.RoleAdmin)
	require.NoError(t, err)
	f.repo.AssertExpectations(t)
}

func TestRevertDeniedRestoresApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{
		ID:       uuid.New(),
		DriverID: uuid.New(),
		Status:   StatusRevertRequested,
	}

	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("UpdateRequestWhereStatus", ctx, request.ID, StatusRevertRequested, mock.MatchedBy(func(updates map[string]interface{}) bool {
		// Revert bookkeeping clears; the buffer window is untouched.
		_, touchesBuffer := updates["buffer_expires_at"]
		return updates["status"] == StatusApproved &&
			updates["revert_reason"] == nil &&
			!touchesBuffer
	})).Return(true, nil)

	err := f.service.HandleRevertDecision(ctx, request.ID, false, uuid.New(), reviewers.RoleSuperAdmin)
	require.NoError(t, err)

	// No rollback of driver state on a denied revert.
	f.repo.AssertNotCalled(t, "UpdateDriverStatus", mock.Anything, mock.Anything, mock.Anything)
	f.repo.AssertNotCalled(t, "SetAllDriverDocumentStatuses", mock.Anything, mock.Anything, mock.Anything)
}

func TestRevertDeniedLosesRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{
		ID:       uuid.New(),
		DriverID: uuid.New(),
		Status:   StatusRevertRequested,
	}

	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	// Another admin decided first; the conditional update misses.
	f.repo.On("UpdateRequestWhereStatus", ctx, request.ID, StatusRevertRequested, mock.Anything).Return(false, nil)

	err := f.service.HandleRevertDecision(ctx, request.ID, false, uuid.New(), reviewers.RoleAdmin)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestRevertDecisionWithoutPendingRevert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{ID: uuid.New(), Status: StatusApproved}
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)

	err := f.service.HandleRevertDecision(ctx, request.ID, true, uuid.New(), reviewers.RoleAdmin)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestEnsureExistsReturnsLiveRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	driverID := uuid.New()
	live := &VerificationRequest{ID: uuid.New(), DriverID: driverID, Status: StatusInReview}
	f.repo.On("FindLiveByDriver", ctx, driverID).Return(live, nil)

	got := f.service.EnsureExists(ctx, driverID)
	assert.Equal(t, live, got)
	f.repo.AssertNotCalled(t, "CreateRequest", mock.Anything, mock.Anything)
}

func TestEnsureExistsCreatesPendingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	driverID := uuid.New()
	f.repo.On("FindLiveByDriver", ctx, driverID).Return(nil, nil)
	f.repo.On("GetDriver", ctx, driverID).Return(&drivers.Driver{
		ID:                 driverID,
		VerificationStatus: drivers.StatusPending,
	}, nil)
	f.repo.On("CreateRequest", ctx, mock.MatchedBy(func(req *VerificationRequest) bool {
		return req.Category == CategoryNewDriver && req.Status == StatusPending
	})).Return(nil)

	got := f.service.EnsureExists(ctx, driverID)
	require.NotNil(t, got)
	assert.Equal(t, CategoryNewDriver, got.Category)
}

func TestEnsureExistsVerifiedDriverGetsReverification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	driverID := uuid.New()
	f.repo.On("FindLiveByDriver", ctx, driverID).Return(nil, nil)
	f.repo.On("GetDriver", ctx, driverID).Return(&drivers.Driver{
		ID:                 driverID,
		VerificationStatus: drivers.StatusVerified,
	}, nil)
	f.repo.On("CreateRequest", ctx, mock.MatchedBy(func(req *VerificationRequest) bool {
		return req.Category == CategoryReverification
	})).Return(nil)

	got := f.service.EnsureExists(ctx, driverID)
	require.NotNil(t, got)
	assert.Equal(t, CategoryReverification, got.Category)
}

func TestEnsureExistsSwallowsErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	driverID := uuid.New()
	f.repo.On("FindLiveByDriver", ctx, driverID).Return(nil, assert.AnError)

	assert.Nil(t, f.service.EnsureExists(ctx, driverID))
}

func TestAssignMovesRequestToInReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{ID: uuid.New(), DriverID: uuid.New(), Status: StatusPending}
	reviewerID := uuid.New()

	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("UpdateRequest", ctx, request).Return(nil)

	err := f.service.Assign(ctx, request.ID, reviewerID)
	require.NoError(t, err)

	assert.Equal(t, StatusInReview, request.Status)
	assert.Equal(t, &reviewerID, request.AssignedReviewerID)
	assert.Equal(t, []string{EventAssigned}, f.notifier.reviewerEvents)
}

func TestAssignFromApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{ID: uuid.New(), Status: StatusApproved}
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)

	err := f.service.Assign(ctx, request.ID, uuid.New())
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFullLifecycleTiming(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	request := &VerificationRequest{ID: uuid.New(), DriverID: uuid.New(), Status: StatusInReview}
	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("UpdateRequest", ctx, request).Return(nil)

	require.NoError(t, f.service.Approve(ctx, request.ID, uuid.New()))
	approvedAt := f.clock.Now()

	// Half-way through the window nothing may activate.
	f.clock.Advance(testBuffer / 2)
	require.NoError(t, f.service.Finalize(ctx, request.ID))
	assert.Equal(t, StatusApproved, request.Status)

	// Past the window the driver activates.
	f.clock.Advance(testBuffer)
	f.repo.On("UpdateRequestWhereStatus", ctx, request.ID, StatusApproved, mock.Anything).Return(true, nil)
	f.repo.On("UpdateDriverStatus", ctx, request.DriverID, drivers.StatusVerified).Return(nil)
	f.repo.On("SetAllDriverDocumentStatuses", ctx, request.DriverID, drivers.StatusVerified).Return(nil)

	require.NoError(t, f.service.Finalize(ctx, request.ID))
	assert.Equal(t, []string{EventApproved, EventFinalized}, f.notifier.driverEventNames())
	assert.Equal(t, approvedAt.Add(testBuffer), *request.BufferExpiresAt)
}
