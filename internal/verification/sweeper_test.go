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
)

type fakeAssigner struct {
	mu    sync.Mutex
	calls []uuid.UUID
	fail  map[uuid.UUID]error
}

func (f *fakeAssigner) TryAssign(ctx context.Context, requestID uuid.UUID, category RequestCategory) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, requestID)
	if err := f.fail[requestID]; err != nil {
		return false, err
	}
	return true, nil
}

func TestSweepExpiredBuffersFinalizesBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(-time.Hour)
	first := &VerificationRequest{ID: uuid.New(), DriverID: uuid.New(), Status: StatusApproved, BufferExpiresAt: &expires}
	second := &VerificationRequest{ID: uuid.New(), DriverID: uuid.New(), Status: StatusApproved, BufferExpiresAt: &expires}

	f.repo.On("FindExpiredApproved", ctx, f.clock.Now(), 50).Return([]VerificationRequest{*first, *second}, nil)
	for _, request := range []*VerificationRequest{first, second} {
		f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
		f.repo.On("UpdateRequestWhereStatus", ctx, request.ID, StatusApproved, mock.Anything).Return(true, nil)
		f.repo.On("UpdateDriverStatus", ctx, request.DriverID, mock.Anything).Return(nil)
		f.repo.On("SetAllDriverDocumentStatuses", ctx, request.DriverID, mock.Anything).Return(nil)
	}

	sweeper := NewSweeper(f.repo, f.service, nil, f.clock, zap.NewNop(), DefaultSweeperConfig())
	sweeper.SweepExpiredBuffers(ctx)

	f.repo.AssertExpectations(t)
	assert.Equal(t, []string{EventFinalized, EventFinalized}, f.notifier.driverEventNames())
}

func TestSweepExpiredBuffersIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(-time.Hour)
	failing := &VerificationRequest{ID: uuid.New(), DriverID: uuid.New(), Status: StatusApproved, BufferExpiresAt: &expires}
	healthy := &VerificationRequest{ID: uuid.New(), DriverID: uuid.New(), Status: StatusApproved, BufferExpiresAt: &expires}

	f.repo.On("FindExpiredApproved", ctx, f.clock.Now(), 50).Return([]VerificationRequest{*failing, *healthy}, nil)

	// First request fails on load; the second must still finalize.
	f.repo.On("GetRequestByID", ctx, failing.ID).Return(nil, assert.AnError)
	f.repo.On("GetRequestByID", ctx, healthy.ID).Return(healthy, nil)
	f.repo.On("UpdateRequestWhereStatus", ctx, healthy.ID, StatusApproved, mock.Anything).Return(true, nil)
	f.repo.On("UpdateDriverStatus", ctx, healthy.DriverID, mock.Anything).Return(nil)
	f.repo.On("SetAllDriverDocumentStatuses", ctx, healthy.DriverID, mock.Anything).Return(nil)

	sweeper := NewSweeper(f.repo, f.service, nil, f.clock, zap.NewNop(), DefaultSweeperConfig())
	sweeper.SweepExpiredBuffers(ctx)

	assert.Equal(t, []string{EventFinalized}, f.notifier.driverEventNames())
}

// A revert denied after the buffer lapsed leaves the request APPROVED
// with an expired window and no live job; the expired-buffer sweep must
// pick it up and finalize.
func TestDeniedRevertRecoveredBySweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	expires := f.clock.Now().Add(30 * time.Minute)
	request := &VerificationRequest{
		ID:              uuid.New(),
		DriverID:        uuid.New(),
		Status:          StatusRevertRequested,
		BufferExpiresAt: &expires,
	}

	f.repo.On("GetRequestByID", ctx, request.ID).Return(request, nil)
	f.repo.On("UpdateRequestWhereStatus", ctx, request.ID, StatusRevertRequested, mock.Anything).
		Run(func(args mock.Arguments) {
			request.Status = StatusApproved
		}).Return(true, nil)

	// Deliberation outlasts the window, then the denial lands.
	f.clock.Advance(time.Hour)
	require.NoError(t, f.service.HandleRevertDecision(ctx, request.ID, false, uuid.New(), reviewers.RoleAdmin))
	assert.Equal(t, StatusApproved, request.Status)
	require.NotNil(t, request.BufferExpiresAt)
	assert.True(t, request.BufferExpiresAt.Before(f.clock.Now()))

	f.repo.On("FindExpiredApproved", ctx, f.clock.Now(), 50).Return([]VerificationRequest{*request}, nil)
	f.repo.On("UpdateRequestWhereStatus", ctx, request.ID, StatusApproved, mock.Anything).
		Run(func(args mock.Arguments) {
			request.Status = StatusFinalApproved
		}).Return(true, nil)
	f.repo.On("UpdateDriverStatus", ctx, request.DriverID, drivers.StatusVerified).Return(nil)
	f.repo.On("SetAllDriverDocumentStatuses", ctx, request.DriverID, drivers.StatusVerified).Return(nil)

	sweeper := NewSweeper(f.repo, f.service, nil, f.clock, zap.NewNop(), DefaultSweeperConfig())
	sweeper.SweepExpiredBuffers(ctx)

	assert.Equal(t, StatusFinalApproved, request.Status)
	assert.Equal(t, []string{EventFinalized}, f.notifier.driverEventNames())
}

func TestSweepUnassignedRetriesAssignment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := VerificationRequest{ID: uuid.New(), Category: CategoryNewDriver, Status: StatusPending}
	second := VerificationRequest{ID: uuid.New(), Category: CategoryReverification, Status: StatusPending}

	f.repo.On("FindUnassignedPending", ctx, 50).Return([]VerificationRequest{first, second}, nil)

	assigner := &fakeAssigner{fail: map[uuid.UUID]error{first.ID: assert.AnError}}
	sweeper := NewSweeper(f.repo, f.service, assigner, f.clock, zap.NewNop(), DefaultSweeperConfig())
	sweeper.SweepUnassigned(ctx)

	// Both attempted despite the first failing.
	assert.Equal(t, []uuid.UUID{first.ID, second.ID}, assigner.calls)
}

func TestSweepUnassignedWithoutAssigner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.repo.On("FindUnassignedPending", ctx, 50).Return([]VerificationRequest{
		{ID: uuid.New(), Status: StatusPending},
	}, nil)

	sweeper := NewSweeper(f.repo, f.service, nil, f.clock, zap.NewNop(), DefaultSweeperConfig())
	sweeper.SweepUnassigned(ctx)
}
