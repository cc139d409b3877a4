package assignment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ridelink/driver-portal/driver-portal-backend/internal/reviewers"
	"ridelink/driver-portal/driver-portal-backend/internal/verification"
)

// Lifecycle is the slice of the verification service the balancer needs.
type Lifecycle interface {
	Assign(ctx context.Context, requestID, reviewerID uuid.UUID) error
}

// WorkloadCounter recomputes live workload counts per reviewer.
type WorkloadCounter interface {
	ReviewerWorkloads(ctx context.Context, reviewerIDs []uuid.UUID) (map[uuid.UUID]int, error)
}

// Balancer assigns verification requests to the least-loaded eligible
// reviewer. Workloads are recomputed for every decision; nothing is
// cached between calls.
type Balancer struct {
	reviewers reviewers.Repository
	workloads WorkloadCounter
	lifecycle Lifecycle
	logger    *zap.Logger
}

func NewBalancer(reviewerRepo reviewers.Repository, workloads WorkloadCounter, lifecycle Lifecycle, logger *zap.Logger) *Balancer {
	return &Balancer{
		reviewers: reviewerRepo,
		workloads: workloads,
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// roleForCategory maps a request category to the reviewer role that
// handles it.
func roleForCategory(category verification.RequestCategory) (reviewers.Role, error) {
	switch category {
	case verification.CategoryNewDriver:
		return reviewers.RoleOnboardingAgent, nil
	case verification.CategoryReverification:
		return reviewers.RoleComplianceAgent, nil
	default:
		return "", fmt.Errorf("unknown request category %q", category)
	}
}

// TryAssign picks the minimum-workload active reviewer for the category
// and assigns the request. Returns false with no error when no eligible
// reviewer exists; that is an expected steady-state condition and the
// unassigned sweep retries later.
func (b *Balancer) TryAssign(ctx context.Context, requestID uuid.UUID, category verification.RequestCategory) (bool, error) {
	role, err := roleForCategory(category)
	if err != nil {
		return false, err
	}

	eligible, err := b.reviewers.ListActiveByRole(ctx, role)
	if err != nil {
		return false, fmt.Errorf("failed to load reviewers for role %s: %w", role, err)
	}
	if len(eligible) == 0 {
		b.logger.Info("no eligible reviewers",
			zap.String("request_id", requestID.String()),
			zap.String("role", string(role)))
		return false, nil
	}

	ids := make([]uuid.UUID, len(eligible))
	for i, reviewer := range eligible {
		ids[i] = reviewer.ID
	}
	workloads, err := b.workloads.ReviewerWorkloads(ctx, ids)
	if err != nil {
		return false, fmt.Errorf("failed to compute reviewer workloads: %w", err)
	}

	// Ties break on the stable repository order: first encountered wins.
	best := eligible[0]
	bestLoad := workloads[best.ID]
	for _, reviewer := range eligible[1:] {
		if load := workloads[reviewer.ID]; load < bestLoad {
			best = reviewer
			bestLoad = load
		}
	}

	if err := b.lifecycle.Assign(ctx, requestID, best.ID); err != nil {
		return false, fmt.Errorf("failed to assign request to reviewer %s: %w", best.ID, err)
	}

	b.logger.Info("request assigned",
		zap.String("request_id", requestID.String()),
		zap.String("reviewer_id", best.ID.String()),
		zap.Int("workload", bestLoad))
	return true, nil
}
