package services

import (
	"context"

	"github.com/google/uuid"

	core "flowmarket-backend/core/marketplace"
	"flowmarket-backend/metrics"
	mstore "flowmarket-backend/middleware/marketplace"
)

// DisputeService drives dispute raising and resolution.
type DisputeService struct {
	store mstore.Store
}

// Open raises a dispute on a subtask. Only a participant of the
// subtask may raise it; the subtask and its task are forced into
// disputed state.
func (s *DisputeService) Open(ctx context.Context, subtaskID uuid.UUID, reason string, actor core.User) (core.Dispute, error) {
	d, err := s.store.OpenDispute(ctx, subtaskID, reason, actor)
	if err != nil {
		return core.Dispute{}, err
	}
	metrics.DisputesOpened.Inc()
	metrics.SubtaskTransitions.WithLabelValues(string(core.SubtaskDisputed)).Inc()
	return d, nil
}

// Get returns one dispute.
func (s *DisputeService) Get(ctx context.Context, id uuid.UUID) (core.Dispute, error) {
	return s.store.GetDispute(ctx, id)
}

// List returns disputes matching the filter plus the unpaginated
// total.
func (s *DisputeService) List(ctx context.Context, f core.DisputeFilter) ([]core.Dispute, int, error) {
	return s.store.ListDisputes(ctx, f)
}

// Resolve settles an open dispute for the named winner. Admin only.
// The subtask lands approved or rejected, the task returns to
// in_progress, and both parties' dispute counters move in the same
// unit.
func (s *DisputeService) Resolve(ctx context.Context, disputeID, winnerID uuid.UUID, resolution string, actor core.User) (mstore.ResolutionResult, error) {
	res, err := s.store.ResolveDispute(ctx, disputeID, winnerID, resolution, actor)
	if err != nil {
		return mstore.ResolutionResult{}, err
	}
	metrics.DisputesResolved.Inc()
	metrics.SubtaskTransitions.WithLabelValues(string(res.Subtask.Status)).Inc()
	metrics.TaskTransitions.WithLabelValues(string(res.Task.Status)).Inc()
	return res, nil
}
