package services

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	core "flowmarket-backend/core/marketplace"
	"flowmarket-backend/metrics"
	mstore "flowmarket-backend/middleware/marketplace"
)

// TaskService drives the task lifecycle.
type TaskService struct {
	store  mstore.Store
	escrow EscrowGateway
}

// Create registers a new draft task.
func (s *TaskService) Create(ctx context.Context, t core.Task, actor core.User) (core.Task, error) {
	created, err := s.store.CreateTask(ctx, t, actor)
	if err != nil {
		return core.Task{}, err
	}
	metrics.TaskTransitions.WithLabelValues(string(core.TaskDraft)).Inc()
	return created, nil
}

// Get returns one task.
func (s *TaskService) Get(ctx context.Context, id uuid.UUID) (core.Task, error) {
	return s.store.GetTask(ctx, id)
}

// List returns tasks matching the filter plus the unpaginated total.
func (s *TaskService) List(ctx context.Context, f core.TaskFilter) ([]core.Task, int, error) {
	return s.store.ListTasks(ctx, f)
}

// Update edits a draft or funded task.
func (s *TaskService) Update(ctx context.Context, taskID uuid.UUID, upd mstore.TaskUpdate, actor core.User) (core.Task, error) {
	return s.store.UpdateTask(ctx, taskID, upd, actor)
}

// Fund records the escrow deposit and binds the task to the on-chain
// escrow record. When the chain gateway is configured, the deposit
// transaction must exist and have succeeded; the on-chain task id is
// read from the escrow's task counter.
func (s *TaskService) Fund(ctx context.Context, taskID uuid.UUID, escrowTxHash string, actor core.User) (core.Task, error) {
	var onChainTaskID int64
	if s.escrow != nil && s.escrow.IsConfigured() {
		info, err := s.escrow.VerifyTransaction(ctx, escrowTxHash)
		if err != nil {
			return core.Task{}, fmt.Errorf("%w: could not verify transaction on blockchain: %v", mstore.ErrValidation, err)
		}
		if info.Status != 1 {
			return core.Task{}, fmt.Errorf("%w: transaction failed on blockchain", mstore.ErrValidation)
		}
		onChainTaskID, err = s.escrow.TaskCounter(ctx)
		if err != nil {
			return core.Task{}, fmt.Errorf("%w: could not read escrow task counter: %v", mstore.ErrValidation, err)
		}
	}

	funded, err := s.store.FundTask(ctx, taskID, escrowTxHash, onChainTaskID, actor)
	if err != nil {
		return core.Task{}, err
	}
	metrics.TaskTransitions.WithLabelValues(string(core.TaskFunded)).Inc()
	log.Printf("Task %s funded, escrow tx %s, on-chain id %d", taskID, escrowTxHash, onChainTaskID)
	return funded, nil
}

// Cancel cancels a task with no active subtasks.
func (s *TaskService) Cancel(ctx context.Context, taskID uuid.UUID, actor core.User) (core.Task, error) {
	cancelled, err := s.store.CancelTask(ctx, taskID, actor)
	if err != nil {
		return core.Task{}, err
	}
	metrics.TaskTransitions.WithLabelValues(string(core.TaskCancelled)).Inc()
	return cancelled, nil
}

// Complete marks a task whose subtasks are all approved as completed.
func (s *TaskService) Complete(ctx context.Context, taskID uuid.UUID, actor core.User) (core.Task, error) {
	done, err := s.store.CompleteTask(ctx, taskID, actor)
	if err != nil {
		return core.Task{}, err
	}
	metrics.TaskTransitions.WithLabelValues(string(core.TaskCompleted)).Inc()
	return done, nil
}
