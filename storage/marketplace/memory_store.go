package marketplace

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	core "flowmarket-backend/core/marketplace"
	mstore "flowmarket-backend/middleware/marketplace"
)

// MemoryStore holds marketplace state in memory with a single RWMutex.
// The one lock makes every lifecycle operation atomic across the
// related maps: a claim that advances the parent task commits both
// changes or neither, and two concurrent claims of one subtask
// serialize so exactly one wins.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]core.User
	usersByWallet map[string]uuid.UUID
	tasks         map[uuid.UUID]core.Task
	subtasks      map[uuid.UUID]core.Subtask
	submissions   map[uuid.UUID]core.Submission
	disputes      map[uuid.UUID]core.Dispute
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[uuid.UUID]core.User),
		usersByWallet: make(map[string]uuid.UUID),
		tasks:         make(map[uuid.UUID]core.Task),
		subtasks:      make(map[uuid.UUID]core.Subtask),
		submissions:   make(map[uuid.UUID]core.Submission),
		disputes:      make(map[uuid.UUID]core.Dispute),
	}
}

func (s *MemoryStore) Close() {}

// ---- users ----

func (s *MemoryStore) CreateUser(_ context.Context, u core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wallet := strings.ToLower(strings.TrimSpace(u.WalletAddress))
	if wallet == "" {
		return core.User{}, fmt.Errorf("%w: wallet address is required", mstore.ErrValidation)
	}
	if _, exists := s.usersByWallet[wallet]; exists {
		return core.User{}, fmt.Errorf("%w: wallet %s already registered", mstore.ErrValidation, wallet)
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now()
	u.WalletAddress = wallet
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	s.usersByWallet[wallet] = u.ID
	return u, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return core.User{}, mstore.ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) GetUserByWallet(_ context.Context, wallet string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByWallet[strings.ToLower(strings.TrimSpace(wallet))]
	if !ok {
		return core.User{}, mstore.ErrUserNotFound
	}
	return s.users[id], nil
}

func (s *MemoryStore) ListUsers(_ context.Context, f core.UserFilter) ([]core.User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.User
	for _, u := range s.users {
		if f.Verified != nil && u.IDVerified != *f.Verified {
			continue
		}
		if f.Banned != nil && u.IsBanned != *f.Banned {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	return paginate(out, f.Offset, f.Limit), total, nil
}

func (s *MemoryStore) VerifyUser(_ context.Context, userID uuid.UUID, actor core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !actor.IsAdmin {
		return core.User{}, mstore.ErrNotAuthorized
	}
	u, ok := s.users[userID]
	if !ok {
		return core.User{}, mstore.ErrUserNotFound
	}
	u.IDVerified = true
	u.UpdatedAt = time.Now()
	s.users[userID] = u
	return u, nil
}

func (s *MemoryStore) BanUser(_ context.Context, userID uuid.UUID, reason string, actor core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !actor.IsAdmin {
		return core.User{}, mstore.ErrNotAuthorized
	}
	u, ok := s.users[userID]
	if !ok {
		return core.User{}, mstore.ErrUserNotFound
	}
	if u.IsAdmin {
		return core.User{}, fmt.Errorf("%w: cannot ban an admin user", mstore.ErrValidation)
	}
	u.IsBanned = true
	u.BannedReason = reason
	u.UpdatedAt = time.Now()
	s.users[userID] = u
	return u, nil
}

func (s *MemoryStore) UnbanUser(_ context.Context, userID uuid.UUID, actor core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !actor.IsAdmin {
		return core.User{}, mstore.ErrNotAuthorized
	}
	u, ok := s.users[userID]
	if !ok {
		return core.User{}, mstore.ErrUserNotFound
	}
	u.IsBanned = false
	u.BannedReason = ""
	u.UpdatedAt = time.Now()
	s.users[userID] = u
	return u, nil
}

// ---- tasks ----

func (s *MemoryStore) CreateTask(_ context.Context, t core.Task, actor core.User) (core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Task creation is admin-only in the MVP.
	if !actor.IsAdmin {
		return core.Task{}, mstore.ErrNotAuthorized
	}
	if !t.TotalBudget.IsPositive() {
		return core.Task{}, fmt.Errorf("%w: budget must be positive", mstore.ErrValidation)
	}
	if strings.TrimSpace(t.Title) == "" {
		return core.Task{}, fmt.Errorf("%w: title is required", mstore.ErrValidation)
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	now := time.Now()
	t.ClientID = actor.ID
	t.Status = core.TaskDraft
	t.EscrowTxHash = ""
	t.EscrowContractTaskID = 0
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tasks[t.ID] = t
	return t, nil
}

func (s *MemoryStore) GetTask(_ context.Context, id uuid.UUID) (core.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return core.Task{}, mstore.ErrTaskNotFound
	}
	return t, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, f core.TaskFilter) ([]core.Task, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Task
	for _, t := range s.tasks {
		if t.Status == core.TaskDraft && !f.IncludeDrafts && f.Status != core.TaskDraft {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.ClientID != uuid.Nil && t.ClientID != f.ClientID {
			continue
		}
		if len(f.Skills) > 0 && !overlaps(t.SkillsRequired, f.Skills) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	return paginate(out, f.Offset, f.Limit), total, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, taskID uuid.UUID, upd mstore.TaskUpdate, actor core.User) (core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return core.Task{}, mstore.ErrTaskNotFound
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return core.Task{}, mstore.ErrNotAuthorized
	}
	if t.Status != core.TaskDraft && t.Status != core.TaskFunded {
		return core.Task{}, fmt.Errorf("%w: cannot update task in status %s", mstore.ErrStateConflict, t.Status)
	}
	if upd.Title != nil {
		t.Title = *upd.Title
	}
	if upd.Description != nil {
		t.Description = *upd.Description
	}
	if upd.SkillsRequired != nil {
		t.SkillsRequired = *upd.SkillsRequired
	}
	if upd.Deadline != nil {
		t.Deadline = upd.Deadline
	}
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t
	return t, nil
}

func (s *MemoryStore) FundTask(_ context.Context, taskID uuid.UUID, txHash string, onChainTaskID int64, actor core.User) (core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return core.Task{}, mstore.ErrTaskNotFound
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return core.Task{}, mstore.ErrNotAuthorized
	}
	if !t.Status.CanTransition(core.TaskFunded) {
		return core.Task{}, fmt.Errorf("%w: task is not in draft status", mstore.ErrStateConflict)
	}
	now := time.Now()
	t.Status = core.TaskFunded
	t.EscrowTxHash = txHash
	t.EscrowContractTaskID = onChainTaskID
	t.FundedAt = &now
	t.UpdatedAt = now
	s.tasks[taskID] = t
	return t, nil
}

func (s *MemoryStore) CancelTask(_ context.Context, taskID uuid.UUID, actor core.User) (core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return core.Task{}, mstore.ErrTaskNotFound
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return core.Task{}, mstore.ErrNotAuthorized
	}
	if !t.Status.Cancellable() {
		return core.Task{}, fmt.Errorf("%w: cannot cancel task in status %s", mstore.ErrStateConflict, t.Status)
	}
	// Checked under the same lock that claims take: the answer cannot
	// change between this check and the commit below.
	for _, st := range s.subtasks {
		if st.TaskID == taskID && st.Status.Active() {
			return core.Task{}, fmt.Errorf("%w: active subtasks block cancellation", mstore.ErrStateConflict)
		}
	}
	t.Status = core.TaskCancelled
	t.UpdatedAt = time.Now()
	s.tasks[taskID] = t
	return t, nil
}

func (s *MemoryStore) CompleteTask(_ context.Context, taskID uuid.UUID, actor core.User) (core.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return core.Task{}, mstore.ErrTaskNotFound
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return core.Task{}, mstore.ErrNotAuthorized
	}
	if !t.Status.CanTransition(core.TaskCompleted) {
		return core.Task{}, fmt.Errorf("%w: cannot complete task in status %s", mstore.ErrStateConflict, t.Status)
	}
	count := 0
	for _, st := range s.subtasks {
		if st.TaskID != taskID {
			continue
		}
		count++
		if st.Status != core.SubtaskApproved {
			return core.Task{}, fmt.Errorf("%w: not all subtasks are approved", mstore.ErrStateConflict)
		}
	}
	if count == 0 {
		return core.Task{}, fmt.Errorf("%w: task has no subtasks", mstore.ErrStateConflict)
	}
	now := time.Now()
	t.Status = core.TaskCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	s.tasks[taskID] = t
	return t, nil
}

// ---- subtasks ----

func (s *MemoryStore) CreateSubtask(_ context.Context, st core.Subtask, actor core.User) (core.Subtask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[st.TaskID]
	if !ok {
		return core.Subtask{}, mstore.ErrTaskNotFound
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return core.Subtask{}, mstore.ErrNotAuthorized
	}
	if !t.Status.AcceptsSubtasks() {
		return core.Subtask{}, fmt.Errorf("%w: cannot add subtasks to task in status %s", mstore.ErrStateConflict, t.Status)
	}
	if strings.TrimSpace(st.Title) == "" {
		return core.Subtask{}, fmt.Errorf("%w: title is required", mstore.ErrValidation)
	}
	if st.ID == uuid.Nil {
		st.ID = uuid.New()
	}
	now := time.Now()
	st.Status = core.SubtaskOpen
	st.ClaimedBy = nil
	st.ClaimedAt = nil
	st.Collaborators = nil
	st.CollaboratorSplits = nil
	st.CreatedAt = now
	st.UpdatedAt = now
	s.subtasks[st.ID] = st

	if effect := core.EffectOfSubtaskAdded(t.Status); effect != core.TaskEffectNone {
		t.Status = core.ApplyEffect(t.Status, effect)
		t.UpdatedAt = now
		s.tasks[t.ID] = t
	}
	return st, nil
}

func (s *MemoryStore) GetSubtask(_ context.Context, id uuid.UUID) (core.Subtask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.subtasks[id]
	if !ok {
		return core.Subtask{}, mstore.ErrSubtaskNotFound
	}
	return st, nil
}

func (s *MemoryStore) ListSubtasks(_ context.Context, f core.SubtaskFilter) ([]core.Subtask, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Subtask
	for _, st := range s.subtasks {
		if f.Status != "" && st.Status != f.Status {
			continue
		}
		if f.TaskID != uuid.Nil && st.TaskID != f.TaskID {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskID == out[j].TaskID {
			return out[i].SequenceOrder < out[j].SequenceOrder
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	total := len(out)
	return paginate(out, f.Offset, f.Limit), total, nil
}

func (s *MemoryStore) UpdateSubtask(_ context.Context, subtaskID uuid.UUID, upd mstore.SubtaskUpdate, actor core.User) (core.Subtask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.subtasks[subtaskID]
	if !ok {
		return core.Subtask{}, mstore.ErrSubtaskNotFound
	}
	t := s.tasks[st.TaskID]
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return core.Subtask{}, mstore.ErrNotAuthorized
	}
	if st.Status != core.SubtaskOpen && !actor.IsAdmin {
		return core.Subtask{}, fmt.Errorf("%w: cannot update subtask in status %s", mstore.ErrStateConflict, st.Status)
	}
	if upd.Title != nil {
		st.Title = *upd.Title
	}
	if upd.Description != nil {
		st.Description = *upd.Description
	}
	if upd.BudgetAllocationPercent != nil {
		st.BudgetAllocationPercent = *upd.BudgetAllocationPercent
	}
	if upd.Budget != nil {
		st.Budget = *upd.Budget
	}
	if upd.Deadline != nil {
		st.Deadline = upd.Deadline
	}
	st.UpdatedAt = time.Now()
	s.subtasks[subtaskID] = st
	return st, nil
}

func (s *MemoryStore) DeleteSubtask(_ context.Context, subtaskID uuid.UUID, actor core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.subtasks[subtaskID]
	if !ok {
		return mstore.ErrSubtaskNotFound
	}
	t := s.tasks[st.TaskID]
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return mstore.ErrNotAuthorized
	}
	if st.Status != core.SubtaskOpen && !actor.IsAdmin {
		return fmt.Errorf("%w: cannot delete subtask in status %s", mstore.ErrStateConflict, st.Status)
	}
	delete(s.subtasks, subtaskID)
	return nil
}

func (s *MemoryStore) ClaimSubtask(_ context.Context, subtaskID uuid.UUID, actor core.User, collaboratorWallets []string, splits []decimal.Decimal) (core.Subtask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.subtasks[subtaskID]
	if !ok {
		return core.Subtask{}, mstore.ErrSubtaskNotFound
	}
	if st.Status != core.SubtaskOpen {
		return core.Subtask{}, mstore.ErrSubtaskUnavailable
	}
	t, ok := s.tasks[st.TaskID]
	if !ok || !t.Status.AcceptsClaims() {
		return core.Subtask{}, fmt.Errorf("%w: task is not available for work", mstore.ErrStateConflict)
	}

	var collaboratorIDs []uuid.UUID
	var storedSplits []decimal.Decimal
	if len(collaboratorWallets) > 0 {
		for _, wallet := range collaboratorWallets {
			id, ok := s.usersByWallet[strings.ToLower(strings.TrimSpace(wallet))]
			if !ok {
				return core.Subtask{}, fmt.Errorf("%w: collaborator not found: %s", mstore.ErrValidation, wallet)
			}
			collaboratorIDs = append(collaboratorIDs, id)
		}
		// Collaborators and splits persist together or not at all.
		if len(splits) == 0 {
			return core.Subtask{}, fmt.Errorf("%w: splits are required when collaborators are given", mstore.ErrValidation)
		}
		if err := core.ValidateSplits(len(collaboratorIDs), splits); err != nil {
			return core.Subtask{}, fmt.Errorf("%w: %v", mstore.ErrValidation, err)
		}
		storedSplits = splits
	}

	now := time.Now()
	st.Status = core.SubtaskClaimed
	st.ClaimedBy = &actor.ID
	st.ClaimedAt = &now
	st.Collaborators = collaboratorIDs
	st.CollaboratorSplits = storedSplits
	st.UpdatedAt = now
	s.subtasks[subtaskID] = st

	if effect := core.EffectOfClaim(t.Status); effect != core.TaskEffectNone {
		t.Status = core.ApplyEffect(t.Status, effect)
		t.UpdatedAt = now
		s.tasks[t.ID] = t
	}
	return st, nil
}

func (s *MemoryStore) UnclaimSubtask(_ context.Context, subtaskID uuid.UUID, actor core.User) (core.Subtask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.subtasks[subtaskID]
	if !ok {
		return core.Subtask{}, mstore.ErrSubtaskNotFound
	}
	if (st.ClaimedBy == nil || *st.ClaimedBy != actor.ID) && !actor.IsAdmin {
		return core.Subtask{}, mstore.ErrNotAuthorized
	}
	if st.Status != core.SubtaskClaimed && st.Status != core.SubtaskInProgress {
		return core.Subtask{}, fmt.Errorf("%w: cannot unclaim subtask in status %s", mstore.ErrStateConflict, st.Status)
	}
	st.Status = core.SubtaskOpen
	st.ClaimedBy = nil
	st.ClaimedAt = nil
	st.Collaborators = nil
	st.CollaboratorSplits = nil
	st.UpdatedAt = time.Now()
	s.subtasks[subtaskID] = st
	return st, nil
}

func (s *MemoryStore) SubmitWork(_ context.Context, req mstore.SubmitRequest, actor core.User) (core.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.subtasks[req.SubtaskID]
	if !ok {
		return core.Submission{}, mstore.ErrSubtaskNotFound
	}
	isClaimant := st.ClaimedBy != nil && *st.ClaimedBy == actor.ID
	if !isClaimant && !st.HasCollaborator(actor.ID) {
		return core.Submission{}, mstore.ErrNotAuthorized
	}
	if !st.Status.CanTransition(core.SubtaskSubmitted) {
		return core.Submission{}, fmt.Errorf("%w: cannot submit for subtask in status %s", mstore.ErrStateConflict, st.Status)
	}

	now := time.Now()
	sub := core.Submission{
		ID:             uuid.New(),
		SubtaskID:      req.SubtaskID,
		SubmittedBy:    actor.ID,
		ContentSummary: req.ContentSummary,
		ArtifactIPFSHash: req.ArtifactHash,
		ArtifactType:   req.ArtifactType,
		Status:         core.SubmissionPending,
		CreatedAt:      now,
	}
	s.submissions[sub.ID] = sub

	st.Status = core.SubtaskSubmitted
	st.SubmittedAt = &now
	st.UpdatedAt = now
	s.subtasks[req.SubtaskID] = st
	return sub, nil
}

func (s *MemoryStore) ApproveSubtask(_ context.Context, subtaskID uuid.UUID, reviewNotes string, actor core.User) (mstore.ApprovalResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.subtasks[subtaskID]
	if !ok {
		return mstore.ApprovalResult{}, mstore.ErrSubtaskNotFound
	}
	t, ok := s.tasks[st.TaskID]
	if !ok {
		return mstore.ApprovalResult{}, mstore.ErrTaskNotFound
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return mstore.ApprovalResult{}, mstore.ErrNotAuthorized
	}
	if st.Status != core.SubtaskSubmitted {
		return mstore.ApprovalResult{}, fmt.Errorf("%w: subtask is not pending approval", mstore.ErrStateConflict)
	}

	sub, err := s.latestSubmissionLocked(subtaskID)
	if err != nil {
		return mstore.ApprovalResult{}, err
	}

	now := time.Now()
	sub.Status = core.SubmissionApproved
	sub.ReviewedBy = &actor.ID
	sub.ReviewedAt = &now
	sub.ReviewNotes = reviewNotes
	s.submissions[sub.ID] = sub

	st.Status = core.SubtaskApproved
	st.ApprovedAt = &now
	st.ApprovedBy = &actor.ID
	st.UpdatedAt = now
	s.subtasks[subtaskID] = st

	res := mstore.ApprovalResult{Subtask: st, Submission: sub}

	if st.ClaimedBy != nil {
		worker, ok := s.users[*st.ClaimedBy]
		if ok {
			worker.TasksCompleted++
			worker.TasksApproved++
			worker.UpdatedAt = now
			s.users[worker.ID] = worker

			if t.EscrowContractTaskID != 0 && st.Budget.IsPositive() {
				res.Payment = &mstore.PaymentInstruction{
					EscrowTaskID:  t.EscrowContractTaskID,
					SubtaskIndex:  s.subtaskIndexLocked(st),
					WorkerAddress: worker.WalletAddress,
					AmountWei:     core.ToWei(st.Budget),
				}
			}
			res.ContributorWallets = append(res.ContributorWallets, worker.WalletAddress)
			for _, cid := range st.Collaborators {
				if c, ok := s.users[cid]; ok {
					res.ContributorWallets = append(res.ContributorWallets, c.WalletAddress)
				}
			}
		}
	}
	return res, nil
}

func (s *MemoryStore) RejectSubtask(_ context.Context, subtaskID uuid.UUID, reviewNotes string, actor core.User) (core.Subtask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(reviewNotes) == "" {
		return core.Subtask{}, fmt.Errorf("%w: review notes are required for rejection", mstore.ErrValidation)
	}
	st, ok := s.subtasks[subtaskID]
	if !ok {
		return core.Subtask{}, mstore.ErrSubtaskNotFound
	}
	t, ok := s.tasks[st.TaskID]
	if !ok {
		return core.Subtask{}, mstore.ErrTaskNotFound
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return core.Subtask{}, mstore.ErrNotAuthorized
	}
	if st.Status != core.SubtaskSubmitted {
		return core.Subtask{}, fmt.Errorf("%w: subtask is not pending review", mstore.ErrStateConflict)
	}

	now := time.Now()
	if sub, err := s.latestSubmissionLocked(subtaskID); err == nil {
		sub.Status = core.SubmissionRejected
		sub.ReviewedBy = &actor.ID
		sub.ReviewedAt = &now
		sub.ReviewNotes = reviewNotes
		s.submissions[sub.ID] = sub
	}

	st.Status = core.SubtaskRejected
	st.UpdatedAt = now
	s.subtasks[subtaskID] = st
	return st, nil
}

func (s *MemoryStore) ReorderSubtasks(_ context.Context, taskID uuid.UUID, orderedIDs []uuid.UUID, actor core.User) ([]core.Subtask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return nil, mstore.ErrTaskNotFound
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return nil, mstore.ErrNotAuthorized
	}

	existing := make(map[uuid.UUID]core.Subtask)
	for _, st := range s.subtasks {
		if st.TaskID == taskID {
			existing[st.ID] = st
		}
	}
	if len(orderedIDs) != len(existing) {
		return nil, fmt.Errorf("%w: subtask ids must match exactly the subtasks of this task", mstore.ErrValidation)
	}
	seen := make(map[uuid.UUID]bool, len(orderedIDs))
	for _, id := range orderedIDs {
		if _, ok := existing[id]; !ok || seen[id] {
			return nil, fmt.Errorf("%w: subtask ids must match exactly the subtasks of this task", mstore.ErrValidation)
		}
		seen[id] = true
	}

	now := time.Now()
	out := make([]core.Subtask, 0, len(orderedIDs))
	for i, id := range orderedIDs {
		st := existing[id]
		st.SequenceOrder = i + 1
		st.UpdatedAt = now
		s.subtasks[id] = st
		out = append(out, st)
	}
	return out, nil
}

// ---- submissions ----

func (s *MemoryStore) ListSubmissions(_ context.Context, subtaskID uuid.UUID) ([]core.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Submission
	for _, sub := range s.submissions {
		if sub.SubtaskID == subtaskID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RecordPaymentTx(_ context.Context, submissionID uuid.UUID, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return mstore.ErrSubmissionNotFound
	}
	sub.PaymentTxHash = txHash
	s.submissions[submissionID] = sub
	return nil
}

func (s *MemoryStore) RecordArtifactTx(_ context.Context, submissionID uuid.UUID, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[submissionID]
	if !ok {
		return mstore.ErrSubmissionNotFound
	}
	sub.ArtifactOnChainTx = txHash
	s.submissions[submissionID] = sub
	return nil
}

// ---- disputes ----

func (s *MemoryStore) OpenDispute(_ context.Context, subtaskID uuid.UUID, reason string, actor core.User) (core.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.subtasks[subtaskID]
	if !ok {
		return core.Dispute{}, mstore.ErrSubtaskNotFound
	}
	t, ok := s.tasks[st.TaskID]
	if !ok {
		return core.Dispute{}, mstore.ErrTaskNotFound
	}
	if !st.Participant(actor.ID, t) && !actor.IsAdmin {
		return core.Dispute{}, mstore.ErrNotAuthorized
	}
	if !st.Status.CanTransition(core.SubtaskDisputed) {
		return core.Dispute{}, fmt.Errorf("%w: cannot dispute subtask in status %s", mstore.ErrStateConflict, st.Status)
	}
	if strings.TrimSpace(reason) == "" {
		return core.Dispute{}, fmt.Errorf("%w: reason is required", mstore.ErrValidation)
	}

	now := time.Now()
	d := core.Dispute{
		ID:        uuid.New(),
		SubtaskID: subtaskID,
		RaisedBy:  actor.ID,
		Reason:    reason,
		Status:    core.DisputeOpen,
		CreatedAt: now,
	}
	s.disputes[d.ID] = d

	st.Status = core.SubtaskDisputed
	st.UpdatedAt = now
	s.subtasks[subtaskID] = st

	if effect := core.EffectOfDisputeOpened(t.Status); effect != core.TaskEffectNone {
		t.Status = core.ApplyEffect(t.Status, effect)
		t.UpdatedAt = now
		s.tasks[t.ID] = t
	}
	return d, nil
}

func (s *MemoryStore) GetDispute(_ context.Context, id uuid.UUID) (core.Dispute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.disputes[id]
	if !ok {
		return core.Dispute{}, mstore.ErrDisputeNotFound
	}
	return d, nil
}

func (s *MemoryStore) ListDisputes(_ context.Context, f core.DisputeFilter) ([]core.Dispute, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []core.Dispute
	for _, d := range s.disputes {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	return paginate(out, f.Offset, f.Limit), total, nil
}

func (s *MemoryStore) ResolveDispute(_ context.Context, disputeID uuid.UUID, winnerID uuid.UUID, resolution string, actor core.User) (mstore.ResolutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !actor.IsAdmin {
		return mstore.ResolutionResult{}, mstore.ErrNotAuthorized
	}
	d, ok := s.disputes[disputeID]
	if !ok {
		return mstore.ResolutionResult{}, mstore.ErrDisputeNotFound
	}
	if d.Status != core.DisputeOpen {
		return mstore.ResolutionResult{}, fmt.Errorf("%w: dispute is not open", mstore.ErrStateConflict)
	}
	st, ok := s.subtasks[d.SubtaskID]
	if !ok {
		return mstore.ResolutionResult{}, mstore.ErrSubtaskNotFound
	}
	t, ok := s.tasks[st.TaskID]
	if !ok {
		return mstore.ResolutionResult{}, mstore.ErrTaskNotFound
	}
	if _, ok := s.users[winnerID]; !ok {
		return mstore.ResolutionResult{}, fmt.Errorf("%w: winner: %v", mstore.ErrValidation, mstore.ErrUserNotFound)
	}

	now := time.Now()
	d.Status = core.DisputeResolved
	d.Resolution = resolution
	d.ResolvedBy = &actor.ID
	d.ResolvedAt = &now
	d.WinnerID = &winnerID
	s.disputes[disputeID] = d

	switch core.DisputeOutcome(winnerID, st) {
	case core.SubtaskApproved:
		st.Status = core.SubtaskApproved
		st.ApprovedAt = &now
		st.ApprovedBy = &actor.ID
	default:
		st.Status = core.SubtaskRejected
	}
	st.UpdatedAt = now
	s.subtasks[st.ID] = st

	t.Status = core.ApplyEffect(t.Status, core.EffectOfDisputeResolved())
	t.UpdatedAt = now
	s.tasks[t.ID] = t

	winner := s.users[winnerID]
	winner.DisputesWon++
	winner.UpdatedAt = now
	s.users[winnerID] = winner

	loserID := core.DisputeLoser(d, winnerID, st, t)
	if loserID != uuid.Nil {
		if loser, ok := s.users[loserID]; ok {
			loser.DisputesLost++
			loser.UpdatedAt = now
			s.users[loserID] = loser
		}
	}

	return mstore.ResolutionResult{Dispute: d, Subtask: st, Task: t, LoserID: loserID}, nil
}

// ---- helpers ----

func (s *MemoryStore) latestSubmissionLocked(subtaskID uuid.UUID) (core.Submission, error) {
	var latest core.Submission
	found := false
	for _, sub := range s.submissions {
		if sub.SubtaskID != subtaskID {
			continue
		}
		if !found || sub.CreatedAt.After(latest.CreatedAt) {
			latest = sub
			found = true
		}
	}
	if !found {
		return core.Submission{}, mstore.ErrSubmissionNotFound
	}
	return latest, nil
}

// subtaskIndexLocked returns the subtask's ordinal position among its
// siblings ordered by sequence, the on-chain subtask index.
func (s *MemoryStore) subtaskIndexLocked(st core.Subtask) int {
	idx := 0
	for _, sibling := range s.subtasks {
		if sibling.TaskID == st.TaskID && sibling.SequenceOrder < st.SequenceOrder {
			idx++
		}
	}
	return idx
}

func overlaps(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
