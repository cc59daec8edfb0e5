package marketplace

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	core "flowmarket-backend/core/marketplace"
	mstore "flowmarket-backend/middleware/marketplace"
)

func newTestStore(t *testing.T) (*MemoryStore, core.User, core.User) {
	t.Helper()
	s := NewMemoryStore()
	admin, err := s.CreateUser(context.Background(), core.User{
		WalletAddress: "0xAdmin000000000000000000000000000000000001",
		Name:          "admin",
		IsAdmin:       true,
	})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	worker, err := s.CreateUser(context.Background(), core.User{
		WalletAddress: "0xWorker00000000000000000000000000000000002",
		Name:          "worker",
	})
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}
	return s, admin, worker
}

func fundedTaskWithSubtask(t *testing.T, s *MemoryStore, admin core.User) (core.Task, core.Subtask) {
	t.Helper()
	ctx := context.Background()
	task, err := s.CreateTask(ctx, core.Task{
		Title:       "Protein folding survey",
		TotalBudget: decimal.NewFromInt(100),
	}, admin)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	task, err = s.FundTask(ctx, task.ID, "0xfund", 7, admin)
	if err != nil {
		t.Fatalf("fund task: %v", err)
	}
	st, err := s.CreateSubtask(ctx, core.Subtask{
		TaskID:        task.ID,
		Title:         "Literature review",
		SequenceOrder: 1,
		Budget:        decimal.NewFromInt(40),
	}, admin)
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	return task, st
}

func TestCreateTaskRequiresAdmin(t *testing.T) {
	s, _, worker := newTestStore(t)
	_, err := s.CreateTask(context.Background(), core.Task{
		Title:       "x",
		TotalBudget: decimal.NewFromInt(1),
	}, worker)
	if !errors.Is(err, mstore.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestSubtaskCreationAdvancesTaskToDecomposed(t *testing.T) {
	s, admin, _ := newTestStore(t)
	task, _ := fundedTaskWithSubtask(t, s, admin)

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != core.TaskDecomposed {
		t.Fatalf("expected decomposed, got %s", got.Status)
	}
}

func TestConcurrentClaimsExactlyOneWinner(t *testing.T) {
	s, admin, _ := newTestStore(t)
	_, st := fundedTaskWithSubtask(t, s, admin)

	const workers = 16
	ctx := context.Background()
	users := make([]core.User, workers)
	for i := range users {
		u, err := s.CreateUser(ctx, core.User{
			WalletAddress: "0x" + uuid.NewString(),
		})
		if err != nil {
			t.Fatalf("create user: %v", err)
		}
		users[i] = u
	}

	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = s.ClaimSubtask(ctx, st.ID, users[i], nil, nil)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, mstore.ErrSubtaskUnavailable):
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winning claim, got %d", wins)
	}

	got, _ := s.GetSubtask(ctx, st.ID)
	if got.Status != core.SubtaskClaimed || got.ClaimedBy == nil {
		t.Fatalf("subtask not claimed after race: %+v", got)
	}
}

func TestClaimAdvancesTaskToInProgress(t *testing.T) {
	s, admin, worker := newTestStore(t)
	task, st := fundedTaskWithSubtask(t, s, admin)

	if _, err := s.ClaimSubtask(context.Background(), st.ID, worker, nil, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	got, _ := s.GetTask(context.Background(), task.ID)
	if got.Status != core.TaskInProgress {
		t.Fatalf("expected in_progress, got %s", got.Status)
	}
}

func TestClaimUnclaimRoundTrip(t *testing.T) {
	s, admin, worker := newTestStore(t)
	_, st := fundedTaskWithSubtask(t, s, admin)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, core.User{WalletAddress: "0xCollab0000000000000000000000000000000003"}); err != nil {
		t.Fatalf("create collaborator: %v", err)
	}

	claimed, err := s.ClaimSubtask(ctx, st.ID, worker,
		[]string{"0xCollab0000000000000000000000000000000003"},
		[]decimal.Decimal{decimal.NewFromInt(60), decimal.NewFromInt(40)})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.ClaimedBy == nil || *claimed.ClaimedBy != worker.ID {
		t.Fatalf("claimant not recorded")
	}
	if len(claimed.Collaborators) != 1 || len(claimed.CollaboratorSplits) != 2 {
		t.Fatalf("collaborators not recorded: %+v", claimed)
	}

	released, err := s.UnclaimSubtask(ctx, st.ID, worker)
	if err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if released.Status != core.SubtaskOpen ||
		released.ClaimedBy != nil || released.ClaimedAt != nil ||
		released.Collaborators != nil || released.CollaboratorSplits != nil {
		t.Fatalf("unclaim did not reset subtask: %+v", released)
	}
}

func TestClaimWithCollaboratorsRequiresSplits(t *testing.T) {
	s, admin, worker := newTestStore(t)
	_, st := fundedTaskWithSubtask(t, s, admin)
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, core.User{WalletAddress: "0xCollab0000000000000000000000000000000003"}); err != nil {
		t.Fatalf("create collaborator: %v", err)
	}
	_, err := s.ClaimSubtask(ctx, st.ID, worker,
		[]string{"0xCollab0000000000000000000000000000000003"}, nil)
	if !errors.Is(err, mstore.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestClaimUnknownCollaboratorFails(t *testing.T) {
	s, admin, worker := newTestStore(t)
	_, st := fundedTaskWithSubtask(t, s, admin)

	_, err := s.ClaimSubtask(context.Background(), st.ID, worker,
		[]string{"0xNobody"},
		[]decimal.Decimal{decimal.NewFromInt(50), decimal.NewFromInt(50)})
	if !errors.Is(err, mstore.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func submitWork(t *testing.T, s *MemoryStore, st core.Subtask, worker core.User) core.Submission {
	t.Helper()
	sub, err := s.SubmitWork(context.Background(), mstore.SubmitRequest{
		SubtaskID:      st.ID,
		ContentSummary: "findings attached",
		ArtifactHash:   "QmTest",
		ArtifactType:   "md",
	}, worker)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return sub
}

func TestSubmitRequiresClaimantOrCollaborator(t *testing.T) {
	s, admin, worker := newTestStore(t)
	_, st := fundedTaskWithSubtask(t, s, admin)
	ctx := context.Background()

	if _, err := s.ClaimSubtask(ctx, st.ID, worker, nil, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	stranger, _ := s.CreateUser(ctx, core.User{WalletAddress: "0xStranger00000000000000000000000000000004"})
	_, err := s.SubmitWork(ctx, mstore.SubmitRequest{SubtaskID: st.ID}, stranger)
	if !errors.Is(err, mstore.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestApproveReturnsPaymentAndBumpsCounters(t *testing.T) {
	s, admin, worker := newTestStore(t)
	_, st := fundedTaskWithSubtask(t, s, admin)
	ctx := context.Background()

	if _, err := s.ClaimSubtask(ctx, st.ID, worker, nil, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	submitWork(t, s, st, worker)

	res, err := s.ApproveSubtask(ctx, st.ID, "solid work", admin)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if res.Subtask.Status != core.SubtaskApproved {
		t.Fatalf("expected approved, got %s", res.Subtask.Status)
	}
	if res.Submission.Status != core.SubmissionApproved {
		t.Fatalf("submission not approved: %+v", res.Submission)
	}
	if res.Payment == nil {
		t.Fatal("expected a payment instruction")
	}
	if res.Payment.EscrowTaskID != 7 || res.Payment.SubtaskIndex != 0 {
		t.Fatalf("wrong payment target: %+v", res.Payment)
	}
	want := decimal.NewFromInt(40).Shift(18).BigInt()
	if res.Payment.AmountWei.Cmp(want) != 0 {
		t.Fatalf("wrong wei amount: got %s want %s", res.Payment.AmountWei, want)
	}

	u, _ := s.GetUser(ctx, worker.ID)
	if u.TasksCompleted != 1 || u.TasksApproved != 1 {
		t.Fatalf("counters not bumped: %+v", u)
	}
}

func TestApproveTwiceFails(t *testing.T) {
	s, admin, worker := newTestStore(t)
	_, st := fundedTaskWithSubtask(t, s, admin)
	ctx := context.Background()

	if _, err := s.ClaimSubtask(ctx, st.ID, worker, nil, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	submitWork(t, s, st, worker)
	if _, err := s.ApproveSubtask(ctx, st.ID, "", admin); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err := s.ApproveSubtask(ctx, st.ID, "", admin)
	if !errors.Is(err, mstore.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
	u, _ := s.GetUser(ctx, worker.ID)
	if u.TasksCompleted != 1 {
		t.Fatalf("counters double-counted: %+v", u)
	}
}

func TestRejectRequiresNotesAndAllowsResubmit(t *testing.T) {
	s, admin, worker := newTestStore(t)
	_, st := fundedTaskWithSubtask(t, s, admin)
	ctx := context.Background()

	if _, err := s.ClaimSubtask(ctx, st.ID, worker, nil, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	submitWork(t, s, st, worker)

	if _, err := s.RejectSubtask(ctx, st.ID, "", admin); !errors.Is(err, mstore.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty notes, got %v", err)
	}
	rejected, err := s.RejectSubtask(ctx, st.ID, "missing data section", admin)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != core.SubtaskRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}

	// A rejected subtask may be resubmitted by the same claimant.
	submitWork(t, s, st, worker)
	subs, _ := s.ListSubmissions(ctx, st.ID)
	if len(subs) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(subs))
	}
}

func TestCompleteTaskRequiresAllApproved(t *testing.T) {
	s, admin, worker := newTestStore(t)
	task, st1 := fundedTaskWithSubtask(t, s, admin)
	ctx := context.Background()

	st2, err := s.CreateSubtask(ctx, core.Subtask{
		TaskID:        task.ID,
		Title:         "Data analysis",
		SequenceOrder: 2,
		Budget:        decimal.NewFromInt(60),
	}, admin)
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}

	if _, err := s.ClaimSubtask(ctx, st1.ID, worker, nil, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	submitWork(t, s, st1, worker)
	if _, err := s.ApproveSubtask(ctx, st1.ID, "", admin); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if _, err := s.CompleteTask(ctx, task.ID, admin); !errors.Is(err, mstore.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict with open sibling, got %v", err)
	}

	if _, err := s.ClaimSubtask(ctx, st2.ID, worker, nil, nil); err != nil {
		t.Fatalf("claim 2: %v", err)
	}
	submitWork(t, s, st2, worker)
	if _, err := s.ApproveSubtask(ctx, st2.ID, "", admin); err != nil {
		t.Fatalf("approve 2: %v", err)
	}

	done, err := s.CompleteTask(ctx, task.ID, admin)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != core.TaskCompleted || done.CompletedAt == nil {
		t.Fatalf("task not completed: %+v", done)
	}
}

func TestCancelBlockedByActiveSubtasks(t *testing.T) {
	s, admin, worker := newTestStore(t)
	task, st := fundedTaskWithSubtask(t, s, admin)
	ctx := context.Background()

	if _, err := s.ClaimSubtask(ctx, st.ID, worker, nil, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.CancelTask(ctx, task.ID, admin); !errors.Is(err, mstore.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}

	if _, err := s.UnclaimSubtask(ctx, st.ID, worker); err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	cancelled, err := s.CancelTask(ctx, task.ID, admin)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != core.TaskCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestDisputeLifecycle(t *testing.T) {
	s, admin, worker := newTestStore(t)
	task, st := fundedTaskWithSubtask(t, s, admin)
	ctx := context.Background()

	if _, err := s.ClaimSubtask(ctx, st.ID, worker, nil, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	submitWork(t, s, st, worker)

	d, err := s.OpenDispute(ctx, st.ID, "review is overdue", worker)
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}

	gotTask, _ := s.GetTask(ctx, task.ID)
	if gotTask.Status != core.TaskDisputed {
		t.Fatalf("expected disputed task, got %s", gotTask.Status)
	}
	gotSt, _ := s.GetSubtask(ctx, st.ID)
	if gotSt.Status != core.SubtaskDisputed {
		t.Fatalf("expected disputed subtask, got %s", gotSt.Status)
	}

	// Non-admin cannot resolve.
	if _, err := s.ResolveDispute(ctx, d.ID, worker.ID, "x", worker); !errors.Is(err, mstore.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}

	res, err := s.ResolveDispute(ctx, d.ID, worker.ID, "work meets the brief", admin)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Subtask.Status != core.SubtaskApproved {
		t.Fatalf("claimant won, expected approved subtask, got %s", res.Subtask.Status)
	}
	if res.Task.Status != core.TaskInProgress {
		t.Fatalf("expected task back to in_progress, got %s", res.Task.Status)
	}
	if res.LoserID != admin.ID {
		t.Fatalf("expected client to lose, got %s", res.LoserID)
	}

	w, _ := s.GetUser(ctx, worker.ID)
	if w.DisputesWon != 1 {
		t.Fatalf("winner counter not bumped: %+v", w)
	}
	a, _ := s.GetUser(ctx, admin.ID)
	if a.DisputesLost != 1 {
		t.Fatalf("loser counter not bumped: %+v", a)
	}

	if _, err := s.ResolveDispute(ctx, d.ID, worker.ID, "again", admin); !errors.Is(err, mstore.ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict on double resolve, got %v", err)
	}
}

func TestDisputeResolvedAgainstClaimantRejects(t *testing.T) {
	s, admin, worker := newTestStore(t)
	_, st := fundedTaskWithSubtask(t, s, admin)
	ctx := context.Background()

	if _, err := s.ClaimSubtask(ctx, st.ID, worker, nil, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	submitWork(t, s, st, worker)

	d, err := s.OpenDispute(ctx, st.ID, "work is plagiarized", admin)
	if err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	res, err := s.ResolveDispute(ctx, d.ID, admin.ID, "claim upheld", admin)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Subtask.Status != core.SubtaskRejected {
		t.Fatalf("client won, expected rejected subtask, got %s", res.Subtask.Status)
	}
	if res.LoserID != worker.ID {
		t.Fatalf("expected claimant to lose, got %s", res.LoserID)
	}
}

func TestListTasksHidesDrafts(t *testing.T) {
	s, admin, _ := newTestStore(t)
	ctx := context.Background()

	if _, err := s.CreateTask(ctx, core.Task{Title: "draft", TotalBudget: decimal.NewFromInt(1)}, admin); err != nil {
		t.Fatalf("create: %v", err)
	}
	funded, err := s.CreateTask(ctx, core.Task{Title: "funded", TotalBudget: decimal.NewFromInt(1)}, admin)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.FundTask(ctx, funded.ID, "0xabc", 1, admin); err != nil {
		t.Fatalf("fund: %v", err)
	}

	visible, total, err := s.ListTasks(ctx, core.TaskFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(visible) != 1 || visible[0].ID != funded.ID {
		t.Fatalf("expected only the funded task, got %d/%d", len(visible), total)
	}

	all, _, err := s.ListTasks(ctx, core.TaskFilter{IncludeDrafts: true})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both tasks with IncludeDrafts, got %d", len(all))
	}
}

func TestBanUserRules(t *testing.T) {
	s, admin, worker := newTestStore(t)
	ctx := context.Background()

	if _, err := s.BanUser(ctx, worker.ID, "spam", worker); !errors.Is(err, mstore.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if _, err := s.BanUser(ctx, admin.ID, "oops", admin); !errors.Is(err, mstore.ErrValidation) {
		t.Fatalf("expected ErrValidation banning admin, got %v", err)
	}
	banned, err := s.BanUser(ctx, worker.ID, "spam", admin)
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	if !banned.IsBanned || banned.BannedReason != "spam" {
		t.Fatalf("ban not recorded: %+v", banned)
	}
	unbanned, err := s.UnbanUser(ctx, worker.ID, admin)
	if err != nil {
		t.Fatalf("unban: %v", err)
	}
	if unbanned.IsBanned || unbanned.BannedReason != "" {
		t.Fatalf("unban not recorded: %+v", unbanned)
	}
}

func TestReorderSubtasksValidatesIDSet(t *testing.T) {
	s, admin, _ := newTestStore(t)
	task, st1 := fundedTaskWithSubtask(t, s, admin)
	ctx := context.Background()

	st2, err := s.CreateSubtask(ctx, core.Subtask{TaskID: task.ID, Title: "b", SequenceOrder: 2}, admin)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.ReorderSubtasks(ctx, task.ID, []uuid.UUID{st1.ID}, admin); !errors.Is(err, mstore.ErrValidation) {
		t.Fatalf("expected ErrValidation on partial id set, got %v", err)
	}

	out, err := s.ReorderSubtasks(ctx, task.ID, []uuid.UUID{st2.ID, st1.ID}, admin)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if out[0].ID != st2.ID || out[0].SequenceOrder != 1 || out[1].SequenceOrder != 2 {
		t.Fatalf("reorder not applied: %+v", out)
	}
}
