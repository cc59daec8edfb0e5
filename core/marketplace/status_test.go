package marketplace

import "testing"

func TestTaskTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    TaskStatus
		to      TaskStatus
		allowed bool
	}{
		{"draft funds", TaskDraft, TaskFunded, true},
		{"draft cancels", TaskDraft, TaskCancelled, true},
		{"draft cannot complete", TaskDraft, TaskCompleted, false},
		{"funded decomposes", TaskFunded, TaskDecomposed, true},
		{"funded starts directly on claim", TaskFunded, TaskInProgress, true},
		{"decomposed starts", TaskDecomposed, TaskInProgress, true},
		{"in_progress completes", TaskInProgress, TaskCompleted, true},
		{"in_progress cannot cancel", TaskInProgress, TaskCancelled, false},
		{"in_progress disputes", TaskInProgress, TaskDisputed, true},
		{"disputed resumes", TaskDisputed, TaskInProgress, true},
		{"disputed cannot complete directly", TaskDisputed, TaskCompleted, false},
		{"completed is terminal", TaskCompleted, TaskInProgress, false},
		{"cancelled is terminal", TaskCancelled, TaskFunded, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestSubtaskTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    SubtaskStatus
		to      SubtaskStatus
		allowed bool
	}{
		{"open claims", SubtaskOpen, SubtaskClaimed, true},
		{"open cannot submit", SubtaskOpen, SubtaskSubmitted, false},
		{"claimed submits", SubtaskClaimed, SubtaskSubmitted, true},
		{"claimed unclaims", SubtaskClaimed, SubtaskOpen, true},
		{"in_progress unclaims", SubtaskInProgress, SubtaskOpen, true},
		{"submitted approves", SubtaskSubmitted, SubtaskApproved, true},
		{"submitted rejects", SubtaskSubmitted, SubtaskRejected, true},
		{"submitted cannot reopen", SubtaskSubmitted, SubtaskOpen, false},
		{"rejected resubmits", SubtaskRejected, SubtaskSubmitted, true},
		{"rejected cannot approve without resubmission", SubtaskRejected, SubtaskApproved, false},
		{"approved is terminal", SubtaskApproved, SubtaskSubmitted, false},
		{"disputed resolves approved", SubtaskDisputed, SubtaskApproved, true},
		{"disputed resolves rejected", SubtaskDisputed, SubtaskRejected, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}

func TestApproveTwiceIsIllegal(t *testing.T) {
	// Approval leaves the submitted state; a second approval has no
	// legal source state.
	if SubtaskApproved.CanTransition(SubtaskApproved) {
		t.Fatal("approved -> approved must be illegal")
	}
}

func TestTaskEffects(t *testing.T) {
	if got := EffectOfSubtaskAdded(TaskFunded); got != TaskEffectDecomposed {
		t.Errorf("first subtask on funded task: got %q", got)
	}
	if got := EffectOfSubtaskAdded(TaskDraft); got != TaskEffectNone {
		t.Errorf("subtask on draft task: got %q", got)
	}
	if got := EffectOfClaim(TaskDecomposed); got != TaskEffectInProgress {
		t.Errorf("claim on decomposed task: got %q", got)
	}
	if got := EffectOfClaim(TaskInProgress); got != TaskEffectNone {
		t.Errorf("claim on in_progress task: got %q", got)
	}
	if got := EffectOfDisputeOpened(TaskInProgress); got != TaskEffectForceDisputed {
		t.Errorf("dispute on in_progress task: got %q", got)
	}
	if got := EffectOfDisputeOpened(TaskCompleted); got != TaskEffectNone {
		t.Errorf("dispute on completed task: got %q", got)
	}

	if got := ApplyEffect(TaskFunded, TaskEffectInProgress); got != TaskInProgress {
		t.Errorf("ApplyEffect advance: got %q", got)
	}
	if got := ApplyEffect(TaskFunded, TaskEffectNone); got != TaskFunded {
		t.Errorf("ApplyEffect none: got %q", got)
	}
}
