package marketplace

// TaskStatus is the lifecycle state of a research task.
type TaskStatus string

const (
	TaskDraft      TaskStatus = "draft"
	TaskFunded     TaskStatus = "funded"
	TaskDecomposed TaskStatus = "decomposed"
	TaskInProgress TaskStatus = "in_progress"
	TaskInReview   TaskStatus = "in_review"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
	TaskDisputed   TaskStatus = "disputed"
)

// SubtaskStatus is the lifecycle state of a claimable work unit.
type SubtaskStatus string

const (
	SubtaskOpen       SubtaskStatus = "open"
	SubtaskClaimed    SubtaskStatus = "claimed"
	SubtaskInProgress SubtaskStatus = "in_progress"
	SubtaskSubmitted  SubtaskStatus = "submitted"
	SubtaskApproved   SubtaskStatus = "approved"
	SubtaskRejected   SubtaskStatus = "rejected"
	SubtaskDisputed   SubtaskStatus = "disputed"
)

// SubmissionStatus tracks review state of a single submission.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
)

// DisputeStatus tracks a dispute from creation to adjudication.
// "dismissed" is reserved; no current transition produces it.
type DisputeStatus string

const (
	DisputeOpen      DisputeStatus = "open"
	DisputeResolved  DisputeStatus = "resolved"
	DisputeDismissed DisputeStatus = "dismissed"
)

// taskTransitions is the closed transition table for tasks. Every
// task-mutating operation consults this table instead of comparing
// status strings inline.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskDraft:      {TaskFunded, TaskCancelled},
	TaskFunded:     {TaskDecomposed, TaskInProgress, TaskCancelled, TaskDisputed},
	TaskDecomposed: {TaskInProgress, TaskCancelled, TaskDisputed},
	TaskInProgress: {TaskInReview, TaskCompleted, TaskDisputed},
	TaskInReview:   {TaskCompleted, TaskDisputed},
	TaskDisputed:   {TaskInProgress},
	TaskCompleted:  {},
	TaskCancelled:  {},
}

var subtaskTransitions = map[SubtaskStatus][]SubtaskStatus{
	SubtaskOpen:       {SubtaskClaimed},
	SubtaskClaimed:    {SubtaskInProgress, SubtaskSubmitted, SubtaskOpen, SubtaskDisputed},
	SubtaskInProgress: {SubtaskSubmitted, SubtaskOpen, SubtaskDisputed},
	SubtaskSubmitted:  {SubtaskApproved, SubtaskRejected, SubtaskDisputed},
	SubtaskRejected:   {SubtaskSubmitted, SubtaskDisputed},
	SubtaskDisputed:   {SubtaskApproved, SubtaskRejected},
	SubtaskApproved:   {},
}

// CanTransition reports whether the task state machine permits s -> to.
func (s TaskStatus) CanTransition(to TaskStatus) bool {
	for _, t := range taskTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further task transitions exist.
func (s TaskStatus) Terminal() bool {
	return len(taskTransitions[s]) == 0
}

// CanTransition reports whether the subtask state machine permits s -> to.
func (s SubtaskStatus) CanTransition(to SubtaskStatus) bool {
	for _, t := range subtaskTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// Active reports whether the subtask is held by a worker mid-flight.
// Tasks with active subtasks cannot be cancelled.
func (s SubtaskStatus) Active() bool {
	return s == SubtaskClaimed || s == SubtaskInProgress || s == SubtaskSubmitted
}

// Claimable subtask statuses require the parent task to be one of these.
func (s TaskStatus) AcceptsClaims() bool {
	return s == TaskFunded || s == TaskDecomposed || s == TaskInProgress
}

// AcceptsSubtasks reports whether new subtasks may still be added.
func (s TaskStatus) AcceptsSubtasks() bool {
	return s == TaskDraft || s == TaskFunded || s == TaskDecomposed
}

// Cancellable reports whether the task may still be cancelled, subject
// to the no-active-subtasks check.
func (s TaskStatus) Cancellable() bool {
	return s == TaskDraft || s == TaskFunded || s == TaskDecomposed
}

// TaskEffect is a follow-on task state change produced by a subtask
// operation. Effects are computed by pure functions and applied inside
// the same atomic store operation as the primary change.
type TaskEffect string

const (
	TaskEffectNone             TaskEffect = ""
	TaskEffectDecomposed       TaskEffect = "advance_decomposed"
	TaskEffectInProgress       TaskEffect = "advance_in_progress"
	TaskEffectForceDisputed    TaskEffect = "force_disputed"
	TaskEffectResumeInProgress TaskEffect = "resume_in_progress"
)

// EffectOfSubtaskAdded returns the task effect of adding the first
// subtask: a funded task auto-advances to decomposed.
func EffectOfSubtaskAdded(task TaskStatus) TaskEffect {
	if task == TaskFunded {
		return TaskEffectDecomposed
	}
	return TaskEffectNone
}

// EffectOfClaim returns the task effect of a successful claim: the
// first claim moves a funded/decomposed task into in_progress.
func EffectOfClaim(task TaskStatus) TaskEffect {
	if task == TaskFunded || task == TaskDecomposed {
		return TaskEffectInProgress
	}
	return TaskEffectNone
}

// EffectOfDisputeOpened forces the parent task into disputed unless it
// is already terminal.
func EffectOfDisputeOpened(task TaskStatus) TaskEffect {
	if task.Terminal() {
		return TaskEffectNone
	}
	if task == TaskDisputed {
		return TaskEffectNone
	}
	return TaskEffectForceDisputed
}

// EffectOfDisputeResolved returns the task to in_progress so work can
// continue, regardless of which side won.
func EffectOfDisputeResolved() TaskEffect {
	return TaskEffectResumeInProgress
}

// ApplyEffect maps a task effect to the status it produces. The zero
// effect leaves the status unchanged.
func ApplyEffect(current TaskStatus, effect TaskEffect) TaskStatus {
	switch effect {
	case TaskEffectDecomposed:
		return TaskDecomposed
	case TaskEffectInProgress:
		return TaskInProgress
	case TaskEffectForceDisputed:
		return TaskDisputed
	case TaskEffectResumeInProgress:
		return TaskInProgress
	}
	return current
}
