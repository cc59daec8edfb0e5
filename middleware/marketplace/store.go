package marketplace

import (
	"context"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	core "flowmarket-backend/core/marketplace"
)

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

// Error categories. Operations wrap one of these so callers can map
// failures without parsing messages.
var (
	ErrValidation    = Err("validation failed")
	ErrStateConflict = Err("operation not legal from current status")
	ErrNotAuthorized = Err("not authorized")
)

var (
	ErrTaskNotFound       = Err("task not found")
	ErrSubtaskNotFound    = Err("subtask not found")
	ErrSubmissionNotFound = Err("submission not found")
	ErrDisputeNotFound    = Err("dispute not found")
	ErrUserNotFound       = Err("user not found")

	ErrSubtaskUnavailable = Err("subtask is not available for claiming")
)

// SubmitRequest carries an already-uploaded work submission. Artifact
// upload happens before the store operation; a submission never
// references an artifact that failed to store.
type SubmitRequest struct {
	SubtaskID      uuid.UUID
	ContentSummary string
	ArtifactHash   string
	ArtifactType   string
}

// PaymentInstruction is the on-chain release an approval makes due.
type PaymentInstruction struct {
	EscrowTaskID  int64
	SubtaskIndex  int
	WorkerAddress string
	AmountWei     *big.Int
}

// ApprovalResult is the outcome of an atomic approval: the advanced
// subtask, the reviewed submission, and the settlement work now due.
// Payment is nil when the task carries no escrow binding or the
// subtask has no worker.
type ApprovalResult struct {
	Subtask            core.Subtask
	Submission         core.Submission
	Payment            *PaymentInstruction
	ContributorWallets []string
}

// ResolutionResult is the outcome of an atomic dispute resolution.
// LoserID is uuid.Nil when no opposing party existed.
type ResolutionResult struct {
	Dispute core.Dispute `json:"dispute"`
	Subtask core.Subtask `json:"subtask"`
	Task    core.Task    `json:"task"`
	LoserID uuid.UUID    `json:"loser_id,omitempty"`
}

// TaskUpdate carries optional task field changes.
type TaskUpdate struct {
	Title          *string
	Description    *string
	SkillsRequired *[]string
	Deadline       *time.Time
}

// SubtaskUpdate carries optional subtask field changes.
type SubtaskUpdate struct {
	Title                   *string
	Description             *string
	BudgetAllocationPercent *decimal.Decimal
	Budget                  *decimal.Decimal
	Deadline                *time.Time
}

// Store abstracts marketplace persistence. Every method is a single
// atomic unit: read current state, validate transition and actor,
// mutate, persist. Implementations must make concurrent claims of the
// same subtask serialize so exactly one wins; the loser receives
// ErrSubtaskUnavailable. No implementation may perform blockchain or
// content-store I/O while holding its locks.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u core.User) (core.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (core.User, error)
	GetUserByWallet(ctx context.Context, wallet string) (core.User, error)
	ListUsers(ctx context.Context, f core.UserFilter) ([]core.User, int, error)
	VerifyUser(ctx context.Context, userID uuid.UUID, actor core.User) (core.User, error)
	BanUser(ctx context.Context, userID uuid.UUID, reason string, actor core.User) (core.User, error)
	UnbanUser(ctx context.Context, userID uuid.UUID, actor core.User) (core.User, error)

	// Tasks
	CreateTask(ctx context.Context, t core.Task, actor core.User) (core.Task, error)
	GetTask(ctx context.Context, id uuid.UUID) (core.Task, error)
	ListTasks(ctx context.Context, f core.TaskFilter) ([]core.Task, int, error)
	UpdateTask(ctx context.Context, taskID uuid.UUID, upd TaskUpdate, actor core.User) (core.Task, error)
	FundTask(ctx context.Context, taskID uuid.UUID, txHash string, onChainTaskID int64, actor core.User) (core.Task, error)
	CancelTask(ctx context.Context, taskID uuid.UUID, actor core.User) (core.Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID, actor core.User) (core.Task, error)

	// Subtasks
	CreateSubtask(ctx context.Context, st core.Subtask, actor core.User) (core.Subtask, error)
	GetSubtask(ctx context.Context, id uuid.UUID) (core.Subtask, error)
	ListSubtasks(ctx context.Context, f core.SubtaskFilter) ([]core.Subtask, int, error)
	UpdateSubtask(ctx context.Context, subtaskID uuid.UUID, upd SubtaskUpdate, actor core.User) (core.Subtask, error)
	DeleteSubtask(ctx context.Context, subtaskID uuid.UUID, actor core.User) error
	ClaimSubtask(ctx context.Context, subtaskID uuid.UUID, actor core.User, collaboratorWallets []string, splits []decimal.Decimal) (core.Subtask, error)
	UnclaimSubtask(ctx context.Context, subtaskID uuid.UUID, actor core.User) (core.Subtask, error)
	SubmitWork(ctx context.Context, req SubmitRequest, actor core.User) (core.Submission, error)
	ApproveSubtask(ctx context.Context, subtaskID uuid.UUID, reviewNotes string, actor core.User) (ApprovalResult, error)
	RejectSubtask(ctx context.Context, subtaskID uuid.UUID, reviewNotes string, actor core.User) (core.Subtask, error)
	ReorderSubtasks(ctx context.Context, taskID uuid.UUID, orderedIDs []uuid.UUID, actor core.User) ([]core.Subtask, error)

	// Submissions
	ListSubmissions(ctx context.Context, subtaskID uuid.UUID) ([]core.Submission, error)
	RecordPaymentTx(ctx context.Context, submissionID uuid.UUID, txHash string) error
	RecordArtifactTx(ctx context.Context, submissionID uuid.UUID, txHash string) error

	// Disputes
	OpenDispute(ctx context.Context, subtaskID uuid.UUID, reason string, actor core.User) (core.Dispute, error)
	GetDispute(ctx context.Context, id uuid.UUID) (core.Dispute, error)
	ListDisputes(ctx context.Context, f core.DisputeFilter) ([]core.Dispute, int, error)
	ResolveDispute(ctx context.Context, disputeID uuid.UUID, winnerID uuid.UUID, resolution string, actor core.User) (ResolutionResult, error)

	Close()
}
