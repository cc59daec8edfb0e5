package marketplace

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Task is a funded research project decomposed into subtasks.
type Task struct {
	ID               uuid.UUID  `json:"id"`
	Title            string     `json:"title"`
	Description      string     `json:"description"`
	ResearchQuestion string     `json:"research_question,omitempty"`
	ClientID         uuid.UUID  `json:"client_id"`
	Status           TaskStatus `json:"status"`

	TotalBudget decimal.Decimal `json:"total_budget"`

	// Escrow binding, set exactly once at funding.
	EscrowTxHash         string `json:"escrow_tx_hash,omitempty"`
	EscrowContractTaskID int64  `json:"escrow_contract_task_id,omitempty"`

	SkillsRequired []string   `json:"skills_required,omitempty"`
	Deadline       *time.Time `json:"deadline,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FundedAt    *time.Time `json:"funded_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Subtask is an individually claimable, payable unit of work.
type Subtask struct {
	ID     uuid.UUID `json:"id"`
	TaskID uuid.UUID `json:"task_id"`

	Title         string        `json:"title"`
	Description   string        `json:"description"`
	SequenceOrder int           `json:"sequence_order"`
	Status        SubtaskStatus `json:"status"`

	BudgetAllocationPercent decimal.Decimal `json:"budget_allocation_percent"`
	Budget                  decimal.Decimal `json:"budget"`

	ClaimedBy *uuid.UUID `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// Collaborators and CollaboratorSplits are set together at claim
	// time and cleared together at unclaim. Splits include the
	// claimant's share first and sum to exactly 100.
	Collaborators      []uuid.UUID       `json:"collaborators,omitempty"`
	CollaboratorSplits []decimal.Decimal `json:"collaborator_splits,omitempty"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	ApprovedBy  *uuid.UUID `json:"approved_by,omitempty"`

	Deadline  *time.Time `json:"deadline,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Submission is an immutable work-product record. Rows are append-only;
// only the most recent submission per subtask is authoritative for
// review.
type Submission struct {
	ID          uuid.UUID `json:"id"`
	SubtaskID   uuid.UUID `json:"subtask_id"`
	SubmittedBy uuid.UUID `json:"submitted_by"`

	ContentSummary string `json:"content_summary"`

	ArtifactIPFSHash  string `json:"artifact_ipfs_hash,omitempty"`
	ArtifactType      string `json:"artifact_type,omitempty"`
	ArtifactOnChainTx string `json:"artifact_on_chain_tx,omitempty"`

	Status SubmissionStatus `json:"status"`

	ReviewNotes string     `json:"review_notes,omitempty"`
	ReviewedBy  *uuid.UUID `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`

	PaymentTxHash string    `json:"payment_tx_hash,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Dispute is raised against exactly one subtask by one participant.
type Dispute struct {
	ID        uuid.UUID `json:"id"`
	SubtaskID uuid.UUID `json:"subtask_id"`
	RaisedBy  uuid.UUID `json:"raised_by"`

	Reason string        `json:"reason"`
	Status DisputeStatus `json:"status"`

	Resolution string     `json:"resolution,omitempty"`
	ResolvedBy *uuid.UUID `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	WinnerID   *uuid.UUID `json:"winner_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// User is a platform participant identified by wallet address.
// Reputation counters are mutated only by subtask approval and dispute
// resolution, never by direct user action.
type User struct {
	ID            uuid.UUID `json:"id"`
	WalletAddress string    `json:"wallet_address"`
	Name          string    `json:"name"`

	Skills []string `json:"skills,omitempty"`

	IDVerified bool `json:"id_verified"`

	TasksCompleted int `json:"tasks_completed"`
	TasksApproved  int `json:"tasks_approved"`
	DisputesWon    int `json:"disputes_won"`
	DisputesLost   int `json:"disputes_lost"`

	IsAdmin      bool   `json:"is_admin"`
	IsBanned     bool   `json:"is_banned"`
	BannedReason string `json:"banned_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskFilter captures list filters for tasks.
type TaskFilter struct {
	Status        TaskStatus
	Skills        []string
	ClientID      uuid.UUID
	IncludeDrafts bool
	Limit         int
	Offset        int
}

// SubtaskFilter captures list filters for subtasks.
type SubtaskFilter struct {
	Status SubtaskStatus
	TaskID uuid.UUID
	Limit  int
	Offset int
}

// DisputeFilter captures list filters for disputes.
type DisputeFilter struct {
	Status DisputeStatus
	Limit  int
	Offset int
}

// UserFilter captures list filters for users.
type UserFilter struct {
	Verified *bool
	Banned   *bool
	Limit    int
	Offset   int
}

// weiPerToken is the chain's fixed-point scale (18 decimals).
var weiScale = int32(18)

// ToWei converts a token amount to the chain's fixed-point integer
// representation.
func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(weiScale).BigInt()
}

// Participant reports whether the user may raise a dispute on the
// subtask: the task client, the claimant, a listed collaborator, or an
// admin.
func (s Subtask) Participant(userID uuid.UUID, task Task) bool {
	if task.ClientID == userID {
		return true
	}
	if s.ClaimedBy != nil && *s.ClaimedBy == userID {
		return true
	}
	return s.HasCollaborator(userID)
}

// HasCollaborator reports whether the user is a listed collaborator.
func (s Subtask) HasCollaborator(userID uuid.UUID) bool {
	for _, c := range s.Collaborators {
		if c == userID {
			return true
		}
	}
	return false
}
