package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	core "flowmarket-backend/core/marketplace"
	mstore "flowmarket-backend/middleware/marketplace"
)

// PGStore persists marketplace state in Postgres. Every lifecycle
// operation runs in a single transaction and takes row locks with
// SELECT ... FOR UPDATE, so concurrent claims of one subtask serialize
// and exactly one wins.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
  id UUID PRIMARY KEY,
  wallet_address TEXT UNIQUE NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  skills TEXT[],
  id_verified BOOLEAN NOT NULL DEFAULT FALSE,
  tasks_completed INT NOT NULL DEFAULT 0,
  tasks_approved INT NOT NULL DEFAULT 0,
  disputes_won INT NOT NULL DEFAULT 0,
  disputes_lost INT NOT NULL DEFAULT 0,
  is_admin BOOLEAN NOT NULL DEFAULT FALSE,
  is_banned BOOLEAN NOT NULL DEFAULT FALSE,
  banned_reason TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS tasks (
  id UUID PRIMARY KEY,
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  research_question TEXT NOT NULL DEFAULT '',
  client_id UUID NOT NULL,
  status TEXT NOT NULL,
  total_budget NUMERIC NOT NULL,
  escrow_tx_hash TEXT NOT NULL DEFAULT '',
  escrow_contract_task_id BIGINT NOT NULL DEFAULT 0,
  skills_required TEXT[],
  deadline TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  funded_at TIMESTAMPTZ,
  completed_at TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS subtasks (
  id UUID PRIMARY KEY,
  task_id UUID NOT NULL REFERENCES tasks(id),
  title TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  sequence_order INT NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  budget_allocation_percent NUMERIC NOT NULL DEFAULT 0,
  budget NUMERIC NOT NULL DEFAULT 0,
  claimed_by UUID,
  claimed_at TIMESTAMPTZ,
  collaborators JSONB,
  collaborator_splits JSONB,
  submitted_at TIMESTAMPTZ,
  approved_at TIMESTAMPTZ,
  approved_by UUID,
  deadline TIMESTAMPTZ,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS submissions (
  id UUID PRIMARY KEY,
  subtask_id UUID NOT NULL REFERENCES subtasks(id),
  submitted_by UUID NOT NULL,
  content_summary TEXT NOT NULL DEFAULT '',
  artifact_ipfs_hash TEXT NOT NULL DEFAULT '',
  artifact_type TEXT NOT NULL DEFAULT '',
  artifact_on_chain_tx TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  review_notes TEXT NOT NULL DEFAULT '',
  reviewed_by UUID,
  reviewed_at TIMESTAMPTZ,
  payment_tx_hash TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS disputes (
  id UUID PRIMARY KEY,
  subtask_id UUID NOT NULL REFERENCES subtasks(id),
  raised_by UUID NOT NULL,
  reason TEXT NOT NULL,
  status TEXT NOT NULL,
  resolution TEXT NOT NULL DEFAULT '',
  resolved_by UUID,
  resolved_at TIMESTAMPTZ,
  winner_id UUID,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_subtasks_task_status ON subtasks(task_id, status);
CREATE INDEX IF NOT EXISTS idx_submissions_subtask ON submissions(subtask_id, created_at);
CREATE INDEX IF NOT EXISTS idx_disputes_status ON disputes(status);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Close shuts down the pool.
func (s *PGStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const userColumns = `id, wallet_address, name, skills, id_verified, tasks_completed, tasks_approved, disputes_won, disputes_lost, is_admin, is_banned, banned_reason, created_at, updated_at`

const taskColumns = `id, title, description, research_question, client_id, status, total_budget, escrow_tx_hash, escrow_contract_task_id, skills_required, deadline, created_at, updated_at, funded_at, completed_at`

const subtaskColumns = `id, task_id, title, description, sequence_order, status, budget_allocation_percent, budget, claimed_by, claimed_at, collaborators, collaborator_splits, submitted_at, approved_at, approved_by, deadline, created_at, updated_at`

const submissionColumns = `id, subtask_id, submitted_by, content_summary, artifact_ipfs_hash, artifact_type, artifact_on_chain_tx, status, review_notes, reviewed_by, reviewed_at, payment_tx_hash, created_at`

const disputeColumns = `id, subtask_id, raised_by, reason, status, resolution, resolved_by, resolved_at, winner_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (core.User, error) {
	var u core.User
	err := row.Scan(&u.ID, &u.WalletAddress, &u.Name, &u.Skills, &u.IDVerified,
		&u.TasksCompleted, &u.TasksApproved, &u.DisputesWon, &u.DisputesLost,
		&u.IsAdmin, &u.IsBanned, &u.BannedReason, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func scanTask(row rowScanner) (core.Task, error) {
	var t core.Task
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.ResearchQuestion,
		&t.ClientID, &t.Status, &t.TotalBudget, &t.EscrowTxHash,
		&t.EscrowContractTaskID, &t.SkillsRequired, &t.Deadline,
		&t.CreatedAt, &t.UpdatedAt, &t.FundedAt, &t.CompletedAt)
	return t, err
}

func scanSubtask(row rowScanner) (core.Subtask, error) {
	var st core.Subtask
	var collabJSON, splitsJSON []byte
	err := row.Scan(&st.ID, &st.TaskID, &st.Title, &st.Description,
		&st.SequenceOrder, &st.Status, &st.BudgetAllocationPercent, &st.Budget,
		&st.ClaimedBy, &st.ClaimedAt, &collabJSON, &splitsJSON,
		&st.SubmittedAt, &st.ApprovedAt, &st.ApprovedBy, &st.Deadline,
		&st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return core.Subtask{}, err
	}
	if len(collabJSON) > 0 {
		if err := json.Unmarshal(collabJSON, &st.Collaborators); err != nil {
			return core.Subtask{}, err
		}
	}
	if len(splitsJSON) > 0 {
		if err := json.Unmarshal(splitsJSON, &st.CollaboratorSplits); err != nil {
			return core.Subtask{}, err
		}
	}
	return st, err
}

func scanSubmission(row rowScanner) (core.Submission, error) {
	var sub core.Submission
	err := row.Scan(&sub.ID, &sub.SubtaskID, &sub.SubmittedBy, &sub.ContentSummary,
		&sub.ArtifactIPFSHash, &sub.ArtifactType, &sub.ArtifactOnChainTx,
		&sub.Status, &sub.ReviewNotes, &sub.ReviewedBy, &sub.ReviewedAt,
		&sub.PaymentTxHash, &sub.CreatedAt)
	return sub, err
}

func scanDispute(row rowScanner) (core.Dispute, error) {
	var d core.Dispute
	err := row.Scan(&d.ID, &d.SubtaskID, &d.RaisedBy, &d.Reason, &d.Status,
		&d.Resolution, &d.ResolvedBy, &d.ResolvedAt, &d.WinnerID, &d.CreatedAt)
	return d, err
}

// ---- users ----

func (s *PGStore) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	wallet := strings.ToLower(strings.TrimSpace(u.WalletAddress))
	if wallet == "" {
		return core.User{}, fmt.Errorf("%w: wallet address is required", mstore.ErrValidation)
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	now := time.Now()
	u.WalletAddress = wallet
	u.CreatedAt = now
	u.UpdatedAt = now

	tag, err := s.pool.Exec(ctx, `
INSERT INTO users (`+userColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (wallet_address) DO NOTHING
`, u.ID, u.WalletAddress, u.Name, u.Skills, u.IDVerified,
		u.TasksCompleted, u.TasksApproved, u.DisputesWon, u.DisputesLost,
		u.IsAdmin, u.IsBanned, u.BannedReason, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return core.User{}, err
	}
	if tag.RowsAffected() == 0 {
		return core.User{}, fmt.Errorf("%w: wallet %s already registered", mstore.ErrValidation, wallet)
	}
	return u, nil
}

func (s *PGStore) GetUser(ctx context.Context, id uuid.UUID) (core.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.User{}, mstore.ErrUserNotFound
	}
	return u, err
}

func (s *PGStore) GetUserByWallet(ctx context.Context, wallet string) (core.User, error) {
	wallet = strings.ToLower(strings.TrimSpace(wallet))
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE wallet_address=$1`, wallet))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.User{}, mstore.ErrUserNotFound
	}
	return u, err
}

func (s *PGStore) ListUsers(ctx context.Context, f core.UserFilter) ([]core.User, int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM users
WHERE ($1::boolean IS NULL OR id_verified = $1)
  AND ($2::boolean IS NULL OR is_banned = $2)
`, f.Verified, f.Banned).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
SELECT `+userColumns+` FROM users
WHERE ($1::boolean IS NULL OR id_verified = $1)
  AND ($2::boolean IS NULL OR is_banned = $2)
ORDER BY created_at DESC
OFFSET $3 LIMIT $4
`, f.Verified, f.Banned, maxInt(f.Offset, 0), limitOrAll(f.Limit))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []core.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (s *PGStore) VerifyUser(ctx context.Context, userID uuid.UUID, actor core.User) (core.User, error) {
	if !actor.IsAdmin {
		return core.User{}, mstore.ErrNotAuthorized
	}
	u, err := scanUser(s.pool.QueryRow(ctx, `
UPDATE users SET id_verified=TRUE, updated_at=now() WHERE id=$1
RETURNING `+userColumns, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.User{}, mstore.ErrUserNotFound
	}
	return u, err
}

func (s *PGStore) BanUser(ctx context.Context, userID uuid.UUID, reason string, actor core.User) (core.User, error) {
	if !actor.IsAdmin {
		return core.User{}, mstore.ErrNotAuthorized
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.User{}, err
	}
	defer tx.Rollback(ctx)

	u, err := scanUser(tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1 FOR UPDATE`, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.User{}, mstore.ErrUserNotFound
	}
	if err != nil {
		return core.User{}, err
	}
	if u.IsAdmin {
		return core.User{}, fmt.Errorf("%w: cannot ban an admin user", mstore.ErrValidation)
	}
	u.IsBanned = true
	u.BannedReason = reason
	u.UpdatedAt = time.Now()
	if _, err := tx.Exec(ctx, `UPDATE users SET is_banned=TRUE, banned_reason=$2, updated_at=$3 WHERE id=$1`,
		userID, reason, u.UpdatedAt); err != nil {
		return core.User{}, err
	}
	return u, tx.Commit(ctx)
}

func (s *PGStore) UnbanUser(ctx context.Context, userID uuid.UUID, actor core.User) (core.User, error) {
	if !actor.IsAdmin {
		return core.User{}, mstore.ErrNotAuthorized
	}
	u, err := scanUser(s.pool.QueryRow(ctx, `
UPDATE users SET is_banned=FALSE, banned_reason='', updated_at=now() WHERE id=$1
RETURNING `+userColumns, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.User{}, mstore.ErrUserNotFound
	}
	return u, err
}

// ---- tasks ----

func (s *PGStore) CreateTask(ctx context.Context, t core.Task, actor core.User) (core.Task, error) {
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

	_, err := s.pool.Exec(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`, t.ID, t.Title, t.Description, t.ResearchQuestion, t.ClientID, t.Status,
		t.TotalBudget, t.EscrowTxHash, t.EscrowContractTaskID, t.SkillsRequired,
		t.Deadline, t.CreatedAt, t.UpdatedAt, t.FundedAt, t.CompletedAt)
	if err != nil {
		return core.Task{}, err
	}
	return t, nil
}

func (s *PGStore) GetTask(ctx context.Context, id uuid.UUID) (core.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Task{}, mstore.ErrTaskNotFound
	}
	return t, err
}

func (s *PGStore) ListTasks(ctx context.Context, f core.TaskFilter) ([]core.Task, int, error) {
	showDrafts := f.IncludeDrafts || f.Status == core.TaskDraft
	where := `
WHERE ($1 = '' OR status = $1)
  AND ($2 OR status <> 'draft')
  AND ($3::uuid IS NULL OR client_id = $3)
  AND (cardinality($4::text[]) = 0 OR skills_required && $4)
`
	var clientID *uuid.UUID
	if f.ClientID != uuid.Nil {
		clientID = &f.ClientID
	}
	skills := f.Skills
	if skills == nil {
		skills = []string{}
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM tasks `+where,
		string(f.Status), showDrafts, clientID, skills).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+` FROM tasks `+where+`
ORDER BY created_at DESC
OFFSET $5 LIMIT $6
`, string(f.Status), showDrafts, clientID, skills, maxInt(f.Offset, 0), limitOrAll(f.Limit))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []core.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

func (s *PGStore) UpdateTask(ctx context.Context, taskID uuid.UUID, upd mstore.TaskUpdate, actor core.User) (core.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Task{}, err
	}
	defer tx.Rollback(ctx)

	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Task{}, mstore.ErrTaskNotFound
	}
	if err != nil {
		return core.Task{}, err
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
	if _, err := tx.Exec(ctx, `
UPDATE tasks SET title=$2, description=$3, skills_required=$4, deadline=$5, updated_at=$6 WHERE id=$1
`, taskID, t.Title, t.Description, t.SkillsRequired, t.Deadline, t.UpdatedAt); err != nil {
		return core.Task{}, err
	}
	return t, tx.Commit(ctx)
}

func (s *PGStore) FundTask(ctx context.Context, taskID uuid.UUID, txHash string, onChainTaskID int64, actor core.User) (core.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Task{}, err
	}
	defer tx.Rollback(ctx)

	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Task{}, mstore.ErrTaskNotFound
	}
	if err != nil {
		return core.Task{}, err
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
	if _, err := tx.Exec(ctx, `
UPDATE tasks SET status=$2, escrow_tx_hash=$3, escrow_contract_task_id=$4, funded_at=$5, updated_at=$5 WHERE id=$1
`, taskID, t.Status, txHash, onChainTaskID, now); err != nil {
		return core.Task{}, err
	}
	return t, tx.Commit(ctx)
}

func (s *PGStore) CancelTask(ctx context.Context, taskID uuid.UUID, actor core.User) (core.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Task{}, err
	}
	defer tx.Rollback(ctx)

	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Task{}, mstore.ErrTaskNotFound
	}
	if err != nil {
		return core.Task{}, err
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return core.Task{}, mstore.ErrNotAuthorized
	}
	if !t.Status.Cancellable() {
		return core.Task{}, fmt.Errorf("%w: cannot cancel task in status %s", mstore.ErrStateConflict, t.Status)
	}
	// The parent row lock serializes against claims, which also lock
	// the task row before committing.
	var active int
	if err := tx.QueryRow(ctx, `
SELECT count(*) FROM subtasks WHERE task_id=$1 AND status IN ('claimed','in_progress','submitted')
`, taskID).Scan(&active); err != nil {
		return core.Task{}, err
	}
	if active > 0 {
		return core.Task{}, fmt.Errorf("%w: active subtasks block cancellation", mstore.ErrStateConflict)
	}
	t.Status = core.TaskCancelled
	t.UpdatedAt = time.Now()
	if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, updated_at=$3 WHERE id=$1`,
		taskID, t.Status, t.UpdatedAt); err != nil {
		return core.Task{}, err
	}
	return t, tx.Commit(ctx)
}

func (s *PGStore) CompleteTask(ctx context.Context, taskID uuid.UUID, actor core.User) (core.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Task{}, err
	}
	defer tx.Rollback(ctx)

	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Task{}, mstore.ErrTaskNotFound
	}
	if err != nil {
		return core.Task{}, err
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return core.Task{}, mstore.ErrNotAuthorized
	}
	if !t.Status.CanTransition(core.TaskCompleted) {
		return core.Task{}, fmt.Errorf("%w: cannot complete task in status %s", mstore.ErrStateConflict, t.Status)
	}
	var total, approved int
	if err := tx.QueryRow(ctx, `
SELECT count(*), count(*) FILTER (WHERE status = 'approved') FROM subtasks WHERE task_id=$1
`, taskID).Scan(&total, &approved); err != nil {
		return core.Task{}, err
	}
	if total == 0 {
		return core.Task{}, fmt.Errorf("%w: task has no subtasks", mstore.ErrStateConflict)
	}
	if approved != total {
		return core.Task{}, fmt.Errorf("%w: not all subtasks are approved", mstore.ErrStateConflict)
	}
	now := time.Now()
	t.Status = core.TaskCompleted
	t.CompletedAt = &now
	t.UpdatedAt = now
	if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, completed_at=$3, updated_at=$3 WHERE id=$1`,
		taskID, t.Status, now); err != nil {
		return core.Task{}, err
	}
	return t, tx.Commit(ctx)
}

// ---- subtasks ----

func (s *PGStore) CreateSubtask(ctx context.Context, st core.Subtask, actor core.User) (core.Subtask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Subtask{}, err
	}
	defer tx.Rollback(ctx)

	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, st.TaskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Subtask{}, mstore.ErrTaskNotFound
	}
	if err != nil {
		return core.Subtask{}, err
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
	if err := insertSubtask(ctx, tx, st); err != nil {
		return core.Subtask{}, err
	}

	if effect := core.EffectOfSubtaskAdded(t.Status); effect != core.TaskEffectNone {
		next := core.ApplyEffect(t.Status, effect)
		if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, updated_at=$3 WHERE id=$1`,
			t.ID, next, now); err != nil {
			return core.Subtask{}, err
		}
	}
	return st, tx.Commit(ctx)
}

func insertSubtask(ctx context.Context, tx pgx.Tx, st core.Subtask) error {
	collabJSON, splitsJSON, err := marshalCollaboration(st)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO subtasks (`+subtaskColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
`, st.ID, st.TaskID, st.Title, st.Description, st.SequenceOrder, st.Status,
		st.BudgetAllocationPercent, st.Budget, st.ClaimedBy, st.ClaimedAt,
		collabJSON, splitsJSON, st.SubmittedAt, st.ApprovedAt, st.ApprovedBy,
		st.Deadline, st.CreatedAt, st.UpdatedAt)
	return err
}

func marshalCollaboration(st core.Subtask) ([]byte, []byte, error) {
	var collabJSON, splitsJSON []byte
	var err error
	if len(st.Collaborators) > 0 {
		if collabJSON, err = json.Marshal(st.Collaborators); err != nil {
			return nil, nil, err
		}
	}
	if len(st.CollaboratorSplits) > 0 {
		if splitsJSON, err = json.Marshal(st.CollaboratorSplits); err != nil {
			return nil, nil, err
		}
	}
	return collabJSON, splitsJSON, nil
}

func (s *PGStore) GetSubtask(ctx context.Context, id uuid.UUID) (core.Subtask, error) {
	st, err := scanSubtask(s.pool.QueryRow(ctx, `SELECT `+subtaskColumns+` FROM subtasks WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Subtask{}, mstore.ErrSubtaskNotFound
	}
	return st, err
}

func (s *PGStore) ListSubtasks(ctx context.Context, f core.SubtaskFilter) ([]core.Subtask, int, error) {
	var taskID *uuid.UUID
	if f.TaskID != uuid.Nil {
		taskID = &f.TaskID
	}
	where := `
WHERE ($1 = '' OR status = $1)
  AND ($2::uuid IS NULL OR task_id = $2)
`
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM subtasks `+where,
		string(f.Status), taskID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
SELECT `+subtaskColumns+` FROM subtasks `+where+`
ORDER BY task_id, sequence_order, created_at
OFFSET $3 LIMIT $4
`, string(f.Status), taskID, maxInt(f.Offset, 0), limitOrAll(f.Limit))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []core.Subtask
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, st)
	}
	return out, total, rows.Err()
}

func (s *PGStore) UpdateSubtask(ctx context.Context, subtaskID uuid.UUID, upd mstore.SubtaskUpdate, actor core.User) (core.Subtask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Subtask{}, err
	}
	defer tx.Rollback(ctx)

	st, t, err := lockSubtaskAndTask(ctx, tx, subtaskID)
	if err != nil {
		return core.Subtask{}, err
	}
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
	if _, err := tx.Exec(ctx, `
UPDATE subtasks SET title=$2, description=$3, budget_allocation_percent=$4, budget=$5, deadline=$6, updated_at=$7 WHERE id=$1
`, subtaskID, st.Title, st.Description, st.BudgetAllocationPercent, st.Budget, st.Deadline, st.UpdatedAt); err != nil {
		return core.Subtask{}, err
	}
	return st, tx.Commit(ctx)
}

func (s *PGStore) DeleteSubtask(ctx context.Context, subtaskID uuid.UUID, actor core.User) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	st, t, err := lockSubtaskAndTask(ctx, tx, subtaskID)
	if err != nil {
		return err
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return mstore.ErrNotAuthorized
	}
	if st.Status != core.SubtaskOpen && !actor.IsAdmin {
		return fmt.Errorf("%w: cannot delete subtask in status %s", mstore.ErrStateConflict, st.Status)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM subtasks WHERE id=$1`, subtaskID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// lockSubtaskAndTask takes row locks on a subtask and its parent task,
// task first so every writer locks in the same order.
func lockSubtaskAndTask(ctx context.Context, tx pgx.Tx, subtaskID uuid.UUID) (core.Subtask, core.Task, error) {
	var taskID uuid.UUID
	err := tx.QueryRow(ctx, `SELECT task_id FROM subtasks WHERE id=$1`, subtaskID).Scan(&taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Subtask{}, core.Task{}, mstore.ErrSubtaskNotFound
	}
	if err != nil {
		return core.Subtask{}, core.Task{}, err
	}
	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Subtask{}, core.Task{}, mstore.ErrTaskNotFound
	}
	if err != nil {
		return core.Subtask{}, core.Task{}, err
	}
	st, err := scanSubtask(tx.QueryRow(ctx, `SELECT `+subtaskColumns+` FROM subtasks WHERE id=$1 FOR UPDATE`, subtaskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Subtask{}, core.Task{}, mstore.ErrSubtaskNotFound
	}
	if err != nil {
		return core.Subtask{}, core.Task{}, err
	}
	return st, t, nil
}

func (s *PGStore) ClaimSubtask(ctx context.Context, subtaskID uuid.UUID, actor core.User, collaboratorWallets []string, splits []decimal.Decimal) (core.Subtask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Subtask{}, err
	}
	defer tx.Rollback(ctx)

	st, t, err := lockSubtaskAndTask(ctx, tx, subtaskID)
	if err != nil {
		return core.Subtask{}, err
	}
	if st.Status != core.SubtaskOpen {
		return core.Subtask{}, mstore.ErrSubtaskUnavailable
	}
	if !t.Status.AcceptsClaims() {
		return core.Subtask{}, fmt.Errorf("%w: task is not available for work", mstore.ErrStateConflict)
	}

	var collaboratorIDs []uuid.UUID
	var storedSplits []decimal.Decimal
	if len(collaboratorWallets) > 0 {
		for _, wallet := range collaboratorWallets {
			var id uuid.UUID
			err := tx.QueryRow(ctx, `SELECT id FROM users WHERE wallet_address=$1`,
				strings.ToLower(strings.TrimSpace(wallet))).Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				return core.Subtask{}, fmt.Errorf("%w: collaborator not found: %s", mstore.ErrValidation, wallet)
			}
			if err != nil {
				return core.Subtask{}, err
			}
			collaboratorIDs = append(collaboratorIDs, id)
		}
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

	collabJSON, splitsJSON, err := marshalCollaboration(st)
	if err != nil {
		return core.Subtask{}, err
	}
	if _, err := tx.Exec(ctx, `
UPDATE subtasks SET status=$2, claimed_by=$3, claimed_at=$4, collaborators=$5, collaborator_splits=$6, updated_at=$4 WHERE id=$1
`, subtaskID, st.Status, actor.ID, now, collabJSON, splitsJSON); err != nil {
		return core.Subtask{}, err
	}

	if effect := core.EffectOfClaim(t.Status); effect != core.TaskEffectNone {
		next := core.ApplyEffect(t.Status, effect)
		if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, updated_at=$3 WHERE id=$1`,
			t.ID, next, now); err != nil {
			return core.Subtask{}, err
		}
	}
	return st, tx.Commit(ctx)
}

func (s *PGStore) UnclaimSubtask(ctx context.Context, subtaskID uuid.UUID, actor core.User) (core.Subtask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Subtask{}, err
	}
	defer tx.Rollback(ctx)

	st, _, err := lockSubtaskAndTask(ctx, tx, subtaskID)
	if err != nil {
		return core.Subtask{}, err
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
	if _, err := tx.Exec(ctx, `
UPDATE subtasks SET status='open', claimed_by=NULL, claimed_at=NULL, collaborators=NULL, collaborator_splits=NULL, updated_at=$2 WHERE id=$1
`, subtaskID, st.UpdatedAt); err != nil {
		return core.Subtask{}, err
	}
	return st, tx.Commit(ctx)
}

func (s *PGStore) SubmitWork(ctx context.Context, req mstore.SubmitRequest, actor core.User) (core.Submission, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Submission{}, err
	}
	defer tx.Rollback(ctx)

	st, _, err := lockSubtaskAndTask(ctx, tx, req.SubtaskID)
	if err != nil {
		return core.Submission{}, err
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
		ID:               uuid.New(),
		SubtaskID:        req.SubtaskID,
		SubmittedBy:      actor.ID,
		ContentSummary:   req.ContentSummary,
		ArtifactIPFSHash: req.ArtifactHash,
		ArtifactType:     req.ArtifactType,
		Status:           core.SubmissionPending,
		CreatedAt:        now,
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO submissions (`+submissionColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, sub.ID, sub.SubtaskID, sub.SubmittedBy, sub.ContentSummary,
		sub.ArtifactIPFSHash, sub.ArtifactType, sub.ArtifactOnChainTx,
		sub.Status, sub.ReviewNotes, sub.ReviewedBy, sub.ReviewedAt,
		sub.PaymentTxHash, sub.CreatedAt); err != nil {
		return core.Submission{}, err
	}
	if _, err := tx.Exec(ctx, `
UPDATE subtasks SET status='submitted', submitted_at=$2, updated_at=$2 WHERE id=$1
`, req.SubtaskID, now); err != nil {
		return core.Submission{}, err
	}
	return sub, tx.Commit(ctx)
}

func (s *PGStore) ApproveSubtask(ctx context.Context, subtaskID uuid.UUID, reviewNotes string, actor core.User) (mstore.ApprovalResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mstore.ApprovalResult{}, err
	}
	defer tx.Rollback(ctx)

	st, t, err := lockSubtaskAndTask(ctx, tx, subtaskID)
	if err != nil {
		return mstore.ApprovalResult{}, err
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return mstore.ApprovalResult{}, mstore.ErrNotAuthorized
	}
	if st.Status != core.SubtaskSubmitted {
		return mstore.ApprovalResult{}, fmt.Errorf("%w: subtask is not pending approval", mstore.ErrStateConflict)
	}

	sub, err := scanSubmission(tx.QueryRow(ctx, `
SELECT `+submissionColumns+` FROM submissions WHERE subtask_id=$1 ORDER BY created_at DESC LIMIT 1
`, subtaskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return mstore.ApprovalResult{}, mstore.ErrSubmissionNotFound
	}
	if err != nil {
		return mstore.ApprovalResult{}, err
	}

	now := time.Now()
	sub.Status = core.SubmissionApproved
	sub.ReviewedBy = &actor.ID
	sub.ReviewedAt = &now
	sub.ReviewNotes = reviewNotes
	if _, err := tx.Exec(ctx, `
UPDATE submissions SET status='approved', reviewed_by=$2, reviewed_at=$3, review_notes=$4 WHERE id=$1
`, sub.ID, actor.ID, now, reviewNotes); err != nil {
		return mstore.ApprovalResult{}, err
	}

	st.Status = core.SubtaskApproved
	st.ApprovedAt = &now
	st.ApprovedBy = &actor.ID
	st.UpdatedAt = now
	if _, err := tx.Exec(ctx, `
UPDATE subtasks SET status='approved', approved_at=$2, approved_by=$3, updated_at=$2 WHERE id=$1
`, subtaskID, now, actor.ID); err != nil {
		return mstore.ApprovalResult{}, err
	}

	res := mstore.ApprovalResult{Subtask: st, Submission: sub}

	if st.ClaimedBy != nil {
		worker, err := scanUser(tx.QueryRow(ctx, `
UPDATE users SET tasks_completed=tasks_completed+1, tasks_approved=tasks_approved+1, updated_at=$2 WHERE id=$1
RETURNING `+userColumns, *st.ClaimedBy, now))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return mstore.ApprovalResult{}, err
		}
		if err == nil {
			if t.EscrowContractTaskID != 0 && st.Budget.IsPositive() {
				var idx int
				if err := tx.QueryRow(ctx, `
SELECT count(*) FROM subtasks WHERE task_id=$1 AND sequence_order < $2
`, st.TaskID, st.SequenceOrder).Scan(&idx); err != nil {
					return mstore.ApprovalResult{}, err
				}
				res.Payment = &mstore.PaymentInstruction{
					EscrowTaskID:  t.EscrowContractTaskID,
					SubtaskIndex:  idx,
					WorkerAddress: worker.WalletAddress,
					AmountWei:     core.ToWei(st.Budget),
				}
			}
			res.ContributorWallets = append(res.ContributorWallets, worker.WalletAddress)
			for _, cid := range st.Collaborators {
				var wallet string
				if err := tx.QueryRow(ctx, `SELECT wallet_address FROM users WHERE id=$1`, cid).Scan(&wallet); err == nil {
					res.ContributorWallets = append(res.ContributorWallets, wallet)
				}
			}
		}
	}
	return res, tx.Commit(ctx)
}

func (s *PGStore) RejectSubtask(ctx context.Context, subtaskID uuid.UUID, reviewNotes string, actor core.User) (core.Subtask, error) {
	if strings.TrimSpace(reviewNotes) == "" {
		return core.Subtask{}, fmt.Errorf("%w: review notes are required for rejection", mstore.ErrValidation)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Subtask{}, err
	}
	defer tx.Rollback(ctx)

	st, t, err := lockSubtaskAndTask(ctx, tx, subtaskID)
	if err != nil {
		return core.Subtask{}, err
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return core.Subtask{}, mstore.ErrNotAuthorized
	}
	if st.Status != core.SubtaskSubmitted {
		return core.Subtask{}, fmt.Errorf("%w: subtask is not pending review", mstore.ErrStateConflict)
	}

	now := time.Now()
	if _, err := tx.Exec(ctx, `
UPDATE submissions SET status='rejected', reviewed_by=$2, reviewed_at=$3, review_notes=$4
WHERE id = (SELECT id FROM submissions WHERE subtask_id=$1 ORDER BY created_at DESC LIMIT 1)
`, subtaskID, actor.ID, now, reviewNotes); err != nil {
		return core.Subtask{}, err
	}
	st.Status = core.SubtaskRejected
	st.UpdatedAt = now
	if _, err := tx.Exec(ctx, `UPDATE subtasks SET status='rejected', updated_at=$2 WHERE id=$1`,
		subtaskID, now); err != nil {
		return core.Subtask{}, err
	}
	return st, tx.Commit(ctx)
}

func (s *PGStore) ReorderSubtasks(ctx context.Context, taskID uuid.UUID, orderedIDs []uuid.UUID, actor core.User) ([]core.Subtask, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1 FOR UPDATE`, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, mstore.ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.ClientID != actor.ID && !actor.IsAdmin {
		return nil, mstore.ErrNotAuthorized
	}

	rows, err := tx.Query(ctx, `SELECT `+subtaskColumns+` FROM subtasks WHERE task_id=$1 FOR UPDATE`, taskID)
	if err != nil {
		return nil, err
	}
	existing := make(map[uuid.UUID]core.Subtask)
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		existing[st.ID] = st
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
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
		if _, err := tx.Exec(ctx, `UPDATE subtasks SET sequence_order=$2, updated_at=$3 WHERE id=$1`,
			id, i+1, now); err != nil {
			return nil, err
		}
		st := existing[id]
		st.SequenceOrder = i + 1
		st.UpdatedAt = now
		out = append(out, st)
	}
	return out, tx.Commit(ctx)
}

// ---- submissions ----

func (s *PGStore) ListSubmissions(ctx context.Context, subtaskID uuid.UUID) ([]core.Submission, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+submissionColumns+` FROM submissions WHERE subtask_id=$1 ORDER BY created_at
`, subtaskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PGStore) RecordPaymentTx(ctx context.Context, submissionID uuid.UUID, txHash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE submissions SET payment_tx_hash=$2 WHERE id=$1`, submissionID, txHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return mstore.ErrSubmissionNotFound
	}
	return nil
}

func (s *PGStore) RecordArtifactTx(ctx context.Context, submissionID uuid.UUID, txHash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE submissions SET artifact_on_chain_tx=$2 WHERE id=$1`, submissionID, txHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return mstore.ErrSubmissionNotFound
	}
	return nil
}

// ---- disputes ----

func (s *PGStore) OpenDispute(ctx context.Context, subtaskID uuid.UUID, reason string, actor core.User) (core.Dispute, error) {
	if strings.TrimSpace(reason) == "" {
		return core.Dispute{}, fmt.Errorf("%w: reason is required", mstore.ErrValidation)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return core.Dispute{}, err
	}
	defer tx.Rollback(ctx)

	st, t, err := lockSubtaskAndTask(ctx, tx, subtaskID)
	if err != nil {
		return core.Dispute{}, err
	}
	if !st.Participant(actor.ID, t) && !actor.IsAdmin {
		return core.Dispute{}, mstore.ErrNotAuthorized
	}
	if !st.Status.CanTransition(core.SubtaskDisputed) {
		return core.Dispute{}, fmt.Errorf("%w: cannot dispute subtask in status %s", mstore.ErrStateConflict, st.Status)
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
	if _, err := tx.Exec(ctx, `
INSERT INTO disputes (`+disputeColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, d.ID, d.SubtaskID, d.RaisedBy, d.Reason, d.Status, d.Resolution,
		d.ResolvedBy, d.ResolvedAt, d.WinnerID, d.CreatedAt); err != nil {
		return core.Dispute{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE subtasks SET status='disputed', updated_at=$2 WHERE id=$1`,
		subtaskID, now); err != nil {
		return core.Dispute{}, err
	}
	if effect := core.EffectOfDisputeOpened(t.Status); effect != core.TaskEffectNone {
		next := core.ApplyEffect(t.Status, effect)
		if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, updated_at=$3 WHERE id=$1`,
			t.ID, next, now); err != nil {
			return core.Dispute{}, err
		}
	}
	return d, tx.Commit(ctx)
}

func (s *PGStore) GetDispute(ctx context.Context, id uuid.UUID) (core.Dispute, error) {
	d, err := scanDispute(s.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Dispute{}, mstore.ErrDisputeNotFound
	}
	return d, err
}

func (s *PGStore) ListDisputes(ctx context.Context, f core.DisputeFilter) ([]core.Dispute, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `
SELECT count(*) FROM disputes WHERE ($1 = '' OR status = $1)
`, string(f.Status)).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
SELECT `+disputeColumns+` FROM disputes WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC
OFFSET $2 LIMIT $3
`, string(f.Status), maxInt(f.Offset, 0), limitOrAll(f.Limit))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []core.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, d)
	}
	return out, total, rows.Err()
}

func (s *PGStore) ResolveDispute(ctx context.Context, disputeID uuid.UUID, winnerID uuid.UUID, resolution string, actor core.User) (mstore.ResolutionResult, error) {
	if !actor.IsAdmin {
		return mstore.ResolutionResult{}, mstore.ErrNotAuthorized
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mstore.ResolutionResult{}, err
	}
	defer tx.Rollback(ctx)

	d, err := scanDispute(tx.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id=$1 FOR UPDATE`, disputeID))
	if errors.Is(err, pgx.ErrNoRows) {
		return mstore.ResolutionResult{}, mstore.ErrDisputeNotFound
	}
	if err != nil {
		return mstore.ResolutionResult{}, err
	}
	if d.Status != core.DisputeOpen {
		return mstore.ResolutionResult{}, fmt.Errorf("%w: dispute is not open", mstore.ErrStateConflict)
	}
	st, t, err := lockSubtaskAndTask(ctx, tx, d.SubtaskID)
	if err != nil {
		return mstore.ResolutionResult{}, err
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id=$1)`, winnerID).Scan(&exists); err != nil {
		return mstore.ResolutionResult{}, err
	}
	if !exists {
		return mstore.ResolutionResult{}, fmt.Errorf("%w: winner: %v", mstore.ErrValidation, mstore.ErrUserNotFound)
	}

	now := time.Now()
	d.Status = core.DisputeResolved
	d.Resolution = resolution
	d.ResolvedBy = &actor.ID
	d.ResolvedAt = &now
	d.WinnerID = &winnerID
	if _, err := tx.Exec(ctx, `
UPDATE disputes SET status='resolved', resolution=$2, resolved_by=$3, resolved_at=$4, winner_id=$5 WHERE id=$1
`, disputeID, resolution, actor.ID, now, winnerID); err != nil {
		return mstore.ResolutionResult{}, err
	}

	switch core.DisputeOutcome(winnerID, st) {
	case core.SubtaskApproved:
		st.Status = core.SubtaskApproved
		st.ApprovedAt = &now
		st.ApprovedBy = &actor.ID
		if _, err := tx.Exec(ctx, `
UPDATE subtasks SET status='approved', approved_at=$2, approved_by=$3, updated_at=$2 WHERE id=$1
`, st.ID, now, actor.ID); err != nil {
			return mstore.ResolutionResult{}, err
		}
	default:
		st.Status = core.SubtaskRejected
		if _, err := tx.Exec(ctx, `UPDATE subtasks SET status='rejected', updated_at=$2 WHERE id=$1`,
			st.ID, now); err != nil {
			return mstore.ResolutionResult{}, err
		}
	}
	st.UpdatedAt = now

	t.Status = core.ApplyEffect(t.Status, core.EffectOfDisputeResolved())
	t.UpdatedAt = now
	if _, err := tx.Exec(ctx, `UPDATE tasks SET status=$2, updated_at=$3 WHERE id=$1`,
		t.ID, t.Status, now); err != nil {
		return mstore.ResolutionResult{}, err
	}

	if _, err := tx.Exec(ctx, `UPDATE users SET disputes_won=disputes_won+1, updated_at=$2 WHERE id=$1`,
		winnerID, now); err != nil {
		return mstore.ResolutionResult{}, err
	}
	loserID := core.DisputeLoser(d, winnerID, st, t)
	if loserID != uuid.Nil {
		if _, err := tx.Exec(ctx, `UPDATE users SET disputes_lost=disputes_lost+1, updated_at=$2 WHERE id=$1`,
			loserID, now); err != nil {
			return mstore.ResolutionResult{}, err
		}
	}

	res := mstore.ResolutionResult{Dispute: d, Subtask: st, Task: t, LoserID: loserID}
	return res, tx.Commit(ctx)
}

// ---- helpers ----

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// limitOrAll maps a non-positive limit to effectively unbounded.
func limitOrAll(limit int) int {
	if limit <= 0 {
		return 1 << 30
	}
	return limit
}
