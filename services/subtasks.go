package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	core "flowmarket-backend/core/marketplace"
	"flowmarket-backend/metrics"
	mstore "flowmarket-backend/middleware/marketplace"
)

// SubtaskService drives the subtask lifecycle: claim, submit, review,
// and the settlement work review makes due.
type SubtaskService struct {
	store   mstore.Store
	escrow  EscrowGateway
	content ContentStore
}

// ApprovalOutcome is what a client gets back from an approval: the
// advanced records plus the payment-release result. A failed release
// never rolls back the approval.
type ApprovalOutcome struct {
	Subtask       core.Subtask   `json:"subtask"`
	Submission    core.Submission `json:"submission"`
	Release       ReleaseOutcome `json:"release"`
	PaymentTxHash string         `json:"payment_tx_hash,omitempty"`
}

// Create adds a subtask to a task that still accepts decomposition.
func (s *SubtaskService) Create(ctx context.Context, st core.Subtask, actor core.User) (core.Subtask, error) {
	created, err := s.store.CreateSubtask(ctx, st, actor)
	if err != nil {
		return core.Subtask{}, err
	}
	metrics.SubtaskTransitions.WithLabelValues(string(core.SubtaskOpen)).Inc()
	return created, nil
}

// Get returns one subtask.
func (s *SubtaskService) Get(ctx context.Context, id uuid.UUID) (core.Subtask, error) {
	return s.store.GetSubtask(ctx, id)
}

// List returns subtasks matching the filter plus the unpaginated total.
func (s *SubtaskService) List(ctx context.Context, f core.SubtaskFilter) ([]core.Subtask, int, error) {
	return s.store.ListSubtasks(ctx, f)
}

// Update edits an open subtask.
func (s *SubtaskService) Update(ctx context.Context, subtaskID uuid.UUID, upd mstore.SubtaskUpdate, actor core.User) (core.Subtask, error) {
	return s.store.UpdateSubtask(ctx, subtaskID, upd, actor)
}

// Delete removes an open subtask.
func (s *SubtaskService) Delete(ctx context.Context, subtaskID uuid.UUID, actor core.User) error {
	return s.store.DeleteSubtask(ctx, subtaskID, actor)
}

// Claim assigns an open subtask to the actor, optionally with
// collaborators and payment splits.
func (s *SubtaskService) Claim(ctx context.Context, subtaskID uuid.UUID, actor core.User, collaboratorWallets []string, splits []decimal.Decimal) (core.Subtask, error) {
	claimed, err := s.store.ClaimSubtask(ctx, subtaskID, actor, collaboratorWallets, splits)
	if err != nil {
		return core.Subtask{}, err
	}
	metrics.SubtaskTransitions.WithLabelValues(string(core.SubtaskClaimed)).Inc()
	return claimed, nil
}

// Unclaim releases a claim and restores the subtask to open.
func (s *SubtaskService) Unclaim(ctx context.Context, subtaskID uuid.UUID, actor core.User) (core.Subtask, error) {
	released, err := s.store.UnclaimSubtask(ctx, subtaskID, actor)
	if err != nil {
		return core.Subtask{}, err
	}
	metrics.SubtaskTransitions.WithLabelValues(string(core.SubtaskOpen)).Inc()
	return released, nil
}

// Submit records a work submission. When an artifact is attached it is
// validated and pinned to the content store first; a failed upload
// fails the whole submission and no record is written.
func (s *SubtaskService) Submit(ctx context.Context, subtaskID uuid.UUID, actor core.User, contentSummary string, artifact []byte, filename string) (core.Submission, error) {
	req := mstore.SubmitRequest{
		SubtaskID:      subtaskID,
		ContentSummary: contentSummary,
	}
	if len(artifact) > 0 || filename != "" {
		ext, err := core.ArtifactExtension(filename)
		if err != nil {
			return core.Submission{}, fmt.Errorf("%w: %v", mstore.ErrValidation, err)
		}
		if len(artifact) > core.MaxArtifactBytes {
			return core.Submission{}, fmt.Errorf("%w: artifact exceeds %d bytes", mstore.ErrValidation, core.MaxArtifactBytes)
		}
		if s.content == nil {
			return core.Submission{}, fmt.Errorf("%w: content store not configured", mstore.ErrValidation)
		}
		hash, err := s.content.PinFile(ctx, artifact, filename)
		if err != nil {
			return core.Submission{}, fmt.Errorf("artifact upload failed: %w", err)
		}
		metrics.ArtifactPins.Inc()
		req.ArtifactHash = hash
		req.ArtifactType = ext
	}

	sub, err := s.store.SubmitWork(ctx, req, actor)
	if err != nil {
		return core.Submission{}, err
	}
	metrics.SubtaskTransitions.WithLabelValues(string(core.SubtaskSubmitted)).Inc()
	return sub, nil
}

// Submissions returns a subtask's submission history, oldest first.
func (s *SubtaskService) Submissions(ctx context.Context, subtaskID uuid.UUID) ([]core.Submission, error) {
	return s.store.ListSubmissions(ctx, subtaskID)
}

// Approve accepts the latest submission, then attempts payment release
// and artifact registration. The chain work is best-effort: the
// approval stands whatever happens on chain.
func (s *SubtaskService) Approve(ctx context.Context, subtaskID uuid.UUID, reviewNotes string, actor core.User) (ApprovalOutcome, error) {
	res, err := s.store.ApproveSubtask(ctx, subtaskID, reviewNotes, actor)
	if err != nil {
		return ApprovalOutcome{}, err
	}
	metrics.SubtaskTransitions.WithLabelValues(string(core.SubtaskApproved)).Inc()

	release := s.releasePayment(ctx, &res)
	metrics.PaymentReleases.WithLabelValues(string(release)).Inc()
	s.registerArtifact(ctx, &res)

	out := ApprovalOutcome{
		Subtask:    res.Subtask,
		Submission: res.Submission,
		Release:    release,
	}
	if release == ReleaseReleased {
		out.PaymentTxHash = res.Submission.PaymentTxHash
	}
	return out, nil
}

// releasePayment attempts the on-chain payment a fresh approval made
// due and records the tx hash on the submission.
func (s *SubtaskService) releasePayment(ctx context.Context, res *mstore.ApprovalResult) ReleaseOutcome {
	if res.Payment == nil {
		return ReleaseNotDue
	}
	if s.escrow == nil || !s.escrow.IsConfigured() || !s.escrow.CanSign() {
		return ReleaseNotConfigured
	}
	p := res.Payment
	txHash, err := s.escrow.ApproveSubtaskPayment(ctx, p.EscrowTaskID, p.SubtaskIndex, p.WorkerAddress, p.AmountWei)
	if err != nil {
		log.Printf("Blockchain payment failed for subtask %s: %v", res.Subtask.ID, err)
		return ReleaseAttemptFailed
	}
	res.Submission.PaymentTxHash = txHash
	if err := s.store.RecordPaymentTx(ctx, res.Submission.ID, txHash); err != nil {
		log.Printf("Failed to record payment tx %s: %v", txHash, err)
	}
	return ReleaseReleased
}

// registerArtifact records an approved artifact on the registry
// contract, crediting the claimant and collaborators.
func (s *SubtaskService) registerArtifact(ctx context.Context, res *mstore.ApprovalResult) {
	if res.Submission.ArtifactIPFSHash == "" || len(res.ContributorWallets) == 0 {
		return
	}
	if s.escrow == nil || !s.escrow.IsConfigured() || !s.escrow.CanSign() {
		return
	}
	artifactID := hex.EncodeToString(res.Submission.ID[:])
	contentSum := sha256.Sum256([]byte(res.Submission.ArtifactIPFSHash))
	txHash, err := s.escrow.RegisterArtifact(ctx, artifactID, hex.EncodeToString(contentSum[:]), res.ContributorWallets)
	if err != nil {
		log.Printf("Artifact registration failed for submission %s: %v", res.Submission.ID, err)
		return
	}
	if err := s.store.RecordArtifactTx(ctx, res.Submission.ID, txHash); err != nil {
		log.Printf("Failed to record artifact tx %s: %v", txHash, err)
	}
}

// Reject sends a submitted subtask back to its worker with required
// review notes.
func (s *SubtaskService) Reject(ctx context.Context, subtaskID uuid.UUID, reviewNotes string, actor core.User) (core.Subtask, error) {
	rejected, err := s.store.RejectSubtask(ctx, subtaskID, reviewNotes, actor)
	if err != nil {
		return core.Subtask{}, err
	}
	metrics.SubtaskTransitions.WithLabelValues(string(core.SubtaskRejected)).Inc()
	return rejected, nil
}

// Reorder rewrites the sequence of a task's subtasks.
func (s *SubtaskService) Reorder(ctx context.Context, taskID uuid.UUID, orderedIDs []uuid.UUID, actor core.User) ([]core.Subtask, error) {
	return s.store.ReorderSubtasks(ctx, taskID, orderedIDs, actor)
}
