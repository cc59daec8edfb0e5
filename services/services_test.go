package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"flowmarket-backend/blockchain"
	core "flowmarket-backend/core/marketplace"
	mstore "flowmarket-backend/middleware/marketplace"
	storage "flowmarket-backend/storage/marketplace"
)

type paymentCall struct {
	taskID       int64
	subtaskIndex int
	worker       string
	amountWei    *big.Int
}

type fakeEscrow struct {
	configured   bool
	canSign      bool
	verifyStatus uint64
	verifyErr    error
	counter      int64
	payTx        string
	payErr       error
	regTx        string
	regErr       error

	payments  []paymentCall
	artifacts [][]string
}

func (f *fakeEscrow) IsConfigured() bool { return f.configured }
func (f *fakeEscrow) CanSign() bool      { return f.canSign }

func (f *fakeEscrow) VerifyTransaction(_ context.Context, txHash string) (blockchain.TxInfo, error) {
	if f.verifyErr != nil {
		return blockchain.TxInfo{}, f.verifyErr
	}
	return blockchain.TxInfo{Hash: txHash, Status: f.verifyStatus}, nil
}

func (f *fakeEscrow) TaskCounter(context.Context) (int64, error) { return f.counter, nil }

func (f *fakeEscrow) ApproveSubtaskPayment(_ context.Context, taskID int64, subtaskIndex int, worker string, amountWei *big.Int) (string, error) {
	if f.payErr != nil {
		return "", f.payErr
	}
	f.payments = append(f.payments, paymentCall{taskID, subtaskIndex, worker, amountWei})
	return f.payTx, nil
}

func (f *fakeEscrow) RegisterArtifact(_ context.Context, artifactID, contentHash string, contributors []string) (string, error) {
	if f.regErr != nil {
		return "", f.regErr
	}
	f.artifacts = append(f.artifacts, contributors)
	return f.regTx, nil
}

type fakeContent struct {
	pinErr error
	pinned int
}

func (f *fakeContent) PinFile(_ context.Context, content []byte, _ string) (string, error) {
	if f.pinErr != nil {
		return "", f.pinErr
	}
	f.pinned++
	return fmt.Sprintf("QmFake%d", f.pinned), nil
}

func (f *fakeContent) GetFile(context.Context, string) ([]byte, error) { return nil, nil }
func (f *fakeContent) GatewayURL(h string) string                     { return "https://gw/" + h }

type fixture struct {
	svc    *Services
	store  *storage.MemoryStore
	escrow *fakeEscrow
	admin  core.User
	worker core.User
}

func newFixture(t *testing.T, escrow *fakeEscrow, content ContentStore) fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	ctx := context.Background()
	admin, err := store.CreateUser(ctx, core.User{WalletAddress: "0xclient", IsAdmin: true})
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}
	worker, err := store.CreateUser(ctx, core.User{WalletAddress: "0xworker"})
	if err != nil {
		t.Fatalf("create worker: %v", err)
	}
	var gw EscrowGateway
	if escrow != nil {
		gw = escrow
	}
	return fixture{
		svc:    New(store, gw, content),
		store:  store,
		escrow: escrow,
		admin:  admin,
		worker: worker,
	}
}

func (f fixture) submittedSubtask(t *testing.T) core.Subtask {
	t.Helper()
	ctx := context.Background()
	task, err := f.svc.Tasks.Create(ctx, core.Task{Title: "research", TotalBudget: decimal.NewFromInt(100)}, f.admin)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	task, err = f.svc.Tasks.Fund(ctx, task.ID, "0xdeadbeef", f.admin)
	if err != nil {
		t.Fatalf("fund task: %v", err)
	}
	st, err := f.svc.Subtasks.Create(ctx, core.Subtask{
		TaskID: task.ID, Title: "survey", SequenceOrder: 1, Budget: decimal.NewFromInt(25),
	}, f.admin)
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	if _, err := f.svc.Subtasks.Claim(ctx, st.ID, f.worker, nil, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.svc.Subtasks.Submit(ctx, st.ID, f.worker, "done", []byte("# results"), "results.md"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	return st
}

func TestFundVerifiesEscrowTransaction(t *testing.T) {
	esc := &fakeEscrow{configured: true, canSign: true, verifyStatus: 1, counter: 42}
	f := newFixture(t, esc, &fakeContent{})
	ctx := context.Background()

	task, err := f.svc.Tasks.Create(ctx, core.Task{Title: "x", TotalBudget: decimal.NewFromInt(10)}, f.admin)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	funded, err := f.svc.Tasks.Fund(ctx, task.ID, "0xabc", f.admin)
	if err != nil {
		t.Fatalf("fund: %v", err)
	}
	if funded.EscrowContractTaskID != 42 || funded.EscrowTxHash != "0xabc" {
		t.Fatalf("escrow binding not recorded: %+v", funded)
	}
}

func TestFundRejectsFailedTransaction(t *testing.T) {
	esc := &fakeEscrow{configured: true, canSign: true, verifyStatus: 0}
	f := newFixture(t, esc, &fakeContent{})
	ctx := context.Background()

	task, err := f.svc.Tasks.Create(ctx, core.Task{Title: "x", TotalBudget: decimal.NewFromInt(10)}, f.admin)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Tasks.Fund(ctx, task.ID, "0xabc", f.admin); !errors.Is(err, mstore.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	got, _ := f.svc.Tasks.Get(ctx, task.ID)
	if got.Status != core.TaskDraft {
		t.Fatalf("failed funding must leave the task in draft, got %s", got.Status)
	}
}

func TestSubmitArtifactRules(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		content     []byte
		expectError bool
	}{
		{name: "markdown ok", filename: "notes.md", content: []byte("x")},
		{name: "csv ok", filename: "data.csv", content: []byte("a,b")},
		{name: "binary rejected", filename: "tool.exe", content: []byte{0x4d, 0x5a}, expectError: true},
		{name: "no extension rejected", filename: "README", content: []byte("x"), expectError: true},
		{name: "oversized rejected", filename: "big.json", content: make([]byte, core.MaxArtifactBytes+1), expectError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, &fakeContent{})
			ctx := context.Background()
			task, _ := f.svc.Tasks.Create(ctx, core.Task{Title: "x", TotalBudget: decimal.NewFromInt(10)}, f.admin)
			task, _ = f.svc.Tasks.Fund(ctx, task.ID, "0x1", f.admin)
			st, _ := f.svc.Subtasks.Create(ctx, core.Subtask{TaskID: task.ID, Title: "s", SequenceOrder: 1}, f.admin)
			if _, err := f.svc.Subtasks.Claim(ctx, st.ID, f.worker, nil, nil); err != nil {
				t.Fatalf("claim: %v", err)
			}

			_, err := f.svc.Subtasks.Submit(ctx, st.ID, f.worker, "sum", tt.content, tt.filename)
			if tt.expectError {
				if !errors.Is(err, mstore.ErrValidation) {
					t.Fatalf("expected ErrValidation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
		})
	}
}

func TestSubmitFailsWhenUploadFails(t *testing.T) {
	content := &fakeContent{pinErr: errors.New("pinata down")}
	f := newFixture(t, nil, content)
	ctx := context.Background()

	task, _ := f.svc.Tasks.Create(ctx, core.Task{Title: "x", TotalBudget: decimal.NewFromInt(10)}, f.admin)
	task, _ = f.svc.Tasks.Fund(ctx, task.ID, "0x1", f.admin)
	st, _ := f.svc.Subtasks.Create(ctx, core.Subtask{TaskID: task.ID, Title: "s", SequenceOrder: 1}, f.admin)
	if _, err := f.svc.Subtasks.Claim(ctx, st.ID, f.worker, nil, nil); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := f.svc.Subtasks.Submit(ctx, st.ID, f.worker, "sum", []byte("x"), "a.md"); err == nil {
		t.Fatal("expected submit to fail when upload fails")
	}
	// Nothing may be recorded and the subtask stays claimable state.
	subs, _ := f.svc.Subtasks.Submissions(ctx, st.ID)
	if len(subs) != 0 {
		t.Fatalf("submission recorded despite failed upload: %d", len(subs))
	}
	got, _ := f.svc.Subtasks.Get(ctx, st.ID)
	if got.Status != core.SubtaskClaimed {
		t.Fatalf("subtask advanced despite failed upload: %s", got.Status)
	}
}

func TestApproveReleasesPayment(t *testing.T) {
	esc := &fakeEscrow{configured: true, canSign: true, verifyStatus: 1, counter: 9, payTx: "0xpay", regTx: "0xreg"}
	f := newFixture(t, esc, &fakeContent{})
	st := f.submittedSubtask(t)
	ctx := context.Background()

	out, err := f.svc.Subtasks.Approve(ctx, st.ID, "good", f.admin)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if out.Release != ReleaseReleased {
		t.Fatalf("expected released, got %s", out.Release)
	}
	if out.PaymentTxHash != "0xpay" {
		t.Fatalf("payment tx not surfaced: %+v", out)
	}
	if len(esc.payments) != 1 {
		t.Fatalf("expected 1 payment call, got %d", len(esc.payments))
	}
	p := esc.payments[0]
	if p.taskID != 9 || p.worker != "0xworker" {
		t.Fatalf("wrong payment call: %+v", p)
	}
	want := decimal.NewFromInt(25).Shift(18).BigInt()
	if p.amountWei.Cmp(want) != 0 {
		t.Fatalf("wrong amount: got %s want %s", p.amountWei, want)
	}

	subs, _ := f.svc.Subtasks.Submissions(ctx, st.ID)
	if subs[len(subs)-1].PaymentTxHash != "0xpay" {
		t.Fatalf("payment tx not recorded on submission: %+v", subs[len(subs)-1])
	}
	if subs[len(subs)-1].ArtifactOnChainTx != "0xreg" {
		t.Fatalf("artifact registration not recorded: %+v", subs[len(subs)-1])
	}
	if len(esc.artifacts) != 1 || esc.artifacts[0][0] != "0xworker" {
		t.Fatalf("artifact contributors wrong: %+v", esc.artifacts)
	}
}

func TestApproveStandsWhenPaymentFails(t *testing.T) {
	esc := &fakeEscrow{configured: true, canSign: true, verifyStatus: 1, counter: 9, payErr: errors.New("rpc timeout")}
	f := newFixture(t, esc, &fakeContent{})
	st := f.submittedSubtask(t)
	ctx := context.Background()

	out, err := f.svc.Subtasks.Approve(ctx, st.ID, "good", f.admin)
	if err != nil {
		t.Fatalf("approval must not fail on payment errors: %v", err)
	}
	if out.Release != ReleaseAttemptFailed {
		t.Fatalf("expected attempt_failed, got %s", out.Release)
	}
	if out.Subtask.Status != core.SubtaskApproved {
		t.Fatalf("approval rolled back: %s", out.Subtask.Status)
	}
	u, _ := f.svc.Users.Get(ctx, f.worker.ID)
	if u.TasksCompleted != 1 {
		t.Fatalf("reputation not bumped: %+v", u.User)
	}
}

func TestApproveWithoutEscrowConfigured(t *testing.T) {
	f := newFixture(t, nil, &fakeContent{})
	st := f.submittedSubtask(t)

	out, err := f.svc.Subtasks.Approve(context.Background(), st.ID, "", f.admin)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	// Without a configured escrow the task has no on-chain binding, so
	// no payment ever comes due.
	if out.Release != ReleaseNotDue {
		t.Fatalf("expected not_due, got %s", out.Release)
	}
}

func TestApproveNotConfiguredWhenBindingExistsButNoSigner(t *testing.T) {
	esc := &fakeEscrow{configured: true, canSign: true, verifyStatus: 1, counter: 5}
	f := newFixture(t, esc, &fakeContent{})
	st := f.submittedSubtask(t)

	// Signing capability disappears after funding (key rotated away).
	esc.canSign = false
	out, err := f.svc.Subtasks.Approve(context.Background(), st.ID, "", f.admin)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if out.Release != ReleaseNotConfigured {
		t.Fatalf("expected not_configured, got %s", out.Release)
	}
}

func TestReputationProfile(t *testing.T) {
	f := newFixture(t, nil, &fakeContent{})
	st := f.submittedSubtask(t)
	ctx := context.Background()

	if _, err := f.svc.Subtasks.Approve(ctx, st.ID, "", f.admin); err != nil {
		t.Fatalf("approve: %v", err)
	}
	p, err := f.svc.Users.GetByWallet(ctx, "0xworker")
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.ReputationScore != 210 {
		t.Fatalf("expected score 210 after one approval, got %d", p.ReputationScore)
	}
	if p.ReputationTier != core.TierNew {
		t.Fatalf("expected tier new at 1 completion, got %s", p.ReputationTier)
	}
}

func TestDisputeResolutionThroughServices(t *testing.T) {
	f := newFixture(t, nil, &fakeContent{})
	st := f.submittedSubtask(t)
	ctx := context.Background()

	d, err := f.svc.Disputes.Open(ctx, st.ID, "review overdue", f.worker)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	res, err := f.svc.Disputes.Resolve(ctx, d.ID, f.worker.ID, "fair", f.admin)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Subtask.Status != core.SubtaskApproved || res.Task.Status != core.TaskInProgress {
		t.Fatalf("unexpected resolution state: subtask=%s task=%s", res.Subtask.Status, res.Task.Status)
	}
}

func TestGenerateQRCodePNG(t *testing.T) {
	svc := NewQRCodeService()
	data, err := svc.GenerateQRCode("0xabc123", "25.5")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a PNG: %v", err)
	}
	if img.Bounds().Dx() != 256 {
		t.Fatalf("unexpected size: %d", img.Bounds().Dx())
	}
}
