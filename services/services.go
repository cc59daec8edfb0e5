package services

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"math/big"

	"github.com/skip2/go-qrcode"

	"flowmarket-backend/blockchain"
	mstore "flowmarket-backend/middleware/marketplace"
)

// ReleaseOutcome reports what happened to the escrow payment when a
// subtask was approved. Approval itself never fails on the payment
// path.
type ReleaseOutcome string

const (
	ReleaseReleased      ReleaseOutcome = "released"
	ReleaseAttemptFailed ReleaseOutcome = "attempt_failed"
	ReleaseNotConfigured ReleaseOutcome = "not_configured"
	ReleaseNotDue        ReleaseOutcome = "not_due"
)

// EscrowGateway is the chain surface the services need. Implemented by
// blockchain.Client; tests substitute fakes.
type EscrowGateway interface {
	IsConfigured() bool
	CanSign() bool
	VerifyTransaction(ctx context.Context, txHash string) (blockchain.TxInfo, error)
	TaskCounter(ctx context.Context) (int64, error)
	ApproveSubtaskPayment(ctx context.Context, taskID int64, subtaskIndex int, workerAddress string, amountWei *big.Int) (string, error)
	RegisterArtifact(ctx context.Context, artifactID, contentHash string, contributors []string) (string, error)
}

// ContentStore is the artifact storage surface. Implemented by
// ipfs.Client.
type ContentStore interface {
	PinFile(ctx context.Context, content []byte, filename string) (string, error)
	GetFile(ctx context.Context, ipfsHash string) ([]byte, error)
	GatewayURL(ipfsHash string) string
}

// Services bundles the lifecycle services over one store and one set
// of gateways.
type Services struct {
	Tasks    *TaskService
	Subtasks *SubtaskService
	Disputes *DisputeService
	Users    *UserService
	QRCode   *QRCodeService
}

// New wires the services. escrow and content may be nil; everything
// that depends on them degrades per the release-outcome rules.
func New(store mstore.Store, escrow EscrowGateway, content ContentStore) *Services {
	return &Services{
		Tasks:    &TaskService{store: store, escrow: escrow},
		Subtasks: &SubtaskService{store: store, escrow: escrow, content: content},
		Disputes: &DisputeService{store: store},
		Users:    &UserService{store: store},
		QRCode:   NewQRCodeService(),
	}
}

// QRCodeService renders deposit QR codes for escrow funding.
type QRCodeService struct{}

// NewQRCodeService creates a new QR code service.
func NewQRCodeService() *QRCodeService {
	return &QRCodeService{}
}

// GenerateQRCode encodes an address plus amount as a PNG QR code.
func (s *QRCodeService) GenerateQRCode(address, amount string) ([]byte, error) {
	qr, err := qrcode.New(address+"?amount="+amount, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, qr.Image(256)); err != nil {
		return nil, fmt.Errorf("failed to encode QR code to PNG: %w", err)
	}
	return buf.Bytes(), nil
}
