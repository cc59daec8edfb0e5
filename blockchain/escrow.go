package blockchain

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
)

// Escrow and registry ABIs, trimmed to the functions the backend calls.
const escrowABIJSON = `[
  {"inputs":[{"name":"amount","type":"uint256"}],"name":"fundTask","outputs":[{"name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"taskId","type":"uint256"},{"name":"subtaskIndex","type":"uint256"},{"name":"worker","type":"address"},{"name":"amount","type":"uint256"}],"name":"approveSubtask","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"taskId","type":"uint256"}],"name":"completeTask","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"taskId","type":"uint256"}],"name":"raiseDispute","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"taskId","type":"uint256"}],"name":"cancelTask","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"","type":"uint256"}],"name":"tasks","outputs":[{"name":"id","type":"uint256"},{"name":"client","type":"address"},{"name":"totalAmount","type":"uint256"},{"name":"releasedAmount","type":"uint256"},{"name":"status","type":"uint8"},{"name":"createdAt","type":"uint256"}],"stateMutability":"view","type":"function"},
  {"inputs":[],"name":"taskCounter","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const registryABIJSON = `[
  {"inputs":[{"name":"artifactId","type":"bytes32"},{"name":"contentHash","type":"bytes32"},{"name":"contributors","type":"address[]"}],"name":"registerArtifact","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"name":"artifactId","type":"bytes32"}],"name":"getArtifact","outputs":[{"name":"contentHash","type":"bytes32"},{"name":"contributors","type":"address[]"},{"name":"timestamp","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const (
	approveGasLimit  = 200000
	registerGasLimit = 300000
)

// OnChainTask mirrors the escrow contract's task struct.
type OnChainTask struct {
	ID             int64  `json:"id"`
	Client         string `json:"client"`
	TotalAmount    string `json:"total_amount"`
	ReleasedAmount string `json:"released_amount"`
	Status         uint8  `json:"status"`
	CreatedAt      int64  `json:"created_at"`
}

// TxInfo is the verified view of an on-chain transaction.
type TxInfo struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"block_number"`
}

// Artifact mirrors the registry contract's stored artifact record.
type Artifact struct {
	ContentHash  string   `json:"content_hash"`
	Contributors []string `json:"contributors"`
	Timestamp    int64    `json:"timestamp"`
}

// Client talks to the escrow and artifact-registry contracts. A client
// without contract addresses is still usable: reads return zero values
// and writes report not-configured, so lifecycle operations never
// depend on chain availability.
type Client struct {
	eth          *ethclient.Client
	chainID      *big.Int
	escrowAddr   common.Address
	registryAddr common.Address
	escrowABI    abi.ABI
	registryABI  abi.ABI
	escrowSet    bool
	registrySet  bool
	adminKey     *ecdsa.PrivateKey
	adminAddr    common.Address
}

// NewClientFromEnv builds a Client from BASE_RPC_URL,
// ESCROW_CONTRACT_ADDRESS, REGISTRY_CONTRACT_ADDRESS, and
// ADMIN_PRIVATE_KEY.
func NewClientFromEnv(ctx context.Context) (*Client, error) {
	rpcURL := os.Getenv("BASE_RPC_URL")
	if rpcURL == "" {
		rpcURL = "https://sepolia.base.org"
	}
	return NewClient(ctx, rpcURL,
		os.Getenv("ESCROW_CONTRACT_ADDRESS"),
		os.Getenv("REGISTRY_CONTRACT_ADDRESS"),
		os.Getenv("ADMIN_PRIVATE_KEY"))
}

// NewClient connects to the RPC endpoint and parses the contract ABIs.
func NewClient(ctx context.Context, rpcURL, escrowAddr, registryAddr, adminKeyHex string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	escrowABI, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}
	registryABI, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse registry abi: %w", err)
	}

	c := &Client{
		eth:         eth,
		escrowABI:   escrowABI,
		registryABI: registryABI,
	}
	if escrowAddr != "" {
		c.escrowAddr = common.HexToAddress(escrowAddr)
		c.escrowSet = true
	}
	if registryAddr != "" {
		c.registryAddr = common.HexToAddress(registryAddr)
		c.registrySet = true
	}
	if adminKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(adminKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse admin key: %w", err)
		}
		c.adminKey = key
		c.adminAddr = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

// IsConfigured reports whether both contract addresses are set.
func (c *Client) IsConfigured() bool {
	return c.escrowSet && c.registrySet
}

// CanSign reports whether the client holds the admin key needed for
// write operations.
func (c *Client) CanSign() bool {
	return c.adminKey != nil
}

// TaskCounter reads the escrow's task counter. Returns 0 when the
// escrow is not configured.
func (c *Client) TaskCounter(ctx context.Context) (int64, error) {
	if !c.escrowSet {
		return 0, nil
	}
	out, err := c.call(ctx, c.escrowAddr, c.escrowABI, "taskCounter")
	if err != nil {
		return 0, err
	}
	return out[0].(*big.Int).Int64(), nil
}

// OnChainTask reads the escrow's task record.
func (c *Client) OnChainTask(ctx context.Context, taskID int64) (OnChainTask, error) {
	if !c.escrowSet {
		return OnChainTask{}, fmt.Errorf("escrow contract not configured")
	}
	out, err := c.call(ctx, c.escrowAddr, c.escrowABI, "tasks", big.NewInt(taskID))
	if err != nil {
		return OnChainTask{}, err
	}
	return OnChainTask{
		ID:             out[0].(*big.Int).Int64(),
		Client:         out[1].(common.Address).Hex(),
		TotalAmount:    out[2].(*big.Int).String(),
		ReleasedAmount: out[3].(*big.Int).String(),
		Status:         out[4].(uint8),
		CreatedAt:      out[5].(*big.Int).Int64(),
	}, nil
}

// GetArtifact reads an artifact record from the registry.
func (c *Client) GetArtifact(ctx context.Context, artifactID string) (Artifact, error) {
	if !c.registrySet {
		return Artifact{}, fmt.Errorf("registry contract not configured")
	}
	id, err := toBytes32(artifactID)
	if err != nil {
		return Artifact{}, err
	}
	out, err := c.call(ctx, c.registryAddr, c.registryABI, "getArtifact", id)
	if err != nil {
		return Artifact{}, err
	}
	hash := out[0].([32]byte)
	addrs := out[1].([]common.Address)
	contributors := make([]string, 0, len(addrs))
	for _, a := range addrs {
		contributors = append(contributors, a.Hex())
	}
	return Artifact{
		ContentHash:  hex.EncodeToString(hash[:]),
		Contributors: contributors,
		Timestamp:    out[2].(*big.Int).Int64(),
	}, nil
}

// VerifyTransaction confirms a transaction exists and returns its
// receipt details.
func (c *Client) VerifyTransaction(ctx context.Context, txHash string) (TxInfo, error) {
	hash := common.HexToHash(txHash)
	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return TxInfo{}, fmt.Errorf("transaction %s: %w", txHash, err)
	}
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return TxInfo{}, fmt.Errorf("receipt %s: %w", txHash, err)
	}
	chainID, err := c.networkID(ctx)
	if err != nil {
		return TxInfo{}, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return TxInfo{}, err
	}
	to := ""
	if tx.To() != nil {
		to = tx.To().Hex()
	}
	return TxInfo{
		Hash:        txHash,
		From:        from.Hex(),
		To:          to,
		Value:       tx.Value().String(),
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber.Uint64(),
	}, nil
}

// ApproveSubtaskPayment calls escrow.approveSubtask, releasing the
// amount to the worker. Returns the transaction hash once mined.
func (c *Client) ApproveSubtaskPayment(ctx context.Context, taskID int64, subtaskIndex int, workerAddress string, amountWei *big.Int) (string, error) {
	if !c.escrowSet {
		return "", fmt.Errorf("escrow contract not configured")
	}
	if c.adminKey == nil {
		return "", fmt.Errorf("admin private key not configured")
	}
	data, err := c.escrowABI.Pack("approveSubtask",
		big.NewInt(taskID), big.NewInt(int64(subtaskIndex)),
		common.HexToAddress(workerAddress), amountWei)
	if err != nil {
		return "", err
	}
	return c.send(ctx, c.escrowAddr, data, approveGasLimit)
}

// RegisterArtifact calls registry.registerArtifact with the artifact
// id, the content hash, and the contributor addresses.
func (c *Client) RegisterArtifact(ctx context.Context, artifactID, contentHash string, contributors []string) (string, error) {
	if !c.registrySet {
		return "", fmt.Errorf("registry contract not configured")
	}
	if c.adminKey == nil {
		return "", fmt.Errorf("admin private key not configured")
	}
	id, err := toBytes32(artifactID)
	if err != nil {
		return "", err
	}
	content, err := toBytes32(contentHash)
	if err != nil {
		return "", err
	}
	addrs := make([]common.Address, 0, len(contributors))
	for _, a := range contributors {
		addrs = append(addrs, common.HexToAddress(a))
	}
	data, err := c.registryABI.Pack("registerArtifact", id, content, addrs)
	if err != nil {
		return "", err
	}
	return c.send(ctx, c.registryAddr, data, registerGasLimit)
}

func (c *Client) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	res, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return contractABI.Unpack(method, res)
}

// send signs and submits an EIP-1559 transaction, then waits for it to
// mine. A mined-but-reverted transaction is an error.
func (c *Client) send(ctx context.Context, to common.Address, data []byte, gasLimit uint64) (string, error) {
	chainID, err := c.networkID(ctx)
	if err != nil {
		return "", err
	}
	nonce, err := c.eth.PendingNonceAt(ctx, c.adminAddr)
	if err != nil {
		return "", err
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(params.GWei),
		GasFeeCap: new(big.Int).Mul(gasPrice, big.NewInt(2)),
		Gas:       gasLimit,
		To:        &to,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), c.adminKey)
	if err != nil {
		return "", err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	receipt, err := bind.WaitMined(ctx, c.eth, signed)
	if err != nil {
		return "", err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		log.Printf("Transaction reverted: %s", signed.Hash().Hex())
		return "", fmt.Errorf("transaction reverted: %s", signed.Hash().Hex())
	}
	return signed.Hash().Hex(), nil
}

func (c *Client) networkID(ctx context.Context) (*big.Int, error) {
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	c.chainID = id
	return id, nil
}

// toBytes32 left-pads a hex string into a fixed 32-byte value.
func toBytes32(s string) ([32]byte, error) {
	var out [32]byte
	raw := strings.TrimPrefix(s, "0x")
	if len(raw) > 64 {
		return out, fmt.Errorf("value longer than 32 bytes: %s", s)
	}
	raw = strings.Repeat("0", 64-len(raw)) + raw
	b, err := hex.DecodeString(raw)
	if err != nil {
		return out, fmt.Errorf("invalid hex value: %w", err)
	}
	copy(out[:], b)
	return out, nil
}
