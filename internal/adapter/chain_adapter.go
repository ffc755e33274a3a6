package adapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"

	"github.com/deposit-scanner/internal/types"
)

// Quota is a request budget shared with other processes using the same
// API key
type Quota interface {
	Wait(ctx context.Context) error
}

// BSCExplorer lists account transfers inside a block window. Results are
// sorted ascending and include every page.
type BSCExplorer interface {
	TokenTransfers(ctx context.Context, address string, startBlock, endBlock uint64) ([]EtherscanTokenTransfer, error)
	NativeTransfers(ctx context.Context, address string, startBlock, endBlock uint64) ([]EtherscanTransaction, error)
}

// TronExplorer lists inbound account transfers at or after a millisecond
// timestamp in ascending order. A listing cut short by the page budget
// returns its rows with more set.
type TronExplorer interface {
	TRC20Transfers(ctx context.Context, address, contract string, minTimestampMs int64) (rows []TronGridTRC20Transfer, more bool, err error)
	NativeTransfers(ctx context.Context, address string, minTimestampMs int64) (rows []TronGridTransaction, more bool, err error)
}

// Receipt is the chain-neutral view of a transaction receipt
type Receipt struct {
	Status      types.ReceiptStatus
	BlockNumber uint64
}

// ReceiptSource looks up receipts by hash. A missing receipt is
// ReceiptNotFound with a nil error.
type ReceiptSource interface {
	Receipt(ctx context.Context, txHash string) (Receipt, error)
}

// BSCNode is the JSON-RPC surface used for estimation, balances, sweeps and
// rescue
type BSCNode interface {
	ReceiptSource
	ChainID() *big.Int
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, contract, holder common.Address) (*big.Int, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// TronNode is the gRPC surface used for estimation, balances and sweeps
type TronNode interface {
	ReceiptSource
	TransferTRX(ctx context.Context, from, to string, amountSun int64) (*api.TransactionExtention, error)
	TransferTRC20(ctx context.Context, from, to, contract string, amount *big.Int, feeLimitSun int64) (*api.TransactionExtention, error)
	EstimateTRC20Energy(ctx context.Context, from, to, contract string, amount *big.Int) (int64, error)
	EnergyFee(ctx context.Context) (int64, error)
	Broadcast(ctx context.Context, tx *core.Transaction) error
	TRXBalance(ctx context.Context, address string) (int64, error)
	TRC20Balance(ctx context.Context, address, contract string) (*big.Int, error)
}

// Common error types for chain adapters

var (
	// ErrInvalidAddress indicates the address format is invalid
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrProviderUnavailable indicates the data provider is unavailable
	ErrProviderUnavailable = fmt.Errorf("data provider unavailable")

	// ErrTransactionNotFound indicates the requested transaction was not found
	ErrTransactionNotFound = fmt.Errorf("transaction not found")

	// ErrBroadcastRejected indicates the node refused a signed transaction
	ErrBroadcastRejected = fmt.Errorf("broadcast rejected")
)

// AdapterError wraps errors with additional context
type AdapterError struct {
	Chain   types.ChainID
	Op      string // Operation that failed (e.g., "TokenTransfers", "Receipt")
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("chain adapter error [%s:%s]: %v (details: %+v)", e.Chain, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("chain adapter error [%s:%s]: %v", e.Chain, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(chain types.ChainID, op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Chain:   chain,
		Op:      op,
		Err:     err,
		Details: details,
	}
}
