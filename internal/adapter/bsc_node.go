package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/types"
)

const bscNodeProvider = "bsc-rpc"

// BSCNodeClient wraps ethclient with primary/secondary failover for reads.
// Broadcasts are never replayed on another endpoint.
type BSCNodeClient struct {
	mu       sync.RWMutex
	client   *ethclient.Client
	provider *RPCProvider
	chainID  *big.Int
}

// NewBSCNodeClient dials the primary endpoint
func NewBSCNodeClient(ctx context.Context, provider *RPCProvider, chainID int64) (*BSCNodeClient, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}

	rpcURL := provider.CurrentURL()
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, NewAdapterError(types.ChainBSC, "Dial", err, map[string]interface{}{
			"rpcURL": rpcURL,
		})
	}

	return &BSCNodeClient{
		client:   client,
		provider: provider,
		chainID:  big.NewInt(chainID),
	}, nil
}

// ChainID returns the EIP-155 chain id used for signing
func (n *BSCNodeClient) ChainID() *big.Int {
	return new(big.Int).Set(n.chainID)
}

func (n *BSCNodeClient) current() *ethclient.Client {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.client
}

// read runs fn against the active endpoint, failing over once when the
// error looks like an endpoint problem
func (n *BSCNodeClient) read(ctx context.Context, op string, fn func(c *ethclient.Client) error) error {
	start := time.Now()
	err := fn(n.current())
	if err == nil {
		n.provider.RecordSuccess(time.Since(start))
		return nil
	}
	n.provider.RecordFailure(err)

	if shouldFailover(err) && ctx.Err() == nil {
		if next, ferr := n.provider.Failover(); ferr == nil {
			if c, derr := ethclient.DialContext(ctx, next); derr == nil {
				n.mu.Lock()
				old := n.client
				n.client = c
				n.mu.Unlock()
				old.Close()
				logging.FromContext(ctx).WithFields(map[string]interface{}{
					"op":     op,
					"rpcURL": next,
				}).Warn("BSC node failover")

				start = time.Now()
				if err = fn(c); err == nil {
					n.provider.RecordSuccess(time.Since(start))
					return nil
				}
				n.provider.RecordFailure(err)
			}
		}
	}

	if ctx.Err() != nil {
		return NewAdapterError(types.ChainBSC, op, apperrors.NewProviderTimeoutError(bscNodeProvider), nil)
	}
	return NewAdapterError(types.ChainBSC, op, apperrors.NewProviderError(bscNodeProvider, err), nil)
}

// BlockNumber returns the chain head
func (n *BSCNodeClient) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := n.read(ctx, "BlockNumber", func(c *ethclient.Client) error {
		var err error
		head, err = c.BlockNumber(ctx)
		return err
	})
	return head, err
}

// SuggestGasPrice returns the node's gas price suggestion in wei
func (n *BSCNodeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := n.read(ctx, "SuggestGasPrice", func(c *ethclient.Client) error {
		var err error
		price, err = c.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

// EstimateGas simulates msg and returns its gas units
func (n *BSCNodeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	var gas uint64
	err := n.read(ctx, "EstimateGas", func(c *ethclient.Client) error {
		var err error
		gas, err = c.EstimateGas(ctx, msg)
		return err
	})
	return gas, err
}

// PendingNonceAt returns the next nonce including pool transactions
func (n *BSCNodeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	var nonce uint64
	err := n.read(ctx, "PendingNonceAt", func(c *ethclient.Client) error {
		var err error
		nonce, err = c.PendingNonceAt(ctx, account)
		return err
	})
	return nonce, err
}

// BalanceAt returns the latest native balance in wei
func (n *BSCNodeClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	var bal *big.Int
	err := n.read(ctx, "BalanceAt", func(c *ethclient.Client) error {
		var err error
		bal, err = c.BalanceAt(ctx, account, nil)
		return err
	})
	return bal, err
}

// TokenBalance calls balanceOf(holder) on a BEP-20 contract
func (n *BSCNodeClient) TokenBalance(ctx context.Context, contract, holder common.Address) (*big.Int, error) {
	data, err := PackBalanceOf(holder)
	if err != nil {
		return nil, err
	}

	var out []byte
	err = n.read(ctx, "TokenBalance", func(c *ethclient.Client) error {
		var err error
		out, err = c.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return UnpackBalanceOf(out)
}

// TransactionByHash returns a transaction and whether it is still pending
func (n *BSCNodeClient) TransactionByHash(ctx context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	var (
		tx        *ethtypes.Transaction
		isPending bool
	)
	err := n.read(ctx, "TransactionByHash", func(c *ethclient.Client) error {
		var err error
		tx, isPending, err = c.TransactionByHash(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if tx == nil {
		return nil, false, NewAdapterError(types.ChainBSC, "TransactionByHash", ErrTransactionNotFound, map[string]interface{}{
			"hash": hash.Hex(),
		})
	}
	return tx, isPending, nil
}

// Receipt returns the normalized receipt status of txHash
func (n *BSCNodeClient) Receipt(ctx context.Context, txHash string) (Receipt, error) {
	var receipt *ethtypes.Receipt
	err := n.read(ctx, "Receipt", func(c *ethclient.Client) error {
		var err error
		receipt, err = c.TransactionReceipt(ctx, common.HexToHash(txHash))
		if errors.Is(err, ethereum.NotFound) {
			receipt = nil
			return nil
		}
		return err
	})
	if err != nil {
		return Receipt{}, err
	}
	if receipt == nil {
		return Receipt{Status: types.ReceiptNotFound}, nil
	}

	out := Receipt{Status: types.ReceiptFailed}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == ethtypes.ReceiptStatusSuccessful {
		out.Status = types.ReceiptSuccess
	}
	return out, nil
}

// SendTransaction broadcasts a signed transaction once. A deadline error
// means the outcome is unknown.
func (n *BSCNodeClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	err := n.current().SendTransaction(ctx, tx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return apperrors.NewBroadcastTimeoutError(types.ChainBSC, err)
	}
	rejected := apperrors.NewProviderError(bscNodeProvider, fmt.Errorf("%w: %v", ErrBroadcastRejected, err))
	return NewAdapterError(types.ChainBSC, "SendTransaction", rejected, map[string]interface{}{
		"hash": tx.Hash().Hex(),
	})
}

// Health exposes the endpoint health for the admin API
func (n *BSCNodeClient) Health() *ProviderHealth {
	return n.provider.GetHealth()
}

// Close releases the RPC connection
func (n *BSCNodeClient) Close() {
	n.current().Close()
}

var _ BSCNode = (*BSCNodeClient)(nil)
