package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/fbsobreira/gotron-sdk/pkg/client"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/types"
)

const tronNodeProvider = "tron-grpc"

// TronNodeClient wraps the gotron gRPC client. Reads and broadcasts use
// separate connections so each gets its own deadline.
type TronNodeClient struct {
	reads       *client.GrpcClient
	writes      *client.GrpcClient
	apiKey      string
	readTimeout time.Duration
}

// TronNodeConfig configures a TronNodeClient
type TronNodeConfig struct {
	Address          string
	APIKey           string
	ReadTimeout      time.Duration
	BroadcastTimeout time.Duration
}

// NewTronNodeClient dials the full node twice, once per deadline class
func NewTronNodeClient(cfg TronNodeConfig) (*TronNodeClient, error) {
	reads, err := dialTron(cfg.Address, cfg.APIKey, cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}
	writes, err := dialTron(cfg.Address, cfg.APIKey, cfg.BroadcastTimeout)
	if err != nil {
		reads.Stop()
		return nil, err
	}
	return &TronNodeClient{reads: reads, writes: writes, apiKey: cfg.APIKey, readTimeout: cfg.ReadTimeout}, nil
}

// rawReadContext prepares ctx for calls made on the generated WalletClient,
// which bypass the wrapper's deadline and API key header.
func (n *TronNodeClient) rawReadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	cancel := context.CancelFunc(func() {})
	if n.readTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, n.readTimeout)
	}
	if n.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "TRON-PRO-API-KEY", n.apiKey)
	}
	return ctx, cancel
}

func dialTron(addr, apiKey string, timeout time.Duration) (*client.GrpcClient, error) {
	c := client.NewGrpcClientWithTimeout(addr, timeout)
	if apiKey != "" {
		if err := c.SetAPIKey(apiKey); err != nil {
			return nil, NewAdapterError(types.ChainTRON, "SetAPIKey", err, nil)
		}
	}
	if err := c.Start(grpc.WithTransportCredentials(insecure.NewCredentials())); err != nil {
		return nil, NewAdapterError(types.ChainTRON, "Dial", err, map[string]interface{}{
			"address": addr,
		})
	}
	return c, nil
}

// callWithContext returns early when ctx ends. The gRPC client deadline
// bounds the abandoned call.
func callWithContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func tronReadError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded {
		return NewAdapterError(types.ChainTRON, op, apperrors.NewProviderTimeoutError(tronNodeProvider), nil)
	}
	return NewAdapterError(types.ChainTRON, op, apperrors.NewProviderError(tronNodeProvider, err), nil)
}

func checkExtention(op string, tx *api.TransactionExtention) error {
	if tx == nil || tx.Transaction == nil {
		return NewAdapterError(types.ChainTRON, op, fmt.Errorf("empty transaction"), nil)
	}
	if tx.Result != nil && tx.Result.Code != api.Return_SUCCESS {
		return NewAdapterError(types.ChainTRON, op, apperrors.NewProviderError(tronNodeProvider,
			fmt.Errorf("build rejected: %s", string(tx.Result.Message))), nil)
	}
	return nil
}

// TransferTRX builds an unsigned native transfer
func (n *TronNodeClient) TransferTRX(ctx context.Context, from, to string, amountSun int64) (*api.TransactionExtention, error) {
	tx, err := callWithContext(ctx, func() (*api.TransactionExtention, error) {
		return n.reads.Transfer(from, to, amountSun)
	})
	if err != nil {
		return nil, tronReadError("TransferTRX", err)
	}
	return tx, checkExtention("TransferTRX", tx)
}

// TransferTRC20 builds an unsigned TRC20 transfer
func (n *TronNodeClient) TransferTRC20(ctx context.Context, from, to, contract string, amount *big.Int, feeLimitSun int64) (*api.TransactionExtention, error) {
	tx, err := callWithContext(ctx, func() (*api.TransactionExtention, error) {
		return n.reads.TRC20Send(from, to, contract, amount, feeLimitSun)
	})
	if err != nil {
		return nil, tronReadError("TransferTRC20", err)
	}
	return tx, checkExtention("TransferTRC20", tx)
}

// EstimateTRC20Energy simulates transfer(to, amount) with a constant call
func (n *TronNodeClient) EstimateTRC20Energy(ctx context.Context, from, to, contract string, amount *big.Int) (int64, error) {
	params := fmt.Sprintf(`[{"address":"%s"},{"uint256":"%s"}]`, to, amount.String())
	tx, err := callWithContext(ctx, func() (*api.TransactionExtention, error) {
		return n.reads.TriggerConstantContract(from, contract, "transfer(address,uint256)", params)
	})
	if err != nil {
		return 0, tronReadError("EstimateTRC20Energy", err)
	}
	if tx == nil || (tx.Result != nil && !tx.Result.Result) {
		msg := ""
		if tx != nil && tx.Result != nil {
			msg = string(tx.Result.Message)
		}
		return 0, NewAdapterError(types.ChainTRON, "EstimateTRC20Energy", fmt.Errorf("simulation failed: %s", msg), nil)
	}
	if tx.EnergyUsed <= 0 {
		return 0, NewAdapterError(types.ChainTRON, "EstimateTRC20Energy", fmt.Errorf("simulation reported no energy"), nil)
	}
	return tx.EnergyUsed, nil
}

// EnergyFee reads the getEnergyFee chain parameter in SUN per energy unit
func (n *TronNodeClient) EnergyFee(ctx context.Context) (int64, error) {
	readCtx, cancel := n.rawReadContext(ctx)
	defer cancel()
	params, err := n.reads.Client.GetChainParameters(readCtx, new(api.EmptyMessage))
	if err != nil {
		return 0, tronReadError("EnergyFee", err)
	}
	return energyFeeParameter(params)
}

func energyFeeParameter(params *core.ChainParameters) (int64, error) {
	for _, p := range params.GetChainParameter() {
		if p.GetKey() == "getEnergyFee" {
			if p.GetValue() <= 0 {
				return 0, NewAdapterError(types.ChainTRON, "EnergyFee", fmt.Errorf("getEnergyFee is %d", p.GetValue()), nil)
			}
			return p.GetValue(), nil
		}
	}
	return 0, NewAdapterError(types.ChainTRON, "EnergyFee", fmt.Errorf("getEnergyFee parameter missing"), nil)
}

// Broadcast submits a signed transaction once
func (n *TronNodeClient) Broadcast(ctx context.Context, tx *core.Transaction) error {
	_, err := callWithContext(ctx, func() (*api.Return, error) {
		return n.writes.Broadcast(tx)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded {
		return apperrors.NewBroadcastTimeoutError(types.ChainTRON, err)
	}
	rejected := apperrors.NewProviderError(tronNodeProvider, fmt.Errorf("%w: %v", ErrBroadcastRejected, err))
	return NewAdapterError(types.ChainTRON, "Broadcast", rejected, nil)
}

// Receipt maps TransactionInfo onto the chain-neutral receipt
func (n *TronNodeClient) Receipt(ctx context.Context, txID string) (Receipt, error) {
	info, err := callWithContext(ctx, func() (*core.TransactionInfo, error) {
		return n.reads.GetTransactionInfoByID(txID)
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return Receipt{Status: types.ReceiptNotFound}, nil
		}
		return Receipt{}, tronReadError("Receipt", err)
	}
	return tronReceipt(info), nil
}

// tronReceipt interprets a TransactionInfo. Native transfers carry a
// DEFAULT contract result, so SUCCESS and DEFAULT both count as success.
func tronReceipt(info *core.TransactionInfo) Receipt {
	if info == nil || info.GetBlockNumber() == 0 {
		return Receipt{Status: types.ReceiptNotFound}
	}
	out := Receipt{Status: types.ReceiptSuccess, BlockNumber: uint64(info.GetBlockNumber())}
	if info.GetResult() == core.TransactionInfo_FAILED {
		out.Status = types.ReceiptFailed
		return out
	}
	if r := info.GetReceipt(); r != nil {
		switch r.GetResult() {
		case core.Transaction_Result_DEFAULT, core.Transaction_Result_SUCCESS:
		default:
			out.Status = types.ReceiptFailed
		}
	}
	return out
}

// TRXBalance returns the account balance in SUN. Unactivated accounts
// report zero.
func (n *TronNodeClient) TRXBalance(ctx context.Context, addr string) (int64, error) {
	acc, err := callWithContext(ctx, func() (*core.Account, error) {
		return n.reads.GetAccount(addr)
	})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "account not found") {
			return 0, nil
		}
		return 0, tronReadError("TRXBalance", err)
	}
	return acc.GetBalance(), nil
}

// TRC20Balance calls balanceOf on a TRC20 contract
func (n *TronNodeClient) TRC20Balance(ctx context.Context, addr, contract string) (*big.Int, error) {
	bal, err := callWithContext(ctx, func() (*big.Int, error) {
		return n.reads.TRC20ContractBalance(addr, contract)
	})
	if err != nil {
		return nil, tronReadError("TRC20Balance", err)
	}
	return bal, nil
}

// Close stops both connections
func (n *TronNodeClient) Close() {
	n.reads.Stop()
	n.writes.Stop()
}

var _ TronNode = (*TronNodeClient)(nil)
