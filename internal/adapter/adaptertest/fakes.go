// Package adaptertest provides in-memory chain nodes for tests.
package adaptertest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"google.golang.org/protobuf/proto"

	"github.com/deposit-scanner/internal/adapter"
	"github.com/deposit-scanner/internal/types"
)

// BSCNode is a scriptable adapter.BSCNode
type BSCNode struct {
	mu sync.Mutex

	ChainIDValue *big.Int
	Head         uint64
	GasPrice     *big.Int
	GasPriceErr  error
	GasEstimate  uint64
	EstimateErr  error
	SendErr      error

	Nonces        map[common.Address]uint64
	Balances      map[common.Address]*big.Int
	TokenBalances map[common.Address]map[common.Address]*big.Int // contract -> holder
	Txs           map[common.Hash]*ethtypes.Transaction
	Receipts      map[string]adapter.Receipt

	Sent      []*ethtypes.Transaction
	Estimates []ethereum.CallMsg
}

// NewBSCNode creates a BSC node on chain 56 with a 1 Gwei gas price
func NewBSCNode() *BSCNode {
	return &BSCNode{
		ChainIDValue:  big.NewInt(56),
		GasPrice:      big.NewInt(1_000_000_000),
		GasEstimate:   60_000,
		Nonces:        map[common.Address]uint64{},
		Balances:      map[common.Address]*big.Int{},
		TokenBalances: map[common.Address]map[common.Address]*big.Int{},
		Txs:           map[common.Hash]*ethtypes.Transaction{},
		Receipts:      map[string]adapter.Receipt{},
	}
}

func (n *BSCNode) ChainID() *big.Int { return n.ChainIDValue }

func (n *BSCNode) BlockNumber(context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Head, nil
}

func (n *BSCNode) SuggestGasPrice(context.Context) (*big.Int, error) {
	if n.GasPriceErr != nil {
		return nil, n.GasPriceErr
	}
	return new(big.Int).Set(n.GasPrice), nil
}

func (n *BSCNode) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Estimates = append(n.Estimates, msg)
	if n.EstimateErr != nil {
		return 0, n.EstimateErr
	}
	if len(msg.Data) == 0 {
		return 21_000, nil
	}
	return n.GasEstimate, nil
}

func (n *BSCNode) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Nonces[account], nil
}

func (n *BSCNode) BalanceAt(_ context.Context, account common.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.Balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (n *BSCNode) TokenBalance(_ context.Context, contract, holder common.Address) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.TokenBalances[contract][holder]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// SetTokenBalance seeds a token balance
func (n *BSCNode) SetTokenBalance(contract, holder common.Address, v *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.TokenBalances[contract] == nil {
		n.TokenBalances[contract] = map[common.Address]*big.Int{}
	}
	n.TokenBalances[contract][holder] = v
}

func (n *BSCNode) TransactionByHash(_ context.Context, hash common.Hash) (*ethtypes.Transaction, bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	tx, ok := n.Txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	r, mined := n.Receipts[hash.Hex()]
	return tx, !mined || r.Status == types.ReceiptNotFound, nil
}

func (n *BSCNode) Receipt(_ context.Context, txHash string) (adapter.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if r, ok := n.Receipts[txHash]; ok {
		return r, nil
	}
	return adapter.Receipt{Status: types.ReceiptNotFound}, nil
}

func (n *BSCNode) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.SendErr != nil {
		return n.SendErr
	}
	n.Sent = append(n.Sent, tx)
	n.Txs[tx.Hash()] = tx
	return nil
}

// Mine marks hash as included at block with the given outcome
func (n *BSCNode) Mine(hash string, block uint64, status types.ReceiptStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Receipts[hash] = adapter.Receipt{Status: status, BlockNumber: block}
}

// AddTransaction registers a transaction the node already knows about
func (n *BSCNode) AddTransaction(tx *ethtypes.Transaction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Txs[tx.Hash()] = tx
}

// TronNode is a scriptable adapter.TronNode
type TronNode struct {
	mu sync.Mutex

	Energy       int64
	EnergyErr    error
	EnergyFeeSun int64
	EnergyFeeErr error
	BuildErr     error
	BroadcastErr error

	TRX      map[string]int64
	TRC20    map[string]map[string]*big.Int // contract -> holder
	Receipts map[string]adapter.Receipt

	Built      []*api.TransactionExtention
	broadcasts []*core.Transaction
	seq        int64
}

// NewTronNode creates a TRON node charging 420 SUN per energy
func NewTronNode() *TronNode {
	return &TronNode{
		Energy:       65_000,
		EnergyFeeSun: 420,
		TRX:          map[string]int64{},
		TRC20:        map[string]map[string]*big.Int{},
		Receipts:     map[string]adapter.Receipt{},
	}
}

// build returns an unsigned transaction whose txid is the sha256 of its
// raw data, as the node computes it
func (n *TronNode) build(memo string, feeLimit int64) (*api.TransactionExtention, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.BuildErr != nil {
		return nil, n.BuildErr
	}
	n.seq++
	raw := &core.TransactionRaw{
		Data:      []byte(memo),
		Timestamp: n.seq,
		FeeLimit:  feeLimit,
	}
	b, err := proto.Marshal(raw)
	if err != nil {
		return nil, err
	}
	h := sha256.Sum256(b)
	ext := &api.TransactionExtention{
		Transaction: &core.Transaction{RawData: raw},
		Txid:        h[:],
		Result:      &api.Return{Result: true, Code: api.Return_SUCCESS},
	}
	n.Built = append(n.Built, ext)
	return ext, nil
}

func (n *TronNode) TransferTRX(_ context.Context, from, to string, amountSun int64) (*api.TransactionExtention, error) {
	return n.build(fmt.Sprintf("trx:%s:%s:%d", from, to, amountSun), 0)
}

func (n *TronNode) TransferTRC20(_ context.Context, from, to, contract string, amount *big.Int, feeLimitSun int64) (*api.TransactionExtention, error) {
	return n.build(fmt.Sprintf("trc20:%s:%s:%s:%s", contract, from, to, amount), feeLimitSun)
}

func (n *TronNode) EstimateTRC20Energy(context.Context, string, string, string, *big.Int) (int64, error) {
	if n.EnergyErr != nil {
		return 0, n.EnergyErr
	}
	return n.Energy, nil
}

func (n *TronNode) EnergyFee(context.Context) (int64, error) {
	if n.EnergyFeeErr != nil {
		return 0, n.EnergyFeeErr
	}
	return n.EnergyFeeSun, nil
}

func (n *TronNode) Broadcast(_ context.Context, tx *core.Transaction) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.BroadcastErr != nil {
		return n.BroadcastErr
	}
	n.broadcasts = append(n.broadcasts, tx)
	return nil
}

func (n *TronNode) Receipt(_ context.Context, txID string) (adapter.Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if r, ok := n.Receipts[strings.ToLower(txID)]; ok {
		return r, nil
	}
	return adapter.Receipt{Status: types.ReceiptNotFound}, nil
}

func (n *TronNode) TRXBalance(_ context.Context, addr string) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.TRX[addr], nil
}

func (n *TronNode) TRC20Balance(_ context.Context, addr, contract string) (*big.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if b, ok := n.TRC20[contract][addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// SetTRC20Balance seeds a token balance
func (n *TronNode) SetTRC20Balance(contract, holder string, v *big.Int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.TRC20[contract] == nil {
		n.TRC20[contract] = map[string]*big.Int{}
	}
	n.TRC20[contract][holder] = v
}

// Broadcasts returns the signed transactions submitted so far
func (n *TronNode) Broadcasts() []*core.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*core.Transaction(nil), n.broadcasts...)
}

// TxID renders the id of an extension the way the node reports it
func TxID(ext *api.TransactionExtention) string {
	return hex.EncodeToString(ext.GetTxid())
}

var (
	_ adapter.BSCNode  = (*BSCNode)(nil)
	_ adapter.TronNode = (*TronNode)(nil)
)
