// Package rescue replaces stuck hot-wallet transactions by re-broadcasting
// the same nonce at a higher gas price.
package rescue

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/deposit-scanner/internal/adapter"
	"github.com/deposit-scanner/internal/derive"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

const (
	// MinBumpPercent is the smallest increase nodes accept for a replacement
	MinBumpPercent = 10

	OperationSpeedUp = "speed_up"
	OperationCancel  = "cancel"
)

// PendingStore reads tracked transactions and links replacements
type PendingStore interface {
	Get(ctx context.Context, hash string) (*models.PendingOutboundTx, error)
	ReplacePending(ctx context.Context, oldHash string, replacement *models.PendingOutboundTx) error
}

// Locker serializes use of the hot wallet nonce
type Locker interface {
	Acquire(ctx context.Context, address string) (func(context.Context) error, error)
}

// GasPricer returns the current floor-clamped gas price
type GasPricer interface {
	GasPrice(ctx context.Context) (*big.Int, bool)
}

// Config tunes replacement transactions
type Config struct {
	BumpPercent      int64
	ReadTimeout      time.Duration
	BroadcastTimeout time.Duration
}

// Result links a stuck transaction to its replacement
type Result struct {
	Operation   string   `json:"operation"`
	OldHash     string   `json:"oldHash"`
	NewHash     string   `json:"newHash"`
	Nonce       uint64   `json:"nonce"`
	OldGasPrice *big.Int `json:"oldGasPrice"`
	NewGasPrice *big.Int `json:"newGasPrice"`
}

// Rescuer speeds up or cancels BSC transactions sent by the hot wallet
type Rescuer struct {
	store  PendingStore
	node   adapter.BSCNode
	signer derive.Signer
	lock   Locker
	prices GasPricer
	cfg    Config
}

// New creates a rescuer. node may be nil when BSC is disabled.
func New(store PendingStore, node adapter.BSCNode, signer derive.Signer, lock Locker, prices GasPricer, cfg Config) *Rescuer {
	if cfg.BumpPercent < MinBumpPercent {
		cfg.BumpPercent = MinBumpPercent
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = 20 * time.Second
	}
	return &Rescuer{store: store, node: node, signer: signer, lock: lock, prices: prices, cfg: cfg}
}

// SpeedUp re-sends the transaction unchanged at a higher gas price
func (r *Rescuer) SpeedUp(ctx context.Context, hash string) (*Result, error) {
	return r.replace(ctx, hash, OperationSpeedUp)
}

// Cancel replaces the transaction with a zero-value self transfer
func (r *Rescuer) Cancel(ctx context.Context, hash string) (*Result, error) {
	return r.replace(ctx, hash, OperationCancel)
}

func (r *Rescuer) replace(ctx context.Context, hash, op string) (*Result, error) {
	p, err := r.store.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if p.Chain != types.ChainBSC {
		return nil, apperrors.NewUnsupportedChainError(p.Chain, "transaction replacement")
	}
	if r.node == nil {
		return nil, apperrors.NewUnsupportedChainError(p.Chain, "transaction replacement")
	}
	if p.Status != types.OutboundPending {
		return nil, apperrors.NewConflictError("transaction " + hash + " is already " + string(p.Status))
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"txHash":    hash,
		"operation": op,
	})

	readCtx, cancel := context.WithTimeout(ctx, r.cfg.ReadTimeout)
	defer cancel()

	receipt, err := r.node.Receipt(readCtx, hash)
	if err != nil {
		return nil, err
	}
	if receipt.Status != types.ReceiptNotFound {
		return nil, apperrors.NewAlreadyMinedError(hash, receipt.BlockNumber)
	}

	orig, isPending, err := r.node.TransactionByHash(readCtx, common.HexToHash(hash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, apperrors.NewNotFoundError("transaction", hash)
		}
		return nil, err
	}
	if !isPending {
		return nil, apperrors.NewAlreadyMinedError(hash, 0)
	}

	hotKey, err := r.signer.HotWalletKey(types.ChainBSC)
	if err != nil {
		return nil, err
	}
	hot := crypto.PubkeyToAddress(hotKey.PublicKey)

	chainID := r.node.ChainID()
	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(chainID), orig)
	if err != nil {
		return nil, apperrors.NewDataError("unrecoverable transaction sender", err)
	}
	if sender != hot {
		return nil, apperrors.NewForbiddenError("only hot wallet transactions can be replaced")
	}

	release, err := r.lock.Acquire(ctx, hot.Hex())
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to release hot wallet lock")
		}
	}()

	newPrice := r.bumpedPrice(ctx, orig.GasPrice())
	replacement := r.build(op, orig, hot, newPrice)

	signed, err := ethtypes.SignTx(replacement, ethtypes.NewEIP155Signer(chainID), hotKey)
	if err != nil {
		return nil, apperrors.NewInternalError("sign replacement", err)
	}

	sendCtx, sendCancel := context.WithTimeout(ctx, r.cfg.BroadcastTimeout)
	defer sendCancel()
	if err := r.node.SendTransaction(sendCtx, signed); err != nil {
		return nil, err
	}

	newHash := signed.Hash().Hex()
	nonce := orig.Nonce()
	next := &models.PendingOutboundTx{
		TxHash:      newHash,
		Chain:       p.Chain,
		Type:        p.Type,
		Status:      types.OutboundPending,
		FromAddress: p.FromAddress,
		ToAddress:   p.ToAddress,
		Currency:    p.Currency,
		Amount:      p.Amount,
		Nonce:       &nonce,
		Metadata:    p.Metadata.Merge(models.PendingMetadata{Operation: op, Replaces: hash}),
		CreatedAt:   time.Now().UTC(),
	}
	if op == OperationCancel {
		next.ToAddress = hot.Hex()
		next.Currency = types.CurrencyBNB
		next.Amount = decimal.Zero
	}

	if err := r.store.ReplacePending(ctx, hash, next); err != nil {
		log.WithError(err).WithField("newHash", newHash).Error("Replacement broadcast but not recorded")
		return nil, apperrors.NewInternalError("replacement "+newHash+" broadcast but not recorded", err)
	}

	log.WithFields(map[string]interface{}{
		"newHash":  newHash,
		"nonce":    nonce,
		"gasPrice": newPrice.String(),
	}).Info("Transaction replaced")

	return &Result{
		Operation:   op,
		OldHash:     hash,
		NewHash:     newHash,
		Nonce:       nonce,
		OldGasPrice: orig.GasPrice(),
		NewGasPrice: newPrice,
	}, nil
}

// bumpedPrice raises old by BumpPercent, and to the current network price
// if that is higher still
func (r *Rescuer) bumpedPrice(ctx context.Context, old *big.Int) *big.Int {
	bumped := BumpGasPrice(old, r.cfg.BumpPercent)
	if r.prices != nil {
		if current, _ := r.prices.GasPrice(ctx); current != nil && current.Cmp(bumped) > 0 {
			return current
		}
	}
	return bumped
}

// BumpGasPrice returns price * (100 + percent) / 100, rounded up
func BumpGasPrice(price *big.Int, percent int64) *big.Int {
	num := new(big.Int).Mul(price, big.NewInt(100+percent))
	num.Add(num, big.NewInt(99))
	return num.Div(num, big.NewInt(100))
}

func (r *Rescuer) build(op string, orig *ethtypes.Transaction, hot common.Address, price *big.Int) *ethtypes.Transaction {
	if op == OperationCancel {
		return ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    orig.Nonce(),
			To:       &hot,
			Value:    big.NewInt(0),
			Gas:      21_000,
			GasPrice: price,
		})
	}
	return ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    orig.Nonce(),
		To:       orig.To(),
		Value:    orig.Value(),
		Gas:      orig.Gas(),
		GasPrice: price,
		Data:     orig.Data(),
	})
}
