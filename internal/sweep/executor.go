// Package sweep moves detected deposit balances from per-user wallets into
// the chain treasury and funds those wallets with gas.
package sweep

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/deposit-scanner/internal/adapter"
	"github.com/deposit-scanner/internal/derive"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/gas"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/storage"
	"github.com/deposit-scanner/internal/types"
)

// WalletStore reads deposit wallets and their detected balances
type WalletStore interface {
	GetByID(ctx context.Context, id int64) (*models.DepositWallet, error)
	FindByAddress(ctx context.Context, address string) (*models.DepositWallet, error)
	ListByChain(ctx context.Context, chain types.ChainID) ([]*models.DepositWallet, error)
	UpdateDetectedBalances(ctx context.Context, walletID int64, balances []models.DetectedBalance) error
}

// Recorder persists a broadcast sweep atomically
type Recorder interface {
	RecordSweep(ctx context.Context, rec storage.SweepRecord) error
}

// PendingStore starts tracking an outbound transaction
type PendingStore interface {
	Insert(ctx context.Context, tx *models.PendingOutboundTx) error
}

// Locker serializes work on one address across processes
type Locker interface {
	Acquire(ctx context.Context, address string) (func(context.Context) error, error)
}

// CostEstimator prices outbound transfers
type CostEstimator interface {
	EstimateSweepCost(ctx context.Context, chain types.ChainID, from string, currency types.Currency, amount decimal.Decimal) (*gas.Estimate, error)
}

// Config holds sweep settings
type Config struct {
	Treasuries             map[types.ChainID]string
	AllowCustomDestination bool
	BSCStableContracts     map[types.Currency]string
	TRONUSDTContract       string
	ReadTimeout            time.Duration
	BroadcastTimeout       time.Duration
}

// Request asks for the full detected balance of one currency to be swept
type Request struct {
	SourceAddress string         `json:"sourceAddress"`
	Currency      types.Currency `json:"currency"`
	// Destination defaults to the chain treasury
	Destination string `json:"destinationAddress,omitempty"`
}

// Result describes a broadcast outbound transfer
type Result struct {
	TxHash   string          `json:"txHash"`
	Chain    types.ChainID   `json:"chain"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Currency types.Currency  `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Fee      decimal.Decimal `json:"estimatedFee"`
}

// Executor performs sweeps and gas dispatches
type Executor struct {
	wallets   WalletStore
	recorder  Recorder
	pending   PendingStore
	lock      Locker
	signer    derive.Signer
	estimator CostEstimator
	bsc       adapter.BSCNode
	tron      adapter.TronNode
	senders   map[types.ChainID]chainSender
	cfg       Config
	now       func() time.Time
}

// Deps are the collaborators of an Executor. Either node may be nil when
// its chain is disabled.
type Deps struct {
	Wallets   WalletStore
	Recorder  Recorder
	Pending   PendingStore
	Lock      Locker
	Signer    derive.Signer
	Estimator CostEstimator
	BSC       adapter.BSCNode
	TRON      adapter.TronNode
}

// NewExecutor creates a sweep executor
func NewExecutor(deps Deps, cfg Config) *Executor {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.BroadcastTimeout <= 0 {
		cfg.BroadcastTimeout = 20 * time.Second
	}

	senders := map[types.ChainID]chainSender{}
	if deps.BSC != nil {
		senders[types.ChainBSC] = &bscSender{
			node:             deps.BSC,
			contracts:        cfg.BSCStableContracts,
			readTimeout:      cfg.ReadTimeout,
			broadcastTimeout: cfg.BroadcastTimeout,
		}
	}
	if deps.TRON != nil {
		senders[types.ChainTRON] = &tronSender{
			node:             deps.TRON,
			usdtContract:     cfg.TRONUSDTContract,
			readTimeout:      cfg.ReadTimeout,
			broadcastTimeout: cfg.BroadcastTimeout,
		}
	}

	return &Executor{
		wallets:   deps.Wallets,
		recorder:  deps.Recorder,
		pending:   deps.Pending,
		lock:      deps.Lock,
		signer:    deps.Signer,
		estimator: deps.Estimator,
		bsc:       deps.BSC,
		tron:      deps.TRON,
		senders:   senders,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Sweep moves the wallet's full detected balance of req.Currency. Balances
// are cleared only in the same transaction that records the broadcast hash.
func (e *Executor) Sweep(ctx context.Context, req Request) (*Result, error) {
	wallet, err := e.wallets.FindByAddress(ctx, req.SourceAddress)
	if err != nil {
		return nil, err
	}
	chain := wallet.Chain

	sender, ok := e.senders[chain]
	if !ok {
		return nil, apperrors.NewUnsupportedChainError(chain, "sweep")
	}
	if !e.supports(chain, req.Currency) {
		return nil, apperrors.NewInvalidParameterError("currency", fmt.Sprintf("%s cannot be swept on %s", req.Currency, chain))
	}

	dest, err := e.destination(chain, req.Destination)
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"chain":    chain,
		"walletId": wallet.ID,
		"address":  wallet.Address,
		"currency": req.Currency,
	})

	release, err := e.lock.Acquire(ctx, wallet.Address)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to release wallet lock")
		}
	}()

	// balances may have changed while we waited for the lock
	wallet, err = e.wallets.GetByID(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	balance := wallet.BalanceOf(req.Currency)
	if !balance.IsPositive() {
		return nil, apperrors.NewInsufficientBalanceError(wallet.Address, req.Currency)
	}

	key, err := e.signer.DeriveKey(chain, wallet.DerivationIndex)
	if err != nil {
		return nil, err
	}
	derived, err := derive.AddressFromKey(chain, key)
	if err != nil {
		return nil, err
	}
	if !sameAddress(chain, derived, wallet.Address) {
		return nil, apperrors.NewInternalError("wallet key mismatch",
			fmt.Errorf("index %d derives %s, wallet is %s", wallet.DerivationIndex, derived, wallet.Address))
	}

	est, err := e.estimator.EstimateSweepCost(ctx, chain, wallet.Address, req.Currency, balance)
	if err != nil {
		return nil, err
	}

	amount := balance
	if req.Currency == chain.NativeCurrency() {
		// native sweeps pay their own fee
		amount = balance.Sub(est.Native)
		if !amount.IsPositive() {
			return nil, apperrors.NewInsufficientBalanceError(wallet.Address, req.Currency)
		}
	}

	out, err := sender.Send(ctx, transfer{
		Key:      key,
		From:     wallet.Address,
		To:       dest,
		Currency: req.Currency,
		Amount:   amount,
		Estimate: est,
	})
	if err != nil {
		if apperrors.HasCode(err, "BROADCAST_TIMEOUT") {
			log.WithError(err).Error("Sweep broadcast outcome unknown, balances left untouched")
		}
		return nil, err
	}
	log = log.WithField("txHash", out.Hash)

	now := e.now().UTC()
	rec := storage.SweepRecord{
		WalletID:          wallet.ID,
		RemainingBalances: wallet.WithoutBalance(req.Currency),
		Entry: &models.LedgerTransaction{
			UserID:      wallet.UserID,
			Kind:        types.KindSweep,
			Amount:      decimal.Zero,
			Currency:    req.Currency,
			Status:      types.TxStatusCompleted,
			Description: fmt.Sprintf("%s sweep on %s", req.Currency, chain),
			Metadata: models.LedgerMetadata{
				TxID:             out.Hash,
				Chain:            chain,
				FromAddress:      wallet.Address,
				ToAddress:        dest,
				OriginalAmount:   amount,
				OriginalCurrency: req.Currency,
			},
			CreatedAt: now,
		},
		Pending: &models.PendingOutboundTx{
			TxHash:      out.Hash,
			Chain:       chain,
			Type:        types.OutboundUSDTSweep,
			Status:      types.OutboundPending,
			FromAddress: wallet.Address,
			ToAddress:   dest,
			Currency:    req.Currency,
			Amount:      amount,
			Nonce:       out.Nonce,
			Metadata:    models.PendingMetadata{Operation: "sweep", WalletAddress: wallet.Address},
			CreatedAt:   now,
		},
	}
	if err := e.recorder.RecordSweep(ctx, rec); err != nil {
		log.WithError(err).Error("Sweep broadcast but not recorded; reconcile manually")
		return nil, apperrors.NewInternalError(fmt.Sprintf("sweep %s broadcast but not recorded", out.Hash), err)
	}

	log.WithField("amount", amount.String()).Info("Sweep broadcast")
	return &Result{
		TxHash:   out.Hash,
		Chain:    chain,
		From:     wallet.Address,
		To:       dest,
		Currency: req.Currency,
		Amount:   amount,
		Fee:      est.Native,
	}, nil
}

// DispatchGas funds walletAddress from the hot wallet with enough native
// coin to sweep its currency balance
func (e *Executor) DispatchGas(ctx context.Context, walletAddress string, currency types.Currency) (*Result, error) {
	wallet, err := e.wallets.FindByAddress(ctx, walletAddress)
	if err != nil {
		return nil, err
	}
	chain := wallet.Chain

	sender, ok := e.senders[chain]
	if !ok {
		return nil, apperrors.NewUnsupportedChainError(chain, "gas dispatch")
	}
	if currency == chain.NativeCurrency() {
		return nil, apperrors.NewInvalidParameterError("currency", "native balances pay their own fee")
	}
	if !e.supports(chain, currency) {
		return nil, apperrors.NewInvalidParameterError("currency", fmt.Sprintf("%s cannot be swept on %s", currency, chain))
	}

	balance := wallet.BalanceOf(currency)
	if !balance.IsPositive() {
		return nil, apperrors.NewInsufficientBalanceError(wallet.Address, currency)
	}

	sweepCost, err := e.estimator.EstimateSweepCost(ctx, chain, wallet.Address, currency, balance)
	if err != nil {
		return nil, err
	}

	hotKey, err := e.signer.HotWalletKey(chain)
	if err != nil {
		return nil, err
	}
	hot, err := derive.AddressFromKey(chain, hotKey)
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"chain":    chain,
		"wallet":   wallet.Address,
		"currency": currency,
		"amount":   sweepCost.Native.String(),
	})

	// the hot wallet nonce is shared with rescue
	release, err := e.lock.Acquire(ctx, hot)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to release hot wallet lock")
		}
	}()

	native := chain.NativeCurrency()
	fundingCost, err := e.estimator.EstimateSweepCost(ctx, chain, hot, native, sweepCost.Native)
	if err != nil {
		return nil, err
	}

	out, err := sender.Send(ctx, transfer{
		Key:      hotKey,
		From:     hot,
		To:       wallet.Address,
		Currency: native,
		Amount:   sweepCost.Native,
		Estimate: fundingCost,
	})
	if err != nil {
		return nil, err
	}

	if err := e.pending.Insert(ctx, &models.PendingOutboundTx{
		TxHash:      out.Hash,
		Chain:       chain,
		Type:        types.OutboundGasDispatch,
		Status:      types.OutboundPending,
		FromAddress: hot,
		ToAddress:   wallet.Address,
		Currency:    native,
		Amount:      sweepCost.Native,
		Nonce:       out.Nonce,
		Metadata: models.PendingMetadata{
			Operation:     "gas_dispatch",
			WalletAddress: wallet.Address,
			Notes:         map[string]string{"forCurrency": string(currency)},
		},
		CreatedAt: e.now().UTC(),
	}); err != nil {
		log.WithError(err).WithField("txHash", out.Hash).Error("Gas dispatch broadcast but not tracked")
		return nil, apperrors.NewInternalError(fmt.Sprintf("gas dispatch %s broadcast but not tracked", out.Hash), err)
	}

	log.WithField("txHash", out.Hash).Info("Gas dispatched")
	return &Result{
		TxHash:   out.Hash,
		Chain:    chain,
		From:     hot,
		To:       wallet.Address,
		Currency: native,
		Amount:   sweepCost.Native,
		Fee:      fundingCost.Native,
	}, nil
}

func (e *Executor) supports(chain types.ChainID, currency types.Currency) bool {
	if currency == chain.NativeCurrency() {
		return true
	}
	switch chain {
	case types.ChainBSC:
		_, ok := e.cfg.BSCStableContracts[currency]
		return ok
	case types.ChainTRON:
		return currency == types.CurrencyUSDT && e.cfg.TRONUSDTContract != ""
	}
	return false
}

// destination resolves the sweep target. Anything but the treasury needs
// AllowCustomDestination.
func (e *Executor) destination(chain types.ChainID, requested string) (string, error) {
	treasury := e.cfg.Treasuries[chain]
	if treasury == "" {
		return "", apperrors.NewConfigurationError(fmt.Sprintf("no %s treasury configured", chain))
	}
	if requested == "" || sameAddress(chain, requested, treasury) {
		return treasury, nil
	}
	if !e.cfg.AllowCustomDestination {
		return "", apperrors.NewForbiddenError("sweep destination must be the treasury")
	}
	if chain == types.ChainBSC && !common.IsHexAddress(requested) {
		return "", apperrors.NewInvalidAddressError(chain, requested)
	}
	if chain == types.ChainTRON && !strings.HasPrefix(requested, "T") {
		return "", apperrors.NewInvalidAddressError(chain, requested)
	}
	return requested, nil
}

func sameAddress(chain types.ChainID, a, b string) bool {
	if chain == types.ChainBSC {
		return strings.EqualFold(a, b)
	}
	return a == b
}
