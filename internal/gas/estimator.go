// Package gas estimates the native-coin cost of moving funds out of a
// deposit wallet.
package gas

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/deposit-scanner/internal/adapter"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/types"
)

const (
	// NativeTransferGas is the fixed cost of a plain BNB transfer
	NativeTransferGas = 21_000
	// fallbackTokenGas sizes a BEP-20 transfer when estimation fails
	fallbackTokenGas = 100_000
	defaultEnergyFee = 420
)

var (
	minMultiplier = decimal.RequireFromString("1.10")
	gwei          = decimal.New(1, 9)
	// tronNativeTransferTRX covers the bandwidth of a plain TRX transfer
	tronNativeTransferTRX = decimal.RequireFromString("0.3")
)

// Estimate is the expected fee of one outbound transfer
type Estimate struct {
	Chain types.ChainID
	// Native is the total fee in the chain's native coin
	Native decimal.Decimal
	// Units is gas on BSC and energy on TRON
	Units uint64
	// UnitPrice is wei per gas on BSC and SUN per energy on TRON
	UnitPrice *big.Int
	// GasLimit is Units with the safety multiplier applied (BSC)
	GasLimit uint64
	// FeeLimitSun caps what a TRC20 call may burn (TRON)
	FeeLimitSun int64
	Fallback    bool
}

// Config tunes fee estimation
type Config struct {
	FloorGwei          decimal.Decimal
	Multiplier         decimal.Decimal
	BSCFallbackBNB     decimal.Decimal
	TRONFallbackTRX    decimal.Decimal
	TRONEnergyFeeSun   int64
	BSCTreasury        string
	TRONTreasury       string
	BSCStableContracts map[types.Currency]string
	TRONUSDTContract   string
	ReadTimeout        time.Duration
}

// Estimator prices sweeps on both chains. Any node failure yields the
// configured fallback instead of an error.
type Estimator struct {
	bsc  adapter.BSCNode
	tron adapter.TronNode
	cfg  Config
}

// NewEstimator creates an estimator. Either node may be nil when its chain
// is disabled.
func NewEstimator(bsc adapter.BSCNode, tron adapter.TronNode, cfg Config) *Estimator {
	if cfg.Multiplier.LessThan(minMultiplier) {
		cfg.Multiplier = minMultiplier
	}
	if cfg.TRONEnergyFeeSun <= 0 {
		cfg.TRONEnergyFeeSun = defaultEnergyFee
	}
	if cfg.BSCFallbackBNB.IsZero() {
		cfg.BSCFallbackBNB = decimal.RequireFromString("0.0005")
	}
	if cfg.TRONFallbackTRX.IsZero() {
		cfg.TRONFallbackTRX = decimal.NewFromInt(30)
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	return &Estimator{bsc: bsc, tron: tron, cfg: cfg}
}

// Multiplier returns the effective safety multiplier
func (e *Estimator) Multiplier() decimal.Decimal { return e.cfg.Multiplier }

// EstimateSweepCost prices moving amount of currency from the wallet at
// from to the chain treasury
func (e *Estimator) EstimateSweepCost(ctx context.Context, chain types.ChainID, from string, currency types.Currency, amount decimal.Decimal) (*Estimate, error) {
	switch chain {
	case types.ChainBSC:
		if e.bsc == nil {
			return nil, apperrors.NewUnsupportedChainError(chain, "gas estimation")
		}
		return e.estimateBSC(ctx, from, currency, amount)
	case types.ChainTRON:
		if e.tron == nil {
			return nil, apperrors.NewUnsupportedChainError(chain, "gas estimation")
		}
		return e.estimateTRON(ctx, from, currency, amount)
	default:
		return nil, apperrors.NewUnsupportedChainError(chain, "gas estimation")
	}
}

// GasPrice returns the node's suggested gas price clamped to the floor.
// The second result reports whether the floor was used because the node
// failed.
func (e *Estimator) GasPrice(ctx context.Context) (*big.Int, bool) {
	floor := e.floorWei()
	if e.bsc == nil {
		return floor, true
	}

	readCtx, cancel := context.WithTimeout(ctx, e.cfg.ReadTimeout)
	defer cancel()

	suggested, err := e.bsc.SuggestGasPrice(readCtx)
	if err != nil {
		logging.FromContext(ctx).WithError(err).Warn("Gas price lookup failed, using floor")
		return floor, true
	}
	return ClampGasPrice(suggested, floor), false
}

// ClampGasPrice raises price to floor when below it
func ClampGasPrice(price, floor *big.Int) *big.Int {
	if price == nil || price.Cmp(floor) < 0 {
		return new(big.Int).Set(floor)
	}
	return new(big.Int).Set(price)
}

func (e *Estimator) floorWei() *big.Int {
	return e.cfg.FloorGwei.Mul(gwei).Truncate(0).BigInt()
}

func (e *Estimator) estimateBSC(ctx context.Context, from string, currency types.Currency, amount decimal.Decimal) (*Estimate, error) {
	if !common.IsHexAddress(from) {
		return nil, apperrors.NewInvalidAddressError(types.ChainBSC, from)
	}
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"chain":    types.ChainBSC,
		"from":     from,
		"currency": currency,
	})

	treasury := common.HexToAddress(e.cfg.BSCTreasury)
	msg := ethereum.CallMsg{From: common.HexToAddress(from), To: &treasury}
	defaultGas := uint64(NativeTransferGas)

	if currency != types.CurrencyBNB {
		contract, ok := e.cfg.BSCStableContracts[currency]
		if !ok {
			return nil, apperrors.NewInvalidParameterError("currency", "no BSC contract for "+string(currency))
		}
		data, err := adapter.PackTransfer(treasury, adapter.ToUnits(amount, adapter.BEP20StableDecimals))
		if err != nil {
			return nil, apperrors.NewInternalError("pack transfer", err)
		}
		to := common.HexToAddress(contract)
		msg.To = &to
		msg.Data = data
		defaultGas = fallbackTokenGas
	} else {
		msg.Value = adapter.ToUnits(amount, adapter.BNBDecimals)
	}

	price, priceFallback := e.GasPrice(ctx)

	units := defaultGas
	unitsFallback := false
	if currency != types.CurrencyBNB {
		readCtx, cancel := context.WithTimeout(ctx, e.cfg.ReadTimeout)
		estimated, err := e.bsc.EstimateGas(readCtx, msg)
		cancel()
		if err != nil {
			log.WithError(err).Warn("Gas estimation failed, using fallback cost")
			unitsFallback = true
		} else {
			units = estimated
		}
	}

	est := &Estimate{
		Chain:     types.ChainBSC,
		Units:     units,
		UnitPrice: price,
		GasLimit:  applyMultiplier(units, e.cfg.Multiplier),
	}
	if priceFallback || unitsFallback {
		est.Native = e.cfg.BSCFallbackBNB
		est.Fallback = true
		return est, nil
	}

	cost := decimal.NewFromBigInt(price, 0).Mul(decimal.NewFromInt(int64(units))).Mul(e.cfg.Multiplier) // #nosec G115 - gas fits int64
	est.Native = cost.Shift(-adapter.BNBDecimals)
	return est, nil
}

func (e *Estimator) estimateTRON(ctx context.Context, from string, currency types.Currency, amount decimal.Decimal) (*Estimate, error) {
	est := &Estimate{Chain: types.ChainTRON, UnitPrice: big.NewInt(0)}

	switch currency {
	case types.CurrencyTRX:
		est.Native = tronNativeTransferTRX
		return est, nil
	case types.CurrencyUSDT:
	default:
		return nil, apperrors.NewInvalidParameterError("currency", "no TRON contract for "+string(currency))
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"chain": types.ChainTRON,
		"from":  from,
	})

	readCtx, cancel := context.WithTimeout(ctx, e.cfg.ReadTimeout)
	defer cancel()

	energy, err := e.tron.EstimateTRC20Energy(readCtx, from, e.cfg.TRONTreasury, e.cfg.TRONUSDTContract,
		adapter.ToUnits(amount, adapter.TRC20USDTDecimals))
	if err != nil {
		log.WithError(err).Warn("Energy estimation failed, using fallback cost")
		est.Native = e.cfg.TRONFallbackTRX
		est.FeeLimitSun = e.cfg.TRONFallbackTRX.Shift(adapter.TRXDecimals).IntPart()
		est.Fallback = true
		return est, nil
	}

	fee, err := e.tron.EnergyFee(readCtx)
	if err != nil || fee <= 0 {
		log.WithError(err).Debug("Energy fee lookup failed, using configured fee")
		fee = e.cfg.TRONEnergyFeeSun
	}

	sun := decimal.NewFromInt(energy).Mul(decimal.NewFromInt(fee)).Mul(e.cfg.Multiplier).Ceil()
	est.Units = uint64(energy) // #nosec G115 - checked positive by the node
	est.UnitPrice = big.NewInt(fee)
	est.FeeLimitSun = sun.IntPart()
	est.Native = sun.Shift(-adapter.TRXDecimals)
	return est, nil
}

func applyMultiplier(units uint64, m decimal.Decimal) uint64 {
	return uint64(decimal.NewFromInt(int64(units)).Mul(m).Ceil().IntPart()) // #nosec G115 - gas fits int64
}
