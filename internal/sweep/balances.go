package sweep

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/deposit-scanner/internal/adapter"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

// RefreshStats summarizes one sweep-scan pass
type RefreshStats struct {
	Wallets int `json:"wallets"`
	Funded  int `json:"funded"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// RefreshBalances reads the on-chain balances of every wallet on chain and
// stores the non-zero ones as detected balances. Wallets locked by an
// in-flight sweep are skipped.
func (e *Executor) RefreshBalances(ctx context.Context, chain types.ChainID) (*RefreshStats, error) {
	if _, ok := e.senders[chain]; !ok {
		return nil, apperrors.NewUnsupportedChainError(chain, "sweep scan")
	}

	wallets, err := e.wallets.ListByChain(ctx, chain)
	if err != nil {
		return nil, err
	}

	stats := &RefreshStats{}
	for _, w := range wallets {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Wallets++
		log := logging.FromContext(ctx).WithFields(map[string]interface{}{
			"chain":    chain,
			"walletId": w.ID,
		})

		release, err := e.lock.Acquire(ctx, w.Address)
		if err != nil {
			if apperrors.HasCode(err, "WALLET_BUSY") {
				stats.Skipped++
				continue
			}
			stats.Failed++
			log.WithError(err).Warn("Failed to lock wallet for balance refresh")
			continue
		}

		balances, err := e.readBalances(ctx, w)
		if err == nil {
			err = e.wallets.UpdateDetectedBalances(ctx, w.ID, balances)
		}
		if rerr := release(context.Background()); rerr != nil {
			log.WithError(rerr).Warn("Failed to release wallet lock")
		}
		if err != nil {
			stats.Failed++
			log.WithError(err).Warn("Balance refresh failed")
			continue
		}
		if len(balances) > 0 {
			stats.Funded++
		}
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"chain":   chain,
		"wallets": stats.Wallets,
		"funded":  stats.Funded,
		"skipped": stats.Skipped,
		"failed":  stats.Failed,
	}).Info("Sweep scan complete")
	return stats, nil
}

func (e *Executor) readBalances(ctx context.Context, w *models.DepositWallet) ([]models.DetectedBalance, error) {
	readCtx, cancel := context.WithTimeout(ctx, e.cfg.ReadTimeout)
	defer cancel()

	now := e.now().UTC()
	out := []models.DetectedBalance{}
	switch w.Chain {
	case types.ChainBSC:
		holder := common.HexToAddress(w.Address)
		native, err := e.bsc.BalanceAt(readCtx, holder)
		if err != nil {
			return nil, err
		}
		if v := adapter.FromUnits(native, adapter.BNBDecimals); v.IsPositive() {
			out = append(out, models.DetectedBalance{Currency: types.CurrencyBNB, Amount: v, CheckedAt: now})
		}
		for _, currency := range []types.Currency{types.CurrencyUSDT, types.CurrencyUSDC, types.CurrencyBUSD} {
			contract, ok := e.cfg.BSCStableContracts[currency]
			if !ok {
				continue
			}
			raw, err := e.bsc.TokenBalance(readCtx, common.HexToAddress(contract), holder)
			if err != nil {
				return nil, err
			}
			if v := adapter.FromUnits(raw, adapter.BEP20StableDecimals); v.IsPositive() {
				out = append(out, models.DetectedBalance{Currency: currency, Amount: v, CheckedAt: now})
			}
		}

	case types.ChainTRON:
		sun, err := e.tron.TRXBalance(readCtx, w.Address)
		if err != nil {
			return nil, err
		}
		if sun > 0 {
			out = append(out, models.DetectedBalance{
				Currency:  types.CurrencyTRX,
				Amount:    decimal.New(sun, -adapter.TRXDecimals),
				CheckedAt: now,
			})
		}
		if e.cfg.TRONUSDTContract != "" {
			raw, err := e.tron.TRC20Balance(readCtx, w.Address, e.cfg.TRONUSDTContract)
			if err != nil {
				return nil, err
			}
			if v := adapter.FromUnits(raw, adapter.TRC20USDTDecimals); v.IsPositive() {
				out = append(out, models.DetectedBalance{Currency: types.CurrencyUSDT, Amount: v, CheckedAt: now})
			}
		}

	default:
		return nil, apperrors.NewUnsupportedChainError(w.Chain, "sweep scan")
	}
	return out, nil
}
