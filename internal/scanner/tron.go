package scanner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/deposit-scanner/internal/adapter"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

// TronConfig tunes the TRON scanner
type TronConfig struct {
	USDTContract string
	// HotWallet sends gas top-ups to deposit wallets; its transfers are
	// never deposits
	HotWallet string
}

// TronScanner scans TronGrid account history from a millisecond cursor
type TronScanner struct {
	explorer     adapter.TronExplorer
	deps         Deps
	usdtContract string
	hotWallet    string
	now          func() time.Time
}

// NewTronScanner creates a TRON scanner for the USDT contract
func NewTronScanner(explorer adapter.TronExplorer, deps Deps, cfg TronConfig) *TronScanner {
	return &TronScanner{
		explorer:     explorer,
		deps:         deps.withDefaults(),
		usdtContract: cfg.USDTContract,
		hotWallet:    cfg.HotWallet,
		now:          time.Now,
	}
}

// Chain implements ChainScanner
func (s *TronScanner) Chain() types.ChainID { return types.ChainTRON }

// ScanWallet fetches transfers at or after the cursor. TRON exposes no head
// to scan up to, so the cursor moves to one past the newest observed
// block_timestamp and stays put when nothing was found. When a listing is
// cut short by the page budget the cursor stops at the last timestamp it
// fully consumed and the next cycle resumes from there.
func (s *TronScanner) ScanWallet(ctx context.Context, wallet *models.DepositWallet) (*ScanResult, error) {
	cursor, err := s.deps.Cursors.GetCursor(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	if cursor.Kind != types.CursorTimestamp {
		return nil, apperrors.NewInvalidParameterError("cursor", fmt.Sprintf("TRON wallet %d has a %s cursor", wallet.ID, cursor.Kind))
	}

	res := &ScanResult{WalletID: wallet.ID, Cursor: cursor, Windows: 1}

	transfers, next, err := s.fetch(ctx, wallet, cursor.TimestampMs)
	if err != nil {
		return res, err
	}
	if err := s.deps.credit(ctx, wallet, transfers, res); err != nil {
		return res, err
	}

	if next <= cursor.TimestampMs {
		return res, nil
	}
	c := types.TimestampCursor(next)
	if err := s.deps.Cursors.AdvanceCursor(ctx, wallet.ID, c); err != nil {
		return res, err
	}
	res.Cursor = c
	return res, nil
}

// horizon returns the first timestamp that may be incomplete because a
// listing stopped early, or math.MaxInt64 when both listings are complete
func horizon(minTs int64, tokens []adapter.TronGridTRC20Transfer, tokensMore bool, natives []adapter.TronGridTransaction, nativesMore bool) int64 {
	h := int64(math.MaxInt64)
	if tokensMore && len(tokens) > 0 {
		h = min(h, tokens[len(tokens)-1].BlockTimestamp)
	}
	if nativesMore && len(natives) > 0 {
		h = min(h, natives[len(natives)-1].BlockTimestamp)
	}
	if h <= minTs {
		// the budget ended inside the cursor millisecond; take what was
		// read rather than stall
		h = minTs + 1
	}
	return h
}

// fetch returns inbound USDT and TRX transfers before the horizon and the
// next cursor position, or -1 when nothing was observed
func (s *TronScanner) fetch(ctx context.Context, wallet *models.DepositWallet, minTs int64) ([]models.DetectedTransfer, int64, error) {
	log := logging.FromContext(ctx).WithField("walletId", wallet.ID)
	detectedAt := s.now().UTC()

	tokens, tokensMore, err := s.explorer.TRC20Transfers(ctx, wallet.Address, s.usdtContract, minTs)
	if err != nil {
		return nil, -1, err
	}
	natives, nativesMore, err := s.explorer.NativeTransfers(ctx, wallet.Address, minTs)
	if err != nil {
		return nil, -1, err
	}

	limit := horizon(minTs, tokens, tokensMore, natives, nativesMore)
	truncated := limit != math.MaxInt64
	if truncated {
		log.WithFields(map[string]interface{}{
			"minTimestamp": minTs,
			"horizon":      limit,
		}).Warn("TronGrid listing exceeded the page budget, resuming next cycle")
	}

	newest := int64(-1)
	seen := func(ts int64) bool {
		if ts >= limit {
			return false
		}
		if ts > newest {
			newest = ts
		}
		return true
	}

	var out []models.DetectedTransfer
	for i := range tokens {
		tt := &tokens[i]
		if !seen(tt.BlockTimestamp) {
			continue
		}
		if tt.To != wallet.Address || tt.TokenInfo.Address != s.usdtContract {
			continue
		}
		if s.hotWallet != "" && tt.From == s.hotWallet {
			continue
		}
		decimals := tt.TokenInfo.Decimals
		if decimals == 0 {
			decimals = adapter.TRC20USDTDecimals
		}
		amount, err := adapter.ParseUnits(tt.Value, decimals)
		if err != nil || !amount.IsPositive() {
			log.WithField("txid", tt.TransactionID).Warn("Skipping TRC20 transfer with unusable amount")
			continue
		}
		out = append(out, models.DetectedTransfer{
			TxID:        tt.TransactionID,
			Chain:       types.ChainTRON,
			Amount:      amount,
			Currency:    types.CurrencyUSDT,
			Position:    types.TimestampCursor(tt.BlockTimestamp),
			FromAddress: tt.From,
			ToAddress:   tt.To,
			Contract:    tt.TokenInfo.Address,
			DetectedAt:  detectedAt,
		})
	}

	for i := range natives {
		tx := &natives[i]
		if !seen(tx.BlockTimestamp) {
			continue
		}
		nt, ok := tx.AsNativeTransfer()
		if !ok || nt.To != wallet.Address || nt.AmountSun <= 0 {
			continue
		}
		if s.hotWallet != "" && nt.From == s.hotWallet {
			log.WithField("txid", tx.TxID).Debug("Skipping gas top-up from hot wallet")
			continue
		}
		out = append(out, models.DetectedTransfer{
			TxID:        tx.TxID,
			Chain:       types.ChainTRON,
			Amount:      decimal.New(nt.AmountSun, -adapter.TRXDecimals),
			Currency:    types.CurrencyTRX,
			Position:    types.TimestampCursor(tx.BlockTimestamp),
			FromAddress: nt.From,
			ToAddress:   nt.To,
			DetectedAt:  detectedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Position.TimestampMs < out[j].Position.TimestampMs })

	next := int64(-1)
	switch {
	case truncated:
		// rows at the horizon millisecond may continue on unread pages
		next = limit
	case newest >= 0:
		next = newest + 1
	}
	return out, next, nil
}
