package scanner

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/deposit-scanner/internal/adapter"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

const (
	defaultBatchSize         = 2000
	defaultLargeGapThreshold = 5000
	defaultReadTimeout       = 10 * time.Second
)

// HeadSource reports the current chain head
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// BSCConfig tunes the BSC scanner
type BSCConfig struct {
	// StableContracts maps an allow-listed token contract to its currency
	StableContracts   map[string]types.Currency
	BatchSize         uint64
	LargeGapThreshold uint64
	ReadTimeout       time.Duration
	// HotWallet sends gas top-ups to deposit wallets; its transfers are
	// never deposits
	HotWallet string
}

// BSCScanner scans block windows of BscScan account history
type BSCScanner struct {
	explorer  adapter.BSCExplorer
	head      HeadSource
	deps      Deps
	contracts map[string]types.Currency
	hotWallet string
	batchSize uint64
	largeGap  uint64
	timeout   time.Duration
	now       func() time.Time
}

// NewBSCScanner creates a BSC scanner
func NewBSCScanner(explorer adapter.BSCExplorer, head HeadSource, deps Deps, cfg BSCConfig) *BSCScanner {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.LargeGapThreshold == 0 {
		cfg.LargeGapThreshold = defaultLargeGapThreshold
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}

	contracts := make(map[string]types.Currency, len(cfg.StableContracts))
	for addr, cur := range cfg.StableContracts {
		contracts[strings.ToLower(addr)] = cur
	}

	return &BSCScanner{
		explorer:  explorer,
		head:      head,
		deps:      deps.withDefaults(),
		contracts: contracts,
		hotWallet: strings.ToLower(cfg.HotWallet),
		batchSize: cfg.BatchSize,
		largeGap:  cfg.LargeGapThreshold,
		timeout:   cfg.ReadTimeout,
		now:       time.Now,
	}
}

// Chain implements ChainScanner
func (s *BSCScanner) Chain() types.ChainID { return types.ChainBSC }

// ScanWallet scans (cursor, head]. Far-behind wallets are scanned in
// BatchSize windows with the cursor persisted after each one; the cursor
// always ends at head. Wallets start at the head block recorded when they
// were assigned, so a zero cursor is refused.
func (s *BSCScanner) ScanWallet(ctx context.Context, wallet *models.DepositWallet) (*ScanResult, error) {
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"chain":    types.ChainBSC,
		"walletId": wallet.ID,
	})

	cursor, err := s.deps.Cursors.GetCursor(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	if cursor.Kind != types.CursorBlock {
		return nil, apperrors.NewInvalidParameterError("cursor", fmt.Sprintf("BSC wallet %d has a %s cursor", wallet.ID, cursor.Kind))
	}

	readCtx, cancel := context.WithTimeout(ctx, s.timeout)
	head, err := s.head.BlockNumber(readCtx)
	cancel()
	if err != nil {
		return nil, err
	}

	res := &ScanResult{WalletID: wallet.ID, Cursor: cursor}

	if cursor.Block == 0 {
		// jumping to head would skip deposits made since assignment
		return nil, apperrors.NewDataError(fmt.Sprintf("BSC wallet %d has no start block", wallet.ID), nil)
	}
	if head <= cursor.Block {
		return res, nil
	}

	windows := s.windows(cursor.Block, head)
	if len(windows) > 1 {
		log.WithFields(map[string]interface{}{
			"from":    cursor.Block + 1,
			"head":    head,
			"windows": len(windows),
		}).Info("Large block gap, scanning in batches")
	}

	for _, w := range windows {
		transfers, err := s.scanWindow(ctx, wallet, w[0], w[1])
		if err != nil {
			return res, err
		}
		if err := s.deps.credit(ctx, wallet, transfers, res); err != nil {
			return res, err
		}

		next := types.BlockCursor(w[1])
		if err := s.deps.Cursors.AdvanceCursor(ctx, wallet.ID, next); err != nil {
			return res, err
		}
		res.Cursor = next
		res.Windows++
	}
	return res, nil
}

func (s *BSCScanner) fromHotWallet(from string) bool {
	return s.hotWallet != "" && strings.ToLower(from) == s.hotWallet
}

// windows splits (from, head] into inclusive block ranges
func (s *BSCScanner) windows(from, head uint64) [][2]uint64 {
	if head-from <= s.largeGap {
		return [][2]uint64{{from + 1, head}}
	}

	var out [][2]uint64
	for start := from + 1; start <= head; start += s.batchSize {
		end := start + s.batchSize - 1
		if end > head {
			end = head
		}
		out = append(out, [2]uint64{start, end})
	}
	return out
}

// scanWindow returns the inbound allow-listed token and native transfers of
// wallet in [start, end], ordered by block
func (s *BSCScanner) scanWindow(ctx context.Context, wallet *models.DepositWallet, start, end uint64) ([]models.DetectedTransfer, error) {
	log := logging.FromContext(ctx).WithField("walletId", wallet.ID)
	self := strings.ToLower(wallet.Address)
	detectedAt := s.now().UTC()

	tokens, err := s.explorer.TokenTransfers(ctx, wallet.Address, start, end)
	if err != nil {
		return nil, err
	}
	natives, err := s.explorer.NativeTransfers(ctx, wallet.Address, start, end)
	if err != nil {
		return nil, err
	}

	var out []models.DetectedTransfer
	for i := range tokens {
		tt := &tokens[i]
		currency, ok := s.contracts[strings.ToLower(tt.ContractAddress)]
		if !ok || strings.ToLower(tt.To) != self || s.fromHotWallet(tt.From) {
			continue
		}
		block, err := strconv.ParseUint(tt.BlockNumber, 10, 64)
		if err != nil {
			log.WithField("txid", tt.Hash).Warn("Skipping token transfer with malformed block number")
			continue
		}
		amount, err := adapter.ParseUnits(tt.Value, adapter.ParseDecimals(tt.TokenDecimal, adapter.BEP20StableDecimals))
		if err != nil || !amount.IsPositive() {
			log.WithField("txid", tt.Hash).Warn("Skipping token transfer with unusable amount")
			continue
		}
		out = append(out, models.DetectedTransfer{
			TxID:        tt.Hash,
			Chain:       types.ChainBSC,
			Amount:      amount,
			Currency:    currency,
			Position:    types.BlockCursor(block),
			FromAddress: tt.From,
			ToAddress:   tt.To,
			Contract:    tt.ContractAddress,
			DetectedAt:  detectedAt,
		})
	}

	for i := range natives {
		tx := &natives[i]
		if !tx.Succeeded() || strings.ToLower(tx.To) != self {
			continue
		}
		if s.fromHotWallet(tx.From) {
			log.WithField("txid", tx.Hash).Debug("Skipping gas top-up from hot wallet")
			continue
		}
		amount, err := adapter.ParseUnits(tx.Value, adapter.BNBDecimals)
		if err != nil || !amount.IsPositive() {
			continue
		}
		block, err := strconv.ParseUint(tx.BlockNumber, 10, 64)
		if err != nil {
			log.WithField("txid", tx.Hash).Warn("Skipping native transfer with malformed block number")
			continue
		}
		out = append(out, models.DetectedTransfer{
			TxID:        tx.Hash,
			Chain:       types.ChainBSC,
			Amount:      amount,
			Currency:    types.CurrencyBNB,
			Position:    types.BlockCursor(block),
			FromAddress: tx.From,
			ToAddress:   tx.To,
			DetectedAt:  detectedAt,
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Position.Block < out[j].Position.Block })
	return out, nil
}
