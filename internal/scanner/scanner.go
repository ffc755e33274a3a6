// Package scanner discovers inbound deposits to tracked wallets and hands
// them to the ledger, advancing each wallet's resumable cursor.
package scanner

import (
	"context"
	"time"

	"github.com/deposit-scanner/internal/ledger"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

// Ledger credits one detected transfer
type Ledger interface {
	CreditDeposit(ctx context.Context, wallet *models.DepositWallet, t *models.DetectedTransfer) (ledger.Outcome, error)
}

// CursorStore persists scan positions
type CursorStore interface {
	GetCursor(ctx context.Context, walletID int64) (types.ScanCursor, error)
	AdvanceCursor(ctx context.Context, walletID int64, c types.ScanCursor) error
}

// WalletLister lists the wallets tracked on a chain
type WalletLister interface {
	ListByChain(ctx context.Context, chain types.ChainID) ([]*models.DepositWallet, error)
}

// Archive mirrors detected transfers to the analytics store
type Archive interface {
	Archive(ctx context.Context, wallet *models.DepositWallet, transfers []models.DetectedTransfer) error
}

// NopArchive discards transfers
type NopArchive struct{}

// Archive implements Archive
func (NopArchive) Archive(context.Context, *models.DepositWallet, []models.DetectedTransfer) error {
	return nil
}

// ChainScanner scans one wallet of its chain
type ChainScanner interface {
	Chain() types.ChainID
	ScanWallet(ctx context.Context, wallet *models.DepositWallet) (*ScanResult, error)
}

// ScanResult summarizes one wallet scan
type ScanResult struct {
	WalletID   int64
	Windows    int
	Transfers  int
	Credited   int
	Duplicates int
	Unpriced   int
	Cursor     types.ScanCursor
}

func (r *ScanResult) count(o ledger.Outcome) {
	switch o {
	case ledger.OutcomeCredited:
		r.Credited++
	case ledger.OutcomeDuplicate:
		r.Duplicates++
	case ledger.OutcomeUnpriced:
		r.Unpriced++
	}
}

// Deps are the collaborators shared by both chain scanners
type Deps struct {
	Ledger  Ledger
	Cursors CursorStore
	Archive Archive
}

func (d Deps) withDefaults() Deps {
	if d.Archive == nil {
		d.Archive = NopArchive{}
	}
	return d
}

// credit hands every transfer of one window to the ledger. The first ledger
// error aborts the window so its cursor is not advanced past the transfer.
func (d Deps) credit(ctx context.Context, wallet *models.DepositWallet, transfers []models.DetectedTransfer, res *ScanResult) error {
	for i := range transfers {
		outcome, err := d.Ledger.CreditDeposit(ctx, wallet, &transfers[i])
		if err != nil {
			return err
		}
		res.count(outcome)
	}
	res.Transfers += len(transfers)

	if err := d.Archive.Archive(ctx, wallet, transfers); err != nil {
		logging.FromContext(ctx).WithError(err).WithField("walletId", wallet.ID).
			Warn("Failed to archive detected transfers")
	}
	return nil
}

// CycleStats summarizes one pass over every wallet of a chain
type CycleStats struct {
	Chain     types.ChainID
	Wallets   int
	Failed    int
	Transfers int
	Credited  int
	Unpriced  int
	Duration  time.Duration
}

// ScanChain scans every wallet of the scanner's chain sequentially,
// pausing delay between wallets. A failing wallet is logged and skipped
// for this cycle only.
func ScanChain(ctx context.Context, s ChainScanner, wallets WalletLister, delay time.Duration) (*CycleStats, error) {
	start := time.Now()
	stats := &CycleStats{Chain: s.Chain()}
	log := logging.FromContext(ctx).WithField("chain", s.Chain())

	list, err := wallets.ListByChain(ctx, s.Chain())
	if err != nil {
		return stats, err
	}

	for i, w := range list {
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return stats, ctx.Err()
			case <-time.After(delay):
			}
		}
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		stats.Wallets++
		res, err := s.ScanWallet(ctx, w)
		if err != nil {
			stats.Failed++
			log.WithError(err).WithFields(map[string]interface{}{
				"walletId": w.ID,
				"address":  w.Address,
			}).Warn("Wallet scan failed, skipping until next cycle")
			continue
		}

		stats.Transfers += res.Transfers
		stats.Credited += res.Credited
		stats.Unpriced += res.Unpriced
		if res.Transfers > 0 {
			log.WithFields(map[string]interface{}{
				"walletId":  w.ID,
				"transfers": res.Transfers,
				"credited":  res.Credited,
				"unpriced":  res.Unpriced,
				"cursor":    res.Cursor.String(),
			}).Info("Wallet scan found transfers")
		}
	}

	stats.Duration = time.Since(start)
	log.WithFields(map[string]interface{}{
		"wallets":   stats.Wallets,
		"failed":    stats.Failed,
		"transfers": stats.Transfers,
		"duration":  stats.Duration.String(),
	}).Info("Chain scan cycle complete")
	return stats, nil
}
