// Package ledger credits detected deposits into user balances exactly once.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/notify"
	"github.com/deposit-scanner/internal/types"
)

// unpricedBatch bounds one RetryUnpriced pass
const unpricedBatch = 100

// Outcome is the result of one credit attempt
type Outcome string

const (
	OutcomeCredited  Outcome = "credited"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnpriced  Outcome = "unpriced"
)

// Store is the transactional ledger storage
type Store interface {
	ExistsByTxID(ctx context.Context, txid string) (bool, error)
	CreditDeposit(ctx context.Context, entry *models.LedgerTransaction) (bool, error)
}

// UnpricedQueue holds deposits waiting for a price
type UnpricedQueue interface {
	Enqueue(ctx context.Context, walletID int64, t *models.DetectedTransfer, reason string) error
	List(ctx context.Context, limit int) ([]*models.UnpricedDeposit, error)
	Delete(ctx context.Context, txid string) error
	RecordAttempt(ctx context.Context, txid, lastError string) error
}

// WalletLookup resolves queued deposits back to their wallet
type WalletLookup interface {
	GetByID(ctx context.Context, id int64) (*models.DepositWallet, error)
}

// PriceSource exposes the current price snapshot
type PriceSource interface {
	Snapshot() *models.PriceSnapshot
}

// DepositLedger credits detected transfers. The txid is the only
// deduplication key; a unique index backs the existence check.
type DepositLedger struct {
	store    Store
	queue    UnpricedQueue
	wallets  WalletLookup
	prices   PriceSource
	notifier notify.Notifier
	now      func() time.Time
}

// New creates a deposit ledger. notifier may be nil.
func New(store Store, queue UnpricedQueue, wallets WalletLookup, prices PriceSource, notifier notify.Notifier) *DepositLedger {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &DepositLedger{
		store:    store,
		queue:    queue,
		wallets:  wallets,
		prices:   prices,
		notifier: notifier,
		now:      time.Now,
	}
}

// CreditDeposit records t for the owner of wallet
func (l *DepositLedger) CreditDeposit(ctx context.Context, wallet *models.DepositWallet, t *models.DetectedTransfer) (Outcome, error) {
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"txid":     t.TxID,
		"chain":    t.Chain,
		"walletId": wallet.ID,
		"currency": t.Currency,
		"amount":   t.Amount.String(),
	})

	exists, err := l.store.ExistsByTxID(ctx, t.TxID)
	if err != nil {
		return "", err
	}
	if exists {
		log.Debug("Deposit already credited")
		return OutcomeDuplicate, nil
	}

	usdt, price, ok := ToLedgerValue(t.Amount, t.Currency, l.prices.Snapshot())
	if !ok {
		reason := fmt.Sprintf("no %s price available", t.Currency)
		if err := l.queue.Enqueue(ctx, wallet.ID, t, reason); err != nil {
			return "", err
		}
		log.Warn("Deposit queued until a price is available")
		return OutcomeUnpriced, nil
	}

	entry := &models.LedgerTransaction{
		UserID:      wallet.UserID,
		Kind:        types.KindDeposit,
		Amount:      usdt,
		Currency:    types.CurrencyUSDT,
		Status:      types.TxStatusCompleted,
		Description: fmt.Sprintf("%s deposit on %s", t.Currency, t.Chain),
		Metadata: models.LedgerMetadata{
			TxID:             t.TxID,
			Chain:            t.Chain,
			FromAddress:      t.FromAddress,
			ToAddress:        t.ToAddress,
			OriginalAmount:   t.Amount,
			OriginalCurrency: t.Currency,
			PriceUsed:        price,
			BlockRef:         t.BlockRef(),
		},
		CreatedAt: l.now().UTC(),
	}

	credited, err := l.store.CreditDeposit(ctx, entry)
	if err != nil {
		return "", err
	}
	if !credited {
		// lost the race against a concurrent credit of the same txid
		log.Debug("Deposit credited concurrently")
		return OutcomeDuplicate, nil
	}

	log.WithField("usdt", usdt.String()).Info("Deposit credited")

	if err := l.notifier.DepositCredited(ctx, entry); err != nil {
		log.WithError(err).Warn("Deposit notification failed")
	}
	return OutcomeCredited, nil
}

// RetryStats summarizes one RetryUnpriced pass
type RetryStats struct {
	Credited  int
	Duplicate int
	Pending   int
	Failed    int
}

// RetryUnpriced re-attempts queued deposits. Credited and duplicate rows
// leave the queue; the rest get their attempt counter bumped.
func (l *DepositLedger) RetryUnpriced(ctx context.Context) (RetryStats, error) {
	var stats RetryStats

	queued, err := l.queue.List(ctx, unpricedBatch)
	if err != nil {
		return stats, err
	}

	for _, u := range queued {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		log := logging.FromContext(ctx).WithFields(map[string]interface{}{
			"txid":     u.Transfer.TxID,
			"attempts": u.Attempts,
		})

		wallet, err := l.wallets.GetByID(ctx, u.WalletID)
		if err != nil {
			stats.Failed++
			log.WithError(err).Warn("Queued deposit wallet lookup failed")
			continue
		}

		if _, _, ok := ToLedgerValue(u.Transfer.Amount, u.Transfer.Currency, l.prices.Snapshot()); !ok {
			stats.Pending++
			if err := l.queue.RecordAttempt(ctx, u.Transfer.TxID, fmt.Sprintf("no %s price available", u.Transfer.Currency)); err != nil {
				log.WithError(err).Warn("Failed to record unpriced attempt")
			}
			continue
		}

		outcome, err := l.CreditDeposit(ctx, wallet, &u.Transfer)
		if err != nil {
			stats.Failed++
			if rerr := l.queue.RecordAttempt(ctx, u.Transfer.TxID, err.Error()); rerr != nil {
				log.WithError(rerr).Warn("Failed to record unpriced attempt")
			}
			log.WithError(err).Warn("Queued deposit credit failed")
			continue
		}

		switch outcome {
		case OutcomeCredited:
			stats.Credited++
		case OutcomeDuplicate:
			stats.Duplicate++
		default:
			stats.Pending++
			continue
		}
		if err := l.queue.Delete(ctx, u.Transfer.TxID); err != nil {
			log.WithError(err).Warn("Failed to dequeue priced deposit")
		}
	}

	return stats, nil
}
