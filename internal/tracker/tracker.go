// Package tracker resolves broadcast transactions to their final status.
package tracker

import (
	"context"
	"time"

	"github.com/deposit-scanner/internal/adapter"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

const defaultBatch = 200

// PendingStore is the persistence used by the tracker
type PendingStore interface {
	ListPending(ctx context.Context, limit int) ([]*models.PendingOutboundTx, error)
	MarkStatus(ctx context.Context, hash string, status types.OutboundStatus) (bool, error)
	TouchLastChecked(ctx context.Context, hash string) error
}

// PollStats summarizes one PollPending pass
type PollStats struct {
	Checked   int
	Confirmed int
	Failed    int
	Pending   int
	Errors    int
}

// Tracker polls receipts for PENDING outbound transactions
type Tracker struct {
	store       PendingStore
	sources     map[types.ChainID]adapter.ReceiptSource
	readTimeout time.Duration
	batch       int
}

// New creates a tracker. sources holds one receipt source per enabled chain.
func New(store PendingStore, sources map[types.ChainID]adapter.ReceiptSource, readTimeout time.Duration) *Tracker {
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	return &Tracker{store: store, sources: sources, readTimeout: readTimeout, batch: defaultBatch}
}

// PollPending checks every PENDING transaction once. A missing receipt
// leaves the row PENDING; a mined one settles it for good.
func (t *Tracker) PollPending(ctx context.Context) (*PollStats, error) {
	rows, err := t.store.ListPending(ctx, t.batch)
	if err != nil {
		return nil, err
	}

	stats := &PollStats{}
	for _, p := range rows {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		stats.Checked++
		log := logging.FromContext(ctx).WithFields(map[string]interface{}{
			"chain":  p.Chain,
			"txHash": p.TxHash,
			"type":   p.Type,
		})

		source, ok := t.sources[p.Chain]
		if !ok {
			stats.Errors++
			log.Warn("No receipt source for chain")
			continue
		}

		readCtx, cancel := context.WithTimeout(ctx, t.readTimeout)
		receipt, err := source.Receipt(readCtx, p.TxHash)
		cancel()
		if err != nil {
			stats.Errors++
			log.WithError(err).Warn("Receipt lookup failed")
			continue
		}

		status, settled := outboundStatus(receipt.Status)
		if !settled {
			stats.Pending++
			if err := t.store.TouchLastChecked(ctx, p.TxHash); err != nil {
				log.WithError(err).Warn("Failed to touch last_checked")
			}
			continue
		}

		changed, err := t.store.MarkStatus(ctx, p.TxHash, status)
		if err != nil {
			stats.Errors++
			log.WithError(err).Warn("Failed to settle pending transaction")
			continue
		}
		if !changed {
			// settled concurrently, e.g. replaced by a rescue
			continue
		}

		if status == types.OutboundConfirmed {
			stats.Confirmed++
			log.WithField("block", receipt.BlockNumber).Info("Outbound transaction confirmed")
		} else {
			stats.Failed++
			log.WithField("block", receipt.BlockNumber).Warn("Outbound transaction failed on chain")
		}
	}
	return stats, nil
}

func outboundStatus(s types.ReceiptStatus) (types.OutboundStatus, bool) {
	switch s {
	case types.ReceiptSuccess:
		return types.OutboundConfirmed, true
	case types.ReceiptFailed:
		return types.OutboundFailed, true
	default:
		return types.OutboundPending, false
	}
}
