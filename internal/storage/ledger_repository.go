package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

// LedgerRepository persists the user transaction log and the balance
// mutations that go with it
type LedgerRepository struct {
	db *PostgresDB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *PostgresDB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ExistsByTxID reports whether a deposit or sweep record with txid exists
func (r *LedgerRepository) ExistsByTxID(ctx context.Context, txid string) (bool, error) {
	var exists bool
	err := r.db.Pool().QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM ledger_transactions
			WHERE txid = $1 AND kind IN ('deposit', 'sweep')
		)
	`, txid).Scan(&exists)
	if err != nil {
		return false, apperrors.NewDatabaseError("ledger exists", err)
	}
	return exists, nil
}

// CreditDeposit inserts a deposit record and adds its USDT value to the
// user's balance in one transaction. It returns false, without touching the
// balance, when a record with the same txid already exists.
func (r *LedgerRepository) CreditDeposit(ctx context.Context, entry *models.LedgerTransaction) (bool, error) {
	if entry.Kind != types.KindDeposit {
		return false, apperrors.NewInvalidParameterError("kind", "credit requires a deposit entry")
	}
	if entry.Metadata.TxID == "" {
		return false, apperrors.NewInvalidParameterError("txid", "deposit entry has no txid")
	}

	var credited bool
	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		inserted, err := insertLedgerEntry(ctx, tx, entry)
		if err != nil || !inserted {
			return err
		}

		tag, err := tx.Exec(ctx, `
			UPDATE users SET usdt_balance = usdt_balance + $2, updated_at = NOW()
			WHERE id = $1
		`, entry.UserID, entry.Amount)
		if err != nil {
			return apperrors.NewDatabaseError("credit balance", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NewNotFoundError("user", strconv.FormatInt(entry.UserID, 10))
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return credited, nil
}

// SweepRecord is everything persisted once a sweep broadcast returned a hash
type SweepRecord struct {
	WalletID          int64
	RemainingBalances []models.DetectedBalance
	Entry             *models.LedgerTransaction
	Pending           *models.PendingOutboundTx
}

// RecordSweep clears the swept balance, appends the sweep ledger entry and
// starts tracking the outbound transaction, atomically
func (r *LedgerRepository) RecordSweep(ctx context.Context, rec SweepRecord) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := setDetectedBalances(ctx, tx, rec.WalletID, rec.RemainingBalances); err != nil {
			return err
		}
		inserted, err := insertLedgerEntry(ctx, tx, rec.Entry)
		if err != nil {
			return err
		}
		if !inserted {
			return apperrors.NewConflictError(fmt.Sprintf("sweep %s already recorded", rec.Entry.Metadata.TxID))
		}
		return insertPending(ctx, tx, rec.Pending)
	})
}

// ListByUser returns the most recent ledger entries of a user
func (r *LedgerRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]*models.LedgerTransaction, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, user_id, kind, amount, currency, status, description,
		       COALESCE(txid, ''), COALESCE(chain, ''), COALESCE(from_address, ''),
		       COALESCE(to_address, ''), COALESCE(original_amount, 0),
		       COALESCE(original_currency, ''), COALESCE(price_used, 0),
		       COALESCE(block_ref, ''), notes, created_at
		FROM ledger_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list ledger", err)
	}
	defer rows.Close()

	var out []*models.LedgerTransaction
	for rows.Next() {
		var (
			e     models.LedgerTransaction
			notes []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.Amount, &e.Currency, &e.Status, &e.Description,
			&e.Metadata.TxID, &e.Metadata.Chain, &e.Metadata.FromAddress,
			&e.Metadata.ToAddress, &e.Metadata.OriginalAmount,
			&e.Metadata.OriginalCurrency, &e.Metadata.PriceUsed,
			&e.Metadata.BlockRef, &notes, &e.CreatedAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan ledger", err)
		}
		if len(notes) > 0 {
			if err := json.Unmarshal(notes, &e.Metadata.Notes); err != nil {
				return nil, apperrors.NewDataError("malformed ledger notes", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list ledger", err)
	}
	return out, nil
}

// insertLedgerEntry inserts entry unless its txid is already recorded
func insertLedgerEntry(ctx context.Context, q querier, entry *models.LedgerTransaction) (bool, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var notes []byte
	if len(entry.Metadata.Notes) > 0 {
		raw, err := json.Marshal(entry.Metadata.Notes)
		if err != nil {
			return false, fmt.Errorf("failed to marshal ledger notes: %w", err)
		}
		notes = raw
	}

	m := entry.Metadata
	tag, err := q.Exec(ctx, `
		INSERT INTO ledger_transactions (
			id, user_id, kind, amount, currency, status, description,
			txid, chain, from_address, to_address,
			original_amount, original_currency, price_used, block_ref, notes, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (txid) WHERE kind IN ('deposit', 'sweep') DO NOTHING
	`,
		entry.ID, entry.UserID, entry.Kind, entry.Amount, entry.Currency, entry.Status, entry.Description,
		nullString(m.TxID), nullString(string(m.Chain)), nullString(m.FromAddress), nullString(m.ToAddress),
		nullDecimal(m.OriginalAmount, m.OriginalCurrency != ""), nullString(string(m.OriginalCurrency)),
		nullDecimal(m.PriceUsed, m.OriginalCurrency != ""), nullString(m.BlockRef), notes, entry.CreatedAt,
	)
	if err != nil {
		return false, apperrors.NewDatabaseError("insert ledger entry", err)
	}
	return tag.RowsAffected() == 1, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullDecimal(d decimal.Decimal, valid bool) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: valid}
}
