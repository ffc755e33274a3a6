package storage

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/models"
)

// UnpricedRepository is the retry queue for deposits that arrived while no
// price was known for their currency
type UnpricedRepository struct {
	db *PostgresDB
}

// NewUnpricedRepository creates a new unpriced deposit repository
func NewUnpricedRepository(db *PostgresDB) *UnpricedRepository {
	return &UnpricedRepository{db: db}
}

// Enqueue records a deposit for a later pricing attempt. Enqueueing the
// same txid twice keeps the first row.
func (r *UnpricedRepository) Enqueue(ctx context.Context, walletID int64, t *models.DetectedTransfer, reason string) error {
	pos, err := json.Marshal(t.Position)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	_, err = r.db.Pool().Exec(ctx, `
		INSERT INTO unpriced_deposits (
			txid, wallet_id, chain, currency, amount, from_address,
			to_address, contract, position, detected_at, last_error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (txid) DO NOTHING
	`, t.TxID, walletID, t.Chain, t.Currency, t.Amount, t.FromAddress,
		t.ToAddress, t.Contract, pos, t.DetectedAt, reason)
	if err != nil {
		return apperrors.NewDatabaseError("enqueue unpriced", err)
	}
	return nil
}

// List returns queued deposits, oldest first
func (r *UnpricedRepository) List(ctx context.Context, limit int) ([]*models.UnpricedDeposit, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT txid, wallet_id, chain, currency, amount, from_address,
		       to_address, contract, position, detected_at,
		       attempts, last_error, created_at, updated_at
		FROM unpriced_deposits
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list unpriced", err)
	}
	defer rows.Close()

	var out []*models.UnpricedDeposit
	for rows.Next() {
		var (
			u   models.UnpricedDeposit
			pos []byte
		)
		t := &u.Transfer
		if err := rows.Scan(&t.TxID, &u.WalletID, &t.Chain, &t.Currency, &t.Amount, &t.FromAddress,
			&t.ToAddress, &t.Contract, &pos, &t.DetectedAt,
			&u.Attempts, &u.LastError, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan unpriced", err)
		}
		if err := json.Unmarshal(pos, &t.Position); err != nil {
			return nil, apperrors.NewDataError("malformed unpriced position", err)
		}
		out = append(out, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list unpriced", err)
	}
	return out, nil
}

// Delete removes a deposit from the queue
func (r *UnpricedRepository) Delete(ctx context.Context, txid string) error {
	if _, err := r.db.Pool().Exec(ctx, `DELETE FROM unpriced_deposits WHERE txid = $1`, txid); err != nil {
		return apperrors.NewDatabaseError("delete unpriced", err)
	}
	return nil
}

// RecordAttempt bumps the attempt counter after another failed pricing pass
func (r *UnpricedRepository) RecordAttempt(ctx context.Context, txid, lastError string) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE unpriced_deposits
		SET attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE txid = $1
	`, txid, lastError)
	if err != nil {
		return apperrors.NewDatabaseError("record unpriced attempt", err)
	}
	return nil
}
