package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

const pendingColumns = `
	tx_hash, chain, type, status, from_address, to_address,
	currency, amount, nonce, metadata, last_checked, created_at
`

// PendingTxRepository tracks outbound transactions until a receipt settles
// them. Status only ever moves out of PENDING.
type PendingTxRepository struct {
	db *PostgresDB
}

// NewPendingTxRepository creates a new pending transaction repository
func NewPendingTxRepository(db *PostgresDB) *PendingTxRepository {
	return &PendingTxRepository{db: db}
}

// Insert starts tracking a broadcast transaction
func (r *PendingTxRepository) Insert(ctx context.Context, p *models.PendingOutboundTx) error {
	return insertPending(ctx, r.db.Pool(), p)
}

// Get retrieves a tracked transaction by hash
func (r *PendingTxRepository) Get(ctx context.Context, hash string) (*models.PendingOutboundTx, error) {
	p, err := scanPending(r.db.Pool().QueryRow(ctx, `SELECT `+pendingColumns+` FROM pending_outbound_txs WHERE tx_hash = $1`, hash))
	if err != nil {
		return nil, notFoundOr(err, "pending transaction", hash, "get pending")
	}
	return p, nil
}

// ListPending returns PENDING rows, never-checked first, then least
// recently checked, so a full batch cannot starve newer rows.
func (r *PendingTxRepository) ListPending(ctx context.Context, limit int) ([]*models.PendingOutboundTx, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+pendingColumns+`
		FROM pending_outbound_txs
		WHERE status = 'PENDING'
		ORDER BY last_checked ASC NULLS FIRST, created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list pending", err)
	}
	defer rows.Close()

	var out []*models.PendingOutboundTx
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan pending", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list pending", err)
	}
	return out, nil
}

// MarkStatus settles a PENDING row. It returns false when the row was
// already settled by someone else.
func (r *PendingTxRepository) MarkStatus(ctx context.Context, hash string, status types.OutboundStatus) (bool, error) {
	if !status.IsTerminal() {
		return false, apperrors.NewInvalidParameterError("status", fmt.Sprintf("%s is not a terminal status", status))
	}
	tag, err := r.db.Pool().Exec(ctx, `
		UPDATE pending_outbound_txs SET status = $2, last_checked = NOW()
		WHERE tx_hash = $1 AND status = 'PENDING'
	`, hash, status)
	if err != nil {
		return false, apperrors.NewDatabaseError("mark pending", err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchLastChecked records a poll that found no receipt
func (r *PendingTxRepository) TouchLastChecked(ctx context.Context, hash string) error {
	_, err := r.db.Pool().Exec(ctx, `
		UPDATE pending_outbound_txs SET last_checked = NOW()
		WHERE tx_hash = $1 AND status = 'PENDING'
	`, hash)
	if err != nil {
		return apperrors.NewDatabaseError("touch pending", err)
	}
	return nil
}

// ReplacePending marks oldHash FAILED with a replacedBy link and tracks
// replacement, in one transaction. It fails with a conflict when oldHash
// is no longer PENDING.
func (r *PendingTxRepository) ReplacePending(ctx context.Context, oldHash string, replacement *models.PendingOutboundTx) error {
	link, err := json.Marshal(models.PendingMetadata{ReplacedBy: replacement.TxHash})
	if err != nil {
		return fmt.Errorf("failed to marshal replacement link: %w", err)
	}

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE pending_outbound_txs
			SET status = 'FAILED', metadata = metadata || $2::jsonb, last_checked = NOW()
			WHERE tx_hash = $1 AND status = 'PENDING'
		`, oldHash, link)
		if err != nil {
			return apperrors.NewDatabaseError("replace pending", err)
		}
		if tag.RowsAffected() == 0 {
			return apperrors.NewConflictError(fmt.Sprintf("transaction %s is no longer pending", oldHash))
		}
		return insertPending(ctx, tx, replacement)
	})
}

func insertPending(ctx context.Context, q querier, p *models.PendingOutboundTx) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = types.OutboundPending
	}
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal pending metadata: %w", err)
	}

	var nonce *int64
	if p.Nonce != nil {
		n := int64(*p.Nonce) // #nosec G115 - account nonces fit in int64
		nonce = &n
	}

	_, err = q.Exec(ctx, `
		INSERT INTO pending_outbound_txs (
			tx_hash, chain, type, status, from_address, to_address,
			currency, amount, nonce, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.TxHash, p.Chain, p.Type, p.Status, p.FromAddress, p.ToAddress,
		p.Currency, p.Amount, nonce, meta, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError(fmt.Sprintf("transaction %s already tracked", p.TxHash))
		}
		return apperrors.NewDatabaseError("insert pending", err)
	}
	return nil
}

func scanPending(row pgx.Row) (*models.PendingOutboundTx, error) {
	var (
		p     models.PendingOutboundTx
		nonce *int64
		meta  []byte
	)
	if err := row.Scan(&p.TxHash, &p.Chain, &p.Type, &p.Status, &p.FromAddress, &p.ToAddress,
		&p.Currency, &p.Amount, &nonce, &meta, &p.LastChecked, &p.CreatedAt); err != nil {
		return nil, err
	}
	if nonce != nil {
		n := uint64(*nonce) // #nosec G115 - stored from a uint64
		p.Nonce = &n
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("malformed pending metadata: %w", err)
		}
	}
	return &p, nil
}
