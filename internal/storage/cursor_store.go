package storage

import (
	"context"
	"fmt"
	"strconv"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/types"
)

// CursorStore persists per-wallet scan positions. Advances never move a
// cursor backwards.
type CursorStore struct {
	db *PostgresDB
}

// NewCursorStore creates a new cursor store
func NewCursorStore(db *PostgresDB) *CursorStore {
	return &CursorStore{db: db}
}

// GetCursor reads the current scan position of a wallet
func (s *CursorStore) GetCursor(ctx context.Context, walletID int64) (types.ScanCursor, error) {
	var (
		chain types.ChainID
		block int64
		tsMs  int64
	)
	err := s.db.Pool().QueryRow(ctx, `
		SELECT chain, last_scanned_block, last_scanned_ts_ms
		FROM deposit_wallets WHERE id = $1
	`, walletID).Scan(&chain, &block, &tsMs)
	if err != nil {
		return types.ScanCursor{}, notFoundOr(err, "wallet", strconv.FormatInt(walletID, 10), "get cursor")
	}
	return cursorFromColumns(chain, block, tsMs), nil
}

// AdvanceCursor moves the wallet cursor to max(current, cursor). The cursor
// kind must match the wallet's chain.
func (s *CursorStore) AdvanceCursor(ctx context.Context, walletID int64, cursor types.ScanCursor) error {
	if err := cursor.Validate(); err != nil {
		return apperrors.NewInvalidParameterError("cursor", err.Error())
	}

	var (
		query string
		value int64
		chain types.ChainID
	)
	switch cursor.Kind {
	case types.CursorBlock:
		query = `
			UPDATE deposit_wallets
			SET last_scanned_block = GREATEST(last_scanned_block, $2), updated_at = NOW()
			WHERE id = $1 AND chain = $3
		`
		value = int64(cursor.Block) // #nosec G115 - block heights fit in int64
		chain = types.ChainBSC
	default:
		query = `
			UPDATE deposit_wallets
			SET last_scanned_ts_ms = GREATEST(last_scanned_ts_ms, $2), updated_at = NOW()
			WHERE id = $1 AND chain = $3
		`
		value = cursor.TimestampMs
		chain = types.ChainTRON
	}

	tag, err := s.db.Pool().Exec(ctx, query, walletID, value, chain)
	if err != nil {
		return apperrors.NewDatabaseError("advance cursor", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: the wallet is missing or belongs to the other chain.
	var actual types.ChainID
	err = s.db.Pool().QueryRow(ctx, `SELECT chain FROM deposit_wallets WHERE id = $1`, walletID).Scan(&actual)
	if err != nil {
		return notFoundOr(err, "wallet", strconv.FormatInt(walletID, 10), "advance cursor")
	}
	return apperrors.NewInvalidParameterError("cursor",
		fmt.Sprintf("%s cursor does not apply to %s wallet %d", cursor.Kind, actual, walletID))
}
