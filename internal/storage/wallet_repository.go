package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

// querier is satisfied by both the pool and an open transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const walletColumns = `
	id, user_id, chain, address, derivation_index,
	last_scanned_block, last_scanned_ts_ms, detected_balances,
	created_at, updated_at
`

// DeriveFunc maps a derivation index to the wallet address at that index
type DeriveFunc func(index uint32) (string, error)

// WalletRepository handles deposit wallet persistence
type WalletRepository struct {
	db *PostgresDB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *PostgresDB) *WalletRepository {
	return &WalletRepository{db: db}
}

// Assign returns the user's wallet on chain, creating it at index
// max(existing)+1 with scan cursor start when absent. Index assignment is
// serialized per chain with a transaction-scoped advisory lock.
func (r *WalletRepository) Assign(ctx context.Context, userID int64, chain types.ChainID, start types.ScanCursor, derive DeriveFunc) (*models.DepositWallet, bool, error) {
	if start.Kind != chain.CursorKind() {
		return nil, false, apperrors.NewInvalidParameterError("cursor", fmt.Sprintf("%s wallets need a %s cursor", chain, chain.CursorKind()))
	}

	var (
		wallet  *models.DepositWallet
		created bool
	)

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('deposit_wallets:' || $1::text))`, string(chain)); err != nil {
			return apperrors.NewDatabaseError("lock wallet index", err)
		}

		existing, err := getWallet(ctx, tx, `WHERE user_id = $1 AND chain = $2`, userID, chain)
		if err == nil {
			wallet = existing
			return nil
		}
		if !apperrors.HasCode(err, "NOT_FOUND") {
			return err
		}

		var maxIndex int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(derivation_index), 0) FROM deposit_wallets WHERE chain = $1`,
			chain,
		).Scan(&maxIndex); err != nil {
			return apperrors.NewDatabaseError("max derivation index", err)
		}

		index := uint32(maxIndex + 1) // #nosec G115 - indices stay far below 2^31
		address, err := derive(index)
		if err != nil {
			return err
		}

		w := &models.DepositWallet{
			UserID:           userID,
			Chain:            chain,
			Address:          address,
			DerivationIndex:  index,
			Cursor:           start,
			DetectedBalances: []models.DetectedBalance{},
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO deposit_wallets (user_id, chain, address, derivation_index,
			                             last_scanned_block, last_scanned_ts_ms)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at
		`, userID, chain, address, int64(index),
			int64(start.Block), start.TimestampMs, // #nosec G115 - block heights fit int64
		).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return apperrors.NewConflictError(fmt.Sprintf("wallet for user %d on %s already exists", userID, chain))
			}
			return apperrors.NewDatabaseError("insert wallet", err)
		}

		wallet = w
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return wallet, created, nil
}

// GetByID retrieves a wallet by id
func (r *WalletRepository) GetByID(ctx context.Context, id int64) (*models.DepositWallet, error) {
	return getWallet(ctx, r.db.Pool(), `WHERE id = $1`, id)
}

// GetByAddress retrieves a wallet by chain and address. BSC addresses
// match case-insensitively, TRON base58 addresses exactly.
func (r *WalletRepository) GetByAddress(ctx context.Context, chain types.ChainID, address string) (*models.DepositWallet, error) {
	if chain == types.ChainBSC {
		return getWallet(ctx, r.db.Pool(), `WHERE chain = $1 AND lower(address) = lower($2)`, chain, address)
	}
	return getWallet(ctx, r.db.Pool(), `WHERE chain = $1 AND address = $2`, chain, address)
}

// FindByAddress looks an address up on every chain
func (r *WalletRepository) FindByAddress(ctx context.Context, address string) (*models.DepositWallet, error) {
	return getWallet(ctx, r.db.Pool(),
		`WHERE address = $1 OR (chain = 'BSC' AND lower(address) = lower($1))`, address)
}

// GetByUserChain retrieves the wallet of a user on chain
func (r *WalletRepository) GetByUserChain(ctx context.Context, userID int64, chain types.ChainID) (*models.DepositWallet, error) {
	return getWallet(ctx, r.db.Pool(), `WHERE user_id = $1 AND chain = $2`, userID, chain)
}

// ListByChain returns every wallet on chain ordered by id
func (r *WalletRepository) ListByChain(ctx context.Context, chain types.ChainID) ([]*models.DepositWallet, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT `+walletColumns+` FROM deposit_wallets WHERE chain = $1 ORDER BY id`, chain)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list wallets", err)
	}
	defer rows.Close()

	var wallets []*models.DepositWallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list wallets", err)
	}
	return wallets, nil
}

// UpdateDetectedBalances replaces the on-chain balance snapshot of a wallet
func (r *WalletRepository) UpdateDetectedBalances(ctx context.Context, walletID int64, balances []models.DetectedBalance) error {
	return setDetectedBalances(ctx, r.db.Pool(), walletID, balances)
}

func setDetectedBalances(ctx context.Context, q querier, walletID int64, balances []models.DetectedBalance) error {
	if balances == nil {
		balances = []models.DetectedBalance{}
	}
	raw, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("failed to marshal detected balances: %w", err)
	}

	tag, err := q.Exec(ctx, `
		UPDATE deposit_wallets SET detected_balances = $2, updated_at = NOW()
		WHERE id = $1
	`, walletID, raw)
	if err != nil {
		return apperrors.NewDatabaseError("update detected balances", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("wallet", strconv.FormatInt(walletID, 10))
	}
	return nil
}

func getWallet(ctx context.Context, q querier, where string, args ...any) (*models.DepositWallet, error) {
	w, err := scanWallet(q.QueryRow(ctx, `SELECT `+walletColumns+` FROM deposit_wallets `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("wallet", fmt.Sprint(args...))
		}
		return nil, err
	}
	return w, nil
}

func scanWallet(row pgx.Row) (*models.DepositWallet, error) {
	var (
		w        models.DepositWallet
		index    int64
		block    int64
		tsMs     int64
		balances []byte
		created  time.Time
		updated  time.Time
	)
	if err := row.Scan(&w.ID, &w.UserID, &w.Chain, &w.Address, &index,
		&block, &tsMs, &balances, &created, &updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.NewDatabaseError("scan wallet", err)
	}

	w.DerivationIndex = uint32(index) // #nosec G115 - column is checked positive
	w.CreatedAt = created
	w.UpdatedAt = updated
	w.Cursor = cursorFromColumns(w.Chain, block, tsMs)
	if len(balances) > 0 {
		if err := json.Unmarshal(balances, &w.DetectedBalances); err != nil {
			return nil, apperrors.NewDataError("malformed detected_balances", err)
		}
	}
	return &w, nil
}

func cursorFromColumns(chain types.ChainID, block, tsMs int64) types.ScanCursor {
	if chain.CursorKind() == types.CursorTimestamp {
		return types.TimestampCursor(tsMs)
	}
	return types.BlockCursor(uint64(block)) // #nosec G115 - non-negative column
}
