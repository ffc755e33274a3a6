package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/deposit-scanner/internal/config"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/models"
)

// ClickHouseDB wraps the ClickHouse connection
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(cfg *config.ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     5,
		MaxIdleConns:     2,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (db *ClickHouseDB) Conn() driver.Conn {
	return db.conn
}

// Ping checks if the database is reachable
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// Exec executes a query without returning rows
func (db *ClickHouseDB) Exec(ctx context.Context, query string, args ...interface{}) error {
	return db.conn.Exec(ctx, query, args...)
}

// TransferArchive appends detected transfers to the transfer_events table.
// The table is a ReplacingMergeTree keyed on txid, so rescans that archive
// a transfer twice collapse on merge.
type TransferArchive struct {
	db *ClickHouseDB
}

// NewTransferArchive creates a transfer archive
func NewTransferArchive(db *ClickHouseDB) *TransferArchive {
	return &TransferArchive{db: db}
}

// Archive writes one batch of transfers detected for wallet
func (a *TransferArchive) Archive(ctx context.Context, wallet *models.DepositWallet, transfers []models.DetectedTransfer) error {
	if len(transfers) == 0 {
		return nil
	}

	batch, err := a.db.conn.PrepareBatch(ctx, "INSERT INTO transfer_events")
	if err != nil {
		return apperrors.NewDatabaseError("prepare archive batch", err)
	}

	for i := range transfers {
		t := &transfers[i]
		if err := batch.Append(
			t.TxID,
			string(t.Chain),
			wallet.ID,
			wallet.UserID,
			string(t.Currency),
			t.Amount,
			t.FromAddress,
			t.ToAddress,
			t.Contract,
			t.BlockRef(),
			t.DetectedAt.UTC(),
		); err != nil {
			_ = batch.Abort()
			return apperrors.NewDatabaseError("append archive row", err)
		}
	}

	if err := batch.Send(); err != nil {
		return apperrors.NewDatabaseError("send archive batch", err)
	}
	return nil
}
