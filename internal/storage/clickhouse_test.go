package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/deposit-scanner/internal/config"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

func TestTransferArchive_Archive(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db, err := NewClickHouseDB(&config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "ntx_miner_test",
		User:     "default",
	})
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()

	ctx := testContext(t)
	require.NoError(t, RunClickHouseMigrations(ctx, db, "../../migrations/clickhouse"))

	archive := NewTransferArchive(db)
	wallet := &models.DepositWallet{ID: 1, UserID: 1, Chain: types.ChainBSC, Address: "0xwallet"}
	err = archive.Archive(ctx, wallet, []models.DetectedTransfer{{
		TxID:       "0xarchived",
		Chain:      types.ChainBSC,
		Amount:     decimal.NewFromInt(50),
		Currency:   types.CurrencyUSDT,
		Position:   types.BlockCursor(1005),
		ToAddress:  "0xwallet",
		DetectedAt: time.Now(),
	}})
	require.NoError(t, err)
}
