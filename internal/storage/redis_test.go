package storage

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

func TestWalletLock_Exclusive(t *testing.T) {
	cache, _ := newTestRedis(t)
	lock := NewWalletLock(cache, time.Minute)
	ctx := testContext(t)

	release, err := lock.Acquire(ctx, "0xabc")
	require.NoError(t, err)

	_, err = lock.Acquire(ctx, "0xabc")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "WALLET_BUSY"))

	// other wallets are independent
	releaseOther, err := lock.Acquire(ctx, "0xdef")
	require.NoError(t, err)
	require.NoError(t, releaseOther(ctx))

	require.NoError(t, release(ctx))
	release2, err := lock.Acquire(ctx, "0xabc")
	require.NoError(t, err)
	require.NoError(t, release2(ctx))
}

func TestWalletLock_ReleaseAfterExpiryKeepsNewOwner(t *testing.T) {
	cache, mr := newTestRedis(t)
	lock := NewWalletLock(cache, time.Second)
	ctx := testContext(t)

	staleRelease, err := lock.Acquire(ctx, "0xabc")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = lock.Acquire(ctx, "0xabc")
	require.NoError(t, err)

	// the expired holder must not delete the new holder's lease
	require.NoError(t, staleRelease(ctx))
	assert.True(t, mr.Exists(walletLockPrefix+"0xabc"))
}

func TestPriceSnapshotStore_RoundTrip(t *testing.T) {
	cache, _ := newTestRedis(t)
	store := NewPriceSnapshotStore(cache, time.Hour)
	ctx := testContext(t)

	snap, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)

	fetched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, &models.PriceSnapshot{
		Prices: map[types.Currency]decimal.Decimal{
			types.CurrencyBNB: decimal.RequireFromString("612.5"),
			types.CurrencyTRX: decimal.RequireFromString("0.241"),
		},
		FetchedAt: fetched,
	}))

	snap, err = store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	bnb, ok := snap.Price(types.CurrencyBNB)
	require.True(t, ok)
	assert.True(t, bnb.Equal(decimal.RequireFromString("612.5")))
	assert.True(t, snap.FetchedAt.Equal(fetched))
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements(`
-- comment
CREATE TABLE a (x Int8)
ENGINE = Memory;

CREATE TABLE b (y Int8) ENGINE = Memory;
`)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.NotContains(t, stmts[0], ";")
	assert.Contains(t, stmts[1], "CREATE TABLE b")
}
