package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deposit-scanner/internal/config"
	"github.com/deposit-scanner/internal/storage"
	"github.com/deposit-scanner/internal/types"
)

func TestStableContracts_SkipsUnset(t *testing.T) {
	got := StableContracts(config.BSCConfig{StableContracts: map[string]string{
		"USDT": "0x55d398326f99059fF775485246999027B3197955",
		"BUSD": "",
	}})
	assert.Equal(t, map[types.Currency]string{
		types.CurrencyUSDT: "0x55d398326f99059fF775485246999027B3197955",
	}, got)
}

func TestExplorerRetry(t *testing.T) {
	rc := ExplorerRetry(config.MonitorConfig{RetryAttempts: 6, RetryBaseDelay: 250 * time.Millisecond})
	assert.Equal(t, 6, rc.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, rc.InitialDelay)

	rc = ExplorerRetry(config.MonitorConfig{})
	assert.Equal(t, 4, rc.MaxAttempts)
	assert.Equal(t, time.Second, rc.InitialDelay)
}

func TestChains_DisabledYieldNilInterfaces(t *testing.T) {
	c := &Chains{}
	assert.Nil(t, c.BSC())
	assert.Nil(t, c.TRON())
	assert.Empty(t, c.Enabled())
	assert.Empty(t, c.ReceiptSources())
	c.Close()
}

func TestTreasuries(t *testing.T) {
	cfg := &config.Config{
		BSC:  config.BSCConfig{TreasuryAddress: "0xtreasury"},
		TRON: config.TronConfig{TreasuryAddress: "Ttreasury"},
	}
	assert.Equal(t, "0xtreasury", Treasuries(cfg)[types.ChainBSC])
	assert.Equal(t, "Ttreasury", Treasuries(cfg)[types.ChainTRON])
}

func TestExplorerQuota(t *testing.T) {
	q, err := ExplorerQuota(nil, "etherscan", 5)
	require.NoError(t, err)
	assert.Nil(t, q)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := storage.NewRedisCacheFromClient(client)

	q, err = ExplorerQuota(cache, "etherscan", 0)
	require.NoError(t, err)
	assert.Nil(t, q, "zero budget disables the shared quota")

	q, err = ExplorerQuota(cache, "etherscan", 5)
	require.NoError(t, err)
	require.NotNil(t, q)
	require.NoError(t, q.Wait(context.Background()))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "quota:etherscan:")
}
