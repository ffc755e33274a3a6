package gas

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deposit-scanner/internal/adapter/adaptertest"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/types"
)

const (
	bscWallet   = "0x1111111111111111111111111111111111111111"
	bscTreasury = "0x2222222222222222222222222222222222222222"
	bscUSDT     = "0x55d398326f99059fF775485246999027B3197955"
	tronUSDT    = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"
)

func testConfig() Config {
	return Config{
		FloorGwei:          decimal.NewFromInt(2),
		Multiplier:         decimal.RequireFromString("1.2"),
		BSCTreasury:        bscTreasury,
		TRONTreasury:       "TTreasury",
		BSCStableContracts: map[types.Currency]string{types.CurrencyUSDT: bscUSDT},
		TRONUSDTContract:   tronUSDT,
	}
}

func TestEstimateSweepCost_BSCUsesFloorOverLowNodePrice(t *testing.T) {
	node := adaptertest.NewBSCNode()
	node.GasPrice = big.NewInt(1_000_000_000)
	node.GasEstimate = 50_000

	e := NewEstimator(node, nil, testConfig())
	est, err := e.EstimateSweepCost(context.Background(), types.ChainBSC, bscWallet, types.CurrencyUSDT, decimal.NewFromInt(50))
	require.NoError(t, err)

	assert.False(t, est.Fallback)
	assert.Equal(t, big.NewInt(2_000_000_000), est.UnitPrice)
	assert.Equal(t, uint64(50_000), est.Units)
	assert.Equal(t, uint64(60_000), est.GasLimit)
	// 50000 gas * 2 Gwei * 1.2
	assert.True(t, est.Native.Equal(decimal.RequireFromString("0.00012")), est.Native.String())

	require.Len(t, node.Estimates, 1)
	assert.Equal(t, bscUSDT, node.Estimates[0].To.Hex())
	assert.NotEmpty(t, node.Estimates[0].Data)
}

func TestEstimateSweepCost_BSCKeepsHigherNodePrice(t *testing.T) {
	node := adaptertest.NewBSCNode()
	node.GasPrice = big.NewInt(5_000_000_000)

	est, err := NewEstimator(node, nil, testConfig()).
		EstimateSweepCost(context.Background(), types.ChainBSC, bscWallet, types.CurrencyBNB, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(5_000_000_000), est.UnitPrice)
	assert.Equal(t, uint64(NativeTransferGas), est.Units)
	assert.Empty(t, node.Estimates, "native transfers use the fixed gas cost")
}

func TestEstimateSweepCost_BSCFallback(t *testing.T) {
	node := adaptertest.NewBSCNode()
	node.EstimateErr = errors.New("execution reverted")

	est, err := NewEstimator(node, nil, testConfig()).
		EstimateSweepCost(context.Background(), types.ChainBSC, bscWallet, types.CurrencyUSDT, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, est.Fallback)
	assert.True(t, est.Native.Equal(decimal.RequireFromString("0.0005")))

	node = adaptertest.NewBSCNode()
	node.GasPriceErr = errors.New("dial tcp: connection refused")
	est, err = NewEstimator(node, nil, testConfig()).
		EstimateSweepCost(context.Background(), types.ChainBSC, bscWallet, types.CurrencyUSDT, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, est.Fallback)
	assert.Equal(t, big.NewInt(2_000_000_000), est.UnitPrice)
}

func TestNewEstimator_ForcesMinimumMultiplier(t *testing.T) {
	cfg := testConfig()
	cfg.Multiplier = decimal.RequireFromString("1.01")
	e := NewEstimator(adaptertest.NewBSCNode(), nil, cfg)
	assert.True(t, e.Multiplier().Equal(decimal.RequireFromString("1.10")))
}

func TestEstimateSweepCost_TRON(t *testing.T) {
	node := adaptertest.NewTronNode()
	node.Energy = 65_000
	node.EnergyFeeSun = 420

	e := NewEstimator(nil, node, testConfig())
	est, err := e.EstimateSweepCost(context.Background(), types.ChainTRON, "TWallet", types.CurrencyUSDT, decimal.NewFromInt(10))
	require.NoError(t, err)
	// 65000 * 420 * 1.2 SUN
	assert.Equal(t, int64(32_760_000), est.FeeLimitSun)
	assert.True(t, est.Native.Equal(decimal.RequireFromString("32.76")))

	node.EnergyFeeErr = errors.New("unavailable")
	node.EnergyFeeSun = 0
	est, err = e.EstimateSweepCost(context.Background(), types.ChainTRON, "TWallet", types.CurrencyUSDT, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(420), est.UnitPrice, "configured fee replaces a failed lookup")

	node.EnergyErr = errors.New("simulation failed")
	est, err = e.EstimateSweepCost(context.Background(), types.ChainTRON, "TWallet", types.CurrencyUSDT, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.True(t, est.Fallback)
	assert.True(t, est.Native.Equal(decimal.NewFromInt(30)))
	assert.Equal(t, int64(30_000_000), est.FeeLimitSun)

	est, err = e.EstimateSweepCost(context.Background(), types.ChainTRON, "TWallet", types.CurrencyTRX, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.True(t, est.Native.Equal(decimal.RequireFromString("0.3")))
}

func TestEstimateSweepCost_DisabledChain(t *testing.T) {
	_, err := NewEstimator(nil, nil, testConfig()).
		EstimateSweepCost(context.Background(), types.ChainTRON, "TWallet", types.CurrencyUSDT, decimal.NewFromInt(1))
	assert.True(t, apperrors.HasCode(err, "UNSUPPORTED_CHAIN"))
}

func TestClampGasPrice_NeverBelowFloor(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("clamped price is max(price, floor)", prop.ForAll(
		func(price, floor int64) bool {
			got := ClampGasPrice(big.NewInt(price), big.NewInt(floor))
			want := price
			if floor > price {
				want = floor
			}
			return got.Int64() == want
		},
		gen.Int64Range(0, 1<<40),
		gen.Int64Range(0, 1<<40),
	))

	properties.TestingRun(t)
}
