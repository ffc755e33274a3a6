package derive

import (
	"strings"
	"testing"

	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/types"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newTestProvider(t *testing.T) *CredentialProvider {
	t.Helper()
	p, err := NewCredentialProvider(testMnemonic, "")
	require.NoError(t, err)
	return p
}

func TestNewCredentialProvider_FailsFast(t *testing.T) {
	_, err := NewCredentialProvider("   ", "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "CONFIGURATION_ERROR"))

	_, err = NewCredentialProvider("not a real mnemonic at all", "")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, "CONFIGURATION_ERROR"))
}

func TestDeriveAddress_KnownVector(t *testing.T) {
	p := newTestProvider(t)

	addr, err := p.DeriveAddress(types.ChainBSC, 0)
	require.NoError(t, err)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", addr)
}

func TestDeriveAddress_TronFormat(t *testing.T) {
	p := newTestProvider(t)

	addr, err := p.DeriveAddress(types.ChainTRON, 1)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(addr, "T"))
	assert.Len(t, addr, 34)

	_, err = address.Base58ToAddress(addr)
	assert.NoError(t, err)
}

func TestDeriveAddress_ChainsUseDifferentPaths(t *testing.T) {
	p := newTestProvider(t)

	bscKey, err := p.DeriveKey(types.ChainBSC, 3)
	require.NoError(t, err)
	tronKey, err := p.DeriveKey(types.ChainTRON, 3)
	require.NoError(t, err)
	assert.NotEqual(t, bscKey.D, tronKey.D)
}

func TestDeriveAddress_UnsupportedChain(t *testing.T) {
	p := newTestProvider(t)
	_, err := p.DeriveAddress(types.ChainID("SOL"), 1)
	assert.True(t, apperrors.HasCode(err, "UNSUPPORTED_CHAIN"))
}

func TestPath(t *testing.T) {
	got, err := Path(types.ChainTRON, 7)
	require.NoError(t, err)
	assert.Equal(t, "m/44'/195'/0'/0/7", got)
}

func TestHotWalletIsIndexZero(t *testing.T) {
	p := newTestProvider(t)
	hot, err := p.HotWalletAddress(types.ChainBSC)
	require.NoError(t, err)
	first, err := p.DeriveAddress(types.ChainBSC, HotWalletIndex)
	require.NoError(t, err)
	assert.Equal(t, first, hot)
}

func TestDeriveAddress_Properties(t *testing.T) {
	p := newTestProvider(t)
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("derivation is deterministic", prop.ForAll(
		func(i uint32) bool {
			a, err1 := p.DeriveAddress(types.ChainBSC, i)
			b, err2 := p.DeriveAddress(types.ChainBSC, i)
			return err1 == nil && err2 == nil && a == b
		},
		gen.UInt32Range(0, 1<<20),
	))

	properties.Property("distinct indexes give distinct addresses", prop.ForAll(
		func(i uint32) bool {
			a, err1 := p.DeriveAddress(types.ChainTRON, i)
			b, err2 := p.DeriveAddress(types.ChainTRON, i+1)
			return err1 == nil && err2 == nil && a != b
		},
		gen.UInt32Range(0, 1<<20),
	))

	properties.TestingRun(t)
}
