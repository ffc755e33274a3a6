package rescue

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deposit-scanner/internal/adapter/adaptertest"
	"github.com/deposit-scanner/internal/derive"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/storage"
	"github.com/deposit-scanner/internal/types"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type memPending struct {
	rows map[string]*models.PendingOutboundTx
}

func (m *memPending) Get(_ context.Context, hash string) (*models.PendingOutboundTx, error) {
	p, ok := m.rows[hash]
	if !ok {
		return nil, apperrors.NewNotFoundError("pending transaction", hash)
	}
	cp := *p
	return &cp, nil
}

func (m *memPending) ReplacePending(_ context.Context, oldHash string, next *models.PendingOutboundTx) error {
	old := m.rows[oldHash]
	if old.Status != types.OutboundPending {
		return apperrors.NewConflictError("not pending")
	}
	old.Status = types.OutboundFailed
	old.Metadata.ReplacedBy = next.TxHash
	m.rows[next.TxHash] = next
	return nil
}

type fixedPrice int64

func (p fixedPrice) GasPrice(context.Context) (*big.Int, bool) { return big.NewInt(int64(p)), false }

type fixture struct {
	rescuer *Rescuer
	node    *adaptertest.BSCNode
	store   *memPending
	creds   *derive.CredentialProvider
	hot     common.Address
	stuck   *ethtypes.Transaction
}

func newFixture(t *testing.T, signerIndex uint32) *fixture {
	t.Helper()
	creds, err := derive.NewCredentialProvider(testMnemonic, "")
	require.NoError(t, err)
	hotKey, err := creds.HotWalletKey(types.ChainBSC)
	require.NoError(t, err)
	hot := crypto.PubkeyToAddress(hotKey.PublicKey)

	key, err := creds.DeriveKey(types.ChainBSC, signerIndex)
	require.NoError(t, err)

	node := adaptertest.NewBSCNode()
	wallet := common.HexToAddress("0x1111111111111111111111111111111111111111")
	stuck, err := ethtypes.SignTx(ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    12,
		To:       &wallet,
		Value:    big.NewInt(500_000_000_000_000),
		Gas:      21_000,
		GasPrice: big.NewInt(3_000_000_000),
	}), ethtypes.NewEIP155Signer(node.ChainID()), key)
	require.NoError(t, err)
	node.AddTransaction(stuck)

	nonce := uint64(12)
	store := &memPending{rows: map[string]*models.PendingOutboundTx{
		stuck.Hash().Hex(): {
			TxHash:      stuck.Hash().Hex(),
			Chain:       types.ChainBSC,
			Type:        types.OutboundGasDispatch,
			Status:      types.OutboundPending,
			FromAddress: hot.Hex(),
			ToAddress:   wallet.Hex(),
			Currency:    types.CurrencyBNB,
			Amount:      decimal.RequireFromString("0.0005"),
			Nonce:       &nonce,
			Metadata:    models.PendingMetadata{Operation: "gas_dispatch", WalletAddress: wallet.Hex()},
		},
	}}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	lock := storage.NewWalletLock(storage.NewRedisCacheFromClient(client), time.Minute)

	r := New(store, node, creds, lock, fixedPrice(1_000_000_000), Config{BumpPercent: 15})
	return &fixture{rescuer: r, node: node, store: store, creds: creds, hot: hot, stuck: stuck}
}

func TestSpeedUp_SameNonceHigherPrice(t *testing.T) {
	f := newFixture(t, derive.HotWalletIndex)
	old := f.stuck.Hash().Hex()

	res, err := f.rescuer.SpeedUp(context.Background(), old)
	require.NoError(t, err)

	require.Len(t, f.node.Sent, 1)
	tx := f.node.Sent[0]
	assert.Equal(t, uint64(12), tx.Nonce())
	assert.Equal(t, big.NewInt(3_450_000_000), tx.GasPrice())
	assert.Equal(t, f.stuck.To(), tx.To())
	assert.Equal(t, f.stuck.Value(), tx.Value())
	assert.Equal(t, f.stuck.Gas(), tx.Gas())

	sender, err := ethtypes.Sender(ethtypes.NewEIP155Signer(big.NewInt(56)), tx)
	require.NoError(t, err)
	assert.Equal(t, f.hot, sender)

	assert.Equal(t, tx.Hash().Hex(), res.NewHash)
	assert.Equal(t, types.OutboundFailed, f.store.rows[old].Status)
	assert.Equal(t, res.NewHash, f.store.rows[old].Metadata.ReplacedBy)

	next := f.store.rows[res.NewHash]
	require.NotNil(t, next)
	assert.Equal(t, types.OutboundPending, next.Status)
	assert.Equal(t, types.OutboundGasDispatch, next.Type)
	assert.Equal(t, OperationSpeedUp, next.Metadata.Operation)
	assert.Equal(t, old, next.Metadata.Replaces)
	assert.Equal(t, "0x1111111111111111111111111111111111111111", next.Metadata.WalletAddress)
}

func TestCancel_ZeroValueSelfTransfer(t *testing.T) {
	f := newFixture(t, derive.HotWalletIndex)

	res, err := f.rescuer.Cancel(context.Background(), f.stuck.Hash().Hex())
	require.NoError(t, err)

	require.Len(t, f.node.Sent, 1)
	tx := f.node.Sent[0]
	assert.Equal(t, uint64(12), tx.Nonce())
	assert.Equal(t, f.hot, *tx.To())
	assert.Equal(t, int64(0), tx.Value().Int64())
	assert.Equal(t, uint64(21_000), tx.Gas())
	assert.Empty(t, tx.Data())

	next := f.store.rows[res.NewHash]
	assert.Equal(t, OperationCancel, next.Metadata.Operation)
	assert.True(t, next.Amount.IsZero())
}

func TestReplace_MinedIsRejectedWithoutBroadcast(t *testing.T) {
	f := newFixture(t, derive.HotWalletIndex)
	hash := f.stuck.Hash().Hex()
	f.node.Mine(hash, 4242, types.ReceiptSuccess)

	_, err := f.rescuer.SpeedUp(context.Background(), hash)
	assert.True(t, apperrors.HasCode(err, "ALREADY_MINED"))
	_, err = f.rescuer.Cancel(context.Background(), hash)
	assert.True(t, apperrors.HasCode(err, "ALREADY_MINED"))

	assert.Empty(t, f.node.Sent)
	assert.Equal(t, types.OutboundPending, f.store.rows[hash].Status)
}

func TestReplace_ForeignSenderForbidden(t *testing.T) {
	f := newFixture(t, 5)

	_, err := f.rescuer.SpeedUp(context.Background(), f.stuck.Hash().Hex())
	assert.True(t, apperrors.HasCode(err, "FORBIDDEN"))
	assert.Empty(t, f.node.Sent)
}

func TestReplace_TronUnsupported(t *testing.T) {
	f := newFixture(t, derive.HotWalletIndex)
	f.store.rows["tronhash"] = &models.PendingOutboundTx{TxHash: "tronhash", Chain: types.ChainTRON, Status: types.OutboundPending}

	_, err := f.rescuer.Cancel(context.Background(), "tronhash")
	assert.True(t, apperrors.HasCode(err, "UNSUPPORTED_CHAIN"))
}

func TestReplace_SettledRowConflicts(t *testing.T) {
	f := newFixture(t, derive.HotWalletIndex)
	hash := f.stuck.Hash().Hex()
	f.store.rows[hash].Status = types.OutboundConfirmed

	_, err := f.rescuer.SpeedUp(context.Background(), hash)
	assert.True(t, apperrors.HasCode(err, "CONFLICT"))
	assert.Empty(t, f.node.Sent)
}

func TestBumpGasPrice(t *testing.T) {
	assert.Equal(t, big.NewInt(110), BumpGasPrice(big.NewInt(100), 10))
	assert.Equal(t, big.NewInt(12), BumpGasPrice(big.NewInt(10), 15), "rounds up")
	assert.Equal(t, int64(MinBumpPercent), New(nil, nil, nil, nil, nil, Config{BumpPercent: 3}).cfg.BumpPercent)
}
