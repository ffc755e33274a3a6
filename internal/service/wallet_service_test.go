package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deposit-scanner/internal/derive"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/storage"
	"github.com/deposit-scanner/internal/types"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

// memWallets mirrors the repository's max(index)+1 assignment
type memWallets struct {
	mu         sync.Mutex
	nextID     int64
	byUser     map[string]*models.DepositWallet
	indices    map[types.ChainID]uint32
	raceWinner *models.DepositWallet
	assigns    int
}

func newMemWallets() *memWallets {
	return &memWallets{byUser: map[string]*models.DepositWallet{}, indices: map[types.ChainID]uint32{}}
}

func key(userID int64, chain types.ChainID) string { return strconv.FormatInt(userID, 10) + ":" + string(chain) }

func (m *memWallets) Assign(_ context.Context, userID int64, chain types.ChainID, start types.ScanCursor, derive storage.DeriveFunc) (*models.DepositWallet, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.raceWinner != nil {
		// another request inserted the wallet between lookup and insert
		w := m.raceWinner
		m.raceWinner = nil
		m.byUser[key(userID, chain)] = w
		return nil, false, apperrors.NewConflictError("wallet exists")
	}
	if w, ok := m.byUser[key(userID, chain)]; ok {
		return w, false, nil
	}
	index := m.indices[chain] + 1
	addr, err := derive(index)
	if err != nil {
		return nil, false, err
	}
	m.nextID++
	m.indices[chain] = index
	w := &models.DepositWallet{ID: m.nextID, UserID: userID, Chain: chain, Address: addr, DerivationIndex: index, Cursor: start}
	m.byUser[key(userID, chain)] = w
	m.assigns++
	return w, true, nil
}

func (m *memWallets) GetByUserChain(_ context.Context, userID int64, chain types.ChainID) (*models.DepositWallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.byUser[key(userID, chain)]; ok {
		return w, nil
	}
	return nil, apperrors.NewNotFoundError("wallet", key(userID, chain))
}

type memUsers map[int64]bool

func (m memUsers) GetByID(_ context.Context, id int64) (*models.User, error) {
	if !m[id] {
		return nil, apperrors.NewNotFoundError("user", strconv.FormatInt(id, 10))
	}
	return &models.User{ID: id}, nil
}

type fixedHead struct {
	block uint64
	err   error
}

func (h fixedHead) BlockNumber(context.Context) (uint64, error) { return h.block, h.err }

func newService(t *testing.T, head HeadSource) (*WalletService, *memWallets) {
	t.Helper()
	creds, err := derive.NewCredentialProvider(testMnemonic, "")
	require.NoError(t, err)
	wallets := newMemWallets()
	svc := NewWalletService(wallets, memUsers{1: true, 2: true}, creds,
		map[types.ChainID]HeadSource{types.ChainBSC: head},
		[]types.ChainID{types.ChainBSC, types.ChainTRON}, 0)
	return svc, wallets
}

func TestAssignWallet_DerivesNextIndexAndSeedsCursor(t *testing.T) {
	svc, _ := newService(t, fixedHead{block: 40_000_000})
	ctx := context.Background()

	first, err := svc.AssignWallet(ctx, 1, types.ChainBSC)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, uint32(1), first.Wallet.DerivationIndex)
	assert.Equal(t, types.BlockCursor(40_000_000), first.Wallet.Cursor)

	creds, _ := derive.NewCredentialProvider(testMnemonic, "")
	want, err := creds.DeriveAddress(types.ChainBSC, 1)
	require.NoError(t, err)
	assert.Equal(t, want, first.Wallet.Address)

	second, err := svc.AssignWallet(ctx, 2, types.ChainBSC)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), second.Wallet.DerivationIndex)
	assert.NotEqual(t, first.Wallet.Address, second.Wallet.Address)
}

func TestAssignWallet_Idempotent(t *testing.T) {
	svc, _ := newService(t, fixedHead{block: 1})
	ctx := context.Background()

	a, err := svc.AssignWallet(ctx, 1, types.ChainTRON)
	require.NoError(t, err)
	assert.Equal(t, types.TimestampCursor(0), a.Wallet.Cursor)
	b, err := svc.AssignWallet(ctx, 1, types.ChainTRON)
	require.NoError(t, err)

	assert.False(t, b.Created)
	assert.Equal(t, a.Wallet.ID, b.Wallet.ID)
	assert.Equal(t, "T", b.Wallet.Address[:1])
}

func TestAssignWallet_ConflictReturnsExisting(t *testing.T) {
	svc, wallets := newService(t, fixedHead{block: 1})

	winner := &models.DepositWallet{ID: 77, UserID: 1, Chain: types.ChainBSC, Address: "0xwinner"}
	wallets.raceWinner = winner

	res, err := svc.AssignWallet(context.Background(), 1, types.ChainBSC)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, int64(77), res.Wallet.ID)
}

func TestAssignWallet_HeadFailureRejectsAssignment(t *testing.T) {
	svc, wallets := newService(t, fixedHead{err: errors.New("rpc down")})
	ctx := context.Background()

	res, err := svc.AssignWallet(ctx, 1, types.ChainBSC)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, apperrors.HasCode(err, "PROVIDER_ERROR"), fmt.Sprint(err))
	assert.Zero(t, wallets.assigns, "no wallet without a start block")

	_, err = wallets.GetByUserChain(ctx, 1, types.ChainBSC)
	assert.True(t, apperrors.HasCode(err, "NOT_FOUND"))

	// TRON needs no head
	tron, err := svc.AssignWallet(ctx, 1, types.ChainTRON)
	require.NoError(t, err)
	assert.True(t, tron.Created)
}

func TestAssignWallet_ExistingWalletSkipsHeadRead(t *testing.T) {
	svc, wallets := newService(t, fixedHead{err: errors.New("rpc down")})
	wallets.byUser[key(1, types.ChainBSC)] = &models.DepositWallet{ID: 5, UserID: 1, Chain: types.ChainBSC, Cursor: types.BlockCursor(900)}

	res, err := svc.AssignWallet(context.Background(), 1, types.ChainBSC)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, int64(5), res.Wallet.ID)
}

func TestAssignWallet_MissingHeadSource(t *testing.T) {
	creds, err := derive.NewCredentialProvider(testMnemonic, "")
	require.NoError(t, err)
	svc := NewWalletService(newMemWallets(), memUsers{1: true}, creds, nil, []types.ChainID{types.ChainBSC}, 0)

	_, err = svc.AssignWallet(context.Background(), 1, types.ChainBSC)
	assert.True(t, apperrors.HasCode(err, "CONFIGURATION_ERROR"), fmt.Sprint(err))
}

func TestAssignWallet_Validation(t *testing.T) {
	svc, _ := newService(t, fixedHead{})
	ctx := context.Background()

	tests := []struct {
		name   string
		userID int64
		chain  types.ChainID
		code   string
	}{
		{"non-positive user", 0, types.ChainBSC, "INVALID_PARAMETER"},
		{"unknown user", 99, types.ChainBSC, "NOT_FOUND"},
		{"unknown chain", 1, types.ChainID("ETH"), "UNSUPPORTED_CHAIN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AssignWallet(ctx, tt.userID, tt.chain)
			assert.True(t, apperrors.HasCode(err, tt.code), fmt.Sprint(err))
		})
	}
}
