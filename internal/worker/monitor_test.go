package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deposit-scanner/internal/ledger"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/scanner"
	"github.com/deposit-scanner/internal/tracker"
	"github.com/deposit-scanner/internal/types"
)

type stubScanner struct {
	chain types.ChainID
	mu    sync.Mutex
	seen  []int64
}

func (s *stubScanner) Chain() types.ChainID { return s.chain }

func (s *stubScanner) ScanWallet(_ context.Context, w *models.DepositWallet) (*scanner.ScanResult, error) {
	s.mu.Lock()
	s.seen = append(s.seen, w.ID)
	s.mu.Unlock()
	return &scanner.ScanResult{WalletID: w.ID, Transfers: 1, Credited: 1}, nil
}

type stubWallets struct {
	byChain map[types.ChainID][]*models.DepositWallet
	err     map[types.ChainID]error
}

func (s stubWallets) ListByChain(_ context.Context, chain types.ChainID) ([]*models.DepositWallet, error) {
	if err := s.err[chain]; err != nil {
		return nil, err
	}
	return s.byChain[chain], nil
}

type stubTracker struct {
	calls atomic.Int32
	err   error
}

func (s *stubTracker) PollPending(context.Context) (*tracker.PollStats, error) {
	s.calls.Add(1)
	return &tracker.PollStats{Checked: 2, Confirmed: 1, Pending: 1}, s.err
}

type stubLedger struct {
	calls atomic.Int32
}

func (s *stubLedger) RetryUnpriced(context.Context) (ledger.RetryStats, error) {
	s.calls.Add(1)
	return ledger.RetryStats{Pending: 3}, nil
}

func newMonitor(t *testing.T, wallets stubWallets, tr *stubTracker) (*Monitor, *stubScanner, *stubScanner, *stubLedger) {
	t.Helper()
	bsc := &stubScanner{chain: types.ChainBSC}
	tron := &stubScanner{chain: types.ChainTRON}
	lg := &stubLedger{}
	m, err := NewMonitor(Config{
		Scanners: []scanner.ChainScanner{bsc, tron},
		Wallets:  wallets,
		Tracker:  tr,
		Ledger:   lg,
		Interval: time.Hour,
	})
	require.NoError(t, err)
	return m, bsc, tron, lg
}

func TestRunCycle_ScansEveryChainAndRetries(t *testing.T) {
	wallets := stubWallets{byChain: map[types.ChainID][]*models.DepositWallet{
		types.ChainBSC:  {{ID: 1, Chain: types.ChainBSC}, {ID: 2, Chain: types.ChainBSC}},
		types.ChainTRON: {{ID: 3, Chain: types.ChainTRON}},
	}}
	tr := &stubTracker{}
	m, bsc, tron, lg := newMonitor(t, wallets, tr)

	report := m.RunCycle(context.Background())

	assert.Equal(t, []int64{1, 2}, bsc.seen)
	assert.Equal(t, []int64{3}, tron.seen)
	assert.Equal(t, 2, report.Chains[types.ChainBSC].Credited)
	assert.Equal(t, 1, report.Chains[types.ChainTRON].Wallets)
	assert.Equal(t, 1, report.Pending.Confirmed)
	assert.Equal(t, 3, report.Unpriced.Pending)
	assert.Empty(t, report.Errors)
	assert.Equal(t, int32(1), tr.calls.Load())
	assert.Equal(t, int32(1), lg.calls.Load())

	status := m.GetStatus()
	assert.Equal(t, 1, status.Cycles)
	assert.Same(t, report, status.LastCycle)
}

func TestRunCycle_FailuresAreReportedNotFatal(t *testing.T) {
	wallets := stubWallets{
		byChain: map[types.ChainID][]*models.DepositWallet{types.ChainTRON: {{ID: 7}}},
		err:     map[types.ChainID]error{types.ChainBSC: errors.New("db down")},
	}
	tr := &stubTracker{err: errors.New("rpc down")}
	m, _, tron, lg := newMonitor(t, wallets, tr)

	report := m.RunCycle(context.Background())

	assert.Len(t, report.Errors, 2)
	assert.Equal(t, []int64{7}, tron.seen)
	assert.Equal(t, int32(1), lg.calls.Load(), "unpriced retry still runs")
}

func TestMonitor_StartStop(t *testing.T) {
	tr := &stubTracker{}
	m, _, _, _ := newMonitor(t, stubWallets{}, tr)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.Error(t, m.Start(ctx), "double start")

	require.Eventually(t, func() bool { return m.GetStatus().Cycles >= 1 }, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, m.Stop(stopCtx))
	assert.False(t, m.GetStatus().Running)
	assert.Error(t, m.Stop(stopCtx))
}

func TestNewMonitor_Validation(t *testing.T) {
	_, err := NewMonitor(Config{})
	assert.Error(t, err)

	m, err := NewMonitor(Config{Wallets: stubWallets{}, Tracker: &stubTracker{}, Ledger: &stubLedger{}})
	require.NoError(t, err)
	assert.Equal(t, "1m0s", m.GetStatus().Interval)
}
