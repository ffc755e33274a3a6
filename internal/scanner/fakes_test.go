package scanner

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/deposit-scanner/internal/adapter"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/ledger"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

type memCursors struct {
	mu      sync.Mutex
	cursors map[int64]types.ScanCursor
}

func newMemCursors() *memCursors {
	return &memCursors{cursors: map[int64]types.ScanCursor{}}
}

func (m *memCursors) GetCursor(_ context.Context, id int64) (types.ScanCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[id]
	if !ok {
		return types.ScanCursor{}, apperrors.NewNotFoundError("wallet", "")
	}
	return c, nil
}

func (m *memCursors) AdvanceCursor(_ context.Context, id int64, c types.ScanCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.cursors[id]
	if cur.Kind != c.Kind {
		return apperrors.NewInvalidParameterError("cursor", "kind mismatch")
	}
	m.cursors[id] = cur.Max(c)
	return nil
}

// countingLedger records each credit call and deduplicates on txid
type countingLedger struct {
	calls    map[string]int
	credited map[string]models.DetectedTransfer
	failOn   string
}

func newCountingLedger() *countingLedger {
	return &countingLedger{calls: map[string]int{}, credited: map[string]models.DetectedTransfer{}}
}

func (l *countingLedger) CreditDeposit(_ context.Context, _ *models.DepositWallet, t *models.DetectedTransfer) (ledger.Outcome, error) {
	if t.TxID == l.failOn {
		return "", errors.New("database unavailable")
	}
	l.calls[t.TxID]++
	if _, ok := l.credited[t.TxID]; ok {
		return ledger.OutcomeDuplicate, nil
	}
	l.credited[t.TxID] = *t
	return ledger.OutcomeCredited, nil
}

type fakeHead uint64

func (h fakeHead) BlockNumber(context.Context) (uint64, error) { return uint64(h), nil }

// fakeBSCExplorer serves fixed rows filtered to the requested block range
type fakeBSCExplorer struct {
	tokens  []adapter.EtherscanTokenTransfer
	natives []adapter.EtherscanTransaction
	windows [][2]uint64
	err     error
}

func (f *fakeBSCExplorer) TokenTransfers(_ context.Context, _ string, start, end uint64) ([]adapter.EtherscanTokenTransfer, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.windows = append(f.windows, [2]uint64{start, end})
	var out []adapter.EtherscanTokenTransfer
	for _, t := range f.tokens {
		if b := mustBlock(t.BlockNumber); b >= start && b <= end {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeBSCExplorer) NativeTransfers(_ context.Context, _ string, start, end uint64) ([]adapter.EtherscanTransaction, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []adapter.EtherscanTransaction
	for _, t := range f.natives {
		if b := mustBlock(t.BlockNumber); b >= start && b <= end {
			out = append(out, t)
		}
	}
	return out, nil
}

func mustBlock(s string) uint64 {
	b, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		panic(err)
	}
	return b
}

// fakeTronExplorer serves fixed ascending rows. pageBudget, when set,
// truncates each listing to that many rows and reports more.
type fakeTronExplorer struct {
	tokens     []adapter.TronGridTRC20Transfer
	natives    []adapter.TronGridTransaction
	pageBudget int
	minTs      []int64
}

func (f *fakeTronExplorer) TRC20Transfers(_ context.Context, _, _ string, minTs int64) ([]adapter.TronGridTRC20Transfer, bool, error) {
	f.minTs = append(f.minTs, minTs)
	var out []adapter.TronGridTRC20Transfer
	for _, t := range f.tokens {
		if t.BlockTimestamp >= minTs {
			out = append(out, t)
		}
	}
	if f.pageBudget > 0 && len(out) > f.pageBudget {
		return out[:f.pageBudget], true, nil
	}
	return out, false, nil
}

func (f *fakeTronExplorer) NativeTransfers(_ context.Context, _ string, minTs int64) ([]adapter.TronGridTransaction, bool, error) {
	var out []adapter.TronGridTransaction
	for _, t := range f.natives {
		if t.BlockTimestamp >= minTs {
			out = append(out, t)
		}
	}
	if f.pageBudget > 0 && len(out) > f.pageBudget {
		return out[:f.pageBudget], true, nil
	}
	return out, false, nil
}

type listWallets []*models.DepositWallet

func (l listWallets) ListByChain(_ context.Context, chain types.ChainID) ([]*models.DepositWallet, error) {
	var out []*models.DepositWallet
	for _, w := range l {
		if w.Chain == chain {
			out = append(out, w)
		}
	}
	return out, nil
}

type recordingArchive struct {
	rows []models.DetectedTransfer
}

func (a *recordingArchive) Archive(_ context.Context, _ *models.DepositWallet, t []models.DetectedTransfer) error {
	a.rows = append(a.rows, t...)
	return errors.New("clickhouse down")
}

// ledgerMemStore backs a real DepositLedger for end-to-end scans
type ledgerMemStore struct {
	entries map[string]*models.LedgerTransaction
	balance decimal.Decimal
}

func (s *ledgerMemStore) ExistsByTxID(_ context.Context, txid string) (bool, error) {
	_, ok := s.entries[txid]
	return ok, nil
}

func (s *ledgerMemStore) CreditDeposit(_ context.Context, e *models.LedgerTransaction) (bool, error) {
	if _, ok := s.entries[e.Metadata.TxID]; ok {
		return false, nil
	}
	s.entries[e.Metadata.TxID] = e
	s.balance = s.balance.Add(e.Amount)
	return true, nil
}

type noQueue struct{}

func (noQueue) Enqueue(context.Context, int64, *models.DetectedTransfer, string) error { return nil }
func (noQueue) List(context.Context, int) ([]*models.UnpricedDeposit, error)         { return nil, nil }
func (noQueue) Delete(context.Context, string) error                                 { return nil }
func (noQueue) RecordAttempt(context.Context, string, string) error                  { return nil }

type noWallets struct{}

func (noWallets) GetByID(context.Context, int64) (*models.DepositWallet, error) {
	return nil, apperrors.NewNotFoundError("wallet", "")
}

type noPrices struct{}

func (noPrices) Snapshot() *models.PriceSnapshot { return nil }
