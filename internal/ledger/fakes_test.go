package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/models"
)

// memStore mimics the unique txid index and the balance update
type memStore struct {
	mu       sync.Mutex
	entries  map[string]*models.LedgerTransaction
	balances map[int64]decimal.Decimal
	failNext error
}

func newMemStore() *memStore {
	return &memStore{entries: map[string]*models.LedgerTransaction{}, balances: map[int64]decimal.Decimal{}}
}

func (m *memStore) ExistsByTxID(_ context.Context, txid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[txid]
	return ok, nil
}

func (m *memStore) CreditDeposit(_ context.Context, e *models.LedgerTransaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return false, err
	}
	if _, ok := m.entries[e.Metadata.TxID]; ok {
		return false, nil
	}
	m.entries[e.Metadata.TxID] = e
	m.balances[e.UserID] = m.balances[e.UserID].Add(e.Amount)
	return true, nil
}

type memQueue struct {
	rows     map[string]*models.UnpricedDeposit
	attempts map[string]int
}

func newMemQueue() *memQueue {
	return &memQueue{rows: map[string]*models.UnpricedDeposit{}, attempts: map[string]int{}}
}

func (q *memQueue) Enqueue(_ context.Context, walletID int64, t *models.DetectedTransfer, reason string) error {
	if _, ok := q.rows[t.TxID]; ok {
		return nil
	}
	q.rows[t.TxID] = &models.UnpricedDeposit{Transfer: *t, WalletID: walletID, LastError: reason}
	return nil
}

func (q *memQueue) List(context.Context, int) ([]*models.UnpricedDeposit, error) {
	out := make([]*models.UnpricedDeposit, 0, len(q.rows))
	for _, r := range q.rows {
		out = append(out, r)
	}
	return out, nil
}

func (q *memQueue) Delete(_ context.Context, txid string) error {
	delete(q.rows, txid)
	return nil
}

func (q *memQueue) RecordAttempt(_ context.Context, txid, _ string) error {
	q.attempts[txid]++
	return nil
}

type memWallets map[int64]*models.DepositWallet

func (w memWallets) GetByID(_ context.Context, id int64) (*models.DepositWallet, error) {
	if wallet, ok := w[id]; ok {
		return wallet, nil
	}
	return nil, apperrors.NewNotFoundError("wallet", "")
}

type staticPrices struct {
	snap *models.PriceSnapshot
}

func (s *staticPrices) Snapshot() *models.PriceSnapshot { return s.snap }

type recordingNotifier struct {
	sent []string
	err  error
}

func (r *recordingNotifier) DepositCredited(_ context.Context, e *models.LedgerTransaction) error {
	r.sent = append(r.sent, e.Metadata.TxID)
	return r.err
}

var errBoom = errors.New("boom")
