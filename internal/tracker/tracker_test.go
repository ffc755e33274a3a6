package tracker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deposit-scanner/internal/adapter"
	"github.com/deposit-scanner/internal/adapter/adaptertest"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

type memPending struct {
	rows    map[string]*models.PendingOutboundTx
	touched map[string]int
}

func newMemPending(rows ...*models.PendingOutboundTx) *memPending {
	m := &memPending{rows: map[string]*models.PendingOutboundTx{}, touched: map[string]int{}}
	for _, r := range rows {
		m.rows[r.TxHash] = r
	}
	return m
}

func (m *memPending) ListPending(context.Context, int) ([]*models.PendingOutboundTx, error) {
	var out []*models.PendingOutboundTx
	for _, r := range m.rows {
		if r.Status == types.OutboundPending {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memPending) MarkStatus(_ context.Context, hash string, status types.OutboundStatus) (bool, error) {
	r, ok := m.rows[hash]
	if !ok || r.Status != types.OutboundPending {
		return false, nil
	}
	r.Status = status
	return true, nil
}

func (m *memPending) TouchLastChecked(_ context.Context, hash string) error {
	m.touched[hash]++
	return nil
}

type brokenSource struct{}

func (brokenSource) Receipt(context.Context, string) (adapter.Receipt, error) {
	return adapter.Receipt{}, errors.New("node unavailable")
}

func pending(hash string, chain types.ChainID) *models.PendingOutboundTx {
	return &models.PendingOutboundTx{TxHash: hash, Chain: chain, Type: types.OutboundUSDTSweep, Status: types.OutboundPending}
}

func TestPollPending(t *testing.T) {
	bsc := adaptertest.NewBSCNode()
	bsc.Mine("0xok", 100, types.ReceiptSuccess)
	bsc.Mine("0xreverted", 101, types.ReceiptFailed)
	tron := adaptertest.NewTronNode()
	tron.Receipts["abc"] = adapter.Receipt{Status: types.ReceiptSuccess, BlockNumber: 5}

	store := newMemPending(
		pending("0xok", types.ChainBSC),
		pending("0xreverted", types.ChainBSC),
		pending("0xunmined", types.ChainBSC),
		pending("abc", types.ChainTRON),
	)

	tr := New(store, map[types.ChainID]adapter.ReceiptSource{types.ChainBSC: bsc, types.ChainTRON: tron}, 0)
	stats, err := tr.PollPending(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Checked)
	assert.Equal(t, 2, stats.Confirmed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Pending)

	assert.Equal(t, types.OutboundConfirmed, store.rows["0xok"].Status)
	assert.Equal(t, types.OutboundFailed, store.rows["0xreverted"].Status)
	assert.Equal(t, types.OutboundPending, store.rows["0xunmined"].Status)
	assert.Equal(t, types.OutboundConfirmed, store.rows["abc"].Status)
	assert.Equal(t, 1, store.touched["0xunmined"])

	// settled rows are not revisited
	stats, err = tr.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Checked)
}

func TestPollPending_LookupErrorKeepsRowPending(t *testing.T) {
	store := newMemPending(pending("0xa", types.ChainBSC), pending("0xb", types.ChainTRON))
	tr := New(store, map[types.ChainID]adapter.ReceiptSource{types.ChainBSC: brokenSource{}}, 0)

	stats, err := tr.PollPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Errors)
	assert.Equal(t, types.OutboundPending, store.rows["0xa"].Status)
	assert.Empty(t, store.touched)
}

func TestOutboundStatus(t *testing.T) {
	s, ok := outboundStatus(types.ReceiptNotFound)
	assert.False(t, ok)
	assert.Equal(t, types.OutboundPending, s)

	s, ok = outboundStatus(types.ReceiptFailed)
	assert.True(t, ok)
	assert.Equal(t, types.OutboundFailed, s)
}
