package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deposit-scanner/internal/types"
)

func TestTronGridClient_TRC20FollowsFingerprint(t *testing.T) {
	var seenKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenKey = r.Header.Get("TRON-PRO-API-KEY")
		assert.Equal(t, "/v1/accounts/TWallet/transactions/trc20", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("only_to"))
		assert.Equal(t, "1700000000000", q.Get("min_timestamp"))

		if q.Get("fingerprint") == "" {
			_, _ = w.Write([]byte(`{"success":true,"data":[{"transaction_id":"a","block_timestamp":1700000000001,"value":"1000000","to":"TWallet","token_info":{"decimals":6}}],"meta":{"fingerprint":"next"}}`))
			return
		}
		assert.Equal(t, "next", q.Get("fingerprint"))
		_, _ = w.Write([]byte(`{"success":true,"data":[{"transaction_id":"b","block_timestamp":1700000000002,"value":"2000000","to":"TWallet","token_info":{"decimals":6}}],"meta":{}}`))
	}))
	defer srv.Close()

	c := NewTronGridClient(TronGridConfig{APIKey: "k", BaseURL: srv.URL, RequestsPerSecond: 1000, Retry: testRetry()})
	got, more, err := c.TRC20Transfers(context.Background(), "TWallet", "TUSDT", 1700000000000)
	require.NoError(t, err)
	assert.False(t, more)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].TransactionID)
	assert.Equal(t, "b", got[1].TransactionID)
	assert.Equal(t, "k", seenKey)
}

func TestTronGridClient_UnsuccessfulPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"boom","data":[]}`))
	}))
	defer srv.Close()

	c := NewTronGridClient(TronGridConfig{BaseURL: srv.URL, RequestsPerSecond: 1000, Retry: testRetry()})
	_, _, err := c.NativeTransfers(context.Background(), "TWallet", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestTronGridClient_PageBudgetKeepsFetchedRows(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprintf(w, `{"success":true,"data":[{"transaction_id":"tx%d","block_timestamp":%d,"value":"1","to":"TWallet","token_info":{"decimals":6}}],"meta":{"fingerprint":"f%d"}}`,
			requests, 1700000000000+int64(requests), requests)
	}))
	defer srv.Close()

	c := NewTronGridClient(TronGridConfig{BaseURL: srv.URL, MaxPages: 3, RequestsPerSecond: 1000, Retry: testRetry()})
	got, more, err := c.TRC20Transfers(context.Background(), "TWallet", "TUSDT", 0)
	require.NoError(t, err)
	assert.True(t, more)
	assert.Equal(t, 3, requests)
	require.Len(t, got, 3)
	assert.Equal(t, "tx1", got[0].TransactionID)
	assert.Equal(t, int64(1700000000003), got[2].BlockTimestamp)
}

func TestTronGridTransaction_AsNativeTransfer(t *testing.T) {
	tx := TronGridTransaction{TxID: "x"}
	tx.Ret = append(tx.Ret, struct {
		ContractRet string `json:"contractRet"`
	}{ContractRet: "SUCCESS"})
	tx.RawData.Contract = make([]struct {
		Type      string `json:"type"`
		Parameter struct {
			Value struct {
				Amount       int64  `json:"amount"`
				OwnerAddress string `json:"owner_address"`
				ToAddress    string `json:"to_address"`
			} `json:"value"`
		} `json:"parameter"`
	}, 1)
	tx.RawData.Contract[0].Type = "TransferContract"
	tx.RawData.Contract[0].Parameter.Value.Amount = 5_000_000
	tx.RawData.Contract[0].Parameter.Value.OwnerAddress = "TFrom"
	tx.RawData.Contract[0].Parameter.Value.ToAddress = "TTo"

	nt, ok := tx.AsNativeTransfer()
	require.True(t, ok)
	assert.Equal(t, int64(5_000_000), nt.AmountSun)
	assert.Equal(t, "TTo", nt.To)

	tx.Ret[0].ContractRet = "REVERT"
	_, ok = tx.AsNativeTransfer()
	assert.False(t, ok)

	tx.Ret[0].ContractRet = "SUCCESS"
	tx.RawData.Contract[0].Type = "TriggerSmartContract"
	_, ok = tx.AsNativeTransfer()
	assert.False(t, ok)
}

func TestTronReceipt(t *testing.T) {
	assert.Equal(t, types.ReceiptNotFound, tronReceipt(nil).Status)
	assert.Equal(t, types.ReceiptNotFound, tronReceipt(&core.TransactionInfo{}).Status)

	ok := tronReceipt(&core.TransactionInfo{BlockNumber: 10, Receipt: &core.ResourceReceipt{Result: core.Transaction_Result_SUCCESS}})
	assert.Equal(t, types.ReceiptSuccess, ok.Status)
	assert.Equal(t, uint64(10), ok.BlockNumber)

	native := tronReceipt(&core.TransactionInfo{BlockNumber: 10, Receipt: &core.ResourceReceipt{}})
	assert.Equal(t, types.ReceiptSuccess, native.Status)

	reverted := tronReceipt(&core.TransactionInfo{BlockNumber: 10, Receipt: &core.ResourceReceipt{Result: core.Transaction_Result_REVERT}})
	assert.Equal(t, types.ReceiptFailed, reverted.Status)

	failed := tronReceipt(&core.TransactionInfo{BlockNumber: 10, Result: core.TransactionInfo_FAILED})
	assert.Equal(t, types.ReceiptFailed, failed.Status)
}

func TestRPCProvider_Failover(t *testing.T) {
	p, err := NewRPCProvider("http://a", "http://b")
	require.NoError(t, err)

	next, err := p.Failover()
	require.NoError(t, err)
	assert.Equal(t, "http://b", next)
	next, _ = p.Failover()
	assert.Equal(t, "http://a", next)

	single, _ := NewRPCProvider("http://a", "")
	_, err = single.Failover()
	assert.Error(t, err)

	_, err = NewRPCProvider("", "")
	assert.Error(t, err)
}

func TestShouldFailover(t *testing.T) {
	assert.True(t, shouldFailover(fmt.Errorf("dial tcp: connection refused")))
	assert.True(t, shouldFailover(fmt.Errorf("503 Service Unavailable")))
	assert.False(t, shouldFailover(fmt.Errorf("execution reverted")))
	assert.False(t, shouldFailover(nil))
}
