package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/retry"
)

func testRetry() *retry.Config {
	return &retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func newTestEtherscan(url string, pageSize int) *EtherscanClient {
	return NewEtherscanClient(EtherscanConfig{
		APIKey:            "key",
		BaseURL:           url,
		PageSize:          pageSize,
		RequestsPerSecond: 1000,
		Retry:             testRetry(),
	})
}

func TestEtherscanClient_TokenTransfersPaginates(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "tokentx", q.Get("action"))
		assert.Equal(t, "56", q.Get("chainid"))
		assert.Equal(t, "100", q.Get("startblock"))
		assert.Equal(t, "200", q.Get("endblock"))
		assert.Equal(t, "asc", q.Get("sort"))
		pages = append(pages, q.Get("page"))

		page, _ := strconv.Atoi(q.Get("page"))
		var rows []EtherscanTokenTransfer
		n := 2
		if page == 2 {
			n = 1
		}
		for i := 0; i < n; i++ {
			rows = append(rows, EtherscanTokenTransfer{Hash: fmt.Sprintf("0x%d%d", page, i), BlockNumber: "150", Value: "1"})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "1", "message": "OK", "result": rows})
	}))
	defer srv.Close()

	c := newTestEtherscan(srv.URL, 2)
	got, err := c.TokenTransfers(context.Background(), "0xabc", 100, 200)
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, []string{"1", "2"}, pages)
}

func TestEtherscanClient_NoTransactionsFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	}))
	defer srv.Close()

	got, err := newTestEtherscan(srv.URL, 100).NativeTransfers(context.Background(), "0xabc", 1, 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEtherscanClient_RetriesRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"hash":"0x1","isError":"0","txreceipt_status":"1","value":"5"}]}`))
	}))
	defer srv.Close()

	got, err := newTestEtherscan(srv.URL, 100).NativeTransfers(context.Background(), "0xabc", 1, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Succeeded())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEtherscanClient_NOTOKRateLimitIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Max rate limit reached"}`))
	}))
	defer srv.Close()

	_, err := newTestEtherscan(srv.URL, 100).TokenTransfers(context.Background(), "0xabc", 1, 2)
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))

	var adapterErr *AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, "TokenTransfers", adapterErr.Op)
}

func TestEtherscanClient_MissingAPIKey(t *testing.T) {
	c := NewEtherscanClient(EtherscanConfig{BaseURL: "http://127.0.0.1:0", Retry: testRetry()})
	_, err := c.TokenTransfers(context.Background(), "0xabc", 1, 2)
	assert.True(t, apperrors.HasCode(err, "CONFIGURATION_ERROR"))
}

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("50000000000000000000", 18)
	require.NoError(t, err)
	assert.Equal(t, "50", v.String())

	v, err = ParseUnits("1500000", 6)
	require.NoError(t, err)
	assert.Equal(t, "1.5", v.String())

	_, err = ParseUnits("-1", 6)
	assert.Error(t, err)
	_, err = ParseUnits("0x10", 6)
	assert.Error(t, err)

	assert.Equal(t, int32(18), ParseDecimals("", 18))
	assert.Equal(t, int32(6), ParseDecimals("6", 18))
	assert.Equal(t, "1500000", ToUnits(v.Add(v).Sub(v), 6).String())
}

type countingQuota struct {
	calls int32
	err   error
}

func (q *countingQuota) Wait(ctx context.Context) error {
	atomic.AddInt32(&q.calls, 1)
	return q.err
}

func TestEtherscanClient_WaitsForSharedQuota(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		_, _ = w.Write([]byte(`{"status":"0","message":"No transactions found","result":[]}`))
	}))
	defer srv.Close()

	quota := &countingQuota{}
	c := NewEtherscanClient(EtherscanConfig{
		APIKey:            "key",
		BaseURL:           srv.URL,
		RequestsPerSecond: 1000,
		Retry:             testRetry(),
		Quota:             quota,
	})
	_, err := c.NativeTransfers(context.Background(), "0xabc", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&quota.calls))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	quota.err = context.DeadlineExceeded
	_, err = c.NativeTransfers(context.Background(), "0xabc", 1, 2)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests), "no request without quota")
}
