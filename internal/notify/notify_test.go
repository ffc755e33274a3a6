package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

type staticChats map[int64]int64

func (s staticChats) TelegramID(_ context.Context, userID int64) (int64, error) {
	return s[userID], nil
}

func TestTelegram_DepositCredited(t *testing.T) {
	var sent []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"miner","username":"miner_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "4242", r.PostForm.Get("chat_id"))
			sent = append(sent, r.PostForm.Get("text"))
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":4242,"type":"private"}}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	tg, err := NewTelegram("token", srv.URL+"/bot%s/%s", staticChats{7: 4242})
	require.NoError(t, err)

	err = tg.DepositCredited(context.Background(), &models.LedgerTransaction{
		UserID:   7,
		Amount:   decimal.RequireFromString("61.25"),
		Currency: types.CurrencyUSDT,
		Metadata: models.LedgerMetadata{
			TxID:             "0xabc",
			Chain:            types.ChainBSC,
			OriginalAmount:   decimal.RequireFromString("0.1"),
			OriginalCurrency: types.CurrencyBNB,
		},
	})
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "0.1 BNB")
	assert.Contains(t, sent[0], "61.25 USDT")
}

func TestDepositText_Stablecoin(t *testing.T) {
	text := depositText(&models.LedgerTransaction{
		Amount:   decimal.NewFromInt(50),
		Currency: types.CurrencyUSDT,
		Metadata: models.LedgerMetadata{Chain: types.ChainTRON, OriginalCurrency: types.CurrencyUSDT},
	})
	assert.Contains(t, text, "50 USDT")
	assert.Contains(t, text, "TRON")
}
