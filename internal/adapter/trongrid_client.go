package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"golang.org/x/time/rate"

	"github.com/deposit-scanner/internal/circuitbreaker"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/retry"
	"github.com/deposit-scanner/internal/types"
)

const trongridProvider = "trongrid"

// defaultMaxTronGridPages bounds a single listing so a hostile account
// cannot pin a scan forever
const defaultMaxTronGridPages = 50

// TronGridClient reads TRON account history from the TronGrid v1 REST API
type TronGridClient struct {
	apiKey   string
	baseURL  string
	limit    int
	maxPages int
	client   *http.Client
	limiter  *rate.Limiter
	quota    Quota
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg *retry.Config
}

// TronGridConfig configures a TronGridClient
type TronGridConfig struct {
	APIKey            string
	BaseURL           string
	PageLimit         int
	MaxPages          int
	RequestsPerSecond float64
	Timeout           time.Duration
	Breaker           *circuitbreaker.CircuitBreaker
	Retry             *retry.Config
	Quota             Quota
}

// TronGridTRC20Transfer is a row of /v1/accounts/{a}/transactions/trc20
type TronGridTRC20Transfer struct {
	TransactionID  string `json:"transaction_id"`
	BlockTimestamp int64  `json:"block_timestamp"`
	From           string `json:"from"`
	To             string `json:"to"`
	Type           string `json:"type"`
	Value          string `json:"value"`
	TokenInfo      struct {
		Symbol   string `json:"symbol"`
		Address  string `json:"address"`
		Decimals int32  `json:"decimals"`
		Name     string `json:"name"`
	} `json:"token_info"`
}

// TronGridTransaction is a row of /v1/accounts/{a}/transactions
type TronGridTransaction struct {
	TxID           string `json:"txID"`
	BlockNumber    int64  `json:"blockNumber"`
	BlockTimestamp int64  `json:"block_timestamp"`
	Ret            []struct {
		ContractRet string `json:"contractRet"`
	} `json:"ret"`
	RawData struct {
		Contract []struct {
			Type      string `json:"type"`
			Parameter struct {
				Value struct {
					Amount       int64  `json:"amount"`
					OwnerAddress string `json:"owner_address"`
					ToAddress    string `json:"to_address"`
				} `json:"value"`
			} `json:"parameter"`
		} `json:"contract"`
	} `json:"raw_data"`
}

// NativeTransfer is the decoded TransferContract of a transaction
type NativeTransfer struct {
	From      string
	To        string
	AmountSun int64
}

// AsNativeTransfer returns the TRX transfer carried by tx, if tx is a
// successful single TransferContract
func (tx *TronGridTransaction) AsNativeTransfer() (NativeTransfer, bool) {
	if len(tx.RawData.Contract) != 1 || tx.RawData.Contract[0].Type != "TransferContract" {
		return NativeTransfer{}, false
	}
	if len(tx.Ret) == 0 || tx.Ret[0].ContractRet != "SUCCESS" {
		return NativeTransfer{}, false
	}
	v := tx.RawData.Contract[0].Parameter.Value
	return NativeTransfer{
		From:      tronHexToBase58(v.OwnerAddress),
		To:        tronHexToBase58(v.ToAddress),
		AmountSun: v.Amount,
	}, true
}

// tronHexToBase58 renders a 41-prefixed hex address as base58check. Already
// base58 input is returned unchanged.
func tronHexToBase58(s string) string {
	if strings.HasPrefix(s, "T") {
		return s
	}
	return address.HexToAddress(s).String()
}

type tronGridPage struct {
	Data    json.RawMessage `json:"data"`
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Meta    struct {
		At          int64  `json:"at"`
		Fingerprint string `json:"fingerprint"`
		PageSize    int    `json:"page_size"`
	} `json:"meta"`
}

// NewTronGridClient creates a TronGrid client
func NewTronGridClient(cfg TronGridConfig) *TronGridClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.trongrid.io"
	}
	if cfg.PageLimit <= 0 || cfg.PageLimit > 200 {
		cfg.PageLimit = 200
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxTronGridPages
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(trongridProvider))
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}

	return &TronGridClient{
		apiKey:   cfg.APIKey,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		limit:    cfg.PageLimit,
		maxPages: cfg.MaxPages,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breaker:  cfg.Breaker,
		quota:    cfg.Quota,
		retryCfg: cfg.Retry,
	}
}

// TRC20Transfers returns inbound transfers of one TRC20 contract in
// ascending block_timestamp order. more reports that the page budget ran
// out before the listing ended; the rows returned are still valid.
func (c *TronGridClient) TRC20Transfers(ctx context.Context, addr, contract string, minTimestampMs int64) ([]TronGridTRC20Transfer, bool, error) {
	params := url.Values{}
	params.Set("contract_address", contract)
	params.Set("only_to", "true")
	params.Set("only_confirmed", "true")
	params.Set("min_timestamp", strconv.FormatInt(minTimestampMs, 10))
	params.Set("order_by", "block_timestamp,asc")

	var out []TronGridTRC20Transfer
	more, err := c.paginate(ctx, "/v1/accounts/"+url.PathEscape(addr)+"/transactions/trc20", params, func(raw json.RawMessage) error {
		var page []TronGridTRC20Transfer
		if err := json.Unmarshal(raw, &page); err != nil {
			return apperrors.NewDataError("malformed trc20 page", err)
		}
		out = append(out, page...)
		return nil
	})
	if err != nil {
		return nil, false, NewAdapterError(types.ChainTRON, "TRC20Transfers", err, map[string]interface{}{
			"address": addr, "minTimestamp": minTimestampMs,
		})
	}
	return out, more, nil
}

// NativeTransfers returns inbound transactions of addr, with more as in
// TRC20Transfers. Callers filter to TransferContract with AsNativeTransfer.
func (c *TronGridClient) NativeTransfers(ctx context.Context, addr string, minTimestampMs int64) ([]TronGridTransaction, bool, error) {
	params := url.Values{}
	params.Set("only_to", "true")
	params.Set("only_confirmed", "true")
	params.Set("min_timestamp", strconv.FormatInt(minTimestampMs, 10))
	params.Set("order_by", "block_timestamp,asc")

	var out []TronGridTransaction
	more, err := c.paginate(ctx, "/v1/accounts/"+url.PathEscape(addr)+"/transactions", params, func(raw json.RawMessage) error {
		var page []TronGridTransaction
		if err := json.Unmarshal(raw, &page); err != nil {
			return apperrors.NewDataError("malformed transactions page", err)
		}
		out = append(out, page...)
		return nil
	})
	if err != nil {
		return nil, false, NewAdapterError(types.ChainTRON, "NativeTransfers", err, map[string]interface{}{
			"address": addr, "minTimestamp": minTimestampMs,
		})
	}
	return out, more, nil
}

// paginate follows meta.fingerprint until the last page or the page
// budget. It reports true when pages remain unread.
func (c *TronGridClient) paginate(ctx context.Context, path string, params url.Values, consume func(json.RawMessage) error) (bool, error) {
	params.Set("limit", strconv.Itoa(c.limit))

	for i := 0; i < c.maxPages; i++ {
		var page tronGridPage
		err := retry.Do(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
			p, err := c.call(ctx, c.baseURL+path+"?"+params.Encode())
			page = p
			return err
		})
		if err != nil {
			return false, err
		}
		if len(page.Data) > 0 {
			if err := consume(page.Data); err != nil {
				return false, err
			}
		}
		if page.Meta.Fingerprint == "" {
			return false, nil
		}
		params.Set("fingerprint", page.Meta.Fingerprint)
	}
	return true, nil
}

func (c *TronGridClient) call(ctx context.Context, rawURL string) (tronGridPage, error) {
	var page tronGridPage
	if err := c.limiter.Wait(ctx); err != nil {
		return page, err
	}
	if c.quota != nil {
		if err := c.quota.Wait(ctx); err != nil {
			return page, err
		}
	}

	header := http.Header{}
	if c.apiKey != "" {
		header.Set("TRON-PRO-API-KEY", c.apiKey)
	}

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		body, err := doExplorerGet(ctx, c.client, trongridProvider, rawURL, header)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return apperrors.NewProviderError(trongridProvider, fmt.Errorf("failed to parse response: %w", err))
		}
		return nil
	})
	if err != nil {
		return page, err
	}
	if !page.Success {
		return page, apperrors.NewProviderError(trongridProvider, fmt.Errorf("request unsuccessful: %s", page.Error))
	}
	return page, nil
}

var _ TronExplorer = (*TronGridClient)(nil)
