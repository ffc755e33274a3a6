package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/deposit-scanner/internal/circuitbreaker"
	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/retry"
	"github.com/deposit-scanner/internal/types"
)

const etherscanProvider = "bscscan"

// EtherscanClient reads BSC account history through the Etherscan v2
// multichain API (chainid=56)
type EtherscanClient struct {
	apiKey   string
	baseURL  string
	chainID  int
	pageSize int
	client   *http.Client
	limiter  *rate.Limiter
	quota    Quota
	breaker  *circuitbreaker.CircuitBreaker
	retryCfg *retry.Config
}

// EtherscanConfig configures an EtherscanClient
type EtherscanConfig struct {
	APIKey            string
	BaseURL           string
	ChainID           int
	PageSize          int
	RequestsPerSecond float64
	Timeout           time.Duration
	Breaker           *circuitbreaker.CircuitBreaker
	Retry             *retry.Config
	Quota             Quota
}

// EtherscanTransaction is a normal transaction row from action=txlist
type EtherscanTransaction struct {
	Hash            string `json:"hash"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	IsError         string `json:"isError"`
	TxReceiptStatus string `json:"txreceipt_status"`
	Input           string `json:"input"`
	ContractAddress string `json:"contractAddress"`
}

// Succeeded reports whether the explorer marks the transaction successful
func (tx *EtherscanTransaction) Succeeded() bool {
	return tx.IsError == "0" && (tx.TxReceiptStatus == "" || tx.TxReceiptStatus == "1")
}

// EtherscanTokenTransfer is a BEP-20 transfer row from action=tokentx
type EtherscanTokenTransfer struct {
	Hash            string `json:"hash"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	ContractAddress string `json:"contractAddress"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	LogIndex        string `json:"logIndex"`
}

type etherscanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// NewEtherscanClient creates a new Etherscan API client
func NewEtherscanClient(cfg EtherscanConfig) *EtherscanClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.etherscan.io/v2/api"
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 56
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.RequestsPerSecond <= 0 {
		// free tier
		cfg.RequestsPerSecond = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(etherscanProvider))
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultConfig()
	}

	return &EtherscanClient{
		apiKey:   cfg.APIKey,
		baseURL:  cfg.BaseURL,
		chainID:  cfg.ChainID,
		pageSize: cfg.PageSize,
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		breaker:  cfg.Breaker,
		quota:    cfg.Quota,
		retryCfg: cfg.Retry,
	}
}

// TokenTransfers returns every BEP-20 transfer touching address in
// [startBlock, endBlock], ascending
func (c *EtherscanClient) TokenTransfers(ctx context.Context, address string, startBlock, endBlock uint64) ([]EtherscanTokenTransfer, error) {
	var out []EtherscanTokenTransfer
	err := c.paginate(ctx, "tokentx", address, startBlock, endBlock, func(raw json.RawMessage) (int, error) {
		var page []EtherscanTokenTransfer
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, apperrors.NewDataError("malformed tokentx result", err)
		}
		out = append(out, page...)
		return len(page), nil
	})
	if err != nil {
		return nil, NewAdapterError(types.ChainBSC, "TokenTransfers", err, map[string]interface{}{
			"address": address, "startBlock": startBlock, "endBlock": endBlock,
		})
	}
	return out, nil
}

// NativeTransfers returns every normal transaction touching address in
// [startBlock, endBlock], ascending
func (c *EtherscanClient) NativeTransfers(ctx context.Context, address string, startBlock, endBlock uint64) ([]EtherscanTransaction, error) {
	var out []EtherscanTransaction
	err := c.paginate(ctx, "txlist", address, startBlock, endBlock, func(raw json.RawMessage) (int, error) {
		var page []EtherscanTransaction
		if err := json.Unmarshal(raw, &page); err != nil {
			return 0, apperrors.NewDataError("malformed txlist result", err)
		}
		out = append(out, page...)
		return len(page), nil
	})
	if err != nil {
		return nil, NewAdapterError(types.ChainBSC, "NativeTransfers", err, map[string]interface{}{
			"address": address, "startBlock": startBlock, "endBlock": endBlock,
		})
	}
	return out, nil
}

// paginate walks page=1..n until a short page. Each page is retried
// independently so a transient failure does not refetch earlier pages.
func (c *EtherscanClient) paginate(ctx context.Context, action, address string, startBlock, endBlock uint64, consume func(json.RawMessage) (int, error)) error {
	if c.apiKey == "" {
		return apperrors.NewConfigurationError("BSC explorer API key not configured")
	}

	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("chainid", strconv.Itoa(c.chainID))
		params.Set("module", "account")
		params.Set("action", action)
		params.Set("address", address)
		params.Set("startblock", strconv.FormatUint(startBlock, 10))
		params.Set("endblock", strconv.FormatUint(endBlock, 10))
		params.Set("page", strconv.Itoa(page))
		params.Set("offset", strconv.Itoa(c.pageSize))
		params.Set("sort", "asc")
		params.Set("apikey", c.apiKey)

		var result json.RawMessage
		err := retry.Do(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
			r, err := c.call(ctx, params)
			result = r
			return err
		})
		if err != nil {
			return err
		}
		if result == nil {
			return nil
		}

		n, err := consume(result)
		if err != nil {
			return err
		}
		if n < c.pageSize {
			return nil
		}
	}
}

// call performs one throttled, breaker-guarded request and interprets the
// Etherscan status envelope. A nil result with nil error means no rows.
func (c *EtherscanClient) call(ctx context.Context, params url.Values) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if c.quota != nil {
		if err := c.quota.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var env etherscanEnvelope
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		body, err := c.doRequest(ctx, c.baseURL+"?"+params.Encode())
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return apperrors.NewProviderError(etherscanProvider, fmt.Errorf("failed to parse response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if env.Status == "1" {
		return env.Result, nil
	}

	result := string(env.Result)
	switch {
	case env.Message == "No transactions found" || env.Message == "No records found":
		return nil, nil
	case strings.Contains(result, "No record") || strings.Contains(result, "No transactions"):
		return nil, nil
	case strings.Contains(strings.ToLower(result), "rate limit"):
		return nil, apperrors.NewProviderRateLimitError(etherscanProvider)
	case strings.Contains(result, "Invalid API Key") || strings.Contains(result, "Missing/Invalid API Key"):
		return nil, apperrors.NewConfigurationError("BSC explorer rejected the API key")
	default:
		// NOTOK on the free tier is usually transient
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"action":  params.Get("action"),
			"message": env.Message,
			"result":  truncate(result, 120),
		}).Debug("Explorer returned NOTOK")
		return nil, apperrors.NewProviderError(etherscanProvider, fmt.Errorf("%s: %s", env.Message, truncate(result, 120)))
	}
}

// doRequest performs a single HTTP GET and maps transport failures onto the
// error taxonomy. Retrying is the caller's job.
func (c *EtherscanClient) doRequest(ctx context.Context, rawURL string) ([]byte, error) {
	return doExplorerGet(ctx, c.client, etherscanProvider, rawURL, nil)
}

// doExplorerGet is shared by the explorer clients
func doExplorerGet(ctx context.Context, client *http.Client, provider, rawURL string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewProviderError(provider, fmt.Errorf("failed to make request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewProviderError(provider, fmt.Errorf("failed to read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.NewProviderRateLimitError(provider)
	case resp.StatusCode >= 500:
		return nil, apperrors.NewProviderError(provider, fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 120)))
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.NewDataError(fmt.Sprintf("%s HTTP %d", provider, resp.StatusCode), fmt.Errorf("%s", truncate(string(body), 200)))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ BSCExplorer = (*EtherscanClient)(nil)
