package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	apperrors "github.com/deposit-scanner/internal/errors"
	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/retry"
	"github.com/deposit-scanner/internal/types"
)

const oracleProvider = "binance"

// Oracle fetches fresh quotes
type Oracle interface {
	Fetch(ctx context.Context, currencies []types.Currency) (*models.PriceSnapshot, error)
}

// BinanceOracle reads spot prices from the Binance public ticker endpoint
type BinanceOracle struct {
	baseURL  string
	client   *http.Client
	retryCfg *retry.Config
	now      func() time.Time
}

// NewBinanceOracle creates an oracle against baseURL
func NewBinanceOracle(baseURL string, timeout time.Duration, retryCfg *retry.Config) *BinanceOracle {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	return &BinanceOracle{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		retryCfg: retryCfg,
		now:      time.Now,
	}
}

type binanceTicker struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Fetch quotes every currency against USDT. Stablecoins are not queried.
func (o *BinanceOracle) Fetch(ctx context.Context, currencies []types.Currency) (*models.PriceSnapshot, error) {
	symbols := make([]string, 0, len(currencies))
	bySymbol := make(map[string]types.Currency, len(currencies))
	for _, c := range currencies {
		if c.IsStable() {
			continue
		}
		sym := string(c) + "USDT"
		symbols = append(symbols, sym)
		bySymbol[sym] = c
	}

	snap := &models.PriceSnapshot{
		Prices:    make(map[types.Currency]decimal.Decimal, len(symbols)),
		FetchedAt: o.now().UTC(),
	}
	if len(symbols) == 0 {
		return snap, nil
	}

	encoded, err := json.Marshal(symbols)
	if err != nil {
		return nil, err
	}
	reqURL := o.baseURL + "/api/v3/ticker/price?symbols=" + url.QueryEscape(string(encoded))

	var tickers []binanceTicker
	err = retry.Do(ctx, o.retryCfg, func(ctx context.Context, attempt int) error {
		t, err := o.get(ctx, reqURL)
		tickers = t
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, t := range tickers {
		c, ok := bySymbol[t.Symbol]
		if !ok {
			continue
		}
		p, err := decimal.NewFromString(t.Price)
		if err != nil || !p.IsPositive() {
			return nil, apperrors.NewDataError(fmt.Sprintf("bad price for %s: %q", t.Symbol, t.Price), err)
		}
		snap.Prices[c] = p
	}
	return snap, nil
}

func (o *BinanceOracle) get(ctx context.Context, reqURL string) ([]binanceTicker, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.NewProviderError(oracleProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewProviderError(oracleProvider, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot:
		return nil, apperrors.NewProviderRateLimitError(oracleProvider)
	case resp.StatusCode >= 500:
		return nil, apperrors.NewProviderError(oracleProvider, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.NewDataError(fmt.Sprintf("%s HTTP %d", oracleProvider, resp.StatusCode), fmt.Errorf("%s", body))
	}

	var tickers []binanceTicker
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, apperrors.NewProviderError(oracleProvider, fmt.Errorf("failed to parse response: %w", err))
	}
	return tickers, nil
}
