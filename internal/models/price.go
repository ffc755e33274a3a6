package models

import (
	"time"

	"github.com/deposit-scanner/internal/types"
	"github.com/shopspring/decimal"
)

// PriceSnapshot is a set of USDT quotes fetched together
type PriceSnapshot struct {
	Prices    map[types.Currency]decimal.Decimal `json:"prices"`
	FetchedAt time.Time                          `json:"fetchedAt"`
}

// Price returns the quote for currency, if present and positive
func (s *PriceSnapshot) Price(currency types.Currency) (decimal.Decimal, bool) {
	if s == nil {
		return decimal.Zero, false
	}
	p, ok := s.Prices[currency]
	if !ok || !p.IsPositive() {
		return decimal.Zero, false
	}
	return p, true
}
