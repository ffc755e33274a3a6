// Package price keeps the USDT quotes used to value non-stable deposits.
package price

import (
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

// Cache holds the latest snapshot. Readers never block the refresher.
type Cache struct {
	snap atomic.Pointer[models.PriceSnapshot]
}

// NewCache creates an empty cache
func NewCache() *Cache {
	return &Cache{}
}

// Snapshot returns the current snapshot, nil before the first refresh
func (c *Cache) Snapshot() *models.PriceSnapshot {
	return c.snap.Load()
}

// Store swaps in a new snapshot
func (c *Cache) Store(s *models.PriceSnapshot) {
	c.snap.Store(s)
}

// Price returns the current quote for currency
func (c *Cache) Price(currency types.Currency) (decimal.Decimal, bool) {
	return c.snap.Load().Price(currency)
}
