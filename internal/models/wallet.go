package models

import (
	"time"

	"github.com/deposit-scanner/internal/types"
	"github.com/shopspring/decimal"
)

// DepositWallet is a per-user, per-chain deposit address
type DepositWallet struct {
	ID               int64             `json:"id" db:"id"`
	UserID           int64             `json:"userId" db:"user_id"`
	Chain            types.ChainID     `json:"chain" db:"chain"`
	Address          string            `json:"address" db:"address"`
	DerivationIndex  uint32            `json:"derivationIndex" db:"derivation_index"`
	Cursor           types.ScanCursor  `json:"cursor"`
	DetectedBalances []DetectedBalance `json:"detectedBalances" db:"detected_balances"`
	CreatedAt        time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time         `json:"updatedAt" db:"updated_at"`
}

// DetectedBalance is an on-chain balance observed by the sweep scan
type DetectedBalance struct {
	Currency  types.Currency  `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	CheckedAt time.Time       `json:"checkedAt"`
}

// BalanceOf returns the detected balance for a currency, zero if absent
func (w *DepositWallet) BalanceOf(currency types.Currency) decimal.Decimal {
	for _, b := range w.DetectedBalances {
		if b.Currency == currency {
			return b.Amount
		}
	}
	return decimal.Zero
}

// WithoutBalance returns the detected balances minus the given currency
func (w *DepositWallet) WithoutBalance(currency types.Currency) []DetectedBalance {
	out := make([]DetectedBalance, 0, len(w.DetectedBalances))
	for _, b := range w.DetectedBalances {
		if b.Currency != currency {
			out = append(out, b)
		}
	}
	return out
}
