package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/deposit-scanner/internal/models"
	"github.com/deposit-scanner/internal/types"
)

// valuePrecision is the number of decimal places kept for converted values
const valuePrecision = 8

// ToLedgerValue converts amount of currency into USDT. Stablecoins are
// worth face value; other currencies need a quote in snap. ok is false when
// no quote is available.
func ToLedgerValue(amount decimal.Decimal, currency types.Currency, snap *models.PriceSnapshot) (usdt, priceUsed decimal.Decimal, ok bool) {
	if currency.IsStable() {
		return amount, decimal.NewFromInt(1), true
	}
	p, found := snap.Price(currency)
	if !found {
		return decimal.Zero, decimal.Zero, false
	}
	return amount.Mul(p).Round(valuePrecision), p, true
}
