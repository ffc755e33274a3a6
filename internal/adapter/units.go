package adapter

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// BNBDecimals is the precision of native BNB
	BNBDecimals = 18
	// TRXDecimals is the precision of native TRX (SUN)
	TRXDecimals = 6
	// BEP20StableDecimals is the precision of the Binance-Peg stablecoins
	BEP20StableDecimals = 18
	// TRC20USDTDecimals is the precision of TRON USDT
	TRC20USDTDecimals = 6
)

// ParseUnits converts a raw integer string into a decimal amount
func ParseUnits(raw string, decimals int32) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid integer amount %q", raw)
	}
	if v.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("negative amount %q", raw)
	}
	return decimal.NewFromBigInt(v, -decimals), nil
}

// ParseDecimals parses an explorer tokenDecimal field, falling back to def
func ParseDecimals(s string, def int32) int32 {
	d, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || d < 0 || d > 36 {
		return def
	}
	return int32(d)
}

// ToUnits converts a decimal amount into raw integer units, truncating any
// precision beyond decimals
func ToUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// FromUnits converts raw integer units into a decimal amount
func FromUnits(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}
