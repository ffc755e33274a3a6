package models

import (
	"strconv"
	"time"

	"github.com/deposit-scanner/internal/types"
	"github.com/shopspring/decimal"
)

// DetectedTransfer is an inbound transfer found by a chain scan
type DetectedTransfer struct {
	TxID        string           `json:"txid"`
	Chain       types.ChainID    `json:"chain"`
	Amount      decimal.Decimal  `json:"amount"`
	Currency    types.Currency   `json:"currency"`
	Position    types.ScanCursor `json:"position"`
	FromAddress string           `json:"fromAddress"`
	ToAddress   string           `json:"toAddress"`
	Contract    string           `json:"contract,omitempty"`
	DetectedAt  time.Time        `json:"detectedAt"`
}

// BlockRef renders the transfer position for the ledger
func (t *DetectedTransfer) BlockRef() string {
	if t.Position.Kind == types.CursorTimestamp {
		return "ts:" + strconv.FormatInt(t.Position.TimestampMs, 10)
	}
	return strconv.FormatUint(t.Position.Block, 10)
}

// UnpricedDeposit is a detected transfer waiting for a price quote
type UnpricedDeposit struct {
	Transfer  DetectedTransfer `json:"transfer"`
	WalletID  int64            `json:"walletId" db:"wallet_id"`
	Attempts  int              `json:"attempts" db:"attempts"`
	LastError string           `json:"lastError,omitempty" db:"last_error"`
	CreatedAt time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time        `json:"updatedAt" db:"updated_at"`
}
