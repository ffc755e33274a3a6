package models

import (
	"time"

	"github.com/deposit-scanner/internal/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerTransaction is an immutable entry in a user's transaction log.
// Only Status may change after creation.
type LedgerTransaction struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	UserID      int64           `json:"userId" db:"user_id"`
	Kind        types.TxKind    `json:"kind" db:"kind"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Currency    types.Currency  `json:"currency" db:"currency"`
	Status      types.TxStatus  `json:"status" db:"status"`
	Description string          `json:"description" db:"description"`
	Metadata    LedgerMetadata  `json:"metadata"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// LedgerMetadata holds the fields the ledger queries on. TxID is the
// deduplication key for deposit and sweep records.
type LedgerMetadata struct {
	TxID             string            `json:"txid,omitempty" db:"txid"`
	Chain            types.ChainID     `json:"chain,omitempty" db:"chain"`
	FromAddress      string            `json:"fromAddress,omitempty" db:"from_address"`
	ToAddress        string            `json:"toAddress,omitempty" db:"to_address"`
	OriginalAmount   decimal.Decimal   `json:"originalAmount" db:"original_amount"`
	OriginalCurrency types.Currency    `json:"originalCurrency,omitempty" db:"original_currency"`
	PriceUsed        decimal.Decimal   `json:"priceUsed" db:"price_used"`
	BlockRef         string            `json:"blockRef,omitempty" db:"block_ref"`
	Notes            map[string]string `json:"notes,omitempty" db:"notes"`
}
