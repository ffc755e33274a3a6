package models

import (
	"time"

	"github.com/deposit-scanner/internal/types"
	"github.com/shopspring/decimal"
)

// PendingOutboundTx tracks a transaction broadcast by this system until the
// chain reports a receipt
type PendingOutboundTx struct {
	TxHash      string               `json:"txHash" db:"tx_hash"`
	Chain       types.ChainID        `json:"chain" db:"chain"`
	Type        types.OutboundType   `json:"type" db:"type"`
	Status      types.OutboundStatus `json:"status" db:"status"`
	FromAddress string               `json:"fromAddress" db:"from_address"`
	ToAddress   string               `json:"toAddress" db:"to_address"`
	Currency    types.Currency       `json:"currency" db:"currency"`
	Amount      decimal.Decimal      `json:"amount" db:"amount"`
	Nonce       *uint64              `json:"nonce,omitempty" db:"nonce"`
	Metadata    PendingMetadata      `json:"metadata" db:"metadata"`
	LastChecked *time.Time           `json:"lastChecked,omitempty" db:"last_checked"`
	CreatedAt   time.Time            `json:"createdAt" db:"created_at"`
}

// PendingMetadata carries rescue links and free-form notes
type PendingMetadata struct {
	Operation     string            `json:"operation,omitempty"`
	ReplacedBy    string            `json:"replacedBy,omitempty"`
	Replaces      string            `json:"replaces,omitempty"`
	WalletAddress string            `json:"walletAddress,omitempty"`
	Notes         map[string]string `json:"notes,omitempty"`
}

// Merge overlays non-empty fields of other onto m
func (m PendingMetadata) Merge(other PendingMetadata) PendingMetadata {
	out := m
	if other.Operation != "" {
		out.Operation = other.Operation
	}
	if other.ReplacedBy != "" {
		out.ReplacedBy = other.ReplacedBy
	}
	if other.Replaces != "" {
		out.Replaces = other.Replaces
	}
	if other.WalletAddress != "" {
		out.WalletAddress = other.WalletAddress
	}
	if len(other.Notes) > 0 {
		notes := make(map[string]string, len(m.Notes)+len(other.Notes))
		for k, v := range m.Notes {
			notes[k] = v
		}
		for k, v := range other.Notes {
			notes[k] = v
		}
		out.Notes = notes
	}
	return out
}
