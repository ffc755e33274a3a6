// Package types provides common type definitions for the deposit scanner system.
package types

import (
	"fmt"
	"strings"
)

// ChainID represents supported blockchain networks
type ChainID string

const (
	// ChainBSC represents the BNB Smart Chain
	ChainBSC ChainID = "BSC"
	// ChainTRON represents the TRON network
	ChainTRON ChainID = "TRON"
)

// ParseChainID parses a chain name, accepting common aliases
func ParseChainID(s string) (ChainID, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BSC", "BNB", "BEP20":
		return ChainBSC, nil
	case "TRON", "TRX", "TRC20":
		return ChainTRON, nil
	default:
		return "", fmt.Errorf("unsupported chain: %q", s)
	}
}

// NativeCurrency returns the native coin ticker for a chain
func (c ChainID) NativeCurrency() Currency {
	switch c {
	case ChainBSC:
		return CurrencyBNB
	case ChainTRON:
		return CurrencyTRX
	default:
		return ""
	}
}

// CursorKind returns the kind of scan position the chain's explorer supports
func (c ChainID) CursorKind() CursorKind {
	if c == ChainTRON {
		return CursorTimestamp
	}
	return CursorBlock
}

// AllChains lists every chain the scanner handles
func AllChains() []ChainID {
	return []ChainID{ChainBSC, ChainTRON}
}

// Currency is a ticker symbol
type Currency string

const (
	CurrencyUSDT Currency = "USDT"
	CurrencyUSDC Currency = "USDC"
	CurrencyBUSD Currency = "BUSD"
	CurrencyBNB  Currency = "BNB"
	CurrencyTRX  Currency = "TRX"
)

// IsStable reports whether the currency is credited at face value
func (c Currency) IsStable() bool {
	switch c {
	case CurrencyUSDT, CurrencyUSDC, CurrencyBUSD:
		return true
	default:
		return false
	}
}

// ParseCurrency normalizes a ticker
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	switch c {
	case CurrencyUSDT, CurrencyUSDC, CurrencyBUSD, CurrencyBNB, CurrencyTRX:
		return c, nil
	default:
		return "", fmt.Errorf("unsupported currency: %q", s)
	}
}

// TxKind classifies ledger transactions
type TxKind string

const (
	KindDeposit    TxKind = "deposit"
	KindWithdrawal TxKind = "withdrawal"
	KindPurchase   TxKind = "purchase"
	KindCommission TxKind = "commission"
	KindSweep      TxKind = "sweep"
	KindConversion TxKind = "conversion"
)

// TxStatus is the lifecycle status of a ledger transaction
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusCompleted TxStatus = "completed"
	TxStatusRejected  TxStatus = "rejected"
	TxStatusFailed    TxStatus = "failed"
)

// OutboundType classifies transactions broadcast by this system
type OutboundType string

const (
	// OutboundGasDispatch funds a deposit wallet with native coin for fees
	OutboundGasDispatch OutboundType = "GAS_DISPATCH"
	// OutboundUSDTSweep moves deposit wallet funds to the treasury
	OutboundUSDTSweep OutboundType = "USDT_SWEEP"
)

// OutboundStatus is the chain-observed status of an outbound transaction
type OutboundStatus string

const (
	OutboundPending   OutboundStatus = "PENDING"
	OutboundConfirmed OutboundStatus = "CONFIRMED"
	OutboundFailed    OutboundStatus = "FAILED"
)

// IsTerminal reports whether no further transition is allowed
func (s OutboundStatus) IsTerminal() bool {
	return s == OutboundConfirmed || s == OutboundFailed
}

// ReceiptStatus is the normalized outcome of a chain receipt lookup
type ReceiptStatus int

const (
	// ReceiptNotFound means the chain has not indexed the transaction yet
	ReceiptNotFound ReceiptStatus = iota
	ReceiptSuccess
	ReceiptFailed
)

func (s ReceiptStatus) String() string {
	switch s {
	case ReceiptSuccess:
		return "success"
	case ReceiptFailed:
		return "failed"
	default:
		return "not_found"
	}
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
