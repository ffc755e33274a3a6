// Package models provides data models for the deposit scanner system.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the subset of the game user aggregate this core reads and mutates
type User struct {
	ID          int64           `json:"id" db:"id"`
	TelegramID  int64           `json:"telegramId" db:"telegram_id"`
	Username    string          `json:"username" db:"username"`
	USDTBalance decimal.Decimal `json:"usdtBalance" db:"usdt_balance"`
	NTXBalance  decimal.Decimal `json:"ntxBalance" db:"ntx_balance"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time       `json:"updatedAt" db:"updated_at"`
}

// UserBalance is the balance view of a user
type UserBalance struct {
	USDT decimal.Decimal `json:"usdt"`
	NTX  decimal.Decimal `json:"ntx"`
}
