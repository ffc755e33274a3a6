// Package notify delivers user-facing deposit notifications.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/deposit-scanner/internal/logging"
	"github.com/deposit-scanner/internal/models"
)

// Notifier is told about every credited deposit after commit
type Notifier interface {
	DepositCredited(ctx context.Context, entry *models.LedgerTransaction) error
}

// ChatResolver maps a user to the Telegram chat notifications go to
type ChatResolver interface {
	TelegramID(ctx context.Context, userID int64) (int64, error)
}

// Nop discards notifications
type Nop struct{}

// DepositCredited does nothing
func (Nop) DepositCredited(context.Context, *models.LedgerTransaction) error { return nil }

// Telegram sends notifications through the Bot API
type Telegram struct {
	bot   *tgbotapi.BotAPI
	chats ChatResolver
}

// NewTelegram authenticates the bot token. endpoint may be empty for the
// public Bot API.
func NewTelegram(token, endpoint string, chats ChatResolver) (*Telegram, error) {
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chats: chats}, nil
}

// DepositCredited tells the user their balance went up
func (t *Telegram) DepositCredited(ctx context.Context, entry *models.LedgerTransaction) error {
	chatID, err := t.chats.TelegramID(ctx, entry.UserID)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(chatID, depositText(entry))
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"userId": entry.UserID,
		"txid":   entry.Metadata.TxID,
	}).Debug("Deposit notification sent")
	return nil
}

func depositText(entry *models.LedgerTransaction) string {
	m := entry.Metadata
	if m.OriginalCurrency != "" && m.OriginalCurrency != entry.Currency {
		return fmt.Sprintf("✅ Deposit received: <b>%s %s</b> (%s %s) on %s",
			m.OriginalAmount.String(), m.OriginalCurrency,
			entry.Amount.StringFixed(2), entry.Currency, m.Chain)
	}
	return fmt.Sprintf("✅ Deposit received: <b>%s %s</b> on %s",
		entry.Amount.String(), entry.Currency, m.Chain)
}
