package notify

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sendTimeout bounds one alert delivery attempt. The Telegram API client
// defaults to a client with no timeout.
const sendTimeout = 10 * time.Second

// Noop is the notifier used when no alert channel is configured
type Noop struct{}

func (Noop) NotifyReauthorizationRequired(shopID, reason string) {}

// Telegram sends merchant-action alerts to a Telegram chat. A dead refresh
// token is invisible until an admin opens the UI, so the alert is the only
// proactive signal that a shop dropped out of sync.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegram creates a Telegram notifier
func NewTelegram(botToken string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	return NewTelegramWithEndpoint(botToken, tgbotapi.APIEndpoint, chatID, logger)
}

// NewTelegramWithEndpoint creates a Telegram notifier against a custom API
// endpoint
func NewTelegramWithEndpoint(botToken, endpoint string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{Timeout: sendTimeout}
	api, err := tgbotapi.NewBotAPIWithClient(botToken, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	return &Telegram{
		api:    api,
		chatID: chatID,
		logger: logger,
	}, nil
}

// NotifyReauthorizationRequired alerts that a shop needs to be
// re-authorized. The caller holds the shop's refresh lock, so delivery
// happens off the calling goroutine and must never block it.
func (t *Telegram) NotifyReauthorizationRequired(shopID, reason string) {
	text := fmt.Sprintf("⚠️ TikTok shop %s needs re-authorization: %s", shopID, reason)
	msg := tgbotapi.NewMessage(t.chatID, text)
	go func() {
		if _, err := t.api.Send(msg); err != nil {
			t.logger.Error("Failed to send re-authorization alert",
				"component", "notify",
				"shop_id", shopID,
				"error", err,
			)
		}
	}()
}
