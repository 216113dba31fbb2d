package service

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"screener_bot/internal/models"
	"screener_bot/internal/modules/config"
	"screener_bot/pkg/logger"
)

// Telegram шлёт уведомления о новых сигналах в канал. Без токена работает
// как no-op: локальная разработка не требует бота.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(cfg *config.Config) (*Telegram, error) {
	if cfg.Telegram.Token == "" {
		logger.Info("telegram: token is empty, notifications disabled")
		return &Telegram{}, nil
	}

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	logger.Info("telegram: authorized as @%s", bot.Self.UserName)

	return &Telegram{bot: bot, chatID: cfg.Telegram.ChatID}, nil
}

func (t *Telegram) Enabled() bool { return t.bot != nil }

// NotifySignal шлёт краткое сообщение о новом сигнале. Ошибка доставки
// логируется и не мешает персисту сигнала.
func (t *Telegram) NotifySignal(trader models.Trader, sig *models.Signal, meta models.SignalMetadata) {
	if t.bot == nil || sig == nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🔔 %s\n", trader.Name)
	fmt.Fprintf(&b, "Символ: %s (%s)\n", sig.Symbol, meta.Interval)
	if meta.Price > 0 {
		fmt.Fprintf(&b, "Цена: %.8g", meta.Price)
		if meta.ChangePercent != 0 {
			fmt.Fprintf(&b, " (%+.2f%% за 24ч)", meta.ChangePercent)
		}
		b.WriteString("\n")
	}
	if meta.Reason != "" {
		fmt.Fprintf(&b, "Причина: %s\n", meta.Reason)
	}

	msg := tgbotapi.NewMessage(t.chatID, b.String())
	if _, err := t.bot.Send(msg); err != nil {
		logger.Error("telegram: failed to send signal notification: %v", err)
	}
}

// NotifyService — служебные сообщения (старт, реконнекты, деградация).
func (t *Telegram) NotifyService(format string, args ...any) {
	if t.bot == nil {
		return
	}
	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf(format, args...))
	if _, err := t.bot.Send(msg); err != nil {
		logger.Error("telegram: failed to send service message: %v", err)
	}
}
