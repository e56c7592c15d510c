package handlers

import (
	"context"

	"github.com/go-telegram/bot"

	"jellyward/internal/messages"
)

// BotNotifier adapts the Telegram bot to the Notifier interface the
// scheduler sends expiry and cleanup notices through.
type BotNotifier struct {
	bot *bot.Bot
}

func NewBotNotifier(b *bot.Bot) *BotNotifier {
	return &BotNotifier{bot: b}
}

func (n *BotNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: messages.ParseModeHTML,
	})
	return err
}
