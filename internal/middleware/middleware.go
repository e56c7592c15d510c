// Package middleware resolves the sender of every update into an Actor and
// puts it on the context before the handlers run.
package middleware

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"jellyward/internal/contextkeys"
	"jellyward/internal/registry"
)

type Middlewares struct {
	registry *registry.Registry
	log      zerolog.Logger
}

func New(reg *registry.Registry, log zerolog.Logger) *Middlewares {
	return &Middlewares{
		registry: reg,
		log:      log.With().Str("component", "middleware").Logger(),
	}
}

// ResolveActor looks up the sender's chat in the chat mapping and attaches
// the resulting Actor. Unlinked chats still get an Actor with just the chat
// id, so registration commands work.
func (m *Middlewares) ResolveActor(next bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		var chatID int64
		var displayName string

		switch {
		case update.Message != nil && update.Message.From != nil:
			chatID = update.Message.Chat.ID
			displayName = update.Message.From.FirstName
		case update.CallbackQuery != nil:
			chatID = chatIDFromMaybeInaccessibleMessage(update.CallbackQuery.Message)
			displayName = update.CallbackQuery.From.FirstName
			if chatID == 0 {
				return
			}
			ctx = contextkeys.WithCallbackData(ctx, update.CallbackQuery.Data)
		default:
			return
		}

		actor := contextkeys.Actor{
			ChatID:      chatID,
			DisplayName: displayName,
			IsAdmin:     m.registry.IsAdmin(chatID),
		}
		if acc, ok := m.registry.AccountByChat(chatID); ok {
			actor.AccountID = acc.AccountID
			actor.Username = acc.DisplayName
			actor.Role = acc.Role
			actor.Linked = true
		}

		m.log.Debug().
			Int64("chat", chatID).
			Bool("linked", actor.Linked).
			Bool("admin", actor.IsAdmin).
			Msg("update received")

		next(contextkeys.WithActor(ctx, actor), b, update)
	}
}

func chatIDFromMaybeInaccessibleMessage(m models.MaybeInaccessibleMessage) int64 {
	if m.Message != nil {
		return m.Message.Chat.ID
	}
	if m.InaccessibleMessage != nil {
		return m.InaccessibleMessage.Chat.ID
	}
	return 0
}
