package handlers

import (
	"context"

	"github.com/go-telegram/bot"

	"jellyward/internal/contextkeys"
	"jellyward/internal/messages"
)

// handleText consumes a bare text message. The only stateful flow is the
// username prompt after /register with no argument.
func (h *Handlers) handleText(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, text string) {
	live, expired := h.consumeAwaiting(actor.ChatID)
	if expired {
		h.send(ctx, b, actor.ChatID, messages.UsernamePromptExpired())
		return
	}
	if !live {
		h.send(ctx, b, actor.ChatID, messages.ErrorUnknownCommand())
		return
	}
	h.submitRegistration(ctx, b, actor, text)
}
