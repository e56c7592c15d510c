// Package handlers is the Telegram-facing surface: command routing, inline
// keyboard callbacks, and the admin review flows.
package handlers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"jellyward/internal/contextkeys"
	"jellyward/internal/messages"
	"jellyward/internal/registry"
	"jellyward/internal/subscription"
	"jellyward/internal/workflow"
	"jellyward/types"
)

// How long a bare /register waits for the follow-up username message.
const usernamePromptTTL = time.Hour

type Handlers struct {
	registry *registry.Registry
	flow     *workflow.Engine
	subs     *subscription.Manager
	media    types.MediaServer
	log      zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	awaiting map[int64]time.Time
}

func New(reg *registry.Registry, flow *workflow.Engine, subs *subscription.Manager, media types.MediaServer, log zerolog.Logger) *Handlers {
	return &Handlers{
		registry: reg,
		flow:     flow,
		subs:     subs,
		media:    media,
		log:      log.With().Str("component", "handlers").Logger(),
		now:      time.Now,
		awaiting: make(map[int64]time.Time),
	}
}

// MainHandler routes a message update: slash commands by name, bare text to
// the awaiting-username flow.
func (h *Handlers) MainHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor, ok := contextkeys.GetActor(ctx)
	if !ok || update.Message == nil {
		return
	}
	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if !strings.HasPrefix(text, "/") {
		h.handleText(ctx, b, actor, text)
		return
	}

	cmd, args := splitCommand(text)
	switch cmd {
	case "/start", "/help":
		h.cmdStart(ctx, b, actor)
	case "/register":
		h.cmdRegister(ctx, b, actor, args)
	case "/linkme":
		h.cmdLinkMe(ctx, b, actor, args)
	case "/unlinkme":
		h.cmdUnlinkMe(ctx, b, actor)
	case "/subscribe":
		h.cmdSubscribe(ctx, b, actor)
	case "/status", "/substatus":
		h.cmdStatus(ctx, b, actor)
	case "/resetpw":
		h.cmdResetPassword(ctx, b, actor)
	case "/cancel":
		h.cmdCancel(ctx, b, actor)
	case "/admin":
		h.requireAdmin(ctx, b, actor, func() {
			h.send(ctx, b, actor.ChatID, messages.HelpAdmin())
		})
	case "/pending":
		h.requireAdmin(ctx, b, actor, func() { h.cmdPending(ctx, b, actor) })
	case "/payments":
		h.requireAdmin(ctx, b, actor, func() { h.cmdPayments(ctx, b, actor) })
	case "/users":
		h.requireAdmin(ctx, b, actor, func() { h.cmdUsers(ctx, b, actor) })
	case "/stats":
		h.requireAdmin(ctx, b, actor, func() { h.cmdStats(ctx, b, actor) })
	case "/link":
		h.requireAdmin(ctx, b, actor, func() { h.cmdLink(ctx, b, actor, args) })
	case "/unlink":
		h.requireAdmin(ctx, b, actor, func() { h.cmdUnlink(ctx, b, actor, args) })
	case "/subinfo":
		h.requireAdmin(ctx, b, actor, func() { h.cmdSubInfo(ctx, b, actor, args) })
	case "/subextend":
		h.requireAdmin(ctx, b, actor, func() { h.cmdSubExtend(ctx, b, actor, args) })
	case "/subend":
		h.requireAdmin(ctx, b, actor, func() { h.cmdSubEnd(ctx, b, actor, args) })
	case "/promote":
		h.requireAdmin(ctx, b, actor, func() { h.cmdSetAdmin(ctx, b, actor, args, true) })
	case "/demote":
		h.requireAdmin(ctx, b, actor, func() { h.cmdSetAdmin(ctx, b, actor, args, false) })
	case "/broadcast":
		h.requireAdmin(ctx, b, actor, func() { h.cmdBroadcast(ctx, b, actor, args) })
	case "/message":
		h.requireAdmin(ctx, b, actor, func() { h.cmdMessage(ctx, b, actor, args) })
	default:
		h.send(ctx, b, actor.ChatID, messages.ErrorUnknownCommand())
	}
}

func splitCommand(text string) (string, string) {
	cmd, args, _ := strings.Cut(text, " ")
	// Strip the @botname suffix Telegram adds in groups.
	if at := strings.Index(cmd, "@"); at > 0 {
		cmd = cmd[:at]
	}
	return cmd, strings.TrimSpace(args)
}

func (h *Handlers) requireAdmin(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, fn func()) {
	if !actor.IsAdmin {
		h.send(ctx, b, actor.ChatID, messages.ErrorAdminOnly())
		return
	}
	fn()
}

func (h *Handlers) send(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	h.sendWithMarkup(ctx, b, chatID, text, nil)
}

func (h *Handlers) sendWithMarkup(ctx context.Context, b *bot.Bot, chatID int64, text string, markup models.ReplyMarkup) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   messages.ParseModeHTML,
		ReplyMarkup: markup,
	})
	if err != nil {
		h.log.Warn().Err(err).Int64("chat", chatID).Msg("send failed")
	}
}

// notifyAdmins fans a message out to every linked admin chat.
func (h *Handlers) notifyAdmins(ctx context.Context, b *bot.Bot, text string, markup models.ReplyMarkup) {
	for _, chatID := range h.registry.AdminChats() {
		h.sendWithMarkup(ctx, b, chatID, text, markup)
	}
}

// awaitUsername arms the follow-up text prompt for chatID.
func (h *Handlers) awaitUsername(chatID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	for id, armed := range h.awaiting {
		if now.Sub(armed) > usernamePromptTTL {
			delete(h.awaiting, id)
		}
	}
	h.awaiting[chatID] = now
}

// consumeAwaiting reports whether chatID had a live username prompt, and
// whether an expired one was dropped.
func (h *Handlers) consumeAwaiting(chatID int64) (live, expired bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	armed, ok := h.awaiting[chatID]
	if !ok {
		return false, false
	}
	delete(h.awaiting, chatID)
	if h.now().Sub(armed) > usernamePromptTTL {
		return false, true
	}
	return true, false
}
