package handlers

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"

	"jellyward/internal/contextkeys"
	"jellyward/internal/messages"
	"jellyward/internal/utils"
	"jellyward/types"
)

func (h *Handlers) cmdPending(ctx context.Context, b *bot.Bot, actor contextkeys.Actor) {
	pending := h.flow.PendingRequests()
	h.send(ctx, b, actor.ChatID, messages.PendingHeader(len(pending)))
	for id, req := range pending {
		markup := utils.ApproveRejectKeyboard("req_approve:"+id, "req_reject:"+id)
		h.sendWithMarkup(ctx, b, actor.ChatID, messages.AdminNewRequest(req), markup)
	}
}

func (h *Handlers) cmdPayments(ctx context.Context, b *bot.Bot, actor contextkeys.Actor) {
	pending := h.subs.PendingPayments()
	h.send(ctx, b, actor.ChatID, messages.PaymentsHeader(len(pending)))
	for id, p := range pending {
		username := p.AccountID
		if acc, ok := h.registry.Account(p.AccountID); ok {
			username = acc.DisplayName
		}
		markup := utils.ApproveRejectKeyboard("pay_approve:"+id, "pay_reject:"+id)
		h.sendWithMarkup(ctx, b, actor.ChatID, messages.AdminNewPayment(p, username), markup)
	}
}

func (h *Handlers) cmdUsers(ctx context.Context, b *bot.Bot, actor contextkeys.Actor) {
	accounts := h.registry.Accounts()
	names := make([]string, 0, len(accounts))
	byName := make(map[string]types.Account, len(accounts))
	for _, acc := range accounts {
		names = append(names, acc.DisplayName)
		byName[acc.DisplayName] = acc
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		acc := byName[name]
		sb.WriteString(messages.UserLine(acc, h.statusLine(acc)))
		sb.WriteByte('\n')
	}
	if sb.Len() == 0 {
		sb.WriteString("No accounts.")
	}
	h.send(ctx, b, actor.ChatID, sb.String())
}

func (h *Handlers) cmdStats(ctx context.Context, b *bot.Bot, actor contextkeys.Actor) {
	accounts := h.registry.Accounts()
	var admins, linked int
	for _, acc := range accounts {
		if acc.IsAdmin {
			admins++
		}
		if acc.Linked() {
			linked++
		}
	}
	var active int
	now := h.now()
	for _, sub := range h.subs.Subscriptions() {
		if sub.EntitledAt(now) {
			active++
		}
	}
	var regs, links, unlinks int
	for _, req := range h.flow.PendingRequests() {
		switch req.Kind {
		case types.RequestRegistration:
			regs++
		case types.RequestLink:
			links++
		case types.RequestUnlink:
			unlinks++
		}
	}
	payments := len(h.subs.PendingPayments())
	h.send(ctx, b, actor.ChatID, messages.Stats(len(accounts), admins, linked, active, regs, links, unlinks, payments))
}

// cmdSetAdmin grants or revokes the admin role for an account.
func (h *Handlers) cmdSetAdmin(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, args string, admin bool) {
	if args == "" {
		if admin {
			h.send(ctx, b, actor.ChatID, "Usage: /promote &lt;username&gt;")
		} else {
			h.send(ctx, b, actor.ChatID, "Usage: /demote &lt;username&gt;")
		}
		return
	}
	acc, ok := h.registry.AccountByUsername(args)
	if !ok {
		h.send(ctx, b, actor.ChatID, "⚠️ No such account.")
		return
	}
	if err := h.registry.SetAdmin(acc.AccountID, admin); err != nil {
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	if admin {
		h.send(ctx, b, actor.ChatID, messages.AdminPromoted(acc.DisplayName))
	} else {
		h.send(ctx, b, actor.ChatID, messages.AdminDemoted(acc.DisplayName))
	}
}

// cmdLink force-links an account to a chat without the approval round trip.
func (h *Handlers) cmdLink(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		h.send(ctx, b, actor.ChatID, "Usage: /link &lt;username&gt; &lt;chat_id&gt;")
		return
	}
	acc, ok := h.registry.AccountByUsername(fields[0])
	if !ok {
		h.send(ctx, b, actor.ChatID, "⚠️ No such account.")
		return
	}
	chatID, err := parseChatID(fields[1])
	if err != nil {
		h.send(ctx, b, actor.ChatID, "⚠️ Chat id must be a number.")
		return
	}
	if err := h.registry.LinkChat(acc.AccountID, chatID); err != nil {
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	h.send(ctx, b, actor.ChatID, "🔗 Linked <code>"+messages.Escape(acc.DisplayName)+"</code> to chat <code>"+strconv.FormatInt(chatID, 10)+"</code>.")
}

func (h *Handlers) cmdUnlink(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, args string) {
	if args == "" {
		h.send(ctx, b, actor.ChatID, "Usage: /unlink &lt;username&gt;")
		return
	}
	acc, ok := h.registry.AccountByUsername(args)
	if !ok {
		h.send(ctx, b, actor.ChatID, "⚠️ No such account.")
		return
	}
	if err := h.registry.UnlinkChat(acc.AccountID); err != nil {
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	h.send(ctx, b, actor.ChatID, "✂️ Unlinked <code>"+messages.Escape(acc.DisplayName)+"</code>.")
}

func (h *Handlers) cmdSubInfo(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, args string) {
	if args == "" {
		h.send(ctx, b, actor.ChatID, "Usage: /subinfo &lt;username&gt;")
		return
	}
	acc, ok := h.registry.AccountByUsername(args)
	if !ok {
		h.send(ctx, b, actor.ChatID, "⚠️ No such account.")
		return
	}
	h.send(ctx, b, actor.ChatID, messages.StatusLinked(acc, h.statusLine(acc)))
}

func (h *Handlers) cmdSubExtend(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		h.send(ctx, b, actor.ChatID, "Usage: /subextend &lt;username&gt; &lt;days&gt;")
		return
	}
	acc, ok := h.registry.AccountByUsername(fields[0])
	if !ok {
		h.send(ctx, b, actor.ChatID, "⚠️ No such account.")
		return
	}
	days, err := strconv.Atoi(fields[1])
	if err != nil {
		h.send(ctx, b, actor.ChatID, "⚠️ Days must be a number.")
		return
	}
	expiry, err := h.subs.ActivateOrExtend(ctx, acc.AccountID, days)
	if err != nil && expiry.IsZero() {
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	if err != nil {
		h.send(ctx, b, actor.ChatID, "⚠️ Subscription recorded until "+messages.Escape(expiry.UTC().Format("2006-01-02 15:04 MST"))+" but the account could not be enabled yet.")
	} else {
		h.send(ctx, b, actor.ChatID, "✅ <code>"+messages.Escape(acc.DisplayName)+"</code> "+messages.SubscriptionActiveLine(expiry)+".")
	}
	if acc.Linked() {
		h.send(ctx, b, acc.ChatID(), messages.PaymentApprovedMember(expiry))
	}
}

func (h *Handlers) cmdSubEnd(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, args string) {
	if args == "" {
		h.send(ctx, b, actor.ChatID, "Usage: /subend &lt;username&gt;")
		return
	}
	acc, ok := h.registry.AccountByUsername(args)
	if !ok {
		h.send(ctx, b, actor.ChatID, "⚠️ No such account.")
		return
	}
	if err := h.subs.Terminate(ctx, acc.AccountID); err != nil {
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	h.send(ctx, b, actor.ChatID, "🛑 Subscription for <code>"+messages.Escape(acc.DisplayName)+"</code> ended.")
	if acc.Linked() {
		h.send(ctx, b, acc.ChatID(), messages.SubscriptionExpired(acc.DisplayName))
	}
}

func (h *Handlers) cmdBroadcast(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, args string) {
	if args == "" {
		h.send(ctx, b, actor.ChatID, "Usage: /broadcast &lt;text&gt;")
		return
	}
	text := "📣 " + messages.Escape(args)
	var sent, failed int
	for _, acc := range h.registry.Accounts() {
		if !acc.Linked() || acc.ChatID() == actor.ChatID {
			continue
		}
		if _, err := b.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    acc.ChatID(),
			Text:      text,
			ParseMode: messages.ParseModeHTML,
		}); err != nil {
			failed++
			continue
		}
		sent++
	}
	h.send(ctx, b, actor.ChatID, messages.Broadcasted(sent, failed))
}

func (h *Handlers) cmdMessage(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, args string) {
	username, text, _ := strings.Cut(args, " ")
	text = strings.TrimSpace(text)
	if username == "" || text == "" {
		h.send(ctx, b, actor.ChatID, "Usage: /message &lt;username&gt; &lt;text&gt;")
		return
	}
	acc, ok := h.registry.AccountByUsername(username)
	if !ok {
		h.send(ctx, b, actor.ChatID, "⚠️ No such account.")
		return
	}
	if !acc.Linked() {
		h.send(ctx, b, actor.ChatID, "⚠️ Account has no linked chat.")
		return
	}
	h.send(ctx, b, acc.ChatID(), "✉️ "+messages.Escape(text))
	h.send(ctx, b, actor.ChatID, "✉️ Delivered.")
}
