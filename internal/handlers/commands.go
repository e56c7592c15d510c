package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/go-telegram/bot"

	"jellyward/internal/contextkeys"
	"jellyward/internal/messages"
	"jellyward/internal/subscription"
	"jellyward/internal/utils"
	"jellyward/types"
)

func (h *Handlers) cmdStart(ctx context.Context, b *bot.Bot, actor contextkeys.Actor) {
	h.send(ctx, b, actor.ChatID, messages.StartWelcome())
	if actor.IsAdmin {
		h.send(ctx, b, actor.ChatID, messages.HelpAdmin())
	}
}

func (h *Handlers) cmdRegister(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, args string) {
	if args == "" {
		h.awaitUsername(actor.ChatID)
		h.send(ctx, b, actor.ChatID, messages.AskUsername())
		return
	}
	h.submitRegistration(ctx, b, actor, args)
}

func (h *Handlers) submitRegistration(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, username string) {
	id, err := h.flow.SubmitRegistration(actor.ChatID, username, actor.DisplayName)
	if err != nil {
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	h.send(ctx, b, actor.ChatID, messages.RequestSubmitted(types.RequestRegistration))
	h.announceRequest(ctx, b, id)
}

func (h *Handlers) cmdLinkMe(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, args string) {
	if args == "" {
		h.send(ctx, b, actor.ChatID, messages.AskUsername())
		return
	}
	id, err := h.flow.SubmitLink(actor.ChatID, args, actor.DisplayName)
	if err != nil {
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	h.send(ctx, b, actor.ChatID, messages.RequestSubmitted(types.RequestLink))
	h.announceRequest(ctx, b, id)
}

func (h *Handlers) cmdUnlinkMe(ctx context.Context, b *bot.Bot, actor contextkeys.Actor) {
	id, err := h.flow.SubmitUnlink(actor.ChatID, actor.DisplayName)
	if err != nil {
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	h.send(ctx, b, actor.ChatID, messages.RequestSubmitted(types.RequestUnlink))
	h.announceRequest(ctx, b, id)
}

// announceRequest shows the new request to every admin with approve/reject
// buttons.
func (h *Handlers) announceRequest(ctx context.Context, b *bot.Bot, id string) {
	req, ok := h.flow.Request(id)
	if !ok {
		return
	}
	markup := utils.ApproveRejectKeyboard("req_approve:"+id, "req_reject:"+id)
	h.notifyAdmins(ctx, b, messages.AdminNewRequest(req), markup)
}

func (h *Handlers) cmdSubscribe(ctx context.Context, b *bot.Bot, actor contextkeys.Actor) {
	if !actor.Linked {
		h.send(ctx, b, actor.ChatID, messages.StatusNotLinked())
		return
	}
	if actor.Role != types.RoleRegular {
		h.send(ctx, b, actor.ChatID, messages.SubscriptionEntitledLine())
		return
	}
	buttons := make([]utils.Button, 0)
	for _, id := range h.subs.Plans() {
		plan, _ := h.subs.Plan(id)
		buttons = append(buttons, utils.Button{
			Text: messages.PlanLine(id, plan),
			Data: "plan:" + id,
		})
	}
	markup := utils.BuildInlineKeyboard(buttons)
	h.sendWithMarkup(ctx, b, actor.ChatID, messages.ChoosePlan(), markup)
}

func (h *Handlers) cmdStatus(ctx context.Context, b *bot.Bot, actor contextkeys.Actor) {
	if !actor.Linked {
		h.send(ctx, b, actor.ChatID, messages.StatusNotLinked())
		return
	}
	acc, ok := h.registry.Account(actor.AccountID)
	if !ok {
		h.send(ctx, b, actor.ChatID, messages.StatusNotLinked())
		return
	}
	h.send(ctx, b, actor.ChatID, messages.StatusLinked(acc, h.statusLine(acc)))
}

func (h *Handlers) statusLine(acc types.Account) string {
	if acc.Role != types.RoleRegular {
		return messages.SubscriptionEntitledLine()
	}
	status, sub := h.subs.Status(acc.AccountID)
	switch status {
	case subscription.Active:
		return messages.SubscriptionActiveLine(sub.ExpiresTime())
	case subscription.Expired:
		return messages.SubscriptionExpiredLine(sub.ExpiresTime())
	default:
		return messages.SubscriptionNoneLine()
	}
}

// cmdCancel aborts the awaiting-username prompt if one is armed. An
// expired prompt counts as nothing to cancel.
func (h *Handlers) cmdCancel(ctx context.Context, b *bot.Bot, actor contextkeys.Actor) {
	if live, _ := h.consumeAwaiting(actor.ChatID); live {
		h.send(ctx, b, actor.ChatID, messages.Cancelled())
		return
	}
	h.send(ctx, b, actor.ChatID, messages.NothingToCancel())
}

// cmdResetPassword files a stateless reset request: the admin prompt
// carries the account id in the button data, nothing is stored.
func (h *Handlers) cmdResetPassword(ctx context.Context, b *bot.Bot, actor contextkeys.Actor) {
	if !actor.Linked {
		h.send(ctx, b, actor.ChatID, messages.StatusNotLinked())
		return
	}
	markup := utils.ApproveRejectKeyboard("reset_ok:"+actor.AccountID, "reset_no:"+actor.AccountID)
	h.notifyAdmins(ctx, b, messages.AdminResetRequest(actor.Username, actor.ChatID), markup)
	h.send(ctx, b, actor.ChatID, messages.ResetPasswordAsk())
}

func (h *Handlers) sendError(ctx context.Context, b *bot.Bot, chatID int64, err error) {
	switch {
	case errors.Is(err, types.ErrInvalidArgument),
		errors.Is(err, types.ErrConflict),
		errors.Is(err, types.ErrNotFound):
		h.send(ctx, b, chatID, "⚠️ "+messages.Escape(userFacing(err)))
	default:
		h.log.Error().Err(err).Int64("chat", chatID).Msg("command failed")
		h.send(ctx, b, chatID, messages.ErrorDefault())
	}
}

// userFacing strips the sentinel prefix so members see the explanation, not
// the taxonomy.
func userFacing(err error) string {
	msg := err.Error()
	for _, sentinel := range []error{types.ErrInvalidArgument, types.ErrConflict, types.ErrNotFound} {
		prefix := sentinel.Error() + ": "
		if len(msg) > len(prefix) && msg[:len(prefix)] == prefix {
			return msg[len(prefix):]
		}
	}
	return msg
}

func parseChatID(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
