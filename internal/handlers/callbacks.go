package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"jellyward/internal/contextkeys"
	"jellyward/internal/credentials"
	"jellyward/internal/mediaserver"
	"jellyward/internal/messages"
	"jellyward/internal/utils"
	"jellyward/internal/workflow"
	"jellyward/types"
)

// CallbackHandler routes inline keyboard taps by data prefix.
func (h *Handlers) CallbackHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	actor, ok := contextkeys.GetActor(ctx)
	if !ok || update.CallbackQuery == nil {
		return
	}
	data := update.CallbackQuery.Data
	h.answerCallback(ctx, b, update.CallbackQuery.ID)

	prefix, arg, found := strings.Cut(data, ":")
	if !found {
		return
	}
	switch prefix {
	case "plan":
		h.onPlanChosen(ctx, b, actor, arg)
	case "req_approve":
		h.requireAdmin(ctx, b, actor, func() { h.onRequestDecision(ctx, b, actor, arg, workflow.DecisionApprove) })
	case "req_reject":
		h.requireAdmin(ctx, b, actor, func() { h.onRequestDecision(ctx, b, actor, arg, workflow.DecisionReject) })
	case "pay_approve":
		h.requireAdmin(ctx, b, actor, func() { h.onPaymentApprove(ctx, b, actor, arg) })
	case "pay_reject":
		h.requireAdmin(ctx, b, actor, func() { h.onPaymentReject(ctx, b, actor, arg) })
	case "reset_ok":
		h.requireAdmin(ctx, b, actor, func() { h.onResetApprove(ctx, b, actor, arg) })
	case "reset_no":
		h.requireAdmin(ctx, b, actor, func() { h.onResetReject(ctx, b, actor, arg) })
	}
}

func (h *Handlers) answerCallback(ctx context.Context, b *bot.Bot, callbackID string) {
	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
	}); err != nil {
		h.log.Debug().Err(err).Msg("answer callback failed")
	}
}

func (h *Handlers) onPlanChosen(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, planID string) {
	if !actor.Linked {
		h.send(ctx, b, actor.ChatID, messages.StatusNotLinked())
		return
	}
	acc, ok := h.registry.Account(actor.AccountID)
	if !ok {
		h.send(ctx, b, actor.ChatID, messages.StatusNotLinked())
		return
	}
	id, link, err := h.subs.CreatePaymentRequest(acc, planID)
	if err != nil {
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	plan, _ := h.subs.Plan(planID)
	h.send(ctx, b, actor.ChatID, messages.PaymentInstructions(plan, link, id))
	p, _ := h.subs.Payment(id)
	markup := utils.ApproveRejectKeyboard("pay_approve:"+id, "pay_reject:"+id)
	h.notifyAdmins(ctx, b, messages.AdminNewPayment(p, acc.DisplayName), markup)
}

func (h *Handlers) onRequestDecision(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, id string, decision workflow.Decision) {
	out, err := h.flow.Resolve(ctx, id, decision, actor.ChatID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			h.send(ctx, b, actor.ChatID, "⚠️ This request was already resolved.")
			return
		}
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	if out.Decision == workflow.DecisionReject {
		h.send(ctx, b, actor.ChatID, "❌ Rejected.")
		h.send(ctx, b, out.ChatID, messages.RequestRejected(out.Kind))
		return
	}
	h.send(ctx, b, actor.ChatID, "✅ Approved.")
	switch out.Kind {
	case types.RequestRegistration:
		h.send(ctx, b, out.ChatID, messages.RegistrationApproved(out.Username, out.Password))
	default:
		h.send(ctx, b, out.ChatID, messages.RequestApproved(out.Kind))
	}
}

func (h *Handlers) onPaymentApprove(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, paymentID string) {
	p, expiry, err := h.subs.ApprovePayment(ctx, paymentID, actor.ChatID)
	if err != nil && expiry.IsZero() {
		if errors.Is(err, types.ErrNotFound) {
			h.send(ctx, b, actor.ChatID, "⚠️ This payment was already resolved.")
			return
		}
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	if err != nil {
		h.send(ctx, b, actor.ChatID, "⚠️ Payment approved and subscription recorded, but the account could not be enabled yet.")
	} else {
		h.send(ctx, b, actor.ChatID, "✅ Payment approved.")
	}
	h.send(ctx, b, p.ChatID, messages.PaymentApprovedMember(expiry))
}

func (h *Handlers) onPaymentReject(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, paymentID string) {
	p, err := h.subs.RejectPayment(paymentID, actor.ChatID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			h.send(ctx, b, actor.ChatID, "⚠️ This payment was already resolved.")
			return
		}
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	h.send(ctx, b, actor.ChatID, "❌ Payment rejected.")
	h.send(ctx, b, p.ChatID, messages.PaymentRejectedMember())
}

func (h *Handlers) onResetApprove(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, accountID string) {
	acc, ok := h.registry.Account(accountID)
	if !ok {
		h.send(ctx, b, actor.ChatID, "⚠️ No such account.")
		return
	}
	password, err := credentials.NewPassword()
	if err != nil {
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	err = mediaserver.Retry(ctx, h.log, "reset password", func(ctx context.Context) error {
		return h.media.ResetCredential(ctx, accountID, password)
	})
	if err != nil {
		h.sendError(ctx, b, actor.ChatID, err)
		return
	}
	h.send(ctx, b, actor.ChatID, "🔑 Password reset for <code>"+messages.Escape(acc.DisplayName)+"</code>.")
	if acc.Linked() {
		h.send(ctx, b, acc.ChatID(), messages.ResetPasswordDone(password))
	}
}

func (h *Handlers) onResetReject(ctx context.Context, b *bot.Bot, actor contextkeys.Actor, accountID string) {
	h.send(ctx, b, actor.ChatID, "❌ Reset denied.")
	if acc, ok := h.registry.Account(accountID); ok && acc.Linked() {
		h.send(ctx, b, acc.ChatID(), messages.ResetPasswordDenied())
	}
}
