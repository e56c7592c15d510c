// Package messages holds every user-facing text the bot sends. HTML parse
// mode throughout; anything user-supplied goes through Escape.
package messages

import (
	"fmt"
	"strings"
	"time"

	"jellyward/types"
)

const ParseModeHTML = "HTML"

func Escape(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(strings.TrimSpace(s))
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04 MST")
}

func StartWelcome() string {
	return "👋 <b>Welcome!</b>\nI manage accounts for this media server.\n\n" +
		"📝 /register &lt;username&gt; — request a new account\n" +
		"🔗 /linkme &lt;username&gt; — link this chat to your existing account\n" +
		"💳 /subscribe — buy or extend a subscription\n" +
		"ℹ️ /status — your account and subscription\n" +
		"🔑 /resetpw — request a password reset"
}

func HelpAdmin() string {
	return "🛠 <b>Admin commands</b>\n" +
		"/pending — open requests\n" +
		"/payments — pending payments\n" +
		"/users — all accounts\n" +
		"/stats — totals\n" +
		"/link &lt;username&gt; &lt;chat_id&gt;\n" +
		"/unlink &lt;username&gt;\n" +
		"/subinfo &lt;username&gt;\n" +
		"/subextend &lt;username&gt; &lt;days&gt;\n" +
		"/subend &lt;username&gt;\n" +
		"/promote &lt;username&gt;\n" +
		"/demote &lt;username&gt;\n" +
		"/broadcast &lt;text&gt;\n" +
		"/message &lt;username&gt; &lt;text&gt;"
}

func ErrorDefault() string {
	return "🚫 <b>Something went wrong</b>\nPlease try again."
}

func ErrorUnknownCommand() string {
	return "❓ <b>Unknown command</b>\nSend /start for the list."
}

func ErrorAdminOnly() string {
	return "⛔ <b>Admins only</b>"
}

func AskUsername() string {
	return "✍️ Send the username you want (3-20 letters, digits or underscores), or /cancel to abort."
}

func UsernamePromptExpired() string {
	return "⌛ That registration prompt expired. Send /register again."
}

func Cancelled() string {
	return "🚫 Cancelled."
}

func NothingToCancel() string {
	return "🤷 Nothing to cancel."
}

func RequestSubmitted(kind types.RequestKind) string {
	return fmt.Sprintf("📨 <b>Request sent</b>\nYour %s request is waiting for an admin.", kind)
}

func RequestApproved(kind types.RequestKind) string {
	return fmt.Sprintf("✅ <b>Approved</b>\nYour %s request was approved.", kind)
}

func RequestRejected(kind types.RequestKind) string {
	return fmt.Sprintf("❌ <b>Rejected</b>\nYour %s request was rejected.", kind)
}

func RequestExpired(kind types.RequestKind) string {
	return fmt.Sprintf("⌛ <b>Request expired</b>\nYour %s request was open for a week and has been dropped. Submit it again if you still need it.", kind)
}

func RegistrationApproved(username, password string) string {
	return fmt.Sprintf("🎉 <b>Account created</b>\nUsername: <code>%s</code>\nPassword: <code>%s</code>\n\nYour account activates with a subscription: /subscribe",
		Escape(username), Escape(password))
}

func AdminNewRequest(req types.PendingRequest) string {
	switch req.Kind {
	case types.RequestRegistration:
		return fmt.Sprintf("📝 <b>Registration request</b>\nUsername: <code>%s</code>\nFrom: %s (chat <code>%d</code>)",
			Escape(req.Username), Escape(req.DisplayName), req.ChatID)
	case types.RequestLink:
		return fmt.Sprintf("🔗 <b>Link request</b>\nAccount: <code>%s</code>\nFrom: %s (chat <code>%d</code>)",
			Escape(req.Username), Escape(req.DisplayName), req.ChatID)
	default:
		return fmt.Sprintf("✂️ <b>Unlink request</b>\nAccount: <code>%s</code>\nFrom: %s (chat <code>%d</code>)",
			Escape(req.Username), Escape(req.DisplayName), req.ChatID)
	}
}

func PendingHeader(n int) string {
	if n == 0 {
		return "📭 No pending requests."
	}
	return fmt.Sprintf("📬 <b>%d pending request(s)</b>", n)
}

func PlanLine(id string, plan types.Plan) string {
	return fmt.Sprintf("%s — %d day(s), ₹%.2f", Escape(plan.Name), plan.DurationDays, plan.Price)
}

func ChoosePlan() string {
	return "💳 <b>Choose a plan</b>"
}

func PaymentInstructions(plan types.Plan, link, paymentID string) string {
	return fmt.Sprintf("💸 <b>Pay ₹%.2f</b> for %s\n\n<a href=\"%s\">Tap to pay via UPI</a>\n\nReference: <code>%s</code>\nAn admin will confirm your payment shortly.",
		plan.Price, Escape(plan.Name), link, Escape(paymentID))
}

func AdminNewPayment(p types.PaymentRequest, username string) string {
	return fmt.Sprintf("💰 <b>Payment pending</b>\nAccount: <code>%s</code>\nPlan: %s\nAmount: ₹%.2f\nReference: <code>%d_%d</code>",
		Escape(username), Escape(p.PlanID), p.Amount, p.ChatID, p.CreatedAt)
}

func PaymentApprovedMember(expiry time.Time) string {
	return fmt.Sprintf("✅ <b>Payment confirmed</b>\nYour subscription now runs until %s.", formatTime(expiry))
}

func PaymentRejectedMember() string {
	return "❌ <b>Payment rejected</b>\nContact an admin if you believe this is a mistake."
}

func PaymentExpired(planID string) string {
	return fmt.Sprintf("⌛ <b>Payment request expired</b>\nYour pending payment for plan %s was open for a week and has been cancelled. Use /subscribe to start over.", Escape(planID))
}

func PaymentsHeader(n int) string {
	if n == 0 {
		return "📭 No pending payments."
	}
	return fmt.Sprintf("💰 <b>%d pending payment(s)</b>", n)
}

func SubscriptionExpired(username string) string {
	return fmt.Sprintf("⌛ <b>Subscription expired</b>\nAccess for <code>%s</code> has been paused. Renew with /subscribe.", Escape(username))
}

func StatusLinked(acc types.Account, statusLine string) string {
	return fmt.Sprintf("👤 <b>%s</b>\nRole: %s\nSubscription: %s", Escape(acc.DisplayName), acc.Role, statusLine)
}

func StatusNotLinked() string {
	return "🙈 This chat is not linked to an account.\nUse /register or /linkme first."
}

func SubscriptionActiveLine(expiry time.Time) string {
	return "active until " + formatTime(expiry)
}

func SubscriptionExpiredLine(expiry time.Time) string {
	return "expired " + formatTime(expiry)
}

func SubscriptionNoneLine() string {
	return "none"
}

func SubscriptionEntitledLine() string {
	return "not required for this role"
}

func ResetPasswordAsk() string {
	return "🔑 <b>Password reset requested</b>\nAn admin will confirm it."
}

func AdminResetRequest(username string, chatID int64) string {
	return fmt.Sprintf("🔑 <b>Password reset request</b>\nAccount: <code>%s</code> (chat <code>%d</code>)", Escape(username), chatID)
}

func ResetPasswordDone(password string) string {
	return fmt.Sprintf("🔑 <b>New password</b>\n<code>%s</code>", Escape(password))
}

func ResetPasswordDenied() string {
	return "❌ Password reset was denied."
}

func Broadcasted(sent, failed int) string {
	return fmt.Sprintf("📣 Broadcast delivered to %d chat(s), %d failed.", sent, failed)
}

func UserLine(acc types.Account, statusLine string) string {
	link := "not linked"
	if acc.Linked() {
		link = fmt.Sprintf("chat <code>%d</code>", acc.ChatID())
	}
	return fmt.Sprintf("• <code>%s</code> [%s, %s] — %s", Escape(acc.DisplayName), acc.Role, link, statusLine)
}

func AdminPromoted(username string) string {
	return fmt.Sprintf("⭐ <code>%s</code> is now an admin.", Escape(username))
}

func AdminDemoted(username string) string {
	return fmt.Sprintf("👤 <code>%s</code> is no longer an admin.", Escape(username))
}

func Stats(total, admins, linked, active, pendingReg, pendingLinks, pendingUnlinks, pendingPayments int) string {
	return fmt.Sprintf("📊 <b>Stats</b>\nAccounts: %d\nAdmins: %d\nLinked: %d\nActive subscriptions: %d\n\n"+
		"<b>Pending</b>\nRegistrations: %d\nLink requests: %d\nUnlink requests: %d\nPayments: %d",
		total, admins, linked, active, pendingReg, pendingLinks, pendingUnlinks, pendingPayments)
}
