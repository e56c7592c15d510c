// Package subscription manages paid access windows: activation and
// extension, expiry status, payment requests with UPI deep links, and the
// admin payment approval step.
package subscription

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jellyward/internal/mediaserver"
	"jellyward/internal/registry"
	"jellyward/store"
	"jellyward/types"
)

// Status classifies an account's subscription state.
type Status int

const (
	NeverSubscribed Status = iota
	Active
	Expired
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Expired:
		return "expired"
	default:
		return "never subscribed"
	}
}

// Pending payment requests older than this are auto-rejected by the daily
// cleanup; completed ones are purged after the retention window.
const (
	paymentPendingTTL = 7 * 24 * time.Hour
	paymentRetention  = 30 * 24 * time.Hour
)

type Manager struct {
	store    *store.Store
	registry *registry.Registry
	media    types.MediaServer
	plans    map[string]types.Plan
	upiID    string
	upiName  string
	log      zerolog.Logger
	now      func() time.Time

	// resolveMu serializes payment resolution. The transport dispatches
	// each update on its own goroutine, so two admins can tap Approve for
	// the same payment at once; without serialization both pass the
	// pending check before either marks the record.
	resolveMu sync.Mutex
}

func New(s *store.Store, reg *registry.Registry, media types.MediaServer, plans map[string]types.Plan, upiID, upiName string, log zerolog.Logger) *Manager {
	return &Manager{
		store:    s,
		registry: reg,
		media:    media,
		plans:    plans,
		upiID:    upiID,
		upiName:  upiName,
		log:      log.With().Str("component", "subscription").Logger(),
		now:      time.Now,
	}
}

// Plan returns the configured plan by id.
func (m *Manager) Plan(id string) (types.Plan, bool) {
	p, ok := m.plans[id]
	return p, ok
}

// Plans returns plan ids in a stable order for keyboards and listings.
func (m *Manager) Plans() []string {
	ids := make([]string, 0, len(m.plans))
	for id := range m.plans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.plans[ids[i]].DurationDays < m.plans[ids[j]].DurationDays
	})
	return ids
}

// ActivateOrExtend grants days of access to a regular account. An active
// subscription is extended from its current expiry, an expired or missing
// one from now; the original activation timestamp survives extensions. The
// new expiry is committed before the media server enable call, so a failed
// enable never costs the member paid time: the error is reported alongside
// the already-persisted expiry and the account stays disabled until an
// admin or the next payment retries.
func (m *Manager) ActivateOrExtend(ctx context.Context, accountID string, days int) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, fmt.Errorf("%w: duration must be positive, got %d days", types.ErrInvalidArgument, days)
	}
	acc, ok := m.registry.Account(accountID)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: account %s", types.ErrNotFound, accountID)
	}
	if acc.Role != types.RoleRegular {
		return time.Time{}, fmt.Errorf("%w: %s accounts do not need a subscription", types.ErrConflict, acc.Role)
	}

	now := types.UnixSeconds(m.now())
	var expiresAt float64
	err := m.store.Subscriptions.Update(func(subs map[string]types.Subscription) error {
		sub, exists := subs[accountID]
		base := now
		if exists && sub.ExpiresAt > now {
			base = sub.ExpiresAt
		}
		expiresAt = base + float64(days)*86400
		if !exists {
			sub.ActivatedAt = now
		}
		sub.ExpiresAt = expiresAt
		sub.DurationDays = days
		sub.Disabled = false
		subs[accountID] = sub
		return nil
	})
	if err != nil {
		return time.Time{}, err
	}
	expiry := time.Unix(int64(expiresAt), 0)

	if err := mediaserver.Retry(ctx, m.log, "enable account", func(ctx context.Context) error {
		return m.media.EnableAccount(ctx, accountID)
	}); err != nil {
		m.log.Error().Err(err).Str("account", accountID).Msg("subscription recorded but account could not be enabled")
		return expiry, err
	}
	m.log.Info().Str("account", accountID).Int("days", days).Time("expires", expiry).Msg("subscription activated")
	return expiry, nil
}

// Terminate ends an account's subscription immediately and disables the
// account. The record is rewound to expire now but not marked disabled, so
// if the disable call fails here the next expiry sweep retries it.
func (m *Manager) Terminate(ctx context.Context, accountID string) error {
	now := types.UnixSeconds(m.now())
	var found bool
	err := m.store.Subscriptions.Update(func(subs map[string]types.Subscription) error {
		sub, ok := subs[accountID]
		if !ok {
			return nil
		}
		found = true
		sub.ExpiresAt = now
		sub.Disabled = false
		subs[accountID] = sub
		return nil
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: account %s has no subscription", types.ErrNotFound, accountID)
	}
	err = mediaserver.Retry(ctx, m.log, "disable account", func(ctx context.Context) error {
		return m.media.DisableAccount(ctx, accountID)
	})
	if err != nil {
		return err
	}
	if err := m.MarkDisabled(accountID); err != nil {
		return err
	}
	return nil
}

// Status reports the account's subscription state and, if it ever had one,
// the subscription record.
func (m *Manager) Status(accountID string) (Status, types.Subscription) {
	sub, ok := m.store.Subscriptions.Get(accountID)
	if !ok {
		return NeverSubscribed, types.Subscription{}
	}
	if sub.EntitledAt(m.now()) {
		return Active, sub
	}
	return Expired, sub
}

// Subscriptions returns the full subscription map keyed by account id.
func (m *Manager) Subscriptions() map[string]types.Subscription {
	return m.store.Subscriptions.List()
}

// MarkDisabled records that the account's media server access has been cut
// off after expiry. The subscription record itself is kept for history and
// for rebasing a later renewal.
func (m *Manager) MarkDisabled(accountID string) error {
	return m.store.Subscriptions.Update(func(subs map[string]types.Subscription) error {
		sub, ok := subs[accountID]
		if !ok {
			return fmt.Errorf("%w: account %s has no subscription", types.ErrNotFound, accountID)
		}
		sub.Disabled = true
		subs[accountID] = sub
		return nil
	})
}

// CreatePaymentRequest records an intent to pay for a plan and returns the
// request id plus the UPI deep link the member pays through.
func (m *Manager) CreatePaymentRequest(account types.Account, planID string) (string, string, error) {
	plan, ok := m.plans[planID]
	if !ok {
		return "", "", fmt.Errorf("%w: unknown plan %q", types.ErrInvalidArgument, planID)
	}
	if !account.Linked() {
		return "", "", fmt.Errorf("%w: account %s has no linked chat", types.ErrInvalidArgument, account.AccountID)
	}
	createdAt := m.now().Unix()
	id := fmt.Sprintf("%d_%d", account.ChatID(), createdAt)
	err := m.store.Payments.Update(func(payments map[string]types.PaymentRequest) error {
		if _, exists := payments[id]; exists {
			return fmt.Errorf("%w: payment request %s already exists", types.ErrConflict, id)
		}
		payments[id] = types.PaymentRequest{
			AccountID: account.AccountID,
			ChatID:    account.ChatID(),
			PlanID:    planID,
			Amount:    plan.Price,
			CreatedAt: createdAt,
			Status:    types.PaymentPending,
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}
	link := m.upiLink(plan, id)
	m.log.Info().Str("payment", id).Str("plan", planID).Msg("payment request created")
	return id, link, nil
}

func (m *Manager) upiLink(plan types.Plan, paymentID string) string {
	q := url.Values{}
	q.Set("pa", m.upiID)
	q.Set("pn", m.upiName)
	q.Set("am", fmt.Sprintf("%.2f", plan.Price))
	q.Set("cu", "INR")
	q.Set("tn", "Subscription "+paymentID)
	return "upi://pay?" + q.Encode()
}

// Payment returns a payment request by id.
func (m *Manager) Payment(id string) (types.PaymentRequest, bool) {
	return m.store.Payments.Get(id)
}

// PendingPayments returns unresolved payment requests keyed by id.
func (m *Manager) PendingPayments() map[string]types.PaymentRequest {
	out := map[string]types.PaymentRequest{}
	for id, p := range m.store.Payments.List() {
		if p.Status == types.PaymentPending {
			out[id] = p
		}
	}
	return out
}

// ApprovePayment activates the paid plan and only then marks the request
// approved: a crash in between leaves the request pending so the approval
// can be retried, never a payment marked approved without the access it
// bought.
func (m *Manager) ApprovePayment(ctx context.Context, paymentID string, adminChat int64) (types.PaymentRequest, time.Time, error) {
	m.resolveMu.Lock()
	defer m.resolveMu.Unlock()

	p, ok := m.store.Payments.Get(paymentID)
	if !ok || p.Status != types.PaymentPending {
		return types.PaymentRequest{}, time.Time{}, fmt.Errorf("%w: no pending payment %s", types.ErrNotFound, paymentID)
	}
	plan, ok := m.plans[p.PlanID]
	if !ok {
		return types.PaymentRequest{}, time.Time{}, fmt.Errorf("%w: payment %s references unknown plan %q", types.ErrInvalidArgument, paymentID, p.PlanID)
	}
	expiry, err := m.ActivateOrExtend(ctx, p.AccountID, plan.DurationDays)
	if err != nil && expiry.IsZero() {
		return types.PaymentRequest{}, time.Time{}, err
	}
	activationErr := err

	err = m.store.Payments.Update(func(payments map[string]types.PaymentRequest) error {
		cur, ok := payments[paymentID]
		if !ok || cur.Status != types.PaymentPending {
			return fmt.Errorf("%w: no pending payment %s", types.ErrNotFound, paymentID)
		}
		cur.Status = types.PaymentApproved
		cur.ApprovedBy = adminChat
		cur.ApprovedAt = m.now().Unix()
		payments[paymentID] = cur
		p = cur
		return nil
	})
	if err != nil {
		return types.PaymentRequest{}, time.Time{}, err
	}
	m.log.Info().Str("payment", paymentID).Int64("admin", adminChat).Msg("payment approved")
	return p, expiry, activationErr
}

// RejectPayment marks a pending payment rejected.
func (m *Manager) RejectPayment(paymentID string, adminChat int64) (types.PaymentRequest, error) {
	m.resolveMu.Lock()
	defer m.resolveMu.Unlock()

	var p types.PaymentRequest
	err := m.store.Payments.Update(func(payments map[string]types.PaymentRequest) error {
		cur, ok := payments[paymentID]
		if !ok || cur.Status != types.PaymentPending {
			return fmt.Errorf("%w: no pending payment %s", types.ErrNotFound, paymentID)
		}
		cur.Status = types.PaymentRejected
		cur.RejectedBy = adminChat
		cur.RejectedAt = m.now().Unix()
		payments[paymentID] = cur
		p = cur
		return nil
	})
	if err != nil {
		return types.PaymentRequest{}, err
	}
	m.log.Info().Str("payment", paymentID).Int64("admin", adminChat).Msg("payment rejected")
	return p, nil
}

// CleanupPayments auto-rejects stale pending payments and purges rejected
// ones past the retention window. Approved payments are the permanent
// payment history and are never purged. It returns the auto-rejected
// requests so the caller can notify the payers.
func (m *Manager) CleanupPayments(now time.Time) []types.PaymentRequest {
	pendingCutoff := now.Add(-paymentPendingTTL).Unix()
	retainCutoff := now.Add(-paymentRetention).Unix()
	var rejected []types.PaymentRequest
	err := m.store.Payments.Update(func(payments map[string]types.PaymentRequest) error {
		for id, p := range payments {
			switch p.Status {
			case types.PaymentPending:
				if p.CreatedAt < pendingCutoff {
					p.Status = types.PaymentRejected
					p.RejectedAt = now.Unix()
					payments[id] = p
					rejected = append(rejected, p)
				}
			case types.PaymentRejected:
				if p.RejectedAt != 0 && p.RejectedAt < retainCutoff {
					delete(payments, id)
				}
			}
		}
		return nil
	})
	if err != nil {
		m.log.Error().Err(err).Msg("payment cleanup failed")
		return nil
	}
	if len(rejected) > 0 {
		m.log.Info().Int("rejected", len(rejected)).Msg("stale pending payments auto-rejected")
	}
	return rejected
}
