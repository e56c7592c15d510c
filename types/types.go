package types

import (
	"context"
	"time"
)

type Role string

const (
	RoleAdmin      Role = "admin"
	RolePrivileged Role = "privileged"
	RoleRegular    Role = "regular"
)

// Account is the source-of-truth identity record for one media-server user.
// Accounts are never deleted; unlinking only clears LinkedChatID.
type Account struct {
	AccountID    string `json:"account_id"`
	DisplayName  string `json:"display_name"`
	LinkedChatID *int64 `json:"linked_chat_id"`
	CreatedAt    int64  `json:"created_at"`
	IsAdmin      bool   `json:"is_admin"`
	Role         Role   `json:"role"`
}

func (a Account) Linked() bool {
	return a.LinkedChatID != nil
}

// ChatID returns the linked chat id, or 0 when the account is unlinked.
func (a Account) ChatID() int64 {
	if a.LinkedChatID == nil {
		return 0
	}
	return *a.LinkedChatID
}

// AdminEntry is one row of the derived admin index, keyed by chat id.
type AdminEntry struct {
	AccountID   string `json:"account_id"`
	DisplayName string `json:"display_name"`
	AddedAt     int64  `json:"added_at"`
}

type RequestKind string

const (
	RequestRegistration RequestKind = "registration"
	RequestLink         RequestKind = "link"
	RequestUnlink       RequestKind = "unlink"
)

// PendingRequest is a tagged variant: Kind selects which of the optional
// fields are meaningful. Requests are keyed by a generated id.
type PendingRequest struct {
	Kind            RequestKind `json:"kind"`
	ChatID          int64       `json:"chat_id"`
	DisplayName     string      `json:"display_name,omitempty"`
	Username        string      `json:"username"`
	TargetAccountID string      `json:"target_account_id,omitempty"`
	RequestedAt     int64       `json:"requested_at"`
}

// Subscription tracks one account's entitlement window. Timestamps are
// float unix seconds so the on-disk snapshot stays readable by external
// tooling. Absence of a record means "never subscribed".
type Subscription struct {
	ActivatedAt  float64 `json:"activated_at"`
	ExpiresAt    float64 `json:"expires_at"`
	DurationDays int     `json:"duration_days"`
	// Disabled records that the expiry sweep already disabled the remote
	// account for this entitlement window, so the sweep never disables or
	// notifies twice. Cleared again on extension.
	Disabled bool `json:"disabled,omitempty"`
}

func (s Subscription) ExpiresTime() time.Time {
	return time.Unix(0, int64(s.ExpiresAt*float64(time.Second)))
}

func (s Subscription) EntitledAt(now time.Time) bool {
	return UnixSeconds(now) < s.ExpiresAt
}

func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000.0
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
)

// PaymentRequest is keyed by "{chat_id}_{created_at}". Approved requests are
// kept indefinitely; rejected ones age out after 30 days.
type PaymentRequest struct {
	AccountID  string        `json:"account_id"`
	ChatID     int64         `json:"chat_id"`
	PlanID     string        `json:"plan_id"`
	Amount     float64       `json:"amount"`
	CreatedAt  int64         `json:"created_at"`
	Status     PaymentStatus `json:"status"`
	ApprovedBy int64         `json:"approved_by,omitempty"`
	ApprovedAt int64         `json:"approved_at,omitempty"`
	RejectedBy int64         `json:"rejected_by,omitempty"`
	RejectedAt int64         `json:"rejected_at,omitempty"`
}

// Plan describes one purchasable subscription plan from configuration.
type Plan struct {
	Name         string  `json:"name" mapstructure:"name"`
	DurationDays int     `json:"duration_days" mapstructure:"duration_days"`
	Price        float64 `json:"price" mapstructure:"price"`
}

// RemoteAccount is a user record as reported by the media server.
type RemoteAccount struct {
	ID       string
	Name     string
	IsAdmin  bool
	Disabled bool
}

// MediaServer is the media-server collaborator boundary. All calls are
// fallible, retryable and idempotent on retry.
type MediaServer interface {
	CreateAccount(ctx context.Context, username, password string) (accountID string, err error)
	EnableAccount(ctx context.Context, accountID string) error
	DisableAccount(ctx context.Context, accountID string) error
	ResetCredential(ctx context.Context, accountID, newPassword string) error
	ListAccounts(ctx context.Context) ([]RemoteAccount, error)
}

// Notifier delivers a message to a chat. Implemented over the bot client;
// background workers depend on this interface instead of the transport.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}
