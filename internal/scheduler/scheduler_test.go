package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"jellyward/internal/registry"
	"jellyward/internal/subscription"
	"jellyward/internal/workflow"
	"jellyward/store"
	"jellyward/types"
)

type fakeMedia struct {
	mu          sync.Mutex
	disabled    map[string]int
	failDisable bool
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{disabled: make(map[string]int)}
}

func (f *fakeMedia) CreateAccount(ctx context.Context, username, password string) (string, error) {
	return "", nil
}

func (f *fakeMedia) EnableAccount(ctx context.Context, accountID string) error {
	return nil
}

func (f *fakeMedia) DisableAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDisable {
		return fmt.Errorf("%w: server down", types.ErrCollaborator)
	}
	f.disabled[accountID]++
	return nil
}

func (f *fakeMedia) ResetCredential(ctx context.Context, accountID, newPassword string) error {
	return nil
}

func (f *fakeMedia) ListAccounts(ctx context.Context) ([]types.RemoteAccount, error) {
	return nil, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  map[int64][]string
	count int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(map[int64][]string)}
}

func (f *fakeNotifier) Notify(ctx context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[chatID] = append(f.sent[chatID], text)
	f.count++
	return nil
}

var testPlans = map[string]types.Plan{
	"1month": {Name: "1 Month", DurationDays: 30, Price: 150},
}

type fixture struct {
	sched    *Scheduler
	st       *store.Store
	reg      *registry.Registry
	subs     *subscription.Manager
	flow     *workflow.Engine
	media    *fakeMedia
	notifier *fakeNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	reg := registry.New(st, zerolog.Nop())
	media := newFakeMedia()
	subs := subscription.New(st, reg, media, testPlans, "admin@upi", "Test", zerolog.Nop())
	flow := workflow.New(st, reg, media, zerolog.Nop())
	notifier := newFakeNotifier()
	sched := New(reg, subs, flow, media, notifier, time.Hour, 24*time.Hour, zerolog.Nop())
	return &fixture{sched: sched, st: st, reg: reg, subs: subs, flow: flow, media: media, notifier: notifier}
}

func (fx *fixture) seedExpiredSub(t *testing.T, id string, chatID int64) {
	t.Helper()
	acc := types.Account{AccountID: id, DisplayName: id, LinkedChatID: &chatID, Role: types.RoleRegular}
	if err := fx.reg.CreateAccount(acc); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	activated := time.Now().Add(-48 * time.Hour)
	sub := types.Subscription{
		ActivatedAt:  types.UnixSeconds(activated),
		ExpiresAt:    types.UnixSeconds(activated.Add(24 * time.Hour)),
		DurationDays: 1,
	}
	if err := fx.st.Subscriptions.Put(id, sub); err != nil {
		t.Fatalf("seed subscription: %v", err)
	}
}

func TestSweepDisablesAndNotifiesOnce(t *testing.T) {
	fx := newFixture(t)
	fx.seedExpiredSub(t, "acc-1", 555)

	fx.sched.SweepExpirations(context.Background())
	if fx.media.disabled["acc-1"] != 1 {
		t.Fatalf("disable calls = %d, want 1", fx.media.disabled["acc-1"])
	}
	if len(fx.notifier.sent[555]) != 1 {
		t.Fatalf("notifications = %d, want 1", len(fx.notifier.sent[555]))
	}

	// A second sweep is a no-op: the record is marked disabled.
	fx.sched.SweepExpirations(context.Background())
	if fx.media.disabled["acc-1"] != 1 {
		t.Fatalf("disable calls after second sweep = %d, want 1", fx.media.disabled["acc-1"])
	}
	if fx.notifier.count != 1 {
		t.Fatalf("notifications after second sweep = %d, want 1", fx.notifier.count)
	}
}

func TestSweepRetriesAfterDisableFailure(t *testing.T) {
	fx := newFixture(t)
	fx.seedExpiredSub(t, "acc-1", 555)

	fx.media.failDisable = true
	fx.sched.SweepExpirations(context.Background())
	if fx.notifier.count != 0 {
		t.Fatal("a failed disable must not notify")
	}

	// Server recovers, the next sweep finishes the job.
	fx.media.failDisable = false
	fx.sched.SweepExpirations(context.Background())
	if fx.media.disabled["acc-1"] != 1 {
		t.Fatalf("disable calls = %d, want 1", fx.media.disabled["acc-1"])
	}
	if fx.notifier.count != 1 {
		t.Fatalf("notifications = %d, want 1", fx.notifier.count)
	}
}

func TestSweepSkipsActiveSubscriptions(t *testing.T) {
	fx := newFixture(t)
	chatID := int64(555)
	acc := types.Account{AccountID: "acc-1", DisplayName: "acc-1", LinkedChatID: &chatID, Role: types.RoleRegular}
	if err := fx.reg.CreateAccount(acc); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := fx.subs.ActivateOrExtend(context.Background(), "acc-1", 30); err != nil {
		t.Fatalf("activate: %v", err)
	}

	fx.sched.SweepExpirations(context.Background())
	if fx.media.disabled["acc-1"] != 0 {
		t.Fatal("an active subscription must not be disabled")
	}
}

func TestCleanupNotifiesDroppedSubmitters(t *testing.T) {
	fx := newFixture(t)

	stale := types.PendingRequest{
		Kind:        types.RequestRegistration,
		ChatID:      555,
		Username:    "alice",
		RequestedAt: time.Now().Add(-10 * 24 * time.Hour).Unix(),
	}
	if err := fx.st.Pending.Put("req-1", stale); err != nil {
		t.Fatalf("seed request: %v", err)
	}

	fx.sched.Cleanup(context.Background())
	if len(fx.notifier.sent[555]) != 1 {
		t.Fatalf("notifications = %d, want 1", len(fx.notifier.sent[555]))
	}
	if len(fx.flow.PendingRequests()) != 0 {
		t.Fatal("stale request should be dropped")
	}
}

func TestStartStop(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.sched.Start(ctx)
	fx.sched.Start(ctx) // idempotent
	fx.sched.Stop()
	fx.sched.Stop() // idempotent
}
