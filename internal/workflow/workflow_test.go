package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"jellyward/internal/registry"
	"jellyward/store"
	"jellyward/types"
)

type fakeMedia struct {
	mu         sync.Mutex
	nextID     int
	created    map[string]string
	disabled   map[string]bool
	failCreate bool
}

func newFakeMedia() *fakeMedia {
	return &fakeMedia{
		created:  make(map[string]string),
		disabled: make(map[string]bool),
	}
}

func (f *fakeMedia) CreateAccount(ctx context.Context, username, password string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate {
		return "", fmt.Errorf("%w: server down", types.ErrCollaborator)
	}
	f.nextID++
	id := fmt.Sprintf("remote-%d", f.nextID)
	f.created[id] = username
	return id, nil
}

func (f *fakeMedia) EnableAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled[accountID] = false
	return nil
}

func (f *fakeMedia) DisableAccount(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled[accountID] = true
	return nil
}

func (f *fakeMedia) ResetCredential(ctx context.Context, accountID, newPassword string) error {
	return nil
}

func (f *fakeMedia) ListAccounts(ctx context.Context) ([]types.RemoteAccount, error) {
	return nil, nil
}

func newTestEngine(t *testing.T) (*Engine, *registry.Registry, *fakeMedia) {
	t.Helper()
	st, err := store.Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	reg := registry.New(st, zerolog.Nop())
	media := newFakeMedia()
	return New(st, reg, media, zerolog.Nop()), reg, media
}

func TestRegistrationApproval(t *testing.T) {
	eng, reg, media := newTestEngine(t)
	ctx := context.Background()

	id, err := eng.SubmitRegistration(555, "alice", "Alice")
	if err != nil {
		t.Fatalf("SubmitRegistration: %v", err)
	}

	out, err := eng.Resolve(ctx, id, DecisionApprove, 900)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Kind != types.RequestRegistration || out.Password == "" {
		t.Fatalf("outcome = %+v, want registration with password", out)
	}

	acc, ok := reg.AccountByChat(555)
	if !ok {
		t.Fatal("chat 555 should resolve to the new account")
	}
	if acc.DisplayName != "alice" || acc.Role != types.RoleRegular {
		t.Fatalf("account = %+v", acc)
	}
	if media.created[acc.AccountID] != "alice" {
		t.Fatal("account should be provisioned on the media server")
	}
	if !media.disabled[acc.AccountID] {
		t.Fatal("new account should start disabled")
	}

	// The request is gone: resolving again reports not found.
	if _, err := eng.Resolve(ctx, id, DecisionApprove, 900); !errors.Is(err, types.ErrNotFound) {
		t.Fatalf("second resolve: %v, want ErrNotFound", err)
	}
}

func TestConcurrentApprovalProvisionsOnce(t *testing.T) {
	eng, _, media := newTestEngine(t)
	ctx := context.Background()

	id, err := eng.SubmitRegistration(555, "alice", "Alice")
	if err != nil {
		t.Fatalf("SubmitRegistration: %v", err)
	}

	// Two admins tap Approve at the same time; the transport runs each
	// callback on its own goroutine. Only one approval may provision.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = eng.Resolve(ctx, id, DecisionApprove, int64(900+i))
		}(i)
	}
	wg.Wait()

	var approved, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			approved++
		case errors.Is(err, types.ErrNotFound):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if approved != 1 || refused != 1 {
		t.Fatalf("approved = %d, refused = %d, want 1 and 1", approved, refused)
	}
	if len(media.created) != 1 {
		t.Fatalf("accounts provisioned = %d, want 1", len(media.created))
	}
}

func TestRegistrationValidation(t *testing.T) {
	eng, reg, _ := newTestEngine(t)

	if _, err := eng.SubmitRegistration(555, "a!", "Alice"); !errors.Is(err, types.ErrInvalidArgument) {
		t.Fatalf("bad chars: %v, want ErrInvalidArgument", err)
	}
	if _, err := eng.SubmitRegistration(555, "ab", "Alice"); !errors.Is(err, types.ErrInvalidArgument) {
		t.Fatalf("too short: %v, want ErrInvalidArgument", err)
	}

	if err := reg.CreateAccount(types.Account{AccountID: "acc-1", DisplayName: "Bob"}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if _, err := eng.SubmitRegistration(555, "bob", "Alice"); !errors.Is(err, types.ErrConflict) {
		t.Fatalf("taken username: %v, want ErrConflict", err)
	}
}

func TestOneOutstandingRequestPerChatPerKind(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	if _, err := eng.SubmitRegistration(555, "alice", "Alice"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := eng.SubmitRegistration(555, "alice2", "Alice"); !errors.Is(err, types.ErrConflict) {
		t.Fatalf("second submit: %v, want ErrConflict", err)
	}
}

func TestRegistrationRejection(t *testing.T) {
	eng, reg, media := newTestEngine(t)
	ctx := context.Background()

	id, err := eng.SubmitRegistration(555, "alice", "Alice")
	if err != nil {
		t.Fatalf("SubmitRegistration: %v", err)
	}
	out, err := eng.Resolve(ctx, id, DecisionReject, 900)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Decision != DecisionReject {
		t.Fatalf("decision = %s", out.Decision)
	}
	if len(media.created) != 0 {
		t.Fatal("rejected registration must not touch the media server")
	}
	if _, ok := reg.AccountByChat(555); ok {
		t.Fatal("rejected registration must not create an account")
	}
}

func TestRegistrationCollaboratorFailureKeepsRequest(t *testing.T) {
	eng, _, media := newTestEngine(t)
	media.failCreate = true

	id, err := eng.SubmitRegistration(555, "alice", "Alice")
	if err != nil {
		t.Fatalf("SubmitRegistration: %v", err)
	}
	if _, err := eng.Resolve(context.Background(), id, DecisionApprove, 900); !errors.Is(err, types.ErrCollaborator) {
		t.Fatalf("Resolve: %v, want ErrCollaborator", err)
	}
	if _, ok := eng.Request(id); !ok {
		t.Fatal("request must survive a failed approval for retry")
	}

	// Server recovers, the same approval succeeds.
	media.failCreate = false
	if _, err := eng.Resolve(context.Background(), id, DecisionApprove, 900); err != nil {
		t.Fatalf("retry resolve: %v", err)
	}
}

func TestLinkAndUnlinkFlow(t *testing.T) {
	eng, reg, _ := newTestEngine(t)
	ctx := context.Background()

	if err := reg.CreateAccount(types.Account{AccountID: "acc-1", DisplayName: "alice", Role: types.RoleRegular}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	id, err := eng.SubmitLink(555, "ALICE", "Alice")
	if err != nil {
		t.Fatalf("SubmitLink should match case-insensitively: %v", err)
	}
	if _, err := eng.Resolve(ctx, id, DecisionApprove, 900); err != nil {
		t.Fatalf("Resolve link: %v", err)
	}
	if _, ok := reg.AccountByChat(555); !ok {
		t.Fatal("chat should be linked after approval")
	}

	// Linking an already linked account is refused at submit time.
	if _, err := eng.SubmitLink(777, "alice", "Bob"); !errors.Is(err, types.ErrConflict) {
		t.Fatalf("link to linked account: %v, want ErrConflict", err)
	}

	unlinkID, err := eng.SubmitUnlink(555, "Alice")
	if err != nil {
		t.Fatalf("SubmitUnlink: %v", err)
	}
	if _, err := eng.Resolve(ctx, unlinkID, DecisionApprove, 900); err != nil {
		t.Fatalf("Resolve unlink: %v", err)
	}
	if _, ok := reg.AccountByChat(555); ok {
		t.Fatal("chat should be unlinked after approval")
	}
}

func TestLinkApprovalRefusedWhenTargetAlreadyLinked(t *testing.T) {
	eng, reg, _ := newTestEngine(t)
	ctx := context.Background()

	if err := reg.CreateAccount(types.Account{AccountID: "acc-1", DisplayName: "alice", Role: types.RoleRegular}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	// Two chats race for the same unlinked account; both requests are
	// accepted because neither side is linked yet at submit time.
	firstID, err := eng.SubmitLink(555, "alice", "Alice")
	if err != nil {
		t.Fatalf("SubmitLink 555: %v", err)
	}
	secondID, err := eng.SubmitLink(777, "alice", "Bob")
	if err != nil {
		t.Fatalf("SubmitLink 777: %v", err)
	}

	if _, err := eng.Resolve(ctx, firstID, DecisionApprove, 900); err != nil {
		t.Fatalf("Resolve first: %v", err)
	}

	// The second approval finds the account taken. The established link
	// must be untouched and the losing request left for an explicit
	// rejection.
	if _, err := eng.Resolve(ctx, secondID, DecisionApprove, 900); !errors.Is(err, types.ErrConflict) {
		t.Fatalf("Resolve second: %v, want ErrConflict", err)
	}
	acc, ok := reg.AccountByChat(555)
	if !ok || acc.AccountID != "acc-1" {
		t.Fatal("winning link must survive the conflicting approval")
	}
	if _, ok := reg.AccountByChat(777); ok {
		t.Fatal("losing chat must not be linked")
	}
	if _, ok := eng.Request(secondID); !ok {
		t.Fatal("conflicting request should remain pending for rejection")
	}
}

func TestSweepExpiredDropsOldRequests(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	eng.now = func() time.Time { return base }
	if _, err := eng.SubmitRegistration(555, "alice", "Alice"); err != nil {
		t.Fatalf("submit old: %v", err)
	}

	eng.now = func() time.Time { return base.Add(6 * 24 * time.Hour) }
	if _, err := eng.SubmitRegistration(777, "bob", "Bob"); err != nil {
		t.Fatalf("submit fresh: %v", err)
	}

	dropped := eng.SweepExpired(base.Add(8 * 24 * time.Hour))
	if len(dropped) != 1 || dropped[0].ChatID != 555 {
		t.Fatalf("dropped = %+v, want only chat 555", dropped)
	}
	if len(eng.PendingRequests()) != 1 {
		t.Fatalf("pending = %d, want 1", len(eng.PendingRequests()))
	}
}
