package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"jellyward/internal/contextkeys"
	"jellyward/internal/registry"
	"jellyward/store"
	"jellyward/types"
)

// newTestBot points a bot client at a fake API server and captures every
// outgoing message text.
func newTestBot(t *testing.T) (*bot.Bot, func() []string) {
	t.Helper()
	var mu sync.Mutex
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The client posts every call as a multipart form.
		if text := r.FormValue("text"); text != "" {
			mu.Lock()
			texts = append(texts, text)
			mu.Unlock()
		}
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":1}}`)
	}))
	t.Cleanup(srv.Close)

	b, err := bot.New("test-token", bot.WithServerURL(srv.URL), bot.WithSkipGetMe())
	if err != nil {
		t.Fatalf("bot.New: %v", err)
	}
	return b, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), texts...)
	}
}

func TestSplitCommand(t *testing.T) {
	cases := []struct {
		in       string
		cmd, arg string
	}{
		{"/register", "/register", ""},
		{"/register alice", "/register", "alice"},
		{"/register@mybot alice", "/register", "alice"},
		{"/message alice hello there", "/message", "alice hello there"},
	}
	for _, tc := range cases {
		cmd, arg := splitCommand(tc.in)
		if cmd != tc.cmd || arg != tc.arg {
			t.Errorf("splitCommand(%q) = (%q, %q), want (%q, %q)", tc.in, cmd, arg, tc.cmd, tc.arg)
		}
	}
}

func TestAwaitingUsernamePrompt(t *testing.T) {
	h := &Handlers{
		log:      zerolog.Nop(),
		now:      time.Now,
		awaiting: make(map[int64]time.Time),
	}

	if live, expired := h.consumeAwaiting(555); live || expired {
		t.Fatal("no prompt was armed")
	}

	h.awaitUsername(555)
	if live, _ := h.consumeAwaiting(555); !live {
		t.Fatal("armed prompt should be live")
	}
	if live, _ := h.consumeAwaiting(555); live {
		t.Fatal("prompt must be single-use")
	}

	// An hour-old prompt reports expired instead of live.
	base := time.Now()
	h.now = func() time.Time { return base }
	h.awaitUsername(555)
	h.now = func() time.Time { return base.Add(2 * time.Hour) }
	live, expired := h.consumeAwaiting(555)
	if live || !expired {
		t.Fatalf("live=%v expired=%v, want stale prompt", live, expired)
	}
}

func TestCancelDisarmsUsernamePrompt(t *testing.T) {
	h := &Handlers{
		log:      zerolog.Nop(),
		now:      time.Now,
		awaiting: make(map[int64]time.Time),
	}
	b, sent := newTestBot(t)
	ctx := contextkeys.WithActor(context.Background(), contextkeys.Actor{ChatID: 555})

	h.awaitUsername(555)
	h.MainHandler(ctx, b, &models.Update{Message: &models.Message{Text: "/cancel"}})
	if live, expired := h.consumeAwaiting(555); live || expired {
		t.Fatal("/cancel must disarm the username prompt")
	}

	// Without an armed prompt there is nothing to cancel.
	h.MainHandler(ctx, b, &models.Update{Message: &models.Message{Text: "/cancel"}})

	texts := sent()
	if len(texts) != 2 {
		t.Fatalf("sent %d messages, want 2: %q", len(texts), texts)
	}
	if !strings.Contains(texts[0], "Cancelled") {
		t.Fatalf("first reply = %q, want cancellation", texts[0])
	}
	if !strings.Contains(texts[1], "Nothing to cancel") {
		t.Fatalf("second reply = %q, want nothing-to-cancel", texts[1])
	}
}

func TestPromoteAndDemote(t *testing.T) {
	st, err := store.Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	reg := registry.New(st, zerolog.Nop())
	if err := reg.CreateAccount(types.Account{AccountID: "acc-1", DisplayName: "alice", Role: types.RoleRegular}); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	h := New(reg, nil, nil, nil, zerolog.Nop())
	b, _ := newTestBot(t)
	admin := contextkeys.WithActor(context.Background(), contextkeys.Actor{ChatID: 900, IsAdmin: true})

	h.MainHandler(admin, b, &models.Update{Message: &models.Message{Text: "/promote alice"}})
	if acc, _ := reg.Account("acc-1"); !acc.IsAdmin || acc.Role != types.RoleAdmin {
		t.Fatalf("after promote: %+v", acc)
	}

	h.MainHandler(admin, b, &models.Update{Message: &models.Message{Text: "/demote alice"}})
	if acc, _ := reg.Account("acc-1"); acc.IsAdmin || acc.Role != types.RoleRegular {
		t.Fatalf("after demote: %+v", acc)
	}

	// Non-admins cannot touch roles.
	member := contextkeys.WithActor(context.Background(), contextkeys.Actor{ChatID: 555})
	h.MainHandler(member, b, &models.Update{Message: &models.Message{Text: "/promote alice"}})
	if acc, _ := reg.Account("acc-1"); acc.IsAdmin {
		t.Fatal("member promote must be refused")
	}
}

func TestUserFacingStripsSentinelPrefix(t *testing.T) {
	err := fmt.Errorf("%w: username %q is already taken", types.ErrConflict, "alice")
	got := userFacing(err)
	if got != `username "alice" is already taken` {
		t.Fatalf("userFacing = %q", got)
	}

	plain := fmt.Errorf("something else")
	if userFacing(plain) != "something else" {
		t.Fatalf("userFacing(plain) = %q", userFacing(plain))
	}
}
