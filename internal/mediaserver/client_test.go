package mediaserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"jellyward/types"
)

func TestCreateAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/Users/New" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("X-Emby-Token"); got != "secret" {
			t.Errorf("token = %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["Name"] != "alice" || body["Password"] == "" {
			t.Errorf("body = %v", body)
		}
		json.NewEncoder(w).Encode(map[string]string{"Id": "u-1", "Name": "alice"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zerolog.Nop())
	id, err := c.CreateAccount(context.Background(), "alice", "pw123456")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if id != "u-1" {
		t.Fatalf("id = %q, want u-1", id)
	}
}

func TestSetDisabledPreservesPolicy(t *testing.T) {
	var written map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/Users/u-1":
			json.NewEncoder(w).Encode(map[string]any{
				"Id":   "u-1",
				"Name": "alice",
				"Policy": map[string]any{
					"IsAdministrator": true,
					"IsDisabled":      false,
					"EnableDownloads": true,
				},
			})
		case r.Method == http.MethodPost && r.URL.Path == "/Users/u-1/Policy":
			if err := json.NewDecoder(r.Body).Decode(&written); err != nil {
				t.Errorf("decode policy: %v", err)
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zerolog.Nop())
	if err := c.DisableAccount(context.Background(), "u-1"); err != nil {
		t.Fatalf("DisableAccount: %v", err)
	}
	if written["IsDisabled"] != true {
		t.Fatalf("IsDisabled = %v, want true", written["IsDisabled"])
	}
	// The write-back carries every other policy field untouched.
	if written["IsAdministrator"] != true || written["EnableDownloads"] != true {
		t.Fatalf("policy fields lost: %v", written)
	}
}

func TestListAccounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]any{
			{"Id": "u-1", "Name": "alice", "Policy": map[string]any{"IsAdministrator": true}},
			{"Id": "u-2", "Name": "bob", "Policy": map[string]any{"IsDisabled": true}},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zerolog.Nop())
	accounts, err := c.ListAccounts(context.Background())
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 2 {
		t.Fatalf("accounts = %d, want 2", len(accounts))
	}
	if !accounts[0].IsAdmin || accounts[0].Name != "alice" {
		t.Fatalf("first = %+v", accounts[0])
	}
	if !accounts[1].Disabled {
		t.Fatalf("second = %+v", accounts[1])
	}
}

func TestErrorStatusWrapsCollaborator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zerolog.Nop())
	if err := c.EnableAccount(context.Background(), "u-1"); !errors.Is(err, types.ErrCollaborator) {
		t.Fatalf("err = %v, want ErrCollaborator", err)
	}
}

func TestResetCredential(t *testing.T) {
	var gotPw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/Users/u-1/Password" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotPw = body["NewPw"]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", zerolog.Nop())
	if err := c.ResetCredential(context.Background(), "u-1", "newpw123"); err != nil {
		t.Fatalf("ResetCredential: %v", err)
	}
	if gotPw != "newpw123" {
		t.Fatalf("NewPw = %q", gotPw)
	}
}
