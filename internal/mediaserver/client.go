// Package mediaserver talks to the Jellyfin HTTP API: account provisioning,
// enable/disable toggles, password resets, and the user listing used for
// the startup import.
package mediaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"jellyward/types"
)

const requestTimeout = 15 * time.Second

// Client implements types.MediaServer over the Jellyfin REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
		log:     log.With().Str("component", "mediaserver").Logger(),
	}
}

type userResponse struct {
	ID     string `json:"Id"`
	Name   string `json:"Name"`
	Policy struct {
		IsAdministrator bool `json:"IsAdministrator"`
		IsDisabled      bool `json:"IsDisabled"`
	} `json:"Policy"`
}

// CreateAccount provisions a user and returns the server-issued id.
func (c *Client) CreateAccount(ctx context.Context, username, password string) (string, error) {
	body := map[string]string{"Name": username, "Password": password}
	var created userResponse
	if err := c.do(ctx, http.MethodPost, "/Users/New", body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("%w: server returned no user id", types.ErrCollaborator)
	}
	return created.ID, nil
}

// EnableAccount clears the user's disabled flag.
func (c *Client) EnableAccount(ctx context.Context, accountID string) error {
	return c.setDisabled(ctx, accountID, false)
}

// DisableAccount sets the user's disabled flag.
func (c *Client) DisableAccount(ctx context.Context, accountID string) error {
	return c.setDisabled(ctx, accountID, true)
}

// setDisabled fetches the current policy and writes it back with the
// disabled flag toggled. Jellyfin replaces the whole policy on POST, so a
// blind write would wipe the other fields.
func (c *Client) setDisabled(ctx context.Context, accountID string, disabled bool) error {
	var current struct {
		Policy map[string]any `json:"Policy"`
	}
	if err := c.do(ctx, http.MethodGet, "/Users/"+accountID, nil, &current); err != nil {
		return err
	}
	if current.Policy == nil {
		current.Policy = map[string]any{}
	}
	current.Policy["IsDisabled"] = disabled
	return c.do(ctx, http.MethodPost, "/Users/"+accountID+"/Policy", current.Policy, nil)
}

// ResetCredential sets a new password for the user.
func (c *Client) ResetCredential(ctx context.Context, accountID, newPassword string) error {
	body := map[string]string{"NewPw": newPassword}
	return c.do(ctx, http.MethodPost, "/Users/"+accountID+"/Password", body, nil)
}

// ListAccounts returns every user on the server.
func (c *Client) ListAccounts(ctx context.Context) ([]types.RemoteAccount, error) {
	var users []userResponse
	if err := c.do(ctx, http.MethodGet, "/Users", nil, &users); err != nil {
		return nil, err
	}
	out := make([]types.RemoteAccount, 0, len(users))
	for _, u := range users {
		out = append(out, types.RemoteAccount{
			ID:       u.ID,
			Name:     u.Name,
			IsAdmin:  u.Policy.IsAdministrator,
			Disabled: u.Policy.IsDisabled,
		})
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Emby-Token", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", types.ErrCollaborator, method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", types.ErrCollaborator, method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s response: %v", types.ErrCollaborator, method, path, err)
	}
	return nil
}
