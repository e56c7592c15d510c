// Package registry owns every account mutation. Each mutation patches the
// admin index and the chat mapping inside the same store transaction as the
// account change, so the derived indices always equal a recomputation from
// the account collection at any quiescent point.
package registry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"jellyward/store"
	"jellyward/types"
)

type Registry struct {
	store *store.Store
	log   zerolog.Logger
	now   func() time.Time
}

func New(s *store.Store, log zerolog.Logger) *Registry {
	return &Registry{
		store: s,
		log:   log.With().Str("component", "registry").Logger(),
		now:   time.Now,
	}
}

func chatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// ReconcileFull recomputes both indices wholesale from the account
// collection and replaces them. It also normalizes role/is_admin coherence
// the way imported or hand-edited account records may need. Run at startup.
func (r *Registry) ReconcileFull() error {
	return r.store.UpdateAccounts(func(accounts map[string]types.Account, admins map[string]types.AdminEntry, chats map[string]string) error {
		for k := range admins {
			delete(admins, k)
		}
		for k := range chats {
			delete(chats, k)
		}
		for id, acc := range accounts {
			if acc.IsAdmin && acc.Role != types.RoleAdmin {
				acc.Role = types.RoleAdmin
				accounts[id] = acc
				r.log.Warn().Str("account", id).Msg("normalized role for admin account")
			}
			if !acc.IsAdmin && acc.Role == types.RoleAdmin {
				acc.IsAdmin = true
				accounts[id] = acc
				r.log.Warn().Str("account", id).Msg("normalized is_admin flag for admin role")
			}
			if !acc.Linked() {
				continue
			}
			key := chatKey(acc.ChatID())
			chats[key] = id
			if acc.IsAdmin {
				admins[key] = types.AdminEntry{
					AccountID:   id,
					DisplayName: acc.DisplayName,
					AddedAt:     acc.CreatedAt,
				}
			}
		}
		return nil
	})
}

// CreateAccount inserts a new account and patches both indices. Conflict if
// the id or username is already taken, or the chat is linked elsewhere.
func (r *Registry) CreateAccount(acc types.Account) error {
	return r.store.UpdateAccounts(func(accounts map[string]types.Account, admins map[string]types.AdminEntry, chats map[string]string) error {
		if _, ok := accounts[acc.AccountID]; ok {
			return fmt.Errorf("%w: account %s already exists", types.ErrConflict, acc.AccountID)
		}
		for _, existing := range accounts {
			if strings.EqualFold(existing.DisplayName, acc.DisplayName) {
				return fmt.Errorf("%w: username %q already taken", types.ErrConflict, acc.DisplayName)
			}
		}
		if acc.Linked() {
			if other, ok := chats[chatKey(acc.ChatID())]; ok {
				return fmt.Errorf("%w: chat %d already linked to account %s", types.ErrConflict, acc.ChatID(), other)
			}
		}
		accounts[acc.AccountID] = acc
		r.patch(acc, admins, chats)
		return nil
	})
}

// LinkChat sets the account's linked chat. Conflict if the account is
// already linked to a different chat, or the chat is linked to a different
// account. Linking to the chat it is already linked to is a no-op.
func (r *Registry) LinkChat(accountID string, chatID int64) error {
	return r.store.UpdateAccounts(func(accounts map[string]types.Account, admins map[string]types.AdminEntry, chats map[string]string) error {
		acc, ok := accounts[accountID]
		if !ok {
			return fmt.Errorf("%w: account %s", types.ErrNotFound, accountID)
		}
		if acc.Linked() {
			if acc.ChatID() == chatID {
				return nil
			}
			return fmt.Errorf("%w: account %s already linked to chat %d", types.ErrConflict, accountID, acc.ChatID())
		}
		if other, ok := chats[chatKey(chatID)]; ok && other != accountID {
			return fmt.Errorf("%w: chat %d already linked to account %s", types.ErrConflict, chatID, other)
		}
		id := chatID
		acc.LinkedChatID = &id
		accounts[accountID] = acc
		r.patch(acc, admins, chats)
		return nil
	})
}

// UnlinkChat clears the account's linked chat and removes its index entries.
func (r *Registry) UnlinkChat(accountID string) error {
	return r.store.UpdateAccounts(func(accounts map[string]types.Account, admins map[string]types.AdminEntry, chats map[string]string) error {
		acc, ok := accounts[accountID]
		if !ok {
			return fmt.Errorf("%w: account %s", types.ErrNotFound, accountID)
		}
		if !acc.Linked() {
			return fmt.Errorf("%w: account %s is not linked", types.ErrNotFound, accountID)
		}
		key := chatKey(acc.ChatID())
		delete(chats, key)
		delete(admins, key)
		acc.LinkedChatID = nil
		accounts[accountID] = acc
		return nil
	})
}

// SetAdmin toggles the admin flag, keeping role and admin index in step.
func (r *Registry) SetAdmin(accountID string, isAdmin bool) error {
	return r.store.UpdateAccounts(func(accounts map[string]types.Account, admins map[string]types.AdminEntry, chats map[string]string) error {
		acc, ok := accounts[accountID]
		if !ok {
			return fmt.Errorf("%w: account %s", types.ErrNotFound, accountID)
		}
		acc.IsAdmin = isAdmin
		if isAdmin {
			acc.Role = types.RoleAdmin
		} else if acc.Role == types.RoleAdmin {
			acc.Role = types.RoleRegular
		}
		accounts[accountID] = acc
		if acc.Linked() && !isAdmin {
			delete(admins, chatKey(acc.ChatID()))
		}
		r.patch(acc, admins, chats)
		return nil
	})
}

// patch applies acc's index consequences to staged index maps.
func (r *Registry) patch(acc types.Account, admins map[string]types.AdminEntry, chats map[string]string) {
	if !acc.Linked() {
		return
	}
	key := chatKey(acc.ChatID())
	chats[key] = acc.AccountID
	if acc.IsAdmin {
		admins[key] = types.AdminEntry{
			AccountID:   acc.AccountID,
			DisplayName: acc.DisplayName,
			AddedAt:     acc.CreatedAt,
		}
	}
}

func (r *Registry) Account(accountID string) (types.Account, bool) {
	return r.store.Accounts.Get(accountID)
}

// AccountByChat resolves a chat id through the chat mapping. A stale entry
// (mapping present but the account is gone or no longer linked to this
// chat) is purged on the spot.
func (r *Registry) AccountByChat(chatID int64) (types.Account, bool) {
	key := chatKey(chatID)
	id, ok := r.store.ChatMapping.Get(key)
	if !ok {
		return types.Account{}, false
	}
	acc, ok := r.store.Accounts.Get(id)
	if !ok || !acc.Linked() || acc.ChatID() != chatID {
		if err := r.store.ChatMapping.Delete(key); err != nil {
			r.log.Warn().Err(err).Str("chat", key).Msg("failed to purge stale chat mapping")
		}
		return types.Account{}, false
	}
	return acc, true
}

// AccountByUsername finds an account by display name, case-insensitively.
func (r *Registry) AccountByUsername(username string) (types.Account, bool) {
	for _, acc := range r.store.Accounts.List() {
		if strings.EqualFold(acc.DisplayName, username) {
			return acc, true
		}
	}
	return types.Account{}, false
}

func (r *Registry) UsernameTaken(username string) bool {
	_, ok := r.AccountByUsername(username)
	return ok
}

func (r *Registry) IsAdmin(chatID int64) bool {
	_, ok := r.store.AdminIndex.Get(chatKey(chatID))
	return ok
}

// AdminChats lists every chat id in the admin index, for fan-out
// notifications to approvers.
func (r *Registry) AdminChats() []int64 {
	entries := r.store.AdminIndex.List()
	out := make([]int64, 0, len(entries))
	for key := range entries {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (r *Registry) Accounts() map[string]types.Account {
	return r.store.Accounts.List()
}

// ImportRemote seeds the account collection from the media server's user
// list. Used once at startup when the accounts snapshot is empty: server
// administrators come in flagged as admins, everyone else as privileged
// (existing members keep access without a subscription), nobody linked.
func (r *Registry) ImportRemote(remote []types.RemoteAccount) error {
	if len(remote) == 0 {
		return nil
	}
	now := r.now().Unix()
	err := r.store.UpdateAccounts(func(accounts map[string]types.Account, admins map[string]types.AdminEntry, chats map[string]string) error {
		for _, u := range remote {
			role := types.RolePrivileged
			if u.IsAdmin {
				role = types.RoleAdmin
			}
			accounts[u.ID] = types.Account{
				AccountID:   u.ID,
				DisplayName: u.Name,
				CreatedAt:   now,
				IsAdmin:     u.IsAdmin,
				Role:        role,
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.log.Info().Int("accounts", len(remote)).Msg("imported accounts from media server")
	return nil
}
