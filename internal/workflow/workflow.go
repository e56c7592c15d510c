// Package workflow implements the approval pipeline: members submit
// registration, link, and unlink requests, admins approve or reject them,
// and unresolved requests age out after a week.
package workflow

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"jellyward/internal/credentials"
	"jellyward/internal/mediaserver"
	"jellyward/internal/registry"
	"jellyward/store"
	"jellyward/types"
)

// Pending requests older than this are dropped by the cleanup sweep.
const requestTTL = 7 * 24 * time.Hour

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// Decision is an admin's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Outcome reports what Resolve did, so the caller can notify both sides.
type Outcome struct {
	Kind      types.RequestKind
	Decision  Decision
	ChatID    int64
	Username  string
	AccountID string
	// Password is set only for an approved registration.
	Password string
}

type Engine struct {
	store    *store.Store
	registry *registry.Registry
	media    types.MediaServer
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string

	// resolveMu serializes Resolve. The transport dispatches each update
	// on its own goroutine, so two admins can approve the same request at
	// once; without serialization both pass the lookup before either
	// deletes the record and the account is provisioned twice.
	resolveMu sync.Mutex
}

func New(s *store.Store, reg *registry.Registry, media types.MediaServer, log zerolog.Logger) *Engine {
	return &Engine{
		store:    s,
		registry: reg,
		media:    media,
		log:      log.With().Str("component", "workflow").Logger(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SubmitRegistration files a registration request for chatID under the
// desired username. One outstanding request per chat per kind.
func (e *Engine) SubmitRegistration(chatID int64, username, displayName string) (string, error) {
	if !usernameRe.MatchString(username) {
		return "", fmt.Errorf("%w: username must be 3-20 characters of letters, digits and underscores", types.ErrInvalidArgument)
	}
	if e.registry.UsernameTaken(username) {
		return "", fmt.Errorf("%w: username %q is already taken", types.ErrConflict, username)
	}
	if _, ok := e.registry.AccountByChat(chatID); ok {
		return "", fmt.Errorf("%w: chat %d is already linked to an account", types.ErrConflict, chatID)
	}
	return e.submit(types.PendingRequest{
		Kind:        types.RequestRegistration,
		ChatID:      chatID,
		Username:    username,
		DisplayName: displayName,
	})
}

// SubmitLink files a request to link chatID to an existing account by
// username.
func (e *Engine) SubmitLink(chatID int64, username, displayName string) (string, error) {
	acc, ok := e.registry.AccountByUsername(username)
	if !ok {
		return "", fmt.Errorf("%w: no account named %q", types.ErrNotFound, username)
	}
	if acc.Linked() {
		return "", fmt.Errorf("%w: account %q is already linked", types.ErrConflict, username)
	}
	if _, ok := e.registry.AccountByChat(chatID); ok {
		return "", fmt.Errorf("%w: chat %d is already linked to an account", types.ErrConflict, chatID)
	}
	return e.submit(types.PendingRequest{
		Kind:            types.RequestLink,
		ChatID:          chatID,
		Username:        username,
		DisplayName:     displayName,
		TargetAccountID: acc.AccountID,
	})
}

// SubmitUnlink files a request to detach chatID from its linked account.
func (e *Engine) SubmitUnlink(chatID int64, displayName string) (string, error) {
	acc, ok := e.registry.AccountByChat(chatID)
	if !ok {
		return "", fmt.Errorf("%w: chat %d is not linked to an account", types.ErrNotFound, chatID)
	}
	return e.submit(types.PendingRequest{
		Kind:            types.RequestUnlink,
		ChatID:          chatID,
		Username:        acc.DisplayName,
		DisplayName:     displayName,
		TargetAccountID: acc.AccountID,
	})
}

func (e *Engine) submit(req types.PendingRequest) (string, error) {
	req.RequestedAt = e.now().Unix()
	id := e.newID()
	err := e.store.Pending.Update(func(pending map[string]types.PendingRequest) error {
		for _, other := range pending {
			if other.ChatID == req.ChatID && other.Kind == req.Kind {
				return fmt.Errorf("%w: chat %d already has a pending %s request", types.ErrConflict, req.ChatID, req.Kind)
			}
		}
		pending[id] = req
		return nil
	})
	if err != nil {
		return "", err
	}
	e.log.Info().Str("request", id).Str("kind", string(req.Kind)).Int64("chat", req.ChatID).Msg("request submitted")
	return id, nil
}

// Request returns a pending request by id.
func (e *Engine) Request(id string) (types.PendingRequest, bool) {
	return e.store.Pending.Get(id)
}

// PendingRequests returns all outstanding requests keyed by id.
func (e *Engine) PendingRequests() map[string]types.PendingRequest {
	return e.store.Pending.List()
}

// Resolve applies an admin decision to a pending request. The request is
// deleted only after its effect has been committed, so a crash between the
// two leaves a request that can be resolved again; a second Resolve of the
// same id reports ErrNotFound.
func (e *Engine) Resolve(ctx context.Context, id string, decision Decision, actorChat int64) (Outcome, error) {
	e.resolveMu.Lock()
	defer e.resolveMu.Unlock()

	req, ok := e.store.Pending.Get(id)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: request %s", types.ErrNotFound, id)
	}
	out := Outcome{
		Kind:      req.Kind,
		Decision:  decision,
		ChatID:    req.ChatID,
		Username:  req.Username,
		AccountID: req.TargetAccountID,
	}
	if decision == DecisionReject {
		if err := e.store.Pending.Delete(id); err != nil {
			return Outcome{}, err
		}
		e.log.Info().Str("request", id).Int64("admin", actorChat).Msg("request rejected")
		return out, nil
	}

	switch req.Kind {
	case types.RequestRegistration:
		acc, password, err := e.approveRegistration(ctx, req)
		if err != nil {
			return Outcome{}, err
		}
		out.AccountID = acc.AccountID
		out.Password = password
	case types.RequestLink:
		if err := e.registry.LinkChat(req.TargetAccountID, req.ChatID); err != nil {
			return Outcome{}, err
		}
	case types.RequestUnlink:
		if err := e.registry.UnlinkChat(req.TargetAccountID); err != nil {
			return Outcome{}, err
		}
	default:
		return Outcome{}, fmt.Errorf("%w: unknown request kind %q", types.ErrInvalidArgument, req.Kind)
	}

	if err := e.store.Pending.Delete(id); err != nil {
		e.log.Error().Err(err).Str("request", id).Msg("request effect committed but delete failed")
		return Outcome{}, err
	}
	e.log.Info().Str("request", id).Str("kind", string(req.Kind)).Int64("admin", actorChat).Msg("request approved")
	return out, nil
}

// approveRegistration provisions the account on the media server first,
// because the server-issued id becomes the record key, then commits the
// account and chat mapping locally. New accounts start disabled until a
// subscription activates them.
func (e *Engine) approveRegistration(ctx context.Context, req types.PendingRequest) (types.Account, string, error) {
	password, err := credentials.NewPassword()
	if err != nil {
		return types.Account{}, "", err
	}
	var accountID string
	err = mediaserver.Retry(ctx, e.log, "create account", func(ctx context.Context) error {
		var err error
		accountID, err = e.media.CreateAccount(ctx, req.Username, password)
		return err
	})
	if err != nil {
		return types.Account{}, "", err
	}
	if err := mediaserver.Retry(ctx, e.log, "disable new account", func(ctx context.Context) error {
		return e.media.DisableAccount(ctx, accountID)
	}); err != nil {
		e.log.Warn().Err(err).Str("account", accountID).Msg("could not disable new account, it stays enabled until the next sweep")
	}
	chatID := req.ChatID
	acc := types.Account{
		AccountID:    accountID,
		DisplayName:  req.Username,
		LinkedChatID: &chatID,
		CreatedAt:    e.now().Unix(),
		Role:         types.RoleRegular,
	}
	if err := e.registry.CreateAccount(acc); err != nil {
		return types.Account{}, "", err
	}
	return acc, password, nil
}

// SweepExpired drops pending requests older than a week and returns them so
// the caller can notify the submitters.
func (e *Engine) SweepExpired(now time.Time) []types.PendingRequest {
	cutoff := now.Add(-requestTTL).Unix()
	var dropped []types.PendingRequest
	err := e.store.Pending.Update(func(pending map[string]types.PendingRequest) error {
		for id, req := range pending {
			if req.RequestedAt < cutoff {
				dropped = append(dropped, req)
				delete(pending, id)
			}
		}
		return nil
	})
	if err != nil {
		e.log.Error().Err(err).Msg("pending request sweep failed")
		return nil
	}
	if len(dropped) > 0 {
		e.log.Info().Int("dropped", len(dropped)).Msg("expired pending requests removed")
	}
	return dropped
}
