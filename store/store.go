package store

import (
	"maps"
	"os"

	"github.com/rs/zerolog"

	"jellyward/types"
)

// Store owns the five durable collections plus the two derived indices over
// accounts. All other components mutate state only through collection
// updates; nothing outside this package touches a collection's internals.
type Store struct {
	Accounts      *Collection[types.Account]
	AdminIndex    *Collection[types.AdminEntry]
	ChatMapping   *Collection[string]
	Pending       *Collection[types.PendingRequest]
	Subscriptions *Collection[types.Subscription]
	Payments      *Collection[types.PaymentRequest]

	log zerolog.Logger
}

// Open hydrates every collection from dir. Accounts are required: a corrupt
// accounts snapshot fails startup instead of silently starting empty.
func Open(dir string, log zerolog.Logger) (*Store, error) {
	s := &Store{log: log}

	var err error
	if s.Accounts, err = openCollection[types.Account](dir, "accounts", true, log); err != nil {
		return nil, err
	}
	if s.AdminIndex, err = openCollection[types.AdminEntry](dir, "admins", false, log); err != nil {
		return nil, err
	}
	if s.ChatMapping, err = openCollection[string](dir, "chat_mapping", false, log); err != nil {
		return nil, err
	}
	if s.Pending, err = openCollection[types.PendingRequest](dir, "pending", false, log); err != nil {
		return nil, err
	}
	if s.Subscriptions, err = openCollection[types.Subscription](dir, "subscriptions", false, log); err != nil {
		return nil, err
	}
	if s.Payments, err = openCollection[types.PaymentRequest](dir, "payment_requests", false, log); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateAccounts runs fn with exclusive access to staged copies of the
// account collection and both derived indices, so an account mutation and
// its index consequences are never observable apart. All three snapshots are
// staged to temporary files before any of them is renamed into place, so an
// encode or write failure aborts the whole update with nothing applied. A
// failure during the rename phase can still leave an index snapshot behind
// the accounts snapshot; the startup rebuild repairs that.
func (s *Store) UpdateAccounts(fn func(accounts map[string]types.Account, admins map[string]types.AdminEntry, chats map[string]string) error) error {
	s.Accounts.mu.Lock()
	defer s.Accounts.mu.Unlock()
	s.AdminIndex.mu.Lock()
	defer s.AdminIndex.mu.Unlock()
	s.ChatMapping.mu.Lock()
	defer s.ChatMapping.mu.Unlock()

	accounts := maps.Clone(s.Accounts.items)
	admins := maps.Clone(s.AdminIndex.items)
	chats := maps.Clone(s.ChatMapping.items)

	if err := fn(accounts, admins, chats); err != nil {
		return err
	}

	accountsTmp, err := s.Accounts.stage(accounts)
	if err != nil {
		return err
	}
	adminsTmp, err := s.AdminIndex.stage(admins)
	if err != nil {
		_ = os.Remove(accountsTmp)
		return err
	}
	chatsTmp, err := s.ChatMapping.stage(chats)
	if err != nil {
		_ = os.Remove(accountsTmp)
		_ = os.Remove(adminsTmp)
		return err
	}

	if err := s.Accounts.commit(accountsTmp); err != nil {
		_ = os.Remove(adminsTmp)
		_ = os.Remove(chatsTmp)
		return err
	}
	s.Accounts.items = accounts
	if err := s.AdminIndex.commit(adminsTmp); err != nil {
		s.log.Error().Err(err).Msg("admin index snapshot lagging accounts; startup rebuild will repair it")
		_ = os.Remove(chatsTmp)
		return err
	}
	s.AdminIndex.items = admins
	if err := s.ChatMapping.commit(chatsTmp); err != nil {
		s.log.Error().Err(err).Msg("chat mapping snapshot lagging accounts; startup rebuild will repair it")
		return err
	}
	s.ChatMapping.items = chats
	return nil
}
