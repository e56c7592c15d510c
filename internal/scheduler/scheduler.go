// Package scheduler runs the background maintenance loops: the hourly
// expiry sweep that cuts off lapsed subscriptions, and the daily cleanup
// that drops stale pending requests and payment records.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"jellyward/internal/mediaserver"
	"jellyward/internal/messages"
	"jellyward/internal/registry"
	"jellyward/internal/subscription"
	"jellyward/internal/workflow"
	"jellyward/types"
)

type Scheduler struct {
	registry *registry.Registry
	subs     *subscription.Manager
	flow     *workflow.Engine
	media    types.MediaServer
	notifier types.Notifier

	sweepEvery   time.Duration
	cleanupEvery time.Duration

	log     zerolog.Logger
	now     func() time.Time
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(reg *registry.Registry, subs *subscription.Manager, flow *workflow.Engine, media types.MediaServer, notifier types.Notifier, sweepEvery, cleanupEvery time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		registry:     reg,
		subs:         subs,
		flow:         flow,
		media:        media,
		notifier:     notifier,
		sweepEvery:   sweepEvery,
		cleanupEvery: cleanupEvery,
		log:          log.With().Str("component", "scheduler").Logger(),
		now:          time.Now,
	}
}

// Start launches both loops. Each loop runs its pass once immediately and
// then on its ticker. Start is idempotent while running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(2)
	go s.loop(ctx, s.sweepEvery, "expiry sweep", s.SweepExpirations)
	go s.loop(ctx, s.cleanupEvery, "cleanup", s.Cleanup)
	s.log.Info().Dur("sweep_every", s.sweepEvery).Dur("cleanup_every", s.cleanupEvery).Msg("scheduler started")
}

// Stop cancels the loops and waits for in-flight passes to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, every time.Duration, name string, pass func(context.Context)) {
	defer s.wg.Done()
	pass(ctx)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.log.Debug().Str("pass", name).Msg("running scheduled pass")
			pass(ctx)
		}
	}
}

// SweepExpirations disables every account whose subscription has lapsed and
// notifies the member once. The disabled marker is written only after the
// media server call succeeds, so a failed call leaves the record unmarked
// and the next pass retries; a marked record is never disabled or notified
// again.
func (s *Scheduler) SweepExpirations(ctx context.Context) {
	now := s.now()
	for accountID, sub := range s.subs.Subscriptions() {
		if sub.Disabled || sub.EntitledAt(now) {
			continue
		}
		acc, ok := s.registry.Account(accountID)
		if !ok {
			s.log.Warn().Str("account", accountID).Msg("subscription for unknown account, skipping")
			continue
		}
		if acc.Role != types.RoleRegular {
			continue
		}
		err := mediaserver.Retry(ctx, s.log, "disable expired account", func(ctx context.Context) error {
			return s.media.DisableAccount(ctx, accountID)
		})
		if err != nil {
			s.log.Error().Err(err).Str("account", accountID).Msg("could not disable expired account, will retry next sweep")
			continue
		}
		if err := s.subs.MarkDisabled(accountID); err != nil {
			s.log.Error().Err(err).Str("account", accountID).Msg("disabled account but could not mark subscription")
			continue
		}
		s.log.Info().Str("account", accountID).Msg("expired subscription disabled")
		if acc.Linked() {
			s.notify(ctx, acc.ChatID(), messages.SubscriptionExpired(acc.DisplayName))
		}
	}
}

// Cleanup drops week-old pending requests, auto-rejects week-old pending
// payments, and purges resolved payments past retention.
func (s *Scheduler) Cleanup(ctx context.Context) {
	now := s.now()
	for _, req := range s.flow.SweepExpired(now) {
		s.notify(ctx, req.ChatID, messages.RequestExpired(req.Kind))
	}
	for _, p := range s.subs.CleanupPayments(now) {
		s.notify(ctx, p.ChatID, messages.PaymentExpired(p.PlanID))
	}
}

func (s *Scheduler) notify(ctx context.Context, chatID int64, text string) {
	if err := s.notifier.Notify(ctx, chatID, text); err != nil {
		s.log.Warn().Err(err).Int64("chat", chatID).Msg("notification failed")
	}
}
