package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"jellyward/internal/config"
	"jellyward/internal/handlers"
	"jellyward/internal/mediaserver"
	"jellyward/internal/middleware"
	"jellyward/internal/registry"
	"jellyward/internal/scheduler"
	"jellyward/internal/subscription"
	"jellyward/internal/workflow"
	"jellyward/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("configuration error")
	}

	log := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Storage.Dir, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	media := mediaserver.NewClient(cfg.MediaServer.BaseURL, cfg.MediaServer.APIKey, log)
	reg := registry.New(st, log)

	// First run against an existing server: seed accounts from its user
	// list so members can link right away.
	if st.Accounts.Len() == 0 {
		remote, err := media.ListAccounts(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("account snapshot is empty and the media server user list could not be fetched")
		}
		if err := reg.ImportRemote(remote); err != nil {
			log.Fatal().Err(err).Msg("import from media server failed")
		}
	}

	if err := reg.ReconcileFull(); err != nil {
		log.Fatal().Err(err).Msg("startup reconcile failed")
	}
	if len(reg.AdminChats()) == 0 {
		log.Warn().Msg("no admin account is linked to a chat, approvals will go nowhere until one runs /linkme")
	}

	flow := workflow.New(st, reg, media, log)
	subs := subscription.New(st, reg, media, cfg.Plans, cfg.Payment.UPIID, cfg.Payment.UPIName, log)

	b, err := bot.New(cfg.Telegram.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bot")
	}

	sched := scheduler.New(reg, subs, flow, media, handlers.NewBotNotifier(b), cfg.Sweep.ExpiryInterval, cfg.Sweep.CleanupInterval, log)
	sched.Start(ctx)
	defer sched.Stop()

	h := handlers.New(reg, flow, subs, media, log)
	middlewares := middleware.New(reg, log)

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, middlewares.ResolveActor(h.MainHandler))

	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, middlewares.ResolveActor(h.CallbackHandler))

	log.Info().Msg("bot started")
	b.Start(ctx)
	log.Info().Msg("bot stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = os.Stderr
	if cfg.Logging.JSON {
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: out}).Level(level).With().Timestamp().Logger()
}
