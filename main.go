package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"kombat-farm-bot/automation"
	"kombat-farm-bot/bot"
	"kombat-farm-bot/config"
	"kombat-farm-bot/kombat"
	"kombat-farm-bot/logging"
	"kombat-farm-bot/ops"
	"kombat-farm-bot/proxy"
	"kombat-farm-bot/scheduler"
	"kombat-farm-bot/storage"
)

func main() {
	log := logging.For(logging.Service)
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Init(cfg.Log)
	log = logging.For(logging.Service)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.DatabasePath, cfg.DatabaseLogging)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	// Auto migrate
	if err := storage.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	if err := scheduler.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate schedules")
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal().Err(err).Msg("database handle")
	}

	var broker scheduler.Broker = scheduler.NewLocalBroker()
	if cfg.EventBrokerDSN != "" {
		pg, err := scheduler.NewPGBroker(ctx, cfg.EventBrokerDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("connect event broker")
		}
		defer pg.Close()
		broker = pg
	}

	loc := cfg.Location()
	store := scheduler.New(db, scheduler.Options{
		Executor: cfg.SchedulerExecutor,
		Broker:   broker,
		Location: loc,
	})

	policy, err := automation.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load policy")
	}

	runner := automation.NewRunner(automation.Runner{
		Sessions:    storage.Sessions{DB: db},
		Schedules:   store,
		Clients:     automation.KombatClients{Base: kombat.NewClient(cfg.GameBaseURL, cfg.GameTimeout)},
		Checker:     proxy.NewChecker(cfg.ServerIP, cfg.ProxyJudges),
		Policy:      policy,
		Location:    loc,
		MaxAccounts: cfg.MaxAccounts,
	})

	b, err := bot.NewBot(cfg.BotToken, runner, cfg.DropPendingUpdates)
	if err != nil {
		log.Fatal().Err(err).Msg("create bot")
	}
	runner.Notifier = b

	// Scheduler
	store.ConfigureTask(scheduler.TaskAutofarm, runner.Autofarm)
	store.ConfigureTask(scheduler.TaskAutoupgrade, runner.Autoupgrade)
	store.ConfigureTask(scheduler.TaskAutosync, runner.Autosync)
	store.ConfigureTask(scheduler.TaskNightSleep, runner.NightSleep)

	if cfg.NightSleep {
		if _, err := store.Add(ctx, runner.NightSleepTrigger(time.Now()), scheduler.GlobalID(scheduler.TaskNightSleep), false, scheduler.Args{}); err != nil {
			log.Fatal().Err(err).Msg("schedule night sleep")
		}
	}

	if err := store.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           ops.NewRouter(sqlDB, store),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("ops server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ops server stopped")
			stop()
		}
	}()

	go b.Start(ctx)

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("ops server shutdown")
	}
	if err := store.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("scheduler shutdown")
	}
	if err := sqlDB.Close(); err != nil {
		log.Warn().Err(err).Msg("close database")
	}
}
