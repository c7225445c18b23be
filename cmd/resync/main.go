package main

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"ota_sync/internal/adapters/channel"
	"ota_sync/internal/adapters/observability"
	redisad "ota_sync/internal/adapters/redis"
	"ota_sync/internal/app"
	"ota_sync/internal/shared"
	mysqlrepo "ota_sync/internal/storage/mysql"
)

// resync pushes base rates and availability for every active property.
// With RESYNC_SCHEDULE set it stays up and runs on that cron expression,
// otherwise it runs once and exits.
func main() {
	cfg := shared.Load()

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "ota-sync-resync", cfg.LogLevel)

	log.Info().
		Str("schedule", cfg.ResyncSchedule).
		Int("horizon_days", cfg.ResyncHorizonDays).
		Int("workers", cfg.ResyncWorkers).
		Msg("resync starting")

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")

	client, err := channel.New(channel.Options{
		Live:           channel.Credentials{BaseURL: cfg.ChannelBase, APIKey: cfg.ChannelKey},
		Sandbox:        channel.Credentials{BaseURL: cfg.ChannelSandboxBase, APIKey: cfg.ChannelSandboxKey},
		RPS:            cfg.ChannelRPS,
		RequestTimeout: cfg.ChannelTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize channel client")
	}

	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	mappings := app.NewMappingService(repo, cache, cfg.CacheTTL)
	ledger := app.NewLedger(repo)
	dispatcher := app.NewDispatcher(mappings, client, ledger, app.DispatcherOptions{
		Workers:     cfg.SyncWorkers,
		MaxDays:     cfg.SyncMaxBatchDays,
		CallTimeout: cfg.ChannelTimeout + 5*time.Second,
	})
	resync := app.NewResyncService(mappings, dispatcher, repo, cfg.ResyncHorizonDays, cfg.ResyncWorkers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runOnce := func() {
		started := time.Now()
		rep, err := resync.RunAll(ctx)
		ev := log.Info()
		if err != nil || rep.Failed > 0 {
			ev = log.Warn().Err(err)
		}
		ev.Int("properties", rep.Properties).
			Int("failed", rep.Failed).
			Dur("took", time.Since(started)).
			Msg("resync completed")
	}

	if cfg.ResyncSchedule == "" {
		runOnce()
		return
	}

	observability.Serve(cfg.MetricsAddr, observability.InitRegistry())

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.ResyncSchedule, runOnce); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.ResyncSchedule).Msg("invalid RESYNC_SCHEDULE")
	}
	c.Start()
	log.Info().Msg("resync scheduler running")

	<-ctx.Done()
	<-c.Stop().Done()
	log.Info().Msg("resync scheduler stopped")
}
