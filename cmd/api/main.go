package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"ota_sync/internal/adapters/channel"
	server "ota_sync/internal/adapters/http_server"
	"ota_sync/internal/adapters/observability"
	redisad "ota_sync/internal/adapters/redis"
	"ota_sync/internal/app"
	"ota_sync/internal/shared"
	mysqlrepo "ota_sync/internal/storage/mysql"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, "ota-sync-api", cfg.LogLevel)

	// db
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("database connection ok")

	client, err := channel.New(channel.Options{
		Live:           channel.Credentials{BaseURL: cfg.ChannelBase, APIKey: cfg.ChannelKey},
		Sandbox:        channel.Credentials{BaseURL: cfg.ChannelSandboxBase, APIKey: cfg.ChannelSandboxKey},
		RPS:            cfg.ChannelRPS,
		RequestTimeout: cfg.ChannelTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize channel client")
	}

	// deps
	repo := mysqlrepo.New(db)
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	locker := redisad.NewLocker(cache.Client(), 30*time.Second)

	mappings := app.NewMappingService(repo, cache, cfg.CacheTTL)
	ledger := app.NewLedger(repo)
	dispatcher := app.NewDispatcher(mappings, client, ledger, app.DispatcherOptions{
		Workers:     cfg.SyncWorkers,
		MaxDays:     cfg.SyncMaxBatchDays,
		CallTimeout: cfg.ChannelTimeout + 5*time.Second,
	})
	prober := app.NewProber(mappings, client, ledger, cfg.ChannelTimeout)
	receiver := app.NewReceiver(mappings, repo, ledger, locker, cfg.WebhookLockWait)

	// http
	srv := server.New(2 * time.Minute)
	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Mappings:      mappings,
		Dispatcher:    dispatcher,
		Prober:        prober,
		Ledger:        ledger,
		Receiver:      receiver,
		WebhookSecret: cfg.WebhookSecret,
	})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdown); err != nil {
			log.Error().Err(err).Msg("http shutdown failed")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server failed")
	}
	log.Info().Msg("API stopped")
}
