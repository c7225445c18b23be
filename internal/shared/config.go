package shared

import (
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv      string
	LogLevel    string
	HTTPAddr    string
	MetricsAddr string
	MySQLDSN    string
	RedisAddr   string
	RedisDB     int
	RedisPass   string
	CacheTTL    time.Duration

	ChannelBase        string
	ChannelSandboxBase string
	ChannelKey         string
	ChannelSandboxKey  string
	ChannelRPS         int
	ChannelTimeout     time.Duration

	SyncWorkers      int
	SyncMaxBatchDays int

	WebhookSecret   string
	WebhookLockWait time.Duration

	ResyncSchedule    string
	ResyncHorizonDays int
	ResyncWorkers     int
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:      env("APP_ENV", "prod"),
		LogLevel:    env("LOG_LEVEL", "info"),
		HTTPAddr:    env("HTTP_ADDR", ":8080"),
		MetricsAddr: env("METRICS_ADDR", ":9100"),
		MySQLDSN:    env("MYSQL_DSN", "root:root@tcp(localhost:3306)/otasync?parseTime=true&charset=utf8mb4,utf8&loc=UTC"),
		RedisAddr:   env("REDIS_ADDR", "localhost:6379"),
		RedisDB:     atoi("REDIS_DB", 0),
		RedisPass:   env("REDIS_PASSWORD", ""),
		CacheTTL:    time.Duration(atoi("CACHE_TTL_SECONDS", 300)) * time.Second,

		ChannelBase:        env("CHANNEL_BASE_URL", "https://api.channel-manager.example/v1"),
		ChannelSandboxBase: env("CHANNEL_SANDBOX_BASE_URL", "https://sandbox.channel-manager.example/v1"),
		ChannelKey:         env("CHANNEL_API_KEY", ""),
		ChannelSandboxKey:  env("CHANNEL_SANDBOX_API_KEY", ""),
		ChannelRPS:         atoi("CHANNEL_RPS", 5),
		ChannelTimeout:     time.Duration(atoi("CHANNEL_TIMEOUT_SECONDS", 20)) * time.Second,

		SyncWorkers:      atoi("SYNC_WORKERS", 4),
		SyncMaxBatchDays: atoi("SYNC_MAX_BATCH_DAYS", 31),

		WebhookSecret:   env("WEBHOOK_SECRET", ""),
		WebhookLockWait: time.Duration(atoi("WEBHOOK_LOCK_WAIT_SECONDS", 10)) * time.Second,

		ResyncSchedule:    env("RESYNC_SCHEDULE", ""),
		ResyncHorizonDays: atoi("RESYNC_HORIZON_DAYS", 90),
		ResyncWorkers:     atoi("RESYNC_WORKERS", 4),
	}
	if c.ChannelKey == "" && c.ChannelSandboxKey == "" {
		log.Warn().Msg("CHANNEL_API_KEY and CHANNEL_SANDBOX_API_KEY are both empty")
	}
	if c.WebhookSecret == "" {
		log.Warn().Msg("WEBHOOK_SECRET is empty; reservation webhook accepts unauthenticated deliveries")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
