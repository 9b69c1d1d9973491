package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                int
	NatsURL             string
	DatabaseURL         string
	GiftSubject         string
	IngestLanes         int
	BatchFlushInterval  time.Duration
	BatchFlushThreshold int
	BufferMaxSize       int
	LogLevel            string
	ValueMultiplier     int64
	StreakIdleThreshold time.Duration
	StreakSweepInterval time.Duration
	RedisURL            string
	RedisChannel        string
	RedisPublishRetries int
	SlackBotToken       string
	SlackAlertChannel   string
	AutoMigrate         bool
	WSAllowedOrigins    []string
}

func Load() Config {
	return Config{
		Port:                envInt("GIFTSTREAM_PORT", 8710),
		NatsURL:             envStr("NATS_URL", "nats://localhost:4222"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		GiftSubject:         envStr("GIFT_SUBJECT", "live.gift.>"),
		IngestLanes:         envPositive("INGEST_LANES", 16),
		BatchFlushInterval:  time.Duration(envPositive("BATCH_FLUSH_INTERVAL_MS", 2000)) * time.Millisecond,
		BatchFlushThreshold: envPositive("BATCH_FLUSH_THRESHOLD", 100),
		BufferMaxSize:       envPositive("BUFFER_MAX_SIZE", 10000),
		LogLevel:            envStr("LOG_LEVEL", "info"),
		ValueMultiplier:     int64(envInt("VALUE_MULTIPLIER", 2)),
		StreakIdleThreshold: time.Duration(envPositive("STREAK_IDLE_THRESHOLD_MS", 120000)) * time.Millisecond,
		StreakSweepInterval: time.Duration(envPositive("STREAK_SWEEP_INTERVAL_MS", 60000)) * time.Millisecond,
		RedisURL:            envStr("REDIS_URL", ""),
		RedisChannel:        envStr("REDIS_CHANNEL", "giftstream:gifts"),
		RedisPublishRetries: envInt("REDIS_PUBLISH_RETRIES", 1),
		SlackBotToken:       envStr("SLACK_BOT_TOKEN", ""),
		SlackAlertChannel:   envStr("SLACK_ALERT_CHANNEL", ""),
		AutoMigrate:         envBool("AUTO_MIGRATE", true),
		WSAllowedOrigins:    envList("WS_ALLOWED_ORIGINS"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// envPositive is envInt for sizes and intervals: zero or negative values
// fall back to the default.
func envPositive(key string, fallback int) int {
	if n := envInt(key, fallback); n > 0 {
		return n
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
