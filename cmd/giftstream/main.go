package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/giftstream/internal/api"
	"github.com/MikeSquared-Agency/giftstream/internal/batcher"
	"github.com/MikeSquared-Agency/giftstream/internal/broadcast"
	"github.com/MikeSquared-Agency/giftstream/internal/catalog"
	"github.com/MikeSquared-Agency/giftstream/internal/config"
	"github.com/MikeSquared-Agency/giftstream/internal/gifts"
	"github.com/MikeSquared-Agency/giftstream/internal/ingester"
	slackalert "github.com/MikeSquared-Agency/giftstream/internal/slack"
	"github.com/MikeSquared-Agency/giftstream/internal/store"
	"github.com/MikeSquared-Agency/giftstream/internal/streak"
	"github.com/MikeSquared-Agency/giftstream/internal/totals"
)

const rejectSubject = "dlq.gift.rejected"

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("giftstream starting",
		"port", cfg.Port,
		"nats_url", cfg.NatsURL,
		"gift_subject", cfg.GiftSubject,
		"lanes", cfg.IngestLanes,
		"value_multiplier", cfg.ValueMultiplier,
		"idle_threshold", cfg.StreakIdleThreshold,
		"sweep_interval", cfg.StreakSweepInterval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Connect to database.
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected")

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			slog.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
	}

	// Step 2: Gift catalog.
	cat := catalog.New()
	cat.SetPersistFunc(db.UpsertGift)
	if err := cat.Load(ctx, db); err != nil {
		slog.Warn("starting with empty gift catalog", "error", err)
	}

	// Step 3: Event log sink with payout totals.
	bat := batcher.New(db, batcher.Config{
		FlushInterval:  cfg.BatchFlushInterval,
		FlushThreshold: cfg.BatchFlushThreshold,
		BufferMax:      cfg.BufferMaxSize,
	}, totals.NewProcessor(db))
	bat.Start(ctx)

	// Step 4: Broadcast sinks.
	hub := broadcast.NewHub(broadcast.DefaultClientBuffer, cfg.WSAllowedOrigins...)
	sinks := []streak.Sink{hub}

	var (
		redisPub   *broadcast.Publisher
		redisQueue *broadcast.Queue
	)
	if cfg.RedisURL != "" {
		redisPub, err = broadcast.NewPublisher(broadcast.RedisConfig{
			URL:     cfg.RedisURL,
			Channel: cfg.RedisChannel,
			Retries: cfg.RedisPublishRetries,
		})
		if err != nil {
			slog.Error("invalid redis configuration", "error", err)
			os.Exit(1)
		}
		if err := redisPub.Ping(ctx); err != nil {
			slog.Warn("redis not reachable yet", "error", err)
		}
		// Publishing retries with backoff; keep it off the normalizer lanes.
		redisQueue = broadcast.NewQueue("redis", redisPub, broadcast.DefaultQueueSize)
		sinks = append(sinks, redisQueue)
		slog.Info("redis broadcast enabled", "channel", cfg.RedisChannel)
	}
	fan := broadcast.NewFanout(sinks...)

	// Step 5: Streak normalizer and idle sweeper.
	streaks := streak.NewStore()
	norm := streak.NewNormalizer(streaks, bat, fan, streak.Config{ValueMultiplier: cfg.ValueMultiplier})

	sweeper := streak.NewSweeper(streaks, streak.SweeperConfig{
		Interval:      cfg.StreakSweepInterval,
		IdleThreshold: cfg.StreakIdleThreshold,
	})
	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweeper.Start(sweepCtx)

	var slackAlerter *slackalert.Alerter
	if cfg.SlackBotToken != "" && cfg.SlackAlertChannel != "" {
		slackAlerter = slackalert.NewAlerter(cfg.SlackBotToken, cfg.SlackAlertChannel)
		slog.Info("Slack alerter enabled", "channel", cfg.SlackAlertChannel)
	}

	alertSinkFailure := func(ctx context.Context, sink string, rec gifts.Record, err error) {
		if slackAlerter == nil {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, slackalert.PostTimeout)
		defer cancel()
		if err := slackAlerter.PostSinkFailureAlert(ctx, sink, rec.EventID, err); err != nil {
			slog.Warn("failed to post sink failure to Slack", "error", err)
		}
	}
	norm.SetSinkErrorHandler(alertSinkFailure)
	if redisQueue != nil {
		redisQueue.SetErrorHandler(func(ctx context.Context, rec gifts.Record, err error) {
			go alertSinkFailure(context.WithoutCancel(ctx), "redis", rec, err)
		})
	}

	// Step 6: Connect to NATS and start ingesting.
	ing, err := ingester.New(ingester.Config{
		URL:     cfg.NatsURL,
		Subject: cfg.GiftSubject,
		Lanes:   cfg.IngestLanes,
	}, norm, cat)
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}

	// Give the batcher a way to publish alerts back to NATS.
	bat.SetNATSPublisher(ing.Publish)

	ing.SetRejectHandler(func(ctx context.Context, subject string, data []byte, cause error) {
		dead, _ := json.Marshal(map[string]any{
			"subject":     subject,
			"reason":      cause.Error(),
			"payload":     json.RawMessage(payloadJSON(data)),
			"rejected_at": time.Now().UTC().Format(time.RFC3339),
		})
		if err := ing.Publish(rejectSubject, dead); err != nil {
			slog.Warn("failed to publish rejected gift event", "error", err)
		}

		if slackAlerter != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), slackalert.PostTimeout)
				defer cancel()
				if err := slackAlerter.PostRejectedAlert(ctx, subject, cause.Error()); err != nil {
					slog.Warn("failed to post rejected event to Slack", "error", err)
				}
			}()
		}
	})

	if err := ing.Start(); err != nil {
		slog.Error("failed to start ingester", "error", err)
		os.Exit(1)
	}
	slog.Info("NATS ingester started")

	// Step 7: Start HTTP API.
	srv := api.NewServer(api.Deps{
		Store:      db,
		Batcher:    bat,
		Normalizer: norm,
		Catalog:    cat,
		Hub:        hub,
	}, cfg.Port)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("giftstream ready", "port", cfg.Port)

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	slog.Info("shutting down", "signal", sig)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}
	hub.Close()

	// Lanes drain inside Close, so every accepted event reaches the sinks
	// before the final flush.
	ing.Close()
	stopSweep()
	sweeper.Wait()
	cancel()
	bat.Wait()

	if redisQueue != nil {
		if err := redisQueue.Close(shutdownCtx); err != nil {
			slog.Warn("redis queue did not drain", "error", err, "dropped", redisQueue.Dropped())
		}
	}
	if redisPub != nil {
		_ = redisPub.Close()
	}

	stats := norm.Stats()
	slog.Info("giftstream stopped",
		"processed", stats.Processed,
		"emitted", stats.Emitted,
		"coins_emitted", stats.CoinsEmitted,
	)
}

// payloadJSON embeds data as-is when it is JSON, otherwise as a string, so the
// dead-letter envelope stays valid JSON.
func payloadJSON(data []byte) []byte {
	if json.Valid(data) {
		return data
	}
	b, _ := json.Marshal(string(data))
	return b
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
