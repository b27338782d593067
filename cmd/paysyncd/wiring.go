package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/paysync/internal/config"
	"github.com/mihaimyh/paysync/pkg/payment"
	firestorestore "github.com/mihaimyh/paysync/storage/firestore"
	"github.com/mihaimyh/paysync/storage/memory"
	"github.com/mihaimyh/paysync/storage/postgres"
	redisstore "github.com/mihaimyh/paysync/storage/redis"
	"github.com/mihaimyh/paysync/storage/tiered"
)

// backends owns every external connection the daemon opened.
type backends struct {
	records payment.RecordStore
	users   payment.SubscriptionStore
	health  []func(ctx context.Context) error
	closers []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func (b *backends) Ping(ctx context.Context) error {
	for _, check := range b.health {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func newZerolog(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("service", "paysyncd").Logger()
}

// openBackends picks the record store (Redis behind an in-memory hot tier,
// or memory alone) and the user store (Postgres, Firestore or memory).
func openBackends(ctx context.Context, cfg *config.Config, logger payment.Logger) (*backends, error) {
	b := &backends{}

	hot := memory.New()
	b.records = hot
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		b.closers = append(b.closers, func() { _ = client.Close() })

		cold, err := redisstore.New(client, redisstore.DefaultConfig())
		if err != nil {
			b.Close()
			return nil, err
		}
		if err := cold.Ping(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		b.health = append(b.health, cold.Ping)

		b.records, err = tiered.New(tiered.Config{
			Hot:  hot,
			Cold: cold,
			HotErrorHandler: func(err error) {
				logger.Warn("hot record cache write failed", payment.F("error", err.Error()))
			},
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		logger.Info("payment records stored in redis", payment.F("cache", "memory"))
	} else {
		logger.Warn("payment records kept in memory only; tokens recreate them after a restart")
	}

	switch {
	case cfg.DatabaseURL != "":
		pgConfig := postgres.DefaultConfig()
		pgConfig.ConnectionString = cfg.DatabaseURL
		store, err := postgres.New(ctx, pgConfig)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, store.Close)
		b.users = store
		logger.Info("subscriptions stored in postgres")
	case cfg.FirestoreProjectID != "":
		client, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("firestore client: %w", err)
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		store, err := firestorestore.New(client, firestorestore.Config{})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.users = store
		logger.Info("subscriptions stored in firestore", payment.F("project", cfg.FirestoreProjectID))
	default:
		b.users = memory.NewUsers()
		logger.Warn("subscriptions kept in memory only; configure DATABASE_URL or FIRESTORE_PROJECT_ID")
	}
	return b, nil
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
