// Package postgres provides a PostgreSQL implementation of the
// payment.SubscriptionStore interface backed by the application's users table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// ErrUserNotFound is returned when the users table has no row for the user
var ErrUserNotFound = errors.New("user not found")

// Storage implements payment.SubscriptionStore using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config

	setQuery string
	getQuery string
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Table is the users table (default: "users")
	Table string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Table:           "users",
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}
	if config.Table == "" {
		config.Table = "users"
	}

	// Parse connection string
	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	// Apply pool settings
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	// Create connection pool
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return newStorage(pool, config), nil
}

func newStorage(pool *pgxpool.Pool, config Config) *Storage {
	table := tableIdentifier(config.Table)
	return &Storage{
		pool:   pool,
		config: config,
		setQuery: `UPDATE ` + table + `
			SET subscription_tier = $2, updated_at = NOW()
			WHERE id = $1`,
		getQuery: `SELECT subscription_tier FROM ` + table + ` WHERE id = $1`,
	}
}

// tableIdentifier quotes a possibly schema-qualified table name.
func tableIdentifier(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close() // Close PG connection pool
	}
}

// EnsureSchema creates the users table when it does not exist.
// Intended for development and tests; production schemas are owned elsewhere.
func (s *Storage) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+tableIdentifier(s.config.Table)+` (
		id TEXT PRIMARY KEY,
		subscription_tier TEXT NOT NULL DEFAULT 'free',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil {
		return classify("ensure_schema", err)
	}
	return nil
}

// SetSubscription implements payment.SubscriptionStore.
// Writing the tier a user already has is a successful no-op change.
func (s *Storage) SetSubscription(ctx context.Context, userID string, tier payment.Tier) error {
	tag, err := s.pool.Exec(ctx, s.setQuery, userID, string(tier))
	if err != nil {
		return classify("set_subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return payment.Fatal("set_subscription", fmt.Errorf("%w: %s", ErrUserNotFound, userID))
	}
	return nil
}

// Subscription returns the stored tier for userID
func (s *Storage) Subscription(ctx context.Context, userID string) (payment.Tier, error) {
	var tier string
	err := s.pool.QueryRow(ctx, s.getQuery, userID).Scan(&tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", classify("get_subscription", err)
	}
	return payment.Tier(tier), nil
}

// transientSQLStates are server-reported conditions worth retrying.
var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
}

// classify maps pgx errors onto payment store errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception
		if strings.HasPrefix(pgErr.Code, "08") || transientSQLStates[pgErr.Code] {
			return payment.Transient(op, err)
		}
		return payment.Fatal(op, err)
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return payment.Transient(op, err)
	}
	return payment.ClassifyNetError(op, err)
}
