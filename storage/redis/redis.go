// Package redis provides a Redis implementation of the payment.RecordStore interface.
// Creation and merges run as Lua scripts so concurrent writers never interleave.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/paysync/pkg/payment"
)

// Storage implements payment.RecordStore using Redis
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "paysync:")
	KeyPrefix string

	// RecordTTL is the TTL for payment records (0 = no expiration)
	RecordTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "paysync:",
		RecordTTL: 30 * 24 * time.Hour,
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	// Set defaults
	if config.KeyPrefix == "" {
		config.KeyPrefix = "paysync:"
	}
	if config.RecordTTL < 0 {
		config.RecordTTL = 0
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}

	// Load Lua scripts
	s.loadScripts()

	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// Store the record unless one exists; return whichever is stored
	s.scripts["create"] = redis.NewScript(`
		local key = KEYS[1]
		local data = ARGV[1]
		local ttl = tonumber(ARGV[2])

		local existing = redis.call('GET', key)
		if existing then
			return existing
		end

		if ttl > 0 then
			redis.call('SET', key, data, 'PX', ttl)
		else
			redis.call('SET', key, data)
		end
		return data
	`)

	// Shallow-merge status / createdAt into an existing record, keeping its TTL
	s.scripts["merge"] = redis.NewScript(`
		local key = KEYS[1]
		local status = ARGV[1]
		local createdAt = ARGV[2]

		local current = redis.call('GET', key)
		if not current then
			return 0
		end

		local cjson = cjson or require('cjson')
		local record = cjson.decode(current)
		if status ~= "" then
			record.status = status
		end
		if createdAt ~= "" then
			record.createdAt = tonumber(createdAt)
		end

		redis.call('SET', key, cjson.encode(record), 'KEEPTTL')
		return 1
	`)
}

func (s *Storage) recordKey(id string) string {
	return s.config.KeyPrefix + "payment:" + id
}

// Get implements payment.RecordStore
func (s *Storage) Get(ctx context.Context, id string) (*payment.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, payment.ErrRecordNotFound
	}
	if err != nil {
		return nil, classify("get_record", err)
	}

	return decodeRecord(data)
}

// CreateIfAbsent implements payment.RecordStore
func (s *Storage) CreateIfAbsent(ctx context.Context, rec *payment.Record) (*payment.Record, error) {
	if rec == nil || rec.ID == "" {
		return nil, fmt.Errorf("invalid payment record")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment record: %w", err)
	}

	result, err := s.scripts["create"].Run(ctx, s.client,
		[]string{s.recordKey(rec.ID)},
		string(data), s.config.RecordTTL.Milliseconds(),
	).Text()
	if err != nil {
		return nil, classify("create_record", err)
	}

	return decodeRecord([]byte(result))
}

// Merge implements payment.RecordStore
func (s *Storage) Merge(ctx context.Context, id string, patch payment.RecordPatch) error {
	var status, createdAt string
	if patch.Status != nil {
		status = string(*patch.Status)
	}
	if patch.CreatedAtMs != nil {
		createdAt = strconv.FormatInt(*patch.CreatedAtMs, 10)
	}
	if status == "" && createdAt == "" {
		return nil
	}

	err := s.scripts["merge"].Run(ctx, s.client,
		[]string{s.recordKey(id)},
		status, createdAt,
	).Err()
	if err != nil {
		return classify("merge_record", err)
	}
	return nil
}

// Ping checks connectivity to Redis
func (s *Storage) Ping(ctx context.Context) error {
	return classify("ping", s.client.Ping(ctx).Err())
}

func decodeRecord(data []byte) (*payment.Record, error) {
	var rec payment.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment record: %w", err)
	}
	return &rec, nil
}

// classify maps go-redis errors onto payment store errors. A dropped
// connection surfaces as io.EOF / io.ErrUnexpectedEOF and is worth retrying.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return payment.Transient(op, err)
	}
	return payment.ClassifyNetError(op, err)
}
