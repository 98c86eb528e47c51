// Package gemredis provides a Redis backed data source for gem mappers
package gemredis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/lemmego/gem"
)

const idField = "id"

// raiseSequence lifts the id sequence to ARGV[1] unless it is already higher
var raiseSequence = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local wanted = tonumber(ARGV[1])
if wanted > current then
	redis.call('SET', KEYS[1], wanted)
	return wanted
end
return current
`)

// =====================================
// Source Implementation
// =====================================

// Source stores each record as a hash under "<prefix>:<id>". All values are
// kept as strings; entities convert them back on read. New ids come from an
// INCR counter under "<prefix>:seq".
type Source struct {
	client *redis.Client
	config gem.Config
	prefix string
	ttl    time.Duration
}

// Open connects to Redis. config.Table is the key prefix; config.Database
// selects the logical database.
//
// Options under "redis": dial_timeout, read_timeout, write_timeout, ttl.
func Open(config gem.Config) (*Source, error) {
	if config.Table == "" {
		return nil, gem.NewError(gem.ErrorTypeValidation, "redis: key prefix (table) is required")
	}

	host := config.Host
	if host == "" {
		host = "localhost"
	}
	port := config.Port
	if port == 0 {
		port = 6379
	}
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: config.Username,
		Password: config.Password,
	}
	if config.ConnectionURL != "" {
		parsed, err := redis.ParseURL(config.ConnectionURL)
		if err != nil {
			return nil, gem.NewErrorWithCause(gem.ErrorTypeValidation, "invalid redis url", err)
		}
		opts = parsed
	}
	if config.Database != "" {
		db, err := strconv.Atoi(config.Database)
		if err != nil {
			return nil, gem.NewErrorWithCause(gem.ErrorTypeValidation, "redis database must be a number", err)
		}
		opts.DB = db
	}
	if config.MaxOpenConns > 0 {
		opts.PoolSize = config.MaxOpenConns
	}
	if config.MaxIdleConns > 0 {
		opts.MinIdleConns = config.MaxIdleConns
	}
	if config.ConnMaxIdleTime > 0 {
		opts.IdleTimeout = config.ConnMaxIdleTime
	}
	if config.ConnMaxLifetime > 0 {
		opts.MaxConnAge = config.ConnMaxLifetime
	}
	opts.DialTimeout = config.OptionDuration("redis", "dial_timeout", opts.DialTimeout)
	opts.ReadTimeout = config.OptionDuration("redis", "read_timeout", opts.ReadTimeout)
	opts.WriteTimeout = config.OptionDuration("redis", "write_timeout", opts.WriteTimeout)

	s := New(redis.NewClient(opts), config.Table)
	s.config = config
	s.ttl = config.OptionDuration("redis", "ttl", 0)

	if err := s.Health(); err != nil {
		s.client.Close()
		return nil, gem.Error{
			Type:    gem.ErrorTypeConnection,
			Message: "failed to connect to Redis",
			Cause:   err,
		}
	}
	return s, nil
}

// New serves records under prefix using an existing client
func New(client *redis.Client, prefix string) *Source {
	return &Source{
		client: client,
		prefix: prefix,
		config: gem.Config{Table: prefix},
	}
}

// Client returns the underlying client
func (s *Source) Client() *redis.Client { return s.client }

func (s *Source) key(id int64) string {
	return s.prefix + ":" + strconv.FormatInt(id, 10)
}

func (s *Source) sequenceKey() string {
	return s.prefix + ":seq"
}

// Fetch implements gem.DataSource
func (s *Source) Fetch(ctx context.Context, id int64) (gem.Record, bool, error) {
	fields, err := s.client.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, false, convertRedisError(err)
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	rec := make(gem.Record, len(fields))
	for k, v := range fields {
		rec[k] = v
	}
	rec[idField] = id
	return rec, true, nil
}

// Insert implements gem.Writer
func (s *Source) Insert(ctx context.Context, rec gem.Record) (int64, error) {
	fields, err := encodeFields(rec)
	if err != nil {
		return 0, err
	}

	id := gem.IDFromRecord(rec)
	if id == 0 {
		id, err = s.client.Incr(ctx, s.sequenceKey()).Result()
		if err != nil {
			return 0, convertRedisError(err)
		}
	} else if err := raiseSequence.Run(ctx, s.client, []string{s.sequenceKey()}, id).Err(); err != nil {
		return 0, convertRedisError(err)
	}

	key := s.key(id)
	created, err := s.client.HSetNX(ctx, key, idField, id).Result()
	if err != nil {
		return 0, convertRedisError(err)
	}
	if !created {
		return 0, gem.Error{
			Type:    gem.ErrorTypeDuplicate,
			Message: fmt.Sprintf("%s: record %d already exists", s.prefix, id),
		}
	}
	if err := s.write(ctx, key, id, fields, false); err != nil {
		return 0, err
	}
	return id, nil
}

// Update implements gem.Writer
func (s *Source) Update(ctx context.Context, id int64, rec gem.Record) error {
	fields, err := encodeFields(rec)
	if err != nil {
		return err
	}
	key := s.key(id)
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return convertRedisError(err)
	}
	if n == 0 {
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: fmt.Sprintf("%s: record %d not found", s.prefix, id),
		}
	}
	return s.write(ctx, key, id, fields, true)
}

// write stores fields in one transaction, replacing the hash when replace is set
func (s *Source) write(ctx context.Context, key string, id int64, fields map[string]interface{}, replace bool) error {
	fields[idField] = id
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if replace {
			pipe.Del(ctx, key)
		}
		pipe.HSet(ctx, key, fields)
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	return convertRedisError(err)
}

// Delete implements gem.Writer
func (s *Source) Delete(ctx context.Context, id int64) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return convertRedisError(err)
	}
	if n == 0 {
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: fmt.Sprintf("%s: record %d not found", s.prefix, id),
		}
	}
	return nil
}

// TTL returns the remaining lifetime of a record, or a negative duration when it has none
func (s *Source) TTL(ctx context.Context, id int64) (time.Duration, error) {
	d, err := s.client.TTL(ctx, s.key(id)).Result()
	return d, convertRedisError(err)
}

// Health checks the connection to Redis
func (s *Source) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *Source) Close() error {
	return s.client.Close()
}

// ProviderInfo returns information about this adapter
func (s *Source) ProviderInfo() gem.ProviderInfo {
	return gem.ProviderInfo{
		Name:         "Redis",
		Version:      "1.0.0",
		DatabaseType: gem.DatabaseTypeKV,
		Features:     []gem.Feature{gem.FeatureWrite, gem.FeatureSequence, gem.FeatureTTL},
	}
}

var _ gem.Provider = (*Source)(nil)

// encodeFields renders record values as hash strings; null values are dropped
func encodeFields(rec gem.Record) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(rec))
	for k, raw := range rec {
		if k == idField {
			continue
		}
		v, err := gem.ValueOf(raw)
		if err != nil {
			return nil, gem.NewErrorWithCause(gem.ErrorTypeSerialization, fmt.Sprintf("field %q", k), err)
		}
		if v.IsNull() {
			continue
		}
		fields[k] = v.AsString()
	}
	return fields, nil
}

// convertRedisError converts Redis errors to gem errors
func convertRedisError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, redis.Nil) {
		return gem.Error{
			Type:    gem.ErrorTypeNotFound,
			Message: "key not found",
			Cause:   err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gem.Error{
			Type:    gem.ErrorTypeTimeout,
			Message: "operation timeout",
			Cause:   err,
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "connection") {
		return gem.Error{
			Type:    gem.ErrorTypeConnection,
			Message: "connection error",
			Cause:   err,
		}
	}

	return gem.Error{
		Type:    gem.ErrorTypeDatabase,
		Message: "Redis operation failed",
		Cause:   err,
	}
}
