package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"oauthd/flow"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// RedisStore keeps pending authorizations in Redis so several gateway
// instances can serve the two halves of one flow.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("store: redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  DefaultDialTimeout,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("store: connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = flow.DefaultPendingTTL
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, ttl: ttl}
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Put(ctx context.Context, session, key string, pending flow.PendingAuthorization) error {
	if err := validate(session, key); err != nil {
		return err
	}
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("store: marshal pending authorization: %w", err)
	}
	ttl := lifetime(s.ttl, pending.CreatedAt, time.Now())
	if ttl <= 0 {
		return s.client.Del(ctx, s.redisKey(session, key)).Err()
	}
	return s.client.Set(ctx, s.redisKey(session, key), data, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, session, key string) (flow.PendingAuthorization, error) {
	if err := validate(session, key); err != nil {
		return flow.PendingAuthorization{}, flow.ErrNotFound
	}
	data, err := s.client.Get(ctx, s.redisKey(session, key)).Bytes()
	return decodePending(data, err)
}

func (s *RedisStore) Delete(ctx context.Context, session, key string) error {
	if err := validate(session, key); err != nil {
		return nil
	}
	return s.client.Del(ctx, s.redisKey(session, key)).Err()
}

// Take uses GETDEL, so of two concurrent callers only one sees the entry.
func (s *RedisStore) Take(ctx context.Context, session, key string) (flow.PendingAuthorization, error) {
	if err := validate(session, key); err != nil {
		return flow.PendingAuthorization{}, flow.ErrNotFound
	}
	data, err := s.client.GetDel(ctx, s.redisKey(session, key)).Bytes()
	return decodePending(data, err)
}

func (s *RedisStore) redisKey(session, key string) string {
	return fmt.Sprintf("%spending:%s:%s", s.keyPrefix, url.QueryEscape(session), url.QueryEscape(key))
}

func decodePending(data []byte, err error) (flow.PendingAuthorization, error) {
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return flow.PendingAuthorization{}, flow.ErrNotFound
		}
		return flow.PendingAuthorization{}, fmt.Errorf("store: get pending authorization: %w", err)
	}
	var pending flow.PendingAuthorization
	if err := json.Unmarshal(data, &pending); err != nil {
		return flow.PendingAuthorization{}, fmt.Errorf("store: unmarshal pending authorization: %w", err)
	}
	return pending, nil
}
