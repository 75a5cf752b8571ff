package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/knowledge-engine/kwic/internal/config"
	"github.com/knowledge-engine/kwic/internal/session"
)

// RedisClient is the subset of the go-redis client used by RedisStorage.
type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// RedisStorage stores sessions as JSON values whose redis TTL tracks the
// session expiry, so expired sessions disappear without sweeping.
type RedisStorage struct {
	client RedisClient
	prefix string
	logger *logrus.Entry
}

// NewRedisStorage connects to the server named in cfg
func NewRedisStorage(cfg config.StorageConfig, logger *logrus.Entry) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisURL, err)
	}
	return NewRedisStorageWithClient(client, cfg.RedisPrefix, logger), nil
}

func NewRedisStorageWithClient(client RedisClient, prefix string, logger *logrus.Entry) *RedisStorage {
	if logger == nil {
		logger = logrus.WithField("component", "redis_storage")
	}
	return &RedisStorage{client: client, prefix: prefix, logger: logger}
}

func (rs *RedisStorage) key(id string) string {
	return rs.prefix + id
}

func (rs *RedisStorage) Save(ctx context.Context, s *session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	ttl := s.TTL(time.Now())
	if ttl == 0 {
		rs.logger.WithField("session", s.ID).Warn("Refusing to store expired session")
		return nil
	}
	if err := rs.client.Set(ctx, rs.key(s.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	rs.logger.WithFields(logrus.Fields{"session": s.ID, "ttl": ttl}).Debug("Session stored")
	return nil
}

func (rs *RedisStorage) Get(ctx context.Context, id string) (*session.Session, error) {
	data, err := rs.client.Get(ctx, rs.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}

func (rs *RedisStorage) Delete(ctx context.Context, id string) error {
	return rs.client.Del(ctx, rs.key(id)).Err()
}

// Sweep is a no-op; redis expires keys on its own.
func (rs *RedisStorage) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (rs *RedisStorage) Count(ctx context.Context) (int, error) {
	var cursor uint64
	n := 0
	for {
		keys, next, err := rs.client.Scan(ctx, cursor, rs.prefix+"*", 100).Result()
		if err != nil {
			return n, fmt.Errorf("failed to scan sessions: %w", err)
		}
		n += len(keys)
		if next == 0 {
			return n, nil
		}
		cursor = next
	}
}

func (rs *RedisStorage) Name() string { return "redis" }

func (rs *RedisStorage) Close() error {
	return rs.client.Close()
}
