package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores exchanges in Redis, suitable for deployments
// where several clients share one archive.
type RedisBackend struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	mu     sync.RWMutex
	closed bool
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string
	// Password is the Redis password (optional).
	Password string
	// DB is the Redis database number.
	DB int
	// Prefix is the key prefix (default: "agentquery:archive:").
	Prefix string
	// SessionTTL is the expiry for archived sessions (0 = never).
	SessionTTL time.Duration
	// PoolSize is the connection pool size (default: 10).
	PoolSize int
}

// NewRedisBackend creates a Redis archive backend and verifies the
// connection.
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "agentquery:archive:"
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    cfg.SessionTTL,
	}, nil
}

// NewRedisBackendFromClient creates a Redis backend from an existing
// client. Useful for testing with miniredis.
func NewRedisBackendFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "agentquery:archive:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Name identifies the backend kind.
func (b *RedisBackend) Name() string { return "redis" }

// Key helpers
func (b *RedisBackend) exchangesKey(sessionID string) string {
	return b.prefix + "exchanges:" + sessionID
}

func (b *RedisBackend) metaKey(sessionID string) string {
	return b.prefix + "meta:" + sessionID
}

func (b *RedisBackend) indexKey() string {
	return b.prefix + "sessions"
}

// SaveExchange appends an exchange and updates the session metadata.
func (b *RedisBackend) SaveExchange(ctx context.Context, ex *Exchange) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrArchiveClosed
	}
	b.mu.RUnlock()

	data, err := json.Marshal(ex)
	if err != nil {
		return fmt.Errorf("marshal exchange: %w", err)
	}

	count, err := b.client.RPush(ctx, b.exchangesKey(ex.SessionID), data).Result()
	if err != nil {
		return fmt.Errorf("append exchange: %w", err)
	}

	info := &SessionInfo{
		ID:            ex.SessionID,
		UpdatedAt:     time.Now().UTC(),
		ExchangeCount: int(count),
	}
	metaData, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal session info: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.Set(ctx, b.metaKey(ex.SessionID), metaData, b.ttl)
	pipe.SAdd(ctx, b.indexKey(), ex.SessionID)
	if b.ttl > 0 {
		pipe.Expire(ctx, b.exchangesKey(ex.SessionID), b.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session info: %w", err)
	}
	return nil
}

// LoadExchanges retrieves all exchanges for a session in order.
func (b *RedisBackend) LoadExchanges(ctx context.Context, sessionID string) ([]*Exchange, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrArchiveClosed
	}
	b.mu.RUnlock()

	data, err := b.client.LRange(ctx, b.exchangesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load exchanges: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrSessionNotFound
	}

	exchanges := make([]*Exchange, 0, len(data))
	for _, d := range data {
		var ex Exchange
		if err := json.Unmarshal([]byte(d), &ex); err != nil {
			return nil, fmt.Errorf("unmarshal exchange: %w", err)
		}
		exchanges = append(exchanges, &ex)
	}
	return exchanges, nil
}

// ListSessions returns all archived sessions, most recent first.
func (b *RedisBackend) ListSessions(ctx context.Context) ([]*SessionInfo, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrArchiveClosed
	}
	b.mu.RUnlock()

	ids, err := b.client.SMembers(ctx, b.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]*SessionInfo, 0, len(ids))
	for _, id := range ids {
		data, err := b.client.Get(ctx, b.metaKey(id)).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Meta expired, clean up the index.
				b.client.SRem(ctx, b.indexKey(), id)
				continue
			}
			return nil, fmt.Errorf("get session info: %w", err)
		}

		var info SessionInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return nil, fmt.Errorf("unmarshal session info: %w", err)
		}
		sessions = append(sessions, &info)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// DeleteSession removes a session and its exchanges.
func (b *RedisBackend) DeleteSession(ctx context.Context, sessionID string) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrArchiveClosed
	}
	b.mu.RUnlock()

	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.exchangesKey(sessionID))
	pipe.Del(ctx, b.metaKey(sessionID))
	pipe.SRem(ctx, b.indexKey(), sessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (b *RedisBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.client.Close()
}

// Ping checks if the Redis connection is alive.
func (b *RedisBackend) Ping(ctx context.Context) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrArchiveClosed
	}
	b.mu.RUnlock()

	return b.client.Ping(ctx).Err()
}
