package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"arogya/internal/graph"
	"arogya/internal/logger"
	"arogya/internal/state"
)

const (
	sessionKeyPrefix    = "session:"
	checkpointKeyPrefix = "checkpoint:"

	// DefaultSessionTTL applies when the caller passes a zero TTL.
	DefaultSessionTTL = 40 * time.Minute
)

// RedisStore implements SessionStore and CheckpointStore on Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) Save(ctx context.Context, sess *state.Session) error {
	data, err := sonic.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	key := sessionKeyPrefix + sess.ID
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session data: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, id string) (*state.Session, error) {
	key := sessionKeyPrefix + id
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session data: %w", err)
	}

	var sess state.Session
	if err := sonic.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	// Refresh TTL on access
	r.client.Expire(ctx, key, r.ttl)
	return &sess, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, sessionKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisStore) Exists(ctx context.Context, id string) (bool, error) {
	count, err := r.client.Exists(ctx, sessionKeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session existence: %w", err)
	}
	return count > 0, nil
}

func (r *RedisStore) SaveCheckpoint(ctx context.Context, chk *graph.Checkpoint) error {
	data, err := sonic.Marshal(chk)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	key := checkpointKeyPrefix + chk.Key()
	if err := r.client.Set(ctx, key, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set checkpoint: %w", err)
	}
	return nil
}

func (r *RedisStore) LoadCheckpoint(ctx context.Context, sessionID, workflow string) (*graph.Checkpoint, error) {
	key := checkpointKeyPrefix + graph.CheckpointKey(sessionID, workflow)
	data, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	var chk graph.Checkpoint
	if err := sonic.Unmarshal([]byte(data), &chk); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &chk, nil
}

func (r *RedisStore) DeleteCheckpoint(ctx context.Context, sessionID, workflow string) error {
	key := checkpointKeyPrefix + graph.CheckpointKey(sessionID, workflow)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Ping tests the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// redisCheckpoints adapts RedisStore to the CheckpointStore interface.
type redisCheckpoints struct{ r *RedisStore }

func (c redisCheckpoints) Save(ctx context.Context, chk *graph.Checkpoint) error {
	return c.r.SaveCheckpoint(ctx, chk)
}

func (c redisCheckpoints) Load(ctx context.Context, sessionID, workflow string) (*graph.Checkpoint, error) {
	return c.r.LoadCheckpoint(ctx, sessionID, workflow)
}

func (c redisCheckpoints) Delete(ctx context.Context, sessionID, workflow string) error {
	return c.r.DeleteCheckpoint(ctx, sessionID, workflow)
}

// Checkpoints returns the store's CheckpointStore view.
func (r *RedisStore) Checkpoints() CheckpointStore {
	return redisCheckpoints{r: r}
}

// Open connects to Redis and returns its session and checkpoint stores.
// When Redis is unavailable it falls back to in-process maps: a degraded
// but functioning mode, not an error.
func Open(ctx context.Context, redisURL string, ttl time.Duration) (SessionStore, CheckpointStore) {
	store, err := NewRedisStore(ctx, redisURL, ttl)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, using in-memory stores")
		return NewMemorySessionStore(), NewMemoryCheckpointStore()
	}
	logger.Info().Msg("connected to redis")
	return store, store.Checkpoints()
}
