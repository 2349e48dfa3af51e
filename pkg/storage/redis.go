package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/HatiCode/vmpredict/pkg/models"
)

const (
	redisLatestKey   = "vmpredict:model:latest"
	redisArtifactKey = "vmpredict:model:%s"
)

// RedisStore implements Store on top of Redis, so several prediction service
// instances can share one artifact. Keys never expire:
//
//	vmpredict:model:latest  the latest artifact
//	vmpredict:model:<id>    every artifact ever written, by model ID
type RedisStore struct {
	client *redis.Client
	mu     sync.RWMutex
}

// NewRedisStore connects to Redis and verifies the connection.
//
// Parameters:
//   - addr: Redis server address (e.g., "localhost:6379")
//   - password: Redis password (empty string for no auth)
//   - db: Redis database number (typically 0)
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{client: client}, nil
}

// Put writes m under its ID and as the latest artifact in one transaction.
func (r *RedisStore) Put(ctx context.Context, m *models.FittedModel) error {
	if m == nil {
		return errors.New("model cannot be nil")
	}
	if m.ID == "" {
		return errors.New("model id cannot be empty")
	}

	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return err
	}
	data := buf.Bytes()

	client, err := r.conn()
	if err != nil {
		return err
	}
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, fmt.Sprintf(redisArtifactKey, m.ID), data, 0)
		pipe.Set(ctx, redisLatestKey, data, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store model in redis: %w", err)
	}
	return nil
}

// GetLatest reads the latest artifact.
func (r *RedisStore) GetLatest(ctx context.Context) (*models.FittedModel, bool, error) {
	return r.get(ctx, redisLatestKey)
}

// Get reads the artifact with the given model ID.
func (r *RedisStore) Get(ctx context.Context, id string) (*models.FittedModel, bool, error) {
	if id == "" {
		return nil, false, errors.New("model id required")
	}
	return r.get(ctx, fmt.Sprintf(redisArtifactKey, id))
}

func (r *RedisStore) get(ctx context.Context, key string) (*models.FittedModel, bool, error) {
	client, err := r.conn()
	if err != nil {
		return nil, false, err
	}

	data, err := client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get model from redis: %w", err)
	}

	m, err := models.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

func (r *RedisStore) conn() (*redis.Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, redis.ErrClosed
	}
	return r.client, nil
}

// Close closes the Redis client connection.
// It is safe to call multiple times (idempotent).
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Ping checks the Redis connection health.
func (r *RedisStore) Ping(ctx context.Context) error {
	client, err := r.conn()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}
