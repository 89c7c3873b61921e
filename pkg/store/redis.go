package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Configuration for the Redis-backed store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Redis keeps session records and artifact snapshots as JSON values. It is
// the store used when the agent runs against the same Redis instance that
// serves as the relay.
type Redis struct {
	client *redis.Client
}

func NewRedis(ctx context.Context, config RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func (r *Redis) GetSession(ctx context.Context, id string) (*Record, error) {
	data, err := r.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("malformed session record: %w", err)
	}

	return &record, nil
}

func (r *Redis) UpdateSessionStatus(ctx context.Context, id string, status Status) error {
	record, err := r.GetSession(ctx, id)
	if err != nil {
		return err
	}

	record.Status = status
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	if err := r.client.Set(ctx, sessionKey(id), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return nil
}

func (r *Redis) SaveArtifactSnapshot(ctx context.Context, id string, artifact string, value []byte) error {
	if err := r.client.Set(ctx, snapshotKey(id, artifact), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to write %s snapshot: %w", artifact, err)
	}
	return nil
}

// PutSession writes a full record. Used by the surrounding application when
// scheduling; exposed here so local setups can seed sessions.
func (r *Redis) PutSession(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	if err := r.client.Set(ctx, sessionKey(record.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to write session record: %w", err)
	}
	return nil
}

// Close releases the underlying Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func sessionKey(id string) string {
	return "interview:session:" + id
}

func snapshotKey(id, artifact string) string {
	return fmt.Sprintf("interview:session:%s:artifact:%s", id, artifact)
}
