package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"triagesync/internal/config"
	"triagesync/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	redisKey = "triagesync:deadletter"

	// Oldest entries are trimmed away once the list grows past this.
	redisMaxEntries = 1000
)

type RedisSink struct {
	client *redis.Client
}

// NewRedisClient builds a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Push(ctx context.Context, task *models.SyncTask) error {
	if s.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter task: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, redisKey, data)
	pipe.LTrim(ctx, redisKey, 0, redisMaxEntries-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter task: %w", err)
	}
	return nil
}

// List returns the most recent dead-lettered tasks, newest first.
func (s *RedisSink) List(ctx context.Context, limit int) ([]models.SyncTask, error) {
	if s.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if limit <= 0 {
		limit = redisMaxEntries
	}

	entries, err := s.client.LRange(ctx, redisKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter tasks: %w", err)
	}

	tasks := make([]models.SyncTask, 0, len(entries))
	for _, entry := range entries {
		var task models.SyncTask
		if err := json.Unmarshal([]byte(entry), &task); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Ping verifies the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}
