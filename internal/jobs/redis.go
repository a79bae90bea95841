package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "assistant:job:"
	DefaultJobTTL    = 24 * time.Hour
)

// RedisTracker keeps jobs as JSON values that expire after TTL.
type RedisTracker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	return &RedisTracker{client: client, prefix: defaultKeyPrefix, ttl: ttl}
}

// DialRedis parses a redis:// URL and checks the connection.
func DialRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (r *RedisTracker) key(jobID string) string {
	return r.prefix + jobID
}

func (r *RedisTracker) Put(ctx context.Context, job AsyncJob) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(job.ID), encoded, r.ttl).Err()
}

func (r *RedisTracker) Get(ctx context.Context, jobID string) (*AsyncJob, error) {
	raw, err := r.client.Get(ctx, r.key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job AsyncJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *RedisTracker) Delete(ctx context.Context, jobID string) error {
	return r.client.Del(ctx, r.key(jobID)).Err()
}

func (r *RedisTracker) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
