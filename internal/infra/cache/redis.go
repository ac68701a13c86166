package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"outreach-orchestrator/internal/domain"
	"outreach-orchestrator/internal/infra/metrics"
)

const lockPrefix = "outreach:lock:"

// releaseScript удаляет ключ, только если он всё ещё принадлежит владельцу.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock реализует domain.JobLock через SET NX.
type RedisLock struct {
	client *redis.Client
}

var _ domain.JobLock = (*RedisLock)(nil)

// NewRedisLock создаёт блокировку задач.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

// Acquire занимает ключ на ttl. Возвращённая release освобождает только свою блокировку.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	fullKey := lockPrefix + key

	start := time.Now()
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	metrics.ObserveNetworkRequest("redis", "lock_acquire", key, start, err)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		start := time.Now()
		err := releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err()
		metrics.ObserveNetworkRequest("redis", "lock_release", key, start, err)
	}
	return release, true, nil
}

// Once выполняет fn, если ключ ещё не задан. При ошибке fn ключ снимается.
func (l *RedisLock) Once(ctx context.Context, key string, ttl time.Duration, fn func() error) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	if err := fn(); err != nil {
		_ = l.client.Del(ctx, key).Err()
		return false, err
	}
	return true, nil
}
