package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	redisdb "liveavatar-agent-golang/internal/db/redis"
)

const webhookKeyPrefix = "liveavatar:webhook"

// Deduper 过滤重复投递的 webhook 事件
type Deduper interface {
	// FirstSeen 第一次见到该事件返回 true
	FirstSeen(ctx context.Context, eventID string) (bool, error)
}

type noopDeduper struct{}

func (noopDeduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	return true, nil
}

// RedisDeduper 通过 SETNX 记录事件 id
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return true, nil
	}
	key := redisdb.GetKeyWithPrefix(webhookKeyPrefix, eventID)
	return d.client.SetNX(ctx, key, time.Now().Unix(), d.ttl).Result()
}
