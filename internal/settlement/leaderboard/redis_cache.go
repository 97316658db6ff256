package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache guarda o último leaderboard calculado no Redis
// Client: cliente Redis
// Key: chave única por token liquidado
type RedisCache struct {
	Client *redis.Client
	Key    string
}

// NewRedisCache cria o cache do leaderboard para um token
func NewRedisCache(c *redis.Client, tokenID string) *RedisCache {
	return &RedisCache{Client: c, Key: "settlement:leaderboard:" + tokenID}
}

func (r *RedisCache) Get(ctx context.Context, dst any) (bool, error) {
	b, err := r.Client.Get(ctx, r.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

func (r *RedisCache) Set(ctx context.Context, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, r.Key, b, ttl).Err()
}

// Invalidate apaga o snapshot; chamado ao fim de cada liquidação
func (r *RedisCache) Invalidate(ctx context.Context) error {
	return r.Client.Del(ctx, r.Key).Err()
}
