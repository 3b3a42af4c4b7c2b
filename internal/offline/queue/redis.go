// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// putScript stores the item and appends its id to the order list atomically,
// refusing duplicates.
var putScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[2], ARGV[1])
return 1
`)

// RedisBackend stores items in a hash keyed by id, with a list holding
// insertion order.
type RedisBackend struct {
	client   *redis.Client
	itemsKey string
	orderKey string
}

// NewRedisBackend creates a Redis-backed queue under key
// (e.g., "contracts:sync").
func NewRedisBackend(client *redis.Client, key string) *RedisBackend {
	if key == "" {
		key = "contracts:sync"
	}
	log.Printf("NewRedisBackend: key=%s", key)
	return &RedisBackend{
		client:   client,
		itemsKey: key + ":items",
		orderKey: key + ":order",
	}
}

func (r *RedisBackend) Put(ctx context.Context, item Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}

	added, err := putScript.Run(ctx, r.client, []string{r.itemsKey, r.orderKey}, item.ID, data).Int()
	if err != nil {
		return fmt.Errorf("failed to push to Redis: %w", err)
	}
	if added == 0 {
		return ErrDuplicateID
	}
	return nil
}

func (r *RedisBackend) List(ctx context.Context) ([]Item, error) {
	ids, err := r.client.LRange(ctx, r.orderKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue order: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := r.client.HMGet(ctx, r.itemsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue items: %w", err)
	}

	items := make([]Item, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// deleted between LRANGE and HMGET
			continue
		}
		var it Item
		if err := json.Unmarshal([]byte(s), &it); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queue item %s: %w", ids[i], err)
		}
		items = append(items, it)
	}
	return items, nil
}

func (r *RedisBackend) Delete(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, r.orderKey, 0, id)
		pipe.HDel(ctx, r.itemsKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete queue item: %w", err)
	}
	return nil
}

func (r *RedisBackend) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.itemsKey, r.orderKey).Err(); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

func (r *RedisBackend) Count(ctx context.Context) (int, error) {
	n, err := r.client.HLen(ctx, r.itemsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count queue: %w", err)
	}
	return int(n), nil
}

// Close closes the underlying client
func (r *RedisBackend) Close() error {
	return r.client.Close()
}
