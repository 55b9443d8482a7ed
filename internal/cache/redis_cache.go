package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	redis "github.com/redis/go-redis/v9"

	"nirmaan/backend/internal/domain"
	"nirmaan/backend/internal/service"
)

type RedisCatalogCache struct {
	client *redis.Client
}

func NewRedisCatalogCache(addr string, password string, db int) *RedisCatalogCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCatalogCache{client: client}
}

func (c *RedisCatalogCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCatalogCache) Close() error {
	return c.client.Close()
}

func (c *RedisCatalogCache) Get(ctx context.Context, key string) ([]domain.Product, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var products []domain.Product
	if err := json.Unmarshal([]byte(val), &products); err != nil {
		return nil, false, err
	}
	return products, true, nil
}

func (c *RedisCatalogCache) Set(ctx context.Context, key string, value []domain.Product, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisCatalogCache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// RedisNotifier fans order lifecycle events out on a pub/sub channel for
// the notification workers. Publishing never blocks an order operation;
// failures are logged and dropped.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(addr string, password string, db int, channel string) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisNotifier{client: client, channel: channel}
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

func (n *RedisNotifier) Publish(ctx context.Context, event service.OrderEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("[notifier] drop event %s for order %s: %v", event.Kind, event.OrderID, err)
		return
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		log.Printf("[notifier] publish %s for order %s failed: %v", event.Kind, event.OrderID, err)
	}
}
