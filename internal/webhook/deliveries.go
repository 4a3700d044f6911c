package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultDeliveryTTL bounds how long a processed delivery id is remembered.
// The provider stops retrying well within this window.
const DefaultDeliveryTTL = 72 * time.Hour

// DeliveryLog remembers delivery ids that were processed successfully.
type DeliveryLog interface {
	Seen(ctx context.Context, deliveryID string) (bool, error)
	Mark(ctx context.Context, deliveryID string) error
}

// MemoryDeliveryLog is a bounded, expiring in-process DeliveryLog.
type MemoryDeliveryLog struct {
	cache *expirable.LRU[string, struct{}]
}

// NewMemoryDeliveryLog remembers up to size ids for ttl each.
func NewMemoryDeliveryLog(size int, ttl time.Duration) *MemoryDeliveryLog {
	if size <= 0 {
		size = 10000
	}
	if ttl <= 0 {
		ttl = DefaultDeliveryTTL
	}
	return &MemoryDeliveryLog{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (l *MemoryDeliveryLog) Seen(_ context.Context, deliveryID string) (bool, error) {
	return l.cache.Contains(deliveryID), nil
}

func (l *MemoryDeliveryLog) Mark(_ context.Context, deliveryID string) error {
	l.cache.Add(deliveryID, struct{}{})
	return nil
}

// RedisDeliveryLog shares processed ids across replicas.
type RedisDeliveryLog struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDeliveryLog stores ids under "webhook:delivery:<id>" for ttl.
func NewRedisDeliveryLog(client *redis.Client, ttl time.Duration) *RedisDeliveryLog {
	if ttl <= 0 {
		ttl = DefaultDeliveryTTL
	}
	return &RedisDeliveryLog{client: client, ttl: ttl, prefix: "webhook:delivery:"}
}

func (l *RedisDeliveryLog) Seen(ctx context.Context, deliveryID string) (bool, error) {
	n, err := l.client.Exists(ctx, l.prefix+deliveryID).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (l *RedisDeliveryLog) Mark(ctx context.Context, deliveryID string) error {
	if err := l.client.SetNX(ctx, l.prefix+deliveryID, 1, l.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx failed: %w", err)
	}
	return nil
}
