package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"secsync/internal/config"
	"secsync/internal/domain"
	"secsync/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisItemStore keeps each item as a JSON string under <prefix>:item:<id>
// and indexes ids in a sorted set scored by created_at.
type RedisItemStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient builds a Redis client from the configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	return redis.NewClient(options)
}

func NewRedisItemStore(client *redis.Client, prefix string) *RedisItemStore {
	if prefix == "" {
		prefix = "secsync"
	}
	return &RedisItemStore{client: client, prefix: prefix}
}

func (r *RedisItemStore) itemKey(id string) string {
	return fmt.Sprintf("%s:item:%s", r.prefix, id)
}

func (r *RedisItemStore) indexKey() string {
	return r.prefix + ":items"
}

func (r *RedisItemStore) Put(ctx context.Context, item *models.SyncItem) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.itemKey(item.ID), data, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(item.CreatedAt.UnixNano()), Member: item.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put item in redis: %w", err)
	}
	return nil
}

func (r *RedisItemStore) Get(ctx context.Context, id string) (*models.SyncItem, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, r.itemKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item from redis: %w", err)
	}

	var item models.SyncItem
	if err := json.Unmarshal(val, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &item, nil
}

func (r *RedisItemStore) Delete(ctx context.Context, id string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.itemKey(id))
		pipe.ZRem(ctx, r.indexKey(), id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete item from redis: %w", err)
	}
	return del.Val() > 0, nil
}

// IncrementRetry uses optimistic locking on the item key.
func (r *RedisItemStore) IncrementRetry(ctx context.Context, id string, lastErr string, nextRetryAt *time.Time) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	key := r.itemKey(id)
	var count int

	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		var item models.SyncItem
		if err := json.Unmarshal(val, &item); err != nil {
			return fmt.Errorf("failed to unmarshal item: %w", err)
		}
		item.RetryCount++
		msg := lastErr
		item.LastError = &msg
		item.NextRetryAt = nextRetryAt
		data, err := json.Marshal(&item)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		count = item.RetryCount
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, domain.ErrNotFound) {
			return 0, err
		}
		if err != nil {
			return 0, fmt.Errorf("failed to increment retry in redis: %w", err)
		}
		return count, nil
	}
	return 0, fmt.Errorf("failed to increment retry in redis: too much contention on %s", id)
}

func (r *RedisItemStore) List(ctx context.Context) ([]models.SyncItem, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list item ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.itemKey(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}

	items := make([]models.SyncItem, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// index entry without a body: removed between ZRANGE and MGET
			continue
		}
		var item models.SyncItem
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal item: %w", err)
		}
		items = append(items, item)
	}
	sortItems(items)
	return items, nil
}

func (r *RedisItemStore) Count(ctx context.Context) (int, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.ZCard(ctx, r.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count items: %w", err)
	}
	return int(n), nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
