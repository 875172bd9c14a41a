package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix  = "maintenance:record:"
	licenseKeyPrefix = "maintenance:license:"
)

// Cache holds JSON-encoded records and licenses in Redis. A miss is
// reported as (nil, nil) so callers fall through to the backing store.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(addr string, ttl time.Duration) (*Cache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Cache{client: client, ttl: ttl}, nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) GetRecord(ctx context.Context, id string) (*MaintenanceRecord, error) {
	data, err := c.client.Get(ctx, recordKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get record: %w", err)
	}
	var rec MaintenanceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("cache decode record: %w", err)
	}
	return &rec, nil
}

func (c *Cache) SetRecord(ctx context.Context, rec *MaintenanceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache encode record: %w", err)
	}
	if err := c.client.Set(ctx, recordKeyPrefix+rec.ID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set record: %w", err)
	}
	return nil
}

func (c *Cache) InvalidateRecords(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = recordKeyPrefix + id
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate records: %w", err)
	}
	return nil
}

func (c *Cache) GetLicense(ctx context.Context, id string) (*License, error) {
	data, err := c.client.Get(ctx, licenseKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get license: %w", err)
	}
	var l License
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("cache decode license: %w", err)
	}
	return &l, nil
}

func (c *Cache) SetLicense(ctx context.Context, l *License) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("cache encode license: %w", err)
	}
	if err := c.client.Set(ctx, licenseKeyPrefix+l.ID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set license: %w", err)
	}
	return nil
}

func (c *Cache) InvalidateLicenses(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = licenseKeyPrefix + id
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache invalidate licenses: %w", err)
	}
	return nil
}
