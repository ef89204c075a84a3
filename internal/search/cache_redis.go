package search

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bruhmeric/torrentwave/internal/domain"
)

const redisCategoryPrefix = "torrentwave:categories:"

// RedisCategoryCache shares fetched taxonomies between service replicas.
type RedisCategoryCache struct {
	client redis.UniversalClient
}

func NewRedisCategoryCache(client redis.UniversalClient) *RedisCategoryCache {
	if client == nil {
		return nil
	}
	return &RedisCategoryCache{client: client}
}

func (r *RedisCategoryCache) Get(ctx context.Context, key string) ([]domain.Category, bool, error) {
	data, err := r.client.Get(ctx, redisCategoryPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var categories []domain.Category
	if err := json.Unmarshal(data, &categories); err != nil {
		return nil, false, err
	}
	return categories, true, nil
}

func (r *RedisCategoryCache) Set(ctx context.Context, key string, categories []domain.Category, ttl time.Duration) error {
	data, err := json.Marshal(categories)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisCategoryPrefix+key, data, ttl).Err()
}
