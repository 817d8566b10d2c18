package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/class-enroll-api/pkg/errors"
)

// CacheRepository caches derived per-class participant counts in Redis. All
// methods degrade gracefully when no client is configured.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheRepository{client: client, logger: logger}
}

func countKey(classID string) string {
	return fmt.Sprintf("class:%s:participants", classID)
}

// GetCount returns the cached participant count for a class.
func (r *CacheRepository) GetCount(ctx context.Context, classID string) (int, error) {
	if r.client == nil {
		return 0, appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, countKey(classID)).Result()
	if err != nil {
		if err == redis.Nil {
			return 0, appErrors.ErrCacheMiss
		}
		return 0, fmt.Errorf("redis get %s: %w", countKey(classID), err)
	}

	count, err := strconv.Atoi(raw)
	if err != nil {
		return 0, appErrors.ErrCacheMiss
	}
	return count, nil
}

// SetCount stores the participant count with the given TTL.
func (r *CacheRepository) SetCount(ctx context.Context, classID string, count int, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	if err := r.client.Set(ctx, countKey(classID), strconv.Itoa(count), ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", countKey(classID), err)
	}
	return nil
}

// InvalidateCount drops the cached count after an enrollment mutation or a
// class deletion.
func (r *CacheRepository) InvalidateCount(ctx context.Context, classID string) {
	if r.client == nil {
		return
	}
	if err := r.client.Del(ctx, countKey(classID)).Err(); err != nil {
		r.logger.Warn("failed to invalidate participant count", zap.String("class_id", classID), zap.Error(err))
	}
}
