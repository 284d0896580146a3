package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	metricsCacheKeyPrefix  = "acwr:metrics:"
	DefaultMetricsCacheTTL = 5 * time.Minute
)

// MetricsCache holds the last dashboard metrics per user.
type MetricsCache interface {
	// Get returns nil, nil on a cache miss.
	Get(ctx context.Context, userID int64) (*DashboardMetrics, error)
	Set(ctx context.Context, m *DashboardMetrics) error
	Invalidate(ctx context.Context, userIDs ...int64) error
}

type RedisMetricsCache struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ MetricsCache = (*RedisMetricsCache)(nil)

func NewRedisMetricsCache(rdb *redis.Client, ttl time.Duration) *RedisMetricsCache {
	if ttl <= 0 {
		ttl = DefaultMetricsCacheTTL
	}
	return &RedisMetricsCache{
		rdb: rdb,
		ttl: ttl,
	}
}

func (c *RedisMetricsCache) Get(ctx context.Context, userID int64) (*DashboardMetrics, error) {
	data, err := c.rdb.Get(ctx, metricsCacheKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cached metrics: %w", err)
	}

	m := &DashboardMetrics{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("unmarshal cached metrics: %w", err)
	}
	return m, nil
}

func (c *RedisMetricsCache) Set(ctx context.Context, m *DashboardMetrics) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	if err := c.rdb.Set(ctx, metricsCacheKey(m.UserID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache metrics: %w", err)
	}
	return nil
}

func (c *RedisMetricsCache) Invalidate(ctx context.Context, userIDs ...int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = metricsCacheKey(id)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate cached metrics: %w", err)
	}
	return nil
}

func metricsCacheKey(userID int64) string {
	return metricsCacheKeyPrefix + strconv.FormatInt(userID, 10)
}
