package directory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/consultation-scheduling/internal/appointment"
)

// Cache is a read-through Redis cache in front of the directory. Redis
// failures fall back to the source; the cache never turns a lookup into an
// error.
type Cache struct {
	topics appointment.TopicDirectory
	users  appointment.UserDirectory
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(topics appointment.TopicDirectory, users appointment.UserDirectory, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{topics: topics, users: users, rdb: rdb, ttl: ttl, logger: logger}
}

func (c *Cache) GetTopic(ctx context.Context, id uuid.UUID) (*appointment.Topic, error) {
	return readThrough(ctx, c, "dir:topic:"+id.String(), func() (*appointment.Topic, error) {
		return c.topics.GetTopic(ctx, id)
	})
}

func (c *Cache) GetUser(ctx context.Context, id uuid.UUID) (*appointment.User, error) {
	return readThrough(ctx, c, "dir:user:"+id.String(), func() (*appointment.User, error) {
		return c.users.GetUser(ctx, id)
	})
}

// Invalidate drops cached entries for id, e.g. after a user is disabled.
func (c *Cache) Invalidate(ctx context.Context, id uuid.UUID) error {
	return c.rdb.Del(ctx, "dir:topic:"+id.String(), "dir:user:"+id.String()).Err()
}

func readThrough[T any](ctx context.Context, c *Cache, key string, load func() (*T, error)) (*T, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			return &v, nil
		}
	case !errors.Is(err, redis.Nil):
		c.logger.DebugContext(ctx, "directory cache read failed", "key", key, "error", err)
	}

	v, err := load()
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(v); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.DebugContext(ctx, "directory cache write failed", "key", key, "error", err)
		}
	}
	return v, nil
}
