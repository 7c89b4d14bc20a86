/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package cache keeps serialized users in Redis so repeated profile reads
// skip the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tomoncle/usercenter/database"
	"github.com/tomoncle/usercenter/models"
)

const (
	DefaultTTL       = 5 * time.Minute
	DefaultNamespace = "users"
	scanCount        = 200
)

// UserCache stores users as JSON under "<namespace>:<id>". A nil client
// turns every method into a no-op, so callers never branch on whether Redis
// is configured. Cache failures are logged and swallowed.
type UserCache struct {
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
	logger    database.Logger
}

// NewUserCache returns a cache over rdb. A non-positive ttl falls back to
// DefaultTTL and an empty namespace to DefaultNamespace.
func NewUserCache(rdb *redis.Client, ttl time.Duration, namespace string) *UserCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	namespace = safe(namespace)
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &UserCache{rdb: rdb, ttl: ttl, namespace: namespace, logger: database.GetLogger()}
}

func (c *UserCache) TTL() time.Duration { return c.ttl }

func (c *UserCache) Namespace() string { return c.namespace }

// Enabled reports whether a Redis client is attached.
func (c *UserCache) Enabled() bool { return c != nil && c.rdb != nil }

// Get returns the cached user. A corrupt entry is deleted and reported as a
// miss.
func (c *UserCache) Get(ctx context.Context, id int64) (*models.User, bool) {
	if !c.Enabled() {
		return nil, false
	}
	key := c.key(id)
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("User cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	var u models.User
	if err := json.Unmarshal(b, &u); err != nil || u.ID != id {
		c.logger.Warn("Dropping corrupt user cache entry", "key", key)
		_ = c.rdb.Del(ctx, key).Err()
		return nil, false
	}
	return &u, true
}

// Set stores u for the configured TTL.
func (c *UserCache) Set(ctx context.Context, u *models.User) {
	if !c.Enabled() || u == nil || u.ID == 0 {
		return
	}
	b, err := json.Marshal(u)
	if err != nil {
		c.logger.Warn("User cache encode failed", "id", u.ID, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, c.key(u.ID), b, c.ttl).Err(); err != nil {
		c.logger.Warn("User cache write failed", "id", u.ID, "error", err)
	}
}

// Invalidate drops the entries of ids.
func (c *UserCache) Invalidate(ctx context.Context, ids ...int64) {
	if !c.Enabled() || len(ids) == 0 {
		return
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = c.key(id)
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("User cache invalidation failed", "keys", keys, "error", err)
	}
}

// Flush removes every key of the namespace using SCAN, and returns how many
// were deleted.
func (c *UserCache) Flush(ctx context.Context) (int64, error) {
	if !c.Enabled() {
		return 0, nil
	}
	var (
		cursor  uint64
		deleted int64
	)
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, c.namespace+":*", scanCount).Result()
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", c.namespace, err)
		}
		if len(keys) > 0 {
			n, err := c.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("delete %s keys: %w", c.namespace, err)
			}
			deleted += n
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

func (c *UserCache) key(id int64) string {
	return fmt.Sprintf("%s:%d", c.namespace, id)
}

// safe replaces the characters that would break key patterns.
func safe(s string) string {
	return strings.NewReplacer(" ", "_", ":", "_", "*", "_").Replace(strings.TrimSpace(s))
}
