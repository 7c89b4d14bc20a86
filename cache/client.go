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

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tomoncle/usercenter/database"
	"github.com/tomoncle/usercenter/utils"
)

// Config selects the Redis server backing the user cache. An empty Addr
// disables caching.
type Config struct {
	Addr      string        `json:"addr" yaml:"addr"`
	Password  string        `json:"password" yaml:"password"`
	DB        int           `json:"db" yaml:"db"`
	TTL       time.Duration `json:"ttl" yaml:"ttl"`
	Namespace string        `json:"namespace" yaml:"namespace"`
}

// OverrideFromEnv applies REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, REDIS_TTL
// (seconds) and REDIS_NAMESPACE.
func OverrideFromEnv(cfg *Config) {
	cfg.Addr = utils.EnvDefaultString("REDIS_ADDR", cfg.Addr)
	cfg.Password = utils.EnvDefaultString("REDIS_PASSWORD", cfg.Password)
	cfg.DB = utils.EnvDefaultInt("REDIS_DB", cfg.DB)
	cfg.TTL = utils.EnvDefaultSeconds("REDIS_TTL", cfg.TTL)
	cfg.Namespace = utils.EnvDefaultString("REDIS_NAMESPACE", cfg.Namespace)
}

// NewClient connects to Redis and pings it. It returns a nil client and no
// error when cfg.Addr is empty.
func NewClient(ctx context.Context, cfg *Config) (*redis.Client, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		database.GetLogger().Error("Redis connection failed", "address", cfg.Addr, "error", err)
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	database.GetLogger().Info("Redis connection successful", "address", cfg.Addr)
	return rdb, nil
}
