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

package usercenter

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tomoncle/usercenter/cache"
	"github.com/tomoncle/usercenter/database"
	"github.com/tomoncle/usercenter/users"
	"github.com/uptrace/bun"
)

// App wires the database, the optional Redis cache and the services.
type App struct {
	Config *Config
	DB     *bun.DB
	Redis  *redis.Client
	Cache  *cache.UserCache
	Repo   users.Repository
	Users  *users.Service
	Social *users.SocialAccountService
}

// New connects everything described by cfg. Migrations run when the
// database config enables them on startup.
func New(ctx context.Context, cfg *Config) (*App, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyLogging()

	db, err := database.InitDB(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	app, err := newApp(ctx, cfg, db)
	if err != nil {
		_ = database.CloseDB()
		return nil, err
	}
	return app, nil
}

// newApp builds the services over an open db.
func newApp(ctx context.Context, cfg *Config, db *bun.DB) (*App, error) {
	rdb, err := cache.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, err
	}
	repo, err := users.NewRepository(db)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, fmt.Errorf("build repositories: %w", err)
	}
	uc := cache.NewUserCache(rdb, cfg.Redis.TTL, cfg.Redis.Namespace)
	return &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
		Cache:  uc,
		Repo:   repo,
		Users:  users.NewService(repo, uc),
		Social: users.NewSocialAccountService(repo, uc, cfg.Social.Providers...),
	}, nil
}

// Migrate creates missing tables and foreign keys.
func (a *App) Migrate(ctx context.Context) error {
	return database.NewMigrationManager(a.DB, &a.Config.Database, database.GetLogger()).RunMigrations(ctx)
}

// Seed runs the SQL seed files of the configured environment.
func (a *App) Seed(ctx context.Context) error {
	return database.NewMigrationManager(a.DB, &a.Config.Database, database.GetLogger()).InitData(ctx)
}

// Health reports database health.
func (a *App) Health(ctx context.Context) *database.HealthStatus {
	return database.GetHealthStatus(ctx)
}

// Close releases Redis and the global database.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	errs = append(errs, database.CloseDB())
	return errors.Join(errs...)
}
