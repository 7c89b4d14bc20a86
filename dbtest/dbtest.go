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

// Package dbtest opens throwaway sqlite databases with every registered
// model migrated, for tests.
package dbtest

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/usercenter/database"
	_ "github.com/tomoncle/usercenter/models"
	"github.com/uptrace/bun"
)

// Config returns a connection config for a private in-memory sqlite
// database. A single connection keeps the database alive and lets
// PRAGMA settings stick.
func Config() *database.ConnectionConfig {
	cfg := database.DefaultConnectionConfig()
	cfg.Type = "sqlite"
	cfg.DBName = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	cfg.ConnMaxLifetime = 0
	cfg.ConnMaxIdleTime = 0
	cfg.EnableReconnect = false
	cfg.SlowQueryTime = 0
	return cfg
}

// Open returns a migrated database closed at the end of the test.
func Open(t testing.TB) *bun.DB {
	t.Helper()
	ctx := context.Background()

	_, db, err := database.OpenDB(Config(), database.GetLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(ctx, "PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	cfg := database.DefaultConfig()
	cfg.DataInitConfig.AutoInitOnMigration = false
	require.NoError(t, database.NewMigrationManager(db, cfg, nil).RunMigrations(ctx))
	return db
}
