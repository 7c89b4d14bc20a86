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

package database_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/usercenter/database"
	"github.com/tomoncle/usercenter/dbtest"
	"github.com/tomoncle/usercenter/models"
)

func TestMigrationsCreateRegisteredTables(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	for _, model := range database.RegisteredModelInstances() {
		_, err := db.NewSelect().Model(model).Count(ctx)
		assert.NoError(t, err, "%T", model)
	}

	mm := database.NewMigrationManager(db, nil, nil)
	applied, err := mm.AppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "001", applied[0].Version)

	require.NoError(t, mm.RunMigrations(ctx))
	applied, err = mm.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 1)
}

func TestSQLSeedFiles(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	root := t.TempDir()

	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("common/001_roles.sql", `
-- base roles
INSERT INTO roles (name, title) VALUES ('admin', 'Administrator');
INSERT INTO roles (name, title) VALUES ('{{.ENVIRONMENT}}', 'Environment');
`)

	seeder := database.NewSQLInitManager(db, "test")
	seeder.SetSQLRootPath(root)
	require.NoError(t, seeder.ExecuteInitialization(ctx))

	n, err := db.NewSelect().Model((*models.Role)(nil)).Where("name IN (?, ?)", "admin", "test").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// A failing statement rolls back the whole file.
	root = t.TempDir()
	write("environments/broken/001_bad.sql", `
INSERT INTO roles (name) VALUES ('half');
INSERT INTO no_such_table VALUES (1);
`)
	broken := database.NewSQLInitManager(db, "broken")
	broken.SetSQLRootPath(root)
	assert.Error(t, broken.ExecuteInitialization(ctx))

	n, err = db.NewSelect().Model((*models.Role)(nil)).Where("name = ?", "half").Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInitDBGlobal(t *testing.T) {
	ctx := context.Background()
	cfg := database.DefaultConfig()
	cfg.ConnectionConfig = *dbtest.Config()

	db, err := database.InitDB(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.CloseDB() })
	require.NotNil(t, db)
	assert.Same(t, db, database.GetDB())

	status := database.GetHealthStatus(ctx)
	assert.True(t, status.Healthy)

	_, err = db.NewSelect().Model((*models.User)(nil)).Count(ctx)
	assert.NoError(t, err)

	require.NoError(t, database.CloseDB())
	assert.Nil(t, database.GetDB())
	assert.Error(t, database.RunMigrations(ctx))
}
