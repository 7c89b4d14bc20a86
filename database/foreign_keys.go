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

package database

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"
)

// ForeignKeyConstraint describes a foreign key relationship between tables.
type ForeignKeyConstraint struct {
	Table           string `yaml:"table"`
	Column          string `yaml:"column"`
	ReferenceTable  string `yaml:"reference_table"`
	ReferenceColumn string `yaml:"reference_column"`
	OnDelete        string `yaml:"on_delete,omitempty"` // CASCADE, RESTRICT, SET NULL, NO ACTION
	OnUpdate        string `yaml:"on_update,omitempty"`
	ConstraintName  string `yaml:"constraint_name,omitempty"`
}

// ForeignKeyConfig is the YAML document listing foreign key constraints.
type ForeignKeyConfig struct {
	ForeignKeys []ForeignKeyConstraint `yaml:"foreign_keys"`
}

// Name returns the explicit constraint name or fk_<table>_<column>.
func (fk *ForeignKeyConstraint) Name() string {
	if fk.ConstraintName != "" {
		return fk.ConstraintName
	}
	return fmt.Sprintf("fk_%s_%s", fk.Table, fk.Column)
}

// GenerateSQL returns the ALTER TABLE statement adding the constraint.
func (fk *ForeignKeyConstraint) GenerateSQL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s)",
		fk.Table, fk.Name(), fk.Column, fk.ReferenceTable, fk.ReferenceColumn)
	if fk.OnDelete != "" {
		b.WriteString(" ON DELETE " + strings.ToUpper(fk.OnDelete))
	}
	if fk.OnUpdate != "" {
		b.WriteString(" ON UPDATE " + strings.ToUpper(fk.OnUpdate))
	}
	return b.String()
}

var referentialActions = []string{"CASCADE", "RESTRICT", "SET NULL", "NO ACTION"}

// Validate reports the first problem with the constraint definition.
func (fk *ForeignKeyConstraint) Validate() error {
	for _, part := range []string{fk.Table, fk.Column, fk.ReferenceTable, fk.ReferenceColumn} {
		if part == "" {
			return fmt.Errorf("incomplete foreign key %s.%s -> %s.%s", fk.Table, fk.Column, fk.ReferenceTable, fk.ReferenceColumn)
		}
	}
	for _, action := range []string{fk.OnDelete, fk.OnUpdate} {
		if action == "" {
			continue
		}
		valid := false
		for _, allowed := range referentialActions {
			if strings.EqualFold(action, allowed) {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid referential action %q on %s", action, fk.Name())
		}
	}
	return nil
}

// DefaultForeignKeys ties every user owned table to users.id with cascading
// deletes, and the role pivot to both sides.
func DefaultForeignKeys() []ForeignKeyConstraint {
	owned := []string{"user_details", "social_accounts", "user_signed_logs", "banned_users", "role_user"}
	fks := make([]ForeignKeyConstraint, 0, len(owned)+1)
	for _, table := range owned {
		fks = append(fks, ForeignKeyConstraint{
			Table: table, Column: "user_id",
			ReferenceTable: "users", ReferenceColumn: "id",
			OnDelete: "CASCADE",
		})
	}
	fks = append(fks, ForeignKeyConstraint{
		Table: "role_user", Column: "role_id",
		ReferenceTable: "roles", ReferenceColumn: "id",
		OnDelete: "CASCADE",
	})
	return fks
}

// ForeignKeyManager adds the configured constraints to the schema.
type ForeignKeyManager struct {
	constraints []ForeignKeyConstraint
	logger      Logger
}

// NewForeignKeyManager loads constraints from the YAML file at path and falls
// back to DefaultForeignKeys when path is empty or unreadable.
func NewForeignKeyManager(logger Logger, path string) (*ForeignKeyManager, error) {
	m := &ForeignKeyManager{logger: logger, constraints: DefaultForeignKeys()}
	if path == "" {
		return m, nil
	}
	constraints, err := LoadForeignKeys(path)
	if err != nil {
		if logger != nil {
			logger.Debug("Using code-defined foreign keys", "config_path", path, "error", err)
		}
		return m, nil
	}
	for _, c := range constraints {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	m.constraints = constraints
	return m, nil
}

// LoadForeignKeys reads a ForeignKeyConfig YAML document.
func LoadForeignKeys(path string) ([]ForeignKeyConstraint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign key file: %w", err)
	}
	var cfg ForeignKeyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse foreign key file: %w", err)
	}
	return cfg.ForeignKeys, nil
}

// Constraints returns the managed constraints.
func (m *ForeignKeyManager) Constraints() []ForeignKeyConstraint {
	return m.constraints
}

// ForTable returns the constraints declared on table.
func (m *ForeignKeyManager) ForTable(table string) []ForeignKeyConstraint {
	var out []ForeignKeyConstraint
	for _, c := range m.constraints {
		if strings.EqualFold(c.Table, table) {
			out = append(out, c)
		}
	}
	return out
}

// AddAll executes every constraint. Failures (typically "already exists") are
// logged and skipped.
func (m *ForeignKeyManager) AddAll(ctx context.Context, db bun.IDB) (added int) {
	for _, c := range m.constraints {
		if _, err := db.ExecContext(ctx, c.GenerateSQL()); err != nil {
			if m.logger != nil {
				m.logger.Debug("Skipped foreign key constraint", "constraint", c.Name(), "error", err)
			}
			continue
		}
		added++
	}
	return added
}
