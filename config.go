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
	"fmt"
	"os"
	"strings"

	"github.com/tomoncle/usercenter/cache"
	"github.com/tomoncle/usercenter/database"
	"github.com/tomoncle/usercenter/users"
	"github.com/tomoncle/usercenter/utils"
	"gopkg.in/yaml.v3"
)

// LogConfig drives the named logrus loggers.
type LogConfig struct {
	Level       string `json:"level" yaml:"level"`
	Format      string `json:"format" yaml:"format"` // text or json
	FileEnabled bool   `json:"file_enabled" yaml:"file_enabled"`
	Dir         string `json:"dir" yaml:"dir"`
}

// SocialConfig lists the enabled OAuth providers.
type SocialConfig struct {
	Providers []string `json:"providers" yaml:"providers"`
}

// Config is the whole application configuration.
type Config struct {
	Database database.Config `json:"database" yaml:"database"`
	Redis    cache.Config    `json:"redis" yaml:"redis"`
	Log      LogConfig       `json:"log" yaml:"log"`
	Social   SocialConfig    `json:"social" yaml:"social"`
}

// DefaultConfig returns a sqlite backed configuration without Redis.
func DefaultConfig() *Config {
	return &Config{
		Database: *database.DefaultConfig(),
		Redis: cache.Config{
			TTL:       cache.DefaultTTL,
			Namespace: cache.DefaultNamespace,
		},
		Log:    LogConfig{Level: "info", Format: "text"},
		Social: SocialConfig{Providers: append([]string(nil), users.DefaultProviders...)},
	}
}

// LoadConfig reads the YAML file at path over the defaults and applies the
// DB_*, REDIS_* and LOG_* environment overrides. An empty path loads the
// defaults only.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	database.OverrideFromEnv(&cfg.Database.ConnectionConfig)
	cache.OverrideFromEnv(&cfg.Redis)
	cfg.Log.Level = utils.EnvDefaultString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = utils.EnvDefaultString("CONSOLE_LOG_FORMAT", cfg.Log.Format)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no sensible fallback.
func (c *Config) Validate() error {
	if err := c.Database.ConnectionConfig.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis: db must not be negative")
	}
	return nil
}

// ApplyLogging configures the logger registry. It must run before loggers
// are created to affect their format.
func (c *Config) ApplyLogging() {
	utils.ConfigureConsoleLogFormat(c.Log.Format)
	utils.ConfigureFileLog(c.Log.FileEnabled, c.Log.Dir)
	utils.ConfigureLogLevel(c.Log.Level)
}
