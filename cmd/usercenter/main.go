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

// Command usercenter maintains the user center database.
//
//	usercenter [-config file] migrate
//	usercenter [-config file] seed
//	usercenter [-config file] create-user -name ann -email ann@example.com -password secret123 [-roles admin,member]
//	usercenter [-config file] flush-cache
//	usercenter [-config file] health
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tomoncle/usercenter"
	"github.com/tomoncle/usercenter/users"
	"github.com/tomoncle/usercenter/utils"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errUsage) {
			utils.NewLogger("USERCENTER").WithError(err).Error("Command failed")
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("usercenter", flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", utils.EnvDefaultString("USERCENTER_CONFIG", ""), "YAML configuration file")
	fs.Usage = func() {
		fmt.Fprintln(out, "usage: usercenter [-config file] <migrate|seed|create-user|flush-cache|health> [flags]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return errUsage
	}

	cfg, err := usercenter.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]
	switch cmd {
	case "migrate":
		return withApp(ctx, cfg, func(app *usercenter.App) error {
			if err := app.Migrate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(out, "migrations applied")
			return nil
		})
	case "seed":
		return withApp(ctx, cfg, func(app *usercenter.App) error {
			if err := app.Seed(ctx); err != nil {
				return err
			}
			fmt.Fprintf(out, "seed data loaded for %s\n", cfg.Database.DataInitConfig.Environment)
			return nil
		})
	case "create-user":
		return createUser(ctx, cfg, rest, out)
	case "flush-cache":
		return withApp(ctx, cfg, func(app *usercenter.App) error {
			n, err := app.Cache.Flush(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "removed %d cached users\n", n)
			return nil
		})
	case "health":
		return withApp(ctx, cfg, func(app *usercenter.App) error {
			return json.NewEncoder(out).Encode(app.Health(ctx))
		})
	default:
		fmt.Fprintf(out, "unknown command %q\n", cmd)
		fs.Usage()
		return errUsage
	}
}

func withApp(ctx context.Context, cfg *usercenter.Config, fn func(app *usercenter.App) error) error {
	cfg.Database.DataMigrateConfig.EnableMigrateOnStartup = true
	app, err := usercenter.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()
	return fn(app)
}

func createUser(ctx context.Context, cfg *usercenter.Config, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	fs.SetOutput(out)
	name := fs.String("name", "", "user name")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password, at least 8 characters")
	roles := fs.String("roles", "", "comma separated role names")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *name == "" || *email == "" || *password == "" {
		fmt.Fprintln(out, "create-user needs -name, -email and -password")
		fs.PrintDefaults()
		return errUsage
	}

	return withApp(ctx, cfg, func(app *usercenter.App) error {
		u, err := app.Users.Register(ctx, users.RegisterInput{
			Name:     *name,
			Email:    *email,
			Password: *password,
			Roles:    splitList(*roles),
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "created user %d <%s>\n", u.ID, u.Email)
		return nil
	})
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
