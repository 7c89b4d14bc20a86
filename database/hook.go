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
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var silentQueries atomic.Bool

// SetQueryLogSilent mutes the query hooks, e.g. while migrations run.
func SetQueryLogSilent(silent bool) {
	silentQueries.Store(silent)
}

var operationColors = map[string]*color.Color{
	"SELECT": color.New(color.FgGreen),
	"INSERT": color.New(color.FgBlue),
	"UPDATE": color.New(color.FgYellow),
	"DELETE": color.New(color.FgMagenta),
}

func operationColor(event *bun.QueryEvent) *color.Color {
	if c, ok := operationColors[event.Operation()]; ok {
		return c
	}
	return color.New(color.FgRed)
}

// SlowQueryHook reports statements slower than Threshold. Output goes to
// Writer when set, otherwise to Logger.
type SlowQueryHook struct {
	Threshold time.Duration
	Logger    Logger
	Writer    io.Writer
}

var _ bun.QueryHook = (*SlowQueryHook)(nil)

// NewSlowQueryHook returns a hook logging through logger.
func NewSlowQueryHook(threshold time.Duration, logger Logger) *SlowQueryHook {
	return &SlowQueryHook{Threshold: threshold, Logger: logger}
}

func (h *SlowQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *SlowQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if silentQueries.Load() || event.Err != nil || h.Threshold <= 0 {
		return
	}
	elapsed := time.Since(event.StartTime)
	if elapsed <= h.Threshold {
		return
	}
	if h.Writer != nil {
		warn := color.New(color.FgYellow, color.Bold)
		_, _ = fmt.Fprintln(h.Writer,
			time.Now().Format("2006-01-02 15:04:05.000"),
			warn.Sprint("[BUN_SLOW]"),
			fmt.Sprintf("%12s", elapsed.Round(time.Microsecond)),
			operationColor(event).Sprint(event.Query),
		)
		return
	}
	if h.Logger != nil {
		h.Logger.Warn("Slow query detected",
			"duration", elapsed.Round(time.Microsecond),
			"threshold", h.Threshold,
			"query", event.Query,
		)
	}
}

// ColorQueryHook prints every failed statement, or every statement when
// Verbose is set, colored by operation.
type ColorQueryHook struct {
	Verbose bool
	Writer  io.Writer
}

var _ bun.QueryHook = (*ColorQueryHook)(nil)

// NewColorQueryHook writes to stdout.
func NewColorQueryHook(verbose bool) *ColorQueryHook {
	return &ColorQueryHook{Verbose: verbose, Writer: os.Stdout}
}

func (h *ColorQueryHook) BeforeQuery(ctx context.Context, _ *bun.QueryEvent) context.Context {
	return ctx
}

func (h *ColorQueryHook) AfterQuery(_ context.Context, event *bun.QueryEvent) {
	if silentQueries.Load() {
		return
	}
	if event.Err == nil && !h.Verbose {
		return
	}
	line := []interface{}{
		time.Now().Format("2006-01-02 15:04:05.000"),
		color.CyanString("[BUN]"),
		fmt.Sprintf("%12s", time.Since(event.StartTime).Round(time.Microsecond)),
		operationColor(event).Sprint(event.Query),
	}
	if event.Err != nil {
		line = append(line, color.New(color.BgRed, color.FgWhite).Sprintf(" %T: %v ", event.Err, event.Err))
	}
	_, _ = fmt.Fprintln(h.Writer, line...)
}
