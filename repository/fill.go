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

package repository

import (
	"fmt"
	"reflect"
	"time"

	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun/schema"
)

// Fillable is implemented by entities that restrict guarded mass
// assignment to a list of columns. Entities without it accept every
// column except the protected ones.
type Fillable interface {
	Fillable() []string
}

// protected columns are never written by guarded fill.
var protectedColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"deleted_at": true,
}

var timeType = reflect.TypeOf(time.Time{})

type fillMode int

const (
	fillGuarded fillMode = iota
	fillForce
	// fillLenient behaves like fillForce but skips unknown columns. Used when
	// a forced update cascades the parent's attributes into a relation.
	fillLenient
)

func modeOf(force bool) fillMode {
	if force {
		return fillForce
	}
	return fillGuarded
}

// fill assigns attrs to the struct behind entity and returns the columns
// it wrote, in key order. Nested relation payloads are skipped.
func fill(table *schema.Table, entity interface{}, attrs types.Attributes, mode fillMode) ([]string, error) {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot fill %T", entity)
	}
	strct := v.Elem()

	var allowed map[string]bool
	if f, ok := entity.(Fillable); ok && mode == fillGuarded {
		allowed = make(map[string]bool)
		for _, col := range f.Fillable() {
			allowed[col] = true
		}
	}

	var changed []string
	for _, key := range attrs.Keys() {
		field, known := table.FieldMap[key]
		if !known {
			if attrs.IsNested(key) || mode != fillForce {
				continue
			}
			return nil, fmt.Errorf("unknown column %q on %s", key, table.Name)
		}
		if mode != fillForce {
			if field.IsPK || protectedColumns[key] || (allowed != nil && !allowed[key]) {
				continue
			}
		}
		if err := assign(strct.FieldByIndex(field.Index), attrs[key]); err != nil {
			return nil, fmt.Errorf("column %q: %w", key, err)
		}
		changed = append(changed, key)
	}
	return changed, nil
}

// assign stores val into dst, converting where the conversion is lossless
// enough to be unsurprising.
func assign(dst reflect.Value, val interface{}) error {
	if val == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	src := reflect.ValueOf(val)
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	if dst.Kind() == reflect.Ptr {
		if src.Kind() == reflect.Ptr {
			if src.IsNil() {
				dst.Set(reflect.Zero(dst.Type()))
				return nil
			}
			src = src.Elem()
		}
		elem := reflect.New(dst.Type().Elem())
		if err := assign(elem.Elem(), src.Interface()); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}
	if src.Kind() == reflect.Ptr {
		if src.IsNil() {
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		return assign(dst, src.Elem().Interface())
	}
	if dst.Type() == timeType && src.Kind() == reflect.String {
		t, err := parseTime(src.String())
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}
	// int -> string conversion yields a rune, never what a caller meant.
	if dst.Kind() == reflect.String && src.Kind() != reflect.String {
		return fmt.Errorf("cannot assign %T to %s", val, dst.Type())
	}
	if src.Type().ConvertibleTo(dst.Type()) {
		dst.Set(src.Convert(dst.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", val, dst.Type())
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}

// columnsOf returns the attribute keys that are columns of table, skipping
// nested payloads. Unknown keys are reported.
func columnsOf(table *schema.Table, row types.Attributes) ([]string, error) {
	cols := make([]string, 0, len(row))
	for _, key := range row.Keys() {
		if _, ok := table.FieldMap[key]; !ok {
			return nil, fmt.Errorf("unknown column %q on %s", key, table.Name)
		}
		cols = append(cols, key)
	}
	return cols, nil
}
