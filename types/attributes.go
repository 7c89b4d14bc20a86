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

package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// Attributes is a column name to value mapping used for mass assignment.
// A value that is itself an Attributes (or map[string]interface{}) is treated
// as the payload for the relation of the same name.
type Attributes map[string]interface{}

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Only returns a copy holding just the given keys.
func (a Attributes) Only(keys ...string) Attributes {
	out := make(Attributes, len(keys))
	for _, k := range keys {
		if v, ok := a[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Except returns a copy without the given keys.
func (a Attributes) Except(keys ...string) Attributes {
	skip := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		skip[k] = struct{}{}
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		if _, ok := skip[k]; !ok {
			out[k] = v
		}
	}
	return out
}

// Merge returns a copy of a overlaid with other. Keys in other win.
func (a Attributes) Merge(other Attributes) Attributes {
	out := make(Attributes, len(a)+len(other))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Nested returns the relation payload stored under key, if any.
func (a Attributes) Nested(key string) (Attributes, bool) {
	switch v := a[key].(type) {
	case Attributes:
		return v, true
	case map[string]interface{}:
		return Attributes(v), true
	default:
		return nil, false
	}
}

// IsNested reports whether the value held under key is a relation payload.
func (a Attributes) IsNested(key string) bool {
	_, ok := a.Nested(key)
	return ok
}

// Conditions converts the attributes into equality conditions ordered by key.
func (a Attributes) Conditions() Conditions {
	conds := make(Conditions, 0, len(a))
	for _, k := range a.Keys() {
		if a.IsNested(k) {
			continue
		}
		conds = append(conds, Eq(k, a[k]))
	}
	return conds
}

// Value implements driver.Valuer so Attributes can back a JSON column.
func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSON columns.
func (a *Attributes) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*a = make(Attributes)
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into Attributes", value)
	}
	if len(raw) == 0 {
		*a = make(Attributes)
		return nil
	}
	return json.Unmarshal(raw, a)
}
