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
	"reflect"
	"sort"
	"sync"

	"github.com/uptrace/bun"
)

var defaultRegistry = &ModelRegistry{}

// SQLModel is a bun model taking part in migrations. Lower priorities are
// registered and created first, so join tables used by m2m relations and
// referenced tables must carry a lower priority than the tables using them.
type SQLModel struct {
	Instance interface{}
	Priority int
}

// ModelRegistry stores SQL models and exposes them in priority order.
type ModelRegistry struct {
	mu     sync.RWMutex
	models []SQLModel
}

// Register adds a model instance (a typed nil pointer such as (*User)(nil)).
func (r *ModelRegistry) Register(instance interface{}, priority int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models = append(r.models, SQLModel{Instance: instance, Priority: priority})
}

// Models returns the registered models sorted by ascending priority. Models
// sharing a priority keep their registration order.
func (r *ModelRegistry) Models() []SQLModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SQLModel, len(r.models))
	copy(out, r.models)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Instances returns the model instances in priority order.
func (r *ModelRegistry) Instances() []interface{} {
	models := r.Models()
	out := make([]interface{}, len(models))
	for i, m := range models {
		out[i] = m.Instance
	}
	return out
}

// RegisterModel adds a model to the default registry.
func RegisterModel(instance interface{}, priority int) {
	defaultRegistry.Register(instance, priority)
}

// RegisteredModels returns the default registry contents in priority order.
func RegisteredModels() []SQLModel {
	return defaultRegistry.Models()
}

// RegisteredModelInstances returns the default registry instances in order.
func RegisteredModelInstances() []interface{} {
	return defaultRegistry.Instances()
}

// BindModels registers every known model with db. bun needs m2m join
// models registered before any query touches the relation.
func BindModels(db *bun.DB) {
	db.RegisterModel(RegisteredModelInstances()...)
}

func modelType(model interface{}) reflect.Type {
	t := reflect.TypeOf(model)
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	return t
}
