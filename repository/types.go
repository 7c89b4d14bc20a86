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
	"context"

	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// ScopedRepository holds the pending per-call state. Every other operation
// consumes and clears the pending scope and eager relations, whether it
// succeeds or not.
type ScopedRepository[T any] interface {
	// SetScope adds s to the pending scope.
	SetScope(s Scope) Repository[T]
	ClearScope() Repository[T]
	OrderBy(column, direction string) Repository[T]
	// With eager loads relations on the next read; Update cascades into them.
	With(relations ...Relation) Repository[T]

	// WithFresh, WithoutFresh and SetFresh return a copy with the flag
	// changed; the receiver keeps its own setting.
	WithFresh() Repository[T]
	WithoutFresh() Repository[T]
	SetFresh(fresh bool) Repository[T]
	IsFresh() bool

	// WithTx returns a copy bound to tx.
	WithTx(tx bun.IDB) Repository[T]
	RunInTx(ctx context.Context, fn func(ctx context.Context, repo Repository[T]) error) error
}

// ReadRepository covers lookups. Plain reads return nil (or an empty slice)
// when nothing matches; the OrFail variants and FindTrashed return
// ErrNotFound.
type ReadRepository[T any] interface {
	Find(ctx context.Context, id any, columns ...string) (*T, error)
	FindOrFail(ctx context.Context, id any, columns ...string) (*T, error)
	First(ctx context.Context) (*T, error)
	FirstOrFail(ctx context.Context) (*T, error)
	FirstWhere(ctx context.Context, conds ...types.Condition) (*T, error)
	FirstOrWhere(ctx context.Context, conds ...types.Condition) (*T, error)
	// FirstOrNew returns an unsaved entity filled from attrs and values when
	// nothing matches attrs.
	FirstOrNew(ctx context.Context, attrs, values types.Attributes) (*T, error)
	FirstOrCreate(ctx context.Context, attrs, values types.Attributes) (*T, error)

	FindBy(ctx context.Context, field string, value interface{}) ([]*T, error)
	FindWhere(ctx context.Context, conds ...types.Condition) ([]*T, error)
	FindOrWhere(ctx context.Context, conds ...types.Condition) ([]*T, error)
	FindWhereIn(ctx context.Context, field string, values []interface{}) ([]*T, error)
	FindWhereNotIn(ctx context.Context, field string, values []interface{}) ([]*T, error)
	FindWhereBetween(ctx context.Context, field string, low, high interface{}) ([]*T, error)
	FindWhereNotBetween(ctx context.Context, field string, low, high interface{}) ([]*T, error)
	FindFirstWhere(ctx context.Context, conds ...types.Condition) (*T, error)
	FindCountWhere(ctx context.Context, conds ...types.Condition) (int, error)
	Count(ctx context.Context, conds ...types.Condition) (int, error)
	Exists(ctx context.Context, conds ...types.Condition) (bool, error)

	FindTrashed(ctx context.Context, id any) (*T, error)
	AllTrashed(ctx context.Context) ([]*T, error)

	All(ctx context.Context, columns ...string) ([]*T, error)
	Get(ctx context.Context, columns ...string) ([]*T, error)
	Limit(ctx context.Context, n int) ([]*T, error)
	Paginate(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error)

	Pluck(ctx context.Context, column string) ([]interface{}, error)
	// PluckKeyed maps the string form of key to column.
	PluckKeyed(ctx context.Context, column, key string) (map[string]interface{}, error)
}

// WriteRepository covers single and bulk mutations. force selects
// unguarded assignment.
type WriteRepository[T any] interface {
	Create(ctx context.Context, attrs types.Attributes, force bool) (*T, error)
	Update(ctx context.Context, id any, attrs types.Attributes, force bool) (*T, error)
	UpdateWithRelations(ctx context.Context, id any, relations []Relation, attrs types.Attributes, force bool) (*T, error)
	UpdateWhereIn(ctx context.Context, column string, values []interface{}, fields types.Attributes) (int64, error)
	UpdateOrCreate(ctx context.Context, match, values types.Attributes, force bool) (*T, error)
	Destroy(ctx context.Context, id any, force bool) (int64, error)
	DestroyWhere(ctx context.Context, conds ...types.Condition) (int64, error)
	Restore(ctx context.Context, id any) (*T, error)

	Insert(ctx context.Context, rows ...types.Attributes) (int64, error)
	InsertIgnore(ctx context.Context, rows ...types.Attributes) (int64, error)
	Upsert(ctx context.Context, rows []types.Attributes, uniqueBy []string, update []string) (int64, error)
}

// RelationRepository maintains many-to-many links.
type RelationRepository[T any] interface {
	Sync(ctx context.Context, id any, relation Relation, items map[int64]types.Attributes, detaching bool) (*SyncResult, error)
	SyncWithoutDetaching(ctx context.Context, id any, relation Relation, items map[int64]types.Attributes) (*SyncResult, error)
}

// Repository combines scoping, reads, writes and relation sync and exposes
// bun for queries the interface does not cover.
type Repository[T any] interface {
	ScopedRepository[T]
	ReadRepository[T]
	WriteRepository[T]
	RelationRepository[T]
	DB() bun.IDB
	Dialect() schema.Dialect
	Table() *schema.Table
	// NewSelect starts a select bound to the entity model.
	NewSelect() *bun.SelectQuery
}
