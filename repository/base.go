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
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/tomoncle/usercenter/database"
	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

// pending is the per-call state shared by a repository and the fluent
// calls made on it.
type pending struct {
	mu    sync.Mutex
	scope Scope
	with  []Relation
}

// consumed is a snapshot of pending taken by an operation.
type consumed struct {
	scope Scope
	with  []Relation
}

type baseRepositoryImpl[T any] struct {
	db      bun.IDB
	table   *schema.Table
	pk      string
	fresh   bool
	logger  database.Logger
	pending *pending
}

// Option configures NewRepository.
type Option func(*options)

type options struct {
	logger database.Logger
	fresh  bool
}

// WithLogger overrides the data layer logger used by the repository.
func WithLogger(logger database.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithFreshDefault sets the initial return-fresh flag (true by default).
func WithFreshDefault(fresh bool) Option {
	return func(o *options) { o.fresh = fresh }
}

// NewRepository returns a repository for the bun model T. T must be a struct
// whose table has exactly one primary key.
func NewRepository[T any](db bun.IDB, opts ...Option) (Repository[T], error) {
	const op = "NewRepository"
	if db == nil {
		return nil, newError(op, ErrInvalidConfiguration, "nil database handle")
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()
	if typ.Kind() != reflect.Struct {
		return nil, newError(op, ErrInvalidConfiguration, "%s is not a struct", typ)
	}
	table := db.Dialect().Tables().Get(typ)
	if table == nil {
		return nil, newError(op, ErrInvalidConfiguration, "%s is not a bun model", typ)
	}
	if len(table.PKs) != 1 {
		return nil, newError(op, ErrInvalidConfiguration, "%s has %d primary keys, want 1", typ, len(table.PKs))
	}

	o := options{fresh: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = database.GetLogger()
	}
	return &baseRepositoryImpl[T]{
		db:      db,
		table:   table,
		pk:      table.PKs[0].Name,
		fresh:   o.fresh,
		logger:  o.logger,
		pending: &pending{},
	}, nil
}

// MustNewRepository is NewRepository that panics on misconfiguration.
func MustNewRepository[T any](db bun.IDB, opts ...Option) Repository[T] {
	repo, err := NewRepository[T](db, opts...)
	if err != nil {
		panic(err)
	}
	return repo
}

func (r *baseRepositoryImpl[T]) DB() bun.IDB { return r.db }

func (r *baseRepositoryImpl[T]) Dialect() schema.Dialect { return r.db.Dialect() }

func (r *baseRepositoryImpl[T]) Table() *schema.Table { return r.table }

func (r *baseRepositoryImpl[T]) NewSelect() *bun.SelectQuery {
	return r.db.NewSelect().Model((*T)(nil))
}

// clone copies the repository with a snapshot of the pending state.
func (r *baseRepositoryImpl[T]) clone() *baseRepositoryImpl[T] {
	r.pending.mu.Lock()
	p := &pending{scope: r.pending.scope, with: append([]Relation(nil), r.pending.with...)}
	r.pending.mu.Unlock()
	c := *r
	c.pending = p
	return &c
}

func (r *baseRepositoryImpl[T]) SetScope(s Scope) Repository[T] {
	r.pending.mu.Lock()
	defer r.pending.mu.Unlock()
	r.pending.scope = r.pending.scope.Then(s)
	return r
}

func (r *baseRepositoryImpl[T]) ClearScope() Repository[T] {
	r.take()
	return r
}

func (r *baseRepositoryImpl[T]) OrderBy(column, direction string) Repository[T] {
	return r.SetScope(ScopeOrder(column, direction))
}

func (r *baseRepositoryImpl[T]) With(relations ...Relation) Repository[T] {
	r.pending.mu.Lock()
	defer r.pending.mu.Unlock()
	r.pending.with = mergeRelations(r.pending.with, relations)
	return r
}

func (r *baseRepositoryImpl[T]) WithFresh() Repository[T] { return r.SetFresh(true) }

func (r *baseRepositoryImpl[T]) WithoutFresh() Repository[T] { return r.SetFresh(false) }

func (r *baseRepositoryImpl[T]) SetFresh(fresh bool) Repository[T] {
	c := r.clone()
	c.fresh = fresh
	return c
}

func (r *baseRepositoryImpl[T]) IsFresh() bool { return r.fresh }

func (r *baseRepositoryImpl[T]) WithTx(tx bun.IDB) Repository[T] {
	c := r.clone()
	c.db = tx
	return c
}

func (r *baseRepositoryImpl[T]) RunInTx(ctx context.Context, fn func(ctx context.Context, repo Repository[T]) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, r.WithTx(tx))
	})
}

// take consumes the pending scope and relations, leaving the repository
// clean for the next call.
func (r *baseRepositoryImpl[T]) take() consumed {
	r.pending.mu.Lock()
	defer r.pending.mu.Unlock()
	c := consumed{scope: r.pending.scope, with: r.pending.with}
	r.pending.scope = Scope{}
	r.pending.with = nil
	return c
}

func mergeRelations(have, add []Relation) []Relation {
	out := append([]Relation(nil), have...)
	for _, rel := range add {
		dup := false
		for _, h := range out {
			if h.Name == rel.Name {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, rel)
		}
	}
	return out
}

func (r *baseRepositoryImpl[T]) selectTarget() target {
	return target{qualifier: r.table.Alias, pk: r.pk}
}

func (r *baseRepositoryImpl[T]) writeTarget() target {
	return target{pk: r.pk}
}

// newSelect builds a select over model with the consumed scope applied and,
// when eager is set, the consumed relations loaded.
func (r *baseRepositoryImpl[T]) newSelect(db bun.IDB, model interface{}, st consumed, eager bool) *bun.SelectQuery {
	q := db.NewSelect().Model(model)
	if eager {
		for _, rel := range st.with {
			q = q.Relation(rel.Name)
		}
	}
	return st.scope.applySelect(q, r.selectTarget())
}

func (r *baseRepositoryImpl[T]) wherePK(q *bun.SelectQuery, id any) *bun.SelectQuery {
	expr, args := column(r.table.Alias, r.pk)
	return q.Where(expr+" = ?", append(args, id)...)
}

func (r *baseRepositoryImpl[T]) checkColumns(op string, columns []string) error {
	for _, col := range columns {
		if !types.IsSafeIdentifier(col) {
			return newError(op, ErrInvalidArgument, "unsafe column %q", col)
		}
	}
	return nil
}

func (r *baseRepositoryImpl[T]) prepare(op string, st consumed, columns []string, conds types.Conditions) error {
	if err := st.scope.Err(); err != nil {
		return err
	}
	for _, rel := range st.with {
		if err := rel.validate(); err != nil {
			return &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
		}
	}
	if err := r.checkColumns(op, columns); err != nil {
		return err
	}
	return validateConditions(op, conds)
}

// first returns the first row matching conds (ANDed, or ORed when or is
// set), or nil.
func (r *baseRepositoryImpl[T]) first(ctx context.Context, db bun.IDB, op string, st consumed, conds types.Conditions, or bool) (*T, error) {
	if err := r.prepare(op, st, nil, conds); err != nil {
		return nil, err
	}
	entity := new(T)
	q := r.newSelect(db, entity, st, true).ApplyQueryBuilder(func(qb bun.QueryBuilder) bun.QueryBuilder {
		if or {
			return applyOrConditions(qb, r.table.Alias, conds)
		}
		return applyConditions(qb, r.table.Alias, conds)
	})
	if err := q.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap(op, err)
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T]) find(ctx context.Context, db bun.IDB, op string, st consumed, id any, columns []string) (*T, error) {
	if err := r.prepare(op, st, columns, nil); err != nil {
		return nil, err
	}
	entity := new(T)
	q := r.wherePK(r.newSelect(db, entity, st, true), id)
	if len(columns) > 0 {
		q = q.Column(columns...)
	}
	if err := q.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap(op, err)
	}
	return entity, nil
}

// list returns every row matching conds, never nil.
func (r *baseRepositoryImpl[T]) list(ctx context.Context, op string, st consumed, columns []string, conds types.Conditions, or bool) ([]*T, error) {
	if err := r.prepare(op, st, columns, conds); err != nil {
		return nil, err
	}
	entities := make([]*T, 0)
	q := r.newSelect(r.db, &entities, st, true).ApplyQueryBuilder(func(qb bun.QueryBuilder) bun.QueryBuilder {
		if or {
			return applyOrConditions(qb, r.table.Alias, conds)
		}
		return applyConditions(qb, r.table.Alias, conds)
	})
	if len(columns) > 0 {
		q = q.Column(columns...)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, wrap(op, err)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) count(ctx context.Context, op string, st consumed, conds types.Conditions) (int, error) {
	if err := r.prepare(op, st, nil, conds); err != nil {
		return 0, err
	}
	n, err := r.newSelect(r.db, (*T)(nil), st, false).
		ApplyQueryBuilder(func(qb bun.QueryBuilder) bun.QueryBuilder {
			return applyConditions(qb, r.table.Alias, conds)
		}).
		Count(ctx)
	return n, wrap(op, err)
}

func (r *baseRepositoryImpl[T]) Find(ctx context.Context, id any, columns ...string) (*T, error) {
	return r.find(ctx, r.db, "Find", r.take(), id, columns)
}

func (r *baseRepositoryImpl[T]) FindOrFail(ctx context.Context, id any, columns ...string) (*T, error) {
	entity, err := r.find(ctx, r.db, "FindOrFail", r.take(), id, columns)
	if err == nil && entity == nil {
		err = newError("FindOrFail", ErrNotFound, "%s id %v", r.table.Name, id)
	}
	return entity, err
}

func (r *baseRepositoryImpl[T]) First(ctx context.Context) (*T, error) {
	return r.first(ctx, r.db, "First", r.take(), nil, false)
}

func (r *baseRepositoryImpl[T]) FirstOrFail(ctx context.Context) (*T, error) {
	entity, err := r.first(ctx, r.db, "FirstOrFail", r.take(), nil, false)
	if err == nil && entity == nil {
		err = newError("FirstOrFail", ErrNotFound, "%s", r.table.Name)
	}
	return entity, err
}

func (r *baseRepositoryImpl[T]) FirstWhere(ctx context.Context, conds ...types.Condition) (*T, error) {
	return r.first(ctx, r.db, "FirstWhere", r.take(), conds, false)
}

func (r *baseRepositoryImpl[T]) FirstOrWhere(ctx context.Context, conds ...types.Condition) (*T, error) {
	return r.first(ctx, r.db, "FirstOrWhere", r.take(), conds, true)
}

func (r *baseRepositoryImpl[T]) FirstOrNew(ctx context.Context, attrs, values types.Attributes) (*T, error) {
	const op = "FirstOrNew"
	entity, err := r.first(ctx, r.db, op, r.take(), attrs.Conditions(), false)
	if err != nil || entity != nil {
		return entity, err
	}
	entity = new(T)
	if _, err := fill(r.table, entity, attrs.Merge(values), fillGuarded); err != nil {
		return nil, &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T]) FirstOrCreate(ctx context.Context, attrs, values types.Attributes) (*T, error) {
	const op = "FirstOrCreate"
	st := r.take()
	var out *T
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		entity, err := r.first(ctx, tx, op, st, attrs.Conditions(), false)
		if err != nil || entity != nil {
			out = entity
			return err
		}
		out, err = r.create(ctx, tx, op, attrs.Merge(values), fillGuarded)
		return err
	})
	return out, err
}

func (r *baseRepositoryImpl[T]) FindBy(ctx context.Context, field string, value interface{}) ([]*T, error) {
	return r.list(ctx, "FindBy", r.take(), nil, types.Conditions{types.Eq(field, value)}, false)
}

func (r *baseRepositoryImpl[T]) FindWhere(ctx context.Context, conds ...types.Condition) ([]*T, error) {
	return r.list(ctx, "FindWhere", r.take(), nil, conds, false)
}

func (r *baseRepositoryImpl[T]) FindOrWhere(ctx context.Context, conds ...types.Condition) ([]*T, error) {
	return r.list(ctx, "FindOrWhere", r.take(), nil, conds, true)
}

func (r *baseRepositoryImpl[T]) FindWhereIn(ctx context.Context, field string, values []interface{}) ([]*T, error) {
	return r.list(ctx, "FindWhereIn", r.take(), nil, types.Conditions{types.Where(field, types.OpIn, values)}, false)
}

func (r *baseRepositoryImpl[T]) FindWhereNotIn(ctx context.Context, field string, values []interface{}) ([]*T, error) {
	return r.list(ctx, "FindWhereNotIn", r.take(), nil, types.Conditions{types.Where(field, types.OpNotIn, values)}, false)
}

func (r *baseRepositoryImpl[T]) FindWhereBetween(ctx context.Context, field string, low, high interface{}) ([]*T, error) {
	return r.list(ctx, "FindWhereBetween", r.take(), nil, types.Conditions{types.Between(field, low, high)}, false)
}

func (r *baseRepositoryImpl[T]) FindWhereNotBetween(ctx context.Context, field string, low, high interface{}) ([]*T, error) {
	cond := types.Where(field, types.OpNotBetween, []interface{}{low, high})
	return r.list(ctx, "FindWhereNotBetween", r.take(), nil, types.Conditions{cond}, false)
}

func (r *baseRepositoryImpl[T]) FindFirstWhere(ctx context.Context, conds ...types.Condition) (*T, error) {
	return r.first(ctx, r.db, "FindFirstWhere", r.take(), conds, false)
}

func (r *baseRepositoryImpl[T]) FindCountWhere(ctx context.Context, conds ...types.Condition) (int, error) {
	return r.count(ctx, "FindCountWhere", r.take(), conds)
}

func (r *baseRepositoryImpl[T]) Count(ctx context.Context, conds ...types.Condition) (int, error) {
	return r.count(ctx, "Count", r.take(), conds)
}

func (r *baseRepositoryImpl[T]) Exists(ctx context.Context, conds ...types.Condition) (bool, error) {
	const op = "Exists"
	st := r.take()
	if err := r.prepare(op, st, nil, conds); err != nil {
		return false, err
	}
	ok, err := r.newSelect(r.db, (*T)(nil), st, false).
		ApplyQueryBuilder(func(qb bun.QueryBuilder) bun.QueryBuilder {
			return applyConditions(qb, r.table.Alias, conds)
		}).
		Exists(ctx)
	return ok, wrap(op, err)
}

func (r *baseRepositoryImpl[T]) FindTrashed(ctx context.Context, id any) (*T, error) {
	const op = "FindTrashed"
	st := r.take()
	if r.table.SoftDeleteField == nil {
		return nil, &Error{Op: op, Kind: ErrSoftDeleteUnsupported}
	}
	if err := r.prepare(op, st, nil, nil); err != nil {
		return nil, err
	}
	entity := new(T)
	q := r.wherePK(r.newSelect(r.db, entity, st, true).WhereDeleted(), id)
	if err := q.Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, newError(op, ErrNotFound, "%s id %v is not trashed", r.table.Name, id)
		}
		return nil, wrap(op, err)
	}
	return entity, nil
}

func (r *baseRepositoryImpl[T]) AllTrashed(ctx context.Context) ([]*T, error) {
	const op = "AllTrashed"
	st := r.take()
	if r.table.SoftDeleteField == nil {
		return nil, &Error{Op: op, Kind: ErrSoftDeleteUnsupported}
	}
	if err := r.prepare(op, st, nil, nil); err != nil {
		return nil, err
	}
	entities := make([]*T, 0)
	if err := r.newSelect(r.db, &entities, st, true).WhereDeleted().Scan(ctx); err != nil {
		return nil, wrap(op, err)
	}
	return entities, nil
}

func (r *baseRepositoryImpl[T]) All(ctx context.Context, columns ...string) ([]*T, error) {
	return r.list(ctx, "All", r.take(), columns, nil, false)
}

func (r *baseRepositoryImpl[T]) Get(ctx context.Context, columns ...string) ([]*T, error) {
	return r.list(ctx, "Get", r.take(), columns, nil, false)
}

func (r *baseRepositoryImpl[T]) Limit(ctx context.Context, n int) ([]*T, error) {
	st := r.take()
	st.scope = st.scope.Then(ScopeLimit(n))
	return r.list(ctx, "Limit", st, nil, nil, false)
}

// Paginate counts the scoped rows, then reads one page of them. A nil
// request reads the first page of DefaultPerPage rows.
func (r *baseRepositoryImpl[T]) Paginate(ctx context.Context, page *types.PageRequest) (*types.Pagination[T], error) {
	const op = "Paginate"
	st := r.take()
	if page == nil {
		page = types.NewDefaultPageRequest(1)
	}
	if err := r.prepare(op, st, page.GetColumns(), nil); err != nil {
		return nil, err
	}
	pagination := types.NewPagination[T](page)
	total, err := r.newSelect(r.db, (*T)(nil), st, false).Count(ctx)
	if err != nil {
		return nil, wrap(op, err)
	}
	pagination.SetTotal(total)
	if total == 0 || page.GetOffset() >= total {
		return pagination, nil
	}

	entities := make([]*T, 0, page.GetPerPage())
	q := r.newSelect(r.db, &entities, st, true)
	if cols := page.GetColumns(); len(cols) > 0 {
		q = q.Column(cols...)
	}
	if err := q.Offset(page.GetOffset()).Limit(page.GetPerPage()).Scan(ctx); err != nil {
		return nil, wrap(op, err)
	}
	pagination.Items = entities
	return pagination, nil
}

func (r *baseRepositoryImpl[T]) Pluck(ctx context.Context, col string) ([]interface{}, error) {
	const op = "Pluck"
	st := r.take()
	if err := r.prepare(op, st, []string{col}, nil); err != nil {
		return nil, err
	}
	rows, err := r.newSelect(r.db, (*T)(nil), st, false).Column(col).Rows(ctx)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	out := make([]interface{}, 0)
	for rows.Next() {
		var v interface{}
		if err := rows.Scan(&v); err != nil {
			return nil, wrap(op, err)
		}
		out = append(out, normalizeScanned(v))
	}
	return out, wrap(op, rows.Err())
}

func (r *baseRepositoryImpl[T]) PluckKeyed(ctx context.Context, col, key string) (map[string]interface{}, error) {
	const op = "PluckKeyed"
	st := r.take()
	if err := r.prepare(op, st, []string{col, key}, nil); err != nil {
		return nil, err
	}
	rows, err := r.newSelect(r.db, (*T)(nil), st, false).Column(col, key).Rows(ctx)
	if err != nil {
		return nil, wrap(op, err)
	}
	defer rows.Close()

	out := make(map[string]interface{})
	for rows.Next() {
		var v, k interface{}
		if err := rows.Scan(&v, &k); err != nil {
			return nil, wrap(op, err)
		}
		out[fmt.Sprint(normalizeScanned(k))] = normalizeScanned(v)
	}
	return out, wrap(op, rows.Err())
}

// normalizeScanned turns driver []byte text into string.
func normalizeScanned(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
