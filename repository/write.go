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
	"fmt"
	"reflect"
	"time"

	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/schema"
)

const updatedAtColumn = "updated_at"

func (r *baseRepositoryImpl[T]) Create(ctx context.Context, attrs types.Attributes, force bool) (*T, error) {
	r.take()
	return r.create(ctx, r.db, "Create", attrs, modeOf(force))
}

func (r *baseRepositoryImpl[T]) create(ctx context.Context, db bun.IDB, op string, attrs types.Attributes, mode fillMode) (*T, error) {
	entity := new(T)
	if _, err := fill(r.table, entity, attrs, mode); err != nil {
		return nil, &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
	}
	if _, err := db.NewInsert().Model(entity).Exec(ctx); err != nil {
		return nil, wrap(op, err)
	}
	r.logger.Debug("Record created", "table", r.table.Name, "id", r.pkValue(entity))
	if !r.fresh {
		return entity, nil
	}
	return r.reload(ctx, db, op, entity, nil)
}

func (r *baseRepositoryImpl[T]) pkValue(entity *T) interface{} {
	return reflect.ValueOf(entity).Elem().FieldByIndex(r.table.PKs[0].Index).Interface()
}

// reload reads entity back by primary key with relations loaded.
func (r *baseRepositoryImpl[T]) reload(ctx context.Context, db bun.IDB, op string, entity *T, with []Relation) (*T, error) {
	fresh, err := r.find(ctx, db, op, consumed{with: with}, r.pkValue(entity), nil)
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		return nil, newError(op, ErrNotFound, "%s id %v vanished after write", r.table.Name, r.pkValue(entity))
	}
	return fresh, nil
}

func (r *baseRepositoryImpl[T]) Update(ctx context.Context, id any, attrs types.Attributes, force bool) (*T, error) {
	st := r.take()
	return r.update(ctx, "Update", st, id, st.with, attrs, force)
}

func (r *baseRepositoryImpl[T]) UpdateWithRelations(ctx context.Context, id any, relations []Relation, attrs types.Attributes, force bool) (*T, error) {
	st := r.take()
	return r.update(ctx, "UpdateWithRelations", st, id, relations, attrs, force)
}

// update loads id with relations attached, assigns attrs to it and cascades
// into each relation: a nested payload under the relation key when present,
// otherwise the whole attribute set. Related records are filled in the
// caller's mode, so guarded updates honour their Fillable lists. Everything
// is saved in one transaction.
func (r *baseRepositoryImpl[T]) update(ctx context.Context, op string, st consumed, id any, relations []Relation, attrs types.Attributes, force bool) (*T, error) {
	st.with = mergeRelations(st.with, relations)
	mode := modeOf(force)
	var out *T
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		entity, err := r.find(ctx, tx, op, st, id, nil)
		if err != nil {
			return err
		}
		if entity == nil {
			return newError(op, ErrNotFound, "%s id %v", r.table.Name, id)
		}
		if err := save(ctx, tx, r.table, entity, attrs.Except(r.pk), mode); err != nil {
			return wrapFill(op, err)
		}
		for _, rel := range relations {
			if err := r.cascade(ctx, tx, entity, rel, attrs, mode); err != nil {
				return wrapFill(op, err)
			}
		}
		if !r.fresh {
			out = entity
			return nil
		}
		out, err = r.reload(ctx, tx, op, entity, st.with)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fillError marks an assignment failure so it is reported as an invalid
// argument rather than a storage error.
type fillError struct{ err error }

func (e fillError) Error() string { return e.err.Error() }
func (e fillError) Unwrap() error { return e.err }

func wrapFill(op string, err error) error {
	if fe, ok := err.(fillError); ok {
		return &Error{Op: op, Kind: ErrInvalidArgument, Err: fe.err}
	}
	return wrap(op, err)
}

// save assigns attrs to model and updates the changed columns.
func save(ctx context.Context, db bun.IDB, table *schema.Table, model interface{}, attrs types.Attributes, mode fillMode) error {
	changed, err := fill(table, model, attrs, mode)
	if err != nil {
		return fillError{err}
	}
	if len(changed) == 0 {
		return nil
	}
	if f, ok := table.FieldMap[updatedAtColumn]; ok && !contains(changed, updatedAtColumn) {
		touch(reflect.ValueOf(model).Elem().FieldByIndex(f.Index))
		changed = append(changed, updatedAtColumn)
	}
	_, err = db.NewUpdate().Model(model).Column(changed...).WherePK().Exec(ctx)
	return err
}

func (r *baseRepositoryImpl[T]) cascade(ctx context.Context, db bun.IDB, entity *T, rel Relation, attrs types.Attributes, mode fillMode) error {
	payload, nested := attrs.Nested(rel.Key)
	if !nested {
		payload = attrs.Except(r.pk)
		if mode == fillForce {
			mode = fillLenient
		}
	}
	field := reflect.ValueOf(entity).Elem().FieldByName(rel.Name)
	if !field.IsValid() {
		return fillError{fmt.Errorf("%s has no relation field %s", r.table.TypeName, rel.Name)}
	}

	var targets []interface{}
	switch field.Kind() {
	case reflect.Ptr:
		if !field.IsNil() {
			targets = append(targets, field.Interface())
		}
	case reflect.Struct:
		targets = append(targets, field.Addr().Interface())
	case reflect.Slice:
		for i := 0; i < field.Len(); i++ {
			elem := field.Index(i)
			if elem.Kind() == reflect.Ptr {
				if !elem.IsNil() {
					targets = append(targets, elem.Interface())
				}
				continue
			}
			targets = append(targets, elem.Addr().Interface())
		}
	default:
		return fillError{fmt.Errorf("relation field %s has unsupported kind %s", rel.Name, field.Kind())}
	}

	for _, target := range targets {
		table := db.Dialect().Tables().Get(reflect.TypeOf(target).Elem())
		if err := save(ctx, db, table, target, payload, mode); err != nil {
			return err
		}
	}
	return nil
}

func (r *baseRepositoryImpl[T]) UpdateWhereIn(ctx context.Context, col string, values []interface{}, fields types.Attributes) (int64, error) {
	const op = "UpdateWhereIn"
	st := r.take()
	if col == "" || !types.IsSafeIdentifier(col) {
		return 0, newError(op, ErrInvalidArgument, "column %q", col)
	}
	if err := st.scope.Err(); err != nil {
		return 0, err
	}
	if len(values) == 0 || len(fields) == 0 {
		return 0, nil
	}
	cols, err := columnsOf(r.table, fields)
	if err != nil {
		return 0, &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
	}

	q := r.db.NewUpdate().Model((*T)(nil))
	for _, c := range cols {
		q = q.Set("? = ?", bun.Ident(c), fields[c])
	}
	if _, ok := r.table.FieldMap[updatedAtColumn]; ok && !contains(cols, updatedAtColumn) {
		q = q.Set("? = ?", bun.Ident(updatedAtColumn), time.Now())
	}
	q = q.ApplyQueryBuilder(func(qb bun.QueryBuilder) bun.QueryBuilder {
		qb = qb.Where("? IN (?)", bun.Ident(col), bun.In(values))
		return st.scope.applyFilter(qb, r.writeTarget())
	})
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, wrap(op, err)
	}
	n, _ := res.RowsAffected()
	r.logger.Debug("Bulk update applied", "table", r.table.Name, "column", col, "rows", n)
	return n, nil
}

// UpdateOrCreate updates the first record matching match with values, or
// creates one from match merged with values, inside one transaction.
func (r *baseRepositoryImpl[T]) UpdateOrCreate(ctx context.Context, match, values types.Attributes, force bool) (*T, error) {
	const op = "UpdateOrCreate"
	st := r.take()
	st.with = nil
	mode := modeOf(force)
	var out *T
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		entity, err := r.first(ctx, tx, op, st, match.Conditions(), false)
		if err != nil {
			return err
		}
		if entity == nil {
			out, err = r.create(ctx, tx, op, match.Merge(values), mode)
			return err
		}
		if err := save(ctx, tx, r.table, entity, values.Except(r.pk), mode); err != nil {
			return wrapFill(op, err)
		}
		if !r.fresh {
			out = entity
			return nil
		}
		out, err = r.reload(ctx, tx, op, entity, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Destroy soft deletes id, or removes it when force is set or the table has
// no soft delete column. It returns the affected row count.
func (r *baseRepositoryImpl[T]) Destroy(ctx context.Context, id any, force bool) (int64, error) {
	const op = "Destroy"
	st := r.take()
	entity, err := r.find(ctx, r.db, op, consumed{scope: st.scope}, id, nil)
	if err != nil {
		return 0, err
	}
	if entity == nil {
		return 0, newError(op, ErrNotFound, "%s id %v", r.table.Name, id)
	}
	q := r.db.NewDelete().Model(entity).WherePK()
	if force {
		q = q.ForceDelete()
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, wrap(op, err)
	}
	n, _ := res.RowsAffected()
	r.logger.Debug("Record destroyed", "table", r.table.Name, "id", id, "force", force)
	return n, nil
}

// DestroyWhere deletes every record matching the pending scope and the AND
// of conds. A call with neither conditions nor scope filters is rejected
// rather than deleting the whole table.
func (r *baseRepositoryImpl[T]) DestroyWhere(ctx context.Context, conds ...types.Condition) (int64, error) {
	const op = "DestroyWhere"
	st := r.take()
	if err := st.scope.Err(); err != nil {
		return 0, err
	}
	if len(conds) == 0 && !st.scope.hasFilters() {
		return 0, newError(op, ErrInvalidArgument, "no conditions")
	}
	if err := validateConditions(op, conds); err != nil {
		return 0, err
	}
	filter := func(qb bun.QueryBuilder) bun.QueryBuilder {
		qb = st.scope.applyFilter(qb, r.writeTarget())
		return applyConditions(qb, "", conds)
	}

	var (
		res sql.Result
		err error
	)
	if sd := r.table.SoftDeleteField; sd != nil {
		res, err = r.db.NewUpdate().Model((*T)(nil)).
			Set("? = ?", bun.Ident(sd.Name), time.Now()).
			ApplyQueryBuilder(filter).
			Exec(ctx)
	} else {
		res, err = r.db.NewDelete().Model((*T)(nil)).
			ApplyQueryBuilder(filter).
			Exec(ctx)
	}
	if err != nil {
		return 0, wrap(op, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Restore clears the soft delete marker of id and returns the record.
func (r *baseRepositoryImpl[T]) Restore(ctx context.Context, id any) (*T, error) {
	const op = "Restore"
	st := r.take()
	sd := r.table.SoftDeleteField
	if sd == nil {
		return nil, &Error{Op: op, Kind: ErrSoftDeleteUnsupported}
	}
	res, err := r.db.NewUpdate().Model((*T)(nil)).
		Set("? = NULL", bun.Ident(sd.Name)).
		Where("? = ?", bun.Ident(r.pk), id).
		WhereDeleted().
		Exec(ctx)
	if err != nil {
		return nil, wrap(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, newError(op, ErrNotFound, "%s id %v is not trashed", r.table.Name, id)
	}
	return r.find(ctx, r.db, op, consumed{with: st.with}, id, nil)
}

// touch sets a time.Time or *time.Time field to now.
func touch(v reflect.Value) {
	now := time.Now()
	switch {
	case v.Type() == timeType:
		v.Set(reflect.ValueOf(now))
	case v.Kind() == reflect.Ptr && v.Type().Elem() == timeType:
		v.Set(reflect.ValueOf(&now))
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
