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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/feature"
)

var timestampColumns = []string{"created_at", "updated_at"}

// rowsToMaps checks that every row carries the same known columns and
// stamps created_at/updated_at when the table has them and rows do not.
func (r *baseRepositoryImpl[T]) rowsToMaps(rows []types.Attributes) ([]map[string]interface{}, []string, error) {
	if len(rows) == 0 {
		return nil, nil, nil
	}
	cols, err := columnsOf(r.table, rows[0])
	if err != nil {
		return nil, nil, err
	}
	if len(cols) == 0 {
		return nil, nil, fmt.Errorf("row 0 has no columns")
	}
	want := strings.Join(cols, ",")

	now := time.Now()
	out := make([]map[string]interface{}, len(rows))
	for i, row := range rows {
		if got := strings.Join(row.Keys(), ","); got != want {
			return nil, nil, fmt.Errorf("row %d has columns [%s], want [%s]", i, got, want)
		}
		m := make(map[string]interface{}, len(row)+2)
		for k, v := range row {
			if row.IsNested(k) {
				return nil, nil, fmt.Errorf("row %d column %q holds a nested value", i, k)
			}
			m[k] = v
		}
		for _, ts := range timestampColumns {
			if _, ok := r.table.FieldMap[ts]; ok {
				if _, set := m[ts]; !set {
					m[ts] = now
				}
			}
		}
		out[i] = m
	}
	for _, ts := range timestampColumns {
		if _, ok := r.table.FieldMap[ts]; ok && !contains(cols, ts) {
			cols = append(cols, ts)
		}
	}
	return out, cols, nil
}

func (r *baseRepositoryImpl[T]) insertRows(ctx context.Context, op string, rows []types.Attributes, ignore bool) (int64, error) {
	r.take()
	maps, _, err := r.rowsToMaps(rows)
	if err != nil {
		return 0, &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
	}
	if len(maps) == 0 {
		return 0, nil
	}
	q := r.db.NewInsert().Model(&maps).TableExpr("?", bun.Ident(r.table.Name))
	if ignore {
		// INSERT IGNORE on MySQL, ON CONFLICT DO NOTHING elsewhere.
		q = q.Ignore()
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, wrap(op, err)
	}
	n, _ := res.RowsAffected()
	r.logger.Debug("Rows inserted", "table", r.table.Name, "rows", n, "ignore", ignore)
	return n, nil
}

// Insert writes rows as given, bypassing mass assignment guards. All rows
// must carry the same columns.
func (r *baseRepositoryImpl[T]) Insert(ctx context.Context, rows ...types.Attributes) (int64, error) {
	return r.insertRows(ctx, "Insert", rows, false)
}

// InsertIgnore is Insert that skips rows violating a unique constraint.
func (r *baseRepositoryImpl[T]) InsertIgnore(ctx context.Context, rows ...types.Attributes) (int64, error) {
	return r.insertRows(ctx, "InsertIgnore", rows, true)
}

// Upsert inserts rows and, on a uniqueBy conflict, overwrites the update
// columns. uniqueBy defaults to the primary key and update to every other
// column of the rows.
func (r *baseRepositoryImpl[T]) Upsert(ctx context.Context, rows []types.Attributes, uniqueBy []string, update []string) (int64, error) {
	const op = "Upsert"
	r.take()
	maps, cols, err := r.rowsToMaps(rows)
	if err != nil {
		return 0, &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
	}
	if len(maps) == 0 {
		return 0, nil
	}
	if len(uniqueBy) == 0 {
		uniqueBy = []string{r.pk}
	}
	if len(update) == 0 {
		for _, c := range cols {
			if !contains(uniqueBy, c) && c != "created_at" {
				update = append(update, c)
			}
		}
	}
	if err := r.checkColumns(op, append(append([]string{}, uniqueBy...), update...)); err != nil {
		return 0, err
	}

	q := r.db.NewInsert().Model(&maps).TableExpr("?", bun.Ident(r.table.Name))
	features := r.db.Dialect().Features()
	switch {
	case len(update) == 0:
		q = q.Ignore()
	case features.Has(feature.InsertOnConflict):
		keys := make([]string, len(uniqueBy))
		args := make([]interface{}, len(uniqueBy))
		for i, k := range uniqueBy {
			keys[i] = "?"
			args[i] = bun.Ident(k)
		}
		q = q.On("CONFLICT ("+strings.Join(keys, ", ")+") DO UPDATE", args...)
		for _, c := range update {
			q = q.Set("? = EXCLUDED.?", bun.Ident(c), bun.Ident(c))
		}
	case features.Has(feature.InsertOnDuplicateKey):
		sets := make([]string, len(update))
		args := make([]interface{}, 0, 2*len(update))
		for i, c := range update {
			sets[i] = "? = VALUES(?)"
			args = append(args, bun.Ident(c), bun.Ident(c))
		}
		q = q.On("DUPLICATE KEY UPDATE "+strings.Join(sets, ", "), args...)
	default:
		return 0, newError(op, ErrInvalidConfiguration, "dialect %s has no upsert", r.db.Dialect().Name())
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return 0, wrap(op, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Sync makes the pivot rows of id through relation match items, which maps
// related ids to pivot attributes. With detaching set, links missing from
// items are removed. Existing links receive their non-empty attributes.
func (r *baseRepositoryImpl[T]) Sync(ctx context.Context, id any, relation Relation, items map[int64]types.Attributes, detaching bool) (*SyncResult, error) {
	const op = "Sync"
	st := r.take()
	if err := st.scope.Err(); err != nil {
		return nil, err
	}
	if relation.Kind != KindBelongsToMany {
		return nil, newError(op, ErrInvalidArgument, "relation %s is %s, want %s", relation.Name, relation.Kind, KindBelongsToMany)
	}
	if err := relation.validate(); err != nil {
		return nil, &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
	}
	p := relation.Pivot
	for rid, attrs := range items {
		for k := range attrs {
			if !types.IsSafeIdentifier(k) || k == p.ForeignKey || k == p.RelatedKey {
				return nil, newError(op, ErrInvalidArgument, "pivot attribute %q for id %d", k, rid)
			}
		}
	}

	result := &SyncResult{Attached: []int64{}, Detached: []int64{}, Updated: []int64{}}
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := r.wherePK(r.newSelect(tx, (*T)(nil), consumed{scope: st.scope}, false), id).Exists(ctx)
		if err != nil {
			return wrap(op, err)
		}
		if !exists {
			return newError(op, ErrNotFound, "%s id %v", r.table.Name, id)
		}

		current := make([]int64, 0)
		err = tx.NewSelect().
			TableExpr("?", bun.Ident(p.Table)).
			ColumnExpr("?", bun.Ident(p.RelatedKey)).
			Where("? = ?", bun.Ident(p.ForeignKey), id).
			Scan(ctx, &current)
		if err != nil {
			return wrap(op, err)
		}
		linked := make(map[int64]bool, len(current))
		for _, rid := range current {
			linked[rid] = true
		}

		if detaching {
			for _, rid := range current {
				if _, keep := items[rid]; !keep {
					result.Detached = append(result.Detached, rid)
				}
			}
			if len(result.Detached) > 0 {
				_, err := tx.NewDelete().
					TableExpr("?", bun.Ident(p.Table)).
					Where("? = ?", bun.Ident(p.ForeignKey), id).
					Where("? IN (?)", bun.Ident(p.RelatedKey), bun.In(result.Detached)).
					Exec(ctx)
				if err != nil {
					return wrap(op, err)
				}
			}
		}

		for _, rid := range sortedIDs(items) {
			attrs := items[rid]
			if linked[rid] {
				if len(attrs) == 0 {
					continue
				}
				q := tx.NewUpdate().TableExpr("?", bun.Ident(p.Table))
				for _, k := range attrs.Keys() {
					q = q.Set("? = ?", bun.Ident(k), attrs[k])
				}
				_, err := q.Where("? = ?", bun.Ident(p.ForeignKey), id).
					Where("? = ?", bun.Ident(p.RelatedKey), rid).
					Exec(ctx)
				if err != nil {
					return wrap(op, err)
				}
				result.Updated = append(result.Updated, rid)
				continue
			}
			row := map[string]interface{}{p.ForeignKey: id, p.RelatedKey: rid}
			for k, v := range attrs {
				row[k] = v
			}
			if _, err := tx.NewInsert().Model(&row).TableExpr("?", bun.Ident(p.Table)).Exec(ctx); err != nil {
				return wrap(op, err)
			}
			result.Attached = append(result.Attached, rid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortIDs(result.Detached)
	r.logger.Debug("Relation synced", "relation", relation.Name, "id", id,
		"attached", len(result.Attached), "detached", len(result.Detached), "updated", len(result.Updated))
	return result, nil
}

func (r *baseRepositoryImpl[T]) SyncWithoutDetaching(ctx context.Context, id any, relation Relation, items map[int64]types.Attributes) (*SyncResult, error) {
	return r.Sync(ctx, id, relation, items, false)
}

func sortedIDs(items map[int64]types.Attributes) []int64 {
	ids := make([]int64, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
