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
	"strings"

	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun"
)

// predicate is a rendered condition: a bun query fragment and its args.
type predicate struct {
	expr string
	args []interface{}
}

// column renders field as an identifier, prefixing qualifier when the field
// is not already dot qualified.
func column(qualifier, field string) (string, []interface{}) {
	if qualifier == "" || strings.Contains(field, ".") {
		return "?", []interface{}{bun.Ident(field)}
	}
	return "?.?", []interface{}{bun.Ident(qualifier), bun.Ident(field)}
}

// toPredicate renders a validated condition.
func toPredicate(qualifier string, c types.Condition) predicate {
	col, args := column(qualifier, c.Field)
	with := func(expr string, vals ...interface{}) predicate {
		return predicate{expr: expr, args: append(append([]interface{}{}, args...), vals...)}
	}

	switch op := c.Operator.Normalize(); op {
	case types.OpEq:
		if c.Value == nil {
			return with(col + " IS NULL")
		}
		return with(col+" = ?", c.Value)
	case types.OpNe, types.OpNeAlt:
		if c.Value == nil {
			return with(col + " IS NOT NULL")
		}
		return with(col+" <> ?", c.Value)
	case types.OpLt, types.OpLte, types.OpGt, types.OpGte:
		return with(col+" "+string(op)+" ?", c.Value)
	case types.OpLike:
		return with(col+" LIKE ?", c.Value)
	case types.OpNotLike:
		return with(col+" NOT LIKE ?", c.Value)
	case types.OpIn:
		vals, _ := types.ToSlice(c.Value)
		if len(vals) == 0 {
			return predicate{expr: "1 = 0"}
		}
		return with(col+" IN (?)", bun.In(vals))
	case types.OpNotIn:
		vals, _ := types.ToSlice(c.Value)
		if len(vals) == 0 {
			return predicate{expr: "1 = 1"}
		}
		return with(col+" NOT IN (?)", bun.In(vals))
	case types.OpBetween, types.OpNotBetween:
		vals, _ := types.ToSlice(c.Value)
		kw := " BETWEEN "
		if op == types.OpNotBetween {
			kw = " NOT BETWEEN "
		}
		return with(col+kw+"? AND ?", vals[0], vals[1])
	case types.OpNull:
		return with(col + " IS NULL")
	default:
		return with(col + " IS NOT NULL")
	}
}

func toPredicates(qualifier string, conds types.Conditions) []predicate {
	out := make([]predicate, len(conds))
	for i, c := range conds {
		out[i] = toPredicate(qualifier, c)
	}
	return out
}

// joinPredicates folds predicates into one fragment joined by sep.
func joinPredicates(preds []predicate, sep string) predicate {
	var (
		parts []string
		args  []interface{}
	)
	for _, p := range preds {
		parts = append(parts, p.expr)
		args = append(args, p.args...)
	}
	return predicate{expr: strings.Join(parts, sep), args: args}
}

// applyConditions ANDs conds onto qb. An empty set leaves qb untouched.
func applyConditions(qb bun.QueryBuilder, qualifier string, conds types.Conditions) bun.QueryBuilder {
	for _, p := range toPredicates(qualifier, conds) {
		qb = qb.Where(p.expr, p.args...)
	}
	return qb
}

// applyOrConditions ORs conds together inside one parenthesised group, so
// the group itself is ANDed with any scope filters.
func applyOrConditions(qb bun.QueryBuilder, qualifier string, conds types.Conditions) bun.QueryBuilder {
	if len(conds) == 0 {
		return qb
	}
	preds := toPredicates(qualifier, conds)
	return qb.WhereGroup(" AND ", func(q bun.QueryBuilder) bun.QueryBuilder {
		for _, p := range preds {
			q = q.WhereOr(p.expr, p.args...)
		}
		return q
	})
}

func validateConditions(op string, conds types.Conditions) error {
	if err := conds.Validate(); err != nil {
		return &Error{Op: op, Kind: ErrInvalidArgument, Err: err}
	}
	return nil
}
