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
	"strings"

	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun"
)

// target locates the repository table inside a query. qualifier is the
// table alias on selects and empty on updates and deletes.
type target struct {
	qualifier string
	pk        string
}

type (
	filterFunc func(bun.QueryBuilder, target) bun.QueryBuilder
	selectFunc func(*bun.SelectQuery, target) *bun.SelectQuery
)

// Scope is a one-shot query transform. Filters apply to every query the
// repository builds (select, count, update, delete); select parts such as
// ordering and limits apply to reads only. The zero Scope does nothing.
//
// A Scope built from invalid input carries its error and fails the
// operation that consumes it.
type Scope struct {
	names   []string
	filters []filterFunc
	selects []selectFunc
	err     error
}

// IsZero reports whether the scope has no effect.
func (s Scope) IsZero() bool {
	return len(s.filters) == 0 && len(s.selects) == 0 && s.err == nil
}

// hasFilters reports whether the scope narrows writes.
func (s Scope) hasFilters() bool { return len(s.filters) > 0 }

// Err returns the construction error, if any.
func (s Scope) Err() error { return s.err }

func (s Scope) String() string {
	if len(s.names) == 0 {
		return "scope()"
	}
	return "scope(" + strings.Join(s.names, ", ") + ")"
}

// Then returns a scope applying s followed by next.
func (s Scope) Then(next Scope) Scope {
	out := Scope{
		names:   append(append([]string{}, s.names...), next.names...),
		filters: append(append([]filterFunc{}, s.filters...), next.filters...),
		selects: append(append([]selectFunc{}, s.selects...), next.selects...),
		err:     s.err,
	}
	if out.err == nil {
		out.err = next.err
	}
	return out
}

// ChainScopes composes scopes in order.
func ChainScopes(scopes ...Scope) Scope {
	var out Scope
	for _, s := range scopes {
		out = out.Then(s)
	}
	return out
}

func (s Scope) applyFilter(qb bun.QueryBuilder, t target) bun.QueryBuilder {
	for _, f := range s.filters {
		qb = f(qb, t)
	}
	return qb
}

func (s Scope) applySelect(q *bun.SelectQuery, t target) *bun.SelectQuery {
	q = q.ApplyQueryBuilder(func(qb bun.QueryBuilder) bun.QueryBuilder {
		return s.applyFilter(qb, t)
	})
	for _, f := range s.selects {
		q = f(q, t)
	}
	return q
}

func invalidScope(name string, err error) Scope {
	return Scope{names: []string{name}, err: &Error{Op: "Scope", Kind: ErrInvalidArgument, Err: err}}
}

// ScopeWhere filters by the AND of conds.
func ScopeWhere(conds ...types.Condition) Scope {
	if err := types.Conditions(conds).Validate(); err != nil {
		return invalidScope("where", err)
	}
	cs := append(types.Conditions{}, conds...)
	return Scope{
		names: []string{"where"},
		filters: []filterFunc{func(qb bun.QueryBuilder, t target) bun.QueryBuilder {
			return applyConditions(qb, t.qualifier, cs)
		}},
	}
}

// ScopeOrWhere filters by the OR of conds, grouped in parentheses.
func ScopeOrWhere(conds ...types.Condition) Scope {
	if err := types.Conditions(conds).Validate(); err != nil {
		return invalidScope("or_where", err)
	}
	cs := append(types.Conditions{}, conds...)
	return Scope{
		names: []string{"or_where"},
		filters: []filterFunc{func(qb bun.QueryBuilder, t target) bun.QueryBuilder {
			return applyOrConditions(qb, t.qualifier, cs)
		}},
	}
}

// ScopeFilter wraps a raw bun filter. It applies to reads and writes.
func ScopeFilter(fn func(bun.QueryBuilder) bun.QueryBuilder) Scope {
	return Scope{
		names: []string{"filter"},
		filters: []filterFunc{func(qb bun.QueryBuilder, _ target) bun.QueryBuilder {
			return fn(qb)
		}},
	}
}

// ScopeFunc wraps a select transform. It is ignored by writes.
func ScopeFunc(fn func(*bun.SelectQuery) *bun.SelectQuery) Scope {
	return Scope{
		names: []string{"func"},
		selects: []selectFunc{func(q *bun.SelectQuery, _ target) *bun.SelectQuery {
			return fn(q)
		}},
	}
}

// ScopeOrder orders reads by column; direction is asc or desc.
func ScopeOrder(col, direction string) Scope {
	dir := strings.ToUpper(strings.TrimSpace(direction))
	if dir == "" {
		dir = "ASC"
	}
	if !types.IsSafeIdentifier(col) || (dir != "ASC" && dir != "DESC") {
		return invalidScope("order", fmt.Errorf("invalid order %q %q", col, direction))
	}
	return Scope{
		names: []string{"order " + col + " " + dir},
		selects: []selectFunc{func(q *bun.SelectQuery, t target) *bun.SelectQuery {
			expr, args := column(t.qualifier, col)
			return q.OrderExpr(expr+" "+dir, args...)
		}},
	}
}

// ScopeLimit caps the number of rows a read returns.
func ScopeLimit(n int) Scope {
	if n < 0 {
		return invalidScope("limit", fmt.Errorf("negative limit %d", n))
	}
	return Scope{
		names: []string{fmt.Sprintf("limit %d", n)},
		selects: []selectFunc{func(q *bun.SelectQuery, _ target) *bun.SelectQuery {
			return q.Limit(n)
		}},
	}
}

// Has keeps records with at least one related row through rel.
func Has(rel Relation) Scope {
	return WhereHas(rel)
}

// WhereHas keeps records with at least one related row matching conds.
// Condition fields refer to the related table.
func WhereHas(rel Relation, conds ...types.Condition) Scope {
	name := "has " + rel.Name
	if err := rel.validate(); err != nil {
		return invalidScope(name, err)
	}
	if err := types.Conditions(conds).Validate(); err != nil {
		return invalidScope(name, err)
	}
	cs := append(types.Conditions{}, conds...)
	return Scope{
		names: []string{name},
		filters: []filterFunc{func(qb bun.QueryBuilder, t target) bun.QueryBuilder {
			p := rel.existsPredicate(t, cs)
			return qb.Where(p.expr, p.args...)
		}},
	}
}
