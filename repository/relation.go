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
	"unicode"

	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun"
)

// RelationKind tells how the related table is keyed.
type RelationKind int

const (
	KindHasOne RelationKind = iota
	KindHasMany
	KindBelongsTo
	KindBelongsToMany
)

func (k RelationKind) String() string {
	switch k {
	case KindHasOne:
		return "has-one"
	case KindHasMany:
		return "has-many"
	case KindBelongsTo:
		return "belongs-to"
	case KindBelongsToMany:
		return "belongs-to-many"
	default:
		return "unknown"
	}
}

// IsToMany reports whether the relation field holds a slice.
func (k RelationKind) IsToMany() bool {
	return k == KindHasMany || k == KindBelongsToMany
}

// Pivot is the join table of a belongs-to-many relation. ForeignKey points
// at the owning record, RelatedKey at the related one.
type Pivot struct {
	Table      string
	ForeignKey string
	RelatedKey string
}

// Relation describes a relation declared on an entity with a bun rel or m2m
// tag. Name is the struct field bun loads; Key is the attribute key that
// carries nested values for the relation during updates.
//
// ForeignKey is the column on the related table for has-one and has-many,
// and the column on the owning table for belongs-to. OwnerKey is the column
// ForeignKey points at and defaults to "id".
type Relation struct {
	Name       string
	Key        string
	Kind       RelationKind
	Table      string
	ForeignKey string
	OwnerKey   string
	Pivot      *Pivot
}

// HasOne declares a to-one relation keyed on the related table.
func HasOne(name, table, foreignKey string) Relation {
	return newRelation(name, KindHasOne, table, foreignKey)
}

// HasMany declares a to-many relation keyed on the related table.
func HasMany(name, table, foreignKey string) Relation {
	return newRelation(name, KindHasMany, table, foreignKey)
}

// BelongsTo declares a to-one relation keyed on the owning table.
func BelongsTo(name, table, foreignKey string) Relation {
	return newRelation(name, KindBelongsTo, table, foreignKey)
}

// BelongsToMany declares a many-to-many relation through pivot.
func BelongsToMany(name, table string, pivot Pivot) Relation {
	r := newRelation(name, KindBelongsToMany, table, "")
	r.Pivot = &pivot
	return r
}

func newRelation(name string, kind RelationKind, table, foreignKey string) Relation {
	return Relation{
		Name:       name,
		Key:        snakeCase(name),
		Kind:       kind,
		Table:      table,
		ForeignKey: foreignKey,
		OwnerKey:   "id",
	}
}

// WithKey returns a copy using key for nested update attributes.
func (r Relation) WithKey(key string) Relation {
	r.Key = key
	return r
}

func (r Relation) String() string {
	return fmt.Sprintf("%s(%s -> %s)", r.Kind, r.Name, r.Table)
}

func (r Relation) ownerKey() string {
	if r.OwnerKey == "" {
		return "id"
	}
	return r.OwnerKey
}

func (r Relation) validate() error {
	if r.Name == "" {
		return fmt.Errorf("relation without a name")
	}
	idents := []string{r.Table, r.ownerKey()}
	if r.Kind == KindBelongsToMany {
		if r.Pivot == nil {
			return fmt.Errorf("relation %s has no pivot", r.Name)
		}
		idents = append(idents, r.Pivot.Table, r.Pivot.ForeignKey, r.Pivot.RelatedKey)
	} else {
		idents = append(idents, r.ForeignKey)
	}
	for _, id := range idents {
		if !types.IsSafeIdentifier(id) {
			return fmt.Errorf("relation %s has invalid identifier %q", r.Name, id)
		}
	}
	return nil
}

// existsPredicate renders "owner column IN (related subquery)". Using IN
// instead of a correlated EXISTS keeps the predicate valid on writes,
// where the owning table may not be aliased.
func (r Relation) existsPredicate(t target, conds types.Conditions) predicate {
	var (
		ownerCol string
		args     []interface{}
		sub      strings.Builder
		subArgs  []interface{}
	)
	switch r.Kind {
	case KindBelongsTo:
		ownerCol, args = column(t.qualifier, r.ForeignKey)
		sub.WriteString("SELECT r.? FROM ? AS r")
		subArgs = []interface{}{bun.Ident(r.ownerKey()), bun.Ident(r.Table)}
	case KindBelongsToMany:
		ownerCol, args = column(t.qualifier, t.pk)
		sub.WriteString("SELECT p.? FROM ? AS p JOIN ? AS r ON r.? = p.?")
		subArgs = []interface{}{
			bun.Ident(r.Pivot.ForeignKey), bun.Ident(r.Pivot.Table), bun.Ident(r.Table),
			bun.Ident(r.ownerKey()), bun.Ident(r.Pivot.RelatedKey),
		}
	default:
		ownerCol, args = column(t.qualifier, t.pk)
		sub.WriteString("SELECT r.? FROM ? AS r")
		subArgs = []interface{}{bun.Ident(r.ForeignKey), bun.Ident(r.Table)}
	}
	if len(conds) > 0 {
		p := joinPredicates(toPredicates("r", conds), " AND ")
		sub.WriteString(" WHERE " + p.expr)
		subArgs = append(subArgs, p.args...)
	}
	return predicate{
		expr: ownerCol + " IN (" + sub.String() + ")",
		args: append(args, subArgs...),
	}
}

// SyncResult lists the related ids touched by Sync, each sorted ascending.
type SyncResult struct {
	Attached []int64 `json:"attached"`
	Detached []int64 `json:"detached"`
	Updated  []int64 `json:"updated"`
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, ch := range runes {
		if unicode.IsUpper(ch) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			ch = unicode.ToLower(ch)
		}
		b.WriteRune(ch)
	}
	return b.String()
}
