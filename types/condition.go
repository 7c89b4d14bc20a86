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
	"fmt"
	"reflect"
	"strings"
)

// Operator is a comparison used by a Condition.
type Operator string

const (
	OpEq         Operator = "="
	OpNe         Operator = "!="
	OpNeAlt      Operator = "<>"
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpLike       Operator = "like"
	OpNotLike    Operator = "not like"
	OpIn         Operator = "in"
	OpNotIn      Operator = "not in"
	OpBetween    Operator = "between"
	OpNotBetween Operator = "not between"
	OpNull       Operator = "null"
	OpNotNull    Operator = "not null"
)

var knownOperators = map[Operator]struct{}{
	OpEq: {}, OpNe: {}, OpNeAlt: {}, OpLt: {}, OpLte: {}, OpGt: {}, OpGte: {},
	OpLike: {}, OpNotLike: {}, OpIn: {}, OpNotIn: {}, OpBetween: {},
	OpNotBetween: {}, OpNull: {}, OpNotNull: {},
}

// Normalize lower-cases and trims the operator. An empty operator means equality.
func (o Operator) Normalize() Operator {
	s := strings.ToLower(strings.Join(strings.Fields(string(o)), " "))
	if s == "" {
		return OpEq
	}
	return Operator(s)
}

// IsValid reports whether the operator is supported.
func (o Operator) IsValid() bool {
	_, ok := knownOperators[o.Normalize()]
	return ok
}

// Condition is a single field/operator/value predicate.
type Condition struct {
	Field    string
	Operator Operator
	Value    interface{}
}

// Conditions is an ordered list of predicates.
type Conditions []Condition

// Eq is the bare (field, value) form.
func Eq(field string, value interface{}) Condition {
	return Condition{Field: field, Operator: OpEq, Value: value}
}

// Where builds a (field, operator, value) condition.
func Where(field string, op Operator, value interface{}) Condition {
	return Condition{Field: field, Operator: op, Value: value}
}

// In matches field against any of values.
func In(field string, values ...interface{}) Condition {
	return Condition{Field: field, Operator: OpIn, Value: values}
}

// Between matches field within [low, high].
func Between(field string, low, high interface{}) Condition {
	return Condition{Field: field, Operator: OpBetween, Value: []interface{}{low, high}}
}

// IsNull matches a NULL field.
func IsNull(field string) Condition {
	return Condition{Field: field, Operator: OpNull}
}

// Validate checks the field name, the operator and the value shape.
func (c Condition) Validate() error {
	if !IsSafeIdentifier(c.Field) {
		return fmt.Errorf("unsafe field name %q", c.Field)
	}
	op := c.Operator.Normalize()
	if !op.IsValid() {
		return fmt.Errorf("unsupported operator %q on field %s", c.Operator, c.Field)
	}
	switch op {
	case OpIn, OpNotIn:
		if _, ok := ToSlice(c.Value); !ok {
			return fmt.Errorf("operator %q on field %s needs a list value", op, c.Field)
		}
	case OpBetween, OpNotBetween:
		vals, ok := ToSlice(c.Value)
		if !ok || len(vals) != 2 {
			return fmt.Errorf("operator %q on field %s needs exactly two values", op, c.Field)
		}
	}
	return nil
}

// Validate checks every condition in order and reports the first failure.
func (cs Conditions) Validate() error {
	for _, c := range cs {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ToSlice flattens any slice or array value into []interface{}.
func ToSlice(v interface{}) ([]interface{}, bool) {
	if s, ok := v.([]interface{}); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	// []byte is a scalar column value, not a list.
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// IsSafeIdentifier accepts foo, foo_1 and dot qualified names like t.foo.
func IsSafeIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			ch := part[i]
			letter := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
			if i == 0 && !letter {
				return false
			}
			if !letter && !(ch >= '0' && ch <= '9') {
				return false
			}
		}
	}
	return true
}
