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
	"database/sql"
	"errors"
	"fmt"

	"github.com/tomoncle/usercenter/database"
)

var (
	// ErrNotFound is returned by the or-fail reads, Update, Destroy and
	// FindTrashed when no record matches.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidConfiguration is returned by NewRepository when the entity
	// type is not a bun model with a single primary key.
	ErrInvalidConfiguration = errors.New("invalid repository configuration")
	// ErrConstraintViolation wraps uniqueness, not-null, foreign key and
	// check failures reported by the driver.
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrInvalidArgument reports unusable conditions, columns or relations.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrSoftDeleteUnsupported is returned by trashed reads and Restore on
	// tables without a soft delete column.
	ErrSoftDeleteUnsupported = errors.New("soft delete not supported")
)

// Error records the failing operation together with its kind and cause.
// errors.Is matches the kind; errors.As reaches the driver error.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Kind != nil && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func newError(op string, kind error, format string, args ...interface{}) error {
	var cause error
	if format != "" {
		cause = fmt.Errorf(format, args...)
	}
	return &Error{Op: op, Kind: kind, Err: cause}
}

// wrap classifies a storage error. Errors that are already *Error pass
// through untouched.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var re *Error
	if errors.As(err, &re) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Op: op, Kind: ErrNotFound, Err: err}
	}
	if database.IsConstraintViolation(err) {
		return &Error{Op: op, Kind: ErrConstraintViolation, Err: err}
	}
	return &Error{Op: op, Err: err}
}
