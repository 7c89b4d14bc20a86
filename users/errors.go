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

package users

import "errors"

var (
	// ErrEmailTaken is returned by Register when the address belongs to
	// another account, trashed ones included.
	ErrEmailTaken = errors.New("email already taken")
	// ErrNameTaken is the Register counterpart for user names.
	ErrNameTaken = errors.New("name already taken")
	// ErrInvalidCredentials does not reveal whether the email or the
	// password was wrong.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password is too short")
	// ErrBanned is returned by Authenticate while a ban is active.
	ErrBanned = errors.New("user is banned")
	// ErrUnsupportedProvider rejects social logins from providers that are
	// not enabled.
	ErrUnsupportedProvider = errors.New("unsupported social provider")
	ErrUnknownRole         = errors.New("unknown role")
)
