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

import (
	"context"
	"time"

	"github.com/tomoncle/usercenter/models"
	"github.com/tomoncle/usercenter/repository"
	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun"
)

// Login describes the client of a sign in.
type Login struct {
	Device   string
	Platform string
	Client   string
	IP       string
}

// Repository is the user repository plus the lookups that span the tables
// hanging off users.
type Repository interface {
	repository.Repository[models.User]

	Details() repository.Repository[models.UserDetail]
	Socials() repository.Repository[models.SocialAccount]
	Roles() repository.Repository[models.Role]

	// InTx returns a copy whose repositories all run on tx.
	InTx(tx bun.IDB) Repository

	// LoginHistory returns up to limit sign ins of id, newest first. A
	// non-positive limit returns them all.
	LoginHistory(ctx context.Context, id int64, limit int) ([]*models.UserSignedLog, error)
	RecordLogin(ctx context.Context, id int64, login Login) (*models.UserSignedLog, error)
	// SocialAccount returns the first linked account matching conds, or nil.
	SocialAccount(ctx context.Context, conds ...types.Condition) (*models.SocialAccount, error)

	Ban(ctx context.Context, id int64, reason string, days int) (*models.BannedUser, error)
	// ActiveBan returns the ban in force at now, or nil.
	ActiveBan(ctx context.Context, id int64, now time.Time) (*models.BannedUser, error)
}

type userRepository struct {
	repository.Repository[models.User]

	details repository.Repository[models.UserDetail]
	socials repository.Repository[models.SocialAccount]
	roles   repository.Repository[models.Role]
	logs    repository.Repository[models.UserSignedLog]
	bans    repository.Repository[models.BannedUser]
}

// NewRepository builds the user repositories over db.
func NewRepository(db bun.IDB, opts ...repository.Option) (Repository, error) {
	r := &userRepository{}
	var err error
	if r.Repository, err = repository.NewRepository[models.User](db, opts...); err != nil {
		return nil, err
	}
	if r.details, err = repository.NewRepository[models.UserDetail](db, opts...); err != nil {
		return nil, err
	}
	if r.socials, err = repository.NewRepository[models.SocialAccount](db, opts...); err != nil {
		return nil, err
	}
	if r.roles, err = repository.NewRepository[models.Role](db, opts...); err != nil {
		return nil, err
	}
	if r.logs, err = repository.NewRepository[models.UserSignedLog](db, opts...); err != nil {
		return nil, err
	}
	if r.bans, err = repository.NewRepository[models.BannedUser](db, opts...); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *userRepository) Details() repository.Repository[models.UserDetail] { return r.details }

func (r *userRepository) Socials() repository.Repository[models.SocialAccount] { return r.socials }

func (r *userRepository) Roles() repository.Repository[models.Role] { return r.roles }

func (r *userRepository) InTx(tx bun.IDB) Repository {
	return &userRepository{
		Repository: r.Repository.WithTx(tx),
		details:    r.details.WithTx(tx),
		socials:    r.socials.WithTx(tx),
		roles:      r.roles.WithTx(tx),
		logs:       r.logs.WithTx(tx),
		bans:       r.bans.WithTx(tx),
	}
}

// requireUser reports ErrNotFound unless id is a live user.
func requireUser(ctx context.Context, users repository.Repository[models.User], op string, id int64) error {
	ok, err := fork(users).Exists(ctx, types.Eq("id", id))
	if err != nil {
		return err
	}
	if !ok {
		return &repository.Error{Op: op, Kind: repository.ErrNotFound}
	}
	return nil
}

func (r *userRepository) LoginHistory(ctx context.Context, id int64, limit int) ([]*models.UserSignedLog, error) {
	if err := requireUser(ctx, r.Repository, "LoginHistory", id); err != nil {
		return nil, err
	}
	logs := fork(r.logs).
		OrderBy("signed_at", "desc").
		OrderBy("id", "desc")
	if limit > 0 {
		logs.SetScope(repository.ScopeLimit(limit))
	}
	return logs.FindWhere(ctx, types.Eq("user_id", id))
}

func (r *userRepository) RecordLogin(ctx context.Context, id int64, login Login) (*models.UserSignedLog, error) {
	return fork(r.logs).Create(ctx, types.Attributes{
		"user_id":   id,
		"device":    login.Device,
		"platform":  login.Platform,
		"client":    login.Client,
		"ip":        login.IP,
		"signed_at": time.Now(),
	}, true)
}

func (r *userRepository) SocialAccount(ctx context.Context, conds ...types.Condition) (*models.SocialAccount, error) {
	return fork(r.socials).FirstWhere(ctx, conds...)
}

func (r *userRepository) Ban(ctx context.Context, id int64, reason string, days int) (*models.BannedUser, error) {
	if err := requireUser(ctx, r.Repository, "Ban", id); err != nil {
		return nil, err
	}
	if days <= 0 {
		days = 7
	}
	return fork(r.bans).Create(ctx, types.Attributes{
		"user_id":   id,
		"reason":    reason,
		"days":      days,
		"banned_at": time.Now(),
	}, true)
}

func (r *userRepository) ActiveBan(ctx context.Context, id int64, now time.Time) (*models.BannedUser, error) {
	bans, err := fork(r.bans).
		OrderBy("banned_at", "desc").
		FindWhere(ctx, types.Eq("user_id", id))
	if err != nil {
		return nil, err
	}
	for _, b := range bans {
		if b.Active(now) {
			return b, nil
		}
	}
	return nil, nil
}

// fork copies repo so scope set for one call never reaches a concurrent
// caller sharing the same repository.
func fork[T any](repo repository.Repository[T]) repository.Repository[T] {
	return repo.SetFresh(repo.IsFresh())
}
