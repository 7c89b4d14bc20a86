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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tomoncle/usercenter/database"
	"github.com/tomoncle/usercenter/models"
	"github.com/tomoncle/usercenter/repository"
	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

const MinPasswordLength = 8

// dummyHash is compared against when the account does not exist so that a
// miss costs the same as a wrong password.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Cache is the read-through cache consulted by Show. It must tolerate its
// own failures. Writers invalidate before and after the write: the first
// call keeps stale entries out of reads issued during the write, the second
// drops whatever a concurrent Show cached from the old row before commit.
type Cache interface {
	Get(ctx context.Context, id int64) (*models.User, bool)
	Set(ctx context.Context, u *models.User)
	Invalidate(ctx context.Context, ids ...int64)
}

type noCache struct{}

func (noCache) Get(context.Context, int64) (*models.User, bool) { return nil, false }
func (noCache) Set(context.Context, *models.User)               {}
func (noCache) Invalidate(context.Context, ...int64)            {}

// RegisterInput carries a new account.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	// Roles are role names attached in the same transaction. An unknown
	// name aborts the registration.
	Roles []string
}

// Service implements the account operations.
type Service struct {
	repo   Repository
	cache  Cache
	logger database.Logger
	now    func() time.Time
}

// NewService returns a Service over repo. A nil cache disables caching.
func NewService(repo Repository, cache Cache) *Service {
	if cache == nil {
		cache = noCache{}
	}
	return &Service{repo: repo, cache: cache, logger: database.GetLogger(), now: time.Now}
}

func (s *Service) users() repository.Repository[models.User] { return fork[models.User](s.repo) }

// HashPassword returns the bcrypt hash of password after checking its
// length.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, MinPasswordLength)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates the account together with an empty profile.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	name := strings.TrimSpace(in.Name)
	email := normalizeEmail(in.Email)
	if name == "" || email == "" {
		return nil, &repository.Error{Op: "Register", Kind: repository.ErrInvalidArgument, Err: errors.New("name and email are required")}
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var user *models.User
	err = s.repo.DB().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		r := s.repo.InTx(tx)
		if taken, err := takenWithTrashed(ctx, r, "email", email); err != nil {
			return err
		} else if taken {
			return ErrEmailTaken
		}
		if taken, err := takenWithTrashed(ctx, r, "name", name); err != nil {
			return err
		} else if taken {
			return ErrNameTaken
		}
		u, err := r.Create(ctx, types.Attributes{
			"name":           name,
			"email":          email,
			"password":       hash,
			"remember_token": uuid.NewString(),
		}, true)
		if err != nil {
			return err
		}
		if _, err := r.Details().Create(ctx, types.Attributes{"user_id": u.ID}, true); err != nil {
			return err
		}
		if len(in.Roles) > 0 {
			if _, err := syncRoles(ctx, r, u.ID, in.Roles, nil); err != nil {
				return err
			}
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("User registered", "id", user.ID, "email", user.Email)
	return user, nil
}

func takenWithTrashed(ctx context.Context, r Repository, column, value string) (bool, error) {
	return r.NewSelect().
		WhereAllWithDeleted().
		Where("? = ?", bun.Ident(column), value).
		Exists(ctx)
}

// Authenticate checks email and password. Unknown accounts, accounts
// without a password and wrong passwords all yield ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	u, err := s.users().FirstWhere(ctx, types.Eq("email", normalizeEmail(email)))
	if err != nil {
		return nil, err
	}
	if u == nil || u.PasswordHash() == "" {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash()), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	ban, err := s.repo.ActiveBan(ctx, u.ID, s.now())
	if err != nil {
		return nil, err
	}
	if ban != nil {
		return nil, fmt.Errorf("%w until %s", ErrBanned, ban.Until().Format(time.RFC3339))
	}
	return u, nil
}

// SignIn authenticates and records the login.
func (s *Service) SignIn(ctx context.Context, email, password string, login Login) (*models.User, error) {
	u, err := s.Authenticate(ctx, email, password)
	if err != nil {
		s.logger.Warn("Sign in rejected", "email", normalizeEmail(email), "error", err)
		return nil, err
	}
	if _, err := s.repo.RecordLogin(ctx, u.ID, login); err != nil {
		return nil, err
	}
	return u, nil
}

// List pages through users, newest first.
func (s *Service) List(ctx context.Context, page *types.PageRequest) (*types.Pagination[models.User], error) {
	return s.users().
		OrderBy("created_at", "desc").
		OrderBy("id", "desc").
		Paginate(ctx, page)
}

// Show returns the user with its profile, from the cache when possible.
func (s *Service) Show(ctx context.Context, id int64) (*models.User, error) {
	if u, ok := s.cache.Get(ctx, id); ok {
		return u, nil
	}
	u, err := s.users().With(models.UserDetailRelation).FindOrFail(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, u)
	return u, nil
}

// Update changes the account and its profile. Profile fields may be given
// flat or nested under "detail". Email and password cannot be changed here.
func (s *Service) Update(ctx context.Context, id int64, attrs types.Attributes) (*models.User, error) {
	attrs = attrs.Except("email", "password", "remember_token", "email_verified_at")
	s.cache.Invalidate(ctx, id)
	var user *models.User
	err := s.repo.DB().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		r := s.repo.InTx(tx)
		if err := ensureDetail(ctx, r, id); err != nil {
			return err
		}
		u, err := r.UpdateWithRelations(ctx, id, []repository.Relation{models.UserDetailRelation}, attrs, false)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	s.cache.Invalidate(ctx, id)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ensureDetail creates the empty profile of id when it is missing.
func ensureDetail(ctx context.Context, r Repository, id int64) error {
	if err := requireUser(ctx, r, "Update", id); err != nil {
		return err
	}
	ok, err := r.Details().Exists(ctx, types.Eq("user_id", id))
	if err != nil || ok {
		return err
	}
	_, err = r.Details().Create(ctx, types.Attributes{"user_id": id}, true)
	return err
}

// Destroy soft deletes id, or removes it with its dependents when force is
// set.
func (s *Service) Destroy(ctx context.Context, id int64, force bool) error {
	s.cache.Invalidate(ctx, id)
	_, err := s.users().Destroy(ctx, id, force)
	s.cache.Invalidate(ctx, id)
	if err != nil {
		return err
	}
	s.logger.Info("User destroyed", "id", id, "force", force)
	return nil
}

func (s *Service) Restore(ctx context.Context, id int64) (*models.User, error) {
	s.cache.Invalidate(ctx, id)
	u, err := s.users().Restore(ctx, id)
	s.cache.Invalidate(ctx, id)
	return u, err
}

// Detail returns the profile of id.
func (s *Service) Detail(ctx context.Context, id int64) (*models.UserDetail, error) {
	if _, err := s.users().FindOrFail(ctx, id, "id"); err != nil {
		return nil, err
	}
	d, err := fork(s.repo.Details()).FirstWhere(ctx, types.Eq("user_id", id))
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, &repository.Error{Op: "Detail", Kind: repository.ErrNotFound, Err: fmt.Errorf("user %d has no detail", id)}
	}
	return d, nil
}

func (s *Service) LoginHistory(ctx context.Context, id int64, limit int) ([]*models.UserSignedLog, error) {
	return s.repo.LoginHistory(ctx, id, limit)
}

// Ban suspends id for days days and drops its cache entry.
func (s *Service) Ban(ctx context.Context, id int64, reason string, days int) (*models.BannedUser, error) {
	s.cache.Invalidate(ctx, id)
	b, err := s.repo.Ban(ctx, id, reason, days)
	s.cache.Invalidate(ctx, id)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("User banned", "id", id, "days", b.Days)
	return b, nil
}

// AssignRoles makes the roles of id exactly names. grantedBy, when set, is
// stored on newly attached and kept links.
func (s *Service) AssignRoles(ctx context.Context, id int64, names []string, grantedBy *int64) (*repository.SyncResult, error) {
	s.cache.Invalidate(ctx, id)
	res, err := syncRoles(ctx, s.repo, id, names, grantedBy)
	s.cache.Invalidate(ctx, id)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// syncRoles resolves names through r and syncs the role links of id. Every
// name is resolved before anything is written.
func syncRoles(ctx context.Context, r Repository, id int64, names []string, grantedBy *int64) (*repository.SyncResult, error) {
	items := make(map[int64]types.Attributes, len(names))
	if len(names) > 0 {
		values := make([]interface{}, len(names))
		for i, n := range names {
			values[i] = n
		}
		roles, err := fork(r.Roles()).FindWhereIn(ctx, "name", values)
		if err != nil {
			return nil, err
		}
		found := make(map[string]int64, len(roles))
		for _, role := range roles {
			found[role.Name] = role.ID
		}
		for _, n := range names {
			rid, ok := found[n]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownRole, n)
			}
			attrs := types.Attributes{}
			if grantedBy != nil {
				attrs["granted_by"] = *grantedBy
			}
			items[rid] = attrs
		}
	}
	return fork[models.User](r).Sync(ctx, id, models.UserRolesRelation, items, true)
}
