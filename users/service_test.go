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

package users_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/usercenter/dbtest"
	"github.com/tomoncle/usercenter/models"
	"github.com/tomoncle/usercenter/repository"
	"github.com/tomoncle/usercenter/types"
	"github.com/tomoncle/usercenter/users"
)

const testPassword = "correct horse"

// memCache is an in-process users.Cache that records invalidations.
type memCache struct {
	mu          sync.Mutex
	items       map[int64]*models.User
	invalidated []int64
}

func newMemCache() *memCache { return &memCache{items: map[int64]*models.User{}} }

func (c *memCache) Get(_ context.Context, id int64) (*models.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.items[id]
	return u, ok
}

func (c *memCache) Set(_ context.Context, u *models.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[u.ID] = u
}

func (c *memCache) Invalidate(_ context.Context, ids ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.items, id)
		c.invalidated = append(c.invalidated, id)
	}
}

func (c *memCache) has(id int64) bool {
	_, ok := c.Get(context.Background(), id)
	return ok
}

type fixture struct {
	repo  users.Repository
	cache *memCache
	svc   *users.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo, err := users.NewRepository(dbtest.Open(t))
	require.NoError(t, err)
	cache := newMemCache()
	return &fixture{repo: repo, cache: cache, svc: users.NewService(repo, cache)}
}

func (f *fixture) register(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), users.RegisterInput{
		Name:     name,
		Email:    name + "@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	return u
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	u, err := f.svc.Register(ctx, users.RegisterInput{Name: " ann ", Email: " Ann@Example.com ", Password: testPassword})
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.Equal(t, "ann", u.Name)
	assert.Equal(t, "ann@example.com", u.Email)
	assert.NotEqual(t, testPassword, u.PasswordHash())
	require.NotNil(t, u.RememberToken)
	assert.Len(t, *u.RememberToken, 36)
	assert.False(t, u.IsVerified())

	n, err := f.repo.Details().Count(ctx, types.Eq("user_id", u.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	t.Run("email taken", func(t *testing.T) {
		_, err := f.svc.Register(ctx, users.RegisterInput{Name: "other", Email: "ANN@example.com", Password: testPassword})
		assert.ErrorIs(t, err, users.ErrEmailTaken)
	})
	t.Run("name taken", func(t *testing.T) {
		_, err := f.svc.Register(ctx, users.RegisterInput{Name: "ann", Email: "ann2@example.com", Password: testPassword})
		assert.ErrorIs(t, err, users.ErrNameTaken)
	})
	t.Run("weak password", func(t *testing.T) {
		_, err := f.svc.Register(ctx, users.RegisterInput{Name: "bob", Email: "bob@example.com", Password: "short"})
		assert.ErrorIs(t, err, users.ErrWeakPassword)
	})
	t.Run("missing name", func(t *testing.T) {
		_, err := f.svc.Register(ctx, users.RegisterInput{Email: "bob@example.com", Password: testPassword})
		assert.ErrorIs(t, err, repository.ErrInvalidArgument)
	})
	t.Run("trashed accounts keep their email", func(t *testing.T) {
		require.NoError(t, f.svc.Destroy(ctx, u.ID, false))
		_, err := f.svc.Register(ctx, users.RegisterInput{Name: "ann3", Email: "ann@example.com", Password: testPassword})
		assert.ErrorIs(t, err, users.ErrEmailTaken)
	})

	total, err := f.repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, total, "failed registrations must not leave rows behind")
}

func TestRegisterWithRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, name := range []string{"admin", "member"} {
		_, err := f.repo.Roles().Create(ctx, types.Attributes{"name": name}, true)
		require.NoError(t, err)
	}

	_, err := f.svc.Register(ctx, users.RegisterInput{
		Name: "ann", Email: "ann@example.com", Password: testPassword,
		Roles: []string{"admin", "ghost"},
	})
	assert.ErrorIs(t, err, users.ErrUnknownRole)
	total, err := f.repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
	details, err := f.repo.Details().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, details)

	u, err := f.svc.Register(ctx, users.RegisterInput{
		Name: "ann", Email: "ann@example.com", Password: testPassword,
		Roles: []string{"admin", "member"},
	})
	require.NoError(t, err)
	got, err := f.repo.With(models.UserRolesRelation).Find(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.HasRole("admin"))
	assert.True(t, got.HasRole("member"))
}

func TestWritesInvalidateAroundTheWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.register(t, "ann")
	count := func() int {
		n := 0
		for _, id := range f.cache.invalidated {
			if id == u.ID {
				n++
			}
		}
		f.cache.invalidated = nil
		return n
	}

	_, err := f.svc.Update(ctx, u.ID, types.Attributes{"bio": "hi"})
	require.NoError(t, err)
	assert.Equal(t, 2, count())

	_, err = f.svc.Ban(ctx, u.ID, "spam", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count())

	require.NoError(t, f.svc.Destroy(ctx, u.ID, false))
	assert.Equal(t, 2, count())

	_, err = f.svc.Restore(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, count())

	// A failed write still drops the entry.
	_, err = f.svc.AssignRoles(ctx, u.ID, []string{"ghost"}, nil)
	assert.ErrorIs(t, err, users.ErrUnknownRole)
	assert.Equal(t, 2, count())
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.register(t, "ann")

	got, err := f.svc.Authenticate(ctx, "ANN@example.com", testPassword)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = f.svc.Authenticate(ctx, "ann@example.com", "wrong password")
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)

	_, err = f.svc.Authenticate(ctx, "nobody@example.com", testPassword)
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)

	ban, err := f.svc.Ban(ctx, u.ID, "spam", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, ban.Days)
	_, err = f.svc.Authenticate(ctx, "ann@example.com", testPassword)
	assert.ErrorIs(t, err, users.ErrBanned)

	_, err = f.svc.Ban(ctx, 999, "spam", 0)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSignInAndLoginHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.register(t, "ann")

	for _, device := range []string{"d1", "d2", "d3"} {
		_, err := f.svc.SignIn(ctx, "ann@example.com", testPassword, users.Login{Device: device, IP: "127.0.0.1"})
		require.NoError(t, err)
	}
	_, err := f.svc.SignIn(ctx, "ann@example.com", "wrong password", users.Login{Device: "d4"})
	assert.ErrorIs(t, err, users.ErrInvalidCredentials)

	history, err := f.svc.LoginHistory(ctx, u.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "d3", history[0].Device)
	assert.Equal(t, "d1", history[2].Device)
	assert.Equal(t, "127.0.0.1", history[0].IP)

	history, err = f.svc.LoginHistory(ctx, u.ID, 2)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	_, err = f.svc.LoginHistory(ctx, 999, 0)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, n := range []string{"ann", "bob", "cid"} {
		f.register(t, n)
	}

	page, err := f.svc.List(ctx, types.NewPageRequest(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.LastPage)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "cid", page.Items[0].Name)
	assert.Equal(t, "bob", page.Items[1].Name)

	page, err = f.svc.List(ctx, types.NewPageRequest(2, 2))
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "ann", page.Items[0].Name)
	assert.False(t, page.HasMorePages())
}

func TestShowReadsThroughCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.register(t, "ann")

	got, err := f.svc.Show(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Detail)
	assert.Equal(t, u.ID, got.Detail.UserID)
	assert.True(t, f.cache.has(u.ID))

	f.cache.Set(ctx, &models.User{ID: u.ID, Name: "from cache"})
	got, err = f.svc.Show(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "from cache", got.Name)

	_, err = f.svc.Show(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.register(t, "ann")
	_, err := f.svc.Show(ctx, u.ID)
	require.NoError(t, err)

	t.Run("flat attributes reach the profile", func(t *testing.T) {
		got, err := f.svc.Update(ctx, u.ID, types.Attributes{
			"name":     "annie",
			"email":    "evil@example.com",
			"password": "plain",
			"bio":      "hello",
		})
		require.NoError(t, err)
		assert.Equal(t, "annie", got.Name)
		assert.Equal(t, "ann@example.com", got.Email)
		assert.Equal(t, u.PasswordHash(), got.PasswordHash())
		require.NotNil(t, got.Detail)
		assert.Equal(t, "hello", got.Detail.Bio)
		assert.False(t, f.cache.has(u.ID))
	})

	t.Run("profile stays with its owner", func(t *testing.T) {
		bob := f.register(t, "bob")
		got, err := f.svc.Update(ctx, u.ID, types.Attributes{"user_id": bob.ID, "nickname": "x"})
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.Detail.UserID)
		assert.Equal(t, "x", got.Detail.Nickname)

		n, err := f.repo.Details().Count(ctx, types.Eq("user_id", bob.ID))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("nested profile payload", func(t *testing.T) {
		got, err := f.svc.Update(ctx, u.ID, types.Attributes{
			"detail": types.Attributes{"nickname": "an", "gender": "female"},
		})
		require.NoError(t, err)
		assert.Equal(t, "an", got.Detail.Nickname)
		assert.Equal(t, models.GenderFemale, got.Detail.Gender)
		assert.Equal(t, "hello", got.Detail.Bio)
	})

	t.Run("missing profile is created", func(t *testing.T) {
		bare, err := f.repo.Create(ctx, types.Attributes{"name": "bare", "email": "bare@example.com"}, false)
		require.NoError(t, err)
		got, err := f.svc.Update(ctx, bare.ID, types.Attributes{"company": "acme"})
		require.NoError(t, err)
		require.NotNil(t, got.Detail)
		assert.Equal(t, "acme", got.Detail.Company)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := f.svc.Update(ctx, 999, types.Attributes{"name": "x"})
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestDestroyAndRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ann := f.register(t, "ann")
	bob := f.register(t, "bob")

	require.NoError(t, f.svc.Destroy(ctx, ann.ID, false))
	_, err := f.svc.Show(ctx, ann.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.svc.Detail(ctx, ann.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	restored, err := f.svc.Restore(ctx, ann.ID)
	require.NoError(t, err)
	assert.True(t, restored.DeletedAt.IsZero())
	assert.Contains(t, f.cache.invalidated, ann.ID)

	_, err = f.svc.Restore(ctx, ann.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, f.svc.Destroy(ctx, bob.ID, true))
	n, err := f.repo.Details().Count(ctx, types.Eq("user_id", bob.ID))
	require.NoError(t, err)
	assert.Zero(t, n)
	trashed, err := f.repo.AllTrashed(ctx)
	require.NoError(t, err)
	assert.Empty(t, trashed)

	assert.ErrorIs(t, f.svc.Destroy(ctx, bob.ID, false), repository.ErrNotFound)
}

func TestDetail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.register(t, "ann")

	d, err := f.svc.Detail(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, d.UserID)
	assert.Equal(t, models.GenderNeuter, d.Gender)

	_, err = f.svc.Detail(ctx, 999)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAssignRoles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	u := f.register(t, "ann")
	admin := f.register(t, "root")

	ids := map[string]int64{}
	for _, name := range []string{"admin", "editor", "viewer"} {
		role, err := f.repo.Roles().Create(ctx, types.Attributes{"name": name}, true)
		require.NoError(t, err)
		ids[name] = role.ID
	}

	res, err := f.svc.AssignRoles(ctx, u.ID, []string{"admin", "editor"}, &admin.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{ids["admin"], ids["editor"]}, res.Attached)
	assert.Empty(t, res.Detached)

	res, err = f.svc.AssignRoles(ctx, u.ID, []string{"editor", "viewer"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids["viewer"]}, res.Attached)
	assert.Equal(t, []int64{ids["admin"]}, res.Detached)
	assert.Empty(t, res.Updated)

	got, err := f.repo.With(models.UserRolesRelation).Find(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.HasRole("viewer"))
	assert.True(t, got.HasRole("editor"))
	assert.False(t, got.HasRole("admin"))

	_, err = f.svc.AssignRoles(ctx, u.ID, []string{"ghost"}, nil)
	assert.ErrorIs(t, err, users.ErrUnknownRole)

	_, err = f.svc.AssignRoles(ctx, 999, nil, nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
