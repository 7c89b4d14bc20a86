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

package repository_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tomoncle/usercenter/dbtest"
	"github.com/tomoncle/usercenter/models"
	"github.com/tomoncle/usercenter/repository"
	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun"
)

type fixture struct {
	db      *bun.DB
	users   repository.Repository[models.User]
	details repository.Repository[models.UserDetail]
	roles   repository.Repository[models.Role]
}

func setup(t *testing.T) *fixture {
	db := dbtest.Open(t)
	return &fixture{
		db:      db,
		users:   repository.MustNewRepository[models.User](db),
		details: repository.MustNewRepository[models.UserDetail](db),
		roles:   repository.MustNewRepository[models.Role](db),
	}
}

func (f *fixture) seed(t *testing.T, names ...string) []*models.User {
	t.Helper()
	out := make([]*models.User, 0, len(names))
	for _, name := range names {
		u, err := f.users.Create(context.Background(), types.Attributes{
			"name":     name,
			"email":    name + "@example.com",
			"password": "hash-" + name,
		}, false)
		require.NoError(t, err)
		out = append(out, u)
	}
	return out
}

func names(users []*models.User) []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.Name
	}
	return out
}

func TestNewRepositoryConfiguration(t *testing.T) {
	db := dbtest.Open(t)

	_, err := repository.NewRepository[models.User](nil)
	assert.True(t, errors.Is(err, repository.ErrInvalidConfiguration))

	_, err = repository.NewRepository[models.RoleUser](db)
	assert.True(t, errors.Is(err, repository.ErrInvalidConfiguration))

	_, err = repository.NewRepository[int](db)
	assert.True(t, errors.Is(err, repository.ErrInvalidConfiguration))

	assert.Panics(t, func() { repository.MustNewRepository[models.RoleUser](db) })

	repo, err := repository.NewRepository[models.User](db)
	require.NoError(t, err)
	assert.Equal(t, "users", repo.Table().Name)
	assert.True(t, repo.IsFresh())
}

func TestCreateAndFind(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	u, err := f.users.Create(ctx, types.Attributes{
		"id":                int64(500),
		"name":              "alice",
		"email":             "alice@example.com",
		"password":          "secret-hash",
		"email_verified_at": "2024-01-02 03:04:05",
		"favourite_color":   "green",
	}, false)
	require.NoError(t, err)
	assert.NotEqual(t, int64(500), u.ID)
	assert.Equal(t, "alice", u.Name)
	assert.Equal(t, "secret-hash", u.PasswordHash())
	assert.Nil(t, u.EmailVerifiedAt)
	assert.False(t, u.CreatedAt.IsZero())

	found, err := f.users.Find(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "alice@example.com", found.Email)

	partial, err := f.users.Find(ctx, u.ID, "id", "name")
	require.NoError(t, err)
	assert.Equal(t, "alice", partial.Name)
	assert.Empty(t, partial.Email)

	missing, err := f.users.Find(ctx, int64(9999))
	assert.NoError(t, err)
	assert.Nil(t, missing)

	_, err = f.users.FindOrFail(ctx, int64(9999))
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	forced, err := f.users.Create(ctx, types.Attributes{
		"name":              "bob",
		"email":             "bob@example.com",
		"email_verified_at": "2024-01-02 03:04:05",
	}, true)
	require.NoError(t, err)
	assert.True(t, forced.IsVerified())

	_, err = f.users.Create(ctx, types.Attributes{"name": "carol", "favourite_color": "red"}, true)
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))
}

func TestConstraintViolation(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "alice")

	_, err := f.users.Create(ctx, types.Attributes{"name": "alice2", "email": "alice@example.com"}, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, repository.ErrConstraintViolation))

	var re *repository.Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "Create", re.Op)
}

func TestScopeIsConsumed(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "alice", "bob", "carol")

	got, err := f.users.SetScope(repository.ScopeWhere(types.Eq("name", "alice"))).All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, names(got))

	got, err = f.users.All(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	// A failing call still clears the scope.
	f.users.SetScope(repository.ScopeWhere(types.Eq("name", "alice")))
	_, err = f.users.FindWhere(ctx, types.Eq("name; drop table users", 1))
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))
	n, err := f.users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.users.SetScope(repository.ScopeWhere(types.Eq("name", "alice"))).ClearScope().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.users.SetScope(repository.ScopeWhere(types.Where("name", types.OpLike, "%a%"))).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Scopes compose.
	got, err = f.users.
		SetScope(repository.ScopeWhere(types.Where("name", types.OpLike, "%a%"))).
		SetScope(repository.ScopeWhere(types.Eq("name", "carol"))).
		Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, names(got))

	_, err = f.users.SetScope(repository.ScopeOrder("name", "sideways")).All(ctx)
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))
	got, err = f.users.All(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestConditions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	seeded := f.seed(t, "alice", "bob", "carol")
	alice, bob := seeded[0], seeded[1]

	got, err := f.users.FindWhere(ctx, types.Eq("name", "alice"), types.Eq("email", "alice@example.com"))
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = f.users.FindWhere(ctx, types.Eq("name", "alice"), types.Eq("email", "bob@example.com"))
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got, err = f.users.OrderBy("id", "asc").FindOrWhere(ctx, types.Eq("name", "alice"), types.Eq("name", "bob"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, names(got))

	// The OR group is ANDed with the scope.
	got, err = f.users.
		SetScope(repository.ScopeWhere(types.Where("name", "!=", "alice"))).
		FindOrWhere(ctx, types.Eq("name", "alice"), types.Eq("name", "bob"))
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, names(got))

	got, err = f.users.SetScope(repository.ScopeOrWhere(types.Eq("name", "alice"), types.Eq("name", "carol"))).
		FindWhere(ctx, types.Where("id", ">", alice.ID))
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, names(got))

	got, err = f.users.FindWhereIn(ctx, "name", []interface{}{"alice", "carol"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = f.users.FindWhereIn(ctx, "name", nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.users.FindWhereNotIn(ctx, "name", []interface{}{"alice", "carol"})
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, names(got))

	got, err = f.users.FindWhereBetween(ctx, "id", alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = f.users.FindWhereNotBetween(ctx, "id", alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, names(got))

	got, err = f.users.FindBy(ctx, "email", "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, names(got))

	first, err := f.users.FirstOrWhere(ctx, types.Eq("name", "zed"), types.Eq("name", "carol"))
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "carol", first.Name)

	first, err = f.users.FirstWhere(ctx, types.Eq("name", "zed"))
	assert.NoError(t, err)
	assert.Nil(t, first)

	first, err = f.users.FindFirstWhere(ctx, types.Eq("name", "bob"))
	require.NoError(t, err)
	assert.Equal(t, bob.ID, first.ID)

	n, err := f.users.FindCountWhere(ctx, types.Where("id", ">", alice.ID))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ok, err := f.users.Exists(ctx, types.Eq("name", "bob"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.users.Exists(ctx, types.IsNull("password"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.users.FindWhere(ctx, types.Where("name", "~", "x"))
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))
}

func TestFirstAndLimit(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	_, err := f.users.FirstOrFail(ctx)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	f.seed(t, "alice", "bob", "carol")

	last, err := f.users.OrderBy("id", "desc").First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "carol", last.Name)

	got, err := f.users.OrderBy("id", "desc").Limit(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"carol", "bob"}, names(got))

	got, err = f.users.SetScope(repository.ScopeFunc(func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("?TableAlias.name <> ?", "bob")
	})).OrderBy("name", "asc").All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, names(got))
}

func TestFirstOrNewAndFirstOrCreate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "alice")

	u, err := f.users.FirstOrNew(ctx, types.Attributes{"email": "alice@example.com"}, types.Attributes{"name": "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Name)

	u, err = f.users.FirstOrNew(ctx, types.Attributes{"email": "dave@example.com"}, types.Attributes{"name": "dave"})
	require.NoError(t, err)
	assert.Zero(t, u.ID)
	assert.Equal(t, "dave", u.Name)
	assert.Equal(t, "dave@example.com", u.Email)
	n, _ := f.users.Count(ctx)
	assert.Equal(t, 1, n)

	created, err := f.users.FirstOrCreate(ctx, types.Attributes{"email": "erin@example.com"}, types.Attributes{"name": "erin"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	again, err := f.users.FirstOrCreate(ctx, types.Attributes{"email": "erin@example.com"}, types.Attributes{"name": "other"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)
	assert.Equal(t, "erin", again.Name)

	n, _ = f.users.Count(ctx)
	assert.Equal(t, 2, n)
}

func TestDestroyAndRestore(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	seeded := f.seed(t, "alice", "bob", "carol")
	alice, bob := seeded[0], seeded[1]

	n, err := f.users.Destroy(ctx, alice.ID, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := f.users.Find(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	trashed, err := f.users.FindTrashed(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, trashed.DeletedAt.IsZero())

	all, err := f.users.AllTrashed(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = f.users.Destroy(ctx, alice.ID, false)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	restored, err := f.users.Restore(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.True(t, restored.DeletedAt.IsZero())

	_, err = f.users.Restore(ctx, alice.ID)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	n, err = f.users.Destroy(ctx, bob.ID, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, err = f.users.FindTrashed(ctx, bob.ID)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	count, _ := f.users.Count(ctx)
	assert.Equal(t, 2, count)

	_, err = f.details.FindTrashed(ctx, int64(1))
	assert.True(t, errors.Is(err, repository.ErrSoftDeleteUnsupported))
	_, err = f.details.Restore(ctx, int64(1))
	assert.True(t, errors.Is(err, repository.ErrSoftDeleteUnsupported))
}

func TestHardDeleteCascadesToDetails(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	alice := f.seed(t, "alice")[0]

	_, err := f.details.Create(ctx, types.Attributes{"user_id": alice.ID, "nickname": "al"}, true)
	require.NoError(t, err)

	_, err = f.users.Destroy(ctx, alice.ID, true)
	require.NoError(t, err)

	n, err := f.details.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = f.details.Create(ctx, types.Attributes{"user_id": int64(4242)}, true)
	assert.True(t, errors.Is(err, repository.ErrConstraintViolation))
}

func TestDestroyWhere(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "alice", "bob", "bert")

	_, err := f.users.DestroyWhere(ctx)
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))

	// Ordering alone does not narrow the delete.
	_, err = f.users.OrderBy("name", "asc").DestroyWhere(ctx)
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))
	count, err := f.users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	n, err := f.users.SetScope(repository.ScopeWhere(types.Eq("name", "bert"))).
		DestroyWhere(ctx, types.Where("name", types.OpLike, "b%"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = f.users.DestroyWhere(ctx, types.Where("name", types.OpLike, "b%"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := f.users.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, names(left))

	trashed, err := f.users.AllTrashed(ctx)
	require.NoError(t, err)
	assert.Len(t, trashed, 2)
}

func TestDestroyWhereWithScopeOnly(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "a", "b", "c")

	n, err := f.users.SetScope(repository.ScopeWhere(types.Eq("name", "a"))).DestroyWhere(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := f.users.All(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, names(left))

	n, err = f.users.SetScope(repository.ScopeOrWhere(types.Eq("name", "b"), types.Eq("name", "c"))).DestroyWhere(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	count, err := f.users.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpdateCascadesIntoRelations(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	alice := f.seed(t, "alice")[0]
	_, err := f.details.Create(ctx, types.Attributes{"user_id": alice.ID, "nickname": "al"}, true)
	require.NoError(t, err)

	u, err := f.users.With(models.UserDetailRelation).Update(ctx, alice.ID, types.Attributes{
		"name":   "alice2",
		"detail": types.Attributes{"nickname": "ally", "career": "dev", "user_id": int64(77)},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.Name)
	require.NotNil(t, u.Detail)
	assert.Equal(t, "ally", u.Detail.Nickname)
	assert.Equal(t, "dev", u.Detail.Career)
	assert.Equal(t, alice.ID, u.Detail.UserID)

	// Without a nested payload the whole attribute set feeds the relation.
	u, err = f.users.UpdateWithRelations(ctx, alice.ID, []repository.Relation{models.UserDetailRelation},
		types.Attributes{"name": "alice3", "nickname": "al3", "gender": "female"}, false)
	require.NoError(t, err)
	assert.Equal(t, "alice3", u.Name)
	require.NotNil(t, u.Detail)
	assert.Equal(t, "al3", u.Detail.Nickname)
	assert.Equal(t, models.GenderFemale, u.Detail.Gender)

	// Guarded cascades honour the related Fillable list, which leaves out
	// the foreign key.
	bob := f.seed(t, "bob")[0]
	u, err = f.users.With(models.UserDetailRelation).Update(ctx, alice.ID,
		types.Attributes{"user_id": bob.ID, "nickname": "al4"}, false)
	require.NoError(t, err)
	assert.Equal(t, "al4", u.Detail.Nickname)
	assert.Equal(t, alice.ID, u.Detail.UserID)
	owned, err := f.details.Count(ctx, types.Eq("user_id", bob.ID))
	require.NoError(t, err)
	assert.Zero(t, owned)

	plain, err := f.users.Find(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, plain.Detail)

	_, err = f.users.Update(ctx, int64(9999), types.Attributes{"name": "x"}, false)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	_, err = f.users.Update(ctx, alice.ID, types.Attributes{"nope": "x"}, true)
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))
}

func TestUpdateOrCreate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	first, err := f.users.UpdateOrCreate(ctx, types.Attributes{"email": "dave@example.com"}, types.Attributes{"name": "dave"}, false)
	require.NoError(t, err)
	second, err := f.users.UpdateOrCreate(ctx, types.Attributes{"email": "dave@example.com"}, types.Attributes{"name": "david"}, false)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "david", second.Name)
	n, err := f.users.Count(ctx, types.Eq("email", "dave@example.com"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdateWhereIn(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	seeded := f.seed(t, "alice", "bob", "carol")

	n, err := f.users.UpdateWhereIn(ctx, "id", nil, types.Attributes{"remember_token": "tok"})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = f.users.UpdateWhereIn(ctx, "", []interface{}{1}, types.Attributes{"remember_token": "tok"})
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))

	_, err = f.users.UpdateWhereIn(ctx, "id", []interface{}{1}, types.Attributes{"no_such_column": "tok"})
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))

	ids := []interface{}{seeded[0].ID, seeded[1].ID}
	n, err = f.users.UpdateWhereIn(ctx, "id", ids, types.Attributes{"remember_token": "tok"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := f.users.FindBy(ctx, "remember_token", "tok")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	n, err = f.users.SetScope(repository.ScopeWhere(types.Eq("name", "alice"))).
		UpdateWhereIn(ctx, "id", ids, types.Attributes{"remember_token": "other"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPaginate(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	rows := make([]types.Attributes, 12)
	for i := range rows {
		rows[i] = types.Attributes{"email": fmt.Sprintf("u%02d@example.com", i), "name": fmt.Sprintf("u%02d", i)}
	}
	n, err := f.users.Insert(ctx, rows...)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	page, err := f.users.OrderBy("id", "asc").Paginate(ctx, types.NewPageRequest(1, 5))
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	assert.Equal(t, 3, page.LastPage)
	assert.Len(t, page.Items, 5)
	assert.Equal(t, "u00", page.Items[0].Name)
	assert.True(t, page.HasMorePages())

	page, err = f.users.OrderBy("id", "asc").Paginate(ctx, types.NewPageRequest(2, 5))
	require.NoError(t, err)
	assert.Len(t, page.Items, 5)
	assert.Equal(t, "u05", page.Items[0].Name)

	page, err = f.users.OrderBy("id", "asc").Paginate(ctx, types.NewPageRequest(3, 5))
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.False(t, page.HasMorePages())

	page, err = f.users.Paginate(ctx, types.NewPageRequest(4, 5))
	require.NoError(t, err)
	assert.NotNil(t, page.Items)
	assert.Empty(t, page.Items)

	page, err = f.users.Paginate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, types.DefaultPerPage, page.PerPage)
	assert.Len(t, page.Items, 12)

	page, err = f.users.SetScope(repository.ScopeWhere(types.Where("name", types.OpLike, "u1%"))).
		Paginate(ctx, types.NewPageRequest(1, 5))
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 1, page.LastPage)
}

func TestInsertAndUpsert(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	f.seed(t, "alice")

	_, err := f.users.Insert(ctx,
		types.Attributes{"name": "x", "email": "x@example.com"},
		types.Attributes{"name": "y"},
	)
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))

	n, err := f.users.Insert(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = f.users.InsertIgnore(ctx,
		types.Attributes{"name": "alice-dup", "email": "alice@example.com"},
		types.Attributes{"name": "bob", "email": "bob@example.com"},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = f.users.Insert(ctx, types.Attributes{"name": "alice-dup", "email": "alice@example.com"})
	assert.True(t, errors.Is(err, repository.ErrConstraintViolation))

	n, err = f.users.Upsert(ctx,
		[]types.Attributes{
			{"name": "alice-renamed", "email": "alice@example.com"},
			{"name": "carol", "email": "carol@example.com"},
		},
		[]string{"email"}, []string{"name"},
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := f.users.FindBy(ctx, "email", "alice@example.com")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice-renamed", got[0].Name)

	count, _ := f.users.Count(ctx)
	assert.Equal(t, 3, count)
}

func TestPluck(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	seeded := f.seed(t, "alice", "bob", "carol")

	vals, err := f.users.OrderBy("id", "asc").Pluck(ctx, "name")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"alice", "bob", "carol"}, vals)

	vals, err = f.users.SetScope(repository.ScopeWhere(types.Eq("name", "bob"))).Pluck(ctx, "email")
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"bob@example.com"}, vals)

	keyed, err := f.users.PluckKeyed(ctx, "name", "id")
	require.NoError(t, err)
	assert.Len(t, keyed, 3)
	assert.Equal(t, "carol", keyed[fmt.Sprint(seeded[2].ID)])

	_, err = f.users.Pluck(ctx, "name, password")
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))
}

func TestFreshToggleReturnsCopies(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	stale := f.users.WithoutFresh()
	assert.False(t, stale.IsFresh())
	assert.True(t, f.users.IsFresh())
	assert.True(t, stale.WithFresh().IsFresh())
	assert.False(t, stale.IsFresh())
	assert.False(t, f.users.SetFresh(false).IsFresh())
	assert.True(t, f.users.IsFresh())

	u, err := stale.Create(ctx, types.Attributes{"name": "alice", "email": "alice@example.com"}, false)
	require.NoError(t, err)
	assert.NotZero(t, u.ID)

	u, err = stale.Update(ctx, u.ID, types.Attributes{"name": "alice2"}, false)
	require.NoError(t, err)
	assert.Equal(t, "alice2", u.Name)
}

func TestEagerLoadingIsConsumed(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	alice := f.seed(t, "alice")[0]
	_, err := f.details.Create(ctx, types.Attributes{"user_id": alice.ID, "first_name": "Lei", "last_name": "Li"}, true)
	require.NoError(t, err)

	u, err := f.users.With(models.UserDetailRelation, models.UserSocialsRelation).Find(ctx, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, u.Detail)
	assert.Equal(t, "LiLei", u.Detail.FullName())
	assert.Equal(t, models.GenderNeuter, u.Detail.Gender)
	assert.Empty(t, u.Socials)

	u, err = f.users.Find(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, u.Detail)

	d, err := f.details.With(models.DetailUserRelation).First(ctx)
	require.NoError(t, err)
	require.NotNil(t, d.User)
	assert.Equal(t, "alice", d.User.Name)
}

func TestSync(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	alice := f.seed(t, "alice")[0]

	_, err := f.roles.Insert(ctx,
		types.Attributes{"name": "admin"},
		types.Attributes{"name": "editor"},
		types.Attributes{"name": "viewer"},
	)
	require.NoError(t, err)
	roles, err := f.roles.OrderBy("id", "asc").All(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 3)
	admin, editor, viewer := roles[0].ID, roles[1].ID, roles[2].ID

	res, err := f.users.Sync(ctx, alice.ID, models.UserRolesRelation, map[int64]types.Attributes{
		admin:  nil,
		editor: {"granted_by": int64(1)},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{admin, editor}, res.Attached)
	assert.Empty(t, res.Detached)
	assert.Empty(t, res.Updated)

	res, err = f.users.Sync(ctx, alice.ID, models.UserRolesRelation, map[int64]types.Attributes{
		editor: {"granted_by": int64(2)},
		viewer: nil,
	}, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{viewer}, res.Attached)
	assert.Equal(t, []int64{admin}, res.Detached)
	assert.Equal(t, []int64{editor}, res.Updated)

	u, err := f.users.With(models.UserRolesRelation).Find(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, u.HasRole("admin"))
	assert.True(t, u.HasRole("editor"))
	assert.True(t, u.HasRole("viewer"))

	var grantedBy int64
	err = f.db.NewSelect().Table("role_user").Column("granted_by").
		Where("user_id = ? AND role_id = ?", alice.ID, editor).Scan(ctx, &grantedBy)
	require.NoError(t, err)
	assert.Equal(t, int64(2), grantedBy)

	res, err = f.users.SyncWithoutDetaching(ctx, alice.ID, models.UserRolesRelation, map[int64]types.Attributes{admin: nil})
	require.NoError(t, err)
	assert.Equal(t, []int64{admin}, res.Attached)
	assert.Empty(t, res.Detached)

	u, err = f.users.With(models.UserRolesRelation).Find(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, u.Roles, 3)

	_, err = f.users.Sync(ctx, alice.ID, models.UserDetailRelation, nil, true)
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))

	_, err = f.users.Sync(ctx, alice.ID, models.UserRolesRelation, map[int64]types.Attributes{admin: {"user_id": 3}}, true)
	assert.True(t, errors.Is(err, repository.ErrInvalidArgument))

	_, err = f.users.Sync(ctx, int64(9999), models.UserRolesRelation, nil, true)
	assert.True(t, errors.Is(err, repository.ErrNotFound))

	n, err := f.users.SetScope(repository.WhereHas(models.UserRolesRelation, types.Eq("name", "admin"))).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWhereHas(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	seeded := f.seed(t, "alice", "bob")
	_, err := f.details.Create(ctx, types.Attributes{"user_id": seeded[0].ID, "nickname": "al"}, true)
	require.NoError(t, err)

	got, err := f.users.SetScope(repository.Has(models.UserDetailRelation)).All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, names(got))

	n, err := f.users.SetScope(repository.WhereHas(models.UserDetailRelation, types.Eq("nickname", "zz"))).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	details, err := f.details.SetScope(repository.WhereHas(models.DetailUserRelation, types.Eq("name", "alice"))).All(ctx)
	require.NoError(t, err)
	assert.Len(t, details, 1)

	// Relation filters apply to writes too.
	deleted, err := f.users.SetScope(repository.Has(models.UserDetailRelation)).DestroyWhere(ctx, types.Where("id", ">", 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	left, err := f.users.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, names(left))
}

func TestRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	boom := errors.New("boom")
	err := f.users.RunInTx(ctx, func(ctx context.Context, tx repository.Repository[models.User]) error {
		if _, err := tx.Create(ctx, types.Attributes{"name": "ghost", "email": "ghost@example.com"}, false); err != nil {
			return err
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	n, err := f.users.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	err = f.users.RunInTx(ctx, func(ctx context.Context, tx repository.Repository[models.User]) error {
		_, err := tx.Create(ctx, types.Attributes{"name": "kept", "email": "kept@example.com"}, false)
		return err
	})
	require.NoError(t, err)
	n, _ = f.users.Count(ctx)
	assert.Equal(t, 1, n)
}
