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

	"github.com/tomoncle/usercenter/database"
	"github.com/tomoncle/usercenter/models"
	"github.com/tomoncle/usercenter/repository"
	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun"
)

// DefaultProviders lists the social providers enabled when none are
// configured.
var DefaultProviders = []string{"github"}

// ProviderUser is the identity returned by an OAuth provider.
type ProviderUser struct {
	ID           string
	Name         string
	Nickname     string
	Email        string
	Avatar       string
	Token        string
	RefreshToken string
	ExpiresIn    time.Duration
	Raw          types.Attributes
}

func (p ProviderUser) displayName() string {
	for _, n := range []string{p.Name, p.Nickname} {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	email := normalizeEmail(p.Email)
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

// SocialAccountService signs users in through linked provider accounts.
type SocialAccountService struct {
	repo      Repository
	cache     Cache
	providers map[string]bool
	logger    database.Logger
	now       func() time.Time
}

// NewSocialAccountService enables providers, or DefaultProviders when
// empty.
func NewSocialAccountService(repo Repository, cache Cache, providers ...string) *SocialAccountService {
	if len(providers) == 0 {
		providers = DefaultProviders
	}
	if cache == nil {
		cache = noCache{}
	}
	enabled := make(map[string]bool, len(providers))
	for _, p := range providers {
		enabled[strings.ToLower(strings.TrimSpace(p))] = true
	}
	return &SocialAccountService{repo: repo, cache: cache, providers: enabled, logger: database.GetLogger(), now: time.Now}
}

// Supports reports whether provider is enabled.
func (s *SocialAccountService) Supports(provider string) bool {
	return s.providers[strings.ToLower(strings.TrimSpace(provider))]
}

// Handle returns the user linked to pu. An already linked account gets its
// tokens refreshed. Otherwise the user with pu's email is reused or created,
// given a profile if it lacks one, and linked.
func (s *SocialAccountService) Handle(ctx context.Context, pu ProviderUser, provider string) (*models.User, error) {
	const op = "SocialAccount.Handle"
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !s.providers[provider] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	email := normalizeEmail(pu.Email)
	if pu.ID == "" || email == "" {
		return nil, &repository.Error{Op: op, Kind: repository.ErrInvalidArgument, Err: errors.New("provider user needs an id and an email")}
	}

	tokens := types.Attributes{
		"access_token":  pu.Token,
		"refresh_token": pu.RefreshToken,
		"expires_in":    nil,
	}
	if pu.ExpiresIn > 0 {
		tokens["expires_in"] = s.now().Add(pu.ExpiresIn)
	}

	var (
		user   *models.User
		linked bool
	)
	err := s.repo.DB().RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		r := s.repo.InTx(tx)
		account, err := r.SocialAccount(ctx, types.Eq("provider_name", provider), types.Eq("provider_id", pu.ID))
		if err != nil {
			return err
		}
		if account != nil {
			if _, err := r.Socials().Update(ctx, account.ID, tokens.Merge(types.Attributes{"avatar": pu.Avatar}), false); err != nil {
				return err
			}
			user, err = r.FindOrFail(ctx, account.UserID)
			return err
		}

		user, err = r.FirstOrCreate(ctx,
			types.Attributes{"email": email},
			types.Attributes{"name": pu.displayName()})
		if err != nil {
			return err
		}
		s.cache.Invalidate(ctx, user.ID)
		if err := s.ensureProfile(ctx, r, user.ID, pu); err != nil {
			return err
		}
		_, err = r.Socials().Create(ctx, tokens.Merge(types.Attributes{
			"user_id":       user.ID,
			"provider_name": provider,
			"provider_id":   pu.ID,
			"name":          pu.Name,
			"nickname":      pu.Nickname,
			"email":         email,
			"avatar":        pu.Avatar,
			"raw":           pu.Raw,
		}), false)
		linked = err == nil
		return err
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, user.ID)
	if linked {
		s.logger.Info("Social account linked", "provider", provider, "user_id", user.ID)
	}
	return user, nil
}

func (s *SocialAccountService) ensureProfile(ctx context.Context, r Repository, id int64, pu ProviderUser) error {
	ok, err := r.Details().Exists(ctx, types.Eq("user_id", id))
	if err != nil || ok {
		return err
	}
	_, err = r.Details().Create(ctx, types.Attributes{
		"user_id":  id,
		"nickname": pu.Nickname,
		"avatar":   pu.Avatar,
	}, true)
	return err
}
