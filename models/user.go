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

package models

import (
	"strings"
	"time"

	"github.com/tomoncle/usercenter/types"
	"github.com/uptrace/bun"
)

// User is an account. Password holds a bcrypt hash and is never serialized.
type User struct {
	bun.BaseModel `bun:"table:users,alias:u"`

	ID              int64      `bun:"id,pk,autoincrement" json:"id"`
	Name            string     `bun:"name,notnull,unique" json:"name"`
	Email           string     `bun:"email,notnull,unique" json:"email"`
	Password        *string    `bun:"password" json:"-"`
	EmailVerifiedAt *time.Time `bun:"email_verified_at" json:"email_verified_at"`
	RememberToken   *string    `bun:"remember_token" json:"-"`
	Timestamps
	DeletedAt time.Time `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`

	Detail  *UserDetail      `bun:"rel:has-one,join:id=user_id" json:"detail,omitempty"`
	Socials []*SocialAccount `bun:"rel:has-many,join:id=user_id" json:"socials,omitempty"`
	Roles   []*Role          `bun:"m2m:role_user,join:User=Role" json:"roles,omitempty"`
}

func (*User) Fillable() []string {
	return []string{"name", "email", "password"}
}

// PasswordHash returns the stored hash, or "" for accounts created through
// a social login.
func (u *User) PasswordHash() string {
	if u.Password == nil {
		return ""
	}
	return *u.Password
}

// IsVerified reports whether the email address was confirmed.
func (u *User) IsVerified() bool {
	return u.EmailVerifiedAt != nil
}

// HasRole reports whether the loaded Roles contain name.
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// UserDetail is the profile attached one-to-one to a User.
type UserDetail struct {
	bun.BaseModel `bun:"table:user_details,alias:ud"`

	ID          int64  `bun:"id,pk,autoincrement" json:"id"`
	UserID      int64  `bun:"user_id,notnull" json:"user_id"`
	Nickname    string `bun:"nickname,nullzero" json:"nickname"`
	Avatar      string `bun:"avatar,nullzero" json:"avatar"`
	QRCode      string `bun:"qrcode,nullzero" json:"qrcode"`
	Gravatar    string `bun:"gravatar,nullzero" json:"gravatar"`
	FirstName   string `bun:"first_name,nullzero" json:"first_name"`
	LastName    string `bun:"last_name,nullzero" json:"last_name"`
	Location    string `bun:"location,nullzero" json:"location"`
	Company     string `bun:"company,nullzero" json:"company"`
	Gender      Gender `bun:"gender,nullzero,notnull,default:'neuter'" json:"gender"`
	Birthday    string `bun:"birthday,nullzero" json:"birthday"`
	Career      string `bun:"career,nullzero" json:"career"`
	Website     string `bun:"website,nullzero" json:"website"`
	Github      string `bun:"github,nullzero" json:"github"`
	AddressHome string `bun:"address_home,nullzero" json:"address_home"`
	AddressWork string `bun:"address_work,nullzero" json:"address_work"`
	Bio         string `bun:"bio,nullzero" json:"bio"`
	About       string `bun:"about,type:text,nullzero" json:"about"`
	Timestamps

	User *User `bun:"rel:belongs-to,join:user_id=id" json:"-"`
}

func (*UserDetail) Fillable() []string {
	return []string{
		"nickname", "avatar", "qrcode", "gravatar", "first_name", "last_name",
		"location", "company", "gender", "birthday", "career", "website",
		"github", "address_home", "address_work", "bio", "about",
	}
}

// FullName joins the family and given names the way the profile page shows
// them.
func (d *UserDetail) FullName() string {
	return strings.TrimSpace(d.LastName + d.FirstName)
}

// SocialAccount links a User to an OAuth provider identity.
type SocialAccount struct {
	bun.BaseModel `bun:"table:social_accounts,alias:sa"`

	ID           int64            `bun:"id,pk,autoincrement" json:"id"`
	UserID       int64            `bun:"user_id,notnull" json:"user_id"`
	ProviderName string           `bun:"provider_name,notnull,unique:social_provider" json:"provider_name"`
	ProviderID   *string          `bun:"provider_id,unique:social_provider" json:"provider_id"`
	Name         string           `bun:"name,nullzero" json:"name"`
	Nickname     string           `bun:"nickname,nullzero" json:"nickname"`
	Avatar       string           `bun:"avatar,nullzero" json:"avatar"`
	Email        string           `bun:"email,nullzero" json:"email"`
	AccessToken  string           `bun:"access_token,nullzero" json:"-"`
	RefreshToken string           `bun:"refresh_token,nullzero" json:"-"`
	ExpiresIn    *time.Time       `bun:"expires_in" json:"expires_in"`
	Raw          types.Attributes `bun:"raw,type:text" json:"raw,omitempty"`
	Timestamps

	User *User `bun:"rel:belongs-to,join:user_id=id" json:"-"`
}

func (*SocialAccount) Fillable() []string {
	return []string{
		"user_id", "provider_name", "provider_id", "name", "nickname", "email",
		"avatar", "access_token", "refresh_token", "expires_in", "raw",
	}
}

// Role is a named permission group.
type Role struct {
	bun.BaseModel `bun:"table:roles,alias:role"`

	ID    int64  `bun:"id,pk,autoincrement" json:"id"`
	Name  string `bun:"name,notnull,unique" json:"name"`
	Title string `bun:"title,nullzero" json:"title"`
	Timestamps
}

// RoleUser is the users/roles pivot. GrantedBy is a pivot attribute set
// through Sync.
type RoleUser struct {
	bun.BaseModel `bun:"table:role_user,alias:ru"`

	UserID    int64     `bun:"user_id,pk" json:"user_id"`
	RoleID    int64     `bun:"role_id,pk" json:"role_id"`
	GrantedBy *int64    `bun:"granted_by" json:"granted_by"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`

	User *User `bun:"rel:belongs-to,join:user_id=id"`
	Role *Role `bun:"rel:belongs-to,join:role_id=id"`
}

// UserSignedLog records one successful sign in.
type UserSignedLog struct {
	bun.BaseModel `bun:"table:user_signed_logs,alias:usl"`

	ID       int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID   int64     `bun:"user_id,notnull" json:"user_id"`
	Device   string    `bun:"device,nullzero" json:"device"`
	Platform string    `bun:"platform,nullzero" json:"platform"`
	Client   string    `bun:"client,nullzero" json:"client"`
	IP       string    `bun:"ip,nullzero" json:"ip"`
	SignedAt time.Time `bun:"signed_at,nullzero,notnull,default:current_timestamp" json:"signed_at"`
}

// BannedUser suspends a user for Days days from BannedAt.
type BannedUser struct {
	bun.BaseModel `bun:"table:banned_users,alias:bu"`

	ID       int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID   int64     `bun:"user_id,notnull" json:"user_id"`
	Reason   string    `bun:"reason,type:text,notnull" json:"reason"`
	Days     int       `bun:"days,notnull,default:7" json:"days"`
	BannedAt time.Time `bun:"banned_at,nullzero,notnull,default:current_timestamp" json:"banned_at"`
}

// Until is the moment the ban ends.
func (b *BannedUser) Until() time.Time {
	return b.BannedAt.AddDate(0, 0, b.Days)
}

// Active reports whether the ban still applies at now.
func (b *BannedUser) Active(now time.Time) bool {
	return now.Before(b.Until())
}
