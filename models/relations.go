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

import "github.com/tomoncle/usercenter/repository"

// Relation descriptors for the bun relation fields above. The Name of each
// must match the struct field.
var (
	UserDetailRelation  = repository.HasOne("Detail", "user_details", "user_id")
	UserSocialsRelation = repository.HasMany("Socials", "social_accounts", "user_id")
	UserRolesRelation   = repository.BelongsToMany("Roles", "roles", repository.Pivot{
		Table:      "role_user",
		ForeignKey: "user_id",
		RelatedKey: "role_id",
	})

	DetailUserRelation = repository.BelongsTo("User", "users", "user_id")
	SocialUserRelation = repository.BelongsTo("User", "users", "user_id")
)
