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

import "github.com/tomoncle/usercenter/database"

// Pivot tables go first so bun can resolve m2m relations, then owners
// before the tables referencing them.
func init() {
	database.RegisterModel((*RoleUser)(nil), 0)
	database.RegisterModel((*User)(nil), 10)
	database.RegisterModel((*Role)(nil), 10)
	database.RegisterModel((*UserDetail)(nil), 20)
	database.RegisterModel((*SocialAccount)(nil), 20)
	database.RegisterModel((*UserSignedLog)(nil), 20)
	database.RegisterModel((*BannedUser)(nil), 20)
}
