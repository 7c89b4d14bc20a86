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

	"github.com/tomoncle/usercenter/types"
)

// Gender is stored by name in user_details.gender.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderNeuter Gender = "neuter"
)

// Genders lists the valid genders in storage order.
var Genders = []Gender{GenderMale, GenderFemale, GenderNeuter}

var _ types.BaseEnum = GenderMale

var genderDesc = map[Gender]string{
	GenderMale:   "Male",
	GenderFemale: "Female",
	GenderNeuter: "Not specified",
}

func (g Gender) IsValid() bool {
	_, ok := genderDesc[g]
	return ok
}

// Number is the position of g in Genders.
func (g Gender) Number() int {
	for i, v := range Genders {
		if v == g {
			return i
		}
	}
	return types.IllegalValue
}

func (g Gender) String() string { return g.Name() }

func (g Gender) Name() string {
	if !g.IsValid() {
		return types.IllegalName
	}
	return string(g)
}

func (g Gender) Desc() string {
	if d, ok := genderDesc[g]; ok {
		return d
	}
	return types.IllegalDesc
}

// ParseGender maps a case-insensitive name to a Gender. Unknown names give
// GenderNeuter and false.
func ParseGender(name string) (Gender, bool) {
	g, ok := types.LookupEnum(Genders, strings.ToLower(strings.TrimSpace(name)))
	if !ok {
		return GenderNeuter, false
	}
	return g, true
}
