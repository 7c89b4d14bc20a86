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

package types

// DefaultPerPage is used when a page request carries no page size.
const DefaultPerPage = 15

// PageRequest describes which page to read and how large a page is.
type PageRequest struct {
	page    int
	perPage int
	columns []string
}

// GetPerPage returns the page size, falling back to DefaultPerPage.
func (p *PageRequest) GetPerPage() int {
	if p.perPage < 1 {
		p.perPage = DefaultPerPage
	}
	return p.perPage
}

// GetPage returns the 1-based page number.
func (p *PageRequest) GetPage() int {
	if p.page < 1 {
		p.page = 1
	}
	return p.page
}

func (p *PageRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPerPage()
}

// GetColumns returns the projected columns; empty means all columns.
func (p *PageRequest) GetColumns() []string {
	return p.columns
}

// NewPageRequest constructs a PageRequest. A perPage below 1 means DefaultPerPage.
func NewPageRequest(page int, perPage int, columns ...string) *PageRequest {
	return &PageRequest{page: page, perPage: perPage, columns: columns}
}

// NewDefaultPageRequest reads the given page with the default page size.
func NewDefaultPageRequest(page int) *PageRequest {
	return NewPageRequest(page, DefaultPerPage)
}

// Pagination holds one page of items along with length-aware metadata.
type Pagination[T any] struct {
	Page     int  `json:"current_page"`
	PerPage  int  `json:"per_page"`
	Total    int  `json:"total"`
	LastPage int  `json:"last_page"`
	Items    []*T `json:"data"`
}

// NewPagination builds an empty page container for the request.
func NewPagination[T any](page *PageRequest) *Pagination[T] {
	return &Pagination[T]{
		Page:     page.GetPage(),
		PerPage:  page.GetPerPage(),
		LastPage: 1,
		Items:    make([]*T, 0),
	}
}

// SetTotal records the total row count and derives the last page.
func (p *Pagination[T]) SetTotal(total int) {
	p.Total = total
	p.LastPage = 1
	if total > 0 && p.PerPage > 0 {
		p.LastPage = (total + p.PerPage - 1) / p.PerPage
	}
}

// HasMorePages reports whether a page follows this one.
func (p *Pagination[T]) HasMorePages() bool {
	return p.Page < p.LastPage
}
