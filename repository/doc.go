// Package repository provides a generic repository over bun: one-shot
// scopes, declarative conditions, guarded mass assignment, relation aware
// updates, soft deletes, pagination, bulk inserts and many-to-many sync.
package repository
