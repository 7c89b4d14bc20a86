// Package users implements account registration, authentication, profile
// maintenance and social login on top of the generic repository.
package users
