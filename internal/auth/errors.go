package auth

import "errors"

var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrTenantMismatch indicates the resource belongs to a different tenant.
	ErrTenantMismatch = errors.New("tenant mismatch")
	// ErrNotFound indicates the resource does not exist.
	ErrNotFound = errors.New("resource not found")
)
