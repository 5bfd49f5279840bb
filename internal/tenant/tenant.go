// Package tenant provides tenant identifiers and context propagation.
//
// Every chunk, FAQ cache and prompt cache entry is partitioned by tenant.
// Identifiers double as directory names for per-tenant FAQ files, so they
// are restricted to a conservative character set.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"
)

var (
	// ErrMissingTenant is returned when tenant info is missing from context.
	ErrMissingTenant = errors.New("tenant missing from context")

	// ErrInvalidTenant is returned when a tenant identifier is invalid.
	ErrInvalidTenant = errors.New("invalid tenant identifier")
)

const maxIDLen = 64

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Validate checks that id is a usable tenant identifier.
func Validate(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTenant)
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: invalid UTF-8", ErrInvalidTenant)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%w: exceeds max length %d", ErrInvalidTenant, maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must be alphanumeric, hyphen or underscore", ErrInvalidTenant, id)
	}
	return nil
}

type ctxKey struct{}

// WithID adds the tenant id to ctx.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the tenant id stored in ctx.
// Returns ErrMissingTenant if absent; callers fail closed.
func FromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(ctxKey{}).(string)
	if !ok || id == "" {
		return "", ErrMissingTenant
	}
	return id, nil
}

// IDFromContext returns the tenant id or "" when absent.
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
