// Package tenant carries tenant scope through request contexts.
//
// Every stage of the engine (store scans, index search, cache buckets)
// extracts the scope from the context and fails closed when it is absent:
// a query without a tenant never returns data, it returns ErrMissingTenant.
package tenant

import (
	"context"
	"errors"
	"regexp"
)

// Tenant isolation error types - fail closed security model.
var (
	// ErrMissingTenant is returned when tenant info is missing from context.
	// This triggers "fail closed" behavior - no empty results, just errors.
	ErrMissingTenant = errors.New("tenant info missing from context")

	// ErrInvalidTenant is returned when a tenant identifier is invalid.
	ErrInvalidTenant = errors.New("invalid tenant identifier")
)

// tenantContextKey is the context key for Info.
type tenantContextKey struct{}

const maxTenantIDLen = 128

// idPattern allows alphanumeric, hyphen, underscore.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Info holds the authorized tenant scope for a request.
//
// Authorization happens upstream; the engine trusts the scope it is handed
// but never lets data cross it.
type Info struct {
	// TenantID is the organization/user identifier (required).
	TenantID string
}

// Validate checks that required fields are present and well-formed.
func (t *Info) Validate() error {
	if t.TenantID == "" {
		return ErrInvalidTenant
	}
	if len(t.TenantID) > maxTenantIDLen || !idPattern.MatchString(t.TenantID) {
		return ErrInvalidTenant
	}
	return nil
}

// NewContext adds tenant Info to a context.
func NewContext(ctx context.Context, info *Info) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, info)
}

// FromContext extracts tenant Info from a context.
// Returns ErrMissingTenant if not present - fail closed.
func FromContext(ctx context.Context) (*Info, error) {
	val := ctx.Value(tenantContextKey{})
	if val == nil {
		return nil, ErrMissingTenant
	}
	info, ok := val.(*Info)
	if !ok || info == nil {
		return nil, ErrMissingTenant
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}
	return info, nil
}

// Has reports whether valid tenant Info is present in the context.
func Has(ctx context.Context) bool {
	_, err := FromContext(ctx)
	return err == nil
}
