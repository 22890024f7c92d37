package model

import "context"

var (
	ErrAuthenticationRequired = NewError(ErrUnauthorized, "authentication required")
	ErrAdminRequired          = NewError(ErrForbidden, "admin privileges required")
	ErrOverrideRequired       = NewError(ErrForbidden, "status override privileges required")
)

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleCustomer Role = "CUSTOMER"
)

// Principal is the authenticated caller. CanOverride grants forced order
// status changes and is never implied by RoleAdmin alone.
type Principal struct {
	Subject     string
	Role        Role
	CanOverride bool
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, principal Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	principal, ok := ctx.Value(principalKey{}).(Principal)
	return principal, ok
}

// RequireAdmin fails with an authorization error unless ctx carries an admin.
func RequireAdmin(ctx context.Context) error {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return ErrAuthenticationRequired
	}
	if !principal.IsAdmin() {
		return ErrAdminRequired
	}
	return nil
}

func RequireOverride(ctx context.Context) error {
	if err := RequireAdmin(ctx); err != nil {
		return err
	}
	principal, _ := PrincipalFromContext(ctx)
	if !principal.CanOverride {
		return ErrOverrideRequired
	}
	return nil
}
