// Package service holds the reservation business logic: availability,
// queue ordering, the lifecycle state machine and the expiration sweep.
// Handlers call into it with a context that carries the acting Principal.
package service

import "context"

// Roles carried in the "role" claim of access tokens.
const (
	RoleUser  = "USER"
	RoleStaff = "STAFF"
	RoleAdmin = "ADMIN"
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	UserID uint64
	Role   string
}

// IsStaff reports whether the principal may act on other users' reservations.
func (p Principal) IsStaff() bool {
	return p.Role == RoleStaff || p.Role == RoleAdmin
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok && p.UserID != 0
}
