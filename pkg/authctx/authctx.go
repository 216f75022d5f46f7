// Package authctx carries the calling principal through the validation
// call chain. The engine never authenticates anyone; it consumes an
// already-resolved user context supplied by the surrounding service.
package authctx

import (
	"context"
)

// AdministratorRole is the role name that unlocks business-rule bypass
const AdministratorRole = "Administrator"

// UserContext describes the calling principal
type UserContext struct {
	UserID   int64             `json:"user_id"`
	Username string            `json:"username"`
	Roles    []string          `json:"roles"`
	Claims   map[string]string `json:"claims,omitempty"`
}

// HasRole reports whether the principal holds the named role
func (u *UserContext) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdministrator reports whether the principal may bypass business rules
func (u *UserContext) IsAdministrator() bool {
	return u.HasRole(AdministratorRole)
}

// key is the type for context keys to prevent collisions
type key string

// userContextKey contains *UserContext
// Set by: the surrounding service before invoking the orchestrator
// Required by: AllowAdminBypass checks, audit-trail rule
const userContextKey key = "user_context"

// WithUser attaches a user context to ctx
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// FromContext retrieves the user context, or nil when none is attached
func FromContext(ctx context.Context) *UserContext {
	if user, ok := ctx.Value(userContextKey).(*UserContext); ok {
		return user
	}
	return nil
}
