package gateway

import (
	"context"

	"github.com/quorumsec/warden/pkg/entity"
)

// Gateway exposes the persistence queries consumed by system-wide
// invariants and the unique-name business rule. Implementations must be
// safe for concurrent use; bulk validation issues queries from multiple
// goroutines.
type Gateway interface {
	// CountUsersWithRole returns how many users hold the named role
	CountUsersWithRole(ctx context.Context, roleName string) (int, error)

	// RolesByName reports which of the given role names exist
	RolesByName(ctx context.Context, names []string) (map[string]bool, error)

	// ResourcesByURIPrefix returns resources whose URI starts with prefix
	ResourcesByURIPrefix(ctx context.Context, prefix string) ([]*entity.Entity, error)

	// HasAccessControlEntry reports whether any permission grant
	// references the resource
	HasAccessControlEntry(ctx context.Context, resourceID int64) (bool, error)

	// EntityExistsByName reports whether another entity of the given type
	// already uses the name within scope. excludeID is skipped so an
	// entity never collides with itself on update; pass entity.UnsetID
	// for creates. An empty scope means global.
	EntityExistsByName(ctx context.Context, typ entity.Type, name, scope string, excludeID int64) (bool, error)
}
