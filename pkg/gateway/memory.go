package gateway

import (
	"context"
	"strings"

	"github.com/quorumsec/warden/pkg/entity"
)

// Memory is a Gateway backed by an in-process entity graph. It serves the
// CLI, tests, and single-process deployments that hold the full entity
// population in memory.
type Memory struct {
	graph *entity.Graph
}

// NewMemory creates a gateway over the given graph
func NewMemory(graph *entity.Graph) *Memory {
	return &Memory{graph: graph}
}

// CountUsersWithRole returns how many users hold the named role. A user
// holds a role when a role entity with that name appears among the user's
// parents.
func (m *Memory) CountUsersWithRole(ctx context.Context, roleName string) (int, error) {
	count := 0
	for _, user := range m.graph.ByType(entity.TypeUser) {
		for _, parent := range m.graph.Parents(user) {
			if parent.Type == entity.TypeRole && parent.Name == roleName {
				count++
				break
			}
		}
	}
	return count, ctx.Err()
}

// RolesByName reports which of the given role names exist
func (m *Memory) RolesByName(ctx context.Context, names []string) (map[string]bool, error) {
	found := make(map[string]bool, len(names))
	for _, name := range names {
		found[name] = false
	}
	for _, role := range m.graph.ByType(entity.TypeRole) {
		if _, wanted := found[role.Name]; wanted {
			found[role.Name] = true
		}
	}
	return found, ctx.Err()
}

// ResourcesByURIPrefix returns resources whose URI starts with prefix
func (m *Memory) ResourcesByURIPrefix(ctx context.Context, prefix string) ([]*entity.Entity, error) {
	var out []*entity.Entity
	for _, res := range m.graph.ByType(entity.TypeResource) {
		if strings.HasPrefix(res.URI, prefix) {
			out = append(out, res)
		}
	}
	return out, ctx.Err()
}

// HasAccessControlEntry reports whether any entity carries a permission
// matching the resource's URI
func (m *Memory) HasAccessControlEntry(ctx context.Context, resourceID int64) (bool, error) {
	res, err := m.graph.Resolve(resourceID)
	if err != nil {
		return false, err
	}
	for _, e := range m.graph.All() {
		if e.Type == entity.TypeResource {
			continue
		}
		for _, perm := range e.Permissions {
			if entity.MatchURI(perm.URI, res.URI) {
				return true, nil
			}
		}
	}
	return false, ctx.Err()
}

// EntityExistsByName reports whether another entity of the given type
// already uses the name within scope
func (m *Memory) EntityExistsByName(ctx context.Context, typ entity.Type, name, scope string, excludeID int64) (bool, error) {
	for _, e := range m.graph.ByType(typ) {
		if e.ID == excludeID {
			continue
		}
		if e.Name != name {
			continue
		}
		if scope != "" && e.Scope != scope {
			continue
		}
		return true, nil
	}
	return false, ctx.Err()
}
