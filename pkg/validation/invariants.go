package validation

import (
	"context"
	"errors"
	"fmt"

	"github.com/quorumsec/warden/pkg/authctx"
	"github.com/quorumsec/warden/pkg/entity"
	"github.com/quorumsec/warden/pkg/gateway"
)

// Violation codes for the structural invariant set
const (
	CodeInvalidID            = "INVALID_ID"
	CodeEmptyName            = "EMPTY_NAME"
	CodeNameTooLong          = "NAME_TOO_LONG"
	CodeInvalidType          = "INVALID_TYPE"
	CodeSelfReference        = "SELF_REFERENCE"
	CodePermissionConflict   = "PERMISSION_GRANT_CONFLICT"
	CodePermissionUndecided  = "PERMISSION_GRANT_MISSING"
	CodeMissingBackRef       = "MISSING_BACK_REFERENCE"
	CodeMissingForwardRef    = "MISSING_FORWARD_REFERENCE"
	CodeDanglingReference    = "DANGLING_REFERENCE"
	CodeHierarchyCycle       = "HIERARCHY_CYCLE"
	CodeInheritanceCycle     = "INHERITANCE_CYCLE"
	CodeDepthExceeded        = "DEPTH_EXCEEDED"
	CodeEmptyGroup           = "EMPTY_GROUP"
	CodeMalformedURI         = "MALFORMED_URI"
	CodeInvalidVerb          = "INVALID_VERB"
	CodeInvalidScheme        = "INVALID_SCHEME"
	CodeEmptyResourceType    = "EMPTY_RESOURCE_TYPE"
	CodeInactiveResource     = "INACTIVE_RESOURCE"
	CodeEmptyVersion         = "EMPTY_VERSION"
	CodeDuplicateName        = "DUPLICATE_NAME"
	CodeNoAdministrator      = "NO_ADMINISTRATOR"
	CodeMissingDefaultRole   = "MISSING_DEFAULT_ROLE"
	CodeUnprotectedResource  = "UNPROTECTED_SYSTEM_RESOURCE"
)

const entityInvariantsRule = "entity_invariants"

// checkEntityInvariants runs the entity-level invariant set that applies
// to every entity regardless of type or configuration.
func checkEntityInvariants(graph *entity.Graph, e *entity.Entity) []Violation {
	var out []Violation

	// Identifier non-negative once assigned; UnsetID is the only legal
	// placeholder.
	if e.ID < 0 && e.ID != entity.UnsetID {
		out = append(out, newStructural(entityInvariantsRule, CodeInvalidID, e.ID,
			"entity identifier %d is negative", e.ID))
	}

	if e.Name == "" {
		out = append(out, newStructural(entityInvariantsRule, CodeEmptyName, e.ID,
			"entity name must not be empty"))
	} else if len(e.Name) > entity.MaxNameLength {
		out = append(out, newStructural(entityInvariantsRule, CodeNameTooLong, e.ID,
			"entity name %q exceeds %d characters", e.Name[:32]+"...", entity.MaxNameLength))
	}

	if !e.Type.IsValid() {
		out = append(out, newStructural(entityInvariantsRule, CodeInvalidType, e.ID,
			"entity type %q is not defined", e.Type))
	}

	// Self-reference checks only make sense once the identifier is
	// assigned; an unset identifier would spuriously match other
	// unpersisted entities.
	if e.IsPersisted() {
		if e.HasParent(e.ID) {
			out = append(out, newStructural(entityInvariantsRule, CodeSelfReference, e.ID,
				"entity %q is its own parent", e.Name))
		}
		if e.HasChild(e.ID) {
			out = append(out, newStructural(entityInvariantsRule, CodeSelfReference, e.ID,
				"entity %q is its own child", e.Name))
		}
	}

	out = append(out, checkPermissionList(entityInvariantsRule, e)...)
	out = append(out, checkEdgeConsistency(graph, e)...)

	return out
}

// checkPermissionList verifies every permission on the entity
func checkPermissionList(rule string, e *entity.Entity) []Violation {
	var out []Violation
	for i, p := range e.Permissions {
		if p.Grant && p.Deny {
			out = append(out, newStructural(rule, CodePermissionConflict, e.ID,
				"permission %d (%s %s) cannot both grant and deny", i, p.Verb, p.URI))
		}
		if !p.Grant && !p.Deny {
			out = append(out, newStructural(rule, CodePermissionUndecided, e.ID,
				"permission %d (%s %s) must either grant or deny", i, p.Verb, p.URI))
		}
	}
	return out
}

// checkEdgeConsistency verifies that every edge is mirrored: each child
// references this entity as a parent and vice versa. Asymmetry is
// reported, never repaired.
func checkEdgeConsistency(graph *entity.Graph, e *entity.Entity) []Violation {
	var out []Violation

	for _, childID := range e.ChildIDs {
		child, err := graph.Resolve(childID)
		if err != nil {
			out = append(out, newStructural(entityInvariantsRule, CodeDanglingReference, e.ID,
				"entity %q references missing child %d", e.Name, childID))
			continue
		}
		if !child.HasParent(e.ID) {
			out = append(out, newStructural(entityInvariantsRule, CodeMissingBackRef, e.ID,
				"child %q does not reference %q as a parent", child.Name, e.Name))
		}
	}

	for _, parentID := range e.ParentIDs {
		parent, err := graph.Resolve(parentID)
		if err != nil {
			out = append(out, newStructural(entityInvariantsRule, CodeDanglingReference, e.ID,
				"entity %q references missing parent %d", e.Name, parentID))
			continue
		}
		if !parent.HasChild(e.ID) {
			out = append(out, newStructural(entityInvariantsRule, CodeMissingForwardRef, e.ID,
				"parent %q does not reference %q as a child", parent.Name, e.Name))
		}
	}

	return out
}

// GroupInvariants checks group-specific structure: the group hierarchy
// must be acyclic, and under strict mode a group may not be permanently
// empty.
type GroupInvariants struct{}

func (GroupInvariants) Name() string { return "group_invariants" }

func (g GroupInvariants) Check(graph *entity.Graph, e *entity.Entity, cfg *Configuration) []Violation {
	var out []Violation

	checker := NewCycleChecker(graph, cfg.MaxValidationDepth)
	hasCycle, err := checker.HasGroupCycle(e)
	var depthErr *DepthExceededError
	switch {
	case errors.As(err, &depthErr):
		out = append(out, newStructural(g.Name(), CodeDepthExceeded, e.ID,
			"ancestor chain of group %q exceeds maximum validation depth %d", e.Name, depthErr.MaxDepth))
	case err != nil:
		out = append(out, newStructural(g.Name(), CodeHierarchyCycle, e.ID,
			"cycle check failed for group %q: %v", e.Name, err))
	case hasCycle:
		out = append(out, newStructural(g.Name(), CodeHierarchyCycle, e.ID,
			"group %q appears in its own ancestor chain", e.Name))
	}

	if cfg.StrictMode && len(e.ChildIDs) == 0 {
		out = append(out, newStructural(g.Name(), CodeEmptyGroup, e.ID,
			"group %q is permanently empty", e.Name))
	}

	return out
}

// PermissionInvariants checks the shape of permission grants on an
// entity: well-formed URI, defined verb and scheme.
type PermissionInvariants struct{}

func (PermissionInvariants) Name() string { return "permission_invariants" }

func (p PermissionInvariants) Check(graph *entity.Graph, e *entity.Entity, cfg *Configuration) []Violation {
	var out []Violation
	for i, perm := range e.Permissions {
		if !entity.IsWellFormedURI(perm.URI) {
			out = append(out, newStructural(p.Name(), CodeMalformedURI, e.ID,
				"permission %d has malformed URI %q", i, perm.URI))
		}
		if !perm.Verb.IsValid() {
			out = append(out, newStructural(p.Name(), CodeInvalidVerb, e.ID,
				"permission %d has undefined HTTP verb %q", i, perm.Verb))
		}
		if !perm.Scheme.IsValid() {
			out = append(out, newStructural(p.Name(), CodeInvalidScheme, e.ID,
				"permission %d has undefined scheme %q", i, perm.Scheme))
		}
	}
	return out
}

// ResourceInvariants checks resource-specific fields
type ResourceInvariants struct{}

func (ResourceInvariants) Name() string { return "resource_invariants" }

func (r ResourceInvariants) Check(graph *entity.Graph, e *entity.Entity, cfg *Configuration) []Violation {
	var out []Violation

	if !entity.IsWellFormedURI(e.URI) {
		out = append(out, newStructural(r.Name(), CodeMalformedURI, e.ID,
			"resource %q has malformed URI %q", e.Name, e.URI))
	}
	if e.ResourceType == "" {
		out = append(out, newStructural(r.Name(), CodeEmptyResourceType, e.ID,
			"resource %q has no resource type", e.Name))
	}
	if cfg.StrictMode && !e.IsActive {
		out = append(out, newStructural(r.Name(), CodeInactiveResource, e.ID,
			"resource %q is inactive", e.Name))
	}
	if e.Version != nil && *e.Version == "" {
		out = append(out, newStructural(r.Name(), CodeEmptyVersion, e.ID,
			"resource %q has an empty version string", e.Name))
	}

	return out
}

// CrossEntityInvariants run once per batch: duplicate names within a
// concrete type, mirrored edges across the batch, and inheritance cycles
// following all parents rather than group parents only.
type CrossEntityInvariants struct{}

func (CrossEntityInvariants) Name() string { return "cross_entity_invariants" }

func (c CrossEntityInvariants) CheckAll(graph *entity.Graph, entities []*entity.Entity, cfg *Configuration) []Violation {
	var out []Violation

	// Duplicate names within a concrete type. Every entity sharing the
	// name is flagged, not just the later ones.
	type nameKey struct {
		typ  entity.Type
		name string
	}
	byName := make(map[nameKey][]*entity.Entity)
	for _, e := range entities {
		key := nameKey{typ: e.Type, name: e.Name}
		byName[key] = append(byName[key], e)
	}
	for key, group := range byName {
		if len(group) < 2 {
			continue
		}
		for _, e := range group {
			out = append(out, newStructural(c.Name(), CodeDuplicateName, e.ID,
				"%s name %q is used by %d entities in this batch", key.typ, key.name, len(group)))
		}
	}

	checker := NewCycleChecker(graph, cfg.MaxValidationDepth)
	for _, e := range entities {
		out = append(out, checkEdgeConsistency(graph, e)...)

		hasCycle, err := checker.HasInheritanceCycle(e)
		var depthErr *DepthExceededError
		switch {
		case errors.As(err, &depthErr):
			out = append(out, newStructural(c.Name(), CodeDepthExceeded, e.ID,
				"ancestor chain of %q exceeds maximum validation depth %d", e.Name, depthErr.MaxDepth))
		case err != nil:
			out = append(out, newStructural(c.Name(), CodeInheritanceCycle, e.ID,
				"inheritance cycle check failed for %q: %v", e.Name, err))
		case hasCycle:
			out = append(out, newStructural(c.Name(), CodeInheritanceCycle, e.ID,
				"entity %q inherits from itself through its parent chain", e.Name))
		}
	}

	return out
}

// SystemResourcePrefix is the reserved URI prefix for protected system
// resources
const SystemResourcePrefix = "/system/"

// DefaultRoleNames are the roles every deployment must define
var DefaultRoleNames = []string{authctx.AdministratorRole, "User", "Guest"}

// AdminExistsRule requires at least one user holding the Administrator
// role.
type AdminExistsRule struct{}

func (AdminExistsRule) Name() string { return "admin_exists" }

func (r AdminExistsRule) CheckSystem(ctx context.Context, gw gateway.Gateway) ([]Violation, error) {
	count, err := gw.CountUsersWithRole(ctx, authctx.AdministratorRole)
	if err != nil {
		return nil, fmt.Errorf("failed to count administrators: %w", err)
	}
	if count == 0 {
		return []Violation{newSystem(r.Name(), CodeNoAdministrator,
			"no user holds the %s role", authctx.AdministratorRole)}, nil
	}
	return nil, nil
}

// DefaultRolesRule requires the default roles to exist by name
type DefaultRolesRule struct{}

func (DefaultRolesRule) Name() string { return "default_roles" }

func (r DefaultRolesRule) CheckSystem(ctx context.Context, gw gateway.Gateway) ([]Violation, error) {
	found, err := gw.RolesByName(ctx, DefaultRoleNames)
	if err != nil {
		return nil, fmt.Errorf("failed to look up default roles: %w", err)
	}

	var out []Violation
	for _, name := range DefaultRoleNames {
		if !found[name] {
			out = append(out, newSystem(r.Name(), CodeMissingDefaultRole,
				"required default role %q does not exist", name))
		}
	}
	return out, nil
}

// ProtectedResourcesRule requires every resource under the reserved
// prefix to have at least one access-control entry referencing it.
type ProtectedResourcesRule struct {
	Prefix string
}

func (ProtectedResourcesRule) Name() string { return "protected_resources" }

func (r ProtectedResourcesRule) CheckSystem(ctx context.Context, gw gateway.Gateway) ([]Violation, error) {
	prefix := r.Prefix
	if prefix == "" {
		prefix = SystemResourcePrefix
	}

	resources, err := gw.ResourcesByURIPrefix(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources under %q: %w", prefix, err)
	}

	var out []Violation
	for _, res := range resources {
		protected, err := gw.HasAccessControlEntry(ctx, res.ID)
		if err != nil {
			return out, fmt.Errorf("failed to check access-control entries for %q: %w", res.URI, err)
		}
		if !protected {
			out = append(out, newSystem(r.Name(), CodeUnprotectedResource,
				"system resource %q has no access-control entry", res.URI))
		}
	}
	return out, nil
}
