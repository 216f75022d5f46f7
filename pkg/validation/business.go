package validation

import (
	"context"
	"time"

	"github.com/quorumsec/warden/pkg/authctx"
	"github.com/quorumsec/warden/pkg/entity"
	"github.com/quorumsec/warden/pkg/gateway"
)

// Policy holds the tunable knobs for the built-in business rules
type Policy struct {
	MaxRolesPerUser   int `yaml:"max_roles_per_user" json:"max_roles_per_user"`
	MaxGroupUsers     int `yaml:"max_group_users" json:"max_group_users"`
	MaxGroupSubgroups int `yaml:"max_group_subgroups" json:"max_group_subgroups"`
	MaxGroupMembers   int `yaml:"max_group_members" json:"max_group_members"`

	// ProhibitedPermissionSets lists URI combinations a single role may
	// not hold simultaneously
	ProhibitedPermissionSets [][]string `yaml:"prohibited_permission_sets" json:"prohibited_permission_sets,omitempty"`
	// JustificationRequiredURIs lists permission URIs that demand a
	// justification marker on the operation
	JustificationRequiredURIs []string `yaml:"justification_required_uris" json:"justification_required_uris,omitempty"`
	// LeastPrivilegeAdvisory downgrades the least-privilege rule to
	// Warning severity, which makes it advisory only
	LeastPrivilegeAdvisory bool `yaml:"least_privilege_advisory" json:"least_privilege_advisory"`

	MinGrantDuration   time.Duration `yaml:"min_grant_duration" json:"min_grant_duration"`
	MaxGrantDuration   time.Duration `yaml:"max_grant_duration" json:"max_grant_duration"`
	RequireFutureStart bool          `yaml:"require_future_start" json:"require_future_start"`

	// ConflictingRoles maps a role name to the role names it conflicts
	// with. Conflicts are global; an empty map disables the check.
	ConflictingRoles map[string][]string `yaml:"conflicting_roles" json:"conflicting_roles,omitempty"`

	RestrictedURIPatterns    []string `yaml:"restricted_uri_patterns" json:"restricted_uri_patterns,omitempty"`
	ApprovalRequiredPatterns []string `yaml:"approval_required_patterns" json:"approval_required_patterns,omitempty"`
	BusinessHoursOnly        bool     `yaml:"business_hours_only" json:"business_hours_only"`
	BusinessHoursStart       int      `yaml:"business_hours_start" json:"business_hours_start"`
	BusinessHoursEnd         int      `yaml:"business_hours_end" json:"business_hours_end"`

	AuditedOperations []OperationType `yaml:"audited_operations" json:"audited_operations,omitempty"`
}

// DefaultPolicy returns the stock policy limits
func DefaultPolicy() *Policy {
	return &Policy{
		MaxRolesPerUser:    10,
		MaxGroupUsers:      500,
		MaxGroupSubgroups:  50,
		MaxGroupMembers:    1000,
		MinGrantDuration:   time.Hour,
		MaxGrantDuration:   90 * 24 * time.Hour,
		BusinessHoursStart: 8,
		BusinessHoursEnd:   18,
		AuditedOperations:  []OperationType{OperationDelete},
	}
}

// ruleMeta carries the declarative attributes every business rule shares
type ruleMeta struct {
	name        string
	code        string
	priority    int
	severity    Severity
	allowBypass bool
	skipInBulk  bool
}

func (m ruleMeta) Name() string           { return m.name }
func (m ruleMeta) Code() string           { return m.code }
func (m ruleMeta) Priority() int          { return m.priority }
func (m ruleMeta) Severity() Severity     { return m.severity }
func (m ruleMeta) AllowAdminBypass() bool { return m.allowBypass }
func (m ruleMeta) SkipInBulk() bool       { return m.skipInBulk }

// rolesOf returns the role entities among a user's parents
func rolesOf(graph *entity.Graph, user *entity.Entity) []*entity.Entity {
	var roles []*entity.Entity
	for _, parent := range graph.Parents(user) {
		if parent.Type == entity.TypeRole {
			roles = append(roles, parent)
		}
	}
	return roles
}

// MaxRolesRule flags users holding more roles than the configured ceiling
type MaxRolesRule struct {
	ruleMeta
	limit int
}

// NewMaxRolesRule creates the rule with the given ceiling
func NewMaxRolesRule(limit int) *MaxRolesRule {
	return &MaxRolesRule{
		ruleMeta: ruleMeta{
			name:        "max_roles_per_user",
			code:        "MAX_ROLES_EXCEEDED",
			priority:    100,
			severity:    SeverityError,
			allowBypass: true,
		},
		limit: limit,
	}
}

func (r *MaxRolesRule) Evaluate(ctx context.Context, graph *entity.Graph, opctx *OperationContext) []Violation {
	e := opctx.Entity
	if e.Type != entity.TypeUser {
		return nil
	}
	if count := len(rolesOf(graph, e)); count > r.limit {
		return []Violation{newBusiness(r.name, r.code, r.severity, e.ID,
			"user %q holds %d roles, exceeding the limit of %d", e.Name, count, r.limit)}
	}
	return nil
}

// GroupCapacityRule flags groups exceeding member-count ceilings
type GroupCapacityRule struct {
	ruleMeta
	maxUsers     int
	maxSubgroups int
	maxTotal     int
}

// NewGroupCapacityRule creates the rule with the given ceilings
func NewGroupCapacityRule(maxUsers, maxSubgroups, maxTotal int) *GroupCapacityRule {
	return &GroupCapacityRule{
		ruleMeta: ruleMeta{
			name:        "group_capacity",
			code:        "GROUP_CAPACITY_EXCEEDED",
			priority:    90,
			severity:    SeverityError,
			allowBypass: true,
		},
		maxUsers:     maxUsers,
		maxSubgroups: maxSubgroups,
		maxTotal:     maxTotal,
	}
}

func (r *GroupCapacityRule) Evaluate(ctx context.Context, graph *entity.Graph, opctx *OperationContext) []Violation {
	e := opctx.Entity
	if e.Type != entity.TypeGroup {
		return nil
	}

	var users, subgroups int
	for _, child := range graph.Children(e) {
		switch child.Type {
		case entity.TypeUser:
			users++
		case entity.TypeGroup:
			subgroups++
		}
	}

	var out []Violation
	if users > r.maxUsers {
		out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
			"group %q has %d users, exceeding the limit of %d", e.Name, users, r.maxUsers))
	}
	if subgroups > r.maxSubgroups {
		out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
			"group %q has %d subgroups, exceeding the limit of %d", e.Name, subgroups, r.maxSubgroups))
	}
	if total := users + subgroups; total > r.maxTotal {
		out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
			"group %q has %d members, exceeding the combined limit of %d", e.Name, total, r.maxTotal))
	}
	return out
}

// UniqueNameRule probes the persistence gateway for name collisions
// within the entity's scope. Results memoize for NameExistsTTL. The rule
// skips in bulk mode, where the cross-entity duplicate check covers the
// whole batch instead.
type UniqueNameRule struct {
	ruleMeta
	gateway gateway.Gateway
	cache   Cache
}

// NewUniqueNameRule creates the rule. cache may be nil to disable
// memoization.
func NewUniqueNameRule(gw gateway.Gateway, cache Cache) *UniqueNameRule {
	return &UniqueNameRule{
		ruleMeta: ruleMeta{
			name:       "unique_name",
			code:       "NAME_TAKEN",
			priority:   95,
			severity:   SeverityError,
			skipInBulk: true,
		},
		gateway: gw,
		cache:   cache,
	}
}

func (r *UniqueNameRule) Evaluate(ctx context.Context, graph *entity.Graph, opctx *OperationContext) []Violation {
	e := opctx.Entity
	if e.Name == "" {
		// The structural invariants already cover empty names
		return nil
	}

	key := nameExistsKey(e.Type, e.Name, e.Scope, e.ID)
	exists, cached := false, false
	if r.cache != nil {
		if v, ok := r.cache.Get(ctx, key); ok {
			if b, isBool := v.(bool); isBool {
				exists, cached = b, true
			}
		}
	}

	if !cached {
		var err error
		exists, err = r.gateway.EntityExistsByName(ctx, e.Type, e.Name, e.Scope, e.ID)
		if err != nil {
			return []Violation{newBusiness(r.name, r.code, r.severity, e.ID,
				"name uniqueness check failed for %q: %v", e.Name, err)}
		}
		if r.cache != nil {
			r.cache.Set(ctx, key, exists, NameExistsTTL)
		}
	}

	if exists {
		return []Violation{newBusiness(r.name, r.code, r.severity, e.ID,
			"%s name %q is already in use", e.Type, e.Name)}
	}
	return nil
}

// LeastPrivilegeRule flags roles carrying a prohibited permission
// combination, and permissions that require a justification marker on
// the operation. At Warning severity the rule is advisory only and
// produces no violations.
type LeastPrivilegeRule struct {
	ruleMeta
	prohibitedSets        [][]string
	justificationRequired []string
}

// NewLeastPrivilegeRule creates the rule. advisory downgrades it to
// Warning severity.
func NewLeastPrivilegeRule(prohibitedSets [][]string, justificationRequired []string, advisory bool) *LeastPrivilegeRule {
	severity := SeverityError
	if advisory {
		severity = SeverityWarning
	}
	return &LeastPrivilegeRule{
		ruleMeta: ruleMeta{
			name:        "least_privilege",
			code:        "LEAST_PRIVILEGE",
			priority:    80,
			severity:    severity,
			allowBypass: true,
		},
		prohibitedSets:        prohibitedSets,
		justificationRequired: justificationRequired,
	}
}

func (r *LeastPrivilegeRule) Evaluate(ctx context.Context, graph *entity.Graph, opctx *OperationContext) []Violation {
	if r.severity == SeverityWarning {
		// Advisory mode: nothing to report
		return nil
	}

	e := opctx.Entity
	granted := make(map[string]bool, len(e.Permissions))
	for _, p := range e.Permissions {
		if p.Grant {
			granted[p.URI] = true
		}
	}

	var out []Violation
	for _, set := range r.prohibitedSets {
		all := len(set) > 0
		for _, uri := range set {
			if !granted[uri] {
				all = false
				break
			}
		}
		if all {
			out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
				"entity %q holds a prohibited permission combination %v", e.Name, set))
		}
	}

	for _, uri := range r.justificationRequired {
		if granted[uri] && !opctx.HasMarker(DataKeyJustification) {
			out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
				"permission %q requires a justification for this operation", uri))
		}
	}
	return out
}

// TemporalWindowRule validates time-bounded permission grants
type TemporalWindowRule struct {
	ruleMeta
	minDuration        time.Duration
	maxDuration        time.Duration
	requireFutureStart bool
}

// NewTemporalWindowRule creates the rule with the given bounds
func NewTemporalWindowRule(min, max time.Duration, requireFutureStart bool) *TemporalWindowRule {
	return &TemporalWindowRule{
		ruleMeta: ruleMeta{
			name:        "temporal_window",
			code:        "TEMPORAL_WINDOW",
			priority:    70,
			severity:    SeverityError,
			allowBypass: true,
		},
		minDuration:        min,
		maxDuration:        max,
		requireFutureStart: requireFutureStart,
	}
}

func (r *TemporalWindowRule) Evaluate(ctx context.Context, graph *entity.Graph, opctx *OperationContext) []Violation {
	e := opctx.Entity
	now := opctx.StartedAt

	var out []Violation
	for i, p := range e.Permissions {
		if !p.IsTemporal() {
			continue
		}

		if p.ValidFrom != nil && p.ValidUntil != nil {
			duration := p.ValidUntil.Sub(*p.ValidFrom)
			if duration < r.minDuration {
				out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
					"permission %d grant duration %s is below the minimum %s", i, duration, r.minDuration))
			}
			if r.maxDuration > 0 && duration > r.maxDuration {
				out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
					"permission %d grant duration %s exceeds the maximum %s", i, duration, r.maxDuration))
			}
		}
		if r.requireFutureStart && p.ValidFrom != nil && !p.ValidFrom.After(now) {
			out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
				"permission %d must start in the future", i))
		}
		if p.ValidUntil != nil && p.ValidUntil.Before(now) {
			out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
				"permission %d grant expired at %s", i, p.ValidUntil.Format(time.RFC3339)))
		}
	}
	return out
}

// SegregationOfDutiesRule flags users who already hold a role designated
// as conflicting with one being assigned. Conflicts come from a static,
// globally scoped map configured at startup; an empty map disables the
// check.
type SegregationOfDutiesRule struct {
	ruleMeta
	conflicts map[string][]string
}

// NewSegregationOfDutiesRule creates the rule with the given conflict map
func NewSegregationOfDutiesRule(conflicts map[string][]string) *SegregationOfDutiesRule {
	return &SegregationOfDutiesRule{
		ruleMeta: ruleMeta{
			name:     "segregation_of_duties",
			code:     "SOD_CONFLICT",
			priority: 85,
			severity: SeverityError,
		},
		conflicts: conflicts,
	}
}

func (r *SegregationOfDutiesRule) Evaluate(ctx context.Context, graph *entity.Graph, opctx *OperationContext) []Violation {
	e := opctx.Entity
	if e.Type != entity.TypeUser || len(r.conflicts) == 0 {
		return nil
	}

	held := make(map[string]bool)
	for _, role := range rolesOf(graph, e) {
		held[role.Name] = true
	}

	var out []Violation
	reported := make(map[string]bool)
	for role := range held {
		for _, conflicting := range r.conflicts[role] {
			if !held[conflicting] {
				continue
			}
			// Report each conflicting pair once regardless of direction
			pair := role + "|" + conflicting
			if role > conflicting {
				pair = conflicting + "|" + role
			}
			if reported[pair] {
				continue
			}
			reported[pair] = true
			out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
				"user %q holds conflicting roles %q and %q", e.Name, role, conflicting))
		}
	}
	return out
}

// ResourceAccessRule flags permissions matching restricted URI patterns,
// and patterns that require an approval marker. When configured for
// business hours it only enforces inside the window.
type ResourceAccessRule struct {
	ruleMeta
	restricted        []string
	approvalRequired  []string
	businessHoursOnly bool
	hoursStart        int
	hoursEnd          int
}

// NewResourceAccessRule creates the rule from the policy knobs
func NewResourceAccessRule(p *Policy) *ResourceAccessRule {
	return &ResourceAccessRule{
		ruleMeta: ruleMeta{
			name:        "resource_access_pattern",
			code:        "RESTRICTED_RESOURCE",
			priority:    75,
			severity:    SeverityError,
			allowBypass: true,
		},
		restricted:        p.RestrictedURIPatterns,
		approvalRequired:  p.ApprovalRequiredPatterns,
		businessHoursOnly: p.BusinessHoursOnly,
		hoursStart:        p.BusinessHoursStart,
		hoursEnd:          p.BusinessHoursEnd,
	}
}

func (r *ResourceAccessRule) Evaluate(ctx context.Context, graph *entity.Graph, opctx *OperationContext) []Violation {
	if r.businessHoursOnly {
		hour := opctx.StartedAt.Hour()
		if hour < r.hoursStart || hour >= r.hoursEnd {
			return nil
		}
	}

	e := opctx.Entity
	var out []Violation
	for i, p := range e.Permissions {
		if !p.Grant {
			continue
		}
		for _, pattern := range r.restricted {
			if entity.MatchURI(pattern, p.URI) {
				out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
					"permission %d URI %q matches restricted pattern %q", i, p.URI, pattern))
			}
		}
		for _, pattern := range r.approvalRequired {
			if entity.MatchURI(pattern, p.URI) && !opctx.HasMarker(DataKeyApproval) {
				out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
					"permission %d URI %q requires approval for this operation", i, p.URI))
			}
		}
	}
	return out
}

// AuditTrailRule requires auditable operations to carry a justification
// marker and an attached user context.
type AuditTrailRule struct {
	ruleMeta
	auditedOps map[OperationType]bool
}

// NewAuditTrailRule creates the rule for the given operation types
func NewAuditTrailRule(ops []OperationType) *AuditTrailRule {
	audited := make(map[OperationType]bool, len(ops))
	for _, op := range ops {
		audited[op] = true
	}
	return &AuditTrailRule{
		ruleMeta: ruleMeta{
			name:     "audit_trail",
			code:     "AUDIT_REQUIRED",
			priority: 60,
			severity: SeverityError,
		},
		auditedOps: audited,
	}
}

func (r *AuditTrailRule) Evaluate(ctx context.Context, graph *entity.Graph, opctx *OperationContext) []Violation {
	if !r.auditedOps[opctx.Operation] {
		return nil
	}

	e := opctx.Entity
	var out []Violation
	if authctx.FromContext(ctx) == nil {
		out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
			"auditable %s operation has no attached user context", opctx.Operation))
	}
	if !opctx.HasMarker(DataKeyJustification) {
		out = append(out, newBusiness(r.name, r.code, r.severity, e.ID,
			"auditable %s operation requires a justification", opctx.Operation))
	}
	return out
}

// DataRetentionRule requires a consent marker when personal-data fields
// are populated.
type DataRetentionRule struct {
	ruleMeta
}

// NewDataRetentionRule creates the rule
func NewDataRetentionRule() *DataRetentionRule {
	return &DataRetentionRule{
		ruleMeta: ruleMeta{
			name:     "data_retention",
			code:     "CONSENT_REQUIRED",
			priority: 50,
			severity: SeverityError,
		},
	}
}

func (r *DataRetentionRule) Evaluate(ctx context.Context, graph *entity.Graph, opctx *OperationContext) []Violation {
	e := opctx.Entity
	if e.Type != entity.TypeUser {
		return nil
	}
	if (e.Email != "" || e.FullName != "") && !opctx.HasMarker(DataKeyConsent) {
		return []Violation{newBusiness(r.name, r.code, r.severity, e.ID,
			"user %q carries personal data without a consent marker", e.Name)}
	}
	return nil
}

// NewDefaultRegistry builds a registry with the full built-in rule set:
// structural invariants for every type, the standard business rules
// configured from policy, the cross-entity invariants, and the
// system-wide rules.
func NewDefaultRegistry(cache Cache, policy *Policy, gw gateway.Gateway) *Registry {
	if policy == nil {
		policy = DefaultPolicy()
	}

	r := NewRegistry(cache)

	allTypes := []entity.Type{entity.TypeUser, entity.TypeGroup, entity.TypeRole, entity.TypeResource}

	r.RegisterEntityRule(PermissionInvariants{}, allTypes...)
	r.RegisterEntityRule(GroupInvariants{}, entity.TypeGroup)
	r.RegisterEntityRule(ResourceInvariants{}, entity.TypeResource)

	r.RegisterBusinessRule(NewMaxRolesRule(policy.MaxRolesPerUser), entity.TypeUser)
	r.RegisterBusinessRule(NewGroupCapacityRule(policy.MaxGroupUsers, policy.MaxGroupSubgroups, policy.MaxGroupMembers), entity.TypeGroup)
	r.RegisterBusinessRule(NewUniqueNameRule(gw, cache), allTypes...)
	r.RegisterBusinessRule(NewLeastPrivilegeRule(policy.ProhibitedPermissionSets, policy.JustificationRequiredURIs, policy.LeastPrivilegeAdvisory), entity.TypeRole, entity.TypeGroup, entity.TypeUser)
	r.RegisterBusinessRule(NewTemporalWindowRule(policy.MinGrantDuration, policy.MaxGrantDuration, policy.RequireFutureStart), allTypes...)
	r.RegisterBusinessRule(NewSegregationOfDutiesRule(policy.ConflictingRoles), entity.TypeUser)
	r.RegisterBusinessRule(NewResourceAccessRule(policy), allTypes...)
	r.RegisterBusinessRule(NewAuditTrailRule(policy.AuditedOperations), allTypes...)
	r.RegisterBusinessRule(NewDataRetentionRule(), entity.TypeUser)

	r.RegisterCrossEntityRule(CrossEntityInvariants{})

	r.RegisterSystemRule(AdminExistsRule{})
	r.RegisterSystemRule(DefaultRolesRule{})
	r.RegisterSystemRule(ProtectedResourcesRule{})

	return r
}
