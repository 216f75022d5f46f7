package validation

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumsec/warden/pkg/authctx"
	"github.com/quorumsec/warden/pkg/entity"
	"github.com/quorumsec/warden/pkg/gateway"
	"github.com/quorumsec/warden/pkg/permissions"
)

// stubRule is a configurable business rule for pipeline tests
type stubRule struct {
	ruleMeta
	calls    atomic.Int64
	violates bool
	panics   bool
}

func (r *stubRule) Evaluate(ctx context.Context, graph *entity.Graph, opctx *OperationContext) []Violation {
	r.calls.Add(1)
	if r.panics {
		panic("stub rule exploded")
	}
	if r.violates {
		return []Violation{newBusiness(r.name, r.code, r.severity, opctx.Entity.ID, "stub violation from %s", r.name)}
	}
	return nil
}

func newStubRule(name string, priority int, severity Severity) *stubRule {
	return &stubRule{ruleMeta: ruleMeta{
		name:     name,
		code:     "STUB",
		priority: priority,
		severity: severity,
	}}
}

func newOrchestratorForTest(t *testing.T, g *entity.Graph, registry *Registry, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(g, gateway.NewMemory(g), registry, opts...)
	require.NoError(t, err)
	return o
}

func TestNewOrchestrator_RequiredCollaborators(t *testing.T) {
	g := entity.NewGraph()
	gw := gateway.NewMemory(g)
	registry := NewRegistry(nil)

	_, err := NewOrchestrator(nil, gw, registry)
	assert.ErrorContains(t, err, "graph")

	_, err = NewOrchestrator(g, nil, registry)
	assert.ErrorContains(t, err, "gateway")

	_, err = NewOrchestrator(g, gw, nil)
	assert.ErrorContains(t, err, "registry")

	o, err := NewOrchestrator(g, gw, registry)
	require.NoError(t, err)
	assert.NotNil(t, o)
}

func TestValidateEntity_ValidUser(t *testing.T) {
	g := entity.NewGraph()
	u := entity.New("alice", entity.TypeUser)
	g.Add(u)

	o := newOrchestratorForTest(t, g, NewDefaultRegistry(nil, nil, gateway.NewMemory(g)))
	result, err := o.ValidateEntity(context.Background(), u, OperationCreate)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Violations)
}

func TestValidateEntity_StructuralFailure(t *testing.T) {
	g := entity.NewGraph()
	anon := entity.New("", entity.TypeUser)
	g.Add(anon)

	o := newOrchestratorForTest(t, g, NewDefaultRegistry(nil, nil, gateway.NewMemory(g)))
	result, err := o.ValidateEntity(context.Background(), anon, OperationCreate)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.ByKind(KindStructural))
}

// TestValidateEntity_FieldDefectsReportedOnce proves that one field
// defect yields exactly one violation even though both the constraint
// stage and the invariant stage inspect the entity.
func TestValidateEntity_FieldDefectsReportedOnce(t *testing.T) {
	g := entity.NewGraph()
	broken := entity.New("", entity.Type("alien"))
	g.Add(broken)

	o := newOrchestratorForTest(t, g, NewDefaultRegistry(nil, nil, gateway.NewMemory(g)))
	result, err := o.ValidateEntity(context.Background(), broken, OperationCreate)
	require.NoError(t, err)

	counts := make(map[string]int)
	for _, v := range result.Violations {
		counts[v.Code]++
	}
	assert.Equal(t, 1, counts[CodeEmptyName])
	assert.Equal(t, 1, counts[CodeInvalidType])
}

func TestValidateEntity_NilEntity(t *testing.T) {
	g := entity.NewGraph()
	o := newOrchestratorForTest(t, g, NewRegistry(nil))

	_, err := o.ValidateEntityWithContext(context.Background(), &OperationContext{Operation: OperationCreate})
	assert.Error(t, err)
}

// TestValidateEntity_CriticalShortCircuit proves that a Critical
// violation from a higher-priority rule stops evaluation before
// lower-priority rules run at all.
func TestValidateEntity_CriticalShortCircuit(t *testing.T) {
	g := entity.NewGraph()
	u := entity.New("alice", entity.TypeUser)
	g.Add(u)

	critical := newStubRule("critical_gate", 10, SeverityCritical)
	critical.violates = true
	downstream := newStubRule("downstream", 5, SeverityError)
	downstream.violates = true

	registry := NewRegistry(nil)
	registry.RegisterBusinessRule(critical, entity.TypeUser)
	registry.RegisterBusinessRule(downstream, entity.TypeUser)

	o := newOrchestratorForTest(t, g, registry)
	result, err := o.ValidateEntity(context.Background(), u, OperationCreate)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.True(t, result.HasCritical())
	assert.Equal(t, int64(1), critical.calls.Load())
	assert.Equal(t, int64(0), downstream.calls.Load(), "rules after a critical violation must not run")

	business := result.ByKind(KindBusinessRule)
	require.Len(t, business, 1)
	assert.Equal(t, "critical_gate", business[0].Rule)
}

func TestValidateEntity_NonCriticalRulesAllRun(t *testing.T) {
	g := entity.NewGraph()
	u := entity.New("alice", entity.TypeUser)
	g.Add(u)

	first := newStubRule("first", 10, SeverityError)
	first.violates = true
	second := newStubRule("second", 5, SeverityError)
	second.violates = true

	registry := NewRegistry(nil)
	registry.RegisterBusinessRule(first, entity.TypeUser)
	registry.RegisterBusinessRule(second, entity.TypeUser)

	o := newOrchestratorForTest(t, g, registry)
	result, err := o.ValidateEntity(context.Background(), u, OperationCreate)
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.calls.Load())
	assert.Equal(t, int64(1), second.calls.Load())
	assert.Len(t, result.ByKind(KindBusinessRule), 2)
}

func TestValidateEntity_AdminBypass(t *testing.T) {
	g := entity.NewGraph()
	u := entity.New("alice", entity.TypeUser)
	g.Add(u)

	bypassable := newStubRule("bypassable", 10, SeverityError)
	bypassable.violates = true
	bypassable.allowBypass = true
	mandatory := newStubRule("mandatory", 5, SeverityError)
	mandatory.violates = true

	registry := NewRegistry(nil)
	registry.RegisterBusinessRule(bypassable, entity.TypeUser)
	registry.RegisterBusinessRule(mandatory, entity.TypeUser)

	o := newOrchestratorForTest(t, g, registry)

	t.Run("administrator skips bypassable rules only", func(t *testing.T) {
		ctx := withCaller(context.Background(), "root", authctx.AdministratorRole)
		result, err := o.ValidateEntity(ctx, u, OperationCreate)
		require.NoError(t, err)

		assert.Equal(t, int64(0), bypassable.calls.Load())
		assert.Equal(t, int64(1), mandatory.calls.Load())
		assert.Len(t, result.ByKind(KindBusinessRule), 1)
	})

	t.Run("ordinary caller gets both", func(t *testing.T) {
		ctx := withCaller(context.Background(), "carol", "User")
		result, err := o.ValidateEntity(ctx, u, OperationCreate)
		require.NoError(t, err)
		assert.Len(t, result.ByKind(KindBusinessRule), 2)
	})

	t.Run("anonymous caller gets both", func(t *testing.T) {
		result, err := o.ValidateEntity(context.Background(), u, OperationCreate)
		require.NoError(t, err)
		assert.Len(t, result.ByKind(KindBusinessRule), 2)
	})
}

func TestValidateEntity_SkippedRules(t *testing.T) {
	g := entity.NewGraph()
	u := entity.New("alice", entity.TypeUser)
	g.Add(u)

	skipped := newStubRule("unwanted", 10, SeverityError)
	skipped.violates = true

	registry := NewRegistry(nil)
	registry.RegisterBusinessRule(skipped, entity.TypeUser)

	cfg := DefaultConfiguration()
	cfg.EntitySettings[entity.TypeUser] = EntitySettings{
		EnforceBusinessRules: true,
		EnforceConstraints:   true,
		SkippedRules:         []string{"unwanted"},
	}

	o := newOrchestratorForTest(t, g, registry, WithConfiguration(cfg))
	result, err := o.ValidateEntity(context.Background(), u, OperationCreate)
	require.NoError(t, err)

	assert.Equal(t, int64(0), skipped.calls.Load())
	assert.True(t, result.Valid)
}

func TestValidateEntity_BusinessRulesDisabled(t *testing.T) {
	g := entity.NewGraph()
	u := entity.New("alice", entity.TypeUser)
	g.Add(u)

	rule := newStubRule("any", 10, SeverityError)
	rule.violates = true

	registry := NewRegistry(nil)
	registry.RegisterBusinessRule(rule, entity.TypeUser)

	cfg := DefaultConfiguration()
	cfg.EntitySettings[entity.TypeUser] = EntitySettings{
		EnforceBusinessRules: false,
		EnforceConstraints:   true,
	}

	o := newOrchestratorForTest(t, g, registry, WithConfiguration(cfg))
	result, err := o.ValidateEntity(context.Background(), u, OperationCreate)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(0), rule.calls.Load())
}

// TestValidateEntity_RulePanicBecomesViolation proves the pipeline
// contains faulty rules instead of crashing.
func TestValidateEntity_RulePanicBecomesViolation(t *testing.T) {
	g := entity.NewGraph()
	u := entity.New("alice", entity.TypeUser)
	g.Add(u)

	faulty := newStubRule("faulty", 10, SeverityError)
	faulty.panics = true
	after := newStubRule("after", 5, SeverityError)

	registry := NewRegistry(nil)
	registry.RegisterBusinessRule(faulty, entity.TypeUser)
	registry.RegisterBusinessRule(after, entity.TypeUser)

	o := newOrchestratorForTest(t, g, registry)
	result, err := o.ValidateEntity(context.Background(), u, OperationCreate)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	require.Len(t, result.ByKind(KindBusinessRule), 1)
	assert.Equal(t, "faulty", result.ByKind(KindBusinessRule)[0].Rule)
	assert.Equal(t, int64(1), after.calls.Load(), "a faulty rule must not block later rules")
}

// TestValidateEntity_Idempotent: validating the same unchanged entity
// twice yields identical results.
func TestValidateEntity_Idempotent(t *testing.T) {
	g := entity.NewGraph()
	e := entity.New("", entity.TypeGroup)
	e.Permissions = []entity.Permission{
		{URI: "nope", Verb: entity.HTTPVerb("FETCH"), Scheme: entity.SchemeHTTPS, Grant: true, Deny: true},
	}
	g.Add(e)

	o := newOrchestratorForTest(t, g, NewDefaultRegistry(nil, nil, gateway.NewMemory(g)))

	first, err := o.ValidateEntity(context.Background(), e, OperationUpdate)
	require.NoError(t, err)
	second, err := o.ValidateEntity(context.Background(), e, OperationUpdate)
	require.NoError(t, err)

	assert.False(t, first.Valid)
	assert.Equal(t, first.Violations, second.Violations)
}

func TestValidateEntitiesBulk(t *testing.T) {
	g := entity.NewGraph()
	a := entity.New("shared", entity.TypeRole)
	b := entity.New("shared", entity.TypeRole)
	c := entity.New("solo", entity.TypeRole)
	g.Add(a)
	g.Add(b)
	g.Add(c)

	registry := NewDefaultRegistry(nil, nil, gateway.NewMemory(g))
	o := newOrchestratorForTest(t, g, registry)

	results, err := o.ValidateEntitiesBulk(context.Background(), []*entity.Entity{a, b, c}, OperationCreate)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Batch-level duplicate detection flags every sharer, and its
	// violations land in every result, including the individually
	// valid entity.
	for _, e := range []*entity.Entity{a, b, c} {
		result := results[e]
		require.NotNil(t, result)
		assert.Contains(t, codesOf(result.Violations), CodeDuplicateName)
		assert.False(t, result.Valid)
	}
}

// TestValidateEntity_SingleSkipsBatchChecks: the batch duplicate check
// belongs to bulk validation; a single validation of one sharer relies
// on the uniqueness business rule instead.
func TestValidateEntity_SingleSkipsBatchChecks(t *testing.T) {
	g := entity.NewGraph()
	a := entity.New("shared", entity.TypeRole)
	b := entity.New("shared", entity.TypeRole)
	g.Add(a)
	g.Add(b)

	o := newOrchestratorForTest(t, g, NewDefaultRegistry(nil, nil, gateway.NewMemory(g)))
	result, err := o.ValidateEntity(context.Background(), a, OperationUpdate)
	require.NoError(t, err)

	codes := codesOf(result.Violations)
	assert.NotContains(t, codes, CodeDuplicateName)
	assert.Contains(t, codes, "NAME_TAKEN")
}

func TestValidateEntitiesBulk_SkipsBulkExemptRules(t *testing.T) {
	g := entity.NewGraph()
	u := entity.New("alice", entity.TypeUser)
	g.Add(u)

	exempt := newStubRule("bulk_exempt", 10, SeverityError)
	exempt.violates = true
	exempt.skipInBulk = true

	registry := NewRegistry(nil)
	registry.RegisterBusinessRule(exempt, entity.TypeUser)

	o := newOrchestratorForTest(t, g, registry)
	results, err := o.ValidateEntitiesBulk(context.Background(), []*entity.Entity{u}, OperationCreate)
	require.NoError(t, err)

	assert.Equal(t, int64(0), exempt.calls.Load())
	assert.True(t, results[u].Valid)
}

func TestValidateEntitiesBulk_Concurrency(t *testing.T) {
	g := entity.NewGraph()
	var batch []*entity.Entity
	for i := 0; i < 64; i++ {
		u := entity.New("user-"+string(rune('a'+i%26))+string(rune('0'+i/26)), entity.TypeUser)
		g.Add(u)
		batch = append(batch, u)
	}

	o := newOrchestratorForTest(t, g, NewDefaultRegistry(nil, nil, gateway.NewMemory(g)),
		WithBulkConcurrency(4))
	results, err := o.ValidateEntitiesBulk(context.Background(), batch, OperationCreate)
	require.NoError(t, err)
	assert.Len(t, results, len(batch))
	for _, result := range results {
		assert.True(t, result.Valid)
	}
}

func TestValidateBusinessRulesOnly(t *testing.T) {
	g := entity.NewGraph()
	e := entity.New("", entity.TypeUser) // structurally broken
	g.Add(e)

	rule := newStubRule("only_business", 10, SeverityError)
	rule.violates = true

	registry := NewRegistry(nil)
	registry.RegisterBusinessRule(rule, entity.TypeUser)

	o := newOrchestratorForTest(t, g, registry)
	result, err := o.ValidateBusinessRulesOnly(context.Background(), NewOperationContext(OperationCreate, e))
	require.NoError(t, err)

	// Only the business stage ran: no structural violation for the
	// empty name.
	assert.Empty(t, result.ByKind(KindStructural))
	assert.Len(t, result.ByKind(KindBusinessRule), 1)
}

func TestValidateInvariantsOnly(t *testing.T) {
	g := entity.NewGraph()
	e := entity.New("", entity.TypeUser)
	g.Add(e)

	rule := newStubRule("should_not_run", 10, SeverityError)
	rule.violates = true

	registry := NewRegistry(nil)
	registry.RegisterBusinessRule(rule, entity.TypeUser)

	o := newOrchestratorForTest(t, g, registry)
	result, err := o.ValidateInvariantsOnly(context.Background(), e)
	require.NoError(t, err)

	assert.Equal(t, int64(0), rule.calls.Load())
	assert.NotEmpty(t, result.ByKind(KindStructural))
	assert.Empty(t, result.ByKind(KindBusinessRule))
}

func TestValidateSystemInvariants(t *testing.T) {
	alice := entity.New("alice", entity.TypeUser)
	admin := entity.New("Administrator", entity.TypeRole)
	userRole := entity.New("User", entity.TypeRole)
	guest := entity.New("Guest", entity.TypeRole)
	g := graphOf(alice, admin, userRole, guest)
	link(t, g, admin, alice)

	o := newOrchestratorForTest(t, g, NewDefaultRegistry(nil, nil, gateway.NewMemory(g)))
	result, err := o.ValidateSystemInvariants(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

// failingGateway returns an error from every query
type failingGateway struct{}

func (failingGateway) CountUsersWithRole(ctx context.Context, roleName string) (int, error) {
	return 0, assert.AnError
}
func (failingGateway) RolesByName(ctx context.Context, names []string) (map[string]bool, error) {
	return nil, assert.AnError
}
func (failingGateway) ResourcesByURIPrefix(ctx context.Context, prefix string) ([]*entity.Entity, error) {
	return nil, assert.AnError
}
func (failingGateway) HasAccessControlEntry(ctx context.Context, resourceID int64) (bool, error) {
	return false, assert.AnError
}
func (failingGateway) EntityExistsByName(ctx context.Context, typ entity.Type, name, scope string, excludeID int64) (bool, error) {
	return false, assert.AnError
}

func TestValidateSystemInvariants_GatewayFailureBecomesViolation(t *testing.T) {
	g := entity.NewGraph()
	registry := NewRegistry(nil)
	registry.RegisterSystemRule(AdminExistsRule{})

	o, err := NewOrchestrator(g, failingGateway{}, registry)
	require.NoError(t, err)

	result, err := o.ValidateSystemInvariants(context.Background())
	require.NoError(t, err, "query failures surface as violations, not errors")
	assert.False(t, result.Valid)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, "RULE_FAULT", result.Violations[0].Code)
	assert.Equal(t, KindSystemInvariant, result.Violations[0].Kind)
}

func TestIsOperationAllowed(t *testing.T) {
	g := entity.NewGraph()
	caller := entity.New("carol", entity.TypeUser)
	caller.Permissions = []entity.Permission{
		{URI: "/entities/user", Verb: entity.VerbPost, Scheme: entity.SchemeHTTPS, Grant: true},
	}
	g.Add(caller)
	target := entity.New("newbie", entity.TypeUser)
	g.Add(target)

	registry := NewRegistry(nil)
	o := newOrchestratorForTest(t, g, registry,
		WithPermissionEvaluator(permissions.NewGraphEvaluator(g)))

	ctx := authctx.WithUser(context.Background(), &authctx.UserContext{UserID: caller.ID, Username: "carol"})

	t.Run("granted create", func(t *testing.T) {
		allowed, err := o.IsOperationAllowed(ctx, target, OperationCreate, nil)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("unpermitted delete", func(t *testing.T) {
		allowed, err := o.IsOperationAllowed(ctx, target, OperationDelete, nil)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("anonymous caller denied", func(t *testing.T) {
		allowed, err := o.IsOperationAllowed(context.Background(), target, OperationCreate, nil)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("business rule veto", func(t *testing.T) {
		veto := newStubRule("veto", 10, SeverityError)
		veto.violates = true
		registry.RegisterBusinessRule(veto, entity.TypeUser)

		allowed, err := o.IsOperationAllowed(ctx, target, OperationCreate, nil)
		require.NoError(t, err)
		assert.False(t, allowed)
	})

	t.Run("no evaluator configured", func(t *testing.T) {
		bare := newOrchestratorForTest(t, g, NewRegistry(nil))
		_, err := bare.IsOperationAllowed(ctx, target, OperationCreate, nil)
		assert.Error(t, err)
	})
}

func TestUpdateConfiguration_Merge(t *testing.T) {
	g := entity.NewGraph()
	cfg := DefaultConfiguration()
	cfg.EntitySettings[entity.TypeGroup] = EntitySettings{CascadeValidation: true, EnforceConstraints: true}

	o := newOrchestratorForTest(t, g, NewRegistry(nil), WithConfiguration(cfg))

	update := DefaultConfiguration()
	update.StrictMode = true
	update.MaxValidationDepth = 7
	update.EntitySettings[entity.TypeUser] = EntitySettings{EnforceBusinessRules: false}
	o.UpdateConfiguration(update)

	merged := o.Configuration()
	assert.True(t, merged.StrictMode)
	assert.Equal(t, 7, merged.MaxValidationDepth)

	// Per-type overrides merge key by key: group settings survive.
	assert.True(t, merged.SettingsFor(entity.TypeGroup).CascadeValidation)
	assert.False(t, merged.SettingsFor(entity.TypeUser).EnforceBusinessRules)

	o.UpdateConfiguration(nil)
	assert.Same(t, merged, o.Configuration())
}

func TestValidateEntity_CascadeChildren(t *testing.T) {
	g := entity.NewGraph()
	parent := group("parent")
	broken := entity.New("", entity.TypeUser)
	g.Add(parent)
	g.Add(broken)
	link(t, g, parent, broken)

	cfg := DefaultConfiguration()
	cfg.EntitySettings[entity.TypeGroup] = EntitySettings{
		CascadeValidation:  true,
		EnforceConstraints: true,
	}

	o := newOrchestratorForTest(t, g, NewRegistry(nil), WithConfiguration(cfg))
	result, err := o.ValidateEntity(context.Background(), parent, OperationUpdate)
	require.NoError(t, err)

	// The child's empty name surfaces in the parent's result.
	assert.Contains(t, codesOf(result.Violations), CodeEmptyName)
}

func TestCacheStats_NoCache(t *testing.T) {
	g := entity.NewGraph()
	cfg := DefaultConfiguration()
	cfg.EnableCaching = false

	o := newOrchestratorForTest(t, g, NewRegistry(nil), WithConfiguration(cfg))
	stats := o.CacheStats(context.Background())
	require.NotNil(t, stats)
	assert.Zero(t, stats.Entries)
}
