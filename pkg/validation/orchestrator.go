package validation

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/quorumsec/warden/pkg/authctx"
	"github.com/quorumsec/warden/pkg/entity"
	"github.com/quorumsec/warden/pkg/gateway"
	"github.com/quorumsec/warden/pkg/observability"
	"github.com/quorumsec/warden/pkg/permissions"
)

// DefaultBulkConcurrency bounds bulk validation fan-out when no override
// is configured
const DefaultBulkConcurrency = 8

// Orchestrator runs the full validation pipeline. It is safe for
// concurrent use; configuration updates install a merged copy under the
// lock.
type Orchestrator struct {
	mu       sync.RWMutex
	config   *Configuration
	registry *Registry
	graph    *entity.Graph
	gateway  gateway.Gateway
	perms    permissions.Evaluator
	cache    Cache
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer

	bulkConcurrency int
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithConfiguration sets the initial engine configuration
func WithConfiguration(cfg *Configuration) Option {
	return func(o *Orchestrator) { o.config = cfg }
}

// WithPermissionEvaluator sets the collaborator behind IsOperationAllowed
func WithPermissionEvaluator(perms permissions.Evaluator) Option {
	return func(o *Orchestrator) { o.perms = perms }
}

// WithCache sets the validation cache backend
func WithCache(cache Cache) Option {
	return func(o *Orchestrator) { o.cache = cache }
}

// WithLogger sets the engine logger
func WithLogger(logger *observability.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics attaches Prometheus metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// WithBulkConcurrency bounds bulk fan-out
func WithBulkConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.bulkConcurrency = n
		}
	}
}

// NewOrchestrator creates the engine. The graph, gateway and registry
// are required collaborators; missing any of them is a construction
// error, the only kind of fault this engine surfaces as an error rather
// than a violation.
func NewOrchestrator(graph *entity.Graph, gw gateway.Gateway, registry *Registry, opts ...Option) (*Orchestrator, error) {
	if graph == nil {
		return nil, fmt.Errorf("entity graph is required")
	}
	if gw == nil {
		return nil, fmt.Errorf("persistence gateway is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("rule registry is required")
	}

	o := &Orchestrator{
		config:          DefaultConfiguration(),
		registry:        registry,
		graph:           graph,
		gateway:         gw,
		logger:          observability.NewLogger(observability.InfoLevel, nil),
		tracer:          observability.Tracer(),
		bulkConcurrency: DefaultBulkConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.cache == nil && o.config.EnableCaching {
		o.cache = NewMemoryCache(RuleListTTL)
	}
	if o.metrics != nil {
		switch c := o.cache.(type) {
		case *MemoryCache:
			c.WithMetrics(o.metrics)
		case *RedisCache:
			c.WithMetrics(o.metrics)
		}
	}
	return o, nil
}

// Configuration returns the current engine configuration
func (o *Orchestrator) Configuration() *Configuration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.config
}

// GetEntityValidationSettings returns the effective settings for a type
func (o *Orchestrator) GetEntityValidationSettings(typ entity.Type) EntitySettings {
	return o.Configuration().SettingsFor(typ)
}

// UpdateConfiguration installs a merged configuration: scalar fields come
// from the update, per-type overrides merge key by key.
func (o *Orchestrator) UpdateConfiguration(update *Configuration) {
	if update == nil {
		return
	}
	o.mu.Lock()
	o.config = o.config.merge(update)
	o.mu.Unlock()
	o.logger.Info("validation configuration updated")
}

// ValidateEntity runs the full pipeline for a single entity: operation
// checks, type-specific domain rules, business rules in priority
// order, then the core structural invariants. Rule failures come back as
// violations, never as errors.
func (o *Orchestrator) ValidateEntity(ctx context.Context, e *entity.Entity, op OperationType) (*Result, error) {
	opctx := NewOperationContext(op, e)
	return o.validate(ctx, opctx)
}

// ValidateEntityWithContext runs the pipeline with a caller-built
// operation context, letting callers attach justification, approval or
// consent markers.
func (o *Orchestrator) ValidateEntityWithContext(ctx context.Context, opctx *OperationContext) (*Result, error) {
	return o.validate(ctx, opctx)
}

func (o *Orchestrator) validate(ctx context.Context, opctx *OperationContext) (*Result, error) {
	e := opctx.Entity
	if e == nil {
		return nil, fmt.Errorf("entity is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ctx, span := o.tracer.Start(ctx, "validation.ValidateEntity",
		trace.WithAttributes(
			attribute.String("entity.type", string(e.Type)),
			attribute.String("operation", string(opctx.Operation)),
			attribute.Bool("bulk", opctx.IsBulk),
		))
	defer span.End()

	start := time.Now()
	cfg := o.Configuration()
	settings := cfg.SettingsFor(e.Type)
	result := NewResult()

	// Stage 1: basic field-level constraints
	if settings.EnforceConstraints {
		result.Add(o.checkBasicConstraints(e, opctx)...)
	}

	// Stage 2: type-specific domain rules
	for _, rule := range o.registry.EntityRulesFor(e.Type) {
		result.Add(o.runEntityRule(rule, e, cfg)...)
	}

	// Stage 3: business rules, priority descending, critical fail-fast
	if settings.EnforceBusinessRules {
		result.Add(o.runBusinessRules(ctx, opctx, cfg, settings)...)
	}

	// Stage 4: core structural invariants, unconditional
	result.Add(checkEntityInvariants(o.graph, e)...)

	if settings.CascadeValidation && !opctx.IsBulk {
		result.Add(o.cascadeChildren(e, cfg)...)
	}

	result.Sort()
	o.observe(opctx, e, result, time.Since(start))
	return result, nil
}

// checkBasicConstraints covers the operation-level checks the entity
// invariants cannot see. Entity field defects (empty name, unknown type)
// are left to checkEntityInvariants so each defect is reported once.
func (o *Orchestrator) checkBasicConstraints(e *entity.Entity, opctx *OperationContext) []Violation {
	var out []Violation
	if !opctx.Operation.IsValid() {
		out = append(out, newStructural("basic_constraints", CodeInvalidType, e.ID,
			"operation type %q is not defined", opctx.Operation))
	}
	return out
}

// runEntityRule executes a structural rule, converting panics into a
// synthetic violation so one faulty rule never aborts the pipeline.
func (o *Orchestrator) runEntityRule(rule EntityRule, e *entity.Entity, cfg *Configuration) (out []Violation) {
	defer func() {
		if r := recover(); r != nil {
			o.logRuleFault(rule.Name(), e, fmt.Errorf("panic: %v", r))
			out = []Violation{newStructural(rule.Name(), "RULE_FAULT", e.ID,
				"rule %q failed: %v", rule.Name(), r)}
		}
	}()
	return rule.Check(o.graph, e, cfg)
}

// runBusinessRules evaluates the business rules for the entity's type in
// priority order, honoring skip lists, bulk-skip flags and admin bypass.
// A Critical violation stops evaluation of the remaining rules.
func (o *Orchestrator) runBusinessRules(ctx context.Context, opctx *OperationContext, cfg *Configuration, settings EntitySettings) []Violation {
	e := opctx.Entity
	caller := authctx.FromContext(ctx)

	var out []Violation
	for _, rule := range o.registry.BusinessRulesFor(ctx, e.Type) {
		if settings.IsRuleSkipped(rule.Name()) {
			continue
		}
		if opctx.IsBulk && rule.SkipInBulk() {
			continue
		}
		if rule.AllowAdminBypass() && caller.IsAdministrator() {
			o.countRule(rule.Name(), "bypassed")
			continue
		}

		violations := o.runBusinessRule(ctx, rule, opctx)
		if len(violations) == 0 {
			o.countRule(rule.Name(), "pass")
			continue
		}
		o.countRule(rule.Name(), "fail")
		out = append(out, violations...)

		if rule.Severity() == SeverityCritical {
			// Fail fast: nothing after a critical violation runs
			break
		}
	}
	return out
}

// runBusinessRule executes one rule with panic containment
func (o *Orchestrator) runBusinessRule(ctx context.Context, rule BusinessRule, opctx *OperationContext) (out []Violation) {
	defer func() {
		if r := recover(); r != nil {
			o.logRuleFault(rule.Name(), opctx.Entity, fmt.Errorf("panic: %v\n%s", r, debug.Stack()))
			out = []Violation{newBusiness(rule.Name(), rule.Code(), SeverityError, opctx.Entity.ID,
				"rule %q failed: %v", rule.Name(), r)}
		}
	}()
	return rule.Evaluate(ctx, o.graph, opctx)
}

// cascadeChildren runs basic constraints and core invariants over direct
// children when cascade validation is enabled for the type
func (o *Orchestrator) cascadeChildren(e *entity.Entity, cfg *Configuration) []Violation {
	var out []Violation
	for _, child := range o.graph.Children(e) {
		out = append(out, checkEntityInvariants(o.graph, child)...)
		for _, rule := range o.registry.EntityRulesFor(child.Type) {
			out = append(out, o.runEntityRule(rule, child, cfg)...)
		}
	}
	return out
}

// ValidateEntitiesBulk validates every entity concurrently under a
// bounded worker budget, then runs the cross-entity invariants once over
// the whole batch and merges their violations into every entity's
// result, including entities that were individually valid.
func (o *Orchestrator) ValidateEntitiesBulk(ctx context.Context, entities []*entity.Entity, op OperationType) (map[*entity.Entity]*Result, error) {
	ctx, span := o.tracer.Start(ctx, "validation.ValidateEntitiesBulk",
		trace.WithAttributes(attribute.Int("batch.size", len(entities))))
	defer span.End()

	results := make(map[*entity.Entity]*Result, len(entities))
	var resultsMu sync.Mutex

	eg, groupCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.bulkConcurrency)
	for _, e := range entities {
		e := e
		eg.Go(func() error {
			opctx := NewOperationContext(op, e)
			opctx.IsBulk = true
			result, err := o.validate(groupCtx, opctx)
			if err != nil {
				return err
			}
			resultsMu.Lock()
			results[e] = result
			resultsMu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, fmt.Errorf("bulk validation failed: %w", err)
	}

	// Cross-entity invariants run once, after the per-entity join
	cfg := o.Configuration()
	var crossViolations []Violation
	for _, rule := range o.registry.CrossEntityRules() {
		crossViolations = append(crossViolations, o.runCrossRule(rule, entities, cfg)...)
	}
	if len(crossViolations) > 0 {
		for _, result := range results {
			result.Add(crossViolations...)
			result.Sort()
		}
	}

	return results, nil
}

func (o *Orchestrator) runCrossRule(rule CrossEntityRule, entities []*entity.Entity, cfg *Configuration) (out []Violation) {
	defer func() {
		if r := recover(); r != nil {
			o.logRuleFault(rule.Name(), nil, fmt.Errorf("panic: %v", r))
			out = []Violation{newStructural(rule.Name(), "RULE_FAULT", entity.UnsetID,
				"rule %q failed: %v", rule.Name(), r)}
		}
	}()
	return rule.CheckAll(o.graph, entities, cfg)
}

// ValidateBusinessRulesOnly runs only the business-rule stage
func (o *Orchestrator) ValidateBusinessRulesOnly(ctx context.Context, opctx *OperationContext) (*Result, error) {
	if opctx == nil || opctx.Entity == nil {
		return nil, fmt.Errorf("operation context with entity is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := o.Configuration()
	settings := cfg.SettingsFor(opctx.Entity.Type)
	result := NewResult()
	result.Add(o.runBusinessRules(ctx, opctx, cfg, settings)...)
	result.Sort()
	return result, nil
}

// ValidateInvariantsOnly runs only the structural stages
func (o *Orchestrator) ValidateInvariantsOnly(ctx context.Context, e *entity.Entity) (*Result, error) {
	if e == nil {
		return nil, fmt.Errorf("entity is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := o.Configuration()
	result := NewResult()
	for _, rule := range o.registry.EntityRulesFor(e.Type) {
		result.Add(o.runEntityRule(rule, e, cfg)...)
	}
	result.Add(checkEntityInvariants(o.graph, e)...)
	result.Sort()
	return result, nil
}

// ValidateSystemInvariants runs the system-wide rules against the
// persistence gateway. Query failures surface as violations, not
// retries; the result is informational and never blocks an individual
// entity's save.
func (o *Orchestrator) ValidateSystemInvariants(ctx context.Context) (*Result, error) {
	ctx, span := o.tracer.Start(ctx, "validation.ValidateSystemInvariants")
	defer span.End()

	start := time.Now()
	result := NewResult()
	for _, rule := range o.registry.SystemRules() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		violations, err := rule.CheckSystem(ctx, o.gateway)
		result.Add(violations...)
		if err != nil {
			o.logRuleFault(rule.Name(), nil, err)
			result.Add(newSystem(rule.Name(), "RULE_FAULT",
				"system rule %q failed: %v", rule.Name(), err))
		}
	}
	result.Sort()

	if o.metrics != nil {
		outcome := "pass"
		if !result.Valid {
			outcome = "fail"
		}
		o.metrics.SystemSweepsTotal.WithLabelValues(outcome).Inc()
		o.metrics.SystemSweepDuration.Observe(time.Since(start).Seconds())
		o.metrics.SystemViolationsFound.Set(float64(len(result.Violations)))
	}
	return result, nil
}

// IsOperationAllowed combines the caller's permission on the target with
// a business-rule check; both must pass.
func (o *Orchestrator) IsOperationAllowed(ctx context.Context, e *entity.Entity, op OperationType, opctx *OperationContext) (bool, error) {
	if o.perms == nil {
		return false, fmt.Errorf("permission evaluator is not configured")
	}
	caller := authctx.FromContext(ctx)
	if caller == nil {
		return false, nil
	}

	allowed, err := o.perms.HasPermission(ctx, caller.UserID, operationURI(e), operationVerb(op))
	if err != nil {
		return false, fmt.Errorf("permission check failed: %w", err)
	}
	if !allowed {
		return false, nil
	}

	if opctx == nil {
		opctx = NewOperationContext(op, e)
	}
	result, err := o.ValidateBusinessRulesOnly(ctx, opctx)
	if err != nil {
		return false, err
	}
	return result.Valid, nil
}

// CacheStats exposes the validation cache statistics
func (o *Orchestrator) CacheStats(ctx context.Context) *CacheStats {
	if o.cache == nil {
		return &CacheStats{EntriesByType: map[string]int64{}}
	}
	return o.cache.Stats(ctx)
}

// operationURI maps an entity to the resource URI checked for the caller
func operationURI(e *entity.Entity) string {
	if e.Type == entity.TypeResource && e.URI != "" {
		return e.URI
	}
	return fmt.Sprintf("/entities/%s", e.Type)
}

// operationVerb maps an operation type to the HTTP verb checked
func operationVerb(op OperationType) entity.HTTPVerb {
	switch op {
	case OperationCreate:
		return entity.VerbPost
	case OperationUpdate:
		return entity.VerbPut
	case OperationDelete:
		return entity.VerbDelete
	default:
		return entity.VerbGet
	}
}

func (o *Orchestrator) logRuleFault(rule string, e *entity.Entity, err error) {
	logger := o.logger.WithError(err).WithField("rule", rule)
	if e != nil {
		logger = logger.WithFields(map[string]interface{}{
			"entity_id":   e.ID,
			"entity_type": string(e.Type),
		})
	}
	logger.Error("validation rule fault")
	if o.metrics != nil {
		o.metrics.RuleFailuresTotal.WithLabelValues(rule).Inc()
	}
}

func (o *Orchestrator) countRule(rule, outcome string) {
	if o.metrics != nil {
		o.metrics.RuleEvaluationsTotal.WithLabelValues(rule, outcome).Inc()
	}
}

func (o *Orchestrator) observe(opctx *OperationContext, e *entity.Entity, result *Result, elapsed time.Duration) {
	if o.metrics == nil {
		return
	}
	outcome := "pass"
	if !result.Valid {
		outcome = "fail"
	}
	o.metrics.ValidationsTotal.WithLabelValues(string(opctx.Operation), string(e.Type), outcome).Inc()
	o.metrics.ValidationDuration.WithLabelValues(string(opctx.Operation), string(e.Type)).Observe(elapsed.Seconds())
	for _, v := range result.Violations {
		o.metrics.ViolationsTotal.WithLabelValues(string(v.Kind), v.Severity.String()).Inc()
	}
}
