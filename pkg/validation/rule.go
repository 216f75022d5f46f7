package validation

import (
	"context"

	"github.com/quorumsec/warden/pkg/entity"
	"github.com/quorumsec/warden/pkg/gateway"
)

// EntityRule is a structural check against a single entity. Entity rules
// are unconditional: they cannot be bypassed and are never skipped in
// bulk mode.
type EntityRule interface {
	Name() string
	Check(graph *entity.Graph, e *entity.Entity, cfg *Configuration) []Violation
}

// CrossEntityRule is a structural check evaluated once over a whole
// batch, not per entity.
type CrossEntityRule interface {
	Name() string
	CheckAll(graph *entity.Graph, entities []*entity.Entity, cfg *Configuration) []Violation
}

// SystemRule is a check over the whole persisted entity population. It
// queries the persistence gateway, so it takes a context and may fail
// with an I/O error; the orchestrator converts such failures into
// violations rather than retrying.
type SystemRule interface {
	Name() string
	CheckSystem(ctx context.Context, gw gateway.Gateway) ([]Violation, error)
}

// BusinessRule is a configurable, severity-tagged policy check layered
// on top of the structural invariants.
type BusinessRule interface {
	// Name identifies the rule for skip lists, logs and metrics
	Name() string
	// Code is the error-code prefix for failure messages; may be empty
	Code() string
	// Priority orders execution; higher runs first
	Priority() int
	// Severity of violations this rule produces. A Critical violation
	// stops evaluation of the remaining business rules.
	Severity() Severity
	// AllowAdminBypass lets callers holding the Administrator role skip
	// the rule
	AllowAdminBypass() bool
	// SkipInBulk excludes the rule from bulk validation
	SkipInBulk() bool
	// Evaluate checks the operation and returns zero or more violations
	Evaluate(ctx context.Context, graph *entity.Graph, opctx *OperationContext) []Violation
}
