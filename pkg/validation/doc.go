// Package validation implements the domain validation and
// invariant-enforcement engine for the access-control entity graph.
//
// The engine runs a fixed pipeline per entity: basic field constraints,
// type-specific domain rules, business rules in priority order, and core
// structural invariants. Bulk validation fans entities out across bounded
// workers and additionally runs cross-entity invariants once over the
// whole batch. System-wide invariants query the persistence gateway and
// run on their own schedule.
//
// Structural invariants can never be bypassed or skipped. Business rules
// carry a severity, may be bypassed by administrator callers, may be
// skipped in bulk mode, and fail the pipeline fast when a Critical rule
// fires. The engine only reads and reports; it never persists anything.
package validation
