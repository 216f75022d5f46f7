package validation

import (
	"fmt"
	"sort"

	"github.com/quorumsec/warden/pkg/entity"
)

// Kind classifies a violation by the layer that produced it
type Kind string

const (
	// KindStructural marks failures of core graph and data-shape
	// invariants. Never bypassable, always blocking.
	KindStructural Kind = "structural"
	// KindBusinessRule marks configurable policy failures
	KindBusinessRule Kind = "business_rule"
	// KindSystemInvariant marks system-wide population failures.
	// Informational: reported, but never blocks an individual save.
	KindSystemInvariant Kind = "system_invariant"
)

// Severity indicates how serious a violation is
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	return []string{"WARNING", "ERROR", "CRITICAL"}[s]
}

// Violation represents a single failed check
type Violation struct {
	Kind     Kind     `json:"kind"`
	Rule     string   `json:"rule"`
	Code     string   `json:"code,omitempty"`
	Severity Severity `json:"severity"`
	EntityID int64    `json:"entity_id"`
	Message  string   `json:"message"`
}

// String renders the violation message, prefixed with the error code when
// one is set, in the form "[CODE] message".
func (v Violation) String() string {
	if v.Code != "" {
		return fmt.Sprintf("[%s] %s", v.Code, v.Message)
	}
	return v.Message
}

// newStructural builds a structural violation. Structural failures are
// always Error-equivalent.
func newStructural(rule, code string, entityID int64, format string, args ...interface{}) Violation {
	return Violation{
		Kind:     KindStructural,
		Rule:     rule,
		Code:     code,
		Severity: SeverityError,
		EntityID: entityID,
		Message:  fmt.Sprintf(format, args...),
	}
}

// newBusiness builds a business-rule violation at the rule's severity
func newBusiness(rule, code string, severity Severity, entityID int64, format string, args ...interface{}) Violation {
	return Violation{
		Kind:     KindBusinessRule,
		Rule:     rule,
		Code:     code,
		Severity: severity,
		EntityID: entityID,
		Message:  fmt.Sprintf(format, args...),
	}
}

// newSystem builds a system-invariant violation
func newSystem(rule, code string, format string, args ...interface{}) Violation {
	return Violation{
		Kind:     KindSystemInvariant,
		Rule:     rule,
		Code:     code,
		Severity: SeverityError,
		EntityID: entity.UnsetID,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Result aggregates the outcome of a validation run
type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations,omitempty"`
}

// NewResult returns an empty, passing result
func NewResult() *Result {
	return &Result{Valid: true}
}

// Add appends violations and updates the pass/fail flag
func (r *Result) Add(violations ...Violation) {
	r.Violations = append(r.Violations, violations...)
	r.Valid = len(r.Violations) == 0
}

// Merge folds another result into this one
func (r *Result) Merge(other *Result) {
	if other == nil {
		return
	}
	r.Add(other.Violations...)
}

// HasCritical reports whether any violation is Critical severity
func (r *Result) HasCritical() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// ByKind returns the violations of the given kind
func (r *Result) ByKind(kind Kind) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Kind == kind {
			out = append(out, v)
		}
	}
	return out
}

// Sort orders violations deterministically: severity descending, then
// rule, then message. Validating the same unchanged entity twice must
// yield identical violation lists.
func (r *Result) Sort() {
	sort.SliceStable(r.Violations, func(i, j int) bool {
		a, b := r.Violations[i], r.Violations[j]
		if a.Severity != b.Severity {
			return a.Severity > b.Severity
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Message < b.Message
	})
}
