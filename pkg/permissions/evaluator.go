// Package permissions evaluates whether a principal may act on a
// resource, by walking the permission grants the principal inherits
// through the entity graph.
package permissions

import (
	"context"
	"fmt"

	"github.com/quorumsec/warden/pkg/entity"
)

// Evaluator answers permission queries for the orchestrator's
// IsOperationAllowed and for permission-requirement rules.
type Evaluator interface {
	HasPermission(ctx context.Context, userID int64, resourceURI string, verb entity.HTTPVerb) (bool, error)
}

// maxInheritanceDepth bounds the ancestor walk; the validation engine
// enforces acyclicity separately, but a malformed graph must not hang
// the evaluator.
const maxInheritanceDepth = 50

// GraphEvaluator resolves permissions against an in-memory entity graph.
// A user's effective permissions are its own grants plus the grants of
// every ancestor (roles and groups, transitively). Deny overrides grant.
type GraphEvaluator struct {
	graph *entity.Graph
}

// NewGraphEvaluator creates an evaluator over the given graph
func NewGraphEvaluator(graph *entity.Graph) *GraphEvaluator {
	return &GraphEvaluator{graph: graph}
}

// HasPermission reports whether the user holds an effective grant for
// the verb on the resource URI, with no overriding deny.
func (g *GraphEvaluator) HasPermission(ctx context.Context, userID int64, resourceURI string, verb entity.HTTPVerb) (bool, error) {
	user, err := g.graph.Resolve(userID)
	if err != nil {
		return false, fmt.Errorf("failed to resolve user %d: %w", userID, err)
	}

	granted, denied := false, false

	// Breadth-first over the user's ancestor chain
	queue := []*entity.Entity{user}
	visited := map[int64]bool{user.ID: true}
	depth := 0
	for len(queue) > 0 && depth < maxInheritanceDepth {
		var next []*entity.Entity
		for _, e := range queue {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			for _, p := range e.Permissions {
				if !matches(p, resourceURI, verb) {
					continue
				}
				if p.Deny {
					denied = true
				}
				if p.Grant {
					granted = true
				}
			}
			for _, parent := range g.graph.Parents(e) {
				if !visited[parent.ID] {
					visited[parent.ID] = true
					next = append(next, parent)
				}
			}
		}
		queue = next
		depth++
	}

	return granted && !denied, nil
}

func matches(p entity.Permission, resourceURI string, verb entity.HTTPVerb) bool {
	if p.Verb != entity.VerbAny && p.Verb != verb {
		return false
	}
	return entity.MatchURI(p.URI, resourceURI)
}
