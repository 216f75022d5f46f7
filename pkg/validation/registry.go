package validation

import (
	"context"
	"sort"
	"sync"

	"github.com/quorumsec/warden/pkg/entity"
)

// Registry resolves the rules that apply to each entity type. Rules are
// registered explicitly at startup; there is no dynamic reloading, so
// resolved lists are memoized aggressively and only a process restart
// invalidates them.
type Registry struct {
	mu            sync.RWMutex
	entityRules   map[entity.Type][]EntityRule
	businessRules map[entity.Type][]BusinessRule
	crossRules    []CrossEntityRule
	systemRules   []SystemRule
	cache         Cache
}

// NewRegistry creates an empty registry. The cache memoizes sorted
// business-rule lists per type; pass nil to disable memoization.
func NewRegistry(cache Cache) *Registry {
	return &Registry{
		entityRules:   make(map[entity.Type][]EntityRule),
		businessRules: make(map[entity.Type][]BusinessRule),
		cache:         cache,
	}
}

// RegisterEntityRule attaches a structural rule to the given types
func (r *Registry) RegisterEntityRule(rule EntityRule, types ...entity.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, typ := range types {
		r.entityRules[typ] = append(r.entityRules[typ], rule)
	}
}

// RegisterBusinessRule attaches a business rule to the given types
func (r *Registry) RegisterBusinessRule(rule BusinessRule, types ...entity.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, typ := range types {
		r.businessRules[typ] = append(r.businessRules[typ], rule)
	}
}

// RegisterCrossEntityRule attaches a batch-level structural rule
func (r *Registry) RegisterCrossEntityRule(rule CrossEntityRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.crossRules = append(r.crossRules, rule)
}

// RegisterSystemRule attaches a system-wide rule
func (r *Registry) RegisterSystemRule(rule SystemRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systemRules = append(r.systemRules, rule)
}

// EntityRulesFor returns the structural rules for a type
func (r *Registry) EntityRulesFor(typ entity.Type) []EntityRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entityRules[typ]
}

// BusinessRulesFor returns the business rules for a type, sorted by
// priority descending. The sorted list is memoized for RuleListTTL.
func (r *Registry) BusinessRulesFor(ctx context.Context, typ entity.Type) []BusinessRule {
	if r.cache != nil {
		if cached, ok := r.cache.Get(ctx, ruleListKey(typ)); ok {
			if rules, ok := cached.([]BusinessRule); ok {
				return rules
			}
			// A backend that round-trips through serialization cannot
			// hold live rule objects; recompute.
		}
	}

	r.mu.RLock()
	registered := r.businessRules[typ]
	rules := make([]BusinessRule, len(registered))
	copy(rules, registered)
	r.mu.RUnlock()

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority() > rules[j].Priority()
	})

	if r.cache != nil {
		r.cache.Set(ctx, ruleListKey(typ), rules, RuleListTTL)
	}
	return rules
}

// CrossEntityRules returns the batch-level rules
func (r *Registry) CrossEntityRules() []CrossEntityRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.crossRules
}

// SystemRules returns the system-wide rules
func (r *Registry) SystemRules() []SystemRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.systemRules
}
