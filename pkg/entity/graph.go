package entity

import (
	"fmt"
	"sort"
	"sync"
)

// ErrNotFound is returned when a graph lookup misses
var ErrNotFound = fmt.Errorf("entity not found")

// Graph is an identifier-keyed store of entities. It is safe for
// concurrent readers; mutation happens through the persistence layer
// before validation starts.
type Graph struct {
	mu       sync.RWMutex
	entities map[int64]*Entity
	nextID   int64
}

// NewGraph creates an empty graph
func NewGraph() *Graph {
	return &Graph{
		entities: make(map[int64]*Entity),
		nextID:   1,
	}
}

// Add inserts an entity, assigning an identifier if it has none
func (g *Graph) Add(e *Entity) *Entity {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !e.IsPersisted() {
		e.ID = g.nextID
		g.nextID++
	} else if e.ID >= g.nextID {
		g.nextID = e.ID + 1
	}
	g.entities[e.ID] = e
	return e
}

// Resolve returns the entity with the given identifier
func (g *Graph) Resolve(id int64) (*Entity, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return e, nil
}

// Remove deletes an entity and detaches its edges on both sides
func (g *Graph) Remove(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entities[id]
	if !ok {
		return
	}
	for _, pid := range e.ParentIDs {
		if p, ok := g.entities[pid]; ok {
			p.ChildIDs = removeID(p.ChildIDs, id)
		}
	}
	for _, cid := range e.ChildIDs {
		if c, ok := g.entities[cid]; ok {
			c.ParentIDs = removeID(c.ParentIDs, id)
		}
	}
	delete(g.entities, id)
}

// AddEdge creates a parent→child edge, mirrored on both entities
func (g *Graph) AddEdge(parentID, childID int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	parent, ok := g.entities[parentID]
	if !ok {
		return fmt.Errorf("%w: parent id %d", ErrNotFound, parentID)
	}
	child, ok := g.entities[childID]
	if !ok {
		return fmt.Errorf("%w: child id %d", ErrNotFound, childID)
	}
	if parentID == childID {
		return fmt.Errorf("entity %d cannot be its own parent", parentID)
	}

	if !containsID(parent.ChildIDs, childID) {
		parent.ChildIDs = append(parent.ChildIDs, childID)
	}
	if !containsID(child.ParentIDs, parentID) {
		child.ParentIDs = append(child.ParentIDs, parentID)
	}
	return nil
}

// RemoveEdge removes a parent→child edge from both sides
func (g *Graph) RemoveEdge(parentID, childID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if parent, ok := g.entities[parentID]; ok {
		parent.ChildIDs = removeID(parent.ChildIDs, childID)
	}
	if child, ok := g.entities[childID]; ok {
		child.ParentIDs = removeID(child.ParentIDs, parentID)
	}
}

// Parents resolves an entity's parent set. Dangling identifiers are
// skipped; the consistency invariants report them separately.
func (g *Graph) Parents(e *Entity) []*Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Entity, 0, len(e.ParentIDs))
	for _, id := range e.ParentIDs {
		if p, ok := g.entities[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Children resolves an entity's child set
func (g *Graph) Children(e *Entity) []*Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Entity, 0, len(e.ChildIDs))
	for _, id := range e.ChildIDs {
		if c, ok := g.entities[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// All returns every entity in the graph, ordered by identifier
func (g *Graph) All() []*Entity {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Entity, 0, len(g.entities))
	for _, e := range g.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByType returns every entity of the given type, ordered by identifier
func (g *Graph) ByType(typ Type) []*Entity {
	all := g.All()
	out := make([]*Entity, 0, len(all))
	for _, e := range all {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Len returns the number of entities in the graph
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entities)
}

func removeID(ids []int64, id int64) []int64 {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
