package entity

import (
	"time"
)

// UnsetID marks an entity that has not been persisted yet.
const UnsetID int64 = -1

// MaxNameLength is the maximum allowed entity name length.
const MaxNameLength = 255

// Type discriminates the concrete kind of an entity
type Type string

const (
	TypeUser     Type = "user"
	TypeGroup    Type = "group"
	TypeRole     Type = "role"
	TypeResource Type = "resource"
)

// IsValid reports whether the type is a defined entity type
func (t Type) IsValid() bool {
	switch t {
	case TypeUser, TypeGroup, TypeRole, TypeResource:
		return true
	}
	return false
}

// HTTPVerb represents the HTTP method a permission applies to
type HTTPVerb string

const (
	VerbGet     HTTPVerb = "GET"
	VerbPost    HTTPVerb = "POST"
	VerbPut     HTTPVerb = "PUT"
	VerbPatch   HTTPVerb = "PATCH"
	VerbDelete  HTTPVerb = "DELETE"
	VerbHead    HTTPVerb = "HEAD"
	VerbOptions HTTPVerb = "OPTIONS"
	VerbAny     HTTPVerb = "*"
)

// IsValid reports whether the verb is a defined HTTP verb
func (v HTTPVerb) IsValid() bool {
	switch v {
	case VerbGet, VerbPost, VerbPut, VerbPatch, VerbDelete, VerbHead, VerbOptions, VerbAny:
		return true
	}
	return false
}

// Scheme represents the transport scheme a permission applies to
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeGRPC  Scheme = "grpc"
	SchemeAny   Scheme = "*"
)

// IsValid reports whether the scheme is a defined value
func (s Scheme) IsValid() bool {
	switch s {
	case SchemeHTTP, SchemeHTTPS, SchemeGRPC, SchemeAny:
		return true
	}
	return false
}

// Permission represents an access grant or denial on a URI.
// Exactly one of Grant/Deny must be set; the validation engine enforces
// this as a structural invariant.
type Permission struct {
	URI    string   `json:"uri"`
	Verb   HTTPVerb `json:"verb"`
	Scheme Scheme   `json:"scheme"`
	Grant  bool     `json:"grant"`
	Deny   bool     `json:"deny"`

	// Optional temporal window for time-bounded grants
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// IsTemporal reports whether the permission carries a time window
func (p Permission) IsTemporal() bool {
	return p.ValidFrom != nil || p.ValidUntil != nil
}

// Entity is a node in the access-control graph. Parent and child edges are
// stored as identifier slices and resolved through a Graph.
type Entity struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Type        Type         `json:"type"`
	Scope       string       `json:"scope,omitempty"`
	ParentIDs   []int64      `json:"parent_ids,omitempty"`
	ChildIDs    []int64      `json:"child_ids,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`

	// Resource-specific fields
	URI          string  `json:"uri,omitempty"`
	ResourceType string  `json:"resource_type,omitempty"`
	IsActive     bool    `json:"is_active,omitempty"`
	Version      *string `json:"version,omitempty"`

	// User-specific fields (personal data, gated by the retention rule)
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an unpersisted entity of the given type
func New(name string, typ Type) *Entity {
	now := time.Now()
	return &Entity{
		ID:        UnsetID,
		Name:      name,
		Type:      typ,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsPersisted reports whether the entity has been assigned an identifier
func (e *Entity) IsPersisted() bool {
	return e.ID >= 0
}

// Equal compares entities by identifier. Unpersisted entities are never
// equal to anything, including themselves, since their identifiers carry
// no meaning yet.
func (e *Entity) Equal(other *Entity) bool {
	if e == nil || other == nil {
		return false
	}
	if !e.IsPersisted() || !other.IsPersisted() {
		return false
	}
	return e.ID == other.ID
}

// HasParent reports whether id appears in the entity's parent set
func (e *Entity) HasParent(id int64) bool {
	return containsID(e.ParentIDs, id)
}

// HasChild reports whether id appears in the entity's child set
func (e *Entity) HasChild(id int64) bool {
	return containsID(e.ChildIDs, id)
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
