// Package entity defines the access-control entity graph: users, groups,
// roles and resources connected by parent/child edges and carrying
// permission grants.
//
// Entities reference each other by identifier rather than by pointer; a
// Graph resolves those identifiers. The validation engine only reads the
// graph; edges are mutated by the persistence layer, and asymmetric edges
// are reported as violations, never repaired here.
package entity
