// Package gateway provides the read-only persistence queries the
// validation engine depends on: role population counts, resource lookups
// by URI prefix, access-control entry checks, and scoped name-uniqueness
// probes. The engine never writes through this interface.
package gateway
