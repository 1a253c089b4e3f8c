// Package codec implements the Canonical ABI's two value-passing modes:
// memory mode (store/load a type's byte layout at a linear-memory
// pointer) and flat mode (lower/lift a type to/from a sequence of core
// WebAssembly values). Both modes share one Context carrying the
// engine's Memory, Allocator and trap callback plus the active
// CanonicalOptions.
package codec
