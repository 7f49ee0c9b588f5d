// Package memory contains MemoryProvider implementations. The provider
// contract lives in core; agents depend on core.MemoryProvider and select a
// backend (like the in-memory store below) at wiring time.
package memory
