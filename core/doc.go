// Package core provides the foundational domain types shared by adapters,
// tools and the agent loop:
//
//   - Message / Part (conversation history in a vendor neutral shape)
//   - Chunk (the canonical streaming unit emitted by every model adapter)
//   - Error / ErrorKind (the failure taxonomy)
//   - TurnLimiter, ToolContext, RunState
//   - MemoryProvider, SessionStore and Tracer boundaries
//
// The package keeps implementation concerns (transports, tool execution,
// orchestration) out of scope.
package core
