// Package model defines the provider streaming adapter contract and the
// shared machinery adapters are built from.
//
// Core goals:
//   - Normalize every vendor stream into canonical core.Chunk values
//   - Keep request shapes minimal and transport independent
//   - Centralize lifecycle rules (lazy open, timeout, cancellation, synthesized ends)
//     in NewStream and Emitter so vendor packages only translate events
//   - Facilitate deterministic tests (ScriptedModel)
//
// Providers (anthropic, openai, gemini, ollama) implement Model so higher
// layers (flow, agent) remain decoupled from vendor SDKs.
package model
