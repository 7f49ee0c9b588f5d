// Package session provides SessionStore implementations persisting agent
// conversations between runs.
package session
