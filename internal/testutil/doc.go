// Package testutil contains helpers shared by tests across packages, mainly
// a fluent builder for scripted chunk streams. They are not intended for
// production usage.
package testutil
