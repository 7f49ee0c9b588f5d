// Package config loads agentstream settings with viper: a YAML, JSON or TOML
// file layered over defaults, .env files read with godotenv and environment
// overrides prefixed with AGENTSTREAM_. Watched files are reloaded on change
// and OnChange callbacks receive the old and new settings.
//
// The factory helpers turn settings into a model adapter (NewModel), a
// structured logger (Logger) and agent options (AgentOptions).
package config
