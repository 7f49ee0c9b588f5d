// Package agentstream provides a high-level façade wiring configuration,
// a model adapter, structured logging, memory and session stores into a
// ready-to-use agent. Most applications interact with this package by:
//  1. Creating an agent via New(), optionally pointing it at a config file
//  2. Sending input with Agent.Send and subscribing to the returned progress
//  3. Waiting for the result or cancelling the run
//
// Unset stores default to in-memory implementations. Settings are read with
// the config package: file, .env files and AGENTSTREAM_* environment
// variables.
package agentstream

import (
	"github.com/hupe1980/agentstream/agent"
	"github.com/hupe1980/agentstream/config"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/memory"
	"github.com/hupe1980/agentstream/session"
	"github.com/hupe1980/agentstream/tool"
)

// Options configures New.
type Options struct {
	// ConfigPath is an optional YAML, JSON or TOML settings file.
	ConfigPath string
	// Config adjusts how settings are loaded, e.g. overrides from flags.
	Config []func(o *config.Options)

	Tools []tool.Tool

	// Stores (default to in-memory implementations if not provided)
	Memory    core.MemoryProvider
	Sessions  core.SessionStore
	SessionID string

	// Logger replaces the logger built from the log settings.
	Logger *logging.StructuredLogger

	// Agent options are applied after the settings.
	Agent []func(o *agent.Options)
}

// New loads settings, builds the configured model and returns an agent
// named name.
func New(name string, optFns ...func(o *Options)) (*agent.Agent, error) {
	opts := Options{
		Memory:   memory.NewInMemoryStore(),
		Sessions: session.NewInMemoryStore(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	cfg, err := config.Load(opts.ConfigPath, opts.Config...)
	if err != nil {
		return nil, err
	}

	m, err := cfg.NewModel()
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = cfg.Logger()
	}

	agentOpts := []func(o *agent.Options){
		cfg.AgentOptions(logger.WithComponent("agent")),
		func(o *agent.Options) {
			o.Tools = opts.Tools
			o.Memory = opts.Memory
			o.Sessions = opts.Sessions
			o.SessionID = opts.SessionID
		},
	}
	return agent.New(name, m, append(agentOpts, opts.Agent...)...)
}
