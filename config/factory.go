package config

import (
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/agentstream/agent"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/flow"
	"github.com/hupe1980/agentstream/logging"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/model/anthropic"
	"github.com/hupe1980/agentstream/model/gemini"
	"github.com/hupe1980/agentstream/model/ollama"
	"github.com/hupe1980/agentstream/model/openai"
)

// Provider names accepted in Settings.Provider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
)

// apiKeyEnv names the vendor variable consulted when no api_key is set.
var apiKeyEnv = map[string][]string{
	ProviderAnthropic: {"ANTHROPIC_API_KEY"},
	ProviderOpenAI:    {"OPENAI_API_KEY"},
	ProviderGemini:    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// NewModel builds the configured model adapter. It fails with
// PROVIDER_NOT_CONFIGURED when no provider is selected, the provider is
// unknown or its credentials are missing.
func (c *Config) NewModel() (model.Model, error) {
	s := c.Settings()
	if s.Provider == "" {
		return nil, core.NewError(core.ErrProviderNotConfigured, "no provider configured; set provider or %s_PROVIDER", DefaultEnvPrefix)
	}

	apiKey := s.APIKey
	if envs, ok := apiKeyEnv[s.Provider]; ok && apiKey == "" {
		for _, name := range envs {
			if apiKey = os.Getenv(name); apiKey != "" {
				break
			}
		}
		if apiKey == "" {
			return nil, core.NewError(core.ErrProviderNotConfigured, "provider %s requires an api key (%s)", s.Provider, envs[0])
		}
	}
	gen := s.GenerateOptions()

	switch s.Provider {
	case ProviderAnthropic:
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = apiKey
			o.BaseURL = s.BaseURL
			o.ThinkingBudget = s.ThinkingBudget
			if s.Model != "" {
				o.Model = anthropicsdk.Model(s.Model)
			}
			if gen.Temperature != nil {
				o.Temperature = *gen.Temperature
			}
			if gen.MaxTokens > 0 {
				o.MaxTokens = int64(gen.MaxTokens)
			}
		}), nil
	case ProviderOpenAI:
		return openai.NewModel(func(o *openai.Options) {
			o.APIKey = apiKey
			o.BaseURL = s.BaseURL
			if s.Model != "" {
				o.Model = s.Model
			}
			if gen.Temperature != nil {
				o.Temperature = *gen.Temperature
			}
			if gen.MaxTokens > 0 {
				o.MaxCompletionTokens = int64(gen.MaxTokens)
			}
		}), nil
	case ProviderGemini:
		m, err := gemini.NewModel(func(o *gemini.Options) {
			o.APIKey = apiKey
			o.Defaults = gen
			if s.BaseURL != "" {
				o.BaseURL = s.BaseURL
			}
			if s.Model != "" {
				o.Model = s.Model
			}
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	case ProviderOllama:
		m, err := ollama.NewModel(func(o *ollama.Options) {
			o.Think = s.Think
			o.Defaults = gen
			if s.BaseURL != "" {
				o.BaseURL = s.BaseURL
			}
			if s.Model != "" {
				o.Model = s.Model
			}
		})
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, core.NewError(core.ErrProviderNotConfigured, "unknown provider %q", s.Provider)
	}
}

// GenerateOptions converts the generation settings.
func (s Settings) GenerateOptions() model.GenerateOptions {
	g := clone(s).Generate
	return model.GenerateOptions{
		Temperature: g.Temperature,
		TopP:        g.TopP,
		MaxTokens:   g.MaxTokens,
		Stop:        g.Stop,
	}
}

// Logger builds a structured logger from the log settings.
func (c *Config) Logger() *logging.StructuredLogger {
	s := c.Settings()
	return logging.NewSlogLogger(logging.ParseLevel(s.Log.Level), s.Log.Format, false)
}

// AgentOptions returns an agent option applying the run settings. The
// logger and a logging tracer are attached when logger is non-nil.
func (c *Config) AgentOptions(logger *logging.StructuredLogger) func(o *agent.Options) {
	s := c.Settings()
	return func(o *agent.Options) {
		if s.Instruction != "" {
			o.Instruction = agent.NewInstructionFromText(s.Instruction)
		}
		if s.MaxTurns > 0 {
			o.MaxTurns = s.MaxTurns
		}
		if s.ToolTimeout > 0 {
			o.ToolTimeout = s.ToolTimeout
		}
		o.RequestTimeout = s.RequestTimeout
		o.MaxParallelTools = s.MaxParallelTools
		o.MaxHistoryMessages = s.MaxHistoryMessages
		o.GenerateOptions = s.GenerateOptions()
		if s.PersistPartialResults {
			o.PartialPolicy = flow.PersistPartialResults
		}
		if logger != nil {
			o.Logger = logger
			o.Tracer = logging.NewTracer(logger)
		}
	}
}
