package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstream/agent"
	"github.com/hupe1980/agentstream/core"
	"github.com/hupe1980/agentstream/flow"
	"github.com/hupe1980/agentstream/model"
	"github.com/hupe1980/agentstream/model/anthropic"
	"github.com/hupe1980/agentstream/model/gemini"
	"github.com/hupe1980/agentstream/model/ollama"
	"github.com/hupe1980/agentstream/model/openai"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func noEnvFiles(o *Options) { o.EnvFiles = nil }

func TestLoad_FileAndDefaults(t *testing.T) {
	path := writeFile(t, "agent.yaml", `
provider: Ollama
model: llama3.2
max_parallel_tools: 4
request_timeout: 30s
persist_partial_results: true
generate:
  temperature: 0.2
  stop: ["END"]
log:
  format: text
`)
	cfg, err := Load(path, noEnvFiles)
	require.NoError(t, err)

	s := cfg.Settings()
	assert.Equal(t, "ollama", s.Provider)
	assert.Equal(t, "llama3.2", s.Model)
	assert.Equal(t, 4, s.MaxParallelTools)
	assert.Equal(t, 30*time.Second, s.RequestTimeout)
	assert.Equal(t, 15*time.Second, s.ToolTimeout)
	assert.Equal(t, 10, s.MaxTurns)
	assert.True(t, s.PersistPartialResults)
	require.NotNil(t, s.Generate.Temperature)
	assert.InDelta(t, 0.2, *s.Generate.Temperature, 1e-9)
	assert.Equal(t, []string{"END"}, s.Generate.Stop)
	assert.Equal(t, "info", s.Log.Level)
	assert.Equal(t, "text", s.Log.Format)

	*s.Generate.Temperature = 1
	assert.InDelta(t, 0.2, *cfg.Settings().Generate.Temperature, 1e-9)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("AGENTSTREAM_PROVIDER", "openai")
	t.Setenv("AGENTSTREAM_MAX_TURNS", "3")
	t.Setenv("AGENTSTREAM_GENERATE_MAX_TOKENS", "256")

	path := writeFile(t, "agent.json", `{"provider": "gemini", "max_turns": 7}`)
	cfg, err := Load(path, noEnvFiles)
	require.NoError(t, err)

	s := cfg.Settings()
	assert.Equal(t, "openai", s.Provider)
	assert.Equal(t, 3, s.MaxTurns)
	assert.Equal(t, 256, s.Generate.MaxTokens)
}

func TestLoad_EnvFileAndCustomDefaults(t *testing.T) {
	envFile := writeFile(t, "test.env", "AGENTSTREAM_TEST_MODEL_FROM_DOTENV=unused\nAGENTSTREAM_INSTRUCTION=Answer in haiku.\n")
	t.Cleanup(func() {
		_ = os.Unsetenv("AGENTSTREAM_INSTRUCTION")
		_ = os.Unsetenv("AGENTSTREAM_TEST_MODEL_FROM_DOTENV")
	})

	cfg, err := Load("", func(o *Options) {
		o.EnvFiles = []string{envFile, filepath.Join(t.TempDir(), "missing.env")}
		o.Defaults = map[string]any{"provider": "ollama"}
	})
	require.NoError(t, err)

	s := cfg.Settings()
	assert.Equal(t, "Answer in haiku.", s.Instruction)
	assert.Equal(t, "ollama", s.Provider)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), noEnvFiles)
	assert.Error(t, err)
}

func TestConfig_ReloadNotifiesOnChange(t *testing.T) {
	path := writeFile(t, "agent.yaml", "provider: ollama\nmodel: a\n")
	cfg, err := Load(path, noEnvFiles)
	require.NoError(t, err)

	var calls []string
	cfg.OnChange(func(old, new Settings) { calls = append(calls, old.Model+"->"+new.Model) })
	cfg.OnChange(func(Settings, Settings) { panic("ignored") })

	cfg.handleConfigChange()
	assert.Empty(t, calls)

	require.NoError(t, os.WriteFile(path, []byte("provider: ollama\nmodel: b\n"), 0o600))
	cfg.handleConfigChange()
	assert.Equal(t, []string{"a->b"}, calls)
	assert.Equal(t, "b", cfg.Settings().Model)
}

func TestConfig_NewModel(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	tests := []struct {
		name     string
		defaults map[string]any
		check    func(t *testing.T, m model.Model)
		wantErr  bool
	}{
		{"none", nil, nil, true},
		{"unknown", map[string]any{"provider": "acme"}, nil, true},
		{"missing key", map[string]any{"provider": "anthropic"}, nil, true},
		{"anthropic", map[string]any{"provider": "anthropic", "api_key": "k", "model": "claude-x"}, func(t *testing.T, m model.Model) {
			assert.IsType(t, &anthropic.Model{}, m)
			assert.Equal(t, "claude-x", m.Info().Name)
		}, false},
		{"openai", map[string]any{"provider": "openai", "api_key": "k"}, func(t *testing.T, m model.Model) {
			assert.IsType(t, &openai.Model{}, m)
			assert.Equal(t, "openai", m.Info().Provider)
		}, false},
		{"gemini", map[string]any{"provider": "gemini", "api_key": "k", "model": "gemini-x"}, func(t *testing.T, m model.Model) {
			assert.IsType(t, &gemini.Model{}, m)
			assert.Equal(t, "gemini-x", m.Info().Name)
		}, false},
		{"ollama", map[string]any{"provider": "ollama"}, func(t *testing.T, m model.Model) {
			assert.IsType(t, &ollama.Model{}, m)
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("", func(o *Options) {
				o.EnvFiles = nil
				o.EnvPrefix = ""
				o.Defaults = tt.defaults
			})
			require.NoError(t, err)

			m, err := cfg.NewModel()
			if tt.wantErr {
				assert.True(t, core.IsKind(err, core.ErrProviderNotConfigured), "got %v", err)
				assert.Nil(t, m)
				return
			}
			require.NoError(t, err)
			tt.check(t, m)
		})
	}
}

func TestConfig_NewModelUsesVendorKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "from-env")
	t.Setenv("GEMINI_API_KEY", "")
	cfg, err := Load("", func(o *Options) {
		o.EnvFiles = nil
		o.Defaults = map[string]any{"provider": "gemini"}
	})
	require.NoError(t, err)

	_, err = cfg.NewModel()
	assert.NoError(t, err)
}

func TestConfig_AgentOptions(t *testing.T) {
	cfg, err := Load("", func(o *Options) {
		o.EnvFiles = nil
		o.EnvPrefix = ""
		o.Defaults = map[string]any{
			"instruction":             "Be terse.",
			"max_turns":               4,
			"max_history_messages":    20,
			"persist_partial_results": true,
			"generate.top_p":          0.9,
			"log.level":               "debug",
		}
	})
	require.NoError(t, err)

	logger := cfg.Logger()
	opts := agent.Options{MaxTurns: 10}
	cfg.AgentOptions(logger)(&opts)

	assert.Equal(t, 4, opts.MaxTurns)
	assert.Equal(t, 15*time.Second, opts.ToolTimeout)
	assert.Equal(t, 20, opts.MaxHistoryMessages)
	assert.Equal(t, flow.PersistPartialResults, opts.PartialPolicy)
	require.NotNil(t, opts.GenerateOptions.TopP)
	assert.InDelta(t, 0.9, *opts.GenerateOptions.TopP, 1e-9)
	assert.Equal(t, logger, opts.Logger)
	assert.NotNil(t, opts.Tracer)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	text, err := opts.Instruction.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Be terse.", text)
}

func TestLoad_OverridesWin(t *testing.T) {
	t.Setenv("AGENTSTREAM_MODEL", "from-env")
	path := writeFile(t, "agent.toml", "provider = \"ollama\"\nmodel = \"from-file\"\n")

	cfg, err := Load(path, noEnvFiles, func(o *Options) {
		o.Overrides = map[string]any{"model": "from-flag"}
	})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.Settings().Model)
	assert.Equal(t, "ollama", cfg.Settings().Provider)
}
