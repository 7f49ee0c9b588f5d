package config

import (
	"errors"
	"io/fs"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment override, e.g.
// AGENTSTREAM_PROVIDER or AGENTSTREAM_GENERATE_TEMPERATURE.
const DefaultEnvPrefix = "AGENTSTREAM"

// Settings is the decoded configuration.
type Settings struct {
	Provider    string `mapstructure:"provider" json:"provider"`
	Model       string `mapstructure:"model" json:"model"`
	APIKey      string `mapstructure:"api_key" json:"api_key"`
	BaseURL     string `mapstructure:"base_url" json:"base_url"`
	Instruction string `mapstructure:"instruction" json:"instruction"`

	MaxTurns              int           `mapstructure:"max_turns" json:"max_turns"`
	MaxParallelTools      int           `mapstructure:"max_parallel_tools" json:"max_parallel_tools"`
	ToolTimeout           time.Duration `mapstructure:"tool_timeout" json:"tool_timeout"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout" json:"request_timeout"`
	PersistPartialResults bool          `mapstructure:"persist_partial_results" json:"persist_partial_results"`
	MaxHistoryMessages    int           `mapstructure:"max_history_messages" json:"max_history_messages"`

	// ThinkingBudget enables extended thinking on providers that meter it.
	ThinkingBudget int64 `mapstructure:"thinking_budget" json:"thinking_budget"`
	// Think requests reasoning output from local runtimes.
	Think bool `mapstructure:"think" json:"think"`

	Generate GenerateSettings `mapstructure:"generate" json:"generate"`
	Log      LogSettings      `mapstructure:"log" json:"log"`
}

// GenerateSettings mirrors model.GenerateOptions.
type GenerateSettings struct {
	Temperature *float64 `mapstructure:"temperature" json:"temperature,omitempty"`
	TopP        *float64 `mapstructure:"top_p" json:"top_p,omitempty"`
	MaxTokens   int      `mapstructure:"max_tokens" json:"max_tokens"`
	Stop        []string `mapstructure:"stop" json:"stop,omitempty"`
}

// LogSettings selects the log level and format (json or text).
type LogSettings struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// keys lists every setting so environment overrides reach Unmarshal even
// when the key is absent from the file.
var keys = []string{
	"provider", "model", "api_key", "base_url", "instruction",
	"max_turns", "max_parallel_tools", "tool_timeout", "request_timeout",
	"persist_partial_results", "max_history_messages", "thinking_budget", "think",
	"generate.temperature", "generate.top_p", "generate.max_tokens", "generate.stop",
	"log.level", "log.format",
}

// Options configures Load.
type Options struct {
	// EnvPrefix prefixes environment overrides. Empty disables them.
	EnvPrefix string
	// EnvFiles are loaded with godotenv before reading the environment.
	// Missing files are ignored; variables already set win.
	EnvFiles []string
	// Defaults are applied below file and environment values.
	Defaults map[string]any
	// Overrides win over every other source, e.g. command line flags.
	Overrides map[string]any
	// Watch reloads the file on change and notifies OnChange callbacks.
	Watch bool
}

// Config holds the current settings and reloads them when the file changes.
type Config struct {
	v        *viper.Viper
	path     string
	mu       sync.RWMutex
	value    Settings
	watchers []func(old, new Settings)
}

// Load reads settings from path (YAML, JSON or TOML by extension) layered
// over defaults and under environment overrides. An empty path reads
// defaults and environment only.
func Load(path string, optFns ...func(o *Options)) (*Config, error) {
	opts := Options{
		EnvPrefix: DefaultEnvPrefix,
		EnvFiles:  []string{".env"},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := loadEnvFiles(opts.EnvFiles); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("max_turns", 10)
	v.SetDefault("tool_timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	for k, val := range opts.Defaults {
		v.SetDefault(k, val)
	}

	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		for _, k := range keys {
			_ = v.BindEnv(k)
		}
	}

	c := &Config{v: v, path: path}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	for k, val := range opts.Overrides {
		v.Set(k, val)
	}

	val, err := c.decode()
	if err != nil {
		return nil, err
	}
	c.value = val

	if opts.Watch && path != "" {
		c.watch()
	}
	return c, nil
}

// Settings returns a copy of the current settings.
func (c *Config) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return clone(c.value)
}

// OnChange registers a callback invoked after a reload changed the settings.
func (c *Config) OnChange(callback func(old, new Settings)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, callback)
}

func (c *Config) decode() (Settings, error) {
	var s Settings
	if err := c.v.Unmarshal(&s); err != nil {
		return Settings{}, err
	}
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	return s, nil
}

func (c *Config) watch() {
	var (
		debounceTimer *time.Timer
		debounceMu    sync.Mutex
	)

	c.v.OnConfigChange(func(_ fsnotify.Event) {
		debounceMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(100*time.Millisecond, c.handleConfigChange)
		debounceMu.Unlock()
	})

	c.v.WatchConfig()
}

func (c *Config) handleConfigChange() {
	old := c.Settings()

	next, watchers, ok := c.reload()
	if !ok || reflect.DeepEqual(old, next) {
		return
	}

	for _, cb := range watchers {
		func() {
			defer func() { _ = recover() }()
			cb(old, next)
		}()
	}
}

// reload re-reads the file and returns the new settings and the callbacks
// to notify.
func (c *Config) reload() (Settings, []func(old, new Settings), bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.v.ReadInConfig(); err != nil {
		return Settings{}, nil, false
	}
	val, err := c.decode()
	if err != nil {
		return Settings{}, nil, false
	}
	c.value = val

	watchers := make([]func(old, new Settings), len(c.watchers))
	copy(watchers, c.watchers)
	return clone(val), watchers, true
}

func loadEnvFiles(files []string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func clone(s Settings) Settings {
	out := s
	if s.Generate.Temperature != nil {
		t := *s.Generate.Temperature
		out.Generate.Temperature = &t
	}
	if s.Generate.TopP != nil {
		p := *s.Generate.TopP
		out.Generate.TopP = &p
	}
	out.Generate.Stop = append([]string(nil), s.Generate.Stop...)
	return out
}
