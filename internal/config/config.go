// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`
	Planner PlannerConfig `mapstructure:"planner" yaml:"planner"`
	LLM     LLMConfig     `mapstructure:"llm" yaml:"llm"`
	Profile ProfileConfig `mapstructure:"profile" yaml:"profile"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// BrowserConfig holds settings for the headless browser instances.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	UserDataDir       string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
}

// SessionConfig paces a single browsing session.
type SessionConfig struct {
	// MinDuration is the wall-clock minimum the session runs before the
	// controller is allowed to end it.
	MinDuration time.Duration `mapstructure:"min_duration" yaml:"min_duration"`
	// StuckWindow is the number of consecutive same-URL history entries
	// that marks the session as stuck.
	StuckWindow int `mapstructure:"stuck_window" yaml:"stuck_window"`
	// RecoveryKeepHistory is how many trailing history entries survive a
	// recovery event.
	RecoveryKeepHistory int           `mapstructure:"recovery_keep_history" yaml:"recovery_keep_history"`
	RecoveryTimeout     time.Duration `mapstructure:"recovery_timeout" yaml:"recovery_timeout"`
	// RecoveryURLs is the fixed set of known-good destinations used during
	// stuck/error recovery.
	RecoveryURLs []string `mapstructure:"recovery_urls" yaml:"recovery_urls"`
	// SettleDelay follows every recovery navigation.
	SettleDelay        time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	DefaultSearchTopic string        `mapstructure:"default_search_topic" yaml:"default_search_topic"`
	DefaultWatch       time.Duration `mapstructure:"default_watch" yaml:"default_watch"`
}

// PlannerConfig tunes the backend plan requester.
type PlannerConfig struct {
	// HistoryLookback is how many trailing history entries are summarized
	// into the planning prompt.
	HistoryLookback int `mapstructure:"history_lookback" yaml:"history_lookback"`
	// CallWindow is the sliding window over which backend calls are
	// counted for the rate classification.
	CallWindow time.Duration `mapstructure:"call_window" yaml:"call_window"`
	// HighCallCount and CriticalCallCount are the window thresholds for
	// the high and critical classifications.
	HighCallCount     int `mapstructure:"high_call_count" yaml:"high_call_count"`
	CriticalCallCount int `mapstructure:"critical_call_count" yaml:"critical_call_count"`
	// CriticalRate bounds backend calls per second once the critical
	// classification is reached. Zero disables the breaker.
	CriticalRate float64 `mapstructure:"critical_rate" yaml:"critical_rate"`
	// LoadHighWater is the 0-100 load average above which the planner may
	// route to the heavy backend tier.
	LoadHighWater float64 `mapstructure:"load_high_water" yaml:"load_high_water"`
	// SwitchCooldown is the minimum time between tier switches.
	SwitchCooldown time.Duration `mapstructure:"switch_cooldown" yaml:"switch_cooldown"`
	// PromptMaxElements bounds how many scanned elements are described in
	// the prompt.
	PromptMaxElements int           `mapstructure:"prompt_max_elements" yaml:"prompt_max_elements"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// LLMProvider names a supported backend protocol.
type LLMProvider string

const (
	// ProviderCompletion is a generic HTTP text-completion endpoint
	// (model identifier + prompt in, completion text out).
	ProviderCompletion LLMProvider = "completion"
)

// LLMModelConfig defines one generative backend.
type LLMModelConfig struct {
	Provider    LLMProvider   `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey      string        `mapstructure:"api_key" yaml:"-"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// LLMConfig configures the tiered backend routing.
type LLMConfig struct {
	DefaultFastModel  string                    `mapstructure:"default_fast_model" yaml:"default_fast_model"`
	DefaultHeavyModel string                    `mapstructure:"default_heavy_model" yaml:"default_heavy_model"`
	Models            map[string]LLMModelConfig `mapstructure:"models" yaml:"models"`
}

// ProfileConfig configures the optional persona/stat persistence.
type ProfileConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	DatabaseURL string `mapstructure:"database_url" yaml:"-"`
	Persona     string `mapstructure:"persona" yaml:"persona"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "wander")
	v.SetDefault("logger.log_file", "wander.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", "90s")
	v.SetDefault("browser.viewport_width", 1366)
	v.SetDefault("browser.viewport_height", 768)

	// -- Session --
	v.SetDefault("session.min_duration", "20m")
	v.SetDefault("session.stuck_window", 5)
	v.SetDefault("session.recovery_keep_history", 2)
	v.SetDefault("session.recovery_timeout", "45s")
	v.SetDefault("session.recovery_urls", []string{
		"https://www.google.com",
		"https://www.youtube.com",
		"https://news.ycombinator.com",
		"https://www.wikipedia.org",
	})
	v.SetDefault("session.settle_delay", "3s")
	v.SetDefault("session.default_search_topic", "technology news")
	v.SetDefault("session.default_watch", "45s")

	// -- Planner --
	v.SetDefault("planner.history_lookback", 5)
	v.SetDefault("planner.call_window", "5m")
	v.SetDefault("planner.high_call_count", 20)
	v.SetDefault("planner.critical_call_count", 40)
	v.SetDefault("planner.critical_rate", 0.2)
	v.SetDefault("planner.load_high_water", 75.0)
	v.SetDefault("planner.switch_cooldown", "2m")
	v.SetDefault("planner.prompt_max_elements", 25)
	v.SetDefault("planner.request_timeout", "90s")

	// -- LLM --
	v.SetDefault("llm.default_fast_model", "local-small")
	v.SetDefault("llm.default_heavy_model", "remote-large")
	v.SetDefault("llm.models.local-small.provider", "completion")
	v.SetDefault("llm.models.local-small.model", "qwen2.5-7b-instruct")
	v.SetDefault("llm.models.local-small.endpoint", "http://127.0.0.1:8080/v1/completions")
	v.SetDefault("llm.models.local-small.api_timeout", "60s")
	v.SetDefault("llm.models.local-small.temperature", 0.4)
	v.SetDefault("llm.models.local-small.max_tokens", 512)
	v.SetDefault("llm.models.remote-large.provider", "completion")
	v.SetDefault("llm.models.remote-large.model", "llama-3.3-70b-instruct")
	v.SetDefault("llm.models.remote-large.endpoint", "http://127.0.0.1:8081/v1/completions")
	v.SetDefault("llm.models.remote-large.api_timeout", "3m")
	v.SetDefault("llm.models.remote-large.temperature", 0.4)
	v.SetDefault("llm.models.remote-large.max_tokens", 768)

	// -- Profile --
	v.SetDefault("profile.enabled", false)
	v.SetDefault("profile.persona", "default")
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Cannot happen with defaults only, but fail loudly if it does.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// NewConfigFromViper creates a validated configuration from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("profile.database_url", "WANDER_PROFILE_DB_URL")
	for name := range v.GetStringMap("llm.models") {
		v.BindEnv(fmt.Sprintf("llm.models.%s.api_key", name), "WANDER_LLM_API_KEY")
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Session.StuckWindow <= 0 {
		return fmt.Errorf("session.stuck_window must be a positive integer")
	}
	if c.Session.RecoveryKeepHistory < 0 {
		return fmt.Errorf("session.recovery_keep_history must not be negative")
	}
	if len(c.Session.RecoveryURLs) == 0 {
		return fmt.Errorf("session.recovery_urls must list at least one destination")
	}
	if c.Planner.CallWindow <= 0 {
		return fmt.Errorf("planner.call_window must be a positive duration")
	}
	if c.Planner.CriticalCallCount < c.Planner.HighCallCount {
		return fmt.Errorf("planner.critical_call_count must not be below planner.high_call_count")
	}
	if c.Planner.LoadHighWater < 0 || c.Planner.LoadHighWater > 100 {
		return fmt.Errorf("planner.load_high_water must be between 0 and 100")
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.Profile.Enabled && c.Profile.DatabaseURL == "" {
		return fmt.Errorf("profile.database_url is required when the profile store is enabled. Ensure WANDER_PROFILE_DB_URL is set")
	}
	return nil
}

// Validate checks the tier routing references resolve to defined models.
func (l *LLMConfig) Validate() error {
	if len(l.Models) == 0 {
		return fmt.Errorf("no models configured under llm.models")
	}
	if _, ok := l.Models[l.DefaultFastModel]; !ok {
		return fmt.Errorf("default fast model '%s' not found in defined models", l.DefaultFastModel)
	}
	if _, ok := l.Models[l.DefaultHeavyModel]; !ok {
		return fmt.Errorf("default heavy model '%s' not found in defined models", l.DefaultHeavyModel)
	}
	return nil
}
