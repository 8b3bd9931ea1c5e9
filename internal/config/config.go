// internal/config/config.go
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Autosave interval bounds. User-supplied intervals are clamped into this
// range; the default matches the editor's quiet-period heuristic.
const (
	DefaultAutosaveInterval = 30 * time.Second
	MinAutosaveInterval     = 5 * time.Second
	MaxAutosaveInterval     = 120 * time.Second
)

// DefaultNetworkTimeout bounds persistence and model calls. A call that
// exceeds it is treated as failed, never as success-pending.
const DefaultNetworkTimeout = 30 * time.Second

// DefaultSpeechRestartDelay is the pause before a continuous speech session
// is restarted after the underlying recognizer ends unexpectedly.
const DefaultSpeechRestartDelay = 300 * time.Millisecond

// Config holds the full server configuration.
type Config struct {
	Port      string `yaml:"port"`
	DataDir   string `yaml:"data_dir"`
	LogDir    string `yaml:"log_dir"`
	LogLevel  string `yaml:"log_level"`
	DebugMode bool   `yaml:"debug_mode"`

	// LLM gateway
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	Autosave AutosaveConfig `yaml:"autosave"`
	Speech   SpeechConfig   `yaml:"speech"`
	AILimit  AILimitConfig  `yaml:"ai_limit"`

	// NetworkTimeoutSeconds applies to persistence and model calls.
	NetworkTimeoutSeconds int `yaml:"network_timeout_seconds"`
}

// AutosaveConfig carries the editor defaults for new sessions.
type AutosaveConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalSeconds int  `yaml:"interval_seconds"`
}

// SpeechConfig carries the speech session defaults.
type SpeechConfig struct {
	RestartDelayMillis int `yaml:"restart_delay_millis"`
}

// AILimitConfig configures the token-bucket limiter guarding AI endpoints.
type AILimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Load reads configuration from the environment, overlaid by an optional
// YAML file named by CONFIG_FILE (default config.yaml when present).
func Load() (*Config, error) {
	// .env is optional.
	godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		DataDir:         getEnv("DATA_DIR", "data"),
		LogDir:          getEnv("LOG_DIR", "logs"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DebugMode:       getEnvBool("DEBUG_MODE", true),
		LLMProvider:     getEnv("LLM_PROVIDER", "openai"),
		LLMModel:        getEnv("LLM_MODEL", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		Autosave: AutosaveConfig{
			Enabled:         getEnvBool("AUTOSAVE_ENABLED", true),
			IntervalSeconds: getEnvInt("AUTOSAVE_INTERVAL_SECONDS", int(DefaultAutosaveInterval.Seconds())),
		},
		Speech: SpeechConfig{
			RestartDelayMillis: getEnvInt("SPEECH_RESTART_DELAY_MILLIS", int(DefaultSpeechRestartDelay.Milliseconds())),
		},
		AILimit: AILimitConfig{
			RequestsPerSecond: 2,
			Burst:             5,
		},
		NetworkTimeoutSeconds: getEnvInt("NETWORK_TIMEOUT_SECONDS", int(DefaultNetworkTimeout.Seconds())),
	}

	path := getEnv("CONFIG_FILE", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := overlayYAML(cfg, f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	cfg.normalize()
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r over the built-in defaults.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{
		Port:     "8080",
		DataDir:  "data",
		LogDir:   "logs",
		LogLevel: "info",
		Autosave: AutosaveConfig{
			Enabled:         true,
			IntervalSeconds: int(DefaultAutosaveInterval.Seconds()),
		},
		Speech: SpeechConfig{
			RestartDelayMillis: int(DefaultSpeechRestartDelay.Milliseconds()),
		},
		AILimit:               AILimitConfig{RequestsPerSecond: 2, Burst: 5},
		NetworkTimeoutSeconds: int(DefaultNetworkTimeout.Seconds()),
	}
	if err := overlayYAML(cfg, r); err != nil {
		return nil, err
	}
	cfg.normalize()
	return cfg, nil
}

func overlayYAML(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// normalize clamps tunables into their documented ranges.
func (c *Config) normalize() {
	c.Autosave.IntervalSeconds = ClampIntervalSeconds(c.Autosave.IntervalSeconds)
	if c.Speech.RestartDelayMillis <= 0 {
		c.Speech.RestartDelayMillis = int(DefaultSpeechRestartDelay.Milliseconds())
	}
	if c.NetworkTimeoutSeconds <= 0 {
		c.NetworkTimeoutSeconds = int(DefaultNetworkTimeout.Seconds())
	}
	if c.AILimit.RequestsPerSecond <= 0 {
		c.AILimit.RequestsPerSecond = 2
	}
	if c.AILimit.Burst <= 0 {
		c.AILimit.Burst = 5
	}
}

// ClampIntervalSeconds forces an autosave interval into the supported
// 5s to 120s range, substituting the default for non-positive values.
func ClampIntervalSeconds(seconds int) int {
	if seconds <= 0 {
		return int(DefaultAutosaveInterval.Seconds())
	}
	if seconds < int(MinAutosaveInterval.Seconds()) {
		return int(MinAutosaveInterval.Seconds())
	}
	if seconds > int(MaxAutosaveInterval.Seconds()) {
		return int(MaxAutosaveInterval.Seconds())
	}
	return seconds
}

// AutosaveInterval returns the configured autosave interval as a Duration.
func (c *Config) AutosaveInterval() time.Duration {
	return time.Duration(c.Autosave.IntervalSeconds) * time.Second
}

// SpeechRestartDelay returns the configured restart delay as a Duration.
func (c *Config) SpeechRestartDelay() time.Duration {
	return time.Duration(c.Speech.RestartDelayMillis) * time.Millisecond
}

// NetworkTimeout returns the configured network timeout as a Duration.
func (c *Config) NetworkTimeout() time.Duration {
	return time.Duration(c.NetworkTimeoutSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
