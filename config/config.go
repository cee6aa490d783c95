package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenEnv overrides discord.token when set
const TokenEnv = "COLORBOT_TOKEN"

// Config represents the main configuration
type Config struct {
	Discord     DiscordConfig     `yaml:"discord"`
	Remediation RemediationConfig `yaml:"remediation"`
	Storage     StorageConfig     `yaml:"storage"`
	Policy      PolicyConfig      `yaml:"policy"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Log         LogConfig         `yaml:"log"`
}

// DiscordConfig holds bot credentials
type DiscordConfig struct {
	Token         string `yaml:"token"`
	ApplicationID string `yaml:"application_id"`
	// GuildID registers commands in one guild only (fast iteration in dev)
	GuildID string `yaml:"guild_id,omitempty"`
	// SweepOnStartup deletes unused color roles when the bot connects
	SweepOnStartup *bool `yaml:"sweep_on_startup,omitempty"`
}

// RemediationConfig tunes bulk deletion runs
type RemediationConfig struct {
	InitialDelay  time.Duration `yaml:"initial_delay"`
	Interval      time.Duration `yaml:"interval"`
	DedupCapacity int           `yaml:"dedup_capacity"`
}

// StorageConfig holds run history settings
type StorageConfig struct {
	Path string `yaml:"path"`
	// Keep is the number of runs retained; zero keeps everything
	Keep int `yaml:"keep"`
}

// PolicyConfig points at rego protection policies
type PolicyConfig struct {
	Path string `yaml:"path,omitempty"`
}

// TelemetryConfig holds OpenTelemetry settings
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	Environment  string `yaml:"environment"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`
	Insecure     bool   `yaml:"insecure"`
	MetricsAddr  string `yaml:"metrics_addr"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads configuration from file. An empty path yields defaults plus
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyDefaults(cfg)
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Remediation.InitialDelay == 0 {
		cfg.Remediation.InitialDelay = 500 * time.Millisecond
	}
	if cfg.Remediation.Interval == 0 {
		cfg.Remediation.Interval = time.Second
	}
	if cfg.Remediation.DedupCapacity == 0 {
		cfg.Remediation.DedupCapacity = 4096
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "colorbot"
	}
	if cfg.Telemetry.Environment == "" {
		cfg.Telemetry.Environment = "development"
	}
	if cfg.Telemetry.MetricsAddr == "" {
		cfg.Telemetry.MetricsAddr = ":9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Discord.SweepOnStartup == nil {
		enabled := true
		cfg.Discord.SweepOnStartup = &enabled
	}
}

func applyEnv(cfg *Config) {
	if token := os.Getenv(TokenEnv); token != "" {
		cfg.Discord.Token = token
	}
}

// Validate ensures config values are usable
func (c *Config) Validate() error {
	if c.Remediation.InitialDelay < 0 {
		return fmt.Errorf("remediation: initial_delay must not be negative")
	}
	if c.Remediation.Interval <= 0 {
		return fmt.Errorf("remediation: interval must be positive")
	}
	if c.Remediation.DedupCapacity < 0 {
		return fmt.Errorf("remediation: dedup_capacity must not be negative")
	}
	if c.Storage.Keep < 0 {
		return fmt.Errorf("storage: keep must not be negative")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	return nil
}

// ValidateForServe additionally requires Discord credentials
func (c *Config) ValidateForServe() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("discord: token is required (set %s or discord.token)", TokenEnv)
	}
	return nil
}

// SweepEnabled reports whether the startup sweep runs
func (c *Config) SweepEnabled() bool {
	return c.Discord.SweepOnStartup == nil || *c.Discord.SweepOnStartup
}
