// ABOUTME: Configuration loading and parsing for relay-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relay-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Platform PlatformConfig `yaml:"platform"`
	Agent    AgentConfig    `yaml:"agent"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// PlatformConfig holds the chat platform integration configuration
type PlatformConfig struct {
	BotUserID     string   `yaml:"bot_user_id"`
	BotToken      string   `yaml:"bot_token"`
	APIBaseURL    string   `yaml:"api_base_url"`
	RespondToAll  bool     `yaml:"respond_to_all"`
	UpReactions   []string `yaml:"up_reactions"`
	DownReactions []string `yaml:"down_reactions"`
	// SendRate caps outbound posts per second. Zero means 1.
	SendRate float64 `yaml:"send_rate"`
}

// AgentConfig holds the remote agent endpoint configuration
type AgentConfig struct {
	BaseURL  string `yaml:"base_url"`
	Project  string `yaml:"project"`
	Location string `yaml:"location"`
	EngineID string `yaml:"engine_id"`
	Token    string `yaml:"token"`

	CallTimeout time.Duration `yaml:"-"`
	// Raw string value for YAML unmarshaling
	CallTimeoutRaw string `yaml:"call_timeout"`
}

// PipelineConfig holds correlation and delivery tuning
type PipelineConfig struct {
	MaxIDsPerThread  int    `yaml:"max_ids_per_thread"`
	RetryMaxAttempts int    `yaml:"retry_max_attempts"`
	BreakerThreshold int    `yaml:"breaker_threshold"`
	LaneBuffer       int    `yaml:"lane_buffer"`
	ErrorReply       string `yaml:"error_reply"`

	DedupRetention      time.Duration `yaml:"-"`
	SessionTTL          time.Duration `yaml:"-"`
	RetryBackoff        time.Duration `yaml:"-"`
	RetryBackoffCeiling time.Duration `yaml:"-"`
	BreakerCooldown     time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	DedupRetentionRaw      string `yaml:"dedup_retention"`
	SessionTTLRaw          string `yaml:"session_ttl"`
	RetryBackoffRaw        string `yaml:"retry_backoff"`
	RetryBackoffCeilingRaw string `yaml:"retry_backoff_ceiling"`
	BreakerCooldownRaw     string `yaml:"breaker_cooldown"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig holds the CSV metrics tracker configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills fields the file left unset.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Pipeline.DedupRetention == 0 {
		c.Pipeline.DedupRetention = 24 * time.Hour
	}
	if c.Pipeline.MaxIDsPerThread == 0 {
		c.Pipeline.MaxIDsPerThread = 500
	}
	if c.Pipeline.SessionTTL == 0 {
		c.Pipeline.SessionTTL = 30 * time.Minute
	}
	if c.Pipeline.RetryBackoff == 0 {
		c.Pipeline.RetryBackoff = 500 * time.Millisecond
	}
	if c.Pipeline.RetryBackoffCeiling == 0 {
		c.Pipeline.RetryBackoffCeiling = 10 * time.Second
	}
	if c.Pipeline.BreakerCooldown == 0 {
		c.Pipeline.BreakerCooldown = time.Minute
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Platform.BotUserID == "" {
		return fmt.Errorf("platform.bot_user_id is required")
	}
	if c.Platform.BotToken == "" {
		return fmt.Errorf("platform.bot_token is required")
	}
	if c.Platform.APIBaseURL == "" {
		return fmt.Errorf("platform.api_base_url is required")
	}
	if c.Agent.BaseURL == "" {
		return fmt.Errorf("agent.base_url is required")
	}
	if c.Agent.EngineID == "" {
		return fmt.Errorf("agent.engine_id is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics.path is required when metrics are enabled")
	}
	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Agent.CallTimeoutRaw, "agent.call_timeout", &cfg.Agent.CallTimeout},
		{cfg.Pipeline.DedupRetentionRaw, "pipeline.dedup_retention", &cfg.Pipeline.DedupRetention},
		{cfg.Pipeline.SessionTTLRaw, "pipeline.session_ttl", &cfg.Pipeline.SessionTTL},
		{cfg.Pipeline.RetryBackoffRaw, "pipeline.retry_backoff", &cfg.Pipeline.RetryBackoff},
		{cfg.Pipeline.RetryBackoffCeilingRaw, "pipeline.retry_backoff_ceiling", &cfg.Pipeline.RetryBackoffCeiling},
		{cfg.Pipeline.BreakerCooldownRaw, "pipeline.breaker_cooldown", &cfg.Pipeline.BreakerCooldown},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
