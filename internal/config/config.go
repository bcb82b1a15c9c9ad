// Package config loads taskscheduler's configuration via spf13/viper,
// following ollama-distributed's internal/config package: a single Config
// struct, a DefaultConfig factory, env-var overrides, and a Validate pass.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete configuration for a taskscheduler process.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	API       APIConfig       `yaml:"api"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SchedulerConfig controls the core scheduler's worker pool and submission
// throttling (spec.md §6 Scheduler.start).
type SchedulerConfig struct {
	MaxWorkers      int           `yaml:"max_workers"`
	Parallelism     string        `yaml:"parallelism"` // "thread" (only model implemented)
	Description     string        `yaml:"description"`
	SubmissionBurst int           `yaml:"submission_burst"` // x/time/rate bucket size for the admin API
	SubmissionRate  time.Duration `yaml:"submission_rate"`  // x/time/rate fill interval
}

// APIConfig controls the optional admin/observability HTTP+WS surface
// (pkg/api), supplementing the language-neutral core API of spec.md §6.
type APIConfig struct {
	Listen      string        `yaml:"listen"`
	Enabled     bool          `yaml:"enabled"`
	JWTSecret   string        `yaml:"jwt_secret"`
	CORSOrigins []string      `yaml:"cors_origins"`
	Timeout     time.Duration `yaml:"timeout"`

	// AdminUser/AdminPasswordHash gate POST /v1/auth/login, which exchanges
	// a password for the bearer token the mutating endpoints require.
	// AdminPasswordHash is a bcrypt hash, never a plaintext password.
	AdminUser         string `yaml:"admin_user"`
	AdminPasswordHash string `yaml:"admin_password_hash"`
}

// MetricsConfig controls Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls the slog-based structured logger
// (pkg/logging.StructuredLogger).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"

	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	Environment    string `yaml:"environment"`
}

// DefaultConfig returns a Config populated with the scheduler's baseline
// settings.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxWorkers:      8,
			Parallelism:     "thread",
			SubmissionBurst: 50,
			SubmissionRate:  10 * time.Millisecond,
		},
		API: APIConfig{
			Listen:      ":8090",
			Enabled:     false,
			CORSOrigins: []string{"*"},
			Timeout:     30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			ServiceName: "taskscheduler",
			Environment: "development",
		},
	}
}

// Load reads configuration from configFile (or the standard search path
// when empty), overlays TASKSCHEDULER_-prefixed environment variables, and
// validates the result.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("$HOME/.taskscheduler")
		viper.AddConfigPath("/etc/taskscheduler")
	}

	viper.SetEnvPrefix("TASKSCHEDULER")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks invariants DefaultConfig cannot enforce on its own (an
// operator-supplied file might set these to nonsensical values).
func (c *Config) Validate() error {
	if c.Scheduler.MaxWorkers <= 0 {
		return fmt.Errorf("scheduler.max_workers must be positive, got %d", c.Scheduler.MaxWorkers)
	}
	if c.Scheduler.Parallelism != "thread" {
		return fmt.Errorf("scheduler.parallelism: only \"thread\" is implemented, got %q", c.Scheduler.Parallelism)
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen must be set when api.enabled is true")
	}
	if c.API.Enabled && (c.API.AdminUser == "" || c.API.AdminPasswordHash == "") {
		return fmt.Errorf("api.admin_user and api.admin_password_hash must be set when api.enabled is true")
	}
	return nil
}

// Save writes the configuration to filename as YAML.
func (c *Config) Save(filename string) error {
	viper.Set("config", c)
	return viper.WriteConfigAs(filename)
}
