package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	App       AppConfig         `yaml:"app"`
	Logging   LoggingConfig     `yaml:"logging"`
	Queue     QueueConfig       `yaml:"queue"`
	Generator GeneratorConfig   `yaml:"generator"`
	Models    map[string]string `yaml:"models"`
	Channels  []string          `yaml:"channels"`
	Heartbeat HeartbeatConfig   `yaml:"heartbeat"`
	Status    StatusConfig      `yaml:"status"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// QueueConfig holds the queue directory layout and coordinator settings
type QueueConfig struct {
	Root         string        `yaml:"root"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxAttempts is the release-back ceiling before a job is moved to the
	// failed directory; 0 means retry forever
	MaxAttempts int    `yaml:"max_attempts"`
	ResetSignal string `yaml:"reset_signal"`
}

// GeneratorConfig holds the external text-generation CLI settings
type GeneratorConfig struct {
	Binary              string `yaml:"binary"`
	SkipPermissionsFlag string `yaml:"skip_permissions_flag"`
	Model               string `yaml:"model"`
	// Timeout bounds a single invocation; 0 means no timeout
	Timeout time.Duration `yaml:"timeout"`
}

// HeartbeatConfig holds the periodic trigger settings
type HeartbeatConfig struct {
	Interval         time.Duration `yaml:"interval"`
	Prompt           string        `yaml:"prompt"`
	CollectResponses bool          `yaml:"collect_responses"`
	ResponseWait     time.Duration `yaml:"response_wait"`
}

// StatusConfig holds the read-only status HTTP server settings
type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file. Callers that need
// fresh-per-job settings call Load again; nothing is cached.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyDefaults fills in values the reference deployment assumes
func (c *Config) applyDefaults() {
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = time.Hour
	}
	if c.Heartbeat.ResponseWait == 0 {
		c.Heartbeat.ResponseWait = 30 * time.Second
	}
}

// ResolveModel maps a model alias to its concrete identifier via the
// models lookup table; unknown aliases pass through unchanged
func (c *Config) ResolveModel(alias string) string {
	if alias == "" {
		return ""
	}
	if concrete, ok := c.Models[alias]; ok {
		return concrete
	}
	return alias
}

// ValidateRelayConfig checks the settings the coordinator service needs
func (c *Config) ValidateRelayConfig() error {
	if c.Queue.Root == "" {
		return fmt.Errorf("queue root directory is required")
	}

	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("queue poll_interval must be greater than 0")
	}

	if c.Queue.MaxAttempts < 0 {
		return fmt.Errorf("queue max_attempts must not be negative")
	}

	if c.Generator.Binary == "" {
		return fmt.Errorf("generator binary is required")
	}

	if c.Generator.Timeout < 0 {
		return fmt.Errorf("generator timeout must not be negative")
	}

	if c.Status.Enabled && (c.Status.Port < MinPort || c.Status.Port > MaxPort) {
		return fmt.Errorf("invalid status port: %d (must be between %d and %d)", c.Status.Port, MinPort, MaxPort)
	}

	return nil
}

// ValidateHeartbeatConfig checks the settings the trigger service needs
func (c *Config) ValidateHeartbeatConfig() error {
	if c.Queue.Root == "" {
		return fmt.Errorf("queue root directory is required")
	}

	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat interval must be greater than 0")
	}

	if c.Heartbeat.Prompt == "" {
		return fmt.Errorf("heartbeat prompt is required")
	}

	if c.Heartbeat.CollectResponses && c.Heartbeat.ResponseWait <= 0 {
		return fmt.Errorf("heartbeat response_wait must be greater than 0 when collect_responses is set")
	}

	return nil
}
