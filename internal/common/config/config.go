// Package config provides configuration management for chanbridge.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for chanbridge.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Node       NodeConfig       `mapstructure:"node"`
	Bridge     BridgeConfig     `mapstructure:"bridge"`
	Permission PermissionConfig `mapstructure:"permission"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// NATSConfig holds NATS messaging configuration.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// NodeConfig holds Node.js runtime detection configuration.
type NodeConfig struct {
	// Path overrides runtime discovery with an explicit node binary path.
	Path string `mapstructure:"path"`

	// MinMajorVersion is the lowest node major version accepted by verification.
	MinMajorVersion int `mapstructure:"minMajorVersion"`

	// DetectTimeout bounds each `node --version` probe, in seconds.
	DetectTimeout int `mapstructure:"detectTimeout"`
}

// BridgeConfig holds bridge script and streaming configuration.
type BridgeConfig struct {
	// ScriptPath is the entry point script the node child process runs.
	ScriptPath string `mapstructure:"scriptPath"`

	// WorkDir is the fallback working directory when a channel has none.
	WorkDir string `mapstructure:"workDir"`

	// TempDirBase is the parent directory for per-run scratch directories.
	TempDirBase string `mapstructure:"tempDirBase"`

	// InterruptGrace is how long to wait after SIGINT before SIGKILL, in seconds.
	InterruptGrace int `mapstructure:"interruptGrace"`
}

// PermissionConfig holds dialog arbitration configuration.
type PermissionConfig struct {
	// DialogTimeout bounds tool permission dialogs, in seconds. Zero disables
	// the timeout. Questions and plan approvals are never bounded.
	DialogTimeout int `mapstructure:"dialogTimeout"`
}

// StorageConfig holds transcript persistence configuration.
type StorageConfig struct {
	// Driver selects the transcript store: "memory" or "sqlite".
	Driver string `mapstructure:"driver"`

	// Path is the sqlite database file path when driver is "sqlite".
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// DetectTimeoutDuration returns the node probe timeout as a time.Duration.
func (n *NodeConfig) DetectTimeoutDuration() time.Duration {
	return time.Duration(n.DetectTimeout) * time.Second
}

// InterruptGraceDuration returns the SIGINT grace period as a time.Duration.
func (b *BridgeConfig) InterruptGraceDuration() time.Duration {
	return time.Duration(b.InterruptGrace) * time.Second
}

// DialogTimeoutDuration returns the permission dialog timeout as a time.Duration.
func (p *PermissionConfig) DialogTimeoutDuration() time.Duration {
	return time.Duration(p.DialogTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("CHANBRIDGE_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "chanbridge-cluster")
	v.SetDefault("nats.clientId", "chanbridge-client")
	v.SetDefault("nats.maxReconnects", 10)

	// Node runtime defaults
	v.SetDefault("node.path", "")
	v.SetDefault("node.minMajorVersion", 18)
	v.SetDefault("node.detectTimeout", 10)

	// Bridge defaults
	v.SetDefault("bridge.scriptPath", "")
	v.SetDefault("bridge.workDir", "")
	v.SetDefault("bridge.tempDirBase", "")
	v.SetDefault("bridge.interruptGrace", 5)

	// Permission defaults
	v.SetDefault("permission.dialogTimeout", 35)

	// Storage defaults
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.path", "chanbridge.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix CHANBRIDGE_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/chanbridge/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("CHANBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("node.minMajorVersion", "CHANBRIDGE_NODE_MIN_MAJOR_VERSION")
	_ = v.BindEnv("node.detectTimeout", "CHANBRIDGE_NODE_DETECT_TIMEOUT")
	_ = v.BindEnv("bridge.scriptPath", "CHANBRIDGE_BRIDGE_SCRIPT_PATH")
	_ = v.BindEnv("bridge.workDir", "CHANBRIDGE_BRIDGE_WORK_DIR")
	_ = v.BindEnv("bridge.tempDirBase", "CHANBRIDGE_BRIDGE_TEMP_DIR_BASE")
	_ = v.BindEnv("bridge.interruptGrace", "CHANBRIDGE_BRIDGE_INTERRUPT_GRACE")
	_ = v.BindEnv("permission.dialogTimeout", "CHANBRIDGE_PERMISSION_DIALOG_TIMEOUT")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/chanbridge/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	// Server validation - always required
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	// NATS validation - optional (uses in-memory event bus if not set)
	// No validation needed - empty URL means use in-memory

	if cfg.Node.MinMajorVersion <= 0 {
		errs = append(errs, "node.minMajorVersion must be positive")
	}
	if cfg.Node.DetectTimeout <= 0 {
		errs = append(errs, "node.detectTimeout must be positive")
	}

	if cfg.Bridge.InterruptGrace <= 0 {
		errs = append(errs, "bridge.interruptGrace must be positive")
	}

	if cfg.Permission.DialogTimeout < 0 {
		errs = append(errs, "permission.dialogTimeout must not be negative")
	}

	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory":
	case "sqlite":
		if cfg.Storage.Path == "" {
			errs = append(errs, "storage.path is required when storage.driver is sqlite")
		}
	default:
		errs = append(errs, "storage.driver must be one of: memory, sqlite")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
