// Package config loads harmony's configuration.
//
// Precedence is defaults, then the YAML file, then HARMONY_* environment
// variables. The result is validated before it is returned and is read-only
// afterwards.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read by Load when HARMONY_CONFIG_PATH is unset.
const DefaultPath = "harmony.yaml"

// Config is the root configuration structure.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Schema     SchemaConfig     `yaml:"schema"`
	Files      FilesConfig      `yaml:"files"`
	Log        LogConfig        `yaml:"log"`
	Controller ControllerConfig `yaml:"controller"`
	Account    AccountConfig    `yaml:"account"`
}

// DatabaseConfig locates the record store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SchemaConfig locates the CUE entity declarations.
type SchemaConfig struct {
	Dir string `yaml:"dir"`
}

// FilesConfig sets where relative file locations are resolved.
type FilesConfig struct {
	Root string `yaml:"root"`
}

// LogConfig contains logging settings. An empty File logs to stderr.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// ControllerConfig contains record controller settings.
type ControllerConfig struct {
	WatchFiles   bool     `yaml:"watch_files"`
	DrainTimeout Duration `yaml:"drain_timeout"`
}

// AccountConfig identifies the remote account records are synced with.
type AccountConfig struct {
	ServiceIdentifier string `yaml:"service_identifier"`
	Name              string `yaml:"name"`
	Email             string `yaml:"email"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration from HARMONY_CONFIG_PATH, or DefaultPath.
// A missing file is not an error.
func Load() (*Config, error) {
	cfg := Defaults()

	path := getEnv("HARMONY_CONFIG_PATH", DefaultPath)
	if err := loadYAMLFile(cfg, path, false); err != nil {
		return nil, err
	}
	return finish(cfg)
}

// LoadFromFile loads configuration from path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()
	if err := loadYAMLFile(cfg, path, true); err != nil {
		return nil, err
	}
	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "harmony.db",
		},
		Schema: SchemaConfig{
			Dir: "schema",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Controller: ControllerConfig{
			DrainTimeout: Duration(30 * time.Second),
		},
	}
}

func loadYAMLFile(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies HARMONY_* variables. Only non-empty variables
// override; malformed numbers, booleans and durations are errors.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("HARMONY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("HARMONY_SCHEMA_DIR"); v != "" {
		cfg.Schema.Dir = v
	}
	if v := os.Getenv("HARMONY_FILES_ROOT"); v != "" {
		cfg.Files.Root = v
	}

	if v := os.Getenv("HARMONY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HARMONY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("HARMONY_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("HARMONY_LOG_MAX_SIZE_MB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HARMONY_LOG_MAX_SIZE_MB: %w", err)
		}
		cfg.Log.MaxSizeMB = n
	}
	if v := os.Getenv("HARMONY_LOG_MAX_BACKUPS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HARMONY_LOG_MAX_BACKUPS: %w", err)
		}
		cfg.Log.MaxBackups = n
	}

	if v := os.Getenv("HARMONY_WATCH_FILES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("HARMONY_WATCH_FILES: %w", err)
		}
		cfg.Controller.WatchFiles = b
	}
	if v := os.Getenv("HARMONY_DRAIN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HARMONY_DRAIN_TIMEOUT: %w", err)
		}
		cfg.Controller.DrainTimeout = Duration(d)
	}

	if v := os.Getenv("HARMONY_ACCOUNT_SERVICE"); v != "" {
		cfg.Account.ServiceIdentifier = v
	}
	if v := os.Getenv("HARMONY_ACCOUNT_NAME"); v != "" {
		cfg.Account.Name = v
	}
	if v := os.Getenv("HARMONY_ACCOUNT_EMAIL"); v != "" {
		cfg.Account.Email = v
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		return errors.New("log.max_size_mb and log.max_backups must not be negative")
	}
	if c.Controller.DrainTimeout <= 0 {
		return fmt.Errorf("controller.drain_timeout must be positive, got %s", c.Controller.DrainTimeout.Std())
	}
	if c.Account.Name != "" && c.Account.ServiceIdentifier == "" {
		return errors.New("account.service_identifier is required when an account is configured")
	}
	return nil
}

// ParseLevel parses a slog level name such as "debug" or "warn".
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
