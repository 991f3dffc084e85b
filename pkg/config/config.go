// Package config provides configuration loading and management for slicesync.
// It reads a YAML file, applies SLICESYNC_* environment overrides and
// provides default values.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. SLICESYNC_GATE_CEILING.
const EnvPrefix = "SLICESYNC"

// Config represents the application configuration
type Config struct {
	// Gate bounds concurrent frame retrievals
	Gate struct {
		// Ceiling is the maximum number of retrievals in flight
		Ceiling int `yaml:"ceiling" json:"ceiling"`
	} `yaml:"gate" json:"gate"`

	// Sync parameters for the anatomical matcher
	Sync struct {
		// CoplanarityThreshold is the minimum |cos| between plane normals
		// for two series to be matched by depth
		CoplanarityThreshold float64 `yaml:"coplanarityThreshold" json:"coplanarityThreshold"`
	} `yaml:"sync" json:"sync"`

	// Catalog is the frame index database
	Catalog struct {
		// Path of the SQLite file
		Path string `yaml:"path" json:"path"`
	} `yaml:"catalog" json:"catalog"`

	// Logging output
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level" json:"level"`

		// Format is text or json
		Format string `yaml:"format" json:"format"`
	} `yaml:"logging" json:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Gate.Ceiling = 30
	cfg.Sync.CoplanarityThreshold = 0.90
	cfg.Catalog.Path = "slicesync.db"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	return cfg
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Gate.Ceiling < 1 {
		errs = append(errs, fmt.Errorf("gate.ceiling must be at least 1, got %d", c.Gate.Ceiling))
	}
	if t := c.Sync.CoplanarityThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("sync.coplanarityThreshold must be in (0, 1], got %g", t))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not text or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// LoadConfig loads configuration from a YAML file and the environment.
// A missing file is not an error: defaults and environment still apply.
func LoadConfig(configPath string) (*Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetDefault("gate.ceiling", def.Gate.Ceiling)
	v.SetDefault("sync.coplanarityThreshold", def.Sync.CoplanarityThreshold)
	v.SetDefault("catalog.path", def.Catalog.Path)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Check if config file exists
	if _, err := os.Stat(configPath); configPath != "" && err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	cfg.Gate.Ceiling = v.GetInt("gate.ceiling")
	cfg.Sync.CoplanarityThreshold = v.GetFloat64("sync.coplanarityThreshold")
	cfg.Catalog.Path = v.GetString("catalog.path")
	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ErrExists is returned by Write when the target file is already there.
var ErrExists = errors.New("config file already exists")

// Marshal renders cfg in the file format LoadConfig reads.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Write validates cfg and saves it as YAML, creating parent directories.
// An existing file is left alone unless overwrite is set.
func Write(cfg *Config, configPath string, overwrite bool) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(configPath, flags, 0644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, configPath)
	}
	if err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("error writing config file: %w", err)
	}
	return f.Close()
}
