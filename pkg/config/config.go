// Package config provides configuration loading and management for stacksync.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"stacksync/internal/validate"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Viewer synchronization defaults
	Sync struct {
		// By selects how pan and zoom scale between differently sized images
		By string `yaml:"by" validate:"oneof=box width height pixel"`

		// Pan, Zoom, Slice and Range are the initial per-axis toggles of
		// every viewer
		Pan   bool `yaml:"pan"`
		Zoom  bool `yaml:"zoom"`
		Slice bool `yaml:"slice"`
		Range bool `yaml:"range"`
	} `yaml:"sync"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// Format is the default export image format
		Format string `yaml:"format" validate:"imageformat"`

		// JPEGQuality is used for JPEG exports
		JPEGQuality int `yaml:"jpegQuality" validate:"min=1,max=100"`
	} `yaml:"output"`

	// Line profile parameters
	Profile struct {
		// Samples is the number of points taken along a profile line
		Samples int `yaml:"samples" validate:"min=2,max=100000"`
	} `yaml:"profile"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Sync.By = "box"
	cfg.Sync.Pan = true
	cfg.Sync.Zoom = true
	cfg.Sync.Slice = true
	cfg.Sync.Range = true

	cfg.Output.Verbose = false
	cfg.Output.Format = "png"
	cfg.Output.JPEGQuality = 90

	cfg.Profile.Samples = 1000

	return cfg
}

// Validate checks the configured values
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
