// Package config provides configuration loading and management for labelmorph.
// It handles loading configuration from YAML or TOML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"labelmorph/pkg/logging"
	"labelmorph/pkg/volumeio"
)

// Config represents the application configuration
type Config struct {
	// Morphology parameters
	Morphology struct {
		// Radius is a single radius or one value per axis
		Radius []float64 `yaml:"radius" toml:"radius"`

		// UseImageSpacing interprets the radius in physical units
		UseImageSpacing bool `yaml:"useImageSpacing" toml:"use_image_spacing"`

		// Workers is the number of goroutines sweeping image lines
		Workers int `yaml:"workers" toml:"workers"`
	} `yaml:"morphology" toml:"morphology"`

	// Output parameters
	Output struct {
		// Compression used for .lbl outputs: none, snappy or zstd
		Compression string `yaml:"compression" toml:"compression"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose" toml:"verbose"`
	} `yaml:"output" toml:"output"`

	// Log destination
	Log logging.Config `yaml:"log" toml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Physical radii and a single worker, as the reference drivers run
	cfg.Morphology.Radius = []float64{1}
	cfg.Morphology.UseImageSpacing = true
	cfg.Morphology.Workers = 1

	cfg.Output.Compression = volumeio.Zstd.String()
	cfg.Output.Verbose = false

	cfg.Log.MaxSize = 100
	cfg.Log.MaxAge = 30

	return cfg
}

// Validate checks values that cannot be checked by the decoders
func (c *Config) Validate() error {
	for i, r := range c.Morphology.Radius {
		if r < 0 {
			return fmt.Errorf("morphology.radius[%d] is negative: %g", i, r)
		}
	}
	if c.Morphology.Workers < 0 {
		return fmt.Errorf("morphology.workers is negative: %d", c.Morphology.Workers)
	}
	if _, err := volumeio.ParseCompression(c.Output.Compression); err != nil {
		return fmt.Errorf("output.compression: %w", err)
	}
	return nil
}

// CompressionMode returns the parsed output compression
func (c *Config) CompressionMode() volumeio.Compression {
	comp, err := volumeio.ParseCompression(c.Output.Compression)
	if err != nil {
		return volumeio.Uncompressed
	}
	return comp
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig loads configuration from a YAML or TOML file.
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("could not decode TOML config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration, choosing TOML or YAML from the file extension
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	file, err := os.Create(configPath)
	if err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	defer file.Close()

	if isTOML(configPath) {
		if err := toml.NewEncoder(file).Encode(cfg); err != nil {
			return fmt.Errorf("error encoding TOML config: %w", err)
		}
	} else {
		enc := yaml.NewEncoder(file)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	return file.Close()
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
