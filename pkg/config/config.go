// Package config provides configuration loading and management for adipoprep.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"adipoprep/internal/logger"
	"adipoprep/pkg/preparator"
)

// CurrentVersion is the schema version written by SaveConfig. Files without
// a version are read as version 1.
const CurrentVersion = 1

// Config represents the application configuration loaded from YAML
type Config struct {
	// Version of the configuration schema
	Version int `yaml:"version"`

	// Input selection
	Input struct {
		// Series selects series of multi-series files: "ALL" or a list like "1,3"
		Series string `yaml:"series"`

		// Recursive walks sub-directories of input directories
		Recursive bool `yaml:"recursive"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// Dir receives the output files; empty writes next to each input
		Dir string `yaml:"dir"`

		// DateStamp appends _yyMMdd_HHmmss to output names
		DateStamp bool `yaml:"date_stamp"`

		// NumberFormat of report values: "US" or "Germany"
		NumberFormat string `yaml:"number_format"`

		// SaveROI writes the valid-data region of every channel as a PNG
		SaveROI bool `yaml:"save_roi"`

		// SavePreview writes a JPEG contact sheet of the output channels
		SavePreview bool `yaml:"save_preview"`

		// DebugDir, when set, receives intermediate planes
		DebugDir string `yaml:"debug_dir"`
	} `yaml:"output"`

	// Composition of the output image
	Composition preparator.ComposeOptions `yaml:"composition"`

	// Channels lists one segmentation task per entry, processed in order
	Channels []preparator.ChannelConfig `yaml:"channels"`

	// Log parameters
	Log struct {
		// Level is a zerolog level name
		Level string `yaml:"level"`

		// File, when set, receives JSON log events in addition to the console
		File string `yaml:"file"`
	} `yaml:"log"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{Version: CurrentVersion}

	cfg.Input.Series = "ALL"

	cfg.Output.NumberFormat = string(preparator.NumberFormatUS)

	cfg.Composition.IncludeDuplicateChannel = true

	cfg.Channels = []preparator.ChannelConfig{preparator.NewChannelConfig(1)}

	cfg.Log.Level = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file. An empty path returns the
// default configuration. Every channel entry starts from the channel
// defaults, so a file only needs to name what it changes.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := Decode(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// Decode merges YAML data over cfg and validates the result.
func Decode(data []byte, cfg *Config) error {
	cfg.Version = 0
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%w: %v", preparator.ErrConfigInvalid, err)
	}

	var raw struct {
		Channels []yaml.Node `yaml:"channels"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", preparator.ErrConfigInvalid, err)
	}
	if raw.Channels != nil {
		cfg.Channels = make([]preparator.ChannelConfig, len(raw.Channels))
		for i := range raw.Channels {
			ch := preparator.NewChannelConfig(0)
			if err := raw.Channels[i].Decode(&ch); err != nil {
				return fmt.Errorf("%w: channel entry %d: %v", preparator.ErrConfigInvalid, i+1, err)
			}
			cfg.Channels[i] = ch
		}
	}

	if cfg.Version == 0 {
		cfg.Version = 1
	}
	return cfg.Validate()
}

// Validate rejects missing or contradictory settings before any image is
// processed.
func (c *Config) Validate() error {
	if c.Version > CurrentVersion {
		return fmt.Errorf("%w: config version %d is newer than supported version %d",
			preparator.ErrConfigInvalid, c.Version, CurrentVersion)
	}
	if len(c.Channels) == 0 {
		return fmt.Errorf("%w: no channel configured", preparator.ErrConfigInvalid)
	}
	for _, ch := range c.Channels {
		if err := ch.Validate(); err != nil {
			return err
		}
	}
	if _, err := preparator.ParseSeriesSelection(c.Input.Series); err != nil {
		return err
	}
	if _, err := preparator.ParseNumberFormat(c.Output.NumberFormat); err != nil {
		return err
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", preparator.ErrConfigInvalid, err)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	out := *cfg
	out.Version = CurrentVersion
	data, err := yaml.Marshal(&out)
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

// NumberFormat returns the parsed report number format.
func (c *Config) NumberFormat() preparator.NumberFormat {
	nf, err := preparator.ParseNumberFormat(c.Output.NumberFormat)
	if err != nil {
		return preparator.NumberFormatUS
	}
	return nf
}

// SeriesSelection returns the parsed series selection.
func (c *Config) SeriesSelection() preparator.SeriesSelection {
	sel, err := preparator.ParseSeriesSelection(c.Input.Series)
	if err != nil {
		return preparator.SeriesSelection{All: true}
	}
	return sel
}
