// Package config loads runner configuration from .moth.config.json files
// and merges it with command-line flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the moth configuration file.
type Config struct {
	TimeoutMs       int      `json:"timeout,omitempty"` // per-test default, milliseconds
	Retries         int      `json:"retries,omitempty"`
	RetryDelayMs    int      `json:"retryDelay,omitempty"` // milliseconds
	RetryStrategy   string   `json:"retryStrategy,omitempty"`
	Reporters       []string `json:"reporters,omitempty"`
	OutputDir       string   `json:"outputDir,omitempty"`
	Parallel        *bool    `json:"parallel,omitempty"`
	Concurrency     int      `json:"concurrency,omitempty"`
	Bail            *bool    `json:"bail,omitempty"`
	Strict          *bool    `json:"strict,omitempty"`
	FailOnScript    *bool    `json:"failOnScriptError,omitempty"`
	RateLimit       float64  `json:"rateLimit,omitempty"` // tool calls per second
	HistoryDB       string   `json:"historyDb,omitempty"`
	Verbose         *bool    `json:"verbose,omitempty"`
	NoColor         *bool    `json:"noColor,omitempty"`
	CacheCapacity   int      `json:"cacheCapacity,omitempty"`
}

// BoolPtr returns a pointer to a bool value.
func BoolPtr(b bool) *bool { return &b }

func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetParallel returns the parallel setting, defaulting to false.
func (c *Config) GetParallel() bool { return getBool(c.Parallel, false) }

// GetBail returns the bail setting, defaulting to false.
func (c *Config) GetBail() bool { return getBool(c.Bail, false) }

// GetStrict returns the strict-validation setting, defaulting to false.
func (c *Config) GetStrict() bool { return getBool(c.Strict, false) }

// GetFailOnScript returns the fail-on-script-error setting, defaulting to false.
func (c *Config) GetFailOnScript() bool { return getBool(c.FailOnScript, false) }

// GetVerbose returns the verbose setting, defaulting to false.
func (c *Config) GetVerbose() bool { return getBool(c.Verbose, false) }

// GetNoColor returns the no-color setting, defaulting to false.
func (c *Config) GetNoColor() bool { return getBool(c.NoColor, false) }

// Filenames contains the recognized config file names, checked in order.
var Filenames = []string{
	".moth.config.json",
	"moth.config.json",
	".mothrc",
	".mothrc.json",
}

// Load reads configuration from the given path, or searches the current
// directory when path is empty. A missing config file yields defaults.
func Load(path string) (*Config, error) {
	if path != "" {
		return loadFile(path)
	}
	return FindAndLoad(".")
}

// FindAndLoad searches dir for a recognized config file.
func FindAndLoad(dir string) (*Config, error) {
	for _, filename := range Filenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadFile(configPath)
		}
	}
	return Default(), nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Write persists the config as indented JSON, used by the init command.
func (c *Config) Write(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
