// Package config provides configuration loading and management for semcheck.
package config

import (
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/semcheck/report"
	"github.com/c360studio/semcheck/rule"
)

// Config represents the complete semcheck configuration. Values are
// layered: defaults, then the project config file, then SEMCHECK_*
// environment variables, then CLI flags.
type Config struct {
	// Rules is the path to the rule-set document (empty = bundled default).
	Rules string `koanf:"rules"`

	// Format is the report output format: json, text or sarif.
	Format string `koanf:"format"`

	// SeverityGate is the lowest severity that participates in the gate.
	SeverityGate string `koanf:"severity_gate"`

	// ImportantThreshold is how many important findings still pass the gate.
	ImportantThreshold int `koanf:"important_threshold"`

	// FailOn overrides the severity level used for the exit-code decision.
	// Empty means the gate decision is used unchanged.
	FailOn string `koanf:"fail_on"`

	// Workers is the extraction/evaluation parallelism (0 = GOMAXPROCS).
	Workers int `koanf:"workers"`

	// FileTimeout is the per-file extraction budget. Files exceeding it are
	// reported as unparseable.
	FileTimeout time.Duration `koanf:"file_timeout"`

	// GracePeriod bounds how long in-flight files may run after the run is
	// cancelled.
	GracePeriod time.Duration `koanf:"grace_period"`

	// MinConfidence is the reporting floor for pattern detectors that do
	// not set their own.
	MinConfidence float64 `koanf:"min_confidence"`

	// Include and Exclude filter candidate files with doublestar globs
	// relative to the analysis root. An empty include list means all
	// supported files.
	Include []string `koanf:"include"`
	Exclude []string `koanf:"exclude"`

	// NoCache disables the fact cache.
	NoCache bool `koanf:"no_cache"`

	// CachePath locates the fact cache, relative to the analysis root
	// unless absolute.
	CachePath string `koanf:"cache_path"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `koanf:"log_level"`
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Format:        report.FormatJSON,
		SeverityGate:  string(rule.SeverityImportant),
		FileTimeout:   10 * time.Second,
		GracePeriod:   2 * time.Second,
		MinConfidence: rule.DefaultMinConfidence,
		CachePath:     ".semcheck/facts.db",
		LogLevel:      "info",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Format {
	case report.FormatJSON, report.FormatText, report.FormatSARIF:
	default:
		return fmt.Errorf("format must be json, text or sarif, got %q", c.Format)
	}
	if _, err := rule.ParseSeverity(c.SeverityGate); err != nil {
		return fmt.Errorf("severity_gate: %w", err)
	}
	if c.FailOn != "" {
		if _, err := rule.ParseSeverity(c.FailOn); err != nil {
			return fmt.Errorf("fail_on: %w", err)
		}
	}
	if c.ImportantThreshold < 0 {
		return fmt.Errorf("important_threshold must not be negative")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.FileTimeout <= 0 {
		return fmt.Errorf("file_timeout must be positive")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace_period must not be negative")
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be within 0..1")
	}
	for _, p := range c.Include {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid include pattern %q", p)
		}
	}
	for _, p := range c.Exclude {
		if !doublestar.ValidatePattern(p) {
			return fmt.Errorf("invalid exclude pattern %q", p)
		}
	}
	if c.CachePath == "" && !c.NoCache {
		return fmt.Errorf("cache_path is required unless no_cache is set")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn or error, got %q", c.LogLevel)
	}
	return nil
}

// Gate translates the gate settings for the aggregator.
func (c *Config) Gate() report.GateConfig {
	level, _ := rule.ParseSeverity(c.SeverityGate)
	return report.GateConfig{
		Level:              level,
		ImportantThreshold: c.ImportantThreshold,
	}
}
