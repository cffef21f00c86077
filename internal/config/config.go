// Package config loads the runtime configuration file. Everything has a
// working zero-value default; the file only overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/warrant/internal/invariant"
	"github.com/roach88/warrant/internal/monitor"
)

// Config is the on-disk runtime configuration.
type Config struct {
	// LogDir is where the ndjson event logs are written.
	LogDir string `yaml:"log_dir"`
	// ArchivePath is the sqlite archive database. Empty disables the
	// archive; ndjson logs are still written.
	ArchivePath string `yaml:"archive_path"`
	// EventBuffer sizes the monitoring event bus.
	EventBuffer int `yaml:"event_buffer"`

	// Budgets overrides the operation latency budgets, milliseconds per
	// operation name.
	Budgets map[string]float64 `yaml:"budgets"`

	// SLOs are additional objectives registered after the defaults.
	SLOs []SLOConfig `yaml:"slos"`

	// SweepInterval is the SLO evaluation period.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// StaleSweepInterval is the stale-alert sweep period.
	StaleSweepInterval time.Duration `yaml:"stale_sweep_interval"`
}

// SLOConfig mirrors an SLO definition in file form.
type SLOConfig struct {
	Name              string        `yaml:"name"`
	Description       string        `yaml:"description"`
	Target            float64       `yaml:"target"`
	Unit              string        `yaml:"unit"`
	Window            time.Duration `yaml:"window"`
	AlertThreshold    float64       `yaml:"alert_threshold"`
	CriticalThreshold float64       `yaml:"critical_threshold"`
	LowerIsWorse      bool          `yaml:"lower_is_worse"`
}

// Definition converts the file form into an SLO definition.
func (s SLOConfig) Definition() monitor.SLODefinition {
	return monitor.SLODefinition{
		Name:              s.Name,
		Description:       s.Description,
		Target:            s.Target,
		Unit:              s.Unit,
		Window:            s.Window,
		AlertThreshold:    s.AlertThreshold,
		CriticalThreshold: s.CriticalThreshold,
		LowerIsWorse:      s.LowerIsWorse,
	}
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		LogDir: "logs",
	}
}

// Load reads and parses a config file. Unknown fields are rejected, which
// catches typos before they silently disable an override.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config: invalid %s: %w", path, err)
	}
	return cfg, nil
}

// InvariantOptions converts the config into invariant engine options.
func (c Config) InvariantOptions() []invariant.Option {
	if len(c.Budgets) == 0 {
		return nil
	}
	return []invariant.Option{invariant.WithBudgets(invariant.MergeBudgets(c.Budgets))}
}

// MonitorOptions converts the config into monitoring engine options.
// Additional SLOs from the file are registered separately via SLODefinitions.
func (c Config) MonitorOptions() []monitor.Option {
	var opts []monitor.Option
	if c.EventBuffer > 0 {
		opts = append(opts, monitor.WithEventBuffer(c.EventBuffer))
	}
	if c.SweepInterval > 0 {
		opts = append(opts, monitor.WithSweepInterval(c.SweepInterval))
	}
	if c.StaleSweepInterval > 0 {
		opts = append(opts, monitor.WithStaleSweepInterval(c.StaleSweepInterval))
	}
	return opts
}

// SLODefinitions returns the additional objectives from the file.
func (c Config) SLODefinitions() []monitor.SLODefinition {
	defs := make([]monitor.SLODefinition, 0, len(c.SLOs))
	for _, s := range c.SLOs {
		defs = append(defs, s.Definition())
	}
	return defs
}

func (c Config) validate() error {
	if c.LogDir == "" {
		return fmt.Errorf("log_dir must not be empty")
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("event_buffer must not be negative")
	}
	if c.SweepInterval < 0 || c.StaleSweepInterval < 0 {
		return fmt.Errorf("sweep intervals must not be negative")
	}
	for name, budget := range c.Budgets {
		if budget <= 0 {
			return fmt.Errorf("budget %q must be positive, got %v", name, budget)
		}
	}
	for _, slo := range c.SLOs {
		if slo.Name == "" {
			return fmt.Errorf("slo name must not be empty")
		}
		if slo.Target <= 0 || slo.Window <= 0 {
			return fmt.Errorf("slo %q: target and window must be positive", slo.Name)
		}
	}
	return nil
}
