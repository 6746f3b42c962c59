// Package config loads helmsman configuration from .helmsman/config.yaml,
// applies environment overrides, and exposes typed sections for each
// subsystem.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"helmsman/internal/dispatch"
	"helmsman/internal/pacemaker"
)

// Config holds all helmsman configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Policy configures the LLM policy client.
	Policy PolicyConfig `yaml:"policy"`

	// Pacemaker configures budgets and anomaly thresholds.
	Pacemaker PacemakerConfig `yaml:"pacemaker"`

	// Dispatch configures batch execution.
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Store configures session persistence.
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// PolicyConfig configures the LLM policy client.
type PolicyConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// PacemakerConfig configures the budget governor. Zero values fall back to
// the pacemaker defaults, so a partial YAML section is fine.
type PacemakerConfig struct {
	MinLoops           int     `yaml:"min_loops"`
	MaxLoops           int     `yaml:"max_loops"`
	ConversationBudget int     `yaml:"conversation_budget"`
	DefaultBudget      int     `yaml:"default_budget"`
	PlannedBase        int     `yaml:"planned_base"`
	LowThreshold       float64 `yaml:"low_threshold"`
	HighThreshold      float64 `yaml:"high_threshold"`
}

// DispatchConfig configures batch execution.
type DispatchConfig struct {
	MaxActionsPerBatch int     `yaml:"max_actions_per_batch"`
	SafetyThreshold    float64 `yaml:"safety_threshold"`
	FailFastErrors     int     `yaml:"fail_fast_errors"`
}

// StoreConfig configures session persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	File  string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	pm := pacemaker.DefaultConfig()
	dp := dispatch.DefaultConfig()
	return &Config{
		Name:    "helmsman",
		Version: "0.3.0",

		Policy: PolicyConfig{
			Model:       "gemini-2.0-flash",
			Temperature: 0.2,
			Timeout:     "120s",
		},

		Pacemaker: PacemakerConfig{
			MinLoops:           pm.MinLoops,
			MaxLoops:           pm.MaxLoops,
			ConversationBudget: pm.ConversationBudget,
			DefaultBudget:      pm.DefaultBudget,
			PlannedBase:        pm.PlannedBase,
			LowThreshold:       pm.LowThreshold,
			HighThreshold:      pm.HighThreshold,
		},

		Dispatch: DispatchConfig{
			MaxActionsPerBatch: dp.MaxActionsPerBatch,
			SafetyThreshold:    dp.SafetyThreshold,
			FailFastErrors:     dp.FailFastErrors,
		},

		Store: StoreConfig{
			DatabasePath: filepath.Join(".helmsman", "sessions.db"),
		},

		Logging: LoggingConfig{
			Level: "info",
			File:  "helmsman.log",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(".helmsman", "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("HELMSMAN_API_KEY"); key != "" {
		c.Policy.APIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Policy.APIKey = key
	}

	if model := os.Getenv("HELMSMAN_MODEL"); model != "" {
		c.Policy.Model = model
	}

	if path := os.Getenv("HELMSMAN_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// GetPolicyTimeout returns the policy call timeout as a duration.
func (c *Config) GetPolicyTimeout() time.Duration {
	d, err := time.ParseDuration(c.Policy.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Policy.APIKey == "" {
		return fmt.Errorf("policy API key not configured (set HELMSMAN_API_KEY or GEMINI_API_KEY)")
	}
	if c.Pacemaker.MinLoops > 0 && c.Pacemaker.MaxLoops > 0 && c.Pacemaker.MinLoops > c.Pacemaker.MaxLoops {
		return fmt.Errorf("pacemaker min_loops (%d) exceeds max_loops (%d)", c.Pacemaker.MinLoops, c.Pacemaker.MaxLoops)
	}
	if c.Dispatch.SafetyThreshold < 0 || c.Dispatch.SafetyThreshold > 1 {
		return fmt.Errorf("dispatch safety_threshold must be in [0,1], got %v", c.Dispatch.SafetyThreshold)
	}
	return nil
}

// ToPacemaker converts the YAML section into a pacemaker config, keeping
// pacemaker defaults for any field left at zero.
func (c *Config) ToPacemaker() pacemaker.Config {
	pm := pacemaker.DefaultConfig()
	if c.Pacemaker.MinLoops > 0 {
		pm.MinLoops = c.Pacemaker.MinLoops
	}
	if c.Pacemaker.MaxLoops > 0 {
		pm.MaxLoops = c.Pacemaker.MaxLoops
	}
	if c.Pacemaker.ConversationBudget > 0 {
		pm.ConversationBudget = c.Pacemaker.ConversationBudget
	}
	if c.Pacemaker.DefaultBudget > 0 {
		pm.DefaultBudget = c.Pacemaker.DefaultBudget
	}
	if c.Pacemaker.PlannedBase > 0 {
		pm.PlannedBase = c.Pacemaker.PlannedBase
	}
	if c.Pacemaker.LowThreshold > 0 {
		pm.LowThreshold = c.Pacemaker.LowThreshold
	}
	if c.Pacemaker.HighThreshold > 0 {
		pm.HighThreshold = c.Pacemaker.HighThreshold
	}
	return pm
}

// ToDispatch converts the YAML section into a dispatch config.
func (c *Config) ToDispatch() dispatch.Config {
	dp := dispatch.DefaultConfig()
	if c.Dispatch.MaxActionsPerBatch > 0 {
		dp.MaxActionsPerBatch = c.Dispatch.MaxActionsPerBatch
	}
	if c.Dispatch.SafetyThreshold > 0 {
		dp.SafetyThreshold = c.Dispatch.SafetyThreshold
	}
	if c.Dispatch.FailFastErrors > 0 {
		dp.FailFastErrors = c.Dispatch.FailFastErrors
	}
	return dp
}
