package config

import (
	"time"

	"testbed/internal/api"
)

// Config is the run configuration read from testbed.yaml.
type Config struct {
	// Level selects the default start strategy.
	Level api.TestLevel `yaml:"level"`
	// Strategy overrides the level default when set.
	Strategy     api.StartStrategy `yaml:"strategy,omitempty"`
	Backend      string            `yaml:"backend,omitempty"`
	MockProvider string            `yaml:"mockProvider,omitempty"`
	Timeouts     Timeouts          `yaml:"timeouts"`
	// Parallel bounds how many test contexts a suite runs at once.
	Parallel int `yaml:"parallel"`
	// EnvFile is a dotenv file, relative to the config directory.
	EnvFile string `yaml:"envFile,omitempty"`
	// Resources overrides declared resource properties by resource name.
	Resources map[string]map[string]string `yaml:"resources,omitempty"`

	// Env is the environment used for ${VAR} expansion and the .Env
	// template data: the env file overlaid by the process environment.
	Env map[string]string `yaml:"-"`
	// Dir is the directory the configuration was loaded from.
	Dir string `yaml:"-"`
}

// Timeouts bound resource lifecycle calls.
type Timeouts struct {
	Start time.Duration `yaml:"start"`
	Stop  time.Duration `yaml:"stop"`
}

// EffectiveStrategy returns Strategy if set, else the level default.
func (c Config) EffectiveStrategy() api.StartStrategy {
	if s := c.Strategy.Normalize(); s != api.StrategyUndefined {
		return s
	}
	return c.Level.DefaultStrategy()
}
