package config

import (
	"time"

	"testbed/internal/api"
)

const (
	// DefaultStartTimeout bounds a single resource start.
	DefaultStartTimeout = 60 * time.Second
	// DefaultStopTimeout bounds a single resource stop.
	DefaultStopTimeout = 30 * time.Second
)

// Default returns the configuration used when no testbed.yaml exists.
func Default() Config {
	return Config{
		Level: api.LevelUnit,
		Timeouts: Timeouts{
			Start: DefaultStartTimeout,
			Stop:  DefaultStopTimeout,
		},
		Parallel: 1,
		Env:      map[string]string{},
	}
}
