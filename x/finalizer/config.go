package finalizer

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval           = 2 * time.Second
	DefaultMaxRequestsPerTick = 256
)

// Config configures a Runner.
type Config struct {
	// Interval between two ticks.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	// MaxRequestsPerTick bounds the requests finalized per kind on each tick.
	// Zero means no bound.
	MaxRequestsPerTick int `mapstructure:"max_requests_per_tick" yaml:"max_requests_per_tick"`
	// Now returns the current time. Defaults to time.Now if nil.
	Now    func() time.Time `mapstructure:"-" yaml:"-"`
	Logger zerolog.Logger   `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig(logger zerolog.Logger) Config {
	return Config{
		Interval:           DefaultInterval,
		MaxRequestsPerTick: DefaultMaxRequestsPerTick,
		Now:                time.Now,
		Logger:             logger.With().Str("component", "finalizer").Logger(),
	}
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("finalizer: interval must be positive")
	}
	if c.MaxRequestsPerTick < 0 {
		return errors.New("finalizer: max_requests_per_tick must not be negative")
	}
	return nil
}
