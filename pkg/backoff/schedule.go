// pkg/backoff/schedule.go
package backoff

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ScheduleConfig describes a never-ending reconnect schedule: the base delay
// starts at InitialInterval, doubles after every fault and is capped at
// MaxInterval. A uniform random amount in [0, Jitter) is added on top.
type ScheduleConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Jitter          time.Duration `mapstructure:"jitter"`
}

// ApplyDefaults fills 1s / 30s / 1s for unset fields. A negative Jitter
// disables jitter.
func (c *ScheduleConfig) ApplyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 30 * time.Second
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = c.InitialInterval
	}
	if c.Jitter == 0 {
		c.Jitter = time.Second
	}
}

// Schedule is not safe for concurrent use; it belongs to a single
// supervising loop.
type Schedule struct {
	bo     *backoff.ExponentialBackOff
	jitter time.Duration
}

// NewSchedule builds a Schedule from cfg (defaults applied).
func NewSchedule(cfg ScheduleConfig) *Schedule {
	cfg.ApplyDefaults()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialInterval
	bo.MaxInterval = cfg.MaxInterval
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	jitter := cfg.Jitter
	if jitter < 0 {
		jitter = 0
	}
	return &Schedule{bo: bo, jitter: jitter}
}

// NextBase returns the current base delay and advances the schedule.
func (s *Schedule) NextBase() time.Duration {
	return s.bo.NextBackOff()
}

// Next returns the current base delay plus jitter and advances the schedule.
func (s *Schedule) Next() time.Duration {
	d := s.NextBase()
	if s.jitter > 0 {
		d += time.Duration(rand.Int64N(int64(s.jitter)))
	}
	return d
}

// Reset puts the schedule back to InitialInterval.
func (s *Schedule) Reset() { s.bo.Reset() }
