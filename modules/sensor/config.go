package sensor

import (
	"fmt"
	"time"
)

// Config describes the simulated distance sensor.
type Config struct {
	Name          string        `yaml:"name" toml:"name" env:"NAME" default:"FrontDistanceSensor" desc:"Sensor name reported as the signal sender"`
	Interval      time.Duration `yaml:"interval" toml:"interval" env:"INTERVAL" default:"500ms" desc:"Time between readings"`
	StartDistance float64       `yaml:"start_distance" toml:"start_distance" env:"START_DISTANCE" default:"30" desc:"Initial distance to the obstacle (cm)"`
	ApproachSpeed float64       `yaml:"approach_speed" toml:"approach_speed" env:"APPROACH_SPEED" default:"10" desc:"Closing speed toward the obstacle (cm/s)"`
	Backoff       float64       `yaml:"backoff" toml:"backoff" env:"BACKOFF" default:"20" desc:"Distance regained on each move_backward (cm)"`
}

func DefaultConfig() Config {
	return Config{
		Name:          "FrontDistanceSensor",
		Interval:      500 * time.Millisecond,
		StartDistance: 30,
		ApproachSpeed: 10,
		Backoff:       20,
	}
}

func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, c.Interval)
	}
	if c.StartDistance < 0 || c.ApproachSpeed < 0 || c.Backoff < 0 {
		return ErrNegativeDistance
	}
	return nil
}
