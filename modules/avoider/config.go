package avoider

import "fmt"

// Config holds configuration for the obstacle avoider.
type Config struct {
	// Threshold is the distance in centimetres below which the avoider backs off.
	Threshold float64 `yaml:"threshold" toml:"threshold" env:"THRESHOLD" default:"10" desc:"Back off when an obstacle is closer than this (cm)"`

	// SelfTest emits a sample obstacle_detected during init.
	SelfTest bool `yaml:"self_test" toml:"self_test" env:"SELF_TEST" default:"false" desc:"Emit a sample obstacle reading during init"`

	// SensorName labels the sender of the self-test emission.
	SensorName string `yaml:"sensor_name" toml:"sensor_name" env:"SENSOR_NAME" default:"FrontDistanceSensor" desc:"Sender name used by the self-test"`
}

// DefaultConfig returns the configuration used by New when none is given.
func DefaultConfig() Config {
	return Config{
		Threshold:  10,
		SensorName: "FrontDistanceSensor",
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Threshold <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, c.Threshold)
	}
	return nil
}
