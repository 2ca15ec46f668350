package bridge

import "time"

// Config configures the HTTP bridge.
type Config struct {
	// Addr is the listen address. Port 0 picks a free port.
	Addr string `yaml:"addr" toml:"addr" env:"ADDR" default:":8080" desc:"Listen address of the HTTP bridge"`

	// ReadTimeout bounds how long a request may take to arrive.
	ReadTimeout time.Duration `yaml:"read_timeout" toml:"read_timeout" default:"10s" desc:"HTTP read timeout"`

	// WriteTimeout bounds how long a response may take to be written.
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout" default:"10s" desc:"HTTP write timeout"`

	// ShutdownTimeout bounds graceful shutdown of open connections.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout" default:"5s" desc:"Graceful shutdown timeout"`

	// MaxBodyBytes caps the JSON body of POST /signals/{name}.
	MaxBodyBytes int64 `yaml:"max_body_bytes" toml:"max_body_bytes" default:"65536" desc:"Maximum request body size"`
}

// DefaultConfig returns the configuration used when fields are left zero.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		MaxBodyBytes:    64 << 10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	return c
}
