package api

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds the operational HTTP server configuration.
type Config struct {
	Host string
	Port int

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// ReadinessTimeout bounds the readiness checks of one /ready request
	ReadinessTimeout time.Duration
}

// DefaultConfig returns a configuration listening on host:port.
func DefaultConfig(host string, port int) *Config {
	return &Config{
		Host:             host,
		Port:             port,
		ReadTimeout:      10 * time.Second,
		WriteTimeout:     10 * time.Second,
		IdleTimeout:      60 * time.Second,
		ShutdownTimeout:  10 * time.Second,
		ReadinessTimeout: 2 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.ReadinessTimeout <= 0 {
		return errors.New("readiness timeout must be positive")
	}
	return nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
