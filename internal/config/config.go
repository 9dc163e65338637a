package config

import (
	"errors"
	"fmt"
	"net"
)

// Config represents the unified configuration structure
type Config struct {
	Server        ServerConfig        `json:"server" yaml:"server"`
	Upstream      UpstreamConfig      `json:"upstream" yaml:"upstream"`
	Security      SecurityConfig      `json:"security" yaml:"security"`
	Observability ObservabilityConfig `json:"observability" yaml:"observability"`
	HotReload     HotReloadConfig     `json:"hot_reload" yaml:"hot_reload"`
	TLS           TLSConfig           `json:"tls" yaml:"tls"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server:        DefaultServerConfig(),
		Upstream:      DefaultUpstreamConfig(),
		Security:      DefaultSecurityConfig(),
		Observability: DefaultObservabilityConfig(),
		HotReload:     DefaultHotReloadConfig(),
		TLS:           DefaultTLSConfig(),
	}
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	var errs []error

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server config validation failed: %w", err))
	}
	if err := c.Upstream.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("upstream config validation failed: %w", err))
	}
	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("security config validation failed: %w", err))
	}
	if err := c.Observability.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("observability config validation failed: %w", err))
	}
	if err := c.HotReload.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("hot reload config validation failed: %w", err))
	}
	if err := c.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("tls config validation failed: %w", err))
	}

	// A forwarded call must be able to finish before the server gives up on the response.
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout < c.Upstream.Forward.Total() {
		errs = append(errs, fmt.Errorf("server.write_timeout (%s) must be at least the upstream forward budget (%s)",
			c.Server.WriteTimeout, c.Upstream.Forward.Total()))
	}

	if c.Observability.Metrics.Enabled && c.Server.Port == c.Server.MetricsPort {
		errs = append(errs, errors.New("server.port and server.metrics_port cannot be the same"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// GetServerAddress returns the full server address
func (c *Config) GetServerAddress() string {
	return net.JoinHostPort(c.Server.Host, c.Server.Port)
}

// GetMetricsAddress returns the full metrics server address
func (c *Config) GetMetricsAddress() string {
	return net.JoinHostPort(c.Server.Host, c.Server.MetricsPort)
}
