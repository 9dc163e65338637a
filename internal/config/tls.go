package config

import (
	"errors"
	"fmt"
	"os"
)

// TLSConfig contains TLS-specific configuration
type TLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file" yaml:"cert_file"`
	KeyFile  string `json:"key_file" yaml:"key_file"`
}

// DefaultTLSConfig returns default TLS configuration
func DefaultTLSConfig() TLSConfig {
	return TLSConfig{}
}

// Validate validates the TLS configuration
func (c TLSConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.CertFile == "" {
		return errors.New("tls.cert_file is required when TLS is enabled")
	}
	if c.KeyFile == "" {
		return errors.New("tls.key_file is required when TLS is enabled")
	}
	for _, f := range []string{c.CertFile, c.KeyFile} {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("TLS file not readable: %w", err)
		}
	}
	return nil
}
