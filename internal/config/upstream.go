package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/leslieo2/prononciation-gateway/internal/constants"
)

// UpstreamConfig describes the single backend the gateway forwards to.
// BaseURL is fixed for the lifetime of the process.
type UpstreamConfig struct {
	BaseURL         string        `json:"base_url" yaml:"base_url"`
	Label           string        `json:"label" yaml:"label"`
	PingPath        string        `json:"ping_path" yaml:"ping_path"`
	HealthPath      string        `json:"health_path" yaml:"health_path"`
	MaxResponseSize int64         `json:"max_response_size" yaml:"max_response_size"`
	Forward         TimeoutConfig `json:"forward" yaml:"forward"`
	Probe           TimeoutConfig `json:"probe" yaml:"probe"`
}

// TimeoutConfig splits an upstream call into phases.
type TimeoutConfig struct {
	Connect time.Duration `json:"connect" yaml:"connect"`
	Read    time.Duration `json:"read" yaml:"read"`
	Write   time.Duration `json:"write" yaml:"write"`
	Pool    time.Duration `json:"pool" yaml:"pool"`
}

// Total is the ceiling for one call, every phase included.
func (t TimeoutConfig) Total() time.Duration {
	return t.Connect + t.Read + t.Write + t.Pool
}

// Validate validates the timeout phases
func (t TimeoutConfig) Validate() error {
	if t.Connect <= 0 || t.Read <= 0 || t.Write <= 0 || t.Pool <= 0 {
		return errors.New("connect, read, write and pool timeouts must all be positive")
	}
	return nil
}

// DefaultUpstreamConfig returns default upstream configuration
func DefaultUpstreamConfig() UpstreamConfig {
	return UpstreamConfig{
		BaseURL:         constants.DefaultUpstreamURL,
		Label:           constants.DefaultUpstreamLabel,
		PingPath:        constants.PathPing,
		HealthPath:      constants.PathHealth,
		MaxResponseSize: 10 * 1024 * 1024,
		Forward: TimeoutConfig{
			Connect: 10 * time.Second,
			Read:    60 * time.Second,
			Write:   30 * time.Second,
			Pool:    10 * time.Second,
		},
		// Liveness checks fail fast rather than wait out a cold start.
		Probe: TimeoutConfig{
			Connect: 10 * time.Second,
			Read:    30 * time.Second,
			Write:   10 * time.Second,
			Pool:    5 * time.Second,
		},
	}
}

// Normalize strips the trailing slash from the base URL.
func (u *UpstreamConfig) Normalize() {
	u.BaseURL = strings.TrimRight(strings.TrimSpace(u.BaseURL), "/")
}

// Validate validates the upstream configuration
func (u UpstreamConfig) Validate() error {
	var errs []error

	if err := validateBaseURL(u.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("base_url: %w", err))
	}
	if u.Label == "" {
		errs = append(errs, errors.New("label cannot be empty"))
	}
	if !strings.HasPrefix(u.PingPath, "/") {
		errs = append(errs, errors.New("ping_path must start with /"))
	}
	if !strings.HasPrefix(u.HealthPath, "/") {
		errs = append(errs, errors.New("health_path must start with /"))
	}
	if u.MaxResponseSize <= 0 {
		errs = append(errs, errors.New("max_response_size must be positive"))
	}
	if err := u.Forward.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("forward: %w", err))
	}
	if err := u.Probe.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("probe: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return errors.New("cannot be empty")
	}
	if strings.HasSuffix(raw, "/") {
		return errors.New("must not end with a slash")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("must be a valid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("must use http or https scheme")
	}
	if parsed.Host == "" {
		return errors.New("must have a host")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return errors.New("must not carry a query or fragment")
	}
	return nil
}
