package config

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/leslieo2/prononciation-gateway/internal/constants"
)

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
	Headers   SecurityHeaders `json:"headers" yaml:"headers"`
	CORS      CORSConfig      `json:"cors" yaml:"cors"`
}

// RateLimitConfig contains per-client rate limiting configuration.
// Clients are keyed by their remote IP.
type RateLimitConfig struct {
	Enabled           bool          `json:"enabled" yaml:"enabled"`
	RequestsPerSecond int           `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int           `json:"burst_size" yaml:"burst_size"`
	CleanupInterval   time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
	MaxCacheSize      int           `json:"max_cache_size" yaml:"max_cache_size"`
	TrustProxyHeaders bool          `json:"trust_proxy_headers" yaml:"trust_proxy_headers"`
}

// SecurityHeaders contains security headers configuration
type SecurityHeaders struct {
	Enabled    bool `json:"enabled" yaml:"enabled"`
	HSTSMaxAge int  `json:"hsts_max_age" yaml:"hsts_max_age"`
}

// CORSConfig contains CORS configuration
type CORSConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins" yaml:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods" yaml:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers" yaml:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials" yaml:"allow_credentials"`
	MaxAge           int      `json:"max_age" yaml:"max_age"`
}

// DefaultSecurityConfig returns default security configuration
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		RateLimit: DefaultRateLimitConfig(),
		Headers:   DefaultSecurityHeaders(),
		CORS:      DefaultCORSConfig(),
	}
}

// DefaultRateLimitConfig returns default rate limit configuration.
// Limiting is opt-in.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           false,
		RequestsPerSecond: 20,
		BurstSize:         40,
		CleanupInterval:   constants.RateLimitCleanupInterval,
		MaxCacheSize:      constants.RateLimitMaxCacheSize,
		TrustProxyHeaders: true,
	}
}

// DefaultSecurityHeaders returns default security headers
func DefaultSecurityHeaders() SecurityHeaders {
	return SecurityHeaders{
		Enabled:    true,
		HSTSMaxAge: 31536000, // 1 year
	}
}

// DefaultCORSConfig returns default CORS configuration.
// Browser clients of the pronunciation app call from arbitrary origins.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		Enabled:          true,
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}
}

// Validate validates the security configuration
func (s *SecurityConfig) Validate() error {
	var errs []error

	if err := s.RateLimit.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rate limit config validation failed: %w", err))
	}
	if err := s.Headers.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("security headers config validation failed: %w", err))
	}
	if err := s.CORS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("CORS config validation failed: %w", err))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate validates the rate limit configuration
func (r *RateLimitConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	var errs []error
	if r.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("requests_per_second must be positive"))
	}
	if r.BurstSize <= 0 {
		errs = append(errs, errors.New("burst_size must be positive"))
	}
	if r.CleanupInterval <= 0 {
		errs = append(errs, errors.New("cleanup_interval must be positive"))
	}
	if r.MaxCacheSize <= 0 {
		errs = append(errs, errors.New("max_cache_size must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate validates the CORS configuration
func (c *CORSConfig) Validate() error {
	if c.Enabled {
		if len(c.AllowedOrigins) == 0 {
			return fmt.Errorf("allowed_origins must not be empty")
		}
		if len(c.AllowedMethods) == 0 {
			return fmt.Errorf("allowed_methods must not be empty")
		}
		if c.MaxAge < 0 {
			return fmt.Errorf("max_age must be non-negative")
		}
	}
	return nil
}

// Validate validates the security headers configuration
func (h *SecurityHeaders) Validate() error {
	if h.Enabled && h.HSTSMaxAge < 0 {
		return fmt.Errorf("hsts_max_age must be non-negative")
	}
	return nil
}
