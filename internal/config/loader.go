package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/leslieo2/prononciation-gateway/internal/constants"
)

// LoadConfig loads configuration with precedence:
// 1. Explicit CLI flags (highest priority)
// 2. Environment variables
// 3. Configuration file values
// 4. Default configuration values (lowest priority)
func LoadConfig(configFile string, cliFlags *CLIFlags) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		if err := loadFromFile(configFile, config); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if cliFlags != nil {
		overrideWithCLI(config, cliFlags)
	}

	config.Upstream.Normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// CLIFlags contains CLI flag values that can override configuration.
// A value is applied only when FlagSet reports the flag as changed; with a
// nil FlagSet every non-nil value is applied.
type CLIFlags struct {
	FlagSet *pflag.FlagSet

	Host             *string
	Port             *string
	MetricsPort      *string
	ReadTimeout      *time.Duration
	WriteTimeout     *time.Duration
	IdleTimeout      *time.Duration
	MaxRequestSize   *int64
	ShutdownTimeout  *time.Duration
	UpstreamURL      *string
	UpstreamLabel    *string
	LogLevel         *string
	LogFormat        *string
	RateLimitEnabled *bool
	RateLimitRPS     *int
	MetricsEnabled   *bool
	TracingEnabled   *bool
	HotReload        *bool
	TLSEnabled       *bool
	TLSCertFile      *string
	TLSKeyFile       *string
}

func (f *CLIFlags) changed(name string) bool {
	if f.FlagSet == nil {
		return true
	}
	return f.FlagSet.Changed(name)
}

// loadFromFile decodes a YAML or JSON file on top of config. Keys absent
// from the file keep their current value. Durations are written as strings
// ("30s") in both formats.
func loadFromFile(filePath string, config *Config) error {
	if !filepath.IsAbs(filePath) {
		absPath, err := filepath.Abs(filePath)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for %s: %w", filePath, err)
		}
		filePath = absPath
	}

	if err := validateFilePath(filePath); err != nil {
		return fmt.Errorf("invalid config file path %s: %w", filePath, err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml", ".json":
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	data, err := os.ReadFile(filePath) // #nosec G304 - file path validated by validateFilePath()
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}

	// JSON is a subset of YAML; one decoder keeps duration handling identical.
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables. Malformed
// values are reported rather than silently ignored.
func loadFromEnv(config *Config) error {
	if val, ok := os.LookupEnv(constants.EnvUpstreamURL); ok && strings.TrimSpace(val) != "" {
		config.Upstream.BaseURL = val
	}
	if val := os.Getenv(constants.EnvUpstreamLabel); val != "" {
		config.Upstream.Label = val
	}

	if val := os.Getenv(constants.EnvHost); val != "" {
		config.Server.Host = val
	}
	if val := os.Getenv(constants.EnvPort); val != "" {
		config.Server.Port = val
	}
	if val := os.Getenv(constants.EnvMetricsPort); val != "" {
		config.Server.MetricsPort = val
	}

	durations := []struct {
		env    string
		target *time.Duration
	}{
		{constants.EnvReadTimeout, &config.Server.ReadTimeout},
		{constants.EnvWriteTimeout, &config.Server.WriteTimeout},
		{constants.EnvIdleTimeout, &config.Server.IdleTimeout},
		{constants.EnvShutdownTimeout, &config.Server.ShutdownTimeout},
	}
	for _, d := range durations {
		val := os.Getenv(d.env)
		if val == "" {
			continue
		}
		duration, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s: %w", d.env, err)
		}
		*d.target = duration
	}

	if val := os.Getenv(constants.EnvMaxRequestSize); val != "" {
		size, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", constants.EnvMaxRequestSize, err)
		}
		config.Server.MaxRequestSize = size
	}

	if val := os.Getenv(constants.EnvLogLevel); val != "" {
		config.Observability.Logging.Level = val
	}
	if val := os.Getenv(constants.EnvLogFormat); val != "" {
		config.Observability.Logging.Format = val
	}

	bools := []struct {
		env    string
		target *bool
	}{
		{constants.EnvRateLimitEnabled, &config.Security.RateLimit.Enabled},
		{constants.EnvHotReload, &config.HotReload.Enabled},
		{constants.EnvTLSEnabled, &config.TLS.Enabled},
	}
	for _, b := range bools {
		val := os.Getenv(b.env)
		if val == "" {
			continue
		}
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s: %w", b.env, err)
		}
		*b.target = enabled
	}

	if val := os.Getenv(constants.EnvRateLimitRPS); val != "" {
		rps, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s: %w", constants.EnvRateLimitRPS, err)
		}
		config.Security.RateLimit.RequestsPerSecond = rps
	}

	if val := os.Getenv(constants.EnvTLSCertFile); val != "" {
		config.TLS.CertFile = val
	}
	if val := os.Getenv(constants.EnvTLSKeyFile); val != "" {
		config.TLS.KeyFile = val
	}

	return nil
}

// overrideWithCLI overrides configuration with CLI flag values.
// Only explicitly set CLI flags override other configuration sources.
func overrideWithCLI(config *Config, flags *CLIFlags) {
	setString := func(name string, src *string, dst *string) {
		if src != nil && flags.changed(name) {
			*dst = *src
		}
	}
	setDuration := func(name string, src *time.Duration, dst *time.Duration) {
		if src != nil && flags.changed(name) {
			*dst = *src
		}
	}
	setBool := func(name string, src *bool, dst *bool) {
		if src != nil && flags.changed(name) {
			*dst = *src
		}
	}

	// Server configuration
	setString("host", flags.Host, &config.Server.Host)
	setString("port", flags.Port, &config.Server.Port)
	setString("metrics-port", flags.MetricsPort, &config.Server.MetricsPort)
	setDuration("read-timeout", flags.ReadTimeout, &config.Server.ReadTimeout)
	setDuration("write-timeout", flags.WriteTimeout, &config.Server.WriteTimeout)
	setDuration("idle-timeout", flags.IdleTimeout, &config.Server.IdleTimeout)
	setDuration("shutdown-timeout", flags.ShutdownTimeout, &config.Server.ShutdownTimeout)
	if flags.MaxRequestSize != nil && flags.changed("max-request-size") {
		config.Server.MaxRequestSize = *flags.MaxRequestSize
	}

	// Upstream
	setString("upstream-url", flags.UpstreamURL, &config.Upstream.BaseURL)
	setString("upstream-label", flags.UpstreamLabel, &config.Upstream.Label)

	// Observability
	setString("log-level", flags.LogLevel, &config.Observability.Logging.Level)
	setString("log-format", flags.LogFormat, &config.Observability.Logging.Format)
	setBool("metrics-enabled", flags.MetricsEnabled, &config.Observability.Metrics.Enabled)
	setBool("tracing-enabled", flags.TracingEnabled, &config.Observability.Tracing.Enabled)

	// Security
	setBool("rate-limit-enabled", flags.RateLimitEnabled, &config.Security.RateLimit.Enabled)
	if flags.RateLimitRPS != nil && flags.changed("rate-limit-rps") {
		config.Security.RateLimit.RequestsPerSecond = *flags.RateLimitRPS
	}

	setBool("hot-reload", flags.HotReload, &config.HotReload.Enabled)

	// TLS configuration
	setBool("tls-enabled", flags.TLSEnabled, &config.TLS.Enabled)
	setString("tls-cert-file", flags.TLSCertFile, &config.TLS.CertFile)
	setString("tls-key-file", flags.TLSKeyFile, &config.TLS.KeyFile)
}

// validateFilePath checks if the file path is safe to read
func validateFilePath(filePath string) error {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal attempts")
	}

	return nil
}
