package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Device    DeviceConfig    `yaml:"device"`
	Scan      ScanConfig      `yaml:"scan"`
	Results   ResultsConfig   `yaml:"results"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhooks  WebhookConfig   `yaml:"webhooks"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// MaxConnections caps concurrently accepted connections. Zero means
	// unlimited.
	MaxConnections int `yaml:"max_connections"`
}

// DeviceConfig describes the simulated hardware.
type DeviceConfig struct {
	Connected bool   `yaml:"connected"`
	Name      string `yaml:"name"`
}

// ScanConfig controls scan timing and outcome.
type ScanConfig struct {
	DurationSeconds  float64 `yaml:"duration_seconds"`
	SupportsProgress bool    `yaml:"supports_progress"`
	ForceFailure     bool    `yaml:"force_failure"`
}

// maxDurationSeconds is the longest scan a time.Duration can represent.
const maxDurationSeconds = float64(math.MaxInt64) / float64(time.Second)

// Duration converts DurationSeconds to a time.Duration.
func (s ScanConfig) Duration() time.Duration {
	return time.Duration(s.DurationSeconds * float64(time.Second))
}

// ResultsConfig locates the sample result files.
type ResultsConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// RateLimitConfig limits mutating requests per client IP. Zero disables it.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// WebhookConfig lists URLs that receive scan lifecycle events.
type WebhookConfig struct {
	URLs []string `yaml:"urls"`
}

// Default returns a Config matching the stock mock device.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           3000,
			MaxConnections: 256,
		},
		Device: DeviceConfig{
			Connected: true,
			Name:      "MockScanner-3000",
		},
		Scan: ScanConfig{
			DurationSeconds:  8,
			SupportsProgress: true,
		},
		Results: ResultsConfig{
			Dir: filepath.Join("mock-data", "results"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			Burst:             20,
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() error {
	// PORT is honored for compatibility with common container platforms;
	// BSM_PORT wins when both are set.
	for _, key := range []string{"PORT", "BSM_PORT"} {
		if v := os.Getenv(key); v != "" {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			c.Server.Port = port
		}
	}
	if v := os.Getenv("BSM_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("BSM_MAX_CONNECTIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BSM_MAX_CONNECTIONS: %w", err)
		}
		c.Server.MaxConnections = n
	}
	if err := envBool("BSM_DEVICE_CONNECTED", &c.Device.Connected); err != nil {
		return err
	}
	if v := os.Getenv("BSM_DEVICE_NAME"); v != "" {
		c.Device.Name = v
	}
	if v := os.Getenv("BSM_SCAN_DURATION"); v != "" {
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("BSM_SCAN_DURATION: %w", err)
		}
		c.Scan.DurationSeconds = secs
	}
	if err := envBool("BSM_SUPPORTS_PROGRESS", &c.Scan.SupportsProgress); err != nil {
		return err
	}
	if err := envBool("BSM_FORCE_FAILURE", &c.Scan.ForceFailure); err != nil {
		return err
	}
	if v := os.Getenv("BSM_RESULTS_DIR"); v != "" {
		c.Results.Dir = v
	}
	if v := os.Getenv("BSM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BSM_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("BSM_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("BSM_RATE_LIMIT_RPM"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BSM_RATE_LIMIT_RPM: %w", err)
		}
		c.RateLimit.RequestsPerMinute = n
	}
	if v := os.Getenv("BSM_RATE_LIMIT_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BSM_RATE_LIMIT_BURST: %w", err)
		}
		c.RateLimit.Burst = n
	}
	if v := os.Getenv("BSM_WEBHOOK_URLS"); v != "" {
		c.Webhooks.URLs = nil
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				c.Webhooks.URLs = append(c.Webhooks.URLs, u)
			}
		}
	}
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative, got %d", c.Server.MaxConnections)
	}
	if d := c.Scan.DurationSeconds; math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 || d >= maxDurationSeconds {
		return fmt.Errorf("scan duration must be a positive number of seconds below %.0f, got %v", maxDurationSeconds, d)
	}
	if c.Results.Dir == "" {
		return fmt.Errorf("results directory is required")
	}
	if c.Device.Connected && c.Device.Name == "" {
		return fmt.Errorf("device name is required when the device is connected")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}
	for _, u := range c.Webhooks.URLs {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("webhook URL must be http or https: %q", u)
		}
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
