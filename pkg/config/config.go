package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/vitalpoll/internal/device"
	"github.com/srg/vitalpoll/internal/poller"
	"gopkg.in/yaml.v3"
)

// DefaultAddress is the MAC address of the vital-signs peripheral the poller was built for.
const DefaultAddress = "7E:7D:A3:FC:06:C9"

// Config holds application configuration
type Config struct {
	Address             string        `yaml:"address" default:"7E:7D:A3:FC:06:C9"`
	LogLevel            logrus.Level  `yaml:"log_level"`
	PollInterval        time.Duration `yaml:"poll_interval" default:"1s"`
	RetryDelay          time.Duration `yaml:"retry_delay" default:"2s"`
	DiscoveryRetryDelay time.Duration `yaml:"discovery_retry_delay" default:"5s"`
	ScanTimeout         time.Duration `yaml:"scan_timeout" default:"5s"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout" default:"10s"`
	IOTimeout           time.Duration `yaml:"io_timeout"`
	NotifyInterval      time.Duration `yaml:"notify_interval" default:"1s"`
}

// Default returns default configuration values
func Default() *Config {
	cfg := &Config{LogLevel: logrus.InfoLevel}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. Keys missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the address format, log level and that no duration is negative.
func (c *Config) Validate() error {
	var errs []error

	if err := device.ValidateAddress(c.Address); err != nil {
		errs = append(errs, fmt.Errorf("address: %w", err))
	}
	if c.LogLevel > logrus.TraceLevel {
		errs = append(errs, fmt.Errorf("log_level: unknown level %d", c.LogLevel))
	}

	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"poll_interval", c.PollInterval},
		{"retry_delay", c.RetryDelay},
		{"discovery_retry_delay", c.DiscoveryRetryDelay},
		{"scan_timeout", c.ScanTimeout},
		{"connect_timeout", c.ConnectTimeout},
		{"io_timeout", c.IOTimeout},
		{"notify_interval", c.NotifyInterval},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative, got %s", d.key, d.value))
		}
	}

	return errors.Join(errs...)
}

// Policy maps the configured delays onto the poller's loop policy.
func (c *Config) Policy() poller.Policy {
	return poller.Policy{
		PollInterval:        c.PollInterval,
		RetryDelay:          c.RetryDelay,
		DiscoveryRetryDelay: c.DiscoveryRetryDelay,
		ScanWindow:          c.ScanTimeout,
		ConnectTimeout:      c.ConnectTimeout,
		IOTimeout:           c.IOTimeout,
		NotifyInterval:      c.NotifyInterval,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
