package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/vitalpoll/pkg/config"
)

// parseLogLevel accepts the four levels the CLI documents.
func parseLogLevel(s string) (logrus.Level, error) {
	switch s {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
	}
}

// loadConfig reads --config when given and applies the command-line overrides on top.
// --log-level takes precedence over --verbose, which takes precedence over the file.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if address, _ := cmd.Flags().GetString("address"); address != "" {
		cfg.Address = address
	}

	if levelStr, _ := cmd.Flags().GetString("log-level"); levelStr != "" {
		level, err := parseLogLevel(levelStr)
		if err != nil {
			return nil, err
		}
		cfg.LogLevel = level
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = logrus.DebugLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads the configuration and creates a logger writing to the command's error stream.
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return cfg, logger, nil
}
