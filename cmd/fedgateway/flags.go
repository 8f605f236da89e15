package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("FEDGATEWAY_CONFIG", "configs/gateway.yaml"),
		"Path to configuration file (env: FEDGATEWAY_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("FEDGATEWAY_CONFIG", "configs/gateway.yaml"),
		"Path to configuration file (env: FEDGATEWAY_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level override: debug, info, warn, error")

	flag.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format override: json, text")

	flag.BoolVar(&cfg.Debug, "debug", false, "Enable debug logging")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("FEDGATEWAY_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: FEDGATEWAY_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printDetailedHelp

	flag.Parse()

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	if cfg.LogLevel != "" && !contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if cfg.LogFormat != "" && !contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - GraphQL Federation Gateway

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with custom config
  %s --config=/etc/fedgateway/gateway.yaml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
