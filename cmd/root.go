package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"pmc-monitor/internal/config"
	"pmc-monitor/internal/logging"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const Version = "1.0.0"

// Execute runs the pmc-monitor command line.
func Execute() error {
	loadEnvironment()
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	var logLevel string

	rootCmd := &cobra.Command{
		Use:     "pmc-monitor",
		Short:   "Hardware performance counter monitor",
		Long:    "Samples hardware performance counters through pmctrack or perf and evaluates user-defined metric formulas over them",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if logLevel != "" {
				if err := logging.SetLogLevel(logLevel); err != nil {
					return fmt.Errorf("invalid log level: %w", err)
				}
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newEvalCmd())
	rootCmd.AddCommand(newCommandCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSampleCmd())
	rootCmd.AddCommand(newStylesCmd())
	rootCmd.AddCommand(newHostCmd())

	return rootCmd
}

func loadEnvironment() {
	logger := logging.GetLogger()

	// Try to load .env file from current directory
	envFile := ".env"
	if _, err := os.Stat(envFile); err != nil {
		// Try to load from the application directory
		execPath, err := os.Executable()
		if err != nil {
			return
		}
		envFile = filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(envFile); err != nil {
			return
		}
	}

	if err := godotenv.Load(envFile); err != nil {
		logger.WithField("file", envFile).WithError(err).Warn("Error loading .env file")
	} else {
		logger.WithField("file", envFile).Debug("Loaded environment variables")
	}
}

// loadConfig reads and validates a configuration, resolving an SSH alias
// against the user's OpenSSH client config.
func loadConfig(configFile string, logLevelFlag bool) (*config.UserConfig, string, error) {
	logger := logging.GetLogger()

	cfg, content, err := config.LoadConfigWithContent(configFile)
	if err != nil {
		logger.WithField("config_file", configFile).WithError(err).Error("Failed to load configuration")
		return nil, "", err
	}

	if cfg.Machine != nil && cfg.Machine.Type == config.MachineSSH && cfg.Machine.SSHAlias != "" {
		if err := cfg.Machine.ResolveSSHAlias(config.DefaultSSHConfigPath()); err != nil {
			return nil, "", fmt.Errorf("resolve ssh alias %q: %w", cfg.Machine.SSHAlias, err)
		}
	}

	if !logLevelFlag && cfg.LogLevel != "" {
		if err := logging.SetLogLevel(cfg.LogLevel); err != nil {
			return nil, "", fmt.Errorf("invalid log level in configuration: %w", err)
		}
	}
	return cfg, content, nil
}
