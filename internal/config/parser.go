package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"pmc-monitor/internal/logging"

	"gopkg.in/yaml.v3"
)

const (
	DefaultIntervalMS = 1000
	DefaultLogsDir    = "logs"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func LoadConfig(filepath string) (*UserConfig, error) {
	config, _, err := LoadConfigWithContent(filepath)
	return config, err
}

func LoadConfigWithContent(filepath string) (*UserConfig, string, error) {
	logger := logging.GetLogger()

	data, err := os.ReadFile(filepath)
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to read config file")
		return nil, "", err
	}

	originalContent := string(data)

	config, err := ParseConfig([]byte(expandEnvVars(originalContent)))
	if err != nil {
		logger.WithField("filepath", filepath).WithError(err).Error("Failed to parse config file")
		return nil, "", err
	}

	return config, originalContent, nil
}

// ParseConfig decodes, defaults, compiles and validates a configuration.
// A malformed metric formula rejects the whole configuration.
func ParseConfig(data []byte) (*UserConfig, error) {
	var config UserConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := config.CompileMetrics(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// SaveConfig writes the configuration as YAML. The file is replaced
// atomically so an interrupted save never leaves a truncated config behind.
func SaveConfig(path string, config *UserConfig) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	ok = true
	return nil
}

func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		envVar := strings.Trim(match, "${}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
		return match
	})
}

func applyDefaults(config *UserConfig) {
	if config.IntervalMS == 0 {
		config.IntervalMS = DefaultIntervalMS
	}
	if config.PMCTrackPath == "" {
		config.PMCTrackPath = DefaultPMCTrackPath
	}
	if config.OnError == "" {
		config.OnError = OnErrorAbort
	}
	if config.Machine == nil {
		config.Machine = &MachineConfig{Type: MachineLocal}
	}
	if config.Machine.Type == "" {
		config.Machine.Type = MachineLocal
	}
	if (config.Logs.SaveCounters || config.Logs.SaveMetrics) && config.Logs.Dir == "" {
		config.Logs.Dir = DefaultLogsDir
	}
}

func validateConfig(config *UserConfig) error {
	if len(config.Experiments) == 0 {
		return fmt.Errorf("at least one experiment must be defined")
	}

	if config.IntervalMS < 0 {
		return fmt.Errorf("interval_ms must be greater than 0")
	}

	if config.BufferSize < 0 {
		return fmt.Errorf("buffer_size must not be negative")
	}

	switch config.OnError {
	case OnErrorAbort, OnErrorSkip:
	default:
		return fmt.Errorf("on_error must be %q or %q, got %q", OnErrorAbort, OnErrorSkip, config.OnError)
	}

	if err := validateMachine(config.Machine); err != nil {
		return err
	}

	for i, exp := range config.Experiments {
		counters := make(map[int]bool)
		for _, ev := range exp.Events {
			if ev.Counter < 0 {
				return fmt.Errorf("experiment %d: negative counter number %d", i, ev.Counter)
			}
			if counters[ev.Counter] {
				return fmt.Errorf("experiment %d: counter %d is used twice", i, ev.Counter)
			}
			counters[ev.Counter] = true
		}
		if exp.EBSCounter != nil && !counters[*exp.EBSCounter] {
			return fmt.Errorf("experiment %d: ebs_counter %d is not a configured counter", i, *exp.EBSCounter)
		}

		names := make(map[string]bool)
		for _, m := range exp.Metrics {
			if m.Name == "" {
				return fmt.Errorf("experiment %d: metric name is required", i)
			}
			if names[m.Name] {
				return fmt.Errorf("experiment %d: metric %q is defined twice", i, m.Name)
			}
			names[m.Name] = true
		}
	}

	if gs := config.GraphStyle; gs != nil {
		if gs.LineWidth < 1 || gs.LineWidth > 10 {
			return fmt.Errorf("graph_style: line_width must be between 1 and 10")
		}
	}

	if influx := config.Sinks.InfluxDB; influx != nil {
		if influx.Host == "" || influx.Token == "" || influx.Org == "" || influx.Bucket == "" {
			return fmt.Errorf("incomplete influxdb configuration")
		}
	}

	return nil
}

func validateMachine(m *MachineConfig) error {
	switch m.Type {
	case MachineLocal:
		return nil
	case MachineSSH:
		if m.Address == "" && m.SSHAlias == "" {
			return fmt.Errorf("machine: ssh requires an address or ssh_alias")
		}
		if m.User == "" && m.SSHAlias == "" {
			return fmt.Errorf("machine: ssh requires a user")
		}
	case MachineADB:
		if m.Address == "" {
			return fmt.Errorf("machine: adb requires an address")
		}
	default:
		return fmt.Errorf("machine: unknown type %q", m.Type)
	}
	if m.Port < 0 || m.Port > 65535 {
		return fmt.Errorf("machine: invalid port %d", m.Port)
	}
	return nil
}
