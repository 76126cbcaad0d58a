package config

import (
	"time"

	"pmc-monitor/internal/metric"
)

const (
	MachineLocal = "local"
	MachineSSH   = "ssh"
	MachineADB   = "adb"
)

const (
	OnErrorAbort = "abort"
	OnErrorSkip  = "skip"
)

type UserConfig struct {
	Experiments     []Experiment      `yaml:"experiments"`
	VirtualCounters []string          `yaml:"virtual_counters,omitempty"`
	Machine         *MachineConfig    `yaml:"machine,omitempty"`
	Applications    []string          `yaml:"applications,omitempty"`
	CPU             string            `yaml:"cpu,omitempty"`           // CPU number or mask for the monitored application
	PMCTrackPath    string            `yaml:"pmctrack_path,omitempty"` // path to the sampling tool
	IntervalMS      int               `yaml:"interval_ms"`             // time between samples
	BufferSize      int               `yaml:"buffer_size,omitempty"`   // samples buffer size in bytes
	PID             int               `yaml:"pid,omitempty"`           // attach to a running application
	SystemWide      bool              `yaml:"system_wide,omitempty"`
	Logs            LogsConfig        `yaml:"logs,omitempty"`
	GraphStyle      *GraphStyleConfig `yaml:"graph_style,omitempty"`

	LogLevel string      `yaml:"log_level,omitempty"`
	OnError  string      `yaml:"on_error,omitempty"`
	Sinks    SinksConfig `yaml:"sinks,omitempty"`
}

type Experiment struct {
	Metrics    []Metric  `yaml:"metrics"`
	Events     []HWEvent `yaml:"events"`
	EBSCounter *int      `yaml:"ebs_counter,omitempty"` // counter used for event-based sampling, nil for none
	EBSValue   string    `yaml:"ebs_value,omitempty"`
}

// Metric is a named formula. The compiled form is filled by NewMetric or
// Compile and is shared between copies since it never changes.
type Metric struct {
	Name     string `yaml:"name"`
	Formula  string `yaml:"formula"`
	compiled *metric.Metric
}

type HWEvent struct {
	Counter int               `yaml:"counter"`
	Fixed   bool              `yaml:"fixed,omitempty"`
	Code    string            `yaml:"code,omitempty"`
	Flags   map[string]string `yaml:"flags,omitempty"`
}

type MachineConfig struct {
	Type     string `yaml:"type"` // local, ssh or adb
	Address  string `yaml:"address,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	User     string `yaml:"user,omitempty"`
	Password string `yaml:"password,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
	SSHAlias string `yaml:"ssh_alias,omitempty"` // Host entry in the OpenSSH client config
}

type GraphStyleConfig struct {
	BgColor         string `yaml:"bg_color"`
	GridColor       string `yaml:"grid_color"`
	LineColor       string `yaml:"line_color"`
	LineStyle       string `yaml:"line_style"`
	LineWidth       int    `yaml:"line_width"`
	LineStyleNumber int    `yaml:"line_style_number"`
	ModeNumber      int    `yaml:"mode_number"` // -1 when customized
}

type LogsConfig struct {
	SaveCounters bool   `yaml:"save_counters,omitempty"`
	SaveMetrics  bool   `yaml:"save_metrics,omitempty"`
	Dir          string `yaml:"dir,omitempty"`
}

type SinksConfig struct {
	InfluxDB   *InfluxDBConfig   `yaml:"influxdb,omitempty"`
	Prometheus *PrometheusConfig `yaml:"prometheus,omitempty"`
	ArchiveDir string            `yaml:"archive_dir,omitempty"`
}

type InfluxDBConfig struct {
	Host   string `yaml:"host"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

type PrometheusConfig struct {
	Addr string `yaml:"addr"`
}

func (c *UserConfig) GetInterval() time.Duration {
	return time.Duration(c.IntervalMS) * time.Millisecond
}

func (c *UserConfig) MachineType() string {
	if c.Machine == nil || c.Machine.Type == "" {
		return MachineLocal
	}
	return c.Machine.Type
}
