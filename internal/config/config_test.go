package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"pmc-monitor/internal/metric"
)

const sampleYAML = `
interval_ms: 500
pmctrack_path: /usr/local/bin/pmctrack
applications: ["./bench --size 10"]
cpu: "2"
virtual_counters: [virt0, virt1]
machine:
  type: ssh
  address: 10.0.0.5
  user: bench
  port: 2222
experiments:
  - events:
      - {counter: 0, fixed: true}
      - {counter: 1, fixed: true}
      - {counter: 3, code: "0x2e", flags: {umask: "0x41"}}
    ebs_counter: 3
    ebs_value: "50000"
    metrics:
      - {name: IPC, formula: "pmc0 / pmc1"}
      - {name: LLC_MPKI, formula: "(pmc3 * 1000) / pmc0"}
graph_style:
  bg_color: "#000000"
  grid_color: "#00FF00"
  line_color: "#00FF00"
  line_style: solid
  line_width: 1
  line_style_number: 0
  mode_number: 3
`

func TestParseConfig_CompilesMetrics(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	if cfg.OnError != OnErrorAbort {
		t.Fatalf("expected default on_error %q, got %q", OnErrorAbort, cfg.OnError)
	}
	metrics, err := cfg.Experiments[0].CompiledMetrics()
	if err != nil {
		t.Fatalf("CompiledMetrics: %v", err)
	}
	if len(metrics) != 2 || metrics[1].Name() != "LLC_MPKI" {
		t.Fatalf("unexpected compiled metrics: %v", metrics)
	}
	if got := metrics[1].Fields(); !reflect.DeepEqual(got, []string{"pmc3", "pmc0"}) {
		t.Fatalf("unexpected fields %v", got)
	}
}

func TestParseConfig_RejectsMalformedFormula(t *testing.T) {
	bad := strings.Replace(sampleYAML, `"pmc0 / pmc1"`, `"pmc0 /"`, 1)

	_, err := ParseConfig([]byte(bad))
	if err == nil {
		t.Fatalf("expected error for malformed formula")
	}
	var syntaxErr *metric.SyntaxError
	if !errors.As(err, &syntaxErr) {
		t.Fatalf("expected *metric.SyntaxError in chain, got %v", err)
	}
	if !strings.Contains(err.Error(), `"IPC"`) {
		t.Fatalf("expected metric name in error, got %v", err)
	}
}

func TestParseConfig_ValidationErrors(t *testing.T) {
	cases := map[string]string{
		"no experiments":   "interval_ms: 100\n",
		"duplicate metric": "experiments:\n  - metrics: [{name: a, formula: pmc0}, {name: a, formula: pmc1}]\n",
		"duplicate counter": "experiments:\n  - events: [{counter: 0}, {counter: 0}]\n",
		"ebs not counter":  "experiments:\n  - events: [{counter: 0}]\n    ebs_counter: 2\n",
		"bad on_error":     "on_error: retry\nexperiments:\n  - metrics: []\n",
		"ssh without user": "machine: {type: ssh, address: h}\nexperiments:\n  - metrics: []\n",
		"unknown machine":  "machine: {type: telnet}\nexperiments:\n  - metrics: []\n",
		"bad line width":   "graph_style: {line_width: 11}\nexperiments:\n  - metrics: []\n",
		"partial influx":   "sinks: {influxdb: {host: h}}\nexperiments:\n  - metrics: []\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(doc)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadConfig_ExpandsEnvironment(t *testing.T) {
	t.Setenv("PMC_TEST_BUCKET", "counters")
	doc := "experiments:\n  - metrics: []\nsinks:\n  influxdb: {host: http://db:8086, token: t, org: o, bucket: \"${PMC_TEST_BUCKET}\"}\n"
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, content, err := LoadConfigWithContent(path)
	if err != nil {
		t.Fatalf("LoadConfigWithContent: %v", err)
	}
	if cfg.Sinks.InfluxDB.Bucket != "counters" {
		t.Fatalf("expected expanded bucket, got %q", cfg.Sinks.InfluxDB.Bucket)
	}
	if !strings.Contains(content, "${PMC_TEST_BUCKET}") {
		t.Fatalf("expected original content to keep the reference")
	}
}

func TestSaveConfig_WritesLoadableFile(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "saved.yaml")
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Experiments[0].Metrics[0].Compiled() == nil {
		t.Fatalf("expected metrics to be compiled after load")
	}
	if loaded.Experiments[0].CounterConfig() != cfg.Experiments[0].CounterConfig() {
		t.Fatalf("counter config changed across save/load")
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected only the saved file, found %d entries", len(entries))
	}
}

func TestClone_IsIndependent(t *testing.T) {
	orig, err := ParseConfig([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	orig.Sinks.Prometheus = &PrometheusConfig{Addr: ":9100"}
	cp := orig.Clone()

	cp.Experiments[0].Events[2].Flags["umask"] = "0xff"
	cp.Experiments[0].Events[0].Counter = 7
	*cp.Experiments[0].EBSCounter = 1
	cp.Experiments[0].Metrics[0].Formula = "pmc1"
	cp.VirtualCounters[0] = "virt9"
	cp.Applications[0] = "other"
	cp.Machine.Address = "elsewhere"
	cp.GraphStyle.ModeNumber = -1
	cp.Sinks.Prometheus.Addr = ":1"

	if orig.Experiments[0].Events[2].Flags["umask"] != "0x41" {
		t.Fatalf("flags map shared with copy")
	}
	if orig.Experiments[0].Events[0].Counter != 0 {
		t.Fatalf("events slice shared with copy")
	}
	if *orig.Experiments[0].EBSCounter != 3 {
		t.Fatalf("ebs counter shared with copy")
	}
	if orig.Experiments[0].Metrics[0].Formula != "pmc0 / pmc1" {
		t.Fatalf("metrics slice shared with copy")
	}
	if orig.VirtualCounters[0] != "virt0" || orig.Applications[0] != "./bench --size 10" {
		t.Fatalf("string slices shared with copy")
	}
	if orig.Machine.Address != "10.0.0.5" || orig.GraphStyle.ModeNumber != 3 || orig.Sinks.Prometheus.Addr != ":9100" {
		t.Fatalf("nested pointers shared with copy")
	}

	if cp.Experiments[0].Metrics[1].Compiled() != orig.Experiments[0].Metrics[1].Compiled() {
		t.Fatalf("expected compiled metrics to be shared")
	}
}

func TestClone_NilParts(t *testing.T) {
	var nilCfg *UserConfig
	if nilCfg.Clone() != nil {
		t.Fatalf("expected nil clone of nil config")
	}
	cfg := &UserConfig{}
	cp := cfg.Clone()
	if cp.Machine != nil || cp.GraphStyle != nil || cp.Experiments != nil {
		t.Fatalf("expected nil parts to stay nil")
	}
}

func TestNewMetric(t *testing.T) {
	m, err := NewMetric("IPC", "pmc0/pmc1")
	if err != nil {
		t.Fatalf("NewMetric: %v", err)
	}
	if m.Compiled() == nil || m.Compiled().Formula() != "pmc0/pmc1" {
		t.Fatalf("expected compiled metric")
	}

	if _, err := NewMetric("bad", "pmc0 +"); err == nil {
		t.Fatalf("expected compile error")
	}

	m.Formula = "pmc1"
	if err := m.Compile(); err != nil {
		t.Fatal(err)
	}
	if m.Compiled().Formula() != "pmc1" {
		t.Fatalf("expected recompiled formula")
	}
}

func TestChecksum_IgnoresMachineAndMetricOrder(t *testing.T) {
	a, _ := ParseConfig([]byte(sampleYAML))
	b := a.Clone()
	b.Machine.Address = "other-host"
	b.Experiments[0].Metrics[0], b.Experiments[0].Metrics[1] = b.Experiments[0].Metrics[1], b.Experiments[0].Metrics[0]

	s1, err := Checksum(a)
	if err != nil {
		t.Fatal(err)
	}
	s2, _ := Checksum(b)
	if s1 != s2 || len(s1) != 6 {
		t.Fatalf("expected equal 6-char checksums, got %q vs %q", s1, s2)
	}

	b.Experiments[0].Metrics[0].Formula = "pmc3"
	s3, _ := Checksum(b)
	if s3 == s1 {
		t.Fatalf("expected checksum to change with formula")
	}
}
