package database

import (
	"time"

	"pmc-monitor/internal/config"
	"pmc-monitor/internal/host"
	"pmc-monitor/internal/processing"
)

// RunMetadata describes one monitoring run.
type RunMetadata struct {
	RunID           string `json:"run_id"`
	ConfigChecksum  string `json:"config_checksum"`
	RunStarted      string `json:"run_started"`  // RFC3339 timestamp
	RunFinished     string `json:"run_finished"` // RFC3339 timestamp
	DurationSeconds int64  `json:"duration_seconds"`
	MachineType     string `json:"machine_type"`
	IntervalMS      int    `json:"interval_ms"`
	Experiments     int    `json:"experiments"`
	Metrics         int    `json:"metrics"`
	TotalSamples    int    `json:"total_samples"`
	SkippedSamples  int    `json:"skipped_samples"`
	Hostname        string `json:"hostname"`
	OSInfo          string `json:"os_info"`
	KernelVersion   string `json:"kernel_version"`
	CPUVendor       string `json:"cpu_vendor"`
	CPUModel        string `json:"cpu_model"`
	CPUThreads      int    `json:"cpu_threads"`
	CPUSockets      int    `json:"cpu_sockets"`
	L3CacheBytes    int64  `json:"l3_cache_bytes"`
	RDTMonitoring   bool   `json:"rdt_monitoring"`
}

// CollectRunMetadata summarizes a finished run. Host fields describe the
// machine running this tool, which differs from the target of remote runs.
func CollectRunMetadata(runID string, cfg *config.UserConfig, stats processing.Stats, startTime, endTime time.Time) *RunMetadata {
	hc := host.GetHostConfig()

	checksum, _ := config.Checksum(cfg)
	metrics := 0
	for _, exp := range cfg.Experiments {
		metrics += len(exp.Metrics)
	}

	return &RunMetadata{
		RunID:           runID,
		ConfigChecksum:  checksum,
		RunStarted:      startTime.Format(time.RFC3339),
		RunFinished:     endTime.Format(time.RFC3339),
		DurationSeconds: int64(endTime.Sub(startTime).Seconds()),
		MachineType:     cfg.MachineType(),
		IntervalMS:      cfg.IntervalMS,
		Experiments:     len(cfg.Experiments),
		Metrics:         metrics,
		TotalSamples:    stats.Processed,
		SkippedSamples:  stats.Skipped,
		Hostname:        hc.Hostname,
		OSInfo:          hc.OSInfo,
		KernelVersion:   hc.KernelVersion,
		CPUVendor:       hc.CPUVendor,
		CPUModel:        hc.CPUModel,
		CPUThreads:      hc.TotalThreads,
		CPUSockets:      hc.NumSockets,
		L3CacheBytes:    hc.L3CacheBytes,
		RDTMonitoring:   hc.RDT.MonitoringSupported,
	}
}
