package config

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
)

type checksumExperiment struct {
	Counters string            `json:"counters"`
	Metrics  map[string]string `json:"metrics"`
}

type checksumPayload struct {
	Experiments     []checksumExperiment `json:"experiments"`
	VirtualCounters []string             `json:"virtual_counters"`
	IntervalMS      int                  `json:"interval_ms"`
	SystemWide      bool                 `json:"system_wide"`
}

// Checksum returns a short, stable identifier of what is being measured: the
// counter setup and metric formulas of every experiment, the virtual
// counters and the sampling interval. Machine, sinks and graph style do not
// contribute.
//
// It computes MD5 over a canonical JSON representation and returns the first
// 6 hex characters.
func Checksum(cfg *UserConfig) (string, error) {
	if cfg == nil {
		return "", nil
	}

	payload := checksumPayload{
		VirtualCounters: cfg.VirtualCounters,
		IntervalMS:      cfg.IntervalMS,
		SystemWide:      cfg.SystemWide,
	}
	for _, exp := range cfg.Experiments {
		entry := checksumExperiment{
			Counters: exp.CounterConfig(),
			Metrics:  make(map[string]string, len(exp.Metrics)),
		}
		for _, m := range exp.Metrics {
			entry.Metrics[m.Name] = m.Formula
		}
		payload.Experiments = append(payload.Experiments, entry)
	}

	// encoding/json sorts map keys, so metric order does not matter
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])[:6], nil
}
