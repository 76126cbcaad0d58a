package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const DefaultPMCTrackPath = "pmctrack"

// CounterConfig renders an experiment in the sampling tool's counter syntax,
// for example "pmc0,pmc1,pmc3=0x2e,umask3=0x41,ebs3=50000".
func (e Experiment) CounterConfig() string {
	events := make([]HWEvent, len(e.Events))
	copy(events, e.Events)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Counter < events[j].Counter
	})

	var parts []string
	for _, ev := range events {
		n := strconv.Itoa(ev.Counter)
		if ev.Fixed || ev.Code == "" {
			parts = append(parts, "pmc"+n)
		} else {
			parts = append(parts, "pmc"+n+"="+ev.Code)
		}

		if !ev.Fixed {
			keys := make([]string, 0, len(ev.Flags))
			for k := range ev.Flags {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				parts = append(parts, k+n+"="+ev.Flags[k])
			}
		}

		if e.EBSCounter != nil && *e.EBSCounter == ev.Counter {
			if e.EBSValue != "" {
				parts = append(parts, "ebs"+n+"="+e.EBSValue)
			} else {
				parts = append(parts, "ebs"+n)
			}
		}
	}
	return strings.Join(parts, ",")
}

// PMCTrackCommand builds the sampling tool invocation for one application
// command. app is ignored in system-wide mode and when attaching to a PID.
func PMCTrackCommand(cfg *UserConfig, app string) ([]string, error) {
	path := cfg.PMCTrackPath
	if path == "" {
		path = DefaultPMCTrackPath
	}
	argv := []string{path}

	if cfg.IntervalMS > 0 {
		seconds := float64(cfg.IntervalMS) / 1000
		argv = append(argv, "-T", strconv.FormatFloat(seconds, 'f', -1, 64))
	}
	for _, exp := range cfg.Experiments {
		if counters := exp.CounterConfig(); counters != "" {
			argv = append(argv, "-c", counters)
		}
	}
	if len(cfg.VirtualCounters) > 0 {
		argv = append(argv, "-V", strings.Join(cfg.VirtualCounters, ","))
	}
	if cfg.BufferSize > 0 {
		argv = append(argv, "-b", strconv.Itoa(cfg.BufferSize))
	}

	switch {
	case cfg.SystemWide:
		argv = append(argv, "-S")
	case cfg.PID > 0:
		argv = append(argv, "-p", strconv.Itoa(cfg.PID))
	default:
		fields := strings.Fields(app)
		if len(fields) == 0 {
			return nil, fmt.Errorf("no application command to monitor")
		}
		if cfg.CPU != "" {
			argv = append(argv, "taskset", "-c", cfg.CPU)
		}
		argv = append(argv, fields...)
	}
	return argv, nil
}

// Commands returns one full invocation per configured application, each
// prefixed with the remote shell command of the target machine.
func Commands(cfg *UserConfig) ([][]string, error) {
	prefix, err := cfg.Machine.RemotePrefix()
	if err != nil {
		return nil, err
	}

	apps := cfg.Applications
	if cfg.SystemWide || cfg.PID > 0 {
		apps = []string{""}
	}
	if len(apps) == 0 {
		return nil, fmt.Errorf("no application configured and neither pid nor system_wide is set")
	}

	var out [][]string
	for _, app := range apps {
		argv, err := PMCTrackCommand(cfg, app)
		if err != nil {
			return nil, err
		}
		full := make([]string, 0, len(prefix)+len(argv))
		full = append(full, prefix...)
		full = append(full, argv...)
		out = append(out, full)
	}
	return out, nil
}
