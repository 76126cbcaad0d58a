package host

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"pmc-monitor/internal/logging"

	"github.com/intel/goresctrl/pkg/rdt"
	"github.com/sirupsen/logrus"
)

// HostConfig describes the machine this tool runs on.
// It is detected once and shared.
type HostConfig struct {
	// CPU Information
	CPUVendor    string
	CPUModel     string
	TotalThreads int
	NumSockets   int

	// Cache Information
	L3CacheBytes int64

	// RDT Information
	RDT RDTConfig

	// System Information
	Hostname      string
	OSInfo        string
	KernelVersion string
}

// RDTConfig reports which Intel RDT monitoring features are usable, which
// decides whether virtual counters can be sampled directly.
type RDTConfig struct {
	MonitoringSupported bool
	MonitoringFeatures  map[string][]string // MonResource -> features
}

var (
	globalHostConfig *HostConfig
	hostConfigOnce   sync.Once
)

// GetHostConfig returns the global host configuration
// It initializes the configuration on first call
func GetHostConfig() *HostConfig {
	hostConfigOnce.Do(func() {
		globalHostConfig = initializeHostConfig()
	})
	return globalHostConfig
}

func initializeHostConfig() *HostConfig {
	logger := logging.GetLogger()

	config := &HostConfig{}
	config.initSystemInfo()
	config.initCPUInfo()

	if size, err := l3CacheSize("/sys/devices/system/cpu/cpu0/cache"); err != nil {
		logger.WithError(err).Debug("L3 cache size unknown")
	} else {
		config.L3CacheBytes = size
	}

	config.initRDTInfo()

	logger.WithFields(logrus.Fields{
		"cpu_model":      config.CPUModel,
		"threads":        config.TotalThreads,
		"l3_cache_bytes": config.L3CacheBytes,
		"rdt_monitoring": config.RDT.MonitoringSupported,
	}).Debug("Host configuration detected")

	return config
}

func (hc *HostConfig) initSystemInfo() {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	hc.Hostname = hostname

	hc.OSInfo = runtime.GOOS + "/" + runtime.GOARCH

	// Get kernel version from /proc/version
	if data, err := os.ReadFile("/proc/version"); err == nil {
		version := strings.Fields(string(data))
		if len(version) >= 3 {
			hc.KernelVersion = version[2]
		}
	}
	if hc.KernelVersion == "" {
		hc.KernelVersion = "unknown"
	}
}

func (hc *HostConfig) initCPUInfo() {
	hc.TotalThreads = runtime.NumCPU()
	hc.CPUVendor = "unknown"
	hc.CPUModel = "unknown"
	hc.NumSockets = 1

	file, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return
	}
	defer file.Close()

	info := parseCPUInfo(file)
	if info.vendor != "" {
		hc.CPUVendor = info.vendor
	}
	if info.model != "" {
		hc.CPUModel = info.model
	}
	if info.sockets > 0 {
		hc.NumSockets = info.sockets
	}
}

type cpuInfo struct {
	vendor  string
	model   string
	sockets int
}

// parseCPUInfo reads the first vendor and model of /proc/cpuinfo and counts
// distinct physical package ids.
func parseCPUInfo(r io.Reader) cpuInfo {
	var info cpuInfo
	physicalIDs := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "vendor_id":
			if info.vendor == "" {
				info.vendor = value
			}
		case "model name":
			if info.model == "" {
				info.model = value
			}
		case "physical id":
			physicalIDs[value] = true
		}
	}
	info.sockets = len(physicalIDs)
	return info
}

// l3CacheSize finds the level 3 cache among the cache indices of a CPU.
func l3CacheSize(cacheDir string) (int64, error) {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return 0, err
	}
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), "index") {
			continue
		}
		dir := cacheDir + "/" + entry.Name()
		level, err := os.ReadFile(dir + "/level")
		if err != nil || strings.TrimSpace(string(level)) != "3" {
			continue
		}
		data, err := os.ReadFile(dir + "/size")
		if err != nil {
			return 0, err
		}
		return parseCacheSize(string(data))
	}
	return 0, fmt.Errorf("could not determine L3 cache size")
}

// parseCacheSize parses sysfs sizes such as "8192K", "32M" or "8388608".
func parseCacheSize(s string) (int64, error) {
	sizeStr := strings.TrimSpace(s)
	multiplier := int64(1)
	switch {
	case strings.HasSuffix(sizeStr, "K"):
		multiplier = 1024
		sizeStr = strings.TrimSuffix(sizeStr, "K")
	case strings.HasSuffix(sizeStr, "M"):
		multiplier = 1024 * 1024
		sizeStr = strings.TrimSuffix(sizeStr, "M")
	}
	n, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid cache size %q", s)
	}
	return n * multiplier, nil
}

func (hc *HostConfig) initRDTInfo() {
	logger := logging.GetLogger()

	if err := rdt.Initialize(""); err != nil {
		logger.WithError(err).Debug("RDT not available")
		return
	}
	hc.RDT.MonitoringSupported = rdt.MonSupported()
	if !hc.RDT.MonitoringSupported {
		return
	}

	hc.RDT.MonitoringFeatures = make(map[string][]string)
	for resource, features := range rdt.GetMonFeatures() {
		sorted := append([]string(nil), features...)
		sort.Strings(sorted)
		hc.RDT.MonitoringFeatures[string(resource)] = sorted
	}
}
