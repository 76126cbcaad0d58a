package samplers

import (
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"pmc-monitor/internal/config"
	"pmc-monitor/internal/logging"

	"github.com/elastic/go-perf"
	"github.com/sirupsen/logrus"
)

// CounterReader yields per-interval counts for a fixed set of fields.
type CounterReader interface {
	Fields() []string
	Read() (map[string]uint64, error)
	Close() error
}

// fixedCounters are the architectural fixed-function counters.
var fixedCounters = map[int]perf.HardwareCounter{
	0: perf.Instructions,
	1: perf.CPUCycles,
	2: perf.RefCPUCycles,
}

// Bit offsets of the x86 PERFEVTSEL fields that go in a raw event config.
var rawFlagShifts = map[string]uint{
	"umask": 8,
	"edge":  18,
	"any":   21,
	"inv":   23,
	"cmask": 24,
}

// RawConfig encodes a hardware event code and its flags the way the
// sampling tool does. Values are hexadecimal with an optional 0x prefix.
func RawConfig(code string, flags map[string]string) (uint64, error) {
	cfg, err := parseHex(code)
	if err != nil {
		return 0, fmt.Errorf("event code %q: %w", code, err)
	}
	if cfg > 0xff {
		return 0, fmt.Errorf("event code %q exceeds 8 bits", code)
	}
	for name, raw := range flags {
		shift, ok := rawFlagShifts[name]
		if !ok {
			return 0, fmt.Errorf("unsupported event flag %q", name)
		}
		v, err := parseHex(raw)
		if err != nil {
			return 0, fmt.Errorf("flag %s=%q: %w", name, raw, err)
		}
		cfg |= v << shift
	}
	return cfg, nil
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strconv.ParseUint(s, 16, 64)
}

// perfAttr builds the perf attributes for one configured event.
func perfAttr(ev config.HWEvent) (*perf.Attr, error) {
	attr := &perf.Attr{}
	if hw, ok := fixedCounters[ev.Counter]; ok && (ev.Fixed || ev.Code == "") {
		hw.Configure(attr)
	} else {
		if ev.Code == "" {
			return nil, fmt.Errorf("counter %d has no event code", ev.Counter)
		}
		raw, err := RawConfig(ev.Code, ev.Flags)
		if err != nil {
			return nil, fmt.Errorf("counter %d: %w", ev.Counter, err)
		}
		attr.Type = perf.RawEvent
		attr.Config = raw
	}
	attr.Label = counterField(ev.Counter)
	// Enable time tracking for multiplexing correction
	attr.CountFormat.Enabled = true
	attr.CountFormat.Running = true
	attr.Options.Inherit = true
	return attr, nil
}

func counterField(n int) string {
	return "pmc" + strconv.Itoa(n)
}

type eventState struct {
	value   uint64
	enabled time.Duration
	running time.Duration
}

// scaledDelta returns the count accumulated since prev, scaled up when the
// kernel multiplexed the event for part of the interval.
func scaledDelta(prev, cur eventState) uint64 {
	deltaValue := cur.value - prev.value
	deltaEnabled := cur.enabled - prev.enabled
	deltaRunning := cur.running - prev.running

	if deltaRunning > 0 && deltaEnabled > 0 && deltaRunning != deltaEnabled {
		scaleFactor := float64(deltaEnabled) / float64(deltaRunning)
		return uint64(float64(deltaValue) * scaleFactor)
	}
	return deltaValue
}

// PerfSampler counts the hardware events of one experiment through Linux
// perf_event_open.
type PerfSampler struct {
	events    []*perf.Event
	fields    []string
	lastState map[int]eventState
	mutex     sync.Mutex
}

// NewPerfSampler opens the events of exp for pid. With pid -1 the given CPUs,
// or all of them, are monitored system-wide and counts are summed.
func NewPerfSampler(exp config.Experiment, pid int, cpus []int) (*PerfSampler, error) {
	logger := logging.GetLogger()

	events := make([]config.HWEvent, len(exp.Events))
	copy(events, exp.Events)
	sort.Slice(events, func(i, j int) bool { return events[i].Counter < events[j].Counter })

	switch {
	case pid >= 0:
		cpus = []int{perf.AnyCPU}
	case len(cpus) == 0:
		for i := 0; i < runtime.NumCPU(); i++ {
			cpus = append(cpus, i)
		}
	}

	sampler := &PerfSampler{lastState: make(map[int]eventState)}
	for _, ev := range events {
		attr, err := perfAttr(ev)
		if err != nil {
			sampler.Close()
			return nil, err
		}
		for _, cpu := range cpus {
			event, err := perf.Open(attr, pid, cpu, nil)
			if err != nil {
				sampler.Close()
				logger.WithFields(logrus.Fields{
					"counter": ev.Counter,
					"config":  fmt.Sprintf("%#x", attr.Config),
					"pid":     pid,
					"cpu":     cpu,
				}).WithError(err).Error("Failed to open perf event")
				return nil, err
			}
			sampler.events = append(sampler.events, event)
		}
		sampler.fields = append(sampler.fields, attr.Label)
	}

	for _, event := range sampler.events {
		if err := event.Enable(); err != nil {
			sampler.Close()
			return nil, fmt.Errorf("failed to enable perf event: %w", err)
		}
	}

	logger.WithFields(logrus.Fields{
		"pid":    pid,
		"fields": sampler.fields,
	}).Debug("Perf sampler ready")
	return sampler, nil
}

func (ps *PerfSampler) Fields() []string {
	return ps.fields
}

// Read returns the per-field counts since the previous call. The first call
// reports counts since the events were opened.
func (ps *PerfSampler) Read() (map[string]uint64, error) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	sums := make(map[string]uint64, len(ps.fields))
	for _, field := range ps.fields {
		sums[field] = 0
	}
	for i, event := range ps.events {
		count, err := event.ReadCount()
		if err != nil {
			return nil, fmt.Errorf("read perf event: %w", err)
		}
		cur := eventState{
			value:   uint64(count.Value),
			enabled: count.Enabled,
			running: count.Running,
		}
		sums[count.Label] += scaledDelta(ps.lastState[i], cur)
		ps.lastState[i] = cur
	}
	return sums, nil
}

func (ps *PerfSampler) Close() error {
	for _, event := range ps.events {
		if event != nil {
			event.Close()
		}
	}
	ps.events = nil
	return nil
}
