package samplers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pmc-monitor/internal/logging"

	"github.com/intel/goresctrl/pkg/rdt"
	"github.com/sirupsen/logrus"
)

// Virtual counters backed by Intel RDT monitoring, by virt index.
var rdtVirtualCounters = []struct {
	name  string
	event string
	delta bool
}{
	{"llc_usage", "llc_occupancy", false},
	{"total_llc_bw", "mbm_total_bytes", true},
	{"local_llc_bw", "mbm_local_bytes", true},
}

// VirtualCounterNames lists the virtual counters in virt index order.
func VirtualCounterNames() []string {
	names := make([]string, len(rdtVirtualCounters))
	for i, vc := range rdtVirtualCounters {
		names[i] = vc.name
	}
	return names
}

// ParseVirtualCounters turns entries such as "virt1" or "total_llc_bw" into
// sorted virt indices.
func ParseVirtualCounters(entries []string) ([]int, error) {
	seen := make(map[int]bool)
	var out []int
	for _, entry := range entries {
		idx := -1
		if n, ok := strings.CutPrefix(entry, "virt"); ok {
			if v, err := strconv.Atoi(n); err == nil {
				idx = v
			}
		} else {
			for i, vc := range rdtVirtualCounters {
				if vc.name == entry {
					idx = i
				}
			}
		}
		if idx < 0 || idx >= len(rdtVirtualCounters) {
			return nil, fmt.Errorf("unknown virtual counter %q", entry)
		}
		if !seen[idx] {
			seen[idx] = true
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return out, nil
}

// monSource is the part of an RDT monitoring group the sampler reads.
type monSource interface {
	GetMonData() rdt.MonData
}

// monClass is the part of an RDT class the sampler needs.
type monClass interface {
	monSource
	CreateMonGroup(name string, annotations map[string]string) (rdt.MonGroup, error)
	DeleteMonGroup(name string) error
}

// RDTSampler reports LLC occupancy and memory bandwidth of a process, or of
// the whole root class when sampling system-wide.
type RDTSampler struct {
	class     monClass
	groupName string
	mon       monSource
	counters  []int
	last      map[string]uint64
}

// NewRDTSampler monitors pid through a monitoring group in the root RDT
// class. A negative pid monitors the root class itself.
func NewRDTSampler(pid int, counters []int) (*RDTSampler, error) {
	if err := rdt.Initialize(""); err != nil {
		return nil, fmt.Errorf("rdt not available: %w", err)
	}
	if !rdt.MonSupported() {
		return nil, fmt.Errorf("rdt monitoring not supported")
	}

	class, ok := rdt.GetClass(rdt.RootClassName)
	if !ok {
		return nil, fmt.Errorf("rdt class %q not found", rdt.RootClassName)
	}
	return monitorClass(class, pid, counters)
}

func monitorClass(class monClass, pid int, counters []int) (*RDTSampler, error) {
	if pid < 0 {
		return newRDTSampler(class, counters), nil
	}

	name := "pmc-monitor-" + strconv.Itoa(pid)
	group, err := class.CreateMonGroup(name, nil)
	if err != nil {
		return nil, fmt.Errorf("create rdt monitoring group: %w", err)
	}
	if err := group.AddPids(strconv.Itoa(pid)); err != nil {
		logging.GetLogger().WithFields(logrus.Fields{
			"pid":   pid,
			"group": name,
		}).WithError(err).Error("Failed to add PID to RDT monitoring group")
		_ = class.DeleteMonGroup(name)
		return nil, err
	}

	s := newRDTSampler(group, counters)
	s.class = class
	s.groupName = name
	return s, nil
}

func newRDTSampler(mon monSource, counters []int) *RDTSampler {
	s := &RDTSampler{mon: mon, counters: counters}
	s.last = sumL3(mon.GetMonData())
	return s
}

func (rs *RDTSampler) Fields() []string {
	fields := make([]string, len(rs.counters))
	for i, idx := range rs.counters {
		fields[i] = "virt" + strconv.Itoa(idx)
	}
	return fields
}

func (rs *RDTSampler) Read() (map[string]uint64, error) {
	cur := sumL3(rs.mon.GetMonData())
	out := virtualCounts(rs.last, cur, rs.counters)
	rs.last = cur
	return out, nil
}

func (rs *RDTSampler) Close() error {
	if rs.class == nil {
		return nil
	}
	return rs.class.DeleteMonGroup(rs.groupName)
}

// sumL3 adds up the L3 monitoring events across cache domains.
func sumL3(data rdt.MonData) map[string]uint64 {
	out := make(map[string]uint64)
	for _, cache := range data.L3 {
		for event, v := range cache {
			out[event] += v
		}
	}
	return out
}

// virtualCounts maps raw RDT readings onto virt fields. Occupancy is an
// instantaneous value; bandwidth counters are reported as bytes transferred
// since the previous reading.
func virtualCounts(prev, cur map[string]uint64, counters []int) map[string]uint64 {
	out := make(map[string]uint64, len(counters))
	for _, idx := range counters {
		vc := rdtVirtualCounters[idx]
		v := cur[vc.event]
		if vc.delta {
			if p := prev[vc.event]; v >= p {
				v -= p
			} else {
				v = 0
			}
		}
		out["virt"+strconv.Itoa(idx)] = v
	}
	return out
}
