package config

import (
	"maps"
	"slices"
)

// Clone returns a copy that shares no mutable state with c.
func (c *UserConfig) Clone() *UserConfig {
	if c == nil {
		return nil
	}
	out := *c

	if c.Experiments != nil {
		out.Experiments = make([]Experiment, len(c.Experiments))
		for i, exp := range c.Experiments {
			out.Experiments[i] = exp.Clone()
		}
	}
	out.VirtualCounters = slices.Clone(c.VirtualCounters)
	out.Applications = slices.Clone(c.Applications)
	out.Machine = c.Machine.Clone()
	out.GraphStyle = c.GraphStyle.Clone()
	out.Sinks = c.Sinks.Clone()
	return &out
}

func (e Experiment) Clone() Experiment {
	out := e
	out.Metrics = slices.Clone(e.Metrics)
	if e.Events != nil {
		out.Events = make([]HWEvent, len(e.Events))
		for i, ev := range e.Events {
			out.Events[i] = ev.Clone()
		}
	}
	if e.EBSCounter != nil {
		counter := *e.EBSCounter
		out.EBSCounter = &counter
	}
	return out
}

func (e HWEvent) Clone() HWEvent {
	out := e
	out.Flags = maps.Clone(e.Flags)
	return out
}

func (m *MachineConfig) Clone() *MachineConfig {
	if m == nil {
		return nil
	}
	out := *m
	return &out
}

func (g *GraphStyleConfig) Clone() *GraphStyleConfig {
	if g == nil {
		return nil
	}
	out := *g
	return &out
}

func (s SinksConfig) Clone() SinksConfig {
	out := s
	if s.InfluxDB != nil {
		influx := *s.InfluxDB
		out.InfluxDB = &influx
	}
	if s.Prometheus != nil {
		prom := *s.Prometheus
		out.Prometheus = &prom
	}
	return out
}
