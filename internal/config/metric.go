package config

import (
	"fmt"

	"pmc-monitor/internal/metric"
)

// NewMetric compiles formula immediately so malformed input is reported to
// the caller that is editing the configuration.
func NewMetric(name, formula string) (Metric, error) {
	m := Metric{Name: name, Formula: formula}
	if err := m.Compile(); err != nil {
		return Metric{}, err
	}
	return m, nil
}

// Compile (re)compiles the formula. A fresh compiled value replaces the old
// one; copies made earlier keep theirs.
func (m *Metric) Compile() error {
	compiled, err := metric.Compile(m.Name, m.Formula)
	if err != nil {
		return err
	}
	m.compiled = compiled
	return nil
}

// Compiled returns the compiled formula, or nil if Compile has not run.
func (m Metric) Compiled() *metric.Metric {
	return m.compiled
}

// CompileMetrics compiles every metric of every experiment.
func (c *UserConfig) CompileMetrics() error {
	for i := range c.Experiments {
		for j := range c.Experiments[i].Metrics {
			m := &c.Experiments[i].Metrics[j]
			if err := m.Compile(); err != nil {
				return fmt.Errorf("experiment %d, metric %q: %w", i, m.Name, err)
			}
		}
	}
	return nil
}

// CompiledMetrics returns the compiled metrics of one experiment in order.
func (e Experiment) CompiledMetrics() ([]*metric.Metric, error) {
	out := make([]*metric.Metric, 0, len(e.Metrics))
	for _, m := range e.Metrics {
		if m.compiled == nil {
			return nil, fmt.Errorf("metric %q has not been compiled", m.Name)
		}
		out = append(out, m.compiled)
	}
	return out, nil
}
