package processing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"pmc-monitor/internal/config"
	"pmc-monitor/internal/logging"
	"pmc-monitor/internal/metric"
	"pmc-monitor/internal/sample"

	"github.com/sirupsen/logrus"
)

const (
	FieldSample     = "nsample"
	FieldExperiment = "expid"
)

// Value is one evaluated metric for one sample.
type Value struct {
	Sample     int       `json:"nsample"`
	Experiment int       `json:"experiment"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}

// Source yields records together with the field mapping in force for them.
// Next returns io.EOF when the source is exhausted.
type Source interface {
	Next(ctx context.Context) (sample.Record, sample.FieldMap, error)
}

// Sink receives every processed sample. rec and fields must not be retained
// after Write returns.
type Sink interface {
	Write(ctx context.Context, rec sample.Record, fields sample.FieldMap, values []Value) error
	Close() error
}

// FailureRecorder is implemented by sinks that want to count samples dropped
// under the skip policy.
type FailureRecorder interface {
	RecordFailure(err error)
}

// Processor evaluates the compiled metrics of each experiment.
type Processor struct {
	experiments [][]*metric.Metric
	onError     string
	now         func() time.Time
}

type Stats struct {
	Processed int
	Skipped   int
}

func NewProcessor(cfg *config.UserConfig) (*Processor, error) {
	p := &Processor{onError: cfg.OnError, now: time.Now}
	if p.onError == "" {
		p.onError = config.OnErrorAbort
	}
	for i, exp := range cfg.Experiments {
		metrics, err := exp.CompiledMetrics()
		if err != nil {
			return nil, fmt.Errorf("experiment %d: %w", i, err)
		}
		p.experiments = append(p.experiments, metrics)
	}
	return p, nil
}

// Check reports the referenced fields missing from a layout, per experiment.
// The sampling tool only prints counters that are enabled, so a missing field
// means the configuration and the running experiment disagree.
func (p *Processor) Check(fields sample.FieldMap) map[int][]string {
	missing := make(map[int][]string)
	for i, metrics := range p.experiments {
		seen := make(map[string]bool)
		for _, m := range metrics {
			for _, name := range m.Missing(fields) {
				if !seen[name] {
					seen[name] = true
					missing[i] = append(missing[i], name)
				}
			}
		}
	}
	return missing
}

// Process evaluates every metric of the experiment the record belongs to.
// The experiment comes from the expid column, or 0 if there is none.
func (p *Processor) Process(rec sample.Record, fields sample.FieldMap) ([]Value, error) {
	exp, err := experimentOf(rec, fields)
	if err != nil {
		return nil, err
	}
	if exp < 0 || exp >= len(p.experiments) {
		return nil, fmt.Errorf("record refers to experiment %d but %d are configured", exp, len(p.experiments))
	}

	nsample := -1
	if raw, ok := rec.Value(fields, FieldSample); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			nsample = n
		}
	}

	ts := p.now()
	values := make([]Value, 0, len(p.experiments[exp]))
	for _, m := range p.experiments[exp] {
		v, err := m.Evaluate(rec, fields)
		if err != nil {
			return nil, fmt.Errorf("metric %q: %w", m.Name(), err)
		}
		values = append(values, Value{
			Sample:     nsample,
			Experiment: exp,
			Metric:     m.Name(),
			Value:      v,
			Timestamp:  ts,
		})
	}
	return values, nil
}

func experimentOf(rec sample.Record, fields sample.FieldMap) (int, error) {
	if _, ok := fields[FieldExperiment]; !ok {
		return 0, nil
	}
	raw, ok := rec.Value(fields, FieldExperiment)
	if !ok {
		return 0, fmt.Errorf("record has no %s value", FieldExperiment)
	}
	exp, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q", FieldExperiment, raw)
	}
	return exp, nil
}

// Run reads src until it is exhausted or ctx is cancelled, processing each
// record and handing the result to every sink. With the skip policy a record
// whose evaluation fails is logged and dropped; with abort the error ends the
// run. Sink errors always end the run.
func (p *Processor) Run(ctx context.Context, src Source, sinks ...Sink) (Stats, error) {
	logger := logging.GetLogger()
	var stats Stats
	var lastFields sample.FieldMap

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		rec, fields, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read sample: %w", err)
		}

		if !sameLayout(lastFields, fields) {
			lastFields = fields
			for exp, names := range p.Check(fields) {
				logger.WithFields(logrus.Fields{
					"experiment": exp,
					"missing":    names,
				}).Warn("Sample layout lacks fields referenced by metrics")
			}
		}

		values, err := p.Process(rec, fields)
		if err != nil {
			if p.onError == config.OnErrorSkip {
				stats.Skipped++
				logger.WithField("record", rec.String()).WithError(err).Debug("Skipping sample")
				for _, sink := range sinks {
					if fr, ok := sink.(FailureRecorder); ok {
						fr.RecordFailure(err)
					}
				}
				continue
			}
			return stats, err
		}

		for _, sink := range sinks {
			if err := sink.Write(ctx, rec, fields, values); err != nil {
				return stats, fmt.Errorf("write sample: %w", err)
			}
		}
		stats.Processed++
	}
}

func sameLayout(a, b sample.FieldMap) bool {
	if len(a) != len(b) || a == nil {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
