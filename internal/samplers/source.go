// Package samplers produces sample records on the local machine, either by
// reading the sampling tool's output or by counting events directly.
package samplers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"pmc-monitor/internal/config"
	"pmc-monitor/internal/logging"
	"pmc-monitor/internal/processing"
	"pmc-monitor/internal/sample"

	"github.com/sirupsen/logrus"
)

const TickEvent = "tick"

type pendingRecord struct {
	rec    sample.Record
	fields sample.FieldMap
}

// LocalSource is a processing.Source that reads counters once per interval
// and lays them out like the sampling tool: nsample pid event [expid] pmc...
// virt... With several experiments one record per experiment is produced
// each interval and the expid column tells them apart.
type LocalSource struct {
	interval    time.Duration
	pid         int
	experiments []CounterReader
	virtual     CounterReader
	layouts     []sample.FieldMap

	ticker  *time.Ticker
	done    <-chan struct{}
	nsample int
	pending []pendingRecord
}

func NewLocalSource(interval time.Duration, pid int, experiments []CounterReader, virtual CounterReader) *LocalSource {
	s := &LocalSource{
		interval:    interval,
		pid:         pid,
		experiments: experiments,
		virtual:     virtual,
	}
	for _, exp := range experiments {
		names := []string{processing.FieldSample, "pid", "event"}
		if len(experiments) > 1 {
			names = append(names, processing.FieldExperiment)
		}
		names = append(names, exp.Fields()...)
		if virtual != nil {
			names = append(names, virtual.Fields()...)
		}
		s.layouts = append(s.layouts, sample.NewFieldMap(names...))
	}
	return s
}

// OpenLocalSource opens perf samplers for every experiment of cfg and, when
// virtual counters are configured, an RDT sampler. pid -1 samples the whole
// system. Virtual counters that cannot be sampled are an error.
func OpenLocalSource(cfg *config.UserConfig, pid int) (*LocalSource, error) {
	logger := logging.GetLogger()

	var readers []CounterReader
	for i, exp := range cfg.Experiments {
		ps, err := NewPerfSampler(exp, pid, nil)
		if err != nil {
			for _, r := range readers {
				r.Close()
			}
			return nil, err
		}
		logger.WithFields(logrus.Fields{
			"experiment": i,
			"fields":     ps.Fields(),
		}).Debug("Opened perf sampler")
		readers = append(readers, ps)
	}

	var virtual CounterReader
	if len(cfg.VirtualCounters) > 0 {
		counters, err := ParseVirtualCounters(cfg.VirtualCounters)
		if err != nil {
			for _, r := range readers {
				r.Close()
			}
			return nil, err
		}
		rs, err := NewRDTSampler(pid, counters)
		if err != nil {
			for _, r := range readers {
				r.Close()
			}
			return nil, fmt.Errorf("virtual counters %v: %w", cfg.VirtualCounters, err)
		}
		virtual = rs
	}

	return NewLocalSource(cfg.GetInterval(), pid, readers, virtual), nil
}

// StopOn ends the source with io.EOF once done is closed.
func (s *LocalSource) StopOn(done <-chan struct{}) {
	s.done = done
}

func (s *LocalSource) Next(ctx context.Context) (sample.Record, sample.FieldMap, error) {
	if len(s.pending) > 0 {
		p := s.pending[0]
		s.pending = s.pending[1:]
		return p.rec, p.fields, nil
	}
	if len(s.experiments) == 0 {
		return nil, nil, io.EOF
	}
	if s.ticker == nil {
		s.ticker = time.NewTicker(s.interval)
	}

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-s.done:
		return nil, nil, io.EOF
	case <-s.ticker.C:
	}

	if err := s.collect(); err != nil {
		return nil, nil, err
	}
	return s.Next(ctx)
}

func (s *LocalSource) collect() error {
	s.nsample++

	var virt map[string]uint64
	if s.virtual != nil {
		v, err := s.virtual.Read()
		if err != nil {
			return err
		}
		virt = v
	}

	for i, exp := range s.experiments {
		counts, err := exp.Read()
		if err != nil {
			return err
		}
		fields := s.layouts[i]
		rec := make(sample.Record, len(fields))
		rec[0] = strconv.Itoa(s.nsample)
		rec[1] = strconv.Itoa(s.pid)
		rec[2] = TickEvent
		if idx, ok := fields[processing.FieldExperiment]; ok {
			rec[idx] = strconv.Itoa(i)
		}
		for _, name := range exp.Fields() {
			rec[fields[name]] = strconv.FormatUint(counts[name], 10)
		}
		if s.virtual != nil {
			for _, name := range s.virtual.Fields() {
				rec[fields[name]] = strconv.FormatUint(virt[name], 10)
			}
		}
		s.pending = append(s.pending, pendingRecord{rec: rec, fields: fields})
	}
	return nil
}

func (s *LocalSource) Close() error {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	var errs []error
	for _, r := range s.experiments {
		errs = append(errs, r.Close())
	}
	if s.virtual != nil {
		errs = append(errs, s.virtual.Close())
	}
	return errors.Join(errs...)
}

// StreamSource is a processing.Source over the sampling tool's textual
// output, live from its stdout or replayed from a log.
type StreamSource struct {
	reader *sample.Reader
}

func NewStreamSource(r io.Reader) *StreamSource {
	return &StreamSource{reader: sample.NewReader(r)}
}

func (s *StreamSource) Next(ctx context.Context) (sample.Record, sample.FieldMap, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	rec, err := s.reader.Next()
	if err != nil {
		return nil, nil, err
	}
	return rec, s.reader.Fields(), nil
}

// Line is the input line of the last record, for error messages.
func (s *StreamSource) Line() int {
	return s.reader.Line()
}
