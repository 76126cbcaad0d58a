// Package runlog writes the optional counters and metrics log files of a run.
package runlog

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"pmc-monitor/internal/config"
	"pmc-monitor/internal/processing"
	"pmc-monitor/internal/sample"
)

const (
	CountersFile = "counters.log"
	MetricsFile  = "metrics.log"
)

// Writer appends raw records to counters.log and evaluated metrics to
// metrics.log. A header line is written whenever the layout changes.
type Writer struct {
	counters *bufio.Writer
	metrics  *bufio.Writer
	files    []*os.File

	countersHeader string
	metricsHeader  string
	mutex          sync.Mutex
}

// NewWriter opens the log files enabled in cfg. It returns nil when neither
// log is enabled.
func NewWriter(cfg config.LogsConfig) (*Writer, error) {
	if !cfg.SaveCounters && !cfg.SaveMetrics {
		return nil, nil
	}
	dir := cfg.Dir
	if dir == "" {
		dir = config.DefaultLogsDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	w := &Writer{}
	if cfg.SaveCounters {
		f, err := os.Create(filepath.Join(dir, CountersFile))
		if err != nil {
			return nil, err
		}
		w.files = append(w.files, f)
		w.counters = bufio.NewWriter(f)
	}
	if cfg.SaveMetrics {
		f, err := os.Create(filepath.Join(dir, MetricsFile))
		if err != nil {
			w.Close()
			return nil, err
		}
		w.files = append(w.files, f)
		w.metrics = bufio.NewWriter(f)
	}
	return w, nil
}

// Write implements processing.Sink.
func (w *Writer) Write(_ context.Context, rec sample.Record, fields sample.FieldMap, values []processing.Value) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.counters != nil {
		header := strings.Join(fields.Names(), "\t")
		if header != w.countersHeader {
			if _, err := fmt.Fprintln(w.counters, header); err != nil {
				return err
			}
			w.countersHeader = header
		}
		if _, err := fmt.Fprintln(w.counters, strings.Join(rec, "\t")); err != nil {
			return err
		}
	}

	if w.metrics != nil && len(values) > 0 {
		names := make([]string, 0, len(values)+2)
		names = append(names, processing.FieldSample, processing.FieldExperiment)
		cols := make([]string, 0, len(values)+2)
		cols = append(cols, strconv.Itoa(values[0].Sample), strconv.Itoa(values[0].Experiment))
		for _, v := range values {
			names = append(names, v.Metric)
			cols = append(cols, strconv.FormatFloat(v.Value, 'f', 6, 64))
		}

		header := strings.Join(names, "\t")
		if header != w.metricsHeader {
			if _, err := fmt.Fprintln(w.metrics, header); err != nil {
				return err
			}
			w.metricsHeader = header
		}
		if _, err := fmt.Fprintln(w.metrics, strings.Join(cols, "\t")); err != nil {
			return err
		}
	}
	return nil
}

// Flush pushes buffered lines to disk.
func (w *Writer) Flush() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if w.counters != nil {
		if err := w.counters.Flush(); err != nil {
			return err
		}
	}
	if w.metrics != nil {
		if err := w.metrics.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) Close() error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	err := w.flushLocked()
	for _, f := range w.files {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	w.files = nil
	return err
}
