package processing

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"pmc-monitor/internal/config"
	"pmc-monitor/internal/metric"
	"pmc-monitor/internal/sample"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfig(t *testing.T, onError string, experiments ...[]config.Metric) *config.UserConfig {
	t.Helper()
	cfg := &config.UserConfig{OnError: onError}
	for _, metrics := range experiments {
		cfg.Experiments = append(cfg.Experiments, config.Experiment{Metrics: metrics})
	}
	require.NoError(t, cfg.CompileMetrics())
	return cfg
}

func m(name, formula string) config.Metric {
	return config.Metric{Name: name, Formula: formula}
}

type sliceSource struct {
	records []sample.Record
	fields  sample.FieldMap
}

func (s *sliceSource) Next(context.Context) (sample.Record, sample.FieldMap, error) {
	if len(s.records) == 0 {
		return nil, nil, io.EOF
	}
	rec := s.records[0]
	s.records = s.records[1:]
	return rec, s.fields, nil
}

type recordingSink struct {
	values [][]Value
	fail   error
	closed bool
}

func (r *recordingSink) Write(_ context.Context, _ sample.Record, _ sample.FieldMap, values []Value) error {
	if r.fail != nil {
		return r.fail
	}
	r.values = append(r.values, values)
	return nil
}

func (r *recordingSink) Close() error {
	r.closed = true
	return nil
}

type failureCounter struct {
	recordingSink
	failures []error
}

func (f *failureCounter) RecordFailure(err error) {
	f.failures = append(f.failures, err)
}

func TestProcess_SelectsExperimentByExpid(t *testing.T) {
	cfg := newConfig(t, "",
		[]config.Metric{m("IPC", "pmc0 / pmc1")},
		[]config.Metric{m("double", "pmc0 * 2"), m("half", "pmc0 / 2")},
	)
	p, err := NewProcessor(cfg)
	require.NoError(t, err)
	fixed := time.Unix(100, 0)
	p.now = func() time.Time { return fixed }

	fields := sample.NewFieldMap("nsample", "pid", "event", "expid", "pmc0", "pmc1")

	values, err := p.Process(sample.Record{"7", "1", "tick", "0", "10", "4"}, fields)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, Value{Sample: 7, Experiment: 0, Metric: "IPC", Value: 2.5, Timestamp: fixed}, values[0])

	values, err = p.Process(sample.Record{"8", "1", "tick", "1", "10", "-"}, fields)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Equal(t, 20.0, values[0].Value)
	assert.Equal(t, 5.0, values[1].Value)
	assert.Equal(t, 1, values[1].Experiment)

	_, err = p.Process(sample.Record{"9", "1", "tick", "5", "10", "4"}, fields)
	assert.Error(t, err)
	_, err = p.Process(sample.Record{"9", "1", "tick", "x", "10", "4"}, fields)
	assert.Error(t, err)
}

func TestProcess_DefaultsToFirstExperiment(t *testing.T) {
	p, err := NewProcessor(newConfig(t, "", []config.Metric{m("v", "virt0 * 2")}))
	require.NoError(t, err)

	values, err := p.Process(sample.Record{"3.5"}, sample.FieldMap{"virt0": 0})
	require.NoError(t, err)
	assert.Equal(t, 7.0, values[0].Value)
	assert.Equal(t, -1, values[0].Sample)
}

func TestProcess_WrapsMetricErrors(t *testing.T) {
	p, err := NewProcessor(newConfig(t, "", []config.Metric{m("sum", "pmc0 + pmc1")}))
	require.NoError(t, err)

	_, err = p.Process(sample.Record{"1"}, sample.FieldMap{"pmc0": 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `metric "sum"`)
	var nameErr *metric.NameResolutionError
	assert.True(t, errors.As(err, &nameErr))
}

func TestNewProcessor_RequiresCompiledMetrics(t *testing.T) {
	cfg := &config.UserConfig{Experiments: []config.Experiment{{Metrics: []config.Metric{m("x", "pmc0")}}}}
	_, err := NewProcessor(cfg)
	assert.Error(t, err)
}

func TestCheck_ReportsMissingFields(t *testing.T) {
	p, err := NewProcessor(newConfig(t, "",
		[]config.Metric{m("a", "pmc0 / pmc1"), m("b", "pmc1 + virt0")},
		[]config.Metric{m("c", "pmc0")},
	))
	require.NoError(t, err)

	missing := p.Check(sample.FieldMap{"pmc0": 0})
	assert.Equal(t, map[int][]string{0: {"pmc1", "virt0"}}, missing)
}

func TestRun_AbortPolicyStopsOnFirstError(t *testing.T) {
	p, err := NewProcessor(newConfig(t, config.OnErrorAbort, []config.Metric{m("x", "pmc0 * 1")}))
	require.NoError(t, err)
	src := &sliceSource{
		fields:  sample.FieldMap{"pmc0": 0},
		records: []sample.Record{{"1"}, {"N/A"}, {"3"}},
	}
	sink := &recordingSink{}

	stats, err := p.Run(context.Background(), src, sink)
	var fmtErr *metric.FormatError
	require.True(t, errors.As(err, &fmtErr))
	assert.Equal(t, Stats{Processed: 1}, stats)
	assert.Len(t, sink.values, 1)
	assert.False(t, sink.closed, "Run does not close sinks it does not own")
}

func TestRun_SkipPolicyDropsBadSamples(t *testing.T) {
	p, err := NewProcessor(newConfig(t, config.OnErrorSkip, []config.Metric{m("x", "10 / pmc0")}))
	require.NoError(t, err)
	src := &sliceSource{
		fields:  sample.FieldMap{"pmc0": 0},
		records: []sample.Record{{"1"}, {"0"}, {"N/A"}, {"5"}},
	}
	sink := &recordingSink{}

	stats, err := p.Run(context.Background(), src, sink)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 2, Skipped: 2}, stats)
	require.Len(t, sink.values, 2)
	assert.Equal(t, 2.0, sink.values[1][0].Value)
}

func TestRun_SkipPolicyNotifiesFailureRecorders(t *testing.T) {
	p, err := NewProcessor(newConfig(t, config.OnErrorSkip, []config.Metric{m("x", "10 / pmc0")}))
	require.NoError(t, err)
	src := &sliceSource{
		fields:  sample.FieldMap{"pmc0": 0},
		records: []sample.Record{{"0"}, {"2"}},
	}
	sink := &failureCounter{}

	_, err = p.Run(context.Background(), src, sink)
	require.NoError(t, err)
	require.Len(t, sink.failures, 1)
	var arith *metric.ArithmeticError
	assert.ErrorAs(t, sink.failures[0], &arith)
	assert.Len(t, sink.values, 1)
}

func TestRun_SinkErrorEndsRun(t *testing.T) {
	p, err := NewProcessor(newConfig(t, config.OnErrorSkip, []config.Metric{m("x", "pmc0")}))
	require.NoError(t, err)
	src := &sliceSource{fields: sample.FieldMap{"pmc0": 0}, records: []sample.Record{{"1"}}}

	_, err = p.Run(context.Background(), src, &recordingSink{fail: errors.New("disk full")})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "disk full"))
}

func TestRun_StopsOnCancelledContext(t *testing.T) {
	p, err := NewProcessor(newConfig(t, "", []config.Metric{m("x", "pmc0")}))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Run(ctx, &sliceSource{fields: sample.FieldMap{"pmc0": 0}, records: []sample.Record{{"1"}}})
	assert.ErrorIs(t, err, context.Canceled)
}
