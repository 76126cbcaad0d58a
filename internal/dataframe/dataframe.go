package dataframe

import (
	"context"
	"sort"
	"sync"
	"time"

	"pmc-monitor/internal/processing"
	"pmc-monitor/internal/sample"
)

// DataFrames keeps the evaluated metric history of a run, one frame per
// experiment. It is the in-memory backing for graphs and the run archive.
type DataFrames struct {
	experiments map[int]*ExperimentDataFrame
	maxPoints   int
	mutex       sync.RWMutex
}

// ExperimentDataFrame holds one ordered series per metric.
type ExperimentDataFrame struct {
	series    map[string][]Point
	order     []string
	maxPoints int
	mutex     sync.RWMutex
}

type Point struct {
	Sample    int       `json:"nsample"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// NewDataFrames creates an empty store. maxPoints bounds every series; older
// points are dropped first. Zero keeps everything.
func NewDataFrames(maxPoints int) *DataFrames {
	return &DataFrames{
		experiments: make(map[int]*ExperimentDataFrame),
		maxPoints:   maxPoints,
	}
}

func (df *DataFrames) GetExperiment(index int) *ExperimentDataFrame {
	df.mutex.RLock()
	defer df.mutex.RUnlock()
	return df.experiments[index]
}

func (df *DataFrames) getOrAddExperiment(index int) *ExperimentDataFrame {
	df.mutex.Lock()
	defer df.mutex.Unlock()

	if edf, ok := df.experiments[index]; ok {
		return edf
	}
	edf := &ExperimentDataFrame{
		series:    make(map[string][]Point),
		maxPoints: df.maxPoints,
	}
	df.experiments[index] = edf
	return edf
}

func (df *DataFrames) GetAllExperiments() map[int]*ExperimentDataFrame {
	df.mutex.RLock()
	defer df.mutex.RUnlock()

	result := make(map[int]*ExperimentDataFrame)
	for k, v := range df.experiments {
		result[k] = v
	}
	return result
}

// Add stores evaluated values.
func (df *DataFrames) Add(values []processing.Value) {
	for _, v := range values {
		df.getOrAddExperiment(v.Experiment).AddPoint(v.Metric, Point{
			Sample:    v.Sample,
			Timestamp: v.Timestamp,
			Value:     v.Value,
		})
	}
}

// Write implements processing.Sink.
func (df *DataFrames) Write(_ context.Context, _ sample.Record, _ sample.FieldMap, values []processing.Value) error {
	df.Add(values)
	return nil
}

func (df *DataFrames) Close() error {
	return nil
}

// Snapshot copies every series, keyed by experiment then metric.
func (df *DataFrames) Snapshot() map[int]map[string][]Point {
	out := make(map[int]map[string][]Point)
	for idx, edf := range df.GetAllExperiments() {
		series := make(map[string][]Point)
		for _, name := range edf.Metrics() {
			series[name] = edf.Points(name)
		}
		out[idx] = series
	}
	return out
}

func (edf *ExperimentDataFrame) AddPoint(metric string, p Point) {
	edf.mutex.Lock()
	defer edf.mutex.Unlock()

	points, ok := edf.series[metric]
	if !ok {
		edf.order = append(edf.order, metric)
	}
	points = append(points, p)
	if edf.maxPoints > 0 && len(points) > edf.maxPoints {
		points = append([]Point(nil), points[len(points)-edf.maxPoints:]...)
	}
	edf.series[metric] = points
}

// Metrics returns metric names in the order they were first seen.
func (edf *ExperimentDataFrame) Metrics() []string {
	edf.mutex.RLock()
	defer edf.mutex.RUnlock()
	return append([]string(nil), edf.order...)
}

func (edf *ExperimentDataFrame) Points(metric string) []Point {
	edf.mutex.RLock()
	defer edf.mutex.RUnlock()
	return append([]Point(nil), edf.series[metric]...)
}

func (edf *ExperimentDataFrame) Len(metric string) int {
	edf.mutex.RLock()
	defer edf.mutex.RUnlock()
	return len(edf.series[metric])
}

func (edf *ExperimentDataFrame) GetLatest(metric string) (Point, bool) {
	edf.mutex.RLock()
	defer edf.mutex.RUnlock()

	points := edf.series[metric]
	if len(points) == 0 {
		return Point{}, false
	}
	return points[len(points)-1], true
}

// Range returns the minimum and maximum value of a series, for axis bounds.
func (edf *ExperimentDataFrame) Range(metric string) (min, max float64, ok bool) {
	points := edf.Points(metric)
	if len(points) == 0 {
		return 0, 0, false
	}
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	sort.Float64s(values)
	return values[0], values[len(values)-1], true
}
