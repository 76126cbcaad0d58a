package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pmc-monitor/internal/config"
	"pmc-monitor/internal/logging"
	"pmc-monitor/internal/processing"
	"pmc-monitor/internal/sample"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

const (
	MetricsMeasurement  = "pmc_metrics"
	CountersMeasurement = "pmc_counters"
	MetaMeasurement     = "pmc_run_meta"
)

// pointWriter is the part of api.WriteAPIBlocking the client needs.
type pointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

type InfluxDBClient struct {
	client   influxdb2.Client
	writeAPI pointWriter
	runID    string
	bucket   string
	org      string
}

func NewInfluxDBClient(cfg config.InfluxDBConfig, runID string) (*InfluxDBClient, error) {
	logger := logging.GetLogger()

	client := influxdb2.NewClient(cfg.Host, cfg.Token)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		logger.WithField("host", cfg.Host).WithError(err).Error("Failed to connect to InfluxDB")
		client.Close()
		return nil, err
	}

	if health.Status != "pass" {
		message := ""
		if health.Message != nil {
			message = *health.Message
		}
		logger.WithFields(logrus.Fields{
			"host":    cfg.Host,
			"status":  health.Status,
			"message": message,
		}).Error("InfluxDB health check failed")
		client.Close()
		return nil, fmt.Errorf("influxdb health check failed: %s %s", health.Status, message)
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Host,
		"bucket": cfg.Bucket,
		"org":    cfg.Org,
	}).Info("Connected to InfluxDB")

	return &InfluxDBClient{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		runID:    runID,
		bucket:   cfg.Bucket,
		org:      cfg.Org,
	}, nil
}

// Write implements processing.Sink: one point per metric value plus one
// point carrying the numeric raw counters of the record.
func (idb *InfluxDBClient) Write(ctx context.Context, rec sample.Record, fields sample.FieldMap, values []processing.Value) error {
	points := idb.buildPoints(rec, fields, values)
	if len(points) == 0 {
		return nil
	}
	if err := idb.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("failed to write data points: %w", err)
	}
	return nil
}

func (idb *InfluxDBClient) buildPoints(rec sample.Record, fields sample.FieldMap, values []processing.Value) []*write.Point {
	var points []*write.Point

	ts := time.Now()
	if len(values) > 0 {
		ts = values[0].Timestamp
	}

	for _, v := range values {
		point := influxdb2.NewPoint(MetricsMeasurement,
			map[string]string{
				"run_id":     idb.runID,
				"experiment": strconv.Itoa(v.Experiment),
				"metric":     v.Metric,
			},
			map[string]interface{}{
				"value":   v.Value,
				"nsample": v.Sample,
			},
			v.Timestamp)
		points = append(points, point)
	}

	counters := make(map[string]interface{})
	for name, idx := range fields {
		if !isCounterField(name) || idx < 0 || idx >= len(rec) {
			continue
		}
		if f, err := strconv.ParseFloat(rec[idx], 64); err == nil {
			counters[name] = f
		}
	}
	if len(counters) > 0 {
		tags := map[string]string{"run_id": idb.runID}
		if exp, ok := rec.Value(fields, processing.FieldExperiment); ok {
			tags["experiment"] = exp
		}
		points = append(points, influxdb2.NewPoint(CountersMeasurement, tags, counters, ts))
	}

	return points
}

func isCounterField(name string) bool {
	return strings.HasPrefix(name, "pmc") || strings.HasPrefix(name, "virt")
}

func (idb *InfluxDBClient) WriteMetadata(ctx context.Context, metadata *RunMetadata) error {
	point := influxdb2.NewPoint(MetaMeasurement,
		map[string]string{
			"run_id": metadata.RunID,
		},
		map[string]interface{}{
			"config_checksum":  metadata.ConfigChecksum,
			"run_started":      metadata.RunStarted,
			"run_finished":     metadata.RunFinished,
			"duration_seconds": metadata.DurationSeconds,
			"machine_type":     metadata.MachineType,
			"interval_ms":      metadata.IntervalMS,
			"experiments":      metadata.Experiments,
			"metrics":          metadata.Metrics,
			"total_samples":    metadata.TotalSamples,
			"skipped_samples":  metadata.SkippedSamples,
			"hostname":         metadata.Hostname,
			"os_info":          metadata.OSInfo,
			"kernel_version":   metadata.KernelVersion,
			"cpu_vendor":       metadata.CPUVendor,
			"cpu_model":        metadata.CPUModel,
			"cpu_threads":      metadata.CPUThreads,
			"cpu_sockets":      metadata.CPUSockets,
			"l3_cache_bytes":   metadata.L3CacheBytes,
			"rdt_monitoring":   metadata.RDTMonitoring,
		},
		time.Now())

	if err := idb.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

func (idb *InfluxDBClient) Close() error {
	if idb.client != nil {
		idb.client.Close()
	}
	return nil
}
