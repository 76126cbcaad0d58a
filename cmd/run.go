package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"pmc-monitor/internal/config"
	"pmc-monitor/internal/database"
	"pmc-monitor/internal/dataframe"
	"pmc-monitor/internal/logging"
	"pmc-monitor/internal/observability"
	"pmc-monitor/internal/processing"
	"pmc-monitor/internal/runlog"
	"pmc-monitor/internal/samplers"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// maxHistoryPoints bounds the in-memory history of each metric.
const maxHistoryPoints = 100000

// Monitor wires one run: a processor, its sinks and the run bookkeeping.
type Monitor struct {
	config        *config.UserConfig
	configContent string
	runID         string
	archiveDir    string

	processor  *processing.Processor
	dataframes *dataframe.DataFrames
	runLog     *runlog.Writer
	dbClient   *database.InfluxDBClient
	exporter   *observability.Exporter
	sinks      []processing.Sink

	stats     processing.Stats
	startTime time.Time
	endTime   time.Time
}

func newMonitor(cfg *config.UserConfig, content, runID, archiveDir string) (*Monitor, error) {
	processor, err := processing.NewProcessor(cfg)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		runID = time.Now().UTC().Format("20060102T150405")
	}
	if archiveDir == "" {
		archiveDir = cfg.Sinks.ArchiveDir
	}

	m := &Monitor{
		config:        cfg,
		configContent: content,
		runID:         runID,
		archiveDir:    archiveDir,
		processor:     processor,
		dataframes:    dataframe.NewDataFrames(maxHistoryPoints),
	}
	m.sinks = append(m.sinks, m.dataframes)
	return m, nil
}

// openSinks connects the optional outputs named in the configuration.
func (m *Monitor) openSinks(ctx context.Context) error {
	logger := logging.GetLogger()

	runLog, err := runlog.NewWriter(m.config.Logs)
	if err != nil {
		return fmt.Errorf("failed to open run logs: %w", err)
	}
	if runLog != nil {
		m.runLog = runLog
		m.sinks = append(m.sinks, runLog)
	}

	if influx := m.config.Sinks.InfluxDB; influx != nil {
		client, err := database.NewInfluxDBClient(*influx, m.runID)
		if err != nil {
			return fmt.Errorf("failed to connect to InfluxDB: %w", err)
		}
		m.dbClient = client
		m.sinks = append(m.sinks, client)
	}

	if prom := m.config.Sinks.Prometheus; prom != nil {
		exporter, err := observability.NewExporter(nil)
		if err != nil {
			return err
		}
		m.exporter = exporter
		m.sinks = append(m.sinks, exporter)
		go func() {
			if err := exporter.Serve(ctx, prom.Addr); err != nil {
				logger.WithField("addr", prom.Addr).WithError(err).Error("Prometheus exporter stopped")
			}
		}()
	}
	return nil
}

// process drains src into the sinks, accumulating statistics across sources.
func (m *Monitor) process(ctx context.Context, src processing.Source) error {
	stats, err := m.processor.Run(ctx, src, m.sinks...)
	m.stats.Processed += stats.Processed
	m.stats.Skipped += stats.Skipped
	return err
}

// finish writes run metadata and the archive, then closes every sink.
func (m *Monitor) finish() error {
	logger := logging.GetLogger()
	m.endTime = time.Now()

	metadata := database.CollectRunMetadata(m.runID, m.config, m.stats, m.startTime, m.endTime)

	var errs []error
	if m.dbClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := m.dbClient.WriteMetadata(ctx, metadata); err != nil {
			logger.WithError(err).Error("Failed to write run metadata")
			errs = append(errs, err)
		}
		cancel()
	}

	if m.archiveDir != "" {
		archive := database.BuildRunArchive(metadata, m.configContent, m.dataframes, m.startTime, m.endTime)
		path, err := database.WriteRunArchive(m.archiveDir, archive)
		if err != nil {
			logger.WithError(err).Error("Failed to write run archive")
			errs = append(errs, err)
		} else {
			logger.WithField("path", path).Info("Run archive written")
		}
	}

	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	logger.WithFields(logrus.Fields{
		"run_id":    m.runID,
		"processed": m.stats.Processed,
		"skipped":   m.stats.Skipped,
		"duration":  m.endTime.Sub(m.startTime).Round(time.Millisecond),
	}).Info("Run finished")
	return errors.Join(errs...)
}

// printSummary writes the last, minimum and maximum value of every metric.
func (m *Monitor) printSummary(out io.Writer) {
	experiments := m.dataframes.GetAllExperiments()
	indices := make([]int, 0, len(experiments))
	for i := range experiments {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	for _, i := range indices {
		edf := experiments[i]
		fmt.Fprintf(out, "experiment %d\n", i)
		for _, name := range edf.Metrics() {
			last, ok := edf.GetLatest(name)
			if !ok {
				continue
			}
			lo, hi, _ := edf.Range(name)
			fmt.Fprintf(out, "  %-20s last %-14g min %-14g max %-14g samples %d\n",
				name, last.Value, lo, hi, edf.Len(name))
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	logger := logging.GetLogger()
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func newRunCmd() *cobra.Command {
	var configFile, input, runID, archiveDir string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sampling tool and evaluate metrics live",
		Long:  "Run pmctrack locally or on the configured remote machine, or replay recorded output with --input, evaluating every configured metric",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, content, err := loadConfig(configFile, cmd.Flags().Changed("log-level"))
			if err != nil {
				return err
			}
			monitor, err := newMonitor(cfg, content, runID, archiveDir)
			if err != nil {
				return err
			}
			return monitor.runTool(input, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to monitoring configuration file")
	runCmd.Flags().StringVarP(&input, "input", "i", "", "Read recorded sampling tool output instead of running it (- for stdin)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Identifier of this run (default: start time)")
	runCmd.Flags().StringVar(&archiveDir, "archive", "", "Write a run archive to this directory")
	runCmd.MarkFlagRequired("config")
	return runCmd
}

func (m *Monitor) runTool(input string, stdin io.Reader, out io.Writer) (err error) {
	logger := logging.GetLogger()

	ctx, cancel := signalContext()
	defer cancel()

	m.startTime = time.Now()
	if err := m.openSinks(ctx); err != nil {
		m.closeSinks()
		return err
	}
	defer func() {
		if ferr := m.finish(); err == nil {
			err = ferr
		}
		m.printSummary(out)
	}()

	if input != "" {
		in := stdin
		if input != "-" {
			f, err := os.Open(input)
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}
		logger.WithField("input", input).Info("Replaying recorded samples")
		if err := m.process(ctx, samplers.NewStreamSource(in)); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	commands, err := config.Commands(m.config)
	if err != nil {
		return err
	}
	for _, argv := range commands {
		if err := m.runCommand(ctx, argv); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

// runCommand executes one sampling tool invocation and processes its stdout.
func (m *Monitor) runCommand(ctx context.Context, argv []string) error {
	logger := logging.GetLogger()
	logger.WithField("command", strings.Join(argv, " ")).Info("Starting sampling tool")

	tool := exec.CommandContext(ctx, argv[0], argv[1:]...)
	tool.Stderr = os.Stderr
	stdout, err := tool.StdoutPipe()
	if err != nil {
		return err
	}
	if err := tool.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	procErr := m.process(ctx, samplers.NewStreamSource(stdout))
	if procErr != nil {
		// Stop the tool so Wait does not block on a full pipe.
		_ = tool.Process.Kill()
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := tool.Wait()

	switch {
	case procErr != nil && !errors.Is(procErr, context.Canceled):
		return procErr
	case ctx.Err() != nil:
		return nil
	case waitErr != nil:
		return fmt.Errorf("%s: %w", argv[0], waitErr)
	}
	return nil
}

func (m *Monitor) closeSinks() {
	for _, sink := range m.sinks {
		sink.Close()
	}
}

func newSampleCmd() *cobra.Command {
	var configFile, runID, archiveDir string
	var pid int
	var duration time.Duration

	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Sample counters directly with perf and RDT on this machine",
		Long:  "Count the configured events with perf_event_open (and Intel RDT for virtual counters) without pmctrack, for a PID, the configured application, or the whole system",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, content, err := loadConfig(configFile, cmd.Flags().Changed("log-level"))
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("pid") {
				cfg.PID = pid
			}
			monitor, err := newMonitor(cfg, content, runID, archiveDir)
			if err != nil {
				return err
			}
			return monitor.sampleLocal(duration, cmd.OutOrStdout())
		},
	}

	sampleCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to monitoring configuration file")
	sampleCmd.Flags().IntVarP(&pid, "pid", "p", 0, "Attach to a running process")
	sampleCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 = until the process exits or interrupted)")
	sampleCmd.Flags().StringVar(&runID, "run-id", "", "Identifier of this run (default: start time)")
	sampleCmd.Flags().StringVar(&archiveDir, "archive", "", "Write a run archive to this directory")
	sampleCmd.MarkFlagRequired("config")
	return sampleCmd
}

func (m *Monitor) sampleLocal(duration time.Duration, out io.Writer) (err error) {
	logger := logging.GetLogger()
	cfg := m.config

	if cfg.MachineType() != config.MachineLocal {
		return fmt.Errorf("direct sampling only works on the local machine, configuration targets %s", cfg.MachineType())
	}

	ctx, cancel := signalContext()
	defer cancel()
	if duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	pid := -1
	var app *exec.Cmd
	done := make(chan struct{})
	switch {
	case cfg.SystemWide:
	case cfg.PID > 0:
		pid = cfg.PID
	case len(cfg.Applications) > 0:
		fields := strings.Fields(cfg.Applications[0])
		if len(fields) == 0 {
			return fmt.Errorf("empty application command")
		}
		app = exec.CommandContext(ctx, fields[0], fields[1:]...)
		app.Stdout = os.Stderr
		app.Stderr = os.Stderr
		if err := app.Start(); err != nil {
			return fmt.Errorf("failed to start application: %w", err)
		}
		pid = app.Process.Pid
		go func() {
			app.Wait()
			close(done)
		}()
		logger.WithFields(logrus.Fields{
			"application": cfg.Applications[0],
			"pid":         pid,
		}).Info("Started application")
	default:
		return fmt.Errorf("nothing to sample: set pid, system_wide or an application")
	}

	src, err := samplers.OpenLocalSource(cfg, pid)
	if err != nil {
		if app != nil {
			_ = app.Process.Kill()
		}
		return err
	}
	defer src.Close()
	if app != nil {
		src.StopOn(done)
	}

	m.startTime = time.Now()
	if err := m.openSinks(ctx); err != nil {
		m.closeSinks()
		return err
	}
	defer func() {
		if ferr := m.finish(); err == nil {
			err = ferr
		}
		m.printSummary(out)
	}()

	err = m.process(ctx, src)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}
