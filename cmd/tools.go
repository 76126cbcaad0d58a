package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"pmc-monitor/internal/config"
	"pmc-monitor/internal/graphstyle"
	"pmc-monitor/internal/host"
	"pmc-monitor/internal/logging"
	"pmc-monitor/internal/metric"
	"pmc-monitor/internal/processing"
	"pmc-monitor/internal/samplers"

	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var configFile string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a monitoring configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.GetLogger()

			cfg, _, err := loadConfig(configFile, cmd.Flags().Changed("log-level"))
			if err != nil {
				return err
			}
			checksum, err := config.Checksum(cfg)
			if err != nil {
				return err
			}
			logger.WithField("config_file", configFile).Info("Configuration is valid")

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checksum %s\n", checksum)
			for i, exp := range cfg.Experiments {
				fmt.Fprintf(out, "experiment %d: %s\n", i, exp.CounterConfig())
				for _, m := range exp.Metrics {
					fmt.Fprintf(out, "  %s = %s  [%s]\n", m.Name, m.Formula, strings.Join(m.Compiled().Fields(), " "))
				}
			}
			return nil
		},
	}

	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to monitoring configuration file")
	validateCmd.MarkFlagRequired("config")
	return validateCmd
}

func newEvalCmd() *cobra.Command {
	var formula, name string
	var skipErrors bool

	evalCmd := &cobra.Command{
		Use:   "eval [sample-file]",
		Short: "Evaluate a metric formula over recorded samples",
		Long:  "Evaluate a metric formula over sampling tool output read from a file or standard input",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := metric.Compile(name, formula)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			return evalStream(cmd.Context(), m, in, cmd.OutOrStdout(), skipErrors)
		},
	}

	evalCmd.Flags().StringVarP(&formula, "formula", "f", "", "Metric formula, e.g. \"pmc0 / pmc1\"")
	evalCmd.Flags().StringVarP(&name, "name", "n", "metric", "Metric name used in the output header")
	evalCmd.Flags().BoolVar(&skipErrors, "skip-errors", false, "Report failing samples and continue")
	evalCmd.MarkFlagRequired("formula")
	return evalCmd
}

func evalStream(ctx context.Context, m *metric.Metric, in io.Reader, out io.Writer, skipErrors bool) error {
	logger := logging.GetLogger()
	if ctx == nil {
		ctx = context.Background()
	}

	src := samplers.NewStreamSource(in)
	fmt.Fprintf(out, "%s\t%s\n", processing.FieldSample, m.Name())
	for {
		rec, fields, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		nsample, _ := rec.Value(fields, processing.FieldSample)
		v, err := m.Evaluate(rec, fields)
		if err != nil {
			if !skipErrors {
				return fmt.Errorf("line %d: %w", src.Line(), err)
			}
			logger.WithField("line", src.Line()).WithError(err).Warn("Skipping sample")
			continue
		}
		fmt.Fprintf(out, "%s\t%s\n", nsample, strconv.FormatFloat(v, 'g', -1, 64))
	}
}

func newCommandCmd() *cobra.Command {
	var configFile string

	commandCmd := &cobra.Command{
		Use:   "command",
		Short: "Print the sampling tool invocations for a configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(configFile, cmd.Flags().Changed("log-level"))
			if err != nil {
				return err
			}
			commands, err := config.Commands(cfg)
			if err != nil {
				return err
			}
			for _, argv := range commands {
				fmt.Fprintln(cmd.OutOrStdout(), shellJoin(argv))
			}
			return nil
		},
	}

	commandCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to monitoring configuration file")
	commandCmd.MarkFlagRequired("config")
	return commandCmd
}

// shellJoin quotes arguments that a POSIX shell would split or expand.
func shellJoin(argv []string) string {
	quoted := make([]string, len(argv))
	for i, arg := range argv {
		if arg != "" && !strings.ContainsAny(arg, " \t\n'\"\\$`*?[]{}()<>|&;#~!") {
			quoted[i] = arg
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

func newStylesCmd() *cobra.Command {
	var configFile string
	var tikz bool

	stylesCmd := &cobra.Command{
		Use:   "styles",
		Short: "List graph style modes",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if configFile != "" {
				cfg, _, err := loadConfig(configFile, cmd.Flags().Changed("log-level"))
				if err != nil {
					return err
				}
				editor, err := graphstyle.EditorFromConfig(cfg.GraphStyle)
				if err != nil {
					return fmt.Errorf("graph_style: %w", err)
				}
				printStyle(out, editor.ModeName(), editor.Style(), tikz)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODE\tNAME\tBACKGROUND\tGRID\tLINE\tSTYLE\tWIDTH")
			for i, mode := range graphstyle.Modes {
				style, _ := graphstyle.LineStyleName(mode.Style.LineStyle)
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\n", i, mode.Name,
					mode.Style.BgColor, mode.Style.GridColor, mode.Style.LineColor, style, mode.Style.LineWidth)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if tikz {
				for _, mode := range graphstyle.Modes {
					fmt.Fprintf(out, "%s: %s\n", mode.Name, graphstyle.TikzOptions(mode.Style))
				}
			}
			return nil
		},
	}

	stylesCmd.Flags().StringVarP(&configFile, "config", "c", "", "Show the style of this configuration instead")
	stylesCmd.Flags().BoolVar(&tikz, "tikz", false, "Also print pgfplots options")
	return stylesCmd
}

func printStyle(out io.Writer, name string, s graphstyle.Style, tikz bool) {
	lineStyle, _ := graphstyle.LineStyleName(s.LineStyle)
	fmt.Fprintf(out, "%s\n", name)
	fmt.Fprintf(out, "  background %s\n  grid       %s\n  line       %s %s width %d\n",
		s.BgColor, s.GridColor, s.LineColor, lineStyle, s.LineWidth)
	if tikz {
		fmt.Fprintf(out, "  axis   [%s]\n  addplot[%s]\n", graphstyle.TikzAxisOptions(s), graphstyle.TikzOptions(s))
	}
}

func newHostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Show the monitoring capabilities of this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			hc := host.GetHostConfig()
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "hostname  %s\n", hc.Hostname)
			fmt.Fprintf(out, "os        %s (kernel %s)\n", hc.OSInfo, hc.KernelVersion)
			fmt.Fprintf(out, "cpu       %s %s, %d threads, %d sockets\n", hc.CPUVendor, hc.CPUModel, hc.TotalThreads, hc.NumSockets)
			if hc.L3CacheBytes > 0 {
				fmt.Fprintf(out, "l3 cache  %d KB\n", hc.L3CacheBytes/1024)
			}
			fmt.Fprintf(out, "rdt mon   %t\n", hc.RDT.MonitoringSupported)
			resources := make([]string, 0, len(hc.RDT.MonitoringFeatures))
			for r := range hc.RDT.MonitoringFeatures {
				resources = append(resources, r)
			}
			sort.Strings(resources)
			for _, r := range resources {
				fmt.Fprintf(out, "  %s: %s\n", r, strings.Join(hc.RDT.MonitoringFeatures[r], " "))
			}
			fmt.Fprintf(out, "virtual   %s\n", strings.Join(samplers.VirtualCounterNames(), " "))
			return nil
		},
	}
}
