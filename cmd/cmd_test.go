package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pmc-monitor/internal/metric"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `interval_ms: 500
applications:
  - ./bench --size 10
experiments:
  - events:
      - counter: 0
        fixed: true
      - counter: 1
        fixed: true
    metrics:
      - name: IPC
        formula: pmc0 / pmc1
graph_style:
  bg_color: "#000000"
  grid_color: "#FFFF00"
  line_color: "#FFFF00"
  line_style: dotted
  line_width: 2
  line_style_number: 3
  mode_number: 8
`

const testSamples = `nsample pid event pmc0 pmc1
1 10 tick 100 50
2 10 tick 300 100
3 10 tick 7 0
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEvalStream(t *testing.T) {
	m := metric.MustCompile("IPC", "pmc0 / pmc1")

	var out bytes.Buffer
	err := evalStream(context.Background(), m, strings.NewReader(testSamples), &out, true)
	require.NoError(t, err)
	assert.Equal(t, "nsample\tIPC\n1\t2\n2\t3\n", out.String())

	out.Reset()
	err = evalStream(context.Background(), m, strings.NewReader(testSamples), &out, false)
	require.Error(t, err)
	var arith *metric.ArithmeticError
	assert.ErrorAs(t, err, &arith)
	assert.Contains(t, err.Error(), "line 4")
}

func TestEvalCommand(t *testing.T) {
	dir := t.TempDir()
	samples := writeFile(t, dir, "samples.txt", testSamples)

	out, err := execute(t, "eval", "-f", "pmc0 * 2", "-n", "double", samples)
	require.NoError(t, err)
	assert.Equal(t, "nsample\tdouble\n1\t200\n2\t600\n3\t14\n", out)

	_, err = execute(t, "eval", "-f", "pmc0 +", samples)
	var syntax *metric.SyntaxError
	assert.ErrorAs(t, err, &syntax)
}

func TestValidateCommand(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "config.yaml", testConfig)

	out, err := execute(t, "validate", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "experiment 0: pmc0,pmc1")
	assert.Contains(t, out, "IPC = pmc0 / pmc1  [pmc0 pmc1]")

	bad := writeFile(t, t.TempDir(), "bad.yaml", strings.Replace(testConfig, "pmc0 / pmc1", "pmc0 /", 1))
	_, err = execute(t, "validate", "-c", bad)
	assert.Error(t, err)
}

func TestCommandCommand(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "config.yaml", testConfig)

	out, err := execute(t, "command", "-c", cfg)
	require.NoError(t, err)
	assert.Equal(t, "pmctrack -T 0.5 -c pmc0,pmc1 ./bench --size 10\n", out)
}

func TestShellJoin(t *testing.T) {
	assert.Equal(t, "ssh -p 22 'echo hi' 'it'\\''s' ''", shellJoin([]string{"ssh", "-p", "22", "echo hi", "it's", ""}))
}

func TestStylesCommand(t *testing.T) {
	out, err := execute(t, "styles", "--tikz")
	require.NoError(t, err)
	assert.Contains(t, out, "Night")
	assert.Contains(t, out, "#0E2581")
	assert.Contains(t, out, "Tropical: color=")

	cfg := writeFile(t, t.TempDir(), "config.yaml", testConfig)
	out, err = execute(t, "styles", "-c", cfg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Night mode\n"))
}

func TestHostCommand(t *testing.T) {
	out, err := execute(t, "host")
	require.NoError(t, err)
	assert.Contains(t, out, "hostname")
	assert.Contains(t, out, "virtual   llc_usage total_llc_bw local_llc_bw")
}

func TestRunReplaysInput(t *testing.T) {
	dir := t.TempDir()
	cfgContent := strings.Replace(testConfig, "interval_ms: 500\n", "interval_ms: 500\non_error: skip\n", 1)
	cfg := writeFile(t, dir, "config.yaml", cfgContent)
	samples := writeFile(t, dir, "samples.txt", testSamples)
	archiveDir := filepath.Join(dir, "archive")

	out, err := execute(t, "run", "-c", cfg, "--input", samples, "--run-id", "test", "--archive", archiveDir)
	require.NoError(t, err)
	assert.Contains(t, out, "experiment 0")
	assert.Contains(t, out, "IPC")
	assert.Contains(t, out, "samples 2")

	entries, err := os.ReadDir(archiveDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "run_test_"))
}

func TestRunAbortsOnEvaluationError(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.yaml", testConfig)
	samples := writeFile(t, dir, "samples.txt", testSamples)

	_, err := execute(t, "run", "-c", cfg, "--input", samples)
	require.Error(t, err)
	var arith *metric.ArithmeticError
	assert.ErrorAs(t, err, &arith)
}
