package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/cachekit/internal/harness"
)

// Golden file states reported per scenario.
const (
	GoldenMatched  = "matched"
	GoldenMismatch = "mismatch"
	GoldenMissing  = "missing"
	GoldenUpdated  = "updated"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool
	Filter string
}

// ScenarioOutcome is the result of one scenario file.
type ScenarioOutcome struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Steps  int      `json:"steps"`
	Golden string   `json:"golden,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

func (o *ScenarioOutcome) fail(format string, args ...any) ScenarioOutcome {
	o.Pass = false
	o.Errors = append(o.Errors, fmt.Sprintf(format, args...))
	return *o
}

// TestSummary aggregates the outcomes of a test run.
type TestSummary struct {
	Scenarios []ScenarioOutcome `json:"scenarios"`
	Passed    int               `json:"passed"`
	Failed    int               `json:"failed"`
	Total     int               `json:"total"`
}

func (s *TestSummary) add(o ScenarioOutcome) {
	s.Scenarios = append(s.Scenarios, o)
	s.Total++
	if o.Pass {
		s.Passed++
	} else {
		s.Failed++
	}
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run cache scenarios",
		Long: `Run cache scenarios through the harness.

Each scenario runs against a fresh in-memory database. Its trace is
compared with golden/<file>.golden next to the scenario file when that
file exists, and its assertions are checked.

Exit codes:
  0 - every scenario passed
  1 - at least one scenario failed
  2 - the directory or filter is unusable

Examples:
  cachekit test ./scenarios
  cachekit test ./scenarios --filter "list_*"
  cachekit test ./scenarios --update
  cachekit test ./scenarios --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd, opts, args[0])
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files from the current traces")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name matches this glob")

	return cmd
}

func runTests(cmd *cobra.Command, opts *TestOptions, dir string) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}

	files, err := harness.FindScenarios(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	summary := TestSummary{Scenarios: []ScenarioOutcome{}}
	for _, file := range files {
		outcome := runScenario(cmd, opts, file)
		opts.Logger.Debug("scenario finished", "name", outcome.Name, "pass", outcome.Pass, "golden", outcome.Golden)
		summary.add(outcome)
	}
	return reportTests(cmd, opts, summary)
}

// runScenario loads, runs and checks one scenario file.
func runScenario(cmd *cobra.Command, opts *TestOptions, file string) ScenarioOutcome {
	outcome := ScenarioOutcome{Name: filepath.Base(file), File: file, Pass: true}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return outcome.fail("failed to load scenario: %v", err)
	}
	outcome.Name = scenario.Name
	outcome.Steps = len(scenario.Steps)

	result, err := harness.Run(cmd.Context(), scenario,
		harness.WithPageSize(opts.Config.List.PageSize),
		harness.WithSwapTimeout(opts.Config.List.SwapTimeout),
		harness.WithLogger(opts.Logger),
	)
	if err != nil {
		return outcome.fail("execution failed: %v", err)
	}
	outcome.Errors = result.Errors
	outcome.Pass = result.Pass

	trace := harness.RenderTrace(scenario.Name, result.Trace)
	path := goldenPath(file)
	if opts.Update {
		if err := writeGolden(path, trace); err != nil {
			return outcome.fail("failed to update golden file: %v", err)
		}
		outcome.Golden = GoldenUpdated
		return outcome
	}

	golden, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		outcome.Golden = GoldenMissing
	case err != nil:
		return outcome.fail("failed to read golden file: %v", err)
	case bytes.Equal(golden, trace):
		outcome.Golden = GoldenMatched
	default:
		outcome.Golden = GoldenMismatch
		return outcome.fail("trace does not match %s (run with --update to regenerate)", path)
	}
	return outcome
}

// goldenPath maps dir/name.yaml to dir/golden/name.golden.
func goldenPath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	return filepath.Join(filepath.Dir(scenarioFile), "golden",
		strings.TrimSuffix(base, filepath.Ext(base))+".golden")
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create golden directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// reportTests writes the summary and maps failures to ExitFailure.
func reportTests(cmd *cobra.Command, opts *TestOptions, summary TestSummary) error {
	var failure *ExitError
	if summary.Failed > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", summary.Failed))
	}

	w := cmd.OutOrStdout()
	if opts.Format == "json" {
		response := CLIResponse{Status: "ok", Data: summary}
		if failure != nil {
			response.Status = "error"
			response.Error = &CLIError{Code: "E_TEST_FAILED", Message: failure.Message}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(response); err != nil {
			return err
		}
	} else {
		writeTestText(w, summary)
	}

	if failure != nil {
		return failure
	}
	return nil
}

func writeTestText(w io.Writer, summary TestSummary) {
	if summary.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, o := range summary.Scenarios {
		if !o.Pass {
			fmt.Fprintf(w, "✗ %s\n", o.Name)
			for _, e := range o.Errors {
				for _, line := range strings.Split(strings.TrimRight(e, "\n"), "\n") {
					fmt.Fprintf(w, "  %s\n", line)
				}
			}
			continue
		}
		switch o.Golden {
		case GoldenUpdated:
			fmt.Fprintf(w, "✓ %s (golden updated)\n", o.Name)
		case GoldenMissing:
			fmt.Fprintf(w, "✓ %s (no golden file)\n", o.Name)
		default:
			fmt.Fprintf(w, "✓ %s\n", o.Name)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
	if summary.Failed == 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
}
