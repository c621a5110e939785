package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/chacov/pkg/callgraph"
	"github.com/715d/chacov/pkg/coverage"
	"github.com/715d/chacov/pkg/hierarchy"
	"github.com/715d/chacov/pkg/tables"
)

// TestHarness manages scenario execution.
type TestHarness struct {
	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root}
}

// ConfigurationResult represents the result of running a single configuration.
type ConfigurationResult struct {
	// Configuration is the configuration that was run.
	Configuration Configuration

	// Tables is what the build produced; nil when it failed.
	Tables *tables.Tables

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	TestCase             *TestCase
	ConfigurationResults []ConfigurationResult
	Success              bool
	Message              string
}

// Run executes a test case with all its configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Configurations, "test case has no configurations")

	var results []ConfigurationResult
	allSuccess := true
	for _, cfg := range tc.Configurations {
		r := h.runConfiguration(t, tc, cfg)
		results = append(results, *r)
		if !r.Success {
			allSuccess = false
		}
	}

	var msg string
	if allSuccess {
		msg = fmt.Sprintf("All %d configurations passed", len(tc.Configurations))
	} else {
		failed := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failed++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		msg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failed, len(tc.Configurations), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              msg,
	}
}

// runConfiguration builds the scenario and validates the tables and the
// optional trace replay.
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg Configuration) *ConfigurationResult {
	t.Helper()
	dir := filepath.Join(h.root, tc.Dir)

	tab, err := build(t, dir, cfg)
	if err != nil {
		for _, want := range cfg.ExpectedErrors {
			if strings.Contains(err.Error(), want) {
				return &ConfigurationResult{
					Configuration: cfg,
					Success:       true,
					Message:       fmt.Sprintf("Got expected error: %v", err),
				}
			}
		}
		return &ConfigurationResult{
			Configuration: cfg,
			Message:       "Build failed",
			Details:       []string{err.Error()},
		}
	}
	if len(cfg.ExpectedErrors) > 0 {
		return &ConfigurationResult{
			Configuration: cfg,
			Tables:        tab,
			Message:       "Build succeeded",
			Details:       []string{"expected an error containing one of " + strings.Join(cfg.ExpectedErrors, ", ")},
		}
	}

	res := &ConfigurationResult{Configuration: cfg, Tables: tab}
	details := validateTables(cfg, tab)
	if cfg.Coverage != nil {
		details = append(details, validateCoverage(dir, cfg.Coverage, tab)...)
	}
	res.Details = details
	res.Success = len(details) == 0
	if res.Success {
		res.Message = fmt.Sprintf("%d methods, %d edges, %d annotated edges as expected",
			len(tab.Methods), len(tab.Edges), len(tab.Annotated))
	} else {
		res.Message = fmt.Sprintf("Test failed: %d mismatches", len(details))
	}
	return res
}

func build(t *testing.T, dir string, cfg Configuration) (*tables.Tables, error) {
	t.Helper()

	p, err := LoadProgram(t, dir, cfg)
	if err != nil {
		return nil, err
	}
	r, err := callgraph.NewBuilder(p, hierarchy.New(p), callgraph.Options{
		SkipLibraryBodies: cfg.SkipLibraryBodies,
	}).Build()
	if err != nil {
		return nil, err
	}
	return tables.FromResult(r), nil
}

func validateTables(cfg Configuration, tab *tables.Tables) []string {
	var details []string
	details = append(details, diffRows("methods", cfg.Methods, rows(tab.Methods))...)
	details = append(details, diffRows("edges", cfg.Edges, rows(tab.Edges))...)
	details = append(details, diffRows("annotated", cfg.Annotated, rows(tab.Annotated))...)

	descriptors := make(map[string]struct{}, len(tab.Methods))
	for _, m := range tab.Methods {
		descriptors[m.Descriptor] = struct{}{}
	}
	for _, d := range cfg.Reachable {
		if _, ok := descriptors[d]; !ok {
			details = append(details, "Should have been reachable: "+d)
		}
	}
	for _, d := range cfg.Unreachable {
		if _, ok := descriptors[d]; ok {
			details = append(details, "Should have been unreachable: "+d)
		}
	}
	return details
}

func validateCoverage(dir string, cc *CoverageCheck, tab *tables.Tables) []string {
	f, err := os.Open(filepath.Join(dir, cc.Trace))
	if err != nil {
		return []string{err.Error()}
	}
	defer f.Close()

	tr := coverage.NewTracker()
	if err := tr.Load(tab); err != nil {
		return []string{err.Error()}
	}
	if _, err := coverage.ReplayTrace(tr, f); err != nil {
		return []string{err.Error()}
	}

	rep := tr.Report()
	var details []string
	check := func(what string, want int, got tables.Summary) {
		if got.Uncovered != want {
			details = append(details, fmt.Sprintf("uncovered %s: expected %d, got %s", what, want, got))
		}
	}
	check("methods", cc.UncoveredMethods, rep.Methods)
	check("edges", cc.UncoveredEdges, rep.Edges)
	check("annotated edges", cc.UncoveredAnnotated, rep.Annotated)
	return details
}

func rows[T fmt.Stringer](in []T) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, v.String())
	}
	return out
}

// diffRows compares ordered table rows; a nil expectation is not checked.
func diffRows(table string, want, got []string) []string {
	if want == nil || slices.Equal(want, got) {
		return nil
	}
	details := []string{fmt.Sprintf("%s table differs: expected %d rows, got %d", table, len(want), len(got))}
	for i := range max(len(want), len(got)) {
		var w, g string
		if i < len(want) {
			w = want[i]
		}
		if i < len(got) {
			g = got[i]
		}
		if w != g {
			details = append(details, fmt.Sprintf("  row %d: expected %q, got %q", i+1, w, g))
		}
	}
	return details
}
