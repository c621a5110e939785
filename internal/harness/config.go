// Package harness runs end-to-end scenarios from testdata: each scenario is
// a program (a YAML model or a Go module) plus the tables the build must
// produce and, optionally, a trace whose replay must leave a known residual.
package harness

// TestCase represents a single scenario directory.
type TestCase struct {
	// Dir is the directory containing the scenario, relative to the root.
	Dir string `yaml:"-"`

	// Configurations defines the builds to run against the scenario.
	Configurations []Configuration `yaml:"configurations"`
}

// Configuration is one build of a scenario and its expectations.
type Configuration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// Entry overrides the entry function of a Go scenario ("pkgpath.Func").
	Entry string `yaml:"entry,omitempty"`

	// BuildTags are the build tags to use when loading a Go scenario.
	BuildTags []string `yaml:"build_tags,omitempty"`

	// SkipLibraryBodies disables scanning of library method bodies.
	SkipLibraryBodies bool `yaml:"skip_library_bodies,omitempty"`

	// Methods, Edges and Annotated are the exact expected table rows.
	// A nil list is not checked.
	Methods   []string `yaml:"methods,omitempty"`
	Edges     []string `yaml:"edges,omitempty"`
	Annotated []string `yaml:"annotated,omitempty"`

	// Reachable and Unreachable list method descriptors that must or must
	// not appear in the method table.
	Reachable   []string `yaml:"reachable,omitempty"`
	Unreachable []string `yaml:"unreachable,omitempty"`

	// ExpectedErrors lists substrings one of which the build error must
	// contain. A configuration with expected errors must fail.
	ExpectedErrors []string `yaml:"expected_errors,omitempty"`

	// Coverage replays a trace over the built tables.
	Coverage *CoverageCheck `yaml:"coverage,omitempty"`
}

// CoverageCheck names a trace file and the residual it must leave.
type CoverageCheck struct {
	Trace              string `yaml:"trace"`
	UncoveredMethods   int    `yaml:"uncovered_methods"`
	UncoveredEdges     int    `yaml:"uncovered_edges"`
	UncoveredAnnotated int    `yaml:"uncovered_annotated"`
}
