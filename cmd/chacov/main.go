// Package main implements the CLI driver for chacov: CHA call graph
// construction and coverage tracking over the built tables.
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/spf13/cobra"
)

// Config holds all command-line configuration options.
type Config struct {
	Verbose bool // enables detailed logging
	JSON    bool // enables JSON output and log format
	Profile bool // enables CPU and memory profiling

	// Program source, shared by build and export-neo4j.
	Model             string   // YAML program model; Go packages are loaded when empty
	Packages          []string // Go package patterns
	Entry             string   // entry function as pkgpath.Func
	BuildTags         []string // build tags to use during package loading
	Tests             bool     // include test packages
	SkipLibraryBodies bool     // do not scan library method bodies

	Out string // output directory

	Tables        string // directory holding the build tables
	Trace         string // recorded event trace
	Metrics       string // Prometheus textfile path
	FailUncovered bool   // exit non-zero when anything is left uncovered

	Neo4jURI  string
	Neo4jUser string
	Neo4jPass string
	Clean     bool // delete previously exported data first
	BatchSize int  // rows per statement
}

const (
	exitUncovered = 1
	exitError     = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

var cfg Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "chacov",
		Short: "Build CHA call graphs and measure call graph coverage",
		Long: `chacov builds a call graph by class hierarchy analysis and tracks which
of its methods and edges a run of the program actually exercised.

Commands:
- build:        write the reachable methods, edges and listings of a program
- cover:        replay an event trace over built tables and write the residual
- export-neo4j: load the hierarchy and call graph into Neo4j`,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}
	rootCmd.SetVersionTemplate(fmt.Sprintf("chacov version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&cfg.JSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&cfg.Profile, "profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")

	rootCmd.AddCommand(newBuildCmd(), newCoverCmd(), newExportCmd())

	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

var cpuProfile *os.File

func setup(_ *cobra.Command, _ []string) error {
	// Disable logger unless verbose flag is set.
	slog.SetDefault(slog.New(slog.DiscardHandler))
	if cfg.Verbose {
		opts := &slog.HandlerOptions{Level: slog.LevelDebug}
		var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
		if cfg.JSON {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	}

	if !cfg.Profile {
		return nil
	}

	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if !cfg.Profile || cpuProfile == nil {
		return nil
	}

	pprof.StopCPUProfile()
	defer cpuProfile.Close()
	cpuProfile = nil
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error { return e.err }
