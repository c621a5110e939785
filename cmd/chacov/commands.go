package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/715d/chacov/internal/gofrontend"
	"github.com/715d/chacov/internal/graphexport"
	"github.com/715d/chacov/pkg/callgraph"
	"github.com/715d/chacov/pkg/coverage"
	"github.com/715d/chacov/pkg/hierarchy"
	"github.com/715d/chacov/pkg/program"
	"github.com/715d/chacov/pkg/tables"
)

// addSourceFlags binds the flags selecting and building the analysed program.
func addSourceFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&cfg.Model, "model", "", "YAML program model to analyze instead of Go packages")
	cmd.Flags().StringVar(&cfg.Entry, "entry", "", "Entry function as pkgpath.Func (default: main.main of the main module)")
	cmd.Flags().StringSliceVar(&cfg.BuildTags, "build-tags", []string{}, "Build tags to use during package loading")
	cmd.Flags().BoolVar(&cfg.Tests, "tests", false, "Include test packages")
	cmd.Flags().BoolVar(&cfg.SkipLibraryBodies, "skip-library-bodies", false, "Do not scan library method bodies for callbacks")
}

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [packages...]",
		Short: "Build the call graph and write its tables",
		Example: `  chacov build --out out ./...              # Analyze the main module
  chacov build --model app.yaml --out out     # Analyze a program model`,
		Args: cobra.ArbitraryArgs,
		RunE: runBuild,
	}
	addSourceFlags(cmd)
	cmd.Flags().StringVarP(&cfg.Out, "out", "o", ".", "Directory the tables are written to")
	return cmd
}

func newCoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cover",
		Short: "Replay an event trace over built tables and write what stayed uncovered",
		Example: `  chacov cover --tables out --trace run.trace --out out
  chacov cover --tables out --trace run.trace --metrics cov.prom --fail-uncovered`,
		Args: cobra.NoArgs,
		RunE: runCover,
	}
	cmd.Flags().StringVar(&cfg.Tables, "tables", ".", "Directory holding rmethods, edges and edges.annotated")
	cmd.Flags().StringVar(&cfg.Trace, "trace", "", "Recorded event trace (- for stdin)")
	cmd.Flags().StringVarP(&cfg.Out, "out", "o", ".", "Directory the residual tables are written to")
	cmd.Flags().StringVar(&cfg.Metrics, "metrics", "", "Write coverage gauges in Prometheus text format to this file")
	cmd.Flags().BoolVar(&cfg.FailUncovered, "fail-uncovered", false, "Exit with status 1 when anything stays uncovered")
	_ = cmd.MarkFlagRequired("trace")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-neo4j [packages...]",
		Short: "Load the class hierarchy and call graph into Neo4j",
		Args:  cobra.ArbitraryArgs,
		RunE:  runExport,
	}
	addSourceFlags(cmd)
	cmd.Flags().StringVar(&cfg.Neo4jURI, "neo4j-uri", "neo4j://localhost:7687", "Neo4j connection URI")
	cmd.Flags().StringVar(&cfg.Neo4jUser, "neo4j-user", "neo4j", "Neo4j user")
	cmd.Flags().StringVar(&cfg.Neo4jPass, "neo4j-pass", "", "Neo4j password (default $NEO4J_PASSWORD)")
	cmd.Flags().BoolVar(&cfg.Clean, "clean", false, "Delete previously exported call graph data first")
	cmd.Flags().IntVar(&cfg.BatchSize, "batch-size", graphexport.DefaultBatchSize, "Rows per Cypher statement")
	return cmd
}

// loadProgram builds the program model selected by the source flags.
func loadProgram(ctx context.Context, args []string) (*program.Program, error) {
	if cfg.Model != "" {
		if len(args) > 0 {
			return nil, fmt.Errorf("--model and package patterns are mutually exclusive")
		}
		slog.Info("loading program model", "file", cfg.Model)
		return program.LoadFile(cfg.Model)
	}

	cfg.Packages = args
	if len(cfg.Packages) == 0 {
		cfg.Packages = []string{"./..."}
	}
	slog.Info("loading packages", "packages", cfg.Packages)
	if len(cfg.BuildTags) > 0 {
		slog.Info("using build tags", "tags", cfg.BuildTags)
	}
	pkgs, err := gofrontend.LoadPackages(ctx, gofrontend.LoadOptions{
		Patterns:  cfg.Packages,
		BuildTags: cfg.BuildTags,
		Tests:     cfg.Tests,
	})
	if err != nil {
		return nil, fmt.Errorf("loading packages: %w", err)
	}
	slog.Info("loaded packages", "num", len(pkgs))
	return gofrontend.Convert(ctx, pkgs, gofrontend.Options{Entry: cfg.Entry})
}

// buildGraph runs the whole build phase.
func buildGraph(ctx context.Context, args []string) (*hierarchy.Index, *callgraph.Result, error) {
	p, err := loadProgram(ctx, args)
	if err != nil {
		return nil, nil, err
	}
	h := hierarchy.New(p)
	r, err := callgraph.NewBuilder(p, h, callgraph.Options{SkipLibraryBodies: cfg.SkipLibraryBodies}).Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build call graph: %w", err)
	}
	return h, r, nil
}

// BuildStats summarizes a build for output.
type BuildStats struct {
	Reachable      int           `json:"reachable_methods"`
	Application    int           `json:"application_methods"`
	Edges          int           `json:"edges"`
	AnnotatedEdges int           `json:"annotated_edges"`
	Out            string        `json:"out"`
	Duration       time.Duration `json:"duration"`
}

func runBuild(cmd *cobra.Command, args []string) error {
	start := time.Now()
	h, r, err := buildGraph(cmd.Context(), args)
	if err != nil {
		return errWithCode(err, exitError)
	}
	if err := tables.WriteBuild(cfg.Out, r, h); err != nil {
		return errWithCode(err, exitError)
	}

	stats := BuildStats{
		Reachable:      len(r.Methods),
		Application:    len(r.ApplicationMethods()),
		Edges:          len(r.Edges),
		AnnotatedEdges: len(r.Annotated),
		Out:            cfg.Out,
		Duration:       time.Since(start),
	}
	slog.Info("build completed", "dur", stats.Duration)
	return writeOutput(cmd.OutOrStdout(), stats, func(w io.Writer) {
		fmt.Fprintf(w, "%d reachable methods (%d application), %d edges, %d annotated edges written to %s\n",
			stats.Reachable, stats.Application, stats.Edges, stats.AnnotatedEdges, stats.Out)
	})
}

// CoverStats summarizes a replay for output.
type CoverStats struct {
	Events    int    `json:"events"`
	Methods   string `json:"methods"`
	Edges     string `json:"edges"`
	Annotated string `json:"annotated_edges"`
	Complete  bool   `json:"complete"`
}

func runCover(cmd *cobra.Command, _ []string) error {
	tab, err := tables.Read(cfg.Tables)
	if err != nil {
		return errWithCode(err, exitError)
	}
	tr := coverage.NewTracker()
	if err := tr.Load(tab); err != nil {
		return errWithCode(err, exitError)
	}

	in := cmd.InOrStdin()
	if cfg.Trace != "-" {
		f, err := os.Open(cfg.Trace)
		if err != nil {
			return errWithCode(fmt.Errorf("open trace: %w", err), exitError)
		}
		defer f.Close()
		in = f
	}
	events, err := coverage.ReplayTrace(tr, in)
	if err != nil {
		return errWithCode(fmt.Errorf("%s: %w", cfg.Trace, err), exitError)
	}

	rep, err := tr.Finish(cfg.Out)
	if err != nil {
		return errWithCode(err, exitError)
	}
	if cfg.Metrics != "" {
		if err := tr.WriteMetrics(cfg.Metrics); err != nil {
			return errWithCode(err, exitError)
		}
	}

	stats := CoverStats{
		Events:    events,
		Methods:   rep.Methods.String(),
		Edges:     rep.Edges.String(),
		Annotated: rep.Annotated.String(),
		Complete:  rep.Complete(),
	}
	if err := writeOutput(cmd.OutOrStdout(), stats, func(w io.Writer) {
		fmt.Fprintf(w, "methods:         %s\n", stats.Methods)
		fmt.Fprintf(w, "edges:           %s\n", stats.Edges)
		fmt.Fprintf(w, "annotated edges: %s\n", stats.Annotated)
	}); err != nil {
		return err
	}

	if cfg.FailUncovered && !stats.Complete {
		return errWithCode(nil, exitUncovered)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	h, r, err := buildGraph(ctx, args)
	if err != nil {
		return errWithCode(err, exitError)
	}

	pass := cfg.Neo4jPass
	if pass == "" {
		pass = os.Getenv("NEO4J_PASSWORD")
	}
	runner, err := graphexport.Dial(ctx, cfg.Neo4jURI, cfg.Neo4jUser, pass)
	if err != nil {
		return errWithCode(err, exitError)
	}
	defer runner.Close(context.WithoutCancel(ctx))

	e := graphexport.NewExporter(runner, cfg.BatchSize)
	if cfg.Clean {
		if err := e.Clean(ctx); err != nil {
			return errWithCode(err, exitError)
		}
	}
	if err := e.CreateIndexes(ctx); err != nil {
		return errWithCode(err, exitError)
	}
	stats, err := e.Export(ctx, h, r)
	if err != nil {
		return errWithCode(err, exitError)
	}
	return writeOutput(cmd.OutOrStdout(), stats, func(w io.Writer) {
		fmt.Fprintf(w, "exported %d classes, %d methods, %d calls to %s\n",
			stats.Classes, stats.Methods, stats.Calls, cfg.Neo4jURI)
	})
}

// writeOutput prints v as indented JSON with --json, otherwise as text.
func writeOutput(w io.Writer, v any, text func(io.Writer)) error {
	if !cfg.JSON {
		text(w)
		return nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errWithCode(fmt.Errorf("marshaling json output: %w", err), exitError)
	}
	fmt.Fprintln(w, string(data))
	return nil
}
