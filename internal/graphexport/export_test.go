package graphexport

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/chacov/pkg/callgraph"
	"github.com/715d/chacov/pkg/hierarchy"
	"github.com/715d/chacov/pkg/program"
)

type call struct {
	cypher string
	rows   []map[string]any
}

type fakeRunner struct {
	calls  []call
	failOn string
}

func (f *fakeRunner) Run(_ context.Context, cypher string, params map[string]any) error {
	if f.failOn != "" && strings.Contains(cypher, f.failOn) {
		return errors.New("boom")
	}
	c := call{cypher: cypher}
	if params != nil {
		c.rows = params["batch"].([]map[string]any)
	}
	f.calls = append(f.calls, c)
	return nil
}

func (f *fakeRunner) rows(fragment string) []map[string]any {
	var out []map[string]any
	for _, c := range f.calls {
		if strings.Contains(c.cypher, fragment) {
			out = append(out, c.rows...)
		}
	}
	return out
}

const model = `
entry: {class: Main, sig: "void main()"}
classes:
  - name: Object
    library: true
    methods:
      - sig: "void <init>()"
  - name: Runnable
    interface: true
    methods:
      - {sig: "void run()", abstract: true}
  - name: Main
    super: Object
    methods:
      - sig: "void main()"
        static: true
        calls:
          - {kind: special, target: {class: Task, sig: "void <init>()"}}
          - {kind: interface, receiver: Runnable, target: {class: Runnable, sig: "void run()"}}
  - name: Task
    super: Object
    interfaces: [Runnable]
    methods:
      - sig: "void <init>()"
        calls:
          - {kind: special, target: {class: Object, sig: "void <init>()"}}
      - sig: "void run()"
  - name: Job
    super: Task
    methods:
      - sig: "void run()"
`

func build(t *testing.T) (*hierarchy.Index, *callgraph.Result) {
	t.Helper()
	p, err := program.Load(strings.NewReader(model))
	require.NoError(t, err)
	h := hierarchy.New(p)
	r, err := callgraph.NewBuilder(p, h, callgraph.Options{}).Build()
	require.NoError(t, err)
	return h, r
}

func TestExport(t *testing.T) {
	h, r := build(t)
	run := &fakeRunner{}

	stats, err := NewExporter(run, 0).Export(context.Background(), h, r)
	require.NoError(t, err)
	require.Equal(t, Stats{Classes: 5, Methods: 5, Extends: 3, Implements: 1, Calls: 4}, stats)

	classes := run.rows("MERGE (n:ChaClass")
	require.Len(t, classes, 5)
	require.Equal(t, "Runnable", classes[1]["name"])
	require.Equal(t, true, classes[1]["interface"])
	require.Equal(t, 2, classes[1]["receivers"])

	require.Equal(t, []map[string]any{{"sub": "Task", "super": "Runnable"}}, run.rows("[:IMPLEMENTS]"))

	methods := run.rows("MERGE (m:ChaMethod")
	require.Equal(t, "<Object: void <init>()>", methods[len(methods)-1]["key"])
	require.Equal(t, int64(0), methods[len(methods)-1]["id"])
	require.Equal(t, true, methods[len(methods)-1]["library"])

	calls := run.rows("[r:CALLS")
	require.Len(t, calls, 4)
	require.Equal(t, map[string]any{
		"caller":    "<Main: void main()>",
		"callee":    "<Job: void run()>",
		"site":      "1_2",
		"kind":      "virtual",
		"receivers": 2,
		"text":      "virtual(Runnable) <Runnable: void run()>",
	}, calls[2])
}

func TestExportBatches(t *testing.T) {
	h, r := build(t)
	run := &fakeRunner{}
	_, err := NewExporter(run, 2).Export(context.Background(), h, r)
	require.NoError(t, err)

	var classBatches int
	for _, c := range run.calls {
		require.LessOrEqual(t, len(c.rows), 2)
		if strings.Contains(c.cypher, "MERGE (n:ChaClass") {
			classBatches++
		}
	}
	require.Equal(t, 3, classBatches)
}

func TestExportError(t *testing.T) {
	h, r := build(t)
	_, err := NewExporter(&fakeRunner{failOn: "CALLS"}, 0).Export(context.Background(), h, r)
	require.ErrorContains(t, err, "export calls")
}

func TestCleanAndIndexes(t *testing.T) {
	run := &fakeRunner{}
	e := NewExporter(run, 0)
	require.NoError(t, e.Clean(context.Background()))
	require.NoError(t, e.CreateIndexes(context.Background()))
	require.Len(t, run.calls, 8)
	require.Contains(t, run.calls[len(run.calls)-1].cypher, "CREATE INDEX")

	require.Error(t, NewExporter(&fakeRunner{failOn: "DETACH"}, 0).Clean(context.Background()))
}
