package coverage

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/715d/chacov/pkg/ident"
	"github.com/715d/chacov/pkg/tables"
)

func site(m, k int) ident.SiteID { return ident.SiteID{Method: ident.MethodID(m), Index: k} }

// fooTables matches a program where main (1) constructs Foo (2) and calls
// bar on it, which Foo (3) and Child (4) implement.
func fooTables() *tables.Tables {
	return &tables.Tables{
		Methods: []tables.MethodEntry{
			{ID: 1, Descriptor: "<Main: void main()>"},
			{ID: 2, Descriptor: "<Foo: void <init>()>"},
			{ID: 3, Descriptor: "<Foo: void bar()>"},
			{ID: 4, Descriptor: "<Child: void bar()>"},
		},
		Edges: []ident.Edge{
			{Site: site(1, 1), Target: 2},
			{Site: site(1, 2), Target: 3},
			{Site: site(1, 2), Target: 4},
		},
		Annotated: []ident.AnnotatedEdge{
			{Site: site(1, 1), Target: 2},
			{Site: site(1, 2), Target: 3, Receiver: "Foo"},
			{Site: site(1, 2), Target: 4, Receiver: "Child"},
			{Site: site(2, 1), Target: 0},
		},
	}
}

func loaded(t *testing.T, tab *tables.Tables) *Tracker {
	t.Helper()
	tr := NewTracker()
	require.NoError(t, tr.Load(tab))
	return tr
}

func TestEventsBeforeLoad(t *testing.T) {
	tr := NewTracker()
	require.ErrorIs(t, tr.OnMethodEntry(1), ErrNotLoaded)
	require.ErrorIs(t, tr.OnCallSite(site(1, 1)), ErrNotLoaded)
	require.ErrorIs(t, tr.OnVirtualCallSiteClass(site(1, 2), "Foo"), ErrNotLoaded)
	_, err := tr.Finish(t.TempDir())
	require.ErrorIs(t, err, ErrNotLoaded)
}

func TestLoadTwice(t *testing.T) {
	tr := loaded(t, fooTables())
	require.Error(t, tr.Load(fooTables()))
}

func TestLoadRejectsConflictingTables(t *testing.T) {
	tests := []struct {
		name      string
		annotated []ident.AnnotatedEdge
	}{
		{
			name: "direct site with two targets",
			annotated: []ident.AnnotatedEdge{
				{Site: site(1, 1), Target: 2},
				{Site: site(1, 1), Target: 3},
			},
		},
		{
			name: "receiver with two targets",
			annotated: []ident.AnnotatedEdge{
				{Site: site(1, 2), Target: 3, Receiver: "Foo"},
				{Site: site(1, 2), Target: 4, Receiver: "Foo"},
			},
		},
		{
			name: "site both direct and dispatched",
			annotated: []ident.AnnotatedEdge{
				{Site: site(1, 2), Target: 3},
				{Site: site(1, 2), Target: 3, Receiver: "Foo"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewTracker().Load(&tables.Tables{Annotated: tt.annotated})
			require.Error(t, err)
		})
	}
}

func TestNoEventsLeavesEverythingUncovered(t *testing.T) {
	tab := &tables.Tables{}
	for i := 1; i <= 10; i++ {
		tab.Methods = append(tab.Methods, tables.MethodEntry{
			ID:         ident.MethodID(i),
			Descriptor: fmt.Sprintf("<C: void m%d()>", i),
		})
	}
	tr := loaded(t, tab)

	dir := t.TempDir()
	rep, err := tr.Finish(dir)
	require.NoError(t, err)
	require.Equal(t, tables.Summary{Uncovered: 10, Total: 10}, rep.Methods)
	require.Equal(t, 0, rep.Methods.Percent())
	require.False(t, rep.Complete())

	b, err := os.ReadFile(filepath.Join(dir, tables.FileUncoveredMethods))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 11)
	require.Equal(t, "1: <C: void m1()>", lines[0])
	require.Equal(t, "10: <C: void m10()>", lines[9])
	require.Equal(t, "Not covered: 10/10 [0%]", lines[10])
}

func TestEveryMethodEntered(t *testing.T) {
	tab := fooTables()
	tr := loaded(t, tab)
	for _, m := range tab.Methods {
		require.NoError(t, tr.OnMethodEntry(m.ID))
	}

	dir := t.TempDir()
	rep, err := tr.Finish(dir)
	require.NoError(t, err)
	require.Equal(t, 100, rep.Methods.Percent())

	b, err := os.ReadFile(filepath.Join(dir, tables.FileUncoveredMethods))
	require.NoError(t, err)
	require.Equal(t, "Not covered: 0/4 [100%]\n", string(b))
}

func TestCallSiteEvents(t *testing.T) {
	tr := loaded(t, fooTables())

	require.NoError(t, tr.OnCallSite(site(1, 1)))
	require.NoError(t, tr.OnVirtualCallSiteClass(site(1, 2), "Child"))
	require.NoError(t, tr.OnCallSite(site(2, 1)))

	res := tr.Residual()
	require.Equal(t, []ident.Edge{{Site: site(1, 2), Target: 3}}, res.Edges)
	require.Equal(t, []ident.AnnotatedEdge{{Site: site(1, 2), Target: 3, Receiver: "Foo"}}, res.Annotated)

	rep := tr.Report()
	require.Equal(t, tables.Summary{Uncovered: 1, Total: 3}, rep.Edges)
	require.Equal(t, tables.Summary{Uncovered: 1, Total: 4}, rep.Annotated)
}

func TestUnknownCallSite(t *testing.T) {
	tr := loaded(t, fooTables())

	tests := []struct {
		name  string
		event func() error
	}{
		{name: "unknown direct site", event: func() error { return tr.OnCallSite(site(9, 1)) }},
		{name: "dispatched site as direct", event: func() error { return tr.OnCallSite(site(1, 2)) }},
		{name: "direct site as dispatched", event: func() error { return tr.OnVirtualCallSiteClass(site(1, 1), "Foo") }},
		{name: "unexpected receiver", event: func() error { return tr.OnVirtualCallSiteClass(site(1, 2), "Other") }},
		{name: "unnamed receiver type", event: func() error { return tr.OnVirtualCallSite(site(1, 2), struct{}{}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.event(), ErrUnknownCallSite)
		})
	}
	require.Equal(t, 3, tr.Report().Edges.Uncovered)
}

func TestSiteIDsAreNotPrefixMatched(t *testing.T) {
	tab := &tables.Tables{
		Edges: []ident.Edge{
			{Site: site(1, 2), Target: 5},
			{Site: site(1, 20), Target: 6},
		},
		Annotated: []ident.AnnotatedEdge{
			{Site: site(1, 2), Target: 5},
			{Site: site(1, 20), Target: 6},
		},
	}
	tr := loaded(t, tab)
	require.NoError(t, tr.OnCallSite(site(1, 20)))

	res := tr.Residual()
	require.Equal(t, []ident.Edge{{Site: site(1, 2), Target: 5}}, res.Edges)
	require.Equal(t, []ident.AnnotatedEdge{{Site: site(1, 2), Target: 5}}, res.Annotated)
}

func TestConservationAndIdempotency(t *testing.T) {
	events := []func(*Tracker) error{
		func(tr *Tracker) error { return tr.OnMethodEntry(1) },
		func(tr *Tracker) error { return tr.OnCallSite(site(1, 1)) },
		func(tr *Tracker) error { return tr.OnMethodEntry(2) },
		func(tr *Tracker) error { return tr.OnVirtualCallSiteClass(site(1, 2), "Foo") },
		func(tr *Tracker) error { return tr.OnMethodEntry(3) },
		func(tr *Tracker) error { return tr.OnMethodEntry(0) },
	}

	once := loaded(t, fooTables())
	twice := loaded(t, fooTables())
	prev := once.Report()
	for _, ev := range events {
		require.NoError(t, ev(once))
		require.NoError(t, ev(twice))
		require.NoError(t, ev(twice))

		rep := once.Report()
		for _, s := range []tables.Summary{rep.Methods, rep.Edges, rep.Annotated} {
			require.Equal(t, s.Total, s.Covered()+s.Uncovered)
			require.GreaterOrEqual(t, s.Uncovered, 0)
		}
		require.LessOrEqual(t, rep.Methods.Uncovered, prev.Methods.Uncovered)
		require.LessOrEqual(t, rep.Edges.Uncovered, prev.Edges.Uncovered)
		require.LessOrEqual(t, rep.Annotated.Uncovered, prev.Annotated.Uncovered)
		prev = rep

		require.Equal(t, once.Report(), twice.Report())
		require.Equal(t, once.Residual(), twice.Residual())
	}
}

func TestConcurrentEvents(t *testing.T) {
	tr := loaded(t, fooTables())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := ident.MethodID(1); id <= 4; id++ {
				assert.NoError(t, tr.OnMethodEntry(id))
			}
			assert.NoError(t, tr.OnCallSite(site(1, 1)))
			assert.NoError(t, tr.OnVirtualCallSiteClass(site(1, 2), "Foo"))
		}()
	}
	wg.Wait()

	rep := tr.Report()
	require.Equal(t, 0, rep.Methods.Uncovered)
	require.Equal(t, 1, rep.Edges.Uncovered)
	require.Equal(t, 2, rep.Annotated.Uncovered)
}

func TestWriteMetrics(t *testing.T) {
	tr := loaded(t, fooTables())
	require.NoError(t, tr.OnMethodEntry(1))
	require.NoError(t, tr.OnCallSite(site(1, 1)))
	require.NoError(t, tr.OnVirtualCallSiteClass(site(1, 2), "Foo"))
	require.Error(t, tr.OnCallSite(site(7, 7)))

	path := filepath.Join(t.TempDir(), "chacov.prom")
	require.NoError(t, tr.WriteMetrics(path))

	rep := tr.Report()
	for table, sum := range map[string]tables.Summary{
		tableMethods:   rep.Methods,
		tableEdges:     rep.Edges,
		tableAnnotated: rep.Annotated,
	} {
		assert.Equal(t, float64(sum.Total), testutil.ToFloat64(tr.metrics.total.WithLabelValues(table)), table)
		assert.Equal(t, float64(sum.Uncovered), testutil.ToFloat64(tr.metrics.uncovered.WithLabelValues(table)), table)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.events.WithLabelValues(eventMethodEntry)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.events.WithLabelValues(eventCall)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.events.WithLabelValues(eventVirtualCall)))
	assert.Equal(t, 1.0, testutil.ToFloat64(tr.metrics.events.WithLabelValues(eventUnknownSite)))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(b), `chacov_uncovered_entries{table="methods"} 3`)
	require.Contains(t, string(b), `chacov_table_entries{table="annotated_edges"} 4`)
}

type widget struct{}

type box[T any] struct{ v T }

func TestReceiverClass(t *testing.T) {
	const pkg = "github.com/715d/chacov/pkg/coverage."
	tests := []struct {
		name string
		v    any
		want string
	}{
		{name: "value", v: widget{}, want: pkg + "widget"},
		{name: "pointer", v: &widget{}, want: pkg + "widget"},
		{name: "generic", v: box[int]{}, want: pkg + "box"},
		{name: "predeclared", v: 3, want: "int"},
		{name: "unnamed", v: struct{}{}, want: ""},
		{name: "nil", v: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ReceiverClass(tt.v))
		})
	}
}

func TestClassName(t *testing.T) {
	tests := []struct {
		name    string
		pkgPath string
		typ     string
		want    string
	}{
		{name: "package type", pkgPath: "example.com/app/store", typ: "Cache", want: "example.com/app/store.Cache"},
		{name: "main package", pkgPath: MainPackage, typ: "FileWriter", want: "main.FileWriter"},
		{name: "instantiated", pkgPath: "example.com/app/store", typ: "Box[int]", want: "example.com/app/store.Box"},
		{name: "predeclared", pkgPath: "", typ: "int", want: "int"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClassName(tt.pkgPath, tt.typ))
		})
	}

	// ReceiverClass applies the same rule to the path reflection reports.
	rt := reflect.TypeOf(widget{})
	require.Equal(t, ClassName(rt.PkgPath(), rt.Name()), ReceiverClass(&widget{}))
}

func TestOnVirtualCallSiteUsesRuntimeClass(t *testing.T) {
	class := ReceiverClass(&widget{})
	tr := loaded(t, &tables.Tables{
		Edges:     []ident.Edge{{Site: site(1, 1), Target: 2}},
		Annotated: []ident.AnnotatedEdge{{Site: site(1, 1), Target: 2, Receiver: class}},
	})
	require.NoError(t, tr.OnVirtualCallSite(site(1, 1), &widget{}))
	require.True(t, tr.Report().Complete())
}
