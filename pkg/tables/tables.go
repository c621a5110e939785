// Package tables reads and writes the text tables that connect call graph
// construction to run-time coverage tracking.
//
// A build directory holds:
//
//	rmethods          "Total num reachable methods: N" then "id: descriptor" per application method
//	rmethods_all      the same for every reachable method, library ones with id 0
//	edges             "site,target" per plain edge
//	edges.annotated   "site,target" for direct calls, "site,target,receiver" for dispatched calls
//	calls             human readable listing of every analysed call site
//	hier_all, hier    "class,|possible receivers|" for all and for application classes
//
// A direct call to a library method has no plain edge but does get the
// annotated row "site,0", so the tracker knows every analysed direct call
// site. edges.annotated therefore holds one row more per such call than a
// listing that drops library targets, and its coverage percentage counts
// those rows.
//
// A coverage run reads rmethods, edges and edges.annotated and writes the
// residual files nmethods, nedges and nedges.annotated.
package tables

import (
	"fmt"
	"path/filepath"

	"github.com/715d/chacov/pkg/callgraph"
	"github.com/715d/chacov/pkg/ident"
)

// File names inside a build directory.
const (
	FileMethods    = "rmethods"
	FileAllMethods = "rmethods_all"
	FileEdges      = "edges"
	FileAnnotated  = "edges.annotated"
	FileCalls      = "calls"
	FileHierarchy  = "hier"
	FileHierAll    = "hier_all"

	FileUncoveredMethods   = "nmethods"
	FileUncoveredEdges     = "nedges"
	FileUncoveredAnnotated = "nedges.annotated"
)

const (
	methodsHeader  = "Total num reachable methods: "
	classesHeader  = "Total num classes: "
	callsHeader    = "===== Method "
	residualPrefix = "Not covered: "
	targetIndent   = "     "
	headerPrefix   = "Total "
)

// MethodEntry is one row of a method table.
type MethodEntry struct {
	ID         ident.MethodID
	Descriptor string
}

func (m MethodEntry) String() string { return m.ID.String() + ": " + m.Descriptor }

// Tables is the build output a coverage run consumes.
type Tables struct {
	Methods   []MethodEntry
	Edges     []ident.Edge
	Annotated []ident.AnnotatedEdge
}

// FromResult extracts the tracker inputs from a build result without going
// through the file system.
func FromResult(r *callgraph.Result) *Tables {
	app := r.ApplicationMethods()
	t := &Tables{
		Methods:   make([]MethodEntry, 0, len(app)),
		Edges:     append([]ident.Edge(nil), r.Edges...),
		Annotated: append([]ident.AnnotatedEdge(nil), r.Annotated...),
	}
	for _, m := range app {
		t.Methods = append(t.Methods, MethodEntry{ID: m.ID, Descriptor: m.Method.String()})
	}
	return t
}

// Summary is the closing line of a residual file.
type Summary struct {
	Uncovered int
	Total     int
}

// Covered returns the number of covered items.
func (s Summary) Covered() int { return s.Total - s.Uncovered }

// Percent returns the covered share rounded to the nearest integer. An empty
// table counts as fully covered.
func (s Summary) Percent() int {
	if s.Total <= 0 {
		return 100
	}
	return (s.Covered()*100 + s.Total/2) / s.Total
}

func (s Summary) String() string {
	return fmt.Sprintf("%s%d/%d [%d%%]", residualPrefix, s.Uncovered, s.Total, s.Percent())
}

func join(dir, name string) string { return filepath.Join(dir, name) }
