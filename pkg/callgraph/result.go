package callgraph

import (
	"github.com/715d/chacov/pkg/ident"
	"github.com/715d/chacov/pkg/program"
)

// Reachable pairs a discovered method with its identifier.
type Reachable struct {
	ID     ident.MethodID
	Method *program.Method
}

// Site is an analysed call site of an application method.
type Site struct {
	ID     ident.SiteID
	Caller *program.Method
	Call   *program.CallSite

	// Receivers is the number of possible receiver classes of a
	// dynamically dispatched call; zero for direct calls.
	Receivers int

	// Targets holds the distinct methods the site may invoke, in the order
	// they were first resolved.
	Targets []*program.Method
}

// Direct reports whether the site is statically bound.
func (s *Site) Direct() bool { return s.Call.Kind == program.Direct }

// Result is the outcome of a build.
type Result struct {
	// Methods lists every reachable method, library ones included, in
	// discovery order.
	Methods []Reachable

	// Sites lists the analysed call sites of application methods in
	// processing order.
	Sites []*Site

	// Edges holds one plain edge per distinct application target of each
	// site.
	Edges []ident.Edge

	// Annotated holds one edge per direct site and one edge per possible
	// receiver class of each dispatched site.
	Annotated []ident.AnnotatedEdge

	ids map[*program.Method]ident.MethodID
}

// ID returns the identifier of m and whether m is reachable.
func (r *Result) ID(m *program.Method) (ident.MethodID, bool) {
	id, ok := r.ids[m]
	return id, ok
}

// Reachable reports whether m was discovered.
func (r *Result) Reachable(m *program.Method) bool {
	_, ok := r.ids[m]
	return ok
}

// ApplicationMethods returns the reachable methods that carry an identifier.
func (r *Result) ApplicationMethods() []Reachable {
	out := make([]Reachable, 0, len(r.Methods))
	for _, m := range r.Methods {
		if !m.ID.IsLibrary() {
			out = append(out, m)
		}
	}
	return out
}

// SitesOf returns the analysed sites of caller in body order.
func (r *Result) SitesOf(caller *program.Method) []*Site {
	var out []*Site
	for _, s := range r.Sites {
		if s.Caller == caller {
			out = append(out, s)
		}
	}
	return out
}
