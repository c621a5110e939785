// Package coverage tracks, during one monitored execution, which of the
// statically predicted methods and call edges actually run.
//
// A Tracker is loaded once from the build tables and then receives events:
// method entries and call site executions. Each event removes the matching
// entries from the not-yet-covered sets, which only ever shrink. Finish
// writes what is left.
package coverage

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/715d/chacov/pkg/ident"
	"github.com/715d/chacov/pkg/tables"
)

var (
	// ErrNotLoaded is returned for events that arrive before Load.
	ErrNotLoaded = errors.New("coverage tables not loaded")

	// ErrUnknownCallSite is returned when an executed call site, or a call
	// site and receiver class pair, has no entry in the loaded tables. It
	// means the running code and the tables come from different builds.
	ErrUnknownCallSite = errors.New("unknown call site")
)

// dispatchKey identifies the annotated edge taken by a dispatched call.
type dispatchKey struct {
	site     ident.SiteID
	receiver string
}

// Tracker is the coverage state of one monitored execution. It is safe for
// concurrent use; events are serialized.
type Tracker struct {
	mu     sync.Mutex
	loaded bool

	// Not yet covered entries.
	methods   map[ident.MethodID]string
	edges     map[ident.Edge]struct{}
	annotated map[ident.AnnotatedEdge]struct{}

	totalMethods   int
	totalEdges     int
	totalAnnotated int

	// direct maps a direct call site to its target.
	direct map[ident.SiteID]ident.MethodID

	// dispatch maps a dispatched call site and receiver class to the
	// target that class runs.
	dispatch map[dispatchKey]ident.MethodID

	metrics *metrics
}

// NewTracker returns an empty tracker. Load must be called before any event.
func NewTracker() *Tracker {
	return &Tracker{metrics: newMetrics()}
}

// Load fills the coverage sets from t, marking everything uncovered.
// A tracker can be loaded only once.
func (t *Tracker) Load(tab *tables.Tables) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.loaded {
		return errors.New("coverage tables already loaded")
	}

	methods := make(map[ident.MethodID]string, len(tab.Methods))
	for _, m := range tab.Methods {
		if m.ID.IsLibrary() {
			return fmt.Errorf("method table lists library id for %s", m.Descriptor)
		}
		methods[m.ID] = m.Descriptor
	}

	edges := make(map[ident.Edge]struct{}, len(tab.Edges))
	for _, e := range tab.Edges {
		edges[e] = struct{}{}
	}

	annotated := make(map[ident.AnnotatedEdge]struct{}, len(tab.Annotated))
	direct := make(map[ident.SiteID]ident.MethodID)
	dispatch := make(map[dispatchKey]ident.MethodID)
	for _, e := range tab.Annotated {
		annotated[e] = struct{}{}
		if e.Direct() {
			if prev, ok := direct[e.Site]; ok && prev != e.Target {
				return fmt.Errorf("direct call site %s has targets %s and %s", e.Site, prev, e.Target)
			}
			direct[e.Site] = e.Target
			continue
		}
		key := dispatchKey{site: e.Site, receiver: e.Receiver}
		if prev, ok := dispatch[key]; ok && prev != e.Target {
			return fmt.Errorf("call site %s receiver %s has targets %s and %s", e.Site, e.Receiver, prev, e.Target)
		}
		dispatch[key] = e.Target
	}
	for key := range dispatch {
		if _, ok := direct[key.site]; ok {
			return fmt.Errorf("call site %s is both direct and dispatched", key.site)
		}
	}

	t.methods, t.edges, t.annotated = methods, edges, annotated
	t.direct, t.dispatch = direct, dispatch
	t.totalMethods, t.totalEdges, t.totalAnnotated = len(methods), len(edges), len(annotated)
	t.loaded = true

	t.metrics.setTotals(t.totalMethods, t.totalEdges, t.totalAnnotated)
	t.syncGauges()
	slog.Debug("coverage tables loaded",
		"methods", t.totalMethods, "edges", t.totalEdges, "annotated_edges", t.totalAnnotated)
	return nil
}

// OnMethodEntry records that the method with the given id started running.
// Ids absent from the table, library ids included, are ignored.
func (t *Tracker) OnMethodEntry(id ident.MethodID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.loaded {
		return ErrNotLoaded
	}
	t.metrics.event(eventMethodEntry)
	delete(t.methods, id)
	return nil
}

// OnCallSite records the execution of a direct call site.
func (t *Tracker) OnCallSite(site ident.SiteID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.loaded {
		return ErrNotLoaded
	}
	target, ok := t.direct[site]
	if !ok {
		t.metrics.event(eventUnknownSite)
		return fmt.Errorf("%w: direct call %s", ErrUnknownCallSite, site)
	}
	t.metrics.event(eventCall)
	delete(t.edges, ident.Edge{Site: site, Target: target})
	delete(t.annotated, ident.AnnotatedEdge{Site: site, Target: target})
	return nil
}

// OnVirtualCallSite records the execution of a dispatched call site on
// receiver. Only the runtime class of receiver is used.
func (t *Tracker) OnVirtualCallSite(site ident.SiteID, receiver any) error {
	class := ReceiverClass(receiver)
	if class == "" {
		return fmt.Errorf("%w: call %s on receiver of type %T", ErrUnknownCallSite, site, receiver)
	}
	return t.OnVirtualCallSiteClass(site, class)
}

// OnVirtualCallSiteClass is OnVirtualCallSite for an already known receiver
// class name.
func (t *Tracker) OnVirtualCallSiteClass(site ident.SiteID, class string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.loaded {
		return ErrNotLoaded
	}
	target, ok := t.dispatch[dispatchKey{site: site, receiver: class}]
	if !ok {
		t.metrics.event(eventUnknownSite)
		return fmt.Errorf("%w: dispatched call %s on %s", ErrUnknownCallSite, site, class)
	}
	t.metrics.event(eventVirtualCall)
	delete(t.edges, ident.Edge{Site: site, Target: target})
	delete(t.annotated, ident.AnnotatedEdge{Site: site, Target: target, Receiver: class})
	return nil
}

// Report is a snapshot of the coverage counters.
type Report struct {
	Methods   tables.Summary
	Edges     tables.Summary
	Annotated tables.Summary
}

// Complete reports whether nothing is left uncovered.
func (r Report) Complete() bool {
	return r.Methods.Uncovered == 0 && r.Edges.Uncovered == 0 && r.Annotated.Uncovered == 0
}

// Report returns the current counters.
func (t *Tracker) Report() Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.report()
}

func (t *Tracker) report() Report {
	return Report{
		Methods:   tables.Summary{Uncovered: len(t.methods), Total: t.totalMethods},
		Edges:     tables.Summary{Uncovered: len(t.edges), Total: t.totalEdges},
		Annotated: tables.Summary{Uncovered: len(t.annotated), Total: t.totalAnnotated},
	}
}

// Residual returns the uncovered entries in ascending order.
func (t *Tracker) Residual() *tables.Residual {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := &tables.Residual{
		Methods:        make([]tables.MethodEntry, 0, len(t.methods)),
		TotalMethods:   t.totalMethods,
		Edges:          make([]ident.Edge, 0, len(t.edges)),
		TotalEdges:     t.totalEdges,
		Annotated:      make([]ident.AnnotatedEdge, 0, len(t.annotated)),
		TotalAnnotated: t.totalAnnotated,
	}
	for id, desc := range t.methods {
		r.Methods = append(r.Methods, tables.MethodEntry{ID: id, Descriptor: desc})
	}
	slices.SortFunc(r.Methods, func(a, b tables.MethodEntry) int { return int(a.ID) - int(b.ID) })
	for e := range t.edges {
		r.Edges = append(r.Edges, e)
	}
	slices.SortFunc(r.Edges, ident.Edge.Compare)
	for e := range t.annotated {
		r.Annotated = append(r.Annotated, e)
	}
	slices.SortFunc(r.Annotated, ident.AnnotatedEdge.Compare)
	return r
}

// Finish writes the residual files into dir and returns the final report.
func (t *Tracker) Finish(dir string) (Report, error) {
	t.mu.Lock()
	loaded := t.loaded
	t.mu.Unlock()
	if !loaded {
		return Report{}, ErrNotLoaded
	}

	res := t.Residual()
	if err := tables.WriteResidual(dir, res); err != nil {
		return Report{}, fmt.Errorf("write coverage residual: %w", err)
	}

	rep := Report{
		Methods:   res.MethodSummary(),
		Edges:     res.EdgeSummary(),
		Annotated: res.AnnotatedSummary(),
	}
	t.mu.Lock()
	t.syncGauges()
	t.mu.Unlock()

	slog.Info("coverage finished", "dir", dir,
		"methods", rep.Methods.String(),
		"edges", rep.Edges.String(),
		"annotated_edges", rep.Annotated.String())
	return rep, nil
}

// syncGauges publishes the residual set sizes. t.mu must be held.
func (t *Tracker) syncGauges() {
	t.metrics.setUncovered(len(t.methods), len(t.edges), len(t.annotated))
}
