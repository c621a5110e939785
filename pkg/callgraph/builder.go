// Package callgraph computes the reachable methods and call edges of a
// program with Class Hierarchy Analysis.
//
// The algorithm is a worklist fixpoint. Methods are discovered at most once;
// on discovery a method receives its identifier and is appended to the tail
// of the worklist. Methods are dequeued in FIFO order and their bodies are
// scanned for call sites. A direct call discovers its single target. A
// dynamically dispatched call enumerates every concrete subtype of the
// declared receiver type, resolves the override each one would run and
// discovers it. The process ends when the worklist is empty.
//
// Identifiers depend only on the discovery order, which is fixed by the
// declaration order of classes and methods and by the statement order of
// method bodies, so two builds of the same model number methods identically.
package callgraph

import (
	"fmt"
	"log/slog"

	"github.com/715d/chacov/pkg/hierarchy"
	"github.com/715d/chacov/pkg/ident"
	"github.com/715d/chacov/pkg/program"
)

// Options tunes a build.
type Options struct {
	// SkipLibraryBodies stops library methods from being scanned once
	// discovered. By default library bodies are scanned so that callbacks
	// from library code into application overrides are reachable; library
	// call sites never receive identifiers either way.
	SkipLibraryBodies bool
}

// Builder holds the working state of one build. A Builder is single use.
type Builder struct {
	prog *program.Program
	hier *hierarchy.Index
	opts Options

	// next is the identifier of the next discovered application method.
	next ident.MethodID

	// ids records every discovered method and its identifier.
	ids map[*program.Method]ident.MethodID

	// worklist is the FIFO of discovered but unprocessed methods; head is
	// the index of its first live element.
	worklist []*program.Method
	head     int

	result *Result
	built  bool
}

// NewBuilder prepares a build over p, which must be linked, using the class
// hierarchy h of the same program.
func NewBuilder(p *program.Program, h *hierarchy.Index, opts Options) *Builder {
	ids := make(map[*program.Method]ident.MethodID)
	return &Builder{
		prog:   p,
		hier:   h,
		opts:   opts,
		next:   1,
		ids:    ids,
		result: &Result{ids: ids},
	}
}

// Build runs the analysis to its fixpoint. An error means the program model
// is inconsistent; the partial result is discarded.
func Build(p *program.Program, opts Options) (*Result, error) {
	return NewBuilder(p, hierarchy.New(p), opts).Build()
}

// Build runs the analysis to its fixpoint.
func (b *Builder) Build() (*Result, error) {
	if b.built {
		return nil, fmt.Errorf("builder already used")
	}
	b.built = true

	entry := b.prog.EntryMethod()
	if entry == nil {
		return nil, fmt.Errorf("%w: program has no entry method (not linked?)", program.ErrInconsistent)
	}
	b.discover(entry)

	// Static initializers run whenever their class is loaded; all of them are
	// treated as reachable.
	for _, c := range b.hier.Classes() {
		if clinit := b.prog.StaticInitializer(c); clinit != nil {
			b.discover(clinit)
		}
	}

	for b.head < len(b.worklist) {
		m := b.worklist[b.head]
		b.worklist[b.head] = nil
		b.head++
		if err := b.process(m); err != nil {
			return nil, err
		}
	}

	slog.Debug("call graph built",
		"methods", len(b.result.Methods),
		"application_methods", int(b.next)-1,
		"sites", len(b.result.Sites),
		"edges", len(b.result.Edges),
		"annotated_edges", len(b.result.Annotated))
	return b.result, nil
}

// discover marks m reachable. It is a no-op for known methods.
func (b *Builder) discover(m *program.Method) ident.MethodID {
	if id, ok := b.ids[m]; ok {
		return id
	}

	id := ident.LibraryID
	if !b.hier.IsLibraryMethod(m) {
		id = b.next
		b.next++
	}
	b.ids[m] = id
	b.result.Methods = append(b.result.Methods, Reachable{ID: id, Method: m})
	b.worklist = append(b.worklist, m)

	// Any constructible object may later be finalized by the runtime.
	if b.prog.IsConstructor(m) {
		if fin := b.prog.Finalizer(m.Class()); fin != nil {
			b.discover(fin)
		}
	}
	return id
}

// process scans the body of m.
func (b *Builder) process(m *program.Method) error {
	if !m.HasBody() {
		return nil
	}
	library := b.hier.IsLibraryMethod(m)
	if library && b.opts.SkipLibraryBodies {
		return nil
	}

	caller := b.ids[m]
	for i, call := range m.Calls {
		site := ident.SiteID{Method: caller, Index: i + 1}
		var err error
		switch call.Kind {
		case program.Direct:
			b.processDirect(m, site, call, library)
		case program.Virtual:
			err = b.processVirtual(m, site, call, library)
		default:
			err = fmt.Errorf("%w: %s call %d has kind %s", program.ErrInconsistent, m, i+1, call.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) processDirect(caller *program.Method, site ident.SiteID, call *program.CallSite, library bool) {
	target := call.Callee()
	tid := b.discover(target)
	if library {
		return
	}

	b.result.Sites = append(b.result.Sites, &Site{
		ID:      site,
		Caller:  caller,
		Call:    call,
		Targets: []*program.Method{target},
	})
	if !tid.IsLibrary() {
		b.result.Edges = append(b.result.Edges, ident.Edge{Site: site, Target: tid})
	}
	b.result.Annotated = append(b.result.Annotated, ident.AnnotatedEdge{Site: site, Target: tid})
}

func (b *Builder) processVirtual(caller *program.Method, site ident.SiteID, call *program.CallSite, library bool) error {
	// Calls on arrays and other non-class receivers are not modelled.
	if !call.ReceiverIsClass() {
		return nil
	}
	static := b.prog.Class(call.Receiver)
	if static == nil {
		return fmt.Errorf("%w: %s: unknown receiver type %q", program.ErrInconsistent, caller, call.Receiver)
	}

	receivers := b.hier.PossibleReceivers(static)
	resolved := make([]*program.Method, len(receivers))
	var targets []*program.Method
	seen := make(map[*program.Method]struct{}, len(receivers))
	for i, rc := range receivers {
		t, err := b.hier.ResolveOverride(call.Callee(), rc)
		if err != nil {
			return fmt.Errorf("%w: %s site %s: %w", program.ErrInconsistent, caller, site, err)
		}
		b.discover(t)
		resolved[i] = t
		if _, ok := seen[t]; !ok {
			seen[t] = struct{}{}
			targets = append(targets, t)
		}
	}
	if library {
		return nil
	}

	b.result.Sites = append(b.result.Sites, &Site{
		ID:        site,
		Caller:    caller,
		Call:      call,
		Receivers: len(receivers),
		Targets:   targets,
	})
	for _, t := range targets {
		if tid := b.ids[t]; !tid.IsLibrary() {
			b.result.Edges = append(b.result.Edges, ident.Edge{Site: site, Target: tid})
		}
	}
	for i, rc := range receivers {
		b.result.Annotated = append(b.result.Annotated, ident.AnnotatedEdge{
			Site:     site,
			Target:   b.ids[resolved[i]],
			Receiver: rc.Name,
		})
	}
	return nil
}
