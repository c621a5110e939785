// Package hierarchy answers subtype and override-resolution queries over a
// linked program model. An Index is safe for concurrent use.
package hierarchy

import (
	"errors"
	"fmt"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/chacov/pkg/program"
)

// ErrNoImplementation is returned when a concrete class has no method with
// the requested signature anywhere in its superclass chain.
var ErrNoImplementation = errors.New("no implementation")

// Index is the class hierarchy of one program.
type Index struct {
	classes []*program.Class

	// subtypes holds the direct subtypes of each class, by extension or by
	// interface implementation, in declaration order.
	subtypes [][]*program.Class

	// receivers memoizes PossibleReceivers by class index.
	receivers *xsync.Map[int, []*program.Class]
}

// New indexes every class of p. p must be linked.
func New(p *program.Program) *Index {
	h := &Index{
		classes:   p.Classes,
		subtypes:  make([][]*program.Class, len(p.Classes)),
		receivers: xsync.NewMap[int, []*program.Class](),
	}
	for _, c := range p.Classes {
		if s := c.Superclass(); s != nil {
			h.subtypes[s.Index()] = append(h.subtypes[s.Index()], c)
		}
		for _, i := range c.ImplementedInterfaces() {
			h.subtypes[i.Index()] = append(h.subtypes[i.Index()], c)
		}
	}
	return h
}

// Classes returns every class in declaration order.
func (h *Index) Classes() []*program.Class { return h.classes }

// PossibleReceivers returns every concrete class that is c itself or a
// transitive subtype of c, in declaration order. The result is shared and
// must not be modified.
func (h *Index) PossibleReceivers(c *program.Class) []*program.Class {
	if r, ok := h.receivers.Load(c.Index()); ok {
		return r
	}

	seen := make([]bool, len(h.classes))
	queue := []*program.Class{c}
	seen[c.Index()] = true
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, sub := range h.subtypes[cur.Index()] {
			if !seen[sub.Index()] {
				seen[sub.Index()] = true
				queue = append(queue, sub)
			}
		}
	}

	r := make([]*program.Class, 0, 4)
	for i, ok := range seen {
		if ok && h.classes[i].Concrete() {
			r = append(r, h.classes[i])
		}
	}
	r, _ = h.receivers.LoadOrStore(c.Index(), r)
	return r
}

// IsSubtype reports whether sub is super or a transitive subtype of it.
func (h *Index) IsSubtype(sub, super *program.Class) bool {
	if sub == super {
		return true
	}
	if s := sub.Superclass(); s != nil && h.IsSubtype(s, super) {
		return true
	}
	for _, i := range sub.ImplementedInterfaces() {
		if h.IsSubtype(i, super) {
			return true
		}
	}
	return false
}

// ResolveOverride returns the method that runs when target is invoked on an
// instance of runtime. The superclass chain of runtime is walked upwards and
// the nearest non-abstract method with target's signature wins. Interfaces
// only contribute abstract signatures and are never consulted.
func (h *Index) ResolveOverride(target *program.Method, runtime *program.Class) (*program.Method, error) {
	for c := runtime; c != nil; c = c.Superclass() {
		if m := c.Method(target.Sig); m != nil && !m.Abstract {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s for receiver %s", ErrNoImplementation, target, runtime.Name)
}

// IsLibraryClass reports whether c is out-of-project code.
func (h *Index) IsLibraryClass(c *program.Class) bool { return c.Library }

// IsLibraryMethod reports whether m is out-of-project code. Library methods
// never receive an identifier.
func (h *Index) IsLibraryMethod(m *program.Method) bool { return m.Library() }
