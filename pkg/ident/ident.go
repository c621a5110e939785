// Package ident defines the identifier contract shared by call graph
// construction and run-time coverage tracking.
//
// Method ids are dense integers assigned in discovery order starting at 1;
// library methods always carry id 0. A call site is the pair (method id,
// 1-based statement index) and renders as "m_k". Both sides of the contract
// must agree on these encodings bit for bit, so every text form is produced
// and parsed here.
package ident

import (
	"cmp"
	"fmt"
	"strconv"
	"strings"
)

// MethodID identifies a reachable method. Library methods use LibraryID.
type MethodID int

// LibraryID is the id shared by every out-of-project method.
const LibraryID MethodID = 0

// IsLibrary reports whether id belongs to a library method.
func (id MethodID) IsLibrary() bool { return id == LibraryID }

func (id MethodID) String() string { return strconv.Itoa(int(id)) }

// ParseMethodID parses the decimal form of a method id.
func ParseMethodID(s string) (MethodID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse method id %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("parse method id %q: negative", s)
	}
	return MethodID(n), nil
}

// SiteID identifies one call-containing statement inside a method.
// It is a structured pair so that "1_2" and "1_20" never compare as prefixes
// of each other.
type SiteID struct {
	Method MethodID
	Index  int
}

func (s SiteID) String() string {
	return s.Method.String() + "_" + strconv.Itoa(s.Index)
}

// Compare orders sites by method id, then by index.
func (s SiteID) Compare(o SiteID) int {
	if c := cmp.Compare(s.Method, o.Method); c != 0 {
		return c
	}
	return cmp.Compare(s.Index, o.Index)
}

// ParseSiteID parses the "m_k" form.
func ParseSiteID(s string) (SiteID, error) {
	m, k, ok := strings.Cut(strings.TrimSpace(s), "_")
	if !ok {
		return SiteID{}, fmt.Errorf("parse call site %q: missing '_'", s)
	}
	id, err := ParseMethodID(m)
	if err != nil {
		return SiteID{}, fmt.Errorf("parse call site %q: %w", s, err)
	}
	idx, err := strconv.Atoi(k)
	if err != nil || idx < 1 {
		return SiteID{}, fmt.Errorf("parse call site %q: bad index", s)
	}
	return SiteID{Method: id, Index: idx}, nil
}

// Edge is a plain call edge: a call site and the id of a method it may invoke.
type Edge struct {
	Site   SiteID
	Target MethodID
}

func (e Edge) String() string {
	return e.Site.String() + "," + e.Target.String()
}

// Compare orders edges by site, then target.
func (e Edge) Compare(o Edge) int {
	if c := e.Site.Compare(o.Site); c != 0 {
		return c
	}
	return cmp.Compare(e.Target, o.Target)
}

// ParseEdge parses "site,target".
func ParseEdge(s string) (Edge, error) {
	site, target, ok := strings.Cut(strings.TrimSpace(s), ",")
	if !ok {
		return Edge{}, fmt.Errorf("parse edge %q: missing ','", s)
	}
	sid, err := ParseSiteID(site)
	if err != nil {
		return Edge{}, err
	}
	tid, err := ParseMethodID(target)
	if err != nil {
		return Edge{}, err
	}
	return Edge{Site: sid, Target: tid}, nil
}

// AnnotatedEdge is an edge tagged with the concrete receiver class that
// triggers it. Receiver is empty for direct calls.
type AnnotatedEdge struct {
	Site     SiteID
	Target   MethodID
	Receiver string
}

// Direct reports whether the edge comes from a direct (statically bound) call.
func (e AnnotatedEdge) Direct() bool { return e.Receiver == "" }

// Plain drops the receiver annotation.
func (e AnnotatedEdge) Plain() Edge { return Edge{Site: e.Site, Target: e.Target} }

func (e AnnotatedEdge) String() string {
	if e.Direct() {
		return e.Plain().String()
	}
	return e.Plain().String() + "," + e.Receiver
}

// Compare orders annotated edges by site, receiver, then target.
func (e AnnotatedEdge) Compare(o AnnotatedEdge) int {
	if c := e.Site.Compare(o.Site); c != 0 {
		return c
	}
	if c := strings.Compare(e.Receiver, o.Receiver); c != 0 {
		return c
	}
	return cmp.Compare(e.Target, o.Target)
}

// ParseAnnotatedEdge parses either "site,target" or "site,target,receiver".
// The field count is what distinguishes direct from dispatched calls.
func ParseAnnotatedEdge(s string) (AnnotatedEdge, error) {
	s = strings.TrimSpace(s)
	fields := strings.SplitN(s, ",", 3)
	if len(fields) < 2 {
		return AnnotatedEdge{}, fmt.Errorf("parse annotated edge %q: want 2 or 3 fields", s)
	}
	e, err := ParseEdge(fields[0] + "," + fields[1])
	if err != nil {
		return AnnotatedEdge{}, err
	}
	ae := AnnotatedEdge{Site: e.Site, Target: e.Target}
	if len(fields) == 3 {
		if fields[2] == "" {
			return AnnotatedEdge{}, fmt.Errorf("parse annotated edge %q: empty receiver", s)
		}
		ae.Receiver = fields[2]
	}
	return ae, nil
}
