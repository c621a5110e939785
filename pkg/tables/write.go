package tables

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/715d/chacov/pkg/callgraph"
	"github.com/715d/chacov/pkg/hierarchy"
	"github.com/715d/chacov/pkg/ident"
	"github.com/715d/chacov/pkg/program"
)

// WriteBuild writes every build table of r into dir, creating dir if needed.
// The files are written concurrently; the first failure is returned.
func WriteBuild(dir string, r *callgraph.Result, h *hierarchy.Index) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	all := make([]MethodEntry, 0, len(r.Methods))
	for _, m := range r.Methods {
		all = append(all, MethodEntry{ID: m.ID, Descriptor: m.Method.String()})
	}
	t := FromResult(r)

	writers := map[string]func(io.Writer) error{
		FileMethods:    func(w io.Writer) error { return WriteMethods(w, t.Methods) },
		FileAllMethods: func(w io.Writer) error { return WriteMethods(w, all) },
		FileEdges:      func(w io.Writer) error { return WriteEdges(w, t.Edges) },
		FileAnnotated:  func(w io.Writer) error { return WriteAnnotated(w, t.Annotated) },
		FileCalls:      func(w io.Writer) error { return WriteCalls(w, r) },
		FileHierarchy:  func(w io.Writer) error { return WriteHierarchy(w, h, false) },
		FileHierAll:    func(w io.Writer) error { return WriteHierarchy(w, h, true) },
	}

	var g errgroup.Group
	for name, fill := range writers {
		path := join(dir, name)
		g.Go(func() error { return writeFile(path, fill) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("tables written", "dir", dir,
		"methods", len(t.Methods), "edges", len(t.Edges), "annotated_edges", len(t.Annotated))
	return nil
}

// writeFile creates path, lets fill write its contents and always closes
// the file.
func writeFile(path string, fill func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := fill(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteMethods writes a method table: a count header then one row per entry.
func WriteMethods(w io.Writer, rows []MethodEntry) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(methodsHeader + strconv.Itoa(len(rows)) + "\n")
	for _, m := range rows {
		bw.WriteString(m.String() + "\n")
	}
	return bw.Flush()
}

// WriteEdges writes one "site,target" row per edge.
func WriteEdges(w io.Writer, edges []ident.Edge) error {
	bw := bufio.NewWriter(w)
	for _, e := range edges {
		bw.WriteString(e.String() + "\n")
	}
	return bw.Flush()
}

// WriteAnnotated writes one row per annotated edge; direct edges have two
// fields and dispatched edges three.
func WriteAnnotated(w io.Writer, edges []ident.AnnotatedEdge) error {
	bw := bufio.NewWriter(w)
	for _, e := range edges {
		bw.WriteString(e.String() + "\n")
	}
	return bw.Flush()
}

// WriteCalls writes the per-method call listing. Every application method
// gets a block in id order. Direct sites are tagged [S]. Dispatched sites
// are tagged [C], suffixed with their receiver and target counts and
// followed by one indented line per distinct target.
func WriteCalls(w io.Writer, r *callgraph.Result) error {
	byCaller := make(map[*program.Method][]*callgraph.Site)
	for _, s := range r.Sites {
		byCaller[s.Caller] = append(byCaller[s.Caller], s)
	}

	bw := bufio.NewWriter(w)
	for _, m := range r.ApplicationMethods() {
		fmt.Fprintf(bw, "\n%s%s: %s\n", callsHeader, m.ID, m.Method)
		for _, s := range byCaller[m.Method] {
			if s.Direct() {
				fmt.Fprintf(bw, "%s: [S] %s\n", s.ID, s.Call)
				continue
			}
			fmt.Fprintf(bw, "%s: [C] %s,%d,%d\n", s.ID, s.Call, s.Receivers, len(s.Targets))
			for _, t := range s.Targets {
				bw.WriteString(targetIndent + t.String() + "\n")
			}
		}
	}
	return bw.Flush()
}

// WriteHierarchy writes "class,n" rows where n is the number of possible
// receiver classes. With all set every class is listed under a count
// header; otherwise only application classes are listed.
func WriteHierarchy(w io.Writer, h *hierarchy.Index, all bool) error {
	bw := bufio.NewWriter(w)
	classes := h.Classes()
	if all {
		bw.WriteString(classesHeader + strconv.Itoa(len(classes)) + "\n")
	}
	for _, c := range classes {
		if !all && h.IsLibraryClass(c) {
			continue
		}
		fmt.Fprintf(bw, "%s,%d\n", c.Name, len(h.PossibleReceivers(c)))
	}
	return bw.Flush()
}
