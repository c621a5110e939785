package tables

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/715d/chacov/pkg/ident"
)

// Residual is what a monitored execution left uncovered, together with the
// sizes of the tables it was measured against.
type Residual struct {
	Methods      []MethodEntry
	TotalMethods int

	Edges      []ident.Edge
	TotalEdges int

	Annotated      []ident.AnnotatedEdge
	TotalAnnotated int
}

// MethodSummary summarizes uncovered methods.
func (r *Residual) MethodSummary() Summary {
	return Summary{Uncovered: len(r.Methods), Total: r.TotalMethods}
}

// EdgeSummary summarizes uncovered plain edges.
func (r *Residual) EdgeSummary() Summary {
	return Summary{Uncovered: len(r.Edges), Total: r.TotalEdges}
}

// AnnotatedSummary summarizes uncovered annotated edges.
func (r *Residual) AnnotatedSummary() Summary {
	return Summary{Uncovered: len(r.Annotated), Total: r.TotalAnnotated}
}

// Empty reports whether everything was covered.
func (r *Residual) Empty() bool {
	return len(r.Methods) == 0 && len(r.Edges) == 0 && len(r.Annotated) == 0
}

// WriteResidual writes nmethods, nedges and nedges.annotated into dir.
func WriteResidual(dir string, r *Residual) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		return writeFile(join(dir, FileUncoveredMethods), func(w io.Writer) error {
			return writeResidualRows(w, r.Methods, r.MethodSummary())
		})
	})
	g.Go(func() error {
		return writeFile(join(dir, FileUncoveredEdges), func(w io.Writer) error {
			return writeResidualRows(w, r.Edges, r.EdgeSummary())
		})
	})
	g.Go(func() error {
		return writeFile(join(dir, FileUncoveredAnnotated), func(w io.Writer) error {
			return writeResidualRows(w, r.Annotated, r.AnnotatedSummary())
		})
	})
	return g.Wait()
}

func writeResidualRows[T fmt.Stringer](w io.Writer, rows []T, sum Summary) error {
	bw := bufio.NewWriter(w)
	for _, row := range rows {
		bw.WriteString(row.String() + "\n")
	}
	bw.WriteString(sum.String() + "\n")
	return bw.Flush()
}
