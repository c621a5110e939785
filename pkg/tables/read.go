package tables

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/715d/chacov/pkg/ident"
)

// Read loads the tracker inputs rmethods, edges and edges.annotated from dir.
func Read(dir string) (*Tables, error) {
	var t Tables
	var err error
	if t.Methods, err = readFile(join(dir, FileMethods), ReadMethods); err != nil {
		return nil, err
	}
	if t.Edges, err = readFile(join(dir, FileEdges), ReadEdges); err != nil {
		return nil, err
	}
	if t.Annotated, err = readFile(join(dir, FileAnnotated), ReadAnnotated); err != nil {
		return nil, err
	}
	return &t, nil
}

func readFile[T any](path string, parse func(io.Reader) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	rows, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// ReadMethods parses a method table. The count header is optional.
func ReadMethods(r io.Reader) ([]MethodEntry, error) {
	return scanRows(r, func(line string) (MethodEntry, error) {
		id, desc, ok := strings.Cut(line, ":")
		if !ok {
			return MethodEntry{}, fmt.Errorf("method row %q: missing ':'", line)
		}
		mid, err := ident.ParseMethodID(id)
		if err != nil {
			return MethodEntry{}, err
		}
		return MethodEntry{ID: mid, Descriptor: strings.TrimSpace(desc)}, nil
	})
}

// ReadEdges parses a plain edge table.
func ReadEdges(r io.Reader) ([]ident.Edge, error) {
	return scanRows(r, ident.ParseEdge)
}

// ReadAnnotated parses an annotated edge table.
func ReadAnnotated(r io.Reader) ([]ident.AnnotatedEdge, error) {
	return scanRows(r, ident.ParseAnnotatedEdge)
}

// scanRows applies parse to every non-blank line that is not a count header
// or a residual summary.
func scanRows[T any](r io.Reader, parse func(string) (T, error)) ([]T, error) {
	var rows []T
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, headerPrefix) || strings.HasPrefix(line, residualPrefix) {
			continue
		}
		row, err := parse(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}
