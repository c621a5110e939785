package graphexport

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/715d/chacov/pkg/callgraph"
	"github.com/715d/chacov/pkg/hierarchy"
)

// DefaultBatchSize is the number of rows sent per UNWIND statement.
const DefaultBatchSize = 1000

// Exporter writes graphs through a Runner.
type Exporter struct {
	run       Runner
	batchSize int
}

// NewExporter returns an exporter sending batches of batchSize rows;
// batchSize <= 0 selects DefaultBatchSize.
func NewExporter(run Runner, batchSize int) *Exporter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Exporter{run: run, batchSize: batchSize}
}

// Stats counts what an export wrote.
type Stats struct {
	Classes    int
	Methods    int
	Extends    int
	Implements int
	Calls      int
}

// Clean removes every node and relationship a previous export created.
func (e *Exporter) Clean(ctx context.Context) error {
	slog.Info("cleaning existing call graph data")
	queries := []string{
		"MATCH ()-[r:CALLS]->() DELETE r",
		"MATCH ()-[r:DECLARES]->() DELETE r",
		"MATCH ()-[r:EXTENDS]->() DELETE r",
		"MATCH ()-[r:IMPLEMENTS]->() DELETE r",
		"MATCH (n:ChaMethod) DETACH DELETE n",
		"MATCH (n:ChaClass) DETACH DELETE n",
	}
	for _, q := range queries {
		if err := e.run.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("clean graph: %w", err)
		}
	}
	return nil
}

// CreateIndexes ensures the lookup indexes exist.
func (e *Exporter) CreateIndexes(ctx context.Context) error {
	indexes := []string{
		"CREATE INDEX cha_class_name IF NOT EXISTS FOR (n:ChaClass) ON (n.name)",
		"CREATE INDEX cha_method_key IF NOT EXISTS FOR (n:ChaMethod) ON (n.key)",
	}
	for _, q := range indexes {
		if err := e.run.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

const (
	classQuery = `UNWIND $batch AS row
MERGE (n:ChaClass {name: row.name})
SET n.library = row.library, n.interface = row.interface,
    n.abstract = row.abstract, n.receivers = row.receivers`

	extendsQuery = `UNWIND $batch AS row
MATCH (c:ChaClass {name: row.sub}), (s:ChaClass {name: row.super})
MERGE (c)-[:EXTENDS]->(s)`

	implementsQuery = `UNWIND $batch AS row
MATCH (c:ChaClass {name: row.sub}), (i:ChaClass {name: row.super})
MERGE (c)-[:IMPLEMENTS]->(i)`

	methodQuery = `UNWIND $batch AS row
MERGE (m:ChaMethod {key: row.key})
SET m.id = row.id, m.sig = row.sig, m.class = row.class, m.library = row.library
WITH m, row
MATCH (c:ChaClass {name: row.class})
MERGE (c)-[:DECLARES]->(m)`

	callQuery = `UNWIND $batch AS row
MATCH (caller:ChaMethod {key: row.caller}), (callee:ChaMethod {key: row.callee})
MERGE (caller)-[r:CALLS {site: row.site}]->(callee)
SET r.kind = row.kind, r.receivers = row.receivers, r.text = row.text`
)

// Export writes every class of h, the reachable methods of r and the
// call relationships of r's analysed sites.
func (e *Exporter) Export(ctx context.Context, h *hierarchy.Index, r *callgraph.Result) (Stats, error) {
	var stats Stats

	var classes, extends, implements []map[string]any
	for _, c := range h.Classes() {
		classes = append(classes, map[string]any{
			"name":      c.Name,
			"library":   c.Library,
			"interface": c.Interface,
			"abstract":  c.Abstract,
			"receivers": len(h.PossibleReceivers(c)),
		})
		if s := c.Superclass(); s != nil {
			extends = append(extends, map[string]any{"sub": c.Name, "super": s.Name})
		}
		for _, i := range c.ImplementedInterfaces() {
			implements = append(implements, map[string]any{"sub": c.Name, "super": i.Name})
		}
	}

	methods := make([]map[string]any, 0, len(r.Methods))
	for _, m := range r.Methods {
		methods = append(methods, map[string]any{
			"key":     m.Method.String(),
			"id":      int64(m.ID),
			"sig":     m.Method.Sig,
			"class":   m.Method.Class().Name,
			"library": m.ID.IsLibrary(),
		})
	}

	var calls []map[string]any
	for _, s := range r.Sites {
		for _, t := range s.Targets {
			calls = append(calls, map[string]any{
				"caller":    s.Caller.String(),
				"callee":    t.String(),
				"site":      s.ID.String(),
				"kind":      s.Call.Kind.String(),
				"receivers": s.Receivers,
				"text":      s.Call.String(),
			})
		}
	}

	steps := []struct {
		what  string
		query string
		rows  []map[string]any
		count *int
	}{
		{"classes", classQuery, classes, &stats.Classes},
		{"extends", extendsQuery, extends, &stats.Extends},
		{"implements", implementsQuery, implements, &stats.Implements},
		{"methods", methodQuery, methods, &stats.Methods},
		{"calls", callQuery, calls, &stats.Calls},
	}
	for _, st := range steps {
		slog.Debug("exporting", "what", st.what, "rows", len(st.rows))
		if err := e.batches(ctx, st.query, st.rows); err != nil {
			return stats, fmt.Errorf("export %s: %w", st.what, err)
		}
		*st.count = len(st.rows)
	}

	slog.Info("call graph exported",
		"classes", stats.Classes, "methods", stats.Methods, "calls", stats.Calls)
	return stats, nil
}

// batches runs query once per chunk of rows.
func (e *Exporter) batches(ctx context.Context, query string, rows []map[string]any) error {
	for start := 0; start < len(rows); start += e.batchSize {
		end := min(start+e.batchSize, len(rows))
		if err := e.run.Run(ctx, query, map[string]any{"batch": rows[start:end]}); err != nil {
			return err
		}
	}
	return nil
}
