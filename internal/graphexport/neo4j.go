// Package graphexport loads a class hierarchy and call graph into Neo4j.
//
// Classes become ChaClass nodes, reachable methods ChaMethod nodes. EXTENDS
// and IMPLEMENTS link classes, DECLARES links a class to its methods and
// CALLS links a caller to each target of one of its call sites.
package graphexport

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Runner executes one Cypher statement.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

// Neo4jRunner runs statements on a Neo4j server.
type Neo4jRunner struct {
	driver neo4j.DriverWithContext
}

// Dial connects to Neo4j and verifies the connection.
func Dial(ctx context.Context, uri, user, password string) (*Neo4jRunner, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connect to neo4j at %s: %w", uri, err)
	}
	return &Neo4jRunner{driver: driver}, nil
}

// Run executes cypher with params and discards the result.
func (r *Neo4jRunner) Run(ctx context.Context, cypher string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params, neo4j.EagerResultTransformer)
	return err
}

// Close releases the driver.
func (r *Neo4jRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}
