package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	pkgerrors "github.com/pkgraph/pkgraph-go/internal/errors"
)

// Neo4jBackend implements Backend against a Neo4j database using
// parameterized Cypher. All writes for a batch run in one managed write
// transaction, so a failed batch leaves the graph untouched.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
}

// QueryWithParams pairs a Cypher query with its parameters.
type QueryWithParams struct {
	Query  string
	Params map[string]any
}

// NewNeo4jBackend connects to Neo4j and verifies connectivity.
func NewNeo4jBackend(ctx context.Context, uri, username, password, database string) (*Neo4jBackend, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, pkgerrors.StorageUnavailableError(err, "failed to create Neo4j driver")
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, pkgerrors.StorageUnavailableError(err, "failed to connect to Neo4j")
	}

	return &Neo4jBackend{
		driver:   driver,
		database: database,
	}, nil
}

// ApplyBatch upserts all vertices, then all edges, in a single write
// transaction.
func (n *Neo4jBackend) ApplyBatch(ctx context.Context, batch Batch) error {
	queries := make([]QueryWithParams, 0, len(batch.Vertices)+len(batch.Edges))

	for _, v := range batch.Vertices {
		builder := NewCypherBuilder()
		cypher, err := builder.BuildMergeVertex(v.Label, v.Key, v.Properties)
		if err != nil {
			return pkgerrors.InternalError(fmt.Sprintf("failed to build vertex query for %s:%s: %v", v.Label, v.Key, err))
		}
		queries = append(queries, QueryWithParams{Query: cypher, Params: builder.Params()})
	}

	for _, e := range batch.Edges {
		builder := NewCypherBuilder()
		cypher, err := builder.BuildMergeEdge(e.FromLabel, e.FromKey, e.ToLabel, e.ToKey, e.Label, e.Properties)
		if err != nil {
			return pkgerrors.InternalError(fmt.Sprintf("failed to build edge query %s: %v", e.Label, err))
		}
		queries = append(queries, QueryWithParams{Query: cypher, Params: builder.Params()})
	}

	return n.executeBatchWithParams(ctx, queries)
}

// executeBatchWithParams executes parameterized queries in one transaction.
func (n *Neo4jBackend) executeBatchWithParams(ctx context.Context, queries []QueryWithParams) error {
	session := n.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: n.database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for i, q := range queries {
			if _, err := tx.Run(ctx, q.Query, q.Params); err != nil {
				return nil, fmt.Errorf("batch query %d failed: %w", i, err)
			}
		}
		return nil, nil
	})
	if err != nil {
		return pkgerrors.StorageUnavailableError(err, "batch commit failed")
	}
	return nil
}

// HasVertex reports whether a vertex with the canonical key exists.
func (n *Neo4jBackend) HasVertex(ctx context.Context, label, key string) (bool, error) {
	if !isValidIdentifier(label) {
		return false, pkgerrors.InternalError(fmt.Sprintf("invalid vertex label: %s", label))
	}

	query := fmt.Sprintf("MATCH (n:%s {%s: $key}) RETURN count(n) AS count", label, KeyProperty)
	result, err := neo4j.ExecuteQuery(ctx, n.driver, query,
		map[string]any{"key": key},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return false, pkgerrors.StorageUnavailableError(err, "vertex lookup failed")
	}

	if len(result.Records) > 0 {
		if count, ok := result.Records[0].Get("count"); ok {
			if c, ok := count.(int64); ok {
				return c > 0, nil
			}
		}
	}
	return false, nil
}

// DependencyPairs returns every committed (from, to) canonical key pair
// connected by one of the given edge labels. Used for cycle checking.
func (n *Neo4jBackend) DependencyPairs(ctx context.Context, edgeLabels []string) ([]KeyPair, error) {
	query := fmt.Sprintf(
		"MATCH (a)-[r]->(b) WHERE type(r) IN $labels RETURN a.%s AS from_key, b.%s AS to_key",
		KeyProperty, KeyProperty)
	result, err := neo4j.ExecuteQuery(ctx, n.driver, query,
		map[string]any{"labels": edgeLabels},
		neo4j.EagerResultTransformer,
		neo4j.ExecuteQueryWithDatabase(n.database),
		neo4j.ExecuteQueryWithReadersRouting())
	if err != nil {
		return nil, pkgerrors.StorageUnavailableError(err, "dependency pair query failed")
	}

	pairs := make([]KeyPair, 0, len(result.Records))
	for _, rec := range result.Records {
		from, _ := rec.Get("from_key")
		to, _ := rec.Get("to_key")
		fromKey, fromOK := from.(string)
		toKey, toOK := to.(string)
		if fromOK && toOK {
			pairs = append(pairs, KeyPair{From: fromKey, To: toKey})
		}
	}
	return pairs, nil
}

// Close closes the Neo4j driver connection.
func (n *Neo4jBackend) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}
