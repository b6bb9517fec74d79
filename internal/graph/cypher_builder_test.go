package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMergeVertexParameterizesValues(t *testing.T) {
	b := NewCypherBuilder()
	query, err := b.BuildMergeVertex("Package", "libssl", map[string]any{
		"section": "libs'}) DETACH DELETE n //",
	})
	require.NoError(t, err)

	assert.Contains(t, query, "MERGE (n:Package {key: $p0})")
	assert.Contains(t, query, "n.section = $p1")
	assert.NotContains(t, query, "DETACH DELETE")
	assert.Equal(t, "libssl", b.Params()["p0"])
}

func TestBuildMergeVertexRejectsBadIdentifiers(t *testing.T) {
	_, err := NewCypherBuilder().BuildMergeVertex("Package) DETACH DELETE", "x", nil)
	assert.Error(t, err)

	_, err = NewCypherBuilder().BuildMergeVertex("Package", "x", map[string]any{"bad prop": 1})
	assert.Error(t, err)
}

func TestBuildMergeEdge(t *testing.T) {
	b := NewCypherBuilder()
	query, err := b.BuildMergeEdge("Package", "curl", "Package", "libssl", "DEPENDS_ON", map[string]any{
		"constraint": ">= 3.0",
	})
	require.NoError(t, err)

	assert.Contains(t, query, "MATCH (from:Package {key: $p0})")
	assert.Contains(t, query, "MATCH (to:Package {key: $p1})")
	assert.Contains(t, query, "MERGE (from)-[r:DEPENDS_ON]->(to)")
	assert.Contains(t, query, "r.constraint = $p2")
	assert.Equal(t, "curl", b.Params()["p0"])
	assert.Equal(t, "libssl", b.Params()["p1"])
}

func TestBuildMergeEdgeRejectsBadLabel(t *testing.T) {
	_, err := NewCypherBuilder().BuildMergeEdge("Package", "a", "Package", "b", "DEPENDS ON", nil)
	assert.Error(t, err)
}
