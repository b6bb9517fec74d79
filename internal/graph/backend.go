package graph

import (
	"context"
)

// KeyProperty is the vertex property every upsert merges on. It holds the
// canonical identity key assigned during resolution and is immutable.
const KeyProperty = "key"

// Vertex is one graph node to upsert. Properties always include KeyProperty.
type Vertex struct {
	Label      string
	Key        string
	Properties map[string]any
}

// Edge is one typed relationship to upsert between two vertices addressed
// by label and canonical key.
type Edge struct {
	Label      string
	FromLabel  string
	FromKey    string
	ToLabel    string
	ToKey      string
	Properties map[string]any
}

// Batch is the unit of commit: all vertices are applied before any edge,
// inside one transaction scope.
type Batch struct {
	Vertices []Vertex
	Edges    []Edge
}

// KeyPair is one directed dependency between two canonical keys, used for
// commit-time cycle checking.
type KeyPair struct {
	From string
	To   string
}

// Backend is the storage collaborator. Implementations must make ApplyBatch
// idempotent (MERGE semantics) and atomic: a failed batch leaves the store
// at its prior state.
type Backend interface {
	ApplyBatch(ctx context.Context, batch Batch) error
	HasVertex(ctx context.Context, label, key string) (bool, error)
	DependencyPairs(ctx context.Context, edgeLabels []string) ([]KeyPair, error)
	Close(ctx context.Context) error
}
