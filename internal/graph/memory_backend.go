package graph

import (
	"context"
	"sync"
)

type edgeIdentity struct {
	Label     string
	FromLabel string
	FromKey   string
	ToLabel   string
	ToKey     string
}

// MemoryBackend is an in-memory Backend with the same merge semantics as
// the Neo4j implementation. Used in tests and for dry runs.
type MemoryBackend struct {
	mu       sync.Mutex
	vertices map[string]map[string]map[string]any // label -> key -> properties
	edges    map[edgeIdentity]map[string]any

	failures []error
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		vertices: make(map[string]map[string]map[string]any),
		edges:    make(map[edgeIdentity]map[string]any),
	}
}

// FailWith queues errors returned by subsequent ApplyBatch calls, one per
// call, before any state changes. Used to exercise retry behavior.
func (m *MemoryBackend) FailWith(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// ApplyBatch merges all vertices, then all edges. A queued failure is
// returned before anything is applied, matching the all-or-nothing
// transaction scope of the real backend.
func (m *MemoryBackend) ApplyBatch(ctx context.Context, batch Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}

	for _, v := range batch.Vertices {
		byKey := m.vertices[v.Label]
		if byKey == nil {
			byKey = make(map[string]map[string]any)
			m.vertices[v.Label] = byKey
		}
		props := byKey[v.Key]
		if props == nil {
			props = make(map[string]any)
			byKey[v.Key] = props
		}
		for k, val := range v.Properties {
			props[k] = val
		}
		props[KeyProperty] = v.Key
	}

	for _, e := range batch.Edges {
		id := edgeIdentity{e.Label, e.FromLabel, e.FromKey, e.ToLabel, e.ToKey}
		props := m.edges[id]
		if props == nil {
			props = make(map[string]any)
			m.edges[id] = props
		}
		for k, val := range e.Properties {
			props[k] = val
		}
	}
	return nil
}

func (m *MemoryBackend) HasVertex(ctx context.Context, label, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.vertices[label][key]
	return ok, nil
}

func (m *MemoryBackend) DependencyPairs(ctx context.Context, edgeLabels []string) ([]KeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]bool, len(edgeLabels))
	for _, l := range edgeLabels {
		wanted[l] = true
	}
	var pairs []KeyPair
	for id := range m.edges {
		if wanted[id.Label] {
			pairs = append(pairs, KeyPair{From: id.FromKey, To: id.ToKey})
		}
	}
	return pairs, nil
}

func (m *MemoryBackend) Close(ctx context.Context) error {
	return nil
}

// VertexCount returns the number of stored vertices with the label.
func (m *MemoryBackend) VertexCount(label string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vertices[label])
}

// EdgeCount returns the total number of stored edges.
func (m *MemoryBackend) EdgeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.edges)
}

// VertexProperties returns a copy of a vertex's properties, or nil when the
// vertex does not exist.
func (m *MemoryBackend) VertexProperties(label, key string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	props, ok := m.vertices[label][key]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// HasEdge reports whether a specific edge exists.
func (m *MemoryBackend) HasEdge(label, fromLabel, fromKey, toLabel, toKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.edges[edgeIdentity{label, fromLabel, fromKey, toLabel, toKey}]
	return ok
}

// EdgeProperties returns a copy of an edge's properties, or nil when the
// edge does not exist.
func (m *MemoryBackend) EdgeProperties(label, fromLabel, fromKey, toLabel, toKey string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	props, ok := m.edges[edgeIdentity{label, fromLabel, fromKey, toLabel, toKey}]
	if !ok {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}
