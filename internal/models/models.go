package models

import (
	"strings"
	"time"
)

// EntityType identifies one of the core vertex types in the knowledge graph.
type EntityType string

const (
	EntityPackage    EntityType = "Package"
	EntityMaintainer EntityType = "Maintainer"
	EntityBug        EntityType = "Bug"

	// PackageVersion vertices are derived by the assembler, never normalized
	// directly from a source record. They anchor FIXED_BY and SUPERSEDES edges.
	EntityPackageVersion EntityType = "PackageVersion"
)

// EdgeLabel identifies a typed, directed edge kind.
type EdgeLabel string

const (
	EdgeDependsOn  EdgeLabel = "DEPENDS_ON"
	EdgePreDepends EdgeLabel = "PRE_DEPENDS"
	EdgeRecommends EdgeLabel = "RECOMMENDS"
	EdgeSuggests   EdgeLabel = "SUGGESTS"
	EdgeMaintains  EdgeLabel = "MAINTAINS"
	EdgeReportedOn EdgeLabel = "REPORTED_ON"
	EdgeFixedBy    EdgeLabel = "FIXED_BY"
	EdgeSupersedes EdgeLabel = "SUPERSEDES"
)

// Acyclic reports whether edges of this label participate in the
// dependency-cycle invariant. Only hard dependencies do; Recommends and
// Suggests may legitimately form cycles in real package indexes.
func (l EdgeLabel) Acyclic() bool {
	return l == EdgeDependsOn || l == EdgePreDepends
}

// RawRecord is one observation handed over by an external fetcher.
// Fields is a plain nested key/value payload; SourceType names the
// schema mapping entry that applies to it.
type RawRecord struct {
	SourceType string         `json:"source_type"`
	ObservedAt time.Time      `json:"observed_at"`
	Fields     map[string]any `json:"fields"`
}

// Lookup resolves a dotted path ("dependencies.depends") inside a nested
// record payload. Returns false when any segment is missing or not a map.
func Lookup(fields map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur any = fields
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Provenance records which source observation contributed to an entity.
type Provenance struct {
	SourceType string    `json:"source_type"`
	RecordKey  string    `json:"record_key"`
	ObservedAt time.Time `json:"observed_at"`
}

// Entity is the canonical descriptor produced by the normalizer for one
// raw record: a typed vertex candidate with a stable identity key.
type Entity struct {
	Type        EntityType     `json:"type"`
	IdentityKey string         `json:"identity_key"`
	Properties  map[string]any `json:"properties"`
	Aliases     []string       `json:"aliases,omitempty"`
	ObservedAt  time.Time      `json:"observed_at"`
	Provenance  Provenance     `json:"provenance"`
}

// ResolvedEntity is one merged entity per equivalence class emitted by the
// identity resolver. CanonicalKey is immutable once assigned; AlsoSeen keeps
// losing values of conflicting scalar attributes instead of discarding them.
type ResolvedEntity struct {
	Type         EntityType       `json:"type"`
	CanonicalKey string           `json:"canonical_key"`
	Properties   map[string]any   `json:"properties"`
	Aliases      []string         `json:"aliases,omitempty"`
	AlsoSeen     map[string][]any `json:"also_seen,omitempty"`
	Provenance   []Provenance     `json:"provenance"`
	ObservedAt   time.Time        `json:"observed_at"` // freshest contributing observation
}

// CandidateEdge is a typed edge derived by the relation extractor, expressed
// in terms of entity identity keys. Endpoints are validated by the assembler
// before anything reaches the storage collaborator.
type CandidateEdge struct {
	Label      EdgeLabel      `json:"label"`
	FromType   EntityType     `json:"from_type"`
	FromKey    string         `json:"from_key"`
	ToType     EntityType     `json:"to_type"`
	ToKey      string         `json:"to_key"`
	Properties map[string]any `json:"properties,omitempty"`
}

// SkippedRecord is a record-level failure preserved in the run summary.
type SkippedRecord struct {
	SourceType string `json:"source_type"`
	RecordHint string `json:"record_hint"` // best-effort identity hint for diagnostics
	Reason     string `json:"reason"`
}

// RejectedEdge is an edge-level invariant failure preserved in the run summary.
type RejectedEdge struct {
	Edge   CandidateEdge `json:"edge"`
	Reason string        `json:"reason"`
}

// Summary is the structured report returned by every pipeline run.
type Summary struct {
	RunID           string          `json:"run_id"`
	StartedAt       time.Time       `json:"started_at"`
	Duration        time.Duration   `json:"duration"`
	VerticesCreated int             `json:"vertices_created"`
	VerticesUpdated int             `json:"vertices_updated"`
	EdgesCreated    int             `json:"edges_created"`
	EdgesRejected   int             `json:"edges_rejected"`
	Skipped         []SkippedRecord `json:"skipped,omitempty"`
	Rejected        []RejectedEdge  `json:"rejected,omitempty"`
}

// VersionKey builds the identity key of a PackageVersion vertex.
func VersionKey(pkg, version string) string {
	return pkg + "@" + version
}
