package graph

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"time"

	pkgerrors "github.com/pkgraph/pkgraph-go/internal/errors"
	"github.com/pkgraph/pkgraph-go/internal/history"
	"github.com/pkgraph/pkgraph-go/internal/models"
)

// Assembler applies one batch of resolved entities and candidate edges to
// the storage collaborator. It enforces the commit-time invariants: no
// dangling edge endpoints, no dependency cycles, vertices before edges,
// one transaction scope per batch. Offending edges are rejected
// individually; the rest of the batch still commits.
type Assembler struct {
	backend Backend
	history *history.Store
	logger  *slog.Logger
}

// Input is the final entity and edge set for one batch.
type Input struct {
	Entities []models.ResolvedEntity
	Edges    []models.CandidateEdge
}

// CommitReport summarizes what one Commit did.
type CommitReport struct {
	VerticesCreated int
	VerticesUpdated int
	EdgesCreated    int
	Rejected        []models.RejectedEdge
}

// NewAssembler creates an assembler writing through backend, with hist as
// the version-history arena.
func NewAssembler(backend Backend, hist *history.Store) *Assembler {
	return &Assembler{
		backend: backend,
		history: hist,
		logger:  slog.Default().With("component", "assembler"),
	}
}

// History exposes the version-history arena the assembler writes through.
// The resolver reads prior alias assignments from the same store.
func (a *Assembler) History() *history.Store {
	return a.history
}

// Commit upserts the batch. Vertex upserts are prepared first, then every
// candidate edge passes the dangling-reference and cycle checks; everything
// that survives is applied in a single backend transaction. A returned
// error means nothing was committed.
func (a *Assembler) Commit(ctx context.Context, in Input) (*CommitReport, error) {
	report := &CommitReport{}

	entities := make([]models.ResolvedEntity, len(in.Entities))
	copy(entities, in.Entities)
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].Type != entities[j].Type {
			return entities[i].Type < entities[j].Type
		}
		return entities[i].CanonicalKey < entities[j].CanonicalKey
	})

	var batch Batch
	staged := make(map[string]map[string]bool) // label -> key -> staged in this batch

	stage := func(v Vertex) {
		byKey := staged[v.Label]
		if byKey == nil {
			byKey = make(map[string]bool)
			staged[v.Label] = byKey
		}
		if byKey[v.Key] {
			return
		}
		byKey[v.Key] = true
		batch.Vertices = append(batch.Vertices, v)
	}

	for _, e := range entities {
		version := ""
		if e.Type == models.EntityPackage {
			if v, ok := e.Properties["version"].(string); ok {
				version = v
			}
		}

		change, err := a.history.Record(string(e.Type), e.CanonicalKey, version, e.Properties, e.ObservedAt)
		if err != nil {
			return nil, err
		}
		if change.New {
			report.VerticesCreated++
		} else if change.Updated {
			report.VerticesUpdated++
		}

		stage(Vertex{
			Label:      string(e.Type),
			Key:        e.CanonicalKey,
			Properties: vertexProperties(e),
		})

		if e.Type == models.EntityPackage && version != "" {
			versionKey := models.VersionKey(e.CanonicalKey, version)
			stage(Vertex{
				Label: string(models.EntityPackageVersion),
				Key:   versionKey,
				Properties: map[string]any{
					"package": e.CanonicalKey,
					"version": version,
				},
			})
			if change.New || change.PrevVersion != "" {
				report.VerticesCreated++
			}
			if change.PrevVersion != "" {
				prevKey := models.VersionKey(e.CanonicalKey, change.PrevVersion)
				stage(Vertex{
					Label: string(models.EntityPackageVersion),
					Key:   prevKey,
					Properties: map[string]any{
						"package": e.CanonicalKey,
						"version": change.PrevVersion,
					},
				})
				batch.Edges = append(batch.Edges, Edge{
					Label:     string(models.EdgeSupersedes),
					FromLabel: string(models.EntityPackageVersion),
					FromKey:   versionKey,
					ToLabel:   string(models.EntityPackageVersion),
					ToKey:     prevKey,
				})
				report.EdgesCreated++
			}
		}
	}

	edges := dedupeEdges(in.Edges)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Label != edges[j].Label {
			return edges[i].Label < edges[j].Label
		}
		if edges[i].FromKey != edges[j].FromKey {
			return edges[i].FromKey < edges[j].FromKey
		}
		return edges[i].ToKey < edges[j].ToKey
	})

	var checker *cycleChecker
	exists := func(label, key string) (bool, error) {
		if staged[label][key] {
			return true, nil
		}
		return a.backend.HasVertex(ctx, label, key)
	}

	for _, ce := range edges {
		ok, err := a.checkEndpoints(ctx, ce, exists, stage)
		if err != nil {
			return nil, err
		}
		if !ok {
			verr := pkgerrors.InvariantViolationErrorf("dangling reference: %s %s:%s -> %s:%s has a missing endpoint",
				ce.Label, ce.FromType, ce.FromKey, ce.ToType, ce.ToKey)
			report.Rejected = append(report.Rejected, models.RejectedEdge{
				Edge:   ce,
				Reason: pkgerrors.Classified(verr),
			})
			continue
		}

		if ce.Label.Acyclic() {
			if checker == nil {
				pairs, err := a.backend.DependencyPairs(ctx, acyclicLabels())
				if err != nil {
					return nil, err
				}
				checker = newCycleChecker(pairs)
			}
			if checker.wouldCycle(ce.FromKey, ce.ToKey) {
				verr := pkgerrors.InvariantViolationErrorf("dependency cycle: %s -> %s while %s already reaches %s",
					ce.FromKey, ce.ToKey, ce.ToKey, ce.FromKey)
				reason := pkgerrors.Classified(verr)
				a.logger.Warn("rejecting edge", "label", ce.Label, "from", ce.FromKey, "to", ce.ToKey, "reason", reason)
				report.Rejected = append(report.Rejected, models.RejectedEdge{Edge: ce, Reason: reason})
				continue
			}
			checker.add(ce.FromKey, ce.ToKey)
		}

		batch.Edges = append(batch.Edges, Edge{
			Label:      string(ce.Label),
			FromLabel:  string(ce.FromType),
			FromKey:    ce.FromKey,
			ToLabel:    string(ce.ToType),
			ToKey:      ce.ToKey,
			Properties: ce.Properties,
		})
		report.EdgesCreated++
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := a.backend.ApplyBatch(ctx, batch); err != nil {
		return nil, err
	}

	// alias assignments persist only for batches that reached the graph
	for _, e := range entities {
		if err := a.history.RecordAliases(string(e.Type), e.CanonicalKey, e.Aliases); err != nil {
			return nil, err
		}
	}

	a.logger.Info("batch committed",
		"vertices", len(batch.Vertices),
		"edges", len(batch.Edges),
		"rejected", len(report.Rejected))
	return report, nil
}

// MarkUnobserved stamps every known entity of the type absent from the
// batch with an unobserved marker, for sources that deliver full snapshots.
func (a *Assembler) MarkUnobserved(entityType models.EntityType, in Input, asOf time.Time) ([]string, error) {
	seen := make(map[string]bool)
	for _, e := range in.Entities {
		if e.Type == entityType {
			seen[e.CanonicalKey] = true
		}
	}
	return a.history.MarkUnobserved(string(entityType), seen, asOf)
}

// checkEndpoints verifies both endpoints resolve to a vertex. A missing
// PackageVersion target whose base package exists is synthesized on the
// spot: fix versions frequently predate the current package snapshot.
func (a *Assembler) checkEndpoints(ctx context.Context, ce models.CandidateEdge, exists func(string, string) (bool, error), stage func(Vertex)) (bool, error) {
	fromOK, err := exists(string(ce.FromType), ce.FromKey)
	if err != nil {
		return false, err
	}
	toOK, err := exists(string(ce.ToType), ce.ToKey)
	if err != nil {
		return false, err
	}

	if !toOK && ce.ToType == models.EntityPackageVersion {
		pkg, version, ok := splitVersionKey(ce.ToKey)
		if ok {
			pkgOK, err := exists(string(models.EntityPackage), pkg)
			if err != nil {
				return false, err
			}
			if pkgOK {
				stage(Vertex{
					Label: string(models.EntityPackageVersion),
					Key:   ce.ToKey,
					Properties: map[string]any{
						"package": pkg,
						"version": version,
					},
				})
				toOK = true
			}
		}
	}

	return fromOK && toOK, nil
}

// vertexProperties flattens a resolved entity into storable vertex
// properties. AlsoSeen is kept as a JSON blob; property values themselves
// stay primitive.
func vertexProperties(e models.ResolvedEntity) map[string]any {
	props := make(map[string]any, len(e.Properties)+4)
	for k, v := range e.Properties {
		props[k] = v
	}
	if len(e.Aliases) > 0 {
		props["aliases"] = e.Aliases
	}
	if len(e.AlsoSeen) > 0 {
		if raw, err := json.Marshal(e.AlsoSeen); err == nil {
			props["also_seen"] = string(raw)
		}
	}
	sources := make([]string, 0, len(e.Provenance))
	seen := make(map[string]bool)
	for _, p := range e.Provenance {
		if !seen[p.SourceType] {
			seen[p.SourceType] = true
			sources = append(sources, p.SourceType)
		}
	}
	sort.Strings(sources)
	if len(sources) > 0 {
		props["sources"] = sources
	}
	props["last_observed"] = e.ObservedAt.UTC().Format(time.RFC3339)
	return props
}

func dedupeEdges(edges []models.CandidateEdge) []models.CandidateEdge {
	type identity struct {
		Label    models.EdgeLabel
		FromType models.EntityType
		FromKey  string
		ToType   models.EntityType
		ToKey    string
	}
	seen := make(map[identity]bool, len(edges))
	out := make([]models.CandidateEdge, 0, len(edges))
	for _, e := range edges {
		id := identity{e.Label, e.FromType, e.FromKey, e.ToType, e.ToKey}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, e)
	}
	return out
}

func acyclicLabels() []string {
	return []string{string(models.EdgeDependsOn), string(models.EdgePreDepends)}
}

func splitVersionKey(key string) (pkg, version string, ok bool) {
	i := strings.LastIndex(key, "@")
	if i <= 0 || i == len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
