package resolve

import (
	"log/slog"
	"reflect"
	"sort"

	"github.com/pkgraph/pkgraph-go/internal/models"
	"github.com/pkgraph/pkgraph-go/internal/schema"
)

// MergePolicy decides which value wins when sources disagree on a scalar
// attribute. The losing value is kept in the entity's also-seen list either
// way. Configurable because the sources carry no authoritative precedence.
type MergePolicy string

const (
	// LastWriterWins prefers the freshest observation by source timestamp.
	LastWriterWins MergePolicy = "last-writer-wins"
	// FirstWriterWins keeps the earliest observed value.
	FirstWriterWins MergePolicy = "first-writer-wins"
)

// Directory is the persistent record of alias-to-canonical-key assignments
// from earlier runs. Canonical keys are immutable once assigned, so the
// resolver must consult prior assignments before minting a key; otherwise an
// entity merged in one batch and re-observed alone in the next would come
// back under a different key and split into a duplicate vertex.
type Directory interface {
	AliasOwners(entityType string, aliases []string) (map[string]string, error)
}

// Resolver partitions normalized entities into equivalence classes under
// the schema's declared resolution rules and emits one merged entity per
// class, retaining alias unions and provenance.
type Resolver struct {
	schema    *schema.Schema
	policy    MergePolicy
	directory Directory
	logger    *slog.Logger
}

// New creates a resolver. An empty policy defaults to last-writer-wins. A
// nil directory limits resolution to the current batch.
func New(s *schema.Schema, policy MergePolicy, directory Directory) *Resolver {
	if policy == "" {
		policy = LastWriterWins
	}
	return &Resolver{
		schema:    s,
		policy:    policy,
		directory: directory,
		logger:    slog.Default().With("component", "resolver"),
	}
}

// Resolve merges all entities of one type observed in the current cycle.
// Entities always merge on equal identity keys; the alias-overlap strategy
// additionally merges classes sharing any alias, current or previously
// recorded in the directory. No declared rule means no cross-key merging.
// The whole stream must be present before calling: resolution requires a
// full view of the batch.
func (r *Resolver) Resolve(t models.EntityType, entities []models.Entity) ([]models.ResolvedEntity, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	uf := newUnionFind(len(entities))

	byKey := make(map[string]int)
	for i, e := range entities {
		if j, ok := byKey[e.IdentityKey]; ok {
			uf.union(i, j)
		} else {
			byKey[e.IdentityKey] = i
		}
	}

	var owners map[string]string
	if r.schema.MatchStrategy(t) == schema.MatchAliasOverlap {
		var err error
		owners, err = r.priorOwners(t, entities)
		if err != nil {
			return nil, err
		}

		byAlias := make(map[string]int)
		link := func(i int, token string) {
			if token == "" {
				return
			}
			if j, ok := byAlias[token]; ok {
				uf.union(i, j)
			} else {
				byAlias[token] = i
			}
		}
		for i, e := range entities {
			for _, alias := range e.Aliases {
				link(i, alias)
			}
			// an alias assigned to a canonical key in an earlier batch
			// links this entity to everything sharing that key
			for _, token := range append([]string{e.IdentityKey}, e.Aliases...) {
				if owner, ok := owners[token]; ok {
					link(i, owner)
				}
			}
		}
	}

	classes := make(map[int][]models.Entity)
	for i, e := range entities {
		root := uf.find(i)
		classes[root] = append(classes[root], e)
	}

	out := make([]models.ResolvedEntity, 0, len(classes))
	for _, members := range classes {
		out = append(out, r.merge(t, members, owners))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalKey < out[j].CanonicalKey })

	r.logger.Debug("resolved entity stream",
		"entity_type", t,
		"observations", len(entities),
		"resolved", len(out),
	)
	return out, nil
}

// priorOwners fetches the recorded canonical key for every identity key and
// alias present in the batch. Without a directory resolution is batch-local.
func (r *Resolver) priorOwners(t models.EntityType, entities []models.Entity) (map[string]string, error) {
	if r.directory == nil {
		return nil, nil
	}
	seen := make(map[string]bool)
	var all []string
	for _, e := range entities {
		for _, token := range append([]string{e.IdentityKey}, e.Aliases...) {
			if token != "" && !seen[token] {
				seen[token] = true
				all = append(all, token)
			}
		}
	}
	return r.directory.AliasOwners(string(t), all)
}

// merge collapses one equivalence class into a single entity. The apply
// order is deterministic (timestamp, then source, then key) so the outcome
// is independent of record arrival order.
func (r *Resolver) merge(t models.EntityType, members []models.Entity, owners map[string]string) models.ResolvedEntity {
	sort.Slice(members, func(i, j int) bool {
		a, b := members[i], members[j]
		if !a.ObservedAt.Equal(b.ObservedAt) {
			return a.ObservedAt.Before(b.ObservedAt)
		}
		if a.Provenance.SourceType != b.Provenance.SourceType {
			return a.Provenance.SourceType < b.Provenance.SourceType
		}
		return a.IdentityKey < b.IdentityKey
	})

	merged := models.ResolvedEntity{
		Type:         t,
		CanonicalKey: canonicalKey(members, owners),
		Properties:   make(map[string]any),
		AlsoSeen:     make(map[string][]any),
		ObservedAt:   members[len(members)-1].ObservedAt,
	}

	aliasSeen := map[string]bool{}
	provSeen := map[models.Provenance]bool{}

	for _, m := range members {
		for prop, value := range m.Properties {
			prev, exists := merged.Properties[prop]
			switch {
			case !exists:
				merged.Properties[prop] = value
			case reflect.DeepEqual(prev, value):
				// same observation, nothing to record
			case r.policy == FirstWriterWins:
				merged.AlsoSeen[prop] = appendSeen(merged.AlsoSeen[prop], value)
			default:
				merged.AlsoSeen[prop] = appendSeen(merged.AlsoSeen[prop], prev)
				merged.Properties[prop] = value
			}
		}

		for _, alias := range append([]string{m.IdentityKey}, m.Aliases...) {
			if alias != "" && !aliasSeen[alias] {
				aliasSeen[alias] = true
				merged.Aliases = append(merged.Aliases, alias)
			}
		}

		if !provSeen[m.Provenance] {
			provSeen[m.Provenance] = true
			merged.Provenance = append(merged.Provenance, m.Provenance)
		}
	}

	if !aliasSeen[merged.CanonicalKey] {
		merged.Aliases = append(merged.Aliases, merged.CanonicalKey)
	}
	sort.Strings(merged.Aliases)
	if len(merged.AlsoSeen) == 0 {
		merged.AlsoSeen = nil
	}
	return merged
}

// canonicalKey picks the class representative. A canonical key recorded for
// any member alias in an earlier batch wins outright: once assigned, the
// key must not move. Failing that, the lexicographically smallest member
// key, deterministic regardless of arrival order.
func canonicalKey(members []models.Entity, owners map[string]string) string {
	prior := ""
	for _, m := range members {
		for _, token := range append([]string{m.IdentityKey}, m.Aliases...) {
			if owner, ok := owners[token]; ok && (prior == "" || owner < prior) {
				prior = owner
			}
		}
	}
	if prior != "" {
		return prior
	}

	key := members[0].IdentityKey
	for _, m := range members[1:] {
		if m.IdentityKey < key {
			key = m.IdentityKey
		}
	}
	return key
}

func appendSeen(seen []any, value any) []any {
	for _, v := range seen {
		if reflect.DeepEqual(v, value) {
			return seen
		}
	}
	return append(seen, value)
}
