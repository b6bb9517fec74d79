package normalize

import (
	"log/slog"
	"strings"

	"github.com/pkgraph/pkgraph-go/internal/models"
	"github.com/pkgraph/pkgraph-go/internal/relation"
	"github.com/pkgraph/pkgraph-go/internal/schema"
)

// Normalizer converts raw source records into canonical entity descriptors,
// driven entirely by the mapping specification.
type Normalizer struct {
	schema *schema.Schema
	logger *slog.Logger
}

// New creates a normalizer bound to a validated schema.
func New(s *schema.Schema) *Normalizer {
	return &Normalizer{
		schema: s,
		logger: slog.Default().With("component", "normalizer"),
	}
}

// Normalize maps one raw record to its primary entity plus any entities
// derived through materializing edge rules (e.g. the maintainer embedded in
// a package-index record). Identity key derivation is a pure function of
// the record's declared identity fields; a missing or empty identity field
// yields a MalformedRecordError and the record is skipped, never the batch.
func (n *Normalizer) Normalize(rec models.RawRecord) (models.Entity, []models.Entity, error) {
	src, err := n.schema.Source(rec.SourceType)
	if err != nil {
		return models.Entity{}, nil, err
	}

	key, err := src.IdentityKey(rec)
	if err != nil {
		return models.Entity{}, nil, err
	}

	props := make(map[string]any, len(src.Properties))
	for prop, path := range src.Properties {
		if v, ok := models.Lookup(rec.Fields, path); ok && v != nil {
			props[prop] = v
		}
	}

	primary := models.Entity{
		Type:        models.EntityType(src.Entity),
		IdentityKey: key,
		Properties:  props,
		Aliases:     aliasValues(src.AliasFields, rec.Fields),
		ObservedAt:  rec.ObservedAt,
		Provenance: models.Provenance{
			SourceType: rec.SourceType,
			RecordKey:  key,
			ObservedAt: rec.ObservedAt,
		},
	}

	derived := n.materialize(src, rec, key)
	return primary, derived, nil
}

// materialize emits derived entities for edge rules flagged materialize,
// so that vertices embedded in another record's fields (maintainer contacts)
// still enter identity resolution like first-class observations.
func (n *Normalizer) materialize(src *schema.SourceMapping, rec models.RawRecord, primaryKey string) []models.Entity {
	var out []models.Entity
	for _, rule := range src.Edges {
		if !rule.Materialize {
			continue
		}
		raw, ok := models.Lookup(rec.Fields, rule.Field)
		if !ok {
			continue
		}
		for _, c := range relation.ParseContactField(raw) {
			key := c.Key()
			if key == "" {
				continue
			}
			props := map[string]any{"role": c.Role()}
			if c.Name != "" {
				props["display_name"] = c.Name
			}
			aliases := []string{key}
			if c.Name != "" && c.Name != key {
				aliases = append(aliases, c.Name)
			}
			out = append(out, models.Entity{
				Type:        models.EntityType(rule.Target),
				IdentityKey: key,
				Properties:  props,
				Aliases:     aliases,
				ObservedAt:  rec.ObservedAt,
				Provenance: models.Provenance{
					SourceType: rec.SourceType,
					RecordKey:  primaryKey,
					ObservedAt: rec.ObservedAt,
				},
			})
		}
	}
	return out
}

func aliasValues(fields []string, payload map[string]any) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, f := range fields {
		v, ok := models.Lookup(payload, f)
		if !ok {
			continue
		}
		switch val := v.(type) {
		case string:
			add(val)
		case []any:
			for _, item := range val {
				if s, ok := item.(string); ok {
					add(s)
				}
			}
		case []string:
			for _, s := range val {
				add(s)
			}
		}
	}
	return out
}

// RecordHint extracts a best-effort identifier from a record for the run
// summary's skip list, trying common identity fields.
func RecordHint(rec models.RawRecord) string {
	for _, f := range []string{"name", "package", "bug_number", "email"} {
		if v, ok := models.Lookup(rec.Fields, f); ok {
			if s := schema.KeyString(v); s != "" {
				return s
			}
		}
	}
	return ""
}
