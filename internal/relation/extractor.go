package relation

import (
	"log/slog"

	"github.com/pkgraph/pkgraph-go/internal/models"
	"github.com/pkgraph/pkgraph-go/internal/resolve"
	"github.com/pkgraph/pkgraph-go/internal/schema"
)

// Extractor derives candidate edges from raw records by applying the
// schema's declared join rules against the resolved entity index. It runs
// strictly after identity resolution has completed for the whole cycle:
// extraction never binds an edge to a not-yet-resolved vertex.
type Extractor struct {
	schema *schema.Schema
	logger *slog.Logger
}

// NewExtractor creates an extractor bound to a validated schema.
func NewExtractor(s *schema.Schema) *Extractor {
	return &Extractor{
		schema: s,
		logger: slog.Default().With("component", "extractor"),
	}
}

// Result splits extraction output into edges whose endpoints resolved and
// edges deferred because their target is not (yet) in the index. Deferred
// edges are retried with Retry once every batch of the cycle has been
// through resolution; what remains after that is handed to the assembler,
// which may still bind it to a vertex already present in the graph.
type Result struct {
	Edges    []models.CandidateEdge
	Deferred []models.CandidateEdge
}

// Extract applies all edge rules to a batch of raw records. Records whose
// identity cannot be derived are silently skipped here; the normalizer
// already reported them to the run summary.
func (x *Extractor) Extract(records []models.RawRecord, ix *resolve.Index) Result {
	var res Result
	for _, rec := range records {
		src, err := x.schema.Source(rec.SourceType)
		if err != nil {
			continue
		}
		rawKey, err := src.IdentityKey(rec)
		if err != nil {
			continue
		}

		fromType := models.EntityType(src.Entity)
		fromKey, ok := ix.Canonical(fromType, rawKey)
		if !ok {
			// the record's own entity never resolved, nothing to anchor on
			continue
		}

		for _, rule := range src.Edges {
			x.applyRule(rule, rec, fromType, fromKey, ix, &res)
		}
	}

	x.logger.Debug("extracted candidate edges",
		"records", len(records),
		"edges", len(res.Edges),
		"deferred", len(res.Deferred),
	)
	return res
}

// Retry re-resolves deferred edges once the full cycle's index is known.
// Both endpoints are mapped through the index; PackageVersion endpoints are
// derived vertices and left to the assembler's reference check.
func (x *Extractor) Retry(deferred []models.CandidateEdge, ix *resolve.Index) Result {
	var res Result
	for _, e := range deferred {
		fromKey, fromOK := canonicalOrDerived(ix, e.FromType, e.FromKey)
		toKey, toOK := canonicalOrDerived(ix, e.ToType, e.ToKey)
		if fromOK && toOK {
			e.FromKey, e.ToKey = fromKey, toKey
			res.Edges = append(res.Edges, e)
		} else {
			res.Deferred = append(res.Deferred, e)
		}
	}
	return res
}

func canonicalOrDerived(ix *resolve.Index, t models.EntityType, key string) (string, bool) {
	if canonical, ok := ix.Canonical(t, key); ok {
		return canonical, true
	}
	if t == models.EntityPackageVersion {
		return key, true
	}
	return key, false
}

func (x *Extractor) applyRule(rule *schema.EdgeRule, rec models.RawRecord,
	fromType models.EntityType, fromKey string, ix *resolve.Index, res *Result) {

	raw, ok := models.Lookup(rec.Fields, rule.Field)
	if !ok || raw == nil {
		return
	}
	if !guardsHold(rule.When, rec) {
		return
	}

	label := models.EdgeLabel(rule.Label)
	targetType := models.EntityType(rule.Target)

	emit := func(toKey string, props map[string]any) {
		if toKey == "" || (targetType == fromType && toKey == fromKey) {
			return // self-dependencies carry no information
		}
		edge := models.CandidateEdge{
			Label:      label,
			FromType:   fromType,
			FromKey:    fromKey,
			ToType:     targetType,
			ToKey:      toKey,
			Properties: props,
		}
		if rule.Reverse {
			edge.FromType, edge.ToType = edge.ToType, edge.FromType
			edge.FromKey, edge.ToKey = edge.ToKey, edge.FromKey
		}

		// after reversal the "to" side is the one that must resolve
		resolveType, resolveKey := targetType, toKey
		if canonical, ok := ix.Canonical(resolveType, resolveKey); ok {
			if rule.Reverse {
				edge.FromKey = canonical
			} else {
				edge.ToKey = canonical
			}
			res.Edges = append(res.Edges, edge)
			return
		}
		if resolveType == models.EntityPackageVersion {
			// derived vertex, checked against the graph at assembly time
			res.Edges = append(res.Edges, edge)
			return
		}
		res.Deferred = append(res.Deferred, edge)
	}

	switch rule.Format {
	case schema.FormatRelations:
		fromVersion, _ := x.entityVersion(ix, fromType, fromKey)
		for _, dep := range ParseRelationField(raw) {
			props := map[string]any{}
			if fromVersion != "" {
				props["from_version"] = fromVersion
			}
			if dep.Constraint != "" {
				props["constraint"] = dep.Constraint
			}
			if len(dep.Alternatives) > 0 {
				props["alternatives"] = dep.Alternatives
			}
			emit(dep.Name, props)
		}

	case schema.FormatContact, schema.FormatContactList:
		for _, c := range ParseContactField(raw) {
			emit(c.Key(), map[string]any{"since": rec.ObservedAt.Unix()})
		}

	case schema.FormatPackageVersion:
		pkg := schema.KeyString(raw)
		versionRaw, ok := models.Lookup(rec.Fields, rule.VersionField)
		if !ok {
			return
		}
		version := schema.KeyString(versionRaw)
		if pkg == "" || version == "" {
			return
		}
		if canonical, ok := ix.Canonical(models.EntityPackage, pkg); ok {
			pkg = canonical
		}
		emit(models.VersionKey(pkg, version), map[string]any{"version": version})

	case schema.FormatList:
		if items, ok := raw.([]any); ok {
			for _, item := range items {
				emit(schema.KeyString(item), nil)
			}
		}

	default: // FormatScalar
		emit(schema.KeyString(raw), nil)
	}
}

// guardsHold checks the rule's when-clause: every named field must equal
// the declared value. FIXED_BY uses this to fire only on resolved bugs.
func guardsHold(when map[string]string, rec models.RawRecord) bool {
	for field, want := range when {
		v, ok := models.Lookup(rec.Fields, field)
		if !ok || schema.KeyString(v) != want {
			return false
		}
	}
	return true
}

func (x *Extractor) entityVersion(ix *resolve.Index, t models.EntityType, key string) (string, bool) {
	e, ok := ix.Get(t, key)
	if !ok {
		return "", false
	}
	v, ok := e.Properties["version"].(string)
	return v, ok
}
