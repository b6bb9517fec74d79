package relation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkgraph/pkgraph-go/internal/models"
	"github.com/pkgraph/pkgraph-go/internal/resolve"
	"github.com/pkgraph/pkgraph-go/internal/schema"
)

const testSpec = `
sources:
  package-index:
    entity: Package
    identity_fields: [name]
    properties:
      version: version
    edges:
      - label: DEPENDS_ON
        field: dependencies.depends
        target: Package
        format: relations
      - label: MAINTAINS
        field: maintainer
        target: Maintainer
        format: contact
        reverse: true
        materialize: true
  bug-tracker:
    entity: Bug
    identity_fields: [bug_number]
    properties:
      status: status
    edges:
      - label: REPORTED_ON
        field: package
        target: Package
      - label: FIXED_BY
        field: package
        target: PackageVersion
        format: package_version
        version_field: fixed_version
        when:
          status: done
resolution:
  Maintainer:
    match: alias-overlap
`

func testIndex(t *testing.T, entities ...models.ResolvedEntity) *resolve.Index {
	t.Helper()
	ix := resolve.NewIndex()
	ix.Add(entities)
	return ix
}

func resolvedPackage(name, version string) models.ResolvedEntity {
	return models.ResolvedEntity{
		Type:         models.EntityPackage,
		CanonicalKey: name,
		Properties:   map[string]any{"version": version},
		Aliases:      []string{name},
	}
}

func resolvedBug(number string) models.ResolvedEntity {
	return models.ResolvedEntity{
		Type:         models.EntityBug,
		CanonicalKey: number,
		Aliases:      []string{number},
	}
}

func testExtractor(t *testing.T) *Extractor {
	t.Helper()
	s, err := schema.Parse([]byte(testSpec))
	require.NoError(t, err)
	return NewExtractor(s)
}

func TestExtractDependencyEdges(t *testing.T) {
	x := testExtractor(t)
	ix := testIndex(t, resolvedPackage("webserver", "1.2"), resolvedPackage("libssl", "3.0.1"))

	res := x.Extract([]models.RawRecord{{
		SourceType: "package-index",
		ObservedAt: time.Now(),
		Fields: map[string]any{
			"name":    "webserver",
			"version": "1.2",
			"dependencies": map[string]any{
				"depends": "libssl (>= 3.0), ${misc:Depends}",
			},
		},
	}}, ix)

	require.Len(t, res.Edges, 1)
	require.Empty(t, res.Deferred)

	e := res.Edges[0]
	assert.Equal(t, models.EdgeDependsOn, e.Label)
	assert.Equal(t, "webserver", e.FromKey)
	assert.Equal(t, "libssl", e.ToKey)
	assert.Equal(t, "1.2", e.Properties["from_version"])
	assert.Equal(t, ">= 3.0", e.Properties["constraint"])
}

func TestExtractDefersUnresolvedTarget(t *testing.T) {
	x := testExtractor(t)

	// libssl not resolved yet: the edge must be deferred, not dropped
	ix := testIndex(t, resolvedPackage("webserver", "1.2"))
	res := x.Extract([]models.RawRecord{{
		SourceType: "package-index",
		ObservedAt: time.Now(),
		Fields: map[string]any{
			"name":    "webserver",
			"version": "1.2",
			"dependencies": map[string]any{
				"depends": "libssl",
			},
		},
	}}, ix)

	require.Empty(t, res.Edges)
	require.Len(t, res.Deferred, 1)

	// once libssl resolves, the retry pass binds the edge
	full := testIndex(t, resolvedPackage("webserver", "1.2"), resolvedPackage("libssl", "3.0.1"))
	retried := x.Retry(res.Deferred, full)
	require.Len(t, retried.Edges, 1)
	require.Empty(t, retried.Deferred)
	assert.Equal(t, "libssl", retried.Edges[0].ToKey)
}

func TestExtractReverseMaintainsEdge(t *testing.T) {
	x := testExtractor(t)
	ix := testIndex(t,
		resolvedPackage("libssl", "3.0.1"),
		models.ResolvedEntity{
			Type:         models.EntityMaintainer,
			CanonicalKey: "jdoe@example.org",
			Aliases:      []string{"jdoe@example.org", "Jane Doe"},
		},
	)

	res := x.Extract([]models.RawRecord{{
		SourceType: "package-index",
		ObservedAt: time.Unix(1700000000, 0),
		Fields: map[string]any{
			"name":       "libssl",
			"maintainer": "Jane Doe <jdoe@example.org>",
		},
	}}, ix)

	require.Len(t, res.Edges, 1)
	e := res.Edges[0]
	assert.Equal(t, models.EdgeMaintains, e.Label)
	assert.Equal(t, models.EntityMaintainer, e.FromType)
	assert.Equal(t, "jdoe@example.org", e.FromKey)
	assert.Equal(t, "libssl", e.ToKey)
	assert.Equal(t, int64(1700000000), e.Properties["since"])
}

func TestFixedByOnlyForResolvedBugs(t *testing.T) {
	x := testExtractor(t)
	ix := testIndex(t, resolvedPackage("libssl", "3.0.2"), resolvedBug("1055661"), resolvedBug("1055662"))

	records := []models.RawRecord{
		{
			SourceType: "bug-tracker",
			ObservedAt: time.Now(),
			Fields: map[string]any{
				"bug_number":    "1055661",
				"package":       "libssl",
				"status":        "done",
				"fixed_version": "3.0.2",
			},
		},
		{
			SourceType: "bug-tracker",
			ObservedAt: time.Now(),
			Fields: map[string]any{
				"bug_number": "1055662",
				"package":    "libssl",
				"status":     "open",
			},
		},
	}

	res := x.Extract(records, ix)

	var labels []models.EdgeLabel
	for _, e := range res.Edges {
		labels = append(labels, e.Label)
	}
	// both bugs report on the package, only the resolved one gets FIXED_BY
	assert.Equal(t, 1, count(labels, models.EdgeFixedBy))
	assert.Equal(t, 2, count(labels, models.EdgeReportedOn))

	for _, e := range res.Edges {
		if e.Label == models.EdgeFixedBy {
			assert.Equal(t, models.EntityPackageVersion, e.ToType)
			assert.Equal(t, "libssl@3.0.2", e.ToKey)
		}
	}
}

func TestExtractSkipsSelfDependency(t *testing.T) {
	x := testExtractor(t)
	ix := testIndex(t, resolvedPackage("libssl", "3.0.1"))

	res := x.Extract([]models.RawRecord{{
		SourceType: "package-index",
		ObservedAt: time.Now(),
		Fields: map[string]any{
			"name":         "libssl",
			"dependencies": map[string]any{"depends": "libssl"},
		},
	}}, ix)

	assert.Empty(t, res.Edges)
	assert.Empty(t, res.Deferred)
}

func count[T comparable](items []T, want T) int {
	n := 0
	for _, item := range items {
		if item == want {
			n++
		}
	}
	return n
}
