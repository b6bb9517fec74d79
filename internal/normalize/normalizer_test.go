package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/pkgraph/pkgraph-go/internal/errors"
	"github.com/pkgraph/pkgraph-go/internal/models"
	"github.com/pkgraph/pkgraph-go/internal/schema"
)

const testSpec = `
sources:
  package-index:
    entity: Package
    identity_fields: [name]
    properties:
      version: version
      section: section
      description: description
    alias_fields: [name]
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
      title: subject
      status: status
      severity: severity
  maintainer-roster:
    entity: Maintainer
    identity_fields: [email]
    properties:
      display_name: name
    alias_fields: [email, name, aliases]
`

func testNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	s, err := schema.Parse([]byte(testSpec))
	require.NoError(t, err)
	return New(s)
}

func TestNormalizePackageRecord(t *testing.T) {
	n := testNormalizer(t)
	observed := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)

	primary, derived, err := n.Normalize(models.RawRecord{
		SourceType: "package-index",
		ObservedAt: observed,
		Fields: map[string]any{
			"name":        "libssl",
			"version":     "3.0.1",
			"section":     "libs",
			"description": "Secure Sockets Layer toolkit",
			"maintainer":  "Jane Doe <jdoe@example.org>",
			"dependencies": map[string]any{
				"depends": "libc6 (>= 2.34)",
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, models.EntityPackage, primary.Type)
	assert.Equal(t, "libssl", primary.IdentityKey)
	assert.Equal(t, "3.0.1", primary.Properties["version"])
	assert.Equal(t, "libs", primary.Properties["section"])
	assert.Equal(t, observed, primary.ObservedAt)
	assert.Equal(t, "package-index", primary.Provenance.SourceType)
	assert.Equal(t, "libssl", primary.Provenance.RecordKey)

	// maintainer materialized as a derived Maintainer entity
	require.Len(t, derived, 1)
	m := derived[0]
	assert.Equal(t, models.EntityMaintainer, m.Type)
	assert.Equal(t, "jdoe@example.org", m.IdentityKey)
	assert.Equal(t, "Jane Doe", m.Properties["display_name"])
	assert.Equal(t, "individual", m.Properties["role"])
	assert.ElementsMatch(t, []string{"jdoe@example.org", "Jane Doe"}, m.Aliases)
}

func TestNormalizeTeamMaintainer(t *testing.T) {
	n := testNormalizer(t)

	_, derived, err := n.Normalize(models.RawRecord{
		SourceType: "package-index",
		ObservedAt: time.Now(),
		Fields: map[string]any{
			"name":       "postgresql-plr",
			"maintainer": "Database Team <team+db@tracker.example.org>",
		},
	})
	require.NoError(t, err)
	require.Len(t, derived, 1)
	assert.Equal(t, "team", derived[0].Properties["role"])
}

func TestIdentityKeyIsPureAndStable(t *testing.T) {
	n := testNormalizer(t)

	rec := models.RawRecord{
		SourceType: "bug-tracker",
		ObservedAt: time.Now(),
		Fields:     map[string]any{"bug_number": float64(1055661), "subject": "FTBFS on arm64"},
	}

	first, _, err := n.Normalize(rec)
	require.NoError(t, err)
	second, _, err := n.Normalize(rec)
	require.NoError(t, err)

	assert.Equal(t, "1055661", first.IdentityKey)
	assert.Equal(t, first.IdentityKey, second.IdentityKey)
}

func TestNormalizeMissingIdentityField(t *testing.T) {
	n := testNormalizer(t)

	tests := []struct {
		name   string
		fields map[string]any
	}{
		{"absent", map[string]any{"version": "1.0"}},
		{"empty", map[string]any{"name": "  ", "version": "1.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := n.Normalize(models.RawRecord{
				SourceType: "package-index",
				ObservedAt: time.Now(),
				Fields:     tt.fields,
			})
			require.Error(t, err)
			assert.Equal(t, pkgerrors.ErrorTypeMalformedRecord, pkgerrors.GetType(err))
			assert.False(t, pkgerrors.IsFatal(err))
		})
	}
}

func TestNormalizeUnknownSourceType(t *testing.T) {
	n := testNormalizer(t)
	_, _, err := n.Normalize(models.RawRecord{SourceType: "container-registry"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ErrorTypeMalformedRecord, pkgerrors.GetType(err))
}

func TestNormalizeRosterAliases(t *testing.T) {
	n := testNormalizer(t)

	primary, derived, err := n.Normalize(models.RawRecord{
		SourceType: "maintainer-roster",
		ObservedAt: time.Now(),
		Fields: map[string]any{
			"email":   "jdoe@example.org",
			"name":    "J. Doe Team",
			"aliases": []any{"jdoe"},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, derived)
	assert.Equal(t, "jdoe@example.org", primary.IdentityKey)
	assert.ElementsMatch(t, []string{"jdoe@example.org", "J. Doe Team", "jdoe"}, primary.Aliases)
}
