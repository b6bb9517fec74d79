package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/pkgraph/pkgraph-go/internal/errors"
	"github.com/pkgraph/pkgraph-go/internal/models"
)

const validSpec = `
sources:
  package-index:
    entity: Package
    identity_fields: [name]
    properties:
      version: version
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

func TestParseValidSpec(t *testing.T) {
	s, err := Parse([]byte(validSpec))
	require.NoError(t, err)

	src, err := s.Source("package-index")
	require.NoError(t, err)
	assert.Equal(t, "Package", src.Entity)
	assert.Equal(t, []string{"name"}, src.IdentityFields)
	require.Len(t, src.Edges, 2)
	assert.True(t, src.Edges[1].Reverse)
	assert.True(t, src.Edges[1].Materialize)

	// scalar is the default edge format
	bugs, err := s.Source("bug-tracker")
	require.NoError(t, err)
	assert.Equal(t, FormatScalar, bugs.Edges[0].Format)
}

func TestMatchStrategyDefaultsToIdentity(t *testing.T) {
	s, err := Parse([]byte(validSpec))
	require.NoError(t, err)

	assert.Equal(t, MatchAliasOverlap, s.MatchStrategy(models.EntityMaintainer))
	// no declared rule means no cross-key merging
	assert.Equal(t, MatchIdentity, s.MatchStrategy(models.EntityPackage))
	assert.Equal(t, MatchIdentity, s.MatchStrategy(models.EntityBug))
}

func TestEntityTypesIncludesMaterializedTargets(t *testing.T) {
	s, err := Parse([]byte(validSpec))
	require.NoError(t, err)

	types := s.EntityTypes()
	assert.Contains(t, types, models.EntityPackage)
	assert.Contains(t, types, models.EntityBug)
	// Maintainer only appears through the materializing MAINTAINS rule
	assert.Contains(t, types, models.EntityMaintainer)
}

func TestParseRejectsMalformedSpecs(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{"no sources", `resolution: {}`},
		{"unknown entity", `
sources:
  x:
    entity: Repository
    identity_fields: [name]
`},
		{"missing identity fields", `
sources:
  x:
    entity: Package
    identity_fields: []
`},
		{"unknown edge label", `
sources:
  x:
    entity: Package
    identity_fields: [name]
    edges:
      - label: LINKS_TO
        field: f
        target: Package
`},
		{"edge without field", `
sources:
  x:
    entity: Package
    identity_fields: [name]
    edges:
      - label: DEPENDS_ON
        target: Package
`},
		{"unknown edge format", `
sources:
  x:
    entity: Package
    identity_fields: [name]
    edges:
      - label: DEPENDS_ON
        field: deps
        target: Package
        format: csv
`},
		{"package_version without version_field", `
sources:
  x:
    entity: Bug
    identity_fields: [id]
    edges:
      - label: FIXED_BY
        field: package
        target: PackageVersion
        format: package_version
`},
		{"invalid property name", `
sources:
  x:
    entity: Package
    identity_fields: [name]
    properties:
      "bad-prop": f
`},
		{"unknown resolution strategy", `
sources:
  x:
    entity: Package
    identity_fields: [name]
resolution:
  Package:
    match: fuzzy
`},
		{"resolution for unknown entity", `
sources:
  x:
    entity: Package
    identity_fields: [name]
resolution:
  Repository:
    match: identity
`},
		{"not yaml at all", `{{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.spec))
			require.Error(t, err)
			assert.Equal(t, pkgerrors.ErrorTypeSchema, pkgerrors.GetType(err))
			assert.True(t, pkgerrors.IsFatal(err), "schema errors must be fatal")
		})
	}
}

func TestSourceUnknownType(t *testing.T) {
	s, err := Parse([]byte(validSpec))
	require.NoError(t, err)

	_, err = s.Source("container-registry")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ErrorTypeMalformedRecord, pkgerrors.GetType(err))
}
