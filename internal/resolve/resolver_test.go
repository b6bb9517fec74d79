package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkgraph/pkgraph-go/internal/models"
	"github.com/pkgraph/pkgraph-go/internal/schema"
)

const testSpec = `
sources:
  package-index:
    entity: Package
    identity_fields: [name]
  maintainer-roster:
    entity: Maintainer
    identity_fields: [email]
resolution:
  Maintainer:
    match: alias-overlap
`

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(testSpec))
	require.NoError(t, err)
	return s
}

// staticDirectory is a fixed alias-to-canonical-key map standing in for the
// persistent assignment record.
type staticDirectory map[string]string

func (d staticDirectory) AliasOwners(entityType string, aliases []string) (map[string]string, error) {
	owners := make(map[string]string)
	for _, a := range aliases {
		if owner, ok := d[a]; ok {
			owners[a] = owner
		}
	}
	return owners, nil
}

func maintainer(key string, aliases []string, observed time.Time, props map[string]any) models.Entity {
	return models.Entity{
		Type:        models.EntityMaintainer,
		IdentityKey: key,
		Properties:  props,
		Aliases:     aliases,
		ObservedAt:  observed,
		Provenance: models.Provenance{
			SourceType: "maintainer-roster",
			RecordKey:  key,
			ObservedAt: observed,
		},
	}
}

func TestAliasOverlapMergesEntities(t *testing.T) {
	// Scenario: two maintainer records, one under an email alias and one
	// under a team name, sharing the alias "jdoe".
	r := New(testSchema(t), LastWriterWins, nil)
	observed := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)

	resolved, err := r.Resolve(models.EntityMaintainer, []models.Entity{
		maintainer("jdoe@example.org", []string{"jdoe@example.org", "jdoe"}, observed, nil),
		maintainer("J. Doe Team", []string{"J. Doe Team", "jdoe"}, observed.Add(time.Hour), nil),
	})
	require.NoError(t, err)

	require.Len(t, resolved, 1)
	m := resolved[0]
	assert.Equal(t, "J. Doe Team", m.CanonicalKey) // lexicographically smallest member key
	assert.Contains(t, m.Aliases, "jdoe@example.org")
	assert.Contains(t, m.Aliases, "J. Doe Team")
	assert.Contains(t, m.Aliases, "jdoe")
	assert.Len(t, m.Provenance, 2)
}

func TestNoRuleMeansNoMerging(t *testing.T) {
	r := New(testSchema(t), LastWriterWins, nil)
	observed := time.Now()

	// Packages share an alias but have no alias-overlap rule declared.
	resolved, err := r.Resolve(models.EntityPackage, []models.Entity{
		{Type: models.EntityPackage, IdentityKey: "libssl", Aliases: []string{"ssl"}, ObservedAt: observed},
		{Type: models.EntityPackage, IdentityKey: "libssl-dev", Aliases: []string{"ssl"}, ObservedAt: observed},
	})
	require.NoError(t, err)

	assert.Len(t, resolved, 2)
}

func TestSameIdentityKeyAlwaysMerges(t *testing.T) {
	r := New(testSchema(t), LastWriterWins, nil)
	base := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	resolved, err := r.Resolve(models.EntityPackage, []models.Entity{
		{Type: models.EntityPackage, IdentityKey: "webserver", ObservedAt: base,
			Properties: map[string]any{"version": "1.1", "section": "httpd"}},
		{Type: models.EntityPackage, IdentityKey: "webserver", ObservedAt: base.Add(time.Hour),
			Properties: map[string]any{"version": "1.2"}},
	})
	require.NoError(t, err)

	require.Len(t, resolved, 1)
	p := resolved[0]
	assert.Equal(t, "webserver", p.CanonicalKey)
	assert.Equal(t, "1.2", p.Properties["version"])
	assert.Equal(t, "httpd", p.Properties["section"])
	assert.Equal(t, []any{"1.1"}, p.AlsoSeen["version"])
	assert.Equal(t, base.Add(time.Hour), p.ObservedAt)
}

func TestMergeIsOrderIndependent(t *testing.T) {
	r := New(testSchema(t), LastWriterWins, nil)
	base := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	a := maintainer("jdoe@example.org", []string{"jdoe"}, base, map[string]any{"display_name": "Jane"})
	b := maintainer("J. Doe Team", []string{"jdoe"}, base.Add(time.Hour), map[string]any{"display_name": "J. Doe Team"})

	forward, err := r.Resolve(models.EntityMaintainer, []models.Entity{a, b})
	require.NoError(t, err)
	backward, err := r.Resolve(models.EntityMaintainer, []models.Entity{b, a})
	require.NoError(t, err)

	require.Len(t, forward, 1)
	require.Len(t, backward, 1)
	assert.Equal(t, forward[0].CanonicalKey, backward[0].CanonicalKey)
	assert.Equal(t, forward[0].Properties, backward[0].Properties)
	assert.Equal(t, forward[0].Aliases, backward[0].Aliases)
}

func TestFirstWriterWinsPolicy(t *testing.T) {
	r := New(testSchema(t), FirstWriterWins, nil)
	base := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	resolved, err := r.Resolve(models.EntityPackage, []models.Entity{
		{Type: models.EntityPackage, IdentityKey: "libz", ObservedAt: base.Add(time.Hour),
			Properties: map[string]any{"section": "libs-new"}},
		{Type: models.EntityPackage, IdentityKey: "libz", ObservedAt: base,
			Properties: map[string]any{"section": "libs"}},
	})
	require.NoError(t, err)

	require.Len(t, resolved, 1)
	assert.Equal(t, "libs", resolved[0].Properties["section"])
	assert.Equal(t, []any{"libs-new"}, resolved[0].AlsoSeen["section"])
}

func TestTransitiveMerge(t *testing.T) {
	r := New(testSchema(t), LastWriterWins, nil)
	observed := time.Now()

	resolved, err := r.Resolve(models.EntityMaintainer, []models.Entity{
		maintainer("a@example.org", []string{"a"}, observed, nil),
		maintainer("b@example.org", []string{"a", "b"}, observed, nil),
		maintainer("c@example.org", []string{"b"}, observed, nil),
	})
	require.NoError(t, err)

	require.Len(t, resolved, 1)
	assert.Equal(t, "a@example.org", resolved[0].CanonicalKey)
}

func TestPriorAssignmentKeepsCanonicalKey(t *testing.T) {
	// A maintainer merged under jdoe@example.org in an earlier batch is
	// re-observed alone. Its canonical key must not move.
	dir := staticDirectory{
		"jdoe@example.org": "jdoe@example.org",
		"jdoe":             "jdoe@example.org",
		"team@example.org": "jdoe@example.org",
	}
	r := New(testSchema(t), LastWriterWins, dir)

	resolved, err := r.Resolve(models.EntityMaintainer, []models.Entity{
		maintainer("team@example.org", []string{"team@example.org", "jdoe"}, time.Now(), nil),
	})
	require.NoError(t, err)

	require.Len(t, resolved, 1)
	assert.Equal(t, "jdoe@example.org", resolved[0].CanonicalKey)
	assert.Contains(t, resolved[0].Aliases, "jdoe@example.org")
	assert.Contains(t, resolved[0].Aliases, "team@example.org")
}

func TestPriorAssignmentLinksDisjointMembers(t *testing.T) {
	// Two records with no alias overlap inside the batch, but both aliases
	// were assigned to the same canonical key before. They resolve as one.
	dir := staticDirectory{
		"jdoe":             "jdoe@example.org",
		"team@example.org": "jdoe@example.org",
	}
	r := New(testSchema(t), LastWriterWins, dir)
	observed := time.Now()

	resolved, err := r.Resolve(models.EntityMaintainer, []models.Entity{
		maintainer("jdoe@example.org", []string{"jdoe"}, observed, nil),
		maintainer("team@example.org", []string{"team@example.org"}, observed, nil),
	})
	require.NoError(t, err)

	require.Len(t, resolved, 1)
	assert.Equal(t, "jdoe@example.org", resolved[0].CanonicalKey)
}

func TestIndexCanonicalLookup(t *testing.T) {
	r := New(testSchema(t), LastWriterWins, nil)
	observed := time.Now()

	resolved, err := r.Resolve(models.EntityMaintainer, []models.Entity{
		maintainer("jdoe@example.org", []string{"jdoe"}, observed, nil),
		maintainer("J. Doe Team", []string{"jdoe"}, observed, nil),
	})
	require.NoError(t, err)

	ix := NewIndex()
	ix.Add(resolved)

	for _, alias := range []string{"jdoe@example.org", "J. Doe Team", "jdoe"} {
		key, ok := ix.Canonical(models.EntityMaintainer, alias)
		require.True(t, ok, "alias %q", alias)
		assert.Equal(t, "J. Doe Team", key)
	}

	_, ok := ix.Canonical(models.EntityMaintainer, "unknown@example.org")
	assert.False(t, ok)
}
