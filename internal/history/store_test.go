package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordFirstObservation(t *testing.T) {
	s := openTestStore(t)

	ch, err := s.Record("Package", "libssl", "3.0.1", map[string]any{"section": "libs"}, time.Now())
	require.NoError(t, err)
	assert.True(t, ch.New)
	assert.False(t, ch.Updated)
	assert.Empty(t, ch.PrevVersion)
}

func TestRecordVersionAdvance(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	_, err := s.Record("Package", "libssl", "3.0.1", nil, now)
	require.NoError(t, err)

	ch, err := s.Record("Package", "libssl", "3.0.2", nil, now.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ch.New)
	assert.True(t, ch.Updated)
	assert.Equal(t, "3.0.1", ch.PrevVersion)

	chain, err := s.Chain("Package", "libssl")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, "3.0.1", chain[0].Version)
	assert.Equal(t, "3.0.2", chain[1].Version)
}

func TestRecordIdempotent(t *testing.T) {
	s := openTestStore(t)
	props := map[string]any{"section": "libs"}
	now := time.Now()

	_, err := s.Record("Package", "libssl", "3.0.1", props, now)
	require.NoError(t, err)

	ch, err := s.Record("Package", "libssl", "3.0.1", props, now)
	require.NoError(t, err)
	assert.False(t, ch.New)
	assert.False(t, ch.Updated)
	assert.Empty(t, ch.PrevVersion)
}

func TestRecordPropertyChangeSameVersion(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	_, err := s.Record("Package", "libssl", "3.0.1", map[string]any{"section": "libs"}, now)
	require.NoError(t, err)

	ch, err := s.Record("Package", "libssl", "3.0.1", map[string]any{"section": "oldlibs"}, now)
	require.NoError(t, err)
	assert.False(t, ch.New)
	assert.True(t, ch.Updated)
	assert.Empty(t, ch.PrevVersion)

	chain, err := s.Chain("Package", "libssl")
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "oldlibs", chain[0].Properties["section"])
}

func TestStaleVersionDoesNotBranchChain(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	_, err := s.Record("Package", "libssl", "3.0.1", nil, now)
	require.NoError(t, err)
	_, err = s.Record("Package", "libssl", "3.0.2", nil, now)
	require.NoError(t, err)

	ch, err := s.Record("Package", "libssl", "3.0.1", nil, now)
	require.NoError(t, err)
	assert.False(t, ch.Updated)
	assert.Empty(t, ch.PrevVersion)

	chain, err := s.Chain("Package", "libssl")
	require.NoError(t, err)
	assert.Len(t, chain, 2)
}

func TestUnversionedEntityNoSupersedes(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	_, err := s.Record("Maintainer", "jane@debian.org", "", map[string]any{"name": "Jane"}, now)
	require.NoError(t, err)

	ch, err := s.Record("Maintainer", "jane@debian.org", "", map[string]any{"name": "Jane Doe"}, now)
	require.NoError(t, err)
	assert.True(t, ch.Updated)
	assert.Empty(t, ch.PrevVersion)
}

func TestMarkUnobserved(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	_, err := s.Record("Package", "libssl", "3.0.1", nil, now)
	require.NoError(t, err)
	_, err = s.Record("Package", "zlib", "1.3", nil, now)
	require.NoError(t, err)

	marked, err := s.MarkUnobserved("Package", map[string]bool{"libssl": true}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"zlib"}, marked)

	_, unobserved, err := s.LastObserved("Package", "zlib")
	require.NoError(t, err)
	assert.True(t, unobserved)

	// already-marked keys are not reported again
	marked, err = s.MarkUnobserved("Package", map[string]bool{"libssl": true}, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, marked)

	// re-observation clears the marker
	_, err = s.Record("Package", "zlib", "1.3", nil, now.Add(3*time.Hour))
	require.NoError(t, err)
	_, unobserved, err = s.LastObserved("Package", "zlib")
	require.NoError(t, err)
	assert.False(t, unobserved)
}

func TestAliasAssignments(t *testing.T) {
	s := openTestStore(t)

	err := s.RecordAliases("Maintainer", "jdoe@example.org",
		[]string{"jdoe", "team@example.org"})
	require.NoError(t, err)

	owners, err := s.AliasOwners("Maintainer",
		[]string{"jdoe", "team@example.org", "jdoe@example.org", "unknown"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"jdoe":             "jdoe@example.org",
		"team@example.org": "jdoe@example.org",
		// the canonical key owns itself
		"jdoe@example.org": "jdoe@example.org",
	}, owners)

	// a type with no recorded aliases yields nothing
	owners, err = s.AliasOwners("Package", []string{"jdoe"})
	require.NoError(t, err)
	assert.Empty(t, owners)
}
