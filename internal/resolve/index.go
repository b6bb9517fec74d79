package resolve

import (
	"sort"

	"github.com/pkgraph/pkgraph-go/internal/models"
)

// Index is the read-only view over all resolved entities of a cycle. The
// relation extractor consults it to bind edge endpoints: any member
// identity key or alias maps to the canonical key of its merged entity.
type Index struct {
	byKey   map[models.EntityType]map[string]*models.ResolvedEntity
	byAlias map[models.EntityType]map[string]string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		byKey:   make(map[models.EntityType]map[string]*models.ResolvedEntity),
		byAlias: make(map[models.EntityType]map[string]string),
	}
}

// Add registers resolved entities of one type.
func (ix *Index) Add(entities []models.ResolvedEntity) {
	for i := range entities {
		e := &entities[i]
		if ix.byKey[e.Type] == nil {
			ix.byKey[e.Type] = make(map[string]*models.ResolvedEntity)
			ix.byAlias[e.Type] = make(map[string]string)
		}
		ix.byKey[e.Type][e.CanonicalKey] = e
		ix.byAlias[e.Type][e.CanonicalKey] = e.CanonicalKey
		for _, alias := range e.Aliases {
			if _, taken := ix.byAlias[e.Type][alias]; !taken {
				ix.byAlias[e.Type][alias] = e.CanonicalKey
			}
		}
	}
}

// Canonical maps an identity key or alias to the canonical key of the
// resolved entity it belongs to.
func (ix *Index) Canonical(t models.EntityType, keyOrAlias string) (string, bool) {
	key, ok := ix.byAlias[t][keyOrAlias]
	return key, ok
}

// Get returns a resolved entity by canonical key.
func (ix *Index) Get(t models.EntityType, canonicalKey string) (*models.ResolvedEntity, bool) {
	e, ok := ix.byKey[t][canonicalKey]
	return e, ok
}

// Entities returns all resolved entities, ordered by type then key.
func (ix *Index) Entities() []models.ResolvedEntity {
	var out []models.ResolvedEntity
	for _, m := range ix.byKey {
		for _, e := range m {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].CanonicalKey < out[j].CanonicalKey
	})
	return out
}
