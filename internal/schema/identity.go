package schema

import (
	"fmt"
	"math"
	"strings"

	pkgerrors "github.com/pkgraph/pkgraph-go/internal/errors"
	"github.com/pkgraph/pkgraph-go/internal/models"
)

// IdentityKey derives the stable identity key for a record under this
// mapping. It is a pure function of the declared identity fields, so the
// same record always yields the same key. A missing or empty field is a
// MalformedRecordError.
func (src *SourceMapping) IdentityKey(rec models.RawRecord) (string, error) {
	parts := make([]string, 0, len(src.IdentityFields))
	for _, field := range src.IdentityFields {
		v, ok := models.Lookup(rec.Fields, field)
		if !ok {
			return "", pkgerrors.MalformedRecordErrorf("record of type %q: identity field %q absent",
				rec.SourceType, field)
		}
		s := KeyString(v)
		if s == "" {
			return "", pkgerrors.MalformedRecordErrorf("record of type %q: identity field %q empty",
				rec.SourceType, field)
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "/"), nil
}

// KeyString coerces a field value to its canonical key form. Bug numbers
// arrive as JSON numbers; whole floats must not grow a ".0".
func KeyString(v any) string {
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case int:
		return fmt.Sprintf("%d", s)
	case int64:
		return fmt.Sprintf("%d", s)
	case float64:
		if s == math.Trunc(s) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%v", s)
	default:
		return ""
	}
}
