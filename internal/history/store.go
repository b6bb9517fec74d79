package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	bolt "go.etcd.io/bbolt"

	pkgerrors "github.com/pkgraph/pkgraph-go/internal/errors"
)

// Store is the version-history arena: one ordered chain of version records
// per identity key, kept in an embedded bbolt file. Entities are never
// hard-deleted; disappearance from a full snapshot is recorded as an
// unobserved-as-of marker. The chain is what makes supersedes edges
// strictly ordered and point-in-time reconstruction possible.
type Store struct {
	db     *bolt.DB
	logger *slog.Logger
}

// VersionRecord is one observed version of an entity.
type VersionRecord struct {
	Version       string         `json:"version"`
	FirstObserved time.Time      `json:"first_observed"`
	Properties    map[string]any `json:"properties"`
}

type entry struct {
	Versions     []VersionRecord `json:"versions"` // ordered, newest last
	LastObserved time.Time       `json:"last_observed"`
	UnobservedAt *time.Time      `json:"unobserved_at,omitempty"`
}

// Change describes what an observation did to the stored chain.
type Change struct {
	New         bool   // first observation of this identity key
	Updated     bool   // properties changed on the current head
	PrevVersion string // non-empty when the version advanced: a supersedes edge is due
}

// Open opens (or creates) the history store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open history store %s: %w", path, err)
	}
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "history"),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record registers one observation of an entity. Version may be empty for
// unversioned entity types; those keep a single-record chain. Returns how
// the chain changed so the assembler can count creations/updates and emit
// supersedes edges.
func (s *Store) Record(entityType, key, version string, props map[string]any, observedAt time.Time) (Change, error) {
	// stored snapshots have been through JSON; normalize the incoming map
	// the same way so comparison sees types, not provenance
	props = normalizeProps(props)

	var change Change
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(entityType))
		if err != nil {
			return err
		}

		var e entry
		if raw := b.Get([]byte(key)); raw != nil {
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("corrupt history entry %s/%s: %w", entityType, key, err)
			}
		}

		if len(e.Versions) == 0 {
			change.New = true
			e.Versions = []VersionRecord{{
				Version:       version,
				FirstObserved: observedAt,
				Properties:    props,
			}}
		} else {
			head := &e.Versions[len(e.Versions)-1]
			switch {
			case head.Version == version:
				if !reflect.DeepEqual(head.Properties, props) {
					change.Updated = true
					head.Properties = props
				}
			case versionInChain(e.Versions[:len(e.Versions)-1], version):
				// stale re-observation of a superseded version; the chain
				// stays strictly ordered, nothing to do
			default:
				change.Updated = true
				if head.Version != "" {
					change.PrevVersion = head.Version
				}
				e.Versions = append(e.Versions, VersionRecord{
					Version:       version,
					FirstObserved: observedAt,
					Properties:    props,
				})
			}
		}

		if observedAt.After(e.LastObserved) {
			e.LastObserved = observedAt
		}
		e.UnobservedAt = nil

		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), raw)
	})
	if err != nil {
		return Change{}, pkgerrors.StorageUnavailableError(err, "history store write failed")
	}
	return change, nil
}

// Chain returns the ordered version chain for an identity key. A nil result
// means the key was never observed.
func (s *Store) Chain(entityType, key string) ([]VersionRecord, error) {
	var versions []VersionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entityType))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		versions = e.Versions
		return nil
	})
	if err != nil {
		return nil, pkgerrors.StorageUnavailableError(err, "history store read failed")
	}
	return versions, nil
}

// LastObserved returns when the key was last seen and whether it currently
// carries an unobserved marker.
func (s *Store) LastObserved(entityType, key string) (time.Time, bool, error) {
	var last time.Time
	var unobserved bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entityType))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		last = e.LastObserved
		unobserved = e.UnobservedAt != nil
		return nil
	})
	if err != nil {
		return time.Time{}, false, pkgerrors.StorageUnavailableError(err, "history store read failed")
	}
	return last, unobserved, nil
}

// MarkUnobserved stamps every known key of the type that is absent from
// seen with an unobserved-as-of marker. Used when a batch is declared a
// full snapshot of its source. Returns the keys newly marked.
func (s *Store) MarkUnobserved(entityType string, seen map[string]bool, asOf time.Time) ([]string, error) {
	var marked []string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(entityType))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, raw := c.First(); k != nil; k, raw = c.Next() {
			key := string(k)
			if seen[key] {
				continue
			}
			var e entry
			if err := json.Unmarshal(raw, &e); err != nil {
				return fmt.Errorf("corrupt history entry %s/%s: %w", entityType, key, err)
			}
			if e.UnobservedAt != nil {
				continue
			}
			t := asOf
			e.UnobservedAt = &t
			out, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(k, out); err != nil {
				return err
			}
			marked = append(marked, key)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.StorageUnavailableError(err, "history store write failed")
	}
	if len(marked) > 0 {
		s.logger.Info("marked entities unobserved", "entity_type", entityType, "count", len(marked))
	}
	return marked, nil
}

// AliasOwners looks up which canonical key each alias was previously
// assigned to. Aliases never seen before are absent from the result. The
// resolver consults this before assigning canonical keys so an entity
// merged in an earlier batch keeps its key when re-observed alone.
func (s *Store) AliasOwners(entityType string, aliases []string) (map[string]string, error) {
	owners := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(aliasBucket(entityType))
		if b == nil {
			return nil
		}
		for _, alias := range aliases {
			if v := b.Get([]byte(alias)); v != nil {
				owners[alias] = string(v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.StorageUnavailableError(err, "history store read failed")
	}
	return owners, nil
}

// RecordAliases binds every alias of a committed entity, and the canonical
// key itself, to that canonical key. Called after a successful commit so a
// failed run leaves no assignments behind.
func (s *Store) RecordAliases(entityType, canonicalKey string, aliases []string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(aliasBucket(entityType))
		if err != nil {
			return err
		}
		if err := b.Put([]byte(canonicalKey), []byte(canonicalKey)); err != nil {
			return err
		}
		for _, alias := range aliases {
			if alias == "" {
				continue
			}
			if err := b.Put([]byte(alias), []byte(canonicalKey)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pkgerrors.StorageUnavailableError(err, "history store write failed")
	}
	return nil
}

// aliasBucket names the per-type alias assignment bucket. Entity type names
// are plain identifiers, so the dot cannot collide with a version bucket.
func aliasBucket(entityType string) []byte {
	return []byte(entityType + ".aliases")
}

func normalizeProps(props map[string]any) map[string]any {
	raw, err := json.Marshal(props)
	if err != nil {
		return props
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return props
	}
	return out
}

func versionInChain(versions []VersionRecord, version string) bool {
	for _, v := range versions {
		if v.Version == version {
			return true
		}
	}
	return false
}
