package schema

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	pkgerrors "github.com/pkgraph/pkgraph-go/internal/errors"
	"github.com/pkgraph/pkgraph-go/internal/models"
)

// Schema is the declarative mapping specification: per source-record type,
// which fields become vertex properties and which fields become edges.
// It is the single source of truth consulted by the normalizer and the
// relation extractor; no per-source mapping logic lives anywhere else.
type Schema struct {
	Sources    map[string]*SourceMapping  `yaml:"sources"`
	Resolution map[string]*ResolutionRule `yaml:"resolution"`
}

// SourceMapping describes how one source-record type maps onto the graph.
type SourceMapping struct {
	Entity         string            `yaml:"entity"`
	IdentityFields []string          `yaml:"identity_fields"`
	Properties     map[string]string `yaml:"properties"` // property name -> field path
	AliasFields    []string          `yaml:"alias_fields"`
	Edges          []*EdgeRule       `yaml:"edges"`
}

// Edge value formats understood by the extractor.
const (
	// FormatScalar: field holds a single identity key of the target entity.
	FormatScalar = "scalar"
	// FormatList: field holds a list of identity keys.
	FormatList = "list"
	// FormatRelations: field holds a package-index relation string or list
	// ("libc6 (>= 2.34), zlib1g | zlib", version constraints and alternatives).
	FormatRelations = "relations"
	// FormatContact: field holds "Display Name <email>"; the email is the
	// target identity key.
	FormatContact = "contact"
	// FormatContactList: list of contact strings (uploaders, co-maintainers).
	FormatContactList = "contact_list"
	// FormatPackageVersion: target key is built from this field (package
	// name) plus VersionField (version), yielding a PackageVersion key.
	FormatPackageVersion = "package_version"
)

// EdgeRule declares one edge derivation from a source-record field.
type EdgeRule struct {
	Label        string            `yaml:"label"`
	Field        string            `yaml:"field"`
	Target       string            `yaml:"target"`
	Format       string            `yaml:"format"`
	Reverse      bool              `yaml:"reverse"`       // edge points target -> this entity
	Materialize  bool              `yaml:"materialize"`   // also emit the target as a derived entity
	When         map[string]string `yaml:"when"`          // property equality guards, all must hold
	VersionField string            `yaml:"version_field"` // FormatPackageVersion only
	SetProps     map[string]string `yaml:"set_properties"`
}

// Identity resolution strategies.
const (
	MatchIdentity     = "identity"      // merge only records sharing an identity key
	MatchAliasOverlap = "alias-overlap" // additionally merge on any shared alias
)

// ResolutionRule declares how entities of one type are merged. Absence of a
// rule means identity-key matching only (safe default: treat as distinct).
type ResolutionRule struct {
	Match string `yaml:"match"`
}

var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var knownEntities = map[string]bool{
	string(models.EntityPackage):        true,
	string(models.EntityMaintainer):     true,
	string(models.EntityBug):            true,
	string(models.EntityPackageVersion): true,
}

var knownEdgeLabels = map[string]bool{
	string(models.EdgeDependsOn):  true,
	string(models.EdgePreDepends): true,
	string(models.EdgeRecommends): true,
	string(models.EdgeSuggests):   true,
	string(models.EdgeMaintains):  true,
	string(models.EdgeReportedOn): true,
	string(models.EdgeFixedBy):    true,
}

var knownFormats = map[string]bool{
	FormatScalar:         true,
	FormatList:           true,
	FormatRelations:      true,
	FormatContact:        true,
	FormatContactList:    true,
	FormatPackageVersion: true,
}

// Load reads and validates a mapping specification from a YAML file.
// Any defect fails fast with a SchemaError before ingestion starts.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrorTypeSchema, pkgerrors.SeverityCritical,
			"failed to read schema specification").WithContext("path", path)
	}
	return Parse(data)
}

// Parse decodes and validates a mapping specification.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrorTypeSchema, pkgerrors.SeverityCritical,
			"malformed schema specification")
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) validate() error {
	if len(s.Sources) == 0 {
		return pkgerrors.SchemaError("schema declares no sources")
	}

	for name, src := range s.Sources {
		if src == nil {
			return pkgerrors.SchemaErrorf("source %q: empty mapping", name)
		}
		if !knownEntities[src.Entity] || src.Entity == string(models.EntityPackageVersion) {
			return pkgerrors.SchemaErrorf("source %q: unknown entity type %q", name, src.Entity)
		}
		if len(src.IdentityFields) == 0 {
			return pkgerrors.SchemaErrorf("source %q: identity_fields must not be empty", name)
		}
		for prop := range src.Properties {
			if !validIdentifier.MatchString(prop) {
				return pkgerrors.SchemaErrorf("source %q: invalid property name %q", name, prop)
			}
		}
		for i, rule := range src.Edges {
			if err := validateEdgeRule(name, i, rule); err != nil {
				return err
			}
		}
	}

	for entity, rule := range s.Resolution {
		if !knownEntities[entity] {
			return pkgerrors.SchemaErrorf("resolution rule for unknown entity type %q", entity)
		}
		if rule == nil || (rule.Match != MatchIdentity && rule.Match != MatchAliasOverlap) {
			return pkgerrors.SchemaErrorf("entity %q: unknown resolution match strategy", entity)
		}
	}

	return nil
}

func validateEdgeRule(source string, idx int, rule *EdgeRule) error {
	if rule == nil {
		return pkgerrors.SchemaErrorf("source %q: edge rule %d is empty", source, idx)
	}
	if !knownEdgeLabels[rule.Label] {
		return pkgerrors.SchemaErrorf("source %q: edge rule %d: unknown label %q", source, idx, rule.Label)
	}
	if rule.Field == "" {
		return pkgerrors.SchemaErrorf("source %q: edge rule %d (%s): field required", source, idx, rule.Label)
	}
	if !knownEntities[rule.Target] {
		return pkgerrors.SchemaErrorf("source %q: edge rule %d (%s): unknown target entity %q",
			source, idx, rule.Label, rule.Target)
	}
	if rule.Format == "" {
		rule.Format = FormatScalar
	}
	if !knownFormats[rule.Format] {
		return pkgerrors.SchemaErrorf("source %q: edge rule %d (%s): unknown format %q",
			source, idx, rule.Label, rule.Format)
	}
	if rule.Format == FormatPackageVersion && rule.VersionField == "" {
		return pkgerrors.SchemaErrorf("source %q: edge rule %d (%s): package_version format requires version_field",
			source, idx, rule.Label)
	}
	if rule.Target == string(models.EntityPackageVersion) && rule.Format != FormatPackageVersion {
		return pkgerrors.SchemaErrorf("source %q: edge rule %d (%s): PackageVersion targets require package_version format",
			source, idx, rule.Label)
	}
	if rule.Materialize && rule.Format != FormatContact && rule.Format != FormatContactList {
		return pkgerrors.SchemaErrorf("source %q: edge rule %d (%s): materialize only applies to contact formats",
			source, idx, rule.Label)
	}
	return nil
}

// Source returns the mapping for one source-record type.
func (s *Schema) Source(sourceType string) (*SourceMapping, error) {
	src, ok := s.Sources[sourceType]
	if !ok {
		return nil, pkgerrors.MalformedRecordErrorf("no mapping for source-record type %q", sourceType)
	}
	return src, nil
}

// MatchStrategy returns the declared resolution strategy for an entity type,
// falling back to identity-key matching when no rule is declared.
func (s *Schema) MatchStrategy(entity models.EntityType) string {
	if rule, ok := s.Resolution[string(entity)]; ok {
		return rule.Match
	}
	return MatchIdentity
}

// EntityTypes returns the distinct entity types the schema can produce,
// including types only reachable through materializing edge rules. The
// pipeline uses this to fan out per-type resolution stages.
func (s *Schema) EntityTypes() []models.EntityType {
	seen := map[models.EntityType]bool{}
	var out []models.EntityType
	add := func(t models.EntityType) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, src := range s.Sources {
		add(models.EntityType(src.Entity))
		for _, rule := range src.Edges {
			if rule.Materialize {
				add(models.EntityType(rule.Target))
			}
		}
	}
	return out
}
