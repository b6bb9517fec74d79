package relation

import (
	"strings"
)

// Dependency is one parsed entry of a package-index relation field.
// A relation string looks like:
//
//	libc6 (>= 2.34), default-mta | mail-transport-agent, ${shlibs:Depends}
//
// Name is the first alternative (the concrete edge target), Constraint the
// raw version constraint if present, Alternatives the remaining names of an
// alternation group.
type Dependency struct {
	Name         string
	Constraint   string
	Alternatives []string
}

// ParseRelationField parses a raw relation field value. Accepts a single
// relation string or a list of per-entry strings, which is how the two
// source protocols hand the field over. Substitution variables (${...})
// are not concrete packages and are dropped.
func ParseRelationField(value any) []Dependency {
	switch v := value.(type) {
	case string:
		return parseRelationString(v)
	case []any:
		var out []Dependency
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if d, ok := parseRelationEntry(s); ok {
				out = append(out, d)
			}
		}
		return out
	case []string:
		var out []Dependency
		for _, s := range v {
			if d, ok := parseRelationEntry(s); ok {
				out = append(out, d)
			}
		}
		return out
	default:
		return nil
	}
}

func parseRelationString(s string) []Dependency {
	var out []Dependency
	for _, entry := range strings.Split(s, ",") {
		if d, ok := parseRelationEntry(entry); ok {
			out = append(out, d)
		}
	}
	return out
}

func parseRelationEntry(entry string) (Dependency, bool) {
	entry = strings.TrimSpace(entry)
	if entry == "" || strings.HasPrefix(entry, "${") {
		return Dependency{}, false
	}

	parts := strings.Split(entry, "|")
	name, constraint := splitNameConstraint(parts[0])
	if name == "" || strings.HasPrefix(name, "${") {
		return Dependency{}, false
	}

	d := Dependency{Name: name, Constraint: constraint}
	for _, alt := range parts[1:] {
		altName, _ := splitNameConstraint(alt)
		if altName != "" && !strings.HasPrefix(altName, "${") {
			d.Alternatives = append(d.Alternatives, altName)
		}
	}
	return d, true
}

// splitNameConstraint turns "libc6 (>= 2.34)" into ("libc6", ">= 2.34").
// Architecture qualifiers ("libfoo:any") are stripped from the name.
func splitNameConstraint(s string) (name, constraint string) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "("); i >= 0 {
		constraint = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s[i+1:]), ")"))
		s = strings.TrimSpace(s[:i])
	}
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}
	return s, constraint
}
