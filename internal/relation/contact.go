package relation

import (
	"strings"
)

// Contact is a parsed maintainer identifier: "Jane Doe <jdoe@example.org>".
type Contact struct {
	Name  string
	Email string
}

// Key returns the identity key a contact resolves to: the email when
// present, otherwise the display name.
func (c Contact) Key() string {
	if c.Email != "" {
		return c.Email
	}
	return c.Name
}

// Role classifies the contact as an individual or a team. Team maintenance
// in package indexes shows up as list addresses or team-prefixed mailboxes.
func (c Contact) Role() string {
	lower := strings.ToLower(c.Email)
	if strings.HasPrefix(lower, "team+") || strings.Contains(lower, "@lists.") {
		return "team"
	}
	name := strings.ToLower(c.Name)
	if strings.Contains(name, "team") || strings.Contains(name, "maintainers") {
		return "team"
	}
	return "individual"
}

// ParseContact parses a single "Name <email>" string. Either part may be
// absent; an empty string yields ok=false.
func ParseContact(s string) (Contact, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Contact{}, false
	}

	open := strings.Index(s, "<")
	if open < 0 {
		return Contact{Name: s}, true
	}

	name := strings.TrimSpace(s[:open])
	email := strings.TrimSpace(strings.TrimSuffix(s[open+1:], ">"))
	if i := strings.Index(email, ">"); i >= 0 {
		email = email[:i]
	}
	if name == "" && email == "" {
		return Contact{}, false
	}
	return Contact{Name: name, Email: email}, true
}

// ParseContactField handles scalar and list shapes of contact fields
// (Maintainer is a single string, Uploaders a comma-separated string or
// a list of strings).
func ParseContactField(value any) []Contact {
	switch v := value.(type) {
	case string:
		var out []Contact
		for _, part := range splitContacts(v) {
			if c, ok := ParseContact(part); ok {
				out = append(out, c)
			}
		}
		return out
	case []any:
		var out []Contact
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if c, ok := ParseContact(s); ok {
				out = append(out, c)
			}
		}
		return out
	case []string:
		var out []Contact
		for _, s := range v {
			if c, ok := ParseContact(s); ok {
				out = append(out, c)
			}
		}
		return out
	default:
		return nil
	}
}

// splitContacts splits a comma-separated contact list, ignoring commas
// inside angle brackets and inside quoted display names.
func splitContacts(s string) []string {
	var parts []string
	depth := 0
	quoted := false
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			quoted = !quoted
		case '<':
			depth++
		case '>':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 && !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}
