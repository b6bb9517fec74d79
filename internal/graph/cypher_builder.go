package graph

import (
	"fmt"
	"regexp"
	"strings"
)

// CypherBuilder builds parameterized Cypher queries. Every value goes
// through a parameter; labels and property names are validated against a
// strict identifier pattern, so no input can alter query structure.
type CypherBuilder struct {
	params  map[string]any
	counter int
}

// NewCypherBuilder creates a query builder.
func NewCypherBuilder() *CypherBuilder {
	return &CypherBuilder{
		params: make(map[string]any),
	}
}

// AddParam adds a parameter and returns its placeholder.
func (b *CypherBuilder) AddParam(value any) string {
	paramName := fmt.Sprintf("p%d", b.counter)
	b.counter++
	b.params[paramName] = value
	return "$" + paramName
}

// Params returns all parameters for the query.
func (b *CypherBuilder) Params() map[string]any {
	return b.params
}

// BuildMergeVertex creates an idempotent MERGE on the canonical key
// property, then sets the remaining properties.
func (b *CypherBuilder) BuildMergeVertex(label, key string, properties map[string]any) (string, error) {
	if !isValidIdentifier(label) {
		return "", fmt.Errorf("invalid vertex label: %s (must be alphanumeric + underscore)", label)
	}

	keyParam := b.AddParam(key)

	setClauses := []string{}
	for prop, value := range properties {
		if prop == KeyProperty {
			continue
		}
		if !isValidIdentifier(prop) {
			return "", fmt.Errorf("invalid property name: %s (must be alphanumeric + underscore)", prop)
		}
		setClauses = append(setClauses, fmt.Sprintf("n.%s = %s", prop, b.AddParam(value)))
	}

	query := fmt.Sprintf("MERGE (n:%s {%s: %s})", label, KeyProperty, keyParam)
	if len(setClauses) > 0 {
		query += " SET " + strings.Join(setClauses, ", ")
	}
	return query, nil
}

// BuildMergeEdge creates an idempotent MERGE of a typed relationship
// between two vertices matched by canonical key.
func (b *CypherBuilder) BuildMergeEdge(
	fromLabel, fromKey string,
	toLabel, toKey string,
	edgeLabel string,
	properties map[string]any,
) (string, error) {
	if !isValidIdentifier(fromLabel) {
		return "", fmt.Errorf("invalid from label: %s", fromLabel)
	}
	if !isValidIdentifier(toLabel) {
		return "", fmt.Errorf("invalid to label: %s", toLabel)
	}
	if !isValidIdentifier(edgeLabel) {
		return "", fmt.Errorf("invalid edge label: %s", edgeLabel)
	}

	fromParam := b.AddParam(fromKey)
	toParam := b.AddParam(toKey)

	var propsStr string
	if len(properties) > 0 {
		propClauses := []string{}
		for prop, value := range properties {
			if !isValidIdentifier(prop) {
				return "", fmt.Errorf("invalid edge property name: %s", prop)
			}
			propClauses = append(propClauses, fmt.Sprintf("r.%s = %s", prop, b.AddParam(value)))
		}
		propsStr = " SET " + strings.Join(propClauses, ", ")
	}

	return fmt.Sprintf(
		"MATCH (from:%s {%s: %s}) MATCH (to:%s {%s: %s}) MERGE (from)-[r:%s]->(to)%s",
		fromLabel, KeyProperty, fromParam,
		toLabel, KeyProperty, toParam,
		edgeLabel,
		propsStr,
	), nil
}

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// isValidIdentifier validates that a string can be safely interpolated as a
// Cypher label or property name.
func isValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}
