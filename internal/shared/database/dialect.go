package database

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var pathSegment = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// JSONMatch is one "document field equals value" condition. Path is a dotted
// path into the stored JSON document, for example "attributes.gold".
type JSONMatch struct {
	Path  string
	Value any
}

// JSONEquals returns a WHERE fragment comparing the JSON value found at path
// inside column with value, plus its bind arguments. Values are compared as
// JSON, so 100 and 100.0 match.
func (d Dialect) JSONEquals(column string, m JSONMatch) (string, []any, error) {
	segments, err := splitPath(m.Path)
	if err != nil {
		return "", nil, err
	}

	value, err := json.Marshal(m.Value)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode match value for %q: %w", m.Path, err)
	}

	switch d {
	case DialectSQLite:
		return fmt.Sprintf("json_extract(%s, ?) = json_extract(?, '$')", column),
			[]any{"$." + strings.Join(segments, "."), string(value)}, nil
	default:
		return fmt.Sprintf("%s #> ?::text[] = ?::jsonb", column),
			[]any{"{" + strings.Join(segments, ",") + "}", string(value)}, nil
	}
}

// JSONContains returns a WHERE fragment matching documents whose array at
// m.Path holds m.Value as one of its elements.
func (d Dialect) JSONContains(column string, m JSONMatch) (string, []any, error) {
	segments, err := splitPath(m.Path)
	if err != nil {
		return "", nil, err
	}

	switch d {
	case DialectSQLite:
		return fmt.Sprintf("EXISTS (SELECT 1 FROM json_each(%s, ?) WHERE json_each.value = ?)", column),
			[]any{"$." + strings.Join(segments, "."), m.Value}, nil
	default:
		element, err := json.Marshal([]any{m.Value})
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode match value for %q: %w", m.Path, err)
		}
		return fmt.Sprintf("%s #> ?::text[] @> ?::jsonb", column),
			[]any{"{" + strings.Join(segments, ",") + "}", string(element)}, nil
	}
}

// ForUpdate adds a row lock to a SELECT run inside a transaction. SQLite has
// no row locks; its single connection already serializes transactions.
func (d Dialect) ForUpdate(query string) string {
	if d == DialectSQLite {
		return query
	}
	return query + " FOR UPDATE"
}

func splitPath(path string) ([]string, error) {
	segments := strings.Split(path, ".")
	for _, s := range segments {
		if !pathSegment.MatchString(s) {
			return nil, fmt.Errorf("invalid document path %q", path)
		}
	}
	return segments, nil
}
