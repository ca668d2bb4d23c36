// Package entity defines the entity types handled by the search index and
// the raw record shape they arrive in.
package entity

import (
	"fmt"
	"strings"
)

// Type identifies what kind of source record a document represents.
type Type string

const (
	Organization Type = "organization"
	Group        Type = "group"
	User         Type = "user"
	Page         Type = "page"
	Dataset      Type = "dataset"
)

// DatasetDocType is the entity_type the host platform stamps on the dataset
// documents it writes to the shared index.
const DatasetDocType = "package"

// Indexed lists the types whose documents are owned by this service.
// Dataset documents are written by the host platform.
var Indexed = []Type{Organization, Group, User, Page}

// Record is a raw entity payload as returned by the platform's show actions.
type Record map[string]any

// Restricted reports whether documents of this type carry permission labels.
func (t Type) Restricted() bool {
	return t == Page
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	switch t {
	case Organization, Group, User, Page, Dataset:
		return true
	default:
		return false
	}
}

func (t Type) String() string {
	return string(t)
}

var aliases = map[string]Type{
	"org":           Organization,
	"orgs":          Organization,
	"organization":  Organization,
	"organizations": Organization,
	"organisation":  Organization,
	"organisations": Organization,
	"group":         Group,
	"groups":        Group,
	"user":          User,
	"users":         User,
	"page":          Page,
	"pages":         Page,
	"dataset":       Dataset,
	"datasets":      Dataset,
	"package":       Dataset,
	"packages":      Dataset,
}

// ParseType resolves a type name or one of its accepted aliases.
func ParseType(name string) (Type, error) {
	t, ok := aliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("unknown entity type: %s", name)
	}
	return t, nil
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// String returns the value of key as a string, or "" when absent or nil.
func (r Record) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool interprets the value of key as a boolean flag. Strings such as
// "true" or "True" are accepted because platform payloads are not typed.
func (r Record) Bool(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "1"
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return false
	}
}
