// Package filter is the scoped query language shared by every document
// store backend. Filters are built as an expression tree; the Meilisearch
// backend renders the tree into its filter syntax and the in-memory backend
// evaluates it directly against stored documents.
package filter

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is a node of a filter expression.
type Expr interface {
	expr()
}

// Eq matches documents whose field equals Value. Multi-valued fields match
// when any element equals Value.
type Eq struct {
	Field string
	Value string
}

// In matches documents whose field equals any of Values.
type In struct {
	Field  string
	Values []string
}

// Not negates X.
type Not struct {
	X Expr
}

// And matches when every child matches. An empty And matches everything.
type And []Expr

// Or matches when any child matches. An empty Or matches nothing.
type Or []Expr

func (Eq) expr()  {}
func (In) expr()  {}
func (Not) expr() {}
func (And) expr() {}
func (Or) expr()  {}

// All joins the non-nil expressions with AND. It returns nil when nothing
// remains, and the single expression unwrapped when only one does.
func All(exprs ...Expr) Expr {
	var out And
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if inner, ok := e.(And); ok {
			out = append(out, inner...)
			continue
		}
		out = append(out, e)
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

// Render writes e in Meilisearch filter syntax.
func Render(e Expr) string {
	switch v := e.(type) {
	case nil:
		return ""
	case Eq:
		return fmt.Sprintf("%s = %s", v.Field, quote(v.Value))
	case In:
		quoted := make([]string, len(v.Values))
		for i, val := range v.Values {
			quoted[i] = quote(val)
		}
		return fmt.Sprintf("%s IN [%s]", v.Field, strings.Join(quoted, ", "))
	case Not:
		return "NOT " + group(v.X)
	case And:
		return join(v, " AND ")
	case Or:
		return join(v, " OR ")
	default:
		panic(fmt.Sprintf("filter: unknown expression %T", e))
	}
}

func join(children []Expr, sep string) string {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		parts = append(parts, group(c))
	}
	return strings.Join(parts, sep)
}

func group(e Expr) string {
	switch e.(type) {
	case And, Or, Not:
		return "(" + Render(e) + ")"
	default:
		return Render(e)
	}
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// Match evaluates e against a stored document.
func Match(e Expr, doc map[string]any) bool {
	switch v := e.(type) {
	case nil:
		return true
	case Eq:
		return fieldEquals(doc[v.Field], v.Value)
	case In:
		for _, val := range v.Values {
			if fieldEquals(doc[v.Field], val) {
				return true
			}
		}
		return false
	case Not:
		return !Match(v.X, doc)
	case And:
		for _, c := range v {
			if !Match(c, doc) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range v {
			if Match(c, doc) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func fieldEquals(value any, want string) bool {
	switch v := value.(type) {
	case nil:
		return false
	case []string:
		for _, item := range v {
			if item == want {
				return true
			}
		}
		return false
	case []any:
		for _, item := range v {
			if fieldEquals(item, want) {
				return true
			}
		}
		return false
	default:
		return Stringify(v) == want
	}
}

// Stringify formats a scalar document value the way filters compare it.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
