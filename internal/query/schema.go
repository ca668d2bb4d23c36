package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"sitesearch/internal/search"
)

// DefaultRows is used when the caller does not ask for a page size.
const DefaultRows = 10

// Validate checks and coerces search parameters. rows defaults to
// DefaultRows and is capped at rowsMax. Keys it does not know are passed
// through untouched so the whitelist can report them.
func Validate(params map[string]any, rowsMax int) (map[string]any, error) {
	out := make(map[string]any, len(params)+1)
	errs := map[string][]string{}
	fail := func(key, msg string) {
		errs[key] = append(errs[key], msg)
	}

	for key, raw := range params {
		v := scalar(raw)
		switch key {
		case "q", "fq", "sort", "qf", "facet":
			if v == nil {
				continue
			}
			out[key] = fmt.Sprint(v)
		case "fl":
			if raw == nil {
				continue
			}
			out[key] = toList(raw)
		case "rows", "start", "facet.mincount":
			if v == nil {
				continue
			}
			n, err := naturalNumber(v)
			if err != nil {
				fail(key, err.Error())
				continue
			}
			out[key] = n
		case "facet.limit":
			if v == nil {
				continue
			}
			n, err := integer(v)
			if err != nil {
				fail(key, err.Error())
				continue
			}
			out[key] = n
		case "facet.field":
			if raw == nil {
				continue
			}
			fields, err := stringList(raw)
			if err != nil {
				fail(key, err.Error())
				continue
			}
			out[key] = fields
		default:
			out[key] = raw
		}
	}

	if _, ok := out["rows"]; !ok && len(errs["rows"]) == 0 {
		out["rows"] = DefaultRows
	}
	if rows, ok := out["rows"].(int); ok && rowsMax > 0 && rows > rowsMax {
		out["rows"] = rowsMax
	}

	if len(errs) > 0 {
		return nil, search.ValidationError{Fields: errs}
	}
	return out, nil
}

// scalar unwraps single-element lists, which is how repeated query string
// keys arrive.
func scalar(v any) any {
	switch t := v.(type) {
	case []string:
		if len(t) == 1 {
			return t[0]
		}
	case []any:
		if len(t) == 1 {
			return t[0]
		}
	}
	return v
}

func integer(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t != float64(int(t)) {
			return 0, fmt.Errorf("Invalid integer")
		}
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("Invalid integer")
		}
		return n, nil
	case json.Number:
		n, err := strconv.Atoi(t.String())
		if err != nil {
			return 0, fmt.Errorf("Invalid integer")
		}
		return n, nil
	default:
		return 0, fmt.Errorf("Invalid integer")
	}
}

func naturalNumber(v any) (int, error) {
	n, err := integer(v)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("Must be a natural number")
	}
	return n, nil
}

// stringList accepts a list of strings or a JSON-encoded one. A bare string
// that is not JSON is taken as a single-element list.
func stringList(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(t), &decoded); err != nil {
			return []string{t}, nil
		}
		if s, ok := decoded.(string); ok {
			return []string{s}, nil
		}
		return stringList(decoded)
	case []string:
		if len(t) == 1 && strings.HasPrefix(strings.TrimSpace(t[0]), "[") {
			return stringList(t[0])
		}
		return t, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("Not a list of strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("Not a list of strings")
	}
}

// toList splits a comma or space separated string; lists pass through.
func toList(v any) []string {
	var items []string
	switch t := v.(type) {
	case string:
		items = []string{t}
	case []string:
		items = t
	case []any:
		for _, item := range t {
			items = append(items, fmt.Sprint(item))
		}
	default:
		items = []string{fmt.Sprint(t)}
	}
	var out []string
	for _, item := range items {
		out = append(out, strings.FieldsFunc(item, func(r rune) bool {
			return r == ',' || r == ' '
		})...)
	}
	return out
}
