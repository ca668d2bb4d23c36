package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"sitesearch/internal/search/filter"
)

// Memory is an in-process Store. Writes are buffered until Commit, the same
// way the Meilisearch backend only guarantees visibility once the enqueued
// tasks have been processed.
type Memory struct {
	mu      sync.RWMutex
	docs    map[string]Document
	pending []memoryOp
}

type memoryOp struct {
	add   []Document
	where filter.Expr
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]Document)}
}

// Healthy always reports true.
func (m *Memory) Healthy() bool {
	return true
}

// Add stores docs, replacing any document with the same index_id.
func (m *Memory) Add(_ context.Context, docs []Document, commit bool) error {
	stored := make([]Document, 0, len(docs))
	for _, d := range docs {
		key, ok := d[PrimaryKey].(string)
		if !ok || key == "" {
			return NewIndexError(fmt.Sprintf("document is missing %s", PrimaryKey), nil)
		}
		cp, err := roundTrip(d)
		if err != nil {
			return NewIndexError(err.Error(), err)
		}
		stored = append(stored, cp)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, memoryOp{add: stored})
	if commit {
		m.commitLocked()
	}
	return nil
}

// Delete removes every document matching where.
func (m *Memory) Delete(_ context.Context, where filter.Expr, commit bool) error {
	if where == nil {
		return NewIndexError("refusing to delete without a filter", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, memoryOp{where: where})
	if commit {
		m.commitLocked()
	}
	return nil
}

// Commit applies buffered writes in order.
func (m *Memory) Commit(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitLocked()
	return nil
}

func (m *Memory) commitLocked() {
	for _, op := range m.pending {
		if op.where != nil {
			for key, doc := range m.docs {
				if filter.Match(op.where, doc) {
					delete(m.docs, key)
				}
			}
			continue
		}
		for _, d := range op.add {
			m.docs[d[PrimaryKey].(string)] = d
		}
	}
	m.pending = nil
}

// Search evaluates req against committed documents.
func (m *Memory) Search(_ context.Context, req Request) (*Response, error) {
	terms, prefixes := queryTerms(req.Query)
	searchOn := req.SearchOn
	if len(searchOn) == 0 && req.DefaultField != "" {
		searchOn = []string{req.DefaultField}
	}

	m.mu.RLock()
	var hits []Document
	for _, doc := range m.docs {
		if !filter.Match(req.Filter, doc) {
			continue
		}
		if !matchText(doc, searchOn, terms, prefixes, req.Operator == OperatorOr) {
			continue
		}
		hits = append(hits, doc)
	}
	m.mu.RUnlock()

	sortDocs(hits, req.Sort)

	resp := &Response{Count: len(hits), Docs: []Document{}}
	for _, name := range req.Facets {
		resp.Facets = append(resp.Facets, countFacet(name, hits))
	}

	start := req.Offset
	if start > len(hits) {
		start = len(hits)
	}
	end := len(hits)
	if req.Limit >= 0 && start+req.Limit < end {
		end = start + req.Limit
	}
	for _, doc := range hits[start:end] {
		resp.Docs = append(resp.Docs, project(doc, req.Fields))
	}
	return resp, nil
}

func roundTrip(d Document) (Document, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}

func project(doc Document, fields []string) Document {
	out := make(Document, len(doc))
	if len(fields) == 0 {
		for k, v := range doc {
			out[k] = v
		}
		return out
	}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// queryTerms splits a free-text query into lowercase terms. Terms ending in
// "*" match by prefix. Boolean keywords are dropped; the operator is carried
// by the request.
func queryTerms(q string) (terms []string, prefixes []bool) {
	for _, word := range strings.Fields(q) {
		switch word {
		case "AND", "OR", "&&", "||":
			continue
		}
		prefix := strings.HasSuffix(word, "*")
		for _, tok := range tokenize(strings.TrimSuffix(word, "*")) {
			terms = append(terms, tok)
			prefixes = append(prefixes, prefix)
		}
	}
	return terms, prefixes
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func matchText(doc Document, fields, terms []string, prefixes []bool, anyTerm bool) bool {
	if len(terms) == 0 {
		return true
	}
	var tokens []string
	for _, f := range fields {
		tokens = append(tokens, tokenize(flatten(doc[f]))...)
	}
	if len(fields) == 0 {
		for _, v := range doc {
			tokens = append(tokens, tokenize(flatten(v))...)
		}
	}

	matched := 0
	for i, term := range terms {
		if containsToken(tokens, term, prefixes[i]) {
			if anyTerm {
				return true
			}
			matched++
		}
	}
	return matched == len(terms)
}

func containsToken(tokens []string, term string, prefix bool) bool {
	for _, tok := range tokens {
		if tok == term || (prefix && strings.HasPrefix(tok, term)) {
			return true
		}
	}
	return false
}

func flatten(v any) string {
	switch t := v.(type) {
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			parts = append(parts, flatten(item))
		}
		return strings.Join(parts, " ")
	case map[string]any:
		return ""
	default:
		return filter.Stringify(t)
	}
}

func sortDocs(docs []Document, fields []SortField) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, sf := range fields {
			c := compareValues(docs[i][sf.Field], docs[j][sf.Field], sf.Desc)
			if c != 0 {
				return c < 0
			}
		}
		return filter.Stringify(docs[i][PrimaryKey]) < filter.Stringify(docs[j][PrimaryKey])
	})
}

// compareValues orders a before b for the given direction. Missing values
// sort last in both directions.
func compareValues(a, b any, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	var c int
	af, aNum := a.(float64)
	bf, bNum := b.(float64)
	if aNum && bNum {
		switch {
		case af < bf:
			c = -1
		case af > bf:
			c = 1
		}
	} else {
		c = strings.Compare(filter.Stringify(a), filter.Stringify(b))
	}
	if desc {
		return -c
	}
	return c
}

func countFacet(name string, docs []Document) FacetField {
	counts := map[string]int{}
	for _, doc := range docs {
		switch v := doc[name].(type) {
		case nil:
		case []any:
			seen := map[string]bool{}
			for _, item := range v {
				s := filter.Stringify(item)
				if !seen[s] {
					seen[s] = true
					counts[s]++
				}
			}
		default:
			counts[filter.Stringify(v)]++
		}
	}
	field := FacetField{Name: name, Values: make([]FacetValue, 0, len(counts))}
	for value, count := range counts {
		field.Values = append(field.Values, FacetValue{Value: value, Count: count})
	}
	sort.Slice(field.Values, func(i, j int) bool {
		if field.Values[i].Count != field.Values[j].Count {
			return field.Values[i].Count > field.Values[j].Count
		}
		return field.Values[i].Value < field.Values[j].Value
	})
	return field
}
