// Package query builds scoped store queries from caller parameters and runs
// them.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sitesearch/internal/entity"
	"sitesearch/internal/metrics"
	"sitesearch/internal/search"
	"sitesearch/internal/search/filter"
)

// Parameters accepted by Execute.
var validParams = map[string]bool{
	"q": true, "fl": true, "fq": true, "rows": true, "sort": true,
	"start": true, "qf": true, "facet": true, "facet.mincount": true,
	"facet.limit": true, "facet.field": true,
}

// MatchAll is the query used when the caller gives none.
const MatchAll = "*:*"

// DefaultField is the catch-all field free text is matched against.
const DefaultField = "text"

// BlobField holds the serialized source record of every document.
const BlobField = "validated_data_dict"

const (
	defaultFacetMinCount = 1
	defaultFacetLimit    = 50
)

var defaultSorts = map[entity.Type]string{
	entity.Organization: "title asc",
	entity.Group:        "title asc",
	entity.User:         "fullname asc, name asc",
	entity.Page:         "publish_date desc, metadata_modified desc",
}

// DefaultSort returns the sort applied to t when the caller sets none.
func DefaultSort(t entity.Type) string {
	return defaultSorts[t]
}

// Result is the raw outcome of a query: documents still carry their
// serialized source record.
type Result struct {
	Count  int
	Docs   []search.Document
	Facets []search.FacetField
}

// Executor runs queries for one site.
type Executor struct {
	store      search.Store
	siteID     string
	filterable map[string]bool
	log        zerolog.Logger
}

// NewExecutor returns an Executor. filterable names the fields that
// `field:value` terms in q may be turned into filters on.
func NewExecutor(store search.Store, siteID string, filterable []string, log zerolog.Logger) *Executor {
	set := make(map[string]bool, len(filterable))
	for _, f := range filterable {
		set[f] = true
	}
	return &Executor{
		store:      store,
		siteID:     siteID,
		filterable: set,
		log:        log.With().Str("component", "query").Logger(),
	}
}

// Execute runs a query for documents of type t. labels restrict restricted
// types to documents sharing at least one label; none means public only.
func (e *Executor) Execute(ctx context.Context, t entity.Type, params map[string]any, labels []string) (*Result, error) {
	started := time.Now()
	req, err := e.Build(t, params, labels)
	if err != nil {
		metrics.ObserveQuery(string(t), "invalid", started)
		return nil, err
	}

	e.log.Debug().
		Str("entity_type", string(t)).
		Str("query", describe(req)).
		Msg("running query")

	resp, err := e.store.Search(ctx, req)
	if err != nil {
		metrics.ObserveQuery(string(t), "error", started)
		e.log.Error().Err(err).Str("entity_type", string(t)).Msg("query failed")
		return nil, search.EngineError{
			Message: "Search backend returned an error running query",
			Query:   describe(req),
			Err:     err,
		}
	}
	metrics.ObserveQuery(string(t), "success", started)

	return &Result{
		Count:  resp.Count,
		Docs:   resp.Docs,
		Facets: limitFacets(resp.Facets, params),
	}, nil
}

// Build turns caller parameters into a store request without running it.
func (e *Executor) Build(t entity.Type, params map[string]any, labels []string) (search.Request, error) {
	var invalid []string
	for key := range params {
		if !validParams[key] {
			invalid = append(invalid, key)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return search.Request{}, search.QueryError{Message: "Invalid search parameters", Keys: invalid}
	}

	q := strings.TrimSpace(stringParam(params, "q"))
	if q == "" || q == `""` || q == "''" {
		q = MatchAll
	}
	if strings.HasPrefix(q, "{!") {
		return search.Request{}, search.EngineError{Message: "Local parameters are not supported", Query: q}
	}

	text, fielded, op := e.splitQuery(q)

	var callerFilter filter.Expr
	if fq := stringParam(params, "fq"); strings.TrimSpace(fq) != "" {
		parsed, err := filter.Parse(fq)
		if err != nil {
			return search.Request{}, search.QueryError{Message: fmt.Sprintf("Invalid filter query: %v", err)}
		}
		callerFilter = parsed
	}

	var permission filter.Expr
	if t.Restricted() {
		if len(labels) == 0 {
			labels = []string{"public"}
		}
		permission = filter.In{Field: "permission_labels", Values: labels}
	}

	sortExpr := stringParam(params, "sort")
	if strings.TrimSpace(sortExpr) == "" {
		sortExpr = DefaultSort(t)
	}
	sortFields, err := ParseSort(sortExpr)
	if err != nil {
		return search.Request{}, err
	}

	req := search.Request{
		Query:        text,
		SearchOn:     parseQueryFields(stringParam(params, "qf")),
		DefaultField: DefaultField,
		Operator:     op,
		Filter: filter.All(
			callerFilter,
			fielded,
			filter.Eq{Field: "entity_type", Value: string(t)},
			filter.Eq{Field: "site_id", Value: e.siteID},
			permission,
		),
		Sort:   sortFields,
		Offset: intParam(params, "start", 0),
		Limit:  intParam(params, "rows", DefaultRows),
	}

	if fl := listParam(params, "fl"); len(fl) > 0 {
		req.Fields = fl
		if !contains(fl, BlobField) {
			req.Fields = append(req.Fields, BlobField)
		}
	}

	if facetsEnabled(params) {
		req.Facets = listParam(params, "facet.field")
	}
	return req, nil
}

// splitQuery pulls `field:value` terms on filterable fields out of q and
// returns them as filters. Other fielded terms are searched as plain text.
// A top-level OR switches the query to any-term matching; the fielded
// filters are then OR-ed, or folded into the text when free words are
// present, since a filter cannot be OR-ed with relevance matching.
func (e *Executor) splitQuery(q string) (string, filter.Expr, string) {
	op := search.OperatorAnd
	if q == MatchAll {
		return "", nil, op
	}
	var words, values []string
	var filters []filter.Expr
	for _, word := range strings.Fields(q) {
		switch word {
		case "OR", "||":
			op = search.OperatorOr
			continue
		case "AND", "&&":
			continue
		}
		field, value, ok := strings.Cut(word, ":")
		if !ok || field == "" || value == "" {
			words = append(words, word)
			continue
		}
		value = strings.Trim(value, `"'`)
		if e.filterable[field] {
			filters = append(filters, filter.Eq{Field: field, Value: value})
			values = append(values, value)
			continue
		}
		if value != "*" {
			words = append(words, value)
		}
	}
	if op == search.OperatorAnd {
		return strings.Join(words, " "), filter.All(filters...), op
	}
	if len(words) > 0 {
		return strings.Join(append(words, values...), " "), nil, op
	}
	if len(filters) == 1 {
		return "", filters[0], op
	}
	if len(filters) == 0 {
		return "", nil, op
	}
	return "", filter.Or(filters), op
}

// ParseSort reads "field asc, other desc". The relevance pseudo-field
// "score" is dropped since relevance is the store's natural order.
func ParseSort(expr string) ([]search.SortField, error) {
	var out []search.SortField
	for _, part := range strings.Split(expr, ",") {
		tokens := strings.Fields(part)
		if len(tokens) == 0 {
			continue
		}
		if len(tokens) > 2 {
			return nil, search.QueryError{Message: fmt.Sprintf("Invalid sort expression %q", strings.TrimSpace(part))}
		}
		sf := search.SortField{Field: tokens[0]}
		if len(tokens) == 2 {
			switch strings.ToLower(tokens[1]) {
			case "asc":
			case "desc":
				sf.Desc = true
			default:
				return nil, search.QueryError{Message: fmt.Sprintf("Invalid sort direction %q", tokens[1])}
			}
		}
		if sf.Field == "score" {
			continue
		}
		out = append(out, sf)
	}
	return out, nil
}

// parseQueryFields strips boosts from a "title^2 notes" field list.
func parseQueryFields(qf string) []string {
	var out []string
	for _, f := range strings.Fields(qf) {
		name, _, _ := strings.Cut(f, "^")
		if name != "" {
			out = append(out, name)
		}
	}
	return out
}

func facetsEnabled(params map[string]any) bool {
	if _, ok := params["facet.field"]; !ok {
		return false
	}
	switch strings.ToLower(stringParam(params, "facet")) {
	case "false", "off", "0":
		return false
	}
	return true
}

// limitFacets applies facet.mincount and facet.limit to facets already in
// count order. A negative limit keeps every value.
func limitFacets(facets []search.FacetField, params map[string]any) []search.FacetField {
	minCount := intParam(params, "facet.mincount", defaultFacetMinCount)
	limit := intParam(params, "facet.limit", defaultFacetLimit)
	out := make([]search.FacetField, 0, len(facets))
	for _, f := range facets {
		kept := search.FacetField{Name: f.Name, Values: []search.FacetValue{}}
		for _, v := range f.Values {
			if v.Count < minCount {
				continue
			}
			if limit >= 0 && len(kept.Values) >= limit {
				break
			}
			kept.Values = append(kept.Values, v)
		}
		out = append(out, kept)
	}
	return out
}

func describe(req search.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "q=%q fq=%q", req.Query, filter.Render(req.Filter))
	if len(req.Sort) > 0 {
		parts := make([]string, 0, len(req.Sort))
		for _, s := range req.Sort {
			dir := "asc"
			if s.Desc {
				dir = "desc"
			}
			parts = append(parts, s.Field+" "+dir)
		}
		fmt.Fprintf(&b, " sort=%q", strings.Join(parts, ", "))
	}
	fmt.Fprintf(&b, " start=%d rows=%d", req.Offset, req.Limit)
	return b.String()
}

func stringParam(params map[string]any, key string) string {
	switch v := scalar(params[key]).(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}
	n, err := integer(scalar(v))
	if err != nil {
		return def
	}
	return n
}

func listParam(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok || v == nil {
		return nil
	}
	if key == "facet.field" {
		fields, err := stringList(v)
		if err != nil {
			return nil
		}
		return fields
	}
	return toList(v)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
