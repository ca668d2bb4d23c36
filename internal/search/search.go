// Package search is the document store abstraction used by the index writer
// and the query executor, with a Meilisearch backend and an in-memory one.
package search

import (
	"context"

	"sitesearch/internal/search/filter"
)

// Document is a flat indexed document. Its primary key is "index_id".
type Document map[string]any

// PrimaryKey is the document field the store keys documents on.
const PrimaryKey = "index_id"

// Operators for multi-term free-text queries.
const (
	OperatorAnd = "AND"
	OperatorOr  = "OR"
)

// SortField is one component of a sort expression.
type SortField struct {
	Field string
	Desc  bool
}

// Request describes a scoped query against the store.
type Request struct {
	// Query is the free-text query. Empty matches every document.
	Query string
	// Fields restricts the returned attributes. Empty returns everything.
	Fields []string
	// SearchOn restricts the attributes the free-text query is matched
	// against. Empty means DefaultField.
	SearchOn     []string
	DefaultField string
	Operator     string
	Filter       filter.Expr
	Sort         []SortField
	Offset       int
	Limit        int
	Facets       []string
}

// FacetValue is one value of a facet and its document count.
type FacetValue struct {
	Value string
	Count int
}

// FacetField holds the values of one facet in engine order.
type FacetField struct {
	Name   string
	Values []FacetValue
}

// Response is the raw result of a query.
type Response struct {
	Count  int
	Docs   []Document
	Facets []FacetField
}

// Store is a full-text document store with explicit commit. Writes made with
// commit=false become visible to Search only after Commit.
type Store interface {
	Add(ctx context.Context, docs []Document, commit bool) error
	Delete(ctx context.Context, where filter.Expr, commit bool) error
	Commit(ctx context.Context) error
	Search(ctx context.Context, req Request) (*Response, error)
	Healthy() bool
}
