// Package sitesearch runs the per-type searches and the combined site search
// exposed to callers.
package sitesearch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"sitesearch/internal/auth"
	"sitesearch/internal/entity"
	"sitesearch/internal/query"
	"sitesearch/internal/rbac"
	"sitesearch/internal/search"
)

// Group names used by SiteSearch, in the order they run.
const (
	GroupDatasets      = "datasets"
	GroupOrganizations = "organizations"
	GroupGroups        = "groups"
	GroupUsers         = "users"
	GroupPages         = "pages"
)

// ErrPagesDisabled is returned by page searches when page indexing is off.
var ErrPagesDisabled = errors.New("page search is not enabled")

// Result is the caller-facing outcome of one search.
type Result struct {
	Count        int              `json:"count"`
	Results      []map[string]any `json:"results"`
	SearchFacets map[string]Facet `json:"search_facets"`
}

type Facet struct {
	Title string      `json:"title"`
	Items []FacetItem `json:"items"`
}

type FacetItem struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Count       int    `json:"count"`
}

// Querier runs validated queries against the index.
type Querier interface {
	Execute(ctx context.Context, t entity.Type, params map[string]any, labels []string) (*query.Result, error)
}

// LabelResolver returns the permission labels an actor may see.
type LabelResolver interface {
	Labels(ctx context.Context, actor auth.Actor) ([]string, error)
}

type Authorizer interface {
	Authorize(ctx context.Context, actor auth.Actor, action rbac.Action) error
}

// DatasetSearcher runs dataset searches, which are owned by the platform.
type DatasetSearcher interface {
	PackageSearch(ctx context.Context, actor auth.Actor, params map[string]any) (map[string]any, error)
}

// TermRecorder keeps a log of search terms.
type TermRecorder interface {
	RecordSearchTerm(ctx context.Context, term, entityType, actor string) error
}

type Config struct {
	RowsMax      int
	PagesEnabled bool
}

// Deps groups the collaborators of a Service. Datasets and Terms are
// optional; Authorizer defaults to the role table in rbac.
type Deps struct {
	Querier    Querier
	Labels     LabelResolver
	Authorizer Authorizer
	Datasets   DatasetSearcher
	Terms      TermRecorder
	Hooks      *Hooks
}

type Service struct {
	deps Deps
	cfg  Config
	log  zerolog.Logger
}

func NewService(deps Deps, cfg Config, log zerolog.Logger) *Service {
	if deps.Hooks == nil {
		deps.Hooks = NewHooks()
	}
	if deps.Authorizer == nil {
		deps.Authorizer = rbac.Authorizer{}
	}
	if cfg.RowsMax <= 0 {
		cfg.RowsMax = 1000
	}
	return &Service{
		deps: deps,
		cfg:  cfg,
		log:  log.With().Str("component", "sitesearch").Logger(),
	}
}

// Hooks returns the registry transforms are added to.
func (s *Service) Hooks() *Hooks {
	return s.deps.Hooks
}

func (s *Service) OrganizationSearch(ctx context.Context, actor auth.Actor, params map[string]any) (*Result, error) {
	return s.Search(ctx, actor, entity.Organization, params)
}

func (s *Service) GroupSearch(ctx context.Context, actor auth.Actor, params map[string]any) (*Result, error) {
	return s.Search(ctx, actor, entity.Group, params)
}

func (s *Service) UserSearch(ctx context.Context, actor auth.Actor, params map[string]any) (*Result, error) {
	return s.Search(ctx, actor, entity.User, params)
}

func (s *Service) PageSearch(ctx context.Context, actor auth.Actor, params map[string]any) (*Result, error) {
	return s.Search(ctx, actor, entity.Page, params)
}

// Search runs one entity search: access check, before hooks, validation,
// query, blob decoding, facet restructuring and after hooks.
func (s *Service) Search(ctx context.Context, actor auth.Actor, t entity.Type, params map[string]any) (*Result, error) {
	action, ok := searchActions[t]
	if !ok {
		return nil, search.NewValidationError("entity_type", "Unsupported entity type: "+string(t))
	}
	if t == entity.Page && !s.cfg.PagesEnabled {
		return nil, ErrPagesDisabled
	}
	if err := s.deps.Authorizer.Authorize(ctx, actor, action); err != nil {
		return nil, err
	}

	params = s.deps.Hooks.runBefore(t, cloneParams(params))

	validated, err := query.Validate(params, s.cfg.RowsMax)
	if err != nil {
		return nil, err
	}

	var labels []string
	if t.Restricted() {
		labels, err = s.deps.Labels.Labels(ctx, actor)
		if err != nil {
			return nil, err
		}
	}

	raw, err := s.deps.Querier.Execute(ctx, t, validated, labels)
	if err != nil {
		return nil, err
	}

	result, err := buildResult(raw)
	if err != nil {
		return nil, err
	}

	s.recordTerm(ctx, actor, t, validated)

	return s.deps.Hooks.runAfter(t, result, validated), nil
}

// SiteSearch runs every search group with its share of params and returns
// the results keyed by group. Groups the actor may not search are left out.
func (s *Service) SiteSearch(ctx context.Context, actor auth.Actor, params map[string]any) (map[string]*Result, error) {
	if err := s.deps.Authorizer.Authorize(ctx, actor, rbac.ActionSiteSearch); err != nil {
		return nil, err
	}

	params = s.deps.Hooks.runBeforeSite(cloneParams(params))

	groups := s.Groups()
	split := ParseSearchParams(params, groups)

	results := make(map[string]*Result, len(groups))
	for _, group := range groups {
		result, err := s.searchGroup(ctx, actor, group, split[group])
		if errors.Is(err, rbac.ErrNotAuthorized) {
			s.log.Debug().Str("group", group).Msg("skipping search group, not authorized")
			continue
		}
		if err != nil {
			return nil, err
		}
		results[group] = result
	}

	return s.deps.Hooks.runAfterSite(results, params), nil
}

// Groups lists the site search groups that are available.
func (s *Service) Groups() []string {
	var groups []string
	if s.deps.Datasets != nil {
		groups = append(groups, GroupDatasets)
	}
	groups = append(groups, GroupOrganizations, GroupGroups, GroupUsers)
	if s.cfg.PagesEnabled {
		groups = append(groups, GroupPages)
	}
	return groups
}

func (s *Service) searchGroup(ctx context.Context, actor auth.Actor, group string, params map[string]any) (*Result, error) {
	switch group {
	case GroupDatasets:
		return s.datasetSearch(ctx, actor, params)
	case GroupOrganizations:
		return s.OrganizationSearch(ctx, actor, params)
	case GroupGroups:
		return s.GroupSearch(ctx, actor, params)
	case GroupUsers:
		return s.UserSearch(ctx, actor, params)
	case GroupPages:
		return s.PageSearch(ctx, actor, params)
	}
	return nil, search.NewValidationError("group", "Unknown search group: "+group)
}

func (s *Service) datasetSearch(ctx context.Context, actor auth.Actor, params map[string]any) (*Result, error) {
	if err := s.deps.Authorizer.Authorize(ctx, actor, rbac.ActionPackageSearch); err != nil {
		return nil, err
	}
	raw, err := s.deps.Datasets.PackageSearch(ctx, actor, params)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, search.EngineError{Message: "Could not read dataset search result", Err: err}
	}
	var result Result
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, search.EngineError{Message: "Could not read dataset search result", Err: err}
	}
	if result.Results == nil {
		result.Results = []map[string]any{}
	}
	if result.SearchFacets == nil {
		result.SearchFacets = map[string]Facet{}
	}
	return &result, nil
}

func (s *Service) recordTerm(ctx context.Context, actor auth.Actor, t entity.Type, params map[string]any) {
	if s.deps.Terms == nil {
		return
	}
	q, _ := params["q"].(string)
	q = strings.TrimSpace(q)
	if q == "" || q == query.MatchAll {
		return
	}
	if err := s.deps.Terms.RecordSearchTerm(ctx, q, string(t), actor.UserID); err != nil {
		s.log.Warn().Err(err).Str("entity_type", string(t)).Msg("could not record search term")
	}
}

var searchActions = map[entity.Type]rbac.Action{
	entity.Organization: rbac.ActionOrganizationSearch,
	entity.Group:        rbac.ActionGroupSearch,
	entity.User:         rbac.ActionUserSearch,
	entity.Page:         rbac.ActionPageSearch,
}

// buildResult decodes the stored record of every hit and reshapes facets
// for callers.
func buildResult(raw *query.Result) (*Result, error) {
	out := &Result{
		Count:        raw.Count,
		Results:      make([]map[string]any, 0, len(raw.Docs)),
		SearchFacets: make(map[string]Facet, len(raw.Facets)),
	}
	for _, doc := range raw.Docs {
		record, err := decodeRecord(doc)
		if err != nil {
			return nil, err
		}
		out.Results = append(out.Results, record)
	}
	for _, f := range raw.Facets {
		facet := Facet{Title: f.Name, Items: make([]FacetItem, 0, len(f.Values))}
		for _, v := range f.Values {
			facet.Items = append(facet.Items, FacetItem{Name: v.Value, DisplayName: v.Value, Count: v.Count})
		}
		out.SearchFacets[f.Name] = facet
	}
	return out, nil
}

// decodeRecord returns the source record stored with doc. Documents without
// one are returned as they are.
func decodeRecord(doc search.Document) (map[string]any, error) {
	blob, ok := doc[query.BlobField].(string)
	if !ok || blob == "" {
		out := make(map[string]any, len(doc))
		for k, v := range doc {
			if k != query.BlobField {
				out[k] = v
			}
		}
		return out, nil
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(blob), &record); err != nil {
		return nil, search.EngineError{Message: "Could not decode stored record", Err: err}
	}
	return record, nil
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
