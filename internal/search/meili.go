package search

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"sitesearch/internal/search/filter"
)

// Attributes configured on the shared index.
var (
	FilterableAttributes = []string{
		"id", "name", "entity_type", "site_id", "permission_labels", "state",
		"type", "is_organization", "capacity", "private", "group_id",
	}
	SortableAttributes = []string{
		"title", "title_string", "name", "fullname", "metadata_created",
		"metadata_modified", "publish_date", "package_count",
	}
	SearchableAttributes = []string{"title", "display_name", "name", "fullname", "notes", "text"}
)

const taskPollInterval = 50 * time.Millisecond

// DefaultMaxTotalHits bounds how many hits the engine counts and pages
// through. Meilisearch's own default of 1000 is too low for user indexes.
const DefaultMaxTotalHits = 100000

// MeiliConfig configures the Meilisearch backend.
type MeiliConfig struct {
	URL    string
	APIKey string
	Index  string
	// ExtraFilterable is appended to FilterableAttributes.
	ExtraFilterable []string
	// MaxTotalHits defaults to DefaultMaxTotalHits.
	MaxTotalHits int64
}

// Meili implements Store on a single Meilisearch index shared by every
// entity type and site. Commit waits for the engine tasks enqueued by
// earlier writes.
type Meili struct {
	client     meili.ServiceManager
	uid        string
	filterable []string
	maxHits    int64
	log        zerolog.Logger
	healthy    atomic.Bool
	done       chan struct{}

	mu      sync.Mutex
	pending []int64
}

// NewMeili creates a Meilisearch client and configures the index. An
// unreachable server is not fatal: the backend reports unhealthy and the
// index is configured once it recovers.
func NewMeili(cfg MeiliConfig, log zerolog.Logger) *Meili {
	client := meili.New(cfg.URL, meili.WithAPIKey(cfg.APIKey))
	if cfg.MaxTotalHits <= 0 {
		cfg.MaxTotalHits = DefaultMaxTotalHits
	}

	m := &Meili{
		client:     client,
		uid:        cfg.Index,
		filterable: append(append([]string{}, FilterableAttributes...), cfg.ExtraFilterable...),
		maxHits:    cfg.MaxTotalHits,
		log:        log.With().Str("component", "meili").Str("index", cfg.Index).Logger(),
		done:       make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		m.log.Error().Err(err).Str("url", cfg.URL).Msg("could not connect to meilisearch")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        m.uid,
		PrimaryKey: PrimaryKey,
	}); err != nil {
		m.log.Debug().Err(err).Msg("create index (may already exist)")
	}

	index := m.client.Index(m.uid)
	filterable := make([]interface{}, len(m.filterable))
	for i, v := range m.filterable {
		filterable[i] = v
	}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Error().Err(err).Msg("update filterable attributes")
	}
	searchable := append([]string{}, SearchableAttributes...)
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Error().Err(err).Msg("update searchable attributes")
	}
	sortable := append([]string{}, SortableAttributes...)
	if _, err := index.UpdateSortableAttributes(&sortable); err != nil {
		m.log.Error().Err(err).Msg("update sortable attributes")
	}
	if _, err := index.UpdatePagination(&meili.Pagination{MaxTotalHits: m.maxHits}); err != nil {
		m.log.Error().Err(err).Msg("update pagination")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Add enqueues docs. With commit set it waits for this write's task only;
// otherwise the task is left for the next Commit.
func (m *Meili) Add(ctx context.Context, docs []Document, commit bool) error {
	if len(docs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	task, err := m.client.Index(m.uid).AddDocuments(docs, nil)
	if err != nil {
		return m.classify(err)
	}
	if commit {
		return m.wait(ctx, task.TaskUID)
	}
	m.enqueue(task.TaskUID)
	return nil
}

// Delete enqueues a delete-by-filter task.
func (m *Meili) Delete(ctx context.Context, where filter.Expr, commit bool) error {
	if where == nil {
		return NewIndexError("refusing to delete without a filter", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	task, err := m.client.Index(m.uid).DeleteDocumentsByFilter(filter.Render(where), nil)
	if err != nil {
		return m.classify(err)
	}
	if commit {
		return m.wait(ctx, task.TaskUID)
	}
	m.enqueue(task.TaskUID)
	return nil
}

// Commit waits until every pending task has been processed. The first
// failed task is reported; later tasks are still awaited.
func (m *Meili) Commit(ctx context.Context) error {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	var firstErr error
	for _, uid := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.wait(ctx, uid); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// wait blocks until task uid is processed and reports its failure.
func (m *Meili) wait(ctx context.Context, uid int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	task, err := m.client.WaitForTaskWithContext(ctx, uid, taskPollInterval)
	if err != nil {
		return m.classify(err)
	}
	if task.Status == meili.TaskStatusFailed {
		return fmt.Errorf("task %d failed: %v", uid, task.Error)
	}
	return nil
}

func (m *Meili) enqueue(uid int64) {
	m.mu.Lock()
	m.pending = append(m.pending, uid)
	m.mu.Unlock()
}

// Search runs req against the index.
func (m *Meili) Search(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sr := buildSearchRequest(req)
	resp, err := m.client.Index(m.uid).Search(meiliQuery(req.Query), sr)
	if err != nil {
		return nil, m.classify(err)
	}

	out := &Response{Count: hitCount(sr, resp), Docs: make([]Document, 0, len(resp.Hits))}
	hits := resp.Hits
	if req.Limit == 0 {
		hits = nil
	}
	for _, hit := range hits {
		doc, err := decodeHit(hit)
		if err != nil {
			return nil, fmt.Errorf("decode hit: %w", err)
		}
		out.Docs = append(out.Docs, doc)
	}
	if len(req.Facets) > 0 {
		raw, err := json.Marshal(resp.FacetDistribution)
		if err != nil {
			return nil, fmt.Errorf("encode facet distribution: %w", err)
		}
		out.Facets = decodeFacets(raw, req.Facets)
	}
	return out, nil
}

// classify marks err as a connection failure when the server no longer
// answers health checks.
func (m *Meili) classify(err error) error {
	if _, herr := m.client.Health(); herr != nil {
		m.healthy.Store(false)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// buildSearchRequest pages by page number whenever the offset falls on a
// page boundary, since only then does the engine return an exhaustive
// totalHits. A zero limit cannot be sent (the client omits it), so one hit
// is fetched and dropped.
func buildSearchRequest(req Request) *meili.SearchRequest {
	sr := &meili.SearchRequest{MatchingStrategy: meili.All}
	limit := int64(req.Limit)
	if limit <= 0 {
		limit = 1
	}
	offset := int64(req.Offset)
	if offset%limit == 0 {
		sr.Page = offset/limit + 1
		sr.HitsPerPage = limit
	} else {
		sr.Offset = offset
		sr.Limit = limit
	}
	if req.Operator == OperatorOr {
		sr.MatchingStrategy = meili.Last
	}
	if len(req.Fields) > 0 {
		sr.AttributesToRetrieve = req.Fields
	}
	switch {
	case len(req.SearchOn) > 0:
		sr.AttributesToSearchOn = req.SearchOn
	case req.DefaultField != "":
		sr.AttributesToSearchOn = []string{req.DefaultField}
	}
	if f := filter.Render(req.Filter); f != "" {
		sr.Filter = f
	}
	for _, s := range req.Sort {
		dir := "asc"
		if s.Desc {
			dir = "desc"
		}
		sr.Sort = append(sr.Sort, s.Field+":"+dir)
	}
	if len(req.Facets) > 0 {
		sr.Facets = req.Facets
	}
	return sr
}

// hitCount prefers the exhaustive count of page-number requests.
func hitCount(sr *meili.SearchRequest, resp *meili.SearchResponse) int {
	if sr.HitsPerPage > 0 {
		return int(resp.TotalHits)
	}
	return int(resp.EstimatedTotalHits)
}

// meiliQuery drops boolean keywords and wildcard suffixes, which Meilisearch
// treats as literal text. Prefix matching on the last term is built in.
func meiliQuery(q string) string {
	words := strings.Fields(q)
	out := words[:0]
	for _, w := range words {
		switch w {
		case "AND", "OR", "&&", "||", "*":
			continue
		}
		if w = strings.TrimSuffix(w, "*"); w != "" {
			out = append(out, w)
		}
	}
	return strings.Join(out, " ")
}

func decodeHit(hit meili.Hit) (Document, error) {
	doc := make(Document, len(hit))
	for key, raw := range hit {
		if strings.HasPrefix(key, "_") {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		doc[key] = v
	}
	return doc, nil
}

// decodeFacets reads a facet distribution keeping the engine's per-field
// value order, then orders values by descending count. Requested fields the
// engine did not return come back empty.
func decodeFacets(raw []byte, fields []string) []FacetField {
	dist := gjson.ParseBytes(raw)
	out := make([]FacetField, 0, len(fields))
	for _, name := range fields {
		field := FacetField{Name: name, Values: []FacetValue{}}
		dist.Get(gjson.Escape(name)).ForEach(func(value, count gjson.Result) bool {
			field.Values = append(field.Values, FacetValue{Value: value.String(), Count: int(count.Int())})
			return true
		})
		sort.SliceStable(field.Values, func(i, j int) bool {
			return field.Values[i].Count > field.Values[j].Count
		})
		out = append(out, field)
	}
	return out
}
