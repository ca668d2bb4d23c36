package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitesearch/internal/search/filter"
)

func TestBuildSearchRequest(t *testing.T) {
	sr := buildSearchRequest(Request{
		Fields:       []string{"id", "validated_data_dict"},
		DefaultField: "text",
		Operator:     OperatorAnd,
		Filter: filter.All(
			filter.Eq{Field: "entity_type", Value: "page"},
			filter.In{Field: "permission_labels", Values: []string{"public"}},
		),
		Sort:   []SortField{{Field: "publish_date", Desc: true}, {Field: "title_string"}},
		Offset: 20,
		Limit:  10,
		Facets: []string{"state"},
	})

	assert.Equal(t, int64(3), sr.Page)
	assert.Equal(t, int64(10), sr.HitsPerPage)
	assert.Zero(t, sr.Offset)
	assert.Zero(t, sr.Limit)
	assert.Equal(t, meili.All, sr.MatchingStrategy)
	assert.Equal(t, []string{"id", "validated_data_dict"}, sr.AttributesToRetrieve)
	assert.Equal(t, []string{"text"}, sr.AttributesToSearchOn)
	assert.Equal(t, `entity_type = "page" AND permission_labels IN ["public"]`, sr.Filter)
	assert.Equal(t, []string{"publish_date:desc", "title_string:asc"}, sr.Sort)
	assert.Equal(t, []string{"state"}, sr.Facets)
}

func TestBuildSearchRequestPaging(t *testing.T) {
	tests := []struct {
		name                    string
		offset, limit           int
		page, perPage, off, lim int64
	}{
		{name: "first page", offset: 0, limit: 20, page: 1, perPage: 20},
		{name: "page boundary", offset: 40, limit: 20, page: 3, perPage: 20},
		{name: "unaligned offset", offset: 5, limit: 20, off: 5, lim: 20},
		{name: "count only", offset: 0, limit: 0, page: 1, perPage: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sr := buildSearchRequest(Request{Offset: tt.offset, Limit: tt.limit})
			assert.Equal(t, tt.page, sr.Page)
			assert.Equal(t, tt.perPage, sr.HitsPerPage)
			assert.Equal(t, tt.off, sr.Offset)
			assert.Equal(t, tt.lim, sr.Limit)
		})
	}
}

func TestHitCountUsesExhaustiveTotal(t *testing.T) {
	resp := &meili.SearchResponse{EstimatedTotalHits: 1000, TotalHits: 4321}

	paged := buildSearchRequest(Request{Offset: 0, Limit: 10})
	assert.Equal(t, 4321, hitCount(paged, resp))

	unaligned := buildSearchRequest(Request{Offset: 3, Limit: 10})
	assert.Equal(t, 1000, hitCount(unaligned, resp))
}

func TestBuildSearchRequestOrOperator(t *testing.T) {
	sr := buildSearchRequest(Request{Operator: OperatorOr, SearchOn: []string{"title", "notes"}})
	assert.Equal(t, meili.Last, sr.MatchingStrategy)
	assert.Equal(t, []string{"title", "notes"}, sr.AttributesToSearchOn)
	assert.Nil(t, sr.Filter)
}

func TestMeiliQuery(t *testing.T) {
	assert.Equal(t, "", meiliQuery("*"))
	assert.Equal(t, "health office", meiliQuery("health* AND office"))
	assert.Equal(t, "a b", meiliQuery("  a || b "))
}

func TestDecodeHit(t *testing.T) {
	hit := meili.Hit{
		"id":                json.RawMessage(`"org-1"`),
		"package_count":     json.RawMessage(`3`),
		"permission_labels": json.RawMessage(`["public"]`),
		"_rankingScore":     json.RawMessage(`0.9`),
	}
	doc, err := decodeHit(hit)
	require.NoError(t, err)
	assert.Equal(t, Document{
		"id":                "org-1",
		"package_count":     float64(3),
		"permission_labels": []any{"public"},
	}, doc)
}

func TestDecodeFacetsKeepsEngineOrderForTies(t *testing.T) {
	raw := []byte(`{"state":{"deleted":1,"active":5,"draft":1},"tags":{}}`)
	facets := decodeFacets(raw, []string{"state", "tags", "missing"})

	require.Len(t, facets, 3)
	assert.Equal(t, []FacetValue{{"active", 5}, {"deleted", 1}, {"draft", 1}}, facets[0].Values)
	assert.Empty(t, facets[1].Values)
	assert.Equal(t, "missing", facets[2].Name)
	assert.Empty(t, facets[2].Values)
}

// fakeMeili accepts every write as a new task and reports tasks as
// succeeded, recording which task ids were polled.
type fakeMeili struct {
	mu     sync.Mutex
	next   int64
	polled []string
}

func (f *fakeMeili) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/health":
		fmt.Fprint(w, `{"status":"available"}`)
	case strings.HasPrefix(r.URL.Path, "/tasks/"):
		id := strings.TrimPrefix(r.URL.Path, "/tasks/")
		f.polled = append(f.polled, id)
		fmt.Fprintf(w, `{"uid":%s,"status":"succeeded"}`, id)
	case r.Method == http.MethodGet:
		fmt.Fprint(w, `{}`)
	default:
		f.next++
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintf(w, `{"taskUid":%d,"status":"enqueued"}`, f.next)
	}
}

func (f *fakeMeili) reset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled = nil
	return f.next
}

func (f *fakeMeili) tasksPolled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.polled...)
}

func TestMeiliCommittedWriteWaitsForOwnTask(t *testing.T) {
	fake := &fakeMeili{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	m := NewMeili(MeiliConfig{URL: srv.URL, Index: "test"}, zerolog.Nop())
	defer m.Close()
	require.True(t, m.Healthy())
	base := fake.reset()
	ctx := context.Background()

	require.NoError(t, m.Add(ctx, []Document{{"id": "a"}}, false))
	require.NoError(t, m.Add(ctx, []Document{{"id": "b"}}, true))
	assert.Equal(t, []string{fmt.Sprint(base + 2)}, fake.tasksPolled(), "deferred task stays pending")

	require.NoError(t, m.Delete(ctx, filter.Eq{Field: "id", Value: "b"}, true))
	assert.Equal(t, []string{fmt.Sprint(base + 2), fmt.Sprint(base + 3)}, fake.tasksPolled())

	fake.reset()
	require.NoError(t, m.Commit(ctx))
	assert.Equal(t, []string{fmt.Sprint(base + 1)}, fake.tasksPolled())
}
