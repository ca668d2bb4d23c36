package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitesearch/internal/entity"
	"sitesearch/internal/logger"
	"sitesearch/internal/search"
	"sitesearch/internal/search/filter"
)

func newTestWriter(site string) (*Writer, *search.Memory) {
	store := search.NewMemory()
	return NewWriter(store, NewNormalizer(site), false, zerolog.Nop()), store
}

func countDocs(t *testing.T, store search.Store, where filter.Expr) int {
	t.Helper()
	resp, err := store.Search(context.Background(), search.Request{Filter: where, Limit: 100})
	require.NoError(t, err)
	return resp.Count
}

func TestWriterIndexAndDelete(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWriter("site")

	require.NoError(t, w.IndexEntity(ctx, entity.Organization, entity.Record{"id": "o1", "name": "org-one"}, false))
	require.NoError(t, w.IndexEntity(ctx, entity.Group, entity.Record{"id": "g1", "name": "group-one"}, false))
	assert.Equal(t, 2, countDocs(t, store, nil))

	// by name
	require.NoError(t, w.Delete(ctx, entity.Organization, "org-one", false))
	assert.Equal(t, 0, countDocs(t, store, filter.Eq{Field: "entity_type", Value: "organization"}))

	// wrong type leaves the document alone
	require.NoError(t, w.Delete(ctx, entity.Organization, "g1", false))
	assert.Equal(t, 1, countDocs(t, store, nil))

	// by id
	require.NoError(t, w.Delete(ctx, entity.Group, "g1", false))
	assert.Equal(t, 0, countDocs(t, store, nil))
}

func TestWriterEmptyRecordIsNoop(t *testing.T) {
	w, store := newTestWriter("site")
	require.NoError(t, w.IndexEntity(context.Background(), entity.User, nil, false))
	assert.Equal(t, 0, countDocs(t, store, nil))
}

func TestWriterDeferredCommit(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWriter("site")

	require.NoError(t, w.IndexEntity(ctx, entity.User, entity.Record{"id": "u1", "name": "u"}, true))
	assert.Equal(t, 0, countDocs(t, store, nil))

	require.NoError(t, w.Commit(ctx))
	assert.Equal(t, 1, countDocs(t, store, nil))
}

func TestWriterReindexOverwrites(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWriter("site")

	require.NoError(t, w.IndexEntity(ctx, entity.Group, entity.Record{"id": "g1", "title": "Old"}, false))
	require.NoError(t, w.IndexEntity(ctx, entity.Group, entity.Record{"id": "g1", "title": "New"}, false))

	resp, err := store.Search(ctx, search.Request{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "New", resp.Docs[0]["title"])
}

func TestWriterScopesToSite(t *testing.T) {
	ctx := context.Background()
	store := search.NewMemory()
	a := NewWriter(store, NewNormalizer("site-a"), false, zerolog.Nop())
	b := NewWriter(store, NewNormalizer("site-b"), false, zerolog.Nop())

	require.NoError(t, a.IndexEntity(ctx, entity.User, entity.Record{"id": "u1"}, false))
	require.NoError(t, b.IndexEntity(ctx, entity.User, entity.Record{"id": "u1"}, false))
	assert.Equal(t, 2, countDocs(t, store, nil))

	require.NoError(t, a.Delete(ctx, entity.User, "u1", false))
	assert.Equal(t, 1, countDocs(t, store, filter.Eq{Field: "site_id", Value: "site-b"}))
	assert.Equal(t, 0, countDocs(t, store, filter.Eq{Field: "site_id", Value: "site-a"}))
}

func TestWriterClearKeepsDatasets(t *testing.T) {
	ctx := context.Background()
	w, store := newTestWriter("site")

	require.NoError(t, w.IndexEntity(ctx, entity.Organization, entity.Record{"id": "o1"}, false))
	require.NoError(t, w.IndexEntity(ctx, entity.Group, entity.Record{"id": "g1"}, false))
	require.NoError(t, store.Add(ctx, []search.Document{{
		"index_id": "ds", "id": "ds", "entity_type": entity.DatasetDocType, "site_id": "site",
	}}, true))

	require.NoError(t, w.Clear(ctx, entity.Organization, false))
	assert.Equal(t, 2, countDocs(t, store, nil))

	require.NoError(t, w.Clear(ctx, entity.Group, false))
	assert.Equal(t, 1, countDocs(t, store, filter.Eq{Field: "entity_type", Value: entity.DatasetDocType}))

	require.NoError(t, w.Clear(ctx, "", false))
	assert.Equal(t, 0, countDocs(t, store, nil))
}

func TestWriterPropagatesValidationErrors(t *testing.T) {
	w, _ := newTestWriter("site")
	err := w.IndexEntity(context.Background(), entity.Organization, entity.Record{"name": "no-id"}, false)
	assert.True(t, search.IsValidationError(err))
}

type failingStore struct {
	search.Memory
	err error
}

func (f *failingStore) Add(context.Context, []search.Document, bool) error { return f.err }
func (f *failingStore) Delete(context.Context, filter.Expr, bool) error    { return f.err }
func (f *failingStore) Commit(context.Context) error                       { return f.err }

func TestWriterWrapsStoreErrors(t *testing.T) {
	ctx := context.Background()
	huge := errors.New(strings.Repeat("x", 4000))
	w := NewWriter(&failingStore{err: huge}, NewNormalizer("site"), false, zerolog.Nop())

	err := w.IndexEntity(ctx, entity.User, entity.Record{"id": "u1"}, false)
	var ie search.IndexError
	require.ErrorAs(t, err, &ie)
	assert.Len(t, ie.Message, search.MaxErrorMessage)
	assert.True(t, strings.HasPrefix(ie.Message, "Search backend returned an error"))

	w = NewWriter(&failingStore{err: search.ErrUnavailable}, NewNormalizer("site"), false, zerolog.Nop())
	err = w.Delete(ctx, entity.User, "u1", false)
	require.ErrorAs(t, err, &ie)
	assert.True(t, strings.HasPrefix(ie.Message, "Could not connect"))
	assert.ErrorIs(t, err, search.ErrUnavailable)

	assert.True(t, search.IsIndexError(w.Commit(ctx)))
	assert.True(t, search.IsIndexError(w.Clear(ctx, entity.User, false)))
}

func TestWriterCommitFailureLogsStack(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&failingStore{err: errors.New("flush failed")}, NewNormalizer("site"), false, logger.NewWithWriter(&buf, "test", "debug"))

	require.Error(t, w.Commit(context.Background()))

	var event map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &event))
	assert.Equal(t, "commit failed", event["message"])
	assert.NotEmpty(t, event["stack"])
}
