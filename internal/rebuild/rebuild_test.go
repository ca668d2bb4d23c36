package rebuild

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitesearch/internal/entity"
	"sitesearch/internal/index"
	"sitesearch/internal/logger"
	"sitesearch/internal/search"
	"sitesearch/internal/search/filter"
)

type fakeSource struct {
	ids map[entity.Type][]string
}

func (f fakeSource) ListIDs(_ context.Context, t entity.Type) ([]string, error) {
	return f.ids[t], nil
}

func (f fakeSource) Resolve(_ context.Context, t entity.Type, idOrName string) (string, error) {
	for _, id := range f.ids[t] {
		if id == idOrName || "name-"+id == idOrName {
			return id, nil
		}
	}
	return "", search.NotFoundError{Type: "Organization", ID: idOrName}
}

// fakeShower serves "name-<id>" records and fails for ids in poison.
type fakeShower struct {
	poison map[string]bool
}

func (f fakeShower) Show(_ context.Context, _ entity.Type, key string) (entity.Record, error) {
	if f.poison[key] {
		return nil, errors.New("boom")
	}
	return entity.Record{"id": key, "name": "name-" + key, "title": key}, nil
}

type countingStore struct {
	*search.Memory
	commits int
}

func (c *countingStore) Commit(ctx context.Context) error {
	c.commits++
	return c.Memory.Commit(ctx)
}

func setup(poison ...string) (*Driver, *countingStore) {
	store := &countingStore{Memory: search.NewMemory()}
	w := index.NewWriter(store, index.NewNormalizer("site"), false, zerolog.Nop())
	bad := map[string]bool{}
	for _, p := range poison {
		bad[p] = true
	}
	src := fakeSource{ids: map[entity.Type][]string{entity.Organization: {"o1", "o2", "o3"}}}
	return NewDriver(src, fakeShower{poison: bad}, w, zerolog.Nop()), store
}

func indexed(t *testing.T, store search.Store) []string {
	t.Helper()
	resp, err := store.Search(context.Background(), search.Request{
		Filter: filter.Eq{Field: "entity_type", Value: "organization"},
		Sort:   []search.SortField{{Field: "id"}},
		Limit:  -1,
	})
	require.NoError(t, err)
	var ids []string
	for _, d := range resp.Docs {
		ids = append(ids, d["id"].(string))
	}
	return ids
}

func TestRebuildAll(t *testing.T) {
	d, store := setup()
	var progress bytes.Buffer

	report, err := d.Rebuild(context.Background(), entity.Organization, Options{Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, &Report{Type: entity.Organization, Total: 3, Indexed: 3, Failed: []string{}}, report)
	assert.Equal(t, []string{"o1", "o2", "o3"}, indexed(t, store))
	assert.Equal(t, "\rIndexing organization 1/3\rIndexing organization 2/3\rIndexing organization 3/3\n", progress.String())
}

func TestRebuildQuiet(t *testing.T) {
	d, _ := setup()
	var progress bytes.Buffer
	_, err := d.Rebuild(context.Background(), entity.Organization, Options{Quiet: true, Progress: &progress})
	require.NoError(t, err)
	assert.Empty(t, progress.String())
}

func TestRebuildSingleEntity(t *testing.T) {
	d, store := setup()

	report, err := d.Rebuild(context.Background(), entity.Organization, Options{EntityID: "name-o2", Quiet: true})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, []string{"o2"}, indexed(t, store))
}

func TestRebuildUnknownEntity(t *testing.T) {
	d, store := setup()

	_, err := d.Rebuild(context.Background(), entity.Organization, Options{EntityID: "nope", Quiet: true})
	var nf search.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.ID)
	assert.Empty(t, indexed(t, store))
}

func TestRebuildForceSkipsFailures(t *testing.T) {
	d, store := setup("o2")

	report, err := d.Rebuild(context.Background(), entity.Organization, Options{Force: true, Quiet: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)
	assert.Equal(t, []string{"o2"}, report.Failed)
	assert.Equal(t, []string{"o1", "o3"}, indexed(t, store))
}

func TestRebuildFailsFast(t *testing.T) {
	d, store := setup("o2")

	report, err := d.Rebuild(context.Background(), entity.Organization, Options{Quiet: true})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, []string{"o1"}, indexed(t, store), "entities written before the failure stay indexed")
}

func TestRebuildFailsFastCommitsDeferredWrites(t *testing.T) {
	d, store := setup("o2")

	report, err := d.Rebuild(context.Background(), entity.Organization, Options{DeferCommit: true, Quiet: true})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 1, store.commits)
	assert.Equal(t, []string{"o1"}, indexed(t, store))
}

func TestRebuildFailureLogsStack(t *testing.T) {
	d, _ := setup("o2")
	var buf bytes.Buffer
	d.log = logger.NewWithWriter(&buf, "test", "debug")

	_, err := d.Rebuild(context.Background(), entity.Organization, Options{Force: true, Quiet: true})
	require.NoError(t, err)

	var event map[string]any
	line, _, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	require.NoError(t, json.Unmarshal(line, &event))
	assert.Equal(t, "error while indexing entity", event["message"])
	assert.Equal(t, "o2", event["entity_id"])
	assert.NotEmpty(t, event["stack"])
}

func TestRebuildDeferredCommitsOnce(t *testing.T) {
	d, store := setup()

	_, err := d.Rebuild(context.Background(), entity.Organization, Options{DeferCommit: true, Quiet: true})
	require.NoError(t, err)
	assert.Equal(t, 1, store.commits)
	assert.Equal(t, []string{"o1", "o2", "o3"}, indexed(t, store))
}

func TestRebuildDatasetsUnsupported(t *testing.T) {
	d, _ := setup()
	_, err := d.Rebuild(context.Background(), entity.Dataset, Options{})
	assert.ErrorIs(t, err, ErrDatasetsUnsupported)
}
