package index

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitesearch/internal/entity"
	"sitesearch/internal/search"
)

func orgRecord() entity.Record {
	return entity.Record{
		"id":              "org-id-1",
		"name":            "test-org",
		"title":           "Test Organization",
		"description":     "Some description",
		"is_organization": true,
		"created":         "2021-03-04T10:11:12.123456",
		"packages":        []any{map[string]any{"id": "p1"}},
		"users":           []any{map[string]any{"name": "u1"}},
		"extras": []any{
			map[string]any{"key": "sector", "value": "health"},
			map[string]any{"key": "topics!", "value": []any{"a", "b"}},
			map[string]any{"key": "title", "value": "shadow"},
			map[string]any{"key": "description", "value": "shadow"},
		},
	}
}

func TestNormalizeRequiresID(t *testing.T) {
	n := NewNormalizer("site")
	_, err := n.Normalize(entity.Organization, entity.Record{"name": "no-id"})
	require.Error(t, err)

	var ve search.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "id")
}

func TestNormalizeRejectsDatasets(t *testing.T) {
	_, err := NewNormalizer("site").Normalize(entity.Dataset, entity.Record{"id": "x"})
	assert.True(t, search.IsValidationError(err))
}

func TestIndexIDIsStablePerSite(t *testing.T) {
	a := NewNormalizer("site-a")
	b := NewNormalizer("site-b")

	assert.Equal(t, a.IndexID("abc"), a.IndexID("abc"))
	assert.Len(t, a.IndexID("abc"), 32)
	assert.NotEqual(t, a.IndexID("abc"), b.IndexID("abc"))
	assert.NotEqual(t, a.IndexID("abc"), a.IndexID("abd"))
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", NewNormalizer("").IndexID("abc"))
}

func TestNormalizeOrganization(t *testing.T) {
	n := NewNormalizer("site")
	rec := orgRecord()

	doc, err := n.Normalize(entity.Organization, rec)
	require.NoError(t, err)

	assert.Equal(t, "organization", doc["entity_type"])
	assert.Equal(t, "site", doc["site_id"])
	assert.Equal(t, n.IndexID("org-id-1"), doc["index_id"])
	assert.Equal(t, "Some description", doc["notes"])
	assert.Equal(t, "Test Organization", doc["title_string"])
	assert.Equal(t, "2021-03-04T10:11:12.123456Z", doc["metadata_created"])
	assert.NotContains(t, doc, "packages")
	assert.NotContains(t, doc, "users")
	assert.NotContains(t, doc, "extras")

	assert.Equal(t, "health", doc["extras_sector"])
	assert.Equal(t, "health", doc["sector"])
	assert.Equal(t, "a b", doc["extras_topics"])
	assert.Equal(t, "a b", doc["topics"])
	assert.Equal(t, "shadow", doc["extras_title"])
	assert.Equal(t, "Test Organization", doc["title"], "reserved fields are never shadowed")
	assert.Equal(t, "shadow", doc["extras_description"])
	assert.Equal(t, "Some description", doc["description"], "existing fields are never shadowed")

	assert.Contains(t, doc["text"], "Some description")
	assert.Contains(t, doc["text"], "health")

	// the source record is untouched
	assert.Contains(t, rec, "packages")
	assert.NotContains(t, rec, "site_id")
}

func TestNormalizeBlobRoundTrip(t *testing.T) {
	doc, err := NewNormalizer("site").Normalize(entity.Group, orgRecord())
	require.NoError(t, err)

	var blob map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc["validated_data_dict"].(string)), &blob))
	assert.Equal(t, "test-org", blob["name"])
	assert.Equal(t, "Some description", blob["description"])
	assert.Equal(t, "group", blob["entity_type"])
	assert.Len(t, blob["extras"], 4)
	assert.NotContains(t, blob, "packages")
	assert.NotContains(t, blob, "notes")
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := NewNormalizer("site")
	first, err := n.Normalize(entity.Organization, orgRecord())
	require.NoError(t, err)
	second, err := n.Normalize(entity.Organization, orgRecord())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNormalizeUser(t *testing.T) {
	doc, err := NewNormalizer("site").Normalize(entity.User, entity.Record{
		"id":       "user-1",
		"name":     "jdoe",
		"fullname": "Jane Doe",
		"about":    "Statistician",
		"email":    "jane@example.com",
		"apikey":   "secret",
		"created":  "2020-01-01T00:00:00",
	})
	require.NoError(t, err)

	assert.Equal(t, "Jane Doe Statistician jane@example.com", doc["notes"])
	assert.NotContains(t, doc, "apikey")
	assert.NotContains(t, doc["validated_data_dict"], "secret")
	assert.Contains(t, doc["validated_data_dict"], `"notes":"Jane Doe Statistician jane@example.com"`)
	assert.Equal(t, "2020-01-01T00:00:00.000000Z", doc["metadata_created"])
}

func TestNormalizeUserWithMissingFields(t *testing.T) {
	doc, err := NewNormalizer("site").Normalize(entity.User, entity.Record{"id": "u", "fullname": nil})
	require.NoError(t, err)
	assert.Equal(t, "  ", doc["notes"])
	assert.NotContains(t, doc, "metadata_created")
}

func TestNormalizePage(t *testing.T) {
	doc, err := NewNormalizer("site").Normalize(entity.Page, entity.Record{
		"id":           "page-1",
		"name":         "about",
		"title":        "About us",
		"content":      "<h1>Hello&nbsp;world</h1>\r\n<p>Fish &amp; chips</p>",
		"private":      false,
		"created":      "2022-05-01T08:00:00",
		"modified":     "2022-05-02T09:00:00+02:00",
		"publish_date": "2022-05-03",
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello worldFish & chips", doc["notes"])
	assert.NotContains(t, doc, "content")
	assert.Contains(t, doc["validated_data_dict"], "<h1>", "the blob keeps the original content")
	assert.Equal(t, "About us", doc["title_string"])
	assert.Equal(t, []string{"public"}, doc["permission_labels"])
	assert.Equal(t, "2022-05-02T07:00:00.000000Z", doc["metadata_modified"])
	assert.Equal(t, "2022-05-03T00:00:00.000000Z", doc["publish_date"])
}

func TestPageLabels(t *testing.T) {
	assert.Equal(t, []string{"public"}, PageLabels(entity.Record{"private": false, "group_id": "g"}))
	assert.Equal(t, []string{"sysadmin"}, PageLabels(entity.Record{"private": true}))
	assert.Equal(t, []string{"sysadmin", "group_id-g1"}, PageLabels(entity.Record{"private": "True", "group_id": "g1"}))
}

func TestNormalizeRejectsBadDates(t *testing.T) {
	rec := orgRecord()
	rec["created"] = "yesterday"
	_, err := NewNormalizer("site").Normalize(entity.Organization, rec)

	var ve search.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Fields, "created")
}

func TestFormatDate(t *testing.T) {
	cases := map[string]string{
		"2021-03-04T10:11:12":         "2021-03-04T10:11:12.000000Z",
		"2021-03-04T10:11:12.5":       "2021-03-04T10:11:12.500000Z",
		"2021-03-04T10:11:12Z":        "2021-03-04T10:11:12.000000Z",
		"2021-03-04 10:11:12":         "2021-03-04T10:11:12.000000Z",
		"2021-03-04T10:11:12-01:00":   "2021-03-04T11:11:12.000000Z",
		" 2021-03-04T10:11:12.123456": "2021-03-04T10:11:12.123456Z",
	}
	for in, want := range cases {
		got, err := FormatDate(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestNormalizeRejectsMalformedExtras(t *testing.T) {
	rec := orgRecord()
	rec["extras"] = "sector=health"
	_, err := NewNormalizer("site").Normalize(entity.Organization, rec)
	assert.True(t, search.IsValidationError(err))
}
