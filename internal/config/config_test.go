package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.SiteID)
	assert.Equal(t, BackendMeili, cfg.SearchBackend)
	assert.Equal(t, 1000, cfg.RowsMax)
	assert.Equal(t, 5*time.Minute, cfg.LabelCacheTTL)
	assert.False(t, cfg.DeferCommit())
	assert.False(t, cfg.PagesEnabled)
}

func TestNewFromEnvironment(t *testing.T) {
	t.Setenv("SITESEARCH_SITE_ID", "portal")
	t.Setenv("SITESEARCH_SEARCH_BACKEND", "Memory")
	t.Setenv("SITESEARCH_COMMIT", "false")
	t.Setenv("SITESEARCH_ROWS_MAX", "50")
	t.Setenv("SITESEARCH_FILTERABLE_FIELDS", "region,theme")
	t.Setenv("SITESEARCH_PLATFORM_TIMEOUT", "3s")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, "portal", cfg.SiteID)
	assert.Equal(t, BackendMemory, cfg.SearchBackend)
	assert.True(t, cfg.DeferCommit())
	assert.Equal(t, 50, cfg.RowsMax)
	assert.Equal(t, []string{"region", "theme"}, cfg.FilterableFields)
	assert.Equal(t, 3*time.Second, cfg.PlatformTimeout)
}

func TestNewRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"SITESEARCH_SEARCH_BACKEND": "solr",
		"SITESEARCH_ROWS_MAX":       "0",
		"SITESEARCH_PAGES_ENABLED":  "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := New()
			assert.Error(t, err)
		})
	}
}

func TestNewForTestingIsValid(t *testing.T) {
	cfg := NewForTesting()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendMemory, cfg.SearchBackend)
}
