package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"sitesearch/internal/config"
	"sitesearch/internal/index"
	"sitesearch/internal/labels"
	"sitesearch/internal/platform"
	"sitesearch/internal/query"
	"sitesearch/internal/rebuild"
	"sitesearch/internal/search"
	"sitesearch/internal/sitesearch"
	"sitesearch/internal/store"
)

// Runtime holds the process-wide resources behind a Service.
type Runtime struct {
	Config   *config.Config
	DB       *sql.DB
	Postgres *store.PostgresStore
	Store    search.Store
	Service  *Service

	closers []func() error
}

// Bootstrap connects to the database, the document store and the optional
// label cache, and wires a Service over them.
func Bootstrap(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Runtime, error) {
	rt := &Runtime{Config: cfg}

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{MaxOpenConns: cfg.DBMaxConns})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	rt.DB = db
	rt.closers = append(rt.closers, db.Close)
	rt.Postgres = store.NewPostgresStore(db)

	switch cfg.SearchBackend {
	case config.BackendMemory:
		rt.Store = search.NewMemory()
	default:
		meili := search.NewMeili(search.MeiliConfig{
			URL:             cfg.MeiliURL,
			APIKey:          cfg.MeiliAPIKey,
			Index:           cfg.MeiliIndex,
			ExtraFilterable: cfg.FilterableFields,
			MaxTotalHits:    cfg.MeiliMaxHits,
		}, log)
		rt.Store = meili
		rt.closers = append(rt.closers, func() error { meili.Close(); return nil })
	}

	var (
		cache       labels.Cache
		invalidator labelInvalidator
	)
	if cfg.RedisURL != "" {
		redisCache, err := labels.NewRedisCache(cfg.RedisURL, cfg.LabelCacheTTL)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info().Msg("caching permission labels in redis")
		cache, invalidator = redisCache, redisCache
		rt.closers = append(rt.closers, redisCache.Close)
	}

	client := platform.New(platform.Config{
		URL:      cfg.PlatformURL,
		APIToken: cfg.PlatformAPIToken,
		Timeout:  cfg.PlatformTimeout,
	}, log)

	rt.Service = Wire(cfg, Components{
		Store:       rt.Store,
		Source:      rt.Postgres,
		Users:       rt.Postgres,
		Terms:       rt.Postgres,
		Platform:    client,
		LabelCache:  cache,
		Invalidator: invalidator,
		DB:          rt.Postgres,
	}, log)
	return rt, nil
}

// PlatformClient is what the service needs from the host platform API.
type PlatformClient interface {
	rebuild.Shower
	labels.OrgLookup
	sitesearch.DatasetSearcher
	packageShower
}

// Components are the external systems a Service is wired over. Only Store,
// Source, Users and Platform are required.
type Components struct {
	Store       search.Store
	Source      rebuild.Source
	Users       labels.UserLookup
	Terms       sitesearch.TermRecorder
	Platform    PlatformClient
	LabelCache  labels.Cache
	Invalidator labelInvalidator
	DB          pinger
	Hooks       *sitesearch.Hooks
}

// Wire builds the index writer, query executor and search service over c.
func Wire(cfg *config.Config, c Components, log zerolog.Logger) *Service {
	writer := index.NewWriter(c.Store, index.NewNormalizer(cfg.SiteID), cfg.DeferCommit(), log)

	filterable := append(append([]string{}, search.FilterableAttributes...), cfg.FilterableFields...)
	executor := query.NewExecutor(c.Store, cfg.SiteID, filterable, log)

	resolver := labels.NewResolver(c.Users, c.Platform, c.LabelCache, log)

	searchService := sitesearch.NewService(sitesearch.Deps{
		Querier:  executor,
		Labels:   resolver,
		Datasets: c.Platform,
		Terms:    c.Terms,
		Hooks:    c.Hooks,
	}, sitesearch.Config{
		RowsMax:      cfg.RowsMax,
		PagesEnabled: cfg.PagesEnabled,
	}, log)

	return New(cfg, Deps{
		Search:    searchService,
		Writer:    writer,
		Rebuilder: rebuild.NewDriver(c.Source, c.Platform, writer, log),
		Shower:    c.Platform,
		Packages:  c.Platform,
		Users:     c.Users,
		Labels:    c.Invalidator,
		Store:     c.Store,
		DB:        c.DB,
	}, log)
}

// Migrate applies pending migrations from the configured directory.
func (rt *Runtime) Migrate(ctx context.Context) ([]string, error) {
	return store.ApplyMigrations(ctx, rt.DB, rt.Config.MigrationsDir)
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
