// Package rebuild re-indexes entities from their canonical source.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"sitesearch/internal/entity"
	"sitesearch/internal/metrics"
)

// ErrDatasetsUnsupported is returned for dataset rebuilds, which the host
// platform runs itself.
var ErrDatasetsUnsupported = errors.New("dataset documents are indexed by the host platform")

// Source enumerates live entities and resolves ids or names to the key
// their show action expects.
type Source interface {
	ListIDs(ctx context.Context, t entity.Type) ([]string, error)
	Resolve(ctx context.Context, t entity.Type, idOrName string) (string, error)
}

// Shower fetches the canonical record of an entity.
type Shower interface {
	Show(ctx context.Context, t entity.Type, key string) (entity.Record, error)
}

// Indexer writes records to the index.
type Indexer interface {
	IndexEntity(ctx context.Context, t entity.Type, rec entity.Record, deferCommit bool) error
	Commit(ctx context.Context) error
}

type Options struct {
	// EntityID limits the rebuild to one entity.
	EntityID string
	// DeferCommit writes without committing and commits once at the end.
	DeferCommit bool
	// Force logs and skips entities that fail instead of aborting.
	Force bool
	Quiet bool
	// Progress receives "\rIndexing <type> N/total" lines unless Quiet.
	Progress io.Writer
}

// Report summarizes a finished rebuild.
type Report struct {
	Type    entity.Type `json:"entity_type"`
	Total   int         `json:"total"`
	Indexed int         `json:"indexed"`
	Failed  []string    `json:"failed"`
}

type Driver struct {
	source  Source
	shower  Shower
	indexer Indexer
	log     zerolog.Logger
}

func NewDriver(source Source, shower Shower, indexer Indexer, log zerolog.Logger) *Driver {
	return &Driver{
		source:  source,
		shower:  shower,
		indexer: indexer,
		log:     log.With().Str("component", "rebuild").Logger(),
	}
}

// Rebuild re-indexes every live entity of type t, or only opts.EntityID.
// Without Force the first failure aborts the run; entities already written
// stay in the index and deferred writes are committed.
func (d *Driver) Rebuild(ctx context.Context, t entity.Type, opts Options) (*Report, error) {
	if t == entity.Dataset {
		return nil, ErrDatasetsUnsupported
	}

	var keys []string
	if opts.EntityID != "" {
		key, err := d.source.Resolve(ctx, t, opts.EntityID)
		if err != nil {
			return nil, err
		}
		keys = []string{key}
	} else {
		var err error
		keys, err = d.source.ListIDs(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", t, err)
		}
	}

	report := &Report{Type: t, Total: len(keys), Failed: []string{}}
	for i, key := range keys {
		if !opts.Quiet && opts.Progress != nil {
			fmt.Fprintf(opts.Progress, "\rIndexing %s %d/%d", t, i+1, len(keys))
		}
		if err := d.rebuildOne(ctx, t, key, opts.DeferCommit); err != nil {
			metrics.RebuildEntities.WithLabelValues(string(t), "error").Inc()
			d.log.Error().Stack().Err(err).
				Str("entity_type", string(t)).
				Str("entity_id", key).
				Msg("error while indexing entity")
			if !opts.Force {
				// Publish what was written before the failure.
				if opts.DeferCommit {
					if cerr := d.indexer.Commit(ctx); cerr != nil {
						d.log.Error().Stack().Err(cerr).Str("entity_type", string(t)).Msg("commit after failed rebuild")
					}
				}
				return report, err
			}
			d.log.Warn().Str("entity_type", string(t)).Str("entity_id", key).Msg("skipping entity")
			report.Failed = append(report.Failed, key)
			continue
		}
		metrics.RebuildEntities.WithLabelValues(string(t), "success").Inc()
		report.Indexed++
	}
	if !opts.Quiet && opts.Progress != nil && len(keys) > 0 {
		fmt.Fprintln(opts.Progress)
	}

	if opts.DeferCommit {
		if err := d.indexer.Commit(ctx); err != nil {
			return report, err
		}
	}
	d.log.Info().
		Str("entity_type", string(t)).
		Int("indexed", report.Indexed).
		Int("failed", len(report.Failed)).
		Msg("rebuild finished")
	return report, nil
}

func (d *Driver) rebuildOne(ctx context.Context, t entity.Type, key string, deferCommit bool) error {
	rec, err := d.shower.Show(ctx, t, key)
	if err != nil {
		return err
	}
	return d.indexer.IndexEntity(ctx, t, rec, deferCommit)
}
