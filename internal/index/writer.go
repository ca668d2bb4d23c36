package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"sitesearch/internal/entity"
	"sitesearch/internal/metrics"
	"sitesearch/internal/search"
	"sitesearch/internal/search/filter"
)

// Writer sends normalized documents to the store and removes them again.
// Every operation is scoped to the normalizer's site.
type Writer struct {
	store       search.Store
	norm        *Normalizer
	deferCommit bool
	log         zerolog.Logger
}

// NewWriter returns a Writer. deferCommit is the default used by callers
// that do not choose a commit mode themselves.
func NewWriter(store search.Store, norm *Normalizer, deferCommit bool, log zerolog.Logger) *Writer {
	return &Writer{
		store:       store,
		norm:        norm,
		deferCommit: deferCommit,
		log:         log.With().Str("component", "index").Logger(),
	}
}

// DefaultDeferCommit reports the configured commit mode.
func (w *Writer) DefaultDeferCommit() bool {
	return w.deferCommit
}

// Normalizer returns the normalizer documents are built with.
func (w *Writer) Normalizer() *Normalizer {
	return w.norm
}

// IndexEntity normalizes rec and writes it. An empty record is a no-op.
func (w *Writer) IndexEntity(ctx context.Context, t entity.Type, rec entity.Record, deferCommit bool) error {
	if len(rec) == 0 {
		return nil
	}
	doc, err := w.norm.Normalize(t, rec)
	if err != nil {
		return err
	}
	return w.Write(ctx, doc, deferCommit)
}

// Write sends exactly one document. Unless deferCommit is set the change is
// committed before returning.
func (w *Writer) Write(ctx context.Context, doc search.Document, deferCommit bool) error {
	entityType := filter.Stringify(doc["entity_type"])
	err := w.store.Add(ctx, []search.Document{doc}, !deferCommit)
	metrics.IndexOperations.WithLabelValues("write", entityType, metrics.Result(err)).Inc()
	if err != nil {
		return w.indexError(err)
	}

	state := "Committed"
	if deferCommit {
		state = "Not committed yet"
	}
	w.log.Debug().
		Str("entity_type", entityType).
		Str("id", filter.Stringify(doc["id"])).
		Msgf("Updated index for %s [%s]", filter.Stringify(doc["name"]), state)
	return nil
}

// Delete removes the document of type t whose id or name is idOrName.
func (w *Writer) Delete(ctx context.Context, t entity.Type, idOrName string, deferCommit bool) error {
	where := filter.All(
		filter.Eq{Field: "entity_type", Value: string(t)},
		filter.Or{
			filter.Eq{Field: "id", Value: idOrName},
			filter.Eq{Field: "name", Value: idOrName},
		},
		filter.Eq{Field: "site_id", Value: w.norm.SiteID()},
	)
	err := w.store.Delete(ctx, where, !deferCommit)
	metrics.IndexOperations.WithLabelValues("delete", string(t), metrics.Result(err)).Inc()
	if err != nil {
		return w.indexError(err)
	}
	w.log.Debug().Str("entity_type", string(t)).Str("id", idOrName).Msg("Deleted from the index")
	return nil
}

// Clear removes every document of type t for the site without touching
// dataset documents. An empty t clears the whole site, datasets included.
func (w *Writer) Clear(ctx context.Context, t entity.Type, deferCommit bool) error {
	site := filter.Eq{Field: "site_id", Value: w.norm.SiteID()}
	var where filter.Expr = site
	label := "all"
	if t != "" {
		label = string(t)
		where = filter.All(
			filter.Eq{Field: "entity_type", Value: string(t)},
			filter.Not{X: filter.Eq{Field: "entity_type", Value: entity.DatasetDocType}},
			site,
		)
	}
	err := w.store.Delete(ctx, where, !deferCommit)
	metrics.IndexOperations.WithLabelValues("clear", label, metrics.Result(err)).Inc()
	if err != nil {
		return w.indexError(err)
	}
	w.log.Debug().Str("entity_type", label).Msg("Cleared the index")
	return nil
}

// Commit makes deferred writes visible to queries.
func (w *Writer) Commit(ctx context.Context) error {
	err := w.store.Commit(ctx)
	metrics.IndexOperations.WithLabelValues("commit", "", metrics.Result(err)).Inc()
	if err != nil {
		w.log.Error().Stack().Err(err).Msg("commit failed")
		return w.indexError(err)
	}
	w.log.Debug().Msg("Committed changes on the index")
	return nil
}

func (w *Writer) indexError(err error) error {
	var ie search.IndexError
	if errors.As(err, &ie) {
		return ie
	}
	if errors.Is(err, search.ErrUnavailable) {
		msg := fmt.Sprintf("Could not connect to the search backend: %v", err)
		w.log.Error().Err(err).Msg("could not connect to the search backend")
		return search.NewIndexError(msg, err)
	}
	return search.NewIndexError(fmt.Sprintf("Search backend returned an error: %v", err), err)
}
