package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"sitesearch/internal/entity"
	"sitesearch/internal/search"
)

// User is the subset of a platform account needed to resolve permissions.
type User struct {
	ID       string
	Name     string
	State    string
	Sysadmin bool
}

// SearchTerm is one row of the search audit log.
type SearchTerm struct {
	ID         string    `json:"id"`
	Term       string    `json:"term"`
	EntityType string    `json:"entity_type"`
	Actor      string    `json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
}

// PostgresStore reads entity state from the platform database and owns the
// search_term table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type entityQueries struct {
	list    string
	resolve string
}

// Pages are addressed by name, every other type by id.
var queries = map[entity.Type]entityQueries{
	entity.Organization: {
		list:    `SELECT id FROM "group" WHERE is_organization = true AND state <> 'deleted' ORDER BY name`,
		resolve: `SELECT id FROM "group" WHERE id = $1 OR name = $1 LIMIT 1`,
	},
	entity.Group: {
		list:    `SELECT id FROM "group" WHERE is_organization = false AND state <> 'deleted' ORDER BY name`,
		resolve: `SELECT id FROM "group" WHERE id = $1 OR name = $1 LIMIT 1`,
	},
	entity.User: {
		list:    `SELECT id FROM "user" WHERE state <> 'deleted' ORDER BY name`,
		resolve: `SELECT id FROM "user" WHERE id = $1 OR name = $1 LIMIT 1`,
	},
	entity.Page: {
		list:    `SELECT name FROM ckanext_pages ORDER BY name`,
		resolve: `SELECT name FROM ckanext_pages WHERE name = $1 LIMIT 1`,
	},
}

// ListIDs returns the keys of every live entity of type t.
func (s *PostgresStore) ListIDs(ctx context.Context, t entity.Type) ([]string, error) {
	q, ok := queries[t]
	if !ok {
		return nil, fmt.Errorf("list %s: unsupported entity type", t)
	}
	rows, err := s.db.QueryContext(ctx, q.list)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", t, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list %s: %w", t, err)
	}
	return ids, nil
}

// Resolve maps an id or name to the key show actions expect. Unknown
// entities yield a search.NotFoundError.
func (s *PostgresStore) Resolve(ctx context.Context, t entity.Type, idOrName string) (string, error) {
	q, ok := queries[t]
	if !ok {
		return "", fmt.Errorf("resolve %s: unsupported entity type", t)
	}
	var key string
	err := s.db.QueryRowContext(ctx, q.resolve, idOrName).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", search.NotFoundError{Type: displayName(t), ID: idOrName}
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", t, err)
	}
	return key, nil
}

// GetUser looks a user up by id or name.
func (s *PostgresStore) GetUser(ctx context.Context, idOrName string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, state, sysadmin FROM "user" WHERE id = $1 OR name = $1 LIMIT 1`,
		idOrName,
	).Scan(&user.ID, &user.Name, &user.State, &user.Sysadmin)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, search.NotFoundError{Type: "User", ID: idOrName}
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RecordSearchTerm(ctx context.Context, term, entityType, actor string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_term (id, term, entity_type, actor) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), term, entityType, actor,
	)
	if err != nil {
		return fmt.Errorf("record search term: %w", err)
	}
	return nil
}

// RecentSearchTerms returns the latest audit rows for entityType, newest
// first. An empty entityType returns every type.
func (s *PostgresStore) RecentSearchTerms(ctx context.Context, entityType string, limit int) ([]SearchTerm, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, term, entity_type, actor, created_at
		FROM search_term
		WHERE $1 = '' OR entity_type = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, entityType, limit)
	if err != nil {
		return nil, fmt.Errorf("list search terms: %w", err)
	}
	defer rows.Close()

	var terms []SearchTerm
	for rows.Next() {
		var st SearchTerm
		if err := rows.Scan(&st.ID, &st.Term, &st.EntityType, &st.Actor, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search term: %w", err)
		}
		terms = append(terms, st)
	}
	return terms, rows.Err()
}

func displayName(t entity.Type) string {
	s := string(t)
	if s == "" {
		return "Entity"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
