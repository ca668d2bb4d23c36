// Package labels resolves the permission labels a searcher may see.
package labels

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"sitesearch/internal/auth"
	"sitesearch/internal/search"
	"sitesearch/internal/store"
)

const (
	Public   = "public"
	Sysadmin = "sysadmin"
)

// GroupLabel is the label carried by private pages of group id.
func GroupLabel(id string) string {
	return "group_id-" + id
}

// UserLookup finds platform accounts. A missing user is reported as a
// search.NotFoundError.
type UserLookup interface {
	GetUser(ctx context.Context, idOrName string) (store.User, error)
}

// OrgLookup lists the ids of organizations where a user holds permission.
type OrgLookup interface {
	OrganizationsForUser(ctx context.Context, userID, permission string) ([]string, error)
}

// Cache keeps resolved label sets per user.
type Cache interface {
	Get(ctx context.Context, userID string) ([]string, bool, error)
	Set(ctx context.Context, userID string, labels []string) error
}

type Resolver struct {
	users UserLookup
	orgs  OrgLookup
	cache Cache
	log   zerolog.Logger
}

// NewResolver returns a Resolver. cache may be nil. Cached label sets are
// served until the cache TTL lapses or the user's entry is invalidated, so a
// revoked sysadmin flag or organization membership keeps granting access
// for up to one TTL unless the revoking path invalidates it.
func NewResolver(users UserLookup, orgs OrgLookup, cache Cache, log zerolog.Logger) *Resolver {
	return &Resolver{
		users: users,
		orgs:  orgs,
		cache: cache,
		log:   log.With().Str("component", "labels").Logger(),
	}
}

// Labels returns "public", plus "sysadmin" for platform administrators and
// one group label per organization the user administers. Anonymous and
// unknown users only get "public".
func (r *Resolver) Labels(ctx context.Context, actor auth.Actor) ([]string, error) {
	if actor.Anonymous() {
		return []string{Public}, nil
	}

	if r.cache != nil {
		cached, ok, err := r.cache.Get(ctx, actor.UserID)
		if err != nil {
			r.log.Warn().Err(err).Str("user_id", actor.UserID).Msg("label cache read failed")
		} else if ok {
			return cached, nil
		}
	}

	user, err := r.users.GetUser(ctx, actor.UserID)
	if search.IsNotFoundError(err) {
		return []string{Public}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve labels: %w", err)
	}

	labels := []string{Public}
	if user.Sysadmin || actor.Sysadmin {
		labels = append(labels, Sysadmin)
	}
	orgIDs, err := r.orgs.OrganizationsForUser(ctx, user.ID, "admin")
	if err != nil {
		return nil, fmt.Errorf("resolve labels: %w", err)
	}
	for _, id := range orgIDs {
		labels = append(labels, GroupLabel(id))
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, actor.UserID, labels); err != nil {
			r.log.Warn().Err(err).Str("user_id", actor.UserID).Msg("label cache write failed")
		}
	}
	return labels, nil
}
