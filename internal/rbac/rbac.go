package rbac

import (
	"context"
	"errors"

	"sitesearch/internal/auth"
)

type Action string

const (
	ActionPackageSearch      Action = "package_search"
	ActionOrganizationSearch Action = "organization_search"
	ActionGroupSearch        Action = "group_search"
	ActionUserSearch         Action = "user_search"
	ActionPageSearch         Action = "page_search"
	ActionSiteSearch         Action = "site_search"

	ActionIndex          Action = "sitesearch_index"
	ActionDelete         Action = "sitesearch_delete"
	ActionClear          Action = "sitesearch_clear"
	ActionCommit         Action = "sitesearch_commit"
	ActionRebuild        Action = "sitesearch_rebuild"
	ActionDatasetChanged Action = "sitesearch_dataset_changed"
	ActionMemberCreated  Action = "sitesearch_member_created"
)

// ErrNotAuthorized is returned when an actor may not run an action.
var ErrNotAuthorized = errors.New("not authorized")

// Can reports whether actor may run action. Searches over public metadata
// are open to everyone; user search and every index operation require a
// sysadmin.
func Can(actor auth.Actor, action Action) bool {
	if actor.Sysadmin {
		return true
	}
	switch action {
	case ActionPackageSearch, ActionOrganizationSearch, ActionGroupSearch, ActionPageSearch, ActionSiteSearch:
		return true
	default:
		return false
	}
}

// Authorizer checks actions against Can.
type Authorizer struct{}

// Authorize returns ErrNotAuthorized when actor may not run action.
func (Authorizer) Authorize(_ context.Context, actor auth.Actor, action Action) error {
	if !Can(actor, action) {
		return ErrNotAuthorized
	}
	return nil
}
