package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"sitesearch/internal/auth"
	"sitesearch/internal/config"
	"sitesearch/internal/entity"
	"sitesearch/internal/rbac"
	"sitesearch/internal/rebuild"
	"sitesearch/internal/search"
	"sitesearch/internal/sitesearch"
	"sitesearch/internal/store"
)

// ClearAll selects every document of the site, datasets included.
const ClearAll = "all"

type authorizer interface {
	Authorize(ctx context.Context, actor auth.Actor, action rbac.Action) error
}

type indexWriter interface {
	IndexEntity(ctx context.Context, t entity.Type, rec entity.Record, deferCommit bool) error
	Delete(ctx context.Context, t entity.Type, idOrName string, deferCommit bool) error
	Clear(ctx context.Context, t entity.Type, deferCommit bool) error
	Commit(ctx context.Context) error
	DefaultDeferCommit() bool
}

type rebuilder interface {
	Rebuild(ctx context.Context, t entity.Type, opts rebuild.Options) (*rebuild.Report, error)
}

type shower interface {
	Show(ctx context.Context, t entity.Type, key string) (entity.Record, error)
}

type packageShower interface {
	PackageShow(ctx context.Context, id string) (entity.Record, error)
}

type userLookup interface {
	GetUser(ctx context.Context, idOrName string) (store.User, error)
}

// labelInvalidator drops cached permission labels after membership changes.
type labelInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Service. Packages, Users, Labels and DB
// are optional.
type Deps struct {
	Search     *sitesearch.Service
	Writer     indexWriter
	Rebuilder  rebuilder
	Shower     shower
	Packages   packageShower
	Users      userLookup
	Labels     labelInvalidator
	Authorizer authorizer
	Store      search.Store
	DB         pinger
}

// Service exposes the named search, index and rebuild operations.
type Service struct {
	cfg  *config.Config
	deps Deps
	log  zerolog.Logger
}

func New(cfg *config.Config, deps Deps, log zerolog.Logger) *Service {
	if deps.Authorizer == nil {
		deps.Authorizer = rbac.Authorizer{}
	}
	return &Service{cfg: cfg, deps: deps, log: log.With().Str("component", "app").Logger()}
}

// Ref names one indexed entity.
type Ref struct {
	Type entity.Type `json:"entity_type"`
	ID   string      `json:"id"`
}

func (s *Service) Search(ctx context.Context, actor auth.Actor, t entity.Type, params map[string]any) (*sitesearch.Result, error) {
	return s.deps.Search.Search(ctx, actor, t, params)
}

func (s *Service) SiteSearch(ctx context.Context, actor auth.Actor, params map[string]any) (map[string]*sitesearch.Result, error) {
	return s.deps.Search.SiteSearch(ctx, actor, params)
}

type IndexInput struct {
	EntityType  string
	ID          string
	Record      entity.Record
	DeferCommit *bool
}

// Index writes one entity, either from the given record or fetched through
// its show action.
func (s *Service) Index(ctx context.Context, actor auth.Actor, in IndexInput) (Ref, error) {
	if err := s.deps.Authorizer.Authorize(ctx, actor, rbac.ActionIndex); err != nil {
		return Ref{}, err
	}
	t, err := s.writableType(in.EntityType)
	if err != nil {
		return Ref{}, err
	}

	rec := in.Record
	if len(rec) == 0 {
		if strings.TrimSpace(in.ID) == "" {
			return Ref{}, search.NewValidationError("id", "Missing value")
		}
		rec, err = s.deps.Shower.Show(ctx, t, in.ID)
		if err != nil {
			return Ref{}, err
		}
	}
	if err := s.deps.Writer.IndexEntity(ctx, t, rec, s.deferCommit(in.DeferCommit)); err != nil {
		return Ref{}, err
	}
	return Ref{Type: t, ID: rec.String("id")}, nil
}

type DeleteInput struct {
	EntityType  string
	ID          string
	DeferCommit *bool
}

func (s *Service) Delete(ctx context.Context, actor auth.Actor, in DeleteInput) (Ref, error) {
	if err := s.deps.Authorizer.Authorize(ctx, actor, rbac.ActionDelete); err != nil {
		return Ref{}, err
	}
	t, err := s.writableType(in.EntityType)
	if err != nil {
		return Ref{}, err
	}
	if strings.TrimSpace(in.ID) == "" {
		return Ref{}, search.NewValidationError("id", "Missing value")
	}
	if err := s.deps.Writer.Delete(ctx, t, in.ID, s.deferCommit(in.DeferCommit)); err != nil {
		return Ref{}, err
	}
	return Ref{Type: t, ID: in.ID}, nil
}

type ClearInput struct {
	// EntityType is an indexed type or ClearAll.
	EntityType  string
	DeferCommit *bool
}

// Clear removes every document of one type, or with ClearAll every
// document of the site.
func (s *Service) Clear(ctx context.Context, actor auth.Actor, in ClearInput) error {
	if err := s.deps.Authorizer.Authorize(ctx, actor, rbac.ActionClear); err != nil {
		return err
	}
	var t entity.Type
	if !strings.EqualFold(strings.TrimSpace(in.EntityType), ClearAll) {
		var err error
		if t, err = indexedType(in.EntityType); err != nil {
			return err
		}
	}
	return s.deps.Writer.Clear(ctx, t, s.deferCommit(in.DeferCommit))
}

func (s *Service) Commit(ctx context.Context, actor auth.Actor) error {
	if err := s.deps.Authorizer.Authorize(ctx, actor, rbac.ActionCommit); err != nil {
		return err
	}
	return s.deps.Writer.Commit(ctx)
}

type RebuildInput struct {
	EntityType  string
	ID          string
	Force       bool
	Quiet       bool
	DeferCommit *bool
	// Progress receives per-entity progress unless Quiet.
	Progress io.Writer
}

// Rebuild re-indexes one type, or one entity of it.
func (s *Service) Rebuild(ctx context.Context, actor auth.Actor, in RebuildInput) (*rebuild.Report, error) {
	if err := s.deps.Authorizer.Authorize(ctx, actor, rbac.ActionRebuild); err != nil {
		return nil, err
	}
	t, err := entity.ParseType(in.EntityType)
	if err != nil {
		return nil, search.NewValidationError("entity_type", err.Error())
	}
	if t == entity.Page && !s.cfg.PagesEnabled {
		return nil, sitesearch.ErrPagesDisabled
	}
	return s.deps.Rebuilder.Rebuild(ctx, t, rebuild.Options{
		EntityID:    in.ID,
		DeferCommit: s.deferCommit(in.DeferCommit),
		Force:       in.Force,
		Quiet:       in.Quiet,
		Progress:    in.Progress,
	})
}

// Dataset events accepted by DatasetChanged.
const (
	DatasetCreated = "created"
	DatasetUpdated = "updated"
	DatasetDeleted = "deleted"
)

type DatasetChange struct {
	Event   string
	Dataset entity.Record
	// PreviousOwnerOrg and PreviousState describe the dataset before an
	// update.
	PreviousOwnerOrg string
	PreviousState    string
}

// DatasetChanged re-indexes the organizations and groups whose derived
// fields, such as package counts, a dataset change affects.
func (s *Service) DatasetChanged(ctx context.Context, actor auth.Actor, in DatasetChange) ([]Ref, error) {
	if err := s.deps.Authorizer.Authorize(ctx, actor, rbac.ActionDatasetChanged); err != nil {
		return nil, err
	}
	dataset := in.Dataset
	if len(dataset) == 0 {
		return nil, search.NewValidationError("dataset", "Missing value")
	}

	var refs []Ref
	switch in.Event {
	case DatasetCreated:
		refs = appendOrg(refs, dataset.String("owner_org"))
	case DatasetUpdated:
		owner := dataset.String("owner_org")
		if in.PreviousOwnerOrg != owner {
			refs = appendOrg(refs, in.PreviousOwnerOrg)
			refs = appendOrg(refs, owner)
		}
		if in.PreviousState == "draft" && dataset.String("state") == "active" {
			refs = appendOrg(refs, owner)
		}
	case DatasetDeleted:
		if !hasMembership(dataset) && s.deps.Packages != nil {
			full, err := s.deps.Packages.PackageShow(ctx, dataset.String("id"))
			if err != nil {
				return nil, err
			}
			dataset = full
		}
		refs = appendOrg(refs, dataset.String("owner_org"))
		refs = append(refs, memberGroups(dataset)...)
	default:
		return nil, search.NewValidationError("event", fmt.Sprintf("Unknown event: %q", in.Event))
	}

	return s.reindex(ctx, dedupe(refs))
}

type MemberChange struct {
	// ID is the group or organization the member was added to.
	ID         string
	Object     string
	ObjectType string
}

// MemberCreated reacts to a membership change. A dataset added to a group
// re-indexes the group; a user added anywhere loses cached labels.
func (s *Service) MemberCreated(ctx context.Context, actor auth.Actor, in MemberChange) ([]Ref, error) {
	if err := s.deps.Authorizer.Authorize(ctx, actor, rbac.ActionMemberCreated); err != nil {
		return nil, err
	}
	switch in.ObjectType {
	case "package":
		if strings.TrimSpace(in.ID) == "" {
			return nil, search.NewValidationError("id", "Missing value")
		}
		return s.reindex(ctx, []Ref{{Type: entity.Group, ID: in.ID}})
	case "user":
		if s.deps.Labels != nil && in.Object != "" {
			if err := s.deps.Labels.Invalidate(ctx, in.Object); err != nil {
				s.log.Warn().Err(err).Str("user_id", in.Object).Msg("could not invalidate cached labels")
			}
		}
	}
	return []Ref{}, nil
}

func (s *Service) reindex(ctx context.Context, refs []Ref) ([]Ref, error) {
	for _, ref := range refs {
		_, err := s.deps.Rebuilder.Rebuild(ctx, ref.Type, rebuild.Options{
			EntityID:    ref.ID,
			DeferCommit: s.deps.Writer.DefaultDeferCommit(),
			Quiet:       true,
		})
		if err != nil {
			return nil, err
		}
	}
	if refs == nil {
		refs = []Ref{}
	}
	return refs, nil
}

// IssueToken signs a bearer token for an existing platform user.
func (s *Service) IssueToken(ctx context.Context, idOrName string) (string, store.User, error) {
	if s.deps.Users == nil {
		return "", store.User{}, errors.New("user lookup is not configured")
	}
	user, err := s.deps.Users.GetUser(ctx, idOrName)
	if err != nil {
		return "", store.User{}, err
	}
	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.NewClaims(user.ID, user.Name, user.Sysadmin, s.cfg.TokenTTL))
	if err != nil {
		return "", store.User{}, err
	}
	return token, user, nil
}

// ActorFromToken verifies a bearer token. An empty token is the anonymous
// actor.
func (s *Service) ActorFromToken(token string) (auth.Actor, error) {
	if token == "" {
		return auth.Actor{}, nil
	}
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return auth.Actor{}, err
	}
	return auth.ActorFromClaims(claims), nil
}

// Ready checks the database and the document store.
func (s *Service) Ready(ctx context.Context) map[string]error {
	checks := map[string]error{"search": nil}
	if s.deps.DB != nil {
		checks["database"] = s.deps.DB.Ping(ctx)
	}
	if s.deps.Store != nil && !s.deps.Store.Healthy() {
		checks["search"] = search.ErrUnavailable
	}
	return checks
}

func (s *Service) PagesEnabled() bool {
	return s.cfg.PagesEnabled
}

func (s *Service) deferCommit(override *bool) bool {
	if override != nil {
		return *override
	}
	return s.deps.Writer.DefaultDeferCommit()
}

// indexedType parses a type this service writes documents for.
// writableType is indexedType that also refuses pages while they are
// disabled.
func (s *Service) writableType(name string) (entity.Type, error) {
	t, err := indexedType(name)
	if err != nil {
		return "", err
	}
	if t == entity.Page && !s.cfg.PagesEnabled {
		return "", sitesearch.ErrPagesDisabled
	}
	return t, nil
}

func indexedType(name string) (entity.Type, error) {
	t, err := entity.ParseType(name)
	if err != nil {
		return "", search.NewValidationError("entity_type", err.Error())
	}
	if t == entity.Dataset {
		return "", search.NewValidationError("entity_type", rebuild.ErrDatasetsUnsupported.Error())
	}
	return t, nil
}

func appendOrg(refs []Ref, id string) []Ref {
	if id == "" {
		return refs
	}
	return append(refs, Ref{Type: entity.Organization, ID: id})
}

func hasMembership(dataset entity.Record) bool {
	_, hasOrg := dataset["owner_org"]
	_, hasGroups := dataset["groups"]
	return hasOrg || hasGroups
}

// memberGroups lists the groups a dataset record belongs to. Entries
// flagged as organizations are returned as organizations.
func memberGroups(dataset entity.Record) []Ref {
	list, _ := dataset["groups"].([]any)
	var refs []Ref
	for _, item := range list {
		g, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rec := entity.Record(g)
		id := rec.String("id")
		if id == "" {
			id = rec.String("name")
		}
		if id == "" {
			continue
		}
		t := entity.Group
		if rec.Bool("is_organization") {
			t = entity.Organization
		}
		refs = append(refs, Ref{Type: t, ID: id})
	}
	return refs
}

func dedupe(refs []Ref) []Ref {
	seen := make(map[Ref]bool, len(refs))
	out := make([]Ref, 0, len(refs))
	for _, r := range refs {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}
