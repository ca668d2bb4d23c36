// Package platform calls the host data platform's action API: entity show
// actions, organization membership and dataset search.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"sitesearch/internal/auth"
	"sitesearch/internal/entity"
	"sitesearch/internal/rbac"
	"sitesearch/internal/search"
)

type Config struct {
	URL      string
	APIToken string
	Timeout  time.Duration
}

// Client talks to <URL>/api/3/action/<name>. Show and membership calls use
// the service token; dataset searches run as the caller.
type Client struct {
	http  *resty.Client
	token string
	log   zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &Client{
		http:  c,
		token: cfg.APIToken,
		log:   log.With().Str("component", "platform").Logger(),
	}
}

var showActions = map[entity.Type]struct {
	action string
	key    string
}{
	entity.Organization: {"organization_show", "id"},
	entity.Group:        {"group_show", "id"},
	entity.User:         {"user_show", "id"},
	entity.Page:         {"ckanext_pages_show", "page"},
}

// Show fetches the canonical record of an entity. Pages are keyed by name.
func (c *Client) Show(ctx context.Context, t entity.Type, key string) (entity.Record, error) {
	show, ok := showActions[t]
	if !ok {
		return nil, fmt.Errorf("no show action for %s", t)
	}
	var rec entity.Record
	if err := c.call(ctx, show.action, map[string]any{show.key: key}, c.token, &rec); err != nil {
		if search.IsNotFoundError(err) {
			return nil, search.NotFoundError{Type: notFoundName(t), ID: key}
		}
		return nil, err
	}
	if rec == nil {
		return nil, search.NotFoundError{Type: notFoundName(t), ID: key}
	}
	return rec, nil
}

// OrganizationsForUser returns the ids of organizations where userID holds
// permission.
func (c *Client) OrganizationsForUser(ctx context.Context, userID, permission string) ([]string, error) {
	var orgs []struct {
		ID string `json:"id"`
	}
	body := map[string]any{"id": userID, "permission": permission}
	if err := c.call(ctx, "organization_list_for_user", body, c.token, &orgs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(orgs))
	for _, o := range orgs {
		ids = append(ids, o.ID)
	}
	return ids, nil
}

// PackageSearch runs a dataset search with the caller's own platform token.
func (c *Client) PackageSearch(ctx context.Context, actor auth.Actor, params map[string]any) (map[string]any, error) {
	var out map[string]any
	if err := c.call(ctx, "package_search", params, actor.PlatformToken, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// PackageShow returns a dataset record. Used to find the organizations and
// groups a dataset belongs to.
func (c *Client) PackageShow(ctx context.Context, id string) (entity.Record, error) {
	var rec entity.Record
	if err := c.call(ctx, "package_show", map[string]any{"id": id}, c.token, &rec); err != nil {
		if search.IsNotFoundError(err) {
			return nil, search.NotFoundError{Type: "Dataset", ID: id}
		}
		return nil, err
	}
	return rec, nil
}

func (c *Client) call(ctx context.Context, action string, body any, token string, out any) error {
	req := c.http.R().SetContext(ctx).SetBody(body)
	if token != "" {
		req.SetHeader("Authorization", token)
	}

	resp, err := req.Post("/api/3/action/" + action)
	if err != nil {
		c.log.Error().Err(err).Str("action", action).Msg("platform request failed")
		return fmt.Errorf("%s: %w: %v", action, search.ErrUnavailable, err)
	}

	raw := resp.Body()
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("%s: unexpected response (status %d)", action, resp.StatusCode())
	}
	envelope := gjson.ParseBytes(raw)
	if envelope.Get("success").Bool() && resp.StatusCode() < 300 {
		result := envelope.Get("result")
		if !result.Exists() || result.Type == gjson.Null {
			return nil
		}
		if err := json.Unmarshal([]byte(result.Raw), out); err != nil {
			return fmt.Errorf("%s: decode result: %w", action, err)
		}
		return nil
	}

	errType := envelope.Get("error.__type").String()
	message := envelope.Get("error.message").String()
	switch {
	case errType == "Not Found Error" || resp.StatusCode() == http.StatusNotFound:
		return search.NotFoundError{Type: action, ID: message}
	case errType == "Authorization Error" || resp.StatusCode() == http.StatusForbidden:
		return fmt.Errorf("%s: %w", action, rbac.ErrNotAuthorized)
	case errType == "Validation Error":
		return validationError(envelope.Get("error"))
	}
	if message == "" {
		message = envelope.Get("error").Raw
	}
	return fmt.Errorf("%s failed (status %d): %s", action, resp.StatusCode(), message)
}

// validationError turns {"field": ["msg"]} into a search.ValidationError.
func validationError(errObj gjson.Result) error {
	fields := map[string][]string{}
	errObj.ForEach(func(key, value gjson.Result) bool {
		if key.String() == "__type" {
			return true
		}
		if value.IsArray() {
			for _, msg := range value.Array() {
				fields[key.String()] = append(fields[key.String()], msg.String())
			}
		} else {
			fields[key.String()] = append(fields[key.String()], value.String())
		}
		return true
	})
	return search.ValidationError{Fields: fields}
}

func notFoundName(t entity.Type) string {
	switch t {
	case entity.Organization:
		return "Organization"
	case entity.Group:
		return "Group"
	case entity.User:
		return "User"
	case entity.Page:
		return "Page"
	}
	return string(t)
}
