package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"sitesearch/internal/auth"
	"sitesearch/internal/entity"
	"sitesearch/internal/util"
)

const actionPrefix = "/api/action/"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
	actions    map[string]actionFunc
	metrics    http.Handler
}

type actionFunc func(ctx context.Context, actor auth.Actor, params map[string]any) (any, error)

func NewHTTPServer(service *Service, corsOrigin string, log zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		log:        log.With().Str("component", "http").Logger(),
		metrics:    promhttp.Handler(),
	}
	s.actions = s.routes()
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) routes() map[string]actionFunc {
	searchFor := func(t entity.Type) actionFunc {
		return func(ctx context.Context, actor auth.Actor, params map[string]any) (any, error) {
			return s.service.Search(ctx, actor, t, params)
		}
	}
	routes := map[string]actionFunc{
		"organization_search": searchFor(entity.Organization),
		"group_search":        searchFor(entity.Group),
		"user_search":         searchFor(entity.User),
		"site_search": func(ctx context.Context, actor auth.Actor, params map[string]any) (any, error) {
			return s.service.SiteSearch(ctx, actor, params)
		},
		"sitesearch_index":           s.handleIndex,
		"sitesearch_delete":          s.handleDelete,
		"sitesearch_clear":           s.handleClear,
		"sitesearch_commit":          s.handleCommit,
		"sitesearch_rebuild":         s.handleRebuild,
		"sitesearch_dataset_changed": s.handleDatasetChanged,
		"sitesearch_member_created":  s.handleMemberCreated,
	}
	if s.service.PagesEnabled() {
		routes["page_search"] = searchFor(entity.Page)
	}
	return routes
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	isRead := r.Method == http.MethodGet || r.Method == http.MethodHead
	switch {
	case isRead && r.URL.Path == "/api/health":
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	case isRead && r.URL.Path == "/api/ready":
		s.handleReady(w, r)
		return
	case isRead && r.URL.Path == "/metrics":
		s.metrics.ServeHTTP(w, r)
		return
	}

	name, ok := strings.CutPrefix(r.URL.Path, actionPrefix)
	if !ok || name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	action, ok := s.actions[name]
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Action not found: "+name, nil)
		return
	}

	actor, err := s.service.ActorFromToken(bearerToken(r))
	if err != nil {
		s.fail(w, r, name, err)
		return
	}
	actor.PlatformToken = strings.TrimSpace(r.Header.Get("X-Platform-Token"))

	params, err := actionParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	ctx := auth.WithActor(r.Context(), actor)
	result, err := action(ctx, actor, params)
	if err != nil {
		s.fail(w, r, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Ready(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	status, code, message, details := mapError(err)
	event := s.log.Debug()
	if status >= http.StatusInternalServerError {
		event = s.log.Error().Stack()
	}
	event.Err(err).
		Str("request_id", requestID(r.Context())).
		Str("action", action).
		Int("status", status).
		Msg("action failed")
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) handleIndex(ctx context.Context, actor auth.Actor, params map[string]any) (any, error) {
	rec, err := recordParam(params, "record")
	if err != nil {
		return nil, err
	}
	deferCommit, err := boolParam(params, "defer_commit")
	if err != nil {
		return nil, err
	}
	return s.service.Index(ctx, actor, IndexInput{
		EntityType:  stringParam(params, "entity_type"),
		ID:          stringParam(params, "id"),
		Record:      rec,
		DeferCommit: deferCommit,
	})
}

func (s *HTTPServer) handleDelete(ctx context.Context, actor auth.Actor, params map[string]any) (any, error) {
	deferCommit, err := boolParam(params, "defer_commit")
	if err != nil {
		return nil, err
	}
	return s.service.Delete(ctx, actor, DeleteInput{
		EntityType:  stringParam(params, "entity_type"),
		ID:          stringParam(params, "id"),
		DeferCommit: deferCommit,
	})
}

func (s *HTTPServer) handleClear(ctx context.Context, actor auth.Actor, params map[string]any) (any, error) {
	deferCommit, err := boolParam(params, "defer_commit")
	if err != nil {
		return nil, err
	}
	in := ClearInput{EntityType: stringParam(params, "entity_type"), DeferCommit: deferCommit}
	if err := s.service.Clear(ctx, actor, in); err != nil {
		return nil, err
	}
	return map[string]any{"cleared": in.EntityType}, nil
}

func (s *HTTPServer) handleCommit(ctx context.Context, actor auth.Actor, _ map[string]any) (any, error) {
	if err := s.service.Commit(ctx, actor); err != nil {
		return nil, err
	}
	return map[string]any{"committed": true}, nil
}

func (s *HTTPServer) handleRebuild(ctx context.Context, actor auth.Actor, params map[string]any) (any, error) {
	deferCommit, err := boolParam(params, "defer_commit")
	if err != nil {
		return nil, err
	}
	force, err := boolParam(params, "force")
	if err != nil {
		return nil, err
	}
	return s.service.Rebuild(ctx, actor, RebuildInput{
		EntityType:  stringParam(params, "entity_type"),
		ID:          stringParam(params, "id"),
		Force:       force != nil && *force,
		Quiet:       true,
		DeferCommit: deferCommit,
	})
}

func (s *HTTPServer) handleDatasetChanged(ctx context.Context, actor auth.Actor, params map[string]any) (any, error) {
	dataset, err := recordParam(params, "dataset")
	if err != nil {
		return nil, err
	}
	refs, err := s.service.DatasetChanged(ctx, actor, DatasetChange{
		Event:            stringParam(params, "event"),
		Dataset:          dataset,
		PreviousOwnerOrg: stringParam(params, "previous_owner_org"),
		PreviousState:    stringParam(params, "previous_state"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"reindexed": refs}, nil
}

func (s *HTTPServer) handleMemberCreated(ctx context.Context, actor auth.Actor, params map[string]any) (any, error) {
	refs, err := s.service.MemberCreated(ctx, actor, MemberChange{
		ID:         stringParam(params, "id"),
		Object:     stringParam(params, "object"),
		ObjectType: stringParam(params, "object_type"),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"reindexed": refs}, nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = util.NewID("req")
		}
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		s.log.Info().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Platform-Token")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// actionParams merges query string parameters with a JSON object body.
// Repeated query keys become lists; body keys win.
func actionParams(r *http.Request) (map[string]any, error) {
	params := map[string]any{}
	for key, values := range r.URL.Query() {
		if len(values) == 1 {
			params[key] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, v := range values {
			list[i] = v
		}
		params[key] = list
	}
	if r.Method != http.MethodPost {
		return params, nil
	}

	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		return nil, err
	}
	for k, v := range body {
		params[k] = v
	}
	return params, nil
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func stringParam(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		return fmt.Sprint(v)
	}
}

// boolParam reads an optional flag. Absent keys give nil.
func boolParam(params map[string]any, key string) (*bool, error) {
	var b bool
	switch v := params[key].(type) {
	case nil:
		return nil, nil
	case bool:
		b = v
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation error", map[string][]string{key: {"Not a boolean"}})
		}
		b = parsed
	default:
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation error", map[string][]string{key: {"Not a boolean"}})
	}
	return &b, nil
}

// recordParam reads a JSON object given inline or as an encoded string.
func recordParam(params map[string]any, key string) (entity.Record, error) {
	switch v := params[key].(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return normalizeNumbers(v).(map[string]any), nil
	case string:
		var rec map[string]any
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation error", map[string][]string{key: {"Not a JSON object"}})
		}
		return rec, nil
	}
	return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "Validation error", map[string][]string{key: {"Not a JSON object"}})
}

// normalizeNumbers turns json.Number values from a UseNumber decoder back
// into float64 so records match what a plain decode produces.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, item := range t {
			t[k] = normalizeNumbers(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = normalizeNumbers(item)
		}
		return t
	}
	return v
}
