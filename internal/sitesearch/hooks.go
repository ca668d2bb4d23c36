package sitesearch

import (
	"sync"

	"sitesearch/internal/entity"
)

// BeforeFunc transforms search parameters before a search runs.
type BeforeFunc func(params map[string]any) map[string]any

// AfterFunc transforms a search result. params are the parameters the
// search ran with.
type AfterFunc func(result *Result, params map[string]any) *Result

// AfterSiteFunc transforms the merged site search result.
type AfterSiteFunc func(results map[string]*Result, params map[string]any) map[string]*Result

// Hooks holds ordered transform callbacks. They run in registration order.
type Hooks struct {
	mu         sync.RWMutex
	before     map[entity.Type][]BeforeFunc
	after      map[entity.Type][]AfterFunc
	beforeSite []BeforeFunc
	afterSite  []AfterSiteFunc
}

// NewHooks returns an empty hook registry.
func NewHooks() *Hooks {
	return &Hooks{
		before: map[entity.Type][]BeforeFunc{},
		after:  map[entity.Type][]AfterFunc{},
	}
}

func (h *Hooks) Before(t entity.Type, fn BeforeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before[t] = append(h.before[t], fn)
}

func (h *Hooks) After(t entity.Type, fn AfterFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.after[t] = append(h.after[t], fn)
}

func (h *Hooks) BeforeSite(fn BeforeFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.beforeSite = append(h.beforeSite, fn)
}

func (h *Hooks) AfterSite(fn AfterSiteFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.afterSite = append(h.afterSite, fn)
}

func (h *Hooks) runBefore(t entity.Type, params map[string]any) map[string]any {
	h.mu.RLock()
	fns := h.before[t]
	h.mu.RUnlock()
	for _, fn := range fns {
		params = fn(params)
	}
	return params
}

func (h *Hooks) runAfter(t entity.Type, result *Result, params map[string]any) *Result {
	h.mu.RLock()
	fns := h.after[t]
	h.mu.RUnlock()
	for _, fn := range fns {
		result = fn(result, params)
	}
	return result
}

func (h *Hooks) runBeforeSite(params map[string]any) map[string]any {
	h.mu.RLock()
	fns := h.beforeSite
	h.mu.RUnlock()
	for _, fn := range fns {
		params = fn(params)
	}
	return params
}

func (h *Hooks) runAfterSite(results map[string]*Result, params map[string]any) map[string]*Result {
	h.mu.RLock()
	fns := h.afterSite
	h.mu.RUnlock()
	for _, fn := range fns {
		results = fn(results, params)
	}
	return results
}
