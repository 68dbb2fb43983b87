// Package routes provides a route registry with metadata. Routes are
// registered with both the chi router and a metadata store, keeping
// route definitions and documentation in one place. The registry is
// an explicit, injectable object; there is no process-wide instance.
package routes

import (
	"net/http"
	"regexp"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Route defines an HTTP route with its handler and metadata.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
	Meta    Meta
}

// Meta contains route documentation.
type Meta struct {
	Group       string  `json:"group"`
	Description string  `json:"description"`
	Params      []Param `json:"params,omitempty"`
}

// Param describes a route parameter.
type Param struct {
	Name     string `json:"name"`
	In       string `json:"in"` // "path", "query"
	Required bool   `json:"required,omitempty"`
}

// RouteInfo is the JSON output format for the routes endpoint.
type RouteInfo struct {
	Method      string  `json:"method"`
	Path        string  `json:"path"`
	Group       string  `json:"group"`
	Description string  `json:"description"`
	Params      []Param `json:"params,omitempty"`
}

// Registry stores route metadata for documentation.
type Registry struct {
	mu     sync.RWMutex
	routes *[]RouteInfo // pointer to shared slice so prefixed views append to one store
	prefix string
}

// NewRegistry creates a new route registry.
func NewRegistry() *Registry {
	routes := make([]RouteInfo, 0)
	return &Registry{routes: &routes}
}

// pathParamRegex matches chi path parameters like {generationId}
var pathParamRegex = regexp.MustCompile(`\{([^}]+)\}`)

// Register adds a route to chi and stores its metadata.
func (reg *Registry) Register(r chi.Router, route Route) {
	switch route.Method {
	case http.MethodGet:
		r.Get(route.Pattern, route.Handler)
	case http.MethodPost:
		r.Post(route.Pattern, route.Handler)
	case http.MethodPut:
		r.Put(route.Pattern, route.Handler)
	case http.MethodDelete:
		r.Delete(route.Pattern, route.Handler)
	case http.MethodPatch:
		r.Patch(route.Pattern, route.Handler)
	}

	fullPath := reg.prefix + route.Pattern
	params := extractPathParams(fullPath)
	params = append(params, route.Meta.Params...)

	reg.mu.Lock()
	*reg.routes = append(*reg.routes, RouteInfo{
		Method:      route.Method,
		Path:        fullPath,
		Group:       route.Meta.Group,
		Description: route.Meta.Description,
		Params:      params,
	})
	reg.mu.Unlock()
}

// WithPrefix returns a view that shares storage but prepends a path
// prefix. Use for chi.Route() groups.
func (reg *Registry) WithPrefix(pattern string) *Registry {
	return &Registry{
		prefix: reg.prefix + pattern,
		routes: reg.routes,
	}
}

// Routes returns all registered route metadata.
func (reg *Registry) Routes() []RouteInfo {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	result := make([]RouteInfo, len(*reg.routes))
	copy(result, *reg.routes)
	return result
}

// extractPathParams extracts path parameters from a chi pattern.
func extractPathParams(pattern string) []Param {
	matches := pathParamRegex.FindAllStringSubmatch(pattern, -1)
	params := make([]Param, 0, len(matches))
	for _, match := range matches {
		params = append(params, Param{Name: match[1], In: "path", Required: true})
	}
	return params
}
