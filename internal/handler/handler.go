// Package handler implements the HTTP API boundary over the
// generation engine, sandbox provider, file tree, and terminal bridge.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/liveforge-dev/liveforge/internal/config"
	"github.com/liveforge-dev/liveforge/internal/events"
	"github.com/liveforge-dev/liveforge/internal/filetree"
	"github.com/liveforge-dev/liveforge/internal/generation"
	"github.com/liveforge-dev/liveforge/internal/middleware"
	"github.com/liveforge-dev/liveforge/internal/routes"
	"github.com/liveforge-dev/liveforge/internal/sandbox"
	"github.com/liveforge-dev/liveforge/internal/store"
	"github.com/liveforge-dev/liveforge/internal/terminal"
)

// Handler holds the wired services behind the HTTP API.
type Handler struct {
	cfg      *config.Config
	store    *store.Store
	manager  *generation.Manager
	provider sandbox.Provider
	tree     *filetree.Synchronizer
	bridge   *terminal.Bridge
	broker   *events.Broker
	registry *routes.Registry
	logger   *slog.Logger
}

// New wires a handler.
func New(
	cfg *config.Config,
	st *store.Store,
	manager *generation.Manager,
	provider sandbox.Provider,
	tree *filetree.Synchronizer,
	bridge *terminal.Bridge,
	broker *events.Broker,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    st,
		manager:  manager,
		provider: provider,
		tree:     tree,
		bridge:   bridge,
		broker:   broker,
		registry: routes.NewRegistry(),
		logger:   logger.With("component", "handler"),
	}
}

// Router builds the chi router with all API routes registered.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-User-ID"},
		AllowCredentials: false,
	}))
	r.Use(middleware.RequestLogger(h.logger))
	r.Use(middleware.UserContext)

	r.Route("/api", func(api chi.Router) {
		reg := h.registry.WithPrefix("/api")

		reg.Register(api, routes.Route{
			Method: "POST", Pattern: "/projects/{projectId}/generations",
			Handler: h.CreateGeneration,
			Meta: routes.Meta{Group: "generations",
				Description: "Start a generation; the body is an NDJSON stream of action events"},
		})
		reg.Register(api, routes.Route{
			Method: "GET", Pattern: "/generations/{generationId}",
			Handler: h.GetGeneration,
			Meta:    routes.Meta{Group: "generations", Description: "Get generation status and update cards"},
		})
		reg.Register(api, routes.Route{
			Method: "POST", Pattern: "/generations/{generationId}/cancel",
			Handler: h.CancelGeneration,
			Meta:    routes.Meta{Group: "generations", Description: "Cancel an in-flight generation"},
		})
		reg.Register(api, routes.Route{
			Method: "GET", Pattern: "/generations/{generationId}/events",
			Handler: h.GenerationEvents,
			Meta:    routes.Meta{Group: "generations", Description: "Websocket stream of update-card snapshots"},
		})

		reg.Register(api, routes.Route{
			Method: "GET", Pattern: "/sandboxes/{sandboxId}/files",
			Handler: h.ListSandboxFiles,
			Meta: routes.Meta{Group: "files", Description: "List the sandbox workspace file tree",
				Params: []routes.Param{{Name: "path", In: "query"}, {Name: "refresh", In: "query"}}},
		})
		reg.Register(api, routes.Route{
			Method: "GET", Pattern: "/sandboxes/{sandboxId}/files/read",
			Handler: h.ReadSandboxFile,
			Meta: routes.Meta{Group: "files", Description: "Read a file from the sandbox workspace",
				Params: []routes.Param{{Name: "path", In: "query", Required: true}}},
		})
		reg.Register(api, routes.Route{
			Method: "PUT", Pattern: "/sandboxes/{sandboxId}/files/write",
			Handler: h.WriteSandboxFile,
			Meta:    routes.Meta{Group: "files", Description: "Write a file into the sandbox workspace"},
		})
		reg.Register(api, routes.Route{
			Method: "GET", Pattern: "/sandboxes/{sandboxId}/diff",
			Handler: h.GetSandboxDiff,
			Meta: routes.Meta{Group: "files", Description: "Before/after diff for files changed this session",
				Params: []routes.Param{{Name: "path", In: "query"}}},
		})
		reg.Register(api, routes.Route{
			Method: "DELETE", Pattern: "/sandboxes/{sandboxId}",
			Handler: h.DestroySandbox,
			Meta:    routes.Meta{Group: "sandboxes", Description: "Destroy a sandbox"},
		})

		reg.Register(api, routes.Route{
			Method: "GET", Pattern: "/terminal",
			Handler: h.bridge.ServeHTTP,
			Meta: routes.Meta{Group: "terminal", Description: "Websocket terminal session into a sandbox",
				Params: []routes.Param{
					{Name: "container", In: "query", Required: true},
					{Name: "session", In: "query", Required: true},
				}},
		})

		reg.Register(api, routes.Route{
			Method: "GET", Pattern: "/status",
			Handler: h.GetStatus,
			Meta:    routes.Meta{Group: "system", Description: "Server status and configuration snapshot"},
		})
		reg.Register(api, routes.Route{
			Method: "GET", Pattern: "/routes",
			Handler: h.GetRoutes,
			Meta:    routes.Meta{Group: "system", Description: "List all registered API routes"},
		})
	})

	return r
}

// JSON writes a JSON response with the given status.
func (h *Handler) JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func (h *Handler) Error(w http.ResponseWriter, status int, msg string) {
	h.JSON(w, status, map[string]string{"error": msg})
}

// DecodeJSON decodes the request body into v.
func (h *Handler) DecodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// GetRoutes returns all registered API routes with their metadata.
func (h *Handler) GetRoutes(w http.ResponseWriter, _ *http.Request) {
	h.JSON(w, http.StatusOK, h.registry.Routes())
}
