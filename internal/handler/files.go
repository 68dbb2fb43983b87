package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/liveforge-dev/liveforge/internal/sandbox"
)

// ListSandboxFiles returns the workspace file tree. Pass refresh=true
// to bypass the cached tree.
func (h *Handler) ListSandboxFiles(w http.ResponseWriter, r *http.Request) {
	sandboxID := chi.URLParam(r, "sandboxId")

	var (
		entries []sandbox.FileEntry
		err     error
	)
	if r.URL.Query().Get("refresh") == "true" {
		entries, err = h.tree.Refresh(r.Context(), sandboxID)
	} else {
		entries, err = h.tree.Tree(r.Context(), sandboxID)
	}
	if err != nil {
		h.sandboxError(w, sandboxID, "list files", err)
		return
	}
	h.provider.Touch(sandboxID)
	h.JSON(w, http.StatusOK, map[string]any{"files": entries})
}

// ReadSandboxFile returns the contents of one workspace file.
func (h *Handler) ReadSandboxFile(w http.ResponseWriter, r *http.Request) {
	sandboxID := chi.URLParam(r, "sandboxId")
	path := r.URL.Query().Get("path")
	if path == "" {
		h.Error(w, http.StatusBadRequest, "path is required")
		return
	}

	sb, err := h.provider.Get(r.Context(), sandboxID)
	if err != nil {
		h.sandboxError(w, sandboxID, "read file", err)
		return
	}
	content, err := h.provider.ReadFile(r.Context(), sb.ContainerID, path)
	if err != nil {
		h.sandboxError(w, sandboxID, "read file", err)
		return
	}
	h.provider.Touch(sandboxID)
	h.JSON(w, http.StatusOK, map[string]string{"path": path, "content": string(content)})
}

type writeFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// WriteSandboxFile writes a file into the workspace, creating parent
// directories as needed, and records the prior content for diffs.
func (h *Handler) WriteSandboxFile(w http.ResponseWriter, r *http.Request) {
	sandboxID := chi.URLParam(r, "sandboxId")

	var req writeFileRequest
	if err := h.DecodeJSON(r, &req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		h.Error(w, http.StatusBadRequest, "path is required")
		return
	}

	sb, err := h.provider.Get(r.Context(), sandboxID)
	if err != nil {
		h.sandboxError(w, sandboxID, "write file", err)
		return
	}

	before, readErr := h.provider.ReadFile(r.Context(), sb.ContainerID, req.Path)
	existed := readErr == nil
	if readErr != nil && !sandbox.IsNotFound(readErr) {
		h.sandboxError(w, sandboxID, "read file", readErr)
		return
	}

	if err := h.provider.WriteFile(r.Context(), sb.ContainerID, req.Path, []byte(req.Content)); err != nil {
		h.sandboxError(w, sandboxID, "write file", err)
		return
	}
	h.tree.RecordWrite(sandboxID, req.Path, string(before), existed)
	h.tree.Invalidate(sandboxID)
	h.provider.Touch(sandboxID)

	h.JSON(w, http.StatusOK, map[string]any{"path": req.Path, "created": !existed})
}

// GetSandboxDiff returns before/after content for files written this
// session. With ?path= it returns one diff; without, the list of
// modified paths.
func (h *Handler) GetSandboxDiff(w http.ResponseWriter, r *http.Request) {
	sandboxID := chi.URLParam(r, "sandboxId")

	path := r.URL.Query().Get("path")
	if path == "" {
		h.JSON(w, http.StatusOK, map[string]any{"paths": h.tree.ModifiedPaths(sandboxID)})
		return
	}

	diff, err := h.tree.Diff(r.Context(), sandboxID, path)
	if err != nil {
		h.sandboxError(w, sandboxID, "diff file", err)
		return
	}
	h.JSON(w, http.StatusOK, diff)
}

// DestroySandbox tears down a sandbox. Destroying a sandbox that is
// already gone succeeds.
func (h *Handler) DestroySandbox(w http.ResponseWriter, r *http.Request) {
	sandboxID := chi.URLParam(r, "sandboxId")

	if sb, err := h.provider.Get(r.Context(), sandboxID); err == nil {
		h.bridge.CloseContainer(sb.ContainerID)
	}
	if err := h.provider.Destroy(r.Context(), sandboxID); err != nil {
		h.sandboxError(w, sandboxID, "destroy sandbox", err)
		return
	}
	h.tree.Forget(sandboxID)
	h.JSON(w, http.StatusOK, map[string]bool{"destroyed": true})
}

// sandboxError maps provider error kinds onto HTTP statuses.
func (h *Handler) sandboxError(w http.ResponseWriter, sandboxID, op string, err error) {
	switch {
	case sandbox.IsNotFound(err):
		h.Error(w, http.StatusNotFound, "not found")
	case sandbox.IsRuntimeUnavailable(err):
		h.logger.Error("container runtime unavailable", "sandbox_id", sandboxID, "op", op, "error", err)
		h.Error(w, http.StatusBadGateway, "container runtime unavailable")
	case sandbox.IsTimedOut(err):
		h.Error(w, http.StatusGatewayTimeout, "operation timed out")
	default:
		h.logger.Error("sandbox operation failed", "sandbox_id", sandboxID, "op", op, "error", err)
		h.Error(w, http.StatusInternalServerError, "sandbox operation failed")
	}
}
