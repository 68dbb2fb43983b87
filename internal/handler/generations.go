package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/liveforge-dev/liveforge/internal/generation"
	"github.com/liveforge-dev/liveforge/internal/middleware"
	"github.com/liveforge-dev/liveforge/internal/store"
)

// CreateGeneration starts a generation for a project and feeds it the
// planner's action stream. The request body is NDJSON: one event per
// line, consumed as it arrives so execution overlaps with streaming.
// The response is the final snapshot once the stream is drained.
func (h *Handler) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectId")
	if projectID == "" {
		h.Error(w, http.StatusBadRequest, "projectId is required")
		return
	}
	userID := middleware.GetUserID(r.Context())

	run, err := h.manager.Start(r.Context(), projectID, userID)
	if err != nil {
		if errors.Is(err, generation.ErrClosed) {
			h.Error(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		h.logger.Error("failed to start generation", "project_id", projectID, "error", err)
		h.Error(w, http.StatusInternalServerError, "failed to start generation")
		return
	}

	var streamErr error
	dec := json.NewDecoder(r.Body)
	for {
		var ev generation.Event
		if err := dec.Decode(&ev); err != nil {
			if !errors.Is(err, io.EOF) {
				streamErr = err
			}
			break
		}
		if err := run.Push(r.Context(), ev); err != nil {
			streamErr = err
			break
		}
	}
	run.CloseStream()

	// Let whatever was accepted before the stream ended run to
	// completion, then report where things landed.
	select {
	case <-run.Done():
	case <-r.Context().Done():
	}

	snap := run.Snapshot()
	if streamErr != nil {
		h.logger.Warn("generation stream ended early",
			"generation_id", run.GenerationID, "error", streamErr)
		h.JSON(w, http.StatusBadRequest, map[string]any{
			"error":      streamErr.Error(),
			"generation": snap,
		})
		return
	}
	h.JSON(w, http.StatusOK, snap)
}

// GetGeneration returns the live snapshot for an in-flight generation,
// or the persisted record for a finished one.
func (h *Handler) GetGeneration(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "generationId")

	if run, ok := h.manager.Get(generationID); ok {
		h.JSON(w, http.StatusOK, run.Snapshot())
		return
	}

	gen, err := h.store.GetGeneration(r.Context(), generationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.Error(w, http.StatusNotFound, "generation not found")
			return
		}
		h.logger.Error("failed to load generation", "generation_id", generationID, "error", err)
		h.Error(w, http.StatusInternalServerError, "failed to load generation")
		return
	}
	h.JSON(w, http.StatusOK, generation.Snapshot{
		GenerationID: gen.ID,
		SandboxID:    gen.SandboxID,
		Status:       gen.Status,
		Reason:       gen.Reason,
		Cards:        []generation.UpdateCard{},
	})
}

// CancelGeneration requests cancellation of an in-flight generation.
// The response reports whether a matching active generation was
// cancelled; a miss is not an error.
func (h *Handler) CancelGeneration(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "generationId")
	userID := middleware.GetUserID(r.Context())

	cancelled, err := h.manager.Cancel(r.Context(), generationID, userID)
	if err != nil {
		h.logger.Error("failed to cancel generation", "generation_id", generationID, "error", err)
		h.Error(w, http.StatusInternalServerError, "failed to cancel generation")
		return
	}
	h.JSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}
