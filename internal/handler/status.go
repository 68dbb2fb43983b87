package handler

import (
	"net/http"
	"runtime"
	"time"
)

var startTime = time.Now()

// GetStatus reports server health, runtime info, and live counts.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	sandboxes, err := h.provider.List(r.Context())
	sandboxCount := len(sandboxes)
	runtimeOK := err == nil

	h.JSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(startTime).Round(time.Second).String(),
		"version": runtime.Version(),
		"runtime": map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"available":  runtimeOK,
		},
		"generations": map[string]any{
			"active": h.manager.Active(),
		},
		"sandboxes": map[string]any{
			"count": sandboxCount,
			"image": h.cfg.SandboxImage,
		},
		"terminal": map[string]any{
			"sessions": h.bridge.Sessions(),
		},
		"database": map[string]any{
			"driver": h.cfg.DatabaseDriver,
		},
	})
}
