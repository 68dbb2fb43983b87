package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/liveforge-dev/liveforge/internal/generation"
	"github.com/liveforge-dev/liveforge/internal/model"
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Origin policy is enforced upstream of this service.
	CheckOrigin: func(*http.Request) bool { return true },
}

const eventWriteWait = 10 * time.Second

// GenerationEvents streams update-card snapshots for a generation over
// a websocket. Each message is the full snapshot, not a delta, so a
// client that misses a frame stays correct.
func (h *Handler) GenerationEvents(w http.ResponseWriter, r *http.Request) {
	generationID := chi.URLParam(r, "generationId")

	run, active := h.manager.Get(generationID)
	if !active {
		// A finished generation has no event stream to follow.
		h.Error(w, http.StatusNotFound, "no active generation")
		return
	}

	// Subscribe before the initial snapshot so no transition between
	// the two is lost.
	ch, cancel := h.broker.Subscribe("generation:" + generationID)
	defer cancel()

	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("events websocket upgrade failed", "generation_id", generationID, "error", err)
		return
	}
	defer conn.Close()

	// Reader goroutine: the client sends nothing meaningful, but reads
	// must be pumped for close frames to be processed.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(snap generation.Snapshot) bool {
		conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
		if err := conn.WriteJSON(snap); err != nil {
			return false
		}
		return true
	}

	if !send(run.Snapshot()) {
		return
	}

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			snap, ok := payload.(generation.Snapshot)
			if !ok {
				continue
			}
			if !send(snap) {
				return
			}
			if snap.Status != "" &&
				snap.Status != model.GenerationStatusPending &&
				snap.Status != model.GenerationStatusRunning {
				// Terminal snapshot delivered; the stream is complete.
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(eventWriteWait))
				return
			}
		case <-run.Done():
			// Drain whatever the broker already queued, then send the
			// final state.
			for {
				select {
				case payload, ok := <-ch:
					if !ok {
						return
					}
					if snap, isSnap := payload.(generation.Snapshot); isSnap {
						if !send(snap) {
							return
						}
					}
					continue
				default:
				}
				break
			}
			send(run.Snapshot())
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(eventWriteWait))
			return
		case <-clientGone:
			return
		}
	}
}
