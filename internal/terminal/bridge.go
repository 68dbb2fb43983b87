// Package terminal multiplexes interactive shell sessions over
// websocket connections into sandboxes. Sessions are independent of
// generation execution: they share only the provider's per-container
// exec lock, so interactive input never interleaves with a
// generation's shell commands.
package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liveforge-dev/liveforge/internal/sandbox"
)

const (
	writeWait      = 10 * time.Second
	shellReadChunk = 4096
)

// controlFrame is the out-of-band JSON message for resize and close.
// Data frames are raw shell bytes in both directions (websocket binary
// messages).
type controlFrame struct {
	Type string `json:"type"` // "resize" or "close"
	Cols uint   `json:"cols,omitempty"`
	Rows uint   `json:"rows,omitempty"`
}

type sessionKey struct {
	containerID string
	sessionID   string
}

// Session is one live terminal bound to a shell process.
type Session struct {
	ContainerID string
	SessionID   string

	stream sandbox.ShellStream
	conn   *websocket.Conn

	writeMu   sync.Mutex // serializes websocket writes
	closeOnce sync.Once
	done      chan struct{}
}

// Bridge is the registry of named terminal sessions per container.
// It is injectable state with a defined lifecycle: Close tears down
// every session.
type Bridge struct {
	provider sandbox.Provider
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[sessionKey]*Session
	closed   bool
}

// NewBridge creates an empty bridge over the given provider.
func NewBridge(provider sandbox.Provider, logger *slog.Logger) *Bridge {
	return &Bridge{
		provider: provider,
		logger:   logger.With("component", "terminal_bridge"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The API layer in front of us owns origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sessions: make(map[sessionKey]*Session),
	}
}

// ServeHTTP upgrades the request to a websocket and binds it to a
// shell session identified by the container and session query
// parameters. Reconnecting with an existing session id replaces the
// old session.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	containerID := r.URL.Query().Get("container")
	sessionID := r.URL.Query().Get("session")
	if containerID == "" || sessionID == "" {
		http.Error(w, "container and session query parameters required", http.StatusBadRequest)
		return
	}

	cols, rows := uint(80), uint(24)

	stream, err := b.provider.OpenShell(r.Context(), containerID, cols, rows)
	if err != nil {
		status := http.StatusBadGateway
		if sandbox.IsNotFound(err) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = stream.Close()
		return
	}

	sess := &Session{
		ContainerID: containerID,
		SessionID:   sessionID,
		stream:      stream,
		conn:        conn,
		done:        make(chan struct{}),
	}

	if old := b.register(sess); old != nil {
		old.close()
	}
	b.logger.Info("terminal session opened", "container_id", containerID, "session_id", sessionID)

	go b.pumpShellToSocket(sess)
	b.pumpSocketToShell(sess)

	b.remove(sess)
	sess.close()
	b.logger.Info("terminal session closed", "container_id", containerID, "session_id", sessionID)
}

// Sessions returns the number of live sessions, for status reporting.
func (b *Bridge) Sessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// CloseContainer tears down every session bound to a container. Called
// when the sandbox is destroyed.
func (b *Bridge) CloseContainer(containerID string) {
	b.mu.Lock()
	var victims []*Session
	for key, sess := range b.sessions {
		if key.containerID == containerID {
			victims = append(victims, sess)
			delete(b.sessions, key)
		}
	}
	b.mu.Unlock()
	for _, sess := range victims {
		sess.close()
	}
}

// Close tears down all sessions and stops accepting new ones.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	victims := make([]*Session, 0, len(b.sessions))
	for key, sess := range b.sessions {
		victims = append(victims, sess)
		delete(b.sessions, key)
	}
	b.mu.Unlock()
	for _, sess := range victims {
		sess.close()
	}
}

// register adds the session, returning any session it displaced.
func (b *Bridge) register(sess *Session) *Session {
	key := sessionKey{sess.ContainerID, sess.SessionID}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	old := b.sessions[key]
	b.sessions[key] = sess
	return old
}

func (b *Bridge) remove(sess *Session) {
	key := sessionKey{sess.ContainerID, sess.SessionID}
	b.mu.Lock()
	if b.sessions[key] == sess {
		delete(b.sessions, key)
	}
	b.mu.Unlock()
}

// pumpSocketToShell forwards websocket frames to the shell. Binary
// frames are input bytes; text frames are control messages. Each input
// write holds the container's exec lock so terminal commands cannot
// interleave with an in-flight generation exec.
func (b *Bridge) pumpSocketToShell(sess *Session) {
	lock := b.provider.ExecLocker(sess.ContainerID)
	for {
		msgType, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case <-sess.done:
			return
		default:
		}

		switch msgType {
		case websocket.BinaryMessage:
			lock.Lock()
			_, err = sess.stream.Write(data)
			lock.Unlock()
			if err != nil {
				return
			}
		case websocket.TextMessage:
			var frame controlFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				b.logger.Warn("invalid terminal control frame", "session_id", sess.SessionID, "error", err)
				continue
			}
			switch frame.Type {
			case "resize":
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := sess.stream.Resize(ctx, frame.Cols, frame.Rows)
				cancel()
				if err != nil {
					b.logger.Warn("terminal resize failed", "session_id", sess.SessionID, "error", err)
				}
			case "close":
				return
			default:
				b.logger.Warn("unknown terminal control frame", "type", frame.Type)
			}
		}
	}
}

// pumpShellToSocket forwards shell output to the websocket as binary
// frames.
func (b *Bridge) pumpShellToSocket(sess *Session) {
	buf := make([]byte, shellReadChunk)
	for {
		n, err := sess.stream.Read(buf)
		if n > 0 {
			if werr := sess.writeMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				break
			}
		}
		if err != nil {
			break
		}
	}
	// Shell side ended (process exit or container destroy): close the
	// socket so the reader pump unblocks.
	sess.close()
}

func (s *Session) writeMessage(msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(msgType, data)
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.stream.Close()
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
}

// String implements fmt.Stringer for log readability.
func (s *Session) String() string {
	return fmt.Sprintf("%s/%s", s.ContainerID, s.SessionID)
}
