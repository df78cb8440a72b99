package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ModalMetrics/GiftFlow/internal/models"
)

// streamHandler upgrades GET /session/stream to a websocket and pushes the
// session snapshot after every successful mutation. The initial snapshot
// is sent immediately so the client renders without waiting for one.
// Reads only serve disconnect detection; the stream is one-way.
func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.streamHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entry := s.sessionEntry(r)
	if entry == nil {
		slog.Warn("Server.streamHandler: no active session")
		writeJSONResponse(w, http.StatusNotFound, models.Error("No active session"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Server.streamHandler: failed to upgrade connection", "error", err)
		return
	}

	// Register and send the initial snapshot under the session lock so
	// writes on this connection never interleave with a broadcast.
	entry.mu.Lock()
	entry.watchers = append(entry.watchers, conn)
	snap := entry.session.Snapshot()
	conn.SetWriteDeadline(time.Now().Add(watcherWriteTimeout))
	werr := conn.WriteJSON(snap)
	sessionID := entry.session.ID
	entry.mu.Unlock()
	if werr != nil {
		slog.Debug("Server.streamHandler: initial snapshot write failed", "sessionID", sessionID, "error", werr)
		entry.dropWatcher(conn)
		return
	}
	slog.Debug("Server.streamHandler: watcher attached", "sessionID", sessionID)

	defer entry.dropWatcher(conn)
	for {
		// Read messages (just to detect disconnection)
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	slog.Debug("Server.streamHandler: watcher detached", "sessionID", sessionID)
}
