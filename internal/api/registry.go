package api

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ModalMetrics/GiftFlow/internal/flow"
	"github.com/ModalMetrics/GiftFlow/internal/models"
)

// watcherWriteTimeout bounds how long one snapshot push may take per
// watcher. A consumer that cannot drain within it is dropped so it never
// wedges the session it is watching.
const watcherWriteTimeout = 2 * time.Second

// sessionEntry pairs a live session with the lock that serializes access
// to it. The browser's HTTP requests and the state stream touch the same
// session; everything that reads or mutates it holds mu.
type sessionEntry struct {
	mu       sync.Mutex
	session  *flow.Session
	lastSeen time.Time
	watchers []*websocket.Conn
}

// touch stamps the entry as recently used. Callers hold mu.
func (e *sessionEntry) touch() {
	e.lastSeen = time.Now()
}

// broadcast pushes a snapshot to every watcher. Callers hold mu, which
// serializes writes on each connection. A watcher whose write fails or
// times out is closed and removed.
func (e *sessionEntry) broadcast(snap models.SessionSnapshot) {
	if len(e.watchers) == 0 {
		return
	}
	kept := e.watchers[:0]
	for _, conn := range e.watchers {
		conn.SetWriteDeadline(time.Now().Add(watcherWriteTimeout))
		if err := conn.WriteJSON(snap); err != nil {
			slog.Debug("sessionEntry.broadcast: dropping watcher", "sessionID", e.session.ID, "error", err)
			conn.Close()
			continue
		}
		kept = append(kept, conn)
	}
	e.watchers = kept
}

// dropWatcher removes one watcher connection and closes it.
func (e *sessionEntry) dropWatcher(conn *websocket.Conn) {
	e.mu.Lock()
	for i, c := range e.watchers {
		if c == conn {
			e.watchers = append(e.watchers[:i], e.watchers[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
	conn.Close()
}

// closeWatchers closes every watcher connection.
func (e *sessionEntry) closeWatchers() {
	e.mu.Lock()
	watchers := e.watchers
	e.watchers = nil
	e.mu.Unlock()
	for _, conn := range watchers {
		conn.Close()
	}
}

// sessionRegistry is the in-process home of live sessions. Sessions are
// memory-only; only the completion record outlives the process.
type sessionRegistry struct {
	mu      sync.RWMutex
	entries map[string]*sessionEntry
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{entries: make(map[string]*sessionEntry)}
}

// put registers a session, replacing any previous entry under the same ID.
// Watchers of a replaced entry are closed.
func (r *sessionRegistry) put(id string, sess *flow.Session) *sessionEntry {
	entry := &sessionEntry{session: sess, lastSeen: time.Now()}
	r.mu.Lock()
	old := r.entries[id]
	r.entries[id] = entry
	r.mu.Unlock()
	if old != nil {
		old.closeWatchers()
	}
	return entry
}

// get returns the entry for a session ID, or nil.
func (r *sessionRegistry) get(id string) *sessionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// remove drops a session and closes its watchers.
func (r *sessionRegistry) remove(id string) {
	r.mu.Lock()
	entry := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if entry != nil {
		entry.closeWatchers()
		slog.Debug("sessionRegistry.remove: session removed", "sessionID", id)
	}
}

// count returns the number of live sessions.
func (r *sessionRegistry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// sweep evicts sessions idle longer than ttl, closing their watchers, and
// returns how many were evicted.
func (r *sessionRegistry) sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	var expired []*sessionEntry
	r.mu.Lock()
	for id, entry := range r.entries {
		entry.mu.Lock()
		idle := entry.lastSeen.Before(cutoff)
		entry.mu.Unlock()
		if idle {
			delete(r.entries, id)
			expired = append(expired, entry)
			slog.Debug("sessionRegistry.sweep: evicting idle session", "sessionID", id)
		}
	}
	r.mu.Unlock()
	for _, entry := range expired {
		entry.closeWatchers()
	}
	return len(expired)
}
