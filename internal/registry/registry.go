// ABOUTME: Tracks which live connection belongs to which user for push delivery.
// ABOUTME: One lock guards both directions of the mapping so stale unregisters cannot evict newer ones.

package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
)

// Conn is a live client connection that can receive encoded push frames.
type Conn interface {
	// ID uniquely identifies the connection for its lifetime.
	ID() string
	// Send writes one frame to the client, honoring ctx for the deadline.
	Send(ctx context.Context, frame []byte) error
	// Close tears the connection down.
	Close()
}

// Entry is a point-in-time view of one registration.
type Entry struct {
	UserID string `json:"userId"`
	ConnID string `json:"connId"`
}

// Registry maps users to their current connection and connections back to users.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Conn   // userID -> current connection
	byConn map[string]string // connID -> userID
	live   map[string]Conn   // connID -> every connection not yet unregistered, superseded ones included
	logger *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		byUser: make(map[string]Conn),
		byConn: make(map[string]string),
		live:   make(map[string]Conn),
		logger: logger,
	}
}

// Register associates conn with userID. The last registration for a user wins;
// the connection it replaces is returned but not closed. Registering a
// connection that already belongs to another user moves it.
func (r *Registry) Register(userID string, conn Conn) (replaced Conn) {
	connID := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prevUser, ok := r.byConn[connID]; ok && prevUser != userID {
		if cur, ok := r.byUser[prevUser]; ok && cur.ID() == connID {
			delete(r.byUser, prevUser)
		}
	}

	if cur, ok := r.byUser[userID]; ok && cur.ID() != connID {
		replaced = cur
		delete(r.byConn, cur.ID())
	}

	r.byUser[userID] = conn
	r.byConn[connID] = userID
	r.live[connID] = conn

	r.logger.Info("=== CLIENT REGISTERED ===",
		"user_id", userID,
		"conn_id", connID,
		"superseded", replaced != nil,
		"total_clients", len(r.byUser),
	)
	return replaced
}

// Unregister removes conn. The user's entry is only cleared if conn is still
// that user's current connection. A superseded connection is only dropped from
// the shutdown set; unknown connections are a no-op.
// Returns the user the connection was registered to and whether anything was removed.
func (r *Registry) Unregister(conn Conn) (userID string, removed bool) {
	connID := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.live, connID)

	userID, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	delete(r.byConn, connID)

	if cur, ok := r.byUser[userID]; ok && cur.ID() == connID {
		delete(r.byUser, userID)
	}

	r.logger.Info("=== CLIENT DISCONNECTED ===",
		"user_id", userID,
		"conn_id", connID,
		"total_clients", len(r.byUser),
	)
	return userID, true
}

// Lookup returns the user's current connection, if any.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.byUser[userID]
	return conn, ok
}

// Len returns the number of users with a live connection.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}

// Snapshot returns all current registrations ordered by user ID.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.byUser))
	for userID, conn := range r.byUser {
		entries = append(entries, Entry{UserID: userID, ConnID: conn.ID()})
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

// CloseAll closes every connection that has not unregistered, including
// superseded ones that no longer receive pushes, and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]Conn, 0, len(r.live))
	for _, conn := range r.live {
		conns = append(conns, conn)
	}
	r.byUser = make(map[string]Conn)
	r.byConn = make(map[string]string)
	r.live = make(map[string]Conn)
	r.mu.Unlock()

	// Close outside the lock; a closing connection may call Unregister.
	for _, conn := range conns {
		conn.Close()
	}
	if len(conns) > 0 {
		r.logger.Info("closed live connections", "count", len(conns))
	}
}
