package presence

import (
	"sync"
	"time"

	"github.com/syncspace/realtime/internal/models"
)

// ConnState tracks the lifecycle of one connection. The only transitions
// are unauthenticated -> authenticated -> removed and unauthenticated ->
// removed (socket closed before authenticating).
type ConnState int

const (
	StateUnauthenticated ConnState = iota
	StateAuthenticated
	StateRemoved
)

type connection struct {
	id       string
	userID   string
	username string
	state    ConnState
	rooms    map[string]struct{}
}

// Removal is the outcome of removing a connection. WentOffline is true
// when the owning user has zero remaining connections; Rooms is the set
// the connection had joined, so the caller can drive room cleanup.
type Removal struct {
	UserID      string
	Username    string
	WentOffline bool
	Rooms       []string
}

// Registry tracks live connections, user-connection multiplicity and
// per-connection room membership. Pure in-memory state machine; no I/O
// happens under its lock.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*connection
	byUser      map[string]map[string]struct{} // user_id -> connection ids
	lastSeen    map[string]time.Time           // user_id -> last offline transition
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]*connection),
		byUser:      make(map[string]map[string]struct{}),
		lastSeen:    make(map[string]time.Time),
	}
}

// Register creates an unauthenticated connection entry. A duplicate id is
// a programming error on the transport side and is rejected.
func (r *Registry) Register(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[connID]; exists {
		return models.ErrDuplicateConnection
	}
	r.connections[connID] = &connection{
		id:    connID,
		state: StateUnauthenticated,
		rooms: make(map[string]struct{}),
	}
	return nil
}

// Authenticate binds a connection to a user identity. Returns true when
// this is the user's first live connection, i.e. the user became online.
// Losing the race against Remove yields ErrUnknownConnection.
func (r *Registry) Authenticate(connID, userID, username string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[connID]
	if !exists {
		return false, models.ErrUnknownConnection
	}

	// Re-authentication with a different identity detaches the old one.
	if conn.state == StateAuthenticated && conn.userID != userID {
		r.detachFromUser(conn)
	}

	conn.userID = userID
	conn.username = username
	conn.state = StateAuthenticated

	becameOnline := len(r.byUser[userID]) == 0
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][connID] = struct{}{}

	return becameOnline, nil
}

// JoinRoom records room membership on the connection
func (r *Registry) JoinRoom(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[connID]
	if !exists {
		return models.ErrUnknownConnection
	}
	if conn.state != StateAuthenticated {
		return models.ErrNotAuthenticated
	}
	conn.rooms[roomID] = struct{}{}
	return nil
}

// Remove deletes the connection and reports whether its user went
// offline. Idempotent: removing an unknown or already-removed id returns
// a zero Removal, never an error — disconnect events can race.
func (r *Registry) Remove(connID string) Removal {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[connID]
	if !exists {
		return Removal{}
	}
	delete(r.connections, connID)

	rooms := make([]string, 0, len(conn.rooms))
	for roomID := range conn.rooms {
		rooms = append(rooms, roomID)
	}

	out := Removal{
		UserID:   conn.userID,
		Username: conn.username,
		Rooms:    rooms,
	}

	if conn.state == StateAuthenticated {
		r.detachFromUser(conn)
		if len(r.byUser[conn.userID]) == 0 {
			delete(r.byUser, conn.userID)
			// lastSeen is stamped at the moment the presence entry
			// disappears, not before.
			r.lastSeen[conn.userID] = time.Now()
			out.WentOffline = true
		}
	}

	conn.state = StateRemoved
	return out
}

// detachFromUser must run under the write lock.
func (r *Registry) detachFromUser(conn *connection) {
	if userConns, exists := r.byUser[conn.userID]; exists {
		delete(userConns, conn.id)
	}
}

// Resolve returns the identity bound to a connection
func (r *Registry) Resolve(connID string) (userID, username string, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[connID]
	if !exists {
		return "", "", models.ErrUnknownConnection
	}
	if conn.state != StateAuthenticated {
		return "", "", models.ErrNotAuthenticated
	}
	return conn.userID, conn.username, nil
}

// RoomsOf returns the rooms the connection has joined
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.connections[connID]
	if !exists {
		return nil
	}
	rooms := make([]string, 0, len(conn.rooms))
	for roomID := range conn.rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// ConnectionsOf returns the live connection ids of a user
func (r *Registry) ConnectionsOf(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns, exists := r.byUser[userID]
	if !exists {
		return nil
	}
	ids := make([]string, 0, len(userConns))
	for id := range userConns {
		ids = append(ids, id)
	}
	return ids
}

// UserInRoom reports whether any live connection of the user has the room
// joined. Used to decide whether a room leave is real or just one tab.
func (r *Registry) UserInRoom(userID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for connID := range r.byUser[userID] {
		if conn, exists := r.connections[connID]; exists {
			if _, joined := conn.rooms[roomID]; joined {
				return true
			}
		}
	}
	return false
}

// Online reports whether the user has at least one live connection
func (r *Registry) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// LastSeen returns when the user last went offline
func (r *Registry) LastSeen(userID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lastSeen[userID]
	return t, ok
}

// Count returns the total number of live connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// CountByUser returns the number of live connections for a user
func (r *Registry) CountByUser(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// OnlineUsers returns the number of users with at least one connection
func (r *Registry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
