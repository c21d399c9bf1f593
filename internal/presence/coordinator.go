package presence

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/syncspace/realtime/internal/models"
	"github.com/syncspace/realtime/pkg/logger"
)

// Notifier delivers presence notifications to a room. Implemented by the
// broadcast router; kept as an interface so presence logic never touches
// delivery.
type Notifier interface {
	Notify(ev *models.DomainEvent)
}

// AuthResult is returned to the transport layer so it can ack the client
type AuthResult struct {
	UserID      string
	Username    string
	JoinedRooms []string
	Timestamp   time.Time
}

// Coordinator orchestrates the authenticate/join/disconnect lifecycle
// over the ConnectionRegistry and RoomDirectory and decides when presence
// notifications are emitted. Stateless: every decision is derived from
// the two registries at call time.
type Coordinator struct {
	registry *Registry
	rooms    *RoomDirectory
	notifier Notifier
}

// NewCoordinator creates a presence coordinator
func NewCoordinator(registry *Registry, rooms *RoomDirectory, notifier Notifier) *Coordinator {
	return &Coordinator{
		registry: registry,
		rooms:    rooms,
		notifier: notifier,
	}
}

// PersonalRoom is the per-user room for directed notifications
func PersonalRoom(userID string) string {
	return "user-" + userID
}

// Authenticate binds the connection to the user, joins the personal room
// plus every requested room, and emits user-joined-room to each room
// where membership actually changed. A second tab joining the same rooms
// emits nothing.
func (c *Coordinator) Authenticate(connID, userID, username string, roomIDs []string) (*AuthResult, error) {
	_, err := c.registry.Authenticate(connID, userID, username)
	if err != nil {
		// Benign race between close and authenticate; a malformed client
		// must never take the process down.
		logger.Warn("Authenticate on unusable connection",
			logger.String("connection_id", connID),
			logger.String("user_id", userID),
			logger.ErrorField(err),
		)
		return nil, err
	}

	now := time.Now()

	personal := PersonalRoom(userID)
	if err := c.registry.JoinRoom(connID, personal); err == nil {
		c.rooms.Join(personal, userID)
	}

	joined := make([]string, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		if roomID == "" {
			continue
		}
		if err := c.registry.JoinRoom(connID, roomID); err != nil {
			// Connection died mid-loop; whatever was joined so far is
			// cleaned up by the disconnect path.
			logger.Warn("Join during authenticate failed",
				logger.String("connection_id", connID),
				logger.String("room_id", roomID),
				logger.ErrorField(err),
			)
			break
		}
		joined = append(joined, roomID)
		if c.rooms.Join(roomID, userID) {
			c.notifyPresence(models.KindUserJoined, userID, username, roomID, connID, true, now)
		}
	}

	logger.UsersOnline.Set(float64(c.registry.OnlineUsers()))

	logger.Info("User authenticated",
		logger.String("connection_id", connID),
		logger.String("user_id", userID),
		logger.String("username", username),
		logger.Int("rooms", len(joined)),
		logger.Int("user_connections", c.registry.CountByUser(userID)),
	)

	return &AuthResult{
		UserID:      userID,
		Username:    username,
		JoinedRooms: joined,
		Timestamp:   now,
	}, nil
}

// JoinRoom joins one additional room mid-session. Emits user-joined-room
// only when the user was not already a member via another connection.
func (c *Coordinator) JoinRoom(connID, roomID string) error {
	userID, username, err := c.registry.Resolve(connID)
	if err != nil {
		logger.Warn("Join-room on unusable connection",
			logger.String("connection_id", connID),
			logger.String("room_id", roomID),
			logger.ErrorField(err),
		)
		return err
	}

	if err := c.registry.JoinRoom(connID, roomID); err != nil {
		return err
	}
	if c.rooms.Join(roomID, userID) {
		c.notifyPresence(models.KindUserJoined, userID, username, roomID, connID, true, time.Now())
	}

	logger.Debug("User joined room",
		logger.String("connection_id", connID),
		logger.String("user_id", userID),
		logger.String("room_id", roomID),
	)
	return nil
}

// Disconnect removes the connection. Only when the user's last connection
// is gone does it leave rooms and emit user-left-room; closing one of
// several tabs stays silent. Idempotent.
func (c *Coordinator) Disconnect(connID string) {
	removal := c.registry.Remove(connID)
	if removal.UserID == "" {
		// Never authenticated, or a duplicate disconnect event.
		return
	}

	logger.UsersOnline.Set(float64(c.registry.OnlineUsers()))

	if !removal.WentOffline {
		logger.Debug("Connection closed, user still online",
			logger.String("connection_id", connID),
			logger.String("user_id", removal.UserID),
			logger.Int("remaining_connections", c.registry.CountByUser(removal.UserID)),
		)
		return
	}

	now := time.Now()
	personal := PersonalRoom(removal.UserID)
	for _, roomID := range c.rooms.LeaveAll(removal.UserID) {
		if roomID == personal {
			continue
		}
		c.notifyPresence(models.KindUserLeft, removal.UserID, removal.Username, roomID, connID, false, now)
	}

	logger.Info("User went offline",
		logger.String("connection_id", connID),
		logger.String("user_id", removal.UserID),
		logger.String("username", removal.Username),
	)
}

func (c *Coordinator) notifyPresence(kind models.EventKind, userID, username, roomID, originConnID string, online bool, at time.Time) {
	payload, err := json.Marshal(models.PresenceChange{
		UserID:    userID,
		Username:  username,
		RoomID:    roomID,
		IsOnline:  online,
		Timestamp: at,
	})
	if err != nil {
		logger.Error("Failed to marshal presence change",
			logger.String("user_id", userID),
			logger.String("room_id", roomID),
			logger.ErrorField(err),
		)
		return
	}

	c.notifier.Notify(&models.DomainEvent{
		Kind:               kind,
		RoomID:             roomID,
		Payload:            payload,
		EmittedAt:          at,
		OriginConnectionID: originConnID,
	})
}

// IsBenign reports whether an error from the lifecycle entry points is a
// known race rather than something worth escalating.
func IsBenign(err error) bool {
	return errors.Is(err, models.ErrUnknownConnection) ||
		errors.Is(err, models.ErrNotAuthenticated)
}
