package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/syncspace/realtime/internal/models"
	"github.com/syncspace/realtime/pkg/logger"
)

// Client-to-server message types
const (
	TypeAuthenticate   = "authenticate"
	TypeJoinRoom       = "join-room"
	TypeSendMessage    = "send-message"
	TypeTypingStart    = "typing-start"
	TypeTypingStop     = "typing-stop"
	TypeTaskUpdate     = "task-update"
	TypeCalendarUpdate = "calendar-update"
	TypeNoteUpdate     = "note-update"
	TypePing           = "ping"
)

// ClientMessage represents a message from the client
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ServerMessage represents a direct (non-broadcast) message to one client
type ServerMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Code      string      `json:"code,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp,omitempty"`
}

// RoomRef is a room reference in the authenticate payload
type RoomRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// AuthenticatePayload binds a connection to a user and their rooms
type AuthenticatePayload struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Token    string    `json:"token,omitempty"`
	Rooms    []RoomRef `json:"rooms"`
}

// domainPayload picks the routing fields out of an otherwise opaque
// domain object.
type domainPayload struct {
	TeamID  string `json:"teamId"`
	RoomID  string `json:"roomId"`
	ID      string `json:"id"`
	MongoID string `json:"_id"`
}

func (p *domainPayload) room() string {
	if p.TeamID != "" {
		return p.TeamID
	}
	return p.RoomID
}

func (p *domainPayload) entityID() string {
	if p.ID != "" {
		return p.ID
	}
	return p.MongoID
}

// handleClientMessage dispatches one parsed client message
func (h *Hub) handleClientMessage(conn *Connection, msg *ClientMessage) error {
	switch msg.Type {
	case TypeAuthenticate:
		return h.handleAuthenticate(conn, msg.Data)

	case TypeJoinRoom:
		return h.handleJoinRoom(conn, msg.Data)

	case TypeSendMessage:
		return h.handleSendMessage(conn, msg.Data)

	case TypeTypingStart:
		return h.handleTyping(conn, msg.Data, true)

	case TypeTypingStop:
		return h.handleTyping(conn, msg.Data, false)

	case TypeTaskUpdate:
		return h.handleDomainUpdate(conn, msg.Data, models.KindTaskUpdate)

	case TypeCalendarUpdate:
		return h.handleDomainUpdate(conn, msg.Data, models.KindCalendarUpdate)

	case TypeNoteUpdate:
		return h.handleDomainUpdate(conn, msg.Data, models.KindNoteUpdate)

	case TypePing:
		return h.sendTo(conn, ServerMessage{Type: "pong"})

	default:
		return h.sendError(conn, "unknown_message_type", fmt.Sprintf("unknown message type: %s", msg.Type))
	}
}

func (h *Hub) handleAuthenticate(conn *Connection, data json.RawMessage) error {
	var payload AuthenticatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return h.sendError(conn, "invalid_payload", "failed to parse authenticate payload")
	}
	if payload.UserID == "" || payload.Username == "" {
		return h.sendError(conn, "invalid_payload", "userId and username are required")
	}

	if err := h.auth.VerifyIdentity(payload.UserID, payload.Token); err != nil {
		logger.Warn("Rejected authenticate",
			logger.String("connection_id", conn.ID),
			logger.String("user_id", payload.UserID),
			logger.ErrorField(err),
		)
		return h.sendError(conn, "auth_failed", "identity verification failed")
	}

	if h.config.MaxConnectionsPerUser > 0 &&
		h.registry.CountByUser(payload.UserID) >= h.config.MaxConnectionsPerUser {
		// Soft cap: logged, not enforced.
		logger.Warn("User exceeds connection cap",
			logger.String("user_id", payload.UserID),
			logger.Int("cap", h.config.MaxConnectionsPerUser),
		)
	}

	roomIDs := make([]string, 0, len(payload.Rooms))
	for _, room := range payload.Rooms {
		roomIDs = append(roomIDs, room.ID)
	}

	result, err := h.coordinator.Authenticate(conn.ID, payload.UserID, payload.Username, roomIDs)
	if err != nil {
		return h.sendError(conn, "auth_failed", "connection is not usable")
	}
	conn.SetUserLabel(payload.UserID)

	return h.sendTo(conn, ServerMessage{
		Type: models.EventAuthenticated,
		Data: map[string]interface{}{
			"success":     true,
			"joinedRooms": result.JoinedRooms,
		},
		Timestamp: result.Timestamp,
	})
}

func (h *Hub) handleJoinRoom(conn *Connection, data json.RawMessage) error {
	// The wire form is a bare room id string; an object with roomId is
	// accepted too.
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil {
		var payload struct {
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(data, &payload); err != nil || payload.RoomID == "" {
			return h.sendError(conn, "invalid_payload", "roomId required")
		}
		roomID = payload.RoomID
	}

	if err := h.coordinator.JoinRoom(conn.ID, roomID); err != nil {
		return h.sendError(conn, "join_failed", "cannot join room")
	}
	return nil
}

func (h *Hub) handleSendMessage(conn *Connection, data json.RawMessage) error {
	_, _, err := h.registry.Resolve(conn.ID)
	if err != nil {
		return h.sendError(conn, "not_authenticated", "authenticate first")
	}

	var fields domainPayload
	if err := json.Unmarshal(data, &fields); err != nil {
		return h.sendError(conn, "invalid_payload", "failed to parse message")
	}
	if fields.room() == "" {
		return h.sendError(conn, "invalid_payload", "teamId required")
	}
	if fields.entityID() == "" {
		// The persisted id is the dedupe key; a message that was never
		// stored has nothing for receivers to reconcile against.
		return h.sendError(conn, "invalid_payload", "message id required")
	}

	h.router.Publish(&models.DomainEvent{
		Kind:               models.KindMessage,
		RoomID:             fields.room(),
		Payload:            data,
		EmittedAt:          time.Now(),
		OriginConnectionID: conn.ID,
		DedupeKey:          fields.entityID(),
	})

	return h.sendTo(conn, ServerMessage{
		Type: models.EventMessageSent,
		Data: map[string]interface{}{
			"messageId": fields.entityID(),
			"success":   true,
		},
		Timestamp: time.Now(),
	})
}

func (h *Hub) handleTyping(conn *Connection, data json.RawMessage, isTyping bool) error {
	userID, username, err := h.registry.Resolve(conn.ID)
	if err != nil {
		// Typing from a closed or unauthenticated connection is noise.
		return nil
	}

	var fields domainPayload
	if err := json.Unmarshal(data, &fields); err != nil || fields.room() == "" {
		return nil
	}

	payload, err := json.Marshal(models.TypingStatus{
		UserID:   userID,
		Username: username,
		RoomID:   fields.room(),
		IsTyping: isTyping,
	})
	if err != nil {
		return err
	}

	h.router.Publish(&models.DomainEvent{
		Kind:               models.KindTyping,
		RoomID:             fields.room(),
		Payload:            payload,
		EmittedAt:          time.Now(),
		OriginConnectionID: conn.ID,
	})
	return nil
}

func (h *Hub) handleDomainUpdate(conn *Connection, data json.RawMessage, kind models.EventKind) error {
	userID, _, err := h.registry.Resolve(conn.ID)
	if err != nil {
		return h.sendError(conn, "not_authenticated", "authenticate first")
	}

	var fields domainPayload
	if err := json.Unmarshal(data, &fields); err != nil {
		return h.sendError(conn, "invalid_payload", "failed to parse update")
	}
	if fields.room() == "" {
		return h.sendError(conn, "invalid_payload", "teamId required")
	}

	payload, err := stampUpdatedBy(data, userID)
	if err != nil {
		return h.sendError(conn, "invalid_payload", "failed to parse update")
	}

	h.router.Publish(&models.DomainEvent{
		Kind:               kind,
		RoomID:             fields.room(),
		Payload:            payload,
		EmittedAt:          time.Now(),
		OriginConnectionID: conn.ID,
	})
	return nil
}

// stampUpdatedBy adds the acting user to an otherwise opaque payload
func stampUpdatedBy(data json.RawMessage, userID string) (json.RawMessage, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	obj["updatedBy"] = userID
	return json.Marshal(obj)
}

func (h *Hub) sendTo(conn *Connection, msg ServerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.Enqueue(data)
}

func (h *Hub) sendError(conn *Connection, code string, message string) error {
	// Best effort; a full buffer on an error reply is not worth noise.
	_ = h.sendTo(conn, ServerMessage{
		Type:    "error",
		Code:    code,
		Message: message,
	})
	return nil
}
