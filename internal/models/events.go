package models

import (
	"encoding/json"
	"time"
)

// EventKind identifies the type of a domain event flowing through the
// broadcast core. The payload is opaque to the core; only kind and room
// drive routing.
type EventKind string

const (
	KindMessage        EventKind = "message"
	KindTaskUpdate     EventKind = "task-update"
	KindCalendarUpdate EventKind = "calendar-update"
	KindNoteUpdate     EventKind = "note-update"
	KindTyping         EventKind = "typing"
	KindUserJoined     EventKind = "user-joined"
	KindUserLeft       EventKind = "user-left"
)

// Server-to-client event names on the wire.
const (
	EventAuthenticated   = "authenticated"
	EventMessageSent     = "message-sent"
	EventNewMessage      = "new-message"
	EventTaskUpdated     = "task-updated"
	EventCalendarUpdated = "calendar-updated"
	EventNoteUpdated     = "note-updated"
	EventUserTyping      = "user-typing"
	EventUserJoinedRoom  = "user-joined-room"
	EventUserLeftRoom    = "user-left-room"
)

// DomainEvent is one unit of fan-out: a message, a task/calendar/note
// mutation, a typing indicator or a presence change, targeted at one room.
type DomainEvent struct {
	Kind      EventKind       `json:"kind"`
	RoomID    string          `json:"roomId"`
	Payload   json.RawMessage `json:"payload"`
	EmittedAt time.Time       `json:"emittedAt"`

	// OriginConnectionID is the connection the event came in on, used for
	// sender-echo suppression. Empty for REST-originated events.
	OriginConnectionID string `json:"originConnectionId,omitempty"`

	// DedupeKey is the authoritative persisted identifier for message-kind
	// events, assigned before broadcast so the receiving side can collapse
	// the REST response and the broadcast into one entry.
	DedupeKey string `json:"dedupeKey,omitempty"`
}

// ServerEvent returns the wire name this event is delivered under.
func (e *DomainEvent) ServerEvent() string {
	switch e.Kind {
	case KindMessage:
		return EventNewMessage
	case KindTaskUpdate:
		return EventTaskUpdated
	case KindCalendarUpdate:
		return EventCalendarUpdated
	case KindNoteUpdate:
		return EventNoteUpdated
	case KindTyping:
		return EventUserTyping
	case KindUserJoined:
		return EventUserJoinedRoom
	case KindUserLeft:
		return EventUserLeftRoom
	}
	return string(e.Kind)
}

// ExcludesOrigin reports whether delivery must skip the originating
// connection. The sender never needs its own typing echo, and a join
// notification is for the rest of the room.
func (e *DomainEvent) ExcludesOrigin() bool {
	switch e.Kind {
	case KindTyping, KindUserJoined, KindUserLeft:
		return true
	}
	return false
}

// Validate checks the event is routable.
func (e *DomainEvent) Validate() error {
	if e.RoomID == "" {
		return ErrMissingRoom
	}
	switch e.Kind {
	case KindMessage, KindTaskUpdate, KindCalendarUpdate, KindNoteUpdate,
		KindTyping, KindUserJoined, KindUserLeft:
	default:
		return ErrUnknownEventKind
	}
	if e.Kind == KindMessage && e.DedupeKey == "" {
		return ErrMissingDedupeKey
	}
	return nil
}

// PresenceChange is the payload of user-joined / user-left events.
type PresenceChange struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	RoomID    string    `json:"roomId"`
	IsOnline  bool      `json:"isOnline"`
	Timestamp time.Time `json:"timestamp"`
}

// TypingStatus is the payload of typing events.
type TypingStatus struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}
