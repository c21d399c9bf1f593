package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDomainEvent_ServerEvent(t *testing.T) {
	cases := []struct {
		kind EventKind
		want string
	}{
		{KindMessage, EventNewMessage},
		{KindTaskUpdate, EventTaskUpdated},
		{KindCalendarUpdate, EventCalendarUpdated},
		{KindNoteUpdate, EventNoteUpdated},
		{KindTyping, EventUserTyping},
		{KindUserJoined, EventUserJoinedRoom},
		{KindUserLeft, EventUserLeftRoom},
	}
	for _, tc := range cases {
		ev := DomainEvent{Kind: tc.kind}
		if got := ev.ServerEvent(); got != tc.want {
			t.Errorf("ServerEvent(%s) = %s, want %s", tc.kind, got, tc.want)
		}
	}
}

func TestDomainEvent_ExcludesOrigin(t *testing.T) {
	excluded := []EventKind{KindTyping, KindUserJoined, KindUserLeft}
	for _, kind := range excluded {
		ev := DomainEvent{Kind: kind}
		if !ev.ExcludesOrigin() {
			t.Errorf("Expected %s to exclude its origin", kind)
		}
	}

	// Messages and domain updates echo back to the sender's connections
	included := []EventKind{KindMessage, KindTaskUpdate, KindCalendarUpdate, KindNoteUpdate}
	for _, kind := range included {
		ev := DomainEvent{Kind: kind}
		if ev.ExcludesOrigin() {
			t.Errorf("Expected %s to include its origin", kind)
		}
	}
}

func TestDomainEvent_Validate(t *testing.T) {
	valid := DomainEvent{
		Kind:      KindMessage,
		RoomID:    "team-1",
		Payload:   json.RawMessage(`{}`),
		DedupeKey: "msg-1",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	noRoom := DomainEvent{Kind: KindTyping}
	if err := noRoom.Validate(); !errors.Is(err, ErrMissingRoom) {
		t.Errorf("Expected ErrMissingRoom, got %v", err)
	}

	badKind := DomainEvent{Kind: "mystery", RoomID: "team-1"}
	if err := badKind.Validate(); !errors.Is(err, ErrUnknownEventKind) {
		t.Errorf("Expected ErrUnknownEventKind, got %v", err)
	}

	noKey := DomainEvent{Kind: KindMessage, RoomID: "team-1"}
	if err := noKey.Validate(); !errors.Is(err, ErrMissingDedupeKey) {
		t.Errorf("Expected ErrMissingDedupeKey, got %v", err)
	}

	// Only message events require the dedupe key
	update := DomainEvent{Kind: KindTaskUpdate, RoomID: "team-1"}
	if err := update.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}
