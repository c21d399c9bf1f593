package presence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/syncspace/realtime/internal/models"
)

// captureNotifier records presence notifications instead of routing them
type captureNotifier struct {
	events []*models.DomainEvent
}

func (n *captureNotifier) Notify(ev *models.DomainEvent) {
	n.events = append(n.events, ev)
}

func (n *captureNotifier) ofKind(kind models.EventKind) []*models.DomainEvent {
	var out []*models.DomainEvent
	for _, ev := range n.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newTestCoordinator() (*Coordinator, *Registry, *RoomDirectory, *captureNotifier) {
	registry := NewRegistry()
	rooms := NewRoomDirectory(time.Minute)
	notifier := &captureNotifier{}
	return NewCoordinator(registry, rooms, notifier), registry, rooms, notifier
}

func TestCoordinator_AuthenticateJoinsRooms(t *testing.T) {
	coord, registry, rooms, notifier := newTestCoordinator()

	registry.Register("conn-1")
	result, err := coord.Authenticate("conn-1", "user-1", "alice", []string{"room-1", "room-2"})
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	if len(result.JoinedRooms) != 2 {
		t.Errorf("Expected 2 joined rooms, got %v", result.JoinedRooms)
	}
	if len(rooms.MembersOf("room-1")) != 1 {
		t.Errorf("Expected user in room-1, got %v", rooms.MembersOf("room-1"))
	}
	if len(rooms.MembersOf(PersonalRoom("user-1"))) != 1 {
		t.Error("Expected user in their personal room")
	}

	joins := notifier.ofKind(models.KindUserJoined)
	if len(joins) != 2 {
		t.Fatalf("Expected 2 join notifications, got %d", len(joins))
	}
	for _, ev := range joins {
		if ev.OriginConnectionID != "conn-1" {
			t.Errorf("Expected origin conn-1, got %s", ev.OriginConnectionID)
		}
		var change models.PresenceChange
		if err := json.Unmarshal(ev.Payload, &change); err != nil {
			t.Fatalf("Failed to unmarshal payload: %v", err)
		}
		if change.UserID != "user-1" || change.Username != "alice" || !change.IsOnline {
			t.Errorf("Unexpected presence change %+v", change)
		}
	}
}

func TestCoordinator_AuthenticateUnregisteredConnection(t *testing.T) {
	coord, _, _, notifier := newTestCoordinator()

	_, err := coord.Authenticate("conn-ghost", "user-1", "alice", []string{"room-1"})
	if err == nil {
		t.Fatal("Expected error for unregistered connection")
	}
	if !IsBenign(err) {
		t.Errorf("Expected a benign race error, got %v", err)
	}
	if len(notifier.events) != 0 {
		t.Errorf("Expected no notifications, got %d", len(notifier.events))
	}
}

func TestCoordinator_SecondTabIsSilent(t *testing.T) {
	coord, registry, _, notifier := newTestCoordinator()

	registry.Register("conn-1")
	registry.Register("conn-2")
	coord.Authenticate("conn-1", "user-1", "alice", []string{"room-1"})
	notifier.events = nil

	// Same user, second tab, same room: membership is unchanged
	coord.Authenticate("conn-2", "user-1", "alice", []string{"room-1"})
	if len(notifier.events) != 0 {
		t.Errorf("Expected no notifications for a second tab, got %d", len(notifier.events))
	}
}

func TestCoordinator_JoinRoomMidSession(t *testing.T) {
	coord, registry, rooms, notifier := newTestCoordinator()

	registry.Register("conn-1")
	coord.Authenticate("conn-1", "user-1", "alice", nil)
	notifier.events = nil

	if err := coord.JoinRoom("conn-1", "room-9"); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}
	if len(rooms.MembersOf("room-9")) != 1 {
		t.Error("Expected user in room-9")
	}
	if len(notifier.ofKind(models.KindUserJoined)) != 1 {
		t.Errorf("Expected 1 join notification, got %d", len(notifier.events))
	}

	// Joining again via the same connection stays silent
	notifier.events = nil
	if err := coord.JoinRoom("conn-1", "room-9"); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}
	if len(notifier.events) != 0 {
		t.Errorf("Expected no duplicate notification, got %d", len(notifier.events))
	}
}

func TestCoordinator_JoinRoomUnauthenticated(t *testing.T) {
	coord, registry, _, _ := newTestCoordinator()

	registry.Register("conn-1")
	if err := coord.JoinRoom("conn-1", "room-1"); err == nil {
		t.Error("Expected error joining before authenticate")
	}
}

func TestCoordinator_DisconnectOneOfTwoTabsIsSilent(t *testing.T) {
	coord, registry, rooms, notifier := newTestCoordinator()

	registry.Register("conn-1")
	registry.Register("conn-2")
	coord.Authenticate("conn-1", "user-1", "alice", []string{"room-1"})
	coord.Authenticate("conn-2", "user-1", "alice", []string{"room-1"})
	notifier.events = nil

	coord.Disconnect("conn-1")
	if len(notifier.events) != 0 {
		t.Errorf("Expected no notifications while a tab remains, got %d", len(notifier.events))
	}
	if len(rooms.MembersOf("room-1")) != 1 {
		t.Error("Expected user to remain a room member")
	}
}

func TestCoordinator_LastDisconnectLeavesEveryRoom(t *testing.T) {
	coord, registry, rooms, notifier := newTestCoordinator()

	registry.Register("conn-1")
	registry.Register("conn-2")
	coord.Authenticate("conn-1", "user-1", "alice", []string{"room-1"})
	coord.Authenticate("conn-2", "user-1", "alice", []string{"room-2"})

	// First tab closes; its room must survive because the user is online
	coord.Disconnect("conn-1")
	notifier.events = nil

	coord.Disconnect("conn-2")

	left := notifier.ofKind(models.KindUserLeft)
	if len(left) != 2 {
		t.Fatalf("Expected 2 leave notifications, got %d", len(left))
	}
	seen := map[string]bool{}
	for _, ev := range left {
		seen[ev.RoomID] = true
	}
	if !seen["room-1"] || !seen["room-2"] {
		t.Errorf("Expected leaves for room-1 and room-2, got %v", seen)
	}

	if len(rooms.MembersOf("room-1")) != 0 || len(rooms.MembersOf("room-2")) != 0 {
		t.Error("Expected both rooms emptied")
	}
	if len(rooms.MembersOf(PersonalRoom("user-1"))) != 0 {
		t.Error("Expected personal room emptied")
	}
}

func TestCoordinator_NoLeaveNotificationForPersonalRoom(t *testing.T) {
	coord, registry, _, notifier := newTestCoordinator()

	registry.Register("conn-1")
	coord.Authenticate("conn-1", "user-1", "alice", nil)
	notifier.events = nil

	coord.Disconnect("conn-1")
	if len(notifier.events) != 0 {
		t.Errorf("Expected no leave notification for the personal room, got %d", len(notifier.events))
	}
}

func TestCoordinator_DisconnectIsIdempotent(t *testing.T) {
	coord, registry, _, notifier := newTestCoordinator()

	registry.Register("conn-1")
	coord.Authenticate("conn-1", "user-1", "alice", []string{"room-1"})
	coord.Disconnect("conn-1")
	notifier.events = nil

	coord.Disconnect("conn-1")
	if len(notifier.events) != 0 {
		t.Errorf("Expected duplicate disconnect to stay silent, got %d", len(notifier.events))
	}
}

func TestCoordinator_DisconnectUnauthenticated(t *testing.T) {
	coord, registry, _, notifier := newTestCoordinator()

	registry.Register("conn-1")
	coord.Disconnect("conn-1")
	if len(notifier.events) != 0 {
		t.Errorf("Expected no notifications, got %d", len(notifier.events))
	}
	if registry.Count() != 0 {
		t.Errorf("Expected connection removed, got %d", registry.Count())
	}
}
