package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/syncspace/realtime/internal/models"
	"github.com/syncspace/realtime/internal/presence"
)

// captureTransport records every frame pushed per connection
type captureTransport struct {
	mu      sync.Mutex
	frames  map[string][][]byte
	failFor map[string]bool
}

func newCaptureTransport() *captureTransport {
	return &captureTransport{
		frames:  make(map[string][][]byte),
		failFor: make(map[string]bool),
	}
}

func (t *captureTransport) Send(connectionID string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failFor[connectionID] {
		return errors.New("send buffer full")
	}
	t.frames[connectionID] = append(t.frames[connectionID], data)
	return nil
}

func (t *captureTransport) frameCount(connID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames[connID])
}

func (t *captureTransport) lastEnvelope(tb testing.TB, connID string) Envelope {
	tb.Helper()
	t.mu.Lock()
	frames := t.frames[connID]
	t.mu.Unlock()
	if len(frames) == 0 {
		tb.Fatalf("No frames delivered to %s", connID)
	}
	var env Envelope
	if err := json.Unmarshal(frames[len(frames)-1], &env); err != nil {
		tb.Fatalf("Failed to unmarshal envelope: %v", err)
	}
	return env
}

type routerFixture struct {
	registry  *presence.Registry
	rooms     *presence.RoomDirectory
	transport *captureTransport
	router    *Router
}

func newRouterFixture() *routerFixture {
	f := &routerFixture{
		registry:  presence.NewRegistry(),
		rooms:     presence.NewRoomDirectory(time.Minute),
		transport: newCaptureTransport(),
	}
	f.router = NewRouter(f.registry, f.rooms, f.transport, func() string { return "bcast-1" })
	return f
}

func (f *routerFixture) addMember(connID, userID, roomID string) {
	f.registry.Register(connID)
	f.registry.Authenticate(connID, userID, userID)
	f.registry.JoinRoom(connID, roomID)
	f.rooms.Join(roomID, userID)
}

func TestRouter_DeliversToRoomMembersOnly(t *testing.T) {
	f := newRouterFixture()
	f.addMember("conn-a", "user-a", "room-1")
	f.addMember("conn-b", "user-b", "room-1")
	f.addMember("conn-c", "user-c", "room-2")

	report := f.router.Publish(&models.DomainEvent{
		Kind:      models.KindMessage,
		RoomID:    "room-1",
		Payload:   json.RawMessage(`{"content":"hello"}`),
		DedupeKey: "msg-1",
	})

	if report.Attempted != 2 || report.Delivered != 2 {
		t.Errorf("Expected 2/2 deliveries, got %d/%d", report.Delivered, report.Attempted)
	}
	if f.transport.frameCount("conn-c") != 0 {
		t.Error("Expected no delivery outside the room")
	}

	env := f.transport.lastEnvelope(t, "conn-b")
	if env.Type != models.EventNewMessage {
		t.Errorf("Expected %s, got %s", models.EventNewMessage, env.Type)
	}
	if env.DedupeKey != "msg-1" {
		t.Errorf("Expected dedupe key msg-1, got %s", env.DedupeKey)
	}
	if env.BroadcastID != "bcast-1" {
		t.Errorf("Expected broadcast id, got %q", env.BroadcastID)
	}
}

func TestRouter_MessageIncludesSenderConnections(t *testing.T) {
	f := newRouterFixture()
	f.addMember("conn-a1", "user-a", "room-1")
	f.addMember("conn-a2", "user-a", "room-1")
	f.addMember("conn-b", "user-b", "room-1")

	// Messages echo back to the sender so every tab converges
	report := f.router.Publish(&models.DomainEvent{
		Kind:               models.KindMessage,
		RoomID:             "room-1",
		Payload:            json.RawMessage(`{}`),
		OriginConnectionID: "conn-a1",
		DedupeKey:          "msg-2",
	})

	if report.Delivered != 3 {
		t.Errorf("Expected delivery to all 3 connections, got %d", report.Delivered)
	}
	if f.transport.frameCount("conn-a1") != 1 {
		t.Error("Expected the sender connection to receive its own message")
	}
}

func TestRouter_TypingExcludesOrigin(t *testing.T) {
	f := newRouterFixture()
	f.addMember("conn-a", "user-a", "room-1")
	f.addMember("conn-b", "user-b", "room-1")

	report := f.router.Publish(&models.DomainEvent{
		Kind:               models.KindTyping,
		RoomID:             "room-1",
		Payload:            json.RawMessage(`{"isTyping":true}`),
		OriginConnectionID: "conn-a",
	})

	if report.Attempted != 1 || report.Delivered != 1 {
		t.Errorf("Expected 1/1 deliveries, got %d/%d", report.Delivered, report.Attempted)
	}
	if f.transport.frameCount("conn-a") != 0 {
		t.Error("Expected no typing echo to the origin connection")
	}
	env := f.transport.lastEnvelope(t, "conn-b")
	if env.Type != models.EventUserTyping {
		t.Errorf("Expected %s, got %s", models.EventUserTyping, env.Type)
	}
}

func TestRouter_FailedDeliveryIsIsolated(t *testing.T) {
	f := newRouterFixture()
	f.addMember("conn-a", "user-a", "room-1")
	f.addMember("conn-b", "user-b", "room-1")
	f.addMember("conn-c", "user-c", "room-1")
	f.transport.failFor["conn-b"] = true

	report := f.router.Publish(&models.DomainEvent{
		Kind:      models.KindMessage,
		RoomID:    "room-1",
		Payload:   json.RawMessage(`{}`),
		DedupeKey: "msg-3",
	})

	if report.Attempted != 3 {
		t.Errorf("Expected 3 attempts, got %d", report.Attempted)
	}
	if report.Delivered != 2 {
		t.Errorf("Expected 2 deliveries despite one failure, got %d", report.Delivered)
	}
	if f.transport.frameCount("conn-a") != 1 || f.transport.frameCount("conn-c") != 1 {
		t.Error("Expected healthy connections to receive the event")
	}
}

func TestRouter_UnknownRoomDeliversNothing(t *testing.T) {
	f := newRouterFixture()
	f.addMember("conn-a", "user-a", "room-1")

	report := f.router.Publish(&models.DomainEvent{
		Kind:      models.KindMessage,
		RoomID:    "room-ghost",
		Payload:   json.RawMessage(`{}`),
		DedupeKey: "msg-4",
	})

	if report.Attempted != 0 {
		t.Errorf("Expected no attempts for an unknown room, got %d", report.Attempted)
	}
}

func TestRouter_RejectsUnroutableEvents(t *testing.T) {
	f := newRouterFixture()
	f.addMember("conn-a", "user-a", "room-1")

	cases := []*models.DomainEvent{
		{Kind: models.KindMessage, Payload: json.RawMessage(`{}`), DedupeKey: "x"}, // no room
		{Kind: "mystery", RoomID: "room-1", Payload: json.RawMessage(`{}`)},        // unknown kind
		{Kind: models.KindMessage, RoomID: "room-1", Payload: json.RawMessage(`{}`)}, // message without dedupe key
	}
	for _, ev := range cases {
		if report := f.router.Publish(ev); report.Attempted != 0 {
			t.Errorf("Expected event %+v to be dropped, got %d attempts", ev, report.Attempted)
		}
	}
	if f.transport.frameCount("conn-a") != 0 {
		t.Error("Expected nothing delivered")
	}
}

func TestRouter_MembershipSnapshotAtPublish(t *testing.T) {
	f := newRouterFixture()
	f.addMember("conn-a", "user-a", "room-1")

	f.router.Publish(&models.DomainEvent{
		Kind:      models.KindMessage,
		RoomID:    "room-1",
		Payload:   json.RawMessage(`{}`),
		DedupeKey: "msg-5",
	})

	// A member joining after publish must not receive the earlier event
	f.addMember("conn-late", "user-late", "room-1")
	if f.transport.frameCount("conn-late") != 0 {
		t.Error("Expected no delivery to a member who joined after publish")
	}
}

func TestRouter_StampsEmittedAt(t *testing.T) {
	f := newRouterFixture()
	f.addMember("conn-a", "user-a", "room-1")

	f.router.Publish(&models.DomainEvent{
		Kind:      models.KindMessage,
		RoomID:    "room-1",
		Payload:   json.RawMessage(`{}`),
		DedupeKey: "msg-6",
	})

	env := f.transport.lastEnvelope(t, "conn-a")
	if env.Timestamp.IsZero() {
		t.Error("Expected envelope timestamp to be stamped")
	}
}
