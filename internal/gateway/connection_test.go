package gateway

import (
	"errors"
	"testing"
	"time"
)

func TestConnection_Enqueue(t *testing.T) {
	conn := NewConnection("conn-1", nil)

	if err := conn.Enqueue([]byte("frame")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if got := <-conn.Send; string(got) != "frame" {
		t.Errorf("Expected frame, got %s", got)
	}
}

func TestConnection_EnqueueDropsWhenFull(t *testing.T) {
	conn := NewConnection("conn-1", nil)

	for i := 0; i < cap(conn.Send); i++ {
		if err := conn.Enqueue([]byte("x")); err != nil {
			t.Fatalf("Enqueue() error = %v at %d", err, i)
		}
	}

	err := conn.Enqueue([]byte("overflow"))
	if !errors.Is(err, ErrSendBufferFull) {
		t.Errorf("Expected ErrSendBufferFull, got %v", err)
	}
}

func TestConnection_EnqueueAfterClose(t *testing.T) {
	conn := NewConnection("conn-1", nil)
	conn.Close()

	err := conn.Enqueue([]byte("late"))
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	conn := NewConnection("conn-1", nil)
	conn.Close()
	conn.Close() // must not panic on the already-closed channel
}

func TestConnection_UserLabel(t *testing.T) {
	conn := NewConnection("conn-1", nil)

	if conn.UserLabel() != "" {
		t.Errorf("Expected empty label, got %q", conn.UserLabel())
	}
	conn.SetUserLabel("user-1")
	if conn.UserLabel() != "user-1" {
		t.Errorf("Expected user-1, got %q", conn.UserLabel())
	}
}

func TestConnection_LastPong(t *testing.T) {
	conn := NewConnection("conn-1", nil)
	before := conn.LastPong()

	time.Sleep(5 * time.Millisecond)
	conn.UpdateLastPong()
	if !conn.LastPong().After(before) {
		t.Error("Expected LastPong to advance")
	}
}

func TestPool_SendToUnknownConnection(t *testing.T) {
	pool := NewPool()
	if err := pool.Send("conn-ghost", []byte("x")); err == nil {
		t.Error("Expected error for unknown connection")
	}
}

func TestPool_AddRemove(t *testing.T) {
	pool := NewPool()
	conn := NewConnection("conn-1", nil)

	pool.Add(conn)
	if pool.Count() != 1 {
		t.Errorf("Expected 1 connection, got %d", pool.Count())
	}
	if got, ok := pool.Get("conn-1"); !ok || got != conn {
		t.Error("Expected to retrieve the added connection")
	}

	if removed := pool.Remove("conn-1"); removed != conn {
		t.Error("Expected Remove to return the connection")
	}
	if removed := pool.Remove("conn-1"); removed != nil {
		t.Error("Expected nil for an already-removed connection")
	}
	if pool.Count() != 0 {
		t.Errorf("Expected empty pool, got %d", pool.Count())
	}
}

func TestPool_SendEnqueues(t *testing.T) {
	pool := NewPool()
	conn := NewConnection("conn-1", nil)
	pool.Add(conn)

	if err := pool.Send("conn-1", []byte("frame")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := <-conn.Send; string(got) != "frame" {
		t.Errorf("Expected frame, got %s", got)
	}
}
