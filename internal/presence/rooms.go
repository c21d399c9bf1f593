package presence

import (
	"context"
	"sync"
	"time"

	"github.com/syncspace/realtime/pkg/logger"
)

// RoomDirectory tracks room membership by user id. Rooms are created
// implicitly on first join and garbage-collected once empty. Correctness
// never depends on timely collection; Join recreates rooms lazily.
type RoomDirectory struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{} // room_id -> member user ids

	sweepInterval time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	runMu         sync.Mutex
	running       bool
}

// NewRoomDirectory creates an empty room directory
func NewRoomDirectory(sweepInterval time.Duration) *RoomDirectory {
	ctx, cancel := context.WithCancel(context.Background())
	return &RoomDirectory{
		rooms:         make(map[string]map[string]struct{}),
		sweepInterval: sweepInterval,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Join adds the user to the room, creating it if needed. Returns true if
// membership actually changed — the caller uses this to avoid duplicate
// join notifications when a second tab joins the same room.
func (d *RoomDirectory) Join(roomID, userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, exists := d.rooms[roomID]
	if !exists {
		members = make(map[string]struct{})
		d.rooms[roomID] = members
	}
	if _, present := members[userID]; present {
		return false
	}
	members[userID] = struct{}{}
	return true
}

// Leave removes the user from the room. Returns true if membership
// actually changed. Leaving an unknown room is a no-op, not an error.
func (d *RoomDirectory) Leave(roomID, userID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, exists := d.rooms[roomID]
	if !exists {
		return false
	}
	if _, present := members[userID]; !present {
		return false
	}
	delete(members, userID)
	return true
}

// LeaveAll removes the user from every room and returns the rooms whose
// membership changed. Used on the user's last disconnect, where rooms
// joined by earlier-closed connections must be cleaned up too.
func (d *RoomDirectory) LeaveAll(userID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var left []string
	for roomID, members := range d.rooms {
		if _, present := members[userID]; present {
			delete(members, userID)
			left = append(left, roomID)
		}
	}
	return left
}

// MembersOf returns a snapshot of the room's member user ids. An unknown
// room yields an empty set, never an error.
func (d *RoomDirectory) MembersOf(roomID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members, exists := d.rooms[roomID]
	if !exists {
		return nil
	}
	ids := make([]string, 0, len(members))
	for userID := range members {
		ids = append(ids, userID)
	}
	return ids
}

// Count returns the number of rooms, empty ones included
func (d *RoomDirectory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}

// Sweep deletes rooms with no members and returns how many were removed.
// Safe to invoke on an already-empty directory.
func (d *RoomDirectory) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for roomID, members := range d.rooms {
		if len(members) == 0 {
			delete(d.rooms, roomID)
			removed++
		}
	}
	return removed
}

// Start launches the periodic sweep
func (d *RoomDirectory) Start() {
	d.runMu.Lock()
	if d.running {
		d.runMu.Unlock()
		return
	}
	d.running = true
	d.runMu.Unlock()

	d.wg.Add(1)
	go d.sweepLoop()
}

// Stop cancels the sweep loop and waits for it to exit
func (d *RoomDirectory) Stop() {
	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		return
	}
	d.running = false
	d.runMu.Unlock()

	d.cancel()
	d.wg.Wait()
}

func (d *RoomDirectory) sweepLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if removed := d.Sweep(); removed > 0 {
				logger.Debug("Swept empty rooms",
					logger.Int("removed", removed),
					logger.Int("remaining", d.Count()),
				)
			}
			logger.RoomsActive.Set(float64(d.Count()))
		}
	}
}
