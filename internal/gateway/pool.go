package gateway

import (
	"sync"

	"github.com/syncspace/realtime/internal/models"
)

// Pool owns the live transport connections. It is the broadcast.Transport
// implementation: Send is an enqueue onto the connection's buffered
// channel, never a network write.
type Pool struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

// NewPool creates an empty connection pool
func NewPool() *Pool {
	return &Pool{
		conns: make(map[string]*Connection),
	}
}

// Add registers a connection with the pool
func (p *Pool) Add(conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[conn.ID] = conn
}

// Remove takes the connection out of the pool. Returns it so the caller
// can close it outside the lock; nil if already gone.
func (p *Pool) Remove(connID string) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, exists := p.conns[connID]
	if !exists {
		return nil
	}
	delete(p.conns, connID)
	return conn
}

// Get retrieves a connection by id
func (p *Pool) Get(connID string) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	conn, exists := p.conns[connID]
	return conn, exists
}

// All returns a snapshot of the live connections
func (p *Pool) All() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()

	conns := make([]*Connection, 0, len(p.conns))
	for _, conn := range p.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Count returns the number of live connections
func (p *Pool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}

// Send implements broadcast.Transport
func (p *Pool) Send(connID string, data []byte) error {
	conn, exists := p.Get(connID)
	if !exists {
		return models.ErrUnknownConnection
	}
	return conn.Enqueue(data)
}
