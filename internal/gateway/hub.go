package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/syncspace/realtime/internal/broadcast"
	"github.com/syncspace/realtime/internal/config"
	"github.com/syncspace/realtime/internal/presence"
	"github.com/syncspace/realtime/pkg/logger"
)

// Hub ties the transport to the presence and broadcast core: it owns the
// read/write pumps for every connection and drives the coordinator's
// lifecycle events from transport events.
type Hub struct {
	config      config.GatewayConfig
	pool        *Pool
	registry    *presence.Registry
	rooms       *presence.RoomDirectory
	coordinator *presence.Coordinator
	router      *broadcast.Router
	auth        *AuthManager

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// HubStats is the snapshot served on /stats
type HubStats struct {
	ConnectionsActive int `json:"connectionsActive"`
	UsersOnline       int `json:"usersOnline"`
	Rooms             int `json:"rooms"`
}

// NewHub creates a hub over an existing pool and core
func NewHub(cfg config.GatewayConfig, pool *Pool, registry *presence.Registry, rooms *presence.RoomDirectory, coordinator *presence.Coordinator, router *broadcast.Router, auth *AuthManager) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		config:      cfg,
		pool:        pool,
		registry:    registry,
		rooms:       rooms,
		coordinator: coordinator,
		router:      router,
		auth:        auth,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the connection health monitor
func (h *Hub) Start() error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return nil
	}
	h.running = true
	h.mu.Unlock()

	logger.Info("Starting realtime hub",
		logger.Duration("ping_interval", h.config.PingInterval),
		logger.Duration("ping_timeout", h.config.PingTimeout),
	)

	h.wg.Add(1)
	go h.monitorConnections()
	return nil
}

// Stop tears down every connection and waits for the pumps to exit
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	logger.Info("Stopping realtime hub")
	h.cancel()
	for _, conn := range h.pool.All() {
		h.Disconnect(conn)
	}
	h.wg.Wait()
	logger.Info("Realtime hub stopped")
}

// Register admits a new transport connection and starts its pumps. The
// connection stays unauthenticated until the client sends authenticate.
func (h *Hub) Register(conn *Connection) error {
	if err := h.registry.Register(conn.ID); err != nil {
		logger.Error("Connection registration rejected",
			logger.String("connection_id", conn.ID),
			logger.ErrorField(err),
		)
		logger.ErrorsTotal.WithLabelValues("hub", "duplicate_connection").Inc()
		conn.Close()
		return err
	}

	h.pool.Add(conn)
	logger.ConnectionsTotal.Inc()
	logger.ConnectionsActive.Set(float64(h.pool.Count()))

	logger.Info("Connection registered",
		logger.String("connection_id", conn.ID),
		logger.Int("total_connections", h.pool.Count()),
	)

	h.wg.Add(2)
	go h.writePump(conn)
	go h.readPump(conn)
	return nil
}

// Disconnect runs the full teardown path: presence lifecycle first, so
// leave notifications can still fan out to the rest of the room, then the
// transport. Idempotent; both pumps call it on exit.
func (h *Hub) Disconnect(conn *Connection) {
	h.coordinator.Disconnect(conn.ID)

	if removed := h.pool.Remove(conn.ID); removed != nil {
		logger.Info("Connection closed",
			logger.String("connection_id", conn.ID),
			logger.String("user_id", conn.UserLabel()),
			logger.Int("total_connections", h.pool.Count()),
		)
	}
	conn.Close()
	logger.ConnectionsActive.Set(float64(h.pool.Count()))
}

// GetStats returns hub statistics
func (h *Hub) GetStats() HubStats {
	return HubStats{
		ConnectionsActive: h.pool.Count(),
		UsersOnline:       h.registry.OnlineUsers(),
		Rooms:             h.rooms.Count(),
	}
}

// writePump pumps frames from the send channel to the socket and keeps
// the connection alive with pings
func (h *Hub) writePump(conn *Connection) {
	defer h.wg.Done()
	defer h.Disconnect(conn)

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case message, ok := <-conn.Send:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				// Channel closed
				conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := conn.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Add queued messages to the current frame
			n := len(conn.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-conn.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			conn.Conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump pumps messages from the socket into the protocol dispatcher.
// The read deadline is the ping timeout: a peer that stops answering
// pings is forced down the disconnect path.
func (h *Hub) readPump(conn *Connection) {
	defer h.wg.Done()
	defer h.Disconnect(conn)

	conn.Conn.SetReadDeadline(time.Now().Add(h.config.PingTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.UpdateLastPong()
		conn.Conn.SetReadDeadline(time.Now().Add(h.config.PingTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket error",
					logger.ErrorField(err),
					logger.String("connection_id", conn.ID),
				)
			}
			break
		}

		var clientMsg ClientMessage
		if err := json.Unmarshal(message, &clientMsg); err != nil {
			h.sendError(conn, "invalid_message", "failed to parse message")
			continue
		}

		if err := h.handleClientMessage(conn, &clientMsg); err != nil {
			logger.Debug("Failed to handle client message",
				logger.ErrorField(err),
				logger.String("connection_id", conn.ID),
				logger.String("type", clientMsg.Type),
			)
		}
	}
}

// monitorConnections removes connections whose peer went silent without a
// close frame. Backstop behind the read deadline.
func (h *Hub) monitorConnections() {
	defer h.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			staleThreshold := h.config.PingTimeout * 2

			for _, conn := range h.pool.All() {
				if now.Sub(conn.LastPong()) > staleThreshold {
					logger.Info("Removing stale connection",
						logger.String("connection_id", conn.ID),
						logger.String("user_id", conn.UserLabel()),
						logger.Duration("idle_time", now.Sub(conn.LastPong())),
					)
					h.Disconnect(conn)
				}
			}
		}
	}
}
