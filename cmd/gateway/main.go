package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/syncspace/realtime/internal/broadcast"
	"github.com/syncspace/realtime/internal/config"
	"github.com/syncspace/realtime/internal/gateway"
	"github.com/syncspace/realtime/internal/presence"
	"github.com/syncspace/realtime/internal/pubsub"
	"github.com/syncspace/realtime/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin restrictions are enforced at the edge proxy
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Init(cfg.LogLevel, cfg.Environment); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting realtime gateway",
		logger.Int("port", cfg.Gateway.Port),
		logger.Int("max_connections", cfg.Gateway.MaxConnections),
		logger.Duration("ping_interval", cfg.Gateway.PingInterval),
	)

	// Initialize Redis client for the REST event stream
	redisClient, err := pubsub.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to initialize Redis client",
			logger.ErrorField(err),
		)
	}
	defer redisClient.Close()

	// Assemble the core: registry and rooms hold all mutable state,
	// coordinator and router derive everything from them.
	registry := presence.NewRegistry()
	rooms := presence.NewRoomDirectory(cfg.Gateway.RoomSweepInterval)
	pool := gateway.NewPool()
	router := broadcast.NewRouter(registry, rooms, pool, func() string {
		return uuid.New().String()
	})
	coordinator := presence.NewCoordinator(registry, rooms, router)
	authManager := gateway.NewAuthManager(cfg.Gateway.JWTSecret)
	hub := gateway.NewHub(cfg.Gateway, pool, registry, rooms, coordinator, router, authManager)

	rooms.Start()
	defer rooms.Stop()

	if err := hub.Start(); err != nil {
		logger.Fatal("Failed to start hub",
			logger.ErrorField(err),
		)
	}
	defer hub.Stop()

	// REST-originated events flow in over the Redis stream
	ingest := broadcast.NewIngest(redisClient, router, cfg.Gateway.EventStream, cfg.Gateway.ConsumerGroup, cfg.Gateway.ConsumerName)
	if err := ingest.Start(); err != nil {
		logger.Fatal("Failed to start event ingest",
			logger.ErrorField(err),
		)
	}
	defer ingest.Stop()

	// Set up HTTP server
	httpRouter := mux.NewRouter()

	httpRouter.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(hub, w, r, cfg.Gateway)
	})

	httpRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	httpRouter.HandleFunc("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	})

	httpRouter.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	})

	httpRouter.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hub.GetStats())
	})

	httpRouter.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Gateway.Port),
		Handler: httpRouter,
	}

	go func() {
		logger.Info("Starting HTTP server",
			logger.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start HTTP server",
				logger.ErrorField(err),
			)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutting down realtime gateway")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Error shutting down HTTP server",
			logger.ErrorField(err),
		)
	}

	logger.Info("Realtime gateway stopped")
}

// handleWebSocket upgrades the request and admits the connection. The
// client authenticates over the socket afterwards.
func handleWebSocket(hub *gateway.Hub, w http.ResponseWriter, r *http.Request, cfg config.GatewayConfig) {
	if hub.GetStats().ConnectionsActive >= cfg.MaxConnections {
		logger.Warn("Max connections reached, rejecting new connection",
			logger.Int("max_connections", cfg.MaxConnections),
		)
		http.Error(w, "Max connections reached", http.StatusServiceUnavailable)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade connection",
			logger.ErrorField(err),
		)
		return
	}

	connectionID := uuid.New().String()
	conn := gateway.NewConnection(connectionID, wsConn)
	if err := hub.Register(conn); err != nil {
		return
	}

	logger.Info("WebSocket connection established",
		logger.String("connection_id", connectionID),
		logger.String("remote_addr", r.RemoteAddr),
	)
}
