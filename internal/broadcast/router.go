package broadcast

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/syncspace/realtime/internal/models"
	"github.com/syncspace/realtime/internal/presence"
	"github.com/syncspace/realtime/pkg/logger"
)

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Total number of domain events published to the router",
		},
		[]string{"kind"},
	)

	deliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_deliveries_total",
			Help: "Total number of per-connection deliveries attempted",
		},
		[]string{"kind"},
	)

	deliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_delivery_failures_total",
			Help: "Total number of per-connection deliveries that failed",
		},
		[]string{"kind"},
	)
)

// Transport pushes an encoded frame to one live connection. Send must not
// block on network I/O: the gateway implementation enqueues to the
// connection's buffered writer and drops when the peer cannot keep up.
type Transport interface {
	Send(connectionID string, data []byte) error
}

// DeliveryReport records fan-out counts for one publish. Observability
// only; failed deliveries are not retried — a reconnecting client
// re-fetches authoritative state from the store.
type DeliveryReport struct {
	RoomID    string
	Kind      models.EventKind
	Attempted int
	Delivered int
}

// Envelope is the server-to-client frame wrapping every broadcast
type Envelope struct {
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
	Timestamp   time.Time       `json:"timestamp"`
	BroadcastID string          `json:"broadcastId,omitempty"`
	DedupeKey   string          `json:"dedupeKey,omitempty"`
}

// Router resolves a domain event's room to its live connections and fans
// the event out. Stateless apart from the publish ordering lock; all
// membership is read from the registries at publish time.
type Router struct {
	registry  *presence.Registry
	rooms     *presence.RoomDirectory
	transport Transport

	// Serializes publishes so each room sees events in publish order.
	// Held across Send, which is a channel enqueue, never a network write.
	mu sync.Mutex

	newBroadcastID func() string
}

// NewRouter creates a broadcast router
func NewRouter(registry *presence.Registry, rooms *presence.RoomDirectory, transport Transport, newBroadcastID func() string) *Router {
	return &Router{
		registry:       registry,
		rooms:          rooms,
		transport:      transport,
		newBroadcastID: newBroadcastID,
	}
}

// Publish delivers the event to every connection currently in the target
// room, minus policy exclusions. A dead connection never blocks or fails
// delivery to the rest.
func (r *Router) Publish(ev *models.DomainEvent) DeliveryReport {
	report := DeliveryReport{RoomID: ev.RoomID, Kind: ev.Kind}

	if err := ev.Validate(); err != nil {
		logger.Warn("Dropping unroutable event",
			logger.String("kind", string(ev.Kind)),
			logger.String("room_id", ev.RoomID),
			logger.ErrorField(err),
		)
		logger.ErrorsTotal.WithLabelValues("router", "unroutable_event").Inc()
		return report
	}

	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now()
	}

	envelope := Envelope{
		Type:      ev.ServerEvent(),
		Data:      ev.Payload,
		Timestamp: ev.EmittedAt,
		DedupeKey: ev.DedupeKey,
	}
	if r.newBroadcastID != nil {
		envelope.BroadcastID = r.newBroadcastID()
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		logger.Error("Failed to marshal envelope",
			logger.String("kind", string(ev.Kind)),
			logger.ErrorField(err),
		)
		return report
	}

	eventsPublished.WithLabelValues(string(ev.Kind)).Inc()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Snapshot membership once; connections joining after this point do
	// not receive the event.
	for _, userID := range r.rooms.MembersOf(ev.RoomID) {
		for _, connID := range r.registry.ConnectionsOf(userID) {
			if ev.ExcludesOrigin() && connID == ev.OriginConnectionID {
				continue
			}

			report.Attempted++
			deliveriesTotal.WithLabelValues(string(ev.Kind)).Inc()

			if err := r.transport.Send(connID, data); err != nil {
				deliveryFailures.WithLabelValues(string(ev.Kind)).Inc()
				logger.Debug("Failed to deliver event",
					logger.String("kind", string(ev.Kind)),
					logger.String("connection_id", connID),
					logger.ErrorField(err),
				)
				continue
			}
			report.Delivered++
		}
	}

	logger.Debug("Broadcast event",
		logger.String("kind", string(ev.Kind)),
		logger.String("room_id", ev.RoomID),
		logger.String("dedupe_key", ev.DedupeKey),
		logger.Int("attempted", report.Attempted),
		logger.Int("delivered", report.Delivered),
	)

	return report
}

// Notify implements presence.Notifier
func (r *Router) Notify(ev *models.DomainEvent) {
	r.Publish(ev)
}
