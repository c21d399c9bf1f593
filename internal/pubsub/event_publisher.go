package pubsub

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/syncspace/realtime/internal/models"
	"github.com/syncspace/realtime/internal/storage"
	"github.com/syncspace/realtime/pkg/logger"
)

var (
	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_stream_publish_total",
			Help: "Total number of domain events published to the event stream",
		},
		[]string{"kind"},
	)

	publishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_stream_publish_errors_total",
			Help: "Total number of event stream publish errors",
		},
		[]string{"kind"},
	)
)

// EventField is the stream field carrying the serialized domain event
const EventField = "event"

// EventPublisher is the REST-handler-facing half of the hand-off: after a
// successful mutation the handler publishes the canonical object here and
// the gateway broadcasts it. The REST response and the broadcast can
// arrive in either order; the dedupe key lets the client collapse them.
type EventPublisher struct {
	redis  storage.RedisClient
	stream string
}

// NewEventPublisher creates an event publisher for the given stream
func NewEventPublisher(redis storage.RedisClient, stream string) *EventPublisher {
	return &EventPublisher{
		redis:  redis,
		stream: stream,
	}
}

// Publish stamps and publishes one domain event
func (p *EventPublisher) Publish(ctx context.Context, ev *models.DomainEvent) error {
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now()
	}
	if err := ev.Validate(); err != nil {
		publishErrors.WithLabelValues(string(ev.Kind)).Inc()
		return fmt.Errorf("invalid domain event: %w", err)
	}

	if err := p.redis.PublishToStream(ctx, p.stream, EventField, ev); err != nil {
		publishErrors.WithLabelValues(string(ev.Kind)).Inc()
		logger.Error("Failed to publish domain event",
			logger.String("kind", string(ev.Kind)),
			logger.String("room_id", ev.RoomID),
			logger.ErrorField(err),
		)
		return err
	}

	publishTotal.WithLabelValues(string(ev.Kind)).Inc()
	logger.Debug("Published domain event",
		logger.String("kind", string(ev.Kind)),
		logger.String("room_id", ev.RoomID),
		logger.String("dedupe_key", ev.DedupeKey),
	)
	return nil
}
