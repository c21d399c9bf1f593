package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/syncspace/realtime/internal/models"
	"github.com/syncspace/realtime/internal/storage"
	"github.com/syncspace/realtime/pkg/logger"
)

// EventField is the stream field holding the serialized domain event,
// matching what pubsub.EventPublisher writes.
const EventField = "event"

// Ingest consumes REST-originated domain events from a Redis stream and
// republishes them through the router. This is the publish(event) surface
// the REST layer calls after every successful mutation.
type Ingest struct {
	redis         storage.RedisClient
	router        *Router
	stream        string
	consumerGroup string
	consumerName  string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewIngest creates a stream ingest for the router
func NewIngest(redis storage.RedisClient, router *Router, stream, consumerGroup, consumerName string) *Ingest {
	ctx, cancel := context.WithCancel(context.Background())
	return &Ingest{
		redis:         redis,
		router:        router,
		stream:        stream,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins consuming the event stream
func (i *Ingest) Start() error {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		return nil
	}
	i.running = true
	i.mu.Unlock()

	logger.Info("Starting event ingest",
		logger.String("stream", i.stream),
		logger.String("consumer_group", i.consumerGroup),
	)

	i.wg.Add(1)
	go i.consume()
	return nil
}

// Stop cancels consumption and waits for the loop to exit
func (i *Ingest) Stop() {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return
	}
	i.running = false
	i.mu.Unlock()

	i.cancel()
	i.wg.Wait()
	logger.Info("Event ingest stopped")
}

func (i *Ingest) consume() {
	defer i.wg.Done()

	messageChan, err := i.redis.ConsumeFromStream(i.ctx, i.stream, i.consumerGroup, i.consumerName)
	if err != nil {
		logger.Error("Failed to start consuming events",
			logger.ErrorField(err),
			logger.String("stream", i.stream),
		)
		return
	}

	for {
		select {
		case <-i.ctx.Done():
			return

		case msg, ok := <-messageChan:
			if !ok {
				logger.Warn("Event message channel closed")
				return
			}

			ev, err := decodeEvent(msg)
			if err != nil {
				logger.Error("Failed to decode domain event",
					logger.ErrorField(err),
					logger.String("message_id", msg.ID),
				)
				logger.ErrorsTotal.WithLabelValues("ingest", "decode").Inc()
			} else {
				i.router.Publish(ev)
			}

			// Ack either way; a poison message must not wedge the group.
			ackCtx, ackCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = i.redis.AcknowledgeMessage(ackCtx, i.stream, i.consumerGroup, msg.ID)
			ackCancel()
			if err != nil {
				logger.Warn("Failed to acknowledge event message",
					logger.ErrorField(err),
					logger.String("message_id", msg.ID),
				)
			}
		}
	}
}

// decodeEvent deserializes a stream message into a DomainEvent
func decodeEvent(msg storage.StreamMessage) (*models.DomainEvent, error) {
	value, ok := msg.Values[EventField]
	if !ok {
		return nil, fmt.Errorf("event field not found in message")
	}

	str, ok := value.(string)
	if !ok {
		return nil, fmt.Errorf("event field is not a string")
	}

	var ev models.DomainEvent
	if err := json.Unmarshal([]byte(str), &ev); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	return &ev, nil
}
