package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/syncspace/realtime/internal/config"
	"github.com/syncspace/realtime/internal/storage"
	"github.com/syncspace/realtime/pkg/logger"
)

// RedisClientImpl implements the storage.RedisClient interface
type RedisClientImpl struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg config.RedisConfig) (storage.RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
	)

	return &RedisClientImpl{client: rdb}, nil
}

// PublishToStream publishes a message to a Redis stream
func (r *RedisClientImpl) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			key: string(jsonData),
		},
	}).Err()

	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
	}

	return nil
}

// ConsumeFromStream consumes messages from a Redis stream
func (r *RedisClientImpl) ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan storage.StreamMessage, error) {
	messageChan := make(chan storage.StreamMessage, 100)

	// Create consumer group if it doesn't exist (with retry)
	// XGroupCreateMkStream creates the stream if it doesn't exist (MKSTREAM)
	var groupCreated bool
	for i := 0; i < 3; i++ {
		err := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err == nil {
			groupCreated = true
			break
		}
		// BUSYGROUP means group already exists - that's OK
		if err.Error() == "BUSYGROUP Consumer Group name already exists" {
			groupCreated = true
			break
		}
		logger.Warn("Failed to create consumer group, retrying",
			logger.ErrorField(err),
			logger.String("stream", stream),
			logger.String("group", group),
			logger.Int("attempt", i+1),
		)
		time.Sleep(time.Second * time.Duration(i+1))
	}

	if !groupCreated {
		logger.Error("Failed to create consumer group after retries",
			logger.String("stream", stream),
			logger.String("group", group),
		)
		// Continue anyway - will retry in the read loop
	}

	go func() {
		defer close(messageChan)

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{stream, ">"},
				Count:    10,
				Block:    time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue
				}

				// The group can vanish if Redis was flushed; recreate it.
				if strings.Contains(err.Error(), "NOGROUP") {
					logger.Warn("Consumer group not found, attempting to create",
						logger.String("stream", stream),
						logger.String("group", group),
					)
					createErr := r.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
					if createErr != nil && createErr.Error() != "BUSYGROUP Consumer Group name already exists" {
						logger.Error("Failed to recreate consumer group",
							logger.ErrorField(createErr),
							logger.String("stream", stream),
							logger.String("group", group),
						)
					}
					time.Sleep(2 * time.Second)
					continue
				}

				logger.Error("Error reading from stream",
					logger.ErrorField(err),
					logger.String("stream", stream),
				)
				time.Sleep(time.Second)
				continue
			}

			for _, s := range streams {
				for _, message := range s.Messages {
					msg := storage.StreamMessage{
						ID:     message.ID,
						Stream: s.Stream,
						Values: message.Values,
					}
					select {
					case messageChan <- msg:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return messageChan, nil
}

// AcknowledgeMessage acknowledges a message in a Redis stream
func (r *RedisClientImpl) AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error {
	return r.client.XAck(ctx, stream, group, id).Err()
}

// Close closes the Redis connection
func (r *RedisClientImpl) Close() error {
	return r.client.Close()
}
