package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MockRedisClient is an in-memory implementation of RedisClient for testing
type MockRedisClient struct {
	mu         sync.Mutex
	StreamData []StreamMessage
	Acked      []string
	PublishErr error
	ConsumeErr error
	nextID     int
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{}
}

func (m *MockRedisClient) PublishToStream(ctx context.Context, stream string, key string, value interface{}) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.StreamData = append(m.StreamData, StreamMessage{
		ID:     fmt.Sprintf("%d-0", m.nextID),
		Stream: stream,
		Values: map[string]interface{}{key: string(jsonData)},
	})
	return nil
}

// ConsumeFromStream replays the seeded messages and closes the channel
func (m *MockRedisClient) ConsumeFromStream(ctx context.Context, stream string, group string, consumer string) (<-chan StreamMessage, error) {
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}

	m.mu.Lock()
	pending := make([]StreamMessage, len(m.StreamData))
	copy(pending, m.StreamData)
	m.mu.Unlock()

	ch := make(chan StreamMessage, len(pending))
	for _, msg := range pending {
		ch <- msg
	}
	close(ch)
	return ch, nil
}

func (m *MockRedisClient) AcknowledgeMessage(ctx context.Context, stream string, group string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Acked = append(m.Acked, id)
	return nil
}

// AckedIDs returns a snapshot of the acknowledged message ids
func (m *MockRedisClient) AckedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, len(m.Acked))
	copy(ids, m.Acked)
	return ids
}

func (m *MockRedisClient) Close() error {
	return nil
}
