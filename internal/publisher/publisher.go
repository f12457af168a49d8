// Package publisher pushes run-completion events to an external broker.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// PubSub publishes JSON payloads to Google Cloud Pub/Sub topics.
type PubSub struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// NewPubSub wraps an existing Pub/Sub client.
func NewPubSub(client *pubsub.Client) (*PubSub, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return &PubSub{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

// Publish marshals the payload to JSON and publishes it, returning the
// server-assigned message id.
func (p *PubSub) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.topic(topic).Publish(ctx, &pubsub.Message{Data: data})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close stops all topic publish goroutines.
func (p *PubSub) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		t.Stop()
	}
}

func (p *PubSub) topic(name string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[name]
	if !ok {
		t = p.client.Topic(name)
		p.topics[name] = t
	}
	return t
}

// Memory collects published events in process. Used in tests and when no
// broker is configured in development.
type Memory struct {
	mu       sync.Mutex
	nextID   int
	messages map[string][][]byte
}

// NewMemory builds an empty Memory publisher.
func NewMemory() *Memory {
	return &Memory{messages: make(map[string][][]byte)}
}

// Publish records the JSON-encoded payload under the topic.
func (m *Memory) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.messages[topic] = append(m.messages[topic], data)
	return fmt.Sprintf("mem-%d", m.nextID), nil
}

// Messages returns copies of the payloads published to a topic.
func (m *Memory) Messages(topic string) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, 0, len(m.messages[topic]))
	for _, msg := range m.messages[topic] {
		out = append(out, append([]byte(nil), msg...))
	}
	return out
}

// Noop discards events. Used when publishing is disabled.
type Noop struct{}

// Publish discards the payload.
func (Noop) Publish(context.Context, string, any) (string, error) {
	return "", nil
}
