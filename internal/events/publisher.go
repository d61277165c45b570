// Package events publishes the outcome of finished invocations.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"jenkinsrun/internal/config"
	"jenkinsrun/internal/engine"
	"jenkinsrun/internal/logger"
)

// Event is the message published when an invocation finishes
type Event struct {
	InvocationID string              `json:"invocation_id"`
	Source       string              `json:"source"`
	Operation    string              `json:"operation"`
	Job          string              `json:"job"`
	Result       *engine.BuildResult `json:"result,omitempty"`
	Error        string              `json:"error,omitempty"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// Publisher sends invocation events somewhere
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// New returns a Kafka publisher when brokers are configured and a no-op
// publisher otherwise
func New(cfg config.EventsConfig) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return Nop{}, nil
	}
	return NewKafkaPublisher(cfg.Brokers, cfg.Topic)
}

// deliveryTimeout bounds how long a record may wait for the broker
const deliveryTimeout = 10 * time.Second

// KafkaPublisher produces events to a Kafka compatible broker using franz-go
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	mu     sync.RWMutex
	closed bool
}

// NewKafkaPublisher creates a producer for topic
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker address is required")
	}
	if topic == "" {
		return nil, fmt.Errorf("topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.RecordDeliveryTimeout(deliveryTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	return &KafkaPublisher{client: client, topic: topic}, nil
}

// Publish sends event keyed by job, so results of one job stay ordered
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return fmt.Errorf("publisher is closed")
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.Job),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "invocation_id", Value: []byte(event.InvocationID)},
			{Key: "operation", Value: []byte(event.Operation)},
		},
	}

	results := p.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	logger.Debug("Published invocation event", "invocation_id", event.InvocationID, "topic", p.topic)
	return nil
}

// Close flushes and closes the producer
func (p *KafkaPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	p.client.Close()
}

// Nop drops every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}

// Memory keeps published events in memory
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) Close() {}

// Events returns a copy of what was published so far
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
