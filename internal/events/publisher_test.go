package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"jenkinsrun/internal/config"
	"jenkinsrun/internal/engine"
)

func TestNewWithoutBrokers(t *testing.T) {
	p, err := New(config.EventsConfig{Topic: "jenkins.build.results"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := p.(Nop); !ok {
		t.Fatalf("Expected Nop publisher, got %T", p)
	}
	if err := p.Publish(context.Background(), Event{Job: "demo"}); err != nil {
		t.Errorf("Nop publish failed: %v", err)
	}
	p.Close()
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	if _, err := NewKafkaPublisher(nil, "topic"); err == nil {
		t.Error("Expected an error without brokers")
	}
	if _, err := NewKafkaPublisher([]string{"localhost:9092"}, ""); err == nil {
		t.Error("Expected an error without topic")
	}
}

func TestKafkaPublisherClosed(t *testing.T) {
	// kgo does not dial until the first produce
	p, err := NewKafkaPublisher([]string{"localhost:1"}, "jenkins.build.results")
	if err != nil {
		t.Fatalf("NewKafkaPublisher failed: %v", err)
	}
	p.Close()
	p.Close()

	if err := p.Publish(context.Background(), Event{Job: "demo"}); err == nil {
		t.Error("Expected publish on a closed publisher to fail")
	}
}

func TestKafkaPublisherUnreachableBroker(t *testing.T) {
	p, err := NewKafkaPublisher([]string{"127.0.0.1:1"}, "jenkins.build.results")
	if err != nil {
		t.Fatalf("NewKafkaPublisher failed: %v", err)
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Publish(ctx, Event{Job: "demo"}) }()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected publishing to an unreachable broker to fail")
		}
	case <-time.After(deliveryTimeout + 5*time.Second):
		t.Fatal("Publish did not return after its context expired")
	}
}

func TestMemory(t *testing.T) {
	m := &Memory{}
	for _, job := range []string{"a", "b"} {
		if err := m.Publish(context.Background(), Event{Job: job}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	got := m.Events()
	if len(got) != 2 || got[0].Job != "a" || got[1].Job != "b" {
		t.Errorf("Unexpected events %+v", got)
	}
}

func TestEventJSON(t *testing.T) {
	raw := "SUCCESS"
	event := Event{
		InvocationID: "id-1",
		Source:       "api",
		Operation:    "build",
		Job:          "demo",
		Result:       &engine.BuildResult{BuildNumber: 7, Success: true, RawResult: &raw},
		FinishedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	result, ok := decoded["result"].(map[string]interface{})
	if !ok || result["build_number"] != float64(7) || result["build_result"] != "SUCCESS" {
		t.Errorf("Unexpected result payload %v", decoded["result"])
	}
	if _, ok := decoded["error"]; ok {
		t.Error("Expected error to be omitted")
	}
}
