package jenkins

import (
	"fmt"
	"strings"
	"sync"
)

// FakeHost records everything a build reports to its host
type FakeHost struct {
	mu        sync.Mutex
	output    strings.Builder
	Chunks    []string
	Values    map[string]interface{}
	Links     map[string]string
	NotNeed   bool
	FailSaves bool
}

func NewFakeHost() *FakeHost {
	return &FakeHost{Values: map[string]interface{}{}, Links: map[string]string{}}
}

func (h *FakeHost) WriteOutput(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.output.WriteString(text)
	h.Chunks = append(h.Chunks, text)
}

func (h *FakeHost) SaveOutputValue(key string, value interface{}) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.FailSaves {
		return fmt.Errorf("save %s: storage unavailable", key)
	}
	h.Values[key] = value
	return nil
}

func (h *FakeHost) ReadOutputValue(key string) (interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Values[key], nil
}

func (h *FakeHost) NotNeeded() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.NotNeed = true
}

func (h *FakeHost) AddLink(label, url string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Links[label] = url
}

func (h *FakeHost) Output() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.output.String()
}
