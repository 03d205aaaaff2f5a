// Package events publishes crawl lifecycle notifications for downstream
// consumers. Publishing is best-effort; failures are logged by callers, never
// propagated into job state.
package events

import (
	"context"
	"sync"
	"time"
)

// Topic names used for lifecycle events.
const (
	TopicJobStarted   = "job.started"
	TopicJobCompleted = "job.completed"
	TopicJobFailed    = "job.failed"
)

// JobEvent is the payload published on job transitions.
type JobEvent struct {
	JobID        string    `json:"job_id"`
	TargetSlug   string    `json:"target_slug"`
	TargetURL    string    `json:"target_url"`
	TotalPages   int       `json:"total_pages,omitempty"`
	TotalReviews int       `json:"total_reviews,omitempty"`
	Error        string    `json:"error,omitempty"`
	At           time.Time `json:"at"`
}

// Publisher delivers an event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event JobEvent) error
}

// Noop discards events.
type Noop struct{}

// Publish does nothing.
func (Noop) Publish(context.Context, string, JobEvent) error { return nil }

// Memory stores published events for inspection. Test/local helper.
type Memory struct {
	mu     sync.RWMutex
	events []Published
}

// Published captures one publish call.
type Published struct {
	Topic string
	Event JobEvent
}

// NewMemory returns a memory Publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the event.
func (m *Memory) Publish(_ context.Context, topic string, event JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, Published{Topic: topic, Event: event})
	return nil
}

// Events returns the recorded publishes.
func (m *Memory) Events() []Published {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Published, len(m.events))
	copy(out, m.events)
	return out
}
