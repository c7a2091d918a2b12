package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification about one project resource.
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	RunID     string                 `json:"run_id,omitempty"`
	Project   string                 `json:"project,omitempty"`
	Message   string                 `json:"message"`
	Level     string                 `json:"level"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeHandshakeStarted   = "handshake.started"
	EventTypeHandshakeCompleted = "handshake.completed"
	EventTypeHandshakeFailed    = "handshake.failed"
	EventTypeStateChanged       = "resource.state_changed"
	EventTypePolicyViolation    = "policy.violation"
	EventTypeCommandCompleted   = "command.completed"
	EventTypeCommandFailed      = "command.failed"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// ErrPublisherClosed is returned by Publish after Shutdown.
var ErrPublisherClosed = errors.New("event publisher stopped")

// EventSubscriber handles one event. Subscribers run on the delivery
// goroutine and must not block.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. Every subscriber sees
// events in the order they were published.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	deliverMu   sync.Mutex
	closed      bool
	done        chan struct{}
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	ep := &EventPublisher{config: cfg}
	if !cfg.Enabled {
		return ep, nil
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.done = make(chan struct{})
		go ep.processEvents()
	}
	return ep, nil
}

// Publish stamps and delivers an event. In async mode it enqueues and
// fails when the buffer is full.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if ep.closed {
		return ErrPublisherClosed
	}

	if ep.buffer == nil {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, dropped %s for %s", event.Type, event.Project)
	}
}

// PublishStateChanged publishes a resource state transition.
func (ep *EventPublisher) PublishStateChanged(runID, project, oldState, newState, message string) error {
	level := EventLevelInfo
	if newState == "failed_to_start" {
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:    EventTypeStateChanged,
		Source:  "synchronizer",
		RunID:   runID,
		Project: project,
		Message: fmt.Sprintf("%s: %s -> %s", project, oldState, newState),
		Level:   level,
		Data: map[string]interface{}{
			"old_state": oldState,
			"new_state": newState,
			"detail":    message,
		},
	})
}

// PublishHandshakeStarted publishes the start of a project's handshake.
func (ep *EventPublisher) PublishHandshakeStarted(runID, project, intent string) error {
	return ep.Publish(Event{
		Type:    EventTypeHandshakeStarted,
		Source:  "pipeline",
		RunID:   runID,
		Project: project,
		Message: fmt.Sprintf("handshake for %s started (%s)", project, intent),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"intent": intent},
	})
}

// PublishHandshakeFinished publishes a terminal handshake result.
func (ep *EventPublisher) PublishHandshakeFinished(runID, project string, duration time.Duration, err error) error {
	event := Event{
		Type:    EventTypeHandshakeCompleted,
		Source:  "pipeline",
		RunID:   runID,
		Project: project,
		Message: fmt.Sprintf("handshake for %s completed", project),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"duration": duration.Seconds()},
	}
	if err != nil {
		event.Type = EventTypeHandshakeFailed
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("handshake for %s failed: %v", project, err)
	}
	return ep.Publish(event)
}

// PublishPolicyViolation publishes a policy violation against a project.
func (ep *EventPublisher) PublishPolicyViolation(project, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy",
		Project: project,
		Message: fmt.Sprintf("policy %s: %s", policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// PublishCommand publishes the result of a one-shot command.
func (ep *EventPublisher) PublishCommand(project, mode string, err error) error {
	event := Event{
		Type:    EventTypeCommandCompleted,
		Source:  "command",
		Project: project,
		Message: fmt.Sprintf("%s %s completed", mode, project),
		Level:   EventLevelInfo,
		Data:    map[string]interface{}{"mode": mode},
	}
	if err != nil {
		event.Type = EventTypeCommandFailed
		event.Level = EventLevelError
		event.Message = fmt.Sprintf("%s %s failed: %v", mode, project, err)
	}
	return ep.Publish(event)
}

// Subscribe adds a subscriber with an optional filter.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.deliverMu.Lock()
	defer ep.deliverMu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) processEvents() {
	defer close(ep.done)
	for event := range ep.buffer {
		ep.deliverEvent(event)
	}
}

// deliverEvent runs every subscriber in registration order. deliverMu
// serializes synchronous publishers so two events never interleave.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.deliverMu.Lock()
	defer ep.deliverMu.Unlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops accepting events and waits until queued events are delivered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	if ep.buffer != nil {
		close(ep.buffer)
	}
	ep.mu.Unlock()

	if ep.done == nil {
		return nil
	}
	select {
	case <-ep.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown: %w", ctx.Err())
	}
}

// FilterByType only allows events of the given types.
func FilterByType(types ...string) EventFilter {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return func(event Event) bool {
		return set[event.Type]
	}
}

// FilterByProject only allows events for one project.
func FilterByProject(project string) EventFilter {
	return func(event Event) bool {
		return event.Project == project
	}
}
