package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one notable occurrence in a running simulator.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies the emitting component.
	Source string `json:"source"`

	// Plant is the plant the event concerns.
	Plant string `json:"plant,omitempty"`

	// AttackID is the associated attack, if any.
	AttackID string `json:"attack_id,omitempty"`

	// Tag is the associated tag, if any.
	Tag string `json:"tag,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeSimulationStarted = "simulation.started"
	EventTypeSimulationStopped = "simulation.stopped"
	EventTypeAttackStarted     = "attack.started"
	EventTypeAttackCompleted   = "attack.completed"
	EventTypeAttackCancelled   = "attack.cancelled"
	EventTypeAttackFailed      = "attack.failed"
	EventTypeScenarioStarted   = "scenario.started"
	EventTypeRegistryWarning   = "registry.warning"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// ErrBufferFull is returned by Publish when an async buffer has no room.
var ErrBufferFull = errors.New("event buffer full, event dropped")

// EventSubscriber handles delivered events. Subscribers are called from the
// delivery goroutine and must not block for long.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher is an in-process event bus.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	ep := &EventPublisher{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers. A nil publisher discards
// the event.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case <-ep.ctx.Done():
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return ErrBufferFull
	}
}

// PublishAttackStarted publishes an attack.started event.
func (ep *EventPublisher) PublishAttackStarted(attackID, kind, plant string) error {
	return ep.Publish(Event{
		Type:     EventTypeAttackStarted,
		Source:   "attack",
		Plant:    plant,
		AttackID: attackID,
		Message:  fmt.Sprintf("attack %s started", attackID),
		Level:    EventLevelWarning,
		Data: map[string]interface{}{
			"kind": kind,
		},
	})
}

// PublishAttackFinished publishes the terminal event of an attack. Status is
// one of completed, cancelled or failed.
func (ep *EventPublisher) PublishAttackFinished(attackID, kind, plant, status, reason string, duration time.Duration) error {
	eventType, level := EventTypeAttackCompleted, EventLevelInfo
	switch status {
	case "cancelled":
		eventType = EventTypeAttackCancelled
	case "failed":
		eventType, level = EventTypeAttackFailed, EventLevelError
	}

	msg := fmt.Sprintf("attack %s %s after %s", attackID, status, duration.Round(time.Millisecond))
	if reason != "" {
		msg += ": " + reason
	}
	return ep.Publish(Event{
		Type:     eventType,
		Source:   "attack",
		Plant:    plant,
		AttackID: attackID,
		Message:  msg,
		Level:    level,
		Data: map[string]interface{}{
			"kind":     kind,
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishScenarioStarted publishes a scenario.started event.
func (ep *EventPublisher) PublishScenarioStarted(name, plant string, attackIDs []string) error {
	return ep.Publish(Event{
		Type:    EventTypeScenarioStarted,
		Source:  "attack",
		Plant:   plant,
		Message: fmt.Sprintf("scenario %s started %d attack(s)", name, len(attackIDs)),
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"scenario": name,
			"attacks":  attackIDs,
		},
	})
}

// PublishRegistryWarning publishes an advisory tag-map finding.
func (ep *EventPublisher) PublishRegistryWarning(plant, tag, kind, message string) error {
	return ep.Publish(Event{
		Type:    EventTypeRegistryWarning,
		Source:  "registry",
		Plant:   plant,
		Tag:     tag,
		Message: message,
		Level:   EventLevelWarning,
		Data: map[string]interface{}{
			"kind": kind,
		},
	})
}

// PublishSimulation publishes a simulation.started or simulation.stopped event.
func (ep *EventPublisher) PublishSimulation(plant string, started bool, data map[string]interface{}) error {
	eventType, verb := EventTypeSimulationStarted, "started"
	if !started {
		eventType, verb = EventTypeSimulationStopped, "stopped"
	}
	return ep.Publish(Event{
		Type:    eventType,
		Source:  "simulation",
		Plant:   plant,
		Message: fmt.Sprintf("%s simulation %s", plant, verb),
		Level:   EventLevelInfo,
		Data:    data,
	})
}

// Subscribe adds a new event subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents delivers buffered events in batches, flushing whenever a
// batch fills up or the flush interval elapses.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	interval := ep.config.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]Event, 0, ep.config.MaxBatchSize)
	flush := func() {
		for _, event := range batch {
			ep.deliverEvent(event)
		}
		batch = batch[:0]
	}

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)
			if len(batch) >= ep.config.MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ep.ctx.Done():
			for {
				select {
				case event := <-ep.buffer:
					batch = append(batch, event)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering everything still buffered.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.cancel()

	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByAttackID creates a filter that only allows events for one attack.
func FilterByAttackID(attackID string) EventFilter {
	return func(event Event) bool {
		return event.AttackID == attackID
	}
}
