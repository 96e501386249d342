// Package events provides the pub/sub bus that decouples the core from
// its front-ends. The transfer engine and the supervisor emit; hosts
// subscribe and relay to whatever UI they drive.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/r2browser/r2browser/internal/constants"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	// Transfer queue events
	EventTransferQueued    EventType = "transfer_queued"    // Task added to queue
	EventTransferStarted   EventType = "transfer_started"   // Admitted to a slot, bytes moving
	EventTransferProgress  EventType = "transfer_progress"  // Progress update
	EventTransferPaused    EventType = "transfer_paused"    // Paused by user
	EventTransferCompleted EventType = "transfer_completed" // Successfully completed
	EventTransferFailed    EventType = "transfer_failed"    // Failed with error
	EventTransferCancelled EventType = "transfer_cancelled" // Cancelled by user

	// Supervisor events
	EventServerStatus EventType = "server_status" // Broker lifecycle changes
	EventServerLog    EventType = "server_log"    // Broker stdout/stderr line
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

// TransferEvent carries a snapshot of a transfer task's observable state.
type TransferEvent struct {
	BaseEvent
	TaskID      string  // Unique task ID
	TaskType    string  // "upload", "download" or "delete"
	Bucket      string  // Target bucket
	Key         string  // Object key or prefix
	Transferred int64   // Bytes (upload/download) or items (delete)
	Total       int64   // Denominator for progress
	Progress    float64 // 0.0 to 1.0
	Speed       float64 // bytes/sec or items/sec
	Error       error   // Error if failed
}

// ServerStatusEvent reports broker lifecycle transitions seen by the
// supervisor.
type ServerStatusEvent struct {
	BaseEvent
	Status string // "starting", "running", "stopping", "stopped", "failed"
	Port   int    // Listening port once known, 0 otherwise
	Err    error  // Set when Status is "failed"
}

// ServerLogEvent carries one line of broker stdout/stderr.
type ServerLogEvent struct {
	BaseEvent
	Line   string
	Stderr bool
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of events dropped due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		all:         make([]chan Event, 0),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers. Publishing never blocks: a
// subscriber whose buffer is full loses the event and the drop counter
// is incremented.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// Unsubscribe removes a subscription channel from a specific event type.
// This prevents memory leaks from abandoned subscriptions.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			break
		}
	}
}

// UnsubscribeAll removes a subscription channel from all event types.
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for eventType, subscribers := range eb.subscribers {
		for i, subCh := range subscribers {
			if subCh == ch {
				subscribers[i] = subscribers[len(subscribers)-1]
				eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
				break
			}
		}
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to
// full buffers. Useful for detecting undersized subscriber buffers.
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}
