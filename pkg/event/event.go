// pkg/event/event.go
package event

import (
	"sync"

	"github.com/opd-ai/go-ballistics/pkg/ballistics"
)

// Type represents the type of event
type Type string

// Aim service event types
const (
	ClientConnected    Type = "client_connected"
	ClientDisconnected Type = "client_disconnected"
	SolutionComputed   Type = "solution_computed"
	RequestRejected    Type = "request_rejected"
	ShotResolved       Type = "shot_resolved"
)

// Event is the base interface for all events
type Event interface {
	GetType() Type
	GetSource() interface{}
}

// BaseEvent provides common functionality for all events
type BaseEvent struct {
	EventType Type
	Source    interface{}
}

// GetType returns the event type
func (e *BaseEvent) GetType() Type {
	return e.EventType
}

// GetSource returns the event source
func (e *BaseEvent) GetSource() interface{} {
	return e.Source
}

// Handler is a function that handles events
type Handler func(Event)

// Subscription is returned by Subscribe. Cancel removes the handler and is
// safe to call more than once.
type Subscription struct {
	ID     uint64
	Cancel func()
}

type subscriber struct {
	id      uint64
	handler Handler
}

// Bus manages event subscriptions and dispatching
type Bus struct {
	handlers map[Type][]subscriber
	nextID   uint64
	mu       sync.RWMutex
}

// NewEventBus creates a new event bus
func NewEventBus() *Bus {
	return &Bus{
		handlers: make(map[Type][]subscriber),
		nextID:   1,
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType Type, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], subscriber{id: id, handler: handler})

	return &Subscription{
		ID:     id,
		Cancel: func() { b.unsubscribe(eventType, id) },
	}
}

func (b *Bus) unsubscribe(eventType Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, s := range subs {
		if s.id == id {
			b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// Publish sends an event to all subscribed handlers in subscription order.
// Handlers run on the publishing goroutine and may subscribe or cancel.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := b.handlers[event.GetType()]
	b.mu.RUnlock()

	for _, s := range subs {
		s.handler(event)
	}
}

// Specific event implementations

// ClientEvent reports an aim server connection opening or closing
type ClientEvent struct {
	BaseEvent
	ClientID   string
	RemoteAddr string
}

// NewClientEvent creates a new client event
func NewClientEvent(eventType Type, source interface{}, clientID, remoteAddr string) *ClientEvent {
	return &ClientEvent{
		BaseEvent: BaseEvent{
			EventType: eventType,
			Source:    source,
		},
		ClientID:   clientID,
		RemoteAddr: remoteAddr,
	}
}

// SolveEvent carries a solution produced for a client request
type SolveEvent struct {
	BaseEvent
	ClientID  string
	RequestID uint64
	Moving    bool
	Solution  ballistics.Solution
}

// NewSolveEvent creates a new SolutionComputed event
func NewSolveEvent(source interface{}, clientID string, requestID uint64, moving bool, sol ballistics.Solution) *SolveEvent {
	return &SolveEvent{
		BaseEvent: BaseEvent{
			EventType: SolutionComputed,
			Source:    source,
		},
		ClientID:  clientID,
		RequestID: requestID,
		Moving:    moving,
		Solution:  sol,
	}
}

// RejectEvent reports a request answered with an error frame
type RejectEvent struct {
	BaseEvent
	ClientID string
	Code     string
	Reason   string
}

// NewRejectEvent creates a new RequestRejected event
func NewRejectEvent(source interface{}, clientID, code, reason string) *RejectEvent {
	return &RejectEvent{
		BaseEvent: BaseEvent{
			EventType: RequestRejected,
			Source:    source,
		},
		ClientID: clientID,
		Code:     code,
		Reason:   reason,
	}
}

// ShotEvent reports whether a fired projectile reached its target
type ShotEvent struct {
	BaseEvent
	Shot     int
	Hit      bool
	Solution ballistics.Solution
	// Closest is the smallest separation from the target surface, zero on a hit.
	Closest float64
}

// NewShotEvent creates a new ShotResolved event
func NewShotEvent(source interface{}, shot int, hit bool, sol ballistics.Solution, closest float64) *ShotEvent {
	return &ShotEvent{
		BaseEvent: BaseEvent{
			EventType: ShotResolved,
			Source:    source,
		},
		Shot:     shot,
		Hit:      hit,
		Solution: sol,
		Closest:  closest,
	}
}
