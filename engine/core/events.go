package core

import "sync"

// EventKind enumerates what a SurfaceProvider delivers to the core.
type EventKind uint8

const (
	EventKeyPress EventKind = iota + 1
	EventKeyRelease
	EventMouseMove
	EventMouseButton
	EventTouchGesture
	EventResize
	EventQuit

	maxEventKind
)

func (k EventKind) String() string {
	switch k {
	case EventKeyPress:
		return "KeyPress"
	case EventKeyRelease:
		return "KeyRelease"
	case EventMouseMove:
		return "MouseMove"
	case EventMouseButton:
		return "MouseButton"
	case EventTouchGesture:
		return "TouchGesture"
	case EventResize:
		return "Resize"
	case EventQuit:
		return "Quit"
	default:
		return "Unknown"
	}
}

type Event struct {
	Kind EventKind

	// KeyPress / KeyRelease
	Key KeyCode

	// MouseButton
	Button  Button
	Pressed bool

	// MouseMove
	X, Y float32

	// Resize
	Width, Height uint32

	// TouchGesture
	Gesture *GestureEvent
}

// SurfaceProvider is the windowing collaborator contract.
type SurfaceProvider interface {
	// CreateSurface returns the native surface handle for the given backend
	// instance (a vk.Instance for Vulkan).
	CreateSurface(instance any) (uintptr, error)
	// RequiredInstanceExtensions lists the instance extensions the surface needs.
	RequiredInstanceExtensions() []string
	CurrentExtent() (width uint32, height uint32)
	PollEvents() []Event
	RequestQuit()
	ShouldQuit() bool
}

// Should return true if handled.
type FnOnEvent func(e Event, listener interface{}) bool

type registeredEvent struct {
	listener interface{}
	callback FnOnEvent
}

// EventBus dispatches events to registered listeners, in registration order.
type EventBus struct {
	mu         sync.RWMutex
	registered [maxEventKind][]*registeredEvent
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

/**
 * Register to listen for events of the given kind. A listener can only be
 * registered once per kind; duplicates return false.
 */
func (b *EventBus) Register(kind EventKind, listener interface{}, onEvent FnOnEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.registered[kind] {
		if e.listener == listener {
			LogWarn("listener already registered for %s", kind)
			return false
		}
	}
	b.registered[kind] = append(b.registered[kind], &registeredEvent{
		listener: listener,
		callback: onEvent,
	})
	return true
}

// Unregister removes the listener for kind. Returns false if none was found.
func (b *EventBus) Unregister(kind EventKind, listener interface{}) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := b.registered[kind]
	for i, e := range events {
		if e.listener == listener {
			b.registered[kind] = append(events[:i], events[i+1:]...)
			return true
		}
	}
	return false
}

/**
 * Fires an event to listeners of its kind. If a handler returns true the event
 * is considered handled and is not passed on to any more listeners.
 */
func (b *EventBus) Fire(e Event) bool {
	b.mu.RLock()
	events := append([]*registeredEvent(nil), b.registered[e.Kind]...)
	b.mu.RUnlock()
	for _, r := range events {
		if r.callback(e, r.listener) {
			return true
		}
	}
	return false
}
