package events

// Event represents a structured state change emitted by the node.
type Event interface {
	EventType() string
}

// Record is implemented by events that also expose a flat attribute payload
// suitable for serialisation to subscribers.
type Record interface {
	Event
	EventAttributes() map[string]string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC streams,
// indexers, audit sinks).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
// Engines start with it so event wiring stays optional.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
