package types

// Event represents a typed event emitted during state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Clone returns a deep copy so emitted payloads cannot be mutated by
// subscribers holding a reference.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	cloned := &Event{Type: e.Type}
	if e.Attributes != nil {
		cloned.Attributes = make(map[string]string, len(e.Attributes))
		for k, v := range e.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}
