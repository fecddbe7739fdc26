package events

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"lendpool/observability"
)

const defaultHistoryLimit = 2048

// Update is the serialised form of an emitted event as seen by subscribers.
// Sequence numbers are assigned at emit time and back the cursor protocol:
// a reconnecting subscriber passes the last cursor it saw and receives the
// retained backlog after that point.
type Update struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Timestamp  int64             `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func cloneUpdate(u Update) Update {
	cloned := u
	if len(u.Attributes) > 0 {
		attrs := make(map[string]string, len(u.Attributes))
		for k, v := range u.Attributes {
			attrs[k] = v
		}
		cloned.Attributes = attrs
	}
	return cloned
}

// Hub is an Emitter that fans events out to live subscribers and retains a
// bounded history for cursor-based replay. Slow subscribers are skipped, not
// blocked on; the backlog covers catch-up.
type Hub struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan Update
	history []Update
	limit   int
	nowFn   func() int64
}

// NewHub returns a hub retaining up to the default history limit.
func NewHub() *Hub {
	return &Hub{
		subs:  make(map[uint64]chan Update),
		limit: defaultHistoryLimit,
		nowFn: func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the timestamp source. Passing nil restores the
// wall clock.
func (h *Hub) SetNowFunc(now func() int64) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if now == nil {
		h.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	h.nowFn = now
}

// Emit implements the Emitter interface.
func (h *Hub) Emit(evt Event) {
	if h == nil || evt == nil {
		return
	}
	update := Update{Type: evt.EventType()}
	if rec, ok := evt.(Record); ok {
		update.Attributes = rec.EventAttributes()
	}

	h.mu.Lock()
	h.seq++
	update.Sequence = h.seq
	update.Cursor = strconv.FormatUint(update.Sequence, 10)
	update.Timestamp = h.nowFn()
	h.history = append(h.history, cloneUpdate(update))
	if len(h.history) > h.limit {
		excess := len(h.history) - h.limit
		trimmed := make([]Update, h.limit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	subscribers := make([]chan Update, 0, len(h.subs))
	for _, ch := range h.subs {
		subscribers = append(subscribers, ch)
	}
	h.mu.Unlock()

	observability.Events().RecordUpdate(update.Type)

	broadcast := cloneUpdate(update)
	for _, ch := range subscribers {
		select {
		case ch <- broadcast:
		default:
			observability.Events().RecordDropped()
		}
	}
}

// Subscribe registers a subscriber for updates emitted after the supplied
// cursor. The returned cancel func is idempotent and also runs when the
// context ends.
func (h *Hub) Subscribe(ctx context.Context, cursor string) (<-chan Update, func(), []Update) {
	updates := make(chan Update, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	history := make([]Update, len(h.history))
	copy(history, h.history)
	h.mu.Unlock()

	backlog := make([]Update, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneUpdate(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			sub, ok := h.subs[id]
			if ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog
}
