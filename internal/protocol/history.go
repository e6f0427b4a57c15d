package protocol

import "sync"

// DefaultHistorySize bounds the per-component message history.
const DefaultHistorySize = 1000

// History is a bounded FIFO log of envelopes seen by a component. When full,
// the oldest entry is evicted. Safe for concurrent use.
type History struct {
	mu      sync.Mutex
	entries []*Envelope
	start   int
	count   int
}

// NewHistory builds a history holding at most capacity envelopes.
// A non-positive capacity falls back to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{entries: make([]*Envelope, capacity)}
}

// Record appends an envelope, evicting the oldest when full.
func (h *History) Record(e *Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := (h.start + h.count) % len(h.entries)
	if h.count == len(h.entries) {
		h.start = (h.start + 1) % len(h.entries)
		h.count--
	}
	h.entries[idx] = e
	h.count++
}

// Len reports the number of retained envelopes.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Recent returns up to n retained envelopes, oldest first. n <= 0 returns
// everything retained.
func (h *History) Recent(n int) []*Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n <= 0 || n > h.count {
		n = h.count
	}
	out := make([]*Envelope, 0, n)
	for i := h.count - n; i < h.count; i++ {
		out = append(out, h.entries[(h.start+i)%len(h.entries)])
	}
	return out
}

// Conversation returns all retained envelopes sharing a correlation id,
// oldest first.
func (h *History) Conversation(correlationID string) []*Envelope {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []*Envelope
	for i := 0; i < h.count; i++ {
		e := h.entries[(h.start+i)%len(h.entries)]
		if e != nil && e.CorrelationID == correlationID {
			out = append(out, e)
		}
	}
	return out
}
