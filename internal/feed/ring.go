package feed

import (
	"encoding/json"
	"sync"
	"time"
)

// EventRingLimit — глубина отладочного кольца сырых кадров.
const EventRingLimit = 100

// RawFrame — сырой кадр потока для отладочных поверхностей.
type RawFrame struct {
	ID         string          `json:"id"`
	ReceivedAt time.Time       `json:"received_at"`
	Data       json.RawMessage `json:"data"`
}

// EventRing — ограниченное кольцо последних кадров, новейшие в начале.
type EventRing struct {
	mu     sync.RWMutex
	frames []RawFrame
}

func NewEventRing() *EventRing {
	return &EventRing{}
}

func (r *EventRing) Push(f RawFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append([]RawFrame{f}, r.frames...)
	if len(r.frames) > EventRingLimit {
		r.frames = r.frames[:EventRingLimit]
	}
}

func (r *EventRing) Snapshot() []RawFrame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RawFrame, len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *EventRing) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.frames)
}
