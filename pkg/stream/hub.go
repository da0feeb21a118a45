// Package stream is an in-process pub/sub hub for receipt events, feeding
// the validator's live event endpoint. Slow subscribers drop events rather
// than block publishers.
package stream

import (
	"encoding/json"
	"sync"
)

// Event announces a persisted receipt. It carries metadata only; the
// canonical payload is fetched through the receipts API.
type Event struct {
	Type      string          `json:"type"`
	ReceiptID string          `json:"receipt_id,omitempty"`
	SpecHash  string          `json:"spec_hash,omitempty"`
	State     string          `json:"state,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[chan Event]struct{}{}}
}

func (h *Hub) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	_, exists := h.subs[ch]
	if exists {
		delete(h.subs, ch)
	}
	h.mu.Unlock()
	if exists {
		close(ch)
	}
}

func (h *Hub) Publish(evt Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}
