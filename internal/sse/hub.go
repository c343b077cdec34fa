package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

const bufferSize = 32

// Hub fans encoded events out to every subscriber. Slow subscribers miss
// events rather than block the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() (chan []byte, func()) {
	ch := make(chan []byte, bufferSize)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Publish encodes data as the named event and broadcasts it.
func (h *Hub) Publish(event string, data any) error {
	payload, err := Encode(event, data)
	if err != nil {
		return err
	}
	h.Broadcast(payload)
	return nil
}

// Encode renders one text/event-stream frame with a JSON data line.
func Encode(event string, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", event, err)
	}
	var buf bytes.Buffer
	buf.Grow(len(event) + len(body) + 16)
	buf.WriteString("event: ")
	buf.WriteString(event)
	buf.WriteString("\ndata: ")
	buf.Write(body)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}
