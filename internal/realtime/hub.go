package realtime

import (
	"log/slog"
	"sync"
)

// Hub routes row changes and broadcasts to subscribed channels.
type Hub struct {
	mu       sync.RWMutex
	channels map[*Channel]struct{}
	forward  Forwarder
	logger   *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		channels: make(map[*Channel]struct{}),
		logger:   logger,
	}
}

// Channel creates an unsubscribed channel on topic.
func (h *Hub) Channel(topic string) *Channel {
	return newChannel(h, topic)
}

// RemoveChannel unsubscribes ch and stops its delivery goroutine.
func (h *Hub) RemoveChannel(ch *Channel) {
	if ch == nil {
		return
	}
	h.leave(ch)
	ch.close()
}

func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forward = f
}

func (h *Hub) PublishChange(c Change) {
	h.deliverChange(c)
	h.mu.RLock()
	forward := h.forward
	h.mu.RUnlock()
	if forward != nil {
		forward.ForwardChange(c)
	}
}

func (h *Hub) publishBroadcast(topic string, from *Channel, b Broadcast) {
	h.deliverBroadcast(topic, from, b)
	h.mu.RLock()
	forward := h.forward
	h.mu.RUnlock()
	if forward != nil {
		forward.ForwardBroadcast(topic, b)
	}
}

func (h *Hub) deliverChange(c Change) {
	for _, ch := range h.snapshot() {
		ch.dispatchChange(c)
	}
}

// deliverBroadcast skips the sending channel.
func (h *Hub) deliverBroadcast(topic string, from *Channel, b Broadcast) {
	for _, ch := range h.snapshot() {
		if ch == from || ch.topic != topic {
			continue
		}
		ch.dispatchBroadcast(b)
	}
}

func (h *Hub) Subscribers(topic string) int {
	count := 0
	for _, ch := range h.snapshot() {
		if ch.topic == topic {
			count++
		}
	}
	return count
}

func (h *Hub) snapshot() []*Channel {
	h.mu.RLock()
	defer h.mu.RUnlock()
	list := make([]*Channel, 0, len(h.channels))
	for ch := range h.channels {
		list = append(list, ch)
	}
	return list
}

func (h *Hub) join(ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[ch] = struct{}{}
	h.logger.Debug("channel joined", "topic", ch.topic, "channels", len(h.channels))
}

func (h *Hub) leave(ch *Channel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.channels[ch]; !ok {
		return
	}
	delete(h.channels, ch)
	h.logger.Debug("channel left", "topic", ch.topic, "channels", len(h.channels))
}
