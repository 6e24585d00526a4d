package realtime

import "sync"

type changeBinding struct {
	filter Filter
	fn     func(Change)
}

// Channel is one client's subscription to a topic. Handlers run one at a
// time, in arrival order, on the channel's own goroutine.
type Channel struct {
	topic string
	hub   *Hub

	mu         sync.Mutex
	changes    []changeBinding
	broadcasts map[string][]func(Broadcast)
	subscribed bool
	closed     bool

	pending []func()
	wake    chan struct{}
	done    chan struct{}
}

func newChannel(hub *Hub, topic string) *Channel {
	return &Channel{
		topic:      topic,
		hub:        hub,
		broadcasts: make(map[string][]func(Broadcast)),
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

func (c *Channel) Topic() string {
	return c.topic
}

func (c *Channel) OnChange(filter Filter, fn func(Change)) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes = append(c.changes, changeBinding{filter: filter, fn: fn})
	return c
}

func (c *Channel) OnBroadcast(event string, fn func(Broadcast)) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts[event] = append(c.broadcasts[event], fn)
	return c
}

// Subscribe joins the hub. onStatus, if set, is called on the channel
// goroutine once the subscription is live.
func (c *Channel) Subscribe(onStatus func(Status, error)) *Channel {
	c.mu.Lock()
	if c.subscribed || c.closed {
		c.mu.Unlock()
		return c
	}
	c.subscribed = true
	c.mu.Unlock()

	go c.run()
	// Join first so nothing published after SUBSCRIBED is missed.
	c.hub.join(c)
	if onStatus != nil {
		c.enqueue(func() {
			onStatus(StatusSubscribed, nil)
		})
	}
	return c
}

// Send broadcasts to every other channel on the same topic.
func (c *Channel) Send(b Broadcast) error {
	c.mu.Lock()
	subscribed, closed := c.subscribed, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !subscribed {
		return ErrNotSubscribed
	}
	c.hub.publishBroadcast(c.topic, c, b)
	return nil
}

func (c *Channel) dispatchChange(change Change) {
	c.mu.Lock()
	var handlers []func(Change)
	for _, binding := range c.changes {
		if binding.filter.matches(change) {
			handlers = append(handlers, binding.fn)
		}
	}
	c.mu.Unlock()
	for _, fn := range handlers {
		fn := fn
		c.enqueue(func() {
			fn(change)
		})
	}
}

func (c *Channel) dispatchBroadcast(b Broadcast) {
	c.mu.Lock()
	handlers := append([]func(Broadcast){}, c.broadcasts[b.Event]...)
	c.mu.Unlock()
	for _, fn := range handlers {
		fn := fn
		c.enqueue(func() {
			fn(b)
		})
	}
}

func (c *Channel) enqueue(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, fn)
	c.mu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Channel) run() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if c.closed || len(c.pending) == 0 {
				c.mu.Unlock()
				break
			}
			fn := c.pending[0]
			c.pending = c.pending[1:]
			c.mu.Unlock()
			fn()
		}
	}
}

func (c *Channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.pending = nil
	close(c.done)
}
