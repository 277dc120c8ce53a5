package feed

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// Conn is the subset of *websocket.Conn the channel needs. Tests substitute
// an in-memory implementation.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v interface{}) error
	Close() error
}

// Channel multiplexes change notifications from one connection to any
// number of subscribers within the process. It never reconnects by itself;
// when the transport drops, the channel closes and reports the error, and
// the connection manager decides what happens next.
type Channel struct {
	conn Conn

	mu     sync.Mutex
	subs   map[int]func(Change)
	nextID int
	closed bool
	err    error

	done chan struct{}
}

// Open sends the presence record over the connection and starts the read
// loop. A presence write failure is reported to the caller rather than
// swallowed: a channel that cannot even announce itself is not live.
func Open(conn Conn, presence Presence) (*Channel, error) {
	if err := conn.WriteJSON(presence); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send presence: %w", err)
	}
	c := &Channel{
		conn: conn,
		subs: make(map[int]func(Change)),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// SubscribeAll registers a handler invoked once per change notification,
// in the order notifications arrive on the connection. The returned func
// removes the subscription.
func (c *Channel) SubscribeAll(handler func(Change)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = handler
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Done is closed when the channel stops delivering, either because Close
// was called or the transport failed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Err returns the transport error that stopped the channel, nil after a
// clean Close. Only meaningful once Done is closed.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close tears the channel down. No handler is invoked after Close returns.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	c.conn.Close()
	<-c.done
}

func (c *Channel) readLoop() {
	defer close(c.done)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = err
				c.closed = true
			}
			c.mu.Unlock()
			return
		}

		var ev Change
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Printf("feed: dropping malformed event: %v", err)
			continue
		}
		if err := ev.Validate(); err != nil {
			log.Printf("feed: dropping invalid event: %v", err)
			continue
		}
		c.dispatch(ev)
	}
}

// dispatch delivers ev to every subscriber. Handlers run on the read loop,
// so they must be short and non-blocking; one handler cannot fail delivery
// to the others.
func (c *Channel) dispatch(ev Change) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	handlers := make([]func(Change), 0, len(c.subs))
	for _, h := range c.subs {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
