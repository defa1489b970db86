package filter

import (
	"sync"

	"github.com/danmuck/kproxy/internal/protocol/stream"
)

// Event is one dispatch; exactly one of Message and Failure is set.
type Event struct {
	Message *stream.Message
	Failure *stream.ParseFailure
}

// Capture collects dispatches in stream order.
type Capture struct {
	mu     sync.Mutex
	events []Event
}

func (c *Capture) OnMessage(msg stream.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, Event{Message: &msg})
}

func (c *Capture) OnFailedParse(failure stream.ParseFailure) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, Event{Failure: &failure})
}

func (c *Capture) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

func (c *Capture) Messages() []stream.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []stream.Message
	for _, e := range c.events {
		if e.Message != nil {
			out = append(out, *e.Message)
		}
	}
	return out
}

func (c *Capture) Failures() []stream.ParseFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []stream.ParseFailure
	for _, e := range c.events {
		if e.Failure != nil {
			out = append(out, *e.Failure)
		}
	}
	return out
}
