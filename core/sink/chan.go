package sink

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/comet/core/broadcast"
)

// Chan delivers messages on a buffered channel. The channel is closed when
// the subscription ends.
type Chan struct {
	id string
	ch chan any

	mu      sync.Mutex
	closed  bool
	outcome broadcast.Outcome
	done    chan struct{}
}

// NewChan creates a channel sink. An empty id is replaced by a random one.
func NewChan(id string, buffer int) *Chan {
	if id == "" {
		id = uuid.NewString()
	}
	return &Chan{
		id:   id,
		ch:   make(chan any, max(buffer, 0)),
		done: make(chan struct{}),
	}
}

func (c *Chan) ID() string { return c.id }

// Messages returns the receive side of the sink.
func (c *Chan) Messages() <-chan any { return c.ch }

// Done is closed together with the message channel.
func (c *Chan) Done() <-chan struct{} { return c.done }

// Outcome returns how the subscription ended, empty while it is live.
func (c *Chan) Outcome() broadcast.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcome
}

// Deliver blocks until the message is buffered or ctx is done.
func (c *Chan) Deliver(ctx context.Context, msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Chan) Close(outcome broadcast.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.outcome = outcome
	close(c.ch)
	close(c.done)
}
