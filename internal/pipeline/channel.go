package pipeline

import (
	"context"
	"errors"
	"iter"
	"sync"
)

var (
	// ErrChannelClosed is returned by Send after Close, and by a second Close.
	ErrChannelClosed = errors.New("pipeline: channel closed")
	// ErrChannelFull is returned by Send on a bounded channel using OverflowDrop.
	ErrChannelFull = errors.New("pipeline: channel full")
)

// OverflowPolicy decides what Send does when a bounded channel is full.
type OverflowPolicy int

const (
	// OverflowBlock makes Send wait for the consumer to make room.
	OverflowBlock OverflowPolicy = iota
	// OverflowDrop makes Send reject the record with ErrChannelFull.
	OverflowDrop
)

// String returns the configuration name of the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case OverflowDrop:
		return "drop"
	default:
		return "block"
	}
}

// ParseOverflowPolicy parses "block" or "drop". Empty means block.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "block":
		return OverflowBlock, nil
	case "drop":
		return OverflowDrop, nil
	}
	return OverflowBlock, errors.New("pipeline: unknown overflow policy " + s)
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithCapacity bounds the number of undelivered records. Zero or less means unbounded.
func WithCapacity(n int) ChannelOption {
	return func(c *Channel) {
		if n < 0 {
			n = 0
		}
		c.capacity = n
	}
}

// WithOverflow sets the policy applied when a bounded channel is full.
func WithOverflow(p OverflowPolicy) ChannelOption {
	return func(c *Channel) {
		c.overflow = p
	}
}

type entry struct {
	data []byte
	eos  bool
}

// Channel is an ordered single-producer, single-consumer queue of encoded
// records terminated by an end-of-stream sentinel. It is unbounded unless
// WithCapacity is given.
type Channel struct {
	capacity int
	overflow OverflowPolicy

	mu        sync.Mutex
	queue     []entry
	closed    bool
	finished  bool
	abandoned bool

	// ready and space are edge-triggered wakeups, buffered by one.
	ready chan struct{}
	space chan struct{}
}

// NewChannel returns an open channel.
func NewChannel(opts ...ChannelOption) *Channel {
	c := &Channel{
		ready: make(chan struct{}, 1),
		space: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send enqueues rec. It fails with ErrChannelClosed once Close was called.
// After Abandon, records are discarded and Send returns nil. On a full
// bounded channel Send either waits (OverflowBlock) or fails with
// ErrChannelFull (OverflowDrop).
func (c *Channel) Send(ctx context.Context, rec []byte) error {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrChannelClosed
		}
		if c.abandoned {
			c.mu.Unlock()
			return nil
		}
		if c.capacity == 0 || len(c.queue) < c.capacity {
			c.queue = append(c.queue, entry{data: rec})
			c.mu.Unlock()
			notify(c.ready)
			return nil
		}
		c.mu.Unlock()

		if c.overflow == OverflowDrop {
			return ErrChannelFull
		}
		select {
		case <-c.space:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close marks the channel terminated and enqueues the end-of-stream
// sentinel. A second Close returns ErrChannelClosed.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.closed = true
	c.queue = append(c.queue, entry{eos: true})
	c.mu.Unlock()

	notify(c.ready)
	notify(c.space)
	return nil
}

// Abandon is called by the consumer when it stops reading. Buffered records
// are released and later sends are discarded so the producer can keep
// running to completion without growing the queue.
func (c *Channel) Abandon() {
	c.mu.Lock()
	c.abandoned = true
	if !c.closed {
		c.queue = nil
	}
	c.mu.Unlock()
	notify(c.space)
}

// Closed reports whether Close was called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Len returns the number of undelivered records, excluding the sentinel.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.queue)
	if n > 0 && c.queue[n-1].eos {
		n--
	}
	return n
}

// Next returns the next record. ok is false once the sentinel was observed,
// and on every call after that. err is set only when ctx ends first.
func (c *Channel) Next(ctx context.Context) (rec []byte, ok bool, err error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			e := c.queue[0]
			c.queue[0] = entry{}
			c.queue = c.queue[1:]
			if e.eos {
				c.finished = true
			}
			c.mu.Unlock()
			notify(c.space)

			if e.eos {
				return nil, false, nil
			}
			return e.data, true, nil
		}
		if c.finished {
			c.mu.Unlock()
			return nil, false, nil
		}
		c.mu.Unlock()

		select {
		case <-c.ready:
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// Records yields records in order until the sentinel or until ctx ends.
func (c *Channel) Records(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			rec, ok, err := c.Next(ctx)
			if err != nil || !ok {
				return
			}
			if !yield(rec) {
				return
			}
		}
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
