package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned when the delivery queue has no room.
	ErrQueueFull = errors.New("events: delivery queue full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("events: publisher closed")
)

const (
	defaultQueueSize      = 1024
	defaultDeliverTimeout = 5 * time.Second
)

// AsyncOptions configures an AsyncPublisher.
type AsyncOptions struct {
	QueueSize int
	// Timeout bounds each delivery to the wrapped publisher.
	Timeout time.Duration
	// OnError is called from the delivery goroutine for every failed event.
	OnError func(ctx context.Context, e Event, err error)
}

type pending struct {
	ctx context.Context
	e   Event
}

// AsyncPublisher hands events to a single delivery goroutine so callers never
// wait on the broker. Events are delivered in the order they were accepted.
type AsyncPublisher struct {
	next    Publisher
	timeout time.Duration
	onError func(ctx context.Context, e Event, err error)

	mu     sync.RWMutex
	closed bool
	queue  chan pending
	done   chan struct{}
}

// NewAsyncPublisher starts the delivery goroutine for next.
func NewAsyncPublisher(next Publisher, opts AsyncOptions) *AsyncPublisher {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultDeliverTimeout
	}
	p := &AsyncPublisher{
		next:    next,
		timeout: opts.Timeout,
		onError: opts.OnError,
		queue:   make(chan pending, opts.QueueSize),
		done:    make(chan struct{}),
	}
	go p.deliver()
	return p
}

// Publish enqueues e and returns immediately. The request context is detached
// from cancellation so a finished request does not abort its event.
func (p *AsyncPublisher) Publish(ctx context.Context, e Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- pending{ctx: context.WithoutCancel(ctx), e: e}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting events, drains the queue and closes the wrapped
// publisher.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.next.Close()
}

func (p *AsyncPublisher) deliver() {
	defer close(p.done)
	for item := range p.queue {
		ctx, cancel := context.WithTimeout(item.ctx, p.timeout)
		err := p.next.Publish(ctx, item.e)
		cancel()
		if err != nil && p.onError != nil {
			p.onError(item.ctx, item.e, err)
		}
	}
}
