package mail

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Dispatcher queues messages and delivers them from a background goroutine,
// so a slow mail relay never blocks a request handler. Enqueue drops when
// the buffer is full; auth flows must not fail because email is backed up.
type Dispatcher struct {
	sender    Sender
	logger    *slog.Logger
	ch        chan Message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine.
func NewDispatcher(sender Sender, bufferSize int, logger *slog.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		sender: sender,
		logger: logger,
		ch:     make(chan Message, bufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case msg := <-d.ch:
			d.deliver(msg)
		case <-d.done:
			// Drain what was queued before Close.
			for {
				select {
				case msg := <-d.ch:
					d.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(msg Message) {
	if err := d.sender.Send(context.Background(), msg); err != nil {
		d.logger.Error("email delivery failed",
			"to", msg.To,
			"subject", msg.Subject,
			"error", err,
		)
	}
}

// Enqueue queues a message for delivery. It never blocks; messages that
// don't fit in the buffer are counted and dropped.
func (d *Dispatcher) Enqueue(msg Message) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- msg:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Close stops accepting messages, drains the queue, and waits for the
// delivery goroutine to exit. Safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped returns the number of messages discarded due to a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
