package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls how the dispatcher buffers events.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit non-blocking; events that do not fit are counted as dropped.
	DropIfFull bool
}

// Dispatcher relays events to a Sink from a single goroutine so login latency
// never depends on sink speed. A nil *Dispatcher discards everything.
type Dispatcher struct {
	sink     Sink
	queue    chan Event
	nonBlock bool

	// mu guards closing queue: Emit sends under RLock, Close closes under Lock.
	mu     sync.RWMutex
	closed bool

	stopped chan struct{}
	lost    atomic.Uint64
}

// NewDispatcher returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:     sink,
		queue:    make(chan Event, max(cfg.BufferSize, 1)),
		nonBlock: cfg.DropIfFull,
		stopped:  make(chan struct{}),
	}
	go d.relay()
	return d
}

func (d *Dispatcher) relay() {
	defer close(d.stopped)
	for ev := range d.queue {
		d.forward(ev)
	}
}

func (d *Dispatcher) forward(ev Event) {
	defer func() {
		if recover() != nil {
			d.lost.Add(1)
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

// Emit queues ev. With DropIfFull it never blocks; otherwise it waits for room
// until ctx is done.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.nonBlock {
		select {
		case d.queue <- ev:
		default:
			d.lost.Add(1)
		}
		return
	}

	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}
	select {
	case d.queue <- ev:
	case <-done:
		d.lost.Add(1)
	}
}

// Close stops accepting events, flushes what is queued and waits for the relay.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.stopped
}

// Dropped counts events that never reached the sink: queue overflow, expired
// contexts and sink panics.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.lost.Load()
}
