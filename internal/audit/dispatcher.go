package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls delivery. With Async off every event reaches the sink on
// the caller's goroutine.
//
// DropIfFull only sheds info-level events. Warning events (failed logins,
// throttling) wait for buffer space until the caller's context ends.
type Config struct {
	Async      bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher forwards audit events to a sink, inline or through one
// buffered worker.
type Dispatcher struct {
	cfg     Config
	sink    Sink
	queue   chan Event
	stop    chan struct{}
	stopped sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool

	dropped atomic.Uint64
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{cfg: cfg, sink: sink, stop: make(chan struct{})}
	if !cfg.Async {
		return d
	}
	if d.cfg.BufferSize <= 0 {
		d.cfg.BufferSize = 1
	}
	d.queue = make(chan Event, d.cfg.BufferSize)
	d.stopped.Add(1)
	go d.worker()
	return d
}

func (d *Dispatcher) worker() {
	defer d.stopped.Done()
	ctx := context.Background()
	for {
		select {
		case ev := <-d.queue:
			d.sink.Emit(ctx, ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.queue:
					d.sink.Emit(ctx, ev)
				default:
					return
				}
			}
		}
	}
}

// Emit delivers ev. Events emitted after Close are discarded.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if d.queue == nil {
		d.sink.Emit(ctx, ev)
		return
	}

	if d.cfg.DropIfFull && ev.Level != LevelWarning {
		select {
		case d.queue <- ev:
		case <-d.stop:
		default:
			d.dropped.Add(1)
		}
		return
	}

	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.stop:
	}
}

// Close drains buffered events and stops the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.stop)
		d.stopped.Wait()
	})
}

// Dropped counts events discarded because the buffer was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Fanout delivers each event to every sink in order. Nil sinks are skipped.
func Fanout(sinks ...Sink) Sink {
	out := make(fanout, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type fanout []Sink

func (f fanout) Emit(ctx context.Context, ev Event) {
	for _, s := range f {
		s.Emit(ctx, ev)
	}
}
