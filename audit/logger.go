package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Config controls logger buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Logger stamps, redacts, and asynchronously forwards security events to a
// sink. A nil *Logger is valid and discards everything, so call sites never
// need to guard emission.
type Logger struct {
	cfg       Config
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewLogger starts the forwarding goroutine. Returns nil when disabled.
func NewLogger(cfg Config, sink Sink) *Logger {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	l := &Logger{
		cfg:  cfg,
		sink: sink,
		ch:   make(chan Event, cfg.BufferSize),
		done: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.run()

	return l
}

func (l *Logger) run() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.ch:
			l.sink.Emit(context.Background(), event)
		case <-l.done:
			// Drain whatever is already buffered, then stop.
			for {
				select {
				case event := <-l.ch:
					l.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit stamps the event with a ULID and timestamp (unless preset), redacts
// its detail map, and queues it. Emission never blocks the caller beyond
// ctx and never returns an error; event delivery is best-effort.
func (l *Logger) Emit(ctx context.Context, event Event) {
	if l == nil || l.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	event.Detail = Redact(event.Detail)

	if l.cfg.DropIfFull {
		select {
		case l.ch <- event:
		case <-l.done:
		default:
			l.dropped.Add(1)
		}
		return
	}

	select {
	case l.ch <- event:
	case <-ctx.Done():
	case <-l.done:
	}
}

// Close stops the forwarding goroutine after draining buffered events.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		close(l.done)
		l.wg.Wait()
	})
}

// Dropped reports how many events were discarded due to backpressure.
func (l *Logger) Dropped() uint64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}
