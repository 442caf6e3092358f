package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/taskgraph/internal/logging"
)

// DefaultEventBuffer is the event channel capacity used when none is set.
const DefaultEventBuffer = 100

// sendTimeout is how long Emit waits on a full channel before dropping.
const sendTimeout = 100 * time.Millisecond

// Listener receives events synchronously, in emission order.
type Listener func(Event) error

// AsyncListener receives each event on its own goroutine.
type AsyncListener func(Event) error

// Emitter fans events out to listeners and a buffered channel. A listener
// error or panic is logged and never reaches the emitting code.
type Emitter struct {
	mu        sync.RWMutex
	listeners []Listener
	async     []AsyncListener
	inflight  sync.WaitGroup

	// events is closed under mu so no send can race the close.
	events       chan Event
	closed       bool
	consumed     atomic.Bool
	droppedCount atomic.Uint64
	log          logrus.FieldLogger
}

// NewEmitter creates an Emitter with the given channel capacity.
func NewEmitter(bufferSize int, log logrus.FieldLogger) *Emitter {
	if bufferSize <= 0 {
		bufferSize = DefaultEventBuffer
	}
	return &Emitter{
		events: make(chan Event, bufferSize),
		log:    logging.OrNop(log),
	}
}

// On registers a synchronous listener.
func (e *Emitter) On(l Listener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners = append(e.listeners, l)
}

// OnAsync registers an asynchronous listener.
func (e *Emitter) OnAsync(l AsyncListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.async = append(e.async, l)
}

// Emit delivers ev to every listener and then to the channel. If the
// channel stays full for sendTimeout the event is dropped from the channel
// only; listeners always see it. Until Events has been called nobody can be
// reading, so a full channel drops without waiting.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	e.mu.RLock()
	syncs := append([]Listener(nil), e.listeners...)
	asyncs := append([]AsyncListener(nil), e.async...)
	e.mu.RUnlock()

	for _, l := range syncs {
		e.call(l, ev)
	}
	for _, l := range asyncs {
		e.inflight.Add(1)
		go func() {
			defer e.inflight.Done()
			e.call(Listener(l), ev)
		}()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
		return
	default:
	}
	if !e.consumed.Load() {
		e.dropped(ev)
		return
	}
	select {
	case e.events <- ev:
	case <-time.After(sendTimeout):
		e.dropped(ev)
	}
}

func (e *Emitter) dropped(ev Event) {
	count := e.droppedCount.Add(1)
	if count%10 == 1 {
		e.log.Warnf("event channel full, dropped event (total dropped: %d): type=%s", count, ev.Type)
	}
}

func (e *Emitter) call(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("event", ev.Type).Errorf("listener panic: %v", r)
		}
	}()
	if err := l(ev); err != nil {
		e.log.WithError(err).WithField("event", ev.Type).Warn("listener error")
	}
}

// Wait blocks until every asynchronous listener call has returned.
func (e *Emitter) Wait() {
	e.inflight.Wait()
}

// DroppedCount returns the number of events dropped from the channel.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the event channel. Callers are expected to drain it.
func (e *Emitter) Events() <-chan Event {
	e.consumed.Store(true)
	return e.events
}

// Close waits for asynchronous listeners and closes the event channel.
// Emit after Close still reaches listeners.
func (e *Emitter) Close() error {
	e.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("emitter already closed")
	}
	e.closed = true
	close(e.events)
	return nil
}
