// Package events provides a generic named-event dispatcher with persistent and
// one-shot listeners, duplicate-registration rejection, a listener-count
// ceiling, and concurrent fan-out delivery with aggregated completion.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sync/errgroup"
)

// ErrorEvent is the reserved event name for failures. Emitting it with no
// listeners registered is itself an error; higher layers are expected to keep
// at least one listener on it at all times.
const ErrorEvent = "error"

// DefaultMaxListeners is the per-event listener ceiling applied when Options
// leaves MaxListeners zero.
const DefaultMaxListeners = 10

var (
	// ErrDuplicateListener reports an attempt to register the same listener
	// handle twice for one event; the registration is rejected.
	ErrDuplicateListener = errors.New("duplicate listener")

	// ErrMaxListeners reports that an event's listener count exceeded the
	// ceiling. The offending listener has already been added when this is
	// returned; the error is a late-detected warning, not a rollback.
	ErrMaxListeners = errors.New("max listeners exceeded")

	// ErrUnhandledErrorEvent reports an emit on the reserved "error" event
	// with nothing registered to observe it.
	ErrUnhandledErrorEvent = errors.New(`unhandled "error" event`)

	// ErrEventNameRequired reports a missing event name.
	ErrEventNameRequired = errors.New("event name required")
)

// Listener handles one delivered value. It may do asynchronous work of its
// own; Emit does not return until every listener invoked for that emission has
// settled.
//
// Listener identity (for duplicate detection and RemoveListener) is the
// function value itself: registering the same value twice is a duplicate,
// while closures created by separate evaluations are distinct handles.
type Listener[T any] func(ctx context.Context, value T) error

// handler is one registered listener plus its identity key and once flag.
type handler[T any] struct {
	fn   Listener[T]
	key  uintptr
	once bool
}

// Emitter dispatches values to listeners registered under event names.
// Delivery is fan-out: every listener runs in its own goroutine and Emit joins
// them all. All methods are safe for concurrent use.
type Emitter[T any] struct {
	mu           sync.Mutex
	maxListeners int
	registry     map[string][]handler[T]
}

// Options controls construction of an Emitter.
type Options struct {
	// MaxListeners overrides the per-event ceiling (default 10).
	MaxListeners int
}

// New constructs an Emitter.
func New[T any](opts Options) *Emitter[T] {
	if opts.MaxListeners <= 0 {
		opts.MaxListeners = DefaultMaxListeners
	}
	return &Emitter[T]{
		maxListeners: opts.MaxListeners,
		registry:     make(map[string][]handler[T]),
	}
}

// listenerKey reads the function value's underlying closure pointer. Unlike
// reflect's code pointer this distinguishes separately created closures of the
// same literal. The registry keeps the func value alive for as long as the key
// is held, so the pointer stays unique among registered listeners.
func listenerKey[T any](fn Listener[T]) uintptr {
	return uintptr(*(*unsafe.Pointer)(unsafe.Pointer(&fn)))
}

// On registers a persistent listener for the event. It returns
// ErrDuplicateListener (state unchanged) if the handle is already registered,
// or ErrMaxListeners if the registration pushed the event past the ceiling —
// in which case the listener is nevertheless active.
func (e *Emitter[T]) On(event string, fn Listener[T]) error {
	return e.add(event, fn, false)
}

// Once registers a listener that is removed after its first delivery. Error
// semantics match On.
func (e *Emitter[T]) Once(event string, fn Listener[T]) error {
	return e.add(event, fn, true)
}

func (e *Emitter[T]) add(event string, fn Listener[T], once bool) error {
	if event == "" {
		return ErrEventNameRequired
	}
	key := listenerKey(fn)

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.registry[event]
	for _, h := range rec {
		if h.key == key {
			return fmt.Errorf("%w: event %q", ErrDuplicateListener, event)
		}
	}
	rec = append(rec, handler[T]{fn: fn, key: key, once: once})
	e.registry[event] = rec

	if len(rec) > e.maxListeners {
		// Deliberately detected after the append: the listener stays active
		// and the caller is warned.
		return fmt.Errorf("%w: event %q has %d listeners (limit %d)",
			ErrMaxListeners, event, len(rec), e.maxListeners)
	}
	return nil
}

// Off removes the event's entire registration record, persistent and once
// listeners alike. Unknown events are a no-op.
func (e *Emitter[T]) Off(event string) {
	e.mu.Lock()
	delete(e.registry, event)
	e.mu.Unlock()
}

// RemoveListener removes one listener handle from the event. Removing the last
// listener drops the event's record entirely. Absent handles are a no-op.
func (e *Emitter[T]) RemoveListener(event string, fn Listener[T]) {
	key := listenerKey(fn)

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.registry[event]
	for i, h := range rec {
		if h.key == key {
			rec = append(rec[:i:i], rec[i+1:]...)
			if len(rec) == 0 {
				delete(e.registry, event)
			} else {
				e.registry[event] = rec
			}
			return
		}
	}
}

// Clear empties every event's registrations.
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	e.registry = make(map[string][]handler[T])
	e.mu.Unlock()
}

// ListenerCount returns the number of listeners currently registered for the
// event, once listeners included.
func (e *Emitter[T]) ListenerCount(event string) (int, error) {
	if event == "" {
		return 0, ErrEventNameRequired
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.registry[event]), nil
}

// Emit delivers value to every listener registered for the event at the moment
// of the call. Listeners run concurrently, spawned in registration order, and
// Emit returns once all of them have settled; the first listener failure is
// returned after the join, without having suppressed the other invocations.
//
// Listeners added or removed during delivery do not affect the current
// emission. Once listeners are pruned before delivery starts, so they receive
// this emission but no later one; if pruning empties the event, its record is
// dropped.
//
// With no listeners registered, Emit is a no-op — except for the reserved
// "error" event, which returns ErrUnhandledErrorEvent.
func (e *Emitter[T]) Emit(ctx context.Context, event string, value T) error {
	if event == "" {
		return ErrEventNameRequired
	}

	e.mu.Lock()
	snapshot := e.registry[event]
	if len(snapshot) == 0 {
		e.mu.Unlock()
		if event == ErrorEvent {
			return ErrUnhandledErrorEvent
		}
		return nil
	}

	kept := make([]handler[T], 0, len(snapshot))
	for _, h := range snapshot {
		if !h.once {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		delete(e.registry, event)
	} else {
		e.registry[event] = kept
	}
	e.mu.Unlock()

	// Plain errgroup, no derived cancellation: one listener failing must not
	// interfere with the others' execution.
	var g errgroup.Group
	for _, h := range snapshot {
		fn := h.fn
		g.Go(func() error {
			return fn(ctx, value)
		})
	}
	return g.Wait()
}
