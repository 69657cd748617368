package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// DefaultMaxListeners is the per-event listener count that triggers a leak warning.
const DefaultMaxListeners = 10

// Listener handles an event payload.
type Listener func(ctx context.Context, payload any) error

// AsyncListener runs its synchronous part when called and returns a wait
// func for the work it started. A nil wait func means nothing is pending.
type AsyncListener func(ctx context.Context, payload any) (wait func() error)

// ListenerID identifies a registration. Listener functions are not
// comparable, so Off takes the ID returned by On or Once.
type ListenerID uint64

type registration struct {
	id    ListenerID
	fn    Listener
	async AsyncListener
	once  bool
	fired atomic.Bool
}

// Bus is an in-process event emitter. The zero value is not usable; use NewBus.
type Bus struct {
	mu           sync.RWMutex
	listeners    map[Name][]*registration
	order        []Name
	maxListeners int
	nextID       atomic.Uint64
	logger       *zap.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithMaxListeners overrides DefaultMaxListeners. Zero disables the warning.
func WithMaxListeners(n int) Option {
	return func(b *Bus) { b.maxListeners = n }
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bus{
		listeners:    make(map[Name][]*registration),
		maxListeners: DefaultMaxListeners,
		logger:       logger.With(zap.String("component", "event_bus")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On appends listener to event's list.
func (b *Bus) On(event Name, listener Listener) ListenerID {
	return b.add(event, &registration{fn: listener})
}

// Once registers a listener that is removed before its first invocation.
func (b *Bus) Once(event Name, listener Listener) ListenerID {
	return b.add(event, &registration{fn: listener, once: true})
}

// OnAsync appends a listener whose pending work EmitAsync waits for.
// It shares ordering and ListenerCount with On.
func (b *Bus) OnAsync(event Name, listener AsyncListener) ListenerID {
	return b.add(event, &registration{async: listener})
}

func (b *Bus) add(event Name, reg *registration) ListenerID {
	reg.id = ListenerID(b.nextID.Add(1))

	b.mu.Lock()
	defer b.mu.Unlock()

	list, exists := b.listeners[event]
	if !exists {
		b.order = append(b.order, event)
	}
	if b.maxListeners > 0 && len(list) >= b.maxListeners {
		b.logger.Warn("possible listener leak detected",
			zap.String("event", string(event)),
			zap.Int("listeners", len(list)),
			zap.Int("max_listeners", b.maxListeners))
	}
	b.listeners[event] = append(list, reg)
	return reg.id
}

// Off removes the registration with the given id. It reports whether a
// listener was removed. The event key is dropped once its list is empty.
func (b *Bus) Off(event Name, id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.removeLocked(event, id)
}

func (b *Bus) removeLocked(event Name, id ListenerID) bool {
	list, ok := b.listeners[event]
	if !ok {
		return false
	}
	for i, reg := range list {
		if reg.id != id {
			continue
		}
		next := make([]*registration, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			b.deleteLocked(event)
		} else {
			b.listeners[event] = next
		}
		return true
	}
	return false
}

func (b *Bus) deleteLocked(event Name) {
	delete(b.listeners, event)
	for i, n := range b.order {
		if n == event {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// RemoveAllListeners clears the given events, or every event when none are given.
func (b *Bus) RemoveAllListeners(events ...Name) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(events) == 0 {
		b.listeners = make(map[Name][]*registration)
		b.order = nil
		return
	}
	for _, e := range events {
		b.deleteLocked(e)
	}
}

// snapshot returns the current listeners for event and claims once
// registrations, removing them before any listener body runs.
func (b *Bus) snapshot(event Name) []*registration {
	b.mu.Lock()
	defer b.mu.Unlock()

	list, ok := b.listeners[event]
	if !ok {
		return nil
	}
	out := make([]*registration, 0, len(list))
	for _, reg := range list {
		if reg.once {
			if !reg.fired.CompareAndSwap(false, true) {
				continue
			}
			b.removeLocked(event, reg.id)
		}
		out = append(out, reg)
	}
	return out
}

// Emit calls every listener synchronously in registration order. Listener
// errors and panics are logged and never propagated. Pending work of async
// listeners is not waited for; its errors are logged when it finishes.
// It reports whether the event had listeners.
func (b *Bus) Emit(ctx context.Context, event Name, payload any) bool {
	regs := b.snapshot(event)
	if regs == nil {
		return false
	}
	for _, reg := range regs {
		wait, err := b.invoke(ctx, reg, payload)
		if err != nil {
			b.logFailure(event, err)
		}
		if wait != nil {
			go func() {
				if err := b.await(wait); err != nil {
					b.logFailure(event, err)
				}
			}()
		}
	}
	return true
}

// EmitAsync calls every listener in registration order on the calling
// goroutine, then waits for the work async listeners left pending. Panics
// are logged; errors from listeners and their pending work are joined and
// returned.
func (b *Bus) EmitAsync(ctx context.Context, event Name, payload any) (bool, error) {
	regs := b.snapshot(event)
	if regs == nil {
		return false, nil
	}

	var errs []error
	var pending []func() error
	for _, reg := range regs {
		wait, err := b.invoke(ctx, reg, payload)
		errs = append(errs, err)
		if wait != nil {
			pending = append(pending, wait)
		}
	}
	// 同步部分已全部按序执行，挂起的工作此时并行进行，逐个等待即可
	for _, wait := range pending {
		errs = append(errs, b.await(wait))
	}

	var failed []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		var pe *PanicError
		if errors.As(err, &pe) {
			b.logPanic(event, pe)
			continue
		}
		failed = append(failed, err)
	}
	return true, errors.Join(failed...)
}

func (b *Bus) logFailure(event Name, err error) {
	var pe *PanicError
	if errors.As(err, &pe) {
		b.logPanic(event, pe)
		return
	}
	b.logger.Error("event listener failed",
		zap.String("event", string(event)),
		zap.Error(err))
}

func (b *Bus) logPanic(event Name, pe *PanicError) {
	b.logger.Error("event listener panicked",
		zap.String("event", string(event)),
		zap.Any("recover", pe.Value))
}

// PanicError wraps a value recovered from a listener.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("listener panicked: %v", e.Value)
}

func (b *Bus) invoke(ctx context.Context, reg *registration, payload any) (wait func() error, err error) {
	defer func() {
		if r := recover(); r != nil {
			wait, err = nil, &PanicError{Value: r}
		}
	}()
	if reg.async != nil {
		return reg.async(ctx, payload), nil
	}
	return nil, reg.fn(ctx, payload)
}

func (b *Bus) await(wait func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return wait()
}

// ListenerCount returns the number of listeners registered for event.
func (b *Bus) ListenerCount(event Name) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners[event])
}

// EventNames returns the events that currently have listeners, in the
// order they were first registered.
func (b *Bus) EventNames() []Name {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Name(nil), b.order...)
}

// SetMaxListeners changes the warning threshold. Zero disables it.
func (b *Bus) SetMaxListeners(n int) {
	b.mu.Lock()
	b.maxListeners = n
	b.mu.Unlock()
}

// MaxListeners returns the warning threshold.
func (b *Bus) MaxListeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxListeners
}
