package executor

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/0xtide/delegated-trading-engine/pkg/types"
)

// StatusEvent is delivered to status observers on every state transition.
type StatusEvent struct {
	Running   bool      `json:"running"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusCallback receives scheduler state transitions.
type StatusCallback func(StatusEvent)

// OpportunityCallback receives every candidate that survives filtering.
type OpportunityCallback func(*types.Opportunity)

// observers is a registry of subscription callbacks keyed by a random id so
// unsubscribing one handle never disturbs another.
type observers[T any] struct {
	mu        sync.RWMutex
	callbacks map[string]func(T)
}

func newObservers[T any]() *observers[T] {
	return &observers[T]{callbacks: make(map[string]func(T))}
}

// subscribe registers a callback and returns its unsubscribe handle.
func (o *observers[T]) subscribe(cb func(T)) func() {
	id := uuid.NewString()
	o.mu.Lock()
	o.callbacks[id] = cb
	o.mu.Unlock()

	return func() {
		o.mu.Lock()
		delete(o.callbacks, id)
		o.mu.Unlock()
	}
}

// publish invokes every callback. A panicking callback is contained so the
// remaining observers and the calling loop are unaffected.
func (o *observers[T]) publish(event T) {
	o.mu.RLock()
	callbacks := make([]func(T), 0, len(o.callbacks))
	for _, cb := range o.callbacks {
		callbacks = append(callbacks, cb)
	}
	o.mu.RUnlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				_ = recover()
			}()
			cb(event)
		}()
	}
}

func (o *observers[T]) count() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.callbacks)
}
