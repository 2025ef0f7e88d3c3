// Package events carries typed in-process notifications between views,
// e.g. a recorded odometer reading refreshing the dashboard.
package events

import (
	"sync"

	"fieldops/internal/model"
)

type Bus[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(T)
}

func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]func(T))}
}

// Subscribe registers fn; the returned cancel may be called more than once.
func (b *Bus[T]) Subscribe(fn func(T)) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish calls subscribers synchronously, outside the lock.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	fns := make([]func(T), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type OdometerRecorded = Bus[model.OdometerLog]

func NewOdometerRecorded() *OdometerRecorded {
	return NewBus[model.OdometerLog]()
}
