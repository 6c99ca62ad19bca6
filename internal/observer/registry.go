// Package observer provides an ordered listener registry shared by the
// session manager and the event channel.
package observer

import "sync"

type Listener[T any] func(T)

type entry[T any] struct {
	token uint64
	fn    Listener[T]
}

// Registry keeps listeners in subscription order. It is safe for concurrent use;
// listeners are always invoked outside the registry lock.
//
// Values are delivered in the order they were enqueued. Only one goroutine
// delivers at a time; a Notify that arrives while another delivery is running
// (including from inside a listener) is queued and handed to listeners by the
// goroutine already delivering.
type Registry[T any] struct {
	mu         sync.Mutex
	next       uint64
	entries    []entry[T]
	queue      []T
	delivering bool
}

func New[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Add registers fn and returns its removal function. Calling the returned
// function more than once is a no-op.
func (r *Registry[T]) Add(fn Listener[T]) func() {
	r.mu.Lock()
	r.next++
	token := r.next
	r.entries = append(r.entries, entry[T]{token: token, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(token) })
	}
}

func (r *Registry[T]) remove(token uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.token == token {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Notify queues value and delivers everything pending.
func (r *Registry[T]) Notify(value T) {
	r.Enqueue(value)
	r.Flush()
}

// Enqueue queues value without delivering it. Callers that derive value from
// state guarded by their own lock call Enqueue while still holding it, so the
// delivery order matches the order of the state changes, and Flush after
// releasing it.
func (r *Registry[T]) Enqueue(value T) {
	r.mu.Lock()
	r.queue = append(r.queue, value)
	r.mu.Unlock()
}

// Flush delivers queued values to the listeners registered at delivery time.
// It returns at once when another goroutine is already delivering.
func (r *Registry[T]) Flush() {
	r.mu.Lock()
	if r.delivering {
		r.mu.Unlock()
		return
	}
	r.delivering = true
	r.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			r.mu.Lock()
			r.delivering = false
			r.mu.Unlock()
			panic(p)
		}
	}()

	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			r.delivering = false
			r.mu.Unlock()
			return
		}
		value := r.queue[0]
		var zero T
		r.queue[0] = zero
		r.queue = r.queue[1:]
		listeners := make([]Listener[T], len(r.entries))
		for i, e := range r.entries {
			listeners[i] = e.fn
		}
		r.mu.Unlock()

		for _, fn := range listeners {
			fn(value)
		}
	}
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry[T]) Clear() {
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
}
