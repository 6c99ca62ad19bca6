package observer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_NotifyInSubscriptionOrder(t *testing.T) {
	r := New[int]()
	var got []string

	r.Add(func(v int) { got = append(got, "a") })
	r.Add(func(v int) { got = append(got, "b") })
	r.Add(func(v int) { got = append(got, "c") })

	r.Notify(1)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestRegistry_UnsubscribeIsIdempotent(t *testing.T) {
	r := New[string]()
	var first, second int

	unsubFirst := r.Add(func(string) { first++ })
	r.Add(func(string) { second++ })

	unsubFirst()
	unsubFirst()
	unsubFirst()

	r.Notify("x")
	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RepeatedSubscribeUnsubscribe(t *testing.T) {
	r := New[int]()
	calls := 0
	listener := func(int) { calls++ }

	for i := 0; i < 10; i++ {
		unsub := r.Add(listener)
		unsub()
		unsub()
	}

	r.Notify(42)
	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_StaleUnsubscribeDoesNotRemoveNewListener(t *testing.T) {
	r := New[int]()
	calls := 0

	stale := r.Add(func(int) {})
	stale()
	r.Add(func(int) { calls++ })
	stale()

	r.Notify(1)
	assert.Equal(t, 1, calls)
}

func TestRegistry_ListenerMayUnsubscribeDuringNotify(t *testing.T) {
	r := New[int]()
	var order []string
	var unsubA func()

	unsubA = r.Add(func(int) {
		order = append(order, "a")
		unsubA()
	})
	r.Add(func(int) { order = append(order, "b") })

	r.Notify(1)
	r.Notify(2)
	assert.Equal(t, []string{"a", "b", "b"}, order)
}

func TestRegistry_ConcurrentAddAndNotify(t *testing.T) {
	r := New[int]()
	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := r.Add(func(v int) {
				mu.Lock()
				total += v
				mu.Unlock()
			})
			r.Notify(0)
			unsub()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	assert.Equal(t, 0, total)
}

func TestRegistry_Clear(t *testing.T) {
	r := New[int]()
	called := false
	r.Add(func(int) { called = true })
	r.Clear()
	r.Notify(1)
	assert.False(t, called)
}

func TestRegistry_ConcurrentNotifyKeepsEnqueueOrder(t *testing.T) {
	r := New[int]()
	firstEntered := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once
	r.Add(func(v int) {
		if v == 1 {
			once.Do(func() { close(firstEntered) })
			<-release
		}
	})

	var mu sync.Mutex
	var seen []int
	r.Add(func(v int) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		r.Notify(1)
		close(done)
	}()
	<-firstEntered

	// The second value is queued behind the delivery that is blocked.
	r.Notify(2)
	close(release)
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRegistry_NestedNotifyIsDeliveredAfterCurrentValue(t *testing.T) {
	r := New[int]()
	var order []string

	r.Add(func(v int) {
		order = append(order, fmt.Sprintf("a%d", v))
		if v == 1 {
			r.Notify(2)
		}
	})
	r.Add(func(v int) { order = append(order, fmt.Sprintf("b%d", v)) })

	r.Notify(1)
	assert.Equal(t, []string{"a1", "b1", "a2", "b2"}, order)
}

func TestRegistry_EnqueueWithoutFlushDeliversNothing(t *testing.T) {
	r := New[int]()
	var got []int
	r.Add(func(v int) { got = append(got, v) })

	r.Enqueue(1)
	r.Enqueue(2)
	assert.Empty(t, got)

	r.Flush()
	assert.Equal(t, []int{1, 2}, got)
}

func TestRegistry_PanickingListenerDoesNotWedgeDelivery(t *testing.T) {
	r := New[int]()
	var got []int
	r.Add(func(v int) {
		if v == 1 {
			panic("listener failed")
		}
		got = append(got, v)
	})

	assert.Panics(t, func() { r.Notify(1) })
	r.Notify(2)
	assert.Equal(t, []int{2}, got)
}
