package realtime

// bounded keeps items newest first and never holds more than capacity.
type bounded[T any] struct {
	items    []T
	capacity int
}

func newBounded[T any](capacity int) *bounded[T] {
	return &bounded[T]{capacity: capacity}
}

// prepend inserts v at the head, then drops from the tail down to capacity.
func (b *bounded[T]) prepend(v T) {
	next := make([]T, 0, min(len(b.items)+1, b.capacity))
	next = append(next, v)
	for _, item := range b.items {
		if len(next) == b.capacity {
			break
		}
		next = append(next, item)
	}
	b.items = next
}

func (b *bounded[T]) removeWhere(match func(T) bool) bool {
	var kept []T
	removed := false
	for _, item := range b.items {
		if match(item) {
			removed = true
			continue
		}
		kept = append(kept, item)
	}
	b.items = kept
	return removed
}

func (b *bounded[T]) clear() {
	b.items = nil
}

func (b *bounded[T]) len() int {
	return len(b.items)
}

func (b *bounded[T]) snapshot() []T {
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}
