package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBounded(t *testing.T) {
	b := newBounded[int](3)
	for i := 1; i <= 5; i++ {
		b.prepend(i)
		assert.LessOrEqual(t, b.len(), 3)
	}
	assert.Equal(t, []int{5, 4, 3}, b.snapshot())

	assert.True(t, b.removeWhere(func(v int) bool { return v == 4 }))
	assert.False(t, b.removeWhere(func(v int) bool { return v == 42 }))
	assert.Equal(t, []int{5, 3}, b.snapshot())

	snap := b.snapshot()
	snap[0] = 99
	assert.Equal(t, []int{5, 3}, b.snapshot())

	b.clear()
	assert.Equal(t, 0, b.len())
	assert.Empty(t, b.snapshot())
}
