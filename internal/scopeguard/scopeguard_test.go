package scopeguard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardRunsInReverseOrder(t *testing.T) {
	var order []int
	var g Guard
	g.Push(func() { order = append(order, 1) })
	g.Push(func() { order = append(order, 2) })
	g.Push(func() { order = append(order, 3) })

	g.Run()

	assert.Equal(t, []int{3, 2, 1}, order)
}

func TestGuardDismissSkipsActions(t *testing.T) {
	ran := false
	var g Guard
	g.Push(func() { ran = true })
	g.Dismiss()

	g.Run()

	assert.False(t, ran)
}

func TestGuardRunIsIdempotentAfterDismiss(t *testing.T) {
	calls := 0
	var g Guard
	g.Push(func() { calls++ })
	g.Run()
	g.Dismiss()
	g.Run()

	assert.Equal(t, 1, calls)
}
