package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testEvent struct {
	Value int
}

func TestPublish_DeliversToMatchingHandlers(t *testing.T) {
	bus := NewEventPublisher(nil)

	var got []int
	bus.Subscribe(func(e testEvent) { got = append(got, e.Value) })
	bus.Subscribe(func(s string) { t.Fatalf("string handler must not fire, got %q", s) })

	bus.Publish(testEvent{Value: 7})
	bus.Publish(testEvent{Value: 9})

	require.Equal(t, []int{7, 9}, got)
	require.Equal(t, 2, bus.SubscribersCount())
}

func TestSubscribe_RejectsNonHandler(t *testing.T) {
	bus := NewEventPublisher(nil)
	require.Panics(t, func() { bus.Subscribe(42) })
	require.Panics(t, func() { bus.Subscribe(func(a, b int) {}) })
}
