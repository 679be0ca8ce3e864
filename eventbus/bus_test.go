package eventbus

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dpup/authcore/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New(logging.EnsureLogger(t.Context(), logging.NewNopLogger()))

	var (
		mu     sync.Mutex
		called []int
	)
	for i := range 5 {
		bus.Subscribe(TopicLogin, func(_ context.Context, data any) error {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, "u1", data.(LoginEvent).UserID)
			called = append(called, i)
			return nil
		})
	}

	bus.Publish(TopicLogin, LoginEvent{UserID: "u1"})
	bus.Publish(TopicAPIKeyCreated, APIKeyEvent{UserID: "u1"})
	require.NoError(t, bus.Wait(t.Context()))

	slices.Sort(called)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, called)
}

func TestBus_Wait(t *testing.T) {
	bus := New(t.Context(), WithWorkerPool(0))

	var done bool
	bus.Subscribe("topic", func(context.Context, any) error {
		time.Sleep(20 * time.Millisecond)
		done = true
		return nil
	})
	bus.Publish("topic", nil)

	require.NoError(t, bus.Wait(t.Context()))
	assert.True(t, done)
}

func TestBus_WaitTimeout(t *testing.T) {
	bus := New(t.Context())
	release := make(chan struct{})
	bus.Subscribe("topic", func(context.Context, any) error {
		<-release
		return nil
	})
	bus.Publish("topic", nil)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, bus.Wait(ctx))

	close(release)
	require.NoError(t, bus.Wait(t.Context()))
}

func TestBus_SubscriberFailures(t *testing.T) {
	bus := New(t.Context())

	var (
		mu    sync.Mutex
		calls int
	)
	count := func() {
		mu.Lock()
		defer mu.Unlock()
		calls++
	}
	bus.Subscribe("topic", func(context.Context, any) error {
		count()
		return errors.New("boom")
	})
	bus.Subscribe("topic", func(context.Context, any) error {
		count()
		panic("kaboom")
	})
	bus.Subscribe("topic", func(context.Context, any) error {
		count()
		return nil
	})

	bus.Publish("topic", nil)
	require.NoError(t, bus.Wait(t.Context()))
	assert.Equal(t, 3, calls, "failures should not stop other subscribers")
}

func TestBus_Shutdown(t *testing.T) {
	bus := New(t.Context())

	var calls int
	bus.Subscribe("topic", func(context.Context, any) error {
		calls++
		return nil
	})
	bus.Publish("topic", nil)
	require.NoError(t, bus.Shutdown(t.Context()))
	require.NoError(t, bus.Shutdown(t.Context()), "shutdown is idempotent")

	bus.Publish("topic", nil)
	require.NoError(t, bus.Wait(t.Context()))
	assert.Equal(t, 1, calls, "events after shutdown are dropped")
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() {
		Discard.Publish(TopicLogin, LoginEvent{})
	})
}
