package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/applogic/pkg/schema"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertEmpty(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", evt)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := Event{
		App:         "payments",
		Action:      "transfer",
		AgentID:     "alice",
		ExecutionID: "exec-1",
		Type:        EventExecuted,
		Payload:     map[string]any{"steps": 4},
	}
	require.NoError(t, hub.Publish(ctx, event))

	got := receive(t, ch)
	assert.Equal(t, event, got)
}

func TestFilter(t *testing.T) {
	note := func(to string) Event {
		return Event{App: "payments", Type: EventNotification, Payload: schema.Notification{To: to, Message: "hi"}}
	}

	tests := []struct {
		name   string
		filter EventFilter
		events []Event
		want   int
	}{
		{
			name:   "by app",
			filter: EventFilter{App: "payments"},
			events: []Event{{App: "payments", Type: EventExecuted}, {App: "chess", Type: EventExecuted}},
			want:   1,
		},
		{
			name:   "by type",
			filter: EventFilter{Types: []string{EventExecuted, EventFailed}},
			events: []Event{{Type: EventExecuted}, {Type: EventNotification}, {Type: EventFailed}},
			want:   2,
		},
		{
			name:   "by recipient",
			filter: EventFilter{Recipient: "bob"},
			events: []Event{note("bob"), note("alice"), {Type: EventExecuted}},
			want:   1,
		},
		{
			name:   "no filter",
			filter: EventFilter{},
			events: []Event{note("bob"), {App: "chess", Type: EventFailed}},
			want:   2,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hub := NewMemoryHub()
			ctx := context.Background()
			ch, cancel, err := hub.Subscribe(ctx, tc.filter)
			require.NoError(t, err)
			defer cancel()

			for _, e := range tc.events {
				require.NoError(t, hub.Publish(ctx, e))
			}
			for range tc.want {
				receive(t, ch)
			}
			assertEmpty(t, ch)
		})
	}
}

func TestMultipleSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch1, cancel1, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, hub.Publish(ctx, Event{App: "payments", Type: EventExecuted}))

	for _, ch := range []<-chan Event{ch1, ch2} {
		got := receive(t, ch)
		assert.Equal(t, "payments", got.App)
	}
	assert.Equal(t, 2, hub.Subscribers())
}

func TestCancelSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	cancel()
	cancel()

	require.NoError(t, hub.Publish(ctx, Event{Type: EventExecuted}))

	_, ok := <-ch
	assert.False(t, ok, "channel should be closed")
	assert.Equal(t, 0, hub.Subscribers())
}

func TestBackpressure(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		buffer int
	}{
		{"default buffer", nil, defaultChannelBuffer},
		{"custom buffer", []Option{WithBuffer(4)}, 4},
		{"non-positive buffer ignored", []Option{WithBuffer(0)}, defaultChannelBuffer},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hub := NewMemoryHub(tc.opts...)
			ctx := context.Background()

			ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
			require.NoError(t, err)
			defer cancel()

			for range tc.buffer + 10 {
				require.NoError(t, hub.Publish(ctx, Event{Type: EventExecuted}))
			}

			drained := 0
			for len(ch) > 0 {
				<-ch
				drained++
			}
			assert.Equal(t, tc.buffer, drained)
			assert.Equal(t, uint64(10), hub.Dropped())
		})
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, stop := context.WithCancel(context.Background())

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{App: "payments"})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	stop()
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("subscription outlived its context")
	}
	assert.Equal(t, 0, hub.Subscribers())

	cancel()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range 50 {
				_ = hub.Publish(ctx, Event{Type: EventExecuted})
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
			if err != nil {
				return
			}
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, hub.Publish(ctx, Event{}), context.Canceled)
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}
