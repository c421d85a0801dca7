package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rendis/applogic/pkg/schema"
)

const defaultChannelBuffer = 64

// Option configures a MemoryHub.
type Option func(*MemoryHub)

// WithBuffer sets the per-subscriber channel capacity.
func WithBuffer(n int) Option {
	return func(h *MemoryHub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

type subscription struct {
	ch     chan Event
	filter EventFilter
	once   sync.Once
}

// MemoryHub fans events out to in-process subscribers. Subscriptions are
// indexed by app so a publish only scans the subscribers that can match it;
// the "" bucket holds subscribers to every app.
type MemoryHub struct {
	buffer int

	mu     sync.RWMutex
	byApp  map[string]map[uint64]*subscription
	nextID atomic.Uint64
	count  atomic.Int64

	dropped atomic.Uint64
}

func NewMemoryHub(opts ...Option) *MemoryHub {
	h := &MemoryHub{
		buffer: defaultChannelBuffer,
		byApp:  map[string]map[uint64]*subscription{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish never blocks: a subscriber whose channel is full misses the event
// and the loss is counted in Dropped.
func (h *MemoryHub) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	h.deliver(h.byApp[""], event)
	if event.App != "" {
		h.deliver(h.byApp[event.App], event)
	}
	return nil
}

func (h *MemoryHub) deliver(subs map[uint64]*subscription, event Event) {
	for _, s := range subs {
		if !s.filter.matches(event) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a filtered subscription. The subscription ends, and
// its channel closes, when cancel is called or ctx is done, whichever comes
// first; cancel may be called any number of times.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	id := h.nextID.Add(1)
	s := &subscription{ch: make(chan Event, h.buffer), filter: filter}

	h.mu.Lock()
	bucket := h.byApp[filter.App]
	if bucket == nil {
		bucket = map[uint64]*subscription{}
		h.byApp[filter.App] = bucket
	}
	bucket[id] = s
	h.mu.Unlock()
	h.count.Add(1)

	done := make(chan struct{})
	cancel := func() {
		s.once.Do(func() {
			h.mu.Lock()
			delete(h.byApp[filter.App], id)
			if len(h.byApp[filter.App]) == 0 {
				delete(h.byApp, filter.App)
			}
			h.mu.Unlock()
			h.count.Add(-1)
			close(s.ch)
			close(done)
		})
	}
	if ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return s.ch, cancel, nil
}

func (h *MemoryHub) Subscribers() int { return int(h.count.Load()) }

// Dropped counts events discarded for slow subscribers.
func (h *MemoryHub) Dropped() uint64 { return h.dropped.Load() }

func (f EventFilter) matches(e Event) bool {
	if f.App != "" && f.App != e.App {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if f.Recipient == "" {
		return true
	}
	n, ok := e.Payload.(schema.Notification)
	return ok && n.To == f.Recipient
}
