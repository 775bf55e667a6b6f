package memory

import (
	"context"
	"sync"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/broadcast"
)

var _ broadcast.Transport = (*Hub)(nil)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithCodec sets the codec events pass through. Every delivery is a fresh
// decode, so subscribers never share payloads.
func WithCodec(c broadcast.Codec) HubOption {
	return func(h *Hub) { h.codec = c }
}

// WithDuplicates delivers every event twice, simulating at-least-once
// redelivery.
func WithDuplicates() HubOption {
	return func(h *Hub) { h.copies = 2 }
}

// Hub is an in-process broadcast transport. Every subscriber gets every
// event published after it subscribed. Publish never blocks on slow
// subscribers.
type Hub struct {
	codec  broadcast.Codec
	copies int

	mu     sync.Mutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub creates a hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		codec:  &broadcast.JSONCodec{},
		copies: 1,
		subs:   make(map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish fans e out to every subscriber.
func (h *Hub) Publish(_ context.Context, e *broadcast.Event) error {
	data, err := h.codec.Encode(e)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return cadence.ErrTransportClosed
	}
	for s := range h.subs {
		for range h.copies {
			evt, err := h.codec.Decode(data)
			if err != nil {
				return err
			}
			s.push(evt)
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done or the hub closes.
func (h *Hub) Subscribe(ctx context.Context) (<-chan *broadcast.Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, cadence.ErrTransportClosed
	}
	s := newSubscriber()
	h.subs[s] = struct{}{}
	go func() {
		s.pump(ctx)
		h.mu.Lock()
		delete(h.subs, s)
		h.mu.Unlock()
	}()
	return s.out, nil
}

// Ping reports whether the hub is open.
func (h *Hub) Ping(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return cadence.ErrTransportClosed
	}
	return nil
}

// Close stops every subscriber.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for s := range h.subs {
		s.stop()
	}
	return nil
}

// subscriber buffers events without bound and pumps them to out.
type subscriber struct {
	mu     sync.Mutex
	queue  []*broadcast.Event
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	out    chan *broadcast.Event
}

func newSubscriber() *subscriber {
	return &subscriber{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		out:    make(chan *broadcast.Event),
	}
}

func (s *subscriber) push(e *broadcast.Event) {
	s.mu.Lock()
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() { s.once.Do(func() { close(s.done) }) }

func (s *subscriber) pump(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		var next *broadcast.Event
		if len(s.queue) > 0 {
			next = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if next == nil {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
		select {
		case s.out <- next:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}
