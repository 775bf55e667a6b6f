package broadcast

import (
	"context"
	"time"

	"github.com/xraph/cadence/id"
)

// Transport delivers every published event to every subscriber at least
// once. Ordering is not guaranteed.
type Transport interface {
	// Publish sends e to all nodes, including the publisher.
	Publish(ctx context.Context, e *Event) error

	// Subscribe returns a channel of events published from now on. The
	// channel is closed when ctx is done or the transport is closed.
	Subscribe(ctx context.Context) (<-chan *Event, error)

	Ping(ctx context.Context) error
	Close() error
}

// Publisher stamps ids and timestamps on payloads and publishes them.
type Publisher struct {
	transport Transport
	now       func() time.Time
}

// NewPublisher creates a publisher over t.
func NewPublisher(t Transport) *Publisher {
	return &Publisher{transport: t, now: time.Now}
}

// Publish sends p under a fresh event id.
func (p *Publisher) Publish(ctx context.Context, payload Payload) (*Event, error) {
	return p.PublishWithID(ctx, id.NewEventID().String(), payload)
}

// PublishWithID sends payload under eventID. Callers that may emit the
// same logical event from several nodes pass a deterministic id so
// receivers dedup it.
func (p *Publisher) PublishWithID(ctx context.Context, eventID string, payload Payload) (*Event, error) {
	e := &Event{
		ID:        eventID,
		Op:        payload.Op(),
		Level:     payload.Level(),
		Timestamp: p.now().UTC(),
		Payload:   payload,
	}
	if err := p.transport.Publish(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}
