package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/broadcast"
)

// Publish appends e to the event stream. Every subscriber, the publisher
// included, reads it.
func (s *Store) Publish(ctx context.Context, e *broadcast.Event) error {
	if s.closed() {
		return cadence.ErrTransportClosed
	}
	data, err := s.codec.Encode(e)
	if err != nil {
		return fmt.Errorf("cadence/redis: encode event: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStreamKey,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"codec": s.codec.Name(),
			"data":  data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("cadence/redis: publish event: %w", err)
	}
	return nil
}

// Subscribe streams events appended after the call. The channel closes
// when ctx is done or the store is closed.
func (s *Store) Subscribe(ctx context.Context) (<-chan *broadcast.Event, error) {
	if s.closed() {
		return nil, cadence.ErrTransportClosed
	}
	last, err := s.lastEntryID(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan *broadcast.Event, 64)
	s.subs.Add(1)
	go func() {
		defer s.subs.Done()
		defer close(ch)
		s.readLoop(ctx, last, ch)
	}()
	return ch, nil
}

func (s *Store) lastEntryID(ctx context.Context) (string, error) {
	msgs, err := s.client.XRevRangeN(ctx, eventStreamKey, "+", "-", 1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("cadence/redis: subscribe: %w", err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

func (s *Store) readLoop(ctx context.Context, last string, ch chan<- *broadcast.Event) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for ctx.Err() == nil {
		streams, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{eventStreamKey, last},
			Count:   100,
			Block:   s.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("event stream read failed", slog.String("error", err.Error()))
			if !sleepCtx(ctx, s.block) {
				return
			}
			continue
		}

		for _, st := range streams {
			for _, msg := range st.Messages {
				last = msg.ID
				e, decErr := decodeEntry(msg.Values)
				if decErr != nil {
					s.logger.Warn("dropping undecodable event",
						slog.String("entry_id", msg.ID),
						slog.String("error", decErr.Error()),
					)
					continue
				}
				select {
				case ch <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func decodeEntry(values map[string]interface{}) (*broadcast.Event, error) {
	name, _ := values["codec"].(string)
	data, ok := values["data"].(string)
	if !ok {
		return nil, errors.New("entry has no data field")
	}
	return broadcast.GetCodec(name).Decode([]byte(data))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
